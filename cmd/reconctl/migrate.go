package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/Domenick1991/guardbooking/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the Postgres schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (one step by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *migrate.Migrate) error {
				return runDown(m, steps, cmd.OutOrStdout())
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					return runUp(m, cmd.OutOrStdout())
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					return printStatus(m, cmd.OutOrStdout())
				})
			},
		},
	)
	return cmd
}

func withMigrator(fn func(m *migrate.Migrate) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := newMigrator(cfg.Database.URL())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func newMigrator(dbURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// migrator is the part of *migrate.Migrate the commands drive.
type migrator interface {
	Up() error
	Steps(n int) error
	Version() (uint, bool, error)
}

func runUp(m migrator, out io.Writer) error {
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(out, "no pending migrations")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	fmt.Fprintln(out, "migrations applied")
	return printStatus(m, out)
}

func runDown(m migrator, steps int, out io.Writer) error {
	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		return fmt.Errorf("migrate down: %w", err)
	}
	fmt.Fprintf(out, "rolled back %d migration(s)\n", steps)
	return printStatus(m, out)
}

func printStatus(m migrator, out io.Writer) error {
	version, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(out, "version: none")
			return nil
		}
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(out, "version: %d dirty: %t\n", version, dirty)
	return nil
}
