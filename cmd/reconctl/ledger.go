package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Domenick1991/guardbooking/internal/bootstrap"
	"github.com/Domenick1991/guardbooking/internal/domain"
	"github.com/Domenick1991/guardbooking/internal/ledger"
	"github.com/Domenick1991/guardbooking/internal/obs"
	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the idempotency ledger",
	}

	inspect := &cobra.Command{
		Use:   "inspect <source> <event-id>",
		Short: "Print the record stored for an event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l ledger.Ledger) error {
				return inspectRecord(cmd.Context(), l, keyFromArgs(args), cmd.OutOrStdout())
			})
		},
	}

	release := &cobra.Command{
		Use:   "release <source> <event-id>",
		Short: "Drop a stuck reservation so the event can be retried",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l ledger.Ledger) error {
				return releaseRecord(cmd.Context(), l, keyFromArgs(args), cmd.OutOrStdout())
			})
		},
	}

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete applied records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			age := olderThan
			if age == 0 {
				age = cfg.Ledger.Retention
			}
			return withLedger(cmd.Context(), func(l ledger.Ledger) error {
				return purgeRecords(cmd.Context(), l, time.Now().Add(-age), cmd.OutOrStdout())
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (defaults to ledger.retention)")

	cmd.AddCommand(inspect, release, purge)
	return cmd
}

func keyFromArgs(args []string) domain.IdempotencyKey {
	return domain.IdempotencyKey{Source: domain.EventSource(args[0]), EventID: args[1]}
}

func withLedger(ctx context.Context, fn func(l ledger.Ledger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := obs.NewLogger(cfg.Log.Level, cfg.Log.Format)
	deps, err := bootstrap.OpenDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(deps.Ledger)
}

func inspectRecord(ctx context.Context, l ledger.Ledger, key domain.IdempotencyKey, out io.Writer) error {
	rec, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// releaseRecord only touches reservations. Applied records are the replay
// answer for their event and stay until purged.
func releaseRecord(ctx context.Context, l ledger.Ledger, key domain.IdempotencyKey, out io.Writer) error {
	rec, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec.State != domain.IdempotencyReserved {
		return fmt.Errorf("%s is %s, only reservations can be released", key, rec.State)
	}
	if err := l.Release(ctx, ledger.Reservation{Key: key, Token: rec.ReservationToken}); err != nil {
		return err
	}
	fmt.Fprintf(out, "released %s\n", key)
	return nil
}

func purgeRecords(ctx context.Context, l ledger.Ledger, before time.Time, out io.Writer) error {
	n, err := l.Purge(ctx, before)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "purged %d record(s) applied before %s\n", n, before.UTC().Format(time.RFC3339))
	return nil
}
