// Command reconctl applies schema migrations and lets operators inspect the
// idempotency ledger.
package main

import (
	"fmt"
	"os"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "reconctl",
	Short:         "Operate the guard booking payment stack",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("CONFIG_PATH")
	if def == "" {
		def = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", def, "path to config file")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(ledgerCmd())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
