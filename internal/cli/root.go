// Package cli provides the ledger's command line: the HTTP service plus
// read-only report commands that print JSON.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fx-ledger/pkg/config"
	"fx-ledger/pkg/i18n"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	cfgFile string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the command tree. Each call returns an independent tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "fx-ledger",
		Short: "FX brokerage ledger and settlement engine",
		Long: `fx-ledger books currency trades for customers, applies receipts and
payments against them, and keeps per-currency balances for every customer
and for the ledger owner.

Example:
  fx-ledger serve
  fx-ledger balance --customer alice
  fx-ledger pnl --range 01/03/2024-31/03/2024`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file (overrides LEDGER_CONFIG)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newBalanceCommand(a),
		newDebtsCommand(a),
		newPnLCommand(a),
		newStatementCommand(a),
		newReportCommand(a),
	)
	return root
}

// Execute runs the command tree against os.Args.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) setup() error {
	if a.cfgFile != "" {
		if err := os.Setenv("LEDGER_CONFIG", a.cfgFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
