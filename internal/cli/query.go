package cli

import (
	"github.com/spf13/cobra"

	"fx-ledger/internal/report"
)

func newBalanceCommand(a *app) *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print balances for a customer (default: the ledger owner)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReports(func(agg *report.Aggregator) error {
				rows, err := agg.Balances(cmd.Context(), customer)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "customer name")
	return cmd
}

func newDebtsCommand(a *app) *cobra.Command {
	var customer string
	cmd := &cobra.Command{
		Use:   "debts",
		Short: "Print non-zero customer balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReports(func(agg *report.Aggregator) error {
				rows, err := agg.Debts(cmd.Context(), customer)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().StringVar(&customer, "customer", "", "limit to one customer")
	return cmd
}

func newPnLCommand(a *app) *cobra.Command {
	var rangeText string
	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Print per-currency profit and loss for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReports(func(agg *report.Aggregator) error {
				w, err := agg.Window(rangeText)
				if err != nil {
					return err
				}
				pnl, err := agg.PnL(cmd.Context(), w)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pnl)
			})
		},
	}
	cmd.Flags().StringVar(&rangeText, "range", "", "DD/MM/YYYY or DD/MM/YYYY-DD/MM/YYYY (default: current month)")
	return cmd
}

func newStatementCommand(a *app) *cobra.Command {
	var rangeText string
	cmd := &cobra.Command{
		Use:   "statement <customer>",
		Short: "Print a customer's balances, trades and adjustments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReports(func(agg *report.Aggregator) error {
				w, err := agg.Window(rangeText)
				if err != nil {
					return err
				}
				st, err := agg.Statement(cmd.Context(), args[0], w)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
	cmd.Flags().StringVar(&rangeText, "range", "", "DD/MM/YYYY or DD/MM/YYYY-DD/MM/YYYY (default: current month)")
	return cmd
}

func newReportCommand(a *app) *cobra.Command {
	var rangeText string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the settlement detail report with customer credit applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withReports(func(agg *report.Aggregator) error {
				w, err := agg.Window(rangeText)
				if err != nil {
					return err
				}
				detail, err := agg.DetailReport(cmd.Context(), w)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), detail)
			})
		},
	}
	cmd.Flags().StringVar(&rangeText, "range", "", "DD/MM/YYYY or DD/MM/YYYY-DD/MM/YYYY (default: current month)")
	return cmd
}
