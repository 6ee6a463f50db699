package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"pivotscope/internal/notify"
	"pivotscope/internal/updater"
)

// addUpdaterCommands adds the backfill, update and refresh commands.
func addUpdaterCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBackfillCmd(app))
	rootCmd.AddCommand(newUpdateCmd(app))
	rootCmd.AddCommand(newRefreshCmd(app))
}

func newBackfillCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill [symbol]",
		Short: "Load 15-minute history into the store",
		Long: `Backfill 15-minute candles for one symbol or, with --all, every popular
pair with auto update enabled. Without --force the backfill resumes after the
newest stored candle.`,
		Example: `  pivotscope backfill BTCUSDT --days 365
  pivotscope backfill --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			all, _ := cmd.Flags().GetBool("all")
			days, _ := cmd.Flags().GetInt("days")
			force, _ := cmd.Flags().GetBool("force")
			u := app.newUpdater(nil)

			if all {
				res, err := u.BackfillAll(cmd.Context(), days, force)
				if err != nil {
					return err
				}
				return printBatch(output, "Backfill", res)
			}
			if len(args) == 0 {
				return fmt.Errorf("give a symbol or --all")
			}

			log, err := u.Backfill(cmd.Context(), symbolArg(args), days, force)
			if output.IsJSON() && log != nil {
				output.JSON(log)
			}
			if err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Success("✓ %s: %d candles in %s", log.Symbol, log.RowsAffected, FormatDuration(msDuration(log.DurationMs)))
			}
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "backfill every auto-update pair")
	cmd.Flags().IntP("days", "d", 0, "days of history (default from config)")
	cmd.Flags().Bool("force", false, "refetch the whole window even if candles are stored")
	return cmd
}

func newUpdateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [symbol]",
		Short: "Fetch the newest candles",
		Example: `  pivotscope update BTCUSDT
  pivotscope update --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			all, _ := cmd.Flags().GetBool("all")
			u := app.newUpdater(nil)

			if all || len(args) == 0 {
				res, err := u.UpdateAll(cmd.Context())
				if err != nil {
					return err
				}
				return printBatch(output, "Update", res)
			}

			symbol := symbolArg(args)
			rows, err := u.UpdateSymbol(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "rows": rows})
			}
			output.Success("✓ %s: %d candles", symbol, rows)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "update every auto-update pair (default without a symbol)")
	return cmd
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute cached tables for every auto-update pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			var notifier notify.Notifier = notify.NewLogNotifier(app.Logger)
			if !output.IsJSON() {
				notifier = notify.NewTerminal(output.writer, output.colorEnabled, false)
			}
			n, err := app.newUpdater(notifier).RefreshAll(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"refreshed": n})
			}
			output.Success("✓ Refreshed %d tables", n)
			return nil
		},
	}
}

func printBatch(output *Output, name string, res *updater.BatchResult) error {
	if output.IsJSON() {
		return output.JSON(res)
	}
	if res.Pairs == 0 {
		output.Warning("No auto-update pairs. Add some with 'pivotscope pairs add'.")
		return nil
	}
	output.Printf("%s: %d pairs, %d candles in %s\n", name, res.Pairs, res.Rows, FormatDuration(res.Elapsed))
	if res.Failed == 0 {
		output.Success("✓ All %d pairs succeeded", res.Succeeded)
		return nil
	}
	output.Warning("%d succeeded, %d failed", res.Succeeded, res.Failed)
	symbols := make([]string, 0, len(res.Errors))
	for s := range res.Errors {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		output.Printf("  %s  %s\n", s, output.Red(res.Errors[s]))
	}
	return fmt.Errorf("%d of %d pairs failed", res.Failed, res.Pairs)
}
