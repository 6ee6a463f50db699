package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pivotscope/internal/models"
)

// addPairCommands adds popular pair, update log and cache commands.
func addPairCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPairsCmd(app))
	rootCmd.AddCommand(newLogsCmd(app))
	rootCmd.AddCommand(newCacheCmd(app))
}

func newPairsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Manage the popular pairs kept fresh by the updater",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List popular pairs by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			autoOnly, _ := cmd.Flags().GetBool("auto")
			pairs, err := app.Store.ListPopularPairs(cmd.Context(), autoOnly)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(pairs)
			}
			if len(pairs) == 0 {
				output.Dim("No popular pairs. Add one with 'pivotscope pairs add BTCUSDT'.")
				return nil
			}
			table := NewTable(output, "Symbol", "Priority", "Auto", "Last fetched")
			for _, p := range pairs {
				last := "-"
				if p.LastFetched != nil {
					last = FormatDateTime(*p.LastFetched)
				}
				auto := output.Red("no")
				if p.AutoUpdate {
					auto = output.Green("yes")
				}
				table.AddRow(p.Symbol, strconv.Itoa(p.Priority), auto, last)
			}
			table.Render()
			return nil
		},
	}
	list.Flags().Bool("auto", false, "only pairs with auto update enabled")

	add := &cobra.Command{
		Use:   "add <symbol>...",
		Short: "Add or update popular pairs",
		Example: `  pivotscope pairs add BTCUSDT ETHUSDT
  pivotscope pairs add DOGEUSDT --priority 50 --no-auto`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			priority, _ := cmd.Flags().GetInt("priority")
			noAuto, _ := cmd.Flags().GetBool("no-auto")
			var added []models.PopularPair
			for _, arg := range args {
				pair := models.PopularPair{
					Symbol:     models.NormalizeSymbol(arg),
					AutoUpdate: !noAuto,
					Priority:   priority,
				}
				if err := app.Store.UpsertPopularPair(cmd.Context(), pair); err != nil {
					return err
				}
				added = append(added, pair)
				if !output.IsJSON() {
					output.Success("✓ %s (priority %d)", pair.Symbol, pair.Priority)
				}
			}
			if output.IsJSON() {
				return output.JSON(added)
			}
			return nil
		},
	}
	add.Flags().Int("priority", 100, "lower values update first")
	add.Flags().Bool("no-auto", false, "keep the pair listed but skip scheduled updates")

	remove := &cobra.Command{
		Use:     "remove <symbol>",
		Aliases: []string{"rm"},
		Short:   "Remove a popular pair",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := symbolArg(args)
			if err := app.Store.RemovePopularPair(cmd.Context(), symbol); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"removed": symbol})
			}
			output.Success("✓ Removed %s", symbol)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove)
	return cmd
}

func newLogsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [symbol]",
		Short: "Show recent backfill, update and refresh runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			limit, _ := cmd.Flags().GetInt("limit")
			logs, err := app.Store.RecentUpdateLogs(cmd.Context(), symbolArg(args), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(logs)
			}
			if len(logs) == 0 {
				output.Dim("No update runs recorded.")
				return nil
			}
			table := NewTable(output, "Time (UTC)", "Symbol", "Type", "Rows", "Took", "Result")
			for _, l := range logs {
				result := output.Green("ok")
				if !l.Success {
					result = output.Red(TruncateString(l.ErrorMessage, 48))
				}
				table.AddRow(FormatDateTime(l.CreatedAt), l.Symbol, string(l.UpdateType),
					strconv.Itoa(l.RowsAffected), FormatDuration(msDuration(l.DurationMs)), result)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to show")
	return cmd
}

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached pivot tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [symbol]",
		Short: "Drop cached tables for a symbol, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := symbolArg(args)
			n, err := app.Cache.Purge(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "removed": n})
			}
			scope := "all symbols"
			if symbol != "" {
				scope = symbol
			}
			output.Success("✓ Removed %d cached tables for %s", n, scope)
			return nil
		},
	})
	return cmd
}

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
