package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pivotscope/internal/export"
	"pivotscope/internal/models"
)

// addMarketDataCommands adds candle, symbol and ticker commands.
func addMarketDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newCandlesCmd(app))
	rootCmd.AddCommand(newSymbolsCmd(app))
	rootCmd.AddCommand(newTickerCmd(app))
}

// candleWindow reads --interval and --days and returns the window ending now.
func candleWindow(cmd *cobra.Command) (models.Interval, time.Time, time.Time, error) {
	raw, _ := cmd.Flags().GetString("interval")
	interval, err := models.ParseInterval(raw)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	days, _ := cmd.Flags().GetInt("days")
	if days < 1 || days > 3650 {
		return "", time.Time{}, time.Time{}, fmt.Errorf("--days must be between 1 and 3650")
	}
	to := time.Now().UTC()
	return interval, to.AddDate(0, 0, -days), to, nil
}

func newCandlesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candles",
		Short: "Fetch, inspect and export candles",
	}

	fetch := &cobra.Command{
		Use:   "fetch <symbol>",
		Short: "Fetch candles and show the most recent ones",
		Example: `  pivotscope candles fetch BTCUSDT
  pivotscope candles fetch ETHUSDT --interval 1h --days 7 --limit 24`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			symbol := symbolArg(args)
			interval, from, to, err := candleWindow(cmd)
			if err != nil {
				return err
			}
			candles, fromCache, err := app.Source.GetCandles(ctx, symbol, interval, from, to)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			if limit > 0 && len(candles) > limit {
				candles = candles[len(candles)-limit:]
			}
			if output.IsJSON() {
				return output.JSON(candles)
			}

			source := SourceExchange
			if fromCache {
				source = SourceStore
			}
			output.Printf("%s %s %s, %d candles\n", output.SourceTag(source), symbol, interval, len(candles))
			table := NewTable(output, "Time (UTC)", "Open", "High", "Low", "Close", "Volume")
			for _, c := range candles {
				table.AddRow(FormatDateTime(c.Timestamp), FormatPrice(c.Open), FormatPrice(c.High),
					FormatPrice(c.Low), FormatPrice(c.Close), FormatVolume(c.Volume))
			}
			table.Render()
			return nil
		},
	}
	fetch.Flags().StringP("interval", "i", string(models.Interval15m), "candle interval")
	fetch.Flags().IntP("days", "d", 1, "days of history")
	fetch.Flags().IntP("limit", "n", 20, "rows to show (0 for all)")

	exportCmd := &cobra.Command{
		Use:   "export <symbol>",
		Short: "Export candles to csv, parquet or json",
		Example: `  pivotscope candles export BTCUSDT --days 30
  pivotscope candles export ETHUSDT --format parquet --out ./data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
			defer cancel()

			format, _ := cmd.Flags().GetString("format")
			saver, err := export.NewSaver(format)
			if err != nil {
				return err
			}
			symbol := symbolArg(args)
			interval, from, to, err := candleWindow(cmd)
			if err != nil {
				return err
			}
			candles, _, err := app.Source.GetCandles(ctx, symbol, interval, from, to)
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("out")
			path, err := export.Write(saver, dir, symbol, interval, from, to, candles)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"path": path, "rows": len(candles)})
			}
			output.Success("✓ Wrote %d candles to %s", len(candles), path)
			return nil
		},
	}
	exportCmd.Flags().StringP("interval", "i", string(models.Interval15m), "candle interval")
	exportCmd.Flags().IntP("days", "d", 30, "days of history")
	exportCmd.Flags().StringP("format", "f", "csv", "output format: "+strings.Join(export.Formats, ", "))
	exportCmd.Flags().StringP("out", "o", ".", "output directory")

	status := &cobra.Command{
		Use:   "status <symbol>",
		Short: "Show what the store holds for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := symbolArg(args)
			raw, _ := cmd.Flags().GetString("interval")
			interval, err := models.ParseInterval(raw)
			if err != nil {
				return err
			}
			avail, err := app.Store.DataAvailability(cmd.Context(), symbol, interval)
			if err != nil {
				return err
			}
			fresh := app.Source.Freshness(symbol, interval)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"availability": avail, "freshness": fresh})
			}
			if !avail.Available {
				output.Warning("No %s candles stored for %s. Run 'pivotscope backfill %s'.", interval, symbol, symbol)
				return nil
			}
			output.Box(fmt.Sprintf("%s %s", symbol, interval), []string{
				fmt.Sprintf("Candles:  %d", avail.CandleCount),
				fmt.Sprintf("First:    %s", FormatDateTime(avail.FirstTimestamp)),
				fmt.Sprintf("Latest:   %s", FormatDateTime(avail.LatestTimestamp)),
				fmt.Sprintf("Synced:   %s", FormatDateTime(fresh.LastUpdated)),
			})
			return nil
		},
	}
	status.Flags().StringP("interval", "i", string(models.Interval15m), "candle interval")

	cmd.AddCommand(fetch, exportCmd, status)
	return cmd
}

func newSymbolsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "List tradable symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			symbols, err := app.Provider.Symbols(ctx)
			if err != nil {
				return err
			}
			if filter, _ := cmd.Flags().GetString("filter"); filter != "" {
				filter = strings.ToUpper(filter)
				kept := symbols[:0]
				for _, s := range symbols {
					if strings.Contains(s, filter) {
						kept = append(kept, s)
					}
				}
				symbols = kept
			}
			if output.IsJSON() {
				return output.JSON(symbols)
			}
			for _, s := range symbols {
				output.Println(s)
			}
			output.Dim("%d symbols from %s", len(symbols), app.Provider.Name())
			return nil
		},
	}
	cmd.Flags().String("filter", "", "only symbols containing this text")
	return cmd
}

func newTickerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ticker <symbol>",
		Short: "Show the 24h ticker for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			tk, err := app.Provider.Ticker(ctx, symbolArg(args))
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(tk)
			}
			output.Bold("%s  %s  %s", tk.Symbol, FormatPrice(tk.LastPrice), output.FormatChange(tk.ChangePercent()))
			output.Printf("  24h high %s  low %s  open %s\n", FormatPrice(tk.High24h), FormatPrice(tk.Low24h), FormatPrice(tk.Open24h))
			return nil
		},
	}
}
