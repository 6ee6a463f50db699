package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pivotscope/internal/analysis"
	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/models"
	"pivotscope/internal/notify"
	"pivotscope/internal/stream"
)

// addAnalysisCommands adds the pivot table commands.
func addAnalysisCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newLiveCmd(app))
}

func timeframeUsage() string {
	return "timeframe: " + strings.Join(pivots.TimeframeNames(), ", ") + " (default from config)"
}

// request builds an analysis request from flags, falling back to the
// configured defaults.
func (a *App) request(cmd *cobra.Command, symbol string) (analysis.Request, error) {
	timeframe, _ := cmd.Flags().GetString("timeframe")
	if timeframe == "" {
		timeframe = a.Config.Analysis.DefaultTimeframe
	}
	req := analysis.Request{
		Symbol:    symbol,
		Timeframe: timeframe,
		Days:      a.Config.Analysis.DefaultDays,
		Weekdays:  a.Config.Weekdays(),
	}
	if cmd.Flags().Changed("days") {
		req.Days, _ = cmd.Flags().GetInt("days")
	}
	if cmd.Flags().Changed("weekdays") {
		spec, _ := cmd.Flags().GetString("weekdays")
		set, err := pivots.ParseWeekdays(spec)
		if err != nil {
			return req, err
		}
		req.Weekdays = set
	}
	req.NoCache, _ = cmd.Flags().GetBool("no-cache")
	return req, nil
}

func newAnalyzeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Show when P1 and P2 tend to form",
		Long: `Build the pivot frequency table for a symbol.

Each completed period contributes one P1 and one P2 to the slot they formed
in. The period in progress is excluded from the counts; its provisional
pivots are marked in the table and drive the flip risk and P2 formation
readings below it.`,
		Example: `  pivotscope analyze BTCUSDT
  pivotscope analyze ETHUSDT --timeframe weekly --days 730
  pivotscope analyze SOLUSDT --weekdays mon,tue,wed,thu,fri --no-cache`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			req, err := app.request(cmd, args[0])
			if err != nil {
				return err
			}
			report, err := app.Analyzer.Analyze(ctx, req, time.Now())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			printReport(output, report)
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", timeframeUsage())
	cmd.Flags().IntP("days", "d", 0, "lookback in days (default depends on the timeframe)")
	cmd.Flags().StringP("weekdays", "w", "all", "weekday filter: all, weekdays, weekend or mon,tue,...")
	cmd.Flags().Bool("no-cache", false, "recompute even when a fresh table is cached")

	return cmd
}

func printReport(output *Output, report *analysis.Report) {
	req, res := report.Request, report.Result
	t := res.Table

	source := SourceExchange
	if report.FromCache {
		source = SourceCache
	}
	output.Bold("%s %s pivots, last %d days", req.Symbol, req.Timeframe, req.Days)
	output.Printf("%s %d candles %s → %s, %d of %d periods complete",
		output.SourceTag(source), report.Stats.Candles,
		FormatDateTime(report.Stats.First), FormatDateTime(report.Stats.Last),
		t.CompletedBuckets, t.TotalBuckets)
	if !req.Weekdays.IsAll() {
		output.Printf(", weekdays %s", req.Weekdays.Names())
	}
	output.Println()
	if t.UsedFallback {
		output.Warning("No completed period yet; percentages include the period in progress.")
	}
	output.Println()

	output.Print("%s", TableRenderer{Color: output.colorEnabled}.Render(res))
	output.Println()

	p1, p2 := StatusLines(res)
	a := res.Assessment
	if a.FlipRisk != nil {
		p1 = output.BandColor(p1, a.FlipRisk.Band)
	}
	if a.P2Formation != nil {
		p2 = output.BandColor(p2, a.P2Formation.Band)
	}
	output.Println(p1)
	output.Println(p2)

	if top := topSlots(t, 3); len(top) > 0 {
		output.Println()
		output.Dim("Most frequent: %s", strings.Join(top, ", "))
	}
}

// topSlots lists the n slots with the most P1 or P2 occurrences.
func topSlots(t pivots.Table, n int) []string {
	type entry struct {
		label string
		pct   float64
	}
	var entries []entry
	for _, r := range t.Rows {
		if r.P1Pct > 0 {
			entries = append(entries, entry{"P1 " + r.Label, r.P1Pct})
		}
		if r.P2Pct > 0 {
			entries = append(entries, entry{"P2 " + r.Label, r.P2Pct})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pct > entries[j].pct })
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = fmt.Sprintf("%s (%s)", e.label, FormatPct(e.pct))
	}
	return out
}

func newLiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "live <symbol>",
		Short: "Show the provisional pivots of the current period",
		Example: `  pivotscope live BTCUSDT
  pivotscope live BTCUSDT --timeframe weekly
  pivotscope live ETHUSDT --watch 30s --bell`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			req, err := app.request(cmd, args[0])
			if err != nil {
				return err
			}
			watch, _ := cmd.Flags().GetDuration("watch")
			if watch > 0 {
				bell, _ := cmd.Flags().GetBool("bell")
				return watchLive(cmd.Context(), app, output, req, watch, bell)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			report, err := app.Analyzer.Analyze(ctx, req, time.Now())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(analysis.LiveReport{
					Symbol:      report.Request.Symbol,
					Timeframe:   report.Request.Timeframe,
					Live:        report.Result.Live,
					Assessment:  report.Result.Assessment,
					EvaluatedAt: report.Result.Table.EvaluatedAt,
				})
			}
			printLive(output, report)
			return nil
		},
	}

	cmd.Flags().StringP("timeframe", "t", "", timeframeUsage())
	cmd.Flags().Duration("watch", 0, "re-evaluate at this interval until interrupted")
	cmd.Flags().Bool("bell", false, "ring the terminal bell when P1 or P2 moves (with --watch)")

	return cmd
}

func printLive(output *Output, report *analysis.Report) {
	res := report.Result
	live := res.Live
	output.Bold("%s %s, current period", report.Request.Symbol, report.Request.Timeframe)
	if !live.Formed() {
		output.Warning("No candles in the current period yet.")
	} else {
		label := func(slot *int) string {
			if row, ok := res.Table.Row(*slot); ok {
				return row.Label
			}
			return fmt.Sprint(*slot)
		}
		output.Printf("  P1  %-6s %-4s %s at %s\n", label(live.P1Slot), live.P1Kind, FormatPrice(live.P1Price), FormatDateTime(*live.P1Time))
		output.Printf("  P2  %-6s %-4s %s at %s\n", label(live.P2Slot), live.P2Kind, FormatPrice(live.P2Price), FormatDateTime(*live.P2Time))
		output.Dim("  %d candles so far", live.Candles)
	}
	output.Println()

	p1, p2 := StatusLines(res)
	output.Println(p1)
	output.Println(p2)
}

// watchLive streams evaluations through a hub until ctx is cancelled. Every
// round prints a line; moves of P1 or P2 are flagged.
func watchLive(ctx context.Context, app *App, output *Output, req analysis.Request, every time.Duration, bell bool) error {
	key, err := stream.NewKey(req.Symbol, req.Timeframe)
	if err != nil {
		return err
	}
	hub := stream.NewHub(app.Analyzer, nil, stream.HubConfig{Interval: every}, app.Logger)
	snapshots := hub.Subscribe(key, "cli")
	defer hub.Stop()

	term := notify.NewTerminal(output.writer, output.colorEnabled, bell)
	output.Dim("Watching %s %s every %s, Ctrl+C to stop", key.Symbol, key.Timeframe, every)

	hub.Evaluate(ctx, time.Now())
	hub.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				return nil
			}
			if output.IsJSON() {
				output.JSON(snap)
				continue
			}
			term.PublishLive(ctx, snap.Symbol, snap.Timeframe, snap.Live, snap.Assessment)
		}
	}
}

// symbolArg normalises a symbol argument.
func symbolArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return models.NormalizeSymbol(args[0])
}
