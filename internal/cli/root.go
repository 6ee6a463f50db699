package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pivotscope/internal/analysis"
	"pivotscope/internal/cache"
	"pivotscope/internal/config"
	"pivotscope/internal/logging"
	"pivotscope/internal/models"
	"pivotscope/internal/notify"
	"pivotscope/internal/provider"
	"pivotscope/internal/security"
	"pivotscope/internal/store"
	"pivotscope/internal/updater"
)

// Version information, overridden at link time.
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// Command annotations controlling how much of the App a command needs.
const (
	annotationSetup = "setup"
	setupNone       = "none"
	setupConfig     = "config"
)

// App holds the application dependencies. They are built once per
// invocation, after flags are parsed.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *store.SQLiteStore
	Provider provider.Provider
	Source   *store.CachedSource
	Cache    cache.ResultCache
	Analyzer *analysis.Analyzer

	closers []func() error
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "pivotscope",
		Short: "Pivot timing statistics for crypto pairs",
		Long: `pivotscope measures when the high and the low of each day, week or month
tend to form, and tracks the provisional pivots of the period in progress.

P1 is the earlier of the two extremes in a period and P2 the later one. The
frequency table shows how often each hour, weekday or day of month held them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Annotations[annotationSetup] {
			case setupNone:
				return nil
			case setupConfig:
				return app.loadConfig(cmd)
			}
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/pivotscope)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	addAnalysisCommands(rootCmd, app)
	addMarketDataCommands(rootCmd, app)
	addPairCommands(rootCmd, app)
	addUpdaterCommands(rootCmd, app)
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

// Execute runs the CLI with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		out := NewOutput(cmd)
		out.Error("Error: %v", err)
		return 1
	}
	return 0
}

func (a *App) loadConfig(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	a.Config = cfg

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
		cfg.Logging.Console = true
	}
	a.Logger = logging.NewLoggerWithConfig(cfg.Logging)
	return nil
}

// setup opens the store and builds the provider, cache and analyzer.
func (a *App) setup(cmd *cobra.Command) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	cfg := a.Config

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	a.Logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")

	p, err := provider.New(cfg.Provider.Name, cfg.ProviderOptions(), st, a.Logger)
	if err != nil {
		return err
	}
	a.Provider = p

	var fetch store.FetchFunc
	if cfg.Provider.Name != "store" {
		fetch = func(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error) {
			return p.Candles(ctx, provider.HistoricalRequest{Symbol: symbol, Interval: interval, From: from, To: to})
		}
	}
	a.Source = store.NewCachedSource(st, fetch, nil, a.Logger)

	rc, err := a.newCache(cmd.Context())
	if err != nil {
		return err
	}
	a.Cache = rc
	a.closers = append(a.closers, rc.Close)

	a.Analyzer = analysis.NewAnalyzer(a.candleSource(), rc, a.Logger)
	return nil
}

func (a *App) newCache(ctx context.Context) (cache.ResultCache, error) {
	c := a.Config.Cache
	switch c.Backend {
	case "memory":
		return cache.NewMemory(c.TTL), nil
	case "redis":
		if ctx == nil {
			ctx = context.Background()
		}
		r, err := cache.NewRedis(ctx, cache.RedisOptions{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB, TTL: c.TTL})
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Redis unavailable, falling back to the sqlite cache")
			return cache.NewSQLite(a.Store, c.TTL), nil
		}
		return r, nil
	case "none":
		return cache.Nop{}, nil
	}
	return cache.NewSQLite(a.Store, c.TTL), nil
}

// candleSource serves analysis requests through the store-backed source.
func (a *App) candleSource() analysis.CandleSource {
	return analysis.SourceFunc(func(ctx context.Context, req provider.HistoricalRequest) ([]models.Candle, error) {
		candles, _, err := a.Source.GetCandles(ctx, req.Symbol, req.Interval, req.From, req.To)
		return candles, err
	})
}

// newUpdater builds an updater publishing to notifier.
func (a *App) newUpdater(notifier notify.Notifier) *updater.Updater {
	return updater.New(a.Provider, a.Store, a.Analyzer, notifier, a.Config.UpdaterConfig(), a.Logger)
}

// Close releases everything setup opened, newest first.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{annotationSetup: setupNone},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("pivotscope v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration in config.toml.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Annotations: map[string]string{annotationSetup: setupConfig},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			settings := security.MaskSettings(app.Config.Settings())
			if output.IsJSON() {
				return output.JSON(settings)
			}
			showConfig(output, settings, "")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show the configuration file path",
		Annotations: map[string]string{annotationSetup: setupNone},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			path := config.Path(dir)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": path})
			} else {
				output.Println(path)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration file",
		Annotations: map[string]string{annotationSetup: setupConfig},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

// showConfig prints nested settings as sorted dotted keys.
func showConfig(output *Output, settings map[string]interface{}, prefix string) {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := settings[k].(map[string]interface{}); ok {
			if prefix == "" {
				output.Bold("[%s]", k)
			}
			showConfig(output, nested, key)
			if prefix == "" {
				output.Println()
			}
			continue
		}
		output.Printf("  %-32s %v\n", key, settings[k])
	}
}
