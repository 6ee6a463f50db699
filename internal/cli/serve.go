package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pivotscope/internal/api"
	"pivotscope/internal/notify"
	"pivotscope/internal/provider"
	"pivotscope/internal/resilience"
	"pivotscope/internal/stream"
	"pivotscope/internal/updater"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live stream and scheduled updates",
		Long: `Serve pivot tables and live pivots over HTTP and WebSocket. Unless disabled,
the scheduler keeps popular pairs updated every 15 minutes and refreshes
their cached tables. Refreshed tables and pivot moves are published to NATS
when it is enabled.`,
		Example: `  pivotscope serve
  pivotscope serve --listen 0.0.0.0:8080 --no-scheduler`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			cfg := app.Config
			logger := app.Logger.With().Str("command", "serve").Logger()

			notifier := notify.NewMulti(notify.NewLogNotifier(app.Logger))
			if cfg.NATS.Enabled {
				n, err := notify.NewNATSNotifier(cfg.NATSNotifierConfig(), app.Logger)
				if err != nil {
					logger.Warn().Err(err).Msg("NATS unavailable, publishing to the log only")
				} else {
					notifier.Add(n)
				}
			}
			defer notifier.Close()

			health := resilience.NewHealthMonitor()
			health.RegisterComponent("database", resilience.DatabaseHealthCheck(app.Store.Ping))
			if g, ok := app.Provider.(*provider.Guarded); ok {
				health.RegisterComponent("provider", resilience.BreakerHealthCheck(g.Breaker()))
			}

			hub := stream.NewHub(app.Analyzer, notifier, cfg.HubConfig(), app.Logger)
			hub.Start(ctx)
			defer hub.Stop()

			apiCfg := cfg.APIConfig()
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				apiCfg.Listen = listen
			}
			server := api.NewServer(apiCfg, api.Deps{
				Pivots:  app.Analyzer,
				Symbols: app.Provider,
				Candles: app.candleSource(),
				Pairs:   app.Store,
				Health:  health,
				Hub:     hub,
			}, app.Logger)

			noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
			if cfg.Updater.Enabled && !noScheduler {
				sched := updater.NewScheduler(ctx, app.newUpdater(notifier), app.Logger)
				if err := sched.Register(cfg.Updater.UpdateCron, cfg.Updater.RefreshCron); err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()
			output.Info("Listening on http://%s/api/v1", apiCfg.Listen)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			logger.Info().Msg("Shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			return server.Stop(shutdownCtx)
		},
	}

	cmd.Flags().String("listen", "", "listen address (default from config)")
	cmd.Flags().Bool("no-scheduler", false, "serve only, without scheduled updates")
	return cmd
}
