package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Default cron specs, with a leading seconds field.
const (
	DefaultUpdateCron  = "0 */15 * * * *"
	DefaultRefreshCron = "0 5 * * * *"
)

// Scheduler runs the updater on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	updater *Updater
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs run with a context derived from ctx
// and are skipped while a previous run of the same job is still going.
func NewScheduler(ctx context.Context, u *Updater, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		updater: u,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds the update and refresh jobs. An empty spec disables that job.
func (s *Scheduler) Register(updateSpec, refreshSpec string) error {
	if updateSpec != "" {
		if _, err := s.cron.AddFunc(updateSpec, s.updateTask); err != nil {
			return fmt.Errorf("register update task: %w", err)
		}
	}
	if refreshSpec != "" {
		if _, err := s.cron.AddFunc(refreshSpec, s.refreshTask); err != nil {
			return fmt.Errorf("register refresh task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info().Time("next", e.Next).Int("entry", int(e.ID)).Msg("Job scheduled")
	}
	s.logger.Info().Msg("Scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Next returns the next run time of every job.
func (s *Scheduler) Next() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) updateTask() {
	s.logger.Info().Msg("Running scheduled update")
	if _, err := s.updater.UpdateAll(s.ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled update failed")
	}
}

func (s *Scheduler) refreshTask() {
	s.logger.Info().Msg("Running scheduled refresh")
	n, err := s.updater.RefreshAll(s.ctx, time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled refresh failed")
		return
	}
	s.logger.Info().Int("tables", n).Msg("Scheduled refresh complete")
}

// ValidateSpec reports whether spec parses as a seconds-first cron spec.
func ValidateSpec(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor).Parse(spec)
	return err
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
