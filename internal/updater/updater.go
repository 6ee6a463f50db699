// Package updater keeps the candle store current for the popular pairs and
// refreshes their cached pivot tables.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pivotscope/internal/analysis"
	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/models"
	"pivotscope/internal/notify"
	"pivotscope/internal/provider"
	"pivotscope/internal/store"
	"pivotscope/pkg/utils"
)

// Interval is the candle size the updater maintains.
const Interval = models.Interval15m

// Config tunes the updater.
type Config struct {
	BackfillDays int
	// Overlap is re-fetched behind the latest stored candle on every update
	// so that a candle stored while still open gets its final values.
	Overlap time.Duration
	// InitialWindow is fetched by an update when nothing is stored yet.
	InitialWindow     time.Duration
	PairDelay         time.Duration
	BatchSize         int
	ChunkDays         int
	Retry             utils.RetryConfig
	RefreshTimeframes []string
}

// DefaultConfig returns the updater defaults.
func DefaultConfig() Config {
	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = retryable
	return Config{
		BackfillDays:      730,
		Overlap:           30 * time.Minute,
		InitialWindow:     2 * time.Hour,
		PairDelay:         200 * time.Millisecond,
		BatchSize:         1000,
		ChunkDays:         30,
		Retry:             retry,
		RefreshTimeframes: []string{"daily", "weekly"},
	}
}

func retryable(err error) bool {
	return errors.IsRateLimit(err) || errors.Is(err, errors.ErrProviderUnavailable) || errors.Is(err, errors.ErrTimeout)
}

// Fetcher loads candles from an exchange. provider.Provider satisfies it.
type Fetcher interface {
	Candles(ctx context.Context, req provider.HistoricalRequest) ([]models.Candle, error)
}

// TableAnalyzer computes pivot tables. *analysis.Analyzer satisfies it.
type TableAnalyzer interface {
	Analyze(ctx context.Context, req analysis.Request, now time.Time) (*analysis.Report, error)
}

// BatchResult summarises a run over several pairs.
type BatchResult struct {
	Pairs     int               `json:"pairs"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Rows      int               `json:"rows"`
	Elapsed   time.Duration     `json:"elapsed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Updater backfills, updates and refreshes popular pairs.
type Updater struct {
	fetcher  Fetcher
	store    store.DataStore
	analyzer TableAnalyzer
	notifier notify.Notifier
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an updater. analyzer and notifier may be nil when only
// Backfill and Update are used.
func New(fetcher Fetcher, st store.DataStore, analyzer TableAnalyzer, notifier notify.Notifier, cfg Config, logger zerolog.Logger) *Updater {
	d := DefaultConfig()
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = d.BackfillDays
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = d.Overlap
	}
	if cfg.InitialWindow <= 0 {
		cfg.InitialWindow = d.InitialWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.ChunkDays <= 0 {
		cfg.ChunkDays = d.ChunkDays
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = d.Retry
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = retryable
	}
	if len(cfg.RefreshTimeframes) == 0 {
		cfg.RefreshTimeframes = d.RefreshTimeframes
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Updater{
		fetcher:  fetcher,
		store:    st,
		analyzer: analyzer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "updater").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Backfill loads up to days of history for symbol. Without force it resumes
// after the latest stored candle.
func (u *Updater) Backfill(ctx context.Context, symbol string, days int, force bool) (*models.UpdateLog, error) {
	started := u.now()
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errors.NewValidationError("symbol", symbol, "must not be empty")
	}
	if days <= 0 {
		days = u.cfg.BackfillDays
	}
	logger := logging.WithOperation(logging.WithSymbol(u.logger, symbol), "backfill")

	end := started.UTC()
	from := end.AddDate(0, 0, -days)
	if !force {
		latest, ok, err := u.store.LatestTimestamp(ctx, symbol, Interval)
		if err != nil {
			return nil, err
		}
		if ok {
			from = latest.Add(Interval.Duration())
			logger.Info().Time("latest", latest).Msg("Resuming after latest stored candle")
		}
	}
	if !from.Before(end) {
		logger.Info().Msg("Already up to date")
		return u.record(ctx, symbol, models.UpdateTypeBackfill, 0, started, nil)
	}

	logger.Info().Time("from", from).Time("to", end).Bool("force", force).Msg("Starting backfill")
	rows, runErr := u.fetchAndSave(ctx, symbol, from, end, logger)
	if rows > 0 {
		u.markFetched(ctx, symbol, end)
	}
	log, err := u.record(ctx, symbol, models.UpdateTypeBackfill, rows, started, runErr)
	if runErr != nil {
		return log, runErr
	}
	logger.Info().Int("rows", rows).Dur("elapsed", u.now().Sub(started)).Msg("Backfill complete")
	return log, err
}

// BackfillAll backfills every auto-update pair in priority order.
func (u *Updater) BackfillAll(ctx context.Context, days int, force bool) (*BatchResult, error) {
	return u.eachPair(ctx, func(ctx context.Context, symbol string) (int, error) {
		log, err := u.Backfill(ctx, symbol, days, force)
		if log == nil {
			return 0, err
		}
		return log.RowsAffected, err
	})
}

// UpdateSymbol fetches the newest candles for symbol, re-reading the overlap
// window behind the latest stored candle.
func (u *Updater) UpdateSymbol(ctx context.Context, symbol string) (int, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return 0, errors.NewValidationError("symbol", symbol, "must not be empty")
	}
	logger := logging.WithOperation(logging.WithSymbol(u.logger, symbol), "update")

	end := u.now().UTC()
	from := end.Add(-u.cfg.InitialWindow)
	latest, ok, err := u.store.LatestTimestamp(ctx, symbol, Interval)
	if err != nil {
		return 0, err
	}
	if ok {
		from = latest.Add(-u.cfg.Overlap)
	}

	rows, err := u.fetchAndSave(ctx, symbol, from, end, logger)
	if err != nil {
		return rows, err
	}
	u.markFetched(ctx, symbol, end)
	logger.Debug().Int("rows", rows).Msg("Symbol updated")
	return rows, nil
}

// UpdateAll updates every auto-update pair and writes one ALL_PAIRS log.
func (u *Updater) UpdateAll(ctx context.Context) (*BatchResult, error) {
	started := u.now()
	res, err := u.eachPair(ctx, u.UpdateSymbol)
	if err != nil {
		return res, err
	}

	var runErr error
	if res.Failed > 0 {
		runErr = fmt.Errorf("%d of %d pairs failed", res.Failed, res.Pairs)
	}
	if _, err := u.record(ctx, models.AllPairsSymbol, models.UpdateTypeCandles, res.Rows, started, runErr); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to write update log")
	}
	u.logger.Info().
		Int("pairs", res.Pairs).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("rows", res.Rows).
		Dur("elapsed", res.Elapsed).
		Msg("Update complete")
	return res, nil
}

// RefreshAll recomputes the configured timeframes for every auto-update pair,
// stores the tables in the result cache and publishes them. It returns the
// number of tables refreshed.
func (u *Updater) RefreshAll(ctx context.Context, now time.Time) (int, error) {
	if u.analyzer == nil {
		return 0, errors.NewValidationError("analyzer", nil, "refresh needs an analyzer")
	}
	started := u.now()
	pairs, err := u.store.ListPopularPairs(ctx, true)
	if err != nil {
		return 0, err
	}

	refreshed, failed := 0, 0
	for _, p := range pairs {
		for _, tf := range u.cfg.RefreshTimeframes {
			if err := ctx.Err(); err != nil {
				return refreshed, err
			}
			report, err := u.analyzer.Analyze(ctx, analysis.Request{Symbol: p.Symbol, Timeframe: tf, NoCache: true}, now)
			if err != nil {
				failed++
				u.logger.Warn().Err(err).Str("symbol", p.Symbol).Str("timeframe", tf).Msg("Refresh failed")
				continue
			}
			refreshed++
			sym, name := report.Request.Symbol, report.Request.Timeframe
			if err := u.notifier.PublishTable(ctx, sym, name, report.Result.Table); err != nil {
				u.logger.Warn().Err(err).Str("symbol", sym).Msg("Publish table failed")
			}
			if err := u.notifier.PublishLive(ctx, sym, name, report.Result.Live, report.Result.Assessment); err != nil {
				u.logger.Warn().Err(err).Str("symbol", sym).Msg("Publish live failed")
			}
		}
	}

	var runErr error
	if failed > 0 {
		runErr = fmt.Errorf("%d refreshes failed", failed)
	}
	if _, err := u.record(ctx, models.AllPairsSymbol, models.UpdateTypeRefresh, refreshed, started, runErr); err != nil {
		u.logger.Warn().Err(err).Msg("Failed to write update log")
	}
	return refreshed, nil
}

func (u *Updater) eachPair(ctx context.Context, fn func(context.Context, string) (int, error)) (*BatchResult, error) {
	started := u.now()
	pairs, err := u.store.ListPopularPairs(ctx, true)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{Pairs: len(pairs), Errors: make(map[string]string)}
	for i, p := range pairs {
		rows, err := fn(ctx, p.Symbol)
		res.Rows += rows
		if err != nil {
			res.Failed++
			res.Errors[p.Symbol] = err.Error()
			u.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("Pair failed")
		} else {
			res.Succeeded++
		}
		if i < len(pairs)-1 {
			if err := utils.Sleep(ctx, u.cfg.PairDelay); err != nil {
				res.Elapsed = u.now().Sub(started)
				return res, err
			}
		}
	}
	res.Elapsed = u.now().Sub(started)
	return res, nil
}

// fetchAndSave fetches [from, to) chunk by chunk with retry and saves each
// chunk in batches. It returns the rows saved before any error.
func (u *Updater) fetchAndSave(ctx context.Context, symbol string, from, to time.Time, logger zerolog.Logger) (int, error) {
	retry := u.cfg.Retry
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Fetch failed, retrying")
	}

	rows := 0
	for _, r := range utils.SplitRange(from, to, time.Duration(u.cfg.ChunkDays)*24*time.Hour) {
		req := provider.HistoricalRequest{Symbol: symbol, Interval: Interval, From: r.From, To: r.To}
		candles, err := utils.RetryWithResult(ctx, retry, func() ([]models.Candle, error) {
			return u.fetcher.Candles(ctx, req)
		})
		if err != nil {
			return rows, errors.Wrapf(err, "fetch %s %s..%s", symbol, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
		}
		n, err := u.saveBatches(ctx, symbol, candles)
		rows += n
		if err != nil {
			return rows, err
		}
		logger.Debug().Time("chunk_from", r.From).Int("candles", len(candles)).Msg("Chunk saved")
	}
	return rows, nil
}

func (u *Updater) saveBatches(ctx context.Context, symbol string, candles []models.Candle) (int, error) {
	saved := 0
	for start := 0; start < len(candles); start += u.cfg.BatchSize {
		end := start + u.cfg.BatchSize
		if end > len(candles) {
			end = len(candles)
		}
		n, err := u.store.SaveCandles(ctx, symbol, Interval, candles[start:end])
		saved += n
		if err != nil {
			return saved, err
		}
	}
	return saved, nil
}

func (u *Updater) markFetched(ctx context.Context, symbol string, at time.Time) {
	if err := u.store.TouchPopularPair(ctx, symbol, at); err != nil {
		u.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to touch popular pair")
	}
	if err := u.store.SetLastSync(symbol, Interval, at); err != nil {
		u.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to record sync time")
	}
}

// record writes an update log. A failed run is logged with success=false and
// runErr's message.
func (u *Updater) record(ctx context.Context, symbol string, typ models.UpdateType, rows int, started time.Time, runErr error) (*models.UpdateLog, error) {
	log := &models.UpdateLog{
		ID:           u.newID(),
		Symbol:       symbol,
		UpdateType:   typ,
		RowsAffected: rows,
		Success:      runErr == nil,
		DurationMs:   u.now().Sub(started).Milliseconds(),
		CreatedAt:    u.now().UTC(),
	}
	if runErr != nil {
		log.ErrorMessage = runErr.Error()
	}
	if err := u.store.InsertUpdateLog(ctx, log); err != nil {
		return log, err
	}
	return log, nil
}
