// Package analysis runs pivot-frequency analyses for a symbol: it loads the
// candle history, evaluates the pivot table, and keeps computed tables in a
// result cache.
package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/cache"
	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/models"
	"pivotscope/internal/provider"
)

// MaxDays bounds the lookback of one analysis.
const MaxDays = 3650

// CandleSource loads historical candles. provider.Provider satisfies it.
type CandleSource interface {
	Candles(ctx context.Context, req provider.HistoricalRequest) ([]models.Candle, error)
}

// SourceFunc adapts a function to CandleSource.
type SourceFunc func(ctx context.Context, req provider.HistoricalRequest) ([]models.Candle, error)

// Candles calls f.
func (f SourceFunc) Candles(ctx context.Context, req provider.HistoricalRequest) ([]models.Candle, error) {
	return f(ctx, req)
}

// Request selects one analysis.
type Request struct {
	Symbol    string            `json:"symbol"`
	Timeframe string            `json:"timeframe"`
	Days      int               `json:"days"`
	Weekdays  pivots.WeekdaySet `json:"weekdays"`
	// NoCache skips the cache read; the fresh table is still written back.
	NoCache bool `json:"-"`
}

// Report is the outcome of Analyze.
type Report struct {
	Request   Request       `json:"request"`
	Result    pivots.Result `json:"result"`
	FromCache bool          `json:"from_cache"`
	Stats     cache.Stats   `json:"stats"`
}

// LiveReport is the outcome of Live.
type LiveReport struct {
	Symbol      string            `json:"symbol"`
	Timeframe   string            `json:"timeframe"`
	Live        pivots.LivePivots `json:"live"`
	Assessment  pivots.Assessment `json:"assessment"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// Analyzer evaluates pivot tables for symbols.
type Analyzer struct {
	source CandleSource
	cache  cache.ResultCache
	logger zerolog.Logger
}

// NewAnalyzer creates an analyzer. A nil cache disables caching.
func NewAnalyzer(source CandleSource, rc cache.ResultCache, logger zerolog.Logger) *Analyzer {
	if rc == nil {
		rc = cache.Nop{}
	}
	return &Analyzer{
		source: source,
		cache:  rc,
		logger: logger.With().Str("component", "analyzer").Logger(),
	}
}

// Resolve validates req and fills defaults.
func Resolve(req Request) (Request, pivots.Timeframe, error) {
	req.Symbol = models.NormalizeSymbol(req.Symbol)
	if req.Symbol == "" {
		return req, pivots.Timeframe{}, errors.NewValidationError("symbol", req.Symbol, "must not be empty")
	}
	if req.Timeframe == "" {
		req.Timeframe = pivots.Daily.Name
	}
	tf, err := pivots.ParseTimeframe(req.Timeframe)
	if err != nil {
		return req, pivots.Timeframe{}, err
	}
	req.Timeframe = tf.Name
	if req.Days == 0 {
		req.Days = tf.DefaultDays
	}
	if req.Days < 1 || req.Days > MaxDays {
		return req, pivots.Timeframe{}, errors.NewValidationError("days", req.Days, "must be between 1 and 3650")
	}
	if req.Weekdays == 0 {
		req.Weekdays = pivots.AllWeekdays
	}
	return req, tf, nil
}

// Analyze returns the pivot table for req at now. A cached table is reused
// while it is within its TTL and was computed in the current bucket; the live
// pivots are always computed from fresh candles.
func (a *Analyzer) Analyze(ctx context.Context, req Request, now time.Time) (*Report, error) {
	req, tf, err := Resolve(req)
	if err != nil {
		return nil, err
	}
	now = now.UTC()
	logger := logging.WithTimeframe(logging.WithSymbol(a.logger, req.Symbol), tf.Name)
	key := cache.NewKey(req.Symbol, tf.Name, req.Days, req.Weekdays)

	if !req.NoCache {
		entry, err := a.cache.Get(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, recomputing")
		}
		if entry != nil && pivots.KeyOf(tf.Bucket, entry.UpdatedAt) != pivots.KeyOf(tf.Bucket, now) {
			// A bucket closed since the table was computed.
			logger.Debug().Str("key", key.String()).Msg("Cached table predates the current bucket, recomputing")
			entry = nil
		}
		if entry != nil {
			live, err := a.live(ctx, req.Symbol, tf, req.Weekdays, now)
			if err != nil {
				return nil, err
			}
			logging.LogPivots(logger, req.Symbol, tf.Name, entry.Table.CompletedBuckets, true)
			return &Report{
				Request: req,
				Result: pivots.Result{
					Table:      entry.Table,
					Live:       live,
					Assessment: pivots.Assess(entry.Table, live, tf, now),
				},
				FromCache: true,
				Stats:     entry.Stats,
			}, nil
		}
	}

	candles, err := a.source.Candles(ctx, provider.HistoricalRequest{
		Symbol:   req.Symbol,
		Interval: tf.Interval,
		From:     now.AddDate(0, 0, -req.Days),
		To:       now.Add(time.Millisecond),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load %s %s candles", req.Symbol, tf.Interval)
	}

	series := pivots.NewSeries(candles)
	result := pivots.Evaluate(series, pivots.Params{Timeframe: tf, Weekdays: req.Weekdays}, now)
	stats := statsFor(series, result.Table)

	if err := a.cache.Set(ctx, key, cache.Entry{Table: result.Table, Stats: stats, UpdatedAt: now}); err != nil {
		logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
	logging.LogPivots(logger, req.Symbol, tf.Name, result.Table.CompletedBuckets, false)

	return &Report{Request: req, Result: result, Stats: stats}, nil
}

// Live returns the provisional pivots of the current bucket, assessed
// against the default-lookback table for the timeframe.
func (a *Analyzer) Live(ctx context.Context, symbol, timeframe string, now time.Time) (*LiveReport, error) {
	report, err := a.Analyze(ctx, Request{Symbol: symbol, Timeframe: timeframe}, now)
	if err != nil {
		return nil, err
	}
	return &LiveReport{
		Symbol:      report.Request.Symbol,
		Timeframe:   report.Request.Timeframe,
		Live:        report.Result.Live,
		Assessment:  report.Result.Assessment,
		EvaluatedAt: now.UTC(),
	}, nil
}

// live fetches only the current bucket.
func (a *Analyzer) live(ctx context.Context, symbol string, tf pivots.Timeframe, weekdays pivots.WeekdaySet, now time.Time) (pivots.LivePivots, error) {
	candles, err := a.source.Candles(ctx, provider.HistoricalRequest{
		Symbol:   symbol,
		Interval: tf.Interval,
		From:     tf.Bucket.Truncate(now),
		To:       now.Add(time.Millisecond),
	})
	if err != nil {
		return pivots.LivePivots{}, errors.Wrapf(err, "load live %s candles", symbol)
	}
	return pivots.Track(pivots.NewSeries(candles), tf, weekdays, now), nil
}

func statsFor(series pivots.Series, table pivots.Table) cache.Stats {
	stats := cache.Stats{
		Candles:   series.Len(),
		Buckets:   table.TotalBuckets,
		Completed: table.CompletedBuckets,
	}
	if c, ok := series.First(); ok {
		stats.First = c.Timestamp
	}
	if c, ok := series.Last(); ok {
		stats.Last = c.Timestamp
	}
	return stats
}
