package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"pivotscope/internal/models"
)

// FetchFunc loads candles from an upstream provider.
type FetchFunc func(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error)

// SyncConfig holds configuration for the cached candle source.
type SyncConfig struct {
	// StaleThresholds defines how long after the last sync stored candles are
	// served without asking the provider.
	StaleThresholds map[models.Interval]time.Duration
}

// DefaultSyncConfig returns default sync configuration.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		StaleThresholds: map[models.Interval]time.Duration{
			models.Interval15m: 5 * time.Minute,
			models.Interval1h:  15 * time.Minute,
			models.Interval4h:  30 * time.Minute,
			models.Interval1d:  time.Hour,
			models.Interval1w:  6 * time.Hour,
		},
	}
}

func (c *SyncConfig) threshold(interval models.Interval) time.Duration {
	if d, ok := c.StaleThresholds[interval]; ok {
		return d
	}
	return 15 * time.Minute
}

// DataFreshness represents the freshness of stored candles.
type DataFreshness struct {
	Symbol      string
	Interval    models.Interval
	LastUpdated time.Time
	IsFresh     bool
	Age         time.Duration
}

// CachedSource serves candles from the store and fetches only the missing
// tail from the provider. When the provider fails, stored candles are
// returned instead.
type CachedSource struct {
	store  DataStore
	fetch  FetchFunc
	config *SyncConfig
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	isOnline bool
}

// NewCachedSource creates a cached source over store and fetch.
func NewCachedSource(store DataStore, fetch FetchFunc, config *SyncConfig, logger zerolog.Logger) *CachedSource {
	if config == nil {
		config = DefaultSyncConfig()
	}
	return &CachedSource{
		store:    store,
		fetch:    fetch,
		config:   config,
		logger:   logger.With().Str("component", "cached_source").Logger(),
		now:      time.Now,
		isOnline: fetch != nil,
	}
}

// SetOnline toggles provider access. Offline sources serve stored data only.
func (cs *CachedSource) SetOnline(online bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.isOnline = online && cs.fetch != nil
}

// IsOnline returns whether the provider is used.
func (cs *CachedSource) IsOnline() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.isOnline
}

// Freshness reports how recently symbol/interval was synced.
func (cs *CachedSource) Freshness(symbol string, interval models.Interval) *DataFreshness {
	last := cs.store.GetLastSync(symbol, interval)
	f := &DataFreshness{Symbol: symbol, Interval: interval, LastUpdated: last}
	if last.IsZero() {
		return f
	}
	f.Age = cs.now().Sub(last)
	f.IsFresh = f.Age < cs.config.threshold(interval)
	return f
}

// GetCandles returns candles in [from, to]. fromCache is true when the
// provider was not consulted or could not be reached.
func (cs *CachedSource) GetCandles(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) (candles []models.Candle, fromCache bool, err error) {
	cached, err := cs.store.GetCandles(ctx, symbol, interval, from, to)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached candles: %w", err)
	}

	if !cs.IsOnline() {
		return cached, true, nil
	}

	if cs.Freshness(symbol, interval).IsFresh && covers(cached, from, interval) {
		return cached, true, nil
	}

	start := from
	if covers(cached, from, interval) {
		start = cached[len(cached)-1].Timestamp
	}

	fetched, err := cs.fetch(ctx, symbol, interval, start, to)
	if err != nil {
		if len(cached) > 0 {
			cs.logger.Warn().Err(err).Str("symbol", symbol).Str("interval", string(interval)).
				Msg("provider fetch failed, serving stored candles")
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("failed to fetch candles and no cache available: %w", err)
	}

	if _, err := cs.store.SaveCandles(ctx, symbol, interval, fetched); err != nil {
		cs.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to store fetched candles")
	} else if err := cs.store.SetLastSync(symbol, interval, cs.now().UTC()); err != nil {
		cs.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to record sync time")
	}

	return mergeCandles(cached, fetched), false, nil
}

// covers reports whether cached reaches back to within one interval of from.
func covers(cached []models.Candle, from time.Time, interval models.Interval) bool {
	if len(cached) == 0 {
		return false
	}
	return !cached[0].Timestamp.After(from.Add(interval.Duration()))
}

// mergeCandles merges two candle sets; b wins on equal timestamps.
func mergeCandles(a, b []models.Candle) []models.Candle {
	byTime := make(map[int64]models.Candle, len(a)+len(b))
	for _, c := range a {
		byTime[c.Timestamp.UnixMilli()] = c
	}
	for _, c := range b {
		byTime[c.Timestamp.UnixMilli()] = c
	}
	out := make([]models.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// FormatFreshness returns a human-readable freshness string.
func FormatFreshness(freshness *DataFreshness) string {
	if freshness.LastUpdated.IsZero() {
		return "Never synced"
	}

	age := freshness.Age
	var ageStr string

	switch {
	case age < time.Minute:
		ageStr = "just now"
	case age < time.Hour:
		ageStr = fmt.Sprintf("%d minutes ago", int(age.Minutes()))
	case age < 24*time.Hour:
		ageStr = fmt.Sprintf("%d hours ago", int(age.Hours()))
	default:
		ageStr = fmt.Sprintf("%d days ago", int(age.Hours()/24))
	}

	if freshness.IsFresh {
		return fmt.Sprintf("Updated %s", ageStr)
	}
	return fmt.Sprintf("Stale data - updated %s", ageStr)
}
