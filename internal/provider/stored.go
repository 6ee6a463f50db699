package provider

import (
	"context"
	"fmt"
	"time"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
	"pivotscope/internal/store"
)

// Stored serves market data from the local candle store only. It backs
// offline analysis and the "store" provider setting.
type Stored struct {
	store store.DataStore
	now   func() time.Time
}

// NewStored creates a store-backed provider.
func NewStored(s store.DataStore) *Stored {
	return &Stored{store: s, now: time.Now}
}

func (s *Stored) Name() string { return "store" }

// Candles reads [From, To) from the store.
func (s *Stored) Candles(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	candles, err := s.store.GetCandles(ctx, models.NormalizeSymbol(req.Symbol), req.Interval, req.From, req.To.Add(-time.Millisecond))
	if err != nil {
		return nil, err
	}
	return candles, nil
}

// Symbols lists the popular pairs, the only symbols guaranteed to be stored.
func (s *Stored) Symbols(ctx context.Context) ([]string, error) {
	pairs, err := s.store.ListPopularPairs(ctx, false)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		symbols[i] = p.Symbol
	}
	return symbols, nil
}

// Ticker derives a 24h snapshot from stored 15-minute candles.
func (s *Stored) Ticker(ctx context.Context, symbol string) (models.Ticker, error) {
	symbol = models.NormalizeSymbol(symbol)
	latest, ok, err := s.store.LatestTimestamp(ctx, symbol, models.Interval15m)
	if err != nil {
		return models.Ticker{}, err
	}
	if !ok {
		return models.Ticker{}, fmt.Errorf("no stored candles for %s: %w", symbol, errors.ErrDataNotFound)
	}

	candles, err := s.store.GetCandles(ctx, symbol, models.Interval15m, latest.Add(-24*time.Hour).Add(15*time.Minute), latest)
	if err != nil {
		return models.Ticker{}, err
	}
	return TickerFromCandles(symbol, candles), nil
}

// TickerFromCandles summarises candles as a ticker. The slice must be
// ascending and non-empty.
func TickerFromCandles(symbol string, candles []models.Candle) models.Ticker {
	t := models.Ticker{Symbol: symbol}
	if len(candles) == 0 {
		return t
	}
	first, last := candles[0], candles[len(candles)-1]
	t.Open24h = first.Open
	t.LastPrice = last.Close
	t.High24h = first.High
	t.Low24h = first.Low
	for _, c := range candles[1:] {
		if c.High > t.High24h {
			t.High24h = c.High
		}
		if c.Low < t.Low24h {
			t.Low24h = c.Low
		}
	}
	t.Timestamp = last.Timestamp
	return t
}
