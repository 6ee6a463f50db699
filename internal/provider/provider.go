// Package provider fetches candles, symbols and tickers from exchanges.
package provider

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pivotscope/internal/errors"
	"pivotscope/internal/models"
	"pivotscope/internal/resilience"
	"pivotscope/internal/store"
)

// Provider defines the interface for market data sources.
type Provider interface {
	Name() string
	// Candles returns candles in [From, To), deduplicated and ascending.
	Candles(ctx context.Context, req HistoricalRequest) ([]models.Candle, error)
	// Symbols lists tradable symbols, sorted.
	Symbols(ctx context.Context) ([]string, error)
	Ticker(ctx context.Context, symbol string) (models.Ticker, error)
}

// HistoricalRequest represents a request for historical data.
type HistoricalRequest struct {
	Symbol   string
	Interval models.Interval
	From     time.Time
	To       time.Time
}

// Options configures the HTTP providers.
type Options struct {
	Category   string
	BaseURL    string
	Timeout    time.Duration
	ChunkDays  int
	Workers    int
	MaxRetries int
	// RateLimit caps requests per second; zero disables the cap.
	RateLimit float64
}

// DefaultOptions returns defaults matching the exchange limits.
func DefaultOptions() Options {
	return Options{
		Category:   "linear",
		Timeout:    30 * time.Second,
		ChunkDays:  30,
		Workers:    10,
		MaxRetries: 3,
		RateLimit:  20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Category == "" {
		o.Category = d.Category
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.ChunkDays <= 0 {
		o.ChunkDays = d.ChunkDays
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RateLimit < 0 {
		o.RateLimit = 0
	}
	return o
}

// New builds the named provider. Network providers are wrapped in a circuit
// breaker; the store provider is returned bare.
func New(name string, opts Options, st store.DataStore, logger zerolog.Logger) (Provider, error) {
	switch strings.ToLower(name) {
	case "", bybitName:
		return NewGuarded(NewBybit(opts, logger), resilience.DefaultCircuitBreakerConfig()), nil
	case binanceName:
		return NewGuarded(NewBinance(opts, logger), resilience.DefaultCircuitBreakerConfig()), nil
	case "store":
		if st == nil {
			return nil, errors.NewValidationError("provider", name, "store provider needs a candle store")
		}
		return NewStored(st), nil
	}
	return nil, errors.NewValidationError("provider", name, "must be bybit, binance or store")
}

// normalize sorts candles ascending and keeps the last candle per timestamp.
func normalize(candles []models.Candle) []models.Candle {
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Guarded wraps a provider with a circuit breaker.
type Guarded struct {
	inner   Provider
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps p with a breaker named after the provider.
func NewGuarded(p Provider, cfg resilience.CircuitBreakerConfig) *Guarded {
	return &Guarded{inner: p, breaker: resilience.NewCircuitBreaker(p.Name(), cfg)}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) Candles(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	return resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) ([]models.Candle, error) {
		return g.inner.Candles(ctx, req)
	})
}

func (g *Guarded) Symbols(ctx context.Context) ([]string, error) {
	return resilience.ExecuteWithResult(ctx, g.breaker, g.inner.Symbols)
}

func (g *Guarded) Ticker(ctx context.Context, symbol string) (models.Ticker, error) {
	return resilience.ExecuteWithResult(ctx, g.breaker, func(ctx context.Context) (models.Ticker, error) {
		return g.inner.Ticker(ctx, symbol)
	})
}
