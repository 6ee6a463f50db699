// Package models provides domain models for the pivot analysis application.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"pivotscope/internal/errors"
)

// Interval represents a fixed candle size.
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// Duration returns the wall-clock length of one candle.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// ParseInterval validates an interval name.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if iv.Duration() == 0 {
		return "", errors.NewValidationError("interval", s, "must be one of 15m, 1h, 4h, 1d, 1w")
	}
	return iv, nil
}

// Candle represents OHLCV data for a time period. Timestamp is the UTC open
// instant of the candle.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Turnover  float64   `json:"turnover"`
}

// Validate checks the OHLC invariants. Candles that fail are dropped at the
// ingestion boundary and never reach the analysis engine.
func (c Candle) Validate(symbol string) error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewCandleError(symbol, c.Timestamp, "non-finite value")
		}
	}
	if c.High < c.Low {
		return errors.NewCandleError(symbol, c.Timestamp, fmt.Sprintf("high %.8g below low %.8g", c.High, c.Low))
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return errors.NewCandleError(symbol, c.Timestamp, "open/close outside high-low range")
	}
	if c.Timestamp.IsZero() {
		return errors.NewCandleError(symbol, c.Timestamp, "missing timestamp")
	}
	return nil
}

// Ticker is a 24h market snapshot for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	High24h   float64   `json:"high_24h"`
	Low24h    float64   `json:"low_24h"`
	Open24h   float64   `json:"open_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangePercent returns the 24h change relative to the 24h open.
func (t Ticker) ChangePercent() float64 {
	if t.Open24h == 0 {
		return 0
	}
	return (t.LastPrice - t.Open24h) / t.Open24h * 100
}

// NormalizeSymbol upper-cases and trims a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
