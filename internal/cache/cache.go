// Package cache provides result caches for computed pivot tables. Each
// backend enforces its own freshness TTL; a stale entry reads as absent.
package cache

import (
	"context"
	"fmt"
	"time"

	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/models"
)

// DefaultTTL is how long a computed table stays fresh.
const DefaultTTL = time.Hour

// Key identifies a cached table.
type Key struct {
	Symbol    string
	Timeframe string
	Days      int
	Weekdays  pivots.WeekdaySet
}

// NewKey builds a normalised key.
func NewKey(symbol, timeframe string, days int, weekdays pivots.WeekdaySet) Key {
	if weekdays == 0 {
		weekdays = pivots.AllWeekdays
	}
	return Key{
		Symbol:    models.NormalizeSymbol(symbol),
		Timeframe: timeframe,
		Days:      days,
		Weekdays:  weekdays,
	}
}

// String renders the key as "SYMBOL:timeframe:days:weekdays".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.Symbol, k.Timeframe, k.Days, k.Weekdays)
}

// Stats describes the series a table was computed from.
type Stats struct {
	Candles   int       `json:"candles"`
	First     time.Time `json:"first,omitempty"`
	Last      time.Time `json:"last,omitempty"`
	Buckets   int       `json:"buckets"`
	Completed int       `json:"completed"`
}

// Entry is a cached table with its stats.
type Entry struct {
	Table     pivots.Table `json:"table"`
	Stats     Stats        `json:"stats"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.UpdatedAt) < ttl
}

// ResultCache reads and writes computed tables.
type ResultCache interface {
	// Get returns nil, nil when the key is absent or stale.
	Get(ctx context.Context, key Key) (*Entry, error)
	Set(ctx context.Context, key Key, entry Entry) error
	Delete(ctx context.Context, key Key) error
	// Purge removes every entry for symbol, or all entries when symbol is
	// empty, and returns how many were removed.
	Purge(ctx context.Context, symbol string) (int, error)
	Close() error
}

// Nop is a cache that never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, Key) (*Entry, error) { return nil, nil }
func (Nop) Set(context.Context, Key, Entry) error { return nil }
func (Nop) Delete(context.Context, Key) error { return nil }
func (Nop) Purge(context.Context, string) (int, error) { return 0, nil }
func (Nop) Close() error { return nil }
