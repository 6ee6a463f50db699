package cache

import (
	"context"
	"encoding/json"
	"time"

	"pivotscope/internal/errors"
	"pivotscope/internal/store"
)

// SQLite keeps tables in the pivot_cache table of the candle store, so
// they survive restarts of the CLI.
type SQLite struct {
	store store.PivotCacheStore
	ttl   time.Duration
	now   func() time.Time
}

// NewSQLite wraps a pivot cache store.
func NewSQLite(s store.PivotCacheStore, ttl time.Duration) *SQLite {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLite{store: s, ttl: ttl, now: time.Now}
}

func rowKey(k Key) store.PivotCacheKey {
	return store.PivotCacheKey{
		Symbol:    k.Symbol,
		Timeframe: k.Timeframe,
		Days:      k.Days,
		Weekdays:  k.Weekdays.String(),
	}
}

func (c *SQLite) Get(ctx context.Context, key Key) (*Entry, error) {
	row, err := c.store.GetPivotCache(ctx, rowKey(key))
	if err != nil || row == nil {
		return nil, err
	}
	if c.now().Sub(row.UpdatedAt) >= c.ttl {
		return nil, nil
	}

	e := Entry{UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal(row.Payload, &e.Table); err != nil {
		return nil, errors.Wrap(err, "decode cached table")
	}
	if len(row.Stats) > 0 {
		if err := json.Unmarshal(row.Stats, &e.Stats); err != nil {
			return nil, errors.Wrap(err, "decode cached stats")
		}
	}
	return &e, nil
}

func (c *SQLite) Set(ctx context.Context, key Key, entry Entry) error {
	payload, err := json.Marshal(entry.Table)
	if err != nil {
		return errors.Wrap(err, "encode table")
	}
	stats, err := json.Marshal(entry.Stats)
	if err != nil {
		return errors.Wrap(err, "encode stats")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = c.now()
	}
	return c.store.SavePivotCache(ctx, store.PivotCacheRow{
		Key:       rowKey(key),
		Payload:   payload,
		Stats:     stats,
		UpdatedAt: entry.UpdatedAt,
	})
}

func (c *SQLite) Delete(ctx context.Context, key Key) error {
	return c.store.DeletePivotCache(ctx, rowKey(key))
}

func (c *SQLite) Purge(ctx context.Context, symbol string) (int, error) {
	return c.store.PurgePivotCache(ctx, symbol)
}

// Close is a no-op; the store is owned by the caller.
func (c *SQLite) Close() error { return nil }
