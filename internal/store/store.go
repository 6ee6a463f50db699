// Package store defines data storage interfaces.
package store

import (
	"context"
	"time"

	"pivotscope/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	CandleStore
	PivotCacheStore
	PairStore
	UpdateLogStore
	SyncStore

	Close() error
}

// CandleStore persists OHLCV candles per symbol and interval.
type CandleStore interface {
	// SaveCandles upserts candles and returns how many rows were written.
	SaveCandles(ctx context.Context, symbol string, interval models.Interval, candles []models.Candle) (int, error)
	// GetCandles returns candles with from <= timestamp <= to, ascending.
	GetCandles(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error)
	// LatestTimestamp returns the newest stored candle time. ok is false
	// when nothing is stored.
	LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (ts time.Time, ok bool, err error)
	CandleCount(ctx context.Context, symbol string, interval models.Interval) (int, error)
	DataAvailability(ctx context.Context, symbol string, interval models.Interval) (*models.DataAvailability, error)
	// DeleteCandles removes candles older than before, or all of them when
	// before is zero.
	DeleteCandles(ctx context.Context, symbol string, interval models.Interval, before time.Time) (int, error)
}

// PivotCacheStore persists computed pivot tables as opaque JSON.
type PivotCacheStore interface {
	// GetPivotCache returns nil, nil when no row exists.
	GetPivotCache(ctx context.Context, key PivotCacheKey) (*PivotCacheRow, error)
	SavePivotCache(ctx context.Context, row PivotCacheRow) error
	DeletePivotCache(ctx context.Context, key PivotCacheKey) error
	// PurgePivotCache removes all rows for symbol, or every row when symbol
	// is empty.
	PurgePivotCache(ctx context.Context, symbol string) (int, error)
}

// PairStore manages the popular pairs list.
type PairStore interface {
	// ListPopularPairs returns pairs ordered by priority, then symbol.
	ListPopularPairs(ctx context.Context, autoOnly bool) ([]models.PopularPair, error)
	UpsertPopularPair(ctx context.Context, pair models.PopularPair) error
	RemovePopularPair(ctx context.Context, symbol string) error
	TouchPopularPair(ctx context.Context, symbol string, at time.Time) error
}

// UpdateLogStore records updater runs.
type UpdateLogStore interface {
	InsertUpdateLog(ctx context.Context, log *models.UpdateLog) error
	// RecentUpdateLogs returns the newest logs first. An empty symbol
	// matches every symbol.
	RecentUpdateLogs(ctx context.Context, symbol string, limit int) ([]models.UpdateLog, error)
}

// SyncStore tracks when a symbol/interval was last synced from a provider.
type SyncStore interface {
	GetLastSync(symbol string, interval models.Interval) time.Time
	SetLastSync(symbol string, interval models.Interval, t time.Time) error
}

// PivotCacheKey identifies a cached table row.
type PivotCacheKey struct {
	Symbol    string
	Timeframe string
	Days      int
	Weekdays  string
}

// PivotCacheRow is one cached table.
type PivotCacheRow struct {
	Key       PivotCacheKey
	Payload   []byte
	Stats     []byte
	UpdatedAt time.Time
}
