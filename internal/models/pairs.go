package models

import "time"

// PopularPair is a symbol kept fresh by the updater.
type PopularPair struct {
	Symbol      string     `json:"symbol"`
	AutoUpdate  bool       `json:"auto_update"`
	Priority    int        `json:"priority"`
	LastFetched *time.Time `json:"last_fetched,omitempty"`
}

// UpdateType labels an update log entry.
type UpdateType string

const (
	UpdateTypeBackfill UpdateType = "backfill"
	UpdateTypeCandles  UpdateType = "candles"
	UpdateTypeRefresh  UpdateType = "refresh"
)

// AllPairsSymbol marks batch log entries that cover every popular pair.
const AllPairsSymbol = "ALL_PAIRS"

// UpdateLog records one backfill/update/refresh run.
type UpdateLog struct {
	ID           string     `json:"id"`
	Symbol       string     `json:"symbol"`
	UpdateType   UpdateType `json:"update_type"`
	RowsAffected int        `json:"rows_affected"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DataAvailability summarises what the store holds for a symbol.
type DataAvailability struct {
	Symbol          string    `json:"symbol"`
	Interval        Interval  `json:"interval"`
	Available       bool      `json:"available"`
	CandleCount     int       `json:"candle_count"`
	FirstTimestamp  time.Time `json:"first_timestamp,omitempty"`
	LatestTimestamp time.Time `json:"latest_timestamp,omitempty"`
}
