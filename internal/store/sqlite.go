package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"pivotscope/internal/errors"
	"pivotscope/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes. Timestamps are stored
// as Unix milliseconds.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Candles per symbol and interval
	CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL DEFAULT 0,
		turnover REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, interval, timestamp)
	);

	-- Computed pivot tables
	CREATE TABLE IF NOT EXISTS pivot_cache (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		days INTEGER NOT NULL,
		weekdays TEXT NOT NULL,
		payload TEXT NOT NULL,
		stats TEXT NOT NULL DEFAULT '{}',
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, timeframe, days, weekdays)
	);

	-- Symbols kept fresh by the updater
	CREATE TABLE IF NOT EXISTS popular_pairs (
		symbol TEXT PRIMARY KEY,
		auto_update INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 100,
		last_fetched INTEGER
	);

	-- Updater run history
	CREATE TABLE IF NOT EXISTS update_logs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		update_type TEXT NOT NULL,
		rows_affected INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error_message TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	-- Sync status per symbol and interval
	CREATE TABLE IF NOT EXISTS sync_status (
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		last_sync INTEGER NOT NULL,
		PRIMARY KEY (symbol, interval)
	);

	CREATE INDEX IF NOT EXISTS idx_pivot_cache_symbol ON pivot_cache(symbol);
	CREATE INDEX IF NOT EXISTS idx_update_logs_created ON update_logs(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_update_logs_symbol ON update_logs(symbol, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func dbErr(err error, op string) error {
	return fmt.Errorf("%s: %w: %v", op, errors.ErrDatabaseError, err)
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles upserts candles in a single transaction.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol string, interval models.Interval, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dbErr(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, interval, timestamp, open, high, low, close, volume, turnover)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, interval, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			turnover = excluded.turnover
	`)
	if err != nil {
		return 0, dbErr(err, "prepare candle upsert")
	}
	defer stmt.Close()

	n := 0
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, string(interval), toMillis(c.Timestamp),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover)
		if err != nil {
			return 0, dbErr(err, "insert candle")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, dbErr(err, "commit candles")
	}

	return n, nil
}

// GetCandles retrieves candles from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, turnover
		FROM candles
		WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, string(interval), toMillis(from), toMillis(to))
	if err != nil {
		return nil, dbErr(err, "query candles")
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var (
			c  models.Candle
			ms int64
		)
		if err := rows.Scan(&ms, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover); err != nil {
			return nil, dbErr(err, "scan candle")
		}
		c.Timestamp = fromMillis(ms)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterate candles")
	}

	return candles, nil
}

// LatestTimestamp returns the timestamp of the most recent candle.
func (s *SQLiteStore) LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND interval = ?
	`, symbol, string(interval)).Scan(&ms)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, false, dbErr(err, "latest candle")
	}
	if !ms.Valid {
		return time.Time{}, false, nil
	}
	return fromMillis(ms.Int64), true, nil
}

// CandleCount returns how many candles are stored.
func (s *SQLiteStore) CandleCount(ctx context.Context, symbol string, interval models.Interval) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM candles WHERE symbol = ? AND interval = ?
	`, symbol, string(interval)).Scan(&n)
	if err != nil {
		return 0, dbErr(err, "count candles")
	}
	return n, nil
}

// DataAvailability reports the stored range and count.
func (s *SQLiteStore) DataAvailability(ctx context.Context, symbol string, interval models.Interval) (*models.DataAvailability, error) {
	var (
		n           int
		first, last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM candles WHERE symbol = ? AND interval = ?
	`, symbol, string(interval)).Scan(&n, &first, &last)
	if err != nil {
		return nil, dbErr(err, "data availability")
	}

	avail := &models.DataAvailability{
		Symbol:      symbol,
		Interval:    interval,
		Available:   n > 0,
		CandleCount: n,
	}
	if first.Valid {
		avail.FirstTimestamp = fromMillis(first.Int64)
	}
	if last.Valid {
		avail.LatestTimestamp = fromMillis(last.Int64)
	}
	return avail, nil
}

// DeleteCandles removes candles older than before; a zero before removes all.
func (s *SQLiteStore) DeleteCandles(ctx context.Context, symbol string, interval models.Interval, before time.Time) (int, error) {
	var (
		res sql.Result
		err error
	)
	if before.IsZero() {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM candles WHERE symbol = ? AND interval = ?
		`, symbol, string(interval))
	} else {
		res, err = s.db.ExecContext(ctx, `
			DELETE FROM candles WHERE symbol = ? AND interval = ? AND timestamp < ?
		`, symbol, string(interval), toMillis(before))
	}
	if err != nil {
		return 0, dbErr(err, "delete candles")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ============================================================================
// Pivot Cache Methods
// ============================================================================

// GetPivotCache returns a cached table row, or nil when none exists.
func (s *SQLiteStore) GetPivotCache(ctx context.Context, key PivotCacheKey) (*PivotCacheRow, error) {
	var (
		payload, stats string
		updated        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, stats, updated_at FROM pivot_cache
		WHERE symbol = ? AND timeframe = ? AND days = ? AND weekdays = ?
	`, key.Symbol, key.Timeframe, key.Days, key.Weekdays).Scan(&payload, &stats, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr(err, "get pivot cache")
	}
	return &PivotCacheRow{
		Key:       key,
		Payload:   []byte(payload),
		Stats:     []byte(stats),
		UpdatedAt: fromMillis(updated),
	}, nil
}

// SavePivotCache writes or replaces a cached table.
func (s *SQLiteStore) SavePivotCache(ctx context.Context, row PivotCacheRow) error {
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	stats := string(row.Stats)
	if stats == "" {
		stats = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pivot_cache (symbol, timeframe, days, weekdays, payload, stats, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.Key.Symbol, row.Key.Timeframe, row.Key.Days, row.Key.Weekdays,
		string(row.Payload), stats, toMillis(row.UpdatedAt))
	if err != nil {
		return dbErr(err, "save pivot cache")
	}
	return nil
}

// DeletePivotCache removes one cached table.
func (s *SQLiteStore) DeletePivotCache(ctx context.Context, key PivotCacheKey) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pivot_cache
		WHERE symbol = ? AND timeframe = ? AND days = ? AND weekdays = ?
	`, key.Symbol, key.Timeframe, key.Days, key.Weekdays)
	if err != nil {
		return dbErr(err, "delete pivot cache")
	}
	return nil
}

// PurgePivotCache removes every cached table for symbol, or all of them.
func (s *SQLiteStore) PurgePivotCache(ctx context.Context, symbol string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if symbol == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM pivot_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM pivot_cache WHERE symbol = ?`, symbol)
	}
	if err != nil {
		return 0, dbErr(err, "purge pivot cache")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ============================================================================
// Popular Pairs Methods
// ============================================================================

// ListPopularPairs returns pairs by ascending priority.
func (s *SQLiteStore) ListPopularPairs(ctx context.Context, autoOnly bool) ([]models.PopularPair, error) {
	query := `SELECT symbol, auto_update, priority, last_fetched FROM popular_pairs`
	if autoOnly {
		query += ` WHERE auto_update = 1`
	}
	query += ` ORDER BY priority ASC, symbol ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, dbErr(err, "list popular pairs")
	}
	defer rows.Close()

	var pairs []models.PopularPair
	for rows.Next() {
		var (
			p       models.PopularPair
			fetched sql.NullInt64
		)
		if err := rows.Scan(&p.Symbol, &p.AutoUpdate, &p.Priority, &fetched); err != nil {
			return nil, dbErr(err, "scan popular pair")
		}
		if fetched.Valid {
			t := fromMillis(fetched.Int64)
			p.LastFetched = &t
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterate popular pairs")
	}
	return pairs, nil
}

// UpsertPopularPair adds a pair or updates its flags. last_fetched is kept.
func (s *SQLiteStore) UpsertPopularPair(ctx context.Context, pair models.PopularPair) error {
	symbol := models.NormalizeSymbol(pair.Symbol)
	if symbol == "" {
		return errors.NewValidationError("symbol", pair.Symbol, "must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO popular_pairs (symbol, auto_update, priority)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			auto_update = excluded.auto_update,
			priority = excluded.priority
	`, symbol, pair.AutoUpdate, pair.Priority)
	if err != nil {
		return dbErr(err, "upsert popular pair")
	}
	return nil
}

// RemovePopularPair deletes a pair. Removing an unknown pair is an error.
func (s *SQLiteStore) RemovePopularPair(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM popular_pairs WHERE symbol = ?`, models.NormalizeSymbol(symbol))
	if err != nil {
		return dbErr(err, "remove popular pair")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("popular pair %s: %w", symbol, errors.ErrSymbolNotFound)
	}
	return nil
}

// TouchPopularPair records the last successful fetch for a pair.
func (s *SQLiteStore) TouchPopularPair(ctx context.Context, symbol string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE popular_pairs SET last_fetched = ? WHERE symbol = ?
	`, toMillis(at), models.NormalizeSymbol(symbol))
	if err != nil {
		return dbErr(err, "touch popular pair")
	}
	return nil
}

// ============================================================================
// Update Log Methods
// ============================================================================

// InsertUpdateLog stores one updater run. ID and CreatedAt must be set.
func (s *SQLiteStore) InsertUpdateLog(ctx context.Context, log *models.UpdateLog) error {
	if log.ID == "" {
		return errors.NewValidationError("id", log.ID, "update log id is required")
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_logs (id, symbol, update_type, rows_affected, success, error_message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, log.ID, log.Symbol, string(log.UpdateType), log.RowsAffected, log.Success,
		nullString(log.ErrorMessage), log.DurationMs, toMillis(log.CreatedAt))
	if err != nil {
		return dbErr(err, "insert update log")
	}
	return nil
}

// RecentUpdateLogs returns the newest update logs first.
func (s *SQLiteStore) RecentUpdateLogs(ctx context.Context, symbol string, limit int) ([]models.UpdateLog, error) {
	if limit <= 0 {
		limit = 20
	}

	var conditions []string
	var args []interface{}
	if symbol != "" {
		conditions = append(conditions, "symbol = ?")
		args = append(args, symbol)
	}

	query := `SELECT id, symbol, update_type, rows_affected, success, error_message, duration_ms, created_at FROM update_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(err, "query update logs")
	}
	defer rows.Close()

	var logs []models.UpdateLog
	for rows.Next() {
		var (
			l       models.UpdateLog
			kind    string
			errMsg  sql.NullString
			created int64
		)
		if err := rows.Scan(&l.ID, &l.Symbol, &kind, &l.RowsAffected, &l.Success, &errMsg, &l.DurationMs, &created); err != nil {
			return nil, dbErr(err, "scan update log")
		}
		l.UpdateType = models.UpdateType(kind)
		l.ErrorMessage = errMsg.String
		l.CreatedAt = fromMillis(created)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterate update logs")
	}
	return logs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ============================================================================
// Sync Methods
// ============================================================================

func syncKey(symbol string, interval models.Interval) string {
	return symbol + "/" + string(interval)
}

// GetLastSync returns the last sync time for a symbol and interval.
func (s *SQLiteStore) GetLastSync(symbol string, interval models.Interval) time.Time {
	key := syncKey(symbol, interval)
	s.mu.RLock()
	if t, ok := s.syncTimes[key]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var ms int64
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE symbol = ? AND interval = ?
	`, symbol, string(interval)).Scan(&ms)
	if err != nil {
		return time.Time{}
	}

	lastSync := fromMillis(ms)
	s.mu.Lock()
	s.syncTimes[key] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a symbol and interval.
func (s *SQLiteStore) SetLastSync(symbol string, interval models.Interval, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (symbol, interval, last_sync)
		VALUES (?, ?, ?)
	`, symbol, string(interval), toMillis(t))
	if err != nil {
		return dbErr(err, "set last sync")
	}

	s.mu.Lock()
	s.syncTimes[syncKey(symbol, interval)] = t.UTC()
	s.mu.Unlock()

	return nil
}
