package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# pivotscope configuration
# Every key can be overridden with PIVOTSCOPE_<SECTION>_<KEY>, e.g.
# PIVOTSCOPE_CACHE_BACKEND=redis. A .env file next to this one is loaded first.

[provider]
# Market data source: bybit, binance or store (offline, stored candles only)
name = "bybit"
# Bybit category: linear, inverse or spot
category = "linear"
# Override the REST endpoint (also BYBIT_BASE_URL)
base_url = ""
timeout = "30s"
# Days per kline request chunk
chunk_days = 30
# Concurrent chunk fetches
workers = 10
max_retries = 3
# Requests per second sent to the exchange (0 = unlimited)
rate_limit = 20

[store]
# SQLite candle database; defaults to pivotscope.db in this directory
# path = "/var/lib/pivotscope/pivotscope.db"

[cache]
# Result cache for computed tables: memory, sqlite, redis or none
backend = "sqlite"
ttl = "1h"
# Used by the redis backend (also REDIS_URL)
redis_addr = "localhost:6379"
redis_db = 0
redis_password = ""

[analysis]
# hourly, 4h, daily, weekly or monthly
default_timeframe = "daily"
# 0 uses the timeframe's default lookback
default_days = 0
# all, weekdays, weekend or a list such as "mon,tue,fri"
weekdays = "all"

[updater]
enabled = true
# Six-field cron specs (seconds first), evaluated in UTC
update_cron = "0 */15 * * * *"
refresh_cron = "0 5 * * * *"
backfill_days = 730
# Minutes re-fetched behind the latest stored candle
overlap_minutes = 30
# Pause between pairs
pair_delay = "200ms"

[api]
listen = "127.0.0.1:8080"
cors_origins = ["*"]
# How often live pivots are re-evaluated for WebSocket subscribers
live_interval = "30s"

[nats]
# Publish refreshed tables and live pivot moves (also NATS_URL)
enabled = false
url = "nats://127.0.0.1:4222"
subject_prefix = "pivotscope"

[logging]
# trace, debug, info, warn or error
level = "info"
console = true
file = true
# Defaults to logs/pivotscope.log in this directory
# file_path = "/var/log/pivotscope/pivotscope.log"
max_size = 50
max_backups = 5
max_age = 14
`

// createTemplateConfig writes config.toml unless it already exists.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
