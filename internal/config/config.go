// Package config loads pivotscope settings from config.toml, .env files and
// the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"pivotscope/internal/analysis/pivots"
	"pivotscope/internal/api"
	"pivotscope/internal/errors"
	"pivotscope/internal/logging"
	"pivotscope/internal/notify"
	"pivotscope/internal/provider"
	"pivotscope/internal/stream"
	"pivotscope/internal/updater"
)

// EnvPrefix prefixes every environment override, e.g. PIVOTSCOPE_CACHE_BACKEND.
const EnvPrefix = "PIVOTSCOPE"

// Config holds all application configuration.
type Config struct {
	Provider ProviderConfig    `mapstructure:"provider"`
	Store    StoreConfig       `mapstructure:"store"`
	Cache    CacheConfig       `mapstructure:"cache"`
	Analysis AnalysisConfig    `mapstructure:"analysis"`
	Updater  UpdaterConfig     `mapstructure:"updater"`
	API      APIConfig         `mapstructure:"api"`
	NATS     NATSConfig        `mapstructure:"nats"`
	Logging  logging.LogConfig `mapstructure:"logging"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`

	settings map[string]interface{}
}

// ProviderConfig selects and tunes the market data source.
type ProviderConfig struct {
	Name       string        `mapstructure:"name" validate:"oneof=bybit binance store"`
	Category   string        `mapstructure:"category" validate:"oneof=linear inverse spot"`
	BaseURL    string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ChunkDays  int           `mapstructure:"chunk_days" validate:"min=1,max=365"`
	Workers    int           `mapstructure:"workers" validate:"min=1,max=64"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RateLimit  float64       `mapstructure:"rate_limit" validate:"min=0"`
}

// StoreConfig locates the candle database.
type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory sqlite redis none"`
	TTL           time.Duration `mapstructure:"ttl" validate:"gt=0"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisDB       int           `mapstructure:"redis_db" validate:"min=0,max=15"`
	RedisPassword string        `mapstructure:"redis_password"`
}

// AnalysisConfig holds the defaults for analyze and live.
type AnalysisConfig struct {
	DefaultTimeframe string `mapstructure:"default_timeframe" validate:"required"`
	DefaultDays      int    `mapstructure:"default_days" validate:"min=0,max=3650"`
	Weekdays         string `mapstructure:"weekdays"`
}

// UpdaterConfig drives the scheduled candle updates and table refreshes.
type UpdaterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	UpdateCron     string        `mapstructure:"update_cron"`
	RefreshCron    string        `mapstructure:"refresh_cron"`
	BackfillDays   int           `mapstructure:"backfill_days" validate:"min=1,max=3650"`
	OverlapMinutes int           `mapstructure:"overlap_minutes" validate:"min=0,max=1440"`
	PairDelay      time.Duration `mapstructure:"pair_delay" validate:"gte=0"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	Listen       string        `mapstructure:"listen" validate:"required,hostname_port"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	LiveInterval time.Duration `mapstructure:"live_interval" validate:"gt=0"`
}

// NATSConfig enables publishing tables and live pivots to NATS.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "pivotscope")
	}
	return filepath.Join(home, ".config", "pivotscope")
}

// Path returns the config file inside configDir.
func Path(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func setDefaults(v *viper.Viper, configDir string) {
	p := provider.DefaultOptions()
	v.SetDefault("provider.name", "bybit")
	v.SetDefault("provider.category", p.Category)
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.timeout", p.Timeout)
	v.SetDefault("provider.chunk_days", p.ChunkDays)
	v.SetDefault("provider.workers", p.Workers)
	v.SetDefault("provider.max_retries", p.MaxRetries)
	v.SetDefault("provider.rate_limit", p.RateLimit)

	v.SetDefault("store.path", filepath.Join(configDir, "pivotscope.db"))

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_password", "")

	v.SetDefault("analysis.default_timeframe", pivots.Daily.Name)
	v.SetDefault("analysis.default_days", 0)
	v.SetDefault("analysis.weekdays", "all")

	u := updater.DefaultConfig()
	v.SetDefault("updater.enabled", true)
	v.SetDefault("updater.update_cron", updater.DefaultUpdateCron)
	v.SetDefault("updater.refresh_cron", updater.DefaultRefreshCron)
	v.SetDefault("updater.backfill_days", u.BackfillDays)
	v.SetDefault("updater.overlap_minutes", int(u.Overlap/time.Minute))
	v.SetDefault("updater.pair_delay", u.PairDelay)

	v.SetDefault("api.listen", "127.0.0.1:8080")
	v.SetDefault("api.cors_origins", []string{"*"})
	v.SetDefault("api.live_interval", stream.DefaultHubConfig().Interval)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject_prefix", "pivotscope")

	l := logging.DefaultLogConfig()
	l.FilePath = filepath.Join(configDir, "logs", "pivotscope.log")
	v.SetDefault("logging.level", l.Level)
	v.SetDefault("logging.console", l.Console)
	v.SetDefault("logging.file", l.File)
	v.SetDefault("logging.file_path", l.FilePath)
	v.SetDefault("logging.max_size", l.MaxSize)
	v.SetDefault("logging.max_backups", l.MaxBackups)
	v.SetDefault("logging.max_age", l.MaxAge)
}

// Load loads configuration from configDir, writing a commented template on
// first run. A .env file in configDir or the working directory is loaded
// into the environment first; variables already set win.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	loadDotEnv(configDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{Dir: configDir}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyEnvOverrides(cfg)
	cfg.settings = v.AllSettings()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(configDir string) {
	for _, path := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// applyEnvOverrides maps the conventional unprefixed variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BYBIT_BASE_URL"); v != "" && cfg.Provider.Name == "bybit" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisAddr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
}

var validate = validator.New()

// Validate checks field ranges and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrConfigInvalid, err.Error())
	}
	if _, err := pivots.ParseTimeframe(c.Analysis.DefaultTimeframe); err != nil {
		return errors.Wrapf(errors.ErrConfigInvalid, "analysis.default_timeframe: %v", err)
	}
	if _, err := pivots.ParseWeekdays(c.Analysis.Weekdays); err != nil {
		return errors.Wrapf(errors.ErrConfigInvalid, "analysis.weekdays: %v", err)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "cache.redis_addr is required for the redis backend")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.Wrap(errors.ErrConfigInvalid, "nats.url is required when nats is enabled")
	}
	if c.Updater.Enabled {
		for name, spec := range map[string]string{"update_cron": c.Updater.UpdateCron, "refresh_cron": c.Updater.RefreshCron} {
			if spec == "" {
				continue
			}
			if err := updater.ValidateSpec(spec); err != nil {
				return errors.Wrapf(errors.ErrConfigInvalid, "updater.%s: %v", name, err)
			}
		}
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrapf(errors.ErrConfigInvalid, "logging.level: %v", err)
	}
	return nil
}

// Settings returns the effective key/value settings.
func (c *Config) Settings() map[string]interface{} {
	return c.settings
}

// Weekdays returns the parsed default weekday filter.
func (c *Config) Weekdays() pivots.WeekdaySet {
	set, err := pivots.ParseWeekdays(c.Analysis.Weekdays)
	if err != nil {
		return pivots.AllWeekdays
	}
	return set
}

// ProviderOptions converts the provider section.
func (c *Config) ProviderOptions() provider.Options {
	return provider.Options{
		Category:   c.Provider.Category,
		BaseURL:    c.Provider.BaseURL,
		Timeout:    c.Provider.Timeout,
		ChunkDays:  c.Provider.ChunkDays,
		Workers:    c.Provider.Workers,
		MaxRetries: c.Provider.MaxRetries,
		RateLimit:  c.Provider.RateLimit,
	}
}

// UpdaterConfig converts the updater section onto the updater defaults.
func (c *Config) UpdaterConfig() updater.Config {
	u := updater.DefaultConfig()
	u.BackfillDays = c.Updater.BackfillDays
	u.Overlap = time.Duration(c.Updater.OverlapMinutes) * time.Minute
	u.PairDelay = c.Updater.PairDelay
	return u
}

// APIConfig converts the api section.
func (c *Config) APIConfig() api.Config {
	return api.Config{Listen: c.API.Listen, CORSOrigins: c.API.CORSOrigins}
}

// HubConfig converts the live stream settings.
func (c *Config) HubConfig() stream.HubConfig {
	return stream.HubConfig{Interval: c.API.LiveInterval}
}

// NATSNotifierConfig converts the nats section.
func (c *Config) NATSNotifierConfig() notify.NATSConfig {
	return notify.NATSConfig{URL: c.NATS.URL, SubjectPrefix: c.NATS.SubjectPrefix}
}
