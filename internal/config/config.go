// Package config defines the top-level configuration for the edge profiler
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by EDGEPROF_* environment variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Analysis AnalysisConfig `toml:"analysis"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Tracing  TracingConfig  `toml:"tracing"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig selects where candle windows come from.
type FeedConfig struct {
	// Source is "ws" to dial the order-flow server or "bus" to read updates
	// published on the Redis channel.
	Source     string `toml:"source"`
	URL        string `toml:"url"`
	Symbol     string `toml:"symbol"`
	BusChannel string `toml:"bus_channel"`
	// MaxCandles trims each window to its most recent candles. 0 keeps all.
	MaxCandles int `toml:"max_candles"`
}

// AnalysisConfig tunes the profile analyzer and the signal detector.
type AnalysisConfig struct {
	ValueAreaFraction  float64  `toml:"value_area_fraction"`
	NarrowHalfWidth    float64  `toml:"narrow_half_width"`
	WideHalfWidth      float64  `toml:"wide_half_width"`
	ProximityWindow    float64  `toml:"proximity_window"`
	ImbalanceRatio     float64  `toml:"imbalance_ratio"`
	ImbalanceMinVolume float64  `toml:"imbalance_min_volume"`
	StackedLevels      int      `toml:"stacked_levels"`
	HighActivityVolume float64  `toml:"high_activity_volume"`
	PersistInterval    duration `toml:"persist_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// Namespace prefixes every key this service writes.
	Namespace string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old snapshots to S3.
type ArchiveConfig struct {
	Enabled           bool     `toml:"enabled"`
	Interval          duration `toml:"interval"`
	RetentionDays     int      `toml:"retention_days"`
	DeleteAfterUpload bool     `toml:"delete_after_upload"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
	// Pretty indents exported spans; useful when reading them on a terminal.
	Pretty bool `toml:"pretty"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Source:     "ws",
			URL:        "ws://localhost:8000/ws/orderflow",
			Symbol:     "DEFAULT",
			BusChannel: "ch:orderflow",
		},
		Analysis: AnalysisConfig{
			ValueAreaFraction:  0.70,
			NarrowHalfWidth:    0.05,
			WideHalfWidth:      0.10,
			ProximityWindow:    2,
			ImbalanceRatio:     3,
			ImbalanceMinVolume: 5,
			StackedLevels:      3,
			HighActivityVolume: 500,
			PersistInterval:    duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "edgeprofiler",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			Namespace:  "edgeprof",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "edgeprofiler-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:           true,
			Interval:          duration{24 * time.Hour},
			RetentionDays:     30,
			DeleteAfterUpload: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"bias_change", "edge_zone", "archive", "error"},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "edgeprofiler",
		},
		Mode:     "live",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	"ws":  true,
	"bus": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed, only needed when the engine runs.
	if c.RunsEngine() {
		if !validSources[c.Feed.Source] {
			errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: ws, bus)", c.Feed.Source))
		}
		if c.Feed.Source == "ws" && c.Feed.URL == "" {
			errs = append(errs, "feed: url must not be empty for source ws")
		}
		if c.Feed.Symbol == "" {
			errs = append(errs, "feed: symbol must not be empty")
		}
	}
	if c.Feed.MaxCandles < 0 {
		errs = append(errs, "feed: max_candles must be >= 0")
	}

	// Analysis
	if c.Analysis.ValueAreaFraction <= 0 || c.Analysis.ValueAreaFraction > 1 {
		errs = append(errs, fmt.Sprintf("analysis: value_area_fraction must be in (0, 1], got %v", c.Analysis.ValueAreaFraction))
	}
	if c.Analysis.NarrowHalfWidth <= 0 || c.Analysis.WideHalfWidth <= 0 {
		errs = append(errs, "analysis: zone half widths must be > 0")
	}
	if c.Analysis.ProximityWindow <= 0 {
		errs = append(errs, "analysis: proximity_window must be > 0")
	}
	if c.Analysis.StackedLevels < 1 {
		errs = append(errs, "analysis: stacked_levels must be >= 1")
	}
	if c.Analysis.PersistInterval.Duration < 0 {
		errs = append(errs, "analysis: persist_interval must not be negative")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 and archive
	if c.RunsArchiver() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Mode == "full" && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0 in full mode")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		errs = append(errs, "tracing: service_name must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RunsEngine reports whether the mode consumes the feed.
func (c *Config) RunsEngine() bool {
	return c.Mode == "live" || c.Mode == "full"
}

// RunsArchiver reports whether the mode moves snapshots to S3.
func (c *Config) RunsArchiver() bool {
	return c.Mode == "archive" || (c.Mode == "full" && c.Archive.Enabled)
}

// PersistInterval returns the minimum gap between stored snapshots.
func (c *Config) PersistInterval() time.Duration { return c.Analysis.PersistInterval.Duration }

// ArchiveInterval returns the gap between archive passes in full mode.
func (c *Config) ArchiveInterval() time.Duration { return c.Archive.Interval.Duration }

// RateWindow returns the API rate-limit window.
func (c *Config) RateWindow() time.Duration { return c.Server.RateWindow.Duration }
