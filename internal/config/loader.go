package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies EDGEPROF_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known EDGEPROF_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.Source, "EDGEPROF_FEED_SOURCE")
	setStr(&cfg.Feed.URL, "EDGEPROF_FEED_URL")
	setStr(&cfg.Feed.Symbol, "EDGEPROF_FEED_SYMBOL")
	setStr(&cfg.Feed.BusChannel, "EDGEPROF_FEED_BUS_CHANNEL")
	setInt(&cfg.Feed.MaxCandles, "EDGEPROF_FEED_MAX_CANDLES")

	// ── Analysis ──
	setFloat64(&cfg.Analysis.ValueAreaFraction, "EDGEPROF_ANALYSIS_VALUE_AREA_FRACTION")
	setFloat64(&cfg.Analysis.NarrowHalfWidth, "EDGEPROF_ANALYSIS_NARROW_HALF_WIDTH")
	setFloat64(&cfg.Analysis.WideHalfWidth, "EDGEPROF_ANALYSIS_WIDE_HALF_WIDTH")
	setFloat64(&cfg.Analysis.ProximityWindow, "EDGEPROF_ANALYSIS_PROXIMITY_WINDOW")
	setFloat64(&cfg.Analysis.ImbalanceRatio, "EDGEPROF_ANALYSIS_IMBALANCE_RATIO")
	setFloat64(&cfg.Analysis.ImbalanceMinVolume, "EDGEPROF_ANALYSIS_IMBALANCE_MIN_VOLUME")
	setInt(&cfg.Analysis.StackedLevels, "EDGEPROF_ANALYSIS_STACKED_LEVELS")
	setFloat64(&cfg.Analysis.HighActivityVolume, "EDGEPROF_ANALYSIS_HIGH_ACTIVITY_VOLUME")
	setDuration(&cfg.Analysis.PersistInterval, "EDGEPROF_ANALYSIS_PERSIST_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "EDGEPROF_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "EDGEPROF_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "EDGEPROF_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "EDGEPROF_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "EDGEPROF_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "EDGEPROF_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "EDGEPROF_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "EDGEPROF_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "EDGEPROF_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "EDGEPROF_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "EDGEPROF_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "EDGEPROF_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "EDGEPROF_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "EDGEPROF_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "EDGEPROF_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "EDGEPROF_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "EDGEPROF_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "EDGEPROF_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "EDGEPROF_S3_REGION")
	setStr(&cfg.S3.Bucket, "EDGEPROF_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "EDGEPROF_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "EDGEPROF_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "EDGEPROF_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "EDGEPROF_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "EDGEPROF_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "EDGEPROF_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "EDGEPROF_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.DeleteAfterUpload, "EDGEPROF_ARCHIVE_DELETE_AFTER_UPLOAD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "EDGEPROF_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "EDGEPROF_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "EDGEPROF_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "EDGEPROF_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "EDGEPROF_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "EDGEPROF_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "EDGEPROF_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "EDGEPROF_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "EDGEPROF_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "EDGEPROF_NOTIFY_EVENTS")

	// ── Tracing ──
	setBool(&cfg.Tracing.Enabled, "EDGEPROF_TRACING_ENABLED")
	setStr(&cfg.Tracing.ServiceName, "EDGEPROF_TRACING_SERVICE_NAME")
	setBool(&cfg.Tracing.Pretty, "EDGEPROF_TRACING_PRETTY")

	// ── Top-level ──
	setStr(&cfg.Mode, "EDGEPROF_MODE")
	setStr(&cfg.LogLevel, "EDGEPROF_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
