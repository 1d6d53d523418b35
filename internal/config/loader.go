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
// built-in defaults, applies TROVEVIEW_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TROVEVIEW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── API ──
	setStr(&cfg.API.BaseURL, "TROVEVIEW_API_BASE_URL")
	setStr(&cfg.API.APIKey, "TROVEVIEW_API_KEY")
	setDuration(&cfg.API.Timeout, "TROVEVIEW_API_TIMEOUT")
	setInt(&cfg.API.RequestsPerMinute, "TROVEVIEW_API_REQUESTS_PER_MINUTE")

	// ── Estimator ──
	setInt(&cfg.Estimator.PageSize, "TROVEVIEW_ESTIMATOR_PAGE_SIZE")
	setInt(&cfg.Estimator.MaxPages, "TROVEVIEW_ESTIMATOR_MAX_PAGES")
	setDuration(&cfg.Estimator.StaleAfter, "TROVEVIEW_ESTIMATOR_STALE_AFTER")

	// ── Batch ──
	setStr(&cfg.Batch.ManagersFile, "TROVEVIEW_BATCH_MANAGERS_FILE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TROVEVIEW_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "TROVEVIEW_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TROVEVIEW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TROVEVIEW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TROVEVIEW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TROVEVIEW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TROVEVIEW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TROVEVIEW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TROVEVIEW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TROVEVIEW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TROVEVIEW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TROVEVIEW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TROVEVIEW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TROVEVIEW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TROVEVIEW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TROVEVIEW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TROVEVIEW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TROVEVIEW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TROVEVIEW_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.CacheTTL, "TROVEVIEW_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "TROVEVIEW_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TROVEVIEW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TROVEVIEW_S3_REGION")
	setStr(&cfg.S3.Bucket, "TROVEVIEW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "TROVEVIEW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "TROVEVIEW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TROVEVIEW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TROVEVIEW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TROVEVIEW_S3_FORCE_PATH_STYLE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "TROVEVIEW_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.Workers, "TROVEVIEW_MONITOR_WORKERS")
	setFloat64(&cfg.Monitor.DropAlertPct, "TROVEVIEW_MONITOR_DROP_ALERT_PCT")
	setDuration(&cfg.Monitor.LockTTL, "TROVEVIEW_MONITOR_LOCK_TTL")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "TROVEVIEW_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "TROVEVIEW_ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchSize, "TROVEVIEW_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "TROVEVIEW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TROVEVIEW_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "TROVEVIEW_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimitPerMinute, "TROVEVIEW_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TROVEVIEW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TROVEVIEW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TROVEVIEW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TROVEVIEW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TROVEVIEW_MODE")
	setStr(&cfg.LogLevel, "TROVEVIEW_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
