// Package config defines the top-level configuration for troveview and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TROVEVIEW_* environment variables.
type Config struct {
	API       APIConfig       `toml:"api"`
	Estimator EstimatorConfig `toml:"estimator"`
	Batch     BatchConfig     `toml:"batch"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// APIConfig points at the trove indexer API.
type APIConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`

	// RequestsPerMinute throttles outbound calls when Redis is enabled.
	// Zero disables throttling.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// EstimatorConfig tunes the redemption queue scan.
type EstimatorConfig struct {
	PageSize   int      `toml:"page_size"`
	MaxPages   int      `toml:"max_pages"`
	StaleAfter duration `toml:"stale_after"`
}

// BatchConfig locates the batch manager registry.
type BatchConfig struct {
	ManagersFile string `toml:"managers_file"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MonitorConfig holds watchlist polling parameters.
type MonitorConfig struct {
	Interval     duration `toml:"interval"`
	Workers      int      `toml:"workers"`
	DropAlertPct float64  `toml:"drop_alert_pct"`
	LockTTL      duration `toml:"lock_ttl"`
	RetryMax     duration `toml:"retry_max"`
	Troves       []Watch  `toml:"troves"`
}

// Watch is a statically configured watched trove.
type Watch struct {
	Collateral     string `toml:"collateral"`
	ID             string `toml:"id"`
	Label          string `toml:"label"`
	AlertThreshold string `toml:"alert_threshold"`
}

// ArchiveConfig holds snapshot archival parameters.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
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
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKeys, when non-empty, are required on every /api request except
	// /api/health.
	APIKeys []string `toml:"api_keys"`

	// RateLimitPerMinute is the per-client budget. Zero disables limiting.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// config.example.toml at the repository root spells out the same values.
func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/v1",
			Timeout: duration{30 * time.Second},
		},
		Estimator: EstimatorConfig{
			PageSize:   100,
			MaxPages:   50,
			StaleAfter: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "troveview",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   1,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "troveview",
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "troveview-archive",
			ForcePathStyle: true,
		},
		Monitor: MonitorConfig{
			Interval:     duration{5 * time.Minute},
			Workers:      4,
			DropAlertPct: 25,
			RetryMax:     duration{time.Minute},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     5000,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"redemption_risk", "monitor_error"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
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

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// API
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, "api: base_url must not be empty")
	}
	if c.API.RequestsPerMinute < 0 {
		errs = append(errs, "api: requests_per_minute must be >= 0")
	}

	// Estimator
	if c.Estimator.PageSize < 1 {
		errs = append(errs, "estimator: page_size must be >= 1")
	}
	if c.Estimator.MaxPages < 1 {
		errs = append(errs, "estimator: max_pages must be >= 1")
	}

	// Postgres
	needsPostgres := mode == "archive" || mode == "full"
	if needsPostgres && !c.Postgres.Enabled {
		errs = append(errs, "postgres: must be enabled for mode "+c.Mode)
	}
	if c.Postgres.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if mode == "archive" || mode == "full" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Monitor
	if c.Monitor.Workers < 1 {
		errs = append(errs, "monitor: workers must be >= 1")
	}
	if c.Monitor.DropAlertPct < 0 || c.Monitor.DropAlertPct > 100 {
		errs = append(errs, fmt.Sprintf("monitor: drop_alert_pct must be 0-100, got %v", c.Monitor.DropAlertPct))
	}
	for i, w := range c.Monitor.Troves {
		if _, err := w.toDomain(); err != nil {
			errs = append(errs, fmt.Sprintf("monitor: troves[%d]: %v", i, err))
		}
	}

	// Archive
	if c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}
	if (mode == "archive" || mode == "full") && strings.TrimSpace(c.Archive.Cron) == "" {
		errs = append(errs, "archive: cron must not be empty")
	}

	// Server
	if mode == "server" || mode == "full" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WatchedTroves converts the static monitor entries to domain values.
func (c *Config) WatchedTroves() ([]domain.WatchedTrove, error) {
	out := make([]domain.WatchedTrove, 0, len(c.Monitor.Troves))
	for i, w := range c.Monitor.Troves {
		wt, err := w.toDomain()
		if err != nil {
			return nil, fmt.Errorf("config: monitor.troves[%d]: %w", i, err)
		}
		out = append(out, wt)
	}
	return out, nil
}

func (w Watch) toDomain() (domain.WatchedTrove, error) {
	collateral := domain.CollateralType(w.Collateral)
	if !collateral.Valid() {
		return domain.WatchedTrove{}, fmt.Errorf("unknown collateral %q", w.Collateral)
	}
	if strings.TrimSpace(w.ID) == "" {
		return domain.WatchedTrove{}, fmt.Errorf("id must not be empty")
	}
	threshold := decimal.Zero
	if w.AlertThreshold != "" {
		var err error
		threshold, err = decimal.NewFromString(w.AlertThreshold)
		if err != nil {
			return domain.WatchedTrove{}, fmt.Errorf("alert_threshold %q: %w", w.AlertThreshold, err)
		}
		if threshold.IsNegative() {
			return domain.WatchedTrove{}, fmt.Errorf("alert_threshold must be >= 0")
		}
	}
	return domain.WatchedTrove{
		CollateralType: collateral,
		TroveID:        w.ID,
		Label:          w.Label,
		AlertThreshold: threshold,
	}, nil
}
