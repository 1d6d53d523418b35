package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/troveview/internal/batch"
	s3blob "github.com/alanyoungcy/troveview/internal/blob/s3"
	"github.com/alanyoungcy/troveview/internal/cache/redis"
	"github.com/alanyoungcy/troveview/internal/config"
	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/notify"
	"github.com/alanyoungcy/troveview/internal/platform/troveapi"
	"github.com/alanyoungcy/troveview/internal/redemption"
	"github.com/alanyoungcy/troveview/internal/server/handler"
	"github.com/alanyoungcy/troveview/internal/service"
	"github.com/alanyoungcy/troveview/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional backends that are disabled stay nil.
type Dependencies struct {
	// Upstream
	API       *troveapi.Client
	Estimator *redemption.Estimator
	Registry  *batch.Registry

	// Stores
	SnapshotStore  domain.SnapshotStore
	WatchlistStore domain.WatchlistStore
	AuditStore     domain.AuditStore

	// Caches
	DebtCache   domain.DebtCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Services
	Troves   *service.TroveService
	Monitor  *service.Monitor
	Archival *service.SnapshotArchiver

	// HealthChecks pings every connected backend for /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// needsS3 returns true for modes that move snapshots to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Batch manager registry ---
	var managers []domain.BatchManager
	if cfg.Batch.ManagersFile != "" {
		var err error
		managers, err = batch.LoadFile(cfg.Batch.ManagersFile)
		if err != nil {
			return fail(fmt.Errorf("wire: batch managers: %w", err))
		}
	}
	registry, err := batch.NewRegistry(managers)
	if err != nil {
		return fail(fmt.Errorf("wire: batch registry: %w", err))
	}
	deps.Registry = registry

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		deps.WatchlistStore = postgres.NewWatchlistStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.DebtCache = redis.NewDebtCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.API.RequestsPerMinute, time.Minute)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.HealthChecks["s3"] = s3Client.Health

		// Archiving needs the snapshot table as its source.
		if deps.SnapshotStore != nil {
			deps.Archiver = s3blob.NewArchiver(writer, reader, deps.SnapshotStore, deps.AuditStore, cfg.Archive.BatchSize, logger)
		}
	}

	// --- Trove API ---
	deps.API = troveapi.NewClient(cfg.API.BaseURL, troveapi.Options{
		APIKey:            cfg.API.APIKey,
		Timeout:           cfg.API.Timeout.Duration,
		Limiter:           deps.RateLimiter,
		RequestsPerMinute: cfg.API.RequestsPerMinute,
	})
	deps.Estimator = redemption.NewEstimator(deps.API, redemption.Config{
		PageSize: cfg.Estimator.PageSize,
		MaxPages: cfg.Estimator.MaxPages,
	}, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	static, err := cfg.WatchedTroves()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Troves = service.NewTroveService(
		deps.API, deps.Estimator, deps.DebtCache, deps.SnapshotStore,
		deps.SignalBus, deps.Registry, cfg.Estimator.StaleAfter.Duration, logger,
	)
	deps.Monitor = service.NewMonitor(
		deps.Troves, deps.WatchlistStore, deps.SnapshotStore, deps.LockManager,
		deps.AuditStore, deps.Notifier, deps.SignalBus,
		service.MonitorConfig{
			Interval:        cfg.Monitor.Interval.Duration,
			Workers:         cfg.Monitor.Workers,
			DropAlertPct:    cfg.Monitor.DropAlertPct,
			LockTTL:         cfg.Monitor.LockTTL.Duration,
			RetryMaxElapsed: cfg.Monitor.RetryMax.Duration,
			Static:          static,
		},
		logger,
	)
	if deps.Archiver != nil {
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archival = service.NewSnapshotArchiver(deps.Archiver, retention, deps.Notifier, logger)
	}

	return deps, cleanup, nil
}
