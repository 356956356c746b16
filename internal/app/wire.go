package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/edgeprofiler/internal/blob/s3"
	"github.com/alanyoungcy/edgeprofiler/internal/cache/redis"
	"github.com/alanyoungcy/edgeprofiler/internal/config"
	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/notify"
	"github.com/alanyoungcy/edgeprofiler/internal/server/handler"
	"github.com/alanyoungcy/edgeprofiler/internal/store/postgres"
)

// Dependencies bundles the concrete infrastructure every mode draws from.
type Dependencies struct {
	SnapshotStore domain.SnapshotStore
	AuditStore    domain.AuditStore

	SnapshotCache domain.SnapshotCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	SignalBus     domain.SignalBus
	Subscriber    domain.PatternSubscriber

	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	// HealthChecks probe each connected backend for /api/health.
	HealthChecks []handler.Check
}

// Wire connects to Postgres and Redis, and to S3 when the mode archives. The
// returned cleanup closes them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}
	snapshots := postgres.NewSnapshotStore(pgClient.Pool())
	deps.SnapshotStore = snapshots
	deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "postgres", Probe: pgClient.Ping})

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	bus := redis.NewSignalBus(redisClient)
	deps.SignalBus = bus
	deps.Subscriber = bus
	deps.SnapshotCache = redis.NewSnapshotCache(redisClient, 0)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient, logger)
	deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "redis", Probe: redisClient.Ping})

	// --- S3 ---
	if cfg.RunsArchiver() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, snapshots, deps.AuditStore,
			s3blob.WithLocks(deps.LockManager),
			s3blob.WithReader(deps.BlobReader),
			s3blob.WithDeleteAfterUpload(cfg.Archive.DeleteAfterUpload),
			s3blob.WithLogger(logger),
		)
		deps.HealthChecks = append(deps.HealthChecks, handler.Check{Name: "s3", Probe: s3Client.Health})
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(
		notify.FromConfig(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, cfg.Notify.DiscordWebhookURL),
		cfg.Notify.Events,
		logger,
	)

	return deps, cleanup, nil
}
