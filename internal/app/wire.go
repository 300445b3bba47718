package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/predator/internal/blob/s3"
	"github.com/alanyoungcy/predator/internal/bus"
	"github.com/alanyoungcy/predator/internal/cache/redis"
	"github.com/alanyoungcy/predator/internal/config"
	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/metrics"
	"github.com/alanyoungcy/predator/internal/notify"
	"github.com/alanyoungcy/predator/internal/server/handler"
	"github.com/alanyoungcy/predator/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Optional sinks
// are nil when disabled. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Bus       domain.SignalBus
	Snapshots domain.SnapshotCache
	Leases    domain.LeaseManager
	Journal   domain.JournalStore
	Exporter  *s3blob.Exporter
	Notifier  *notify.Notifier
	Metrics   *metrics.Recorder

	// Checks probe external dependencies for the health endpoint.
	Checks map[string]handler.CheckFunc
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

	deps := &Dependencies{
		Metrics: metrics.NewRecorder(),
		Checks:  map[string]handler.CheckFunc{},
	}

	// --- Bus: Redis when enabled, otherwise in-process ---
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.Snapshots = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.Leases = redis.NewLeaseManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Bus = bus.NewMemory(bus.WithStreamMaxLen(cfg.Redis.StreamMaxLen))
	}

	// --- PostgreSQL journal ---
	if cfg.Supabase.Enabled && cfg.RunsSinks() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Supabase.DSN,
			Host:           cfg.Supabase.Host,
			Port:           cfg.Supabase.Port,
			Database:       cfg.Supabase.Database,
			User:           cfg.Supabase.User,
			Password:       cfg.Supabase.Password,
			SSLMode:        cfg.Supabase.SSLMode,
			MaxConns:       cfg.Supabase.PoolMaxConns,
			MinConns:       cfg.Supabase.PoolMinConns,
			ConnectTimeout: cfg.Supabase.ConnectTimeout.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewJournalStore(pgClient.Pool())
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 export ---
	if cfg.S3.Enabled && cfg.RunsSinks() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Ping
		deps.Exporter = s3blob.NewExporter(s3blob.NewWriter(s3Client), logger,
			s3blob.WithMaxBuffered(cfg.S3.MaxBuffered))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			cfg.Notify.TelegramBaseURL,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithRateLimit(float64(cfg.Notify.PerMinute), cfg.Notify.Burst))

	return deps, cleanup, nil
}
