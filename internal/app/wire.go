package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/bookcost/internal/blob/s3"
	"github.com/alanyoungcy/bookcost/internal/cache/redis"
	"github.com/alanyoungcy/bookcost/internal/config"
	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/estimator"
	"github.com/alanyoungcy/bookcost/internal/metrics"
	"github.com/alanyoungcy/bookcost/internal/notify"
	"github.com/alanyoungcy/bookcost/internal/pipeline"
	"github.com/alanyoungcy/bookcost/internal/server/handler"
	"github.com/alanyoungcy/bookcost/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Every field except
// Estimator, Notifier and Registry is nil when its backend is disabled.
type Dependencies struct {
	// Redis
	Cache       domain.SnapshotCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Postgres
	Store     domain.EstimateStore
	estimates *postgres.EstimateStore

	// S3
	Archiver *pipeline.SnapshotArchiver

	Pipeline  *pipeline.Orchestrator
	Estimator estimator.CostEstimator
	Notifier  *notify.Notifier
	Registry  *prometheus.Registry
	// Checks back GET /api/health, keyed by dependency name.
	Checks map[string]handler.Check
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
		Estimator: buildEstimator(cfg, logger),
		Registry:  metrics.Init(logger),
		Checks:    make(map[string]handler.Check),
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.Migrate(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.estimates = postgres.NewEstimateStore(pgClient.Pool())
		deps.Store = deps.estimates
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- S3 snapshot archive ---
	if cfg.Archive.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = pipeline.NewSnapshotArchiver(s3blob.NewWriter(s3Client), pipeline.ArchiverConfig{
			Prefix:        cfg.Archive.Prefix,
			SampleEvery:   cfg.Archive.SampleEvery,
			FlushInterval: cfg.Archive.FlushInterval.Duration,
			MaxBuffered:   cfg.Archive.MaxBuffered,
		}, logger)
		deps.Checks["s3"] = s3Client.Health
	}

	deps.Pipeline = buildPipeline(cfg, deps, logger)
	deps.Notifier = buildNotifier(cfg, logger)

	return deps, cleanup, nil
}

// buildEstimator selects the cost estimation strategy.
func buildEstimator(cfg *config.Config, logger *slog.Logger) estimator.CostEstimator {
	if cfg.Estimator.Strategy != domain.SourceExternal {
		return estimator.NewWalkEstimator()
	}
	return estimator.NewExternalEstimator(estimator.ExternalConfig{
		URL:             cfg.Estimator.URL,
		APIKey:          cfg.Estimator.APIKey,
		Timeout:         cfg.Estimator.Timeout.Duration,
		MaxLevels:       cfg.Estimator.MaxLevels,
		RatePerSecond:   cfg.Estimator.RatePerSecond,
		Burst:           cfg.Estimator.Burst,
		BreakerFailures: uint32(cfg.Estimator.BreakerFailures),
		BreakerCooldown: cfg.Estimator.BreakerCooldown.Duration,
	}, logger)
}

// buildPipeline returns nil when neither archiving nor pruning can run.
func buildPipeline(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *pipeline.Orchestrator {
	var pruner *pipeline.Pruner
	if deps.estimates != nil && cfg.Archive.RetentionDays > 0 {
		pruner = pipeline.NewPruner(deps.estimates, retention(cfg.Archive.RetentionDays), logger)
	}
	orch := pipeline.NewOrchestrator(deps.Archiver, pruner, cfg.Archive.PruneCron, logger)
	if !orch.Enabled() {
		return nil
	}
	return orch
}

func retention(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
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
	return notify.NewNotifier(senders, cfg.Notify.Events, cfg.Feed.Symbol, logger)
}
