package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/poolwatch/internal/blob/s3"
	"github.com/alanyoungcy/poolwatch/internal/cache/memory"
	"github.com/alanyoungcy/poolwatch/internal/cache/redis"
	"github.com/alanyoungcy/poolwatch/internal/config"
	"github.com/alanyoungcy/poolwatch/internal/discovery"
	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/marketdata"
	"github.com/alanyoungcy/poolwatch/internal/metrics"
	"github.com/alanyoungcy/poolwatch/internal/notify"
	"github.com/alanyoungcy/poolwatch/internal/platform/geckoterminal"
	"github.com/alanyoungcy/poolwatch/internal/server/handler"
	"github.com/alanyoungcy/poolwatch/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional backends are nil
// when disabled in configuration.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Redis-backed; nil without Redis.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	// Leases elects the single discovery and broadcast producer across
	// instances sharing the signal bus.
	Leases domain.LeaseManager

	// Postgres-backed; nil without Postgres.
	Discoveries *postgres.DiscoveryStore
	Watchlist   *postgres.WatchlistStore

	// Nil unless archive.enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	// Alerter queues discovery alerts; nil when no sender is configured.
	Alerter *notify.Alerter

	Market  *marketdata.Client
	Tracker *discovery.Tracker

	// HealthChecks probes each enabled backend.
	HealthChecks map[string]handler.Check
}

// Wire builds every dependency from cfg and returns a cleanup function that
// releases them in reverse order.
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

	chains := cfg.NormalizedChains()
	deps := &Dependencies{
		Registry:     prometheus.NewRegistry(),
		HealthChecks: map[string]handler.Check{},
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Redis ---
	var cache domain.ResponseCache
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
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		cache = redis.NewResponseCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		locks := redis.NewLockManager(redisClient)
		deps.LockManager = locks
		deps.Leases = locks
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		cache = memory.New()
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Discoveries = postgres.NewDiscoveryStore(pgClient.Pool())
		deps.Watchlist = postgres.NewWatchlistStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.Discoveries != nil {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Discoveries, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		deps.Alerter = notify.NewAlerter(deps.Notifier, cfg.Notify.MinSnipeScore, notify.DefaultAlertQueueSize, logger)
	}

	// --- Market data ---
	geckoOpts := []geckoterminal.Option{geckoterminal.WithMetrics(deps.Metrics)}
	if deps.RateLimiter != nil && cfg.GeckoTerminal.RateLimitPerMinute > 0 {
		geckoOpts = append(geckoOpts, geckoterminal.WithRateLimiter(deps.RateLimiter, cfg.GeckoTerminal.RateLimitPerMinute, time.Minute))
	}
	gecko := geckoterminal.NewClient(cfg.GeckoTerminal.BaseURL, cfg.GeckoTerminal.Timeout.Duration, geckoOpts...)
	deps.Market = marketdata.New(gecko, cache, chains, logger,
		marketdata.WithTTL(cfg.Cache.TTL.Duration),
		marketdata.WithMetrics(deps.Metrics),
	)

	// --- Discovery ---
	deps.Tracker = discovery.NewTracker(deps.Market, discovery.Config{
		Chains:          chains,
		PollInterval:    cfg.Detector.PollInterval.Duration,
		MinLiquidityUSD: cfg.Detector.MinLiquidityUSD,
		MaxAge:          cfg.Detector.MaxAge.Duration,
		FetchLimit:      cfg.Detector.FetchLimit,
		Retention:       cfg.Detector.Retention.Duration,
		SweepInterval:   cfg.Detector.SweepInterval.Duration,
	}, logger, discovery.WithMetrics(deps.Metrics))

	return deps, cleanup, nil
}

// subscribeListeners attaches the persistence, alert and metrics listeners
// to the tracker and returns a func that detaches them.
func subscribeListeners(deps *Dependencies) func() {
	var unsubs []func()
	unsubs = append(unsubs, deps.Tracker.Subscribe(discovery.MetricsListener(deps.Metrics)))
	if deps.Discoveries != nil {
		unsubs = append(unsubs, deps.Tracker.Subscribe(deps.Discoveries))
	}
	if deps.Alerter != nil {
		unsubs = append(unsubs, deps.Tracker.Subscribe(deps.Alerter))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
