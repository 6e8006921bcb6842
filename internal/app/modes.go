package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/poolwatch/internal/broadcast"
	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/pipeline"
	"github.com/alanyoungcy/poolwatch/internal/server"
	"github.com/alanyoungcy/poolwatch/internal/server/handler"
	"github.com/alanyoungcy/poolwatch/internal/server/middleware"
	"github.com/alanyoungcy/poolwatch/internal/server/ws"
)

const shutdownTimeout = 5 * time.Second

// FullMode runs the tracker, the broadcaster, the WebSocket hub, the HTTP
// API and, when enabled, the archive job.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	startedAt := time.Now().UTC()

	g, ctx := errgroup.WithContext(ctx)

	unsubscribe := subscribeListeners(deps)
	defer unsubscribe()
	a.startAlerter(ctx, g, deps)

	hubCfg := ws.Config{
		FanoutChannel:  a.cfg.Redis.FanoutChannel,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Metrics:        deps.Metrics,
	}
	if deps.Leases != nil {
		hubCfg.OnRelayedDiscovery = func(d domain.Discovery) { deps.Tracker.Observe(d) }
	}
	hub := ws.NewHub(deps.Tracker, deps.SignalBus, a.logger, hubCfg)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	bc := broadcast.New(hub, deps.Market, deps.Tracker, broadcast.Config{
		Chains:             deps.Market.Chains(),
		TrendingInterval:   a.cfg.Broadcast.TrendingInterval.Duration,
		PriceInterval:      a.cfg.Broadcast.PriceInterval.Duration,
		StatsInterval:      a.cfg.Broadcast.StatsInterval.Duration,
		TrendingLimit:      a.cfg.Broadcast.TrendingLimit,
		PricePoolsPerChain: a.cfg.Broadcast.PricePoolsPerChain,
		ChainPoolsLimit:    a.cfg.Broadcast.ChainPoolsLimit,
	}, a.logger, broadcast.WithMetrics(deps.Metrics))

	if deps.Leases != nil {
		// Every hub relays from the bus; only the lease holders produce, so
		// each frame reaches a connection once however many replicas run.
		discoveryElector := pipeline.NewElector(deps.Leases, pipeline.DiscoveryLeaseKey, 0, a.logger)
		broadcastElector := pipeline.NewElector(deps.Leases, pipeline.BroadcastLeaseKey, 0, a.logger)
		g.Go(func() error { return discoveryElector.Run(ctx, bc.RunDiscovery) })
		g.Go(func() error { return broadcastElector.Run(ctx, bc.RunTickers) })
		g.Go(func() error { return deps.Tracker.RunSweeper(ctx) })
	} else {
		g.Go(func() error {
			return bc.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
			Status:      handler.NewStatusHandler(a.cfg.Mode, deps.Market.Chains(), startedAt, hub.ClientCount),
			Tokens:      handler.NewTokenHandler(deps.Market, a.logger),
			Pairs:       handler.NewPairHandler(deps.Market, a.logger),
			Discoveries: handler.NewDiscoveryHandler(deps.Tracker, nil, a.logger),
		}
		if deps.Discoveries != nil {
			handlers.Discoveries = handler.NewDiscoveryHandler(deps.Tracker, deps.Discoveries, a.logger)
			handlers.Watchlist = handler.NewWatchlistHandler(deps.Watchlist, a.logger)
		}
		srv := server.NewServer(server.Config{
			Port:               a.cfg.Server.Port,
			CORSOrigins:        a.cfg.Server.CORSOrigins,
			APIKey:             a.cfg.Server.APIKey,
			RateLimiter:        deps.RateLimiter,
			RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		}, handlers, hub, a.metricsHandler(deps), a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// DetectorMode runs the tracker headless. Discoveries are persisted, alerted
// and relayed over the signal bus to hubs on full-mode instances. With Redis
// the tracker runs only while this instance holds the discovery lease.
// Health and metrics stay reachable when the server is enabled.
func (a *App) DetectorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detector mode")

	g, ctx := errgroup.WithContext(ctx)

	unsubscribe := subscribeListeners(deps)
	defer unsubscribe()
	a.startAlerter(ctx, g, deps)

	if deps.SignalBus != nil {
		pub := ws.NewBusPublisher(deps.SignalBus, a.cfg.Redis.FanoutChannel, "detector-"+uuid.NewString())
		defer deps.Tracker.Subscribe(broadcast.Relay(pub))()
	} else {
		a.logger.WarnContext(ctx, "redis disabled; discoveries will not reach any websocket hub")
	}

	if deps.Leases != nil {
		elector := pipeline.NewElector(deps.Leases, pipeline.DiscoveryLeaseKey, 0, a.logger)
		g.Go(func() error { return elector.Run(ctx, deps.Tracker.Run) })
	} else {
		g.Go(func() error {
			return deps.Tracker.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startOpsServer(ctx, g, deps)
	}

	return g.Wait()
}

// startAlerter delivers queued discovery alerts when a sender is configured.
func (a *App) startAlerter(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Alerter == nil {
		return
	}
	g.Go(func() error {
		return deps.Alerter.Run(ctx)
	})
}

// startArchiver schedules the archive job when an archiver is wired.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startOpsServer serves only /api/health and /metrics.
func (a *App) startOpsServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)

	mux := http.NewServeMux()
	health := handler.NewHealthHandler(deps.HealthChecks, a.logger)
	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.Handle("GET /metrics", a.metricsHandler(deps))

	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Logging(a.logger, "/api/health", "/metrics")(mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "ops server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func (a *App) metricsHandler(deps *Dependencies) http.Handler {
	return promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})
}
