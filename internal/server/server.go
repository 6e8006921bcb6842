// Package server assembles the REST and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/domain"
	"github.com/alanyoungcy/poolwatch/internal/server/handler"
	"github.com/alanyoungcy/poolwatch/internal/server/middleware"
	"github.com/alanyoungcy/poolwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter is optional; when set each client IP is limited to
	// RateLimitPerMinute requests.
	RateLimiter        domain.RateLimiter
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers the server registers. Watchlist may
// be nil when no database is configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Tokens      *handler.TokenHandler
	Pairs       *handler.PairHandler
	Discoveries *handler.DiscoveryHandler
	Watchlist   *handler.WatchlistHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths skip API-key authentication.
var publicPaths = []string{"/api/health", "/metrics"}

// NewServer registers every route and wraps the mux in the middleware chain
// auth, rate limit, logging, CORS (innermost first). metrics may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, metrics http.Handler, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewHandler(cfg, handlers, hub, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler without binding a
// listener.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, metrics http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	mux.HandleFunc("GET /api/tokens/trending", handlers.Tokens.Trending)
	mux.HandleFunc("GET /api/tokens/new", handlers.Tokens.New)
	mux.HandleFunc("GET /api/tokens/search", handlers.Tokens.Search)
	mux.HandleFunc("GET /api/tokens/gainers", handlers.Tokens.Gainers)
	mux.HandleFunc("GET /api/tokens/losers", handlers.Tokens.Losers)
	mux.HandleFunc("GET /api/tokens/{chain}/{address}", handlers.Tokens.Token)

	mux.HandleFunc("GET /api/pairs/{chain}/{address}", handlers.Pairs.Pair)
	mux.HandleFunc("GET /api/pairs/{chain}/{address}/ohlcv", handlers.Pairs.OHLCV)

	mux.HandleFunc("GET /api/discoveries/recent", handlers.Discoveries.Recent)
	mux.HandleFunc("GET /api/discoveries/stats", handlers.Discoveries.Stats)
	mux.HandleFunc("GET /api/discoveries/history", handlers.Discoveries.History)

	if handlers.Watchlist != nil {
		mux.HandleFunc("GET /api/watchlist", handlers.Watchlist.List)
		mux.HandleFunc("POST /api/watchlist", handlers.Watchlist.Add)
		mux.HandleFunc("DELETE /api/watchlist/{id}", handlers.Watchlist.Remove)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	if cfg.RateLimiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger, publicPaths...)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
