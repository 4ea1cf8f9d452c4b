package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/alanyoungcy/bookcost/internal/server/handler"
	"github.com/alanyoungcy/bookcost/internal/server/middleware"
	"github.com/alanyoungcy/bookcost/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit requests per RateLimitWindow per client; 0 disables it.
	RateLimit       int
	RateLimitWindow time.Duration
	MetricsPath     string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Book      *handler.BookHandler
	Estimates *handler.EstimateHandler
	// Metrics is mounted at Config.MetricsPath when set.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API of the cost service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (CORS, logging, rate limit, auth). limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/book", handlers.Book.GetBook)

	mux.HandleFunc("GET /api/estimate", handlers.Estimates.GetLatest)
	mux.HandleFunc("POST /api/estimate", handlers.Estimates.Quote)
	mux.HandleFunc("PUT /api/trade", handlers.Estimates.SetTrade)
	mux.HandleFunc("GET /api/estimates", handlers.Estimates.ListHistory)
	mux.HandleFunc("GET /api/estimates/{id}", handlers.Estimates.GetByID)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if handlers.Metrics != nil && cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, handlers.Metrics)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
