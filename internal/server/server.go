package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/server/handler"
	"github.com/alanyoungcy/troveview/internal/server/middleware"
	"github.com/alanyoungcy/troveview/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     []string // empty disables authentication

	// RateLimitPerMinute caps requests per client IP. Zero or a nil
	// Limiter disables rate limiting.
	RateLimitPerMinute int
	Limiter            domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Troves    *handler.TroveHandler
	Queue     *handler.QueueHandler
	Watchlist *handler.WatchlistHandler
	Alerts    *handler.AlertHandler
	Archive   *handler.ArchiveHandler
	Batch     *handler.BatchHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limiting, auth) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// NewHandler builds the routed and middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Trove endpoints.
	mux.HandleFunc("GET /api/troves/{collateral}/{id}/interest", handlers.Troves.Interest)
	mux.HandleFunc("GET /api/troves/{collateral}/{id}/debt-in-front", handlers.Troves.DebtInFront)
	mux.HandleFunc("GET /api/troves/{collateral}/{id}/snapshots", handlers.Troves.Snapshots)
	mux.HandleFunc("GET /api/troves/{collateral}/{id}/snapshots/archived", handlers.Archive.ArchivedSnapshots)
	mux.HandleFunc("GET /api/troves/{collateral}/{id}/alerts", handlers.Alerts.ListAlerts)

	// Queue endpoints.
	mux.HandleFunc("GET /api/queue/{collateral}", handlers.Queue.GetQueue)

	// Watchlist endpoints.
	mux.HandleFunc("GET /api/watchlist", handlers.Watchlist.List)
	mux.HandleFunc("POST /api/watchlist", handlers.Watchlist.Add)
	mux.HandleFunc("DELETE /api/watchlist/{collateral}/{id}", handlers.Watchlist.Remove)

	// Batch managers.
	mux.HandleFunc("GET /api/batch-managers", handlers.Batch.ListManagers)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys, logger, "/api/health")(h)
	if cfg.Limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
