// Package server exposes the engine's status API, the manual state controls
// and the Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/predator/internal/server/handler"
	"github.com/alanyoungcy/predator/internal/server/middleware"
	"github.com/alanyoungcy/predator/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the state controls. Empty disables authentication.
	APIKey string
	// ProtectReads also requires the key on GET endpoints.
	ProtectReads bool
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit float64
	RateBurst int
}

// Handlers aggregates the HTTP handlers the server registers. Only Health is
// required; routes of a nil handler are not registered.
type Handlers struct {
	Health  *handler.HealthHandler
	State   *handler.StateHandler
	Signals *handler.SignalHandler
	Feeds   *handler.FeedHandler
	Journal *handler.JournalHandler
	Metrics http.Handler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain:
// CORS, then logging, then rate limiting, then auth.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	routes(mux, handlers, wsHub)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, !cfg.ProtectReads)(h)
	h = middleware.RateLimit(cfg.RateLimit, cfg.RateBurst)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

func routes(mux *http.ServeMux, h Handlers, wsHub *ws.Hub) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	if h.State != nil {
		mux.HandleFunc("GET /api/state", h.State.GetState)
		mux.HandleFunc("POST /api/state/defensive", h.State.TriggerDefensive)
		mux.HandleFunc("POST /api/state/resolve", h.State.Resolve)
		mux.HandleFunc("POST /api/state/strike", h.State.BeginStrike)
		mux.HandleFunc("POST /api/state/strike/end", h.State.EndStrike)
	}
	if h.Signals != nil {
		mux.HandleFunc("GET /api/liquidity", h.Signals.GetLiquidity)
		mux.HandleFunc("GET /api/manipulation", h.Signals.GetManipulation)
		mux.HandleFunc("GET /api/decisions/recent", h.Signals.RecentDecisions)
		mux.HandleFunc("GET /api/whale", h.Signals.GetWhale)
	}
	if h.Feeds != nil {
		mux.HandleFunc("GET /api/feeds", h.Feeds.ListFeeds)
	}
	if h.Journal != nil {
		mux.HandleFunc("GET /api/journal/decisions", h.Journal.ListDecisions)
		mux.HandleFunc("GET /api/journal/transitions", h.Journal.ListTransitions)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
