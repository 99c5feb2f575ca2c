// Package server exposes diagnostic reports and the last run analysis over
// HTTP for dashboards and CI agents that cannot shell out to the CLI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// Server serves the actguard report API.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	config     Config
	logger     *logging.Logger
	clock      core.Clock

	diagnostics Diagnostics
	lastRun     LastRunFunc

	mu       sync.Mutex
	cached   *diagnostics.Report
	cachedAt time.Time
}

// Config holds the server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	EnableCORS      bool
	// CacheTTL is how long a full diagnostic report is reused before the
	// checks run again. Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8089,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"http://localhost:*"},
		EnableCORS:      true,
		CacheTTL:        30 * time.Second,
	}
}

// Diagnostics runs health checks. *diagnostics.Service implements it.
type Diagnostics interface {
	Names() []string
	Run(ctx context.Context) *diagnostics.Report
	RunChecks(ctx context.Context, names ...string) (*diagnostics.Report, error)
}

// LastRunFunc produces the retrospective analysis of the last recorded run.
type LastRunFunc func(ctx context.Context) (*diagnostics.Retrospective, error)

// ServerOption configures the server.
type ServerOption func(*Server)

// WithDiagnostics enables the diagnostics routes.
func WithDiagnostics(d Diagnostics) ServerOption {
	return func(s *Server) {
		s.diagnostics = d
	}
}

// WithLastRun enables the last-run route.
func WithLastRun(fn LastRunFunc) ServerOption {
	return func(s *Server) {
		s.lastRun = fn
	}
}

// WithClock sets the clock used for report caching.
func WithClock(c core.Clock) ServerOption {
	return func(s *Server) {
		s.clock = c
	}
}

// New creates a new Server instance with the given configuration.
func New(cfg Config, logger *logging.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		config: cfg,
		logger: logger.WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.clock = core.ClockOrReal(s.clock)

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// setupRouter configures the Chi router with middleware and routes.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		})
		r.Use(corsMiddleware.Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleAPIRoot)

		if s.diagnostics != nil {
			r.Get("/checks", s.handleChecks)
			r.Get("/diagnostics", s.handleDiagnostics)
			r.Get("/diagnostics/{check}", s.handleDiagnostic)
		}
		if s.lastRun != nil {
			r.Get("/last-run", s.handleLastRun)
		}
	})

	return r
}

// loggingMiddleware logs HTTP requests using structured logging.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.logger.Info("starting http server", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the listening address once started, the configured one
// before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
