package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Options configures a Server. Governor is required.
type Options struct {
	Config   *config.ServerConfig
	Governor *governor.Governor

	// Checker serves /ready. Nil creates a checker with no checks.
	Checker *health.Checker

	// Metrics serves MetricsPath and instruments routes. Nil disables both.
	Metrics     *metrics.Collector
	MetricsPath string

	Version health.VersionInfo
	Logger  *slog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	running    bool
}

// New builds the route table and middleware chain.
func New(opts Options) *Server {
	cfg := config.ServerConfig{
		ListenAddress:   config.DefaultServerListenAddress,
		ReadTimeout:     config.DefaultServerReadTimeout,
		WriteTimeout:    config.DefaultServerWriteTimeout,
		ShutdownTimeout: config.DefaultServerShutdownTimeout,
	}
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	s := &Server{config: cfg, logger: logger}
	s.handler = s.routes(opts)
	return s
}

// readinessRateLimit bounds /ready, which runs every registered check.
const readinessRateLimit = 20

func (s *Server) routes(opts Options) http.Handler {
	checker := opts.Checker
	if checker == nil {
		checker = health.New(0)
	}

	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.Handler) {
		if opts.Metrics != nil {
			h = opts.Metrics.HTTP().Instrument(name, h)
		}
		mux.Handle(pattern, h)
	}

	handle("/health", "health", checker.LivenessHandler())
	handle("/ready", "ready", health.RateLimitedHandler(checker.ReadinessHandler(), readinessRateLimit))
	handle("/version", "version", health.VersionHandler(opts.Version))
	handle("/v1/budget", "budget", budgetHandler(opts.Governor))
	handle("/v1/circuit", "circuit", circuitHandler(opts.Governor))

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle(path, opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.logger)(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	return handler
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the configured address. Start calls it when needed; calling
// it first lets callers learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.running = true
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	srv, ln := s.httpServer, s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting ops server", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	case err, ok := <-errCh:
		if ok {
			s.markStopped()
			return err
		}
		return nil
	}
}

// Shutdown stops accepting connections and waits up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.running
	s.mu.Unlock()
	if !running || srv == nil {
		return nil
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultServerShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())
	err := srv.Shutdown(shutdownCtx)
	s.markStopped()
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()
}

// ReadinessChecker registers the standard governor checks on a new
// checker. budgetThreshold is the global usage ratio at which the budget
// check reports degraded.
func ReadinessChecker(gov *governor.Governor, timeout time.Duration, budgetThreshold float64) *health.Checker {
	checker := health.New(timeout)
	checker.RegisterCheck("cache", health.CacheCheck(gov.Cache()))
	checker.RegisterAdvisory("circuit", health.CircuitCheck(gov.Breaker()))
	checker.RegisterAdvisory("budget", health.BudgetCheck(gov.Budget(), budgetThreshold))
	return checker
}
