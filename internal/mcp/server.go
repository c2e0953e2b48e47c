// Package mcp exposes runs, cases and schedules as MCP tools over streamable
// HTTP.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/container"
	"github.com/HyphaGroup/assimilate/internal/evaluator"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
	"github.com/HyphaGroup/assimilate/internal/runstore"
	"github.com/HyphaGroup/assimilate/internal/schedule"
	"github.com/HyphaGroup/assimilate/internal/session"
)

const (
	limiterCleanupInterval = 10 * time.Minute
	limiterMaxIdle         = 30 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

// generateRequestID creates a unique request identifier
func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Server wraps the MCP server with the run manager and stores
type Server struct {
	cfg            *config.LoadedConfig
	version        string
	runtime        container.Runtime // nil without container evaluators
	runs           *session.Manager
	evaluators     *evaluator.Registry
	runStore       *runstore.Store
	scheduleStore  *schedule.Store
	scheduleRunner *schedule.Runner
	registry       *Registry
	mcpServer      *mcp.Server
	limiter        *RateLimiter

	// ctx bounds every worker and driver the server starts.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeRun

	closeOnce sync.Once
}

// ServerConfig holds what the server needs from its caller
type ServerConfig struct {
	Config        *config.LoadedConfig
	Version       string
	Runtime       container.Runtime
	RunStore      *runstore.Store
	ScheduleStore *schedule.Store
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) *Server {
	c := cfg.Config
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:           c,
		version:       version,
		runtime:       cfg.Runtime,
		runs:          session.NewManager(c.Defaults.Session.MaxActiveRuns, c.IdleTimeout()),
		evaluators:    evaluator.NewRegistry(c.Evaluators, cfg.Runtime),
		runStore:      cfg.RunStore,
		scheduleStore: cfg.ScheduleStore,
		registry:      NewRegistry(),
		limiter:       NewRateLimiter(c.Server.RateLimit.RequestsPerSecond, c.Server.RateLimit.Burst),
		ctx:           ctx,
		cancel:        cancel,
		active:        make(map[string]*activeRun),
	}

	if s.scheduleStore != nil {
		s.scheduleRunner = schedule.NewRunner(s.scheduleStore, s.executeSchedule)
	}

	s.registerAllTools(s.registry)

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "assimilate",
		Version: version,
	}, nil)
	s.registry.RegisterWithMCPServer(s.mcpServer)

	return s
}

// Handler returns the HTTP surface: health, readiness, metrics and the MCP
// endpoint.
func (s *Server) Handler() http.Handler {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return s.mcpServer
	}, &mcp.StreamableHTTPOptions{
		EventStore: mcp.NewMemoryEventStore(nil),
	})

	loggingHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		ctx = WithRemoteAddr(ctx, r.RemoteAddr)
		if id := r.Header.Get(ClientIDHeader); id != "" {
			ctx = WithClientID(ctx, id)
		}
		r = r.WithContext(ctx)

		logger.Info("HTTP %s %s from %s [request_id=%s]", r.Method, r.URL.Path, r.RemoteAddr, requestID)
		mcpHandler.ServeHTTP(w, r)
	})

	rateLimitedHandler := RateLimitMiddleware(s.limiter)(loggingHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealthCheck)
	mux.HandleFunc("/ready", s.handleReadinessCheck)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", metrics.Middleware(rateLimitedHandler))
	mux.Handle("/mcp/", metrics.Middleware(rateLimitedHandler))
	return mux
}

// Serve listens on addr until ctx ends, then shuts the listener down. It
// also runs the schedule runner for as long as it serves.
func (s *Server) Serve(ctx context.Context, addr string) error {
	if s.scheduleRunner != nil {
		s.scheduleRunner.Start()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.limiterCleanupLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Assimilate MCP server listening on %s", addr)
	logger.Info("Health check: http://localhost%s/health", addr)
	logger.Info("Metrics: http://localhost%s/metrics", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server...")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) limiterCleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(limiterMaxIdle); n > 0 {
				logger.Printf("Dropped %d idle rate limiters", n)
			}
		}
	}
}

// Close stops the schedule runner, aborts every live run, waits for their
// outcomes to be persisted and removes evaluator containers. Stores are
// closed by their owner.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.scheduleRunner != nil {
			s.scheduleRunner.Stop()
		}

		s.cancel()
		s.runs.Close()
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.evaluators.Close(ctx); err != nil {
			logger.Error("Failed to close evaluators: %v", err)
		}
	})
}

// handleHealthCheck is a basic liveness check
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleReadinessCheck verifies the server can serve requests
func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.runtime != nil {
		if err := s.runtime.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready","reason":"container runtime unavailable"}`))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// GetRegistry returns the tool registry
func (s *Server) GetRegistry() *Registry {
	return s.registry
}
