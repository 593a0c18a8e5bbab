package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/config"
	"github.com/jackzampolin/dafmap/internal/home"
	"github.com/jackzampolin/dafmap/internal/ocr/tesseract"
	"github.com/jackzampolin/dafmap/internal/pdf"
	"github.com/jackzampolin/dafmap/internal/pipeline"
	"github.com/jackzampolin/dafmap/internal/providers"
	"github.com/jackzampolin/dafmap/internal/sefaria"
	"github.com/jackzampolin/dafmap/internal/server/endpoints"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/store"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// Server is the main dafmap HTTP server.
// It owns the store, the write sink, and the pipeline runner - opening
// them on server start and flushing the sink on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	st         store.Store
	sink       *store.Sink
	sessions   *session.Manager
	runner     *pipeline.Runner
	registry   *providers.Registry
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port int
	// Home locates the store, cache, and config file (default: ~/.dafmap)
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.Home = h
	}

	// Create provider registry
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)

	// If config manager provided, set up providers and hot reload
	if cfg.ConfigManager != nil {
		registry.Reload(cfg.ConfigManager.Get().ToRegistryConfig())

		// Watch for config changes. Stage tunables are fixed at start;
		// only the provider registry reloads live.
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			registry.Reload(c.ToRegistryConfig())
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	s := &Server{
		home:      cfg.Home,
		registry:  registry,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the store and starts the server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	s.logger.Info("opening store", "path", s.home.StorePath())
	st, err := store.NewFS(s.home.StorePath())
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.st = st

	s.sink = store.NewSink(store.SinkConfig{Store: st, Logger: s.logger})
	s.sink.Start(ctx)

	s.sessions = session.NewManager(st, s.sink, s.logger)

	// Build the pipeline runner from the effective configuration.
	appCfg := config.DefaultConfig()
	if s.configMgr != nil {
		appCfg = s.configMgr.Get()
	}

	fetcher, err := pdf.New(pdf.Config{CacheDir: s.home.CachePath()})
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to create pdf fetcher: %w", err)
	}

	// The registry stands in for the provider interfaces directly, so a
	// config reload reaches runs started afterwards.
	deps := pipeline.Deps{
		PDF:         fetcher,
		Engine:      tesseract.New(appCfg.TesseractConfig()),
		RashiEngine: tesseract.New(appCfg.RashiTesseractConfig()),
		Classifier:  s.registry,
		Embedder:    s.registry,
		Sefaria:     sefaria.New(appCfg.ToSefariaConfig()),
		Sessions:    s.sessions,
		Logger:      s.logger,
	}
	if appCfg.UseVLMRecognizer() {
		deps.Recognizer = s.registry
	}

	s.runner, err = pipeline.New(deps, appCfg.ToPipelineConfig())
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to create pipeline runner: %w", err)
	}

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:         s.st,
		Sink:          s.sink,
		Sessions:      s.sessions,
		Runner:        s.runner,
		Registry:      s.registry,
		ConfigManager: s.configMgr,
		Home:          s.home,
		Logger:        s.logger,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown() // Flush the sink on HTTP error
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server and the sink.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	// Shutdown HTTP server with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the sink, flushing queued writes
	if s.sink != nil {
		s.sink.Stop()
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the backing store.
// Returns nil if the server hasn't started yet.
func (s *Server) Store() store.Store {
	return s.st
}

// Sessions returns the session manager.
// Returns nil if the server hasn't started yet.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or runner aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.sessions == nil || s.runner == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
