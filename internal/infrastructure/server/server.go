package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/richardjypark/maskmytext.com/internal/agent"
	apihttp "github.com/richardjypark/maskmytext.com/internal/api/http"
	"github.com/richardjypark/maskmytext.com/internal/api/middleware"
	"github.com/richardjypark/maskmytext.com/internal/api/ws"
	"github.com/richardjypark/maskmytext.com/internal/cache"
	"github.com/richardjypark/maskmytext.com/internal/host"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/config"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/logging"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/monitoring"
	"github.com/richardjypark/maskmytext.com/internal/infrastructure/tracing"
	"github.com/richardjypark/maskmytext.com/internal/network"
	"github.com/richardjypark/maskmytext.com/internal/shared/paths"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	host    *host.Host
	storage cache.Storage
	tracer  *tracing.Tracer
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing offline gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("origin", cfg.Agent.Origin),
		zap.String("storage", cfg.Storage.Driver),
	)

	metrics := monitoring.NewMetrics()

	deployment := paths.DefaultDeployment()
	deployment.ProductionHosts = cfg.Agent.ProductionHosts
	deployment.PathPrefix = cfg.Agent.PathPrefix

	origin, basePath, err := splitOrigin(deployment, cfg.Agent.Origin)
	if err != nil {
		return nil, err
	}
	logger.Info("Resolved deployment", zap.String("origin", origin.String()), zap.String("base_path", basePath))

	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	fetcher, err := network.NewHTTPFetcher(network.Options{
		Origin:    origin.String(),
		Timeout:   cfg.Network.Timeout,
		Retries:   cfg.Network.Retries,
		RateLimit: cfg.Network.RateLimit,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to create fetcher: %w", err)
	}

	healers, err := buildHealers(cfg.Agent)
	if err != nil {
		storage.Close()
		return nil, err
	}

	shell, err := resolveShell(context.Background(), cfg.Agent, fetcher, origin, basePath, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	var extensions agent.ExtensionSet
	if len(cfg.Agent.CacheExtension) > 0 {
		extensions = agent.NewExtensionSet(cfg.Agent.CacheExtension...)
	}

	factory, err := agent.NewFactory(agent.FactoryOptions{
		Origin:        origin,
		BasePath:      basePath,
		Shell:         shell,
		VersionPrefix: cfg.Agent.VersionPrefix,
		Storage:       storage,
		Fetcher:       fetcher,
		Extensions:    extensions,
		Threshold:     cfg.Agent.CacheThreshold,
		Healers:       healers,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to create worker factory: %w", err)
	}
	logger.Info("App shell resolved", zap.Int("assets", len(factory.Manifest())))

	h, err := host.New(host.Options{
		Factory: factory,
		Fetcher: fetcher,
		Build:   cfg.Agent.BuildID,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		storage.Close()
		return nil, err
	}

	tracer := tracing.New(logger)
	router := newRouter(cfg, h, origin, deployment, tracer, logger, metrics)

	logger.Info("Server initialized successfully")

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		router:  router,
		http:    srv,
		host:    h,
		storage: storage,
		tracer:  tracer,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func newRouter(cfg *config.Config, h *host.Host, origin *url.URL, deployment paths.Deployment, tracer *tracing.Tracer, logger *logging.Logger, metrics *monitoring.Metrics) *gin.Engine {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSConfigFor(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           cfg.RateLimit.IdleTTL,
		}))
	}

	handlers := apihttp.NewHandlers(h, origin, metrics)
	wsHandler := ws.NewHandler(h, deployment, logger, metrics)

	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin := router.Group(cfg.Server.AdminPrefix)
	admin.GET("/status", handlers.Status)
	admin.POST("/update", handlers.Update)
	admin.POST("/skip-waiting", handlers.SkipWaiting)
	admin.GET("/events", wsHandler.HandleConnection)

	// Everything else is an application request.
	router.NoRoute(handlers.Intercept)
	return router
}

// splitOrigin separates the configured origin into scheme+host and the
// deployment base path.
func splitOrigin(d paths.Deployment, raw string) (*url.URL, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, "", fmt.Errorf("invalid origin %q", raw)
	}
	base := d.BasePath(u.Hostname(), u.Path)
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, base, nil
}

func openStorage(cfg config.StorageConfig) (cache.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := cache.NewSQLiteStorage(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
		return s, nil
	default:
		return cache.NewMemoryStorage(), nil
	}
}

func buildHealers(cfg config.AgentConfig) ([]agent.KeyHealer, error) {
	var healers []agent.KeyHealer
	if cfg.PathPrefix != "" {
		healers = append(healers, agent.DuplicatePrefixHealer(cfg.PathPrefix))
	}
	if len(cfg.HealPatterns) > 0 {
		g, err := agent.GlobHealer(cfg.HealPatterns...)
		if err != nil {
			return nil, fmt.Errorf("invalid HEAL_PATTERNS: %w", err)
		}
		healers = append(healers, g)
	}
	return healers, nil
}

// resolveShell picks the app shell: a shell file, a scanned build directory
// or the built-in list, optionally extended by the assets the origin's root
// document references. Discovery failures only cost the extra assets.
func resolveShell(ctx context.Context, cfg config.AgentConfig, fetcher network.Fetcher, origin *url.URL, basePath string, logger *logging.Logger) ([]string, error) {
	var (
		shell []string
		err   error
	)
	switch {
	case cfg.ShellFile != "":
		shell, err = agent.LoadShell(cfg.ShellFile)
	case cfg.ShellDir != "":
		shell, err = agent.ScanShell(cfg.ShellDir, cfg.ShellPatterns)
	default:
		shell = agent.DefaultShell()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app shell: %w", err)
	}
	if !cfg.ShellDiscover {
		return shell, nil
	}

	root := origin.ResolveReference(&url.URL{Path: paths.Join(basePath, "/")})
	resp, err := fetcher.Fetch(ctx, cache.NewRequest(root.String()))
	if err == nil && !resp.OK() {
		err = fmt.Errorf("status %d", resp.Status)
	}
	if err != nil {
		logger.Warn("Shell discovery skipped", zap.String("url", root.String()), zap.Error(err))
		return shell, nil
	}
	found, err := agent.DiscoverShell(bytes.NewReader(resp.Body))
	if err != nil {
		logger.Warn("Shell discovery failed", zap.Error(err))
		return shell, nil
	}
	for _, p := range found {
		shell = append(shell, trimBase(basePath, p))
	}
	return shell, nil
}

// trimBase makes a discovered absolute path relative to the base path, since
// the manifest prefixes every shell entry with it.
func trimBase(basePath, p string) string {
	if basePath == "" {
		return p
	}
	if p == basePath {
		return "/"
	}
	if len(p) > len(basePath) && p[:len(basePath)+1] == basePath+"/" {
		return p[len(basePath):]
	}
	return p
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Host returns the agent host.
func (s *Server) Host() *host.Host { return s.host }

// Install installs the first version; pages registering earlier wait for it.
func (s *Server) Install(ctx context.Context) error {
	if err := s.host.Install(ctx); err != nil {
		return fmt.Errorf("initial install failed: %w", err)
	}
	if w := s.host.Registration().Active(); w != nil {
		s.logger.Info("Active version", zap.String("version", string(w.Version())))
	}
	return nil
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", zap.Error(err))
		errs = append(errs, err)
	}

	s.host.Close()
	s.tracer.Close()
	if err := s.storage.Close(); err != nil {
		s.logger.Error("Failed to close cache storage", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to close cache storage: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
