// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/videncia/oraculo/internal/admin"
	"github.com/videncia/oraculo/internal/auth"
	"github.com/videncia/oraculo/internal/catalog"
	"github.com/videncia/oraculo/internal/chat"
	"github.com/videncia/oraculo/internal/config"
	"github.com/videncia/oraculo/internal/conversation"
	"github.com/videncia/oraculo/internal/entitlement"
	"github.com/videncia/oraculo/internal/health"
	"github.com/videncia/oraculo/internal/idgen"
	"github.com/videncia/oraculo/internal/leads"
	"github.com/videncia/oraculo/internal/logging"
	"github.com/videncia/oraculo/internal/metrics"
	"github.com/videncia/oraculo/internal/payment"
	"github.com/videncia/oraculo/internal/ratelimit"
	"github.com/videncia/oraculo/internal/realtime"
	"github.com/videncia/oraculo/internal/scheduler"
	"github.com/videncia/oraculo/internal/security"
	"github.com/videncia/oraculo/internal/session"
	"github.com/videncia/oraculo/internal/validation"
	"github.com/videncia/oraculo/internal/wheel"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	catalog      *catalog.Catalog
	sessions     *session.Manager
	sweeper      *session.Sweeper
	entitlements *entitlement.Store
	sched        *scheduler.Scheduler
	backend      chat.Backend
	controller   *conversation.Controller
	wheelEngine  *wheel.Engine
	paymentFlow  *payment.Flow
	leadService  *leads.Service
	realtimeHub  *realtime.Hub
	healthChecks *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChatBackend sets a custom persona backend (for testing)
func WithChatBackend(b chat.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set backend/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	s.catalog = catalog.Default(cfg.FreeMessageLimit)
	s.healthChecks = health.NewRegistry()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var sessionStore session.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := session.NewPostgresStore(db)
		if err := pgStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		sessionStore = pgStore
		s.logger.Info("using PostgreSQL session storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", health.PingChecker("database", db.PingContext))
	} else {
		sessionStore = session.NewMemoryStore()
		s.logger.Info("using in-memory session storage (data will not persist)")
	}

	s.sessions = session.NewManager(sessionStore, cfg.SessionTTL)
	s.entitlements = entitlement.NewStore(s.sessions)
	s.sched = scheduler.New(s.logger)

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Persona backend: remote HTTP when configured, scripted otherwise
	if s.backend == nil {
		if cfg.ChatBackendURL != "" {
			s.backend = chat.NewClient(cfg.ChatBackendURL, cfg.ChatBackendKey)
			s.logger.Info("persona backend configured", "url", cfg.ChatBackendURL)
		} else {
			s.backend = chat.NewScripted()
			s.logger.Info("using scripted persona backend")
		}
	}

	s.controller = conversation.NewController(
		s.sessions, s.entitlements, s.backend, s.sched, s.realtimeHub, s.logger)
	s.wheelEngine = wheel.NewEngine(s.entitlements, s.sched, s.realtimeHub, s.logger)

	// Payment provider: Stripe when a key is set, dev provider otherwise
	var provider payment.Provider
	if cfg.StripeSecretKey != "" {
		provider = payment.NewStripeProvider(cfg.StripeSecretKey)
		s.logger.Info("stripe payments enabled")
	} else {
		provider = payment.DevProvider{}
		s.logger.Info("using dev payment provider (every checkout verifies)")
	}
	s.paymentFlow = payment.NewFlow(
		provider, s.entitlements, s.sched, s.controller, s.realtimeHub, cfg.PublicBaseURL, s.logger)

	// Lead capture, forwarded to marketing when configured
	var forwarder *leads.Forwarder
	if cfg.RecolectaURL != "" {
		forwarder = leads.NewForwarder(cfg.RecolectaURL, s.logger)
		s.logger.Info("lead forwarding enabled")
	}
	s.leadService = leads.NewService(s.entitlements, forwarder, s.logger)

	// Session eviction tears down per-session resources
	if memStore, ok := sessionStore.(*session.MemoryStore); ok {
		s.sweeper = session.NewSweeper(memStore, s.onSessionEvicted, s.logger)
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// onSessionEvicted drops in-memory state tied to an expired session.
func (s *Server) onSessionEvicted(sessionID string) {
	s.sched.CancelSession(sessionID)
	s.wheelEngine.DropSession(sessionID)
	s.controller.DropSession(sessionID)
	s.realtimeHub.Emit(sessionID, string(realtime.EventSessionEnded), nil)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket for real-time streaming (session-bound)
	s.router.GET("/ws", s.sessions.Middleware(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request, session.FromContext(c))
	})

	// V1 API group: every route is session-scoped
	v1 := s.router.Group("/v1")
	v1.Use(s.sessions.Middleware())
	// Validate :service URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.ServiceParamMiddleware())

	conversation.NewHandler(s.controller, s.entitlements, s.catalog).RegisterRoutes(v1)
	wheel.NewHandler(s.wheelEngine, s.catalog).RegisterRoutes(v1)
	payment.NewHandler(s.paymentFlow, s.catalog).RegisterRoutes(v1)
	leads.NewHandler(s.leadService).RegisterRoutes(v1)

	// Realtime stats (ops visibility)
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	// Back office, operator token required. Registered even without a
	// configured token so the surface consistently 404s instead of
	// disappearing from the route table.
	adm := s.router.Group("/admin")
	adm.Use(auth.RequireToken(s.cfg.AdminToken))
	admin.NewHandler(s.catalog, s.sessions.Store(), s.entitlements, s.endSession).RegisterRoutes(adm)
}

// endSession removes a session's stored state and tears down everything
// scheduled for it. Used by the back office.
func (s *Server) endSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Store().DeleteAll(ctx, sessionID); err != nil {
		return err
	}
	s.onSessionEvicted(sessionID)
	return nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Oraculo",
		"description": "Consultas esotéricas con videntes virtuales",
		"version":     "0.1.0",
		"services":    len(s.catalog.List()),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start session sweeper (memory store) or the Postgres purge loop
	if s.sweeper != nil {
		go s.sweeper.Start(runCtx)
	} else if pg, ok := s.sessions.Store().(*session.PostgresStore); ok {
		go s.purgeExpiredSessions(runCtx, pg)
	}

	// Start DB stats collector and active session gauge
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	go s.collectSessionStats(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// purgeExpiredSessions removes expired rows and tears down per-session
// resources for each evicted id.
func (s *Server) purgeExpiredSessions(ctx context.Context, pg *session.PostgresStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := pg.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn("session purge failed", "error", err)
				continue
			}
			for _, id := range ids {
				s.onSessionEvicted(id)
			}
		}
	}
}

// collectSessionStats periodically samples the active session count.
func (s *Server) collectSessionStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.sessions.Store().CountActive(ctx); err == nil {
				metrics.ActiveSessions.Set(float64(n))
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop session sweeper
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("session sweeper stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

