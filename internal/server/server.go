// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/Sagexd08/autofi/internal/approval"
	"github.com/Sagexd08/autofi/internal/chain"
	"github.com/Sagexd08/autofi/internal/config"
	"github.com/Sagexd08/autofi/internal/gatekeeper"
	"github.com/Sagexd08/autofi/internal/health"
	"github.com/Sagexd08/autofi/internal/logging"
	"github.com/Sagexd08/autofi/internal/metrics"
	"github.com/Sagexd08/autofi/internal/notify"
	"github.com/Sagexd08/autofi/internal/risk"
	"github.com/Sagexd08/autofi/internal/traces"
	"github.com/Sagexd08/autofi/internal/transactions"
	"github.com/Sagexd08/autofi/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	engine        *risk.Engine
	gate          *gatekeeper.Gatekeeper
	dispatcher    *gatekeeper.Dispatcher
	broadcaster   gatekeeper.Broadcaster
	txStore       transactions.Store
	approvals     *approval.Service
	approvalTimer *approval.Timer
	approvalHub   *approval.Hub
	notifier      notify.Notifier
	monitor       *chain.Monitor
	healthReg     *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithBroadcaster sets the execution collaborator invoked when an approved
// transaction is released (for testing, or to plug in a real signer).
func WithBroadcaster(b gatekeeper.Broadcaster) Option {
	return func(s *Server) {
		s.broadcaster = b
	}
}

// WithoutChainMonitor disables the RPC health monitor (for testing).
func WithoutChainMonitor() Option {
	return func(s *Server) {
		s.monitor = nil
		s.cfg.RPCURL = ""
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}

	// Apply options first (may set logger/broadcaster)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTrace, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.shutdownTrace = shutdownTrace

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var approvalStore approval.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.txStore = transactions.NewPostgresStore(db)
		approvalStore = approval.NewPostgresStore(db)
		s.healthReg.Register("database", health.DatabaseChecker(db.PingContext))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.txStore = transactions.NewMemoryStore()
		approvalStore = approval.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Notifications
	if cfg.WebhookURL != "" {
		s.notifier = notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, s.logger)
		s.logger.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	} else {
		s.notifier = notify.NewWebhookNotifier("", "", s.logger)
	}

	// Risk engine with the default factor set
	registry := risk.NewRegistry(risk.DefaultFactors()...)
	s.engine = risk.NewEngine(registry,
		risk.WithLogger(s.logger),
		risk.WithBands(risk.Bands{
			CriticalMin: cfg.CriticalMin,
			HighMin:     cfg.HighMin,
			MediumMin:   cfg.MediumMin,
		}),
	)

	// Approval lifecycle
	s.approvals = approval.NewService(approvalStore,
		approval.WithLogger(s.logger),
		approval.WithTTL(cfg.ApprovalTTL),
	)
	s.approvalTimer = approval.NewTimer(s.approvals, cfg.SweepInterval, s.logger)
	s.approvalHub = approval.NewHub(s.approvals, s.logger)
	s.logger.Info("approval queue enabled", "ttl", cfg.ApprovalTTL, "sweepInterval", cfg.SweepInterval)

	// Chain health monitor feeds telemetry into risk evaluation
	telemetry := chain.Telemetry(chain.StaticTelemetry{Healthy: true})
	if cfg.RPCURL != "" {
		monitorCfg := chain.DefaultConfig()
		monitorCfg.RPCURL = cfg.RPCURL
		monitor, err := chain.New(monitorCfg, s.logger)
		if err != nil {
			s.logger.Warn("failed to create chain monitor, assuming healthy", "error", err)
		} else {
			s.monitor = monitor
			telemetry = monitor
			s.healthReg.Register("chain", health.ChainChecker(monitor.Snapshot))
			s.logger.Info("chain monitor configured", "rpc", cfg.RPCURL, "chainId", cfg.ChainID)
		}
	}

	// The gatekeeper itself
	policy := risk.ThresholdPolicy{
		AutoExecuteMax: cfg.AutoExecuteMax,
		ApprovalMin:    cfg.ApprovalMin,
		BlockMin:       cfg.BlockMin,
	}
	s.gate = gatekeeper.New(s.engine, policy, s.txStore, s.approvals,
		gatekeeper.WithLogger(s.logger),
		gatekeeper.WithNotifier(s.notifier),
		gatekeeper.WithTelemetry(telemetry),
	)
	s.logger.Info("gatekeeper enabled",
		"autoExecuteMax", policy.AutoExecuteMax,
		"approvalMin", policy.ApprovalMin,
		"blockMin", policy.BlockMin,
	)

	// Close the loop: approval outcomes flow back into transaction execution
	s.dispatcher = gatekeeper.NewDispatcher(s.approvals, s.txStore, s.broadcaster, s.notifier, s.logger)

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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.GinMiddleware())

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
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

	// V1 API group
	v1 := s.router.Group("/v1")

	gateHandler := gatekeeper.NewHandler(s.gate, s.txStore)
	gateHandler.RegisterRoutes(v1)

	approvalHandler := approval.NewHandler(s.approvals, s.approvalHub)
	approvalHandler.RegisterRoutes(v1)

	// Policy introspection so operators can see the live thresholds
	v1.GET("/policy", s.policyHandler)
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
	healthy, checks := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
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
		"name":        "AutoFi Gate",
		"description": "Risk scoring and approval gating for agent-issued transactions",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
	})
}

func (s *Server) policyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"thresholds": gin.H{
			"autoExecuteMax": s.cfg.AutoExecuteMax,
			"approvalMin":    s.cfg.ApprovalMin,
			"blockMin":       s.cfg.BlockMin,
		},
		"bands": gin.H{
			"criticalMin": s.cfg.CriticalMin,
			"highMin":     s.cfg.HighMin,
			"mediumMin":   s.cfg.MediumMin,
		},
		"approvalTTL": s.cfg.ApprovalTTL.String(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the approval expiration sweep
	go s.approvalTimer.Start(runCtx)

	// Start the chain health monitor
	if s.monitor != nil {
		go s.monitor.Start(runCtx)
	}

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (timer, monitor)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.approvalTimer != nil {
		s.approvalTimer.Stop()
		s.logger.Info("approval timer stopped")
	}

	if s.monitor != nil {
		s.monitor.Stop()
		s.logger.Info("chain monitor stopped")
	}

	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
