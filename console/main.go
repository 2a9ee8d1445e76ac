package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/guard-x/console/console/analytics"
	"github.com/guard-x/console/console/backend"
	"github.com/guard-x/console/console/config"
	"github.com/guard-x/console/console/geo"
	"github.com/guard-x/console/console/handlers"
	"github.com/guard-x/console/console/history"
	"github.com/guard-x/console/console/metrics"
	"github.com/guard-x/console/console/middleware"
	"github.com/guard-x/console/console/stream"
)

type Console struct {
	router        *gin.Engine
	logger        *zap.Logger
	session       *stream.Session
	tracker       *geo.Tracker
	store         history.Store
	backendClient *backend.Client
	rateLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	config        *config.Config
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	var logger *zap.Logger
	var err error

	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Validate configuration
	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	console, err := NewConsole(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create console", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      console.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting operator console",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Bring the live view up: position watch first so the first frames can
	// carry a fix, then the stream connection.
	console.tracker.Start()
	console.session.Connect()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down console...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Teardown order matters: closing the session first prevents the
	// reconnect policy from firing during shutdown.
	if err := console.session.Close(); err != nil {
		logger.Error("Failed to close stream session", zap.Error(err))
	}

	console.tracker.Stop()
	console.backendClient.Close()

	if console.rateLimiter != nil {
		console.rateLimiter.Shutdown()
	}

	if err := console.store.Close(); err != nil {
		logger.Error("Failed to close history store", zap.Error(err))
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Console exited")
}

func NewConsole(cfg *config.Config, logger *zap.Logger) (*Console, error) {
	m := metrics.New()

	// Durable history, degraded to memory-only when the database cannot be
	// opened. The live view never fails because of persistence.
	var store history.Store
	store, err := history.NewSQLiteStore(cfg.History.Path, cfg.History.Capacity, logger)
	if err != nil {
		logger.Warn("Failed to open durable history, using memory store", zap.Error(err))
		store = history.NewMemoryStore(cfg.History.Capacity)
	}

	var provider geo.Provider
	switch {
	case cfg.Geo.ProviderURL != "":
		provider = geo.NewHTTPProvider(cfg.Geo.ProviderURL, 10*time.Second, logger)
	case cfg.Geo.Static:
		provider = &geo.StaticProvider{
			Latitude:  cfg.Geo.Latitude,
			Longitude: cfg.Geo.Longitude,
			Accuracy:  cfg.Geo.Accuracy,
		}
	default:
		logger.Warn("No position source configured, detections will have no location")
	}
	tracker := geo.NewTracker(provider, cfg.Geo.Interval, logger)

	session := stream.NewSession(stream.Config{
		URL:              cfg.Stream.URL,
		CameraID:         cfg.Stream.CameraID,
		ReconnectDelay:   cfg.Stream.ReconnectDelay,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		AuthToken:        cfg.Backend.AuthToken,
	}, store, tracker, m, logger)

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken, logger)

	// Upload history lives for the console process only, mirroring the
	// view-lifetime semantics of the dashboard.
	uploads := history.NewMemoryStore(cfg.History.Capacity)

	engine := analytics.NewEngine(logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	sessionHandler := handlers.NewSessionHandler(session, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(engine, store, uploads, logger)
	detectHandler := handlers.NewDetectHandler(backendClient, uploads, m, logger)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))

	router.GET("/health", middleware.HealthCheck())
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.RequireToken(cfg.Security.APIToken, logger))
	{
		api.POST("/detect", rateLimiter.RateLimit(), detectHandler.Detect)
		api.GET("/analytics", analyticsHandler.GetAnalytics)
		api.GET("/session", sessionHandler.GetStatus)
		api.POST("/session/start", sessionHandler.Start)
		api.POST("/session/stop", sessionHandler.Stop)
	}

	return &Console{
		router:        router,
		logger:        logger,
		session:       session,
		tracker:       tracker,
		store:         store,
		backendClient: backendClient,
		rateLimiter:   rateLimiter,
		metrics:       m,
		config:        cfg,
	}, nil
}
