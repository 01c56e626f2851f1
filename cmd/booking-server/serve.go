package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospital/booking/internal/config"
	"github.com/hospital/booking/internal/domain/admin"
	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/jobs"
	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/internal/platform/blobstore"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/middleware"
	"github.com/hospital/booking/internal/platform/notification"
	"github.com/hospital/booking/internal/platform/telemetry"
	"github.com/hospital/booking/pkg/validation"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

type serverPool interface {
	db.Beginner
	db.Pinger
}

// routerDeps is everything newRouter needs; tests substitute pgxmock and
// in-memory stores.
type routerDeps struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     serverPool
	cache    scheduling.SlotCache
	events   notification.Emitter
	exports  blobstore.BlobStore
	queue    blobstore.ExportQueue
	registry *prometheus.Registry
}

func newRouter(d routerDeps) *echo.Echo {
	cfg := d.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	httpMetrics := telemetry.NewHTTPMetrics(d.registry)

	// Global middleware
	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(telemetry.TracingMiddleware())
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(d.pool))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	// Rate limiting and request deadline on the API
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))
	if cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Directory and pricing
	directory := admin.NewService(admin.NewDirectoryRepo(d.pool))
	admin.NewHandler(directory).RegisterRoutes(apiV1)

	// Scheduling
	svc := scheduling.NewService(db.NewTxManager(d.pool), scheduling.NewPGRepositories(d.pool), directory, scheduling.Options{
		SlotMinutes:    cfg.SlotGranularity,
		MaxAttempts:    cfg.BookingMaxAttempt,
		PaymentURLBase: cfg.PaymentURLBase,
		Cache:          d.cache,
		Metrics:        telemetry.NewBookingMetrics(d.registry),
		Events:         d.events,
		Logger:         d.logger,
	})
	scheduling.NewHandler(svc, d.logger).RegisterRoutes(apiV1)

	// Exports
	blobstore.NewBlobHandler(d.exports, d.queue).RegisterRoutes(apiV1)

	return e
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	deps, err := openDeps(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize dependencies")
		return err
	}
	defer deps.Close()
	logger.Info().Bool("redis", deps.redis != nil).Msg("connected to database")

	var cache scheduling.SlotCache = scheduling.NopSlotCache{}
	if deps.redis != nil && cfg.SlotCacheTTL > 0 {
		cache = scheduling.NewRedisSlotCache(deps.redis, cfg.SlotCacheTTL)
	}

	exportQueue := jobs.NewExportQueue(jobs.NewRunner(deps.pool, deps.dispatcher, deps.exports, logger), cfg.ExportTimeout)
	defer exportQueue.Close()

	e := newRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		pool:     deps.pool,
		cache:    cache,
		events:   deps.dispatcher,
		exports:  deps.exports,
		queue:    exportQueue,
		registry: newRegistry(),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
