package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	syncapp "github.com/erp/syncengine/internal/application/sync"
	domain "github.com/erp/syncengine/internal/domain/sync"
	"github.com/erp/syncengine/internal/infrastructure/adapter"
	"github.com/erp/syncengine/internal/infrastructure/cache"
	"github.com/erp/syncengine/internal/infrastructure/config"
	"github.com/erp/syncengine/internal/infrastructure/logger"
	"github.com/erp/syncengine/internal/infrastructure/persistence"
	"github.com/erp/syncengine/internal/infrastructure/ratelimit"
	"github.com/erp/syncengine/internal/infrastructure/scheduler"
	"github.com/erp/syncengine/internal/interfaces/http/handler"
	"github.com/erp/syncengine/internal/interfaces/http/middleware"
	"github.com/erp/syncengine/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database with a GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	repo := persistence.NewGormSyncRepository(db.DB)

	// Idempotency cache: Redis when enabled and reachable, in-memory
	// otherwise. The ledger in Postgres stays authoritative either way.
	idemCache := cache.NewIdempotencyCache(cfg, log)
	defer func() {
		if err := idemCache.Close(); err != nil {
			log.Error("Error closing idempotency cache", zap.Error(err))
		}
	}()

	// Target adapters. Systems with a configured endpoint get the REST
	// connector; the rest get the dry-run adapter, which logs deliveries
	// instead of calling out.
	adapters := adapter.NewStaticRegistry()
	for _, system := range cfg.Engine.Systems {
		code := domain.SystemCode(system)
		if ep, ok := cfg.Engine.Adapters[system]; ok {
			httpAdapter, err := adapter.NewHTTPAdapter(code, adapter.HTTPAdapterConfig{
				BaseURL: ep.BaseURL,
				APIKey:  ep.APIKey,
				Timeout: ep.Timeout,
			}, log)
			if err != nil {
				log.Fatal("Failed to create HTTP adapter",
					zap.String("system", system), zap.Error(err))
			}
			adapters.RegisterSystem(code, httpAdapter)
			continue
		}
		adapters.RegisterSystem(code, adapter.NewLogAdapter(code, log))
	}
	log.Info("Registered target adapters", zap.Strings("systems", cfg.Engine.Systems))

	service := syncapp.NewService(repo, adapters, ratelimit.NewFactory(log), idemCache, log)
	service.SetMaxActiveJobs(cfg.Engine.MaxActiveJobs)
	service.SetJobDefaults(domain.JobConfig{
		ConflictStrategy: domain.Strategy(cfg.Engine.ConflictStrategy),
		BatchSize:        cfg.Engine.BatchSize,
		MaxRetries:       cfg.Engine.MaxRetries,
		RateLimit:        cfg.Engine.RateLimit,
		InterBatchDelay:  cfg.Engine.InterBatchDelay,
	})

	if cfg.Scheduler.Enabled {
		entityTypes := make([]domain.EntityType, 0, len(cfg.Scheduler.EntityTypes))
		for _, et := range cfg.Scheduler.EntityTypes {
			entityTypes = append(entityTypes, domain.EntityType(et))
		}
		systems := make([]domain.SystemCode, 0, len(cfg.Engine.Systems))
		for _, s := range cfg.Engine.Systems {
			systems = append(systems, domain.SystemCode(s))
		}
		sched, err := scheduler.New(scheduler.Config{
			Enabled:     true,
			Interval:    cfg.Scheduler.Interval,
			TenantID:    uuid.MustParse(cfg.Scheduler.TenantID),
			Systems:     systems,
			EntityTypes: entityTypes,
		}, service, log)
		if err != nil {
			log.Fatal("Failed to create scheduler", zap.Error(err))
		}
		if err := sched.Start(context.Background()); err != nil {
			log.Fatal("Failed to start scheduler", zap.Error(err))
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = sched.Stop(stopCtx)
		}()
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Fatal("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig()))

	if cfg.HTTP.RateLimitEnabled {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)))
		log.Info("HTTP rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithHealthHandler(healthHandler(db)),
	).
		Register(handler.NewSyncHandler(service)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
