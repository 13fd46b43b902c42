package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/GoPolymarket/capturegate/internal/body"
	"github.com/GoPolymarket/capturegate/internal/capture"
	"github.com/GoPolymarket/capturegate/internal/config"
	"github.com/GoPolymarket/capturegate/internal/handler"
	"github.com/GoPolymarket/capturegate/internal/middleware"
	"github.com/GoPolymarket/capturegate/internal/pkg/logger"
	"github.com/GoPolymarket/capturegate/internal/policy"
	"github.com/GoPolymarket/capturegate/internal/proxy"
	"github.com/GoPolymarket/capturegate/internal/service"
	"github.com/GoPolymarket/capturegate/internal/sink"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	// 1. Load Configuration
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)

	// 2. Capture policies, hot-reloaded from the config file
	snap, err := policy.Build(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to build capture policies: %v", err)
	}
	policies := policy.NewStore(snap)
	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Error("Config reload rejected, keeping current matchers", "error", err)
			return
		}
		fresh, err := policy.Build(next, nil)
		if err != nil {
			logger.Error("Matcher rebuild failed, keeping current matchers", "error", err)
			return
		}
		policies.Swap(fresh)
		logger.Info("Capture matchers reloaded", "matchers", fresh.Matchers())
	})

	// 3. Body store and capture writer
	store, err := body.NewOSFileStore(cfg.Capture.Dir)
	if err != nil {
		log.Fatalf("Failed to open body store: %v", err)
	}
	writer := capture.NewWriter(store, capture.Options{
		Threshold: cfg.Capture.MemoryThreshold,
		Workers:   cfg.Capture.Workers,
		QueueSize: cfg.Capture.QueueSize,
	})

	// 4. Sinks. Redis and Postgres are only dialed when a sink needs them.
	var (
		redisOnce sync.Once
		redisCli  *redis.Client
		redisErr  error
		dbOnce    sync.Once
		db        *gorm.DB
		dbErr     error
	)
	sinks, err := sink.Build(cfg.Sinks, sink.Deps{
		Opener:      store,
		RenderLimit: cfg.Capture.RenderLimit,
		Redis: func() (sink.ListClient, error) {
			redisOnce.Do(func() {
				redisCli, redisErr = sink.OpenRedis(cfg.Redis)
				if redisErr == nil {
					logger.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr)
				}
			})
			return redisCli, redisErr
		},
		DB: func() (*gorm.DB, error) {
			dbOnce.Do(func() {
				db, dbErr = sink.OpenPostgres(cfg.Database.DSN)
				if dbErr == nil {
					logger.Info("✅ Connected to PostgreSQL")
				}
			})
			return db, dbErr
		},
	})
	if err != nil {
		log.Fatalf("Failed to build sinks: %v", err)
	}
	dispatcher := sink.NewDispatcher(sinks, time.Duration(cfg.Delivery.SinkTimeoutMs)*time.Millisecond)

	// 5. Core services
	accessLogSvc := service.NewAccessLogService(store, dispatcher, service.AccessLogOptions{
		Workers:   cfg.Delivery.Workers,
		QueueSize: cfg.Delivery.QueueSize,
		RecentMax: cfg.Delivery.RecentMax,
	})
	retention, err := service.NewRetention(store, cfg.Capture.ReclaimSchedule, time.Duration(cfg.Capture.RetentionHours)*time.Hour)
	if err != nil {
		log.Fatalf("Failed to configure retention: %v", err)
	}
	if err := retention.Start(); err != nil {
		log.Fatalf("Failed to start retention: %v", err)
	}

	proxyHandler, err := proxy.NewHandler(cfg.Upstream, cfg.Breaker)
	if err != nil {
		log.Fatalf("Failed to initialize proxy: %v", err)
	}
	accessLogHandler := handler.NewAccessLogHandler(accessLogSvc, policies, cfg.Capture.RenderLimit)

	// 6. Setup Router
	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "capturegate", "breaker": proxyHandler.Breaker().State()})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg.Auth))
	{
		admin.GET("/access-logs", accessLogHandler.List)
		admin.GET("/matchers", accessLogHandler.Matchers)
	}

	// everything else goes upstream
	r.NoRoute(middleware.CaptureMiddleware(policies, writer, accessLogSvc), proxyHandler.Handle)

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 CaptureGate started", "port", cfg.Server.Port, "upstream", cfg.Upstream.URL, "sinks", len(sinks))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	// in-flight records finish before their sinks go away
	accessLogSvc.Close()
	writer.Close()
	retention.Stop()
	sink.Close(sinks)
	if redisCli != nil {
		_ = redisCli.Close()
	}

	logger.Info("Server exiting")
}
