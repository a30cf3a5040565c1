// Package main runs the live streaming HTTP server with the WebSocket coordination core and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-live/backend/config"
	"github.com/aura-live/backend/internal/api"
	"github.com/aura-live/backend/internal/auth"
	"github.com/aura-live/backend/internal/metrics"
	"github.com/aura-live/backend/internal/middleware"
	"github.com/aura-live/backend/internal/monetization"
	"github.com/aura-live/backend/internal/realtime"
	"github.com/aura-live/backend/internal/store"
	"github.com/aura-live/backend/internal/worker"
	"github.com/aura-live/backend/pkg/database"
	"github.com/aura-live/backend/pkg/queue"
	"github.com/aura-live/backend/pkg/redis"
	"github.com/aura-live/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" && cfg.AWS.TranscriptsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TranscriptsBucket:    cfg.AWS.TranscriptsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	pg := store.NewPostgres(pool)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	verifier := auth.NewTokenVerifier(jwtService, pg)
	sink := monetization.New(cfg.Monetization.WebhookURL, cfg.Monetization.WebhookSecret, cfg.Live.SinkTimeout, logger)
	m := metrics.New()
	jobQueue := queue.NewQueue(rdb.Client, logger)

	hub := realtime.NewHub(pg, sink, realtime.OptionsFromConfig(cfg), logger)
	hub.SetMetrics(m)
	hub.SetEventPublisher(realtime.NewRedisPubSub(rdb.Client, logger))
	hub.SetTranscriptQueue(jobQueue)

	// Streams left live by a previous process get a grace window to be resumed.
	n, err := hub.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile live streams", zap.Error(err))
	} else if n > 0 {
		logger.Info("reconciled live streams", zap.Int("count", n))
	}

	var linker api.TranscriptLinker
	if s3Client != nil {
		linker = s3Client
	}
	handler := api.NewHandler(pg, hub, linker, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics(m))

	router.GET("/health", handler.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	protected := router.Group("")
	protected.Use(middleware.JWT(jwtService))
	handler.Register(protected)

	// WebSocket: token via Authorization header, ?token= or the first auth frame.
	router.GET("/ws", realtime.ServeWs(hub, verifier, cfg.Live.IdentityTimeout, middleware.AllowOrigin(cfg.Server.CORSAllowedOrigins), logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process transcript exporter; cmd/worker runs the same loop standalone.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if s3Client != nil {
		exporter := worker.NewTranscriptExporter(pg, s3Client, jobQueue, logger)
		go exporter.Run(workerCtx)
		logger.Info("transcript worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	hub.Close()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
