// Package main runs the watch party HTTP server with WebSocket, heartbeat and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/watchparty/backend/config"
	"github.com/watchparty/backend/internal/archive"
	"github.com/watchparty/backend/internal/auth"
	"github.com/watchparty/backend/internal/emby"
	"github.com/watchparty/backend/internal/events"
	"github.com/watchparty/backend/internal/middleware"
	"github.com/watchparty/backend/internal/parties"
	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/internal/playback"
	"github.com/watchparty/backend/internal/realtime"
	"github.com/watchparty/backend/internal/sessionlog"
	"github.com/watchparty/backend/pkg/database"
	"github.com/watchparty/backend/pkg/queue"
	"github.com/watchparty/backend/pkg/redis"
	"github.com/watchparty/backend/pkg/response"
	"github.com/watchparty/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, database.PoolConfig{
		DSN:      cfg.Database.DSN(),
		MaxConns: int32(cfg.Database.MaxConns),
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var archiveLinks archive.Presigner
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ArchiveBucket:        cfg.AWS.ArchiveBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Warn("archive downloads disabled", zap.Error(err))
	} else {
		archiveLinks = s3Client
	}

	// Attendance log. Parties from a previous run are gone.
	attendanceRepo := sessionlog.NewRepository(pool)
	if n, err := attendanceRepo.CloseOpen(ctx); err != nil {
		logger.Warn("close stale attendance", zap.Error(err))
	} else if n > 0 {
		logger.Info("closed stale attendance rows", zap.Int64("rows", n))
	}
	attendance := sessionlog.NewRecorder(attendanceRepo, logger)

	embyClient := emby.New(emby.Config{
		URL:        cfg.Emby.URL,
		APIKey:     cfg.Emby.APIKey,
		Timeout:    cfg.Emby.Timeout(),
		RatePerSec: cfg.Emby.RatePerSec,
		RateBurst:  cfg.Emby.RateBurst,
	}, logger)
	hub := realtime.NewHub(logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	opts := []party.Option{
		party.WithPolicy(cfg.Party.Policy()),
		party.WithAttendanceLog(attendance.Join, attendance.Leave),
		party.WithEndedHandler(archive.NewEndedHandler(jobQueue, logger)),
	}
	var bridge *realtime.RedisBridge
	if cfg.Bridge.Enabled {
		bridge = realtime.NewRedisBridge(rdb.Client, cfg.Bridge.ChannelPrefix, logger)
		opts = append(opts, party.WithBridge(bridge))
	}
	manager := party.NewManager(playback.NewRouter(embyClient, hub, logger), embyClient, logger, opts...)
	manager.Start()
	defer manager.Stop()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(embyClient, jwtService, logger)
	partyHandler := parties.NewHandler(manager, embyClient, logger)
	webhook := events.NewWebhookHandler(manager, embyClient, cfg.Webhook.Secret, logger)
	attendanceHandler := sessionlog.NewHandler(attendanceRepo, func(sessionID string) (int64, bool) {
		if p := manager.SessionParty(sessionID); p != nil {
			return p.ID, true
		}
		return 0, false
	})
	archiveHandler := archive.NewHandler(archive.NewRepository(pool), archiveLinks, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "parties": len(manager.List())})
	})

	router.POST("/auth/session", authHandler.Session)

	// Media server webhooks (shared secret, no JWT)
	router.POST("/webhooks/playback", webhook.Playback)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, manager, logger, jwtService.SessionOf))

	partyGroup := router.Group("/party")
	partyGroup.Use(middleware.JWT(jwtService))
	{
		partyHandler.Register(partyGroup)
		partyGroup.GET("/attendance", attendanceHandler.GetAttendance)
		partyGroup.GET("/archives", archiveHandler.List)
		partyGroup.GET("/archives/:id/download-url", archiveHandler.DownloadURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return bridge.Listen(gctx, manager) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
