// Package main runs the live classroom HTTP server with WebSocket and graceful shutdown.
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
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/analytics"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/changefeed"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/participants"
	"github.com/aura-classroom/backend/internal/questions"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/retry"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/store"
	"github.com/aura-classroom/backend/internal/store/memory"
	"github.com/aura-classroom/backend/internal/store/postgres"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	policy := retry.Policy{
		Attempts: cfg.Live.RetryAttempts,
		Initial:  cfg.Live.RetryInitial,
		Max:      cfg.Live.RetryMax,
		Timeout:  cfg.Live.StoreTimeout,
	}

	// Change feed, bridged through Redis when several instances serve the same sessions
	var (
		feed     *changefeed.Feed
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		bridge := changefeed.NewRedisBridge(rdb.Client, logger)
		feed = changefeed.New(logger, cfg.Live.FeedBuffer, bridge, bridge)
		jobQueue = queue.NewQueue(rdb.Client, logger)
	} else {
		feed = changefeed.New(logger, cfg.Live.FeedBuffer, nil, nil)
		logger.Warn("redis disabled: change feed is local and settlements are not exported")
	}

	// Store
	var st store.Store
	switch cfg.Database.Driver {
	case config.StoreDriverMemory:
		st = memory.New(feed)
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{
			MaxConns: int32(cfg.Database.MaxConns),
		}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = postgres.New(pool, feed, logger)
	}

	// Live session engine
	coordinator := questions.NewCoordinator(st, policy, logger)
	defer coordinator.Stop()
	registry := sessions.NewRegistry(st, sessions.Config{
		JoinCodeAttempts: cfg.Live.JoinCodeAttempts,
		Retry:            policy,
	}, logger)
	registry.SetDeadlines(coordinator.Deadlines())
	if jobQueue != nil {
		registry.SetSettlementQueue(jobQueue)
	}
	tracker := participants.NewTracker(st, policy, logger)

	if n, err := coordinator.RecoverDeadlines(ctx); err != nil {
		logger.Error("recover question deadlines", zap.Error(err))
	} else if n > 0 {
		logger.Info("question deadlines recovered", zap.Int("count", n))
	}

	// Realtime
	realtime.Upgrader.CheckOrigin = realtime.CheckOrigin(cfg.Server.Origins())
	hub := realtime.NewHub(logger)
	hub.SetConnectionChangeHandler(func(sessionID uuid.UUID, count int) {
		logger.Debug("live connections changed", zap.String("session_id", sessionID.String()), zap.Int("count", count))
	})
	services := live.Services{
		Sessions:     registry,
		Questions:    coordinator,
		Participants: tracker,
		Feed:         feed,
	}

	// Reports and settlement exports
	reporter := analytics.NewReporter(st, policy, logger)
	reporter.Connections = hub.Count
	if cfg.AWS.ReportsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			Endpoint:             cfg.AWS.Endpoint,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			reporter.SetExports(s3Client)
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	sessionHandler := sessions.NewHandler(registry, logger)
	questionHandler := questions.NewHandler(coordinator, logger)
	participantHandler := participants.NewHandler(tracker, logger)
	analyticsHandler := analytics.NewHandler(reporter, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.Origins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "connections": hub.Total()})
	})

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		teacher := middleware.RequireRole(auth.RoleTeacher)
		student := middleware.RequireRole(auth.RoleStudent)

		// Sessions
		api.POST("/sessions", teacher, sessionHandler.Start)
		api.POST("/sessions/join", student, participantHandler.Join)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.PATCH("/sessions/:id/slide", teacher, sessionHandler.UpdateSlide)
		api.POST("/sessions/:id/end", teacher, sessionHandler.End)
		api.GET("/sessions/:id/participants", teacher, sessionHandler.Participants)
		api.GET("/sessions/:id/report", teacher, analyticsHandler.GetBySession)
		api.GET("/sessions/:id/settlement", teacher, analyticsHandler.GetSettlement)

		// Questions
		api.POST("/sessions/:id/questions", teacher, questionHandler.Push)
		api.GET("/sessions/:id/questions", teacher, questionHandler.List)
		api.POST("/sessions/:id/questions/close", teacher, questionHandler.CloseActive)
		api.GET("/sessions/:id/active-question", questionHandler.Active)
		api.POST("/questions/:id/close", teacher, questionHandler.Close)
		api.GET("/questions/:id/answers", teacher, questionHandler.Answers)
		api.POST("/questions/:id/answers", student, participantHandler.Answer)

		// Participants
		api.GET("/participants/:id", student, participantHandler.Get)
		api.POST("/participants/:id/leave", student, participantHandler.Leave)

		// WebSocket (token may be passed as a query parameter)
		api.GET("/ws", realtime.ServeWs(hub, services, logger))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
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
