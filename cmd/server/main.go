// Package main runs the presentation platform HTTP server with WebSocket and graceful shutdown.
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

	"github.com/oratify/backend/config"
	"github.com/oratify/backend/internal/ai"
	"github.com/oratify/backend/internal/auth"
	"github.com/oratify/backend/internal/middleware"
	"github.com/oratify/backend/internal/presentations"
	"github.com/oratify/backend/internal/realtime"
	"github.com/oratify/backend/internal/sessions"
	"github.com/oratify/backend/internal/slides"
	"github.com/oratify/backend/internal/uploads"
	"github.com/oratify/backend/pkg/database"
	"github.com/oratify/backend/pkg/queue"
	"github.com/oratify/backend/pkg/redis"
	"github.com/oratify/backend/pkg/response"
	"github.com/oratify/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AssetsBucket:         cfg.AWS.AssetsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Realtime engine
	sessionRepo := sessions.NewRepository(pool)
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	registry := realtime.NewRegistry(logger)
	broadcaster := realtime.NewBroadcaster(registry, logger, pubsub, pubsub,
		time.Duration(cfg.Realtime.DebounceMs)*time.Millisecond)
	votes := realtime.NewVoteAggregator(broadcaster, sessionRepo, logger)

	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model,
		time.Duration(cfg.AI.AnswerTimeoutSec)*time.Second, logger)
	var dispatcher realtime.QuestionDispatcher
	if aiClient.Configured() {
		if cfg.AI.UseQueue {
			dispatcher = ai.NewQueueDispatcher(queue.NewQueue(rdb.Client, logger))
		} else {
			dispatcher = ai.NewInlineDispatcher(aiClient, sessionRepo, broadcaster,
				time.Duration(cfg.AI.AnswerTimeoutSec)*time.Second, logger)
		}
	}

	orchestrator := realtime.NewOrchestrator(sessionRepo, registry, broadcaster, votes, dispatcher, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Presentations and slides
	presentationRepo := presentations.NewRepository(pool)
	presentationHandler := presentations.NewHandler(presentationRepo)
	slideRepo := slides.NewRepository(pool)
	slideHandler := slides.NewHandler(slideRepo, presentationRepo)

	// Sessions
	sessionHandler := sessions.NewHandler(sessionRepo, presentationRepo, orchestrator, logger)

	// Slide assets
	uploadHandler := uploads.NewHandler(s3Client, presentationRepo, logger)

	validateToken := func(token string) (uuid.UUID, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.SpeakerID, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public join-code lookup for the audience join page
	router.GET("/join/:code", sessionHandler.GetByJoinCode)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Presentations
		api.GET("/presentations", presentationHandler.List)
		api.POST("/presentations", presentationHandler.Create)
		api.GET("/presentations/:id", presentationHandler.GetByID)
		api.PATCH("/presentations/:id", presentationHandler.Update)
		api.DELETE("/presentations/:id", presentationHandler.Delete)

		// Slides
		api.GET("/presentations/:id/slides", slideHandler.List)
		api.POST("/presentations/:id/slides", slideHandler.Create)
		api.PUT("/presentations/:id/slides/order", slideHandler.Reorder)
		api.PATCH("/slides/:id", slideHandler.Update)
		api.DELETE("/slides/:id", slideHandler.Delete)

		// Slide assets
		api.POST("/presentations/:id/assets/upload-url", uploadHandler.GenerateUploadURL)
		api.GET("/presentations/:id/assets/download-url", uploadHandler.GenerateDownloadURL)

		// Sessions
		api.POST("/presentations/:id/sessions", sessionHandler.Create)
		api.GET("/presentations/:id/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.GetByID)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/pause", sessionHandler.Pause)
		api.POST("/sessions/:id/resume", sessionHandler.Resume)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.PUT("/sessions/:id/slide", sessionHandler.ChangeSlide)
		api.GET("/sessions/:id/statistics", sessionHandler.Statistics)
		api.GET("/sessions/:id/slides/:slideId/responses", sessionHandler.Responses)
	}

	// WebSocket (join code in path; speaker token arrives in the first message)
	router.GET("/ws/sessions/:code", realtime.ServeWS(orchestrator, sessionRepo, validateToken, logger, realtime.SocketOptions{
		PingInterval:   time.Duration(cfg.Realtime.PingIntervalSec) * time.Second,
		MaxMissedPongs: cfg.Realtime.MaxMissedPongs,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
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
