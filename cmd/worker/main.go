// Package main runs the background worker: AI answer jobs and expired
// session cleanup.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oratify/backend/config"
	"github.com/oratify/backend/internal/ai"
	"github.com/oratify/backend/internal/realtime"
	"github.com/oratify/backend/internal/sessions"
	"github.com/oratify/backend/internal/worker"
	"github.com/oratify/backend/pkg/database"
	"github.com/oratify/backend/pkg/queue"
	"github.com/oratify/backend/pkg/redis"
)

const (
	cleanupInterval = time.Hour
	sessionMaxAge   = 24 * time.Hour
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	sessionRepo := sessions.NewRepository(pool)

	// The worker holds no sockets; its broadcaster publishes every answer
	// over Redis and the instance holding the connection delivers it.
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	registry := realtime.NewRegistry(logger)
	broadcaster := realtime.NewBroadcaster(registry, logger, pubsub, pubsub, 0)

	aiClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model,
		time.Duration(cfg.AI.AnswerTimeoutSec)*time.Second, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	processor := worker.NewAnswerProcessor(aiClient, sessionRepo, broadcaster, jobQueue,
		time.Duration(cfg.AI.AnswerTimeoutSec)*time.Second, logger)
	cleaner := worker.NewSessionCleaner(sessionRepo, cleanupInterval, sessionMaxAge, logger)

	go processor.Run(ctx)
	go cleaner.Run(ctx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
