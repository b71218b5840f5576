// Package main runs the archive worker: ended-session history from the Redis queue to S3.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-remote/backend/config"
	"github.com/aura-remote/backend/internal/worker"
	"github.com/aura-remote/backend/pkg/queue"
	"github.com/aura-remote/backend/pkg/redis"
	"github.com/aura-remote/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Redis.Enabled() {
		logger.Fatal("REDIS_ADDR is required for the archive worker")
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		ArchiveBucket:   cfg.AWS.ArchiveBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewArchiveProcessor(jobQueue, s3Client, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	logger.Info("archive worker started", zap.String("bucket", s3Client.ArchiveBucket()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("archive worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
