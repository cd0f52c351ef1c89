// Package main runs the docpipe API server: it accepts conversion
// submissions, serves task and batch reads, and enqueues jobs for the worker
// pool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/api"
	"github.com/docpipehq/docpipe/internal/config"
	"github.com/docpipehq/docpipe/internal/gateway"
	"github.com/docpipehq/docpipe/internal/queue"
	"github.com/docpipehq/docpipe/internal/taskstore"
	"github.com/docpipehq/docpipe/internal/uploadstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	store := taskstore.New(rdb, cfg.ResultTTL)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	client := queue.NewClient(asynq.NewClient(redisOpt), queue.Config{
		MaxAttempts:        cfg.MaxAttempts,
		TaskTimeout:        cfg.TaskTimeout,
		WebhookMaxAttempts: cfg.WebhookMaxAttempts,
		WebhookTimeout:     cfg.WebhookTimeout,
	})
	defer client.Close()

	var uploads *uploadstore.Storage
	if cfg.UploadsEnabled() {
		uploads, err = uploadstore.New(uploadstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
		})
		if err != nil {
			logger.Fatal("init upload storage", zap.Error(err))
		}
		if err := uploads.EnsureBucket(ctx); err != nil {
			logger.Fatal("ensure upload bucket", zap.Error(err))
		}
	}

	gw := gateway.New(store, client, gateway.Config{
		EmbeddingsEnabled: cfg.EmbeddingsEnabled(),
		UploadsEnabled:    cfg.UploadsEnabled(),
		MaxBatchSize:      cfg.MaxBatchSize,
	}, logger)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	srv := api.New(cfg, gw, store, uploads, inspector, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
