// Package main runs the docpipe worker pool: it pulls conversion and webhook
// jobs from the queue and drives task records to their terminal states.
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

	"github.com/docpipehq/docpipe/internal/config"
	"github.com/docpipehq/docpipe/internal/convert"
	"github.com/docpipehq/docpipe/internal/download"
	"github.com/docpipehq/docpipe/internal/embed"
	"github.com/docpipehq/docpipe/internal/queue"
	"github.com/docpipehq/docpipe/internal/taskstore"
	"github.com/docpipehq/docpipe/internal/uploadstore"
	"github.com/docpipehq/docpipe/internal/webhook"
	"github.com/docpipehq/docpipe/internal/worker"
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
	}

	var embedder embed.Generator
	if cfg.EmbeddingsEnabled() {
		gen, err := embed.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			logger.Fatal("init embedding generator", zap.Error(err))
		}
		embedder = gen
	}

	downloader := download.New(cfg.MaxDownloadBytes, cfg.DownloadTimeout)
	engine := convert.NewBuiltinEngine()
	processor := worker.New(store, client, engine, embedder, downloader, uploads, cfg.MaxAttempts, logger)
	notifier := webhook.NewNotifier(webhook.NewSigner(cfg.WebhookSecret), cfg.WebhookTimeout, logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			queue.QueueConversion: 6,
			queue.QueueWebhooks:   4,
		},
		RetryDelayFunc: queue.RetryDelay(cfg.RetryBaseDelay, cfg.WebhookRetryBase, cfg.RetryMaxDelay),
		Logger:         queue.NewZapLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConversionProcess, processor.HandleConversion)
	mux.HandleFunc(queue.TypeWebhookDeliver, notifier.HandleDeliver)

	go func() {
		<-ctx.Done()
		srv.Shutdown()
	}()

	logger.Info("worker starting", zap.Int("concurrency", cfg.Concurrency))
	if err := srv.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
