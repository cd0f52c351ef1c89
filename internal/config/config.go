// Package config centralizes how docpipe reads environment variables and
// exposes them as strongly typed Go values. Both binaries load the same
// struct; each uses the fields it needs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the API server and the worker.
type Config struct {
	// HTTP API.
	Address      string
	MaxBatchSize int

	// Redis backs both the task queue and the result store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Result retention. The TTL restarts when a task reaches a terminal state.
	ResultTTL time.Duration

	// Worker pool and retry policy.
	Concurrency    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	TaskTimeout    time.Duration

	// Webhook delivery.
	WebhookMaxAttempts int
	WebhookRetryBase   time.Duration
	WebhookTimeout     time.Duration
	WebhookSecret      []byte

	// Source document limits.
	MaxDownloadBytes int64
	DownloadTimeout  time.Duration
	MaxUploadBytes   int64

	// Optional S3-compatible store for direct uploads. Uploads are disabled
	// when the endpoint is empty.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string
	S3Bucket    string

	// Optional embedding generation. Disabled when the key is empty.
	GeminiAPIKey   string
	EmbeddingModel string
}

const (
	defaultAddress         = ":8080"
	defaultRedisAddr       = "127.0.0.1:6379"
	defaultResultTTL       = 168 * time.Hour
	defaultConcurrency     = 4
	defaultMaxAttempts     = 3
	defaultRetryBase       = 2 * time.Second
	defaultRetryMax        = 5 * time.Minute
	defaultTaskTimeout     = 15 * time.Minute
	defaultWebhookAttempts = 3
	defaultWebhookBase     = 5 * time.Second
	defaultWebhookTimeout  = 30 * time.Second
	defaultMaxDownload     = 100 << 20 // 100 MiB
	defaultDownloadTimeout = 5 * time.Minute
	defaultMaxUpload       = 100 << 20
	defaultMaxBatch        = 100
	defaultBucket          = "docpipe-uploads"
)

// Load reads configuration from environment variables falling back to defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Address:      readEnv("DOCPIPE_ADDRESS", defaultAddress),
		MaxBatchSize: parseInt("DOCPIPE_MAX_BATCH_SIZE", defaultMaxBatch),

		RedisAddr:     readEnv("DOCPIPE_REDIS_ADDR", defaultRedisAddr),
		RedisPassword: readEnv("DOCPIPE_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("DOCPIPE_REDIS_DB", 0),

		ResultTTL: parseDuration("DOCPIPE_RESULT_TTL", defaultResultTTL),

		Concurrency:    parseInt("DOCPIPE_CONCURRENCY", defaultConcurrency),
		MaxAttempts:    parseInt("DOCPIPE_MAX_ATTEMPTS", defaultMaxAttempts),
		RetryBaseDelay: parseDuration("DOCPIPE_RETRY_BASE_DELAY", defaultRetryBase),
		RetryMaxDelay:  parseDuration("DOCPIPE_RETRY_MAX_DELAY", defaultRetryMax),
		TaskTimeout:    parseDuration("DOCPIPE_TASK_TIMEOUT", defaultTaskTimeout),

		WebhookMaxAttempts: parseInt("DOCPIPE_WEBHOOK_MAX_ATTEMPTS", defaultWebhookAttempts),
		WebhookRetryBase:   parseDuration("DOCPIPE_WEBHOOK_RETRY_BASE", defaultWebhookBase),
		WebhookTimeout:     parseDuration("DOCPIPE_WEBHOOK_TIMEOUT", defaultWebhookTimeout),
		WebhookSecret:      parseSecret("DOCPIPE_WEBHOOK_SECRET"),

		MaxDownloadBytes: parseInt64("DOCPIPE_MAX_DOWNLOAD_BYTES", defaultMaxDownload),
		DownloadTimeout:  parseDuration("DOCPIPE_DOWNLOAD_TIMEOUT", defaultDownloadTimeout),
		MaxUploadBytes:   parseInt64("DOCPIPE_MAX_UPLOAD_BYTES", defaultMaxUpload),

		S3Endpoint:  readEnv("DOCPIPE_S3_ENDPOINT", ""),
		S3AccessKey: readEnv("DOCPIPE_S3_ACCESS_KEY", ""),
		S3SecretKey: readEnv("DOCPIPE_S3_SECRET_KEY", ""),
		S3UseSSL:    parseBool("DOCPIPE_S3_USE_SSL", false),
		S3Region:    readEnv("DOCPIPE_S3_REGION", ""),
		S3Bucket:    readEnv("DOCPIPE_S3_BUCKET", defaultBucket),

		GeminiAPIKey:   readEnv("DOCPIPE_GEMINI_API_KEY", ""),
		EmbeddingModel: readEnv("DOCPIPE_EMBEDDING_MODEL", ""),
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = defaultResultTTL
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatch
	}
	return cfg, nil
}

// UploadsEnabled reports whether an S3-compatible upload store is configured.
func (c *Config) UploadsEnabled() bool {
	return c.S3Endpoint != ""
}

// EmbeddingsEnabled reports whether an embedding backend is configured.
func (c *Config) EmbeddingsEnabled() bool {
	return c.GeminiAPIKey != ""
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}
