// Package queue wraps asynq task construction and enqueueing. The broker
// gives at-least-once delivery with delayed re-enqueue, which the worker
// treats as a hard constraint: every handler must tolerate redelivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TypeConversionProcess is scheduled for each admitted submission.
	TypeConversionProcess = "conversion:process"
	// TypeWebhookDeliver is scheduled once per terminal transition when the
	// task carries a webhook URL.
	TypeWebhookDeliver = "webhook:deliver"

	// QueueConversion and QueueWebhooks separate long-running conversion work
	// from short webhook deliveries so neither starves the other.
	QueueConversion = "conversion"
	QueueWebhooks   = "webhooks"
)

// ConversionPayload references the task record a worker should process.
type ConversionPayload struct {
	TaskID string `json:"task_id"`
}

// WebhookPayload carries the callback target and the serialized task record.
// The body is captured at transition time so delivery still works if the
// record is deleted or expires before the callback lands.
type WebhookPayload struct {
	TaskID string          `json:"task_id"`
	URL    string          `json:"url"`
	Body   json.RawMessage `json:"body"`
}

// Config bounds retry and timeout behavior for enqueued jobs.
type Config struct {
	// MaxAttempts is the total number of conversion attempts including the
	// first delivery.
	MaxAttempts int
	// TaskTimeout is the wall-clock budget per conversion attempt.
	TaskTimeout time.Duration
	// WebhookMaxAttempts bounds delivery retries per terminal transition.
	WebhookMaxAttempts int
	// WebhookTimeout bounds a single delivery attempt.
	WebhookTimeout time.Duration
}

// Client enqueues jobs for the worker pool.
type Client struct {
	c   *asynq.Client
	cfg Config
}

// NewClient wraps an asynq client.
func NewClient(c *asynq.Client, cfg Config) *Client {
	return &Client{c: c, cfg: cfg}
}

// EnqueueConversion queues a conversion job for the task.
func (q *Client) EnqueueConversion(ctx context.Context, taskID string) error {
	data, err := json.Marshal(ConversionPayload{TaskID: taskID})
	if err != nil {
		return fmt.Errorf("marshal conversion payload: %w", err)
	}
	task := asynq.NewTask(TypeConversionProcess, data)
	_, err = q.c.EnqueueContext(ctx, task,
		asynq.Queue(QueueConversion),
		asynq.MaxRetry(q.cfg.MaxAttempts-1),
		asynq.Timeout(q.cfg.TaskTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue conversion task: %w", err)
	}
	return nil
}

// EnqueueWebhook queues a delivery job carrying the terminal record body.
func (q *Client) EnqueueWebhook(ctx context.Context, taskID, url string, body []byte) error {
	data, err := json.Marshal(WebhookPayload{TaskID: taskID, URL: url, Body: body})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	task := asynq.NewTask(TypeWebhookDeliver, data)
	_, err = q.c.EnqueueContext(ctx, task,
		asynq.Queue(QueueWebhooks),
		asynq.MaxRetry(q.cfg.WebhookMaxAttempts-1),
		asynq.Timeout(q.cfg.WebhookTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue webhook task: %w", err)
	}
	return nil
}

// Close releases the underlying asynq client.
func (q *Client) Close() error {
	return q.c.Close()
}

// RetryDelay returns the server-side backoff policy: exponential doubling
// from a per-type base, capped so late retries stay bounded.
func RetryDelay(conversionBase, webhookBase, max time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, t *asynq.Task) time.Duration {
		base := conversionBase
		if t.Type() == TypeWebhookDeliver {
			base = webhookBase
		}
		d := base << uint(n)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}
