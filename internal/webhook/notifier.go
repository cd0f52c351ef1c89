// Package webhook delivers terminal task records to caller-supplied callback
// URLs. Delivery runs as its own queue job so callback retries never block or
// re-run conversion work, and the body travels inside the job payload so it
// survives record expiry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/queue"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Docpipe-Signature"

// Notifier handles webhook delivery jobs.
type Notifier struct {
	client *http.Client
	signer *Signer
	log    *zap.Logger
}

// NewNotifier constructs a Notifier. timeout bounds a single delivery attempt.
func NewNotifier(signer *Signer, timeout time.Duration, log *zap.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		signer: signer,
		log:    log,
	}
}

// HandleDeliver posts the terminal record body to the callback URL. Any
// non-2xx response or transport error returns an error so the queue retries
// the delivery with backoff.
func (n *Notifier) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode webhook payload: %v: %w", err, asynq.SkipRetry)
	}
	log := n.log.With(zap.String("task_id", payload.TaskID), zap.String("url", payload.URL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return fmt.Errorf("build webhook request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.signer.Enabled() {
		req.Header.Set(SignatureHeader, n.signer.Sign(payload.Body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", zap.Error(err))
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("webhook delivery rejected", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("deliver webhook: receiver returned %d", resp.StatusCode)
	}
	log.Info("webhook delivered", zap.Int("status", resp.StatusCode))
	return nil
}
