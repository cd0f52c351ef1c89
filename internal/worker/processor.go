// Package worker executes conversion jobs. The handler claims the record by
// swapping pending to processing, so a redelivered job whose work already
// happened is dropped instead of re-run, and every terminal write goes through
// the same compare-and-set so deleted records are never resurrected.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/convert"
	"github.com/docpipehq/docpipe/internal/download"
	"github.com/docpipehq/docpipe/internal/embed"
	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/queue"
	"github.com/docpipehq/docpipe/internal/taskstore"
	"github.com/docpipehq/docpipe/internal/uploadstore"
)

// terminalWriteBudget bounds the store writes that must land after the job
// context is already cancelled or expired.
const terminalWriteBudget = 30 * time.Second

// WebhookEnqueuer schedules callback delivery after a terminal transition.
type WebhookEnqueuer interface {
	EnqueueWebhook(ctx context.Context, taskID, url string, body []byte) error
}

// Processor handles conversion jobs pulled from the queue.
type Processor struct {
	store       *taskstore.Store
	hooks       WebhookEnqueuer
	engine      convert.Engine
	embedder    embed.Generator
	downloader  *download.Downloader
	uploads     *uploadstore.Storage
	maxAttempts int
	log         *zap.Logger
}

// New constructs a Processor. embedder and uploads may be nil when the
// corresponding capability is disabled; the gateway rejects submissions that
// would need them.
func New(
	store *taskstore.Store,
	hooks WebhookEnqueuer,
	engine convert.Engine,
	embedder embed.Generator,
	downloader *download.Downloader,
	uploads *uploadstore.Storage,
	maxAttempts int,
	log *zap.Logger,
) *Processor {
	return &Processor{
		store:       store,
		hooks:       hooks,
		engine:      engine,
		embedder:    embedder,
		downloader:  downloader,
		uploads:     uploads,
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// HandleConversion processes one delivery of a conversion job. Returning a
// non-nil error hands the job back to the queue for delayed redelivery;
// returning nil acknowledges it.
func (p *Processor) HandleConversion(ctx context.Context, t *asynq.Task) error {
	var payload queue.ConversionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode conversion payload: %v: %w", err, asynq.SkipRetry)
	}
	log := p.log.With(zap.String("task_id", payload.TaskID))

	rec, raw, err := p.store.Load(ctx, payload.TaskID)
	if errors.Is(err, taskstore.ErrNotFound) {
		log.Info("record gone, dropping job")
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != model.StatusPending {
		log.Info("record not pending, dropping job", zap.String("status", string(rec.Status)))
		return nil
	}

	retries, _ := asynq.GetRetryCount(ctx)
	attempt := retries + 1

	proc := rec.Clone()
	proc.Status = model.StatusProcessing
	proc.AttemptCount = attempt
	raw, claimed, err := p.store.Swap(ctx, rec.TaskID, raw, proc, false)
	if err != nil {
		return err
	}
	if !claimed {
		log.Info("lost claim, dropping job")
		return nil
	}
	log.Info("processing", zap.Int("attempt", attempt))

	started := time.Now()
	res, fail := p.execute(ctx, proc)
	elapsed := time.Since(started).Milliseconds()

	// Terminal and revert writes must land even when the attempt context has
	// already expired.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteBudget)
	defer cancel()

	if fail == nil {
		done := proc.Clone()
		done.Status = model.StatusCompleted
		done.Content = res.content
		done.Chunks = res.chunks
		done.Tables = res.tables
		done.PageCount = res.pageCount
		done.DocumentType = res.docType
		if done.Filename == "" {
			done.Filename = res.filename
		}
		done.ProcessingTimeMS = elapsed
		now := time.Now().UTC()
		done.CompletedAt = &now
		p.finish(wctx, proc.TaskID, raw, done, log)
		return nil
	}

	if fail.retryable && attempt < p.maxAttempts {
		// Hand the job back to the queue. The claim must be reverted first or
		// the redelivery would find processing and drop itself. Failure
		// details stay out of the record: error fields are set on terminal
		// states only, so pollers during backoff see a clean pending record.
		back := proc.Clone()
		back.Status = model.StatusPending
		back.Error = ""
		back.ErrorKind = ""
		_, reverted, err := p.store.Swap(wctx, proc.TaskID, raw, back, false)
		if err != nil {
			log.Error("revert claim for retry", zap.Error(err))
			return err
		}
		if !reverted {
			log.Info("record changed during attempt, dropping retry")
			return nil
		}
		log.Warn("attempt failed, handing back for retry",
			zap.Int("attempt", attempt),
			zap.String("error_kind", string(fail.kind)),
			zap.Error(fail.err),
		)
		return fail.err
	}

	failed := proc.Clone()
	failed.Status = model.StatusFailed
	failed.Error = fail.err.Error()
	failed.ErrorKind = fail.kind
	if fail.retryable {
		failed.ErrorKind = model.ErrKindMaxRetries
		failed.Error = fmt.Sprintf("giving up after %d attempts: %v", attempt, fail.err)
	}
	failed.ProcessingTimeMS = elapsed
	now := time.Now().UTC()
	failed.CompletedAt = &now
	p.finish(wctx, proc.TaskID, raw, failed, log)
	return nil
}

// finish writes the terminal record and, when the swap landed, schedules the
// webhook delivery carrying the terminal body. A swap miss means the record
// was deleted or changed mid-flight; the result is dropped on purpose.
func (p *Processor) finish(ctx context.Context, taskID string, old []byte, next *model.TaskRecord, log *zap.Logger) {
	body, ok, err := p.store.Swap(ctx, taskID, old, next, true)
	if err != nil {
		log.Error("write terminal state", zap.Error(err))
		return
	}
	if !ok {
		log.Info("record gone before terminal write, result dropped")
		return
	}
	log.Info("task finished",
		zap.String("status", string(next.Status)),
		zap.String("error_kind", string(next.ErrorKind)),
		zap.Int("attempt", next.AttemptCount),
		zap.Int64("processing_time_ms", next.ProcessingTimeMS),
	)
	if next.WebhookURL == "" {
		return
	}
	if err := p.hooks.EnqueueWebhook(ctx, taskID, next.WebhookURL, body); err != nil {
		log.Error("enqueue webhook delivery", zap.Error(err))
	}
}
