package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/taskstore"
)

// ErrBatchNotFound is returned by GetBatch for unknown batch ids.
var ErrBatchNotFound = taskstore.ErrNotFound

// BatchRequest submits several sources sharing one set of options.
type BatchRequest struct {
	Inputs     []model.Source
	Options    *model.ConversionOptions
	WebhookURL string
	Metadata   map[string]string
}

// BatchView is the read-time aggregate of a batch and its members.
type BatchView struct {
	BatchID   string
	Status    model.BatchStatus
	CreatedAt time.Time
	Members   []*model.TaskRecord
	// Missing lists member ids whose records expired or were deleted. They
	// count as failed in the aggregate status.
	Missing []string
}

// SubmitBatch admits every input independently. A member that fails
// validation is stored as an immediately failed record and never enqueued;
// it does not abort the rest of the batch. Infrastructure failures do abort.
func (g *Gateway) SubmitBatch(ctx context.Context, req BatchRequest) (*model.BatchRecord, []*model.TaskRecord, error) {
	if len(req.Inputs) == 0 {
		return nil, nil, validationErrorf("batch requires at least one input")
	}
	if len(req.Inputs) > g.cfg.MaxBatchSize {
		return nil, nil, validationErrorf("batch size %d exceeds limit of %d", len(req.Inputs), g.cfg.MaxBatchSize)
	}

	members := make([]*model.TaskRecord, 0, len(req.Inputs))
	for i, src := range req.Inputs {
		rec, err := g.Submit(ctx, SubmitRequest{
			Source:     src,
			Options:    req.Options,
			WebhookURL: req.WebhookURL,
			Metadata:   req.Metadata,
		})
		if err != nil {
			if !IsValidation(err) {
				return nil, nil, fmt.Errorf("batch member %d: %w", i, err)
			}
			rec, err = g.storeRejected(ctx, src, req, err)
			if err != nil {
				return nil, nil, fmt.Errorf("batch member %d: %w", i, err)
			}
		}
		members = append(members, rec)
	}

	batch := &model.BatchRecord{
		BatchID:   uuid.NewString(),
		TaskIDs:   make([]string, 0, len(members)),
		CreatedAt: time.Now().UTC(),
	}
	for _, rec := range members {
		batch.TaskIDs = append(batch.TaskIDs, rec.TaskID)
	}
	if err := g.store.CreateBatch(ctx, batch); err != nil {
		return nil, nil, fmt.Errorf("create batch record: %w", err)
	}
	g.log.Info("batch admitted", zap.String("batch_id", batch.BatchID), zap.Int("members", len(members)))
	return batch, members, nil
}

// storeRejected records a member that failed admission as a terminal failed
// task so the batch aggregate can account for it.
func (g *Gateway) storeRejected(ctx context.Context, src model.Source, req BatchRequest, verr error) (*model.TaskRecord, error) {
	now := time.Now().UTC()
	opts := model.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	rec := &model.TaskRecord{
		TaskID:      uuid.NewString(),
		Status:      model.StatusFailed,
		Source:      src,
		Options:     opts,
		WebhookURL:  req.WebhookURL,
		Metadata:    req.Metadata,
		Error:       verr.Error(),
		ErrorKind:   model.ErrKindValidation,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store rejected member: %w", err)
	}
	// The member is terminal the moment it is stored, so its webhook fires
	// here; no worker will ever see this record.
	if rec.WebhookURL != "" {
		body, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode rejected member: %w", err)
		}
		if err := g.queue.EnqueueWebhook(ctx, rec.TaskID, rec.WebhookURL, body); err != nil {
			g.log.Error("enqueue webhook for rejected member", zap.String("task_id", rec.TaskID), zap.Error(err))
		}
	}
	return rec, nil
}

// GetBatch reads the batch and its member records and derives the aggregate
// status. Members whose records have expired count as failed.
func (g *Gateway) GetBatch(ctx context.Context, batchID string) (*BatchView, error) {
	batch, err := g.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	view := &BatchView{
		BatchID:   batch.BatchID,
		CreatedAt: batch.CreatedAt,
		Members:   make([]*model.TaskRecord, 0, len(batch.TaskIDs)),
	}
	statuses := make([]model.TaskStatus, 0, len(batch.TaskIDs))
	for _, id := range batch.TaskIDs {
		rec, err := g.store.Get(ctx, id)
		if errors.Is(err, taskstore.ErrNotFound) {
			view.Missing = append(view.Missing, id)
			statuses = append(statuses, model.StatusFailed)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read batch member %s: %w", id, err)
		}
		view.Members = append(view.Members, rec)
		statuses = append(statuses, rec.Status)
	}
	view.Status = model.DeriveBatchStatus(statuses)
	return view, nil
}
