// Package gateway admits conversion requests: it validates input, creates
// the pending task record, and enqueues the job. Validation is the only
// synchronous failure mode; everything after admission fails asynchronously
// into the record's failed state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/taskstore"
)

// ErrNotFound is returned by Get/Delete for unknown task ids.
var ErrNotFound = taskstore.ErrNotFound

// ValidationError marks a synchronously rejected submission. Nothing is
// stored or enqueued when one is returned.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Enqueuer abstracts the task queue for admission. The webhook path is used
// for batch members that reach a terminal state at admission and therefore
// never pass through a worker.
type Enqueuer interface {
	EnqueueConversion(ctx context.Context, taskID string) error
	EnqueueWebhook(ctx context.Context, taskID, url string, body []byte) error
}

// Config toggles optional capabilities surfaced during validation.
type Config struct {
	// EmbeddingsEnabled rejects generate_embeddings submissions at admission
	// when no embedding generator is configured.
	EmbeddingsEnabled bool
	// UploadsEnabled rejects uploaded_file_ref submissions when no upload
	// store is configured.
	UploadsEnabled bool
	// MaxBatchSize caps the number of inputs per batch submission.
	MaxBatchSize int
}

// Gateway is the submission entry point shared by the HTTP API and the batch
// coordinator.
type Gateway struct {
	store    *taskstore.Store
	queue    Enqueuer
	validate *validator.Validate
	cfg      Config
	log      *zap.Logger
}

// New constructs a Gateway.
func New(store *taskstore.Store, queue Enqueuer, cfg Config, log *zap.Logger) *Gateway {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return &Gateway{
		store:    store,
		queue:    queue,
		validate: validator.New(),
		cfg:      cfg,
		log:      log,
	}
}

// SubmitRequest is a validated-at-admission conversion request.
type SubmitRequest struct {
	Source     model.Source
	Options    *model.ConversionOptions
	WebhookURL string
	Metadata   map[string]string
	// Filename is the client-reported name for uploads; derived from the URL
	// path otherwise.
	Filename string
}

// Submit validates the request, creates a pending record and enqueues the
// conversion job. The record is rolled back if the enqueue fails so a record
// is never observable without a corresponding job.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) (*model.TaskRecord, error) {
	opts, err := g.checkRequest(req)
	if err != nil {
		return nil, err
	}
	rec := g.buildRecord(req, opts)
	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create task record: %w", err)
	}
	if err := g.queue.EnqueueConversion(ctx, rec.TaskID); err != nil {
		if derr := g.store.Delete(ctx, rec.TaskID); derr != nil && !errors.Is(derr, taskstore.ErrNotFound) {
			g.log.Warn("rollback after enqueue failure", zap.String("task_id", rec.TaskID), zap.Error(derr))
		}
		return nil, fmt.Errorf("enqueue conversion: %w", err)
	}
	g.log.Info("task admitted",
		zap.String("task_id", rec.TaskID),
		zap.String("url", rec.Source.URL),
		zap.String("uploaded_file_ref", rec.Source.UploadRef),
	)
	return rec, nil
}

// Get reads the task record.
func (g *Gateway) Get(ctx context.Context, taskID string) (*model.TaskRecord, error) {
	return g.store.Get(ctx, taskID)
}

// Delete removes the task record. In-flight processing is not cancelled; its
// eventual write is dropped against the missing key.
func (g *Gateway) Delete(ctx context.Context, taskID string) error {
	return g.store.Delete(ctx, taskID)
}

func (g *Gateway) checkRequest(req SubmitRequest) (model.ConversionOptions, error) {
	opts := model.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	if err := g.validate.Struct(opts); err != nil {
		return opts, validationErrorf("invalid options: %v", err)
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		return opts, validationErrorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", opts.ChunkOverlap, opts.ChunkSize)
	}
	if opts.GenerateEmbeddings && !g.cfg.EmbeddingsEnabled {
		return opts, validationErrorf("embedding generation is not configured on this deployment")
	}

	hasURL := req.Source.URL != ""
	hasRef := req.Source.UploadRef != ""
	switch {
	case hasURL == hasRef:
		return opts, validationErrorf("exactly one of url or uploaded_file_ref is required")
	case hasURL:
		if err := checkHTTPURL(req.Source.URL); err != nil {
			return opts, validationErrorf("invalid url: %v", err)
		}
	case hasRef && !g.cfg.UploadsEnabled:
		return opts, validationErrorf("upload storage is not configured on this deployment")
	}

	if req.WebhookURL != "" {
		if err := checkHTTPURL(req.WebhookURL); err != nil {
			return opts, validationErrorf("invalid webhook_url: %v", err)
		}
	}
	return opts, nil
}

func (g *Gateway) buildRecord(req SubmitRequest, opts model.ConversionOptions) *model.TaskRecord {
	filename := req.Filename
	if filename == "" && req.Source.URL != "" {
		if u, err := url.Parse(req.Source.URL); err == nil {
			if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
				filename = base
			}
		}
	}
	if filename != "" {
		filename = model.SanitizeFilename(filename)
	}
	return &model.TaskRecord{
		TaskID:     uuid.NewString(),
		Status:     model.StatusPending,
		Source:     req.Source,
		Options:    opts,
		WebhookURL: req.WebhookURL,
		Metadata:   req.Metadata,
		Filename:   filename,
		CreatedAt:  time.Now().UTC(),
	}
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
