// Package model contains the task and batch record types shared across packages.
package model

import (
	"fmt"
	"time"
)

// TaskStatus describes the conversion lifecycle.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutputFormat enumerates supported conversion outputs.
type OutputFormat string

const (
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
	FormatText     OutputFormat = "text"
	FormatDoctags  OutputFormat = "doctags"
)

// ErrorKind classifies why a task failed without exposing internals.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindDownload   ErrorKind = "download"
	ErrKindConversion ErrorKind = "conversion"
	ErrKindEmbedding  ErrorKind = "embedding"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindMaxRetries ErrorKind = "max_retries_exceeded"
	ErrKindInternal   ErrorKind = "internal"
)

// ConversionOptions is the closed, validated option bundle passed to the
// conversion engine. Ranges are enforced at the gateway boundary.
type ConversionOptions struct {
	OutputFormat       OutputFormat `json:"output_format" validate:"required,oneof=markdown json text doctags"`
	ExtractTables      bool         `json:"extract_tables"`
	ExtractImages      bool         `json:"extract_images"`
	OCREnabled         bool         `json:"ocr_enabled"`
	GenerateEmbeddings bool         `json:"generate_embeddings"`
	ChunkSize          int          `json:"chunk_size" validate:"gte=100,lte=4096"`
	ChunkOverlap       int          `json:"chunk_overlap" validate:"gte=0,lte=500"`
}

// DefaultOptions returns the option bundle applied when a submission omits
// options entirely.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		OutputFormat:  FormatMarkdown,
		ExtractTables: true,
		OCREnabled:    true,
		ChunkSize:     512,
		ChunkOverlap:  50,
	}
}

// Source references the document to convert: exactly one of URL or UploadRef
// must be set.
type Source struct {
	URL       string `json:"url,omitempty"`
	UploadRef string `json:"uploaded_file_ref,omitempty"`
}

// Chunk is a slice of the converted text, optionally carrying an embedding.
type Chunk struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
}

// ChunkID builds the stable identifier for the i-th chunk of a task.
func ChunkID(taskID string, i int) string {
	return fmt.Sprintf("%s_chunk_%04d", taskID, i)
}

// Table holds an extracted table with both structured and markdown forms.
type Table struct {
	ID       string     `json:"id"`
	Page     int        `json:"page,omitempty"`
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	Markdown string     `json:"markdown,omitempty"`
}

// TaskRecord is the durable state object representing one conversion job.
// It is created pending by the gateway and mutated only by the worker that
// holds the pending->processing transition.
type TaskRecord struct {
	TaskID     string            `json:"task_id"`
	Status     TaskStatus        `json:"status"`
	Source     Source            `json:"source"`
	Options    ConversionOptions `json:"options"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	Filename     string       `json:"filename,omitempty"`
	DocumentType DocumentType `json:"document_type,omitempty"`

	Content          string  `json:"content,omitempty"`
	Chunks           []Chunk `json:"chunks,omitempty"`
	Tables           []Table `json:"tables,omitempty"`
	PageCount        int     `json:"page_count,omitempty"`
	ProcessingTimeMS int64   `json:"processing_time_ms,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	AttemptCount int        `json:"attempt_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a shallow copy safe for building the next state of a record.
func (r *TaskRecord) Clone() *TaskRecord {
	cp := *r
	return &cp
}
