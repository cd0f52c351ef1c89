package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/docpipehq/docpipe/internal/chunk"
	"github.com/docpipehq/docpipe/internal/convert"
	"github.com/docpipehq/docpipe/internal/download"
	"github.com/docpipehq/docpipe/internal/model"
	"github.com/docpipehq/docpipe/internal/uploadstore"
)

// failure classifies an attempt error: its record-facing kind and whether the
// queue should redeliver the job.
type failure struct {
	kind      model.ErrorKind
	retryable bool
	err       error
}

// result carries everything a successful attempt writes into the record.
type result struct {
	content   string
	chunks    []model.Chunk
	tables    []model.Table
	pageCount int
	docType   model.DocumentType
	filename  string
}

// execute runs one conversion attempt end to end: resolve the source to a
// local file, convert it, then chunk and optionally embed the text.
func (p *Processor) execute(ctx context.Context, rec *model.TaskRecord) (*result, *failure) {
	path, filename, contentType, fail := p.resolveSource(ctx, rec)
	if fail != nil {
		return nil, fail
	}
	defer os.Remove(path)

	docType := model.DetectDocumentType(filename, contentType)
	doc, err := p.engine.Convert(ctx, path, docType, rec.Options)
	if err != nil {
		switch {
		case jobExpired(ctx):
			return nil, &failure{kind: model.ErrKindTimeout, err: fmt.Errorf("conversion exceeded the attempt time budget: %w", err)}
		case errors.Is(err, convert.ErrUnsupportedType), errors.Is(err, convert.ErrCorruptDocument):
			return nil, &failure{kind: model.ErrKindConversion, err: err}
		default:
			return nil, &failure{kind: model.ErrKindConversion, retryable: true, err: err}
		}
	}

	chunks, fail := p.buildChunks(ctx, rec, doc.PlainText)
	if fail != nil {
		return nil, fail
	}

	return &result{
		content:   doc.Content,
		chunks:    chunks,
		tables:    doc.Tables,
		pageCount: doc.PageCount,
		docType:   docType,
		filename:  filename,
	}, nil
}

// resolveSource fetches the document to a temp file owned by the caller.
func (p *Processor) resolveSource(ctx context.Context, rec *model.TaskRecord) (path, filename, contentType string, fail *failure) {
	if rec.Source.URL != "" {
		res, err := p.downloader.Fetch(ctx, rec.Source.URL)
		if err != nil {
			if jobExpired(ctx) {
				return "", "", "", &failure{kind: model.ErrKindTimeout, err: fmt.Errorf("download exceeded the attempt time budget: %w", err)}
			}
			return "", "", "", &failure{kind: model.ErrKindDownload, retryable: download.IsTransient(err), err: err}
		}
		return res.Path, res.Filename, res.MIMEType, nil
	}

	if p.uploads == nil {
		return "", "", "", &failure{kind: model.ErrKindInternal, err: errors.New("upload storage not configured")}
	}
	path, contentType, err := p.uploads.FetchTemp(ctx, rec.Source.UploadRef)
	if err != nil {
		if errors.Is(err, uploadstore.ErrObjectMissing) {
			return "", "", "", &failure{kind: model.ErrKindDownload, err: err}
		}
		if jobExpired(ctx) {
			return "", "", "", &failure{kind: model.ErrKindTimeout, err: fmt.Errorf("upload fetch exceeded the attempt time budget: %w", err)}
		}
		return "", "", "", &failure{kind: model.ErrKindDownload, retryable: true, err: err}
	}
	filename = rec.Filename
	if filename == "" {
		filename = rec.Source.UploadRef
	}
	return path, filename, contentType, nil
}

// buildChunks slices the plain text and, when requested, embeds each chunk.
// Embedding backends fail transiently under load, so those errors hand the
// job back for retry.
func (p *Processor) buildChunks(ctx context.Context, rec *model.TaskRecord, text string) ([]model.Chunk, *failure) {
	parts := chunk.Split(text, rec.Options.ChunkSize, rec.Options.ChunkOverlap)
	chunks := make([]model.Chunk, 0, len(parts))
	for i, part := range parts {
		c := model.Chunk{ID: model.ChunkID(rec.TaskID, i), Content: part}
		if rec.Options.GenerateEmbeddings {
			if p.embedder == nil {
				return nil, &failure{kind: model.ErrKindEmbedding, err: errors.New("no embedding generator configured")}
			}
			vec, err := p.embedder.Embed(ctx, part)
			if err != nil {
				if jobExpired(ctx) {
					return nil, &failure{kind: model.ErrKindTimeout, err: fmt.Errorf("embedding exceeded the attempt time budget: %w", err)}
				}
				return nil, &failure{kind: model.ErrKindEmbedding, retryable: true, err: fmt.Errorf("embed chunk %d: %w", i, err)}
			}
			c.Embedding = vec
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// jobExpired reports whether the attempt's own time budget elapsed. Timeouts
// inside a single client call (download, embed) also surface as
// context.DeadlineExceeded but mean a slow dependency, not an exhausted job;
// those fall through to the caller's transient classification.
func jobExpired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
