// Package convert defines the conversion engine boundary and ships a built-in
// engine covering text-bearing formats. Heavier engines (OCR, office formats)
// plug in behind the same interface.
package convert

import (
	"context"
	"errors"

	"github.com/docpipehq/docpipe/internal/model"
)

var (
	// ErrUnsupportedType means the engine cannot handle the document family.
	ErrUnsupportedType = errors.New("convert: unsupported document type")
	// ErrCorruptDocument means the input could not be parsed at all.
	ErrCorruptDocument = errors.New("convert: corrupt document")
)

// Document is the engine output: content rendered in the requested format,
// the plain text used for chunking, extracted tables, and document metadata.
type Document struct {
	Content   string
	PlainText string
	Tables    []model.Table
	Metadata  map[string]string
	PageCount int
}

// Engine converts a local file into structured content. Implementations must
// honor ctx cancellation; errors wrapping ErrUnsupportedType or
// ErrCorruptDocument are treated as permanent by the worker.
type Engine interface {
	Convert(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*Document, error)
}
