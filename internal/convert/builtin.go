package convert

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"github.com/docpipehq/docpipe/internal/model"
)

// BuiltinEngine handles text-bearing formats without external services: PDF
// text extraction, markdown, HTML and plain text. Office formats and OCR are
// left to pluggable engines and reported as unsupported.
type BuiltinEngine struct{}

// NewBuiltinEngine constructs the engine.
func NewBuiltinEngine() *BuiltinEngine {
	return &BuiltinEngine{}
}

// Convert implements Engine.
func (e *BuiltinEngine) Convert(ctx context.Context, path string, docType model.DocumentType, opts model.ConversionOptions) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		text  string
		pages int
		err   error
	)
	switch docType {
	case model.DocPDF:
		text, pages, err = extractPDF(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
		}
	case model.DocMarkdown, model.DocText, model.DocAsciiDoc:
		text, err = readFile(path)
		if err != nil {
			return nil, err
		}
		pages = 1
	case model.DocHTML:
		raw, err := readFile(path)
		if err != nil {
			return nil, err
		}
		text = stripTags(raw)
		pages = 1
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, docType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &Document{
		PlainText: text,
		PageCount: pages,
		Metadata: map[string]string{
			"source_format": string(docType),
			"characters":    strconv.Itoa(len(text)),
		},
	}
	if opts.ExtractTables {
		doc.Tables = ParseMarkdownTables(text)
	}
	doc.Content, err = render(text, docType, pages, opts.OutputFormat)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	return string(data), nil
}

// extractPDF pulls plain text page by page.
func extractPDF(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()
	var b strings.Builder
	total := r.NumPage()
	for page := 1; page <= total; page++ {
		p := r.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", page, err)
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String(), total, nil
}

// stripTags is a crude HTML-to-text pass: drops tags, keeps text nodes.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
