package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docpipehq/docpipe/internal/model"
)

// render produces the caller-requested representation of the extracted text.
func render(text string, docType model.DocumentType, pages int, format model.OutputFormat) (string, error) {
	switch format {
	case model.FormatMarkdown, model.FormatText:
		// The built-in engine extracts plain text; markdown input passes
		// through untouched so existing structure survives.
		return text, nil
	case model.FormatJSON:
		data, err := json.Marshal(struct {
			DocumentType model.DocumentType `json:"document_type"`
			PageCount    int                `json:"page_count"`
			Text         string             `json:"text"`
		}{docType, pages, text})
		if err != nil {
			return "", fmt.Errorf("render json: %w", err)
		}
		return string(data), nil
	case model.FormatDoctags:
		var b strings.Builder
		b.WriteString("<document>")
		b.WriteString("<text>")
		b.WriteString(text)
		b.WriteString("</text>")
		b.WriteString("</document>")
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: output format %q", ErrUnsupportedType, format)
	}
}
