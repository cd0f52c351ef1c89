package convert

import (
	"fmt"
	"strings"

	"github.com/docpipehq/docpipe/internal/model"
)

// ParseMarkdownTables scans text for GitHub-style pipe tables and returns
// them in structured form. A table is a header row, a separator row of
// dashes, and at least zero data rows.
func ParseMarkdownTables(text string) []model.Table {
	var tables []model.Table
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if !isTableRow(lines[i]) || !isSeparatorRow(lines[i+1]) {
			continue
		}
		headers := splitRow(lines[i])
		var rows [][]string
		var raw strings.Builder
		raw.WriteString(strings.TrimSpace(lines[i]) + "\n" + strings.TrimSpace(lines[i+1]) + "\n")
		j := i + 2
		for ; j < len(lines) && isTableRow(lines[j]); j++ {
			rows = append(rows, splitRow(lines[j]))
			raw.WriteString(strings.TrimSpace(lines[j]) + "\n")
		}
		tables = append(tables, model.Table{
			ID:       fmt.Sprintf("table_%04d", len(tables)),
			Headers:  headers,
			Rows:     rows,
			Markdown: strings.TrimRight(raw.String(), "\n"),
		})
		i = j - 1
	}
	return tables
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1
}

func isSeparatorRow(line string) bool {
	if !isTableRow(line) {
		return false
	}
	for _, cell := range splitRow(line) {
		cell = strings.TrimSpace(cell)
		if cell == "" || strings.Trim(cell, "-: ") != "" {
			return false
		}
	}
	return true
}

func splitRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}
