package model

import (
	"path/filepath"
	"strings"
)

// DocumentType identifies the source document family.
type DocumentType string

const (
	DocPDF      DocumentType = "pdf"
	DocDOCX     DocumentType = "docx"
	DocPPTX     DocumentType = "pptx"
	DocXLSX     DocumentType = "xlsx"
	DocHTML     DocumentType = "html"
	DocImage    DocumentType = "image"
	DocAsciiDoc DocumentType = "asciidoc"
	DocMarkdown DocumentType = "md"
	DocText     DocumentType = "txt"
)

var mimeTypes = map[string]DocumentType{
	"application/pdf": DocPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   DocDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": DocPPTX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         DocXLSX,
	"text/html":     DocHTML,
	"text/markdown": DocMarkdown,
	"text/plain":    DocText,
	"image/png":     DocImage,
	"image/jpeg":    DocImage,
	"image/tiff":    DocImage,
	"image/webp":    DocImage,
	"image/bmp":     DocImage,
}

var extTypes = map[string]DocumentType{
	".pdf":      DocPDF,
	".docx":     DocDOCX,
	".pptx":     DocPPTX,
	".xlsx":     DocXLSX,
	".html":     DocHTML,
	".htm":      DocHTML,
	".md":       DocMarkdown,
	".markdown": DocMarkdown,
	".adoc":     DocAsciiDoc,
	".asciidoc": DocAsciiDoc,
	".txt":      DocText,
	".png":      DocImage,
	".jpg":      DocImage,
	".jpeg":     DocImage,
	".tiff":     DocImage,
	".tif":      DocImage,
	".webp":     DocImage,
	".bmp":      DocImage,
}

// DetectDocumentType resolves the document family from the MIME type reported
// by the transport, falling back to the filename extension and finally to PDF,
// the most common input.
func DetectDocumentType(filename, contentType string) DocumentType {
	if mt := strings.TrimSpace(strings.Split(contentType, ";")[0]); mt != "" {
		if t, ok := mimeTypes[strings.ToLower(mt)]; ok {
			return t
		}
	}
	if t, ok := extTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return DocPDF
}

// SanitizeFilename strips path separators and other characters that could
// escape the intended storage location.
func SanitizeFilename(name string) string {
	name = filepath.Base(name)
	for _, c := range []string{"/", "\\", "\x00", "..", ":"} {
		name = strings.ReplaceAll(name, c, "_")
	}
	if len(name) > 255 {
		name = name[:255]
	}
	if name == "" || name == "." {
		name = "document"
	}
	return name
}
