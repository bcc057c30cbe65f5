// Package extract provides text extraction from uploaded document formats.
package extract

import (
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned for MIME types outside the accepted set.
var ErrUnsupportedType = errors.New("unsupported file type")

// MIME types accepted for upload.
const (
	MimePDF    = "application/pdf"
	MimeDOCX   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeCSV    = "text/csv"
	MimeCSVAlt = "application/csv"
	MimeText   = "text/plain"
	MimeJSON   = "application/json"
)

// Supported reports whether mimeType is in the accepted set.
func Supported(mimeType string) bool {
	switch mimeType {
	case MimePDF, MimeDOCX, MimeCSV, MimeCSVAlt, MimeText, MimeJSON:
		return true
	}
	return false
}

// Extractor extracts plain text from document bytes.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the text content of a document based on its MIME type.
// JSON is treated as plain text so field names and values stay retrievable.
// Returns ErrUnsupportedType for MIME types outside the accepted set.
func (e *Extractor) Extract(content []byte, mimeType string) (string, error) {
	switch mimeType {
	case MimePDF:
		return extractPDF(content)
	case MimeDOCX:
		return extractDOCX(content)
	case MimeCSV, MimeCSVAlt:
		return extractCSV(content)
	case MimeText, MimeJSON:
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}
