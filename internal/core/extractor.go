package core

import (
	"context"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Source is the raw input of one extraction.
type Source struct {
	Kind     models.SourceKind
	Locator  string // file name or URL
	Data     []byte // file bytes, empty for urls
	MimeType string
}

// ExtractedText represents the result of text extraction with its metadata.
type ExtractedText struct {
	Text     string
	Metadata models.ExtractionMetadata
}

// DocumentExtractor turns a file or URL into normalized text.
type DocumentExtractor interface {
	Extract(ctx context.Context, src Source) (*ExtractedText, error)
}

// ConversionResult is the plain text a converter produced for a binary document.
type ConversionResult struct {
	Text     string
	ByteSize int64
	External bool
}

// DocumentConverter turns office and PDF formats into text.
type DocumentConverter interface {
	Convert(ctx context.Context, filename string, data []byte) (*ConversionResult, error)
}
