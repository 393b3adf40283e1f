package core

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = models.ErrInvalidTransition

	// Extraction kinds.
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrFetchFailed            = errors.New("fetch failed")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrEmptyContent           = errors.New("empty content")
	ErrConversionFailed       = errors.New("conversion failed")

	// Embedding kinds.
	ErrServiceUnavailable    = errors.New("embedding service unavailable")
	ErrEmbeddingInvalidInput = errors.New("embedding input rejected")
	ErrQuotaExceeded         = errors.New("embedding quota exceeded")

	ErrStoreWrite = errors.New("store write failed")

	// Crawl kinds.
	ErrCrawlSubmit    = errors.New("crawl submit failed")
	ErrCrawlTimeout   = errors.New("crawl timed out")
	ErrCrawlAborted   = errors.New("crawl aborted")
	ErrCrawlFailed    = errors.New("crawl failed")
	ErrCrawlCancelled = errors.New("cancelled")
	ErrScanInProgress = errors.New("scan already in progress")
	ErrNoPagesIndexed = errors.New("no pages were indexed")
)

// ExtractionError reports why a source produced no text.
type ExtractionError struct {
	Kind   error // one of the extraction sentinels
	Source string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %v: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.Source, e.Kind)
}

func (e *ExtractionError) Unwrap() []error { return compact(e.Kind, e.Err) }

// NewExtractionError builds an ExtractionError of the given kind.
func NewExtractionError(kind error, source string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, Source: source, Err: err}
}

// EmbeddingError classifies a failed embedding call.
type EmbeddingError struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *EmbeddingError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() []error { return compact(e.Kind, e.Err) }

// Retryable reports whether the same request may succeed later.
// Quota errors are not retried within a run.
func (e *EmbeddingError) Retryable() bool {
	return errors.Is(e.Kind, ErrServiceUnavailable)
}

// StoreError wraps a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() []error { return compact(ErrStoreWrite, e.Err) }

// CrawlError is a run-level crawl failure: submit, timeout, aborted or failed.
type CrawlError struct {
	Kind  error
	JobID string
	Err   error
}

func (e *CrawlError) Error() string {
	msg := e.Kind.Error()
	if e.JobID != "" {
		msg = fmt.Sprintf("%s (job %s)", msg, e.JobID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CrawlError) Unwrap() []error { return compact(e.Kind, e.Err) }

// Retryable reports whether resubmitting the crawl may help.
func (e *CrawlError) Retryable() bool {
	return errors.Is(e.Kind, ErrCrawlSubmit) || errors.Is(e.Kind, ErrCrawlTimeout)
}

func compact(errs ...error) []error {
	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
