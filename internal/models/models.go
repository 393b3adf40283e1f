package models

import (
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a status change would move a row backwards.
var ErrInvalidTransition = errors.New("invalid status transition")

// TenantID names the vector namespace a knowledge base belongs to.
type TenantID string

// SourceKind is the origin of an ingested document.
type SourceKind string

const (
	SourceKindFile SourceKind = "file"
	SourceKindURL  SourceKind = "url"
)

// StageStatus tracks one pipeline stage (extraction or embedding) of a document.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// DocumentStatus is the overall status shown to callers.
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// KnowledgeBase carries the chunking settings of a tenant's knowledge base.
type KnowledgeBase struct {
	ID           string    `db:"id" json:"id"`
	TenantID     TenantID  `db:"tenant_id" json:"tenant_id"`
	Name         string    `db:"name" json:"name"`
	ChunkSize    int       `db:"chunk_size" json:"chunk_size"`
	ChunkOverlap int       `db:"chunk_overlap" json:"chunk_overlap"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Document represents an uploaded file, a single URL or a crawled page.
type Document struct {
	ID                    string         `db:"id" json:"id"`
	TenantID              TenantID       `db:"tenant_id" json:"tenant_id"`
	KnowledgeBaseID       string         `db:"knowledge_base_id" json:"knowledge_base_id"`
	SourceKind            SourceKind     `db:"source_kind" json:"source_kind"`
	SourceLocator         string         `db:"source_locator" json:"source_locator"` // file name or URL
	FileName              string         `db:"file_name" json:"file_name"`
	ContentType           string         `db:"content_type" json:"content_type"`
	StorageURL            string         `db:"storage_url" json:"storage_url,omitempty"` // S3 URL of the uploaded bytes
	ExtractedText         *string        `db:"extracted_text" json:"-"`
	ContentHash           *string        `db:"content_hash" json:"content_hash,omitempty"`
	ChunkCount            int            `db:"chunk_count" json:"chunk_count"`
	EmbeddingCount        int            `db:"embedding_count" json:"embedding_count"`
	TokensUsed            int            `db:"tokens_used" json:"tokens_used"`
	WordCount             int            `db:"word_count" json:"word_count"`
	ByteSize              int64          `db:"byte_size" json:"byte_size"`
	OriginalFormat        string         `db:"original_format" json:"original_format"`
	ExternalConverterUsed bool           `db:"external_converter_used" json:"external_converter_used"`
	ExtractionStatus      StageStatus    `db:"extraction_status" json:"extraction_status"`
	EmbeddingStatus       StageStatus    `db:"embedding_status" json:"embedding_status"`
	Status                DocumentStatus `db:"status" json:"status"`
	ErrorMessage          string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at" json:"updated_at"`
}

// SetEmbeddingStatus moves the embedding stage, refusing to leave pending
// before extraction has completed.
func (d *Document) SetEmbeddingStatus(s StageStatus) error {
	if s != StagePending && d.ExtractionStatus != StageCompleted {
		return ErrInvalidTransition
	}
	d.EmbeddingStatus = s
	return nil
}

// Chunk is one slice of a document's normalized text. Start and End are byte offsets.
type Chunk struct {
	DocumentID string
	Index      int
	Start      int
	End        int
	Text       string
}

// VectorRecord is one embedded chunk in a tenant's vector namespace.
type VectorRecord struct {
	ID              string     `db:"id" json:"id"`
	DocumentID      string     `db:"document_id" json:"document_id"`
	ChunkIndex      int        `db:"chunk_index" json:"chunk_index"`
	KnowledgeBaseID string     `db:"knowledge_base_id" json:"knowledge_base_id"`
	SourceKind      SourceKind `db:"source_kind" json:"source_kind"`
	SourceLocator   string     `db:"source_locator" json:"source_locator"`
	Content         string     `db:"content" json:"content"`
	Embedding       []float32  `db:"embedding" json:"embedding"` // pgvector column
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// ScanStatus is the state of a website's scan configuration.
type ScanStatus string

const (
	ScanIdle      ScanStatus = "idle"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ScanConfig is one website attached to a knowledge base.
type ScanConfig struct {
	ID              string     `db:"id" json:"id"`
	TenantID        TenantID   `db:"tenant_id" json:"tenant_id"`
	KnowledgeBaseID string     `db:"knowledge_base_id" json:"knowledge_base_id"`
	RootURL         string     `db:"root_url" json:"root_url"`
	Domain          string     `db:"domain" json:"domain"`
	MaxPages        int        `db:"max_pages" json:"max_pages"`
	IncludePatterns []string   `db:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string   `db:"exclude_patterns" json:"exclude_patterns"`
	Status          ScanStatus `db:"status" json:"status"`
	LastScanAt      *time.Time `db:"last_scan_at" json:"last_scan_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// RunStatus is the state of one crawl submission.
type RunStatus string

const (
	RunStarted    RunStatus = "started"
	RunCrawling   RunStatus = "crawling"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

func (s RunStatus) rank() int {
	switch s {
	case RunStarted:
		return 0
	case RunCrawling:
		return 1
	case RunProcessing:
		return 2
	case RunCompleted, RunFailed:
		return 3
	}
	return -1
}

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// CanTransitionTo reports whether next keeps the run monotonic.
// Rewriting the current status is allowed so counters can be checkpointed.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if next.rank() < 0 {
		return false
	}
	if s == next {
		return true
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// ScanRun is one crawl of a ScanConfig.
type ScanRun struct {
	ID              string     `db:"id" json:"id"`
	ScanConfigID    string     `db:"scan_config_id" json:"scan_config_id"`
	ExternalJobID   string     `db:"external_job_id" json:"external_job_id"`
	Status          RunStatus  `db:"status" json:"status"`
	TotalPagesFound int        `db:"total_pages_found" json:"total_pages_found"`
	PagesProcessed  int        `db:"pages_processed" json:"pages_processed"`
	PagesIndexed    int        `db:"pages_indexed" json:"pages_indexed"`
	PagesFailed     int        `db:"pages_failed" json:"pages_failed"`
	PagesSkipped    int        `db:"pages_skipped" json:"pages_skipped"`
	ErrorMessage    string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Stats snapshots the run counters for status polling.
func (r *ScanRun) Stats() CrawlStats {
	return CrawlStats{
		TotalPages:     r.TotalPagesFound,
		ProcessedPages: r.PagesProcessed,
		IndexedPages:   r.PagesIndexed,
		FailedPages:    r.PagesFailed,
		SkippedPages:   r.PagesSkipped,
	}
}

// PageStatus is the indexing state of a crawled URL.
type PageStatus string

const (
	PageProcessing PageStatus = "processing"
	PageIndexed    PageStatus = "indexed"
	PageFailed     PageStatus = "failed"
)

// Page is one crawled URL of a ScanConfig. (ScanConfigID, URL) is unique.
type Page struct {
	ID            string     `db:"id" json:"id"`
	ScanConfigID  string     `db:"scan_config_id" json:"scan_config_id"`
	URL           string     `db:"url" json:"url"`
	Path          string     `db:"path" json:"path"`
	Title         string     `db:"title" json:"title"`
	Description   string     `db:"description" json:"description,omitempty"`
	ContentHash   string     `db:"content_hash" json:"content_hash"`
	WordCount     int        `db:"word_count" json:"word_count"`
	Status        PageStatus `db:"status" json:"status"`
	DocumentID    string     `db:"document_id" json:"document_id,omitempty"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	LastCrawledAt time.Time  `db:"last_crawled_at" json:"last_crawled_at"`
}
