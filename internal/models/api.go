package models

import (
	"encoding/base64"
	"fmt"
)

// IngestOptions tunes a single ingestion request.
type IngestOptions struct {
	ChunkSize          int   `json:"chunkSize,omitempty" validate:"omitempty,min=100,max=8000"`
	ChunkOverlap       int   `json:"chunkOverlap,omitempty" validate:"omitempty,min=0,max=4000"`
	GenerateEmbeddings *bool `json:"generateEmbeddings,omitempty"`
}

// Embeddings reports whether embeddings should be generated (default true).
func (o *IngestOptions) Embeddings() bool {
	if o == nil || o.GenerateEmbeddings == nil {
		return true
	}
	return *o.GenerateEmbeddings
}

// IngestRequest asks for one file or URL to be indexed.
// For files sent as JSON, Content holds base64 bytes; multipart uploads fill Data.
type IngestRequest struct {
	SourceKind      SourceKind     `json:"sourceKind" validate:"required,oneof=file url"`
	Content         string         `json:"content"`
	Data            []byte         `json:"-"`
	Filename        string         `json:"filename" validate:"required_if=SourceKind file"`
	KnowledgeBaseID string         `json:"knowledgeBaseId" validate:"required"`
	DocumentID      string         `json:"documentId,omitempty" validate:"omitempty,uuid"`
	Options         *IngestOptions `json:"options,omitempty"`
}

// Bytes returns the raw file content of a file request.
func (r *IngestRequest) Bytes() ([]byte, error) {
	if r.Data != nil {
		return r.Data, nil
	}
	b, err := base64.StdEncoding.DecodeString(r.Content)
	if err != nil {
		return nil, fmt.Errorf("decode base64 content: %w", err)
	}
	return b, nil
}

// ExtractionMetadata describes what extraction produced.
type ExtractionMetadata struct {
	OriginalFormat        string `json:"originalFormat"`
	WordCount             int    `json:"wordCount"`
	FileSizeBytes         int64  `json:"fileSizeBytes"`
	ExternalConverterUsed bool   `json:"externalConverterUsed"`
	Title                 string `json:"title,omitempty"`
}

// IngestResult is returned for every ingestion request, failed or not.
type IngestResult struct {
	Success        bool               `json:"success"`
	DocumentID     string             `json:"documentId"`
	Status         DocumentStatus     `json:"status"`
	ChunkCount     int                `json:"chunkCount"`
	EmbeddingCount int                `json:"embeddingCount"`
	Skipped        bool               `json:"skipped,omitempty"`
	Metadata       ExtractionMetadata `json:"metadata"`
	Error          string             `json:"error,omitempty"`
}

// CrawlAction selects what a CrawlRequest does.
type CrawlAction string

const (
	CrawlActionScan   CrawlAction = "scan"
	CrawlActionStatus CrawlAction = "status"
	CrawlActionCancel CrawlAction = "cancel"
)

// CrawlOptions narrows a website scan.
type CrawlOptions struct {
	MaxPages        int      `json:"maxPages,omitempty" validate:"omitempty,min=1,max=1000"`
	IncludePatterns []string `json:"includePatterns,omitempty"`
	ExcludePatterns []string `json:"excludePatterns,omitempty"`
}

// CrawlRequest drives the crawl orchestrator.
type CrawlRequest struct {
	Action          CrawlAction   `json:"action" validate:"required,oneof=scan status cancel"`
	WebsiteURL      string        `json:"websiteUrl" validate:"required_if=Action scan"`
	KnowledgeBaseID string        `json:"knowledgeBaseId" validate:"required_if=Action scan"`
	Options         *CrawlOptions `json:"options,omitempty"`
	RunID           string        `json:"runId,omitempty"`
}

// CrawlStats are the aggregate page counters of a run.
type CrawlStats struct {
	TotalPages     int `json:"totalPages"`
	ProcessedPages int `json:"processedPages"`
	IndexedPages   int `json:"indexedPages"`
	FailedPages    int `json:"failedPages"`
	SkippedPages   int `json:"skippedPages"`
}

// CrawlResult answers every CrawlRequest.
type CrawlResult struct {
	Success bool        `json:"success"`
	RunID   string      `json:"runId,omitempty"`
	Status  RunStatus   `json:"status,omitempty"`
	Stats   *CrawlStats `json:"stats,omitempty"`
	Error   string      `json:"error,omitempty"`
}
