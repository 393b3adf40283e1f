package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// IngestService turns API requests into documents and ingestion jobs.
type IngestService struct {
	docs     core.DocumentStore
	ingestor ingestion_engine.Ingestor
	storage  core.ObjectClient
	bucket   string
	logger   *slog.Logger
}

// NewIngestService wires the service. storage may be nil, which disables upload archival.
func NewIngestService(docs core.DocumentStore, ing ingestion_engine.Ingestor, storage core.ObjectClient, bucket string, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		docs:     docs,
		ingestor: ing,
		storage:  storage,
		bucket:   bucket,
		logger:   logger.With("component", "ingest_service"),
	}
}

// Ingest validates req, creates or reuses the document and ingests it. When
// async is set the job is queued and the result only carries the document id.
// Resubmitting an existing document id re-runs ingestion on that document.
func (s *IngestService) Ingest(ctx context.Context, tenant models.TenantID, req *models.IngestRequest, async bool) (*models.IngestResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	src := core.Source{Kind: req.SourceKind}
	switch req.SourceKind {
	case models.SourceKindFile:
		data, err := req.Bytes()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: file content is empty", core.ErrInvalidInput)
		}
		src.Locator = filepath.Base(strings.TrimSpace(req.Filename))
		src.Data = data
		src.MimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(src.Locator)))
	case models.SourceKindURL:
		src.Locator = strings.TrimSpace(req.Content)
		if src.Locator == "" {
			return nil, fmt.Errorf("%w: url is empty", core.ErrInvalidInput)
		}
	}

	doc, created, err := s.document(ctx, tenant, req, src)
	if err != nil {
		return nil, err
	}

	if src.Kind == models.SourceKindFile {
		s.archive(ctx, doc, src)
	}

	if created {
		if err := s.docs.CreateDocument(ctx, doc); err != nil {
			return nil, &core.StoreError{Op: "create document", Err: err}
		}
	}

	job := ingestion_engine.IngestJob{Document: doc, Source: src, Options: req.Options}
	if !async {
		return s.ingestor.ProcessOne(ctx, job)
	}

	// Archived bytes are read back by the worker instead of staying queued in memory.
	if doc.StorageURL != "" {
		job.Source.Data = nil
	}
	if err := s.ingestor.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("document queued", "document_id", doc.ID, "tenant", tenant)
	return &models.IngestResult{Success: true, DocumentID: doc.ID, Status: models.DocumentProcessing}, nil
}

// document returns the document named by req.DocumentID or a new one.
func (s *IngestService) document(ctx context.Context, tenant models.TenantID, req *models.IngestRequest, src core.Source) (*models.Document, bool, error) {
	now := time.Now().UTC()
	if req.DocumentID != "" {
		doc, err := s.docs.GetDocumentByID(ctx, req.DocumentID)
		switch {
		case err == nil:
			if doc.TenantID != tenant {
				return nil, false, fmt.Errorf("document %s: %w", req.DocumentID, core.ErrNotFound)
			}
			if doc.KnowledgeBaseID != req.KnowledgeBaseID {
				return nil, false, fmt.Errorf("%w: document %s belongs to another knowledge base", core.ErrInvalidInput, doc.ID)
			}
			doc.SourceKind = src.Kind
			doc.SourceLocator = src.Locator
			if src.Kind == models.SourceKindFile {
				doc.FileName = src.Locator
				doc.ContentType = src.MimeType
				doc.ByteSize = int64(len(src.Data))
			}
			return doc, false, nil
		case !errors.Is(err, core.ErrNotFound):
			return nil, false, err
		}
	}

	if kb, err := s.docs.GetKnowledgeBase(ctx, req.KnowledgeBaseID); err == nil && kb.TenantID != tenant {
		return nil, false, fmt.Errorf("knowledge base %s: %w", req.KnowledgeBaseID, core.ErrNotFound)
	}

	id := req.DocumentID
	if id == "" {
		id = uuid.NewString()
	}
	doc := &models.Document{
		ID:               id,
		TenantID:         tenant,
		KnowledgeBaseID:  req.KnowledgeBaseID,
		SourceKind:       src.Kind,
		SourceLocator:    src.Locator,
		ExtractionStatus: models.StagePending,
		EmbeddingStatus:  models.StagePending,
		Status:           models.DocumentProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if src.Kind == models.SourceKindFile {
		doc.FileName = src.Locator
		doc.ContentType = src.MimeType
		doc.ByteSize = int64(len(src.Data))
	} else {
		doc.FileName = src.Locator
		doc.ContentType = "text/html"
	}
	return doc, true, nil
}

// archive stores the uploaded bytes in object storage. Failures are logged;
// ingestion continues from the bytes in memory.
func (s *IngestService) archive(ctx context.Context, doc *models.Document, src core.Source) {
	if s.storage == nil || s.bucket == "" {
		return
	}
	contentType := src.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := s.storage.UploadFile(ctx, s.bucket, ingestion_engine.ObjectKey(doc), src.Data, contentType)
	if err != nil {
		s.logger.Warn("upload archival failed", "document_id", doc.ID, "error", err)
		return
	}
	doc.StorageURL = url
}
