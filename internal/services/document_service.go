package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DocumentService reads documents on behalf of a tenant.
type DocumentService struct {
	docs    core.DocumentStore
	vectors core.VectorStore
}

func NewDocumentService(docs core.DocumentStore, vectors core.VectorStore) *DocumentService {
	return &DocumentService{docs: docs, vectors: vectors}
}

// Get returns the document; documents of other tenants are reported as not found.
func (s *DocumentService) Get(ctx context.Context, tenant models.TenantID, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenant {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) ListByKnowledgeBase(ctx context.Context, tenant models.TenantID, kbID string) ([]models.Document, error) {
	all, err := s.docs.ListDocumentsByKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Document, 0, len(all))
	for _, d := range all {
		if d.TenantID == tenant {
			out = append(out, d)
		}
	}
	return out, nil
}

// VectorCount reports how many records of the document are in the tenant's namespace.
func (s *DocumentService) VectorCount(ctx context.Context, tenant models.TenantID, id string) (int, error) {
	if _, err := s.Get(ctx, tenant, id); err != nil {
		return 0, err
	}
	return s.vectors.CountDocument(ctx, tenant, id)
}
