package core

import (
	"context"
	"time"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// DocumentStore persists documents and reads knowledge base settings.
// Lookups of missing rows return ErrNotFound.
type DocumentStore interface {
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByKnowledgeBase(ctx context.Context, kbID string) ([]models.Document, error)
	UpdateDocument(ctx context.Context, doc *models.Document) error
}

// VectorStore holds embedded chunks, partitioned by tenant.
// Upsert replaces every record of the documents it touches in one transaction.
type VectorStore interface {
	Upsert(ctx context.Context, tenant models.TenantID, records []models.VectorRecord) error
	DeleteDocument(ctx context.Context, tenant models.TenantID, documentID string) error
	CountDocument(ctx context.Context, tenant models.TenantID, documentID string) (int, error)
}

// ScanJobStore persists website scan configurations, runs and pages.
type ScanJobStore interface {
	UpsertScanConfig(ctx context.Context, cfg *models.ScanConfig) error
	GetScanConfig(ctx context.Context, id string) (*models.ScanConfig, error)
	FindScanConfig(ctx context.Context, kbID, rootURL string) (*models.ScanConfig, error)
	UpdateScanConfigStatus(ctx context.Context, id string, status models.ScanStatus, lastScan *time.Time) error

	CreateScanRun(ctx context.Context, run *models.ScanRun) error
	GetScanRun(ctx context.Context, id string) (*models.ScanRun, error)
	LatestScanRun(ctx context.Context, scanConfigID string) (*models.ScanRun, error)
	// UpdateScanRun returns ErrInvalidTransition when the status would move backwards.
	UpdateScanRun(ctx context.Context, run *models.ScanRun) error

	GetPage(ctx context.Context, scanConfigID, url string) (*models.Page, error)
	UpsertPage(ctx context.Context, page *models.Page) error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
