package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

func TestBootstrapScript(t *testing.T) {
	raw, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	require.NoError(t, err)
	script := string(raw)
	for _, table := range []string{"ingest_meta", "knowledge_bases", "documents", "vector_records", "scan_configs", "scan_runs", "pages"} {
		assert.Contains(t, script, "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, script, "UNIQUE (tenant_id, document_id, chunk_index)")
	assert.Contains(t, script, "UNIQUE (scan_config_id, url)")
}

func TestNotFound(t *testing.T) {
	err := notFound(sql.ErrNoRows, "document", "d1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.EqualError(t, err, "document d1: not found")

	other := errors.New("conn reset")
	assert.Equal(t, other, notFound(other, "document", "d1"))
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	now := time.Now()
	assert.Equal(t, now, *nullTime(now))
}

// Runs against a real Postgres with pgvector when TEST_DATABASE_URL is set.
func TestDatabaseClient_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	c, err := NewDatabaseClient(ctx, &config.Config{DatabaseURL: dsn}, nil)
	require.NoError(t, err)
	defer c.Close()

	tenant := models.TenantID("tenant-" + uuid.NewString())
	text := "hello"
	doc := &models.Document{
		ID:               uuid.NewString(),
		TenantID:         tenant,
		KnowledgeBaseID:  "kb-" + uuid.NewString(),
		SourceKind:       models.SourceKindFile,
		SourceLocator:    "a.txt",
		ExtractedText:    &text,
		ExtractionStatus: models.StageCompleted,
		EmbeddingStatus:  models.StagePending,
		Status:           models.DocumentProcessing,
	}
	require.NoError(t, c.CreateDocument(ctx, doc))

	got, err := c.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "hello", *got.ExtractedText)
	assert.Nil(t, got.ContentHash)

	records := func(n int) []models.VectorRecord {
		out := make([]models.VectorRecord, n)
		for i := range out {
			out[i] = models.VectorRecord{
				ID: uuid.NewString(), DocumentID: doc.ID, ChunkIndex: i, KnowledgeBaseID: doc.KnowledgeBaseID,
				SourceKind: doc.SourceKind, Content: "chunk", Embedding: []float32{0.1, 0.2, 0.3},
			}
		}
		return out
	}
	require.NoError(t, c.Upsert(ctx, tenant, records(4)))
	require.NoError(t, c.Upsert(ctx, tenant, records(2)))
	n, err := c.CountDocument(ctx, tenant, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.CountDocument(ctx, "other-tenant", doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = c.GetDocumentByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, core.ErrNotFound)

	cfg := &models.ScanConfig{
		ID: uuid.NewString(), TenantID: tenant, KnowledgeBaseID: doc.KnowledgeBaseID,
		RootURL: "https://docs.test", Domain: "docs.test", IncludePatterns: []string{"/docs/**"}, Status: models.ScanIdle,
	}
	require.NoError(t, c.UpsertScanConfig(ctx, cfg))
	found, err := c.FindScanConfig(ctx, cfg.KnowledgeBaseID, cfg.RootURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/**"}, found.IncludePatterns)
	assert.Empty(t, found.ExcludePatterns)

	run := &models.ScanRun{ID: uuid.NewString(), ScanConfigID: cfg.ID, Status: models.RunCrawling}
	require.NoError(t, c.CreateScanRun(ctx, run))
	run.Status = models.RunCompleted
	require.NoError(t, c.UpdateScanRun(ctx, run))
	run.Status = models.RunProcessing
	assert.ErrorIs(t, c.UpdateScanRun(ctx, run), core.ErrInvalidTransition)

	page := &models.Page{ID: uuid.NewString(), ScanConfigID: cfg.ID, URL: "https://docs.test/a", Status: models.PageProcessing}
	require.NoError(t, c.UpsertPage(ctx, page))
	again := &models.Page{ID: uuid.NewString(), ScanConfigID: cfg.ID, URL: page.URL, Status: models.PageIndexed}
	require.NoError(t, c.UpsertPage(ctx, again))
	assert.Equal(t, page.ID, again.ID)
}
