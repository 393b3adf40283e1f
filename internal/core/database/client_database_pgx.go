package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

var _ DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "database")

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, logger: logger}, nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, core.ErrNotFound)
	}
	return err
}

// Knowledge bases

func (c *DatabaseClient) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	const q = `
		SELECT id, tenant_id, name, chunk_size, chunk_overlap, created_at
		FROM knowledge_bases WHERE id = $1
	`
	var kb models.KnowledgeBase
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&kb.ID, &kb.TenantID, &kb.Name, &kb.ChunkSize, &kb.ChunkOverlap, &kb.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "knowledge base", id)
	}
	return &kb, nil
}

// Documents

const documentColumns = `
	id, tenant_id, knowledge_base_id, source_kind, source_locator, file_name, content_type,
	storage_url, extracted_text, content_hash, chunk_count, embedding_count, tokens_used,
	word_count, byte_size, original_format, external_converter_used, extraction_status,
	embedding_status, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.TenantID, &d.KnowledgeBaseID, &d.SourceKind, &d.SourceLocator, &d.FileName, &d.ContentType,
		&d.StorageURL, &d.ExtractedText, &d.ContentHash, &d.ChunkCount, &d.EmbeddingCount, &d.TokensUsed,
		&d.WordCount, &d.ByteSize, &d.OriginalFormat, &d.ExternalConverterUsed, &d.ExtractionStatus,
		&d.EmbeddingStatus, &d.Status, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			COALESCE($22, now()), COALESCE($23, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.TenantID, doc.KnowledgeBaseID, doc.SourceKind, doc.SourceLocator, doc.FileName, doc.ContentType,
		doc.StorageURL, doc.ExtractedText, doc.ContentHash, doc.ChunkCount, doc.EmbeddingCount, doc.TokensUsed,
		doc.WordCount, doc.ByteSize, doc.OriginalFormat, doc.ExternalConverterUsed, doc.ExtractionStatus,
		doc.EmbeddingStatus, doc.Status, doc.ErrorMessage, nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt),
	)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	return d, nil
}

func (c *DatabaseClient) ListDocumentsByKnowledgeBase(ctx context.Context, kbID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE knowledge_base_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocument(ctx context.Context, doc *models.Document) error {
	const q = `
		UPDATE documents SET
			source_locator = $2, file_name = $3, content_type = $4, storage_url = $5,
			extracted_text = $6, content_hash = $7, chunk_count = $8, embedding_count = $9,
			tokens_used = $10, word_count = $11, byte_size = $12, original_format = $13,
			external_converter_used = $14, extraction_status = $15, embedding_status = $16,
			status = $17, error_message = $18, updated_at = COALESCE($19, now())
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.SourceLocator, doc.FileName, doc.ContentType, doc.StorageURL,
		doc.ExtractedText, doc.ContentHash, doc.ChunkCount, doc.EmbeddingCount,
		doc.TokensUsed, doc.WordCount, doc.ByteSize, doc.OriginalFormat,
		doc.ExternalConverterUsed, doc.ExtractionStatus, doc.EmbeddingStatus,
		doc.Status, doc.ErrorMessage, nullTime(doc.UpdatedAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrNotFound)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
