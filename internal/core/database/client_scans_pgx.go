package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Scan configs

const scanConfigColumns = `
	id, tenant_id, knowledge_base_id, root_url, domain, max_pages, include_patterns,
	exclude_patterns, status, last_scan_at, created_at, updated_at`

func scanScanConfig(row rowScanner) (*models.ScanConfig, error) {
	// text[] columns go through pgtype since database/sql cannot scan arrays.
	types := pgtype.NewMap()
	var cfg models.ScanConfig
	err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.KnowledgeBaseID, &cfg.RootURL, &cfg.Domain, &cfg.MaxPages,
		types.SQLScanner(&cfg.IncludePatterns), types.SQLScanner(&cfg.ExcludePatterns),
		&cfg.Status, &cfg.LastScanAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *DatabaseClient) UpsertScanConfig(ctx context.Context, cfg *models.ScanConfig) error {
	const q = `
		INSERT INTO scan_configs (` + scanConfigColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), COALESCE($12, now()))
		ON CONFLICT (id) DO UPDATE SET
			max_pages = EXCLUDED.max_pages,
			include_patterns = EXCLUDED.include_patterns,
			exclude_patterns = EXCLUDED.exclude_patterns,
			updated_at = EXCLUDED.updated_at
	`
	_, err := c.db.ExecContext(ctx, q,
		cfg.ID, cfg.TenantID, cfg.KnowledgeBaseID, cfg.RootURL, cfg.Domain, cfg.MaxPages,
		nonNil(cfg.IncludePatterns), nonNil(cfg.ExcludePatterns), cfg.Status, cfg.LastScanAt,
		nullTime(cfg.CreatedAt), nullTime(cfg.UpdatedAt),
	)
	return err
}

func (c *DatabaseClient) GetScanConfig(ctx context.Context, id string) (*models.ScanConfig, error) {
	q := `SELECT ` + scanConfigColumns + ` FROM scan_configs WHERE id = $1`
	cfg, err := scanScanConfig(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "scan config", id)
	}
	return cfg, nil
}

func (c *DatabaseClient) FindScanConfig(ctx context.Context, kbID, rootURL string) (*models.ScanConfig, error) {
	q := `SELECT ` + scanConfigColumns + ` FROM scan_configs WHERE knowledge_base_id = $1 AND root_url = $2`
	cfg, err := scanScanConfig(c.db.QueryRowContext(ctx, q, kbID, rootURL))
	if err != nil {
		return nil, notFound(err, "scan config for", rootURL)
	}
	return cfg, nil
}

func (c *DatabaseClient) UpdateScanConfigStatus(ctx context.Context, id string, status models.ScanStatus, lastScan *time.Time) error {
	const q = `
		UPDATE scan_configs
		SET status = $2, last_scan_at = COALESCE($3, last_scan_at), updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, lastScan)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scan config %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Scan runs

const scanRunColumns = `
	id, scan_config_id, external_job_id, status, total_pages_found, pages_processed,
	pages_indexed, pages_failed, pages_skipped, error_message, started_at, completed_at, updated_at`

func scanScanRun(row rowScanner) (*models.ScanRun, error) {
	var r models.ScanRun
	err := row.Scan(
		&r.ID, &r.ScanConfigID, &r.ExternalJobID, &r.Status, &r.TotalPagesFound, &r.PagesProcessed,
		&r.PagesIndexed, &r.PagesFailed, &r.PagesSkipped, &r.ErrorMessage, &r.StartedAt, &r.CompletedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *DatabaseClient) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	const q = `
		INSERT INTO scan_runs (` + scanRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()), $12, COALESCE($13, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		run.ID, run.ScanConfigID, run.ExternalJobID, run.Status, run.TotalPagesFound, run.PagesProcessed,
		run.PagesIndexed, run.PagesFailed, run.PagesSkipped, run.ErrorMessage, nullTime(run.StartedAt),
		run.CompletedAt, nullTime(run.UpdatedAt),
	)
	return err
}

func (c *DatabaseClient) GetScanRun(ctx context.Context, id string) (*models.ScanRun, error) {
	q := `SELECT ` + scanRunColumns + ` FROM scan_runs WHERE id = $1`
	r, err := scanScanRun(c.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "scan run", id)
	}
	return r, nil
}

func (c *DatabaseClient) LatestScanRun(ctx context.Context, scanConfigID string) (*models.ScanRun, error) {
	q := `SELECT ` + scanRunColumns + ` FROM scan_runs WHERE scan_config_id = $1 ORDER BY started_at DESC LIMIT 1`
	r, err := scanScanRun(c.db.QueryRowContext(ctx, q, scanConfigID))
	if err != nil {
		return nil, notFound(err, "scan runs of", scanConfigID)
	}
	return r, nil
}

// UpdateScanRun locks the row and refuses transitions that move the status backwards.
func (c *DatabaseClient) UpdateScanRun(ctx context.Context, run *models.ScanRun) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur models.RunStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM scan_runs WHERE id = $1 FOR UPDATE`, run.ID).Scan(&cur); err != nil {
		return notFound(err, "scan run", run.ID)
	}
	if !cur.CanTransitionTo(run.Status) {
		return fmt.Errorf("scan run %s %s -> %s: %w", run.ID, cur, run.Status, core.ErrInvalidTransition)
	}

	const q = `
		UPDATE scan_runs SET
			external_job_id = $2, status = $3, total_pages_found = $4, pages_processed = $5,
			pages_indexed = $6, pages_failed = $7, pages_skipped = $8, error_message = $9,
			completed_at = $10, updated_at = COALESCE($11, now())
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, q,
		run.ID, run.ExternalJobID, run.Status, run.TotalPagesFound, run.PagesProcessed,
		run.PagesIndexed, run.PagesFailed, run.PagesSkipped, run.ErrorMessage,
		run.CompletedAt, nullTime(run.UpdatedAt),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Pages

func (c *DatabaseClient) GetPage(ctx context.Context, scanConfigID, url string) (*models.Page, error) {
	const q = `
		SELECT id, scan_config_id, url, path, title, description, content_hash, word_count,
			status, document_id, error_message, last_crawled_at
		FROM pages WHERE scan_config_id = $1 AND url = $2
	`
	var p models.Page
	err := c.db.QueryRowContext(ctx, q, scanConfigID, url).Scan(
		&p.ID, &p.ScanConfigID, &p.URL, &p.Path, &p.Title, &p.Description, &p.ContentHash, &p.WordCount,
		&p.Status, &p.DocumentID, &p.ErrorMessage, &p.LastCrawledAt,
	)
	if err != nil {
		return nil, notFound(err, "page", url)
	}
	return &p, nil
}

// UpsertPage writes the page keyed by (scan config, url) and sets page.ID to the stored id.
func (c *DatabaseClient) UpsertPage(ctx context.Context, page *models.Page) error {
	const q = `
		INSERT INTO pages
			(id, scan_config_id, url, path, title, description, content_hash, word_count,
			 status, document_id, error_message, last_crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
		ON CONFLICT (scan_config_id, url) DO UPDATE SET
			path = EXCLUDED.path,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			content_hash = EXCLUDED.content_hash,
			word_count = EXCLUDED.word_count,
			status = EXCLUDED.status,
			document_id = EXCLUDED.document_id,
			error_message = EXCLUDED.error_message,
			last_crawled_at = EXCLUDED.last_crawled_at
		RETURNING id
	`
	return c.db.QueryRowContext(ctx, q,
		page.ID, page.ScanConfigID, page.URL, page.Path, page.Title, page.Description, page.ContentHash,
		page.WordCount, page.Status, page.DocumentID, page.ErrorMessage, nullTime(page.LastCrawledAt),
	).Scan(&page.ID)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
