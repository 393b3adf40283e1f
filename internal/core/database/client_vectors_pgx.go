package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Upsert replaces all records of every document in records within one
// transaction, so readers see either the old or the new chunk set.
func (c *DatabaseClient) Upsert(ctx context.Context, tenant models.TenantID, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	seen := make(map[string]bool)
	for _, r := range records {
		if seen[r.DocumentID] {
			continue
		}
		seen[r.DocumentID] = true
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vector_records WHERE tenant_id = $1 AND document_id = $2`,
			tenant, r.DocumentID,
		); err != nil {
			return fmt.Errorf("delete records of %s: %w", r.DocumentID, err)
		}
	}

	const q = `
		INSERT INTO vector_records
			(id, tenant_id, document_id, chunk_index, knowledge_base_id, source_kind, source_locator, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		vec := pgvector.NewVector(r.Embedding)
		if _, err := stmt.ExecContext(ctx,
			r.ID, tenant, r.DocumentID, r.ChunkIndex, r.KnowledgeBaseID, r.SourceKind, r.SourceLocator, r.Content, vec, nullTime(r.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", r.ChunkIndex, r.DocumentID, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, tenant models.TenantID, documentID string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM vector_records WHERE tenant_id = $1 AND document_id = $2`, tenant, documentID)
	return err
}

func (c *DatabaseClient) CountDocument(ctx context.Context, tenant models.TenantID, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*) FROM vector_records WHERE tenant_id = $1 AND document_id = $2`, tenant, documentID,
	).Scan(&n)
	return n, err
}
