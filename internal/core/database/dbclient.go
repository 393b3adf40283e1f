package db

import (
	"context"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// DbClient is every persistence operation the services need, backed by
// Postgres with pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	core.DocumentStore
	core.VectorStore
	core.ScanJobStore

	Ping(ctx context.Context) error
	Close() error
}
