package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job IngestJob) error
	ProcessOne(ctx context.Context, job IngestJob) (*models.IngestResult, error)
	IndexText(ctx context.Context, doc *models.Document, text string, opts *models.IngestOptions) (*models.IngestResult, error)
}

var _ Ingestor = (*DocumentIngestor)(nil)

// IngestJob is one document waiting to be ingested. For file sources with no
// data, the bytes are read back from the document's storage URL.
type IngestJob struct {
	Document *models.Document
	Source   core.Source
	Options  *models.IngestOptions
}

// DocumentIngestor runs the pipeline in the foreground or on a pool of
// workers reading from a bounded job channel. Runs for the same document ID
// never overlap.
type DocumentIngestor struct {
	pipeline *Pipeline
	obj      core.ObjectClient
	cfg      *IngestConfig
	jobs     chan IngestJob
	locks    *keyedMutex
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewDocumentIngestor constructs the ingestor. obj may be nil when object storage is disabled.
func NewDocumentIngestor(pipeline *Pipeline, obj core.ObjectClient, cfg *IngestConfig, logger *slog.Logger) *DocumentIngestor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentIngestor{
		pipeline: pipeline,
		obj:      obj,
		cfg:      cfg,
		jobs:     make(chan IngestJob, cfg.QueueSize),
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "ingestor"),
	}
}

// Start runs numWorkers goroutines reading from the jobs channel until ctx is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for w := 1; w <= numWorkers; w++ {
		i.wg.Add(1)
		go func(w int) {
			defer i.wg.Done()
			for {
				select {
				case <-ctx.Done():
					i.logger.Debug("worker shutting down", "worker", w)
					return
				case job := <-i.jobs:
					i.logger.Info("processing document", "document_id", job.Document.ID, "worker", w)

					jobCtx, cancel := context.WithTimeout(ctx, i.cfg.ProcessTimeout)
					if _, err := i.ProcessOne(jobCtx, job); err != nil {
						i.logger.Error("document ingestion failed", "document_id", job.Document.ID, "error", err)
					}
					cancel()
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has exited.
func (i *DocumentIngestor) Wait() {
	i.wg.Wait()
}

// Enqueue schedules a document for ingestion. If the queue is full, it
// blocks until space frees up or ctx is done.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job IngestJob) error {
	select {
	case i.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue document %s: %w", job.Document.ID, ctx.Err())
	}
}

// ProcessOne ingests a single job in the caller's goroutine.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job IngestJob) (*models.IngestResult, error) {
	unlock := i.locks.Lock(job.Document.ID)
	defer unlock()

	doc, err := i.current(ctx, job.Document)
	if err != nil {
		return i.pipeline.result(job.Document, false), err
	}

	src := job.Source
	if src.Kind == models.SourceKindFile && len(src.Data) == 0 && doc.StorageURL != "" {
		data, err := i.fetchStored(ctx, doc.StorageURL)
		if err != nil {
			return i.pipeline.fail(ctx, doc, core.NewExtractionError(core.ErrFetchFailed, src.Locator, err))
		}
		src.Data = data
	}
	return i.pipeline.Ingest(ctx, doc, src, job.Options)
}

// IndexText indexes pre-extracted text, serialized with other runs of the same document.
func (i *DocumentIngestor) IndexText(ctx context.Context, doc *models.Document, text string, opts *models.IngestOptions) (*models.IngestResult, error) {
	unlock := i.locks.Lock(doc.ID)
	defer unlock()

	fresh, err := i.current(ctx, doc)
	if err != nil {
		return i.pipeline.result(doc, false), err
	}
	return i.pipeline.IndexText(ctx, fresh, text, opts)
}

// current re-reads the stored document under its lock so change detection
// compares against the hash the previous run left behind, not the snapshot
// taken when the job was built. Source fields come from snapshot.
func (i *DocumentIngestor) current(ctx context.Context, snapshot *models.Document) (*models.Document, error) {
	stored, err := i.pipeline.docs.GetDocumentByID(ctx, snapshot.ID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		cp := *snapshot
		return &cp, nil
	case err != nil:
		return nil, &core.StoreError{Op: "get document", Err: err}
	}
	stored.SourceKind = snapshot.SourceKind
	stored.SourceLocator = snapshot.SourceLocator
	stored.FileName = snapshot.FileName
	stored.ContentType = snapshot.ContentType
	stored.StorageURL = snapshot.StorageURL
	stored.ByteSize = snapshot.ByteSize
	return stored, nil
}

func (i *DocumentIngestor) fetchStored(ctx context.Context, storageURL string) ([]byte, error) {
	if i.obj == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	bucket, key := parseS3URL(storageURL)
	data, err := i.obj.GetFile(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get stored object: %w", err)
	}
	return data, nil
}

// parseS3URL extracts the bucket and key from a virtual-hosted-style S3 URL
// (https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf) or a
// path-style one (http://minio:9000/my-bucket/path/to/file.pdf).
func parseS3URL(raw string) (bucket, key string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	if strings.Contains(u.Hostname(), ".s3.") {
		return strings.SplitN(u.Hostname(), ".", 2)[0], path
	}
	bucket, key, _ = strings.Cut(path, "/")
	return bucket, key
}

// ObjectKey is where an uploaded file of a document is archived.
func ObjectKey(doc *models.Document) string {
	return fmt.Sprintf("tenants/%s/kbs/%s/documents/%s/%s", doc.TenantID, doc.KnowledgeBaseID, doc.ID, doc.FileName)
}
