package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// Pipeline runs extraction, change detection, chunking, embedding and the
// vector upsert for one document, persisting the document after every step.
//
// Callers serialize runs per document; DocumentIngestor does that.
type Pipeline struct {
	docs      core.DocumentStore
	vectors   core.VectorStore
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	cfg       *IngestConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(
	docs core.DocumentStore,
	vectors core.VectorStore,
	embedder core.EmbeddingProvider,
	extractor core.DocumentExtractor,
	cfg *IngestConfig,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:      docs,
		vectors:   vectors,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "pipeline"),
		now:       time.Now,
	}
}

// Ingest extracts src into doc and indexes the text. The returned result is
// never nil; a non-nil error is also recorded on the document.
func (p *Pipeline) Ingest(ctx context.Context, doc *models.Document, src core.Source, opts *models.IngestOptions) (*models.IngestResult, error) {
	log := p.logger.With("document_id", doc.ID, "source", src.Locator)

	doc.Status = models.DocumentProcessing
	doc.ExtractionStatus = models.StageProcessing
	doc.EmbeddingStatus = models.StagePending
	doc.ErrorMessage = ""
	if err := p.save(ctx, doc); err != nil {
		return p.result(doc, false), err
	}

	extracted, err := p.extractor.Extract(ctx, src)
	if err != nil {
		log.Warn("extraction failed", "error", err)
		doc.ExtractionStatus = models.StageFailed
		return p.fail(ctx, doc, err)
	}

	meta := extracted.Metadata
	doc.OriginalFormat = meta.OriginalFormat
	doc.WordCount = meta.WordCount
	doc.ByteSize = meta.FileSizeBytes
	doc.ExternalConverterUsed = meta.ExternalConverterUsed

	res, err := p.IndexText(ctx, doc, extracted.Text, opts)
	res.Metadata.Title = meta.Title
	return res, err
}

// IndexText runs change detection, chunking, embedding and the upsert for
// text that is already extracted.
func (p *Pipeline) IndexText(ctx context.Context, doc *models.Document, text string, opts *models.IngestOptions) (*models.IngestResult, error) {
	log := p.logger.With("document_id", doc.ID)

	text = NormalizeText(text)
	if text == "" {
		doc.ExtractionStatus = models.StageFailed
		return p.fail(ctx, doc, core.NewExtractionError(core.ErrEmptyContent, doc.SourceLocator, nil))
	}
	doc.WordCount = WordCount(text)
	if doc.ByteSize == 0 {
		doc.ByteSize = int64(len(text))
	}
	doc.Status = models.DocumentProcessing
	doc.ExtractedText = &text
	doc.ExtractionStatus = models.StageCompleted
	if err := p.save(ctx, doc); err != nil {
		return p.result(doc, false), err
	}

	hash := ContentHash(text)
	if doc.ContentHash != nil && *doc.ContentHash == hash {
		log.Info("content unchanged, skipping re-index", "hash", hash)
		_ = doc.SetEmbeddingStatus(models.StageCompleted)
		doc.Status = models.DocumentCompleted
		if err := p.save(ctx, doc); err != nil {
			return p.result(doc, false), err
		}
		res := p.result(doc, true)
		res.Skipped = true
		return res, nil
	}

	size, overlap := p.chunkParams(ctx, doc, opts)
	chunks := ChunkText(doc.ID, text, size, overlap)
	doc.ChunkCount = len(chunks)
	if err := p.save(ctx, doc); err != nil {
		return p.result(doc, false), err
	}

	if !opts.Embeddings() {
		// The stored vectors describe the previous text.
		if doc.EmbeddingCount > 0 {
			if err := p.vectors.DeleteDocument(ctx, doc.TenantID, doc.ID); err != nil {
				return p.fail(ctx, doc, &core.StoreError{Op: "delete vectors", Err: err})
			}
			doc.EmbeddingCount = 0
		}
		doc.ContentHash = nil
		doc.EmbeddingStatus = models.StagePending
		doc.Status = models.DocumentCompleted
		if err := p.save(ctx, doc); err != nil {
			return p.result(doc, false), err
		}
		return p.result(doc, true), nil
	}

	if err := doc.SetEmbeddingStatus(models.StageProcessing); err != nil {
		return p.fail(ctx, doc, err)
	}
	if err := p.save(ctx, doc); err != nil {
		return p.result(doc, false), err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	emb, err := p.embedder.EmbedTexts(ctx, texts)
	if err == nil && len(emb.Vectors) != len(chunks) {
		err = &core.EmbeddingError{
			Kind: core.ErrServiceUnavailable,
			Err:  fmt.Errorf("got %d vectors for %d chunks", len(emb.Vectors), len(chunks)),
		}
	}
	if err != nil {
		log.Warn("embedding failed", "chunks", len(chunks), "error", err)
		doc.EmbeddingStatus = models.StageFailed
		return p.fail(ctx, doc, err)
	}

	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = models.VectorRecord{
			ID:              uuid.NewString(),
			DocumentID:      doc.ID,
			ChunkIndex:      c.Index,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			SourceKind:      doc.SourceKind,
			SourceLocator:   doc.SourceLocator,
			Content:         c.Text,
			Embedding:       emb.Vectors[i],
			CreatedAt:       p.now(),
		}
	}
	if err := p.vectors.Upsert(ctx, doc.TenantID, records); err != nil {
		var se *core.StoreError
		if !errors.As(err, &se) {
			err = &core.StoreError{Op: "upsert vectors", Err: err}
		}
		log.Error("vector upsert failed", "error", err)
		doc.EmbeddingStatus = models.StageFailed
		return p.fail(ctx, doc, err)
	}

	doc.EmbeddingCount = len(records)
	doc.TokensUsed += emb.TokensUsed
	doc.ContentHash = &hash
	doc.EmbeddingStatus = models.StageCompleted
	doc.Status = models.DocumentCompleted
	if err := p.save(ctx, doc); err != nil {
		return p.result(doc, false), err
	}

	log.Info("document indexed", "chunks", doc.ChunkCount, "embeddings", doc.EmbeddingCount, "tokens", emb.TokensUsed)
	return p.result(doc, true), nil
}

// chunkParams picks chunk settings: request options, then the knowledge base, then defaults.
func (p *Pipeline) chunkParams(ctx context.Context, doc *models.Document, opts *models.IngestOptions) (int, int) {
	size, overlap := p.cfg.ChunkSize, p.cfg.ChunkOverlap

	kb, err := p.docs.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	switch {
	case err == nil:
		if kb.ChunkSize > 0 {
			size = kb.ChunkSize
		}
		if kb.ChunkOverlap > 0 {
			overlap = kb.ChunkOverlap
		}
	case !errors.Is(err, core.ErrNotFound):
		p.logger.Warn("knowledge base lookup failed, using defaults", "knowledge_base_id", doc.KnowledgeBaseID, "error", err)
	}

	if opts != nil {
		if opts.ChunkSize > 0 {
			size = opts.ChunkSize
		}
		if opts.ChunkOverlap > 0 {
			overlap = opts.ChunkOverlap
		}
	}
	return size, overlap
}

// fail records cause on the document. The write uses a context that survives
// cancellation so the failure is not lost.
func (p *Pipeline) fail(ctx context.Context, doc *models.Document, cause error) (*models.IngestResult, error) {
	doc.Status = models.DocumentFailed
	doc.ErrorMessage = cause.Error()
	if err := p.save(context.WithoutCancel(ctx), doc); err != nil {
		cause = errors.Join(cause, err)
	}
	return p.result(doc, false), cause
}

func (p *Pipeline) save(ctx context.Context, doc *models.Document) error {
	doc.UpdatedAt = p.now()
	if err := p.docs.UpdateDocument(ctx, doc); err != nil {
		return &core.StoreError{Op: "update document", Err: err}
	}
	return nil
}

func (p *Pipeline) result(doc *models.Document, ok bool) *models.IngestResult {
	return &models.IngestResult{
		Success:        ok,
		DocumentID:     doc.ID,
		Status:         doc.Status,
		ChunkCount:     doc.ChunkCount,
		EmbeddingCount: doc.EmbeddingCount,
		Error:          doc.ErrorMessage,
		Metadata: models.ExtractionMetadata{
			OriginalFormat:        doc.OriginalFormat,
			WordCount:             doc.WordCount,
			FileSizeBytes:         doc.ByteSize,
			ExternalConverterUsed: doc.ExternalConverterUsed,
		},
	}
}
