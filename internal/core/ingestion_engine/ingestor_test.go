package ingestion_engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[bucket+"/"+key] = data
	return "https://" + bucket + ".s3.us-east-1.amazonaws.com/" + key, nil
}

func (m *memObjects) DeleteFile(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

// dataExtractor echoes the source bytes as text.
type dataExtractor struct{}

func (dataExtractor) Extract(_ context.Context, src core.Source) (*core.ExtractedText, error) {
	return &core.ExtractedText{Text: string(src.Data)}, nil
}

func TestParseS3URL(t *testing.T) {
	bucket, key := parseS3URL("https://my-bucket.s3.us-east-2.amazonaws.com/tenants/t1/kbs/k/documents/d/file.pdf")
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "tenants/t1/kbs/k/documents/d/file.pdf", key)

	bucket, key = parseS3URL("http://minio:9000/uploads/tenants/t1/a.txt")
	assert.Equal(t, "uploads", bucket)
	assert.Equal(t, "tenants/t1/a.txt", key)
}

func TestObjectKey(t *testing.T) {
	doc := &models.Document{ID: "d1", TenantID: "t1", KnowledgeBaseID: "kb", FileName: "a.pdf"}
	assert.Equal(t, "tenants/t1/kbs/kb/documents/d1/a.pdf", ObjectKey(doc))
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	var (
		active  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("doc")
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxSeen)
	assert.Equal(t, 0, km.size(), "unused keys are released")
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestDocumentIngestor_AsyncReadsStoredObject(t *testing.T) {
	f := newPipelineFixture(t, "")
	objs := &memObjects{objects: map[string][]byte{}}
	pipeline := NewPipeline(f.store, f.store, f.embedder, dataExtractor{}, &IngestConfig{}, nil)
	ing := NewDocumentIngestor(pipeline, objs, &IngestConfig{QueueSize: 4}, nil)

	doc := f.newDocument(t, "doc-async")
	url, err := objs.UploadFile(context.Background(), "bucket", ObjectKey(doc), []byte("stored file contents"), "text/plain")
	require.NoError(t, err)
	doc.StorageURL = url
	require.NoError(t, f.store.UpdateDocument(context.Background(), doc))

	ctx, cancel := context.WithCancel(context.Background())
	ing.Start(ctx, 2)

	require.NoError(t, ing.Enqueue(ctx, IngestJob{
		Document: doc,
		Source:   core.Source{Kind: models.SourceKindFile, Locator: "notes.txt"},
	}))

	require.Eventually(t, func() bool {
		return f.reload(t, "doc-async").Status == models.DocumentCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	ing.Wait()

	stored := f.reload(t, "doc-async")
	require.NotNil(t, stored.ExtractedText)
	assert.Equal(t, "stored file contents", *stored.ExtractedText)
	assert.Equal(t, 1, stored.EmbeddingCount)
}

func TestDocumentIngestor_MissingObjectFailsDocument(t *testing.T) {
	f := newPipelineFixture(t, "")
	pipeline := NewPipeline(f.store, f.store, f.embedder, dataExtractor{}, &IngestConfig{}, nil)
	ing := NewDocumentIngestor(pipeline, &memObjects{objects: map[string][]byte{}}, nil, nil)

	doc := f.newDocument(t, "doc-1")
	doc.StorageURL = "https://bucket.s3.us-east-1.amazonaws.com/missing"

	res, err := ing.ProcessOne(context.Background(), IngestJob{Document: doc, Source: core.Source{Kind: models.SourceKindFile, Locator: "a.txt"}})
	assert.ErrorIs(t, err, core.ErrFetchFailed)
	assert.False(t, res.Success)
	assert.Equal(t, models.DocumentFailed, f.reload(t, "doc-1").Status)
}

func TestDocumentIngestor_EnqueueRespectsContext(t *testing.T) {
	f := newPipelineFixture(t, "")
	pipeline := NewPipeline(f.store, f.store, f.embedder, dataExtractor{}, &IngestConfig{}, nil)
	ing := NewDocumentIngestor(pipeline, nil, &IngestConfig{QueueSize: 1}, nil)

	doc := &models.Document{ID: "d"}
	require.NoError(t, ing.Enqueue(context.Background(), IngestJob{Document: doc}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ing.Enqueue(ctx, IngestJob{Document: doc})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func snapshot(t *testing.T, f *pipelineFixture, id string) *models.Document {
	t.Helper()
	doc := f.reload(t, id)
	doc.Status = models.DocumentProcessing
	return doc
}

func fileJob(doc *models.Document, text string) IngestJob {
	return IngestJob{Document: doc, Source: core.Source{Kind: models.SourceKindFile, Locator: "notes.txt", Data: []byte(text)}}
}

func TestDocumentIngestor_QueuedResubmissionsSeeLatestHash(t *testing.T) {
	f := newPipelineFixture(t, "")
	pipeline := NewPipeline(f.store, f.store, f.embedder, dataExtractor{}, &IngestConfig{}, nil)
	ing := NewDocumentIngestor(pipeline, nil, &IngestConfig{QueueSize: 4}, nil)
	ctx := context.Background()

	versionA := "Version A of the handbook."
	versionB := "Version B of the handbook."
	doc := f.newDocument(t, "doc-1")
	_, err := ing.ProcessOne(ctx, fileJob(doc, versionA))
	require.NoError(t, err)

	// Both jobs are built while the stored hash is still A's.
	require.NoError(t, ing.Enqueue(ctx, fileJob(snapshot(t, f, "doc-1"), versionB)))
	require.NoError(t, ing.Enqueue(ctx, fileJob(snapshot(t, f, "doc-1"), versionA)))

	workerCtx, cancel := context.WithCancel(ctx)
	ing.Start(workerCtx, 1)
	require.Eventually(t, func() bool {
		d := f.reload(t, "doc-1")
		return f.embedder.callCount() == 3 && d.Status == models.DocumentCompleted &&
			d.ContentHash != nil && *d.ContentHash == ContentHash(versionA)
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	ing.Wait()

	stored := f.reload(t, "doc-1")
	require.NotNil(t, stored.ExtractedText)
	assert.Equal(t, versionA, *stored.ExtractedText)
	assert.Equal(t, ContentHash(versionA), *stored.ContentHash)

	records := f.store.Records(testTenant, "doc-1")
	require.Len(t, records, 1)
	assert.Equal(t, versionA, records[0].Content, "vectors follow the stored text")
}

func TestDocumentIngestor_DuplicateResubmissionsEmbedOnce(t *testing.T) {
	f := newPipelineFixture(t, "")
	pipeline := NewPipeline(f.store, f.store, f.embedder, dataExtractor{}, &IngestConfig{}, nil)
	ing := NewDocumentIngestor(pipeline, nil, &IngestConfig{QueueSize: 4}, nil)
	ctx := context.Background()

	doc := f.newDocument(t, "doc-1")
	_, err := ing.ProcessOne(ctx, fileJob(doc, "Original release notes."))
	require.NoError(t, err)

	updated := "Updated release notes for the new version."
	first, second := snapshot(t, f, "doc-1"), snapshot(t, f, "doc-1")

	res, err := ing.ProcessOne(ctx, fileJob(first, updated))
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	res, err = ing.ProcessOne(ctx, fileJob(second, updated))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 2, f.embedder.callCount())
}
