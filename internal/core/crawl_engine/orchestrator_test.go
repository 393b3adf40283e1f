package crawl_engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/memstore"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const tenant = models.TenantID("tenant-a")

// fakeClock fires every timer immediately and moves time forward by its duration.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type fakeCrawler struct {
	mu           sync.Mutex
	submitErr    error
	submitGate   chan struct{} // when set, Submit blocks until it is closed
	statuses     []core.CrawlJobStatus // consumed in order, the last one repeats
	statusErrs   int                   // leading Status calls that fail
	items        []core.CrawledItem
	submitted    []core.CrawlJobInput
	statusCalls  int
	resultsLimit int
	aborted      []string
}

func (f *fakeCrawler) Submit(_ context.Context, in core.CrawlJobInput) (*core.CrawlJob, error) {
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, in)
	return &core.CrawlJob{ID: fmt.Sprintf("job-%d", len(f.submitted)), Status: core.CrawlJobQueued}, nil
}

func (f *fakeCrawler) Status(_ context.Context, jobID string) (*core.CrawlJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusCalls <= f.statusErrs {
		return nil, errors.New("crawler unreachable")
	}
	st := core.CrawlJobSucceeded
	if len(f.statuses) > 0 {
		st = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	return &core.CrawlJob{ID: jobID, Status: st}, nil
}

func (f *fakeCrawler) Results(_ context.Context, _ string, limit int) ([]core.CrawledItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultsLimit = limit
	return append([]core.CrawledItem(nil), f.items...), nil
}

func (f *fakeCrawler) Abort(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, jobID)
	return nil
}

func (f *fakeCrawler) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborted)
}

type fakeIndexer struct {
	mu       sync.Mutex
	calls    []string
	failURLs map[string]bool
	started  chan string
	gate     chan struct{}
}

func (f *fakeIndexer) IndexText(_ context.Context, doc *models.Document, _ string, _ *models.IngestOptions) (*models.IngestResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, doc.SourceLocator)
	fail := f.failURLs[doc.SourceLocator]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- doc.SourceLocator
	}
	if f.gate != nil {
		<-f.gate
	}
	if fail {
		return nil, &core.EmbeddingError{Kind: core.ErrServiceUnavailable}
	}
	return &models.IngestResult{Success: true, DocumentID: doc.ID}, nil
}

func (f *fakeIndexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type orchestratorFixture struct {
	store   *memstore.Store
	crawler *fakeCrawler
	indexer *fakeIndexer
	orch    *Orchestrator
}

func newFixture(t *testing.T, cfg *CrawlConfig) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:   memstore.New(),
		crawler: &fakeCrawler{},
		indexer: &fakeIndexer{failURLs: map[string]bool{}},
	}
	f.store.PutKnowledgeBase(models.KnowledgeBase{ID: "kb-1", TenantID: tenant})

	orch, err := NewOrchestrator(f.store, f.store, f.crawler, f.indexer, newFakeClock(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown(time.Second) })
	f.orch = orch
	return f
}

func pages(n int) []core.CrawledItem {
	items := make([]core.CrawledItem, n)
	for i := range items {
		items[i] = core.CrawledItem{
			URL:   fmt.Sprintf("https://docs.test/p%d", i),
			Title: fmt.Sprintf("Page %d", i),
			Text:  fmt.Sprintf("Content of page number %d.", i),
		}
	}
	return items
}

func (f *orchestratorFixture) waitDone(t *testing.T, runID string) *models.ScanRun {
	t.Helper()
	var run *models.ScanRun
	require.Eventually(t, func() bool {
		r, err := f.store.GetScanRun(context.Background(), runID)
		if err != nil || !r.Status.Terminal() {
			return false
		}
		run = r
		return f.orch.Running() == 0
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.statuses = []core.CrawlJobStatus{core.CrawlJobQueued, core.CrawlJobRunning, core.CrawlJobSucceeded}
	f.crawler.items = pages(5)
	f.indexer.failURLs["https://docs.test/p2"] = true

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test/", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunCrawling, run.Status)
	assert.Equal(t, "job-1", run.ExternalJobID)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.Equal(t, models.CrawlStats{TotalPages: 5, ProcessedPages: 5, IndexedPages: 4, FailedPages: 1}, done.Stats())
	assert.NotNil(t, done.CompletedAt)

	cfg, err := f.store.GetScanConfig(context.Background(), done.ScanConfigID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanCompleted, cfg.Status)
	assert.NotNil(t, cfg.LastScanAt)

	var failed int
	for _, p := range f.store.Pages(done.ScanConfigID) {
		assert.NotEmpty(t, p.DocumentID)
		if p.Status == models.PageFailed {
			failed++
			assert.Equal(t, "https://docs.test/p2", p.URL)
			assert.NotEmpty(t, p.ErrorMessage)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestOrchestrator_SubmitsJobInput(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(1)

	opts := &models.CrawlOptions{IncludePatterns: []string{"/docs/**", " "}, ExcludePatterns: []string{"**/changelog*"}}
	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "docs.test/", opts)
	require.NoError(t, err)
	f.waitDone(t, run.ID)

	require.Len(t, f.crawler.submitted, 1)
	in := f.crawler.submitted[0]
	assert.Equal(t, "https://docs.test", in.StartURL)
	assert.Equal(t, DefaultMaxPages, in.MaxPages)
	assert.Equal(t, DefaultMaxDepth, in.MaxDepth)
	assert.Equal(t, []string{"/docs/**"}, in.IncludeGlobs)
	assert.Contains(t, in.ExcludeGlobs, "**/changelog*")
	assert.Contains(t, in.ExcludeGlobs, "**/privacy*")
	assert.Contains(t, in.ExcludeGlobs, "**/*.{pdf,doc,docx,xls,xlsx,ppt,pptx,odt,rtf,epub}")
}

func TestOrchestrator_MaxPages(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(12)

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", &models.CrawlOptions{MaxPages: 10})
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.Equal(t, 10, done.TotalPagesFound)
	assert.Equal(t, 10, done.PagesProcessed)
	assert.Equal(t, 10, f.crawler.resultsLimit)
	assert.Equal(t, 10, f.crawler.submitted[0].MaxPages)
	assert.Equal(t, 10, f.indexer.callCount())
}

func TestOrchestrator_MaxPagesCapped(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(1)

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", &models.CrawlOptions{MaxPages: 900})
	require.NoError(t, err)
	f.waitDone(t, run.ID)
	assert.Equal(t, MaxPagesLimit, f.crawler.submitted[0].MaxPages)
}

func TestOrchestrator_PollTimeout(t *testing.T) {
	f := newFixture(t, &CrawlConfig{MaxPollAttempts: 3})
	f.crawler.statuses = []core.CrawlJobStatus{core.CrawlJobRunning}

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, core.ErrCrawlTimeout.Error())
	assert.Equal(t, 3, f.crawler.statusCalls)
	assert.Equal(t, 1, f.crawler.abortCount())
	assert.Zero(t, f.indexer.callCount())
}

func TestOrchestrator_StatusErrorsCountAsAttempts(t *testing.T) {
	f := newFixture(t, &CrawlConfig{MaxPollAttempts: 4})
	f.crawler.statusErrs = 2
	f.crawler.items = pages(1)

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.Equal(t, 3, f.crawler.statusCalls)
}

func TestOrchestrator_JobAborted(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.statuses = []core.CrawlJobStatus{core.CrawlJobRunning, core.CrawlJobAborted}

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, core.ErrCrawlAborted.Error())

	cfg, err := f.store.GetScanConfig(context.Background(), done.ScanConfigID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanFailed, cfg.Status)
}

func TestOrchestrator_SubmitFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.submitErr = errors.New("crawler down")

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCrawlSubmit)

	var cerr *core.CrawlError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Retryable())

	stored, err := f.store.GetScanRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, stored.Status)

	f.crawler.mu.Lock()
	f.crawler.submitErr = nil
	f.crawler.mu.Unlock()

	retry, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err, "a failed submit must not keep the website reserved")
	f.waitDone(t, retry.ID)
}

func TestOrchestrator_ZeroPagesIndexedFails(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(2)
	f.indexer.failURLs["https://docs.test/p0"] = true
	f.indexer.failURLs["https://docs.test/p1"] = true

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, models.RunFailed, done.Status)
	assert.Equal(t, core.ErrNoPagesIndexed.Error(), done.ErrorMessage)
	assert.Equal(t, 2, done.PagesFailed)
}

func TestOrchestrator_ChangeDetection(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(3)
	ctx := context.Background()

	first, err := f.orch.StartScan(ctx, tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)
	f.waitDone(t, first.ID)
	require.Equal(t, 3, f.indexer.callCount())
	docIDs := map[string]string{}
	for _, p := range f.store.Pages(first.ScanConfigID) {
		docIDs[p.URL] = p.DocumentID
	}

	f.crawler.items[1].Text = "Page one was rewritten."
	second, err := f.orch.StartScan(ctx, tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)
	assert.Equal(t, first.ScanConfigID, second.ScanConfigID)

	done := f.waitDone(t, second.ID)
	assert.Equal(t, models.RunCompleted, done.Status)
	assert.Equal(t, 3, done.PagesIndexed)
	assert.Equal(t, 2, done.PagesSkipped)
	assert.Equal(t, 4, f.indexer.callCount())
	assert.Equal(t, "https://docs.test/p1", f.indexer.calls[3])

	for _, p := range f.store.Pages(second.ScanConfigID) {
		assert.Equal(t, docIDs[p.URL], p.DocumentID, "page %s keeps its document", p.URL)
		assert.Equal(t, models.PageIndexed, p.Status)
	}
}

func TestOrchestrator_DuplicateItems(t *testing.T) {
	f := newFixture(t, nil)
	items := pages(2)
	dup := items[0]
	dup.URL += "#section"
	f.crawler.items = append(items, dup)

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)

	done := f.waitDone(t, run.ID)
	assert.Equal(t, 2, done.TotalPagesFound)
	assert.Len(t, f.store.Pages(done.ScanConfigID), 2)
}

func TestOrchestrator_Cancel(t *testing.T) {
	f := newFixture(t, &CrawlConfig{PageConcurrency: 1})
	f.crawler.items = pages(3)
	f.indexer.started = make(chan string, 3)
	f.indexer.gate = make(chan struct{})

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)
	<-f.indexer.started

	type result struct {
		run *models.ScanRun
		err error
	}
	res := make(chan result, 1)
	go func() {
		r, err := f.orch.Cancel(context.Background(), tenant, run.ID)
		res <- result{r, err}
	}()

	require.Eventually(t, func() bool { return f.crawler.abortCount() == 1 }, time.Second, time.Millisecond)
	close(f.indexer.gate)

	out := <-res
	require.NoError(t, out.err)
	assert.Equal(t, models.RunFailed, out.run.Status)
	assert.Equal(t, "cancelled", out.run.ErrorMessage)
	assert.Equal(t, 1, out.run.PagesProcessed)
	assert.Equal(t, 1, out.run.PagesIndexed)
	assert.Equal(t, 1, f.indexer.callCount())

	again, err := f.orch.Cancel(context.Background(), tenant, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, again.Status)
}

func TestOrchestrator_ScanInProgress(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(1)
	f.indexer.started = make(chan string, 1)
	f.indexer.gate = make(chan struct{})

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)
	<-f.indexer.started

	_, err = f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test/", nil)
	assert.ErrorIs(t, err, core.ErrScanInProgress)

	close(f.indexer.gate)
	f.waitDone(t, run.ID)
}

func TestOrchestrator_ConcurrentStartScan(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(1)
	f.crawler.submitGate = make(chan struct{})

	type outcome struct {
		run *models.ScanRun
		err error
	}
	results := make(chan outcome, 2)
	for _, url := range []string{"https://docs.test", "https://docs.test/"} {
		go func() {
			run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", url, nil)
			results <- outcome{run, err}
		}()
	}

	var rejected outcome
	select {
	case rejected = <-results:
	case <-time.After(2 * time.Second):
		close(f.crawler.submitGate)
		t.Fatal("both scans reached the crawler")
	}
	assert.ErrorIs(t, rejected.err, core.ErrScanInProgress)

	close(f.crawler.submitGate)
	accepted := <-results
	require.NoError(t, accepted.err)
	f.waitDone(t, accepted.run.ID)

	f.crawler.mu.Lock()
	defer f.crawler.mu.Unlock()
	assert.Len(t, f.crawler.submitted, 1)
}

func TestOrchestrator_TenantIsolation(t *testing.T) {
	f := newFixture(t, nil)
	f.crawler.items = pages(1)

	run, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "https://docs.test", nil)
	require.NoError(t, err)
	f.waitDone(t, run.ID)

	_, err = f.orch.Status(context.Background(), "tenant-b", run.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = f.orch.StartScan(context.Background(), "tenant-b", "kb-1", "https://other.test", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	latest, err := f.orch.LatestRun(context.Background(), tenant, "kb-1", "https://docs.test/")
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
}

func TestOrchestrator_InvalidURL(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.StartScan(context.Background(), tenant, "kb-1", "ftp://docs.test", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
