package crawl_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// PageIndexer indexes the text of one crawled page into its document.
type PageIndexer interface {
	IndexText(ctx context.Context, doc *models.Document, text string, opts *models.IngestOptions) (*models.IngestResult, error)
}

var _ PageIndexer = (*ingestion_engine.DocumentIngestor)(nil)

type pageOutcome int

const (
	pageIndexed pageOutcome = iota
	pageSkipped
	pageFailed
)

// activeRun is a run executing in this process.
type activeRun struct {
	runID        string
	scanConfigID string
	scanKey      string
	jobID        string
	cancel       context.CancelFunc
	cancelled    atomic.Bool
	done         chan struct{}
}

// Orchestrator submits website crawls, waits for them and indexes every
// returned page. Each run executes on the ants pool; its pages are indexed
// by a bounded errgroup. Only the run's own goroutine writes the run row
// once StartScan has returned.
type Orchestrator struct {
	store   core.ScanJobStore
	docs    core.DocumentStore
	crawler core.CrawlerClient
	indexer PageIndexer
	clock   core.Clock
	cfg     *CrawlConfig
	pool    *ants.Pool
	poller  *poller
	logger  *slog.Logger

	mu       sync.Mutex
	active   map[string]*activeRun // by run id
	scanning map[string]struct{}   // by scanKey, held from StartScan until the run ends
}

// antsLogger routes pool messages to slog.
type antsLogger struct{ l *slog.Logger }

func (a antsLogger) Printf(format string, args ...any) {
	a.l.Warn(fmt.Sprintf(format, args...))
}

func NewOrchestrator(
	store core.ScanJobStore,
	docs core.DocumentStore,
	crawler core.CrawlerClient,
	indexer PageIndexer,
	clock core.Clock,
	cfg *CrawlConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "crawl_orchestrator")

	pool, err := ants.NewPool(cfg.RunPoolSize,
		ants.WithNonblocking(true),
		ants.WithLogger(antsLogger{logger}),
		ants.WithPanicHandler(func(p any) {
			logger.Error("crawl run panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create crawl pool: %w", err)
	}

	return &Orchestrator{
		store:   store,
		docs:    docs,
		crawler: crawler,
		indexer: indexer,
		clock:   clock,
		cfg:     cfg,
		pool:    pool,
		poller: &poller{
			client:      crawler,
			clock:       clock,
			interval:    cfg.PollInterval,
			maxAttempts: cfg.MaxPollAttempts,
			callTimeout: cfg.CallTimeout,
			logger:      logger,
		},
		logger: logger,
		active:   make(map[string]*activeRun),
		scanning: make(map[string]struct{}),
	}, nil
}

// StartScan submits a crawl of websiteURL and returns the run once the
// crawler accepted the job. Polling and page indexing continue in the background.
func (o *Orchestrator) StartScan(ctx context.Context, tenant models.TenantID, kbID, websiteURL string, opts *models.CrawlOptions) (*models.ScanRun, error) {
	if tenant == "" || kbID == "" {
		return nil, fmt.Errorf("%w: tenant and knowledge base are required", core.ErrInvalidInput)
	}
	rootURL, domain, err := normalizeRootURL(websiteURL)
	if err != nil {
		return nil, err
	}
	if err := o.checkKnowledgeBase(ctx, tenant, kbID); err != nil {
		return nil, err
	}

	key := scanKey(kbID, rootURL)
	if !o.reserve(key) {
		return nil, fmt.Errorf("%w: %s", core.ErrScanInProgress, rootURL)
	}
	// Released here unless a registered run takes it over.
	reserved := true
	defer func() {
		if reserved {
			o.release(key)
		}
	}()

	if opts == nil {
		opts = &models.CrawlOptions{}
	}

	scanCfg, err := o.scanConfig(ctx, tenant, kbID, rootURL, domain, opts)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now().UTC()
	run := &models.ScanRun{
		ID:           uuid.NewString(),
		ScanConfigID: scanCfg.ID,
		Status:       models.RunStarted,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateScanRun(ctx, run); err != nil {
		return nil, &core.StoreError{Op: "create scan run", Err: err}
	}
	if err := o.store.UpdateScanConfigStatus(ctx, scanCfg.ID, models.ScanScanning, nil); err != nil {
		o.logger.Warn("scan config status not updated", "scan_config_id", scanCfg.ID, "error", err)
	}

	maxPages := o.cfg.maxPages(scanCfg.MaxPages)
	input := core.CrawlJobInput{
		StartURL:        rootURL,
		MaxPages:        maxPages,
		MaxDepth:        o.cfg.MaxDepth,
		IncludeGlobs:    scanCfg.IncludePatterns,
		ExcludeGlobs:    excludeGlobs(scanCfg.ExcludePatterns),
		MaxContentBytes: o.cfg.MaxContentBytes,
		MaxScrolls:      o.cfg.MaxScrolls,
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	job, err := o.crawler.Submit(submitCtx, input)
	cancel()
	if err != nil {
		cerr := &core.CrawlError{Kind: core.ErrCrawlSubmit, Err: err}
		o.finish(ctx, run, models.RunFailed, cerr)
		return run, cerr
	}

	run.ExternalJobID = job.ID
	run.Status = models.RunCrawling
	if err := o.saveRun(ctx, run); err != nil {
		return run, err
	}

	runCtx, runCancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{
		runID:        run.ID,
		scanConfigID: scanCfg.ID,
		scanKey:      key,
		jobID:        job.ID,
		cancel:       runCancel,
		done:         make(chan struct{}),
	}
	o.register(ar)
	reserved = false

	snapshot := *run
	if err := o.pool.Submit(func() { o.execute(runCtx, ar, scanCfg, run, maxPages) }); err != nil {
		o.unregister(ar)
		runCancel()
		o.abortJob(ctx, job.ID)
		o.finish(ctx, run, models.RunFailed, fmt.Errorf("schedule crawl run: %w", err))
		return run, err
	}

	o.logger.Info("crawl submitted", "run_id", run.ID, "job_id", job.ID, "url", rootURL, "max_pages", maxPages)
	return &snapshot, nil
}

// Status returns the run when it belongs to tenant.
func (o *Orchestrator) Status(ctx context.Context, tenant models.TenantID, runID string) (*models.ScanRun, error) {
	run, err := o.store.GetScanRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := o.checkOwner(ctx, tenant, run.ScanConfigID); err != nil {
		return nil, err
	}
	return run, nil
}

// LatestRun returns the newest run of the website scan config of a knowledge base.
func (o *Orchestrator) LatestRun(ctx context.Context, tenant models.TenantID, kbID, websiteURL string) (*models.ScanRun, error) {
	rootURL, _, err := normalizeRootURL(websiteURL)
	if err != nil {
		return nil, err
	}
	scanCfg, err := o.store.FindScanConfig(ctx, kbID, rootURL)
	if err != nil {
		return nil, err
	}
	if scanCfg.TenantID != tenant {
		return nil, fmt.Errorf("scan config %s: %w", scanCfg.ID, core.ErrNotFound)
	}
	return o.store.LatestScanRun(ctx, scanCfg.ID)
}

// Cancel aborts the crawl job and fails the run with reason "cancelled".
// A page already being indexed finishes first; Cancel waits for it until ctx is done.
func (o *Orchestrator) Cancel(ctx context.Context, tenant models.TenantID, runID string) (*models.ScanRun, error) {
	run, err := o.Status(ctx, tenant, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	o.mu.Lock()
	ar := o.active[runID]
	o.mu.Unlock()

	if ar == nil {
		// Not executing here, e.g. left over from a previous process.
		o.abortJob(ctx, run.ExternalJobID)
		o.finish(ctx, run, models.RunFailed, core.ErrCrawlCancelled)
		return run, nil
	}

	ar.cancelled.Store(true)
	ar.cancel()
	o.abortJob(ctx, ar.jobID)

	select {
	case <-ar.done:
	case <-ctx.Done():
		o.logger.Warn("cancel returned before run stopped", "run_id", runID)
	}
	return o.store.GetScanRun(context.WithoutCancel(ctx), runID)
}

// Shutdown interrupts every active run and releases the pool.
func (o *Orchestrator) Shutdown(timeout time.Duration) error {
	o.mu.Lock()
	for _, ar := range o.active {
		ar.cancel()
	}
	o.mu.Unlock()
	return o.pool.ReleaseTimeout(timeout)
}

// Running reports the number of runs executing in this process.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) execute(ctx context.Context, ar *activeRun, scanCfg *models.ScanConfig, run *models.ScanRun, maxPages int) {
	defer func() {
		o.unregister(ar)
		ar.cancel()
		close(ar.done)
	}()
	logger := o.logger.With("run_id", run.ID, "job_id", ar.jobID)

	if _, err := o.poller.wait(ctx, ar.jobID); err != nil {
		if ar.cancelled.Load() {
			err = core.ErrCrawlCancelled
		} else if errors.Is(err, core.ErrCrawlTimeout) {
			o.abortJob(ctx, ar.jobID)
		}
		logger.Warn("crawl job did not succeed", "error", err)
		o.finish(ctx, run, models.RunFailed, err)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	items, err := o.crawler.Results(callCtx, ar.jobID, maxPages)
	cancel()
	if err != nil {
		if ar.cancelled.Load() {
			err = core.ErrCrawlCancelled
		} else {
			err = &core.CrawlError{Kind: core.ErrCrawlFailed, JobID: ar.jobID, Err: err}
		}
		o.finish(ctx, run, models.RunFailed, err)
		return
	}

	items = dedupeItems(items, maxPages)
	run.TotalPagesFound = len(items)
	run.Status = models.RunProcessing
	if err := o.saveRun(ctx, run); err != nil {
		logger.Error("run not moved to processing", "error", err)
	}
	logger.Info("crawl results fetched", "pages", len(items))

	if len(items) > 0 {
		o.processPages(ctx, ar, scanCfg, run, items)
	}

	switch {
	case ar.cancelled.Load():
		o.finish(ctx, run, models.RunFailed, core.ErrCrawlCancelled)
	case ctx.Err() != nil:
		o.finish(ctx, run, models.RunFailed, fmt.Errorf("crawl run interrupted: %w", ctx.Err()))
	case run.PagesIndexed == 0:
		o.finish(ctx, run, models.RunFailed, core.ErrNoPagesIndexed)
	default:
		o.finish(ctx, run, models.RunCompleted, nil)
	}
	logger.Info("crawl run finished", "status", run.Status,
		"indexed", run.PagesIndexed, "skipped", run.PagesSkipped, "failed", run.PagesFailed)
}

// processPages indexes items with bounded concurrency. Pages already
// started always finish; no new page starts once the run is cancelled.
func (o *Orchestrator) processPages(ctx context.Context, ar *activeRun, scanCfg *models.ScanConfig, run *models.ScanRun, items []core.CrawledItem) {
	pageCtx := context.WithoutCancel(ctx)
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(o.cfg.PageConcurrency)

	for _, item := range items {
		if ar.cancelled.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Go may have blocked on the limit while the run was cancelled.
			if ar.cancelled.Load() {
				return nil
			}
			outcome := o.processPage(pageCtx, scanCfg, item)

			mu.Lock()
			defer mu.Unlock()
			run.PagesProcessed++
			switch outcome {
			case pageIndexed:
				run.PagesIndexed++
			case pageSkipped:
				run.PagesIndexed++
				run.PagesSkipped++
			case pageFailed:
				run.PagesFailed++
			}
			if run.PagesProcessed%o.cfg.CheckpointEvery == 0 {
				if err := o.saveRun(pageCtx, run); err != nil {
					o.logger.Warn("run checkpoint failed", "run_id", run.ID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) processPage(ctx context.Context, scanCfg *models.ScanConfig, item core.CrawledItem) pageOutcome {
	logger := o.logger.With("scan_config_id", scanCfg.ID, "url", item.URL)
	text := ingestion_engine.NormalizeText(item.Text)
	hash := ingestion_engine.ContentHash(text)
	now := o.clock.Now().UTC()

	page, err := o.store.GetPage(ctx, scanCfg.ID, item.URL)
	switch {
	case errors.Is(err, core.ErrNotFound):
		page = &models.Page{ID: uuid.NewString(), ScanConfigID: scanCfg.ID, URL: item.URL}
	case err != nil:
		logger.Error("page lookup failed", "error", err)
		return pageFailed
	case page.Status == models.PageIndexed && page.ContentHash == hash:
		page.LastCrawledAt = now
		if err := o.store.UpsertPage(ctx, page); err != nil {
			logger.Warn("page crawl time not updated", "error", err)
		}
		logger.Debug("page unchanged")
		return pageSkipped
	}

	page.Path = pagePath(item.URL)
	page.Title = item.Title
	page.Description = item.Description
	page.ContentHash = hash
	page.WordCount = ingestion_engine.WordCount(text)
	page.Status = models.PageProcessing
	page.ErrorMessage = ""
	page.LastCrawledAt = now
	if err := o.store.UpsertPage(ctx, page); err != nil {
		logger.Error("page not saved", "error", err)
		return pageFailed
	}

	doc, err := o.pageDocument(ctx, scanCfg, page)
	if err == nil {
		page.DocumentID = doc.ID
		_, err = o.indexer.IndexText(ctx, doc, text, nil)
	}
	if err != nil {
		logger.Warn("page indexing failed", "error", err)
		page.Status = models.PageFailed
		page.ErrorMessage = err.Error()
		if serr := o.store.UpsertPage(ctx, page); serr != nil {
			logger.Error("page failure not saved", "error", serr)
		}
		return pageFailed
	}

	page.Status = models.PageIndexed
	if err := o.store.UpsertPage(ctx, page); err != nil {
		logger.Error("indexed page not saved", "error", err)
		return pageFailed
	}
	return pageIndexed
}

// pageDocument reuses the page's document or creates one.
func (o *Orchestrator) pageDocument(ctx context.Context, scanCfg *models.ScanConfig, page *models.Page) (*models.Document, error) {
	if page.DocumentID != "" {
		doc, err := o.docs.GetDocumentByID(ctx, page.DocumentID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
	}

	now := o.clock.Now().UTC()
	doc := &models.Document{
		ID:               uuid.NewString(),
		TenantID:         scanCfg.TenantID,
		KnowledgeBaseID:  scanCfg.KnowledgeBaseID,
		SourceKind:       models.SourceKindURL,
		SourceLocator:    page.URL,
		FileName:         page.Title,
		ContentType:      "text/html",
		OriginalFormat:   "html",
		ExtractionStatus: models.StagePending,
		EmbeddingStatus:  models.StagePending,
		Status:           models.DocumentProcessing,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.docs.CreateDocument(ctx, doc); err != nil {
		return nil, &core.StoreError{Op: "create page document", Err: err}
	}
	return doc, nil
}

func (o *Orchestrator) scanConfig(ctx context.Context, tenant models.TenantID, kbID, rootURL, domain string, opts *models.CrawlOptions) (*models.ScanConfig, error) {
	now := o.clock.Now().UTC()
	cfg, err := o.store.FindScanConfig(ctx, kbID, rootURL)
	switch {
	case errors.Is(err, core.ErrNotFound):
		cfg = &models.ScanConfig{
			ID:              uuid.NewString(),
			TenantID:        tenant,
			KnowledgeBaseID: kbID,
			RootURL:         rootURL,
			Domain:          domain,
			Status:          models.ScanIdle,
			CreatedAt:       now,
		}
	case err != nil:
		return nil, err
	case cfg.TenantID != tenant:
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, core.ErrNotFound)
	}

	if opts.MaxPages > 0 {
		cfg.MaxPages = opts.MaxPages
	}
	if opts.IncludePatterns != nil {
		cfg.IncludePatterns = cleanGlobs(opts.IncludePatterns)
	}
	if opts.ExcludePatterns != nil {
		cfg.ExcludePatterns = cleanGlobs(opts.ExcludePatterns)
	}
	cfg.UpdatedAt = now
	if err := o.store.UpsertScanConfig(ctx, cfg); err != nil {
		return nil, &core.StoreError{Op: "save scan config", Err: err}
	}
	return cfg, nil
}

// checkKnowledgeBase rejects knowledge bases owned by another tenant.
// Unknown knowledge bases are accepted; they are managed elsewhere.
func (o *Orchestrator) checkKnowledgeBase(ctx context.Context, tenant models.TenantID, kbID string) error {
	kb, err := o.docs.GetKnowledgeBase(ctx, kbID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if kb.TenantID != tenant {
		return fmt.Errorf("knowledge base %s: %w", kbID, core.ErrNotFound)
	}
	return nil
}

func (o *Orchestrator) checkOwner(ctx context.Context, tenant models.TenantID, scanConfigID string) error {
	cfg, err := o.store.GetScanConfig(ctx, scanConfigID)
	if err != nil {
		return err
	}
	if cfg.TenantID != tenant {
		return fmt.Errorf("scan config %s: %w", scanConfigID, core.ErrNotFound)
	}
	return nil
}

// finish writes the terminal run status and the scan config status. It
// writes even when ctx is already cancelled.
func (o *Orchestrator) finish(ctx context.Context, run *models.ScanRun, status models.RunStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := o.clock.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if cause != nil {
		run.ErrorMessage = cause.Error()
	}
	if err := o.saveRun(ctx, run); err != nil {
		o.logger.Error("run result not saved", "run_id", run.ID, "status", status, "error", err)
	}

	scanStatus := models.ScanCompleted
	if status == models.RunFailed {
		scanStatus = models.ScanFailed
	}
	if err := o.store.UpdateScanConfigStatus(ctx, run.ScanConfigID, scanStatus, &now); err != nil {
		o.logger.Error("scan config status not saved", "scan_config_id", run.ScanConfigID, "error", err)
	}
}

func (o *Orchestrator) saveRun(ctx context.Context, run *models.ScanRun) error {
	run.UpdatedAt = o.clock.Now().UTC()
	if err := o.store.UpdateScanRun(ctx, run); err != nil {
		return &core.StoreError{Op: "update scan run", Err: err}
	}
	return nil
}

func (o *Orchestrator) abortJob(ctx context.Context, jobID string) {
	if jobID == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	if err := o.crawler.Abort(callCtx, jobID); err != nil {
		o.logger.Warn("crawl abort failed", "job_id", jobID, "error", err)
	}
}

func (o *Orchestrator) register(ar *activeRun) {
	o.mu.Lock()
	o.active[ar.runID] = ar
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(ar *activeRun) {
	o.mu.Lock()
	delete(o.active, ar.runID)
	delete(o.scanning, ar.scanKey)
	o.mu.Unlock()
}

// reserve claims the website of a knowledge base for one scan at a time.
func (o *Orchestrator) reserve(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.scanning[key]; ok {
		return false
	}
	o.scanning[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.scanning, key)
	o.mu.Unlock()
}

func scanKey(kbID, rootURL string) string {
	return kbID + "|" + rootURL
}
