package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/markdave123-py/contexta-ingest/internal/api/handlers"
	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	converterclient "github.com/markdave123-py/contexta-ingest/internal/core/converter-client"
	"github.com/markdave123-py/contexta-ingest/internal/core/crawl_engine"
	crawlerclient "github.com/markdave123-py/contexta-ingest/internal/core/crawler-client"
	db "github.com/markdave123-py/contexta-ingest/internal/core/database"
	"github.com/markdave123-py/contexta-ingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-ingest/internal/core/llm"
	"github.com/markdave123-py/contexta-ingest/internal/core/memstore"
	objectclient "github.com/markdave123-py/contexta-ingest/internal/core/object-client"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

const collaboratorTimeout = 60 * time.Second

// Store is the persistence the app needs: Postgres in production, memory in development.
type Store interface {
	core.DocumentStore
	core.VectorStore
	core.ScanJobStore
}

type App struct {
	Store        Store
	ObjectClient core.ObjectClient
	Ingestor     *ingestion_engine.DocumentIngestor
	Orchestrator *crawl_engine.Orchestrator
	Server       *Server

	logger      *slog.Logger
	closers     []func() error
	stopWorkers context.CancelFunc
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	a := &App{logger: logger}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := a.initStore(appCtx, cfg); err != nil {
		return nil, err
	}

	if cfg.BucketName != "" {
		objClient, err := objectclient.NewS3Client(appCtx, objectclient.S3Options{
			AccessKey: cfg.AwsAccessKey,
			SecretKey: cfg.AwsSecretKey,
			Region:    cfg.AwsRegion,
			Bucket:    cfg.BucketName,
			Endpoint:  cfg.S3Endpoint,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.ObjectClient = objClient
	} else {
		logger.Warn("BUCKET_NAME not set, uploads will not be archived")
	}

	embedder, err := a.newEmbedder(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	converter, err := newConverter(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	ingCfg := &ingestion_engine.IngestConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Bucket:       cfg.BucketName,
	}
	extractor := ingestion_engine.NewExtractor(ingestion_engine.ExtractorConfig{}, converter, logger)
	pipeline := ingestion_engine.NewPipeline(a.Store, a.Store, embedder, extractor, ingCfg, logger)
	a.Ingestor = ingestion_engine.NewDocumentIngestor(pipeline, a.ObjectClient, ingCfg, logger)

	var orch services.CrawlOrchestrator
	if cfg.CrawlerURL != "" {
		crawler, err := crawlerclient.NewClient(cfg.CrawlerURL, cfg.CrawlerToken, collaboratorTimeout)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Orchestrator, err = crawl_engine.NewOrchestrator(a.Store, a.Store, crawler, a.Ingestor, core.SystemClock{}, &crawl_engine.CrawlConfig{
			PollInterval:    time.Duration(cfg.PollIntervalSec) * time.Second,
			MaxPollAttempts: cfg.PollAttempts,
			PageConcurrency: cfg.PageConcurrency,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		orch = a.Orchestrator
	} else {
		logger.Warn("CRAWLER_URL not set, website crawling is disabled")
	}

	workerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWorkers = stop
	a.Ingestor.Start(workerCtx, cfg.IngestWorkers)

	docHandler := handlers.NewDocumentHandler(
		services.NewIngestService(a.Store, a.Ingestor, a.ObjectClient, cfg.BucketName, logger),
		services.NewDocumentService(a.Store, a.Store),
		logger,
	)
	crawlHandler := handlers.NewCrawlHandler(services.NewCrawlService(orch))
	a.Server = NewServer(cfg, docHandler, crawlHandler, logger)

	return a, nil
}

func (a *App) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		a.Store = memstore.New()
		a.logger.Warn("using in-memory store, data is lost on restart")
		return nil
	default:
		dbClient, err := db.NewDatabaseClient(ctx, cfg, a.logger)
		if err != nil {
			return err
		}
		a.Store = dbClient
		a.closers = append(a.closers, dbClient.Close)
		a.logger.Info("database initialized and ready")
		return nil
	}
}

func (a *App) newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	var next core.EmbeddingProvider
	switch cfg.EmbedProvider {
	case config.EmbedHTTP:
		e, err := llm.NewHTTPEmbedder(cfg.EmbedServiceURL, cfg.EmbedServiceKey, cfg.EmbedModel, collaboratorTimeout)
		if err != nil {
			return nil, err
		}
		next = e
	default:
		e, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		next = e
	}
	return llm.NewRateLimitedEmbedder(next, cfg.EmbedRPS, cfg.EmbedBurst), nil
}

// newConverter prefers the external conversion service and falls back to
// in-process docconv.
func newConverter(cfg *config.Config) (core.DocumentConverter, error) {
	if cfg.ConverterURL == "" {
		return ingestion_engine.NewDocconvConverter(false), nil
	}
	return converterclient.NewClient(cfg.ConverterURL, cfg.ConverterToken, 5*time.Minute)
}

// Run serves HTTP until ctx is done, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops accepting requests, interrupts crawl runs, drains the
// ingestion workers and closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		errs = append(errs, a.Server.Shutdown(ctx))
	}
	if a.Orchestrator != nil {
		timeout := 30 * time.Second
		if dl, ok := ctx.Deadline(); ok {
			timeout = time.Until(dl)
		}
		if err := a.Orchestrator.Shutdown(timeout); err != nil {
			errs = append(errs, fmt.Errorf("crawl orchestrator: %w", err))
		}
	}
	if a.stopWorkers != nil {
		a.stopWorkers()
		a.Ingestor.Wait()
	}
	a.Close()
	return errors.Join(errs...)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
