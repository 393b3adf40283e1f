package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/core/crawl_engine"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

// ErrCrawlerDisabled is returned when no crawler service is configured.
var ErrCrawlerDisabled = errors.New("crawler not configured")

type CrawlOrchestrator interface {
	StartScan(ctx context.Context, tenant models.TenantID, kbID, websiteURL string, opts *models.CrawlOptions) (*models.ScanRun, error)
	Status(ctx context.Context, tenant models.TenantID, runID string) (*models.ScanRun, error)
	LatestRun(ctx context.Context, tenant models.TenantID, kbID, websiteURL string) (*models.ScanRun, error)
	Cancel(ctx context.Context, tenant models.TenantID, runID string) (*models.ScanRun, error)
}

var _ CrawlOrchestrator = (*crawl_engine.Orchestrator)(nil)

// CrawlService dispatches CrawlRequests. A nil orchestrator disables crawling.
type CrawlService struct {
	orch CrawlOrchestrator
}

func NewCrawlService(orch CrawlOrchestrator) *CrawlService {
	return &CrawlService{orch: orch}
}

// Handle runs one crawl action. Success reports whether the action itself
// worked; a failed run is reported through Status and Error. The result is
// never nil; on error it carries the message and, when a run was created, its id.
func (s *CrawlService) Handle(ctx context.Context, tenant models.TenantID, req *models.CrawlRequest) (*models.CrawlResult, error) {
	if err := validateRequest(req); err != nil {
		return failed(nil, err), err
	}
	if s.orch == nil {
		return failed(nil, ErrCrawlerDisabled), ErrCrawlerDisabled
	}

	var (
		run *models.ScanRun
		err error
	)
	switch req.Action {
	case models.CrawlActionScan:
		run, err = s.orch.StartScan(ctx, tenant, req.KnowledgeBaseID, req.WebsiteURL, req.Options)
	case models.CrawlActionStatus:
		run, err = s.lookup(ctx, tenant, req)
	case models.CrawlActionCancel:
		run, err = s.lookup(ctx, tenant, req)
		if err == nil {
			run, err = s.orch.Cancel(ctx, tenant, run.ID)
		}
	default:
		err = fmt.Errorf("unknown action %q", req.Action)
	}
	if err != nil {
		return failed(run, err), err
	}
	return result(run), nil
}

// Run returns one run by id.
func (s *CrawlService) Run(ctx context.Context, tenant models.TenantID, runID string) (*models.CrawlResult, error) {
	if s.orch == nil {
		return failed(nil, ErrCrawlerDisabled), ErrCrawlerDisabled
	}
	run, err := s.orch.Status(ctx, tenant, runID)
	if err != nil {
		return failed(nil, err), err
	}
	return result(run), nil
}

func (s *CrawlService) lookup(ctx context.Context, tenant models.TenantID, req *models.CrawlRequest) (*models.ScanRun, error) {
	if req.RunID != "" {
		return s.orch.Status(ctx, tenant, req.RunID)
	}
	if req.WebsiteURL == "" || req.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("%w: runId or websiteUrl and knowledgeBaseId are required", core.ErrInvalidInput)
	}
	return s.orch.LatestRun(ctx, tenant, req.KnowledgeBaseID, req.WebsiteURL)
}

func result(run *models.ScanRun) *models.CrawlResult {
	stats := run.Stats()
	return &models.CrawlResult{
		Success: true,
		RunID:   run.ID,
		Status:  run.Status,
		Stats:   &stats,
		Error:   run.ErrorMessage,
	}
}

func failed(run *models.ScanRun, err error) *models.CrawlResult {
	res := &models.CrawlResult{Success: false, Error: err.Error()}
	if run != nil {
		res.RunID = run.ID
		res.Status = run.Status
	}
	return res
}
