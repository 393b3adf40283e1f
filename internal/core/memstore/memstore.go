// Package memstore keeps documents, vectors and scan state in process memory.
// It backs local development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

var (
	_ core.DocumentStore = (*Store)(nil)
	_ core.VectorStore   = (*Store)(nil)
	_ core.ScanJobStore  = (*Store)(nil)
)

type vectorKey struct {
	documentID string
	chunkIndex int
}

// Store is safe for concurrent use. Values are copied in and out.
type Store struct {
	mu sync.RWMutex

	kbs     map[string]models.KnowledgeBase
	docs    map[string]models.Document
	vectors map[models.TenantID]map[vectorKey]models.VectorRecord
	configs map[string]models.ScanConfig
	runs    map[string]models.ScanRun
	pages   map[string]map[string]models.Page // scan config id -> url -> page

	// FailUpsert, when set, is returned by Upsert.
	FailUpsert error
}

func New() *Store {
	return &Store{
		kbs:     make(map[string]models.KnowledgeBase),
		docs:    make(map[string]models.Document),
		vectors: make(map[models.TenantID]map[vectorKey]models.VectorRecord),
		configs: make(map[string]models.ScanConfig),
		runs:    make(map[string]models.ScanRun),
		pages:   make(map[string]map[string]models.Page),
	}
}

// PutKnowledgeBase seeds a knowledge base.
func (s *Store) PutKnowledgeBase(kb models.KnowledgeBase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kbs[kb.ID] = kb
}

func (s *Store) GetKnowledgeBase(_ context.Context, id string) (*models.KnowledgeBase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kb, ok := s.kbs[id]
	if !ok {
		return nil, fmt.Errorf("knowledge base %s: %w", id, core.ErrNotFound)
	}
	return &kb, nil
}

func (s *Store) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	s.docs[doc.ID] = copyDocument(*doc)
	return nil
}

func (s *Store) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d = copyDocument(d)
	return &d, nil
}

func (s *Store) ListDocumentsByKnowledgeBase(_ context.Context, kbID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for _, d := range s.docs {
		if d.KnowledgeBaseID == kbID {
			out = append(out, copyDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrNotFound)
	}
	s.docs[doc.ID] = copyDocument(*doc)
	return nil
}

func (s *Store) Upsert(_ context.Context, tenant models.TenantID, records []models.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpsert != nil {
		return s.FailUpsert
	}

	ns := s.vectors[tenant]
	if ns == nil {
		ns = make(map[vectorKey]models.VectorRecord)
		s.vectors[tenant] = ns
	}
	touched := make(map[string]bool)
	for _, r := range records {
		touched[r.DocumentID] = true
	}
	for k := range ns {
		if touched[k.documentID] {
			delete(ns, k)
		}
	}
	for _, r := range records {
		r.Embedding = append([]float32(nil), r.Embedding...)
		ns[vectorKey{r.DocumentID, r.ChunkIndex}] = r
	}
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, tenant models.TenantID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.vectors[tenant] {
		if k.documentID == documentID {
			delete(s.vectors[tenant], k)
		}
	}
	return nil
}

func (s *Store) CountDocument(_ context.Context, tenant models.TenantID, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.vectors[tenant] {
		if k.documentID == documentID {
			n++
		}
	}
	return n, nil
}

// Records returns the records of a document ordered by chunk index.
func (s *Store) Records(tenant models.TenantID, documentID string) []models.VectorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.VectorRecord
	for k, r := range s.vectors[tenant] {
		if k.documentID == documentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

func (s *Store) UpsertScanConfig(_ context.Context, cfg *models.ScanConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.configs {
		if id != cfg.ID && existing.KnowledgeBaseID == cfg.KnowledgeBaseID && existing.RootURL == cfg.RootURL {
			return fmt.Errorf("scan config for %s already exists as %s", cfg.RootURL, id)
		}
	}
	s.configs[cfg.ID] = copyScanConfig(*cfg)
	return nil
}

func (s *Store) GetScanConfig(_ context.Context, id string) (*models.ScanConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("scan config %s: %w", id, core.ErrNotFound)
	}
	c = copyScanConfig(c)
	return &c, nil
}

func (s *Store) FindScanConfig(_ context.Context, kbID, rootURL string) (*models.ScanConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.configs {
		if c.KnowledgeBaseID == kbID && c.RootURL == rootURL {
			c = copyScanConfig(c)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("scan config for %s: %w", rootURL, core.ErrNotFound)
}

func (s *Store) UpdateScanConfigStatus(_ context.Context, id string, status models.ScanStatus, lastScan *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return fmt.Errorf("scan config %s: %w", id, core.ErrNotFound)
	}
	c.Status = status
	if lastScan != nil {
		t := *lastScan
		c.LastScanAt = &t
	}
	c.UpdatedAt = time.Now()
	s.configs[id] = c
	return nil
}

func (s *Store) CreateScanRun(_ context.Context, run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("scan run %s already exists", run.ID)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) GetScanRun(_ context.Context, id string) (*models.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("scan run %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) LatestScanRun(_ context.Context, scanConfigID string) (*models.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.ScanRun
	for _, r := range s.runs {
		if r.ScanConfigID != scanConfigID {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			r := r
			latest = &r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("scan runs of %s: %w", scanConfigID, core.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) UpdateScanRun(_ context.Context, run *models.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("scan run %s: %w", run.ID, core.ErrNotFound)
	}
	if !cur.Status.CanTransitionTo(run.Status) {
		return fmt.Errorf("scan run %s %s -> %s: %w", run.ID, cur.Status, run.Status, core.ErrInvalidTransition)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *Store) GetPage(_ context.Context, scanConfigID, url string) (*models.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[scanConfigID][url]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", url, core.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) UpsertPage(_ context.Context, page *models.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byURL := s.pages[page.ScanConfigID]
	if byURL == nil {
		byURL = make(map[string]models.Page)
		s.pages[page.ScanConfigID] = byURL
	}
	if existing, ok := byURL[page.URL]; ok && page.ID == "" {
		page.ID = existing.ID
	}
	byURL[page.URL] = *page
	return nil
}

// Pages lists the pages of a scan config.
func (s *Store) Pages(scanConfigID string) []models.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Page, 0, len(s.pages[scanConfigID]))
	for _, p := range s.pages[scanConfigID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func copyDocument(d models.Document) models.Document {
	if d.ExtractedText != nil {
		t := *d.ExtractedText
		d.ExtractedText = &t
	}
	if d.ContentHash != nil {
		h := *d.ContentHash
		d.ContentHash = &h
	}
	return d
}

func copyScanConfig(c models.ScanConfig) models.ScanConfig {
	c.IncludePatterns = append([]string(nil), c.IncludePatterns...)
	c.ExcludePatterns = append([]string(nil), c.ExcludePatterns...)
	if c.LastScanAt != nil {
		t := *c.LastScanAt
		c.LastScanAt = &t
	}
	return c
}
