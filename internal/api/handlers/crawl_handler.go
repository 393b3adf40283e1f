package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/contexta-ingest/internal/api/middlewares"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

type CrawlHandler struct {
	crawl *services.CrawlService
}

func NewCrawlHandler(crawl *services.CrawlService) *CrawlHandler {
	return &CrawlHandler{crawl: crawl}
}

// Crawl runs a scan, status or cancel action. A started scan answers 202.
func (h *CrawlHandler) Crawl(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	var req models.CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = fmt.Errorf("%w: invalid body: %v", core.ErrInvalidInput, err)
		writeJSON(w, http.StatusBadRequest, &models.CrawlResult{Error: err.Error()})
		return
	}

	res, err := h.crawl.Handle(r.Context(), tenant, &req)
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	if req.Action == models.CrawlActionScan {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CrawlHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	res, err := h.crawl.Run(r.Context(), tenant, chi.URLParam(r, "runID"))
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
