package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/contexta-ingest/internal/api/middlewares"
	"github.com/markdave123-py/contexta-ingest/internal/core"
	"github.com/markdave123-py/contexta-ingest/internal/models"
	"github.com/markdave123-py/contexta-ingest/internal/services"
)

const maxUploadBytes = 52 << 20

type DocumentHandler struct {
	ingest *services.IngestService
	docs   *services.DocumentService
	logger *slog.Logger
}

func NewDocumentHandler(ingest *services.IngestService, docs *services.DocumentService, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{ingest: ingest, docs: docs, logger: logger.With("component", "document_handler")}
}

// Ingest accepts a JSON IngestRequest or a multipart upload with a "file"
// part. With ?async=true the document is queued and 202 is returned.
func (h *DocumentHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	req, err := decodeIngestRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	res, err := h.ingest.Ingest(r.Context(), tenant, req, async)
	if err != nil {
		if res == nil {
			writeError(w, err)
			return
		}
		if res.Error == "" {
			res.Error = err.Error()
		}
		h.logger.Warn("ingestion failed", "document_id", res.DocumentID, "error", err)
		writeJSON(w, statusFor(err), res)
		return
	}

	if async {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeIngestRequest(w http.ResponseWriter, r *http.Request) (*models.IngestRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var req models.IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("%w: invalid body: %v", core.ErrInvalidInput, err)
		}
		return &req, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid multipart form: %v", core.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid file", core.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", core.ErrInvalidInput, err)
	}

	req := &models.IngestRequest{
		SourceKind:      models.SourceKindFile,
		Data:            data,
		Filename:        header.Filename,
		KnowledgeBaseID: r.FormValue("knowledgeBaseId"),
		DocumentID:      r.FormValue("documentId"),
	}
	if raw := r.FormValue("options"); raw != "" {
		req.Options = &models.IngestOptions{}
		if err := json.Unmarshal([]byte(raw), req.Options); err != nil {
			return nil, fmt.Errorf("%w: invalid options: %v", core.ErrInvalidInput, err)
		}
	}
	return req, nil
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	doc, err := h.docs.Get(r.Context(), tenant, chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		http.Error(w, "tenant not found in context", http.StatusUnauthorized)
		return
	}

	documents, err := h.docs.ListByKnowledgeBase(r.Context(), tenant, chi.URLParam(r, "kbID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}
