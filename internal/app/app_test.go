package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/models"
)

const testSecret = "test-secret"

func embedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type vec struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		out := struct {
			Vectors []vec `json:"vectors"`
		}{}
		for i := range req.Inputs {
			out.Vectors = append(out.Vectors, vec{Embedding: []float32{0.1, 0.2, 0.3}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		StoreDriver:     config.StoreMemory,
		EmbedProvider:   config.EmbedHTTP,
		EmbedServiceURL: embedServer(t).URL,
		IngestWorkers:   1,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		JWTSecret:       testSecret,
		Port:            "0",
	}
	require.NoError(t, cfg.Validate())

	a, err := NewApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func bearer(t *testing.T, tenant string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenant,
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, tenant string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if tenant != "" {
		req.Header.Set("Authorization", bearer(t, tenant))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_IngestAndRead(t *testing.T) {
	a := newTestApp(t)
	h := a.Server.Handler()

	body, _ := json.Marshal(models.IngestRequest{
		SourceKind:      models.SourceKindFile,
		Content:         base64.StdEncoding.EncodeToString([]byte("Onboarding guide. Install the agent, then sign in.")),
		Filename:        "guide.md",
		KnowledgeBaseID: "kb-1",
	})
	rec := do(t, h, http.MethodPost, "/api/ingest", "tenant-a", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, models.DocumentCompleted, res.Status)
	assert.Equal(t, 1, res.EmbeddingCount)

	rec = do(t, h, http.MethodGet, "/api/documents/"+res.DocumentID, "tenant-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "guide.md", doc.FileName)

	rec = do(t, h, http.MethodGet, "/api/documents/"+res.DocumentID, "tenant-b", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/knowledge-bases/kb-1/documents", "tenant-a", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)
}

func TestServer_MultipartAsync(t *testing.T) {
	a := newTestApp(t)
	h := a.Server.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "faq.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Frequently asked questions about billing and refunds."))
	require.NoError(t, mw.WriteField("knowledgeBaseId", "kb-1"))
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/ingest?async=true", "tenant-a", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var res models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.DocumentProcessing, res.Status)

	require.Eventually(t, func() bool {
		doc, err := a.Store.GetDocumentByID(context.Background(), res.DocumentID)
		return err == nil && doc.Status == models.DocumentCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServer_Errors(t *testing.T) {
	a := newTestApp(t)
	h := a.Server.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/documents/x", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/ingest", "tenant-a", bytes.NewReader([]byte(`{"sourceKind":"file"}`)), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ := json.Marshal(models.IngestRequest{
		SourceKind:      models.SourceKindFile,
		Content:         base64.StdEncoding.EncodeToString([]byte("binary")),
		Filename:        "archive.zip",
		KnowledgeBaseID: "kb-1",
	})
	rec = do(t, h, http.MethodPost, "/api/ingest", "tenant-a", bytes.NewReader(body), "application/json")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	var res models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	rec = do(t, h, http.MethodPost, "/api/crawl", "tenant-a", bytes.NewReader([]byte(`{"action":"status","runId":"r1"}`)), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var cr models.CrawlResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cr))
	assert.False(t, cr.Success)
}
