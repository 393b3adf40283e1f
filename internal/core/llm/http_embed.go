package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const (
	DefaultHTTPEmbedTimeout = 60 * time.Second
	DefaultHTTPEmbedModel   = "text-embedding-3-small"
)

var _ core.EmbeddingProvider = (*HTTPEmbedder)(nil)

type embedRequest struct {
	Inputs []string `json:"inputs"`
	Model  string   `json:"model"`
}

type embedResponse struct {
	Vectors []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"vectors"`
	Usage struct {
		TotalTokens int `json:"totalTokens"`
	} `json:"usage"`
}

// HTTPEmbedder calls an embedding service over POST /embeddings.
type HTTPEmbedder struct {
	client *resty.Client
	model  string
}

func NewHTTPEmbedder(baseURL, apiKey, model string, timeout time.Duration) (*HTTPEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service url not set")
	}
	if model == "" {
		model = DefaultHTTPEmbedModel
	}
	if timeout <= 0 {
		timeout = DefaultHTTPEmbedTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPEmbedder{client: client, model: model}, nil
}

// EmbedTexts embeds all texts in one request. Vectors come back sorted by the
// index the service reports, not by response order.
func (h *HTTPEmbedder) EmbedTexts(ctx context.Context, texts []string) (core.EmbeddingResult, error) {
	if len(texts) == 0 {
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrEmbeddingInvalidInput, Err: errors.New("empty batch")}
	}

	var out embedResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(embedRequest{Inputs: texts, Model: h.model}).
		SetResult(&out).
		Post("/embeddings")
	if err != nil {
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrServiceUnavailable, Err: err}
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrQuotaExceeded, StatusCode: code, Err: errors.New(resp.String())}
	case code >= 500:
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrServiceUnavailable, StatusCode: code, Err: errors.New(resp.String())}
	case code >= 400:
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrEmbeddingInvalidInput, StatusCode: code, Err: errors.New(resp.String())}
	}

	if len(out.Vectors) != len(texts) {
		return core.EmbeddingResult{}, &core.EmbeddingError{
			Kind: core.ErrServiceUnavailable,
			Err:  fmt.Errorf("service returned %d vectors for %d inputs", len(out.Vectors), len(texts)),
		}
	}
	sort.SliceStable(out.Vectors, func(i, j int) bool { return out.Vectors[i].Index < out.Vectors[j].Index })

	res := core.EmbeddingResult{Vectors: make([][]float32, len(out.Vectors)), TokensUsed: out.Usage.TotalTokens}
	for i, v := range out.Vectors {
		if v.Index != i {
			return core.EmbeddingResult{}, &core.EmbeddingError{
				Kind: core.ErrServiceUnavailable,
				Err:  fmt.Errorf("missing vector for input %d", i),
			}
		}
		res.Vectors[i] = v.Embedding
	}
	return res, nil
}
