package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

const (
	DefaultGeminiModel = "gemini-embedding-001"

	// geminiMaxBatch is the largest BatchEmbedContents request the API accepts.
	geminiMaxBatch = 100
)

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts sends one BatchEmbedContents request per document, split only
// when it holds more texts than the API allows in a batch.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) (core.EmbeddingResult, error) {
	if len(texts) == 0 {
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrEmbeddingInvalidInput, Err: errors.New("empty batch")}
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := core.EmbeddingResult{Vectors: make([][]float32, 0, len(texts))}
	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
			out.TokensUsed += estimateTokens(t)
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return core.EmbeddingResult{}, classifyGeminiError(err)
		}
		if len(resp.Embeddings) != end-start {
			return core.EmbeddingResult{}, &core.EmbeddingError{
				Kind: core.ErrServiceUnavailable,
				Err:  fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), end-start),
			}
		}
		for _, e := range resp.Embeddings {
			out.Vectors = append(out.Vectors, e.Values)
		}
	}
	return out, nil
}

// classifyGeminiError maps gRPC and HTTP failures onto embedding error kinds.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &core.EmbeddingError{Kind: core.ErrServiceUnavailable, Err: err}
	}

	httpCode := 0
	code := status.Code(err)
	if ae, ok := apierror.FromError(err); ok {
		httpCode = max(ae.HTTPCode(), 0)
		if st := ae.GRPCStatus(); st != nil {
			code = st.Code()
		}
	}

	kind := core.ErrEmbeddingInvalidInput
	switch {
	case code == codes.ResourceExhausted || httpCode == http.StatusTooManyRequests:
		kind = core.ErrQuotaExceeded
	case code == codes.Unavailable, code == codes.DeadlineExceeded, code == codes.Internal,
		code == codes.Unknown && httpCode == 0, httpCode >= 500:
		kind = core.ErrServiceUnavailable
	}
	return &core.EmbeddingError{Kind: kind, StatusCode: httpCode, Err: fmt.Errorf("gemini batch embed: %w", err)}
}

// estimateTokens is a cheap token estimator (~4 chars ≈ 1 token).
func estimateTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
