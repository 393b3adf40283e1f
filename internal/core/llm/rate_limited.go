package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

var _ core.EmbeddingProvider = (*RateLimitedEmbedder)(nil)

// RateLimitedEmbedder shares one token bucket across every caller, since all
// tenants embed with the same API key.
type RateLimitedEmbedder struct {
	next    core.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows rps requests per second with the given burst.
// rps <= 0 disables limiting.
func NewRateLimitedEmbedder(next core.EmbeddingProvider, rps float64, burst int) *RateLimitedEmbedder {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedEmbedder) EmbedTexts(ctx context.Context, texts []string) (core.EmbeddingResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return core.EmbeddingResult{}, &core.EmbeddingError{Kind: core.ErrServiceUnavailable, Err: err}
	}
	return r.next.EmbedTexts(ctx, texts)
}
