package core

import "context"

// EmbeddingResult holds one vector per input text, in input order.
type EmbeddingResult struct {
	Vectors    [][]float32
	TokensUsed int
}

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) (EmbeddingResult, error)
}
