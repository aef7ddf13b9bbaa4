package search

import (
	"context"

	"github.com/lexguard/matchengine/internal/domain"
)

// Engine is the search-side contract of the vector engine.
type Engine interface {
	Documents() []domain.Document
	SemanticSearch(query []float32, k int) ([]domain.SearchResult, error)
	Generation() int64
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// ResultCache is the read-through ranked-result cache.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]domain.SearchResult, bool)
	Put(ctx context.Context, key string, results []domain.SearchResult)
}
