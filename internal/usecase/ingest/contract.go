package ingest

import (
	"context"

	"github.com/lexguard/matchengine/internal/domain"
)

// Engine is the write-side contract of the vector engine.
type Engine interface {
	Append(ctx context.Context, docs []domain.Document, vectors [][]float32) ([]int, error)
	Delete(ctx context.Context, id int) (bool, error)
	Update(ctx context.Context, id int, doc domain.Document, vector []float32) (int, bool, error)
}

// Embedder vectorizes document texts; batches of two or more must hit the
// encoder in one call.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
