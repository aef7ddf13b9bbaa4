// Package index implements the in-process similarity index over document
// embeddings. Three interchangeable strategies sit behind one interface:
// exact brute-force (Flat), inverted-file clustering (IVF) and a navigable
// small-world graph (HNSW). All three score by inner product over
// L2-normalized vectors, so scores are cosine similarities and higher is
// better. Row positions are assigned in insertion order and never move
// within one index instance; removals are handled by the engine as a full
// rebuild into a fresh instance.
package index

import (
	"fmt"

	"github.com/lexguard/matchengine/internal/domain"
)

// Type identifies an index strategy.
type Type string

// Supported index strategies.
const (
	TypeFlat Type = "flat"
	TypeIVF  Type = "ivf"
	TypeHNSW Type = "hnsw"
)

// Candidate is a single k-NN hit: a row position and its cosine similarity.
type Candidate struct {
	Position int
	Score    float32
}

// Index is the similarity index contract.
type Index interface {
	// Train prepares the index on a representative sample. Flat and HNSW
	// are trivially trained; IVF requires a training pass before Add.
	Train(samples [][]float32) error
	// IsTrained reports whether Add may be called.
	IsTrained() bool
	// Add appends vectors; the Nth added vector gets position Len()+N.
	// Vectors must be L2-normalized by the caller.
	Add(vectors [][]float32) error
	// Search returns up to k candidates ordered by descending similarity.
	Search(query []float32, k int) ([]Candidate, error)
	// Len returns the number of stored vectors.
	Len() int
	// Dim returns the vector dimensionality.
	Dim() int
	// VectorAt returns the stored vector at a position (shared backing
	// array, callers must not mutate). Used for rebuilds.
	VectorAt(position int) []float32
	// Type identifies the strategy for stats and persistence.
	Type() Type
	// MarshalBinary serializes the index, tuning parameters included.
	MarshalBinary() ([]byte, error)
}

// Config selects and tunes an index strategy.
type Config struct {
	Type Type
	Dim  int

	// IVF
	NList  int
	NProbe int

	// HNSW
	M           int
	EFConstruct int
	EFSearch    int
}

// New constructs an empty index for the given configuration.
func New(cfg Config) (Index, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive, got %d", cfg.Dim)
	}
	switch cfg.Type {
	case TypeFlat, "":
		return newFlat(cfg.Dim), nil
	case TypeIVF:
		return newIVF(cfg.Dim, cfg.NList, cfg.NProbe), nil
	case TypeHNSW:
		return newHNSW(cfg.Dim, cfg.M, cfg.EFConstruct, cfg.EFSearch), nil
	default:
		return nil, fmt.Errorf("unknown index type %q", cfg.Type)
	}
}

func checkQuery(dim int, query []float32) error {
	if len(query) != dim {
		return fmt.Errorf("query dim %d != index dim %d: %w", len(query), dim, domain.ErrVectorDimMismatch)
	}
	return nil
}
