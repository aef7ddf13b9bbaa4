package domain

// Provenance marks which search pass produced a result.
type Provenance string

// Provenance values.
const (
	ProvenanceExact    Provenance = "exact"
	ProvenanceSemantic Provenance = "semantic"
)

// SearchResult is a single ranked match. Score is a similarity in [0,1],
// higher is better: keyword-overlap fraction for exact matches, clamped
// cosine similarity for semantic ones. The same scale is used for the
// relevance threshold and for merge tie-breaks.
type SearchResult struct {
	DocumentID int               `json:"document_id"`
	Text       string            `json:"text"`
	Score      float64           `json:"relevance_score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Provenance Provenance        `json:"provenance"`
}
