package chi

import (
	"time"

	"github.com/lexguard/matchengine/internal/domain"
)

// Error codes returned in the structured error body.
const (
	codeBadRequest       = "bad_request"
	codeValidationFailed = "validation_failed"
	codeNotFound         = "document_not_found"
	codeEncoderError     = "embedding_provider_error"
	codeInternalError    = "internal_error"
	codeUnauthorized     = "unauthorized"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ingestRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type ingestResponse struct {
	ID int `json:"id"`
}

type batchIngestResponse struct {
	IDs []int `json:"ids"`
}

type documentResponse struct {
	ID        int               `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type searchRequest struct {
	Query     string   `json:"query"`
	TopK      *int     `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type searchResponse struct {
	Results      []domain.SearchResult `json:"results"`
	TotalResults int                   `json:"total_results"`
}

type statsResponse struct {
	TotalDocuments int     `json:"total_documents"`
	IndexSize      int     `json:"index_size"`
	IndexType      string  `json:"index_type"`
	Dimension      int     `json:"dimension"`
	Trained        bool    `json:"trained"`
	SearchCount    int64   `json:"search_count"`
	CacheHits      int64   `json:"cache_hits"`
	CacheMisses    int64   `json:"cache_misses"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	MemoryUsageMB  float64 `json:"memory_usage_mb"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
