// Package chi implements the HTTP API on top of the chi router.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lexguard/matchengine/internal/domain"
	"github.com/lexguard/matchengine/internal/engine"
	healthuc "github.com/lexguard/matchengine/internal/usecase/health"
	ingestuc "github.com/lexguard/matchengine/internal/usecase/ingest"
	searchuc "github.com/lexguard/matchengine/internal/usecase/search"
)

const maxBatchItems = 500

// Searcher runs hybrid searches and reports orchestrator counters.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, threshold float64) ([]domain.SearchResult, error)
	Stats() searchuc.Stats
}

// Ingester mutates the document registry.
type Ingester interface {
	AddDocument(ctx context.Context, item ingestuc.Item) (int, error)
	AddDocumentsBatch(ctx context.Context, items []ingestuc.Item) ([]int, error)
	DeleteDocument(ctx context.Context, id int) (bool, error)
	UpdateDocument(ctx context.Context, id int, item ingestuc.Item) (int, bool, error)
}

// Registry exposes engine reads and admin operations.
type Registry interface {
	Document(id int) (domain.Document, bool)
	Stats() engine.Stats
	Reindex(ctx context.Context) error
	Clear(ctx context.Context) error
}

// HealthChecker aggregates component readiness checks.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, r *http.Request, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	search        Searcher
	ingest        Ingester
	registry      Registry
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler

	defaultTopK      int
	defaultThreshold float64
}

// NewServer creates an HTTP API server.
func NewServer(
	search Searcher,
	ingest Ingester,
	registry Registry,
	health HealthChecker,
	defaultTopK int,
	defaultThreshold float64,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:           search,
		ingest:           ingest,
		registry:         registry,
		health:           health,
		logger:           logger,
		defaultTopK:      defaultTopK,
		defaultThreshold: defaultThreshold,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEncoderError),
	}
	return s
}

// Routes mounts all API handlers on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/documents", s.AddDocument)
	r.Post("/documents/batch", s.AddDocumentsBatch)
	r.Get("/documents/{id}", s.GetDocument)
	r.Put("/documents/{id}", s.UpdateDocument)
	r.Delete("/documents/{id}", s.DeleteDocument)
	r.Post("/search", s.Search)
	r.Get("/stats", s.Stats)
	r.Post("/admin/reindex", s.Reindex)
	r.Post("/admin/clear", s.Clear)
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// AddDocument handles POST /documents.
func (s *Server) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	id, err := s.ingest.AddDocument(r.Context(), ingestuc.Item{Text: req.Text, Metadata: req.Metadata})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{ID: id})
}

// AddDocumentsBatch handles POST /documents/batch.
func (s *Server) AddDocumentsBatch(w http.ResponseWriter, r *http.Request) {
	var req []ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req) == 0 || len(req) > maxBatchItems {
		writeError(w, r, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("documents count must be between 1 and %d", maxBatchItems))
		return
	}

	items := make([]ingestuc.Item, len(req))
	for i, item := range req {
		items[i] = ingestuc.Item{Text: item.Text, Metadata: item.Metadata}
	}

	ids, err := s.ingest.AddDocumentsBatch(r.Context(), items)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, batchIngestResponse{IDs: ids})
}

// GetDocument handles GET /documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}

	doc, found := s.registry.Document(id)
	if !found {
		writeError(w, r, http.StatusNotFound, codeNotFound, domain.ErrDocumentNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, documentResponse{
		ID:        doc.ID,
		Text:      doc.Text,
		Metadata:  doc.Metadata,
		CreatedAt: doc.CreatedAt,
	})
}

// UpdateDocument handles PUT /documents/{id}. The replacement is assigned
// a fresh ID; the old one is never reused.
func (s *Server) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	newID, found, err := s.ingest.UpdateDocument(r.Context(), id, ingestuc.Item{Text: req.Text, Metadata: req.Metadata})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, codeNotFound, domain.ErrDocumentNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{ID: newID})
}

// DeleteDocument handles DELETE /documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.documentID(w, r)
	if !ok {
		return
	}

	found, err := s.ingest.DeleteDocument(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, codeNotFound, domain.ErrDocumentNotFound.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	topK := s.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	threshold := s.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	results, err := s.search.Search(r.Context(), req.Query, topK, threshold)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results:      results,
		TotalResults: len(results),
	})
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	es := s.registry.Stats()
	ss := s.search.Stats()

	hitRate := 0.0
	if total := ss.CacheHits + ss.CacheMisses; total > 0 {
		hitRate = float64(ss.CacheHits) / float64(total)
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalDocuments: es.TotalDocuments,
		IndexSize:      es.IndexSize,
		IndexType:      es.IndexType,
		Dimension:      es.Dimension,
		Trained:        es.Trained,
		SearchCount:    ss.SearchCount,
		CacheHits:      ss.CacheHits,
		CacheMisses:    ss.CacheMisses,
		CacheHitRate:   hitRate,
		MemoryUsageMB:  es.MemoryMB,
	})
}

// Reindex handles POST /admin/reindex.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Reindex(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear handles POST /admin/clear. Removes every document but keeps the
// ID counter, so cleared IDs stay retired.
func (s *Server) Clear(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Clear(r.Context()); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /healthz.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// Degraded still serves traffic: exact-match search works without the
	// encoder and caches fail open, so the probe stays 200.
	writeJSON(w, http.StatusOK, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) documentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, r, http.StatusBadRequest, codeValidationFailed, "document id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidInput,
		domain.ErrDocumentNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrIndexNotTrained,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, r, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, r, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, codeInternalError, "internal error")
}
