// Package search implements the hybrid search orchestrator: an exact
// keyword pass first, a semantic k-NN pass when the exact pass finds no
// strong match, then merge, threshold filtering and ranking.
package search

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lexguard/matchengine/internal/domain"
	"github.com/lexguard/matchengine/internal/index"
	"github.com/lexguard/matchengine/internal/metrics"
	"github.com/lexguard/matchengine/internal/repository/rescache"
)

// Service runs hybrid searches with read-through result caching.
type Service struct {
	engine      Engine
	embed       Embedder
	cache       ResultCache // nil disables result caching
	exact       *ExactMatcher
	strongMatch float64
	maxTopK     int
	workers     *semaphore.Weighted
	logger      *zap.Logger

	searches  atomic.Int64
	cacheHits atomic.Int64
	misses    atomic.Int64
}

// Config holds search policy values.
type Config struct {
	MinOverlap  float64 // exact-match candidate cutoff
	StrongMatch float64 // exact-match short-circuit cutoff
	MaxTopK     int     // hard cap on requested top_k
}

const defaultMaxTopK = 100

// New creates the search service.
func New(
	engine Engine, embed Embedder, cache ResultCache,
	cfg Config, workers *semaphore.Weighted, logger *zap.Logger,
) *Service {
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = defaultMaxTopK
	}
	return &Service{
		engine:      engine,
		embed:       embed,
		cache:       cache,
		exact:       NewExactMatcher(cfg.MinOverlap),
		strongMatch: cfg.StrongMatch,
		maxTopK:     cfg.MaxTopK,
		workers:     workers,
		logger:      logger,
	}
}

// Search answers a query with up to topK results scoring at or above
// threshold. topK above the configured maximum is clamped. The embedding
// provider failing degrades the query to exact-match-only results instead
// of failing it.
func (s *Service) Search(ctx context.Context, query string, topK int, threshold float64) ([]domain.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1", domain.ErrInvalidInput)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold must be in [0, 1]", domain.ErrInvalidInput)
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	key := rescache.Key(query, topK, threshold, s.engine.Generation())
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			s.cacheHits.Add(1)
			return cached, nil
		}
		s.misses.Add(1)
	}
	s.searches.Add(1)

	docs := s.engine.Documents()
	if len(docs) == 0 {
		metrics.SearchRequestsTotal.WithLabelValues("empty").Inc()
		return []domain.SearchResult{}, nil
	}
	exactResults := s.exact.Search(query, docs, topK)

	// Strong exact matches short-circuit the semantic pass entirely,
	// saving the embedding call.
	if strong := filterByScore(exactResults, s.strongMatch); len(strong) > 0 {
		results := truncate(filterByScore(strong, threshold), topK)
		metrics.SearchRequestsTotal.WithLabelValues("exact").Inc()
		s.putCache(ctx, key, results)
		return results, nil
	}

	semantic, err := s.semanticPass(ctx, query, topK)
	if err != nil {
		// Degrade rather than fail; degraded result sets are not cached
		// so a recovered encoder serves full results immediately.
		s.logger.Warn("semantic pass failed, degrading to exact-match only",
			zap.String("query", query), zap.Error(err))
		metrics.SearchRequestsTotal.WithLabelValues("degraded").Inc()
		return truncate(filterByScore(exactResults, threshold), topK), nil
	}

	results := truncate(filterByScore(merge(exactResults, semantic), threshold), topK)
	metrics.SearchRequestsTotal.WithLabelValues("hybrid").Inc()
	s.putCache(ctx, key, results)
	return results, nil
}

// semanticPass embeds the query and runs k-NN with 2×topK headroom for the
// threshold filter. The encoder call is gated through the worker pool so it
// cannot saturate the request-handling goroutines.
func (s *Service) semanticPass(ctx context.Context, query string, topK int) ([]domain.SearchResult, error) {
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire worker: %w", err)
	}
	embRes, err := s.embed.Embed(ctx, query)
	s.workers.Release(1)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vec := index.Normalize(embRes.Embedding)
	results, err := s.engine.SemanticSearch(vec, 2*topK)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	return results, nil
}

// Stats reports orchestrator-level counters for the statistics endpoint.
type Stats struct {
	SearchCount int64
	CacheHits   int64
	CacheMisses int64
}

// Stats returns search counters.
func (s *Service) Stats() Stats {
	return Stats{
		SearchCount: s.searches.Load(),
		CacheHits:   s.cacheHits.Load(),
		CacheMisses: s.misses.Load(),
	}
}

func (s *Service) putCache(ctx context.Context, key string, results []domain.SearchResult) {
	if s.cache != nil {
		s.cache.Put(ctx, key, results)
	}
}

// merge deduplicates the exact and semantic result sets by document ID,
// keeping the higher score on conflict (exact wins exact ties), and orders
// the union: higher score first, exact before semantic on equal scores.
func merge(exact, semantic []domain.SearchResult) []domain.SearchResult {
	byID := make(map[int]domain.SearchResult, len(exact)+len(semantic))
	for _, r := range exact {
		byID[r.DocumentID] = r
	}
	for _, r := range semantic {
		if existing, ok := byID[r.DocumentID]; ok && existing.Score >= r.Score {
			continue
		}
		byID[r.DocumentID] = r
	}

	merged := make([]domain.SearchResult, 0, len(byID))
	for _, r := range byID {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Provenance != b.Provenance {
			return a.Provenance == domain.ProvenanceExact
		}
		return a.DocumentID < b.DocumentID
	})
	return merged
}

func filterByScore(results []domain.SearchResult, cutoff float64) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

func truncate(results []domain.SearchResult, topK int) []domain.SearchResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}
