// Package rescache caches ranked result lists in a key-value store. The
// key covers the query hash, top_k, threshold and the engine's mutation
// generation: after any ingest/delete the generation moves on, all prior
// keys become unreachable and age out via TTL. Backend errors fail open.
package rescache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lexguard/matchengine/internal/db"
	"github.com/lexguard/matchengine/internal/domain"
)

const cacheKeyPrefix = "matchengine:res:"

// store is the consumer interface for the result cache.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is the read-through result cache.
type Cache struct {
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a result cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{store: s, ttl: ttl, cacheTotal: cacheTotal, logger: logger}
}

// Key derives the cache key for one search request against one engine generation.
func Key(query string, topK int, threshold float64, generation int64) string {
	h := sha256.Sum256([]byte(query))
	return cacheKeyPrefix + hex.EncodeToString(h[:]) +
		":" + strconv.Itoa(topK) +
		":" + strconv.FormatFloat(threshold, 'f', -1, 64) +
		":" + strconv.FormatInt(generation, 10)
}

// Get returns the cached ranked results for the key, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached results", zap.String("key", key), zap.Error(err))
		}
		c.incCache("miss")
		return nil, false
	}

	var results []domain.SearchResult
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Warn("Failed to parse cached results", zap.String("key", key), zap.Error(err))
		c.incCache("miss")
		return nil, false
	}

	c.incCache("hit")
	return results, true
}

// Put stores the ranked results under the key with the configured TTL.
func (c *Cache) Put(ctx context.Context, key string, results []domain.SearchResult) {
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("Failed to marshal results for caching", zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache results", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}
