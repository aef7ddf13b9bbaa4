// Package engine owns the similarity index and the document store as one
// consistent unit. Readers share an RLock against the current handle;
// mutations serialize on a dedicated mutex and publish under a brief
// exclusive lock. Full rebuilds construct the replacement index outside the
// read lock, so searches in flight keep running against the old handle
// until the swap.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lexguard/matchengine/internal/docstore"
	"github.com/lexguard/matchengine/internal/domain"
	"github.com/lexguard/matchengine/internal/index"
	"github.com/lexguard/matchengine/internal/metrics"
)

// Options configures the engine.
type Options struct {
	Index   index.Config
	DataDir string
	Workers *semaphore.Weighted
	Logger  *zap.Logger
}

// Engine is the hybrid search engine's stateful core.
type Engine struct {
	mu  sync.RWMutex // guards docs+idx for readers and the publish step
	mut sync.Mutex   // serializes mutations end to end

	docs *docstore.Store
	idx  index.Index

	cfg     index.Config
	dataDir string
	workers *semaphore.Weighted
	logger  *zap.Logger

	generation   atomic.Int64
	persistedGen atomic.Int64
	persistMu    sync.Mutex
}

// New creates an engine, loading any previously persisted state from
// Options.DataDir (manifest first, then the index blob; see Load for the
// consistency rules).
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers == nil {
		opts.Workers = semaphore.NewWeighted(int64(runtime.NumCPU()))
	}
	idx, err := index.New(opts.Index)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	e := &Engine{
		docs:    docstore.New(),
		idx:     idx,
		cfg:     opts.Index,
		dataDir: opts.DataDir,
		workers: opts.Workers,
		logger:  opts.Logger,
	}
	if opts.DataDir != "" {
		e.load()
	}
	e.updateGauges()
	return e, nil
}

// Generation returns the mutation counter. Result-cache keys include it so
// every mutation invalidates all previously cached result sets.
func (e *Engine) Generation() int64 {
	return e.generation.Load()
}

// Documents returns a snapshot of all documents in index-row order.
func (e *Engine) Documents() []domain.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.docs.All()
}

// Document returns a single document by ordinal ID.
func (e *Engine) Document(id int) (domain.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.docs.Get(id)
}

// SemanticSearch runs k-NN over the index and resolves row positions to
// documents. A position whose document has been rebuilt away is skipped
// rather than failing the query. The query vector must be L2-normalized.
func (e *Engine) SemanticSearch(query []float32, k int) ([]domain.SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cands, err := e.idx.Search(query, k)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(cands))
	for _, c := range cands {
		doc, ok := e.docs.ByPosition(c.Position)
		if !ok {
			e.logger.Warn("index position has no document, skipping",
				zap.Int("position", c.Position))
			continue
		}
		results = append(results, domain.SearchResult{
			DocumentID: doc.ID,
			Text:       doc.Text,
			Score:      clamp01(float64(c.Score)),
			Metadata:   doc.Metadata,
			Provenance: domain.ProvenanceSemantic,
		})
	}
	return results, nil
}

// Append ingests pre-embedded documents: documents become visible in the
// store and the index within one exclusive critical section, in matching
// order. An untrained IVF index is trained on the incoming batch first.
// Vectors must be L2-normalized.
func (e *Engine) Append(ctx context.Context, docs []domain.Document, vectors [][]float32) ([]int, error) {
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("documents (%d) and vectors (%d) mismatch", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil, nil
	}
	for i, v := range vectors {
		if len(v) != e.cfg.Dim {
			return nil, fmt.Errorf("vector %d dim %d != index dim %d: %w",
				i, len(v), e.cfg.Dim, domain.ErrVectorDimMismatch)
		}
	}

	e.mut.Lock()
	defer e.mut.Unlock()

	if !e.idx.IsTrained() {
		if err := e.trainLocked(ctx, vectors); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	ids := make([]int, len(docs))
	for i, doc := range docs {
		ids[i] = e.docs.Save(doc)
	}
	if err := e.idx.Add(vectors); err != nil {
		// Roll the store back so rows and IDs stay aligned.
		for _, id := range ids {
			e.docs.Delete(id)
		}
		e.mu.Unlock()
		return nil, fmt.Errorf("index add: %w", err)
	}
	e.generation.Add(1)
	e.mu.Unlock()

	e.updateGauges()
	e.persistAsync()
	return ids, nil
}

// Delete removes a document and rebuilds the index without it. Surviving
// documents keep their IDs; their row positions shift.
func (e *Engine) Delete(ctx context.Context, id int) (bool, error) {
	e.mut.Lock()
	defer e.mut.Unlock()

	if _, ok := e.Document(id); !ok {
		return false, nil
	}
	if err := e.rebuildLocked(ctx, id, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Update replaces a document via delete + reinsert. The replacement gets a
// fresh ordinal ID; the old ID is never reused.
func (e *Engine) Update(ctx context.Context, id int, doc domain.Document, vector []float32) (int, bool, error) {
	if len(vector) != e.cfg.Dim {
		return 0, false, fmt.Errorf("vector dim %d != index dim %d: %w",
			len(vector), e.cfg.Dim, domain.ErrVectorDimMismatch)
	}

	e.mut.Lock()
	defer e.mut.Unlock()

	if _, ok := e.Document(id); !ok {
		return 0, false, nil
	}
	if err := e.rebuildLocked(ctx, id, []domain.Document{doc}, [][]float32{vector}); err != nil {
		return 0, false, err
	}

	e.mu.RLock()
	newID := e.docs.NextID() - 1
	e.mu.RUnlock()
	return newID, true, nil
}

// Reindex rebuilds the index from the currently stored vectors. The graph
// or cluster structure is reconstructed from scratch.
func (e *Engine) Reindex(ctx context.Context) error {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.rebuildLocked(ctx, -1, nil, nil)
}

// Clear wipes all documents and the index. Ordinal IDs are preserved so
// deleted IDs are never reassigned within a process lifetime.
func (e *Engine) Clear(ctx context.Context) error {
	e.mut.Lock()
	defer e.mut.Unlock()

	fresh, err := index.New(e.cfg)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	e.mu.Lock()
	e.docs.Reset(true)
	e.idx = fresh
	e.generation.Add(1)
	e.mu.Unlock()

	e.updateGauges()
	e.persistAsync()
	return nil
}

// Close flushes pending state to disk.
func (e *Engine) Close() {
	if e.dataDir != "" {
		e.persist()
	}
}

// Stats is a read-only snapshot for the statistics endpoint.
type Stats struct {
	TotalDocuments int
	IndexSize      int
	IndexType      string
	Dimension      int
	Trained        bool
	Generation     int64
	Dirty          bool
	MemoryMB       float64
}

// Stats reports engine-level statistics.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	s := Stats{
		TotalDocuments: e.docs.Len(),
		IndexSize:      e.idx.Len(),
		IndexType:      string(e.idx.Type()),
		Dimension:      e.idx.Dim(),
		Trained:        e.idx.IsTrained(),
	}
	e.mu.RUnlock()

	s.Generation = e.generation.Load()
	s.Dirty = s.Generation != e.persistedGen.Load()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.MemoryMB = float64(ms.Alloc) / 1024 / 1024
	return s
}

// trainLocked trains a replacement index on the given sample and swaps it
// in under the write lock, so concurrent searches never observe training
// writes on the published handle. The caller must hold the mutation lock;
// the CPU work is gated through the worker pool.
func (e *Engine) trainLocked(ctx context.Context, samples [][]float32) error {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	defer e.workers.Release(1)

	fresh, err := index.New(e.cfg)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := fresh.Train(samples); err != nil {
		return fmt.Errorf("train index: %w", err)
	}

	e.mu.Lock()
	e.idx = fresh
	e.mu.Unlock()

	e.logger.Info("similarity index trained",
		zap.String("type", string(fresh.Type())),
		zap.Int("samples", len(samples)))
	return nil
}

// rebuildLocked reconstructs the index, omitting excludeID (-1 keeps all)
// and appending extra documents, then atomically swaps the handle. The
// caller must hold the mutation lock. Readers keep searching the old
// handle until the swap publishes.
func (e *Engine) rebuildLocked(ctx context.Context, excludeID int,
	extraDocs []domain.Document, extraVecs [][]float32) error {
	// Snapshot survivors. No other mutation can interleave: they all
	// serialize on e.mut.
	e.mu.RLock()
	all := e.docs.All()
	nextID := e.docs.NextID()
	survivors := make([]domain.Document, 0, len(all))
	vectors := make([][]float32, 0, len(all))
	for pos, doc := range all {
		if doc.ID == excludeID {
			continue
		}
		v := make([]float32, e.cfg.Dim)
		copy(v, e.idx.VectorAt(pos))
		survivors = append(survivors, doc)
		vectors = append(vectors, v)
	}
	e.mu.RUnlock()

	for i, doc := range extraDocs {
		doc.ID = nextID
		nextID++
		survivors = append(survivors, doc)
		vectors = append(vectors, extraVecs[i])
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	fresh, err := e.buildIndex(vectors)
	e.workers.Release(1)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.docs = docstore.Restore(survivors, nextID)
	e.idx = fresh
	e.generation.Add(1)
	e.mu.Unlock()

	metrics.IndexRebuildsTotal.Inc()
	e.updateGauges()
	e.persistAsync()
	return nil
}

// buildIndex constructs a fresh index populated with the given vectors.
func (e *Engine) buildIndex(vectors [][]float32) (index.Index, error) {
	fresh, err := index.New(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	if len(vectors) == 0 {
		return fresh, nil
	}
	if !fresh.IsTrained() {
		if err := fresh.Train(vectors); err != nil {
			return nil, fmt.Errorf("train index: %w", err)
		}
	}
	if err := fresh.Add(vectors); err != nil {
		return nil, fmt.Errorf("populate index: %w", err)
	}
	return fresh, nil
}

func (e *Engine) updateGauges() {
	e.mu.RLock()
	docs, size := e.docs.Len(), e.idx.Len()
	e.mu.RUnlock()
	metrics.DocumentsTotal.Set(float64(docs))
	metrics.IndexVectorsTotal.Set(float64(size))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
