package engine

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lexguard/matchengine/internal/docstore"
	"github.com/lexguard/matchengine/internal/index"
	"github.com/lexguard/matchengine/internal/metrics"
)

const (
	manifestFile  = "documents.json"
	indexBlobFile = "index.bin"
)

func (e *Engine) manifestPath() string { return filepath.Join(e.dataDir, manifestFile) }
func (e *Engine) blobPath() string     { return filepath.Join(e.dataDir, indexBlobFile) }

// load restores persisted state: the manifest first, then the index blob,
// so that the Nth loaded document matches the Nth index row. An absent or
// inconsistent pair starts the engine empty; documents are re-ingested by
// the scraper on its next run.
func (e *Engine) load() {
	docs, gen, err := docstore.LoadManifest(e.manifestPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("failed to load document manifest, starting empty", zap.Error(err))
		}
		return
	}

	blob, err := os.ReadFile(e.blobPath())
	if err != nil {
		e.logger.Warn("document manifest present but index blob unreadable, starting empty",
			zap.Error(err))
		return
	}
	idx, err := index.Decode(blob)
	if err != nil {
		e.logger.Warn("failed to decode index blob, starting empty", zap.Error(err))
		return
	}

	if idx.Len() != docs.Len() {
		e.logger.Error("persisted index and manifest disagree, starting empty",
			zap.Int("index_rows", idx.Len()),
			zap.Int("documents", docs.Len()))
		return
	}
	if idx.Dim() != e.cfg.Dim {
		e.logger.Error("persisted index dimension does not match configuration, starting empty",
			zap.Int("persisted", idx.Dim()),
			zap.Int("configured", e.cfg.Dim))
		return
	}
	if idx.Type() != e.cfg.Type && e.cfg.Type != "" {
		e.logger.Warn("persisted index type differs from configuration, keeping persisted index",
			zap.String("persisted", string(idx.Type())),
			zap.String("configured", string(e.cfg.Type)))
	}

	e.docs = docs
	e.idx = idx
	// Resume the persisted generation so result-cache keys minted before
	// the restart never resolve again.
	e.generation.Store(gen)
	e.persistedGen.Store(gen)
	e.logger.Info("restored persisted state",
		zap.Int("documents", docs.Len()),
		zap.Int64("generation", gen),
		zap.String("index_type", string(idx.Type())))
}

// persistAsync saves state in the background. Failures never propagate to
// the mutating caller: in-memory state stays authoritative and the next
// mutation retries the write.
func (e *Engine) persistAsync() {
	if e.dataDir == "" {
		return
	}
	go e.persist()
}

// persist snapshots and writes the index blob and manifest atomically
// (temp file + rename each). Single-flight: concurrent callers serialize.
func (e *Engine) persist() {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	gen := e.generation.Load()
	if gen == e.persistedGen.Load() {
		return // a prior flight already covered this state
	}

	e.mu.RLock()
	docs := e.docs.All()
	nextID := e.docs.NextID()
	blob, err := e.idx.MarshalBinary()
	e.mu.RUnlock()

	if err == nil {
		err = writeAtomic(e.blobPath(), blob)
	}
	if err == nil {
		err = docstore.SaveManifest(e.manifestPath(), docs, nextID, gen)
	}
	if err != nil {
		metrics.PersistFailuresTotal.Inc()
		e.logger.Warn("failed to persist engine state, will retry on next mutation",
			zap.Error(err))
		return
	}

	e.persistedGen.Store(gen)
	e.logger.Debug("persisted engine state",
		zap.Int("documents", len(docs)),
		zap.Int64("generation", gen))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
