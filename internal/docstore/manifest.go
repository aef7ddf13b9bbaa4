package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lexguard/matchengine/internal/domain"
)

// manifest is the on-disk document listing. Document order in the file is
// index-row order: the Nth entry corresponds to the Nth vector row of the
// index blob saved alongside it. Loaders must preserve that order.
type manifest struct {
	NextID     int               `json:"next_id"`
	Generation int64             `json:"generation"`
	Documents  []domain.Document `json:"documents"`
}

// SaveManifest writes the documents (in row order) atomically via a temp
// file and rename. The mutation generation is stored alongside so result
// cache keys minted before a restart stay invalidated after it.
func SaveManifest(path string, docs []domain.Document, nextID int, generation int64) error {
	data, err := json.Marshal(manifest{NextID: nextID, Generation: generation, Documents: docs})
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by SaveManifest, returning the
// restored store and the persisted mutation generation.
func LoadManifest(path string) (*Store, int64, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, 0, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, 0, fmt.Errorf("parse manifest: %w", err)
	}
	return Restore(m.Documents, m.NextID), m.Generation, nil
}
