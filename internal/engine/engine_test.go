package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lexguard/matchengine/internal/domain"
	"github.com/lexguard/matchengine/internal/index"
)

func newTestEngine(t *testing.T, cfg index.Config, dataDir string) *Engine {
	t.Helper()
	if cfg.Dim == 0 {
		cfg.Dim = 4
	}
	e, err := New(Options{Index: cfg, DataDir: dataDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func mustDoc(t *testing.T, text string) domain.Document {
	t.Helper()
	doc, err := domain.NewDocument(text, nil)
	if err != nil {
		t.Fatalf("NewDocument: %v", err)
	}
	return doc
}

// vec builds a normalized 4-dim vector.
func vec(a, b, c, d float32) []float32 {
	return index.Normalize([]float32{a, b, c, d})
}

func appendDocs(t *testing.T, e *Engine, texts []string, vectors [][]float32) []int {
	t.Helper()
	docs := make([]domain.Document, len(texts))
	for i, text := range texts {
		docs[i] = mustDoc(t, text)
	}
	ids, err := e.Append(context.Background(), docs, vectors)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return ids
}

func TestAppendAndSearch(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	ids := appendDocs(t, e,
		[]string{"first", "second", "third"},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)},
	)
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Fatalf("ids = %v, want [0 1 2]", ids)
	}

	results, err := e.SemanticSearch(vec(0, 1, 0.1, 0), 2)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].DocumentID != 1 || results[0].Text != "second" {
		t.Errorf("top = %+v, want document 1", results[0])
	}
	if results[0].Provenance != domain.ProvenanceSemantic {
		t.Errorf("provenance = %q, want semantic", results[0].Provenance)
	}
	if results[0].Score < 0 || results[0].Score > 1 {
		t.Errorf("score %v out of [0,1]", results[0].Score)
	}
}

func TestAppend_DimMismatch(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	_, err := e.Append(context.Background(),
		[]domain.Document{mustDoc(t, "x")},
		[][]float32{{1, 0}},
	)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("err = %v, want ErrVectorDimMismatch", err)
	}
}

func TestAppend_CountMismatch(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	_, err := e.Append(context.Background(),
		[]domain.Document{mustDoc(t, "x")},
		nil,
	)
	if err == nil {
		t.Error("expected error for doc/vector count mismatch")
	}
}

func TestGeneration_BumpsOnEveryMutation(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	if e.Generation() != 0 {
		t.Fatalf("initial generation = %d, want 0", e.Generation())
	}

	appendDocs(t, e, []string{"a"}, [][]float32{vec(1, 0, 0, 0)})
	if e.Generation() != 1 {
		t.Errorf("after append = %d, want 1", e.Generation())
	}

	if _, err := e.Delete(context.Background(), 0); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if e.Generation() != 2 {
		t.Errorf("after delete = %d, want 2", e.Generation())
	}

	if err := e.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if e.Generation() != 3 {
		t.Errorf("after clear = %d, want 3", e.Generation())
	}
}

func TestDelete_RebuildsWithoutDocument(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	appendDocs(t, e,
		[]string{"a", "b", "c"},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)},
	)

	found, err := e.Delete(context.Background(), 1)
	if err != nil || !found {
		t.Fatalf("Delete = %v/%v, want true/nil", found, err)
	}

	// The deleted document never comes back from a search.
	results, err := e.SemanticSearch(vec(0, 1, 0, 0), 3)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	for _, r := range results {
		if r.DocumentID == 1 {
			t.Errorf("deleted document returned: %+v", r)
		}
	}

	// Survivors keep their IDs.
	if _, ok := e.Document(0); !ok {
		t.Error("document 0 lost after delete")
	}
	if _, ok := e.Document(2); !ok {
		t.Error("document 2 lost after delete")
	}

	found, err = e.Delete(context.Background(), 1)
	if err != nil || found {
		t.Errorf("second Delete = %v/%v, want false/nil", found, err)
	}
}

func TestUpdate_AssignsFreshID(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	appendDocs(t, e, []string{"old"}, [][]float32{vec(1, 0, 0, 0)})

	newID, found, err := e.Update(context.Background(), 0, mustDoc(t, "new"), vec(0, 1, 0, 0))
	if err != nil || !found {
		t.Fatalf("Update = %v/%v, want true/nil", found, err)
	}
	if newID != 1 {
		t.Errorf("newID = %d, want 1", newID)
	}
	if _, ok := e.Document(0); ok {
		t.Error("old ID still resolves after update")
	}
	doc, ok := e.Document(1)
	if !ok || doc.Text != "new" {
		t.Errorf("Document(1) = %+v/%v, want new text", doc, ok)
	}
}

func TestUpdate_MissingID(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	_, found, err := e.Update(context.Background(), 42, mustDoc(t, "x"), vec(1, 0, 0, 0))
	if err != nil || found {
		t.Errorf("Update = %v/%v, want false/nil", found, err)
	}
}

func TestClear_KeepsIDCounter(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	appendDocs(t, e, []string{"a", "b"}, [][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)})

	if err := e.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := e.Stats().TotalDocuments; got != 0 {
		t.Errorf("TotalDocuments = %d, want 0", got)
	}

	ids := appendDocs(t, e, []string{"c"}, [][]float32{vec(1, 0, 0, 0)})
	if ids[0] != 2 {
		t.Errorf("first ID after clear = %d, want 2 (no reuse)", ids[0])
	}
}

func TestReindex(t *testing.T) {
	e := newTestEngine(t, index.Config{Type: index.TypeHNSW, M: 8, EFConstruct: 40, EFSearch: 20}, "")
	appendDocs(t, e,
		[]string{"a", "b"},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)},
	)

	if err := e.Reindex(context.Background()); err != nil {
		t.Fatalf("Reindex: %v", err)
	}

	results, err := e.SemanticSearch(vec(1, 0, 0, 0), 1)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != 0 {
		t.Errorf("results = %+v, want document 0", results)
	}
}

func TestIVF_TrainsOnFirstBatchOnly(t *testing.T) {
	e := newTestEngine(t, index.Config{Type: index.TypeIVF, NList: 100, NProbe: 100}, "")

	// First batch is smaller than nlist: training caps the cluster count.
	first := make([][]float32, 8)
	texts := make([]string, 8)
	for i := range first {
		v := make([]float32, 4)
		v[i%4] = 1
		v[(i+1)%4] = 0.05 * float32(i+1)
		first[i] = index.Normalize(v)
		texts[i] = "doc"
	}
	appendDocs(t, e, texts, first)

	if !e.Stats().Trained {
		t.Fatal("index must be trained after first append")
	}

	// Second batch must reuse the trained structure.
	appendDocs(t, e, texts, first)
	if got := e.Stats().IndexSize; got != 16 {
		t.Errorf("IndexSize = %d, want 16", got)
	}

	results, err := e.SemanticSearch(first[0], 1)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len = %d, want 1", len(results))
	}
}

// uniqueVectors builds n distinct normalized 4-dim vectors.
func uniqueVectors(n int) ([][]float32, []string) {
	vectors := make([][]float32, n)
	texts := make([]string, n)
	for i := range vectors {
		v := make([]float32, 4)
		v[i%4] = 1
		v[(i+1)%4] = 0.01 * float32(i+1)
		vectors[i] = index.Normalize(v)
		texts[i] = "doc"
	}
	return vectors, texts
}

func TestIVF_TwoBatchesOf75(t *testing.T) {
	e := newTestEngine(t, index.Config{Type: index.TypeIVF, NList: 100, NProbe: 100}, "")

	vectors, texts := uniqueVectors(150)
	appendDocs(t, e, texts[:75], vectors[:75])
	if !e.Stats().Trained {
		t.Fatal("index must be trained after first batch")
	}

	appendDocs(t, e, texts[75:], vectors[75:])
	if got := e.Stats().IndexSize; got != 150 {
		t.Errorf("IndexSize = %d, want 150", got)
	}

	// Every vector from either batch resolves back to its own document.
	for _, probe := range []int{0, 74, 75, 149} {
		results, err := e.SemanticSearch(vectors[probe], 1)
		if err != nil {
			t.Fatalf("SemanticSearch(%d): %v", probe, err)
		}
		if len(results) != 1 || results[0].DocumentID != probe {
			t.Errorf("top for vector %d = %+v, want document %d", probe, results, probe)
		}
	}
}

func TestIVF_ConcurrentSearchDuringFirstAppend(t *testing.T) {
	e := newTestEngine(t, index.Config{Type: index.TypeIVF, NList: 16, NProbe: 16}, "")
	vectors, texts := uniqueVectors(75)

	// Readers hammer the published handle while the first append trains.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := e.SemanticSearch(vectors[0], 1); err != nil {
					t.Errorf("SemanticSearch: %v", err)
					return
				}
			}
		}()
	}

	appendDocs(t, e, texts, vectors)
	close(done)
	wg.Wait()

	if !e.Stats().Trained {
		t.Fatal("index must be trained after first append")
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	e := newTestEngine(t, index.Config{}, dir)
	appendDocs(t, e,
		[]string{"first", "second", "third"},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)},
	)
	if _, err := e.Delete(context.Background(), 0); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	genBeforeRestart := e.Generation()
	e.Close()

	restored := newTestEngine(t, index.Config{}, dir)
	if got := restored.Stats().TotalDocuments; got != 2 {
		t.Fatalf("TotalDocuments = %d, want 2", got)
	}
	// The generation resumes rather than restarting at zero, so result
	// cache entries keyed before the restart stay unreachable.
	if got := restored.Generation(); got != genBeforeRestart {
		t.Errorf("Generation after restart = %d, want %d", got, genBeforeRestart)
	}
	if _, ok := restored.Document(0); ok {
		t.Error("deleted document came back after restart")
	}

	// IDs assigned after restart do not reuse retired ones.
	ids := appendDocs(t, restored, []string{"fourth"}, [][]float32{vec(0, 0, 0, 1)})
	if ids[0] != 3 {
		t.Errorf("ID after restart = %d, want 3", ids[0])
	}

	results, err := restored.SemanticSearch(vec(0, 1, 0, 0), 1)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != 1 || results[0].Text != "second" {
		t.Errorf("top = %+v, want document 1", results)
	}
}

func TestLoad_InconsistentState_StartsEmpty(t *testing.T) {
	dir := t.TempDir()

	e := newTestEngine(t, index.Config{}, dir)
	appendDocs(t, e, []string{"a"}, [][]float32{vec(1, 0, 0, 0)})
	e.Close()

	// Corrupt the index blob; the manifest alone must not be trusted.
	if err := os.WriteFile(filepath.Join(dir, "index.bin"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	restored := newTestEngine(t, index.Config{}, dir)
	if got := restored.Stats().TotalDocuments; got != 0 {
		t.Errorf("TotalDocuments = %d, want 0 (start empty)", got)
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine(t, index.Config{}, "")
	appendDocs(t, e, []string{"a"}, [][]float32{vec(1, 0, 0, 0)})

	s := e.Stats()
	if s.TotalDocuments != 1 || s.IndexSize != 1 {
		t.Errorf("counts = %d/%d, want 1/1", s.TotalDocuments, s.IndexSize)
	}
	if s.IndexType != "flat" {
		t.Errorf("IndexType = %q, want flat", s.IndexType)
	}
	if s.Dimension != 4 {
		t.Errorf("Dimension = %d, want 4", s.Dimension)
	}
	if !s.Trained {
		t.Error("flat index must report trained")
	}
	if s.MemoryMB <= 0 {
		t.Error("MemoryMB must be positive")
	}
}
