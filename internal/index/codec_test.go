package index

import (
	"testing"
)

func roundTrip(t *testing.T, idx Index) Index {
	t.Helper()
	blob, err := idx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	decoded, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return decoded
}

// sameTopHit checks that the decoded index answers self-queries like the
// original did.
func sameTopHit(t *testing.T, a, b Index, queries [][]float32) {
	t.Helper()
	for i, q := range queries {
		ra, err := a.Search(q, 3)
		if err != nil {
			t.Fatalf("original Search: %v", err)
		}
		rb, err := b.Search(q, 3)
		if err != nil {
			t.Fatalf("decoded Search: %v", err)
		}
		if len(ra) != len(rb) {
			t.Fatalf("query %d: len %d != %d", i, len(ra), len(rb))
		}
		for j := range ra {
			if ra[j] != rb[j] {
				t.Fatalf("query %d hit %d: %+v != %+v", i, j, ra[j], rb[j])
			}
		}
	}
}

func TestCodec_Flat(t *testing.T) {
	idx := newFlat(4)
	vecs := axisVectors(20, 4)
	if err := idx.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	decoded := roundTrip(t, idx)
	if decoded.Type() != TypeFlat {
		t.Errorf("Type = %q, want flat", decoded.Type())
	}
	if decoded.Len() != 20 || decoded.Dim() != 4 {
		t.Errorf("Len/Dim = %d/%d, want 20/4", decoded.Len(), decoded.Dim())
	}
	sameTopHit(t, idx, decoded, vecs[:5])
}

func TestCodec_IVF(t *testing.T) {
	idx := newIVF(4, 8, 3)
	vecs := axisVectors(60, 4)
	if err := idx.Train(vecs); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := idx.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	decoded := roundTrip(t, idx)
	ivf, ok := decoded.(*IVF)
	if !ok {
		t.Fatalf("decoded type = %T, want *IVF", decoded)
	}
	if !ivf.IsTrained() {
		t.Error("decoded ivf lost trained state")
	}
	if ivf.nlist != idx.nlist || ivf.nprobe != idx.nprobe {
		t.Errorf("tuning = %d/%d, want %d/%d", ivf.nlist, ivf.nprobe, idx.nlist, idx.nprobe)
	}
	sameTopHit(t, idx, decoded, vecs[:10])
}

func TestCodec_IVF_Untrained(t *testing.T) {
	idx := newIVF(4, 8, 3)
	decoded := roundTrip(t, idx)
	if decoded.IsTrained() {
		t.Error("decoded empty ivf must stay untrained")
	}
	if decoded.Len() != 0 {
		t.Errorf("Len = %d, want 0", decoded.Len())
	}
}

func TestCodec_HNSW(t *testing.T) {
	idx := newHNSW(4, 8, 60, 30)
	vecs := axisVectors(80, 4)
	if err := idx.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	decoded := roundTrip(t, idx)
	h, ok := decoded.(*HNSW)
	if !ok {
		t.Fatalf("decoded type = %T, want *HNSW", decoded)
	}
	if h.m != idx.m || h.efConstruct != idx.efConstruct || h.efSearch != idx.efSearch {
		t.Errorf("tuning = %d/%d/%d, want %d/%d/%d",
			h.m, h.efConstruct, h.efSearch, idx.m, idx.efConstruct, idx.efSearch)
	}
	if h.entry != idx.entry || h.maxLevel != idx.maxLevel {
		t.Errorf("graph top = %d/%d, want %d/%d", h.entry, h.maxLevel, idx.entry, idx.maxLevel)
	}
	sameTopHit(t, idx, decoded, vecs[:10])
}

func TestDecode_BadBlobs(t *testing.T) {
	cases := []struct {
		name string
		blob []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("XXXX\x00\x04\x00\x00\x00\x00\x00\x00\x00")},
		{"truncated header", []byte("MXI1\x00")},
		{"unknown strategy", append([]byte("MXI1\x09"), make([]byte, 8)...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.blob); err == nil {
				t.Errorf("Decode(%q) succeeded, want error", tc.name)
			}
		})
	}
}

func TestDecode_TrailingGarbage(t *testing.T) {
	idx := newFlat(2)
	_ = idx.Add([][]float32{unit(1, 0)})
	blob, err := idx.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if _, err := Decode(append(blob, 0xFF)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}
