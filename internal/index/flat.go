package index

// Flat is the exact brute-force strategy: every query scans all rows.
// O(n·dim) per search, always correct, the default.
type Flat struct {
	vs *vectorSet
}

func newFlat(dim int) *Flat {
	return &Flat{vs: newVectorSet(dim)}
}

// Train is a no-op: a flat index needs no training pass.
func (f *Flat) Train(_ [][]float32) error { return nil }

// IsTrained always reports true.
func (f *Flat) IsTrained() bool { return true }

// Add appends vectors.
func (f *Flat) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if err := f.vs.add(v); err != nil {
			return err
		}
	}
	return nil
}

// Search scans all rows and returns the k most similar.
func (f *Flat) Search(query []float32, k int) ([]Candidate, error) {
	if err := checkQuery(f.vs.dim, query); err != nil {
		return nil, err
	}
	n := f.vs.len()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	cands := make([]Candidate, 0, n)
	for pos := 0; pos < n; pos++ {
		cands = append(cands, Candidate{Position: pos, Score: Dot(query, f.vs.at(pos))})
	}
	return topK(cands, k), nil
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int { return f.vs.len() }

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int { return f.vs.dim }

// VectorAt returns the stored vector at pos.
func (f *Flat) VectorAt(pos int) []float32 { return f.vs.at(pos) }

// Type identifies the strategy.
func (f *Flat) Type() Type { return TypeFlat }
