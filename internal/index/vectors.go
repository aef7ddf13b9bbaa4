package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/lexguard/matchengine/internal/domain"
)

// vectorSet is a packed row-major store of fixed-dimension vectors.
// Positions are assigned in insertion order.
type vectorSet struct {
	dim  int
	data []float32
}

func newVectorSet(dim int) *vectorSet {
	return &vectorSet{dim: dim}
}

func (s *vectorSet) len() int {
	return len(s.data) / s.dim
}

func (s *vectorSet) at(pos int) []float32 {
	return s.data[pos*s.dim : (pos+1)*s.dim]
}

func (s *vectorSet) add(v []float32) error {
	if len(v) != s.dim {
		return fmt.Errorf("vector dim %d != index dim %d: %w", len(v), s.dim, domain.ErrVectorDimMismatch)
	}
	s.data = append(s.data, v...)
	return nil
}

// Dot computes the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Normalize scales v to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

// topK keeps the k highest-scoring candidates from cands, ordered by
// descending score with position as the tie-break.
func topK(cands []Candidate, k int) []Candidate {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Position < cands[j].Position
	})
	if k >= 0 && len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
