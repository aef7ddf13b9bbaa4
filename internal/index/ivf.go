package index

import (
	"fmt"

	"github.com/lexguard/matchengine/internal/domain"
)

// IVF is the inverted-file strategy: vectors are bucketed under the nearest
// of nlist centroids learned by a training pass, and a query probes only the
// nprobe closest buckets. Approximate, sub-linear at scale. Add before
// Train is an error.
type IVF struct {
	vs        *vectorSet
	centroids *vectorSet
	lists     [][]int32 // row positions per centroid
	nlist     int
	nprobe    int
	trained   bool
}

const kmeansIters = 10

func newIVF(dim, nlist, nprobe int) *IVF {
	if nlist <= 0 {
		nlist = 100
	}
	if nprobe <= 0 {
		nprobe = 10
	}
	return &IVF{
		vs:        newVectorSet(dim),
		centroids: newVectorSet(dim),
		nlist:     nlist,
		nprobe:    nprobe,
	}
}

// Train learns centroids from a representative sample via spherical k-means.
// When the sample is smaller than nlist, the cluster count is capped at the
// sample size. Training twice is an error; the engine rebuilds instead.
func (ix *IVF) Train(samples [][]float32) error {
	if ix.trained {
		return fmt.Errorf("ivf index is already trained")
	}
	if len(samples) == 0 {
		return fmt.Errorf("ivf training requires at least one sample vector")
	}
	for _, s := range samples {
		if len(s) != ix.vs.dim {
			return fmt.Errorf("sample dim %d != index dim %d: %w", len(s), ix.vs.dim, domain.ErrVectorDimMismatch)
		}
	}

	k := ix.nlist
	if k > len(samples) {
		k = len(samples)
	}

	centroids := kmeans(samples, k, ix.vs.dim)
	ix.centroids = centroids
	ix.nlist = k
	if ix.nprobe > k {
		ix.nprobe = k
	}
	ix.lists = make([][]int32, k)
	ix.trained = true
	return nil
}

// IsTrained reports whether the training pass has run.
func (ix *IVF) IsTrained() bool { return ix.trained }

// Add appends vectors, assigning each to its nearest centroid's bucket.
func (ix *IVF) Add(vectors [][]float32) error {
	if !ix.trained {
		return fmt.Errorf("ivf add: %w", domain.ErrIndexNotTrained)
	}
	for _, v := range vectors {
		pos := ix.vs.len()
		if err := ix.vs.add(v); err != nil {
			return err
		}
		c := ix.nearestCentroid(v)
		ix.lists[c] = append(ix.lists[c], int32(pos))
	}
	return nil
}

// Search probes the nprobe nearest buckets and returns the k most similar rows.
func (ix *IVF) Search(query []float32, k int) ([]Candidate, error) {
	if err := checkQuery(ix.vs.dim, query); err != nil {
		return nil, err
	}
	if !ix.trained || ix.vs.len() == 0 || k <= 0 {
		return nil, nil
	}

	probes := make([]Candidate, 0, ix.nlist)
	for c := 0; c < ix.centroids.len(); c++ {
		probes = append(probes, Candidate{Position: c, Score: Dot(query, ix.centroids.at(c))})
	}
	probes = topK(probes, ix.nprobe)

	var cands []Candidate
	for _, p := range probes {
		for _, pos := range ix.lists[p.Position] {
			cands = append(cands, Candidate{
				Position: int(pos),
				Score:    Dot(query, ix.vs.at(int(pos))),
			})
		}
	}
	return topK(cands, k), nil
}

// Len returns the number of stored vectors.
func (ix *IVF) Len() int { return ix.vs.len() }

// Dim returns the vector dimensionality.
func (ix *IVF) Dim() int { return ix.vs.dim }

// VectorAt returns the stored vector at pos.
func (ix *IVF) VectorAt(pos int) []float32 { return ix.vs.at(pos) }

// Type identifies the strategy.
func (ix *IVF) Type() Type { return TypeIVF }

func (ix *IVF) nearestCentroid(v []float32) int {
	best, bestScore := 0, float32(-2)
	for c := 0; c < ix.centroids.len(); c++ {
		if s := Dot(v, ix.centroids.at(c)); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// kmeans runs spherical k-means: centroids are re-normalized each round so
// assignment by inner product stays equivalent to cosine distance.
// Seeding is deterministic (evenly spaced samples), which keeps rebuilds
// reproducible for the same input order.
func kmeans(samples [][]float32, k, dim int) *vectorSet {
	centroids := newVectorSet(dim)
	for i := 0; i < k; i++ {
		seed := make([]float32, dim)
		copy(seed, samples[i*len(samples)/k])
		_ = centroids.add(Normalize(seed))
	}

	assign := make([]int, len(samples))
	for iter := 0; iter < kmeansIters; iter++ {
		changed := false
		for i, s := range samples {
			best, bestScore := 0, float32(-2)
			for c := 0; c < k; c++ {
				if sc := Dot(s, centroids.at(c)); sc > bestScore {
					best, bestScore = c, sc
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		sums := make([]float32, k*dim)
		counts := make([]int, k)
		for i, s := range samples {
			c := assign[i]
			counts[c]++
			row := sums[c*dim : (c+1)*dim]
			for d := range s {
				row[d] += s[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue // keep the previous centroid for empty clusters
			}
			dst := centroids.at(c)
			copy(dst, sums[c*dim:(c+1)*dim])
			Normalize(dst)
		}
	}
	return centroids
}
