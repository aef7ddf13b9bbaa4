package index

import (
	"container/heap"
	"math"
	"math/rand/v2"
)

// HNSW is the hierarchical navigable small world strategy: a layered
// proximity graph searched greedily from the top layer down. No training
// pass; efConstruction/efSearch trade recall for latency.
type HNSW struct {
	vs          *vectorSet
	m           int
	efConstruct int
	efSearch    int
	ml          float64

	entry    int // -1 while empty
	maxLevel int
	levels   []int
	links    [][][]int32 // node -> level -> neighbor positions
	rng      *rand.Rand
}

func newHNSW(dim, m, efConstruct, efSearch int) *HNSW {
	if m <= 0 {
		m = 32
	}
	if efConstruct <= 0 {
		efConstruct = 200
	}
	if efSearch <= 0 {
		efSearch = 100
	}
	return &HNSW{
		vs:          newVectorSet(dim),
		m:           m,
		efConstruct: efConstruct,
		efSearch:    efSearch,
		ml:          1 / math.Log(float64(m)),
		entry:       -1,
		// Fixed seed keeps level assignment reproducible across rebuilds
		// of the same input order.
		rng: rand.New(rand.NewPCG(1, 2)),
	}
}

// Train is a no-op: HNSW builds its graph incrementally.
func (h *HNSW) Train(_ [][]float32) error { return nil }

// IsTrained always reports true.
func (h *HNSW) IsTrained() bool { return true }

// Add inserts vectors into the graph one by one.
func (h *HNSW) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if err := h.insert(v); err != nil {
			return err
		}
	}
	return nil
}

// Search descends from the entry point to layer 0 and runs a beam search
// with ef = max(efSearch, k).
func (h *HNSW) Search(query []float32, k int) ([]Candidate, error) {
	if err := checkQuery(h.vs.dim, query); err != nil {
		return nil, err
	}
	if h.entry < 0 || k <= 0 {
		return nil, nil
	}

	cur := h.entry
	for l := h.maxLevel; l >= 1; l-- {
		cur = h.greedyClosest(query, cur, l)
	}

	ef := h.efSearch
	if ef < k {
		ef = k
	}
	cands := h.searchLayer(query, cur, ef, 0)
	return topK(cands, k), nil
}

// Len returns the number of stored vectors.
func (h *HNSW) Len() int { return h.vs.len() }

// Dim returns the vector dimensionality.
func (h *HNSW) Dim() int { return h.vs.dim }

// VectorAt returns the stored vector at pos.
func (h *HNSW) VectorAt(pos int) []float32 { return h.vs.at(pos) }

// Type identifies the strategy.
func (h *HNSW) Type() Type { return TypeHNSW }

func (h *HNSW) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.ml)
}

// maxNeighbors is the degree bound per layer: 2M on the ground layer, M above.
func (h *HNSW) maxNeighbors(level int) int {
	if level == 0 {
		return 2 * h.m
	}
	return h.m
}

func (h *HNSW) insert(v []float32) error {
	pos := h.vs.len()
	if err := h.vs.add(v); err != nil {
		return err
	}
	level := h.randomLevel()
	h.levels = append(h.levels, level)
	h.links = append(h.links, make([][]int32, level+1))

	if h.entry < 0 {
		h.entry = pos
		h.maxLevel = level
		return nil
	}

	cur := h.entry
	for l := h.maxLevel; l > level; l-- {
		cur = h.greedyClosest(v, cur, l)
	}

	top := level
	if top > h.maxLevel {
		top = h.maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := h.searchLayer(v, cur, h.efConstruct, l)
		neighbors := topK(cands, h.m)

		ls := make([]int32, 0, len(neighbors))
		for _, n := range neighbors {
			ls = append(ls, int32(n.Position))
		}
		h.links[pos][l] = ls

		for _, n := range neighbors {
			h.linkBack(n.Position, pos, l)
		}

		if len(neighbors) > 0 {
			cur = neighbors[0].Position
		}
	}

	if level > h.maxLevel {
		h.entry = pos
		h.maxLevel = level
	}
	return nil
}

// linkBack adds src as a neighbor of node at the given level, pruning the
// neighbor list back to the degree bound by similarity to node.
func (h *HNSW) linkBack(node, src, level int) {
	ls := append(h.links[node][level], int32(src))
	bound := h.maxNeighbors(level)
	if len(ls) > bound {
		base := h.vs.at(node)
		cands := make([]Candidate, 0, len(ls))
		for _, n := range ls {
			cands = append(cands, Candidate{Position: int(n), Score: Dot(base, h.vs.at(int(n)))})
		}
		cands = topK(cands, bound)
		ls = ls[:0]
		for _, c := range cands {
			ls = append(ls, int32(c.Position))
		}
	}
	h.links[node][level] = ls
}

// greedyClosest walks the layer toward the query until no neighbor improves.
func (h *HNSW) greedyClosest(query []float32, start, level int) int {
	cur := start
	curScore := Dot(query, h.vs.at(cur))
	for {
		improved := false
		for _, n := range h.neighborsAt(cur, level) {
			if s := Dot(query, h.vs.at(int(n))); s > curScore {
				cur, curScore = int(n), s
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

func (h *HNSW) neighborsAt(node, level int) []int32 {
	if level >= len(h.links[node]) {
		return nil
	}
	return h.links[node][level]
}

// searchLayer is the beam search over one layer: expand the most similar
// unexpanded candidate while the beam of ef best results can still improve.
func (h *HNSW) searchLayer(query []float32, entry, ef, level int) []Candidate {
	visited := make(map[int32]struct{}, ef*4)
	visited[int32(entry)] = struct{}{}

	entryCand := Candidate{Position: entry, Score: Dot(query, h.vs.at(entry))}
	candidates := &maxScoreHeap{entryCand}
	results := &minScoreHeap{entryCand}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Candidate)
		if results.Len() >= ef && c.Score < (*results)[0].Score {
			break
		}
		for _, n := range h.neighborsAt(c.Position, level) {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			s := Dot(query, h.vs.at(int(n)))
			if results.Len() < ef || s > (*results)[0].Score {
				nc := Candidate{Position: int(n), Score: s}
				heap.Push(candidates, nc)
				heap.Push(results, nc)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]Candidate, results.Len())
	copy(out, *results)
	return out
}

// maxScoreHeap pops the highest-scoring candidate first.
type maxScoreHeap []Candidate

func (q maxScoreHeap) Len() int            { return len(q) }
func (q maxScoreHeap) Less(i, j int) bool  { return q[i].Score > q[j].Score }
func (q maxScoreHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *maxScoreHeap) Push(x any) { *q = append(*q, x.(Candidate)) }
func (q *maxScoreHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// minScoreHeap pops the lowest-scoring candidate first (beam eviction).
type minScoreHeap []Candidate

func (q minScoreHeap) Len() int            { return len(q) }
func (q minScoreHeap) Less(i, j int) bool  { return q[i].Score < q[j].Score }
func (q minScoreHeap) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minScoreHeap) Push(x any) { *q = append(*q, x.(Candidate)) }
func (q *minScoreHeap) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
