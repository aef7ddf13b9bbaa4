package index

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Binary index blob layout (little-endian):
//
//	magic "MXI1" | type u8 | dim u32 | count u32 | rows f32[count*dim] | strategy extras
//
// IVF extras: trained u8, nlist u32, nprobe u32, ncentroids u32,
// centroid rows, then per list: len u32 + positions i32.
// HNSW extras: m u32, efConstruction u32, efSearch u32, entry i32,
// maxLevel u32, then per node: level u32 + per layer: len u32 + neighbors i32.
var codecMagic = [4]byte{'M', 'X', 'I', '1'}

const (
	codecFlat = byte(0)
	codecIVF  = byte(1)
	codecHNSW = byte(2)
)

// Decode reconstructs an index from a blob produced by MarshalBinary.
// The strategy and its tuning parameters come from the blob itself.
func Decode(data []byte) (Index, error) {
	r := &blobReader{data: data}
	var magic [4]byte
	copy(magic[:], r.bytes(4))
	if magic != codecMagic {
		return nil, fmt.Errorf("index blob: bad magic %q", magic[:])
	}
	typ := r.u8()
	dim := int(r.u32())
	count := int(r.u32())
	if r.err != nil {
		return nil, fmt.Errorf("index blob: %w", r.err)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("index blob: invalid dimension %d", dim)
	}

	vs := newVectorSet(dim)
	vs.data = r.f32s(count * dim)

	switch typ {
	case codecFlat:
		f := newFlat(dim)
		f.vs = vs
		return f, r.finish()
	case codecIVF:
		return decodeIVF(r, vs)
	case codecHNSW:
		return decodeHNSW(r, vs)
	default:
		return nil, fmt.Errorf("index blob: unknown strategy byte %d", typ)
	}
}

// MarshalBinary serializes the flat index.
func (f *Flat) MarshalBinary() ([]byte, error) {
	w := newBlobWriter(codecFlat, f.vs)
	return w.buf, nil
}

// MarshalBinary serializes the IVF index, centroids and bucket lists included.
func (ix *IVF) MarshalBinary() ([]byte, error) {
	w := newBlobWriter(codecIVF, ix.vs)
	w.u8(boolByte(ix.trained))
	w.u32(uint32(ix.nlist))
	w.u32(uint32(ix.nprobe))
	w.u32(uint32(ix.centroids.len()))
	w.f32s(ix.centroids.data)
	for _, list := range ix.lists {
		w.u32(uint32(len(list)))
		for _, pos := range list {
			w.i32(pos)
		}
	}
	return w.buf, nil
}

func decodeIVF(r *blobReader, vs *vectorSet) (*IVF, error) {
	trained := r.u8() != 0
	nlist := int(r.u32())
	nprobe := int(r.u32())
	ncentroids := int(r.u32())
	if r.err != nil {
		return nil, fmt.Errorf("ivf blob: %w", r.err)
	}

	ix := newIVF(vs.dim, nlist, nprobe)
	ix.vs = vs
	ix.trained = trained
	ix.centroids = &vectorSet{dim: vs.dim, data: r.f32s(ncentroids * vs.dim)}
	if trained {
		ix.lists = make([][]int32, nlist)
		for i := 0; i < nlist; i++ {
			n := int(r.u32())
			list := make([]int32, n)
			for j := 0; j < n; j++ {
				list[j] = r.i32()
			}
			ix.lists[i] = list
		}
	}
	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("ivf blob: %w", err)
	}
	return ix, nil
}

// MarshalBinary serializes the HNSW index, graph links included.
func (h *HNSW) MarshalBinary() ([]byte, error) {
	w := newBlobWriter(codecHNSW, h.vs)
	w.u32(uint32(h.m))
	w.u32(uint32(h.efConstruct))
	w.u32(uint32(h.efSearch))
	w.i32(int32(h.entry))
	w.u32(uint32(h.maxLevel))
	for node, layers := range h.links {
		w.u32(uint32(h.levels[node]))
		for _, neighbors := range layers {
			w.u32(uint32(len(neighbors)))
			for _, n := range neighbors {
				w.i32(n)
			}
		}
	}
	return w.buf, nil
}

func decodeHNSW(r *blobReader, vs *vectorSet) (*HNSW, error) {
	m := int(r.u32())
	efConstruct := int(r.u32())
	efSearch := int(r.u32())
	entry := int(r.i32())
	maxLevel := int(r.u32())
	if r.err != nil {
		return nil, fmt.Errorf("hnsw blob: %w", r.err)
	}

	h := newHNSW(vs.dim, m, efConstruct, efSearch)
	h.vs = vs
	h.entry = entry
	h.maxLevel = maxLevel
	h.levels = make([]int, vs.len())
	h.links = make([][][]int32, vs.len())
	for node := 0; node < vs.len(); node++ {
		level := int(r.u32())
		h.levels[node] = level
		layers := make([][]int32, level+1)
		for l := 0; l <= level; l++ {
			n := int(r.u32())
			neighbors := make([]int32, n)
			for j := 0; j < n; j++ {
				neighbors[j] = r.i32()
			}
			layers[l] = neighbors
		}
		h.links[node] = layers
	}
	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("hnsw blob: %w", err)
	}
	return h, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// blobWriter appends little-endian primitives to a growing buffer.
type blobWriter struct {
	buf []byte
}

func newBlobWriter(typ byte, vs *vectorSet) *blobWriter {
	w := &blobWriter{buf: make([]byte, 0, 16+len(vs.data)*4)}
	w.buf = append(w.buf, codecMagic[:]...)
	w.u8(typ)
	w.u32(uint32(vs.dim))
	w.u32(uint32(vs.len()))
	w.f32s(vs.data)
	return w
}

func (w *blobWriter) u8(v byte) { w.buf = append(w.buf, v) }
func (w *blobWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *blobWriter) i32(v int32) { w.u32(uint32(v)) }
func (w *blobWriter) f32s(vals []float32) {
	for _, v := range vals {
		w.u32(math.Float32bits(v))
	}
}

// blobReader reads little-endian primitives, remembering the first error.
type blobReader struct {
	data []byte
	off  int
	err  error
}

func (r *blobReader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("truncated at offset %d", r.off)
		return make([]byte, n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *blobReader) u8() byte { return r.bytes(1)[0] }
func (r *blobReader) u32() uint32 {
	return binary.LittleEndian.Uint32(r.bytes(4))
}
func (r *blobReader) i32() int32 { return int32(r.u32()) }

func (r *blobReader) f32s(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(r.u32())
	}
	return out
}

func (r *blobReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return fmt.Errorf("trailing %d bytes after index blob", len(r.data)-r.off)
	}
	return nil
}
