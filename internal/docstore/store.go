// Package docstore implements the ordinal-ID document store. A document's
// row position in the similarity index is tracked explicitly so that IDs
// stay stable across deletions; IDs are never reused.
//
// The store itself is not goroutine-safe: the engine guards it together
// with the index handle under one lock discipline.
package docstore

import (
	"github.com/lexguard/matchengine/internal/domain"
)

// Store maps ordinal IDs to documents and keeps the index-row order.
type Store struct {
	byID   map[int]domain.Document
	order  []int // IDs in index-row order; position p holds the ID of row p
	nextID int
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[int]domain.Document)}
}

// Save assigns the next ordinal ID and appends the document as the last row.
func (s *Store) Save(doc domain.Document) int {
	id := s.nextID
	s.nextID++
	doc.ID = id
	s.byID[id] = doc
	s.order = append(s.order, id)
	return id
}

// Get returns the document with the given ID.
func (s *Store) Get(id int) (domain.Document, bool) {
	doc, ok := s.byID[id]
	return doc, ok
}

// ByPosition resolves an index row position to its document.
func (s *Store) ByPosition(pos int) (domain.Document, bool) {
	if pos < 0 || pos >= len(s.order) {
		return domain.Document{}, false
	}
	return s.Get(s.order[pos])
}

// All returns documents in index-row order.
func (s *Store) All() []domain.Document {
	out := make([]domain.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of stored documents.
func (s *Store) Len() int { return len(s.order) }

// NextID returns the next ordinal to be assigned.
func (s *Store) NextID() int { return s.nextID }

// Delete removes the document with the given ID. Row positions after it
// shift down, which is why the engine pairs every delete with an index
// rebuild before publishing.
func (s *Store) Delete(id int) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for p, v := range s.order {
		if v == id {
			s.order = append(s.order[:p], s.order[p+1:]...)
			break
		}
	}
	return true
}

// Reset drops all documents. The ordinal counter is preserved so IDs are
// not reused within one process lifetime unless keepIDs is false.
func (s *Store) Reset(keepIDs bool) {
	s.byID = make(map[int]domain.Document)
	s.order = nil
	if !keepIDs {
		s.nextID = 0
	}
}

// Restore replaces the store contents from persisted state. Documents must
// be given in index-row order.
func Restore(docs []domain.Document, nextID int) *Store {
	s := New()
	for _, d := range docs {
		s.byID[d.ID] = d
		s.order = append(s.order, d.ID)
		if d.ID >= nextID {
			nextID = d.ID + 1
		}
	}
	s.nextID = nextID
	return s
}
