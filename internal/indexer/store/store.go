// Package store holds the canonical copy of every indexed document. Documents
// live in a growable slice (the arena) and are addressed by slot; a separate
// table maps document ids to slots. Posting lists refer to slots, never to
// document copies.
//
// Store is not safe for concurrent use. indexer.Engine serialises access.
package store

import "github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"

// Slot addresses a document inside the arena.
type Slot int

// Store is the arena-backed document store.
type Store struct {
	docs  []document.Document
	slots map[string]Slot
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		slots: make(map[string]Slot),
	}
}

// Put stores doc, replacing any document with the same id in place. When a
// document is replaced the previous version is returned with replaced=true so
// callers can drop its postings.
func (s *Store) Put(doc document.Document) (slot Slot, previous document.Document, replaced bool) {
	if existing, ok := s.slots[doc.ID]; ok {
		previous = s.docs[existing]
		s.docs[existing] = doc
		return existing, previous, true
	}
	slot = Slot(len(s.docs))
	s.docs = append(s.docs, doc)
	s.slots[doc.ID] = slot
	return slot, document.Document{}, false
}

// Get returns the document stored under id.
func (s *Store) Get(id string) (document.Document, bool) {
	slot, ok := s.slots[id]
	if !ok {
		return document.Document{}, false
	}
	return s.docs[slot], true
}

// At returns the document in slot. It panics on an out-of-range slot, which
// would indicate a posting that outlived its document.
func (s *Store) At(slot Slot) *document.Document {
	return &s.docs[slot]
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	return len(s.docs)
}

// All calls fn for every document in insertion order until fn returns false.
func (s *Store) All(fn func(slot Slot, doc *document.Document) bool) {
	for i := range s.docs {
		if !fn(Slot(i), &s.docs[i]) {
			return
		}
	}
}

// Clear drops every document.
func (s *Store) Clear() {
	s.docs = nil
	s.slots = make(map[string]Slot)
}
