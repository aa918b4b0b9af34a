// Package indexer owns the chat search index: the document store and the
// inverted index, guarded by a single reader/writer lock so that every
// mutation is atomic with respect to concurrent searches.
package indexer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/store"
)

type Engine struct {
	mu         sync.RWMutex
	store      *store.Store
	memIndex   *index.MemoryIndex
	generation atomic.Uint64
	logger     *slog.Logger
}

// Stats describes the current size of the index.
type Stats struct {
	Documents  int    `json:"documents"`
	Terms      int    `json:"terms"`
	SizeBytes  int64  `json:"size_bytes"`
	Generation uint64 `json:"generation"`
}

func NewEngine() *Engine {
	return &Engine{
		store:    store.New(),
		memIndex: index.NewMemoryIndex(),
		logger:   slog.Default().With("component", "indexer"),
	}
}

// AddDocument stores doc and indexes its content. A document with an existing
// id replaces the stored one wholesale; postings for the old content are
// dropped first so the index never points at terms the document no longer
// contains. It reports whether an existing document was replaced.
func (e *Engine) AddDocument(doc document.Document) bool {
	doc = doc.Clone()
	e.mu.Lock()
	replaced := e.addLocked(doc)
	e.generation.Add(1)
	e.mu.Unlock()
	e.logger.Debug("document indexed",
		"doc_id", doc.ID,
		"kind", doc.Kind,
		"replaced", replaced,
	)
	return replaced
}

// AddDocuments indexes docs as a single atomic batch and returns how many
// of them replaced an existing document.
func (e *Engine) AddDocuments(docs []document.Document) int {
	if len(docs) == 0 {
		return 0
	}
	replaced := 0
	e.mu.Lock()
	for _, doc := range docs {
		if e.addLocked(doc.Clone()) {
			replaced++
		}
	}
	e.generation.Add(1)
	e.mu.Unlock()
	e.logger.Debug("document batch indexed", "count", len(docs), "replaced", replaced)
	return replaced
}

// Clear removes every document and posting.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.store.Clear()
	e.memIndex.Reset()
	e.generation.Add(1)
	e.mu.Unlock()
	e.logger.Info("index cleared")
}

// Rebuild replaces the whole index with docs. Readers observe either the old
// index or the new one, never a partially rebuilt state.
func (e *Engine) Rebuild(docs []document.Document) {
	fresh := store.New()
	freshIndex := index.NewMemoryIndex()
	for _, doc := range docs {
		doc = doc.Clone()
		slot, previous, replaced := fresh.Put(doc)
		if replaced {
			freshIndex.Remove(slot, previous.Content)
		}
		freshIndex.Index(slot, doc.Content)
	}
	e.mu.Lock()
	e.store = fresh
	e.memIndex = freshIndex
	e.generation.Add(1)
	e.mu.Unlock()
	e.logger.Info("index rebuilt",
		"documents", fresh.Len(),
		"terms", freshIndex.TermCount(),
	)
}

// Get returns a copy of the document stored under id.
func (e *Engine) Get(id string) (document.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.store.Get(id)
	if !ok {
		return document.Document{}, false
	}
	return doc.Clone(), true
}

// View runs fn with a consistent read-only snapshot of the index. The
// snapshot must not be retained after fn returns.
func (e *Engine) View(fn func(s Snapshot) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(Snapshot{store: e.store, index: e.memIndex})
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Documents:  e.store.Len(),
		Terms:      e.memIndex.TermCount(),
		SizeBytes:  e.memIndex.Size(),
		Generation: e.generation.Load(),
	}
}

// Generation changes after every mutation. Caches key on it.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// DocCount returns the number of stored documents.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Len()
}

func (e *Engine) addLocked(doc document.Document) bool {
	slot, previous, replaced := e.store.Put(doc)
	if replaced {
		e.memIndex.Remove(slot, previous.Content)
	}
	e.memIndex.Index(slot, doc.Content)
	return replaced
}

// Snapshot is a read-only view of the index, valid only inside Engine.View.
type Snapshot struct {
	store *store.Store
	index *index.MemoryIndex
}

// TotalDocs returns the number of documents in the index.
func (s Snapshot) TotalDocs() int {
	return s.store.Len()
}

// Postings returns the slots whose content contains term.
func (s Snapshot) Postings(term string) index.PostingList {
	return s.index.Postings(term)
}

// DocFreq returns how many documents contain term.
func (s Snapshot) DocFreq(term string) int {
	return s.index.DocFreq(term)
}

// Document returns the stored document in slot. The pointer must not be
// retained or mutated.
func (s Snapshot) Document(slot store.Slot) *document.Document {
	return s.store.At(slot)
}
