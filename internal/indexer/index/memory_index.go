// Package index implements the in-memory inverted index: for each term, the
// set of store slots whose content contains it. A document contributes one
// posting per distinct term regardless of how often the term repeats.
//
// MemoryIndex is not safe for concurrent use. indexer.Engine serialises access.
package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/tokenizer"
)

type MemoryIndex struct {
	index map[string]PostingSet
	size  int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]PostingSet),
	}
}

// Index adds slot to the posting set of every distinct term in content.
func (m *MemoryIndex) Index(slot store.Slot, content string) {
	for _, term := range tokenizer.Unique(tokenizer.Tokenize(content)) {
		set, exists := m.index[term]
		if !exists {
			set = make(PostingSet)
			m.index[term] = set
		}
		if _, dup := set[slot]; !dup {
			set[slot] = struct{}{}
			m.size += int64(len(term) + 16)
		}
	}
}

// Remove drops slot from the posting set of every term in content, deleting
// terms whose sets become empty. content must be what was indexed for slot.
func (m *MemoryIndex) Remove(slot store.Slot, content string) {
	for _, term := range tokenizer.Unique(tokenizer.Tokenize(content)) {
		set, exists := m.index[term]
		if !exists {
			continue
		}
		if _, ok := set[slot]; !ok {
			continue
		}
		delete(set, slot)
		m.size -= int64(len(term) + 16)
		if len(set) == 0 {
			delete(m.index, term)
		}
	}
}

// Postings returns the slots containing term in ascending order, or nil for
// an unseen term.
func (m *MemoryIndex) Postings(term string) PostingList {
	set, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(set))
	for slot := range set {
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i] < result[j]
	})
	return result
}

// DocFreq returns the number of documents containing term.
func (m *MemoryIndex) DocFreq(term string) int {
	return len(m.index[term])
}

// TermCount returns the number of distinct indexed terms.
func (m *MemoryIndex) TermCount() int {
	return len(m.index)
}

// Size is a rough estimate of the index's memory footprint in bytes.
func (m *MemoryIndex) Size() int64 {
	return m.size
}

func (m *MemoryIndex) Reset() {
	m.index = make(map[string]PostingSet)
	m.size = 0
}
