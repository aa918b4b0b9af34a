package index

import "github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/store"

// PostingSet is the set of store slots whose content contains a term.
type PostingSet map[store.Slot]struct{}

// PostingList is a PostingSet in ascending slot order.
type PostingList []store.Slot
