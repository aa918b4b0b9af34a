package executor

import (
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
)

// filter holds the AND'ed document filters of a query.
type filter struct {
	kind     document.Kind
	from     *parser.Bound
	to       *parser.Bound
	metadata document.Metadata
}

func newFilter(opts parser.Options) filter {
	return filter{
		kind:     opts.Kind,
		from:     opts.From,
		to:       opts.To,
		metadata: opts.Metadata,
	}
}

func (f filter) matches(doc *document.Document) bool {
	if f.kind != "" && doc.Kind != f.kind {
		return false
	}
	if f.from != nil && !f.from.NotBefore(doc.Timestamp) {
		return false
	}
	if f.to != nil && !f.to.NotAfter(doc.Timestamp) {
		return false
	}
	return doc.Metadata.Matches(f.metadata)
}
