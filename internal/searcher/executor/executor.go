// Package executor runs a parsed query against the index: it gathers
// candidates from the posting lists, filters and scores them, orders and
// paginates the survivors and attaches highlights. The whole query runs under
// one read snapshot of the index.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/tracing"
)

// Index is the read side of the indexer engine.
type Index interface {
	View(fn func(s indexer.Snapshot) error) error
}

// Result is one ranked document.
type Result struct {
	Document   document.Document     `json:"document"`
	Score      float64               `json:"score"`
	Highlights []highlight.Highlight `json:"highlights"`
}

type SearchResult struct {
	Query     string         `json:"query"`
	TotalHits int            `json:"total_hits"`
	Results   []Result       `json:"results"`
	TermStats map[string]int `json:"term_stats,omitempty"`
}

type Executor struct {
	index       Index
	highlighter *highlight.Highlighter
	logger      *slog.Logger
}

// New returns an executor over idx. snippetContext is the number of
// characters kept around each highlighted match; non-positive selects the
// default.
func New(idx Index, snippetContext int) *Executor {
	return &Executor{
		index:       idx,
		highlighter: highlight.New(snippetContext),
		logger:      slog.Default().With("component", "query-executor"),
	}
}

// candidate is a document that survived filtering, with its running score.
type candidate struct {
	slot  store.Slot
	doc   *document.Document
	score float64
}

// Execute runs plan. A plan without terms returns an empty result without
// reading the index. ctx is checked between the scoring, sorting and
// highlighting passes.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan) (*SearchResult, error) {
	result := &SearchResult{
		Query:   plan.RawQuery,
		Results: []Result{},
	}
	if len(plan.Terms) == 0 {
		return result, nil
	}
	start := time.Now()
	ctx, span := tracing.Start(ctx, "executor.execute")
	defer span.End()

	opts := plan.Options
	err := e.index.View(func(snap indexer.Snapshot) error {
		_, scoreSpan := tracing.Start(ctx, "executor.score")
		candidates, termStats := e.score(snap, plan.Terms, newFilter(opts))
		scoreSpan.SetAttr("candidates", len(candidates))
		scoreSpan.End()
		result.TermStats = termStats
		result.TotalHits = len(candidates)
		if len(candidates) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		page := paginate(candidates, opts)
		if err := ctx.Err(); err != nil {
			return err
		}

		terms := tokenizer.Unique(plan.Terms)
		results := make([]Result, len(page))
		for i, c := range page {
			results[i] = Result{
				Document:   c.doc.Clone(),
				Score:      c.score,
				Highlights: e.highlighter.Highlight(c.doc.Content, terms),
			}
		}
		result.Results = results
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("executing query %q: %w", plan.RawQuery, err)
	}
	span.SetAttr("total_hits", result.TotalHits)
	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"terms", plan.Terms,
		"total_hits", result.TotalHits,
		"results", len(result.Results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// score unions the posting lists of terms into a candidate set, keeping only
// documents that pass f, and accumulates each candidate's TF-IDF score. A
// repeated query term contributes once per occurrence.
func (e *Executor) score(snap indexer.Snapshot, terms []string, f filter) ([]*candidate, map[string]int) {
	totalDocs := snap.TotalDocs()
	termStats := make(map[string]int, len(terms))
	bySlot := make(map[store.Slot]*candidate)
	rejected := make(map[store.Slot]struct{})
	freqs := make(map[store.Slot]map[string]int)
	lengths := make(map[store.Slot]int)
	order := make([]*candidate, 0)

	for _, term := range terms {
		postings := snap.Postings(term)
		df := len(postings)
		termStats[term] = df
		for _, slot := range postings {
			if _, skip := rejected[slot]; skip {
				continue
			}
			c, seen := bySlot[slot]
			if !seen {
				doc := snap.Document(slot)
				if !f.matches(doc) {
					rejected[slot] = struct{}{}
					continue
				}
				tokens := tokenizer.Tokenize(doc.Content)
				freqs[slot] = tokenizer.Frequencies(tokens)
				lengths[slot] = len(tokens)
				c = &candidate{slot: slot, doc: doc}
				bySlot[slot] = c
				order = append(order, c)
			}
			c.score += ranker.Contribution(freqs[slot][term], lengths[slot], totalDocs, df)
		}
	}
	return order, termStats
}

// paginate orders candidates and returns the requested page. Only the first
// offset+limit candidates are fully ordered.
func paginate(candidates []*candidate, opts parser.Options) []*candidate {
	if opts.Offset >= len(candidates) {
		return nil
	}
	k := 0
	if opts.Limit > 0 {
		k = opts.Offset + opts.Limit
	}
	top := merger.TopK(candidates, k, lessFunc(opts.SortBy, opts.SortOrder))
	if opts.Offset >= len(top) {
		return nil
	}
	return top[opts.Offset:]
}

// lessFunc orders by the sort key in the requested direction. Ties are always
// broken by ascending document id.
func lessFunc(by parser.SortBy, order parser.SortOrder) func(a, b *candidate) bool {
	desc := order != parser.SortAsc
	if by == parser.SortDate {
		return func(a, b *candidate) bool {
			at, bt := a.doc.Timestamp, b.doc.Timestamp
			if !at.Equal(bt) {
				if desc {
					return at.After(bt)
				}
				return at.Before(bt)
			}
			return a.doc.ID < b.doc.ID
		}
	}
	return func(a, b *candidate) bool {
		if a.score != b.score {
			if desc {
				return a.score > b.score
			}
			return a.score < b.score
		}
		return a.doc.ID < b.doc.ID
	}
}
