// Package highlight locates query-term matches inside document content and
// cuts context snippets around them. Matching is a case-insensitive substring
// scan, so "script" also highlights inside "TypeScript". All offsets count
// characters (runes), not bytes.
package highlight

import (
	"sort"
	"unicode"
)

// DefaultContext is the number of characters kept on each side of a match.
const DefaultContext = 50

// Span is a half-open [Start, End) character range.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Highlight is one merged match with its surrounding snippet. Start and End
// locate the match inside Snippet; Offset is where Snippet begins in the
// document.
type Highlight struct {
	Snippet string `json:"snippet"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Offset  int    `json:"offset"`
}

// Highlighter produces snippets with a fixed amount of context.
type Highlighter struct {
	context int
}

// New returns a Highlighter keeping contextChars characters on each side of
// a match. A non-positive value selects DefaultContext.
func New(contextChars int) *Highlighter {
	if contextChars <= 0 {
		contextChars = DefaultContext
	}
	return &Highlighter{context: contextChars}
}

// Highlight returns one snippet per merged match span, in document order.
func (h *Highlighter) Highlight(content string, terms []string) []Highlight {
	runes := []rune(content)
	spans := Merge(find(runes, terms))
	if len(spans) == 0 {
		return nil
	}
	out := make([]Highlight, 0, len(spans))
	for _, sp := range spans {
		from := sp.Start - h.context
		if from < 0 {
			from = 0
		}
		to := sp.End + h.context
		if to > len(runes) {
			to = len(runes)
		}
		out = append(out, Highlight{
			Snippet: string(runes[from:to]),
			Start:   sp.Start - from,
			End:     sp.End - from,
			Offset:  from,
		})
	}
	return out
}

// Spans returns the merged match spans of terms in content.
func Spans(content string, terms []string) []Span {
	return Merge(find([]rune(content), terms))
}

// Merge sorts spans by start and coalesces any span that overlaps or touches
// its predecessor.
func Merge(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	merged := []Span{sorted[0]}
	for _, sp := range sorted[1:] {
		last := &merged[len(merged)-1]
		if sp.Start <= last.End {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// find collects every occurrence of every term, overlapping occurrences
// included.
func find(content []rune, terms []string) []Span {
	lower := make([]rune, len(content))
	for i, r := range content {
		lower[i] = unicode.ToLower(r)
	}
	var spans []Span
	for _, term := range terms {
		needle := []rune(term)
		if len(needle) == 0 {
			continue
		}
		for i := range needle {
			needle[i] = unicode.ToLower(needle[i])
		}
		for i := 0; i+len(needle) <= len(lower); i++ {
			if hasPrefixAt(lower, needle, i) {
				spans = append(spans, Span{Start: i, End: i + len(needle)})
			}
		}
	}
	return spans
}

func hasPrefixAt(haystack, needle []rune, at int) bool {
	for j, r := range needle {
		if haystack[at+j] != r {
			return false
		}
	}
	return true
}
