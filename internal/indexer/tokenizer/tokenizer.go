// Package tokenizer provides text tokenisation for the chat search index.
// It lower-cases input, turns every rune that is neither a word character nor
// whitespace into a separator, and splits on whitespace. No stemming and no
// stop-word removal is applied: a query term matches exactly the tokens it
// normalises to.
package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenize breaks text into lowercased terms in source order. Duplicates are
// kept; empty input yields an empty (nil) slice.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	normalized := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if isWordRune(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	return strings.Fields(normalized)
}

// Frequencies counts occurrences of each term in tokens.
func Frequencies(tokens []string) map[string]int {
	freqs := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freqs[t]++
	}
	return freqs
}

// Unique returns the distinct terms of tokens in first-seen order.
func Unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// isWordRune matches the Unicode word class: letters, combining marks,
// decimal digits and connector punctuation such as '_'.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) ||
		unicode.IsMark(r) ||
		unicode.IsDigit(r) ||
		unicode.Is(unicode.Pc, r)
}
