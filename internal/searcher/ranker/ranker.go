// Package ranker scores documents against a query with classic TF-IDF:
// term frequency normalised by document length, times the natural-log
// inverse document frequency over the whole index.
package ranker

import "math"

// TermFrequency returns occurrences/total for a term, or 0 when the document
// has no tokens.
func TermFrequency(occurrences, totalTokens int) float64 {
	if totalTokens == 0 {
		return 0
	}
	return float64(occurrences) / float64(totalTokens)
}

// IDF returns ln(totalDocs / max(docFreq, 1)).
func IDF(totalDocs, docFreq int) float64 {
	if docFreq < 1 {
		docFreq = 1
	}
	if totalDocs < 1 {
		return 0
	}
	return math.Log(float64(totalDocs) / float64(docFreq))
}

// Contribution is one query term's share of a document's score. A document's
// score is the sum of the contributions of every query term occurrence.
func Contribution(occurrences, totalTokens, totalDocs, docFreq int) float64 {
	return TermFrequency(occurrences, totalTokens) * IDF(totalDocs, docFreq)
}
