// Package parser turns raw search input (a query string plus filter, sort and
// paging options) into a QueryPlan for the executor. Query text is tokenized
// with the same tokenizer used at index time, so matching is exact on
// normalised terms.
package parser

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer/tokenizer"
)

// MetadataPrefix marks metadata filters in URL query parameters, e.g.
// meta.role=assistant.
const MetadataPrefix = "meta."

type SortBy string

const (
	SortRelevance SortBy = "relevance"
	SortDate      SortBy = "date"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// dateLayouts are tried in order when parsing date bounds.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Bound is an inclusive date filter. An Invalid bound came from input that
// could not be parsed; every comparison against it is false.
type Bound struct {
	At      time.Time
	Raw     string
	Invalid bool
}

// ParseBound parses s using the accepted date layouts. Unparseable input
// yields an Invalid bound rather than an error.
func ParseBound(s string) *Bound {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &Bound{At: t, Raw: s}
		}
	}
	return &Bound{Raw: s, Invalid: true}
}

// At returns a valid bound at t.
func At(t time.Time) *Bound {
	return &Bound{At: t, Raw: t.Format(time.RFC3339Nano)}
}

// NotBefore reports whether t is on or after the bound.
func (b *Bound) NotBefore(t time.Time) bool {
	return !b.Invalid && !t.Before(b.At)
}

// NotAfter reports whether t is on or before the bound.
func (b *Bound) NotAfter(t time.Time) bool {
	return !b.Invalid && !t.After(b.At)
}

// Options are the optional filters, ordering and paging of a search. The
// zero value matches everything, sorts by descending relevance and returns
// all results.
type Options struct {
	Kind      document.Kind     `json:"kind,omitempty"`
	From      *Bound            `json:"-"`
	To        *Bound            `json:"-"`
	Metadata  document.Metadata `json:"metadata,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
	SortBy    SortBy            `json:"sort_by,omitempty"`
	SortOrder SortOrder         `json:"sort_order,omitempty"`
}

// QueryPlan is a tokenized query with normalised options.
type QueryPlan struct {
	RawQuery string
	Terms    []string
	Options  Options
}

// Parse tokenizes query and normalises opts: negative paging values become
// zero and empty sort settings take their defaults.
func Parse(query string, opts Options) *QueryPlan {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.SortBy == "" {
		opts.SortBy = SortRelevance
	}
	if opts.SortOrder == "" {
		opts.SortOrder = SortDesc
	}
	return &QueryPlan{
		RawQuery: query,
		Terms:    tokenizer.Tokenize(query),
		Options:  opts,
	}
}

// Request is the JSON form of a search.
type Request struct {
	Query     string            `json:"q"`
	Kind      string            `json:"kind,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Metadata  document.Metadata `json:"metadata,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
	SortBy    string            `json:"sort,omitempty"`
	SortOrder string            `json:"order,omitempty"`
}

// FromRequest builds a plan from a JSON request. Metadata values keep their
// JSON types.
func FromRequest(req Request) (*QueryPlan, error) {
	opts := Options{
		Kind:     document.Kind(req.Kind),
		Metadata: req.Metadata,
		Limit:    req.Limit,
		Offset:   req.Offset,
	}
	if req.From != "" {
		opts.From = ParseBound(req.From)
	}
	if req.To != "" {
		opts.To = ParseBound(req.To)
	}
	var err error
	if opts.SortBy, err = parseSortBy(req.SortBy); err != nil {
		return nil, err
	}
	if opts.SortOrder, err = parseSortOrder(req.SortOrder); err != nil {
		return nil, err
	}
	return Parse(req.Query, opts), nil
}

// FromValues builds a plan from URL query parameters: q, kind, from, to,
// limit, offset, sort, order and meta.<key>. Metadata values from a URL are
// always strings.
func FromValues(values url.Values) (*QueryPlan, error) {
	req := Request{
		Query:     values.Get("q"),
		Kind:      values.Get("kind"),
		From:      values.Get("from"),
		To:        values.Get("to"),
		SortBy:    values.Get("sort"),
		SortOrder: values.Get("order"),
	}
	var err error
	if req.Limit, err = parseNonNegative(values, "limit"); err != nil {
		return nil, err
	}
	if req.Offset, err = parseNonNegative(values, "offset"); err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for key := range values {
		if strings.HasPrefix(key, MetadataPrefix) && len(key) > len(MetadataPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		req.Metadata.Set(strings.TrimPrefix(key, MetadataPrefix), document.String(values.Get(key)))
	}
	return FromRequest(req)
}

func parseNonNegative(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func parseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(s)) {
	case "":
		return "", nil
	case SortRelevance:
		return SortRelevance, nil
	case SortDate:
		return SortDate, nil
	}
	return "", fmt.Errorf("sort must be %q or %q", SortRelevance, SortDate)
}

func parseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(s)) {
	case "":
		return "", nil
	case SortAsc:
		return SortAsc, nil
	case SortDesc:
		return SortDesc, nil
	}
	return "", fmt.Errorf("order must be %q or %q", SortAsc, SortDesc)
}
