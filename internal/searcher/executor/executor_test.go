package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func corpus() []document.Document {
	var assistant, user document.Metadata
	assistant.Set("role", document.String("assistant"))
	user.Set("role", document.String("user"))
	return []document.Document{
		{
			ID:        "msg1",
			Content:   "Hello, how can I help you with TypeScript today?",
			Kind:      document.KindMessage,
			Timestamp: base,
			Metadata:  assistant,
		},
		{
			ID:        "msg2",
			Content:   "I need help with React components...",
			Kind:      document.KindMessage,
			Timestamp: base.Add(time.Hour),
			Metadata:  user,
		},
		{
			ID:        "chat1",
			Content:   "TypeScript and React Development Discussion",
			Kind:      document.KindChat,
			Timestamp: base.Add(2 * time.Hour),
		},
	}
}

func setup(t *testing.T) (*indexer.Engine, *Executor) {
	t.Helper()
	engine := indexer.NewEngine()
	for _, doc := range corpus() {
		engine.AddDocument(doc)
	}
	return engine, New(engine, 0)
}

func search(t *testing.T, ex *Executor, query string, opts parser.Options) *SearchResult {
	t.Helper()
	result, err := ex.Execute(context.Background(), parser.Parse(query, opts))
	if err != nil {
		t.Fatalf("Execute(%q): %v", query, err)
	}
	return result
}

func ids(result *SearchResult) []string {
	out := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		out = append(out, r.Document.ID)
	}
	return out
}

func TestSearchScenarios(t *testing.T) {
	_, ex := setup(t)
	var roleAssistant document.Metadata
	roleAssistant.Set("role", document.String("assistant"))

	tests := []struct {
		name  string
		query string
		opts  parser.Options
		want  []string
	}{
		{"case insensitive", "TypeScript", parser.Options{}, []string{"chat1", "msg1"}},
		{"lowercase query", "typescript", parser.Options{}, []string{"chat1", "msg1"}},
		{"kind filter", "TypeScript", parser.Options{Kind: document.KindMessage}, []string{"msg1"}},
		{"unknown kind", "TypeScript", parser.Options{Kind: "note"}, []string{}},
		{"no match", "nonexistent", parser.Options{}, []string{}},
		{"metadata filter", "TypeScript", parser.Options{Metadata: roleAssistant}, []string{"msg1"}},
		{"partial term match", "react typescript", parser.Options{Kind: document.KindMessage}, []string{"msg2", "msg1"}},
		{"empty query", "", parser.Options{}, []string{}},
		{"punctuation only", "?!...", parser.Options{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(search(t, ex, tt.query, tt.opts))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScores(t *testing.T) {
	_, ex := setup(t)
	result := search(t, ex, "TypeScript", parser.Options{})
	idf := math.Log(1.5)
	want := map[string]float64{
		"msg1":  idf / 9,
		"chat1": idf / 5,
	}
	for _, r := range result.Results {
		if math.Abs(r.Score-want[r.Document.ID]) > 1e-9 {
			t.Errorf("%s score = %f, want %f", r.Document.ID, r.Score, want[r.Document.ID])
		}
	}
	if result.TermStats["typescript"] != 2 {
		t.Errorf("term stats = %v", result.TermStats)
	}
	if result.TotalHits != 2 {
		t.Errorf("total hits = %d", result.TotalHits)
	}
}

func TestMetadataTypeExact(t *testing.T) {
	engine := indexer.NewEngine()
	var md document.Metadata
	md.Set("tokens", document.Number(5))
	engine.AddDocument(document.Document{ID: "a", Content: "budget", Kind: document.KindMessage, Metadata: md})
	ex := New(engine, 0)

	var asString, asNumber document.Metadata
	asString.Set("tokens", document.String("5"))
	asNumber.Set("tokens", document.Number(5))
	if got := ids(search(t, ex, "budget", parser.Options{Metadata: asString})); len(got) != 0 {
		t.Errorf("string filter matched number metadata: %v", got)
	}
	if got := ids(search(t, ex, "budget", parser.Options{Metadata: asNumber})); len(got) != 1 {
		t.Errorf("number filter = %v, want one match", got)
	}
	var missing document.Metadata
	missing.Set("chatId", document.String("c1"))
	if got := ids(search(t, ex, "budget", parser.Options{Metadata: missing})); len(got) != 0 {
		t.Errorf("missing key matched: %v", got)
	}
}

func TestDateFilters(t *testing.T) {
	_, ex := setup(t)
	tests := []struct {
		name string
		from *parser.Bound
		to   *parser.Bound
		want []string
	}{
		{"inclusive from", parser.At(base.Add(time.Hour)), nil, []string{"msg2"}},
		{"inclusive to", nil, parser.At(base), []string{"msg1"}},
		{"window", parser.At(base), parser.At(base.Add(2 * time.Hour)), []string{"msg2", "msg1"}},
		{"invalid from", parser.ParseBound("yesterday-ish"), nil, []string{}},
		{"invalid to", nil, parser.ParseBound("2024-99-99"), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := parser.Options{From: tt.from, To: tt.to, Kind: document.KindMessage}
			got := ids(search(t, ex, "help", opts))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortAndPaginate(t *testing.T) {
	_, ex := setup(t)
	tests := []struct {
		name string
		opts parser.Options
		want []string
	}{
		{"relevance desc", parser.Options{}, []string{"chat1", "msg1"}},
		{"relevance asc", parser.Options{SortOrder: parser.SortAsc}, []string{"msg1", "chat1"}},
		{"date asc", parser.Options{SortBy: parser.SortDate, SortOrder: parser.SortAsc}, []string{"msg1", "chat1"}},
		{"date desc", parser.Options{SortBy: parser.SortDate}, []string{"chat1", "msg1"}},
		{"second page", parser.Options{Limit: 1, Offset: 1}, []string{"msg1"}},
		{"first page", parser.Options{Limit: 1}, []string{"chat1"}},
		{"offset past end", parser.Options{Offset: 5}, []string{}},
		{"limit beyond total", parser.Options{Limit: 10}, []string{"chat1", "msg1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := search(t, ex, "TypeScript", tt.opts)
			if got := ids(result); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if result.TotalHits != 2 {
				t.Errorf("total hits = %d, want 2", result.TotalHits)
			}
		})
	}
}

func TestTiesBreakByID(t *testing.T) {
	engine := indexer.NewEngine()
	for _, id := range []string{"c", "a", "b"} {
		engine.AddDocument(document.Document{ID: id, Content: "same words", Kind: document.KindMessage, Timestamp: base})
	}
	engine.AddDocument(document.Document{ID: "other", Content: "unrelated", Kind: document.KindMessage})
	ex := New(engine, 0)
	for _, opts := range []parser.Options{{}, {SortBy: parser.SortDate}, {SortOrder: parser.SortAsc}} {
		if got := ids(search(t, ex, "same", opts)); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Errorf("%+v: got %v", opts, got)
		}
	}
}

func TestIdempotentAdd(t *testing.T) {
	engine, ex := setup(t)
	before := search(t, ex, "react typescript", parser.Options{})
	for _, doc := range corpus() {
		engine.AddDocument(doc)
	}
	after := search(t, ex, "react typescript", parser.Options{})
	if !reflect.DeepEqual(ids(before), ids(after)) {
		t.Fatalf("results changed: %v -> %v", ids(before), ids(after))
	}
	for i := range before.Results {
		if before.Results[i].Score != after.Results[i].Score {
			t.Errorf("%s score changed", before.Results[i].Document.ID)
		}
	}
}

func TestReplacedContentIsNotFound(t *testing.T) {
	engine, ex := setup(t)
	engine.AddDocument(document.Document{ID: "msg1", Content: "Now about Go generics", Kind: document.KindMessage})
	got := ids(search(t, ex, "TypeScript", parser.Options{}))
	if !reflect.DeepEqual(got, []string{"chat1"}) {
		t.Errorf("got %v, want [chat1]", got)
	}
	if got := ids(search(t, ex, "generics", parser.Options{})); !reflect.DeepEqual(got, []string{"msg1"}) {
		t.Errorf("got %v, want [msg1]", got)
	}
}

func TestClear(t *testing.T) {
	engine, ex := setup(t)
	engine.Clear()
	for _, q := range []string{"TypeScript", "react", "hello"} {
		if got := ids(search(t, ex, q, parser.Options{})); len(got) != 0 {
			t.Errorf("%q after clear: %v", q, got)
		}
	}
}

func TestHighlightsAttached(t *testing.T) {
	_, ex := setup(t)
	result := search(t, ex, "typescript", parser.Options{Kind: document.KindChat})
	if len(result.Results) != 1 {
		t.Fatalf("results = %v", ids(result))
	}
	hl := result.Results[0].Highlights
	if len(hl) != 1 {
		t.Fatalf("highlights = %+v", hl)
	}
	if got := hl[0].Snippet[hl[0].Start:hl[0].End]; got != "TypeScript" {
		t.Errorf("highlighted %q", got)
	}
}

func TestResultsAreCopies(t *testing.T) {
	engine, ex := setup(t)
	result := search(t, ex, "TypeScript", parser.Options{Kind: document.KindMessage})
	result.Results[0].Document.Metadata.Set("role", document.String("mutated"))
	doc, _ := engine.Get("msg1")
	if v, _ := doc.Metadata.Get("role"); !v.Equal(document.String("assistant")) {
		t.Errorf("stored metadata mutated to %v", v)
	}
}

type failingIndex struct{ called bool }

func (f *failingIndex) View(func(indexer.Snapshot) error) error {
	f.called = true
	return errors.New("unreachable")
}

func TestEmptyQueryDoesNotTouchIndex(t *testing.T) {
	idx := &failingIndex{}
	result, err := New(idx, 0).Execute(context.Background(), parser.Parse("  ", parser.Options{}))
	if err != nil {
		t.Fatal(err)
	}
	if idx.called {
		t.Error("index was read for an empty query")
	}
	if result.Results == nil || len(result.Results) != 0 {
		t.Errorf("results = %#v", result.Results)
	}
}

func TestCancelledContext(t *testing.T) {
	_, ex := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ex.Execute(ctx, parser.Parse("TypeScript", parser.Options{}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPaginateMatchesFullOrdering(t *testing.T) {
	candidates := make([]*candidate, 50)
	for i := range candidates {
		candidates[i] = &candidate{
			doc:   &document.Document{ID: fmt.Sprintf("msg-%02d", i), Timestamp: base.Add(time.Duration(i%7) * time.Minute)},
			score: float64((i * 7919) % 10),
		}
	}
	for _, by := range []parser.SortBy{parser.SortRelevance, parser.SortDate} {
		less := lessFunc(by, parser.SortDesc)
		full := append([]*candidate(nil), candidates...)
		sort.SliceStable(full, func(i, j int) bool { return less(full[i], full[j]) })

		page := paginate(candidates, parser.Options{Limit: 5, Offset: 10, SortBy: by, SortOrder: parser.SortDesc})
		if len(page) != 5 {
			t.Fatalf("%s: page length = %d", by, len(page))
		}
		for i, c := range page {
			if c != full[10+i] {
				t.Errorf("%s: page[%d] = %s, want %s", by, i, c.doc.ID, full[10+i].doc.ID)
			}
		}
	}
}

// BenchmarkPaginate measures bounded selection of a result page against
// ordering every candidate.
func BenchmarkPaginate(b *testing.B) {
	candidates := make([]*candidate, 10000)
	for i := range candidates {
		candidates[i] = &candidate{
			doc:   &document.Document{ID: fmt.Sprintf("msg-%d", i)},
			score: float64((i * 7919) % 1000),
		}
	}
	for _, k := range []int{10, 100, 1000, 0} {
		b.Run(fmt.Sprintf("k_%d", k), func(b *testing.B) {
			opts := parser.Options{Limit: k, SortBy: parser.SortRelevance, SortOrder: parser.SortDesc}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = paginate(candidates, opts)
			}
		})
	}
}
