package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/redis"
)

type fakeBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	setCall int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string][]byte)}
}

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, pkgredis.Nil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCall++
	f.data[key] = value
	return nil
}

func (f *fakeBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func sampleResult() *executor.SearchResult {
	return &executor.SearchResult{
		Query:     "react",
		TotalHits: 1,
		Results: []executor.Result{{
			Document: document.Document{ID: "msg2", Content: "React components", Kind: document.KindMessage},
			Score:    0.2,
		}},
	}
}

func TestGetOrComputeCachesResult(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, time.Minute)
	plan := parser.Parse("react", parser.Options{})
	var calls atomic.Int32
	compute := func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return sampleResult(), nil
	}

	_, hit, err := c.GetOrCompute(context.Background(), 1, plan, compute)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	got, hit, err := c.GetOrCompute(context.Background(), 1, plan, compute)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times", calls.Load())
	}
	if got.TotalHits != 1 || got.Results[0].Document.ID != "msg2" {
		t.Errorf("cached result = %+v", got)
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestGenerationChangesKey(t *testing.T) {
	plan := parser.Parse("react", parser.Options{})
	if Key(1, plan) == Key(2, plan) {
		t.Error("generations share a key")
	}
}

func TestKeyNormalisation(t *testing.T) {
	var a, b document.Metadata
	a.Set("role", document.String("user"))
	a.Set("chatId", document.String("c1"))
	b.Set("chatId", document.String("c1"))
	b.Set("role", document.String("user"))

	same := []struct {
		name string
		x, y *parser.QueryPlan
	}{
		{"case", parser.Parse("React Hooks", parser.Options{}), parser.Parse("react hooks", parser.Options{})},
		{"term order", parser.Parse("hooks react", parser.Options{}), parser.Parse("react hooks", parser.Options{})},
		{"metadata order", parser.Parse("x", parser.Options{Metadata: a}), parser.Parse("x", parser.Options{Metadata: b})},
		{"defaults", parser.Parse("x", parser.Options{}), parser.Parse("x", parser.Options{SortBy: parser.SortRelevance, SortOrder: parser.SortDesc})},
	}
	for _, tt := range same {
		t.Run(tt.name, func(t *testing.T) {
			if Key(1, tt.x) != Key(1, tt.y) {
				t.Error("equivalent plans have different keys")
			}
		})
	}

	var typed document.Metadata
	typed.Set("tokens", document.Number(5))
	var stringly document.Metadata
	stringly.Set("tokens", document.String("5"))
	different := []struct {
		name string
		x, y *parser.QueryPlan
	}{
		{"limit", parser.Parse("x", parser.Options{Limit: 1}), parser.Parse("x", parser.Options{Limit: 2})},
		{"kind", parser.Parse("x", parser.Options{Kind: document.KindChat}), parser.Parse("x", parser.Options{})},
		{"metadata type", parser.Parse("x", parser.Options{Metadata: typed}), parser.Parse("x", parser.Options{Metadata: stringly})},
		{"invalid bound", parser.Parse("x", parser.Options{From: parser.ParseBound("nope")}), parser.Parse("x", parser.Options{})},
		{"duplicate terms", parser.Parse("x x", parser.Options{}), parser.Parse("x", parser.Options{})},
	}
	for _, tt := range different {
		t.Run(tt.name, func(t *testing.T) {
			if Key(1, tt.x) == Key(1, tt.y) {
				t.Error("distinct plans share a key")
			}
		})
	}
}

func TestCachedResultCarriesCallerQuery(t *testing.T) {
	c := New(newFakeBackend(), time.Minute)
	compute := func(context.Context) (*executor.SearchResult, error) { return sampleResult(), nil }
	if _, _, err := c.GetOrCompute(context.Background(), 1, parser.Parse("react", parser.Options{}), compute); err != nil {
		t.Fatal(err)
	}
	got, hit, _ := c.GetOrCompute(context.Background(), 1, parser.Parse("REACT", parser.Options{}), compute)
	if !hit {
		t.Fatal("expected hit")
	}
	if got.Query != "REACT" {
		t.Errorf("query = %q", got.Query)
	}
}

func TestBackendErrorIsMiss(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("connection refused")
	c := New(backend, time.Minute)
	result, hit, err := c.GetOrCompute(context.Background(), 1, parser.Parse("react", parser.Options{}),
		func(context.Context) (*executor.SearchResult, error) { return sampleResult(), nil })
	if err != nil || hit || result == nil {
		t.Fatalf("result=%v hit=%v err=%v", result, hit, err)
	}
	if s := c.Stats(); s.Errors != 1 {
		t.Errorf("errors = %d", s.Errors)
	}
}

func TestComputeErrorNotCached(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, time.Minute)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), 1, parser.Parse("react", parser.Options{}),
		func(context.Context) (*executor.SearchResult, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if backend.setCall != 0 {
		t.Error("failed computation was cached")
	}
}

func TestSharedComputeOutlivesCancelledCaller(t *testing.T) {
	c := New(newFakeBackend(), time.Minute)
	plan := parser.Parse("react", parser.Options{})

	var startOnce sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		startOnce.Do(func() { close(started) })
		select {
		case <-release:
			return sampleResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctxA, 1, plan, compute)
		errA <- err
	}()
	<-started

	type outcome struct {
		result *executor.SearchResult
		err    error
	}
	doneB := make(chan outcome, 1)
	go func() {
		result, _, err := c.GetOrCompute(context.Background(), 1, plan, compute)
		doneB <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}
	close(release)

	select {
	case got := <-doneB:
		if got.err != nil {
			t.Fatalf("live caller err = %v", got.err)
		}
		if got.result.TotalHits != 1 {
			t.Errorf("live caller result = %+v", got.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live caller never returned")
	}
}

func TestInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.data["unrelated"] = []byte("x")
	c := New(backend, time.Minute)
	ctx := context.Background()
	for i, q := range []string{"react", "typescript"} {
		c.Set(ctx, uint64(i), parser.Parse(q, parser.Options{}), sampleResult())
	}
	deleted, err := c.Invalidate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if _, ok := backend.data["unrelated"]; !ok {
		t.Error("invalidate removed a foreign key")
	}
}
