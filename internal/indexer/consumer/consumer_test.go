package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) (int64, error) {
	c.calls++
	return 0, nil
}

type fakeResyncer struct {
	engine *indexer.Engine
	err    error
}

func (f *fakeResyncer) Resync(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.engine.Clear()
	return 0, nil
}

type recordingTracker struct{ events []analytics.IndexEvent }

func (r *recordingTracker) TrackIndex(event analytics.IndexEvent) {
	r.events = append(r.events, event)
}

func upsert(id, content string) ingestion.ChatEvent {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	return ingestion.ChatEvent{
		Type: ingestion.EventUpsert,
		Document: &ingestion.DocumentRequest{
			ID:        id,
			Content:   content,
			Kind:      "message",
			Timestamp: &ts,
		},
	}
}

func newApplier(t *testing.T, opts ...Option) (*Applier, *indexer.Engine) {
	t.Helper()
	engine := indexer.NewEngine()
	opts = append(opts, WithMetrics(metrics.New(prometheus.NewRegistry())))
	return NewApplier(engine, opts...), engine
}

func TestApplyUpserts(t *testing.T) {
	a, engine := newApplier(t)
	resp, err := a.Submit(context.Background(), []ingestion.ChatEvent{
		upsert("msg1", "How do I use React hooks?"),
		upsert("msg2", "TypeScript with React"),
		upsert("msg1", "Replaced content"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Status != "indexed" || resp.Indexed != 3 || resp.Replaced != 1 {
		t.Errorf("response = %+v", resp)
	}
	if engine.DocCount() != 2 {
		t.Errorf("DocCount = %d, want 2", engine.DocCount())
	}
	doc, _ := engine.Get("msg1")
	if doc.Content != "Replaced content" {
		t.Errorf("msg1 content = %q, want last write", doc.Content)
	}
}

func TestApplyRejectsInvalidSubmission(t *testing.T) {
	a, engine := newApplier(t)
	_, err := a.Submit(context.Background(), []ingestion.ChatEvent{
		upsert("ok", "fine"),
		upsert("", "missing id"),
	})
	var validationErr *validator.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if engine.DocCount() != 0 {
		t.Errorf("DocCount = %d, want nothing applied", engine.DocCount())
	}

	_, err = a.Submit(context.Background(), []ingestion.ChatEvent{{Type: "delete"}})
	if apperrors.HTTPStatusCode(err) != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", apperrors.HTTPStatusCode(err))
	}
	_, err = a.Submit(context.Background(), []ingestion.ChatEvent{{Type: ingestion.EventUpsert}})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("upsert without document err = %v", err)
	}
}

func TestApplyClearOrdering(t *testing.T) {
	inv := &countingInvalidator{}
	tracker := &recordingTracker{}
	a, engine := newApplier(t, WithInvalidator(inv), WithTracker(tracker))

	resp, err := a.Submit(context.Background(), []ingestion.ChatEvent{
		upsert("a", "first"),
		{Type: ingestion.EventClear},
		upsert("b", "second"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Indexed != 2 {
		t.Errorf("Indexed = %d, want 2", resp.Indexed)
	}
	if _, ok := engine.Get("a"); ok {
		t.Error("document indexed before the clear survived")
	}
	if _, ok := engine.Get("b"); !ok {
		t.Error("document indexed after the clear is missing")
	}
	if inv.calls != 1 {
		t.Errorf("invalidations = %d, want 1", inv.calls)
	}
	types := make([]analytics.EventType, 0, len(tracker.events))
	for _, e := range tracker.events {
		types = append(types, e.Type)
	}
	want := []analytics.EventType{analytics.EventIndex, analytics.EventClear, analytics.EventIndex}
	if len(types) != len(want) {
		t.Fatalf("tracked %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestApplyResyncNotConfigured(t *testing.T) {
	a, _ := newApplier(t)
	_, err := a.Submit(context.Background(), []ingestion.ChatEvent{{Type: ingestion.EventResync}})
	if !errors.Is(err, apperrors.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if apperrors.HTTPStatusCode(err) != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", apperrors.HTTPStatusCode(err))
	}
}

func TestApplyResync(t *testing.T) {
	inv := &countingInvalidator{}
	engine := indexer.NewEngine()
	a := NewApplier(engine, WithResyncer(&fakeResyncer{engine: engine}), WithInvalidator(inv))
	engine.AddDocument(upsert("x", "stale").Document.Document(time.Now()))

	if _, err := a.Submit(context.Background(), []ingestion.ChatEvent{{Type: ingestion.EventResync}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if engine.DocCount() != 0 {
		t.Errorf("DocCount = %d after resync, want 0", engine.DocCount())
	}
	if inv.calls != 1 {
		t.Errorf("invalidations = %d, want 1", inv.calls)
	}
}

func TestApplyHonoursCancellation(t *testing.T) {
	a, engine := newApplier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Submit(ctx, []ingestion.ChatEvent{upsert("a", "x")}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if engine.DocCount() != 0 {
		t.Errorf("DocCount = %d, want 0", engine.DocCount())
	}
}

// cancelAfter reports cancellation once Err has been called n times.
type cancelAfter struct {
	context.Context
	n     int
	calls int
}

func (c *cancelAfter) Err() error {
	c.calls++
	if c.calls > c.n {
		return context.Canceled
	}
	return nil
}

func TestApplyDiscardsBatchCancelledMidway(t *testing.T) {
	a, engine := newApplier(t)
	events := make([]ingestion.ChatEvent, 10)
	for i := range events {
		events[i] = upsert(fmt.Sprintf("msg%d", i), "deploy notes")
	}
	ctx := &cancelAfter{Context: context.Background(), n: 4}

	resp, err := a.Submit(ctx, events)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if engine.DocCount() != 0 {
		t.Errorf("DocCount = %d, want 0", engine.DocCount())
	}
	if resp.Indexed != 0 || len(resp.IDs) != 0 {
		t.Errorf("response = %+v, want nothing indexed", resp)
	}
}

func TestHandleMessage(t *testing.T) {
	engine := indexer.NewEngine()
	a := NewApplier(engine, WithResyncer(&fakeResyncer{err: errors.New("db down")}))
	handle := HandleMessage(a)
	ctx := context.Background()

	valid, _ := json.Marshal(upsert("msg1", "hello world"))
	invalid, _ := json.Marshal(upsert("", "no id"))
	resync, _ := json.Marshal(ingestion.ChatEvent{Type: ingestion.EventResync})

	if err := handle(ctx, []byte("k"), []byte("{broken")); err != nil {
		t.Errorf("malformed message returned %v, want skip", err)
	}
	if err := handle(ctx, []byte("k"), invalid); err != nil {
		t.Errorf("invalid event returned %v, want skip", err)
	}
	if err := handle(ctx, []byte("msg1"), valid); err != nil {
		t.Errorf("valid event returned %v", err)
	}
	if _, ok := engine.Get("msg1"); !ok {
		t.Error("msg1 not indexed")
	}
	if err := handle(ctx, nil, resync); err == nil {
		t.Error("failed resync must be returned for retry")
	}

	noSource := HandleMessage(NewApplier(indexer.NewEngine()))
	if err := noSource(ctx, nil, resync); err != nil {
		t.Errorf("resync without a history source returned %v, want skip", err)
	}
}
