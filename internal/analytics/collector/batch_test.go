package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	fail    bool
	batches [][]kafka.Event
	flushed chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{flushed: make(chan struct{}, 16)}
}

func (p *fakePublisher) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.batches = append(p.batches, events)
	p.flushed <- struct{}{}
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.batches {
		n += len(b)
	}
	return n
}

func TestBatchCollectorFlushesFullBatch(t *testing.T) {
	pub := newFakePublisher()
	bc := NewBatchCollector(pub, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc.Start(ctx)

	bc.Track("search", 1)
	bc.Track("search", 2)

	select {
	case <-pub.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("full batch was not flushed")
	}
	if got := pub.count(); got != 2 {
		t.Errorf("published %d events, want 2", got)
	}
	ev := pub.batches[0][0]
	if ev.Key != "search" || ev.Headers[kafka.HeaderEventType] != "search" {
		t.Errorf("event = %+v, want key and header set to the event type", ev)
	}
}

func TestBatchCollectorFinalFlushOnCancel(t *testing.T) {
	pub := newFakePublisher()
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track("index", "a")
	bc.Track("clear", "b")
	cancel()
	bc.Close()

	if got := pub.count(); got != 2 {
		t.Errorf("published %d events, want 2", got)
	}
	if s := bc.Stats(); s.Published != 2 || s.Dropped != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestBatchCollectorDropsWhenQueueFull(t *testing.T) {
	bc := NewBatchCollector(newFakePublisher(), 2, time.Hour)
	for i := 0; i < 8; i++ {
		bc.Track("search", i)
	}
	if got := bc.Stats().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}
}

func TestFlushKeepsNewestOnFailure(t *testing.T) {
	pub := newFakePublisher()
	pub.fail = true
	bc := NewBatchCollector(pub, 2, time.Hour)

	pending := make([]kafka.Event, 8)
	for i := range pending {
		pending[i] = kafka.Event{Key: "search", Value: i}
	}
	rest, ok := bc.flush(context.Background(), pending)
	if ok {
		t.Fatal("flush reported success")
	}
	if len(rest) != 6 || rest[0].Value != 2 {
		t.Errorf("rest = %d events starting at %v, want 6 starting at 2", len(rest), rest[0].Value)
	}
	if s := bc.Stats(); s.Dropped != 2 || s.Failures != 1 {
		t.Errorf("stats = %+v", s)
	}

	pub.fail = false
	rest, ok = bc.flush(context.Background(), rest)
	if !ok || len(rest) != 0 || pub.count() != 6 {
		t.Errorf("retry: ok=%v rest=%d published=%d", ok, len(rest), pub.count())
	}
}
