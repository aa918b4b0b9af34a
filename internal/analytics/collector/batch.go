// Package collector buffers analytics events and flushes them to Kafka in
// bulk, either when a batch fills up or on a timer.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
)

// Publisher writes a batch of events. *kafka.Producer satisfies it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	finalFlushTimeout    = 5 * time.Second
	// overflowFactor bounds queued plus unpublished events to this many
	// batches while the publisher keeps failing.
	overflowFactor = 3
)

// Stats counts what happened to tracked events.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failures  int64 `json:"failures"`
}

// BatchCollector implements analytics.Sink. Track never blocks: events go
// through a bounded queue to a single flush loop, and are dropped when the
// queue is full.
type BatchCollector struct {
	publisher     Publisher
	queue         chan kafka.Event
	batchSize     int
	flushInterval time.Duration
	maxPending    int
	done          chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64

	logger *slog.Logger
}

// NewBatchCollector creates a BatchCollector that flushes when batchSize
// events are pending or every flushInterval, whichever comes first.
func NewBatchCollector(publisher Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	return &BatchCollector{
		publisher:     publisher,
		queue:         make(chan kafka.Event, batchSize*overflowFactor),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxPending:    batchSize * overflowFactor,
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "batch-collector"),
	}
}

// Start launches the flush loop. Once ctx is cancelled the loop drains the
// queue, attempts a final flush and exits.
func (bc *BatchCollector) Start(ctx context.Context) {
	go bc.run(ctx)
	bc.logger.Info("batch collector started",
		"batch_size", bc.batchSize,
		"flush_interval", bc.flushInterval,
	)
}

// Track queues an analytics event keyed by its type.
func (bc *BatchCollector) Track(eventType string, value any) {
	ev := kafka.Event{
		Key:     eventType,
		Value:   value,
		Headers: map[string]string{kafka.HeaderEventType: eventType},
	}
	select {
	case bc.queue <- ev:
	default:
		bc.dropped.Add(1)
	}
}

// Close waits for the flush loop started by Start to exit.
func (bc *BatchCollector) Close() {
	<-bc.done
}

func (bc *BatchCollector) Stats() Stats {
	return Stats{
		Published: bc.published.Load(),
		Dropped:   bc.dropped.Load(),
		Failures:  bc.failures.Load(),
	}
}

func (bc *BatchCollector) run(ctx context.Context) {
	defer close(bc.done)
	ticker := time.NewTicker(bc.flushInterval)
	defer ticker.Stop()

	pending := make([]kafka.Event, 0, bc.batchSize)
	healthy := true
	for {
		select {
		case ev := <-bc.queue:
			pending = append(pending, ev)
			// After a failure, only the ticker retries.
			if healthy && len(pending) >= bc.batchSize {
				pending, healthy = bc.flush(ctx, pending)
			}
		case <-ticker.C:
			pending, healthy = bc.flush(ctx, pending)
		case <-ctx.Done():
			pending = bc.drain(pending)
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			if rest, _ := bc.flush(finalCtx, pending); len(rest) > 0 {
				bc.dropped.Add(int64(len(rest)))
				bc.logger.Warn("analytics events lost on shutdown", "events", len(rest))
			}
			cancel()
			return
		}
	}
}

func (bc *BatchCollector) drain(pending []kafka.Event) []kafka.Event {
	for {
		select {
		case ev := <-bc.queue:
			pending = append(pending, ev)
		default:
			return pending
		}
	}
}

// flush publishes pending and returns what is still unpublished. On failure
// the oldest events beyond maxPending are discarded.
func (bc *BatchCollector) flush(ctx context.Context, pending []kafka.Event) ([]kafka.Event, bool) {
	if len(pending) == 0 {
		return pending, true
	}
	if err := bc.publisher.PublishBatch(ctx, pending); err != nil {
		bc.failures.Add(1)
		if over := len(pending) - bc.maxPending; over > 0 {
			bc.dropped.Add(int64(over))
			pending = pending[over:]
			bc.logger.Warn("analytics backlog full, oldest events dropped", "dropped", over)
		}
		bc.logger.Error("analytics flush failed", "pending", len(pending), "error", err)
		return pending, false
	}
	bc.published.Add(int64(len(pending)))
	bc.logger.Debug("analytics batch published", "events", len(pending))
	return make([]kafka.Event, 0, bc.batchSize), true
}
