// Package consumer applies chat-sync events to the index. The same Applier
// serves the Kafka chat-sync topic and, in direct ingestion mode, the
// document endpoints.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
)

// Event sources reported to analytics.
const (
	SourceAPI   = "api"
	SourceKafka = "kafka"
)

// Index is the write side of *indexer.Engine.
type Index interface {
	AddDocuments(docs []document.Document) int
	Clear()
	Stats() indexer.Stats
}

// Resyncer rebuilds the index from the history source.
type Resyncer interface {
	Resync(ctx context.Context) (int, error)
}

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Tracker receives index analytics events.
type Tracker interface {
	TrackIndex(event analytics.IndexEvent)
}

type Applier struct {
	index       Index
	resyncer    Resyncer
	invalidator Invalidator
	tracker     Tracker
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Applier)

func WithResyncer(r Resyncer) Option { return func(a *Applier) { a.resyncer = r } }

func WithInvalidator(i Invalidator) Option { return func(a *Applier) { a.invalidator = i } }

func WithTracker(t Tracker) Option { return func(a *Applier) { a.tracker = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(a *Applier) { a.metrics = m } }

func NewApplier(idx Index, opts ...Option) *Applier {
	a := &Applier{
		index:  idx,
		now:    time.Now,
		logger: slog.Default().With("component", "index-applier"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit validates and applies events in order on behalf of an API caller.
func (a *Applier) Submit(ctx context.Context, events []ingestion.ChatEvent) (ingestion.AcceptedResponse, error) {
	return a.Apply(ctx, SourceAPI, events)
}

// Apply validates every event, then applies them in order. Runs of
// consecutive upserts are indexed as one atomic batch. Nothing is applied
// when any event is invalid, and a run interrupted by cancellation is
// discarded.
func (a *Applier) Apply(ctx context.Context, source string, events []ingestion.ChatEvent) (ingestion.AcceptedResponse, error) {
	resp := ingestion.AcceptedResponse{Status: ingestion.StatusIndexed}
	for i := range events {
		if err := validator.ValidateEvent(&events[i]); err != nil {
			return resp, fmt.Errorf("event %d: %w", i, err)
		}
	}

	var pending []document.Document
	flush := func() {
		if len(pending) == 0 {
			return
		}
		start := a.now()
		replaced := a.index.AddDocuments(pending)
		resp.Indexed += len(pending)
		resp.Replaced += replaced
		for _, doc := range pending {
			resp.IDs = append(resp.IDs, doc.ID)
		}
		if a.metrics != nil {
			a.metrics.DocsIndexedTotal.Add(float64(len(pending)))
		}
		a.track(analytics.IndexEvent{
			Type:      analytics.EventIndex,
			Source:    source,
			Count:     len(pending),
			Replaced:  replaced,
			LatencyMs: a.now().Sub(start).Milliseconds(),
		})
		pending = nil
	}
	defer a.updateGauges()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			// The unflushed run is dropped so a cancelled batch is never
			// partly searchable.
			return resp, err
		}
		switch event.Type {
		case ingestion.EventUpsert:
			pending = append(pending, event.Document.Document(a.now()))
		case ingestion.EventClear:
			flush()
			a.clear(ctx, source)
		case ingestion.EventResync:
			flush()
			if err := a.resync(ctx, source); err != nil {
				return resp, err
			}
		}
	}
	flush()
	return resp, nil
}

func (a *Applier) clear(ctx context.Context, source string) {
	a.index.Clear()
	if a.metrics != nil {
		a.metrics.IndexClearsTotal.Inc()
	}
	a.track(analytics.IndexEvent{Type: analytics.EventClear, Source: source})
	a.invalidate(ctx)
	a.logger.Info("index cleared", "source", source)
}

func (a *Applier) resync(ctx context.Context, source string) error {
	if a.resyncer == nil {
		return apperrors.New(apperrors.ErrNotConfigured, "no chat history source configured")
	}
	start := a.now()
	n, err := a.resyncer.Resync(ctx)
	if err != nil {
		return fmt.Errorf("resyncing index: %w", err)
	}
	a.track(analytics.IndexEvent{
		Type:      analytics.EventResync,
		Source:    source,
		Count:     n,
		LatencyMs: a.now().Sub(start).Milliseconds(),
	})
	a.invalidate(ctx)
	return nil
}

// invalidate flushes cached results after a clear or resync. Cache keys
// already carry the index generation, so a failure only delays reclaiming
// memory and is logged rather than returned.
func (a *Applier) invalidate(ctx context.Context) {
	if a.invalidator == nil {
		return
	}
	if _, err := a.invalidator.Invalidate(ctx); err != nil {
		a.logger.Warn("cache invalidation failed", "error", err)
	}
}

func (a *Applier) track(event analytics.IndexEvent) {
	if a.tracker != nil {
		a.tracker.TrackIndex(event)
	}
}

func (a *Applier) updateGauges() {
	if a.metrics == nil {
		return
	}
	stats := a.index.Stats()
	a.metrics.SetIndexSize(stats.Documents, stats.Terms)
}

// HandleMessage returns a Kafka MessageHandler that applies chat-sync events.
// Undecodable, invalid and unsupported events are logged and skipped so that
// one bad message cannot stall the partition. Other failures are returned and
// the consumer retries the message.
func HandleMessage(a *Applier) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.ChatEvent](value)
		if err != nil {
			a.logger.Error("failed to decode chat event",
				"error", err,
				"key", string(key),
			)
			a.countEvent("unknown", "malformed")
			return nil
		}

		if _, err := a.Apply(ctx, SourceKafka, []ingestion.ChatEvent{event}); err != nil {
			if status, skip := skipStatus(err); skip {
				a.logger.Warn("skipping chat event",
					"type", event.Type,
					"key", string(key),
					"reason", status,
					"error", err,
				)
				a.countEvent(string(event.Type), status)
				return nil
			}
			a.countEvent(string(event.Type), "error")
			return fmt.Errorf("applying %s event: %w", event.Type, err)
		}
		a.countEvent(string(event.Type), "applied")
		return nil
	}
}

// skipStatus reports whether err can never succeed on retry, and the metric
// status to record for it.
func skipStatus(err error) (string, bool) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid", true
	case errors.Is(err, apperrors.ErrNotConfigured):
		return "unsupported", true
	}
	return "", false
}

func (a *Applier) countEvent(eventType, status string) {
	if a.metrics != nil {
		a.metrics.SyncEventsTotal.WithLabelValues(eventType, status).Inc()
	}
}

// IndexConsumer drives HandleMessage from the chat-sync topic.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// Stats reports consumer progress, including lag behind the topic head.
func (ic *IndexConsumer) Stats() kafka.ConsumerStats {
	return ic.consumer.Stats()
}
