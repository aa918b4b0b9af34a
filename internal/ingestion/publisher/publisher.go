// Package publisher forwards document writes to the chat-sync topic. In kafka
// ingestion mode the document endpoints hand events to a Publisher and the
// index consumer applies them.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
)

// partitionKey is shared by every event so the topic keeps a single total
// order; a clear must never overtake the upserts sent before it.
const partitionKey = "chat-index"

// Producer writes a batch of events. *kafka.Producer satisfies it.
type Producer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Publisher struct {
	producer Producer
	now      func() time.Time
	logger   *slog.Logger
}

func New(producer Producer) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Submit validates events, stamps them and publishes them in one write. The
// response reports them as queued.
func (p *Publisher) Submit(ctx context.Context, events []ingestion.ChatEvent) (ingestion.AcceptedResponse, error) {
	resp := ingestion.AcceptedResponse{Status: ingestion.StatusQueued}
	now := p.now().UTC()
	batch := make([]kafka.Event, 0, len(events))
	for i := range events {
		event := events[i]
		if err := validator.ValidateEvent(&event); err != nil {
			return resp, fmt.Errorf("event %d: %w", i, err)
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = now
		}
		if event.Type == ingestion.EventUpsert {
			doc := *event.Document
			if doc.Timestamp == nil {
				doc.Timestamp = &now
			}
			event.Document = &doc
			resp.IDs = append(resp.IDs, doc.ID)
		}
		batch = append(batch, kafka.Event{
			Key:     partitionKey,
			Value:   event,
			Headers: map[string]string{kafka.HeaderEventType: string(event.Type)},
		})
	}

	if err := p.producer.PublishBatch(ctx, batch); err != nil {
		p.logger.Error("failed to publish chat events",
			"count", len(batch),
			"error", err,
		)
		return resp, fmt.Errorf("publishing chat events: %w",
			apperrors.New(apperrors.ErrUnavailable, "chat sync topic unavailable"))
	}
	resp.Queued = len(batch)
	p.logger.Debug("chat events queued", "count", len(batch))
	return resp, nil
}
