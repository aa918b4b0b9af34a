// Package ingestion defines the payloads that feed documents into the index:
// the JSON bodies of the document endpoints and the chat-sync events read
// from Kafka.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
)

// DocumentRequest is the JSON body accepted by the document endpoints. An
// empty Timestamp defaults to the time of receipt.
type DocumentRequest struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Kind      string            `json:"kind"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  document.Metadata `json:"metadata,omitempty"`
}

// Document converts a validated request into a Document.
func (r DocumentRequest) Document(now time.Time) document.Document {
	ts := now.UTC()
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}
	return document.Document{
		ID:        r.ID,
		Content:   r.Content,
		Kind:      document.Kind(r.Kind),
		Timestamp: ts,
		Metadata:  r.Metadata,
	}
}

// BatchRequest is the body of the batch document endpoint.
type BatchRequest struct {
	Documents []DocumentRequest `json:"documents"`
}

// Statuses reported in AcceptedResponse.
const (
	StatusIndexed = "indexed"
	StatusQueued  = "queued"
)

// AcceptedResponse is returned by the write endpoints. Indexed documents are
// searchable when the response is sent; queued events are applied later by
// the chat-sync consumer.
type AcceptedResponse struct {
	Status   string   `json:"status"`
	Indexed  int      `json:"indexed"`
	Replaced int      `json:"replaced"`
	Queued   int      `json:"queued,omitempty"`
	IDs      []string `json:"ids,omitempty"`
}

// EventType names the action carried by a ChatEvent.
type EventType string

const (
	// EventUpsert adds or replaces Document.
	EventUpsert EventType = "upsert"
	// EventClear empties the index.
	EventClear EventType = "clear"
	// EventResync rebuilds the index from the history source.
	EventResync EventType = "resync"
)

// ChatEvent is the payload of the chat-sync topic, published whenever the
// chat history changes.
type ChatEvent struct {
	Type       EventType        `json:"type"`
	Document   *DocumentRequest `json:"document,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
