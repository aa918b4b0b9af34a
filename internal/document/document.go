// Package document defines the records held by the chat search index: chat
// messages and chat summaries, each carrying a small ordered bag of typed
// metadata.
package document

import (
	"fmt"
	"time"
)

// Kind distinguishes individual chat messages from whole-chat summaries.
type Kind string

const (
	KindMessage Kind = "message"
	KindChat    Kind = "chat"
)

// ParseKind converts a wire value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMessage, KindChat:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown document kind %q", s)
}

// Document is a single indexed unit. The index owns its copy; callers hand
// documents over by value and never mutate them afterwards.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// Clone returns a copy whose metadata does not alias d's.
func (d Document) Clone() Document {
	d.Metadata = d.Metadata.Clone()
	return d
}
