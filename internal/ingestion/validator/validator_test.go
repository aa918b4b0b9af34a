package validator

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
)

func TestValidateDocument(t *testing.T) {
	var emptyKey document.Metadata
	emptyKey.Set(" ", document.String("x"))

	tests := []struct {
		name    string
		req     ingestion.DocumentRequest
		field   string
		wantErr bool
	}{
		{"valid message", ingestion.DocumentRequest{ID: "m1", Content: "hi", Kind: "message"}, "", false},
		{"valid chat with empty content", ingestion.DocumentRequest{ID: "c1", Kind: "chat"}, "", false},
		{"missing id", ingestion.DocumentRequest{ID: "  ", Content: "hi", Kind: "message"}, "id", true},
		{"long id", ingestion.DocumentRequest{ID: strings.Repeat("x", 256), Kind: "chat"}, "id", true},
		{"unknown kind", ingestion.DocumentRequest{ID: "m1", Kind: "note"}, "kind", true},
		{"missing kind", ingestion.DocumentRequest{ID: "m1"}, "kind", true},
		{"invalid utf8", ingestion.DocumentRequest{ID: "m1", Kind: "message", Content: "\xff\xfe"}, "content", true},
		{"empty metadata key", ingestion.DocumentRequest{ID: "m1", Kind: "message", Metadata: emptyKey}, "metadata", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err %T is not a ValidationError", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want %q", ve.Fields, tt.field)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	err := ValidateBatch(&ingestion.BatchRequest{})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["documents"] == "" {
		t.Fatalf("empty batch: %v", err)
	}

	err = ValidateBatch(&ingestion.BatchRequest{Documents: []ingestion.DocumentRequest{
		{ID: "ok", Kind: "chat"},
		{ID: "", Kind: "message"},
	}})
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := ve.Fields["documents[1].id"]; !ok || len(ve.Fields) != 1 {
		t.Errorf("fields = %v", ve.Fields)
	}

	dupes := &ingestion.BatchRequest{Documents: []ingestion.DocumentRequest{
		{ID: "same", Kind: "chat"},
		{ID: "same", Kind: "chat"},
	}}
	if err := ValidateBatch(dupes); err != nil {
		t.Errorf("duplicate ids rejected: %v", err)
	}
}

func TestValidationErrorIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"kind": "bad", "id": "missing"}}
	if got := err.Error(); got != "id: missing; kind: bad" {
		t.Errorf("Error() = %q", got)
	}
}

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name      string
		event     ingestion.ChatEvent
		wantField string
	}{
		{"upsert", ingestion.ChatEvent{Type: ingestion.EventUpsert, Document: &ingestion.DocumentRequest{ID: "m1", Kind: "message"}}, ""},
		{"clear", ingestion.ChatEvent{Type: ingestion.EventClear}, ""},
		{"resync", ingestion.ChatEvent{Type: ingestion.EventResync}, ""},
		{"upsert without document", ingestion.ChatEvent{Type: ingestion.EventUpsert}, "document"},
		{"upsert with bad kind", ingestion.ChatEvent{Type: ingestion.EventUpsert, Document: &ingestion.DocumentRequest{ID: "m1", Kind: "note"}}, "document.kind"},
		{"unknown type", ingestion.ChatEvent{Type: "delete"}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(&tt.event)
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if _, ok := ve.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q", ve.Fields, tt.wantField)
			}
		})
	}
}

func TestValidationErrorIsInvalidInput(t *testing.T) {
	err := ValidateDocument(&ingestion.DocumentRequest{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("errors.Is(%v, ErrInvalidInput) = false", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", got)
	}
}
