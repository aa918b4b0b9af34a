// Package validator checks document payloads before they reach the index and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
)

const (
	maxIDLength       = 255
	maxContentLength  = 1048576
	maxMetadataFields = 32
	maxBatchSize      = 1000
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// Unwrap classifies every validation failure as invalid input.
func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateDocument checks the id, content, kind and metadata of req.
func ValidateDocument(req *ingestion.DocumentRequest) error {
	errs := make(map[string]string)
	validateInto(errs, "", req)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateBatch validates every document of a batch. Field names are
// prefixed with the document's position, e.g. "documents[2].id". Duplicate
// ids inside one batch are allowed; the last one wins.
func ValidateBatch(req *ingestion.BatchRequest) error {
	errs := make(map[string]string)
	switch {
	case len(req.Documents) == 0:
		errs["documents"] = "at least one document is required"
	case len(req.Documents) > maxBatchSize:
		errs["documents"] = fmt.Sprintf("at most %d documents per batch", maxBatchSize)
	default:
		for i := range req.Documents {
			validateInto(errs, fmt.Sprintf("documents[%d].", i), &req.Documents[i])
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateEvent checks a chat-sync event. Upserts must carry a valid
// document; clear and resync carry nothing.
func ValidateEvent(event *ingestion.ChatEvent) error {
	errs := make(map[string]string)
	switch event.Type {
	case ingestion.EventUpsert:
		if event.Document == nil {
			errs["document"] = "document is required for upsert events"
		} else {
			validateInto(errs, "document.", event.Document)
		}
	case ingestion.EventClear, ingestion.EventResync:
	default:
		errs["type"] = fmt.Sprintf("type must be %q, %q or %q",
			ingestion.EventUpsert, ingestion.EventClear, ingestion.EventResync)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateInto(errs map[string]string, prefix string, req *ingestion.DocumentRequest) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		errs[prefix+"id"] = "id is required"
	} else if len(req.ID) > maxIDLength {
		errs[prefix+"id"] = fmt.Sprintf("id must be at most %d bytes", maxIDLength)
	}
	if !utf8.ValidString(req.Content) {
		errs[prefix+"content"] = "content must be valid UTF-8"
	} else if len(req.Content) > maxContentLength {
		errs[prefix+"content"] = fmt.Sprintf("content must be at most %d bytes", maxContentLength)
	}
	if _, err := document.ParseKind(req.Kind); err != nil {
		errs[prefix+"kind"] = fmt.Sprintf("kind must be %q or %q", document.KindMessage, document.KindChat)
	}
	if req.Metadata.Len() > maxMetadataFields {
		errs[prefix+"metadata"] = fmt.Sprintf("at most %d metadata fields", maxMetadataFields)
	}
	for _, f := range req.Metadata {
		if strings.TrimSpace(f.Key) == "" {
			errs[prefix+"metadata"] = "metadata keys must not be empty"
			break
		}
	}
}
