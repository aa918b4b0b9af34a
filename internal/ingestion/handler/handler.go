// Package handler serves the write side of the HTTP API: adding documents,
// clearing the index and triggering a resync from the chat history.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
)

// Sink applies or forwards chat-sync events. The index applier and the Kafka
// publisher both satisfy it.
type Sink interface {
	Submit(ctx context.Context, events []ingestion.ChatEvent) (ingestion.AcceptedResponse, error)
}

// DocumentGetter looks up a stored document by id.
type DocumentGetter interface {
	Get(id string) (document.Document, bool)
}

type Handler struct {
	sink         Sink
	docs         DocumentGetter
	maxBodyBytes int64
	logger       *slog.Logger
}

func New(sink Sink, docs DocumentGetter, maxBodyBytes int64) *Handler {
	return &Handler{
		sink:         sink,
		docs:         docs,
		maxBodyBytes: maxBodyBytes,
		logger:       slog.Default().With("component", "ingestion-handler"),
	}
}

// AddDocument serves POST /api/v1/documents.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestion.DocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.ValidateDocument(&req); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.submit(w, r, http.StatusAccepted, []ingestion.ChatEvent{upsert(&req)})
}

// AddDocuments serves POST /api/v1/documents/batch. The batch is applied
// atomically: searches see all of it or none of it.
func (h *Handler) AddDocuments(w http.ResponseWriter, r *http.Request) {
	var req ingestion.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validator.ValidateBatch(&req); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	events := make([]ingestion.ChatEvent, len(req.Documents))
	for i := range req.Documents {
		events[i] = upsert(&req.Documents[i])
	}
	h.submit(w, r, http.StatusAccepted, events)
}

// GetDocument serves GET /api/v1/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, ok := h.docs.Get(id)
	if !ok {
		h.writeFailure(w, r, apperrors.Newf(apperrors.ErrDocumentNotFound, "document %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// Clear serves DELETE /api/v1/index.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, http.StatusOK, []ingestion.ChatEvent{{Type: ingestion.EventClear}})
}

// Resync serves POST /api/v1/index/resync.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, http.StatusOK, []ingestion.ChatEvent{{Type: ingestion.EventResync}})
}

// submit hands events to the sink. Queued events always answer 202.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, status int, events []ingestion.ChatEvent) {
	resp, err := h.sink.Submit(r.Context(), events)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if resp.Status == ingestion.StatusQueued {
		status = http.StatusAccepted
	}
	h.logger.InfoContext(r.Context(), "index write accepted",
		"events", len(events),
		"status", resp.Status,
		"indexed", resp.Indexed,
		"replaced", resp.Replaced,
		"queued", resp.Queued,
	)
	h.writeJSON(w, status, resp)
}

func upsert(req *ingestion.DocumentRequest) ingestion.ChatEvent {
	return ingestion.ChatEvent{Type: ingestion.EventUpsert, Document: req}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, apperrors.Body{Error: "request body too large", Code: "body_too_large"})
			return false
		}
		h.writeFailure(w, r, apperrors.New(apperrors.ErrInvalidInput, "invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "index write failed",
			"error", err,
			"status_code", status,
		)
	}
	h.writeJSON(w, status, apperrors.BodyOf(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
