// Package tracing records lightweight in-process traces. A trace is started
// per request, spans opened below it share the trace through the context,
// and the finished trace is written as structured log lines.
package tracing

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

type traceKey struct{}

// trace collects every span opened under one root.
type trace struct {
	id    string
	mu    sync.Mutex
	spans []*Span
}

// Span is a timed operation. A detached span, opened outside any trace,
// records nothing.
type Span struct {
	Name   string
	ID     int
	Parent int

	trace *trace
	start time.Time
	end   time.Time
	attrs []slog.Attr
}

// StartTrace opens the root span of a new trace identified by traceID.
func StartTrace(ctx context.Context, traceID, name string) (context.Context, *Span) {
	t := &trace{id: traceID}
	return t.open(ctx, name, 0)
}

// Start opens a span under the current span of ctx. Outside a trace it
// returns a detached span and ctx unchanged.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	parent, ok := ctx.Value(traceKey{}).(*Span)
	if !ok || parent.trace == nil {
		return ctx, &Span{Name: name, start: time.Now()}
	}
	return parent.trace.open(ctx, name, parent.ID)
}

func (t *trace) open(ctx context.Context, name string, parent int) (context.Context, *Span) {
	t.mu.Lock()
	s := &Span{Name: name, ID: len(t.spans) + 1, Parent: parent, trace: t, start: time.Now()}
	t.spans = append(t.spans, s)
	t.mu.Unlock()
	return context.WithValue(ctx, traceKey{}, s), s
}

// TraceID returns the id of the span's trace, or "" for a detached span.
func (s *Span) TraceID() string {
	if s.trace == nil {
		return ""
	}
	return s.trace.id
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	if s.trace == nil {
		return
	}
	s.trace.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.trace.mu.Unlock()
}

// End marks the span finished. Only the first call counts.
func (s *Span) End() {
	if s.trace == nil {
		return
	}
	s.trace.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.trace.mu.Unlock()
}

// Duration is the time between start and End, or until now for an open span.
func (s *Span) Duration() time.Duration {
	if s.trace != nil {
		s.trace.mu.Lock()
		defer s.trace.mu.Unlock()
	}
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Record is a finished view of one span.
type Record struct {
	Name     string
	ID       int
	Parent   int
	Offset   time.Duration
	Duration time.Duration
	Attrs    []slog.Attr
}

// Records returns every span of the trace in the order they were opened,
// with offsets relative to the root's start.
func (s *Span) Records() []Record {
	if s.trace == nil {
		return nil
	}
	t := s.trace
	t.mu.Lock()
	defer t.mu.Unlock()
	origin := t.spans[0].start
	out := make([]Record, 0, len(t.spans))
	for _, sp := range t.spans {
		end := sp.end
		if end.IsZero() {
			end = time.Now()
		}
		out = append(out, Record{
			Name:     sp.Name,
			ID:       sp.ID,
			Parent:   sp.Parent,
			Offset:   sp.start.Sub(origin),
			Duration: end.Sub(sp.start),
			Attrs:    slices.Clone(sp.attrs),
		})
	}
	return out
}

// Log writes the trace at debug level, one line per span.
func (s *Span) Log(ctx context.Context, logger *slog.Logger) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for _, r := range s.Records() {
		attrs := append([]slog.Attr{
			slog.String("trace_id", s.TraceID()),
			slog.String("span", r.Name),
			slog.Int("span_id", r.ID),
			slog.Int("parent_id", r.Parent),
			slog.Float64("offset_ms", float64(r.Offset.Microseconds())/1000),
			slog.Float64("duration_ms", float64(r.Duration.Microseconds())/1000),
		}, r.Attrs...)
		logger.LogAttrs(ctx, slog.LevelDebug, "span", attrs...)
	}
}
