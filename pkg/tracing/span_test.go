package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTraceRecordsSpans(t *testing.T) {
	ctx, root := StartTrace(context.Background(), "req-1", "GET /api/v1/search")
	childCtx, child := Start(ctx, "executor.execute")
	_, grandchild := Start(childCtx, "executor.score")
	grandchild.SetAttr("candidates", 2)
	grandchild.End()
	child.End()
	root.End()

	if grandchild.TraceID() != "req-1" {
		t.Errorf("trace id = %q", grandchild.TraceID())
	}
	records := root.Records()
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	wantParents := map[string]int{"GET /api/v1/search": 0, "executor.execute": 1, "executor.score": 2}
	for _, r := range records {
		if r.Parent != wantParents[r.Name] {
			t.Errorf("%s parent = %d, want %d", r.Name, r.Parent, wantParents[r.Name])
		}
	}
	if attrs := records[2].Attrs; len(attrs) != 1 || attrs[0].Key != "candidates" || attrs[0].Value.Int64() != 2 {
		t.Errorf("score attrs = %v", attrs)
	}
}

func TestLogWritesOneLinePerSpan(t *testing.T) {
	ctx, root := StartTrace(context.Background(), "req-2", "POST /api/v1/search")
	_, child := Start(ctx, "cache.get")
	child.End()
	root.End()

	var buf bytes.Buffer
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if n := strings.Count(buf.String(), "msg=span"); n != 2 {
		t.Errorf("logged %d spans, want 2:\n%s", n, buf.String())
	}

	buf.Reset()
	root.Log(ctx, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	if buf.Len() != 0 {
		t.Errorf("logged at info level: %s", buf.String())
	}
}

func TestDetachedSpan(t *testing.T) {
	ctx := context.Background()
	got, span := Start(ctx, "orphan")
	if got != ctx {
		t.Error("detached span changed the context")
	}
	span.SetAttr("k", "v")
	span.End()
	if span.TraceID() != "" || span.Records() != nil {
		t.Errorf("detached span recorded data: %q %v", span.TraceID(), span.Records())
	}
	if span.Duration() < 0 {
		t.Errorf("Duration = %v", span.Duration())
	}
}
