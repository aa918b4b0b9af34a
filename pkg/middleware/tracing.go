package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/tracing"
)

// Trace opens a root span per request, keyed by the request id, and logs the
// span tree when the request completes. It must run inside RequestID.
func Trace(next http.Handler) http.Handler {
	logger := slog.Default().With("component", "tracing")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartTrace(r.Context(), GetRequestID(r.Context()), r.Method+" "+r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
		span.End()
		span.Log(ctx, logger)
	})
}
