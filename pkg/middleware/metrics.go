// Package middleware provides the HTTP middleware of the search service:
// request ids, Prometheus metrics, timeouts, per-client rate limiting and
// CORS.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
)

// Metrics counts requests and observes their latency per method and route.
// Document ids are collapsed into a single route label.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			rec := &statusRecorder{ResponseWriter: w}
			began := time.Now()
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				route := routeLabel(r.URL.Path)
				m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(began).Seconds())
				m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// statusRecorder remembers the first status code written.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// routeLabel maps a request path onto a bounded set of label values.
func routeLabel(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(segs) == 2 && segs[0] == "health":
		return path
	case len(segs) < 3 || len(segs) > 4 || segs[0] != "api" || segs[1] != "v1":
		return "other"
	case len(segs) == 4 && segs[2] == "documents" && segs[3] != "batch":
		return "/api/v1/documents/{id}"
	}
	return path
}
