// Package handler serves the read side of the HTTP API: search, index
// statistics and the query cache endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/middleware"
)

// statusClientClosedRequest is written when the client went away before the
// search finished, following the nginx convention.
const statusClientClosedRequest = 499

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan) (*executor.SearchResult, error)
}

// IndexInfo exposes index size and generation. *indexer.Engine satisfies it.
type IndexInfo interface {
	Stats() indexer.Stats
	Generation() uint64
}

// SearchTracker receives search analytics events.
type SearchTracker interface {
	TrackSearch(event analytics.SearchEvent)
}

// Limits bound what a single search may return. A zero DefaultLimit returns
// every hit; a zero MaxResults disables clamping.
type Limits struct {
	DefaultLimit int
	MaxResults   int
	QueryTimeout time.Duration
}

type Handler struct {
	executor SearchExecutor
	index    IndexInfo
	cache    *cache.QueryCache
	tracker  SearchTracker
	metrics  *metrics.Metrics
	limits   Limits
	logger   *slog.Logger
}

// New builds a Handler. queryCache, tracker and m may be nil.
func New(exec SearchExecutor, idx IndexInfo, queryCache *cache.QueryCache, tracker SearchTracker, m *metrics.Metrics, limits Limits) *Handler {
	return &Handler{
		executor: exec,
		index:    idx,
		cache:    queryCache,
		tracker:  tracker,
		metrics:  m,
		limits:   limits,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Search serves GET /api/v1/search. Metadata filters arrive as meta.<key>
// parameters and always compare as strings.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	plan, err := parser.FromValues(r.URL.Query())
	if err != nil {
		h.writeFailure(w, r, apperrors.New(apperrors.ErrInvalidQuery, err.Error()))
		return
	}
	h.search(w, r, plan)
}

// SearchJSON serves POST /api/v1/search, where metadata filter values keep
// their JSON types.
func (h *Handler) SearchJSON(w http.ResponseWriter, r *http.Request) {
	var req parser.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, r, apperrors.New(apperrors.ErrInvalidInput, "invalid JSON body: "+err.Error()))
		return
	}
	if req.Limit < 0 || req.Offset < 0 {
		h.writeFailure(w, r, apperrors.New(apperrors.ErrInvalidQuery, "limit and offset must be non-negative"))
		return
	}
	plan, err := parser.FromRequest(req)
	if err != nil {
		h.writeFailure(w, r, apperrors.New(apperrors.ErrInvalidQuery, err.Error()))
		return
	}
	h.search(w, r, plan)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, plan *parser.QueryPlan) {
	start := time.Now()
	ctx := r.Context()
	h.applyLimits(plan)

	ctx, cancel := h.withQueryTimeout(ctx)
	defer cancel()

	var (
		result   *executor.SearchResult
		cacheHit bool
		err      error
	)
	cached := h.cache != nil && len(plan.Terms) > 0
	if cached {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, h.index.Generation(), plan, func(ctx context.Context) (*executor.SearchResult, error) {
			ctx, cancel := h.withQueryTimeout(ctx)
			defer cancel()
			return h.executor.Execute(ctx, plan)
		})
	} else {
		result, err = h.executor.Execute(ctx, plan)
	}
	latency := time.Since(start)

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.observe(metrics.ResultCancelled, "", latency, 0)
		h.logger.InfoContext(r.Context(), "search cancelled by client", "query", plan.RawQuery)
		w.WriteHeader(statusClientClosedRequest)
		return
	}
	if err != nil {
		h.observe(metrics.ResultError, "", latency, 0)
		h.logger.ErrorContext(r.Context(), "search execution failed", "query", plan.RawQuery, "error", err)
		h.writeFailure(w, r, err)
		return
	}
	if result.Results == nil {
		result.Results = []executor.Result{}
	}

	cacheStatus := "none"
	if cached {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	h.observe(resultType(plan, result, cacheHit), cacheStatus, latency, result.TotalHits)

	if h.tracker != nil {
		event := analytics.NewSearchEvent(plan.RawQuery, plan.Terms, result.TotalHits, len(result.Results), latency, cacheHit)
		event.Kind = string(plan.Options.Kind)
		event.RequestID = middleware.GetRequestID(ctx)
		h.tracker.TrackSearch(event)
	}

	h.logger.InfoContext(r.Context(), "search completed",
		"query", plan.RawQuery,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// withQueryTimeout bounds ctx by the configured query timeout, if any.
func (h *Handler) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.limits.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.limits.QueryTimeout)
}

// applyLimits fills in the default page size and clamps it to MaxResults.
func (h *Handler) applyLimits(plan *parser.QueryPlan) {
	if plan.Options.Limit == 0 {
		plan.Options.Limit = h.limits.DefaultLimit
	}
	if maxResults := h.limits.MaxResults; maxResults > 0 && (plan.Options.Limit == 0 || plan.Options.Limit > maxResults) {
		plan.Options.Limit = maxResults
	}
}

func resultType(plan *parser.QueryPlan, result *executor.SearchResult, cacheHit bool) string {
	switch {
	case len(plan.Terms) == 0:
		return metrics.ResultEmptyQuery
	case result.TotalHits == 0:
		return metrics.ResultZero
	case cacheHit:
		return metrics.ResultHit
	default:
		return metrics.ResultMiss
	}
}

func (h *Handler) observe(resultType, cacheStatus string, latency time.Duration, totalHits int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	if resultType == metrics.ResultError || resultType == metrics.ResultCancelled || resultType == metrics.ResultEmptyQuery {
		return
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(totalHits))
	switch cacheStatus {
	case "hit":
		h.metrics.CacheHitsTotal.Inc()
	case "miss":
		h.metrics.CacheMissesTotal.Inc()
	}
}

// IndexStats serves GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.index.Stats())
}

// CacheStats serves GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "enabled",
		"stats":  h.cache.Stats(),
	})
}

// CacheInvalidate serves POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeFailure(w, r, apperrors.New(apperrors.ErrNotConfigured, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "cache invalidation failed", "error", err)
		h.writeFailure(w, r, apperrors.New(apperrors.ErrUnavailable, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "invalidated",
		"keys_deleted": deleted,
	})
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "error", err, "status_code", status)
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
