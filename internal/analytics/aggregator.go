package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/kafka"
)

const (
	defaultLatencyWindow = 10000
	// maxTrackedQueries caps the number of distinct queries counted.
	maxTrackedQueries = 10000
	topQueriesLimit   = 10
)

// AggregatedStats is the JSON document served by GET /api/v1/analytics and
// persisted as a snapshot.
type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	EmptyQueries      int64            `json:"empty_queries"`
	SearchesByKind    map[string]int64 `json:"searches_by_kind"`
	TotalDocsIndexed  int64            `json:"total_docs_indexed"`
	TotalReplaced     int64            `json:"total_replaced"`
	TotalClears       int64            `json:"total_clears"`
	TotalResyncs      int64            `json:"total_resyncs"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
	Since             time.Time        `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running search and indexing statistics in memory. Latency
// percentiles cover the most recent window of searches.
type Aggregator struct {
	mu       sync.Mutex
	stats    AggregatedStats
	latency  *latencyWindow
	queries  queryCounter
	zeroHits queryCounter
	now      func() time.Time
	logger   *slog.Logger
}

func NewAggregator(window int) *Aggregator {
	if window <= 0 {
		window = defaultLatencyWindow
	}
	now := time.Now
	return &Aggregator{
		stats: AggregatedStats{
			SearchesByKind: make(map[string]int64),
			Since:          now().UTC(),
		},
		latency:  newLatencyWindow(window),
		queries:  make(queryCounter),
		zeroHits: make(queryCounter),
		now:      now,
		logger:   slog.Default().With("component", "analytics-aggregator"),
	}
}

// RecordSearch folds a search event into the running totals. Queries with
// no terms are counted separately and never enter the latency window.
func (a *Aggregator) RecordSearch(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSearches++
	if len(event.Terms) == 0 {
		a.stats.EmptyQueries++
		return
	}
	kind := event.Kind
	if kind == "" {
		kind = "any"
	}
	a.stats.SearchesByKind[kind]++
	if event.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	a.latency.add(event.LatencyMs)

	key := strings.Join(event.Terms, " ")
	a.queries.add(key)
	if event.TotalHits == 0 {
		a.stats.ZeroResultCount++
		a.zeroHits.add(key)
	}
}

// RecordIndex folds an index event into the running totals.
func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Type {
	case EventClear:
		a.stats.TotalClears++
	case EventResync:
		a.stats.TotalResyncs++
		a.stats.TotalDocsIndexed += int64(event.Count)
	default:
		a.stats.TotalDocsIndexed += int64(event.Count)
		a.stats.TotalReplaced += int64(event.Replaced)
	}
}

// Restore seeds the running totals from a persisted aggregate so counters
// continue across restarts. Latency samples and query rankings are not
// restored.
func (a *Aggregator) Restore(prev AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.TotalSearches += prev.TotalSearches
	a.stats.EmptyQueries += prev.EmptyQueries
	a.stats.TotalDocsIndexed += prev.TotalDocsIndexed
	a.stats.TotalReplaced += prev.TotalReplaced
	a.stats.TotalClears += prev.TotalClears
	a.stats.TotalResyncs += prev.TotalResyncs
	a.stats.CacheHits += prev.CacheHits
	a.stats.CacheMisses += prev.CacheMisses
	a.stats.ZeroResultCount += prev.ZeroResultCount
	for kind, n := range prev.SearchesByKind {
		a.stats.SearchesByKind[kind] += n
	}
	if !prev.Since.IsZero() && prev.Since.Before(a.stats.Since) {
		a.stats.Since = prev.Since
	}
}

// Stats returns a copy of the current totals with derived figures filled in.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.stats
	stats.SearchesByKind = make(map[string]int64, len(a.stats.SearchesByKind))
	for k, v := range a.stats.SearchesByKind {
		stats.SearchesByKind[k] = v
	}
	if sorted := a.latency.sorted(); len(sorted) > 0 {
		var sum int64
		for _, ms := range sorted {
			sum += ms
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queries, topQueriesLimit)
	stats.ZeroResultQueries = topN(a.zeroHits, topQueriesLimit)
	if minutes := a.now().Sub(stats.Since).Minutes(); minutes > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / minutes
	}
	return stats
}

// HandleEvent returns a Kafka MessageHandler that feeds events from the
// analytics topic into agg. Undecodable messages are logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var head struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &head); err != nil {
			agg.logger.Error("dropping undecodable analytics event", "error", err)
			return nil
		}
		switch head.Type {
		case EventSearch:
			if event, err := kafka.DecodeJSON[SearchEvent](value); err == nil {
				agg.RecordSearch(event)
			} else {
				agg.logger.Error("dropping malformed search event", "error", err)
			}
		case EventIndex, EventClear, EventResync:
			if event, err := kafka.DecodeJSON[IndexEvent](value); err == nil {
				agg.RecordIndex(event)
			} else {
				agg.logger.Error("dropping malformed index event", "error", err)
			}
		default:
			agg.logger.Warn("ignoring analytics event", "type", head.Type)
		}
		return nil
	}
}

// latencyWindow is a fixed-size ring of the most recent search latencies.
type latencyWindow struct {
	samples []int64
	next    int
	size    int
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]int64, 0, min(size, 1024)), size: size}
}

func (w *latencyWindow) add(ms int64) {
	if len(w.samples) < w.size {
		w.samples = append(w.samples, ms)
		return
	}
	w.samples[w.next] = ms
	w.next = (w.next + 1) % w.size
}

func (w *latencyWindow) sorted() []int64 {
	out := slices.Clone(w.samples)
	slices.Sort(out)
	return out
}

// queryCounter counts normalized queries up to maxTrackedQueries distinct
// keys; new keys beyond that are dropped.
type queryCounter map[string]int64

func (c queryCounter) add(key string) {
	if _, seen := c[key]; !seen && len(c) >= maxTrackedQueries {
		return
	}
	c[key]++
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(pct*len(sorted)/100, len(sorted)-1)]
}

// topN returns the n most frequent queries, ties broken alphabetically.
func topN(counts map[string]int64, n int) []QueryCount {
	out := make([]QueryCount, 0, len(counts))
	for q, c := range counts {
		out = append(out, QueryCount{Query: q, Count: c})
	}
	slices.SortFunc(out, func(a, b QueryCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Query, b.Query)
	})
	return out[:min(n, len(out))]
}
