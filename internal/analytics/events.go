package analytics

import "time"

type EventType string

const (
	EventSearch EventType = "search"
	EventIndex  EventType = "index"
	EventClear  EventType = "clear"
	EventResync EventType = "resync"
)

// SearchEvent records one executed query.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	Kind      string    `json:"kind,omitempty"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexEvent records a change to the index. Count is the number of documents
// written; it is zero for clears.
type IndexEvent struct {
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Count     int       `json:"count"`
	Replaced  int       `json:"replaced"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSearchEvent stamps a SearchEvent with its type and the current time.
func NewSearchEvent(query string, terms []string, totalHits, returned int, latency time.Duration, cacheHit bool) SearchEvent {
	return SearchEvent{
		Type:      EventSearch,
		Query:     query,
		Terms:     terms,
		TotalHits: totalHits,
		Returned:  returned,
		LatencyMs: latency.Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
	}
}

// Snapshot is a persisted copy of the aggregate at a point in time.
type Snapshot struct {
	ID         int64           `json:"id"`
	CapturedAt time.Time       `json:"captured_at"`
	Stats      AggregatedStats `json:"stats"`
}
