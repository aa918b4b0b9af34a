package analytics

import (
	"time"
)

// Sink forwards events beyond this process, e.g. to Kafka.
type Sink interface {
	Track(key string, value any)
}

// Collector is the entry point used by the HTTP handlers and the sync
// consumer. Every event is aggregated locally and, when a sink is set,
// forwarded to it.
type Collector struct {
	aggregator *Aggregator
	sink       Sink
}

func NewCollector(aggregator *Aggregator, sink Sink) *Collector {
	return &Collector{aggregator: aggregator, sink: sink}
}

func (c *Collector) TrackSearch(event SearchEvent) {
	if event.Type == "" {
		event.Type = EventSearch
	}
	c.aggregator.RecordSearch(event)
	if c.sink != nil {
		c.sink.Track(string(EventSearch), event)
	}
}

func (c *Collector) TrackIndex(event IndexEvent) {
	if event.Type == "" {
		event.Type = EventIndex
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c.aggregator.RecordIndex(event)
	if c.sink != nil {
		c.sink.Track(string(event.Type), event)
	}
}

// Aggregator returns the local aggregator.
func (c *Collector) Aggregator() *Aggregator {
	return c.aggregator
}
