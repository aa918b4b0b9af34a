package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/ranker"
)

// BenchmarkQueryParse measures query parsing latency for queries of varying
// length.
func BenchmarkQueryParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"single", "redis"},
		{"pair", "kafka consumer"},
		{"punctuated", "why's the cache stale?!"},
		{"long", "deploy staging kafka consumer redis cache postgres migration resync highlight snippet"},
	}

	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = parser.Parse(q.query, parser.Options{Limit: 10})
			}
		})
	}
}

// BenchmarkTFIDFScoring measures summing two-term TF-IDF scores for
// different candidate counts.
func BenchmarkTFIDFScoring(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, numDocs := range sizes {
		b.Run(fmt.Sprintf("docs_%d", numDocs), func(b *testing.B) {
			freqs := make([]map[string]int, numDocs)
			for i := range freqs {
				freqs[i] = map[string]int{"redis": i%5 + 1, "cache": i%3 + 1}
			}
			scores := make([]float64, numDocs)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				for d, tf := range freqs {
					scores[d] = ranker.Contribution(tf["redis"], 20, numDocs*2, numDocs) +
						ranker.Contribution(tf["cache"], 20, numDocs*2, numDocs/2)
				}
			}
		})
	}
}

// BenchmarkHighlight measures snippet extraction over content of increasing
// length.
func BenchmarkHighlight(b *testing.B) {
	h := highlight.New(highlight.DefaultContext)
	terms := []string{"redis", "cache"}
	for _, reps := range []int{1, 10, 100} {
		content := strings.Repeat("the Redis cache returned stale results after the deploy. ", reps)
		b.Run(fmt.Sprintf("reps_%d", reps), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(content)))
			for i := 0; i < b.N; i++ {
				_ = h.Highlight(content, terms)
			}
		})
	}
}

// BenchmarkExecutor runs full queries against engines of increasing size.
func BenchmarkExecutor(b *testing.B) {
	plans := map[string]*parser.QueryPlan{
		"relevance": parser.Parse("redis cache", parser.Options{Limit: 10}),
		"date_sort": parser.Parse("redis cache", parser.Options{Limit: 10, SortBy: parser.SortDate}),
		"filtered": parser.Parse("redis cache", parser.Options{
			Limit:    10,
			Kind:     document.KindMessage,
			Metadata: document.Metadata{{Key: "role", Value: document.String("assistant")}},
		}),
	}
	for _, size := range []int{1000, 10000} {
		engine := indexer.NewEngine()
		engine.AddDocuments(chatCorpus(size))
		exec := executor.New(engine, highlight.DefaultContext)
		for name, plan := range plans {
			b.Run(fmt.Sprintf("%s_docs_%d", name, size), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := exec.Execute(context.Background(), plan); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkExecutorParallel measures concurrent search throughput while a
// writer keeps replacing documents.
func BenchmarkExecutorParallel(b *testing.B) {
	engine := indexer.NewEngine()
	corpus := chatCorpus(5000)
	engine.AddDocuments(corpus)
	exec := executor.New(engine, highlight.DefaultContext)
	plan := parser.Parse("kafka consumer", parser.Options{Limit: 10})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				engine.AddDocument(corpus[i%len(corpus)])
			}
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := exec.Execute(context.Background(), plan); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()
	close(stop)
	<-done
}
