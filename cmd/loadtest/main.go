// Command loadtest seeds the chat search service with synthetic chats and
// drives a mixed search workload against it.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8080] [-chats 200] [-duration 30s]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/ingestion"
)

type options struct {
	baseURL         string
	workers         int
	duration        time.Duration
	chats           int
	messagesPerChat int
	seedWorkers     int
}

var topics = []string{
	"deploying the kafka consumer to staging",
	"why the redis cache returns stale results",
	"postgres migration for the chat history table",
	"tuning tf-idf scoring for short queries",
	"highlighting matches inside long assistant replies",
	"pagination bugs when sorting by timestamp",
	"rate limiting the public search endpoint",
	"rebuilding the index after a failed resync",
}

var queries = []string{
	"kafka consumer",
	"redis cache stale",
	"postgres migration",
	"tf-idf scoring",
	"highlighting matches",
	"pagination timestamp",
	"rate limiting",
	"resync index",
	"assistant replies",
	"chat history",
}

// scenario is one shape of search request.
type scenario struct {
	name   string
	params func(url.Values)
}

var scenarios = []scenario{
	{"relevance", func(url.Values) {}},
	{"kind=message", func(v url.Values) { v.Set("kind", "message") }},
	{"date desc", func(v url.Values) {
		v.Set("sort", "date")
		v.Set("order", "desc")
	}},
	{"role=assistant", func(v url.Values) { v.Set("meta.role", "assistant") }},
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the chat search service")
	flag.IntVar(&opts.workers, "concurrency", 10, "concurrent search workers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "length of the search phase")
	flag.IntVar(&opts.chats, "chats", 200, "synthetic chats to seed before the run (0 skips seeding)")
	flag.IntVar(&opts.messagesPerChat, "messages", 20, "messages per seeded chat")
	flag.IntVar(&opts.seedWorkers, "seed-concurrency", 4, "concurrent batch uploads while seeding")
	flag.Parse()

	fmt.Printf("chat search load test against %s: %d workers for %s\n\n", opts.baseURL, opts.workers, opts.duration)

	ctx := context.Background()
	if opts.chats > 0 {
		began := time.Now()
		n, err := seed(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("seeded %d documents in %s\n\n", n, time.Since(began).Round(time.Millisecond))
	}

	rec := run(ctx, opts)
	if !rec.report(os.Stdout, opts.duration) {
		fmt.Fprintln(os.Stderr, "no request succeeded; is the service running?")
		os.Exit(1)
	}
}

// chatBatch builds one chat summary followed by its messages.
func chatBatch(n, messages int, at time.Time) ingestion.BatchRequest {
	chatID := uuid.NewString()
	topic := topics[n%len(topics)]
	docs := make([]ingestion.DocumentRequest, 0, messages+1)
	docs = append(docs, ingestion.DocumentRequest{
		ID:        "chat-" + chatID,
		Content:   fmt.Sprintf("Chat %d\n\nA conversation about %s.", n, topic),
		Kind:      string(document.KindChat),
		Timestamp: &at,
	})
	for i := range messages {
		ts := at.Add(time.Duration(i) * time.Minute)
		role := []string{"user", "assistant"}[i%2]
		doc := ingestion.DocumentRequest{
			ID:        fmt.Sprintf("msg-%s-%d", chatID, i),
			Content:   fmt.Sprintf("%s message %d: %s", role, i, topics[rand.IntN(len(topics))]),
			Kind:      string(document.KindMessage),
			Timestamp: &ts,
		}
		doc.Metadata.Set("chatId", document.String(chatID))
		doc.Metadata.Set("role", document.String(role))
		docs = append(docs, doc)
	}
	return ingestion.BatchRequest{Documents: docs}
}

func seed(ctx context.Context, opts options) (int, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	origin := time.Now().Add(-time.Duration(opts.chats) * time.Hour).UTC()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.seedWorkers, 1))
	for c := range opts.chats {
		g.Go(func() error {
			batch := chatBatch(c, opts.messagesPerChat, origin.Add(time.Duration(c)*time.Hour))
			return postBatch(ctx, client, opts.baseURL, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return opts.chats * (opts.messagesPerChat + 1), nil
}

func postBatch(ctx context.Context, client *http.Client, baseURL string, batch ingestion.BatchRequest) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/documents/batch", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("posting batch: status %d", resp.StatusCode)
	}
	return nil
}

func searchRequest(ctx context.Context, baseURL string, n int) (*http.Request, string, error) {
	sc := scenarios[n%len(scenarios)]
	params := url.Values{"q": {queries[n%len(queries)]}, "limit": {"10"}}
	sc.params(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/search?"+params.Encode(), nil)
	return req, sc.name, err
}

func run(ctx context.Context, opts options) *recorder {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.workers * 2,
			MaxIdleConnsPerHost: opts.workers * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	rec := newRecorder()
	var wg sync.WaitGroup
	for w := range opts.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := w; ctx.Err() == nil; n += opts.workers {
				req, name, err := searchRequest(ctx, opts.baseURL, n)
				if err != nil {
					rec.fail(name)
					continue
				}
				began := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if !errors.Is(err, context.DeadlineExceeded) {
						rec.fail(name)
					}
					continue
				}
				var body struct {
					TotalHits int `json:"total_hits"`
				}
				json.NewDecoder(resp.Body).Decode(&body)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				rec.observe(name, resp.StatusCode, time.Since(began), body.TotalHits)
			}
		}()
	}
	wg.Wait()
	return rec
}

// recorder accumulates per-scenario results from all workers.
type recorder struct {
	mu        sync.Mutex
	scenarios map[string]*tally
	statuses  map[int]int
}

type tally struct {
	ok, failed int
	hits       int
	latencies  []time.Duration
}

func newRecorder() *recorder {
	return &recorder{scenarios: make(map[string]*tally), statuses: make(map[int]int)}
}

func (r *recorder) get(name string) *tally {
	t, ok := r.scenarios[name]
	if !ok {
		t = &tally{}
		r.scenarios[name] = t
	}
	return t
}

func (r *recorder) fail(name string) {
	r.mu.Lock()
	r.get(name).failed++
	r.mu.Unlock()
}

func (r *recorder) observe(name string, status int, latency time.Duration, hits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status]++
	t := r.get(name)
	if status/100 != 2 {
		t.failed++
		return
	}
	t.ok++
	t.hits += hits
	t.latencies = append(t.latencies, latency)
}

// report prints a per-scenario table and returns whether anything succeeded.
func (r *recorder) report(w io.Writer, elapsed time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "scenario\tok\tfailed\treq/s\tavg hits\tp50\tp95\tp99\tmax\t")
	var all tally
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		t := r.scenarios[name]
		writeRow(tw, name, t, elapsed)
		all.ok += t.ok
		all.failed += t.failed
		all.hits += t.hits
		all.latencies = append(all.latencies, t.latencies...)
	}
	writeRow(tw, "total", &all, elapsed)
	tw.Flush()

	codes := make([]int, 0, len(r.statuses))
	for code := range r.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	fmt.Fprint(w, "\nstatus codes:")
	for _, code := range codes {
		fmt.Fprintf(w, " %d=%d", code, r.statuses[code])
	}
	fmt.Fprintln(w)
	return all.ok > 0
}

func writeRow(w io.Writer, name string, t *tally, elapsed time.Duration) {
	slices.Sort(t.latencies)
	avgHits := 0.0
	if t.ok > 0 {
		avgHits = float64(t.hits) / float64(t.ok)
	}
	fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\t%s\t%s\t%s\t%s\t\n",
		name, t.ok, t.failed,
		float64(t.ok+t.failed)/elapsed.Seconds(),
		avgHits,
		quantile(t.latencies, 0.50),
		quantile(t.latencies, 0.95),
		quantile(t.latencies, 0.99),
		quantile(t.latencies, 1),
	)
}

// quantile uses the nearest-rank method on sorted latencies.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.5) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)].Round(10 * time.Microsecond)
}
