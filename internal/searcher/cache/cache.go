// Package cache stores search results in Redis. Keys hash the index
// generation together with the normalised query plan, so any mutation of the
// index makes earlier entries unreachable without an explicit flush.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/searcher/parser"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "chatsearch:q:"

// Backend is the subset of the Redis client used by the cache.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Stats reports cache effectiveness since start.
type Stats struct {
	Hits   int64   `json:"hits"`
	Misses int64   `json:"misses"`
	Errors int64   `json:"errors"`
	Ratio  float64 `json:"hit_ratio"`
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

func New(backend Backend, ttl time.Duration) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached result for plan at the given index generation.
// Backend failures are logged and reported as misses.
func (c *QueryCache) Get(ctx context.Context, generation uint64, plan *parser.QueryPlan) (*executor.SearchResult, bool) {
	key := Key(generation, plan)
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.errors.Add(1)
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.errors.Add(1)
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", plan.RawQuery, "key", key)
	result.Query = plan.RawQuery
	return &result, true
}

// Set stores result for plan at the given generation.
func (c *QueryCache) Set(ctx context.Context, generation uint64, plan *parser.QueryPlan, result *executor.SearchResult) {
	key := Key(generation, plan)
	data, err := json.Marshal(result)
	if err != nil {
		c.errors.Add(1)
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.errors.Add(1)
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result or runs compute, storing its output.
// Concurrent misses for the same key share one computation. compute receives
// a context that keeps ctx's values but not its cancellation or deadline, so
// one caller going away does not fail the others waiting on the same key;
// compute applies its own deadline. Each caller stops waiting when its own
// ctx is done. The boolean reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	generation uint64,
	plan *parser.QueryPlan,
	compute func(ctx context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, generation, plan); ok {
		return result, true, nil
	}
	key := Key(generation, plan)
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		result, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Set(detached, generation, plan, result)
		return result, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		result := *res.Val.(*executor.SearchResult)
		result.Query = plan.RawQuery
		return &result, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.backend.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.Ratio = float64(s.Hits) / float64(total)
	}
	return s
}

// Key derives the cache key of plan at generation. Plans that always produce
// the same results map to the same key: term order is irrelevant to scoring
// and highlighting, and metadata filters are compared as a set.
func Key(generation uint64, plan *parser.QueryPlan) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(generation, 10))

	terms := append([]string(nil), plan.Terms...)
	sort.Strings(terms)
	b.WriteString("|t=")
	b.WriteString(strings.Join(terms, ","))

	opts := plan.Options
	b.WriteString("|k=")
	b.WriteString(string(opts.Kind))
	b.WriteString("|from=")
	writeBound(&b, opts.From)
	b.WriteString("|to=")
	writeBound(&b, opts.To)

	fields := make([]string, 0, opts.Metadata.Len())
	for _, f := range opts.Metadata {
		fields = append(fields, f.Key+"="+f.Value.Type().String()+":"+f.Value.String())
	}
	sort.Strings(fields)
	b.WriteString("|m=")
	b.WriteString(strings.Join(fields, "&"))

	fmt.Fprintf(&b, "|l=%d|o=%d|s=%s|d=%s", opts.Limit, opts.Offset, opts.SortBy, opts.SortOrder)
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func writeBound(b *strings.Builder, bound *parser.Bound) {
	switch {
	case bound == nil:
	case bound.Invalid:
		b.WriteString("invalid")
	default:
		b.WriteString(strconv.FormatInt(bound.At.UnixNano(), 10))
	}
}
