package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chat-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

// Rebuilder is the part of *indexer.Engine the syncer drives.
type Rebuilder interface {
	Rebuild(docs []document.Document)
	Stats() indexer.Stats
}

// Syncer rebuilds the index from a Loader. Concurrent Resync calls share a
// single load.
type Syncer struct {
	loader  Loader
	index   Rebuilder
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	timeout time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSyncer(loader Loader, idx Rebuilder, cfg config.SyncConfig, m *metrics.Metrics) *Syncer {
	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		ResetTimeout:     cfg.BreakerReset,
	}
	if m != nil {
		breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	s := &Syncer{
		loader:  loader,
		index:   idx,
		breaker: resilience.NewCircuitBreaker("chat-history", breakerCfg),
		timeout: cfg.LoadTimeout,
		metrics: m,
		logger:  slog.Default().With("component", "history-syncer"),
	}
	s.retry = resilience.RetryConfig{
		Name:         "load-chat-history",
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryBaseDelay,
		MaxDelay:     cfg.RetryMaxDelay,
		OnRetry:      func(int, error) { s.count("retry") },
	}
	return s
}

// Resync loads the full history and replaces the index with it, returning
// the number of documents indexed. On failure the index is left untouched.
// An open circuit is reported as ErrUnavailable.
func (s *Syncer) Resync(ctx context.Context) (int, error) {
	ch := s.group.DoChan("resync", func() (any, error) {
		return s.resync(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Syncer) resync(ctx context.Context) (int, error) {
	start := time.Now()
	var docs []document.Document
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context, _ int) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			loaded, err := resilience.CallWithTimeout(ctx, s.timeout, "loading chat history", s.loader.Load)
			if err != nil {
				return err
			}
			docs = loaded
			return nil
		})
	})
	if err != nil {
		s.count("failure")
		s.logger.Error("resync failed", "error", err, "breaker", s.breaker.State().String())
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return 0, apperrors.New(apperrors.ErrUnavailable, "chat history source unavailable")
		}
		return 0, fmt.Errorf("loading documents for resync: %w", err)
	}

	s.index.Rebuild(docs)
	s.count("success")
	stats := s.index.Stats()
	if s.metrics != nil {
		s.metrics.SetIndexSize(stats.Documents, stats.Terms)
	}
	s.logger.Info("index resynced",
		"documents", stats.Documents,
		"terms", stats.Terms,
		"duration", time.Since(start),
	)
	return stats.Documents, nil
}

// BreakerState reports the state of the history source circuit breaker.
func (s *Syncer) BreakerState() resilience.State {
	return s.breaker.State()
}

// Health reports the history source as down while its circuit is open and
// degraded while a probe is pending.
func (s *Syncer) Health(ctx context.Context) health.ComponentHealth {
	snap := s.breaker.Snapshot()
	msg := fmt.Sprintf("circuit %s, %d consecutive failures", snap.StateName, snap.ConsecutiveFailures)
	switch snap.State {
	case resilience.StateOpen:
		return health.ComponentHealth{Status: health.StatusDown, Message: msg}
	case resilience.StateHalfOpen:
		return health.ComponentHealth{Status: health.StatusDegraded, Message: msg}
	}
	return health.ComponentHealth{Status: health.StatusUp, Message: msg}
}

func (s *Syncer) count(status string) {
	if s.metrics != nil {
		s.metrics.IndexResyncsTotal.WithLabelValues(status).Inc()
	}
}
