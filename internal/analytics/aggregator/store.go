// Package aggregator persists periodic snapshots of search analytics to
// PostgreSQL so that totals survive restarts.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/analytics"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_search_snapshots (
    id                 BIGSERIAL PRIMARY KEY,
    captured_at        TIMESTAMPTZ NOT NULL,
    total_searches     BIGINT NOT NULL,
    total_docs_indexed BIGINT NOT NULL,
    stats              JSONB NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS chat_search_snapshots_captured_at_idx
    ON chat_search_snapshots (captured_at DESC)`,
}

const (
	insertSnapshot = `INSERT INTO chat_search_snapshots (captured_at, total_searches, total_docs_indexed, stats)
VALUES ($1, $2, $3, $4)`
	selectSnapshots = `SELECT id, captured_at, stats FROM chat_search_snapshots
ORDER BY captured_at DESC, id DESC LIMIT $1`
)

// finalSaveTimeout bounds the snapshot written on shutdown.
const finalSaveTimeout = 5 * time.Second

// DB is the subset of *sql.DB used by Store.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// StatsSource yields the stats to snapshot. *analytics.Aggregator satisfies it.
type StatsSource interface {
	Stats() analytics.AggregatedStats
}

type Store struct {
	db     DB
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(db DB) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// EnsureSchema creates the snapshot table and its index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("preparing snapshot schema: %w", err)
		}
	}
	return nil
}

// SaveSnapshot stores stats stamped with the current time.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertSnapshot,
		s.now().UTC(), stats.TotalSearches, stats.TotalDocsIndexed, payload,
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	s.logger.Debug("analytics snapshot stored",
		"total_searches", stats.TotalSearches,
		"total_docs_indexed", stats.TotalDocsIndexed,
	)
	return nil
}

// Latest returns the newest snapshot. ok is false when none exists.
func (s *Store) Latest(ctx context.Context) (snap analytics.Snapshot, ok bool, err error) {
	list, err := s.ListSnapshots(ctx, 1)
	if err != nil || len(list) == 0 {
		return analytics.Snapshot{}, false, err
	}
	return list[0], true, nil
}

// ListSnapshots returns up to limit snapshots, newest first. Rows whose
// payload no longer decodes are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectSnapshots, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.Snapshot
	for rows.Next() {
		var (
			snap    analytics.Snapshot
			payload []byte
		)
		if err := rows.Scan(&snap.ID, &snap.CapturedAt, &payload); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		if err := json.Unmarshal(payload, &snap.Stats); err != nil {
			s.logger.Warn("skipping undecodable snapshot", "id", snap.ID, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// StartPeriodicSave snapshots src every interval until ctx is cancelled,
// then writes one final snapshot. The returned channel closes once the
// final snapshot is done.
func (s *Store) StartPeriodicSave(ctx context.Context, src StatsSource, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.persist(ctx, src, "periodic")
			case <-ctx.Done():
				finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
				s.persist(finalCtx, src, "final")
				cancel()
				return
			}
		}
	}()
	s.logger.Info("snapshotting analytics", "interval", interval)
	return done
}

func (s *Store) persist(ctx context.Context, src StatsSource, reason string) {
	if err := s.SaveSnapshot(ctx, src.Stats()); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("analytics snapshot failed", "reason", reason, "error", err)
	}
}
