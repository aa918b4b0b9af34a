// Package postgres opens the chat history database through lib/pq and
// provides small helpers for read-only snapshot queries.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/config"
)

const connectTimeout = 5 * time.Second

// Client wraps the connection pool. DB is exposed for packages that only
// need database/sql.
type Client struct {
	DB *sql.DB
}

// New builds a pool from cfg and checks that the server answers.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	connector, err := pq.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres settings: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres at %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// ReadSnapshot runs fn in a read-only repeatable-read transaction so that
// every query inside it sees the same database state. The transaction is
// always rolled back; nothing is written.
func (c *Client) ReadSnapshot(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("opening read snapshot: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// Permanent reports whether err is a server error that retrying will not
// fix: bad credentials, a missing table or column, or malformed SQL.
func Permanent(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "28", // invalid authorization
		"3D", // invalid catalog name
		"42": // syntax error or access rule violation
		return true
	}
	return false
}
