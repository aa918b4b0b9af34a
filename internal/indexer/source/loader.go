// Package source rebuilds the index from the chat history database. A
// Loader reads every message and chat summary in one consistent snapshot;
// the Syncer retries the load behind a circuit breaker and swaps the result
// into the engine atomically.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chat-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/resilience"
)

// Loader returns every document the index should hold.
type Loader interface {
	Load(ctx context.Context) ([]document.Document, error)
}

const (
	messagesQuery = `SELECT m.id, m.chat_id, m.role, m.content, m.created_at, COALESCE(c.title, '')
FROM chat_messages m
LEFT JOIN chats c ON c.id = m.chat_id
ORDER BY m.created_at, m.id`

	chatsQuery = `SELECT id, COALESCE(title, ''), COALESCE(summary, ''), updated_at
FROM chats
ORDER BY updated_at, id`
)

// MessageRow is one row of chat_messages joined with its chat title.
type MessageRow struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	CreatedAt time.Time
	ChatTitle string
}

// Document converts the row into a message document carrying chatId, role
// and title metadata.
func (r MessageRow) Document() document.Document {
	var md document.Metadata
	md.Set("chatId", document.String(r.ChatID))
	if r.Role != "" {
		md.Set("role", document.String(r.Role))
	}
	if r.ChatTitle != "" {
		md.Set("title", document.String(r.ChatTitle))
	}
	return document.Document{
		ID:        r.ID,
		Content:   r.Content,
		Kind:      document.KindMessage,
		Timestamp: r.CreatedAt.UTC(),
		Metadata:  md,
	}
}

// ChatRow is one row of chats.
type ChatRow struct {
	ID        string
	Title     string
	Summary   string
	UpdatedAt time.Time
}

// Document converts the row into a chat document whose content is the title
// followed by the summary.
func (r ChatRow) Document() document.Document {
	content := strings.TrimSpace(r.Title)
	if summary := strings.TrimSpace(r.Summary); summary != "" {
		if content != "" {
			content += "\n\n"
		}
		content += summary
	}
	var md document.Metadata
	md.Set("chatId", document.String(r.ID))
	if r.Title != "" {
		md.Set("title", document.String(r.Title))
	}
	return document.Document{
		ID:        r.ID,
		Content:   content,
		Kind:      document.KindChat,
		Timestamp: r.UpdatedAt.UTC(),
		Metadata:  md,
	}
}

// PostgresLoader reads chat_messages and chats inside one read-only
// repeatable-read transaction.
type PostgresLoader struct {
	db *postgres.Client
}

func NewPostgresLoader(db *postgres.Client) *PostgresLoader {
	return &PostgresLoader{db: db}
}

func (l *PostgresLoader) Load(ctx context.Context) ([]document.Document, error) {
	var docs []document.Document
	err := l.db.ReadSnapshot(ctx, func(tx *sql.Tx) error {
		messages, err := loadMessages(ctx, tx)
		if err != nil {
			return err
		}
		chats, err := loadChats(ctx, tx)
		if err != nil {
			return err
		}
		docs = make([]document.Document, 0, len(messages)+len(chats))
		for _, m := range messages {
			docs = append(docs, m.Document())
		}
		for _, c := range chats {
			docs = append(docs, c.Document())
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("loading chat history: %w", err)
		if postgres.Permanent(err) {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}
	return docs, nil
}

func loadMessages(ctx context.Context, tx *sql.Tx) ([]MessageRow, error) {
	rows, err := tx.QueryContext(ctx, messagesQuery)
	if err != nil {
		return nil, fmt.Errorf("querying chat messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var r MessageRow
		var role sql.NullString
		if err := rows.Scan(&r.ID, &r.ChatID, &role, &r.Content, &r.CreatedAt, &r.ChatTitle); err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		r.Role = role.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return out, nil
}

func loadChats(ctx context.Context, tx *sql.Tx) ([]ChatRow, error) {
	rows, err := tx.QueryContext(ctx, chatsQuery)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var out []ChatRow
	for rows.Next() {
		var r ChatRow
		if err := rows.Scan(&r.ID, &r.Title, &r.Summary, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}
	return out, nil
}
