// Package kafka provides the producer and consumer used for chat-sync and
// search analytics events, backed by segmentio/kafka-go. Events are JSON
// encoded; consumers hand raw messages to a MessageHandler.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/chat-search/pkg/config"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// MessageHandler processes one message. A non-nil error makes the consumer
// retry the same message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ConsumerOption customises a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	fromBeginning   bool
	handlerAttempts int
}

// FromBeginning makes a consumer group without committed offsets start at
// the oldest retained message instead of the newest.
func FromBeginning() ConsumerOption {
	return func(o *consumerOptions) { o.fromBeginning = true }
}

// HandlerAttempts bounds how often a failing message is retried before it is
// committed and skipped. Zero or less retries until the context ends, which
// stalls the partition behind the failing message.
func HandlerAttempts(n int) ConsumerOption {
	return func(o *consumerOptions) { o.handlerAttempts = n }
}

// ConsumerStats counts messages since start.
type ConsumerStats struct {
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Skipped   int64 `json:"skipped"`
	Lag       int64 `json:"lag"`
}

// Consumer reads one topic as part of a consumer group and commits each
// message after its handler succeeds. Messages of a partition are handled
// strictly in order.
type Consumer struct {
	reader   *kafka.Reader
	handler  MessageHandler
	attempts int
	logger   *slog.Logger

	processed atomic.Int64
	retried   atomic.Int64
	skipped   atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{handlerAttempts: 5}
	for _, opt := range opts {
		opt(&o)
	}
	start := kafka.LastOffset
	if o.fromBeginning {
		start = kafka.FirstOffset
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: start,
		}),
		handler:  handler,
		attempts: o.handlerAttempts,
		logger:   slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start consumes until ctx is cancelled, then closes the reader. Fetch
// failures back off exponentially.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "group", c.reader.Config().GroupID)
	backoff := minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			c.logger.Error("failed to fetch message", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return c.reader.Close()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		if err := c.handle(ctx, msg); err != nil {
			c.logger.Info("consumer stopping", "reason", err)
			return c.reader.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// handle runs the handler until it succeeds or the attempts run out. It
// returns an error only when ctx ended first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	backoff := minBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		if err == nil {
			c.processed.Add(1)
			return nil
		}
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset, "attempt", attempt)
		if c.attempts > 0 && attempt >= c.attempts {
			c.skipped.Add(1)
			log.Error("giving up on message", "error", err)
			return nil
		}
		c.retried.Add(1)
		log.Warn("failed to process message, retrying", "error", err, "retry_in", backoff)
		if !sleep(ctx, backoff) {
			return fmt.Errorf("abandoning message at offset %d: %w", msg.Offset, ctx.Err())
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed: c.processed.Load(),
		Retried:   c.retried.Load(),
		Skipped:   c.skipped.Load(),
		Lag:       c.reader.Lag(),
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
