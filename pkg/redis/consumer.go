package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Streams is the subset of Client a StreamConsumer reads through.
type Streams interface {
	XRead(ctx context.Context, streams []string, lastIDs []string, count int64, block time.Duration) ([]redis.XStream, error)
	XReadGroup(ctx context.Context, group, consumer string, streams []string, lastIDs []string, count int64, block time.Duration) ([]redis.XStream, error)
	XAck(ctx context.Context, stream, group string, ids ...string) (int64, error)
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) error
}

var _ Streams = (*Client)(nil)

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name. Empty means plain XREAD.
	Group string

	// Consumer is the consumer name within the group. Required if Group is set.
	Consumer string

	// LastID is the starting position of a plain reader:
	//   - "0" = read from beginning
	//   - "$" = read only new messages
	//   - "<id>" = read after specific ID (e.g., "1234567890123-0")
	// Default: "0"
	LastID string

	// Count is the max number of entries to read per batch. Default: 100.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is how long to wait before retrying after an error.
	// Default: 1 second, doubled up to MaxRetryInterval (default 30 seconds).
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger *zap.Logger
}

// MessageHandler processes a stream message. Returning nil acknowledges it
// in group mode; an error leaves it pending.
type MessageHandler func(ctx context.Context, msg Message) error

// Message represents a single stream entry.
type Message struct {
	// ID is the Redis stream entry ID (e.g., "1234567890123-0").
	ID     string
	Stream string
	Values map[string]any
}

// StreamConsumer consumes a Redis stream with reconnection and optional
// consumer group support.
type StreamConsumer struct {
	client Streams
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client Streams, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if config.Group != "" && config.Consumer == "" {
		return nil, errors.New("consumer name is required when using consumer groups")
	}

	if config.LastID == "" {
		config.LastID = "0"
	}
	if config.Count == 0 {
		config.Count = 100
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{
		client: client,
		config: config,
		logger: logger.With(zap.String("stream", config.Stream)),
	}, nil
}

// Run calls handler for each message until ctx is cancelled.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	if sc.config.Group != "" {
		if err := sc.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "0"); err != nil {
			return err
		}
		sc.logger.Info("Consumer group ready",
			zap.String("group", sc.config.Group),
			zap.String("consumer", sc.config.Consumer))
	}

	lastID := sc.config.LastID
	retryInterval := sc.config.RetryInterval

	for {
		if err := ctx.Err(); err != nil {
			sc.logger.Info("Stream consumer shutting down", zap.String("group", sc.config.Group))
			return err
		}

		messages, newLastID, err := sc.readMessages(ctx, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				// Block timed out without entries.
				continue
			}

			sc.logger.Warn("Error reading from stream, will retry",
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))

			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		if sc.config.Group == "" && newLastID != "" {
			lastID = newLastID
		}

		for _, msg := range messages {
			if err := sc.processMessage(ctx, handler, msg); err != nil {
				sc.logger.Error("Error processing message", zap.String("id", msg.ID), zap.Error(err))
			}
		}
	}
}

func (sc *StreamConsumer) readMessages(ctx context.Context, lastID string) ([]Message, string, error) {
	var (
		streams []redis.XStream
		err     error
	)
	if sc.config.Group != "" {
		streams, err = sc.client.XReadGroup(ctx, sc.config.Group, sc.config.Consumer,
			[]string{sc.config.Stream}, []string{">"}, sc.config.Count, sc.config.Block)
	} else {
		streams, err = sc.client.XRead(ctx,
			[]string{sc.config.Stream}, []string{lastID}, sc.config.Count, sc.config.Block)
	}
	if err != nil {
		return nil, "", err
	}

	var (
		messages  []Message
		newLastID string
	)
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			messages = append(messages, Message{ID: xmsg.ID, Stream: stream.Stream, Values: xmsg.Values})
			newLastID = xmsg.ID
		}
	}
	return messages, newLastID, nil
}

func (sc *StreamConsumer) processMessage(ctx context.Context, handler MessageHandler, msg Message) error {
	if err := handler(ctx, msg); err != nil {
		return err
	}
	if sc.config.Group != "" {
		if _, err := sc.client.XAck(ctx, sc.config.Stream, sc.config.Group, msg.ID); err != nil {
			sc.logger.Warn("Failed to acknowledge message", zap.String("id", msg.ID), zap.Error(err))
		}
	}
	return nil
}

// GetString returns a string field, or "" when missing.
func (m *Message) GetString(field string) string {
	switch v := m.Values[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// GetData returns the "data" field, or nil when missing.
func (m *Message) GetData() []byte {
	if s := m.GetString("data"); s != "" {
		return []byte(s)
	}
	return nil
}
