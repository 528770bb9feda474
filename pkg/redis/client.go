package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/retry"
	"github.com/canopy-network/flatx/pkg/utils"
)

// DefaultStreamMaxLen caps each event stream.
const DefaultStreamMaxLen = 10000

// Client wraps the Redis client used for the event stream and the flag store.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64 // 0 = unlimited
}

// Options configures NewClient. Zero values are read from the environment:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: 0)
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
type Options struct {
	Addr         string
	Password     string
	DB           int
	StreamMaxLen int64
}

// OptionsFromEnv reads Options from REDIS_* variables.
func OptionsFromEnv() Options {
	return Options{
		Addr:         fmt.Sprintf("%s:%s", utils.Env("REDIS_HOST", "localhost"), utils.Env("REDIS_PORT", "6379")),
		Password:     utils.Env("REDIS_PASSWORD", ""),
		DB:           utils.EnvInt("REDIS_DB", 0),
		StreamMaxLen: utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen),
	}
}

// NewClient connects to Redis, retrying the first ping with backoff.
func NewClient(ctx context.Context, logger *zap.Logger, opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.WithBackoff(ctx, retry.DefaultConfig(), logger, "redis ping", func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", opts.Addr),
		zap.Int("db", opts.DB),
		zap.Int64("streamMaxLen", opts.StreamMaxLen))

	return &Client{client: rdb, logger: logger, streamMaxLen: opts.StreamMaxLen}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient returns the underlying Redis client, e.g. for the flag store.
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// XAdd appends an entry to stream, trimming it to the configured length.
// Returns the entry ID (e.g., "1234567890123-0").
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}
	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// XRead reads entries from streams after the matching lastIDs.
// Use "0" to read from the beginning, "$" to read only new entries.
func (c *Client) XRead(ctx context.Context, streams []string, lastIDs []string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XRead(ctx, &redis.XReadArgs{
		Streams: streamArgs(streams, lastIDs),
		Count:   count,
		Block:   block,
	}).Result()
}

// XReadGroup reads entries through a consumer group.
// Use ">" as lastID to read only new (undelivered) entries, "0" for pending ones.
func (c *Client) XReadGroup(ctx context.Context, group, consumer string, streams []string, lastIDs []string, count int64, block time.Duration) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  streamArgs(streams, lastIDs),
		Count:    count,
		Block:    block,
	}).Result()
}

// streamArgs interleaves names and ids the way XREAD expects:
// STREAMS s1 s2 id1 id2.
func streamArgs(streams, lastIDs []string) []string {
	out := make([]string, 0, len(streams)+len(lastIDs))
	out = append(out, streams...)
	return append(out, lastIDs...)
}

// XAck acknowledges processed entries.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	return c.client.XAck(ctx, stream, group, ids...).Result()
}

// XGroupCreateMkStream creates a consumer group and the stream if missing.
// An existing group is not an error.
func (c *Client) XGroupCreateMkStream(ctx context.Context, stream, group, start string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	if isBusyGroup(err) {
		return nil
	}
	return err
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// XLen returns the number of entries in a stream.
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}
