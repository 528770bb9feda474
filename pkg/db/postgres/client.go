package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/retry"
)

// Querier is what both *pgxpool.Pool and pgx.Tx provide.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Client wraps a PostgreSQL connection pool and implements engine.Conn.
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
	id     string
}

// PoolConfig defines connection pool settings for a specific component
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string // For logging/debugging
}

// DefaultPoolConfig suits the indexer: one writer plus a handful of status readers.
func DefaultPoolConfig(component string) PoolConfig {
	return PoolConfig{
		MinConns:        1,
		MaxConns:        8,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		Component:       component,
	}
}

// New connects to url with retries and returns a ready client.
func New(ctx context.Context, logger *zap.Logger, url string, poolConf PoolConfig) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	config, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime

	client := &Client{Logger: logger}
	retryErr := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}
		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}
		client.Pool = pool
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	client.id = fmt.Sprintf("postgres:%s:%d/%s#%s",
		config.ConnConfig.Host, config.ConnConfig.Port, config.ConnConfig.Database, uuid.NewString())

	logger.Info("PostgreSQL connection pool configured",
		zap.String("database", config.ConnConfig.Database),
		zap.String("component", poolConf.Component),
		zap.Int32("min_conns", poolConf.MinConns),
		zap.Int32("max_conns", poolConf.MaxConns),
	)

	return client, nil
}

// Exec executes a statement and returns the affected row count.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, c.Pool, query, args...)
}

// Query executes a query that returns rows.
// IMPORTANT: Caller MUST call rows.Close() when done to release the connection
func (c *Client) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	return c.Pool.Query(ctx, query, args...)
}

// Dialect returns the Postgres dialect.
func (c *Client) Dialect() engine.Dialect { return Dialect{} }

// ConnID identifies the pool.
func (c *Client) ConnID() string { return c.id }

// Begin starts a new transaction
func (c *Client) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, id: c.id}, nil
}

// Ping checks the pool.
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close closes the connection pool
func (c *Client) Close() error {
	c.Pool.Close()
	return nil
}

// Tx is an open pgx transaction.
type Tx struct {
	tx pgx.Tx
	id string
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, query, args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	return t.tx.Query(ctx, query, args...)
}

func (t *Tx) Dialect() engine.Dialect { return Dialect{} }

func (t *Tx) ConnID() string { return t.id }

func (t *Tx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func execOn(ctx context.Context, q Querier, query string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
