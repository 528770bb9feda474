// Package sqlite is the embedded engine.Conn implementation. It backs local
// development and the test suites, and can serve small single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/db/engine"
)

// Client wraps a SQLite database handle.
type Client struct {
	Logger *zap.Logger
	DB     *sql.DB
	Path   string
	id     string
}

// Open creates or opens the database at path. ":memory:" is accepted but each
// Client then has its own private database.
//
// The database is configured with:
//   - WAL mode so readers see the last committed swap while a rebuild writes
//   - a single open connection, SQLite allows one writer anyway
//   - a 5-second busy timeout
func Open(ctx context.Context, logger *zap.Logger, path string) (*Client, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("SQLite database opened", zap.String("path", path))

	return &Client{
		Logger: logger,
		DB:     db,
		Path:   path,
		id:     "sqlite:" + path + "#" + uuid.NewString(),
	}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Exec executes a statement and returns the affected row count.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, c.DB, query, args...)
}

// Query executes a query. The caller must close the returned rows.
func (c *Client) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows, logger: c.Logger}, nil
}

// Dialect returns the SQLite dialect.
func (c *Client) Dialect() engine.Dialect { return Dialect{} }

// ConnID identifies this database handle.
func (c *Client) ConnID() string { return c.id }

// Begin starts a transaction.
func (c *Client) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, parent: c}, nil
}

// Ping verifies the handle is usable.
func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// Close closes the handle.
func (c *Client) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// Tx is an open SQLite transaction.
type Tx struct {
	tx     *sql.Tx
	parent *Client
}

func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, query, args...)
}

func (t *Tx) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows, logger: t.parent.Logger}, nil
}

func (t *Tx) Dialect() engine.Dialect { return Dialect{} }

func (t *Tx) ConnID() string { return t.parent.id }

func (t *Tx) Commit(context.Context) error { return t.tx.Commit() }

func (t *Tx) Rollback(context.Context) error { return t.tx.Rollback() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execOn(ctx context.Context, ex execer, query string, args ...any) (int64, error) {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// DDL statements have no meaningful count.
		return 0, nil
	}
	return n, nil
}

// sqlRows adapts *sql.Rows, whose Close returns an error, to engine.Rows.
type sqlRows struct {
	*sql.Rows
	logger *zap.Logger
}

func (r *sqlRows) Close() {
	if err := r.Rows.Close(); err != nil {
		r.logger.Warn("failed to close rows", zap.Error(err))
	}
}
