// Package engine is the narrow relational-store surface the flat indexer is
// written against. Concrete drivers live in pkg/db/postgres and pkg/db/sqlite.
//
// The interfaces mirror the subset of pgx that the indexer needs so the
// Postgres implementation is a thin pass-through, while database/sql based
// drivers adapt their *sql.Rows.
package engine

import (
	"context"
	"errors"
)

// ErrNoRows is returned by QueryScalar when the query produced no row.
var ErrNoRows = errors.New("engine: no rows in result set")

// Rows is a forward-only result cursor. Close must always be called.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Executor runs statements. Both a connection pool and an open transaction
// implement it, so helpers can work with either (same idea as the pgx
// Executor used by the postgres client).
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Dialect() Dialect
	// ConnID identifies the physical database. A transaction reports the ID of
	// the connection it was opened on.
	ConnID() string
}

// Tx is a database transaction.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a pooled connection to one database.
type Conn interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}

// SameDatabase reports whether a and b talk to the same physical database,
// i.e. whether a single INSERT ... SELECT can move rows between them.
func SameDatabase(a, b Executor) bool {
	return a.ConnID() != "" && a.ConnID() == b.ConnID()
}

// InTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func InTx(ctx context.Context, conn Conn, fn func(tx Tx) error) (err error) {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// QueryScalar runs a single-value query and scans the first row into dest.
func QueryScalar(ctx context.Context, ex Executor, dest any, query string, args ...any) error {
	rows, err := ex.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrNoRows
	}
	if err := rows.Scan(dest); err != nil {
		return err
	}
	return rows.Err()
}

// CollectUint64 runs a single-column query and returns every value.
func CollectUint64(ctx context.Context, ex Executor, query string, args ...any) ([]uint64, error) {
	rows, err := ex.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, uint64(v))
	}
	return out, rows.Err()
}
