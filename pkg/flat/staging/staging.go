// Package staging names, fills, and swaps the offline copies of flat tables.
//
// A rebuild writes into a staging table next to the live one and then moves
// the rows over inside a single transaction on the live connection. Readers
// of the live table see either the old or the new contents.
package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/db/engine"
	"github.com/canopy-network/flatx/pkg/flat"
	"github.com/canopy-network/flatx/pkg/utils"
)

// DefaultBatchSize bounds the rows held in memory by a cross-database copy.
const DefaultBatchSize = 2000

// Kind selects the staging table of a flat table.
type Kind int

const (
	// Incremental is routine and partial work (suffix _tmp).
	Incremental Kind = iota
	// FullRebuild is a from-scratch rebuild (suffix _idx).
	FullRebuild
)

func (k Kind) String() string {
	if k == FullRebuild {
		return "full"
	}
	return "incremental"
}

// Other returns the opposite kind.
func (k Kind) Other() Kind {
	if k == FullRebuild {
		return Incremental
	}
	return FullRebuild
}

// TableName returns the staging table for base and kind.
//
//	TableName("catalog_product_flat_1", FullRebuild) // "catalog_product_flat_1_idx"
func TableName(base string, kind Kind) string {
	if kind == FullRebuild {
		return base + "_idx"
	}
	return base + "_tmp"
}

// Engine moves rows between staging and live tables.
type Engine struct {
	Logger *zap.Logger
	// BatchSize is the number of rows per read batch of a cross-database
	// copy. Zero means DefaultBatchSize.
	BatchSize int
}

// New returns an Engine with the given batch size.
func New(logger *zap.Logger, batchSize int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{Logger: logger, BatchSize: batchSize}
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return e.BatchSize
}

// ClearStaging removes every row of a staging table.
func (e *Engine) ClearStaging(ctx context.Context, ex engine.Executor, table string) error {
	n, err := engine.ClearTable(ctx, ex, table)
	if err != nil {
		return err
	}
	e.Logger.Debug("staging cleared", zap.String("table", table), zap.Int64("rows", n))
	return nil
}

// DisableKeys applies the dialect's bulk-load hint, if it has one.
func (e *Engine) DisableKeys(ctx context.Context, ex engine.Executor, table string) error {
	return e.hint(ctx, ex, ex.Dialect().DisableKeys(table), table)
}

// EnableKeys reverts DisableKeys.
func (e *Engine) EnableKeys(ctx context.Context, ex engine.Executor, table string) error {
	return e.hint(ctx, ex, ex.Dialect().EnableKeys(table), table)
}

func (e *Engine) hint(ctx context.Context, ex engine.Executor, stmt, table string) error {
	if stmt == "" {
		return nil
	}
	if _, err := ex.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("key hint on %s: %w", table, err)
	}
	return nil
}

// CopyBetween copies every row of srcTable into dstTable using the columns
// both tables have. When src and dst are the same database the copy is one
// INSERT ... SELECT run on dst; otherwise rows are read in batches and
// written with multi-row inserts. It returns the number of rows copied.
func (e *Engine) CopyBetween(ctx context.Context, src engine.Executor, srcTable string, dst engine.Executor, dstTable string) (int64, error) {
	same := engine.SameDatabase(src, dst)
	if same {
		// dst may be a transaction holding the only connection, so everything
		// runs through it.
		src = dst
	}

	cols, err := sharedColumns(ctx, src, srcTable, dst, dstTable)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("copy %s -> %s: no common columns", srcTable, dstTable)
	}

	start := time.Now()
	var n int64
	if same {
		list := engine.QuoteAll(cols)
		n, err = dst.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			engine.Quote(dstTable), list, list, engine.Quote(srcTable)))
		if err != nil {
			return 0, fmt.Errorf("copy %s -> %s: %w", srcTable, dstTable, err)
		}
	} else {
		n, err = e.copyBatched(ctx, src, srcTable, dst, dstTable, cols)
		if err != nil {
			return n, err
		}
	}

	e.Logger.Debug("rows copied",
		zap.String("from", srcTable),
		zap.String("to", dstTable),
		zap.Int64("rows", n),
		zap.Bool("sameDatabase", same),
		zap.Duration("duration", time.Since(start)))
	return n, nil
}

// sharedColumns returns the columns of dstTable that srcTable also has, in
// dst order.
func sharedColumns(ctx context.Context, src engine.Executor, srcTable string, dst engine.Executor, dstTable string) ([]string, error) {
	srcCols, err := engine.ColumnNames(ctx, src, srcTable)
	if err != nil {
		return nil, err
	}
	dstCols, err := engine.ColumnNames(ctx, dst, dstTable)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(srcCols))
	for _, c := range srcCols {
		have[c] = struct{}{}
	}
	out := make([]string, 0, len(dstCols))
	for _, c := range dstCols {
		if _, ok := have[c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) copyBatched(ctx context.Context, src engine.Executor, srcTable string, dst engine.Executor, dstTable string, cols []string) (int64, error) {
	// Rows are read in full batches before any write so src and dst never
	// need two cursors open at once. Batches are paged by the key in cols[0].
	perStmt := max(1, min(e.batchSize(), dst.Dialect().MaxParams()/len(cols)))
	list := engine.QuoteAll(cols)
	key := engine.Quote(cols[0])

	var (
		total int64
		last  any
	)
	for {
		p := engine.NewParams(src.Dialect())
		where := ""
		if last != nil {
			where = fmt.Sprintf(" WHERE %s > %s", key, p.Add(last))
		}
		query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT %d",
			list, engine.Quote(srcTable), where, key, e.batchSize())
		batch, err := readBatch(ctx, src, query, len(cols), p.Args()...)
		if err != nil {
			return total, fmt.Errorf("copy %s -> %s: read: %w", srcTable, dstTable, err)
		}
		for start := 0; start < len(batch); start += perStmt {
			chunk := batch[start:min(start+perStmt, len(batch))]
			n, err := insertRows(ctx, dst, dstTable, list, chunk)
			if err != nil {
				return total, fmt.Errorf("copy %s -> %s: write: %w", srcTable, dstTable, err)
			}
			total += n
		}
		if len(batch) < e.batchSize() {
			return total, nil
		}
		last = batch[len(batch)-1][0]
	}
}

func readBatch(ctx context.Context, ex engine.Executor, query string, width int, args ...any) ([][]any, error) {
	rows, err := ex.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, width)
		ptrs := make([]any, width)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func insertRows(ctx context.Context, ex engine.Executor, table, list string, rows [][]any) (int64, error) {
	p := engine.NewParams(ex.Dialect())
	tuples := make([]string, len(rows))
	for i, row := range rows {
		tuples[i] = "(" + engine.List(p, row) + ")"
	}
	return ex.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		engine.Quote(table), list, strings.Join(tuples, ", ")), p.Args()...)
}

// AtomicSwap replaces every row of liveTable with the rows of stagingTable in
// one transaction on live. On failure the transaction is rolled back and a
// *flat.TransactionError is returned; the live table is unchanged.
func (e *Engine) AtomicSwap(ctx context.Context, src engine.Executor, stagingTable string, live engine.Conn, liveTable string) (int64, error) {
	var copied int64
	err := engine.InTx(ctx, live, func(tx engine.Tx) error {
		if _, err := engine.ClearTable(ctx, tx, liveTable); err != nil {
			return err
		}
		n, err := e.CopyBetween(ctx, src, stagingTable, tx, liveTable)
		if err != nil {
			return err
		}
		copied = n
		return nil
	})
	if err != nil {
		e.Logger.Error("swap rolled back",
			zap.String("staging", stagingTable),
			zap.String("live", liveTable),
			zap.Error(err))
		return 0, &flat.TransactionError{Table: liveTable, Err: err}
	}
	e.Logger.Info("staging swapped into live table",
		zap.String("staging", stagingTable),
		zap.String("live", liveTable),
		zap.Int64("rows", copied))
	return copied, nil
}

// ReplaceRows deletes the rows of liveTable whose idColumn is in ids and
// copies the staging rows in, in one transaction on live. It is the
// row-scoped variant of AtomicSwap used by incremental refreshes.
func (e *Engine) ReplaceRows(ctx context.Context, src engine.Executor, stagingTable string, live engine.Conn, liveTable, idColumn string, ids []uint64) (int64, error) {
	var copied int64
	err := engine.InTx(ctx, live, func(tx engine.Tx) error {
		if _, err := DeleteIDs(ctx, tx, liveTable, idColumn, ids); err != nil {
			return err
		}
		n, err := e.CopyBetween(ctx, src, stagingTable, tx, liveTable)
		if err != nil {
			return err
		}
		copied = n
		return nil
	})
	if err != nil {
		return 0, &flat.TransactionError{Table: liveTable, Err: err}
	}
	return copied, nil
}

// DeleteIDs removes rows by id in chunks that fit the dialect's bind limit.
func DeleteIDs(ctx context.Context, ex engine.Executor, table, idColumn string, ids []uint64) (int64, error) {
	var total int64
	for _, chunk := range utils.Chunk(ids, max(1, ex.Dialect().MaxParams()-16)) {
		p := engine.NewParams(ex.Dialect())
		n, err := ex.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			engine.Quote(table), engine.Quote(idColumn), engine.List(p, toInt64(chunk))), p.Args()...)
		if err != nil {
			return total, fmt.Errorf("delete from %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

func toInt64(ids []uint64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
