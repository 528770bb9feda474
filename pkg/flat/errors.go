// Package flat holds what the flat index packages share: the error taxonomy
// and the named locks callers use to serialize rebuilds.
package flat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotAvailable means the indexer is disabled by configuration.
	// Operations return nil instead of surfacing it.
	ErrNotAvailable = errors.New("flat index is not available")
	// ErrNotBuilt means no complete rebuild has happened yet. Incremental
	// hooks return nil instead of surfacing it.
	ErrNotBuilt = errors.New("flat index is not built")
)

// SchemaDriftError reports that a staging table's columns no longer match
// the columns the current eligibility asks for.
type SchemaDriftError struct {
	Table   string
	Missing []string
	Extra   []string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("schema drift on %s: missing [%s] extra [%s]",
		e.Table, strings.Join(e.Missing, ", "), strings.Join(e.Extra, ", "))
}

// TransactionError wraps a failed swap. The live table was rolled back.
type TransactionError struct {
	Table string
	Err   error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("swap into %s rolled back: %v", e.Table, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
