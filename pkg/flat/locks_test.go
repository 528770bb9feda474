package flat

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocksSerializeSameName(t *testing.T) {
	locks := NewLocks()

	var (
		inside atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("catalog_product_flat_1")
			defer unlock()
			n := inside.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			inside.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestTryLock(t *testing.T) {
	locks := NewLocks()

	unlock, ok := locks.TryLock("a")
	require.True(t, ok)

	_, ok = locks.TryLock("a")
	assert.False(t, ok, "held lock must not be acquired twice")

	other, ok := locks.TryLock("b")
	require.True(t, ok, "different names are independent")
	other()

	unlock()
	again, ok := locks.TryLock("a")
	require.True(t, ok)
	again()
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("disk full")
	var err error = &TransactionError{Table: "catalog_product_flat_1", Err: cause}
	assert.ErrorIs(t, err, cause)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, "catalog_product_flat_1", txErr.Table)

	drift := &SchemaDriftError{Table: "t_idx", Missing: []string{"color"}}
	assert.Contains(t, drift.Error(), "missing [color]")
}
