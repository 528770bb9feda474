package flat

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Locks hands out one mutex per name. The flat indexer never serializes work
// on the same tables itself; callers that may run rebuilds and hooks
// concurrently take the entity type's lock first.
type Locks struct {
	m *xsync.Map[string, *sync.Mutex]
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{m: xsync.NewMap[string, *sync.Mutex]()}
}

// Lock blocks until name is held and returns its unlock function.
func (l *Locks) Lock(name string) (unlock func()) {
	mu, _ := l.m.LoadOrCompute(name, func() (*sync.Mutex, bool) {
		return &sync.Mutex{}, false
	})
	mu.Lock()
	return mu.Unlock
}

// TryLock acquires name without blocking.
func (l *Locks) TryLock(name string) (unlock func(), ok bool) {
	mu, _ := l.m.LoadOrCompute(name, func() (*sync.Mutex, bool) {
		return &sync.Mutex{}, false
	})
	if !mu.TryLock() {
		return nil, false
	}
	return mu.Unlock, true
}
