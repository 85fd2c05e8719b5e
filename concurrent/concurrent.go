// Package concurrent provides the lock diagnostics hkv uses instead of
// bare sync.Mutex/sync.RWMutex: a named mutex and a readers-writer
// lock that each poll instead of blocking indefinitely, logging a
// warning (with the name of whichever goroutine is holding the lock)
// if a wait runs unusually long. Go has no OS thread id to print, so
// callers that want a named holder in those warnings thread one
// through context.Context with WithThreadName; untagged callers show
// up as "unnamed".
package concurrent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("hkv/concurrent")

type threadNameKey struct{}

// WithThreadName returns a context carrying name, used by mutex
// diagnostics to report which named goroutine holds a contended lock.
func WithThreadName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, threadNameKey{}, name)
}

// ThreadName returns the name attached by WithThreadName, or
// "unnamed" if ctx carries none.
func ThreadName(ctx context.Context) string {
	if name, ok := ctx.Value(threadNameKey{}).(string); ok && name != "" {
		return name
	}
	return "unnamed"
}

const (
	pollInterval  = 5 * time.Millisecond
	warnAfterPoll = 200 // ~1s at pollInterval
)

// NamedMutex is a mutex that polls TryLock instead of blocking, so
// that a long wait can be attributed to whoever holds it. It behaves
// like sync.Mutex to callers that don't need the diagnostics.
type NamedMutex struct {
	name string

	mu     sync.Mutex
	locked bool
	holder string
}

// NewNamedMutex returns an unlocked NamedMutex that identifies itself
// as name in contention warnings.
func NewNamedMutex(name string) *NamedMutex {
	return &NamedMutex{name: name}
}

// Lock acquires the mutex, polling every 5ms. After ~1s of contention
// it logs a warning naming the lock and its current holder, then
// keeps polling; it never gives up.
func (m *NamedMutex) Lock(ctx context.Context) {
	polls := 0
	for {
		m.mu.Lock()
		if !m.locked {
			m.locked = true
			m.holder = ThreadName(ctx)
			m.mu.Unlock()
			return
		}
		holder := m.holder
		m.mu.Unlock()

		polls++
		if polls == warnAfterPoll {
			log.Warnw("lock contention", "mutex", m.name, "held_by", holder, "waiting_thread", ThreadName(ctx))
			polls = 0
		}
		time.Sleep(pollInterval)
	}
}

// Unlock releases the mutex.
func (m *NamedMutex) Unlock() {
	m.mu.Lock()
	m.locked = false
	m.holder = ""
	m.mu.Unlock()
}

// TryLock attempts to acquire the mutex without blocking.
func (m *NamedMutex) TryLock(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false
	}
	m.locked = true
	m.holder = ThreadName(ctx)
	return true
}

// RWLock is a readers-writer lock that spin-polls rather than parking,
// tracking reader count and writer-waiting/writer-locked state so that
// contention warnings can name the purpose of a blocking writer.
type RWLock struct {
	name string

	readersCount   int32
	writerWaiting  int32
	writerLocked   int32
	writeHolder    atomic.Value // string
	writePurpose   atomic.Value // string
}

// NewRWLock returns an unlocked RWLock identified as name in warnings.
func NewRWLock(name string) *RWLock {
	l := &RWLock{name: name}
	l.writeHolder.Store("")
	l.writePurpose.Store("")
	return l
}

// RLock acquires the lock for reading. It spin-waits (polling every
// 5ms, warning roughly every 5s) while a writer is waiting or holding,
// so that writers are never starved by a steady stream of readers.
func (l *RWLock) RLock(ctx context.Context) {
	polls := 0
	for atomic.LoadInt32(&l.writerWaiting) != 0 || atomic.LoadInt32(&l.writerLocked) != 0 {
		polls++
		if polls == warnAfterPoll*5 {
			log.Warnw("read lock blocked by writer", "lock", l.name,
				"held_by", l.writeHolder.Load(), "purpose", l.writePurpose.Load(),
				"waiting_thread", ThreadName(ctx))
			polls = 0
		}
		time.Sleep(pollInterval)
	}
	atomic.AddInt32(&l.readersCount, 1)
}

// RUnlock releases a read lock acquired with RLock.
func (l *RWLock) RUnlock() {
	atomic.AddInt32(&l.readersCount, -1)
}

// Lock acquires the lock for writing, identified by purpose in
// contention warnings. It first raises writerWaiting to block new
// readers, then spin-waits until the reader count drains to zero.
func (l *RWLock) Lock(ctx context.Context, purpose string) {
	atomic.StoreInt32(&l.writerWaiting, 1)
	polls := 0
	for atomic.LoadInt32(&l.readersCount) != 0 {
		polls++
		if polls == warnAfterPoll*5 {
			log.Warnw("write lock waiting on readers", "lock", l.name,
				"readers", atomic.LoadInt32(&l.readersCount), "purpose", purpose,
				"waiting_thread", ThreadName(ctx))
			polls = 0
		}
		time.Sleep(pollInterval)
	}
	atomic.StoreInt32(&l.writerLocked, 1)
	atomic.StoreInt32(&l.writerWaiting, 0)
	l.writeHolder.Store(ThreadName(ctx))
	l.writePurpose.Store(purpose)
}

// Unlock releases a write lock acquired with Lock, clearing the
// writer-state fields contention warnings read.
func (l *RWLock) Unlock() {
	l.writeHolder.Store("")
	l.writePurpose.Store("")
	atomic.StoreInt32(&l.writerLocked, 0)
}
