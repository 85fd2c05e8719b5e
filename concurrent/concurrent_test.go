package concurrent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadNameDefaultsToUnnamed(t *testing.T) {
	require.Equal(t, "unnamed", ThreadName(context.Background()))
	ctx := WithThreadName(context.Background(), "worker-1")
	require.Equal(t, "worker-1", ThreadName(ctx))
}

func TestNamedMutexExclusion(t *testing.T) {
	m := NewNamedMutex("test")
	ctx := context.Background()
	m.Lock(ctx)

	var wg sync.WaitGroup
	entered := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Lock(ctx)
		close(entered)
		m.Unlock()
	}()

	select {
	case <-entered:
		t.Fatal("second locker should not have entered while held")
	case <-time.After(30 * time.Millisecond):
	}

	m.Unlock()
	wg.Wait()
}

func TestNamedMutexTryLock(t *testing.T) {
	m := NewNamedMutex("test")
	ctx := context.Background()
	require.True(t, m.TryLock(ctx))
	require.False(t, m.TryLock(ctx))
	m.Unlock()
	require.True(t, m.TryLock(ctx))
	m.Unlock()
}

func TestRWLockAllowsConcurrentReaders(t *testing.T) {
	l := NewRWLock("test")
	ctx := context.Background()
	l.RLock(ctx)
	l.RLock(ctx)
	require.Equal(t, int32(2), l.readersCount)
	l.RUnlock()
	l.RUnlock()
	require.Equal(t, int32(0), l.readersCount)
}

func TestRWLockWriterExcludesReaders(t *testing.T) {
	l := NewRWLock("test")
	ctx := context.Background()
	l.Lock(ctx, "save")

	readerEntered := make(chan struct{})
	go func() {
		l.RLock(ctx)
		close(readerEntered)
		l.RUnlock()
	}()

	select {
	case <-readerEntered:
		t.Fatal("reader should not acquire while writer holds lock")
	case <-time.After(30 * time.Millisecond):
	}

	l.Unlock()
	<-readerEntered
}
