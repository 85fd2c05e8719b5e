// Package store implements the partitioned front end of hkv: a fixed
// array of hash-routed subset.Subset shards behind one readers-writer
// lock, with routing, aggregated accessors, and a multi-threaded save
// dispatcher.
package store

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/blockvault/hkv/concurrent"
	"github.com/blockvault/hkv/hash"
	"github.com/blockvault/hkv/record"
	"github.com/blockvault/hkv/subset"
)

var log = logging.Logger("hkv/store")

// Store is the hash-partitioned key/value front end: routing plus an
// array of independently-mutexed subsets under one top-level
// readers-writer lock that serialises Load/Save against everything
// else.
type Store[V record.Record] struct {
	cfg config
	dir string

	subsets []*subset.Subset[V]
	rw      *concurrent.RWLock

	valid bool
}

// Open constructs a Store rooted at dir with the given options, but
// does not touch the filesystem — call Load to create the directory
// (if needed) and bring every subset online.
func Open[V record.Record](dir string, newRecord subset.Factory[V], opts ...Option) *Store[V] {
	c := config{
		subsetCount:         defaultSubsetCount,
		hashSize:            defaultHashSize,
		sampleCount:         defaultSampleCount,
		targetCacheDataSize: defaultTargetCacheDataSize,
		syncInterval:        defaultSyncInterval,
		gcInterval:          defaultGCInterval,
		rejectDuplicatePuts: defaultRejectDuplicatePuts,
	}
	c.apply(opts)

	st := &Store[V]{
		cfg: c,
		dir: dir,
		rw:  concurrent.NewRWLock("store"),
	}
	st.subsets = make([]*subset.Subset[V], c.subsetCount)
	for i := range st.subsets {
		st.subsets[i] = subset.New[V](dir, i, c.hashSize, c.sampleCount, newRecord)
	}
	return st
}

// subsetOffset routes h to one of N subsets: lookup8 mod N when N is
// at most 256 (the common case, since a single byte already covers
// it), lookup16 mod N otherwise.
func subsetOffset(h hash.Hash, n int) int {
	if n <= 256 {
		return int(h.Lookup8()) % n
	}
	return int(h.Lookup16()) % n
}

func (st *Store[V]) subsetFor(h hash.Hash) *subset.Subset[V] {
	return st.subsets[subsetOffset(h, len(st.subsets))]
}

// Load creates dir if missing, then loads every subset serially,
// logging percent progress every 10 seconds. The store is marked
// valid only if every subset loads without error; a store that fails
// to load rejects subsequent writes (IsValid reports this).
func (st *Store[V]) Load(ctx context.Context) error {
	st.rw.Lock(ctx, "load")
	defer st.rw.Unlock()

	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}

	lastLog := time.Now()
	for i, s := range st.subsets {
		if err := s.Load(ctx); err != nil {
			log.Errorw("store: subset failed to load", "subset", i, "err", err)
			st.valid = false
			return fmt.Errorf("store: load subset %04x: %w", i, err)
		}
		if time.Since(lastLog) >= 10*time.Second {
			log.Infow("store: load progress", "percent", 100*(i+1)/len(st.subsets))
			lastLog = time.Now()
		}
	}
	st.valid = true
	return nil
}

// IsValid reports whether the store loaded successfully and accepts writes.
func (st *Store[V]) IsValid() bool { return st.valid }

// Close releases every subset's file handles.
func (st *Store[V]) Close() error {
	var firstErr error
	for _, s := range st.subsets {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Insert routes h to its subset and inserts v there. See
// subset.Subset.Insert for the rejectMatching contract.
func (st *Store[V]) Insert(ctx context.Context, h hash.Hash, v V, rejectMatching bool) (bool, error) {
	st.rw.RLock(ctx)
	defer st.rw.RUnlock()
	if !st.valid {
		return false, subset.ErrNotLoaded
	}
	return st.subsetFor(h).Insert(ctx, h, v, rejectMatching)
}

// InsertDefault is Insert using the store-wide WithRejectDuplicatePuts default.
func (st *Store[V]) InsertDefault(ctx context.Context, h hash.Hash, v V) (bool, error) {
	return st.Insert(ctx, h, v, st.cfg.rejectDuplicatePuts)
}

// RemoveIfMatching routes h to its subset and tombstones matching entries there.
func (st *Store[V]) RemoveIfMatching(ctx context.Context, h hash.Hash, v V) (bool, error) {
	st.rw.RLock(ctx)
	defer st.rw.RUnlock()
	if !st.valid {
		return false, subset.ErrNotLoaded
	}
	return st.subsetFor(h).RemoveIfMatching(ctx, h, v)
}

// Get routes h to its subset and returns the first non-tombstoned match.
func (st *Store[V]) Get(ctx context.Context, h hash.Hash, forcePull bool) (V, bool, error) {
	st.rw.RLock(ctx)
	defer st.rw.RUnlock()
	if !st.valid {
		var zero V
		return zero, false, subset.ErrNotLoaded
	}
	return st.subsetFor(h).Get(ctx, h, forcePull)
}

// Size returns the total number of live entries across all subsets.
func (st *Store[V]) Size() int64 {
	var n int64
	for _, s := range st.subsets {
		n += s.Size()
	}
	return n
}

// CacheSize returns the total number of in-memory cache entries
// across all subsets.
func (st *Store[V]) CacheSize() int {
	n := 0
	for _, s := range st.subsets {
		n += s.CacheSize()
	}
	return n
}

// CacheDataSize returns the total in-memory cache payload bytes
// across all subsets.
func (st *Store[V]) CacheDataSize() int64 {
	var n int64
	for _, s := range st.subsets {
		n += s.CacheDataSize()
	}
	return n
}

// SetTargetCacheDataSize updates the aggregate cache byte budget
// applied at the next Save/SaveMultiThreaded call.
func (st *Store[V]) SetTargetCacheDataSize(bytes int64) {
	st.cfg.targetCacheDataSize = bytes
}

func (st *Store[V]) perSubsetCacheBudget() int64 {
	n := int64(len(st.subsets))
	if n == 0 {
		return st.cfg.targetCacheDataSize
	}
	return st.cfg.targetCacheDataSize / n
}

// Save is SaveMultiThreaded with a single worker.
func (st *Store[V]) Save(ctx context.Context) bool {
	return st.SaveMultiThreaded(ctx, 1)
}

// SaveMultiThreaded dispatches all subsets' Save calls across
// threadCount workers pulling from a shared queue, polling completion
// every 500ms and logging progress at most every 10 seconds. It
// returns the logical AND of every subset's Save result.
func (st *Store[V]) SaveMultiThreaded(ctx context.Context, threadCount int) bool {
	st.rw.Lock(ctx, "save")
	defer st.rw.Unlock()

	if !st.valid {
		log.Errorw("save on invalid store")
		return false
	}
	if threadCount < 1 {
		threadCount = 1
	}

	queue := make(chan int, len(st.subsets))
	for i := range st.subsets {
		queue <- i
	}
	close(queue)

	results := make([]int32, len(st.subsets)) // 0=pending 1=ok 2=failed

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < threadCount; w++ {
		g.Go(func() error {
			for idx := range queue {
				ok := st.subsets[idx].Save(gctx, st.perSubsetCacheBudget())
				if ok {
					atomic.StoreInt32(&results[idx], 1)
				} else {
					atomic.StoreInt32(&results[idx], 2)
				}
			}
			return nil
		})
	}

	progressDone := make(chan struct{})
	go st.logSaveProgress(results, progressDone)

	_ = g.Wait()
	close(progressDone)

	success := true
	var unfinished []int
	for i := range results {
		switch atomic.LoadInt32(&results[i]) {
		case 2:
			success = false
		case 0:
			unfinished = append(unfinished, i)
			success = false
		}
	}
	if len(unfinished) > 0 {
		log.Warnw("save: subsets did not finish", "subset_ids", unfinished)
	}
	return success
}

// logSaveProgress polls every 500ms and logs at most every 10 seconds
// while a multi-threaded save is in flight.
func (st *Store[V]) logSaveProgress(results []int32, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if time.Since(last) < 10*time.Second {
				continue
			}
			completed := 0
			for i := range results {
				if atomic.LoadInt32(&results[i]) != 0 {
					completed++
				}
			}
			log.Infow("save in progress", "completed", completed, "total", len(results))
			last = time.Now()
		}
	}
}
