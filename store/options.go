package store

import "time"

const (
	defaultSubsetCount          = 64
	defaultHashSize             = 32
	defaultSampleCount          = 64
	defaultTargetCacheDataSize  = 64 * 1024 * 1024
	defaultSyncInterval         = time.Second
	defaultGCInterval           = 30 * time.Minute
	defaultRejectDuplicatePuts  = false
)

type config struct {
	subsetCount          int
	hashSize             int
	sampleCount          int
	targetCacheDataSize  int64
	syncInterval         time.Duration
	gcInterval           time.Duration
	rejectDuplicatePuts  bool
}

// Option configures a Store at Open time.
type Option func(*config)

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithSubsetCount sets how many hash-partitioned subsets the store is
// split into. Routing uses lookup8 modulo this count when it is at
// most 256, lookup16 modulo it otherwise.
func WithSubsetCount(n int) Option {
	return func(c *config) { c.subsetCount = n }
}

// WithHashSize sets the fixed hash width, in bytes, every key passed
// to the store must have.
func WithHashSize(size int) Option {
	return func(c *config) { c.hashSize = size }
}

// WithSampleCount sets the per-subset sample table size used for
// sampled binary search over the index file.
func WithSampleCount(n int) Option {
	return func(c *config) { c.sampleCount = n }
}

// WithTargetCacheDataSize sets the aggregate in-memory cache byte
// budget, divided evenly across subsets at the next save.
func WithTargetCacheDataSize(bytes int64) Option {
	return func(c *config) { c.targetCacheDataSize = bytes }
}

// WithSyncInterval sets how often a background save is considered due.
// Store itself does not run a background timer and does not read this
// value, so this option currently has no observable effect.
func WithSyncInterval(d time.Duration) Option {
	return func(c *config) { c.syncInterval = d }
}

// WithGCInterval is reserved for a future defragmentation scheduler;
// Defragment is not implemented in this version (see subset.ErrNotImplemented),
// so this option currently has no observable effect.
func WithGCInterval(d time.Duration) Option {
	return func(c *config) { c.gcInterval = d }
}

// WithRejectDuplicatePuts sets the rejectMatching value InsertDefault
// passes to Insert, i.e. whether InsertDefault rejects a value-equal
// duplicate under the same hash.
func WithRejectDuplicatePuts(yes bool) Option {
	return func(c *config) { c.rejectDuplicatePuts = yes }
}
