// Package subset implements one partition of a hash-data store: a
// data file of appended record bodies, a sorted index file of offsets
// into it, and a cache snapshot file, together with the sampled
// binary search, pull/insert/remove/get operations, and the
// multi-phase save/eviction algorithm that keeps all three in sync.
package subset

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"

	"github.com/blockvault/hkv/concurrent"
	"github.com/blockvault/hkv/hash"
	"github.com/blockvault/hkv/reclist"
	"github.com/blockvault/hkv/record"
)

var log = logging.Logger("hkv/subset")

// streamSize is the on-disk width, in bytes, of one index-file entry.
// It is written in little-endian order on every architecture.
const streamSize = 8

// Factory constructs a fresh, zero-value V for Unmarshal to populate.
// Application record types are typically pointers, so Factory usually
// returns a newly allocated struct.
type Factory[V record.Record] func() V

// Subset is one hash-partitioned shard of a store: its own data,
// index, and cache files, its own cache, and its own lock.
type Subset[V record.Record] struct {
	id          int
	dir         string
	hashSize    int
	sampleCount int
	newRecord   Factory[V]

	mu *concurrent.NamedMutex

	dataFile  *os.File
	indexFile *os.File
	dataSize  int64 // current length of the data file

	fileSize int64 // number of live entries in the index
	newSize  int64 // entries inserted since the last save

	cache            *reclist.List[V]
	cacheRawDataSize int64

	samples []sample

	loaded bool
}

// dataFileName, indexFileName, and cacheFileName follow the
// "<id, lower hex, width 4>.<ext>" layout from §6.
func dataFileName(id int) string  { return fmt.Sprintf("%04x.data", id) }
func indexFileName(id int) string { return fmt.Sprintf("%04x.index", id) }
func cacheFileName(id int) string { return fmt.Sprintf("%04x.cache", id) }

// New constructs an unloaded Subset; call Load before using it.
func New[V record.Record](dir string, id, hashSize, sampleCount int, newRecord Factory[V]) *Subset[V] {
	return &Subset[V]{
		id:          id,
		dir:         dir,
		hashSize:    hashSize,
		sampleCount: sampleCount,
		newRecord:   newRecord,
		mu:          concurrent.NewNamedMutex(fmt.Sprintf("subset-%04x", id)),
		cache:       reclist.New[V](),
	}
}

// Load opens (creating if absent) the data and index files, validates
// the index length, builds the sample table, and replays the cache
// snapshot file if one is present. A malformed cache file is reported
// but does not fail Load — the index/data files remain authoritative.
func (s *Subset[V]) Load(ctx context.Context) error {
	s.mu.Lock(ctx)
	defer s.mu.Unlock()

	dataPath := filepath.Join(s.dir, dataFileName(s.id))
	indexPath := filepath.Join(s.dir, indexFileName(s.id))

	df, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("subset %04x: open data file: %w", s.id, err)
	}
	idxf, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		df.Close()
		return fmt.Errorf("subset %04x: open index file: %w", s.id, err)
	}

	dataStat, err := df.Stat()
	if err != nil {
		df.Close()
		idxf.Close()
		return fmt.Errorf("subset %04x: stat data file: %w", s.id, err)
	}
	idxStat, err := idxf.Stat()
	if err != nil {
		df.Close()
		idxf.Close()
		return fmt.Errorf("subset %04x: stat index file: %w", s.id, err)
	}
	if idxStat.Size()%streamSize != 0 {
		df.Close()
		idxf.Close()
		return fmt.Errorf("subset %04x: %w", s.id, ErrIndexCorrupt)
	}

	s.dataFile = df
	s.indexFile = idxf
	s.dataSize = dataStat.Size()
	s.fileSize = idxStat.Size() / streamSize
	s.loaded = true
	s.buildSamples()

	if err := s.loadCacheSnapshot(); err != nil {
		log.Warnw("cache snapshot load failed, continuing without it", "subset", s.id, "err", err)
	}

	log.Infow("subset loaded", "subset", s.id, "file_size", s.fileSize, "cache_entries", s.cache.Len())
	return nil
}

// Close releases the subset's open file handles.
func (s *Subset[V]) Close() error {
	s.mu.Lock(context.Background())
	defer s.mu.Unlock()
	s.loaded = false
	var err error
	if s.dataFile != nil {
		err = s.dataFile.Close()
	}
	if s.indexFile != nil {
		if cerr := s.indexFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Size returns the number of live entries in the index plus the
// entries inserted since the last save.
func (s *Subset[V]) Size() int64 { return s.fileSize + s.newSize }

// CacheSize returns the number of entries currently in memory.
func (s *Subset[V]) CacheSize() int { return s.cache.Len() }

// CacheDataSize returns the approximate in-memory payload byte total,
// tracked incrementally rather than summed on demand.
func (s *Subset[V]) CacheDataSize() int64 { return s.cacheRawDataSize }

func (s *Subset[V]) checkHashSize(h hash.Hash) error {
	if h.Size() != s.hashSize {
		return ErrWrongHashSize{Got: h.Size(), Want: s.hashSize}
	}
	return nil
}

// readIndexOffset reads the stream-offset stored at index-file row
// pos (the pos-th live entry, 0-based).
func (s *Subset[V]) readIndexOffset(pos int64) (record.Offset, error) {
	var buf [streamSize]byte
	if _, err := s.indexFile.ReadAt(buf[:], pos*streamSize); err != nil {
		return record.InvalidOffset, fmt.Errorf("subset %04x: read index[%d]: %w", s.id, pos, err)
	}
	return record.Offset(binary.LittleEndian.Uint64(buf[:])), nil
}

// readHashAt reads the hash.hashSize bytes stored at the start of the
// record living at data-file offset off.
func (s *Subset[V]) readHashAt(off record.Offset) (hash.Hash, error) {
	buf := make([]byte, s.hashSize)
	if _, err := s.dataFile.ReadAt(buf, int64(off)); err != nil {
		return hash.Hash{}, fmt.Errorf("subset %04x: read hash at offset %d: %w", s.id, off, err)
	}
	return hash.FromBytes(buf)
}

// readRecordAt reads the full hash+payload record at data-file offset
// off into a freshly constructed V.
func (s *Subset[V]) readRecordAt(off record.Offset) (hash.Hash, V, error) {
	sr := io.NewSectionReader(s.dataFile, int64(off), s.dataSize-int64(off))
	h, err := hash.ReadFrom(sr, s.hashSize)
	if err != nil {
		var zero V
		return hash.Hash{}, zero, err
	}
	v := s.newRecord()
	if err := v.Unmarshal(sr); err != nil {
		var zero V
		return hash.Hash{}, zero, fmt.Errorf("subset %04x: unmarshal record at offset %d: %w", s.id, off, err)
	}
	v.SetDataOffset(off)
	return h, v, nil
}

// boundsFor returns the half-open [begin, end) row range of the index
// file within which h must lie, using the sample table when one was
// built, and falling back to the full index range otherwise (per §8's
// boundary behaviour for small subsets).
func (s *Subset[V]) boundsFor(h hash.Hash) (begin, end int64, ok bool, err error) {
	if len(s.samples) > 0 {
		return s.findSample(h)
	}
	if s.fileSize == 0 {
		return 0, 0, false, nil
	}
	first, err := s.readIndexOffset(0)
	if err != nil {
		return 0, 0, false, err
	}
	firstHash, err := s.readHashAt(first)
	if err != nil {
		return 0, 0, false, err
	}
	if h.Compare(firstHash) < 0 {
		return 0, 0, false, nil
	}
	last, err := s.readIndexOffset(s.fileSize - 1)
	if err != nil {
		return 0, 0, false, err
	}
	lastHash, err := s.readHashAt(last)
	if err != nil {
		return 0, 0, false, err
	}
	if h.Compare(lastHash) > 0 {
		return 0, 0, false, nil
	}
	return 0, s.fileSize, true, nil
}

// binarySearchIndex finds any one row in [begin, end) whose hash
// equals h, returning its position and true, or (0, false) if none
// matches. Written as a standard half-open-range loop so that it
// degenerates correctly for zero- and one-element ranges instead of
// needing a special case (§9 Open Question 2).
func (s *Subset[V]) binarySearchIndex(h hash.Hash, begin, end int64) (int64, bool, error) {
	for begin < end {
		mid := begin + (end-begin)/2
		off, err := s.readIndexOffset(mid)
		if err != nil {
			return 0, false, err
		}
		midHash, err := s.readHashAt(off)
		if err != nil {
			return 0, false, err
		}
		switch h.Compare(midHash) {
		case 0:
			return mid, true, nil
		case -1:
			end = mid
		default:
			begin = mid + 1
		}
	}
	return 0, false, nil
}

// MatchFunc reports whether a candidate pulled from disk should be
// admitted into the cache, used to gate Pull for remove_if_matching's
// reconciliation pass.
type MatchFunc[V any] func(candidate V) bool

// pull brings every record matching h from disk into the cache,
// optionally gated by matching, and returns whether any insertion
// occurred. A nil matching admits every on-disk match unconditionally.
func (s *Subset[V]) pull(h hash.Hash, matching MatchFunc[V]) (bool, error) {
	if s.fileSize == 0 {
		return false, nil
	}
	begin, end, ok, err := s.boundsFor(h)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	pos, found, err := s.binarySearchIndex(h, begin, end)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	for pos > 0 {
		prevOff, err := s.readIndexOffset(pos - 1)
		if err != nil {
			return false, err
		}
		prevHash, err := s.readHashAt(prevOff)
		if err != nil {
			return false, err
		}
		if !prevHash.Equal(h) {
			break
		}
		pos--
	}

	inserted := false
	for pos < s.fileSize {
		off, err := s.readIndexOffset(pos)
		if err != nil {
			return false, err
		}
		curHash, v, err := s.readRecordAt(off)
		if err != nil {
			return false, err
		}
		if !curHash.Equal(h) {
			break
		}
		if matching != nil && !matching(v) {
			pos++
			continue
		}
		if s.cache.InsertIfNotMatching(h, v, valuesMatch[V]) {
			inserted = true
		}
		pos++
	}
	return inserted, nil
}

func valuesMatch[V record.Record](existing, candidate V) bool {
	return existing.ValuesMatch(candidate)
}

// Insert adds v under h. If rejectMatching, an existing cache entry
// under h that is value-equal to v blocks the insert and Insert
// returns false. On success it marks v record.New and accounts its
// memory footprint.
func (s *Subset[V]) Insert(ctx context.Context, h hash.Hash, v V, rejectMatching bool) (bool, error) {
	if err := s.checkHashSize(h); err != nil {
		return false, err
	}
	s.mu.Lock(ctx)
	defer s.mu.Unlock()
	if !s.loaded {
		return false, ErrNotLoaded
	}

	var ok bool
	if rejectMatching {
		ok = s.cache.InsertIfNotMatching(h, v, valuesMatch[V])
	} else {
		s.cache.Insert(h, v)
		ok = true
	}
	if !ok {
		return false, nil
	}
	s.newSize++
	s.cacheRawDataSize += int64(v.MemSize())
	v.SetDataOffset(record.InvalidOffset)
	v.Flags().Set(record.New)
	return true, nil
}

// RemoveIfMatching tombstones every cache entry under h that
// v.ValuesMatch accepts and is not already tombstoned. If nothing in
// cache matches, it pulls matching entries from disk first (gated by
// v.ValuesMatch) before walking again.
func (s *Subset[V]) RemoveIfMatching(ctx context.Context, h hash.Hash, v V) (bool, error) {
	if err := s.checkHashSize(h); err != nil {
		return false, err
	}
	s.mu.Lock(ctx)
	defer s.mu.Unlock()
	if !s.loaded {
		return false, ErrNotLoaded
	}

	matchedAny := false
	if it, ok := s.cache.Get(h); ok {
		for !it.Done() && it.Hash().Equal(h) {
			entry := it.Value()
			if !entry.Flags().Has(record.Remove) && v.ValuesMatch(entry) {
				entry.Flags().Set(record.Remove)
				matchedAny = true
			}
			it.Next()
		}
	}
	if matchedAny {
		return true, nil
	}

	if _, err := s.pull(h, func(candidate V) bool { return v.ValuesMatch(candidate) }); err != nil {
		return false, err
	}
	if it, ok := s.cache.Get(h); ok {
		for !it.Done() && it.Hash().Equal(h) {
			entry := it.Value()
			if !entry.Flags().Has(record.Remove) && v.ValuesMatch(entry) {
				entry.Flags().Set(record.Remove)
				matchedAny = true
			}
			it.Next()
		}
	}
	return matchedAny, nil
}

// Get returns the first non-tombstoned cache entry under h, pulling
// from disk first when forcePull is set. Without forcePull only the
// cache is consulted.
func (s *Subset[V]) Get(ctx context.Context, h hash.Hash, forcePull bool) (V, bool, error) {
	var zero V
	if err := s.checkHashSize(h); err != nil {
		return zero, false, err
	}
	s.mu.Lock(ctx)
	defer s.mu.Unlock()
	if !s.loaded {
		return zero, false, ErrNotLoaded
	}

	if forcePull {
		if _, err := s.pull(h, nil); err != nil {
			return zero, false, err
		}
	}
	it, ok := s.cache.Get(h)
	if !ok {
		return zero, false, nil
	}
	for !it.Done() && it.Hash().Equal(h) {
		if !it.Value().Flags().Has(record.Remove) {
			return it.Value(), true, nil
		}
		it.Next()
	}
	return zero, false, nil
}
