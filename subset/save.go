package subset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/blockvault/hkv/distvec"
	"github.com/blockvault/hkv/hash"
	"github.com/blockvault/hkv/record"
)

// indexBuckets is the fixed bucket count used for the distributed
// vectors built during index rebuild. It is not tied to the store's
// subset count; it only controls how finely save's rebuild work is
// sharded in memory.
const indexBuckets = 16

// Save persists the cache to disk: phase 1 writes record bodies,
// phase 2 rebuilds the sorted index (only if anything requires it),
// phase 3 rewrites the index file and evicts down to
// maxCacheDataSize. It returns false (without panicking or aborting
// the process) if any phase fails, leaving whatever earlier phases
// completed durable — per §7, a failed save never makes the subset
// unusable.
func (s *Subset[V]) Save(ctx context.Context, maxCacheDataSize int64) bool {
	s.mu.Lock(ctx)
	defer s.mu.Unlock()
	if !s.loaded {
		log.Errorw("save on unloaded subset", "subset", s.id)
		return false
	}

	needsIndexUpdate, err := s.saveDataBodies()
	if err != nil {
		log.Errorw("save: phase 1 failed", "subset", s.id, "err", err)
		return false
	}

	if needsIndexUpdate {
		if err := s.rebuildIndex(); err != nil {
			log.Errorw("save: phase 2 failed", "subset", s.id, "err", err)
			return false
		}
	}

	if err := s.trimCache(maxCacheDataSize); err != nil {
		log.Errorw("save: phase 3 eviction failed", "subset", s.id, "err", err)
		return false
	}
	if err := s.writeCacheSnapshot(); err != nil {
		log.Warnw("save: cache snapshot write failed", "subset", s.id, "err", err)
	}

	log.Infow("subset saved", "subset", s.id,
		"file_size", s.fileSize, "cache_data_size", humanize.Bytes(uint64(s.cacheRawDataSize)))
	return true
}

// saveDataBodies is phase 1: it walks the cache writing record bodies
// to the data file (append for never-written records, in-place
// rewrite for already-written-but-modified ones), dropping
// insert-then-remove-in-the-same-session entries outright, and
// reports whether anything requires an index rebuild.
func (s *Subset[V]) saveDataBodies() (needsIndexUpdate bool, err error) {
	for it := s.cache.Begin(); !it.Done(); {
		h := it.Hash()
		entry := it.Value()
		fl := entry.Flags()

		switch {
		case fl.Has(record.Remove) && fl.Has(record.New):
			s.cacheRawDataSize -= int64(entry.MemSize())
			s.newSize--
			it = s.cache.Erase(it)
			continue
		case fl.Has(record.Remove):
			needsIndexUpdate = true
			it.Next()
			continue
		}

		if fl.Has(record.Modified) || entry.DataOffset() == record.InvalidOffset {
			off, werr := s.writeRecordBody(h, entry)
			if werr != nil {
				return false, werr
			}
			entry.SetDataOffset(off)
			fl.Clear(record.Modified)
		}
		if fl.Has(record.New) {
			needsIndexUpdate = true
		}
		it.Next()
	}
	return needsIndexUpdate, nil
}

// writeRecordBody writes h followed by entry's marshaled payload,
// either appending (entry.DataOffset() == InvalidOffset) or rewriting
// in place at its existing offset. It returns the offset at which the
// hash begins.
func (s *Subset[V]) writeRecordBody(h hash.Hash, entry V) (record.Offset, error) {
	var bw bytes.Buffer
	if _, err := h.WriteTo(&bw); err != nil {
		return record.InvalidOffset, err
	}
	if err := entry.Marshal(&bw); err != nil {
		return record.InvalidOffset, err
	}
	buf := bw.Bytes()

	off := entry.DataOffset()
	if off == record.InvalidOffset {
		off = record.Offset(s.dataSize)
	}
	if _, err := s.dataFile.WriteAt(buf, int64(off)); err != nil {
		return record.InvalidOffset, fmt.Errorf("subset %04x: write record body: %w", s.id, err)
	}
	if end := int64(off) + int64(len(buf)); end > s.dataSize {
		s.dataSize = end
	}
	return off, nil
}

// rebuildIndex is phase 2: it loads the current index into a
// distributed vector of offsets plus a parallel, lazily-resolved
// vector of hashes, applies every REMOVE and NEW cache entry against
// them, and leaves the rebuilt vectors in s for phase 3 to flush.
func (s *Subset[V]) rebuildIndex() error {
	offsets, hashes, err := s.loadIndexVectors()
	if err != nil {
		return err
	}

	for it := s.cache.Begin(); !it.Done(); it.Next() {
		h := it.Hash()
		entry := it.Value()
		fl := entry.Flags()

		switch {
		case fl.Has(record.Remove):
			if err := removeFromVectors(offsets, hashes, entry.DataOffset()); err != nil {
				return err
			}
		case fl.Has(record.New):
			if err := insertIntoVectors(offsets, hashes, h, entry.DataOffset(), s); err != nil {
				return err
			}
			fl.Clear(record.New)
		}
	}

	return s.flushIndexVectors(offsets, hashes)
}

// loadIndexVectors reads the whole current index file into a
// distributed vector of offsets, and builds a same-length, initially
// unresolved parallel vector of hashes.
func (s *Subset[V]) loadIndexVectors() (*distvec.Vector[record.Offset], *distvec.Vector[hash.Hash], error) {
	offsets := distvec.New[record.Offset](indexBuckets)
	hashes := distvec.New[hash.Hash](indexBuckets)
	offsets.Reserve(int(s.fileSize))
	hashes.Reserve(int(s.fileSize))

	for i := int64(0); i < s.fileSize; i++ {
		off, err := s.readIndexOffset(i)
		if err != nil {
			return nil, nil, err
		}
		offsets.PushBack(off)
		hashes.PushBack(hash.Hash{})
	}
	return offsets, hashes, nil
}

// resolveVecHash lazily fills position pos of hashes by reading the
// data file at the offset stored at the same position in offsets.
func (s *Subset[V]) resolveVecHash(offsets *distvec.Vector[record.Offset], hashes *distvec.Vector[hash.Hash], pos int) (hash.Hash, error) {
	if h := hashes.At(pos); !h.IsEmpty() {
		return h, nil
	}
	off := offsets.At(pos)
	h, err := s.readHashAt(off)
	if err != nil {
		return hash.Hash{}, err
	}
	it := hashes.IteratorAt(pos)
	hashes.Erase(it)
	hashes.InsertBefore(hashes.IteratorAt(pos), h)
	return h, nil
}

// removeFromVectors linear-scans offsets for one entry equal to off,
// erasing it and the parallel hash slot. A miss is fatal to the save
// (§7, integrity failure 2).
func removeFromVectors(offsets *distvec.Vector[record.Offset], hashes *distvec.Vector[hash.Hash], off record.Offset) error {
	for it := offsets.Begin(); !it.Done(); it.Next() {
		if it.Value() == off {
			hIt := hashesIteratorAtSamePosition(offsets, hashes, it)
			offsets.Erase(it)
			hashes.Erase(hIt)
			return nil
		}
	}
	return ErrRemoveOffsetMissing
}

// hashesIteratorAtSamePosition converts an iterator into offsets into
// an iterator at the same absolute sequence position into hashes. The
// two vectors are always kept the same length, but may have different
// bucket counts internally, so positions must be re-derived rather
// than assumed to share (bucket, offset) coordinates.
func hashesIteratorAtSamePosition(offsets *distvec.Vector[record.Offset], hashes *distvec.Vector[hash.Hash], it distvec.Iterator[record.Offset]) distvec.Iterator[hash.Hash] {
	pos := 0
	for cur := offsets.Begin(); !cur.Equal(it); cur.Next() {
		pos++
	}
	return hashes.IteratorAt(pos)
}

// insertIntoVectors inserts (off, h) into offsets/hashes preserving
// sorted order. The insert position is the upper bound of h — the
// first position whose hash sorts strictly after h — so that runs of
// equal hashes stay contiguous and a fresh insert always lands after
// every existing equal hash, matching reclist's FIFO-on-equal-key
// convention. Probing first and last before the full binary partition
// mirrors the original's fast paths for append-heavy workloads; both
// forms compute the same position as a plain binary search would.
func insertIntoVectors[V record.Record](offsets *distvec.Vector[record.Offset], hashes *distvec.Vector[hash.Hash], h hash.Hash, off record.Offset, s *Subset[V]) error {
	n := offsets.Len()
	if n == 0 {
		offsets.PushBack(off)
		hashes.PushBack(h)
		return nil
	}

	last, err := s.resolveVecHash(offsets, hashes, n-1)
	if err != nil {
		return err
	}
	if h.Compare(last) >= 0 {
		offsets.PushBack(off)
		hashes.PushBack(h)
		return nil
	}

	first, err := s.resolveVecHash(offsets, hashes, 0)
	if err != nil {
		return err
	}
	if h.Compare(first) < 0 {
		offsets.InsertBefore(offsets.IteratorAt(0), off)
		hashes.InsertBefore(hashes.IteratorAt(0), h)
		return nil
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		midHash, err := s.resolveVecHash(offsets, hashes, mid)
		if err != nil {
			return err
		}
		if h.Compare(midHash) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	offsets.InsertBefore(offsets.IteratorAt(lo), off)
	hashes.InsertBefore(hashes.IteratorAt(lo), h)
	return nil
}

// flushIndexVectors streams the rebuilt offsets vector to a temp file
// (named with a uuid suffix, per the domain-stack's crash-safety
// convention) one bucket at a time, then renames it over the live
// index file, reopens it, and rebuilds the sample table.
func (s *Subset[V]) flushIndexVectors(offsets *distvec.Vector[record.Offset], hashes *distvec.Vector[hash.Hash]) error {
	_ = hashes
	tmpPath := filepath.Join(s.dir, fmt.Sprintf("%s.%s.tmp", indexFileName(s.id), uuid.New().String()))
	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("subset %04x: create temp index: %w", s.id, err)
	}

	bw := bufio.NewWriter(tmpFile)
	var buf [streamSize]byte
	count := 0
	for bucket := 0; bucket < offsets.BucketCount(); bucket++ {
		for _, off := range offsets.DataSet(bucket) {
			binary.LittleEndian.PutUint64(buf[:], uint64(off))
			if _, err := bw.Write(buf[:]); err != nil {
				tmpFile.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("subset %04x: write temp index: %w", s.id, err)
			}
			count++
		}
	}
	if err := bw.Flush(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("subset %04x: flush temp index: %w", s.id, err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("subset %04x: close temp index: %w", s.id, err)
	}

	indexPath := filepath.Join(s.dir, indexFileName(s.id))
	if err := os.Rename(tmpPath, indexPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("subset %04x: rename index: %w", s.id, err)
	}

	s.indexFile.Close()
	idxf, err := os.OpenFile(indexPath, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("subset %04x: reopen index: %w", s.id, err)
	}
	s.indexFile = idxf
	s.fileSize = int64(count)
	s.newSize = 0
	s.buildSamples()
	return nil
}

// trimCache marks entries old and drops the ones that no longer need
// to live in memory: entries already OLD, and tombstoned entries that
// have been persisted (i.e. are no longer NEW).
func (s *Subset[V]) trimCache(targetBytes int64) error {
	s.markOld(targetBytes)

	for it := s.cache.Begin(); !it.Done(); {
		entry := it.Value()
		fl := entry.Flags()
		if fl.Has(record.Old) || fl.Has(record.Remove) {
			s.cacheRawDataSize -= int64(entry.MemSize())
			it = s.cache.Erase(it)
			continue
		}
		it.Next()
	}
	return nil
}

// staticItemSize approximates the fixed per-cache-entry overhead
// (hash bytes, flags, offset) beyond the record's own MemSize, used
// by markOld's budget accounting.
const staticItemSize = 48

// markOld flags the oldest entries OLD until cacheRawDataSize plus
// the per-entry static overhead is within target (with the algorithm
// deliberately accepting up to ~10% overshoot, per §4.4).
func (s *Subset[V]) markOld(target int64) {
	current := s.cacheRawDataSize + int64(s.cache.Len())*staticItemSize
	if current <= target {
		return
	}

	type agedEntry struct {
		h     hash.Hash
		entry V
	}
	var candidates []agedEntry
	for it := s.cache.Begin(); !it.Done(); it.Next() {
		if it.Value().Flags().Has(record.Old) {
			continue
		}
		candidates = append(candidates, agedEntry{h: it.Hash(), entry: it.Value()})
	}

	shortfall := float64(current-target) / float64(current)
	markPercent := shortfall * 1.25
	if markPercent > 1 {
		markPercent = 1
	}
	markCount := int(float64(len(candidates)) * markPercent)
	if markCount > len(candidates) {
		markCount = len(candidates)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.CompareAge(candidates[j].entry) < 0
	})
	for i := 0; i < markCount; i++ {
		candidates[i].entry.Flags().Set(record.Old)
	}

	current = s.estimateCurrentAfterMarking(target)
	if current <= target {
		return
	}

	// Still over budget: mark every other surviving entry across up to
	// two passes, accepting overshoot rather than looping indefinitely.
	for pass := 0; pass < 2 && current > target; pass++ {
		toggle := false
		for it := s.cache.Begin(); !it.Done(); it.Next() {
			entry := it.Value()
			if entry.Flags().Has(record.Old) {
				continue
			}
			if toggle {
				entry.Flags().Set(record.Old)
			}
			toggle = !toggle
		}
		current = s.estimateCurrentAfterMarking(target)
	}
}

func (s *Subset[V]) estimateCurrentAfterMarking(target int64) int64 {
	var live int64
	n := 0
	for it := s.cache.Begin(); !it.Done(); it.Next() {
		if it.Value().Flags().Has(record.Old) {
			continue
		}
		live += int64(it.Value().MemSize())
		n++
	}
	return live + int64(n)*staticItemSize
}

// writeCacheSnapshot writes a zstd-framed snapshot of the surviving
// cache entries to the .cache file: <offset><hash><payload> repeated,
// compressed as a single stream so a cold load of a large cache is
// cheap (the record boundary format inside the decompressed stream is
// unchanged from the plain §6 layout).
func (s *Subset[V]) writeCacheSnapshot() error {
	path := filepath.Join(s.dir, cacheFileName(s.id))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("subset %04x: create cache file: %w", s.id, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("subset %04x: zstd writer: %w", s.id, err)
	}

	var buf [streamSize]byte
	for it := s.cache.Begin(); !it.Done(); it.Next() {
		entry := it.Value()
		binary.LittleEndian.PutUint64(buf[:], uint64(entry.DataOffset()))
		if _, err := zw.Write(buf[:]); err != nil {
			zw.Close()
			return err
		}
		if _, err := it.Hash().WriteTo(zw); err != nil {
			zw.Close()
			return err
		}
		if err := entry.Marshal(zw); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

// loadCacheSnapshot replays the .cache file (if present) into the
// in-memory cache. A short read or decode failure mid-stream is a
// soft failure per §7: whatever decoded cleanly is kept, the rest is
// discarded, and the index/data files remain authoritative regardless.
func (s *Subset[V]) loadCacheSnapshot() error {
	path := filepath.Join(s.dir, cacheFileName(s.id))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	for {
		var offBuf [streamSize]byte
		if _, err := io.ReadFull(zr, offBuf[:]); err != nil {
			return nil
		}
		off := record.Offset(binary.LittleEndian.Uint64(offBuf[:]))

		h, err := hash.ReadFrom(zr, s.hashSize)
		if err != nil {
			return nil
		}
		v := s.newRecord()
		if err := v.Unmarshal(zr); err != nil {
			return nil
		}
		v.SetDataOffset(off)
		s.cache.Insert(h, v)
		s.cacheRawDataSize += int64(v.MemSize())
	}
}

// Defragment is declared so callers can type-check against it, but is
// not implemented in this iteration of the store.
func (s *Subset[V]) Defragment(ctx context.Context) error {
	return ErrNotImplemented
}
