// Package record defines the behavioural contract that every value
// stored in a hkv subset must satisfy, plus the small lifecycle-flag
// bitset the cache uses to track each entry's relationship to the
// durable index (new / modified / tombstoned / evictable).
//
// Applications implement Record for their own payload type; the
// subset and store packages are otherwise completely generic over it.
package record

import "io"

// Offset is a byte position in a subset's data file. InvalidOffset
// marks a record that has not yet been written to disk.
type Offset int64

// InvalidOffset is the sentinel value of an unwritten record.
const InvalidOffset Offset = -1

// Flag is a single lifecycle bit. Flags is a set of these.
type Flag uint8

const (
	// New marks a cache entry that has not yet been referenced by the
	// durable index. Cleared once the index rebuild in Save picks it up.
	New Flag = 1 << iota
	// Modified marks a cache entry whose content differs from what is
	// (or will be) on disk at DataOffset. Cleared after Save rewrites it.
	Modified
	// Remove marks a tombstoned entry: apply the removal on next Save.
	Remove
	// Old marks an entry the eviction policy has judged safe to drop
	// from the cache — it remains findable via Pull from the data file.
	Old
)

// Flags is the lifecycle-flag bitset embedded in a concrete record
// type. It is a value type; callers mutate it through pointer receivers.
type Flags struct {
	bits Flag
}

// Has reports whether every bit in f is set.
func (fl Flags) Has(f Flag) bool { return fl.bits&f == f }

// Set turns on every bit in f.
func (fl *Flags) Set(f Flag) { fl.bits |= f }

// Clear turns off every bit in f.
func (fl *Flags) Clear(f Flag) { fl.bits &^= f }

// Raw returns the underlying bitset, for logging/diagnostics.
func (fl Flags) Raw() Flag { return fl.bits }

// Record is the behavioural contract a subset's cache and data file
// require from any stored value. Implementations are typically small
// structs that embed record.Base for the offset/flags bookkeeping and
// add their own payload plus Marshal/Unmarshal/MemSize/CompareAge/
// ValuesMatch.
type Record interface {
	// Marshal writes the record's payload (not its hash) to w. The
	// encoded length must never grow on a later call for the same
	// logical record — the subset rewrites records in place at their
	// original data-file offset, and a longer encoding would corrupt
	// whatever follows it on disk.
	Marshal(w io.Writer) error

	// Unmarshal reads the record's payload (not its hash) from r,
	// replacing the receiver's content.
	Unmarshal(r io.Reader) error

	// MemSize reports the record's approximate in-memory footprint in
	// bytes, used for cache byte-budget accounting.
	MemSize() int

	// CompareAge orders the receiver against another record of the same
	// concrete type for eviction purposes: negative if the receiver is
	// older, zero if indistinguishable, positive if newer. It is only
	// ever called between records produced by the same application, so
	// a partial order (e.g. always 0) is an acceptable implementation
	// when age does not apply.
	CompareAge(other Record) int

	// ValuesMatch reports whether the receiver is value-equal to other,
	// for rejecting duplicate inserts under the same hash and for
	// recognizing an already-applied remove.
	ValuesMatch(other Record) bool

	// Flags returns the lifecycle-flag bitset for this entry.
	Flags() *Flags

	// DataOffset returns the byte offset in the data file where this
	// record's hash begins, or InvalidOffset if it has not been written.
	DataOffset() Offset

	// SetDataOffset records where the hash/payload was (or will be)
	// written in the data file.
	SetDataOffset(Offset)
}

// Base is an embeddable helper implementing the offset/flags half of
// the Record contract. Application record types embed it and supply
// Marshal, Unmarshal, MemSize, CompareAge, and ValuesMatch themselves.
type Base struct {
	flags  Flags
	offset Offset
}

// NewBase returns a Base for a freshly constructed, not-yet-written record.
func NewBase() Base {
	return Base{offset: InvalidOffset}
}

func (b *Base) Flags() *Flags          { return &b.flags }
func (b *Base) DataOffset() Offset     { return b.offset }
func (b *Base) SetDataOffset(o Offset) { b.offset = o }
