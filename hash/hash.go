// Package hash implements the fixed-width, size-aware byte key used
// throughout hkv to address records on disk. It is intentionally the
// only thing this module knows about "hashing" — the actual digest
// algorithms (SHA-256, xxhash, whatever a caller prefers) live outside
// this package; hash.Hash just stores and compares the bytes they
// produce.
package hash

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// MaxSize is the largest hash this package supports, in bytes. Hashes
// are written with no size prefix (see WriteTo); readers know the size
// from context.
const MaxSize = 255

// ErrTooLarge is returned when a caller asks for a hash bigger than MaxSize.
var ErrTooLarge = errors.New("hash: size exceeds MaxSize")

// Hash is a fixed-size byte value with big-endian ordering semantics.
// The zero value is the empty hash, distinct from a zero-filled hash
// of any declared size: Hash{} has no backing bytes at all, while
// New(32) has 32 zero bytes.
type Hash struct {
	b []byte
}

// New returns a zero-filled hash of the given size. size may be 0,
// which yields a non-empty, zero-length hash distinguishable from the
// zero value by IsEmpty.
func New(size int) (Hash, error) {
	if size < 0 || size > MaxSize {
		return Hash{}, ErrTooLarge
	}
	return Hash{b: make([]byte, size)}, nil
}

// MustNew is New but panics on error; useful for table-driven tests
// and package-level constants.
func MustNew(size int) Hash {
	h, err := New(size)
	if err != nil {
		panic(err)
	}
	return h
}

// FromBytes copies b into a new Hash. A nil or zero-length b produces
// a non-empty, zero-length hash — use Hash{} directly for the empty
// sentinel.
func FromBytes(b []byte) (Hash, error) {
	if len(b) > MaxSize {
		return Hash{}, ErrTooLarge
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Hash{b: cp}, nil
}

// Size returns the number of bytes in the hash, or 0 for the empty hash.
func (h Hash) Size() int { return len(h.b) }

// IsEmpty reports whether h carries no bytes at all (the zero value).
func (h Hash) IsEmpty() bool { return h.b == nil }

// IsZero reports whether h is non-empty and every byte is zero.
func (h Hash) IsZero() bool {
	if h.IsEmpty() {
		return false
	}
	for _, c := range h.b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Zeroize sets every byte of h to zero. It is a no-op on the empty hash.
func (h Hash) Zeroize() {
	for i := range h.b {
		h.b[i] = 0
	}
}

// SetMax sets every byte of h to 0xff. It is a no-op on the empty hash.
func (h Hash) SetMax() {
	for i := range h.b {
		h.b[i] = 0xff
	}
}

// Randomize fills h with cryptographically random bytes. It is a
// no-op on the empty hash.
func (h Hash) Randomize() {
	if len(h.b) == 0 {
		return
	}
	if _, err := rand.Read(h.b); err != nil {
		// crypto/rand.Read only fails if the OS source is broken beyond
		// recovery; there is nothing a caller of Randomize can do with an
		// error return here that panicking doesn't already communicate.
		panic(fmt.Sprintf("hash: randomize: %v", err))
	}
}

// Bytes returns the hash's backing bytes. Callers must not mutate the
// result; use Clone first if an independent copy is needed.
func (h Hash) Bytes() []byte { return h.b }

// Clone returns an independent copy of h.
func (h Hash) Clone() Hash {
	if h.b == nil {
		return Hash{}
	}
	cp := make([]byte, len(h.b))
	copy(cp, h.b)
	return Hash{b: cp}
}

// Hex returns the big-endian (most-significant-byte-first) hex display
// of h, matching its on-disk byte order.
func (h Hash) Hex() string { return hex.EncodeToString(h.b) }

// LittleHex returns the little-endian (least-significant-byte-first)
// hex display of h.
func (h Hash) LittleHex() string {
	rev := make([]byte, len(h.b))
	for i, c := range h.b {
		rev[len(h.b)-1-i] = c
	}
	return hex.EncodeToString(rev)
}

// SetHex replaces h's bytes by parsing s as big-endian hex. The size
// of h changes to match the decoded length.
func (h *Hash) SetHex(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hash: set hex: %w", err)
	}
	if len(b) > MaxSize {
		return ErrTooLarge
	}
	h.b = b
	return nil
}

// SetLittleHex replaces h's bytes by parsing s as little-endian hex.
func (h *Hash) SetLittleHex(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("hash: set little hex: %w", err)
	}
	if len(b) > MaxSize {
		return ErrTooLarge
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	h.b = b
	return nil
}

// Lookup8 returns the first byte of h, used to route into a ≤256-way
// partition. It returns 0 for the empty hash.
func (h Hash) Lookup8() byte {
	if len(h.b) == 0 {
		return 0
	}
	return h.b[0]
}

// Lookup16 returns the first two bytes of h as a big-endian uint16,
// used to route into a ≤65536-way partition. Hashes shorter than two
// bytes are treated as zero-padded on the right.
func (h Hash) Lookup16() uint16 {
	var a, b byte
	if len(h.b) > 0 {
		a = h.b[0]
	}
	if len(h.b) > 1 {
		b = h.b[1]
	}
	return uint16(a)<<8 | uint16(b)
}

// Compare orders hashes by size first, then by big-endian lexicographic
// byte order. It matches the ordering the index and subset engines rely
// on for sortedness.
func (h Hash) Compare(o Hash) int {
	if len(h.b) != len(o.b) {
		if len(h.b) < len(o.b) {
			return -1
		}
		return 1
	}
	for i := range h.b {
		if h.b[i] != o.b[i] {
			if h.b[i] < o.b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether h and o have identical size and bytes.
func (h Hash) Equal(o Hash) bool { return h.Compare(o) == 0 }

// Less reports whether h orders before o, for use with sort.Slice and
// similar.
func (h Hash) Less(o Hash) bool { return h.Compare(o) < 0 }

// WriteTo writes h's raw bytes to w, with no length prefix — the
// caller is expected to know the hash size for the stream it is
// reading, exactly as the data-file and cache-file formats do.
func (h Hash) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.b)
	return int64(n), err
}

// ReadFrom reads size bytes from r into a freshly allocated Hash.
func ReadFrom(r io.Reader, size int) (Hash, error) {
	h, err := New(size)
	if err != nil {
		return Hash{}, err
	}
	if size == 0 {
		return h, nil
	}
	if _, err := io.ReadFull(r, h.b); err != nil {
		return Hash{}, fmt.Errorf("hash: read: %w", err)
	}
	return h, nil
}

// String implements fmt.Stringer using the big-endian hex display, so
// hashes print legibly in logs and test failures.
func (h Hash) String() string {
	if h.IsEmpty() {
		return "<empty>"
	}
	return h.Hex()
}
