// Package reclist implements the hash-container list: an ordered (by
// hash) sequence of (hash.Hash, V) cells that tolerates duplicate
// hashes and preserves FIFO order among them. It is the in-memory
// structure a subset's cache keeps its live records in, and the shape
// the on-disk index's sampled binary search mirrors.
package reclist

import "github.com/blockvault/hkv/hash"

// EqualFunc reports whether two values stored under the same hash are
// considered the same record, for insert_if_not_matching's duplicate
// check.
type EqualFunc[V any] func(existing, candidate V) bool

// cell is one (hash, value) entry.
type cell[V any] struct {
	h hash.Hash
	v V
}

// List is an ordered-by-hash vector of cells with duplicate hashes
// allowed. The zero value is ready to use.
type List[V any] struct {
	cells []cell[V]
}

// New returns an empty List.
func New[V any]() *List[V] { return &List[V]{} }

// Len returns the number of entries.
func (l *List[V]) Len() int { return len(l.cells) }

// Front returns the first entry's hash/value and true, or zero values
// and false if empty.
func (l *List[V]) Front() (hash.Hash, V, bool) {
	if len(l.cells) == 0 {
		var zv V
		return hash.Hash{}, zv, false
	}
	c := l.cells[0]
	return c.h, c.v, true
}

// Back returns the last entry's hash/value and true, or zero values
// and false if empty.
func (l *List[V]) Back() (hash.Hash, V, bool) {
	if len(l.cells) == 0 {
		var zv V
		return hash.Hash{}, zv, false
	}
	c := l.cells[len(l.cells)-1]
	return c.h, c.v, true
}

// At returns the hash/value at position i (operator[]).
func (l *List[V]) At(i int) (hash.Hash, V) {
	c := l.cells[i]
	return c.h, c.v
}

// findInsertBefore returns the position after the last existing entry
// whose hash equals h (so a fresh insert there preserves FIFO order
// among equal hashes), and whether any match was found. Fast paths
// check front and back before falling into binary search, matching
// the access pattern of an append-heavy or monotonically-inserted
// workload.
func (l *List[V]) findInsertBefore(h hash.Hash) (pos int, found bool) {
	n := len(l.cells)
	if n == 0 {
		return 0, false
	}
	if cmp := h.Compare(l.cells[0].h); cmp < 0 {
		return 0, false
	} else if cmp == 0 {
		return l.scanForwardPastMatches(0, h), true
	}
	if cmp := h.Compare(l.cells[n-1].h); cmp > 0 {
		return n, false
	} else if cmp == 0 {
		return n, true
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		switch h.Compare(l.cells[mid].h) {
		case 0:
			return l.scanForwardPastMatches(mid, h), true
		case -1:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false
}

// scanForwardPastMatches walks forward from a known-matching position
// until it finds the first entry that no longer equals h, returning
// that position (or Len() if the run reaches the end).
func (l *List[V]) scanForwardPastMatches(from int, h hash.Hash) int {
	i := from
	for i < len(l.cells) && l.cells[i].h.Equal(h) {
		i++
	}
	return i
}

// Insert adds (h, v) preserving sort order; among equal hashes the new
// entry lands after all existing ones. It never rejects.
func (l *List[V]) Insert(h hash.Hash, v V) {
	pos, _ := l.findInsertBefore(h)
	l.insertAt(pos, h, v)
}

// InsertIfNotMatching inserts (h, v) the same way Insert does, unless
// an existing entry under the same hash satisfies eq(existing, v), in
// which case it returns false without inserting.
func (l *List[V]) InsertIfNotMatching(h hash.Hash, v V, eq EqualFunc[V]) bool {
	pos, found := l.findInsertBefore(h)
	if found {
		for i := pos - 1; i >= 0 && l.cells[i].h.Equal(h); i-- {
			if eq(l.cells[i].v, v) {
				return false
			}
		}
	}
	l.insertAt(pos, h, v)
	return true
}

func (l *List[V]) insertAt(pos int, h hash.Hash, v V) {
	l.cells = append(l.cells, cell[V]{})
	copy(l.cells[pos+1:], l.cells[pos:len(l.cells)-1])
	l.cells[pos] = cell[V]{h: h, v: v}
}

// Get returns an iterator at the first entry matching h, via binary
// search down to any matching entry followed by a backward walk to
// the earliest one. Fast paths check front/back first. Returns (End, false)
// if no entry matches.
func (l *List[V]) Get(h hash.Hash) (Iterator[V], bool) {
	n := len(l.cells)
	if n == 0 {
		return l.End(), false
	}
	if l.cells[0].h.Equal(h) {
		return Iterator[V]{l: l, idx: 0}, true
	}
	if l.cells[n-1].h.Equal(h) {
		return l.firstOfRun(n - 1), true
	}

	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		switch h.Compare(l.cells[mid].h) {
		case 0:
			return l.firstOfRun(mid), true
		case -1:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return l.End(), false
}

func (l *List[V]) firstOfRun(at int) Iterator[V] {
	h := l.cells[at].h
	for at > 0 && l.cells[at-1].h.Equal(h) {
		at--
	}
	return Iterator[V]{l: l, idx: at}
}

// Remove deletes every entry matching h, returning how many were removed.
func (l *List[V]) Remove(h hash.Hash) int {
	it, ok := l.Get(h)
	if !ok {
		return 0
	}
	n := 0
	for !it.Done() && it.Hash().Equal(h) {
		it = l.Erase(it)
		n++
	}
	return n
}

// Erase removes the entry at it and returns an iterator at the entry
// that followed it (or End).
func (l *List[V]) Erase(it Iterator[V]) Iterator[V] {
	copy(l.cells[it.idx:], l.cells[it.idx+1:])
	l.cells = l.cells[:len(l.cells)-1]
	return Iterator[V]{l: l, idx: it.idx}
}

// Iterator is a bidirectional cursor into a List.
type Iterator[V any] struct {
	l   *List[V]
	idx int
}

// Begin returns an iterator at the first entry, or End if empty.
func (l *List[V]) Begin() Iterator[V] { return Iterator[V]{l: l, idx: 0} }

// End returns the past-the-end iterator.
func (l *List[V]) End() Iterator[V] { return Iterator[V]{l: l, idx: len(l.cells)} }

// Done reports whether it is at or past the end.
func (it Iterator[V]) Done() bool { return it.idx >= len(it.l.cells) }

// Hash returns the hash at it. Panics at End.
func (it Iterator[V]) Hash() hash.Hash { return it.l.cells[it.idx].h }

// Value returns the value at it. Panics at End.
func (it Iterator[V]) Value() V { return it.l.cells[it.idx].v }

// Next advances it by one entry.
func (it *Iterator[V]) Next() { it.idx++ }

// Prev moves it back by one entry. Undefined at Begin.
func (it *Iterator[V]) Prev() { it.idx-- }

// Equal reports whether two iterators reference the same position.
func (it Iterator[V]) Equal(o Iterator[V]) bool { return it.idx == o.idx }
