// Package hashset implements the primary-memory hash set: an array of
// 256 sortedset partitions, keyed by the last byte of each object's
// hash, so that the uniform distribution of a cryptographic digest
// spreads load evenly across partitions without any rebalancing work.
package hashset

import (
	"github.com/blockvault/hkv/hash"
	"github.com/blockvault/hkv/sortedset"
)

// Hashable is the contract an object stored in a Set must satisfy: it
// must expose the hash it is keyed by and be sortable against others
// sharing a partition.
type Hashable[T any] interface {
	sortedset.Comparable[T]
	Hash() hash.Hash
}

const partitionCount = 256

// Set partitions its contents across 256 sortedset.Set buckets, routed
// by the last byte of each object's hash.
type Set[T Hashable[T]] struct {
	partitions [partitionCount]*sortedset.Set[T]
}

// New returns an empty Set.
func New[T Hashable[T]]() *Set[T] {
	s := &Set[T]{}
	for i := range s.partitions {
		s.partitions[i] = sortedset.New[T]()
	}
	return s
}

func partitionOf(h hash.Hash) byte {
	b := h.Bytes()
	if len(b) == 0 {
		return 0
	}
	return b[len(b)-1]
}

// Len returns the total number of entries across all partitions.
func (s *Set[T]) Len() int {
	n := 0
	for _, p := range s.partitions {
		n += p.Len()
	}
	return n
}

// Insert adds obj into its partition. allowDuplicateSorts has the
// same meaning as sortedset.Set.Insert.
func (s *Set[T]) Insert(obj T, allowDuplicateSorts bool) bool {
	p := s.partitions[partitionOf(obj.Hash())]
	return p.Insert(obj, allowDuplicateSorts)
}

// Find routes h to its partition and delegates to sortedset.Set.Find.
func (s *Set[T]) Find(h hash.Hash, probe T, matching sortedset.MatchFunc[T]) (T, bool) {
	p := s.partitions[partitionOf(h)]
	it, ok := p.Find(probe, matching)
	if !ok {
		var zero T
		return zero, false
	}
	return it.Value(), true
}

// EraseDelete removes obj from its partition. The name mirrors the
// container-owns-the-object variant in the original design; since Go
// values are garbage collected, EraseDelete and EraseNoDelete behave
// identically here and exist only so callers can express the same
// ownership intent as the design they are ported from.
func (s *Set[T]) EraseDelete(obj T) bool {
	return s.erase(obj)
}

// EraseNoDelete removes obj from its partition without freeing any
// resource the caller still owns a reference to. See EraseDelete.
func (s *Set[T]) EraseNoDelete(obj T) bool {
	return s.erase(obj)
}

func (s *Set[T]) erase(obj T) bool {
	p := s.partitions[partitionOf(obj.Hash())]
	it, ok := p.Find(obj, func(candidate T) bool { return obj.Compare(candidate) == 0 })
	if !ok {
		return false
	}
	p.Erase(it)
	return true
}

// ForEach walks every partition in order, skipping empties, invoking
// fn for each entry in sort order within a partition.
func (s *Set[T]) ForEach(fn func(T)) {
	for _, p := range s.partitions {
		for it := p.Begin(); !it.Done(); it.Next() {
			fn(it.Value())
		}
	}
}
