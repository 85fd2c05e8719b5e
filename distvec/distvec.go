// Package distvec implements a distributed vector: an insert-ordered
// sequence of values split across a fixed number of internal buckets
// so that most inserts only have to shift elements within one bucket
// instead of the whole sequence. It backs the index rebuild performed
// by subset.Save, where the distributed vector of on-disk offsets and
// its parallel vector of lazily-resolved hashes are rebuilt together
// on every save.
package distvec

// Vector is an ordered sequence of T, internally split into a fixed
// number of buckets. Element order is left to right across buckets;
// iteration walks buckets in order, skipping empty ones. The zero
// value is not usable; construct with New.
type Vector[T any] struct {
	buckets []([]T)
}

// New constructs an empty distributed vector with the given fixed
// bucket count. bucketCount must be at least 1.
func New[T any](bucketCount int) *Vector[T] {
	if bucketCount < 1 {
		bucketCount = 1
	}
	return &Vector[T]{buckets: make([][]T, bucketCount)}
}

// Reserve pre-allocates total/bucketCount capacity in each bucket.
func (v *Vector[T]) Reserve(total int) {
	per := total / len(v.buckets)
	if per <= 0 {
		return
	}
	for i := range v.buckets {
		if cap(v.buckets[i]) < per {
			grown := make([]T, len(v.buckets[i]), per)
			copy(grown, v.buckets[i])
			v.buckets[i] = grown
		}
	}
}

// BucketCount returns the fixed number of buckets.
func (v *Vector[T]) BucketCount() int { return len(v.buckets) }

// Len returns the total number of elements across all buckets.
func (v *Vector[T]) Len() int {
	n := 0
	for _, b := range v.buckets {
		n += len(b)
	}
	return n
}

// Clear empties every bucket, keeping the bucket count.
func (v *Vector[T]) Clear() {
	for i := range v.buckets {
		v.buckets[i] = nil
	}
}

// redistributeThreshold is the per-bucket size above which a push or
// insert triggers a rebalance with neighbouring buckets: (total/N) *
// (N/10) with a 1024-element floor, so that small vectors never bother
// rebalancing. With fewer than 10 buckets the product is zero and the
// floor alone applies.
func (v *Vector[T]) redistributeThreshold() int {
	n := len(v.buckets)
	total := v.Len()
	t := (total / n) * (n / 10)
	if t < 1024 {
		t = 1024
	}
	return t
}

// PushBack appends val to the end of the sequence.
func (v *Vector[T]) PushBack(val T) {
	last := len(v.buckets) - 1
	v.buckets[last] = append(v.buckets[last], val)
	v.distribute(last, false, false)
}

// Front returns the first element and true, or the zero value and
// false if the vector is empty.
func (v *Vector[T]) Front() (T, bool) {
	for _, b := range v.buckets {
		if len(b) > 0 {
			return b[0], true
		}
	}
	var zero T
	return zero, false
}

// Back returns the last element and true, or the zero value and false
// if the vector is empty.
func (v *Vector[T]) Back() (T, bool) {
	for i := len(v.buckets) - 1; i >= 0; i-- {
		if len(v.buckets[i]) > 0 {
			return v.buckets[i][len(v.buckets[i])-1], true
		}
	}
	var zero T
	return zero, false
}

// At returns the i-th element in sequence order (operator[]).
func (v *Vector[T]) At(i int) T {
	for _, b := range v.buckets {
		if i < len(b) {
			return b[i]
		}
		i -= len(b)
	}
	panic("distvec: index out of range")
}

// DataSet exposes bucket i's backing slice for bulk read. Callers that
// mutate it directly must call Refresh afterward.
func (v *Vector[T]) DataSet(i int) []T { return v.buckets[i] }

// SetDataSet bulk-replaces bucket i's backing slice. Callers must call
// Refresh afterward to recompute derived state.
func (v *Vector[T]) SetDataSet(i int, data []T) { v.buckets[i] = data }

// Refresh recomputes any state derived from the buckets after bulk
// edits made via SetDataSet. It currently has no cached state to
// recompute beyond what Len already derives on demand, but callers
// should still call it after bulk edits so that future cached fields
// (e.g. a running length) stay valid without changing the call sites.
func (v *Vector[T]) Refresh() {}

// distribute rebalances bucket against its neighbours if it has grown
// past the threshold. fromPrev/fromNext record which neighbour (if
// any) handed data to this bucket in the current recursive call, so
// that rebalancing never bounces data back the way it came.
func (v *Vector[T]) distribute(bucket int, fromPrev, fromNext bool) {
	threshold := v.redistributeThreshold()
	data := v.buckets[bucket]
	if len(data) <= threshold {
		return
	}

	moveCount := len(data) / 4
	if needed := len(data) - threshold; needed > moveCount {
		moveCount = needed
	}
	if moveCount < 1 {
		moveCount = 1
	}

	if !fromPrev && bucket > 0 {
		n := moveCount
		if n > len(v.buckets[bucket]) {
			n = len(v.buckets[bucket])
		}
		if n > 0 {
			moved := append([]T(nil), v.buckets[bucket][:n]...)
			rest := append([]T(nil), v.buckets[bucket][n:]...)
			v.buckets[bucket] = rest
			v.buckets[bucket-1] = append(v.buckets[bucket-1], moved...)
			v.distribute(bucket-1, false, true)
		}
	}

	data = v.buckets[bucket]
	if !fromNext && bucket < len(v.buckets)-1 && len(data) > threshold {
		n := moveCount
		if n > len(data) {
			n = len(data)
		}
		if n > 0 {
			moved := append([]T(nil), data[len(data)-n:]...)
			v.buckets[bucket] = append([]T(nil), data[:len(data)-n]...)
			v.buckets[bucket+1] = append(append([]T(nil), moved...), v.buckets[bucket+1]...)
			v.distribute(bucket+1, true, false)
		}
	}
}

// Iterator is a bidirectional cursor into a Vector, identified by a
// bucket index and an offset within that bucket. The past-the-end
// position is represented as (bucketCount, 0) and must not be
// dereferenced with Value.
type Iterator[T any] struct {
	v      *Vector[T]
	bucket int
	idx    int
}

// Begin returns an iterator at the first element, or the end iterator
// if the vector is empty.
func (v *Vector[T]) Begin() Iterator[T] {
	it := Iterator[T]{v: v}
	it.normalizeForward()
	return it
}

// End returns the past-the-end iterator.
func (v *Vector[T]) End() Iterator[T] {
	return Iterator[T]{v: v, bucket: len(v.buckets), idx: 0}
}

// normalizeForward advances it past any empty buckets so that it
// either points at a real element or sits at End.
func (it *Iterator[T]) normalizeForward() {
	for it.bucket < len(it.v.buckets) && it.idx >= len(it.v.buckets[it.bucket]) {
		it.bucket++
		it.idx = 0
	}
}

// Done reports whether it is at (or past) the end.
func (it Iterator[T]) Done() bool {
	return it.bucket >= len(it.v.buckets)
}

// Value returns the element it points to. It panics at End.
func (it Iterator[T]) Value() T {
	if it.Done() {
		panic("distvec: dereference of end iterator")
	}
	return it.v.buckets[it.bucket][it.idx]
}

// Bucket and Offset expose the iterator's internal position, used by
// Vector.InsertBefore and Vector.Erase.
func (it Iterator[T]) Bucket() int { return it.bucket }
func (it Iterator[T]) Offset() int { return it.idx }

// Equal reports whether two iterators reference the same position.
func (it Iterator[T]) Equal(o Iterator[T]) bool {
	return it.bucket == o.bucket && it.idx == o.idx
}

// Next advances it by one element (the += 1 operation).
func (it *Iterator[T]) Next() {
	it.idx++
	it.normalizeForward()
}

// Prev moves it back by one element (the -= 1 operation). Calling
// Prev on Begin is undefined, matching the original container's
// contract; callers must check against Begin first.
func (it *Iterator[T]) Prev() {
	for {
		if it.idx > 0 {
			it.idx--
			return
		}
		it.bucket--
		if it.bucket < 0 {
			// Walked off the front; leave at an invalid-but-stable
			// position rather than wrapping, mirroring "undefined for
			// decrementing begin" rather than panicking on unattended use.
			it.bucket = 0
			it.idx = 0
			return
		}
		if len(it.v.buckets[it.bucket]) > 0 {
			it.idx = len(it.v.buckets[it.bucket]) - 1
			return
		}
	}
}

// Add returns an iterator n positions ahead of it (the + n operation).
// n may be negative, in which case it behaves like Sub(-n).
func (it Iterator[T]) Add(n int) Iterator[T] {
	if n < 0 {
		return it.Sub(-n)
	}
	cur := it
	for i := 0; i < n; i++ {
		cur.Next()
	}
	return cur
}

// Sub returns an iterator n positions behind it (the - n operation).
func (it Iterator[T]) Sub(n int) Iterator[T] {
	if n < 0 {
		return it.Add(-n)
	}
	cur := it
	for i := 0; i < n; i++ {
		cur.Prev()
	}
	return cur
}

// InsertBefore inserts val immediately before the position it
// references and returns an iterator at the newly inserted element.
// Inserting at End appends to the last bucket.
func (v *Vector[T]) InsertBefore(it Iterator[T], val T) Iterator[T] {
	bucket := it.bucket
	idx := it.idx
	if bucket >= len(v.buckets) {
		bucket = len(v.buckets) - 1
		idx = len(v.buckets[bucket])
	}
	b := v.buckets[bucket]
	b = append(b, val) // grow by one
	copy(b[idx+1:], b[idx:len(b)-1])
	b[idx] = val
	v.buckets[bucket] = b
	pos := v.absolutePosition(bucket, idx)
	v.distribute(bucket, false, false)

	// distribute may have shifted val's bucket/offset; locate it by
	// the absolute position taken before the rebalance instead of
	// trusting the pre-rebalance coordinates.
	return v.iteratorAtAbsolute(pos)
}

// Erase removes the element at it and returns an iterator at the
// element that followed it (or End).
func (v *Vector[T]) Erase(it Iterator[T]) Iterator[T] {
	b := v.buckets[it.bucket]
	copy(b[it.idx:], b[it.idx+1:])
	v.buckets[it.bucket] = b[:len(b)-1]

	next := Iterator[T]{v: v, bucket: it.bucket, idx: it.idx}
	next.normalizeForward()
	return next
}

// IteratorAt returns an iterator at the given 0-based sequence
// position, or End if pos is out of range. It is meant for callers
// (such as subset's index rebuild binary search) that already know the
// target position and only need a cursor to insert or erase at it.
func (v *Vector[T]) IteratorAt(pos int) Iterator[T] {
	return v.iteratorAtAbsolute(pos)
}

// absolutePosition converts a (bucket, idx) pair, valid just before a
// rebalance, into the element's absolute sequence position.
func (v *Vector[T]) absolutePosition(bucket, idx int) int {
	pos := idx
	for i := 0; i < bucket; i++ {
		pos += len(v.buckets[i])
	}
	return pos
}

// iteratorAtAbsolute returns an iterator at the given 0-based sequence
// position, or End if pos is out of range.
func (v *Vector[T]) iteratorAtAbsolute(pos int) Iterator[T] {
	it := Iterator[T]{v: v}
	remaining := pos
	for it.bucket < len(v.buckets) {
		if remaining < len(v.buckets[it.bucket]) {
			it.idx = remaining
			return it
		}
		remaining -= len(v.buckets[it.bucket])
		it.bucket++
	}
	it.idx = 0
	return it
}
