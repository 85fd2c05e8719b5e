package subset

import "github.com/blockvault/hkv/hash"

// sample is one lazily-resolved entry in the sample table: it always
// knows its position in the index file, but only resolves the hash
// stored there (via a data-file read) the first time it is probed.
type sample struct {
	indexPos int64
	h        hash.Hash
	resolved bool
}

// buildSamples lays out up to sampleCount sample positions uniformly
// across [0, fileSize), always including position 0 and fileSize-1 so
// that the first/last short-circuit in findSample can bound the whole
// subset. Per §8's boundary behaviour, the sample table is only built
// when file_size/sample_count >= 4; otherwise pull falls back to a
// plain binary search over the whole index with no samples table.
func (s *Subset[V]) buildSamples() {
	s.samples = nil
	if s.sampleCount <= 0 || s.fileSize == 0 {
		return
	}
	if s.fileSize/int64(s.sampleCount) < 4 {
		return
	}
	n := s.sampleCount
	if int64(n) > s.fileSize {
		n = int(s.fileSize)
	}
	if n < 2 {
		n = 2
	}
	s.samples = make([]sample, n)
	for i := 0; i < n; i++ {
		pos := int64(i) * (s.fileSize - 1) / int64(n-1)
		s.samples[i] = sample{indexPos: pos}
	}
}

// resolveSample lazily fills in the hash at sample i, reading the
// index file for the stream offset and then the data file for the
// hash stored there.
func (s *Subset[V]) resolveSample(i int) (hash.Hash, error) {
	sm := &s.samples[i]
	if sm.resolved {
		return sm.h, nil
	}
	off, err := s.readIndexOffset(sm.indexPos)
	if err != nil {
		return hash.Hash{}, err
	}
	h, err := s.readHashAt(off)
	if err != nil {
		return hash.Hash{}, err
	}
	sm.h = h
	sm.resolved = true
	return h, nil
}

// findSample narrows [begin, end) — a half-open range of index-file
// row positions — to the range within which h must lie if present,
// using the sample table. It returns ok=false if h is provably
// outside the subset's [min, max] hash range.
func (s *Subset[V]) findSample(h hash.Hash) (begin, end int64, ok bool, err error) {
	n := len(s.samples)
	first, err := s.resolveSample(0)
	if err != nil {
		return 0, 0, false, err
	}
	switch cmp := h.Compare(first); {
	case cmp < 0:
		return 0, 0, false, nil
	case cmp == 0:
		return s.samples[0].indexPos, s.samples[0].indexPos + 1, true, nil
	}

	last, err := s.resolveSample(n - 1)
	if err != nil {
		return 0, 0, false, err
	}
	switch cmp := h.Compare(last); {
	case cmp > 0:
		return 0, 0, false, nil
	case cmp == 0:
		return s.samples[n-1].indexPos, s.samples[n-1].indexPos + 1, true, nil
	}

	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		midHash, err := s.resolveSample(mid)
		if err != nil {
			return 0, 0, false, err
		}
		switch h.Compare(midHash) {
		case 0:
			return s.samples[mid].indexPos, s.samples[mid].indexPos + 1, true, nil
		case -1:
			hi = mid
		default:
			lo = mid
		}
	}
	return s.samples[lo].indexPos, s.samples[hi].indexPos + 1, true, nil
}
