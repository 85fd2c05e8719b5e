package subset

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/blockvault/hkv/hash"
	"github.com/blockvault/hkv/record"
)

const testValueWidth = 32

// testRecord is a small fixed-width record used only by this
// package's tests: a 4-byte age plus a zero-padded, fixed-width value
// string, satisfying the "encoding never grows" contract record.Record
// documents.
type testRecord struct {
	record.Base
	Age   int32
	Value string
}

func (r *testRecord) Marshal(w io.Writer) error {
	var buf [4 + testValueWidth]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(r.Age))
	copy(buf[4:], r.Value)
	_, err := w.Write(buf[:])
	return err
}

func (r *testRecord) Unmarshal(rd io.Reader) error {
	var buf [4 + testValueWidth]byte
	if _, err := io.ReadFull(rd, buf[:]); err != nil {
		return err
	}
	r.Age = int32(binary.LittleEndian.Uint32(buf[:4]))
	r.Value = string(bytes.TrimRight(buf[4:], "\x00"))
	return nil
}

func (r *testRecord) MemSize() int { return 4 + testValueWidth }

func (r *testRecord) CompareAge(other record.Record) int {
	o := other.(*testRecord)
	switch {
	case r.Age < o.Age:
		return -1
	case r.Age > o.Age:
		return 1
	default:
		return 0
	}
}

func (r *testRecord) ValuesMatch(other record.Record) bool {
	o := other.(*testRecord)
	return r.Value == o.Value
}

func newTestRecord() *testRecord { return &testRecord{Base: record.NewBase()} }

// testHash digests seed with xxhash, the pack's external digest
// collaborator (hkv never hashes input itself). size must be 8, the
// width of xxhash's 64-bit sum.
func testHash(t *testing.T, size int, seed string) hash.Hash {
	t.Helper()
	require.Equal(t, 8, size, "testHash only supports xxhash's 8-byte digest")
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(seed))
	h, err := hash.FromBytes(buf[:])
	require.NoError(t, err)
	return h
}

func openTestSubset(t *testing.T, hashSize, sampleCount int) *Subset[*testRecord] {
	t.Helper()
	dir := t.TempDir()
	s := New[*testRecord](dir, 0, hashSize, sampleCount, newTestRecord)
	require.NoError(t, s.Load(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSubset(t, 8, 4)

	h := testHash(t, 8, "alpha")
	ok, err := s.Insert(ctx, h, &testRecord{Base: record.NewBase(), Age: 1, Value: "alpha-value"}, false)
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := s.Get(ctx, h, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alpha-value", got.Value)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := openTestSubset(t, 8, 4)
	_, ok, err := s.Get(context.Background(), testHash(t, 8, "missing"), false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInsertRejectMatchingDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openTestSubset(t, 8, 4)
	h := testHash(t, 8, "dup")

	ok, err := s.Insert(ctx, h, &testRecord{Base: record.NewBase(), Value: "v1"}, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Insert(ctx, h, &testRecord{Base: record.NewBase(), Value: "v1"}, true)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, s.CacheSize())
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := New[*testRecord](dir, 0, 8, 8, newTestRecord)
	require.NoError(t, s.Load(ctx))

	hashes := make([]hash.Hash, 0, 200)
	for i := 0; i < 200; i++ {
		h := testHash(t, 8, fmt.Sprintf("seed-%d", i))
		hashes = append(hashes, h)
		ok, err := s.Insert(ctx, h, &testRecord{Base: record.NewBase(), Age: int32(i), Value: fmt.Sprintf("value-%d", i)}, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.True(t, s.Save(ctx, 1<<30))
	require.NoError(t, s.Close())

	s2 := New[*testRecord](dir, 0, 8, 8, newTestRecord)
	require.NoError(t, s2.Load(ctx))
	defer s2.Close()

	for i, h := range hashes {
		got, ok, err := s2.Get(ctx, h, true)
		require.NoError(t, err)
		require.True(t, ok, "missing hash for seed-%d", i)
		require.Equal(t, fmt.Sprintf("value-%d", i), got.Value)
	}
}

func TestRemoveIfMatchingTombstonesThenSaveDrops(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := New[*testRecord](dir, 0, 8, 4, newTestRecord)
	require.NoError(t, s.Load(ctx))

	h := testHash(t, 8, "removable")
	rec := &testRecord{Base: record.NewBase(), Value: "gone"}
	ok, err := s.Insert(ctx, h, rec, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, s.Save(ctx, 1<<30))

	removed, err := s.RemoveIfMatching(ctx, h, &testRecord{Value: "gone"})
	require.NoError(t, err)
	require.True(t, removed)

	_, ok, err = s.Get(ctx, h, false)
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, s.Save(ctx, 1<<30))
	require.NoError(t, s.Close())

	s2 := New[*testRecord](dir, 0, 8, 4, newTestRecord)
	require.NoError(t, s2.Load(ctx))
	defer s2.Close()
	_, ok, err = s2.Get(ctx, h, true)
	require.NoError(t, err)
	require.False(t, ok)
}

// TestPullTwoEntrySubset exercises §9 Open Question 2's boundary case:
// pull over an index with exactly two live entries must not mishandle
// the binary search's shrinking range.
func TestPullTwoEntrySubset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := New[*testRecord](dir, 0, 8, 64, newTestRecord)
	require.NoError(t, s.Load(ctx))

	h1 := testHash(t, 8, "two-a")
	h2 := testHash(t, 8, "two-b")
	_, err := s.Insert(ctx, h1, &testRecord{Value: "a"}, false)
	require.NoError(t, err)
	_, err = s.Insert(ctx, h2, &testRecord{Value: "b"}, false)
	require.NoError(t, err)
	require.True(t, s.Save(ctx, 1<<30))
	require.NoError(t, s.Close())

	s2 := New[*testRecord](dir, 0, 8, 64, newTestRecord)
	require.NoError(t, s2.Load(ctx))
	defer s2.Close()

	got1, ok, err := s2.Get(ctx, h1, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got1.Value)

	got2, ok, err := s2.Get(ctx, h2, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", got2.Value)
}

// TestCacheBudgetZeroDropsEverything exercises §8's "cache budget of 0
// bytes" boundary: trimCache must mark every entry OLD and drop them
// all, leaving the cache empty while the on-disk data remains
// retrievable via a forced pull.
func TestCacheBudgetZeroDropsEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestSubset(t, 8, 4)

	var h hash.Hash
	for i := 0; i < 10; i++ {
		h = testHash(t, 8, fmt.Sprintf("budget-%d", i))
		_, err := s.Insert(ctx, h, &testRecord{Age: int32(i), Value: fmt.Sprintf("v%d", i)}, false)
		require.NoError(t, err)
	}

	require.True(t, s.Save(ctx, 0))
	require.Equal(t, 0, s.CacheSize())

	got, ok, err := s.Get(ctx, h, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v9", got.Value)
}

func TestEmptySubsetPullIsNoop(t *testing.T) {
	s := openTestSubset(t, 8, 4)
	_, ok, err := s.Get(context.Background(), testHash(t, 8, "anything"), true)
	require.NoError(t, err)
	require.False(t, ok)
}
