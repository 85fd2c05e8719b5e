package hashset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockvault/hkv/hash"
)

type entry struct {
	h   hash.Hash
	tag string
}

func (e entry) Hash() hash.Hash { return e.h }

func (e entry) Compare(other entry) int { return e.h.Compare(other.h) }

func mustHash(t *testing.T, bs ...byte) hash.Hash {
	t.Helper()
	h, err := hash.FromBytes(bs)
	require.NoError(t, err)
	return h
}

func TestInsertAndFindRoutesByLastByte(t *testing.T) {
	s := New[entry]()
	e1 := entry{h: mustHash(t, 0x01, 0x02, 0xAA), tag: "one"}
	e2 := entry{h: mustHash(t, 0x05, 0x06, 0xBB), tag: "two"}
	require.True(t, s.Insert(e1, false))
	require.True(t, s.Insert(e2, false))
	require.Equal(t, 2, s.Len())

	got, ok := s.Find(e1.h, e1, nil)
	require.True(t, ok)
	require.Equal(t, "one", got.tag)

	got, ok = s.Find(e2.h, e2, nil)
	require.True(t, ok)
	require.Equal(t, "two", got.tag)
}

func TestEraseDeleteRemovesEntry(t *testing.T) {
	s := New[entry]()
	e := entry{h: mustHash(t, 0x10, 0xCC), tag: "only"}
	s.Insert(e, false)
	require.True(t, s.EraseDelete(e))
	require.Equal(t, 0, s.Len())
	_, ok := s.Find(e.h, e, nil)
	require.False(t, ok)
}

func TestForEachVisitsAllPartitionsInOrder(t *testing.T) {
	s := New[entry]()
	entries := []entry{
		{h: mustHash(t, 0x00, 0x01), tag: "a"},
		{h: mustHash(t, 0x00, 0x02), tag: "b"},
		{h: mustHash(t, 0xFF, 0xFE), tag: "c"},
	}
	for _, e := range entries {
		s.Insert(e, false)
	}
	var tags []string
	s.ForEach(func(e entry) { tags = append(tags, e.tag) })
	require.Equal(t, []string{"a", "b", "c"}, tags)
	require.Len(t, tags, 3)
}
