package sortedset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type intObj struct {
	key int
	tag string
}

func (o intObj) Compare(other intObj) int {
	switch {
	case o.key < other.key:
		return -1
	case o.key > other.key:
		return 1
	default:
		return 0
	}
}

func TestInsertKeepsSortOrder(t *testing.T) {
	s := New[intObj]()
	for _, k := range []int{5, 1, 9, 3, 7} {
		require.True(t, s.Insert(intObj{key: k}, true))
	}
	require.Equal(t, 5, s.Len())
	var got []int
	for it := s.Begin(); !it.Done(); it.Next() {
		got = append(got, it.Value().key)
	}
	require.Equal(t, []int{1, 3, 5, 7, 9}, got)
}

func TestInsertRejectsDuplicateWhenDisallowed(t *testing.T) {
	s := New[intObj]()
	require.True(t, s.Insert(intObj{key: 4, tag: "first"}, false))
	require.False(t, s.Insert(intObj{key: 4, tag: "second"}, false))
	require.Equal(t, 1, s.Len())
}

func TestInsertAllowsDuplicateAndPreservesOrder(t *testing.T) {
	s := New[intObj]()
	require.True(t, s.Insert(intObj{key: 4, tag: "first"}, true))
	require.True(t, s.Insert(intObj{key: 4, tag: "second"}, true))

	it, ok := s.Find(intObj{key: 4}, nil)
	require.True(t, ok)
	require.Equal(t, "first", it.Value().tag)
}

func TestFindWithMatcher(t *testing.T) {
	s := New[intObj]()
	s.Insert(intObj{key: 4, tag: "a"}, true)
	s.Insert(intObj{key: 4, tag: "b"}, true)
	s.Insert(intObj{key: 4, tag: "c"}, true)

	it, ok := s.Find(intObj{key: 4}, func(c intObj) bool { return c.tag == "b" })
	require.True(t, ok)
	require.Equal(t, "b", it.Value().tag)
}

func TestEraseReturnsNext(t *testing.T) {
	s := New[intObj]()
	for _, k := range []int{1, 2, 3} {
		s.Insert(intObj{key: k}, true)
	}
	it, ok := s.Find(intObj{key: 2}, nil)
	require.True(t, ok)
	next := s.Erase(it)
	require.Equal(t, 3, next.Value().key)
	require.Equal(t, 2, s.Len())
}
