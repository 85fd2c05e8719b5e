package reclist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockvault/hkv/hash"
)

func mustHash(t *testing.T, b byte) hash.Hash {
	t.Helper()
	h, err := hash.FromBytes([]byte{b})
	require.NoError(t, err)
	return h
}

func TestInsertMaintainsSortOrder(t *testing.T) {
	l := New[string]()
	order := []byte{5, 1, 9, 3, 7}
	for _, b := range order {
		l.Insert(mustHash(t, b), string(rune('a'+b)))
	}
	require.Equal(t, 5, l.Len())
	var got []byte
	for it := l.Begin(); !it.Done(); it.Next() {
		got = append(got, it.Hash().Bytes()[0])
	}
	require.Equal(t, []byte{1, 3, 5, 7, 9}, got)
}

func TestInsertDuplicateHashPreservesFIFO(t *testing.T) {
	l := New[string]()
	l.Insert(mustHash(t, 5), "first")
	l.Insert(mustHash(t, 1), "only-one")
	l.Insert(mustHash(t, 5), "second")
	l.Insert(mustHash(t, 5), "third")

	it, ok := l.Get(mustHash(t, 5))
	require.True(t, ok)
	require.Equal(t, "first", it.Value())
	it.Next()
	require.Equal(t, "second", it.Value())
	it.Next()
	require.Equal(t, "third", it.Value())
	it.Next()
	require.True(t, it.Done())
}

func TestInsertIfNotMatchingRejectsDuplicateValue(t *testing.T) {
	l := New[string]()
	eq := func(a, b string) bool { return a == b }

	ok := l.InsertIfNotMatching(mustHash(t, 9), "v1", eq)
	require.True(t, ok)
	ok = l.InsertIfNotMatching(mustHash(t, 9), "v1", eq)
	require.False(t, ok)
	require.Equal(t, 1, l.Len())

	ok = l.InsertIfNotMatching(mustHash(t, 9), "v2", eq)
	require.True(t, ok)
	require.Equal(t, 2, l.Len())
}

func TestGetMissingHash(t *testing.T) {
	l := New[string]()
	l.Insert(mustHash(t, 1), "a")
	l.Insert(mustHash(t, 9), "b")
	_, ok := l.Get(mustHash(t, 5))
	require.False(t, ok)
}

func TestRemoveDeletesAllMatches(t *testing.T) {
	l := New[string]()
	l.Insert(mustHash(t, 3), "a")
	l.Insert(mustHash(t, 5), "b")
	l.Insert(mustHash(t, 5), "c")
	l.Insert(mustHash(t, 7), "d")

	n := l.Remove(mustHash(t, 5))
	require.Equal(t, 2, n)
	require.Equal(t, 2, l.Len())
	_, ok := l.Get(mustHash(t, 5))
	require.False(t, ok)
}

func TestFrontBackAndAt(t *testing.T) {
	l := New[string]()
	l.Insert(mustHash(t, 2), "a")
	l.Insert(mustHash(t, 8), "b")
	l.Insert(mustHash(t, 5), "c")

	h, v, ok := l.Front()
	require.True(t, ok)
	require.Equal(t, byte(2), h.Bytes()[0])
	require.Equal(t, "a", v)

	h, v, ok = l.Back()
	require.True(t, ok)
	require.Equal(t, byte(8), h.Bytes()[0])
	require.Equal(t, "b", v)

	h2, v2 := l.At(1)
	require.Equal(t, byte(5), h2.Bytes()[0])
	require.Equal(t, "c", v2)
}
