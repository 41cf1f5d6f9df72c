package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chainbase"
)

func TestPebbleStorePutGetDelete(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get([]byte("missing"))
	require.ErrorIs(t, err, chainbase.ErrNotFound)

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete([]byte("a")))
	_, err = s.Get([]byte("a"))
	require.ErrorIs(t, err, chainbase.ErrNotFound)
}

func TestPebbleStoreIterRange(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put([]byte(k), []byte(k)))
	}

	it, err := s.IterRange([]byte("a"), []byte("c"))
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	require.Equal(t, []string{"a", "b"}, got)
}

func TestPebbleStoreBatchCommit(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	b := s.Batch()
	b.Put([]byte("k"), []byte("v"))
	require.NoError(t, b.Commit())

	v, err := s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestPebbleStoreReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Put([]byte("k"), []byte("v")))
	require.NoError(t, s1.Close())

	s2, err := NewPebbleStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	v, err := s2.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
