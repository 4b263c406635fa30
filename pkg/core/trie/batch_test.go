package trie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchAdd(t *testing.T) {
	var b Batch
	require.Equal(t, 0, b.Len())

	b.Add([]byte("bb"), []byte("2"))
	b.Add([]byte("aa"), []byte("1"))
	b.Add([]byte("cc"), []byte("3"))
	require.Equal(t, 3, b.Len())

	t.Run("sorted", func(t *testing.T) {
		require.Equal(t, toNibbles([]byte("aa")), b.kv[0].key)
		require.Equal(t, toNibbles([]byte("bb")), b.kv[1].key)
		require.Equal(t, toNibbles([]byte("cc")), b.kv[2].key)
	})
	t.Run("dedup keeps the last value", func(t *testing.T) {
		b.Add([]byte("bb"), []byte("22"))
		require.Equal(t, 3, b.Len())
		require.Equal(t, []byte("22"), b.kv[1].value)
	})
	t.Run("delete marker", func(t *testing.T) {
		b.Delete([]byte("aa"))
		require.Equal(t, 3, b.Len())
		require.Nil(t, b.kv[0].value)
	})
}

func TestPutBatch(t *testing.T) {
	t.Run("matches sequential puts", func(t *testing.T) {
		tr1, _ := newTestTrie(t)
		tr2, _ := newTestTrie(t)

		var b Batch
		pairs := []kvPair{
			{[]byte("dog"), []byte("puppy")},
			{[]byte("doge"), []byte("coin")},
			{[]byte("horse"), []byte("stallion")},
		}
		for _, p := range pairs {
			b.Add(p.k, p.v)
			require.NoError(t, tr1.Put(p.k, p.v))
		}
		n, err := tr2.PutBatch(b)
		require.NoError(t, err)
		require.Equal(t, len(pairs), n)
		require.Equal(t, tr1.StateRoot(), tr2.StateRoot())
	})
	t.Run("missing deletion is a no-op", func(t *testing.T) {
		tr, _ := newTestTrie(t)
		require.NoError(t, tr.Put([]byte("aaa"), []byte("v")))
		root := tr.StateRoot()

		var b Batch
		b.Delete([]byte("bbb"))
		n, err := tr.PutBatch(b)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equal(t, root, tr.StateRoot())
	})
	t.Run("stops on invalid element", func(t *testing.T) {
		tr, _ := newTestTrie(t)
		var b Batch
		b.Add([]byte("aaa"), []byte("ok"))
		b.Add([]byte("bbb"), make([]byte, MaxValueLength+1))
		n, err := tr.PutBatch(b)
		require.Error(t, err)
		require.Equal(t, 1, n)

		v, gerr := tr.Get([]byte("aaa"))
		require.NoError(t, gerr)
		require.Equal(t, []byte("ok"), v)
	})
}
