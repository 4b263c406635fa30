package shardtries

import (
	"fmt"
	"testing"

	"github.com/statera-project/statera/pkg/core/flatstorage"
	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"github.com/statera-project/statera/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCommitWithFlat(t *testing.T) {
	const blocks = 8

	ms := storage.NewMemoryStore()
	log := zaptest.NewLogger(t)
	s := New(ms, Config{CacheCapacity: 100, RetentionBlocks: 5}, log)
	fss := flatstorage.NewFlatStorages(ms, log)
	fs, err := fss.Get(testShard)
	require.NoError(t, err)

	keys := func(h uint32) ([]byte, []byte) {
		return []byte(fmt.Sprintf("key-%d", h)), []byte(fmt.Sprintf("value-%d", h))
	}

	roots := make([]util.Uint256, blocks+1)
	for h := uint32(1); h <= blocks; h++ {
		tr := s.GetTrie(testShard, roots[h-1])
		var (
			b trie.Batch
			d = new(flatstorage.Delta)
		)
		k, v := keys(h)
		b.Add(k, v)
		d.Add(k, v)
		b.Add([]byte("shared"), []byte(fmt.Sprintf("state-%d", h)))
		d.Add([]byte("shared"), []byte(fmt.Sprintf("state-%d", h)))
		if h == 5 {
			b.Delete([]byte("key-2"))
			d.Delete([]byte("key-2"))
		}
		ch, err := tr.Update(b)
		require.NoError(t, err)
		require.NoError(t, s.CommitWithFlat(testShard, h, ch, fs, d))
		roots[h] = ch.NewRoot
	}
	require.Equal(t, uint32(blocks), fs.ChainHead())

	checkEquivalence := func(t *testing.T) {
		for h := fs.FlatHead(); h <= fs.ChainHead(); h++ {
			tr := s.GetViewTrie(testShard, roots[h])
			for i := uint32(1); i <= blocks; i++ {
				k, _ := keys(i)
				tv, terr := tr.Get(k)
				fv, ferr := fs.Get(k, h)
				if terr != nil {
					require.ErrorIs(t, terr, trie.ErrNotFound)
					require.ErrorIs(t, ferr, trie.ErrNotFound, "key %s at %d", k, h)
				} else {
					require.NoError(t, ferr, "key %s at %d", k, h)
					require.Equal(t, tv, fv)
				}
			}
			tv, terr := tr.Get([]byte("shared"))
			require.NoError(t, terr)
			fv, ferr := fs.Get([]byte("shared"), h)
			require.NoError(t, ferr)
			require.Equal(t, tv, fv)
		}
	}
	t.Run("flat matches trie", checkEquivalence)

	t.Run("tombstone propagates", func(t *testing.T) {
		_, err := fs.Get([]byte("key-2"), 6)
		require.ErrorIs(t, err, trie.ErrNotFound)
		v, err := fs.Get([]byte("key-2"), 4)
		require.NoError(t, err)
		require.Equal(t, []byte("value-2"), v)
	})
	t.Run("height gap", func(t *testing.T) {
		tr := s.GetTrie(testShard, roots[blocks])
		var b trie.Batch
		b.Add([]byte("late"), []byte("write"))
		ch, err := tr.Update(b)
		require.NoError(t, err)
		err = s.CommitWithFlat(testShard, blocks+2, ch, fs, new(flatstorage.Delta))
		require.ErrorIs(t, err, flatstorage.ErrDeltaGap)
	})
	t.Run("still equivalent after head advance", func(t *testing.T) {
		for {
			ok, err := fs.AdvanceFlatHead(3)
			require.NoError(t, err)
			if !ok {
				break
			}
		}
		require.Equal(t, uint32(5), fs.FlatHead())
		checkEquivalence(t)
	})
	t.Run("reload sees committed deltas", func(t *testing.T) {
		fs2, err := flatstorage.NewFlatStorage(ms, testShard)
		require.NoError(t, err)
		require.Equal(t, uint32(5), fs2.FlatHead())
		require.Equal(t, uint32(blocks), fs2.ChainHead())
		v, err := fs2.Get([]byte("shared"), blocks)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("state-%d", blocks)), v)
	})
	t.Run("nil delta keeps the chain contiguous", func(t *testing.T) {
		tr := s.GetTrie(testShard, roots[blocks])
		var b trie.Batch
		b.Add([]byte("late"), []byte("write"))
		ch, err := tr.Update(b)
		require.NoError(t, err)
		require.NoError(t, s.CommitWithFlat(testShard, blocks+1, ch, fs, nil))
		require.Equal(t, uint32(blocks+1), fs.ChainHead())

		// The empty block changes nothing as of its height.
		v, err := fs.Get([]byte("shared"), blocks+1)
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("state-%d", blocks)), v)

		// An empty record is still persisted, so a reload walks past it to
		// the following block.
		d := new(flatstorage.Delta)
		d.Add([]byte("after"), []byte("empty"))
		tr = s.GetTrie(testShard, ch.NewRoot)
		b = trie.Batch{}
		b.Add([]byte("after"), []byte("empty"))
		ch, err = tr.Update(b)
		require.NoError(t, err)
		require.NoError(t, s.CommitWithFlat(testShard, blocks+2, ch, fs, d))

		fs2, err := flatstorage.NewFlatStorage(ms, testShard)
		require.NoError(t, err)
		require.Equal(t, uint32(blocks+2), fs2.ChainHead())
		v, err = fs2.Get([]byte("after"), blocks+2)
		require.NoError(t, err)
		require.Equal(t, []byte("empty"), v)
	})
}
