package flatstorage

import (
	"encoding/binary"
	"testing"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"github.com/statera-project/statera/pkg/io"
	"github.com/stretchr/testify/require"
)

var testShard = storage.ShardUId{Version: 1, ShardID: 3}

func seedBase(t *testing.T, ms *storage.MemoryStore, head uint32, kvs ...KV) {
	puts := map[string][]byte{
		string(headKey(testShard)): binary.BigEndian.AppendUint32(nil, head),
	}
	for _, kv := range kvs {
		puts[string(BaseKey(testShard, kv.Key))] = kv.Value
	}
	require.NoError(t, ms.PutChangeSet(puts))
}

func seedDelta(t *testing.T, ms *storage.MemoryStore, height uint32, d *Delta) {
	data, err := io.ToByteArray(d)
	require.NoError(t, err)
	require.NoError(t, ms.PutChangeSet(map[string][]byte{
		string(DeltaKey(testShard, height)): data,
	}))
}

func TestFlatStorageWindow(t *testing.T) {
	ms := storage.NewMemoryStore()
	seedBase(t, ms, 50, KV{[]byte("x"), []byte("base")}, KV{[]byte("y"), []byte("stable")})

	fs, err := NewFlatStorage(ms, testShard)
	require.NoError(t, err)
	require.Equal(t, uint32(50), fs.FlatHead())
	require.Equal(t, uint32(50), fs.ChainHead())

	for h := uint32(51); h <= 60; h++ {
		d := new(Delta)
		switch h {
		case 55:
			d.Delete([]byte("x"))
		case 58:
			d.Add([]byte("x"), []byte("rewritten"))
		}
		require.NoError(t, fs.AddDelta(h, d))
	}
	require.Equal(t, uint32(60), fs.ChainHead())

	t.Run("rewrite wins", func(t *testing.T) {
		v, err := fs.Get([]byte("x"), 59)
		require.NoError(t, err)
		require.Equal(t, []byte("rewritten"), v)
	})
	t.Run("before any delta", func(t *testing.T) {
		v, err := fs.Get([]byte("x"), 54)
		require.NoError(t, err)
		require.Equal(t, []byte("base"), v)
	})
	t.Run("tombstone", func(t *testing.T) {
		_, err := fs.Get([]byte("x"), 56)
		require.ErrorIs(t, err, trie.ErrNotFound)
	})
	t.Run("untouched key", func(t *testing.T) {
		for _, h := range []uint32{50, 55, 60} {
			v, err := fs.Get([]byte("y"), h)
			require.NoError(t, err)
			require.Equal(t, []byte("stable"), v)
		}
	})
	t.Run("absent key", func(t *testing.T) {
		_, err := fs.Get([]byte("z"), 60)
		require.ErrorIs(t, err, trie.ErrNotFound)
	})
	t.Run("outside the window", func(t *testing.T) {
		_, err := fs.Get([]byte("x"), 61)
		require.Error(t, err)
		_, err = fs.Get([]byte("x"), 49)
		require.Error(t, err)
	})
	t.Run("delta gap", func(t *testing.T) {
		require.ErrorIs(t, fs.AddDelta(62, new(Delta)), ErrDeltaGap)
		require.ErrorIs(t, fs.AddDelta(60, new(Delta)), ErrDeltaGap)
	})
	t.Run("nil delta", func(t *testing.T) {
		require.NoError(t, fs.AddDelta(61, nil))
		require.Equal(t, uint32(61), fs.ChainHead())
		v, err := fs.Get([]byte("x"), 61)
		require.NoError(t, err)
		require.Equal(t, []byte("rewritten"), v)
	})
}

func TestAdvanceFlatHead(t *testing.T) {
	ms := storage.NewMemoryStore()
	seedBase(t, ms, 50, KV{[]byte("x"), []byte("base")})

	fs, err := NewFlatStorage(ms, testShard)
	require.NoError(t, err)
	for h := uint32(51); h <= 60; h++ {
		d := new(Delta)
		if h == 55 {
			d.Delete([]byte("x"))
			d.Add([]byte("w"), []byte("new"))
		}
		require.NoError(t, fs.AddDelta(h, d))
		seedDelta(t, ms, h, d)
	}

	t.Run("not eligible", func(t *testing.T) {
		ok, err := fs.AdvanceFlatHead(20)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, uint32(50), fs.FlatHead())
	})
	t.Run("fold up to the depth", func(t *testing.T) {
		for {
			ok, err := fs.AdvanceFlatHead(5)
			require.NoError(t, err)
			if !ok {
				break
			}
		}
		require.Equal(t, uint32(55), fs.FlatHead())
		require.Equal(t, uint32(60), fs.ChainHead())

		// The tombstone is folded into the base.
		_, err := ms.Get(BaseKey(testShard, []byte("x")))
		require.ErrorIs(t, err, storage.ErrKeyNotFound)
		v, err := ms.Get(BaseKey(testShard, []byte("w")))
		require.NoError(t, err)
		require.Equal(t, []byte("new"), v)

		// Folded delta records are removed, the head record moves.
		_, err = ms.Get(DeltaKey(testShard, 55))
		require.ErrorIs(t, err, storage.ErrKeyNotFound)
		head, err := ms.Get(headKey(testShard))
		require.NoError(t, err)
		require.Equal(t, uint32(55), binary.BigEndian.Uint32(head))
	})
	t.Run("reload after fold", func(t *testing.T) {
		fs2, err := NewFlatStorage(ms, testShard)
		require.NoError(t, err)
		require.Equal(t, uint32(55), fs2.FlatHead())
		require.Equal(t, uint32(60), fs2.ChainHead())

		_, err = fs2.Get([]byte("x"), 60)
		require.ErrorIs(t, err, trie.ErrNotFound)
		v, err := fs2.Get([]byte("w"), 60)
		require.NoError(t, err)
		require.Equal(t, []byte("new"), v)
	})
}

func TestNewFlatStorageGap(t *testing.T) {
	ms := storage.NewMemoryStore()
	seedBase(t, ms, 50)
	seedDelta(t, ms, 51, new(Delta))
	seedDelta(t, ms, 53, new(Delta))

	_, err := NewFlatStorage(ms, testShard)
	require.ErrorIs(t, err, ErrDeltaGap)
}

func TestRebuild(t *testing.T) {
	ms := storage.NewMemoryStore()
	seedBase(t, ms, 50, KV{[]byte("stale"), []byte("old")})
	seedDelta(t, ms, 51, new(Delta))
	seedDelta(t, ms, 53, new(Delta)) // Gap.

	// An authoritative trie in the same store.
	shardPrefix := testShard.Prefix()
	tr := trie.NewTrie(nil, trie.NewStoreStorage(ms, shardPrefix))
	var b trie.Batch
	b.Add([]byte("alpha"), []byte("1"))
	b.Add([]byte("beta"), []byte("2"))
	ch, err := tr.Update(b)
	require.NoError(t, err)
	cache := storage.NewMemCachedStore(ms)
	require.NoError(t, trie.ApplyInsertions(cache, shardPrefix, ch.Insertions))
	_, err = cache.Persist()
	require.NoError(t, err)

	fss := NewFlatStorages(ms, nil)
	_, err = fss.Get(testShard)
	require.ErrorIs(t, err, ErrDeltaGap)

	require.NoError(t, fss.Rebuild(RebuildTask{
		Shard:  testShard,
		Trie:   trie.NewTrie(trie.NodeFromRoot(ch.NewRoot), trie.NewStoreStorage(ms, shardPrefix)),
		Height: 60,
	}))

	fs, err := fss.Get(testShard)
	require.NoError(t, err)
	require.Equal(t, uint32(60), fs.FlatHead())
	require.Equal(t, uint32(60), fs.ChainHead())

	for _, kv := range []KV{{[]byte("alpha"), []byte("1")}, {[]byte("beta"), []byte("2")}} {
		v, err := fs.Get(kv.Key, 60)
		require.NoError(t, err)
		require.Equal(t, kv.Value, v)
	}
	_, err = fs.Get([]byte("stale"), 60)
	require.ErrorIs(t, err, trie.ErrNotFound)

	// The broken delta records are gone, a reload sees a clean state.
	fs2, err := NewFlatStorage(ms, testShard)
	require.NoError(t, err)
	require.Equal(t, uint32(60), fs2.FlatHead())
}
