package flatstorage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"github.com/statera-project/statera/pkg/io"
	"go.uber.org/atomic"
)

// ErrDeltaGap is returned when the delta chain is not contiguous, either on
// a disk state that misses a delta or on an out-of-order AddDelta. The flat
// index can't serve reads past a gap and must be rebuilt from the trie.
var ErrDeltaGap = errors.New("flat storage delta chain is broken")

// FlatStorage is a per-shard key-value index of the state at recent block
// heights. Reads skip the trie entirely: the value for a key at a height is
// looked up in the in-memory deltas from that height down and then in the
// folded base mapping. It gives no authentication, the trie remains the
// source of truth.
type FlatStorage struct {
	store  storage.Store
	shard  storage.ShardUId
	prefix []byte

	chainHead atomic.Uint32

	mtx      sync.RWMutex
	flatHead uint32
	deltas   []heightDelta
}

type heightDelta struct {
	height uint32
	delta  *Delta
}

// BaseKey returns the DataFlatState key of the given state key.
func BaseKey(shard storage.ShardUId, key []byte) []byte {
	res := make([]byte, 0, 1+storage.PrefixSize+len(key))
	res = append(res, byte(storage.DataFlatState))
	res = append(res, shard.Prefix()...)
	return append(res, key...)
}

// DeltaKey returns the DataFlatDelta key of the given block height.
func DeltaKey(shard storage.ShardUId, height uint32) []byte {
	res := make([]byte, 0, 1+storage.PrefixSize+4)
	res = append(res, byte(storage.DataFlatDelta))
	res = append(res, shard.Prefix()...)
	return binary.BigEndian.AppendUint32(res, height)
}

func headKey(shard storage.ShardUId) []byte {
	return storage.AppendPrefix(storage.SYSFlatHead, shard.Prefix())
}

// NewFlatStorage loads the flat storage of the given shard verifying that
// the persisted delta chain is contiguous.
func NewFlatStorage(st storage.Store, shard storage.ShardUId) (*FlatStorage, error) {
	fs := &FlatStorage{
		store:  st,
		shard:  shard,
		prefix: shard.Prefix(),
	}
	if data, err := st.Get(headKey(shard)); err == nil {
		if len(data) != 4 {
			return nil, fmt.Errorf("invalid flat head record for %s", shard)
		}
		fs.flatHead = binary.BigEndian.Uint32(data)
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}

	deltaPrefix := storage.AppendPrefix(storage.DataFlatDelta, fs.prefix)

	var seekErr error
	st.Seek(storage.SeekRange{Prefix: deltaPrefix}, func(k, v []byte) bool {
		if len(k) != len(deltaPrefix)+4 {
			seekErr = fmt.Errorf("invalid delta key length %d for %s", len(k), shard)
			return false
		}
		h := binary.BigEndian.Uint32(k[len(deltaPrefix):])
		if h != fs.flatHead+uint32(len(fs.deltas))+1 {
			seekErr = fmt.Errorf("%w: flat head %d, unexpected delta %d", ErrDeltaGap, fs.flatHead, h)
			return false
		}
		d := new(Delta)
		if err := io.FromByteArray(d, v); err != nil {
			seekErr = fmt.Errorf("failed to decode delta %d: %w", h, err)
			return false
		}
		fs.deltas = append(fs.deltas, heightDelta{height: h, delta: d})
		return true
	})
	if seekErr != nil {
		return nil, seekErr
	}
	fs.chainHead.Store(fs.flatHead + uint32(len(fs.deltas)))
	updateFlatHeadMetric(shard, fs.flatHead)
	return fs, nil
}

// Shard returns the shard this storage belongs to.
func (fs *FlatStorage) Shard() storage.ShardUId {
	return fs.shard
}

// ChainHead returns the highest height the flat storage can serve.
func (fs *FlatStorage) ChainHead() uint32 {
	return fs.chainHead.Load()
}

// FlatHead returns the height folded into the base mapping.
func (fs *FlatStorage) FlatHead() uint32 {
	fs.mtx.RLock()
	defer fs.mtx.RUnlock()
	return fs.flatHead
}

// Get returns the value of the key as of the given block height. The height
// must be within the window between the flat head and the chain head.
// trie.ErrNotFound is returned for an absent key, same as on the trie read
// path.
func (fs *FlatStorage) Get(key []byte, atHeight uint32) ([]byte, error) {
	fs.mtx.RLock()
	defer fs.mtx.RUnlock()

	if atHeight < fs.flatHead || atHeight > fs.flatHead+uint32(len(fs.deltas)) {
		return nil, fmt.Errorf("height %d is outside of the flat window [%d, %d]",
			atHeight, fs.flatHead, fs.flatHead+uint32(len(fs.deltas)))
	}
	for i := int(atHeight) - int(fs.flatHead) - 1; i >= 0; i-- {
		if v, ok := fs.deltas[i].delta.Get(key); ok {
			if v == nil {
				return nil, trie.ErrNotFound
			}
			res := make([]byte, len(v))
			copy(res, v)
			return res, nil
		}
	}
	v, err := fs.store.Get(BaseKey(fs.shard, key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, trie.ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// AddDelta appends the delta of the next block to the in-memory chain. The
// delta record itself is persisted by the caller's commit batch. A height
// other than chain head + 1 is a gap.
func (fs *FlatStorage) AddDelta(height uint32, d *Delta) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	if height != fs.flatHead+uint32(len(fs.deltas))+1 {
		return fmt.Errorf("%w: chain head %d, adding %d",
			ErrDeltaGap, fs.flatHead+uint32(len(fs.deltas)), height)
	}
	if d == nil {
		d = new(Delta)
	}
	fs.deltas = append(fs.deltas, heightDelta{height: height, delta: d})
	fs.chainHead.Store(height)
	return nil
}

// AdvanceFlatHead folds the oldest delta into the base mapping when it is
// at least depth blocks below the chain head. It reports whether anything
// was folded. The fold is a single atomic batch, a crash leaves either the
// old or the new head.
func (fs *FlatStorage) AdvanceFlatHead(depth uint32) (bool, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	if len(fs.deltas) == 0 {
		return false, nil
	}
	oldest := fs.deltas[0]
	if fs.flatHead+uint32(len(fs.deltas))-oldest.height < depth {
		return false, nil
	}

	cache := storage.NewMemCachedStore(fs.store)
	for i := range oldest.delta.kvs {
		key := BaseKey(fs.shard, oldest.delta.kvs[i].Key)
		if oldest.delta.kvs[i].Value == nil {
			cache.Delete(key)
		} else {
			cache.Put(key, oldest.delta.kvs[i].Value)
		}
	}
	cache.Delete(DeltaKey(fs.shard, oldest.height))
	cache.Put(headKey(fs.shard), binary.BigEndian.AppendUint32(nil, oldest.height))
	if _, err := cache.Persist(); err != nil {
		return false, err
	}

	fs.flatHead = oldest.height
	fs.deltas = fs.deltas[1:]
	updateFlatHeadMetric(fs.shard, fs.flatHead)
	return true, nil
}

// Rebuild repopulates the base mapping from an authoritative trie dropping
// all deltas. It is the recovery path after a delta gap: the trie at the
// given height is walked in full, so it can take a while on big shards.
func (fs *FlatStorage) Rebuild(tr *trie.Trie, height uint32) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()

	cache := storage.NewMemCachedStore(fs.store)
	for _, col := range []storage.KeyPrefix{storage.DataFlatState, storage.DataFlatDelta} {
		fs.store.Seek(storage.SeekRange{Prefix: storage.AppendPrefix(col, fs.prefix)}, func(k, v []byte) bool {
			key := make([]byte, len(k))
			copy(key, k)
			cache.Delete(key)
			return true
		})
	}
	if err := tr.Traverse(func(k, v []byte) bool {
		cache.Put(BaseKey(fs.shard, k), v)
		return true
	}); err != nil {
		return fmt.Errorf("failed to walk the trie: %w", err)
	}
	cache.Put(headKey(fs.shard), binary.BigEndian.AppendUint32(nil, height))
	if _, err := cache.Persist(); err != nil {
		return err
	}

	fs.flatHead = height
	fs.deltas = fs.deltas[:0]
	fs.chainHead.Store(height)
	updateFlatHeadMetric(fs.shard, fs.flatHead)
	return nil
}
