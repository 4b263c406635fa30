package shardtries

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/statera-project/statera/pkg/core/flatstorage"
	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
	"go.uber.org/zap"
)

// DefaultCacheCapacity is the default per-shard node cache size in entries.
const DefaultCacheCapacity = 100000

// Config is the state engine configuration.
type Config struct {
	// CacheCapacity is the per-shard node cache size in entries.
	CacheCapacity int
	// RetentionBlocks is the number of recent blocks whose state roots stay
	// readable. Everything older is garbage collected by RunGC.
	RetentionBlocks uint32
}

// ShardTries creates Trie instances over the shards of one store. All tries
// of a shard share one node cache, so repeated processing of the same
// blocks hits the cache instead of the database.
type ShardTries struct {
	store storage.Store
	cfg   Config
	log   *zap.Logger

	mtx    sync.RWMutex
	caches map[storage.ShardUId]*trie.CachedStorage
}

// New creates a ShardTries over the given store.
func New(st storage.Store, cfg Config, log *zap.Logger) *ShardTries {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ShardTries{
		store:  st,
		cfg:    cfg,
		log:    log,
		caches: make(map[storage.ShardUId]*trie.CachedStorage),
	}
}

func (s *ShardTries) cacheFor(shard storage.ShardUId) *trie.CachedStorage {
	s.mtx.RLock()
	c, ok := s.caches[shard]
	s.mtx.RUnlock()
	if ok {
		return c
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if c, ok = s.caches[shard]; ok {
		return c
	}
	c = trie.NewCachedStorage(trie.NewStoreStorage(s.store, shard.Prefix()), s.cfg.CacheCapacity)
	s.caches[shard] = c
	return c
}

// GetTrie returns a trie of the given shard at the given root backed by the
// shard's shared node cache.
func (s *ShardTries) GetTrie(shard storage.ShardUId, root util.Uint256) *trie.Trie {
	return trie.NewTrie(trie.NodeFromRoot(root), s.cacheFor(shard))
}

// GetViewTrie returns a trie for one-off queries reading the store
// directly, so a historic walk doesn't evict the hot nodes from the shared
// cache.
func (s *ShardTries) GetViewTrie(shard storage.ShardUId, root util.Uint256) *trie.Trie {
	return trie.NewTrie(trie.NodeFromRoot(root), trie.NewStoreStorage(s.store, shard.Prefix()))
}

// RecordingTrie returns a trie that records every node it reads. The
// recorded set is a proof of all operations performed on the trie.
func (s *ShardTries) RecordingTrie(shard storage.ShardUId, root util.Uint256) (*trie.Trie, *trie.RecordingStorage) {
	rs := trie.NewRecordingStorage(s.cacheFor(shard))
	return trie.NewTrie(trie.NodeFromRoot(root), rs), rs
}

func makeHeightKey(col storage.KeyPrefix, shard storage.ShardUId, height uint32) []byte {
	res := make([]byte, 0, 1+storage.PrefixSize+4)
	res = append(res, byte(col))
	res = append(res, shard.Prefix()...)
	return binary.BigEndian.AppendUint32(res, height)
}

func watermarkKey(shard storage.ShardUId) []byte {
	return storage.AppendPrefix(storage.SYSGCWatermark, shard.Prefix())
}

// StateRoot returns the state root the given block committed.
// trie.ErrNotFound is returned for unknown or already pruned heights.
func (s *ShardTries) StateRoot(shard storage.ShardUId, height uint32) (util.Uint256, error) {
	data, err := s.store.Get(makeHeightKey(storage.DataStateRoot, shard, height))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return util.Uint256{}, trie.ErrNotFound
		}
		return util.Uint256{}, err
	}
	return util.Uint256DecodeBytesBE(data)
}

// Commit persists the changes of one block in a single atomic batch: node
// insertions are merged into the refcounted records, the deferred deletions
// and the new root are stored under the block height. A failure leaves the
// state untouched.
func (s *ShardTries) Commit(shard storage.ShardUId, height uint32, ch *trie.TrieChanges) error {
	return s.commit(shard, height, ch, nil, nil)
}

// CommitWithFlat is Commit with the block's flat storage delta carried in
// the same batch, so the trie and the flat index advance atomically.
func (s *ShardTries) CommitWithFlat(shard storage.ShardUId, height uint32, ch *trie.TrieChanges,
	fs *flatstorage.FlatStorage, delta *flatstorage.Delta) error {
	if head := fs.ChainHead(); head+1 != height {
		return fmt.Errorf("%w: chain head %d, committing %d", flatstorage.ErrDeltaGap, head, height)
	}
	// A block can leave the state untouched, its delta record still has to be
	// persisted to keep the on-disk chain contiguous.
	if delta == nil {
		delta = new(flatstorage.Delta)
	}
	return s.commit(shard, height, ch, fs, delta)
}

func (s *ShardTries) commit(shard storage.ShardUId, height uint32, ch *trie.TrieChanges,
	fs *flatstorage.FlatStorage, delta *flatstorage.Delta) error {
	cache := storage.NewMemCachedStore(s.store)
	prefix := shard.Prefix()

	if err := trie.ApplyInsertions(cache, prefix, ch.Insertions); err != nil {
		return err
	}
	data, err := io.ToByteArray(ch)
	if err != nil {
		return err
	}
	cache.Put(makeHeightKey(storage.DataTrieChanges, shard, height), data)
	cache.Put(makeHeightKey(storage.DataStateRoot, shard, height), ch.NewRoot.BytesBE())
	if delta != nil {
		ddata, err := io.ToByteArray(delta)
		if err != nil {
			return err
		}
		cache.Put(flatstorage.DeltaKey(shard, height), ddata)
	}
	if _, err := cache.Persist(); err != nil {
		return err
	}
	if fs != nil {
		if err := fs.AddDelta(height, delta); err != nil {
			return err
		}
	}
	s.log.Debug("block committed",
		zap.Stringer("shard", shard),
		zap.Uint32("height", height),
		zap.Stringer("stateRoot", ch.NewRoot),
		zap.Int("insertions", len(ch.Insertions)),
		zap.Int("deferredDeletions", len(ch.Deletions)))
	return nil
}
