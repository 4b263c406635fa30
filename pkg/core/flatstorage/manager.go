package flatstorage

import (
	"errors"
	"sync"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/core/trie"
	"go.uber.org/zap"
)

// FlatStorages manages per-shard flat storage instances over one store.
type FlatStorages struct {
	store storage.Store
	log   *zap.Logger

	mtx    sync.RWMutex
	shards map[storage.ShardUId]*FlatStorage
}

// NewFlatStorages creates an empty manager, shard instances are loaded
// lazily on first use.
func NewFlatStorages(st storage.Store, log *zap.Logger) *FlatStorages {
	if log == nil {
		log = zap.NewNop()
	}
	return &FlatStorages{
		store:  st,
		log:    log,
		shards: make(map[storage.ShardUId]*FlatStorage),
	}
}

// Get returns the flat storage of the given shard loading it from the store
// on first access.
func (f *FlatStorages) Get(shard storage.ShardUId) (*FlatStorage, error) {
	f.mtx.RLock()
	fs, ok := f.shards[shard]
	f.mtx.RUnlock()
	if ok {
		return fs, nil
	}

	f.mtx.Lock()
	defer f.mtx.Unlock()
	if fs, ok = f.shards[shard]; ok {
		return fs, nil
	}
	fs, err := NewFlatStorage(f.store, shard)
	if err != nil {
		return nil, err
	}
	f.log.Info("flat storage loaded",
		zap.Stringer("shard", shard),
		zap.Uint32("flatHead", fs.FlatHead()),
		zap.Uint32("chainHead", fs.ChainHead()))
	f.shards[shard] = fs
	return fs, nil
}

// RebuildTask is a single shard rebuild request, the trie must be at the
// state of the given height.
type RebuildTask struct {
	Shard  storage.ShardUId
	Trie   *trie.Trie
	Height uint32
}

// Rebuild rebuilds the flat storages of the given shards from their tries,
// one goroutine per shard. It returns the combined error of all failed
// shards, the successful ones stay rebuilt.
func (f *FlatStorages) Rebuild(tasks ...RebuildTask) error {
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(tasks))
	)
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := tasks[i]
			fs, err := f.Get(task.Shard)
			if err != nil {
				// A shard with a broken delta chain can't be loaded, rebuild
				// recovers it from a blank instance.
				f.log.Warn("flat storage is unusable, rebuilding from scratch",
					zap.Stringer("shard", task.Shard), zap.Error(err))
				fs = &FlatStorage{
					store:  f.store,
					shard:  task.Shard,
					prefix: task.Shard.Prefix(),
				}
			}
			f.log.Info("rebuilding flat storage",
				zap.Stringer("shard", task.Shard),
				zap.Uint32("height", task.Height))
			if rerr := fs.Rebuild(task.Trie, task.Height); rerr != nil {
				f.log.Error("flat storage rebuild failed",
					zap.Stringer("shard", task.Shard), zap.Error(rerr))
				errs[i] = rerr
				return
			}
			if err != nil {
				f.mtx.Lock()
				f.shards[task.Shard] = fs
				f.mtx.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return errors.Join(errs...)
}
