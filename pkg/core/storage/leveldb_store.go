package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDBStore is the official storage implementation for storing and
// retrieving state data.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
}

// NewLevelDBStore returns a new LevelDBStore object that will
// initialize the database found at the given path.
func NewLevelDBStore(cfg LevelDBOptions) (*LevelDBStore, error) {
	var opts = new(opt.Options)
	if cfg.ReadOnly {
		opts.ReadOnly = true
		opts.ErrorIfMissing = true
	}

	opts.Filter = filter.NewBloomFilter(10)

	if cfg.WriteBufferSize > 0 {
		opts.WriteBuffer = cfg.WriteBufferSize
	}
	if cfg.BlockCacheCapacity > 0 {
		opts.BlockCacheCapacity = cfg.BlockCacheCapacity
	}
	if cfg.CompactionL0Trigger > 0 {
		opts.CompactionL0Trigger = cfg.CompactionL0Trigger
	}
	if cfg.OpenFilesCacheCapacity > 0 {
		opts.OpenFilesCacheCapacity = cfg.OpenFilesCacheCapacity
	}

	db, err := leveldb.OpenFile(cfg.DataDirectoryPath, opts)
	if err != nil {
		return nil, err
	}

	return &LevelDBStore{
		path: cfg.DataDirectoryPath,
		db:   db,
	}, nil
}

// Get implements the Store interface.
func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		err = ErrKeyNotFound
	}
	return value, err
}

// MultiGet implements the Store interface.
func (s *LevelDBStore) MultiGet(keys [][]byte) ([][]byte, error) {
	res := make([][]byte, len(keys))
	for i := range keys {
		value, err := s.db.Get(keys[i], nil)
		if err != nil {
			if errors.Is(err, leveldb.ErrNotFound) {
				continue
			}
			return nil, err
		}
		res[i] = value
	}
	return res, nil
}

// PutChangeSet implements the Store interface.
func (s *LevelDBStore) PutChangeSet(puts map[string][]byte) error {
	b := new(leveldb.Batch)
	for k := range puts {
		if puts[k] != nil {
			b.Put([]byte(k), puts[k])
		} else {
			b.Delete([]byte(k))
		}
	}
	return s.db.Write(b, nil)
}

// Seek implements the Store interface.
func (s *LevelDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	iter := s.db.NewIterator(seekRangeToPrefixes(rng), nil)
	defer iter.Release()

	if !rng.Backwards {
		for iter.Next() {
			if !f(iter.Key(), iter.Value()) {
				break
			}
		}
	} else {
		for ok := iter.Last(); ok; ok = iter.Prev() {
			if !f(iter.Key(), iter.Value()) {
				break
			}
		}
	}
}

// Close implements the Store interface.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
