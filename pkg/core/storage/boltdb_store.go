package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// Bucket represents bucket used in boltdb to store all the data.
var Bucket = []byte("DB")

// BoltDBStore it is the storage implementation for storing and retrieving
// state data.
type BoltDBStore struct {
	db *bbolt.DB
}

// NewBoltDBStore returns a new ready to use BoltDB storage with created bucket.
func NewBoltDBStore(cfg BoltDBOptions) (*BoltDBStore, error) {
	cp := *bbolt.DefaultOptions
	cp.ReadOnly = cfg.ReadOnly
	fileMode := os.FileMode(0600)
	fileName := cfg.FilePath
	if err := os.MkdirAll(filepath.Dir(fileName), os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create dir for BoltDB: %w", err)
	}
	db, err := bbolt.Open(fileName, fileMode, &cp)
	if err != nil {
		return nil, err
	}
	if !cfg.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err = tx.CreateBucketIfNotExists(Bucket)
			if err != nil {
				return fmt.Errorf("could not create root bucket: %w", err)
			}
			return nil
		})
		if err != nil {
			closeErr := db.Close()
			err = fmt.Errorf("failed to initialize BoltDB instance: %w", err)
			if closeErr != nil {
				err = fmt.Errorf("%w, failed to close BoltDB instance: %v", err, closeErr)
			}
			return nil, err
		}
	}

	return &BoltDBStore{db: db}, nil
}

// Get implements the Store interface.
func (s *BoltDBStore) Get(key []byte) (val []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		// Value from Get is only valid for the lifetime of transaction.
		v := b.Get(key)
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	if val == nil {
		err = ErrKeyNotFound
	}
	return
}

// MultiGet implements the Store interface.
func (s *BoltDBStore) MultiGet(keys [][]byte) ([][]byte, error) {
	res := make([][]byte, len(keys))
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		for i := range keys {
			v := b.Get(keys[i])
			if v != nil {
				res[i] = make([]byte, len(v))
				copy(res[i], v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PutChangeSet implements the Store interface.
func (s *BoltDBStore) PutChangeSet(puts map[string][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(Bucket)
		for k := range puts {
			var err error
			if puts[k] != nil {
				err = b.Put([]byte(k), puts[k])
			} else {
				err = b.Delete([]byte(k))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Seek implements the Store interface.
func (s *BoltDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	start := make([]byte, len(rng.Prefix)+len(rng.Start))
	copy(start, rng.Prefix)
	copy(start[len(rng.Prefix):], rng.Start)

	if rng.Backwards {
		s.seekBackwards(rng.Prefix, start, len(rng.Start) != 0, f)
	} else {
		s.seek(rng.Prefix, start, f)
	}
}

func (s *BoltDBStore) seek(key []byte, start []byte, f func(k, v []byte) bool) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(Bucket).Cursor()
		for k, v := c.Seek(start); k != nil && bytes.HasPrefix(k, key); k, v = c.Next() {
			if !f(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
}

func (s *BoltDBStore) seekBackwards(prefix []byte, start []byte, hasStart bool, f func(k, v []byte) bool) {
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(Bucket).Cursor()
		var k, v []byte
		if hasStart {
			// The start key itself is included into the result.
			k, v = c.Seek(start)
			if k == nil {
				k, v = c.Last()
			} else if bytes.Compare(k, start) > 0 {
				k, v = c.Prev()
			}
		} else {
			// Position at the last key of the prefix range.
			limit := upperBound(prefix)
			if limit == nil {
				k, v = c.Last()
			} else if k, v = c.Seek(limit); k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			if !f(k, v) {
				break
			}
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// upperBound returns the smallest key which is larger than any key with the
// given prefix, nil if there is none.
func upperBound(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			limit := make([]byte, i+1)
			copy(limit, prefix)
			limit[i]++
			return limit
		}
	}
	return nil
}

// Close implements the Store interface.
func (s *BoltDBStore) Close() error {
	return s.db.Close()
}
