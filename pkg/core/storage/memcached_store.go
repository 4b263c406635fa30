package storage

import (
	"bytes"
	"sync"
)

// MemCachedStore is a wrapper around a persistent store that caches all
// changes being made for them to be later flushed in one atomic batch.
type MemCachedStore struct {
	mut sync.RWMutex
	mem map[string][]byte
	del map[string]bool

	// Persistent Store.
	ps Store
}

type (
	// KeyValue represents a key-value pair.
	KeyValue struct {
		Key   []byte
		Value []byte
	}

	// MemBatch represents a changeset to be persisted.
	MemBatch struct {
		Put     []KeyValue
		Deleted [][]byte
	}
)

// NewMemCachedStore creates a new MemCachedStore object.
func NewMemCachedStore(lower Store) *MemCachedStore {
	return &MemCachedStore{
		mem: make(map[string][]byte),
		del: make(map[string]bool),
		ps:  lower,
	}
}

// Get implements the Store interface.
func (s *MemCachedStore) Get(key []byte) ([]byte, error) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	k := string(key)
	if val, ok := s.mem[k]; ok {
		return val, nil
	}
	if s.del[k] {
		return nil, ErrKeyNotFound
	}
	return s.ps.Get(key)
}

// MultiGet implements the Store interface.
func (s *MemCachedStore) MultiGet(keys [][]byte) ([][]byte, error) {
	res := make([][]byte, len(keys))
	missing := make([][]byte, 0, len(keys))
	missingIdx := make([]int, 0, len(keys))

	s.mut.RLock()
	defer s.mut.RUnlock()
	for i := range keys {
		k := string(keys[i])
		if val, ok := s.mem[k]; ok {
			res[i] = val
			continue
		}
		if s.del[k] {
			continue
		}
		missing = append(missing, keys[i])
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return res, nil
	}
	lower, err := s.ps.MultiGet(missing)
	if err != nil {
		return nil, err
	}
	for i := range lower {
		res[missingIdx[i]] = lower[i]
	}
	return res, nil
}

// Put puts a new KV pair into the store. Never returns an error.
func (s *MemCachedStore) Put(key, value []byte) {
	k := string(key)
	s.mut.Lock()
	s.mem[k] = value
	delete(s.del, k)
	s.mut.Unlock()
}

// Delete drops a KV pair from the store. Never returns an error.
func (s *MemCachedStore) Delete(key []byte) {
	k := string(key)
	s.mut.Lock()
	delete(s.mem, k)
	s.del[k] = true
	s.mut.Unlock()
}

// GetBatch returns the currently accumulated changeset.
func (s *MemCachedStore) GetBatch() *MemBatch {
	s.mut.RLock()
	defer s.mut.RUnlock()

	var b MemBatch

	b.Put = make([]KeyValue, 0, len(s.mem))
	for k, v := range s.mem {
		b.Put = append(b.Put, KeyValue{Key: []byte(k), Value: v})
	}

	b.Deleted = make([][]byte, 0, len(s.del))
	for k := range s.del {
		b.Deleted = append(b.Deleted, []byte(k))
	}

	return &b
}

// Seek implements the Store interface. The overlay changes shadow the
// persisted items, deleted keys are skipped.
func (s *MemCachedStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	less := func(k1, k2 []byte) bool {
		res := bytes.Compare(k1, k2)
		return res != 0 && rng.Backwards == (res > 0)
	}

	var memList []KeyValue
	seekMap(s.mem, rng, func(k, v []byte) bool {
		memList = append(memList, KeyValue{Key: k, Value: v})
		return true
	})

	var (
		i    int
		stop bool
	)
	s.ps.Seek(rng, func(k, v []byte) bool {
		for i < len(memList) && less(memList[i].Key, k) {
			if !f(memList[i].Key, memList[i].Value) {
				stop = true
				return false
			}
			i++
		}
		if i < len(memList) && bytes.Equal(memList[i].Key, k) {
			// Overlay shadows the persisted value.
			if !f(memList[i].Key, memList[i].Value) {
				stop = true
				return false
			}
			i++
			return true
		}
		if s.del[string(k)] {
			return true
		}
		if !f(k, v) {
			stop = true
			return false
		}
		return true
	})
	if stop {
		return
	}
	for ; i < len(memList); i++ {
		if !f(memList[i].Key, memList[i].Value) {
			break
		}
	}
}

// PutChangeSet implements the Store interface. Never returns an error.
func (s *MemCachedStore) PutChangeSet(puts map[string][]byte) error {
	s.mut.Lock()
	for k := range puts {
		if puts[k] != nil {
			s.mem[k] = puts[k]
			delete(s.del, k)
		} else {
			delete(s.mem, k)
			s.del[k] = true
		}
	}
	s.mut.Unlock()
	return nil
}

// Persist flushes all the MemCachedStore contents into the (supposedly)
// persistent store ps in a single atomic changeset. It returns the number
// of persisted KV pairs.
func (s *MemCachedStore) Persist() (int, error) {
	s.mut.Lock()
	defer s.mut.Unlock()

	keys := len(s.mem) + len(s.del)
	if keys == 0 {
		return 0, nil
	}

	puts := make(map[string][]byte, keys)
	for k, v := range s.mem {
		puts[k] = v
	}
	for k := range s.del {
		puts[k] = nil
	}
	if err := s.ps.PutChangeSet(puts); err != nil {
		return 0, err
	}
	s.mem = make(map[string][]byte)
	s.del = make(map[string]bool)
	return keys, nil
}

// Close implements the Store interface, it closes the memcached store
// together with the underlying persistent store.
func (s *MemCachedStore) Close() error {
	s.mut.Lock()
	s.mem = nil
	s.del = nil
	s.mut.Unlock()
	return s.ps.Close()
}
