package trie

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/crypto/hash"
	"github.com/statera-project/statera/pkg/util"
	"github.com/statera-project/statera/pkg/util/slice"
)

var (
	// ErrNotFound is returned when the requested trie item is missing.
	ErrNotFound = errors.New("item not found")
	// ErrInconsistentState is returned when a decoded record does not match
	// its expected content hash or a refcount invariant is violated. It
	// indicates either a database corruption or a logic bug and must never
	// be masked.
	ErrInconsistentState = errors.New("inconsistent state")
)

// Storage provides retrieval of serialized trie nodes and indirected value
// records by their content hash.
type Storage interface {
	Retrieve(h util.Uint256) ([]byte, error)
}

// StoreStorage reads records directly from one shard's DataTrie column of
// the backing store stripping the refcount suffix.
type StoreStorage struct {
	store  storage.Store
	prefix []byte
}

var _ Storage = (*StoreStorage)(nil)

// NewStoreStorage creates a StoreStorage for the given shard key prefix.
func NewStoreStorage(st storage.Store, shardPrefix []byte) *StoreStorage {
	return &StoreStorage{
		store:  st,
		prefix: storage.AppendPrefix(storage.DataTrie, shardPrefix),
	}
}

// MakeStorageKey returns the DataTrie key for the given content hash.
func (s *StoreStorage) MakeStorageKey(h util.Uint256) []byte {
	key := make([]byte, 0, len(s.prefix)+util.Uint256Size)
	key = append(key, s.prefix...)
	return append(key, h[:]...)
}

// Retrieve implements the Storage interface.
func (s *StoreStorage) Retrieve(h util.Uint256) ([]byte, error) {
	data, err := s.store.Get(s.MakeStorageKey(h))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to retrieve %s: %w", h.StringBE(), err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated record for %s", ErrInconsistentState, h.StringBE())
	}
	bs := data[:len(data)-4]
	if !hash.DoubleSha256(bs).Equals(h) {
		return nil, fmt.Errorf("%w: content hash mismatch for %s", ErrInconsistentState, h.StringBE())
	}
	return bs, nil
}

// RefCount returns the stored reference counter of the given record, zero
// for the missing ones.
func (s *StoreStorage) RefCount(h util.Uint256) (int32, error) {
	data, err := s.store.Get(s.MakeStorageKey(h))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: truncated record for %s", ErrInconsistentState, h.StringBE())
	}
	return int32(binary.LittleEndian.Uint32(data[len(data)-4:])), nil
}

// CachedStorage is a bounded thread-safe LRU cache on top of another
// Storage. It is shared between all Trie instances of one shard so that
// repeated block processing amortizes the decode/IO cost.
type CachedStorage struct {
	inner Storage
	cache *lru.Cache
}

var _ Storage = (*CachedStorage)(nil)

// NewCachedStorage wraps inner with an LRU cache of the given capacity.
func NewCachedStorage(inner Storage, capacity int) *CachedStorage {
	if capacity <= 0 {
		capacity = 1
	}
	c, _ := lru.New(capacity) // Never errors for positive size.
	return &CachedStorage{
		inner: inner,
		cache: c,
	}
}

// Retrieve implements the Storage interface.
func (s *CachedStorage) Retrieve(h util.Uint256) ([]byte, error) {
	if bs, ok := s.cache.Get(h); ok {
		cacheHits.Inc()
		return bs.([]byte), nil
	}
	cacheMisses.Inc()
	bs, err := s.inner.Retrieve(h)
	if err != nil {
		return nil, err
	}
	s.cache.Add(h, bs)
	return bs, nil
}

// RecordingStorage wraps another Storage recording the exact set of records
// read through it. The recorded set is a minimal partial trie sufficient to
// re-run the operations against a known root, i.e. a proof.
type RecordingStorage struct {
	inner Storage

	mut      sync.Mutex
	recorded map[util.Uint256][]byte
}

var _ Storage = (*RecordingStorage)(nil)

// NewRecordingStorage wraps inner with a recording layer.
func NewRecordingStorage(inner Storage) *RecordingStorage {
	return &RecordingStorage{
		inner:    inner,
		recorded: make(map[util.Uint256][]byte),
	}
}

// Retrieve implements the Storage interface.
func (s *RecordingStorage) Retrieve(h util.Uint256) ([]byte, error) {
	bs, err := s.inner.Retrieve(h)
	if err != nil {
		return nil, err
	}
	s.mut.Lock()
	s.recorded[h] = bs
	s.mut.Unlock()
	return bs, nil
}

// Recorded returns the set of records read through s so far ordered by
// their content hash.
func (s *RecordingStorage) Recorded() [][]byte {
	s.mut.Lock()
	defer s.mut.Unlock()
	hashes := make([]util.Uint256, 0, len(s.recorded))
	for h := range s.recorded {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].CompareTo(hashes[j]) < 0
	})
	res := make([][]byte, len(hashes))
	for i := range hashes {
		res[i] = slice.Copy(s.recorded[hashes[i]])
	}
	return res
}

// ProofStorage is a map-backed Storage built from a proof's record set.
// Every record is verified against its content hash on construction.
type ProofStorage struct {
	nodes map[util.Uint256][]byte
}

var _ Storage = (*ProofStorage)(nil)

// NewProofStorage creates a ProofStorage from the given proof.
func NewProofStorage(proof [][]byte) *ProofStorage {
	nodes := make(map[util.Uint256][]byte, len(proof))
	for i := range proof {
		nodes[hash.DoubleSha256(proof[i])] = proof[i]
	}
	return &ProofStorage{nodes: nodes}
}

// Retrieve implements the Storage interface.
func (s *ProofStorage) Retrieve(h util.Uint256) ([]byte, error) {
	bs, ok := s.nodes[h]
	if !ok {
		return nil, ErrNotFound
	}
	return bs, nil
}
