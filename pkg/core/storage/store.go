package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// KeyPrefix constants. Each prefix is a column of the backing store with its
// own key/value encoding discipline.
const (
	// DataTrie is used for refcounted trie node and value records. The key is
	// a shard prefix followed by the content hash, the value is the record
	// bytes followed by a 4-byte little-endian reference counter.
	DataTrie KeyPrefix = 0x01
	// DataTrieChanges stores per-block deferred refcount decrements. The key
	// is a shard prefix followed by a big-endian block height, the value is a
	// serialized deletions list.
	DataTrieChanges KeyPrefix = 0x02
	// DataStateRoot maps a shard prefix plus a big-endian block height to the
	// state root recorded for that block.
	DataStateRoot KeyPrefix = 0x03
	// DataFlatState is the flat storage base mapping, shard prefix plus
	// logical key to raw value.
	DataFlatState KeyPrefix = 0x04
	// DataFlatDelta stores per-block flat storage deltas, shard prefix plus
	// big-endian block height to a serialized change list.
	DataFlatDelta KeyPrefix = 0x05
	// SYSFlatHead stores the block height up to which the flat storage base
	// mapping of a shard is fully materialized.
	SYSFlatHead KeyPrefix = 0xc0
	// SYSGCWatermark stores the block height up to which trie garbage
	// collection of a shard has been performed.
	SYSGCWatermark KeyPrefix = 0xc1
	// SYSVersion denotes the version of the database.
	SYSVersion KeyPrefix = 0xf0
)

// SeekRange represents options for Store.Seek operation.
type SeekRange struct {
	// Prefix denotes the Seek's lookup key.
	// Empty Prefix is not supported.
	Prefix []byte
	// Start denotes value appended to the Prefix to start Seek from.
	// Seeking starting from some key includes this key to the result;
	// if no matching key was found then next suitable key is picked up.
	// Start may be empty. Empty Start means seeking through all keys in
	// the DB with matching Prefix.
	Start []byte
	// Backwards denotes whether Seek direction should be reversed, i.e.
	// whether seeking should be performed in a descending way.
	// Backwards can be safely combined with Prefix and Start.
	Backwards bool
}

// ErrKeyNotFound is an error returned by Store implementations
// when a certain key is not found.
var ErrKeyNotFound = errors.New("key not found")

type (
	// Store is the underlying KV backend for the state data. It's not
	// intended to be used directly, you wrap it with some memory cache
	// layer most of the time.
	Store interface {
		Get([]byte) ([]byte, error)
		// MultiGet returns values for the provided set of keys keeping the
		// order, missing keys are represented by nil entries in the result.
		MultiGet(keys [][]byte) ([][]byte, error)
		// PutChangeSet allows to push a prepared changeset to the Store, nil
		// value means removal of the corresponding key. It's an atomic batch,
		// either the whole changeset becomes visible or none of it does.
		PutChangeSet(puts map[string][]byte) error
		// Seek can guarantee that provided key (k) and value (v) are the only valid until the next call to f.
		// Seek continues iteration until false is returned from f.
		// Key and value slices should not be modified.
		// Seek can guarantee that key-value items are sorted by key in ascending way.
		Seek(rng SeekRange, f func(k, v []byte) bool)
		Close() error
	}

	// KeyPrefix is a constant byte added as a prefix for each key
	// stored.
	KeyPrefix uint8
)

// AppendPrefix appends byteslice b to the given KeyPrefix.
func AppendPrefix(k KeyPrefix, b []byte) []byte {
	dest := make([]byte, len(b)+1)
	dest[0] = byte(k)
	copy(dest[1:], b)
	return dest
}

func seekRangeToPrefixes(sr SeekRange) *util.Range {
	var (
		rang  *util.Range
		start = make([]byte, len(sr.Prefix)+len(sr.Start))
	)
	copy(start, sr.Prefix)
	copy(start[len(sr.Prefix):], sr.Start)

	if !sr.Backwards {
		rang = util.BytesPrefix(sr.Prefix)
		rang.Start = start
	} else {
		rang = util.BytesPrefix(start)
		rang.Start = sr.Prefix
	}
	return rang
}

// NewStore creates storage with preselected in configuration database type.
func NewStore(cfg DBConfiguration) (Store, error) {
	var store Store
	var err error
	switch cfg.Type {
	case "leveldb":
		store, err = NewLevelDBStore(cfg.LevelDBOptions)
	case "inmemory":
		store = NewMemoryStore()
	case "boltdb":
		store, err = NewBoltDBStore(cfg.BoltDBOptions)
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
	return store, err
}
