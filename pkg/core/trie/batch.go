package trie

import (
	"bytes"
	"errors"
	"sort"
)

// Batch is a batch of storage changes.
// It stores key-value pairs in a sorted state.
type Batch struct {
	kv []keyValue
}

type keyValue struct {
	key   []byte
	value []byte
}

// Add adds a key-value pair to the batch, a nil value marks a deletion.
// If the key is already present, the value is updated.
func (b *Batch) Add(key []byte, value []byte) {
	path := toNibbles(key)
	i := sort.Search(len(b.kv), func(i int) bool {
		return bytes.Compare(path, b.kv[i].key) <= 0
	})
	if i == len(b.kv) {
		b.kv = append(b.kv, keyValue{path, value})
	} else if bytes.Equal(b.kv[i].key, path) {
		b.kv[i].value = value
	} else {
		b.kv = append(b.kv, keyValue{})
		copy(b.kv[i+1:], b.kv[i:])
		b.kv[i].key = path
		b.kv[i].value = value
	}
}

// Delete marks the key for deletion.
func (b *Batch) Delete(key []byte) {
	b.Add(key, nil)
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	return len(b.kv)
}

// PutBatch applies the batch to the trie in the key-ascending order. It
// returns the number of the elements processed. Deletions of missing keys
// are no-ops. If an error is returned, the trie may be in the intermediate
// state.
func (t *Trie) PutBatch(b Batch) (int, error) {
	for i := range b.kv {
		var err error
		switch {
		case len(b.kv[i].key) > MaxKeyLength*2:
			err = errors.New("key is too big")
		case b.kv[i].value == nil:
			err = t.delete(b.kv[i].key)
		case len(b.kv[i].value) > MaxValueLength:
			err = errors.New("value is too big")
		default:
			err = t.put(b.kv[i].key, b.kv[i].value)
		}
		if err != nil {
			return i, err
		}
	}
	return len(b.kv), nil
}
