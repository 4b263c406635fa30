package flatstorage

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/statera-project/statera/pkg/io"
)

// KV is a single flat state change. A nil Value is a deletion tombstone,
// while an empty one is a regular value.
type KV struct {
	Key   []byte
	Value []byte
}

// Delta is the ordered set of flat state changes produced by one block.
// It is built once during block processing and never changes afterwards.
type Delta struct {
	kvs []KV
}

// Add adds a key-value pair to the delta, the last value for a key wins.
func (d *Delta) Add(key, value []byte) {
	i := sort.Search(len(d.kvs), func(i int) bool {
		return bytes.Compare(key, d.kvs[i].Key) <= 0
	})
	if i == len(d.kvs) {
		d.kvs = append(d.kvs, KV{key, value})
	} else if bytes.Equal(d.kvs[i].Key, key) {
		d.kvs[i].Value = value
	} else {
		d.kvs = append(d.kvs, KV{})
		copy(d.kvs[i+1:], d.kvs[i:])
		d.kvs[i] = KV{key, value}
	}
}

// Delete adds a deletion tombstone for the key.
func (d *Delta) Delete(key []byte) {
	d.Add(key, nil)
}

// Len returns the number of changes in the delta.
func (d *Delta) Len() int {
	return len(d.kvs)
}

// Get returns the change for the given key. The second result tells whether
// the delta has anything for the key at all, a (nil, true) return is a
// tombstone.
func (d *Delta) Get(key []byte) ([]byte, bool) {
	i := sort.Search(len(d.kvs), func(i int) bool {
		return bytes.Compare(key, d.kvs[i].Key) <= 0
	})
	if i < len(d.kvs) && bytes.Equal(d.kvs[i].Key, key) {
		return d.kvs[i].Value, true
	}
	return nil, false
}

// EncodeBinary implements io.Serializable.
func (d *Delta) EncodeBinary(w *io.BinWriter) {
	w.WriteVarUint(uint64(len(d.kvs)))
	for i := range d.kvs {
		w.WriteVarBytes(d.kvs[i].Key)
		w.WriteBool(d.kvs[i].Value != nil)
		if d.kvs[i].Value != nil {
			w.WriteVarBytes(d.kvs[i].Value)
		}
	}
}

// DecodeBinary implements io.Serializable.
func (d *Delta) DecodeBinary(r *io.BinReader) {
	sz := r.ReadVarUint()
	if r.Err != nil {
		return
	}
	if sz > io.MaxArraySize {
		r.Err = fmt.Errorf("too many changes in a delta: %d", sz)
		return
	}
	d.kvs = make([]KV, sz)
	for i := range d.kvs {
		d.kvs[i].Key = r.ReadVarBytes()
		if r.ReadBool() {
			d.kvs[i].Value = r.ReadVarBytes()
			if d.kvs[i].Value == nil {
				d.kvs[i].Value = []byte{}
			}
		}
	}
}
