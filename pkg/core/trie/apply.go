package trie

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/util"
)

// refStore is the mutable store surface needed to apply reference changes,
// normally a MemCachedStore collecting one atomic batch.
type refStore interface {
	Get([]byte) ([]byte, error)
	Put(key, value []byte)
	Delete(key []byte)
}

func makeRecordKey(shardPrefix []byte, h util.Uint256) []byte {
	key := make([]byte, 0, 1+len(shardPrefix)+util.Uint256Size)
	key = append(key, byte(storage.DataTrie))
	key = append(key, shardPrefix...)
	return append(key, h[:]...)
}

// ApplyInsertions merges the given insertions into the shard's DataTrie
// records incrementing the reference counters of the already present ones.
func ApplyInsertions(st refStore, shardPrefix []byte, ins []NodeChange) error {
	for i := range ins {
		key := makeRecordKey(shardPrefix, ins[i].Hash)
		cnt := ins[i].RefCount
		old, err := st.Get(key)
		if err == nil {
			if len(old) < 4 {
				return fmt.Errorf("%w: truncated record for %s", ErrInconsistentState, ins[i].Hash.StringBE())
			}
			cnt += int32(binary.LittleEndian.Uint32(old[len(old)-4:]))
		} else if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}
		data := make([]byte, len(ins[i].Bytes)+4)
		copy(data, ins[i].Bytes)
		binary.LittleEndian.PutUint32(data[len(ins[i].Bytes):], uint32(cnt))
		st.Put(key, data)
	}
	return nil
}

// ApplyDeletions decrements the reference counters of the given records
// removing the ones dropping to zero. A missing record or an underflow
// means the counters have diverged from the trie contents.
func ApplyDeletions(st refStore, shardPrefix []byte, del []NodeChange) error {
	for i := range del {
		key := makeRecordKey(shardPrefix, del[i].Hash)
		old, err := st.Get(key)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				return fmt.Errorf("%w: missing record %s on deletion", ErrInconsistentState, del[i].Hash.StringBE())
			}
			return err
		}
		if len(old) < 4 {
			return fmt.Errorf("%w: truncated record for %s", ErrInconsistentState, del[i].Hash.StringBE())
		}
		cnt := int32(binary.LittleEndian.Uint32(old[len(old)-4:])) - del[i].RefCount
		if cnt < 0 {
			return fmt.Errorf("%w: refcount underflow for %s", ErrInconsistentState, del[i].Hash.StringBE())
		}
		if cnt == 0 {
			st.Delete(key)
			continue
		}
		data := make([]byte, len(old))
		copy(data, old[:len(old)-4])
		binary.LittleEndian.PutUint32(data[len(old)-4:], uint32(cnt))
		st.Put(key, data)
	}
	return nil
}
