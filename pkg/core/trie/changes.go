package trie

import (
	"errors"
	"sort"

	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

var errTooManyDeletions = errors.New("too many deletions in a changes record")

// NodeChange is a reference change of a single node or indirected value
// record. RefCount is always positive, the direction is determined by the
// TrieChanges list holding the change. Bytes is nil for deletions.
type NodeChange struct {
	Hash     util.Uint256
	Bytes    []byte
	RefCount int32
}

// TrieChanges is a set of node reference changes produced by one trie
// update. Insertions are to be applied right away, Deletions are deferred
// decrements making the old root unreadable once applied, so they're
// persisted and replayed by the garbage collector when the old root falls
// out of the retention window. Both lists are sorted by hash.
type TrieChanges struct {
	OldRoot    util.Uint256
	NewRoot    util.Uint256
	Insertions []NodeChange
	Deletions  []NodeChange
}

// Update applies b to the trie and returns the accumulated reference
// changes. The trie is left at the new root with an empty ledger. On error
// the trie state is unspecified and the instance must be discarded.
func (t *Trie) Update(b Batch) (*TrieChanges, error) {
	old := t.StateRoot()
	if _, err := t.PutBatch(b); err != nil {
		return nil, err
	}
	t.Flush()
	return t.CollectChanges(old), nil
}

// CollectChanges drains the reference ledger into a TrieChanges. It must be
// called after Flush, otherwise the newly created nodes aren't accounted
// for. Entries with a net zero change are dropped.
func (t *Trie) CollectChanges(oldRoot util.Uint256) *TrieChanges {
	ch := &TrieChanges{
		OldRoot: oldRoot,
		NewRoot: t.StateRoot(),
	}
	for h, node := range t.refcount {
		switch {
		case node.refcount > 0:
			if node.bytes == nil {
				panic("missing bytes in the reference ledger")
			}
			ch.Insertions = append(ch.Insertions, NodeChange{
				Hash:     h,
				Bytes:    node.bytes,
				RefCount: node.refcount,
			})
		case node.refcount < 0:
			ch.Deletions = append(ch.Deletions, NodeChange{
				Hash:     h,
				RefCount: -node.refcount,
			})
		}
		delete(t.refcount, h)
	}
	sort.Slice(ch.Insertions, func(i, j int) bool {
		return ch.Insertions[i].Hash.CompareTo(ch.Insertions[j].Hash) < 0
	})
	sort.Slice(ch.Deletions, func(i, j int) bool {
		return ch.Deletions[i].Hash.CompareTo(ch.Deletions[j].Hash) < 0
	})
	return ch
}

// EncodeBinary implements io.Serializable. Only the roots and the deferred
// deletions are persisted, insertions are never written in this form.
func (ch *TrieChanges) EncodeBinary(w *io.BinWriter) {
	w.WriteBytes(ch.OldRoot[:])
	w.WriteBytes(ch.NewRoot[:])
	w.WriteVarUint(uint64(len(ch.Deletions)))
	for i := range ch.Deletions {
		w.WriteBytes(ch.Deletions[i].Hash[:])
		w.WriteU32LE(uint32(ch.Deletions[i].RefCount))
	}
}

// DecodeBinary implements io.Serializable.
func (ch *TrieChanges) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(ch.OldRoot[:])
	r.ReadBytes(ch.NewRoot[:])
	sz := r.ReadVarUint()
	if r.Err != nil {
		return
	}
	if sz > io.MaxArraySize {
		r.Err = errTooManyDeletions
		return
	}
	ch.Insertions = nil
	ch.Deletions = make([]NodeChange, sz)
	for i := range ch.Deletions {
		r.ReadBytes(ch.Deletions[i].Hash[:])
		ch.Deletions[i].RefCount = int32(r.ReadU32LE())
	}
}
