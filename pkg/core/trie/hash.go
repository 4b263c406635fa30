package trie

import (
	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

// HashNode represents an MPT's hash node, a collapsed reference to a
// persisted node.
type HashNode struct {
	BaseNode
}

var _ Node = (*HashNode)(nil)

// NewHashNode returns a hash node with the specified hash.
func NewHashNode(h util.Uint256) *HashNode {
	return &HashNode{
		BaseNode: BaseNode{
			hash:      h,
			hashValid: true,
			isFlushed: true,
		},
	}
}

// Type implements Node interface.
func (h *HashNode) Type() NodeType { return HashT }

// Hash implements Node interface.
func (h *HashNode) Hash() util.Uint256 {
	if !h.hashValid {
		panic("can't get hash of an empty HashNode")
	}
	return h.hash
}

// Bytes returns serialized HashNode.
func (h *HashNode) Bytes() []byte {
	return h.getBytes(h)
}

// DecodeBinary implements io.Serializable.
func (h *HashNode) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(h.hash[:])
	h.hashValid = true
	h.isFlushed = true
}

// EncodeBinary implements io.Serializable.
func (h *HashNode) EncodeBinary(w *io.BinWriter) {
	if !h.hashValid {
		return
	}
	w.WriteBytes(h.hash[:])
}
