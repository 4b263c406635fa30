package trie

import (
	"fmt"

	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

// LeafNode represents an MPT's leaf node.
type LeafNode struct {
	BaseNode
	value ValueRef
}

var _ Node = (*LeafNode)(nil)

// NewLeafNode returns a leaf node with the specified value.
func NewLeafNode(value []byte) *LeafNode {
	return &LeafNode{value: NewValueRef(value)}
}

// Type implements Node interface.
func (n *LeafNode) Type() NodeType { return LeafT }

// Hash implements BaseNode interface.
func (n *LeafNode) Hash() util.Uint256 {
	return n.getHash(n)
}

// Bytes implements BaseNode interface.
func (n *LeafNode) Bytes() []byte {
	return n.getBytes(n)
}

// ValueRef returns the value reference of this leaf.
func (n *LeafNode) ValueRef() *ValueRef {
	return &n.value
}

// DecodeBinary implements io.Serializable.
func (n *LeafNode) DecodeBinary(r *io.BinReader) {
	n.value.DecodeBinary(r)
	if r.Err != nil {
		return
	}
	if sz := n.value.Size(); sz > MaxValueLength {
		r.Err = fmt.Errorf("leaf node value is too big: %d", sz)
		return
	}
	n.invalidateCache()
}

// EncodeBinary implements io.Serializable.
func (n *LeafNode) EncodeBinary(w *io.BinWriter) {
	n.value.EncodeBinary(w)
}
