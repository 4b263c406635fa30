package trie

import (
	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

// EmptyNode represents an empty node.
type EmptyNode struct{}

var _ Node = EmptyNode{}

// DecodeBinary implements io.Serializable interface.
func (e EmptyNode) DecodeBinary(*io.BinReader) {
}

// EncodeBinary implements io.Serializable interface.
func (e EmptyNode) EncodeBinary(*io.BinWriter) {
}

// Hash implements Node interface.
func (e EmptyNode) Hash() util.Uint256 {
	panic("can't get hash of an EmptyNode")
}

// Type implements Node interface.
func (e EmptyNode) Type() NodeType {
	return EmptyT
}

// Bytes implements Node interface.
func (e EmptyNode) Bytes() []byte {
	return nil
}

// IsFlushed implements Node interface.
func (e EmptyNode) IsFlushed() bool {
	return true
}

// SetFlushed implements Node interface.
func (e EmptyNode) SetFlushed() {
}
