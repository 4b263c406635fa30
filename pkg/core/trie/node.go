package trie

import (
	"fmt"

	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

// NodeType represents a node type.
type NodeType byte

// Node types definitions.
const (
	BranchT    NodeType = 0x00
	ExtensionT NodeType = 0x01
	HashT      NodeType = 0x02
	LeafT      NodeType = 0x03
	EmptyT     NodeType = 0x04
)

// NodeObject represents a Node together with its type.
// It is used for serialization/deserialization where type info
// is also expected.
type NodeObject struct {
	Node
}

// Node represents a common interface of all trie nodes.
type Node interface {
	io.Serializable
	BaseNodeIface
}

// EncodeBinary implements io.Serializable.
func (n NodeObject) EncodeBinary(w *io.BinWriter) {
	encodeNodeWithType(n.Node, w)
}

// DecodeBinary implements io.Serializable.
func (n *NodeObject) DecodeBinary(r *io.BinReader) {
	typ := NodeType(r.ReadB())
	switch typ {
	case BranchT:
		n.Node = new(BranchNode)
	case ExtensionT:
		n.Node = new(ExtensionNode)
	case HashT:
		n.Node = new(HashNode)
	case LeafT:
		n.Node = new(LeafNode)
	case EmptyT:
		n.Node = EmptyNode{}
	default:
		r.Err = fmt.Errorf("invalid node type: %x", typ)
		return
	}
	n.Node.DecodeBinary(r)
}

// encodeNodeWithType encodes node together with its type.
func encodeNodeWithType(n Node, w *io.BinWriter) {
	w.WriteB(byte(n.Type()))
	n.EncodeBinary(w)
}

// DecodeNodeWithType decodes node together with its type.
func DecodeNodeWithType(r *io.BinReader) Node {
	if r.Err != nil {
		return nil
	}
	var n NodeObject
	n.DecodeBinary(r)
	return n.Node
}

// toBytes is a helper for serializing node.
func toBytes(n Node) []byte {
	buf := io.NewBufBinWriter()
	encodeNodeWithType(n, buf.BinWriter)
	return buf.Bytes()
}

// encodeBinaryAsChild writes n to the w as a child of another node, i.e.
// replacing all non-empty nodes by their hash references.
func encodeBinaryAsChild(n Node, w *io.BinWriter) {
	if isEmpty(n) {
		w.WriteB(byte(EmptyT))
		return
	}
	w.WriteB(byte(HashT))
	h := n.Hash()
	w.WriteBytes(h[:])
}

// isEmpty returns true iff the node is an EmptyNode.
func isEmpty(n Node) bool {
	_, ok := n.(EmptyNode)
	return ok
}

// hashFromChild is a decoding helper reading a child node reference.
func hashFromChild(r *io.BinReader) Node {
	typ := NodeType(r.ReadB())
	switch typ {
	case EmptyT:
		return EmptyNode{}
	case HashT:
		var h util.Uint256
		r.ReadBytes(h[:])
		return NewHashNode(h)
	default:
		r.Err = fmt.Errorf("unexpected child node type: %x", typ)
		return nil
	}
}
