package trie

import (
	"fmt"

	"github.com/statera-project/statera/pkg/crypto/hash"
	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

const (
	// MaxInlineValueLen is the maximum length of a value stored inside a leaf
	// node. Longer values are stored as separate refcounted records and the
	// leaf keeps their content hash. The threshold is a part of the state
	// commitment, changing it changes every root.
	MaxInlineValueLen = 64

	// MaxValueLength is the max length of a value stored by a leaf node.
	MaxValueLength = 65535
)

// ValueRef is the value part of a leaf node, either an inline payload or a
// content hash of a separately stored record together with the payload size.
type ValueRef struct {
	inline bool
	value  []byte
	hash   util.Uint256
	size   uint32
}

// NewValueRef returns a ValueRef for the given payload, deciding between
// inline and indirected representation by the payload length only.
func NewValueRef(value []byte) ValueRef {
	if len(value) <= MaxInlineValueLen {
		return ValueRef{inline: true, value: value}
	}
	return ValueRef{
		value: value,
		hash:  hash.DoubleSha256(value),
		size:  uint32(len(value)),
	}
}

// IsInline returns true if the payload is stored inside the leaf itself.
func (v *ValueRef) IsInline() bool {
	return v.inline
}

// Hash returns the content hash of an indirected payload. It panics for
// inline values.
func (v *ValueRef) Hash() util.Uint256 {
	if v.inline {
		panic("can't get hash of an inline value")
	}
	return v.hash
}

// Size returns the payload length.
func (v *ValueRef) Size() uint32 {
	if v.inline {
		return uint32(len(v.value))
	}
	return v.size
}

// Value returns the payload if it is known, nil for an unresolved
// indirected value.
func (v *ValueRef) Value() []byte {
	return v.value
}

// EncodeBinary implements io.Serializable.
func (v *ValueRef) EncodeBinary(w *io.BinWriter) {
	w.WriteBool(v.inline)
	if v.inline {
		w.WriteVarBytes(v.value)
		return
	}
	w.WriteU32LE(v.size)
	w.WriteBytes(v.hash[:])
}

// DecodeBinary implements io.Serializable.
func (v *ValueRef) DecodeBinary(r *io.BinReader) {
	v.inline = r.ReadBool()
	if v.inline {
		v.value = r.ReadVarBytes(MaxInlineValueLen)
		v.hash = util.Uint256{}
		v.size = 0
		return
	}
	v.value = nil
	v.size = r.ReadU32LE()
	r.ReadBytes(v.hash[:])
	if r.Err == nil && v.size <= MaxInlineValueLen {
		r.Err = fmt.Errorf("indirected value is too small: %d", v.size)
	}
}
