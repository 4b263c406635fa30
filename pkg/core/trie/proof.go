package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/statera-project/statera/pkg/util"
)

// GetProof returns a set of serialized trie nodes proving the presence or
// the absence of the key at the current root. For an indirected value the
// payload record is included as well. The proof can be checked against the
// root hash with VerifyProof.
func (t *Trie) GetProof(key []byte) ([][]byte, error) {
	if len(key) > MaxKeyLength {
		return nil, errors.New("key is too big")
	}
	var proof [][]byte
	path := toNibbles(key)
	r, err := t.getProof(t.root, path, &proof)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The nodes collected up to the divergence point prove the
			// absence.
			return proof, nil
		}
		return nil, err
	}
	t.root = r
	return proof, nil
}

func (t *Trie) getProof(curr Node, path []byte, proofs *[][]byte) (Node, error) {
	switch n := curr.(type) {
	case *LeafNode:
		*proofs = append(*proofs, copySlice(n.Bytes()))
		if len(path) == 0 {
			if !n.ValueRef().IsInline() {
				v, err := t.resolveValue(n)
				if err != nil {
					return nil, err
				}
				*proofs = append(*proofs, v)
			}
			return n, nil
		}
	case *BranchNode:
		*proofs = append(*proofs, copySlice(n.Bytes()))
		i, path := splitPath(path)
		r, err := t.getProof(n.Children[i], path, proofs)
		if err != nil {
			return nil, err
		}
		n.Children[i] = r
		return n, nil
	case *ExtensionNode:
		*proofs = append(*proofs, copySlice(n.Bytes()))
		if bytes.HasPrefix(path, n.key) {
			r, err := t.getProof(n.next, path[len(n.key):], proofs)
			if err != nil {
				return nil, err
			}
			n.next = r
			return n, nil
		}
	case EmptyNode:
	case *HashNode:
		r, err := t.getFromStore(n.Hash())
		if err != nil {
			return nil, err
		}
		return t.getProof(r, path, proofs)
	default:
		panic("invalid MPT node type")
	}
	return nil, ErrNotFound
}

// VerifyProof checks the key against the given root hash using a set of
// nodes obtained from GetProof. The value is returned for a proven present
// key, ErrNotFound for a proven absent one and any other error means the
// proof doesn't correspond to the root at all.
func VerifyProof(rtHash util.Uint256, key []byte, proofs [][]byte) ([]byte, error) {
	if rtHash == (util.Uint256{}) {
		return nil, ErrNotFound
	}
	tr := NewTrie(NewHashNode(rtHash), NewProofStorage(proofs))
	v, err := tr.Get(key)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("invalid proof: %w", err)
	}
}
