package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
)

// ErrMissingNode is returned when a node referenced from the trie is absent
// from the storage. Unlike ErrNotFound it never means a plain key absence,
// it's either a corrupted database or an incomplete proof.
var ErrMissingNode = errors.New("missing trie node")

var errStop = errors.New("stop condition is met")

type cachedNode struct {
	bytes    []byte
	refcount int32
}

// Trie is an MPT trie storing all key-value pairs of one shard at one root.
// It performs copy-on-write updates, nothing is ever mutated in place, so
// the previous root stays valid and readable until garbage collected. All
// reference changes are accumulated in an in-memory ledger drained by
// CollectChanges.
type Trie struct {
	root   Node
	source Storage

	refcount map[util.Uint256]*cachedNode
}

// NewTrie returns a new MPT trie with the given root reading the missing
// nodes through the provided Storage. A nil root means an empty trie.
func NewTrie(root Node, source Storage) *Trie {
	if root == nil {
		root = EmptyNode{}
	}
	return &Trie{
		root:     root,
		source:   source,
		refcount: make(map[util.Uint256]*cachedNode),
	}
}

// NodeFromRoot converts a state root hash into a root node, zero hash
// denotes an empty trie.
func NodeFromRoot(h util.Uint256) Node {
	if h == (util.Uint256{}) {
		return EmptyNode{}
	}
	return NewHashNode(h)
}

// StateRoot returns the root hash of t.
func (t *Trie) StateRoot() util.Uint256 {
	if isEmpty(t.root) {
		return util.Uint256{}
	}
	return t.root.Hash()
}

// Get returns the value for the provided key in t. ErrNotFound is returned
// when the key is absent at this root.
func (t *Trie) Get(key []byte) ([]byte, error) {
	if len(key) > MaxKeyLength {
		return nil, errors.New("key is too big")
	}
	path := toNibbles(key)
	r, v, err := t.getWithPath(t.root, path)
	if err != nil {
		return nil, err
	}
	t.root = r
	return v, nil
}

// getWithPath returns the value for the provided path in a subtrie rooting
// in curr. It also returns the current node with all hash nodes along the
// path replaced by their "unhashed" counterparts.
func (t *Trie) getWithPath(curr Node, path []byte) (Node, []byte, error) {
	switch n := curr.(type) {
	case *LeafNode:
		if len(path) == 0 {
			v, err := t.resolveValue(n)
			if err != nil {
				return nil, nil, err
			}
			return curr, v, nil
		}
	case *BranchNode:
		i, path := splitPath(path)
		r, v, err := t.getWithPath(n.Children[i], path)
		if err != nil {
			return nil, nil, err
		}
		n.Children[i] = r
		return n, v, nil
	case EmptyNode:
	case *HashNode:
		r, err := t.getFromStore(n.Hash())
		if err != nil {
			return nil, nil, err
		}
		return t.getWithPath(r, path)
	case *ExtensionNode:
		if bytes.HasPrefix(path, n.key) {
			r, v, err := t.getWithPath(n.next, path[len(n.key):])
			if err != nil {
				return nil, nil, err
			}
			n.next = r
			return curr, v, nil
		}
	default:
		panic("invalid MPT node type")
	}
	return curr, nil, ErrNotFound
}

// resolveValue returns the payload of the given leaf fetching indirected
// values through the Storage.
func (t *Trie) resolveValue(n *LeafNode) ([]byte, error) {
	v := n.ValueRef()
	if v.IsInline() || v.Value() != nil {
		return copySlice(v.Value()), nil
	}
	bs, err := t.source.Retrieve(v.Hash())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: value %s", ErrMissingNode, v.Hash().StringBE())
		}
		return nil, err
	}
	v.value = bs
	return copySlice(bs), nil
}

// Put puts a key-value pair into t, nil value is equivalent to Delete.
func (t *Trie) Put(key, value []byte) error {
	if len(key) > MaxKeyLength {
		return errors.New("key is too big")
	} else if len(value) > MaxValueLength {
		return errors.New("value is too big")
	}
	if value == nil {
		return t.Delete(key)
	}
	return t.put(toNibbles(key), value)
}

func (t *Trie) put(path []byte, value []byte) error {
	n := NewLeafNode(value)
	r, err := t.putIntoNode(t.root, path, n)
	if err != nil {
		return err
	}
	t.root = r
	return nil
}

// putIntoLeaf puts val to the trie if the current node is a Leaf.
// It returns a Node to replace curr with and an error if any.
func (t *Trie) putIntoLeaf(curr *LeafNode, path []byte, val Node) (Node, error) {
	v := val.(*LeafNode)
	if len(path) == 0 {
		if curr.Hash().Equals(v.Hash()) {
			// Rewriting the same value is a no-op.
			return curr, nil
		}
		t.removeLeafRef(curr)
		return v, nil
	}

	// The leaf is re-parented under a new branch, its content is unchanged.
	b := NewBranchNode()
	b.Children[path[0]] = newSubTrie(path[1:], v)
	b.Children[lastChild] = curr
	return b, nil
}

// putIntoBranch puts val to the trie if the current node is a Branch.
// It returns a Node to replace curr with and an error if any.
func (t *Trie) putIntoBranch(curr *BranchNode, path []byte, val Node) (Node, error) {
	i, path := splitPath(path)
	oldFlushed, oldHash, oldBytes := nodeRef(curr)
	r, err := t.putIntoNode(curr.Children[i], path, val)
	if err != nil {
		return nil, err
	}
	if oldFlushed {
		t.removeRef(oldHash, oldBytes)
	}
	curr.Children[i] = r
	curr.invalidateCache()
	return curr, nil
}

// putIntoExtension puts val to the trie if the current node is an Extension.
// It returns a Node to replace curr with and an error if any.
func (t *Trie) putIntoExtension(curr *ExtensionNode, path []byte, val Node) (Node, error) {
	oldFlushed, oldHash, oldBytes := nodeRef(curr)
	if bytes.HasPrefix(path, curr.key) {
		r, err := t.putIntoNode(curr.next, path[len(curr.key):], val)
		if err != nil {
			return nil, err
		}
		if oldFlushed {
			t.removeRef(oldHash, oldBytes)
		}
		curr.next = r
		curr.invalidateCache()
		return curr, nil
	}

	if oldFlushed {
		t.removeRef(oldHash, oldBytes)
	}
	pref := lcp(curr.key, path)
	lp := len(pref)
	keyTail := curr.key[lp:]
	pathTail := path[lp:]

	s1 := newSubTrie(keyTail[1:], curr.next)
	b := NewBranchNode()
	b.Children[keyTail[0]] = s1

	i, pathTail := splitPath(pathTail)
	s2 := newSubTrie(pathTail, val)
	b.Children[i] = s2

	if lp > 0 {
		return NewExtensionNode(copySlice(pref), b), nil
	}
	return b, nil
}

// putIntoHash puts val to the trie if the current node is a HashNode.
// It returns a Node to replace curr with and an error if any.
func (t *Trie) putIntoHash(curr *HashNode, path []byte, val Node) (Node, error) {
	result, err := t.getFromStore(curr.Hash())
	if err != nil {
		return nil, err
	}
	return t.putIntoNode(result, path, val)
}

// newSubTrie creates a new trie containing the node at the provided path.
func newSubTrie(path []byte, val Node) Node {
	if len(path) == 0 {
		return val
	}
	return NewExtensionNode(path, val)
}

func (t *Trie) putIntoNode(curr Node, path []byte, val Node) (Node, error) {
	switch n := curr.(type) {
	case *LeafNode:
		return t.putIntoLeaf(n, path, val)
	case *BranchNode:
		return t.putIntoBranch(n, path, val)
	case *ExtensionNode:
		return t.putIntoExtension(n, path, val)
	case EmptyNode:
		return newSubTrie(path, val), nil
	case *HashNode:
		return t.putIntoHash(n, path, val)
	default:
		panic("invalid MPT node type")
	}
}

// Delete removes the key from the trie.
// It returns no error on a missing key.
func (t *Trie) Delete(key []byte) error {
	if len(key) > MaxKeyLength {
		return errors.New("key is too big")
	}
	return t.delete(toNibbles(key))
}

func (t *Trie) delete(path []byte) error {
	r, err := t.deleteFromNode(t.root, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	t.root = r
	return nil
}

func (t *Trie) deleteFromBranch(b *BranchNode, path []byte) (Node, error) {
	i, path := splitPath(path)
	oldFlushed, oldHash, oldBytes := nodeRef(b)
	r, err := t.deleteFromNode(b.Children[i], path)
	if err != nil {
		return nil, err
	}
	if oldFlushed {
		t.removeRef(oldHash, oldBytes)
	}
	b.Children[i] = r
	b.invalidateCache()
	var count, index int
	for i := range b.Children {
		if !isEmpty(b.Children[i]) {
			index = i
			count++
		}
	}
	// count is >= 1 because branch node had at least 2 children before
	// deletion.
	if count > 1 {
		return b, nil
	}
	c := b.Children[index]
	if index == lastChild {
		return c, nil
	}
	if h, ok := c.(*HashNode); ok {
		c, err = t.getFromStore(h.Hash())
		if err != nil {
			return nil, err
		}
	}
	if e, ok := c.(*ExtensionNode); ok {
		// The extension absorbs the remaining branch index, its content
		// changes.
		if e.IsFlushed() {
			t.removeRef(e.Hash(), e.Bytes())
		}
		e.key = append([]byte{byte(index)}, e.key...)
		e.invalidateCache()
		return e, nil
	}

	return NewExtensionNode([]byte{byte(index)}, c), nil
}

func (t *Trie) deleteFromExtension(n *ExtensionNode, path []byte) (Node, error) {
	if !bytes.HasPrefix(path, n.key) {
		return nil, ErrNotFound
	}
	oldFlushed, oldHash, oldBytes := nodeRef(n)
	r, err := t.deleteFromNode(n.next, path[len(n.key):])
	if err != nil {
		return nil, err
	}
	if oldFlushed {
		t.removeRef(oldHash, oldBytes)
	}
	switch nxt := r.(type) {
	case *ExtensionNode:
		if nxt.IsFlushed() {
			t.removeRef(nxt.Hash(), nxt.Bytes())
		}
		n.key = append(n.key, nxt.key...)
		n.next = nxt.next
	case EmptyNode:
		return nxt, nil
	default:
		n.next = r
	}
	n.invalidateCache()
	return n, nil
}

func (t *Trie) deleteFromNode(curr Node, path []byte) (Node, error) {
	switch n := curr.(type) {
	case *LeafNode:
		if len(path) == 0 {
			t.removeLeafRef(n)
			return EmptyNode{}, nil
		}
		return nil, ErrNotFound
	case *BranchNode:
		return t.deleteFromBranch(n, path)
	case *ExtensionNode:
		return t.deleteFromExtension(n, path)
	case EmptyNode:
		return nil, ErrNotFound
	case *HashNode:
		newNode, err := t.getFromStore(n.Hash())
		if err != nil {
			return nil, err
		}
		return t.deleteFromNode(newNode, path)
	default:
		panic("invalid MPT node type")
	}
}

// nodeRef captures the identity of a node before its mutation. Only flushed
// nodes take part in reference accounting, in-memory ones aren't counted
// yet.
func nodeRef(n Node) (bool, util.Uint256, []byte) {
	if !n.IsFlushed() {
		return false, util.Uint256{}, nil
	}
	return true, n.Hash(), n.Bytes()
}

// removeLeafRef accounts for the removal of a flushed leaf together with its
// indirected value record.
func (t *Trie) removeLeafRef(n *LeafNode) {
	if !n.IsFlushed() {
		return
	}
	if v := n.ValueRef(); !v.IsInline() {
		t.removeRef(v.Hash(), v.Value())
	}
	t.removeRef(n.Hash(), n.Bytes())
}

func (t *Trie) addRef(h util.Uint256, bs []byte) {
	node := t.refcount[h]
	if node == nil {
		node = new(cachedNode)
		t.refcount[h] = node
	}
	node.refcount++
	node.bytes = bs
}

func (t *Trie) removeRef(h util.Uint256, bs []byte) {
	node := t.refcount[h]
	if node == nil {
		node = new(cachedNode)
		t.refcount[h] = node
	}
	node.refcount--
	if node.bytes == nil {
		node.bytes = bs
	}
}

// getFromStore retrieves the node by hash verifying its consistency.
func (t *Trie) getFromStore(h util.Uint256) (Node, error) {
	data, err := t.source.Retrieve(h)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMissingNode, h.StringBE())
		}
		return nil, err
	}

	r := io.NewBinReaderFromBuf(data)
	n := DecodeNodeWithType(r)
	if r.Err != nil {
		return nil, fmt.Errorf("%w: can't decode node %s: %v", ErrInconsistentState, h.StringBE(), r.Err)
	}
	n.(flushedNode).setCache(data, h)
	return n, nil
}

// Flush accounts in the reference ledger for every node created since the
// previous flush. Normally it is called once per block via Update.
func (t *Trie) Flush() {
	t.flushNode(t.root)
}

func (t *Trie) flushNode(node Node) {
	if node.IsFlushed() {
		return
	}
	switch n := node.(type) {
	case *BranchNode:
		for i := range n.Children {
			t.flushNode(n.Children[i])
		}
	case *ExtensionNode:
		t.flushNode(n.next)
	case *LeafNode:
		if v := n.ValueRef(); !v.IsInline() {
			t.addRef(v.Hash(), v.Value())
		}
	}
	t.addRef(node.Hash(), node.Bytes())
	node.SetFlushed()
}

// Collapse compresses all nodes at depth n to the hash nodes. It is used to
// bound the memory held by a long-living trie, the next reads will load the
// nodes back through the Storage.
func (t *Trie) Collapse(depth int) {
	if depth < 0 {
		panic("negative depth")
	}
	t.root = collapse(depth, t.root)
}

func collapse(depth int, node Node) Node {
	switch node.(type) {
	case *HashNode, EmptyNode:
		return node
	}
	if !node.IsFlushed() {
		panic("can't collapse an unflushed node")
	}
	if depth == 0 {
		return NewHashNode(node.Hash())
	}

	switch n := node.(type) {
	case *BranchNode:
		for i := range n.Children {
			n.Children[i] = collapse(depth-1, n.Children[i])
		}
	case *ExtensionNode:
		n.next = collapse(depth-1, n.next)
	case *LeafNode:
	default:
		panic("invalid MPT node type")
	}
	return node
}

// Traverse walks over the trie key-value pairs in key-ascending order
// calling process for each pair until true is returned from it.
func (t *Trie) Traverse(process func(key, value []byte) bool) error {
	r, err := t.traverse(t.root, []byte{}, process)
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	t.root = r
	return nil
}

func (t *Trie) traverse(curr Node, path []byte, process func(key, value []byte) bool) (Node, error) {
	switch n := curr.(type) {
	case EmptyNode:
		return curr, nil
	case *HashNode:
		r, err := t.getFromStore(n.Hash())
		if err != nil {
			return nil, err
		}
		return t.traverse(r, path, process)
	case *LeafNode:
		v, err := t.resolveValue(n)
		if err != nil {
			return nil, err
		}
		if !process(fromNibbles(path), v) {
			return curr, errStop
		}
		return curr, nil
	case *BranchNode:
		// The terminal leaf goes first to keep the key ordering, its key is
		// a prefix of every other key under this branch.
		r, err := t.traverse(n.Children[lastChild], path, process)
		if err != nil {
			if !errors.Is(err, errStop) {
				return nil, err
			}
			n.Children[lastChild] = r
			return n, err
		}
		n.Children[lastChild] = r
		for i := byte(0); i < lastChild; i++ {
			r, err := t.traverse(n.Children[i], append(path, i), process)
			if err != nil {
				if !errors.Is(err, errStop) {
					return nil, err
				}
				n.Children[i] = r
				return n, err
			}
			n.Children[i] = r
		}
		return n, nil
	case *ExtensionNode:
		r, err := t.traverse(n.next, append(path, n.key...), process)
		if err != nil && !errors.Is(err, errStop) {
			return nil, err
		}
		n.next = r
		return n, err
	default:
		panic("invalid MPT node type")
	}
}
