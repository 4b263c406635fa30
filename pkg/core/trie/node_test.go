package trie

import (
	"bytes"
	"testing"

	"github.com/statera-project/statera/pkg/io"
	"github.com/statera-project/statera/pkg/util"
	"github.com/stretchr/testify/require"
)

func decodeNode(t *testing.T, data []byte) Node {
	r := io.NewBinReaderFromBuf(data)
	n := DecodeNodeWithType(r)
	require.NoError(t, r.Err)
	return n
}

func TestNodeSerializable(t *testing.T) {
	check := func(t *testing.T, n Node) {
		data := toBytes(n)
		got := decodeNode(t, data)
		require.Equal(t, n.Type(), got.Type())
		require.Equal(t, data, toBytes(got))
		if n.Type() != EmptyT {
			require.Equal(t, n.Hash(), got.Hash())
		}
	}

	t.Run("leaf", func(t *testing.T) {
		t.Run("inline", func(t *testing.T) {
			check(t, NewLeafNode([]byte("payload")))
		})
		t.Run("empty payload", func(t *testing.T) {
			check(t, NewLeafNode([]byte{}))
		})
		t.Run("indirected", func(t *testing.T) {
			big := bytes.Repeat([]byte{0xab}, MaxInlineValueLen+1)
			n := NewLeafNode(big)
			data := toBytes(n)
			got := decodeNode(t, data).(*LeafNode)
			require.Equal(t, n.Hash(), got.Hash())
			require.False(t, got.ValueRef().IsInline())
			require.Equal(t, n.ValueRef().Hash(), got.ValueRef().Hash())
			require.Equal(t, uint32(len(big)), got.ValueRef().Size())
			// The payload itself is not a part of the leaf encoding.
			require.Nil(t, got.ValueRef().Value())
		})
	})
	t.Run("extension", func(t *testing.T) {
		check(t, NewExtensionNode([]byte{1, 2, 3}, NewHashNode(util.Uint256{1})))
	})
	t.Run("branch", func(t *testing.T) {
		b := NewBranchNode()
		b.Children[0] = NewHashNode(util.Uint256{2})
		b.Children[lastChild] = NewHashNode(util.Uint256{3})
		check(t, b)
	})
	t.Run("hash", func(t *testing.T) {
		h := NewHashNode(util.Uint256{4})
		data := toBytes(h)
		got := decodeNode(t, data)
		require.Equal(t, HashT, got.Type())
		require.Equal(t, h.Hash(), got.Hash())
	})
	t.Run("empty", func(t *testing.T) {
		check(t, EmptyNode{})
	})
}

func TestInvalidNodeDecoding(t *testing.T) {
	t.Run("invalid type", func(t *testing.T) {
		r := io.NewBinReaderFromBuf([]byte{0x07})
		DecodeNodeWithType(r)
		require.Error(t, r.Err)
	})
	t.Run("expanded child", func(t *testing.T) {
		// Children must be hash references, a full leaf is not allowed.
		w := io.NewBufBinWriter()
		w.BinWriter.WriteB(byte(ExtensionT))
		w.BinWriter.WriteVarBytes([]byte{1, 2})
		encodeNodeWithType(NewLeafNode([]byte("v")), w.BinWriter)
		r := io.NewBinReaderFromBuf(w.Bytes())
		DecodeNodeWithType(r)
		require.Error(t, r.Err)
	})
	t.Run("extension key too big", func(t *testing.T) {
		w := io.NewBufBinWriter()
		w.BinWriter.WriteB(byte(ExtensionT))
		w.BinWriter.WriteVarBytes(make([]byte, maxPathLength+1))
		r := io.NewBinReaderFromBuf(w.Bytes())
		DecodeNodeWithType(r)
		require.Error(t, r.Err)
	})
	t.Run("indirected value too small", func(t *testing.T) {
		w := io.NewBufBinWriter()
		w.BinWriter.WriteB(byte(LeafT))
		w.BinWriter.WriteBool(false)
		w.BinWriter.WriteU32LE(MaxInlineValueLen)
		w.BinWriter.WriteBytes(make([]byte, util.Uint256Size))
		r := io.NewBinReaderFromBuf(w.Bytes())
		DecodeNodeWithType(r)
		require.Error(t, r.Err)
	})
}

func TestChangesSerializable(t *testing.T) {
	ch := &TrieChanges{
		OldRoot: util.Uint256{1},
		NewRoot: util.Uint256{2},
		Deletions: []NodeChange{
			{Hash: util.Uint256{3}, RefCount: 1},
			{Hash: util.Uint256{4}, RefCount: 7},
		},
	}
	data, err := io.ToByteArray(ch)
	require.NoError(t, err)

	got := new(TrieChanges)
	require.NoError(t, io.FromByteArray(got, data))
	require.Equal(t, ch, got)

	t.Run("no deletions", func(t *testing.T) {
		ch := &TrieChanges{OldRoot: util.Uint256{5}, NewRoot: util.Uint256{6}}
		data, err := io.ToByteArray(ch)
		require.NoError(t, err)
		got := new(TrieChanges)
		require.NoError(t, io.FromByteArray(got, data))
		require.Equal(t, ch.OldRoot, got.OldRoot)
		require.Equal(t, ch.NewRoot, got.NewRoot)
		require.Empty(t, got.Deletions)
	})
}
