package trie

import (
	"testing"

	"github.com/statera-project/statera/pkg/core/storage"
	"github.com/statera-project/statera/pkg/util"
	"github.com/stretchr/testify/require"
)

func newProofTrie(t *testing.T) (*Trie, util.Uint256, *StoreStorage) {
	ms := storage.NewMemoryStore()
	ss := NewStoreStorage(ms, testShardPrefix)
	tr := NewTrie(nil, ss)
	var b Batch
	b.Add([]byte("dog"), []byte("puppy"))
	b.Add([]byte("doge"), []byte("coin"))
	b.Add([]byte("horse"), []byte("stallion"))
	ch, err := tr.Update(b)
	require.NoError(t, err)
	commitChanges(t, ms, ch)
	return NewTrie(NodeFromRoot(ch.NewRoot), ss), ch.NewRoot, ss
}

func TestProofPresence(t *testing.T) {
	tr, root, _ := newProofTrie(t)

	for _, key := range [][]byte{[]byte("dog"), []byte("doge"), []byte("horse")} {
		proof, err := tr.GetProof(key)
		require.NoError(t, err)
		require.NotEmpty(t, proof)

		expected, err := tr.Get(key)
		require.NoError(t, err)
		v, err := VerifyProof(root, key, proof)
		require.NoError(t, err)
		require.Equal(t, expected, v)
	}
}

func TestProofAbsence(t *testing.T) {
	tr, root, _ := newProofTrie(t)

	for _, key := range [][]byte{[]byte("cat"), []byte("dogecoin"), []byte("do")} {
		proof, err := tr.GetProof(key)
		require.NoError(t, err)

		_, err = VerifyProof(root, key, proof)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestProofInvalid(t *testing.T) {
	tr, root, _ := newProofTrie(t)

	proof, err := tr.GetProof([]byte("dog"))
	require.NoError(t, err)

	t.Run("tampered node", func(t *testing.T) {
		bad := make([][]byte, len(proof))
		for i := range proof {
			bad[i] = append([]byte{}, proof[i]...)
		}
		bad[len(bad)-1][0] ^= 0xff
		_, err := VerifyProof(root, []byte("dog"), bad)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrNotFound)
	})
	t.Run("truncated", func(t *testing.T) {
		_, err := VerifyProof(root, []byte("dog"), proof[:len(proof)-1])
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrNotFound)
	})
	t.Run("wrong root", func(t *testing.T) {
		other := root
		other[0] ^= 0xff
		_, err := VerifyProof(other, []byte("dog"), proof)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrNotFound)
	})
	t.Run("wrong key", func(t *testing.T) {
		// A proof for one key can't show the presence of another one.
		_, err := VerifyProof(root, []byte("horse"), proof)
		require.Error(t, err)
	})
}

func TestProofEmptyTrie(t *testing.T) {
	v, err := VerifyProof(util.Uint256{}, []byte("anything"), nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, v)
}

func TestRecordedReadsAsProof(t *testing.T) {
	tr, root, ss := newProofTrie(t)
	_ = tr

	rs := NewRecordingStorage(ss)
	rt := NewTrie(NodeFromRoot(root), rs)
	expected, err := rt.Get([]byte("doge"))
	require.NoError(t, err)

	v, err := VerifyProof(root, []byte("doge"), rs.Recorded())
	require.NoError(t, err)
	require.Equal(t, expected, v)
}
