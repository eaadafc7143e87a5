package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
)

func leavesOf(values ...string) []cryptox.Hash {
	out := make([]cryptox.Hash, len(values))
	for i, v := range values {
		out[i] = cryptox.HashBytes([]byte(v))
	}
	return out
}

func TestNewEmptyTree(t *testing.T) {
	tree := New(nil)
	assert.Equal(t, cryptox.ZeroHash, tree.Root())
	assert.Equal(t, 0, tree.Len())

	_, err := tree.Proof(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestNewSingleLeaf(t *testing.T) {
	leaves := leavesOf("a")
	tree := New(leaves)

	require.Equal(t, 1, tree.Len())
	assert.Equal(t, leaves[0], tree.Root())

	proof, err := tree.Proof(0)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, VerifyProof(tree.Root(), leaves[0], proof, 0))
}

func TestProofRoundTripOddAndEven(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7, 8, 9, 16, 17} {
		values := make([]string, n)
		for i := range values {
			values[i] = string(rune('a' + i))
		}
		leaves := leavesOf(values...)
		tree := New(leaves)

		require.Equal(t, n, tree.Len())

		for i := 0; i < n; i++ {
			proof, err := tree.Proof(i)
			require.NoError(t, err)
			assert.Truef(t, VerifyProof(tree.Root(), leaves[i], proof, i),
				"leaf %d of %d should verify", i, n)
		}

		// No proof generated for any in-range index should verify at a
		// different index or against a different tree's root.
		proof0, err := tree.Proof(0)
		require.NoError(t, err)
		if n > 1 {
			assert.False(t, VerifyProof(tree.Root(), leaves[0], proof0, 1))
		}
	}
}

func TestProofIndexOutOfRange(t *testing.T) {
	tree := New(leavesOf("a", "b", "c"))

	_, err := tree.Proof(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = tree.Proof(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestVerifyProofRejectsWrongLeaf(t *testing.T) {
	leaves := leavesOf("a", "b", "c", "d")
	tree := New(leaves)

	proof, err := tree.Proof(2)
	require.NoError(t, err)

	assert.True(t, VerifyProof(tree.Root(), leaves[2], proof, 2))
	assert.False(t, VerifyProof(tree.Root(), cryptox.HashBytes([]byte("not-c")), proof, 2))
}

func TestLargeTree(t *testing.T) {
	const n = 1000
	values := make([]string, n)
	for i := range values {
		values[i] = string(rune(i))
	}
	leaves := leavesOf(values...)
	tree := New(leaves)

	for _, i := range []int{0, 1, 2, 500, n - 2, n - 1} {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		assert.True(t, VerifyProof(tree.Root(), leaves[i], proof, i))
	}
}
