// Package merkle builds a Merkle tree over an ordered slice of leaf hashes
// and produces/verifies inclusion proofs by leaf index.
package merkle

import (
	"errors"

	"github.com/rechain/ccbft/internal/cryptox"
)

// ErrIndexOutOfRange is returned by Proof when the requested index does not
// address a leaf in the tree.
var ErrIndexOutOfRange = errors.New("merkle: index out of range")

// Tree is an ordered, index-addressed Merkle tree. Leaf identity is purely
// positional: leaf i is whatever hash the caller supplied at position i,
// typically a transaction hash in block order.
type Tree struct {
	levels [][]cryptox.Hash // levels[0] is the leaves, levels[len-1] is the root
}

// New builds a tree from an ordered slice of leaf hashes. An empty slice
// yields a tree whose Root is the all-zero hash.
func New(leaves []cryptox.Hash) *Tree {
	if len(leaves) == 0 {
		return &Tree{levels: [][]cryptox.Hash{{}}}
	}

	level := make([]cryptox.Hash, len(leaves))
	copy(level, leaves)
	levels := [][]cryptox.Hash{level}

	for len(level) > 1 {
		next := make([]cryptox.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, cryptox.HashConcat(left[:], right[:]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{levels: levels}
}

// Root returns the tree's root hash. An empty tree's root is the all-zero
// hash.
func (t *Tree) Root() cryptox.Hash {
	top := t.levels[len(t.levels)-1]
	if len(top) == 0 {
		return cryptox.ZeroHash
	}
	return top[0]
}

// Len returns the number of leaves the tree was built from.
func (t *Tree) Len() int { return len(t.levels[0]) }

// Proof returns the sibling hashes from leaf index up to (but excluding) the
// root, ordered bottom-to-top.
func (t *Tree) Proof(index int) ([]cryptox.Hash, error) {
	n := t.Len()
	if index < 0 || index >= n {
		return nil, ErrIndexOutOfRange
	}

	var proof []cryptox.Hash
	idx := index
	for level := 0; level < len(t.levels)-1; level++ {
		cur := t.levels[level]
		var siblingIdx int
		if idx%2 == 0 {
			siblingIdx = idx + 1
			if siblingIdx >= len(cur) {
				siblingIdx = idx // odd tail duplicates itself
			}
		} else {
			siblingIdx = idx - 1
		}
		proof = append(proof, cur[siblingIdx])
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the path from leaf to root, combining left/right by
// the parity of index at each level, and reports whether it reaches root.
func VerifyProof(root cryptox.Hash, leaf cryptox.Hash, proof []cryptox.Hash, index int) bool {
	cur := leaf
	idx := index
	for _, sibling := range proof {
		if idx%2 == 0 {
			cur = cryptox.HashConcat(cur[:], sibling[:])
		} else {
			cur = cryptox.HashConcat(sibling[:], cur[:])
		}
		idx /= 2
	}
	return cur == root
}
