package merkle

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLeaves is returned when building a tree from an empty leaf set.
	ErrNoLeaves = errors.New("no leaves")

	// ErrInvalidIndex is returned when a proof is requested for a leaf
	// index outside the built tree.
	ErrInvalidIndex = errors.New("leaf index out of range")
)

// Tree is a binary merkle tree over an ordered list of leaf hashes.
//
// Levels with an odd node count are padded by duplicating the last node,
// and the left/right operand order of each pair is determined by index
// parity (an even index is the left operand). Both rules match the
// on-chain verifier and are part of the commitment.
type Tree struct {
	layers [][]Hash
}

// Build constructs the tree from leaf hashes, which must already be the
// hashed canonical leaf encodings, in index order.
func Build(leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	layers := [][]Hash{leaves}
	for len(layers[len(layers)-1]) > 1 {
		prev := layers[len(layers)-1]
		next := make([]Hash, 0, (len(prev)+1)/2)
		for i := 0; i < len(prev); i += 2 {
			left := prev[i]
			right := left // duplicate last node when the level is odd
			if i+1 < len(prev) {
				right = prev[i+1]
			}
			next = append(next, ParentHash(left, right))
		}
		layers = append(layers, next)
	}

	return &Tree{layers: layers}, nil
}

// Root returns the committed root hash.
func (t *Tree) Root() Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from.
func (t *Tree) LeafCount() int {
	return len(t.layers[0])
}

// Proof returns the sibling hashes from leaf i up to the root. The
// verifier derives each step's direction from the running index parity, so
// the proof carries hashes only. A node without a sibling proves against
// its own duplicate.
func (t *Tree) Proof(i int) ([]Hash, error) {
	if i < 0 || i >= t.LeafCount() {
		return nil, fmt.Errorf("%w: %d (leaf count %d)", ErrInvalidIndex, i, t.LeafCount())
	}

	proof := make([]Hash, 0, len(t.layers)-1)
	idx := i
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling >= len(layer) {
			sibling = idx
		}
		proof = append(proof, layer[sibling])
		idx /= 2
	}
	return proof, nil
}

// VerifyProof folds the leaf hash with each proof step and compares the
// result against the expected root. It mirrors the on-chain verifier and is
// used as a local self-check before a root is published and before a claim
// moves in flight.
func VerifyProof(leaf Hash, index uint64, proof []Hash, root Hash) bool {
	node := leaf
	idx := index
	for _, sibling := range proof {
		if idx&1 == 1 {
			node = ParentHash(sibling, node)
		} else {
			node = ParentHash(node, sibling)
		}
		idx /= 2
	}
	return node == root
}
