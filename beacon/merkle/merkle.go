// Package merkle verifies generalized-index branches of SSZ merkle trees.
package merkle

import (
	"bytes"
	"math/bits"

	"github.com/minio/sha256-simd"
)

const HashLength = 32

// Hasher is the SSZ node hash: sha256 over the concatenated inputs.
var Hasher = func(data ...[]byte) []byte {
	hasher := sha256.New()
	for i := 0; i < len(data); i++ {
		hasher.Write(data[i])
	}
	return hasher.Sum(nil)
}

// Depth returns the depth of the node at gindex; the root (gindex 1) has depth 0.
func Depth(gindex uint64) int {
	return bits.Len64(gindex) - 1
}

// ChildIndex returns the generalized index of the node at subIndex within the
// subtree rooted at gindex.
func ChildIndex(gindex, subIndex uint64) uint64 {
	depth := Depth(subIndex)
	return gindex<<uint(depth) | (subIndex - 1<<uint(depth))
}

// FieldIndex returns the generalized index of leaf i in a tree of the given depth.
func FieldIndex(depth int, i uint64) uint64 {
	return 1<<uint(depth) + i
}

// Root folds leaf up through branch (siblings ordered bottom-up) along the
// path described by gindex.
func Root(leaf []byte, branch [][]byte, gindex uint64) ([]byte, bool) {
	if len(branch) != Depth(gindex) || len(leaf) != HashLength {
		return nil, false
	}
	node := leaf
	for i, sibling := range branch {
		if len(sibling) != HashLength {
			return nil, false
		}
		if bitIsSet(gindex, i) {
			node = Hasher(sibling, node)
		} else {
			node = Hasher(node, sibling)
		}
	}
	return node, true
}

// VerifyBranch reports whether leaf sits at gindex under root.
func VerifyBranch(leaf []byte, branch [][]byte, gindex uint64, root []byte) bool {
	computed, ok := Root(leaf, branch, gindex)
	return ok && bytes.Equal(computed, root)
}

func bitIsSet(gindex uint64, i int) bool {
	return gindex&(1<<uint(i)) != 0
}
