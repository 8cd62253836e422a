package merkle

import (
	"fmt"
)

const maxDepth = 64

// zeroHashes[d] is the root of an all-zero subtree of depth d.
var zeroHashes [maxDepth + 1][]byte

func init() {
	zeroHashes[0] = make([]byte, HashLength)
	for d := 1; d <= maxDepth; d++ {
		zeroHashes[d] = Hasher(zeroHashes[d-1], zeroHashes[d-1])
	}
}

// ZeroHash returns the root of an empty subtree of the given depth.
func ZeroHash(depth int) []byte {
	return zeroHashes[depth]
}

// Node is a node of a binary merkle tree. Leaves carry only a hash; an empty
// subtree of any depth is kept as a single node and expanded on demand when a
// proof walks into it.
type Node struct {
	left, right *Node
	hash        []byte
	// zeroDepth is non-zero for a collapsed empty subtree.
	zeroDepth int
}

// NewLeaf returns a leaf node for a 32 byte chunk.
func NewLeaf(hash []byte) *Node {
	h := make([]byte, HashLength)
	copy(h, hash)
	return &Node{hash: h}
}

// NewBranch returns the parent of left and right.
func NewBranch(left, right *Node) *Node {
	return &Node{left: left, right: right, hash: Hasher(left.hash, right.hash)}
}

func zeroNode(depth int) *Node {
	return &Node{hash: zeroHashes[depth], zeroDepth: depth}
}

// Hash returns the node's root.
func (n *Node) Hash() []byte {
	return n.hash
}

func (n *Node) isLeaf() bool {
	return n.left == nil && n.zeroDepth == 0
}

func (n *Node) children() (*Node, *Node) {
	if n.zeroDepth > 0 {
		return zeroNode(n.zeroDepth - 1), zeroNode(n.zeroDepth - 1)
	}
	return n.left, n.right
}

// FromLeaves builds a tree of the given depth over leaves, padding the
// remainder with empty subtrees.
func FromLeaves(leaves []*Node, depth int) (*Node, error) {
	if depth > maxDepth || uint64(len(leaves)) > 1<<uint(depth) && depth < maxDepth {
		return nil, fmt.Errorf("%d leaves do not fit a tree of depth %d", len(leaves), depth)
	}
	if len(leaves) == 0 {
		return zeroNode(depth), nil
	}
	layer := leaves
	for d := 0; d < depth; d++ {
		next := make([]*Node, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			right := zeroNode(d)
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, NewBranch(layer[i], right))
		}
		layer = next
	}
	return layer[0], nil
}

// FromChunks is FromLeaves over raw 32 byte chunks.
func FromChunks(chunks [][]byte, depth int) (*Node, error) {
	leaves := make([]*Node, len(chunks))
	for i, c := range chunks {
		leaves[i] = NewLeaf(c)
	}
	return FromLeaves(leaves, depth)
}

// MixInLength wraps a list's data tree with its length, as SSZ does for lists.
func MixInLength(data *Node, length uint64) *Node {
	l := make([]byte, HashLength)
	for i := 0; i < 8; i++ {
		l[i] = byte(length >> (8 * uint(i)))
	}
	return NewBranch(data, NewLeaf(l))
}

// Replace swaps the leaf at gindex for sub, which must hash to the same root.
// It lets a coarse tree over field roots be refined with field subtrees.
func (n *Node) Replace(gindex uint64, sub *Node) error {
	depth := Depth(gindex)
	if depth == 0 {
		return fmt.Errorf("cannot replace the root")
	}
	node := n
	for i := depth - 1; i > 0; i-- {
		if node.isLeaf() || node.zeroDepth > 0 {
			return fmt.Errorf("gindex %d is below a leaf", gindex)
		}
		if bitIsSet(gindex, i) {
			node = node.right
		} else {
			node = node.left
		}
	}
	target := node.left
	if bitIsSet(gindex, 0) {
		target = node.right
	}
	if target == nil || string(target.hash) != string(sub.hash) {
		return fmt.Errorf("subtree root does not match leaf at gindex %d", gindex)
	}
	if bitIsSet(gindex, 0) {
		node.right = sub
	} else {
		node.left = sub
	}
	return nil
}

// Proof is a single-leaf merkle proof with siblings ordered bottom-up.
type Proof struct {
	Index  uint64
	Leaf   []byte
	Hashes [][]byte
}

// Verify checks the proof against root.
func (p *Proof) Verify(root []byte) bool {
	return VerifyBranch(p.Leaf, p.Hashes, p.Index, root)
}

// Prove returns the branch for the node at gindex.
func (n *Node) Prove(gindex uint64) (*Proof, error) {
	if gindex == 0 {
		return nil, fmt.Errorf("invalid gindex 0")
	}
	depth := Depth(gindex)
	siblings := make([][]byte, depth)
	node := n
	for i := depth - 1; i >= 0; i-- {
		if node.isLeaf() {
			return nil, fmt.Errorf("gindex %d is below a leaf at depth %d", gindex, depth-1-i)
		}
		left, right := node.children()
		if bitIsSet(gindex, i) {
			siblings[i] = left.hash
			node = right
		} else {
			siblings[i] = right.hash
			node = left
		}
	}
	return &Proof{Index: gindex, Leaf: node.hash, Hashes: siblings}, nil
}
