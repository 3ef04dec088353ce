// Package tree implements the protocol merkle tree: a fixed-branching
// incremental tree whose compression function is the poseidon hash applied
// to all children of a node at once (not pairwise). Untouched subtrees are
// represented by a precomputed table of zero-subtree hashes, so a sparse
// tree never materializes them.
package tree

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/acvote/crypto/hash/poseidon"
	"github.com/vocdoni/acvote/types"
)

// Config holds the construction parameters of a Tree.
type Config struct {
	// Depth is the number of levels below the root.
	Depth int
	// Arity is the branching factor. Zero selects the protocol default.
	Arity int
	// ZeroLeaf is the value of an unset leaf. Nil means zero.
	ZeroLeaf *big.Int
}

// Tree is an incremental fixed-branching merkle tree over field elements.
type Tree struct {
	depth int
	arity int
	// zero[d] is the hash of a complete zero subtree of height d.
	zero []*big.Int
	// nodes[level][index] holds only the materialized nodes; level 0 are
	// the leaves, level depth is the root.
	nodes     []map[uint64]*big.Int
	leafCount uint64
}

// New creates an empty tree. The zero-subtree hash table for every level is
// computed once here.
func New(cfg Config) (*Tree, error) {
	if cfg.Depth <= 0 {
		return nil, fmt.Errorf("tree depth must be positive, got %d", cfg.Depth)
	}
	arity := cfg.Arity
	if arity == 0 {
		arity = types.TreeArity
	}
	if arity < 2 {
		return nil, fmt.Errorf("tree arity must be at least 2, got %d", arity)
	}
	zeroLeaf := cfg.ZeroLeaf
	if zeroLeaf == nil {
		zeroLeaf = big.NewInt(0)
	}

	t := &Tree{
		depth: cfg.Depth,
		arity: arity,
		zero:  make([]*big.Int, cfg.Depth+1),
		nodes: make([]map[uint64]*big.Int, cfg.Depth+1),
	}
	t.zero[0] = new(big.Int).Set(zeroLeaf)
	for d := 1; d <= cfg.Depth; d++ {
		children := make([]*big.Int, arity)
		for i := range children {
			children[i] = t.zero[d-1]
		}
		h, err := poseidon.Hash(children...)
		if err != nil {
			return nil, fmt.Errorf("zero subtree hash at height %d: %w", d, err)
		}
		t.zero[d] = h
	}
	for d := range t.nodes {
		t.nodes[d] = make(map[uint64]*big.Int)
	}
	return t, nil
}

// Depth returns the number of levels below the root.
func (t *Tree) Depth() int { return t.depth }

// Arity returns the branching factor.
func (t *Tree) Arity() int { return t.arity }

// Capacity returns the number of leaves the tree can hold (arity^depth).
func (t *Tree) Capacity() uint64 {
	c := uint64(1)
	for range t.depth {
		c *= uint64(t.arity)
	}
	return c
}

// LeafCount returns the number of leaves set so far.
func (t *Tree) LeafCount() uint64 { return t.leafCount }

// node returns the value at (level, index), falling back to the zero-subtree
// hash of that level.
func (t *Tree) node(level int, index uint64) *big.Int {
	if v, ok := t.nodes[level][index]; ok {
		return v
	}
	return t.zero[level]
}

// Root returns the current root hash.
func (t *Tree) Root() *big.Int {
	return new(big.Int).Set(t.node(t.depth, 0))
}

// Leaf returns the value of the leaf at the given index.
func (t *Tree) Leaf(index uint64) *big.Int {
	return new(big.Int).Set(t.node(0, index))
}

// InitLeaves bulk-loads the given values left to right and recomputes every
// ancestor bottom-up. Any previous content is discarded.
func (t *Tree) InitLeaves(values []*big.Int) error {
	if uint64(len(values)) > t.Capacity() {
		return fmt.Errorf("too many leaves: %d > capacity %d", len(values), t.Capacity())
	}
	for d := range t.nodes {
		t.nodes[d] = make(map[uint64]*big.Int)
	}
	for i, v := range values {
		t.nodes[0][uint64(i)] = new(big.Int).Set(v)
	}
	t.leafCount = uint64(len(values))

	// recompute all touched internal nodes level by level
	touched := uint64(len(values))
	for d := 1; d <= t.depth; d++ {
		touched = (touched + uint64(t.arity) - 1) / uint64(t.arity)
		for p := uint64(0); p < touched; p++ {
			if err := t.rehash(d, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateLeaf sets the leaf at index and recomputes its ancestor chain.
func (t *Tree) UpdateLeaf(index uint64, value *big.Int) error {
	if index >= t.Capacity() {
		return fmt.Errorf("leaf index %d out of range (capacity %d)", index, t.Capacity())
	}
	t.nodes[0][index] = new(big.Int).Set(value)
	if index >= t.leafCount {
		t.leafCount = index + 1
	}
	p := index
	for d := 1; d <= t.depth; d++ {
		p /= uint64(t.arity)
		if err := t.rehash(d, p); err != nil {
			return err
		}
	}
	return nil
}

// AppendLeaf sets the next free leaf and returns its index.
func (t *Tree) AppendLeaf(value *big.Int) (uint64, error) {
	index := t.leafCount
	if err := t.UpdateLeaf(index, value); err != nil {
		return 0, err
	}
	return index, nil
}

// rehash recomputes the internal node at (level, parent) from its children.
func (t *Tree) rehash(level int, parent uint64) error {
	children := make([]*big.Int, t.arity)
	base := parent * uint64(t.arity)
	for i := range children {
		children[i] = t.node(level-1, base+uint64(i))
	}
	h, err := poseidon.Hash(children...)
	if err != nil {
		return fmt.Errorf("node hash at level %d index %d: %w", level, parent, err)
	}
	t.nodes[level][parent] = h
	return nil
}

// PathElementsOf returns, for every level from leaf to root, the arity-1
// sibling values needed to recompute the root from the leaf at index. This
// is exactly the inclusion witness a proof consumes.
func (t *Tree) PathElementsOf(index uint64) ([][]*big.Int, error) {
	if index >= t.Capacity() {
		return nil, fmt.Errorf("leaf index %d out of range (capacity %d)", index, t.Capacity())
	}
	path := make([][]*big.Int, t.depth)
	idx := index
	for d := 0; d < t.depth; d++ {
		pos := idx % uint64(t.arity)
		base := idx - pos
		siblings := make([]*big.Int, 0, t.arity-1)
		for i := uint64(0); i < uint64(t.arity); i++ {
			if i == pos {
				continue
			}
			siblings = append(siblings, new(big.Int).Set(t.node(d, base+i)))
		}
		path[d] = siblings
		idx /= uint64(t.arity)
	}
	return path, nil
}

// SubTree returns a same-capacity view of the tree with every leaf at index
// >= length set to the zero leaf. It commits to a variable-length prefix
// without revealing the true length.
func (t *Tree) SubTree(length uint64) (*Tree, error) {
	sub, err := New(Config{Depth: t.depth, Arity: t.arity, ZeroLeaf: t.zero[0]})
	if err != nil {
		return nil, err
	}
	leaves := make([]*big.Int, 0, length)
	for i := uint64(0); i < length; i++ {
		leaves = append(leaves, t.Leaf(i))
	}
	if err := sub.InitLeaves(leaves); err != nil {
		return nil, err
	}
	return sub, nil
}

// VerifyPath recomputes a root from a leaf, its index and the sibling path
// returned by PathElementsOf, and compares it to the expected root.
func VerifyPath(root, leaf *big.Int, index uint64, arity int, path [][]*big.Int) bool {
	if arity < 2 {
		return false
	}
	current := new(big.Int).Set(leaf)
	idx := index
	for _, siblings := range path {
		if len(siblings) != arity-1 {
			return false
		}
		pos := int(idx % uint64(arity))
		children := make([]*big.Int, 0, arity)
		children = append(children, siblings[:pos]...)
		children = append(children, current)
		children = append(children, siblings[pos:]...)
		h, err := poseidon.Hash(children...)
		if err != nil {
			return false
		}
		current = h
		idx /= uint64(arity)
	}
	return current.Cmp(root) == 0
}
