package octree

import (
	"sync/atomic"

	"realmsdb/pkg/entry"
	"realmsdb/pkg/geom"
)

// NodeView is the read interface the writer serializes. Child bounds are
// implied: the writer assumes each child covers the octant obtained by
// splitting its parent at the midpoint.
type NodeView[V any] interface {
	IsEmpty() bool
	HasChildNodes() bool
	Child(octant int) NodeView[V]
	EntryCount() int
	Entry(i int) (geom.Point, V)
}

// RootView is a NodeView that also knows the bounds of the whole tree.
type RootView[V any] interface {
	NodeView[V]
	Bounds() geom.Box
}

// node is a decoded block. Nodes never change once read.
type node struct {
	bounds   geom.Box
	leaf     bool
	children [NodeWords]*nodeRef
	entries  []entry.Entry
}

// nodeRef points at a child block and caches the node decoded from it.
// Readers racing on the same ref may decode it twice; the first stored
// node wins.
type nodeRef struct {
	block  int32
	bounds geom.Box
	cached atomic.Pointer[node]
}

// newNode builds a node from its block words. Entries of leaves are
// filled in by the caller.
func newNode(w words, bounds geom.Box) *node {
	n := &node{bounds: bounds, leaf: w.isLeaf()}
	if n.leaf {
		return n
	}
	for o, block := range w {
		if block != NoBlock {
			n.children[o] = &nodeRef{block: block, bounds: bounds.Split(o)}
		}
	}
	return n
}
