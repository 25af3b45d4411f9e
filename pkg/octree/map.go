package octree

import (
	"errors"
	"fmt"

	"realmsdb/pkg/geom"
)

// Error for putting a point outside the map's bounds.
var ErrOutOfBounds = errors.New("point outside of octree bounds")

// Map is an in-memory point octree used to build index files. A voxel
// splits into eight once it holds more than maxPerVoxel points, unless it
// is already maxDepth levels deep.
type Map[V any] struct {
	root        *mapNode[V]
	maxPerVoxel int
	maxDepth    int
}

type mapNode[V any] struct {
	m        *Map[V]
	bounds   geom.Box
	depth    int
	size     int
	points   []geom.Point
	values   []V
	children *[NodeWords]*mapNode[V]
}

// NewMap returns an empty map covering bounds.
func NewMap[V any](bounds geom.Box, maxPerVoxel, maxDepth int) *Map[V] {
	m := &Map[V]{maxPerVoxel: max(maxPerVoxel, 1), maxDepth: max(maxDepth, 0)}
	m.root = &mapNode[V]{m: m, bounds: bounds}
	return m
}

// Put adds v at p. Several values may share a point.
func (m *Map[V]) Put(p geom.Point, v V) error {
	if !m.root.bounds.Contains(p) {
		return fmt.Errorf("%w: %v not in %v", ErrOutOfBounds, p, m.root.bounds)
	}
	m.root.put(p, v)
	return nil
}

// Size returns the number of values in the map.
func (m *Map[V]) Size() int {
	return m.root.size
}

// Bounds returns the box the map covers.
func (m *Map[V]) Bounds() geom.Box {
	return m.root.bounds
}

// Root returns the view the writer serializes.
func (m *Map[V]) Root() RootView[V] {
	return m.root
}

// octant returns the child of n that p falls into. Points on a split plane
// go to the upper half.
func (n *mapNode[V]) octant(p geom.Point) int {
	c := n.bounds.Center()
	o := 0
	if p.X >= c.X {
		o |= 1
	}
	if p.Y >= c.Y {
		o |= 2
	}
	if p.Z >= c.Z {
		o |= 4
	}
	return o
}

func (n *mapNode[V]) put(p geom.Point, v V) {
	n.size++
	if n.children != nil {
		n.children[n.octant(p)].put(p, v)
		return
	}
	n.points = append(n.points, p)
	n.values = append(n.values, v)
	if len(n.points) > n.m.maxPerVoxel && n.depth < n.m.maxDepth {
		n.split()
	}
}

func (n *mapNode[V]) split() {
	n.children = new([NodeWords]*mapNode[V])
	for o := range n.children {
		n.children[o] = &mapNode[V]{m: n.m, bounds: n.bounds.Split(o), depth: n.depth + 1}
	}
	points, values := n.points, n.values
	n.points, n.values = nil, nil
	for i, p := range points {
		n.children[n.octant(p)].put(p, values[i])
	}
}

func (n *mapNode[V]) IsEmpty() bool {
	return n.size == 0
}

func (n *mapNode[V]) HasChildNodes() bool {
	return n.children != nil
}

func (n *mapNode[V]) Child(octant int) NodeView[V] {
	return n.children[octant]
}

func (n *mapNode[V]) EntryCount() int {
	return len(n.points)
}

func (n *mapNode[V]) Entry(i int) (geom.Point, V) {
	return n.points[i], n.values[i]
}

func (n *mapNode[V]) Bounds() geom.Box {
	return n.bounds
}
