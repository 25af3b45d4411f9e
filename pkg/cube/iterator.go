package cube

import "realmsdb/pkg/geom"

// Iterator walks the cubes intersecting a volume. It is single pass.
type Iterator struct {
	part   Partition
	volume geom.Volume
	center geom.Point
	lo, hi [3]int64
	cur    [3]int64
	id     uint64
	bounds geom.Box
	valid  bool
	done   bool
}

// advance steps cur to the next grid cell, x fastest. Returns false once
// the whole range has been visited.
func (it *Iterator) advance() bool {
	it.cur[0]++
	if it.cur[0] > it.hi[0] {
		it.cur[0] = it.lo[0]
		it.cur[1]++
		if it.cur[1] > it.hi[1] {
			it.cur[1] = it.lo[1]
			it.cur[2]++
		}
	}
	return it.cur[2] <= it.hi[2]
}

// Next moves to the next intersecting cube, returning false when there are none left.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	edge := it.part.Edge
	for it.advance() {
		c := geom.Point{
			X: float64(it.cur[0]) * edge,
			Y: float64(it.cur[1]) * edge,
			Z: float64(it.cur[2]) * edge,
		}
		box := geom.Cube(c, edge/2)
		// The point of the cube closest to the volume's center is inside
		// the volume iff the two overlap.
		p := box.Clamp(it.center)
		if !it.volume.Includes(p.X, p.Y, p.Z) {
			continue
		}
		it.id = interleave(it.cur[0], it.cur[1], it.cur[2])
		it.bounds = box
		it.valid = true
		return true
	}
	it.done = true
	it.valid = false
	return false
}

// CubeID returns the id of the current cube.
func (it *Iterator) CubeID() uint64 {
	if !it.valid {
		panic(ErrIteratorState)
	}
	return it.id
}

// Bounds returns the box of the current cube.
func (it *Iterator) Bounds() geom.Box {
	if !it.valid {
		panic(ErrIteratorState)
	}
	return it.bounds
}
