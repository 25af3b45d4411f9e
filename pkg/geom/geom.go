// Package geom holds the small set of 3D value types shared by the cube
// partition and the octree index.
package geom

import (
	"fmt"
	"math"
)

// Point is a position in world space.
type Point struct {
	X, Y, Z float64
}

// Pt is shorthand for Point{x, y, z}.
func Pt(x, y, z float64) Point {
	return Point{x, y, z}
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// Box is an axis-aligned box; Min is inclusive and so is Max.
type Box struct {
	Min, Max Point
}

// NewBox builds a box from its two corners in any order.
func NewBox(a, b Point) Box {
	return Box{
		Min: Point{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)},
		Max: Point{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)},
	}
}

// Cube returns the box of half-size half centred on c.
func Cube(c Point, half float64) Box {
	return Box{
		Min: Point{c.X - half, c.Y - half, c.Z - half},
		Max: Point{c.X + half, c.Y + half, c.Z + half},
	}
}

// Center returns the midpoint of the box.
func (b Box) Center() Point {
	return Point{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2, (b.Min.Z + b.Max.Z) / 2}
}

// Box makes Box a Volume.
func (b Box) Box() Box {
	return b
}

// Includes reports whether the point lies in the box, borders included.
func (b Box) Includes(x, y, z float64) bool {
	return x >= b.Min.X && x <= b.Max.X &&
		y >= b.Min.Y && y <= b.Max.Y &&
		z >= b.Min.Z && z <= b.Max.Z
}

// Contains is Includes for a Point.
func (b Box) Contains(p Point) bool {
	return b.Includes(p.X, p.Y, p.Z)
}

// Overlaps reports whether the two boxes share at least one point.
func (b Box) Overlaps(o Box) bool {
	return b.Min.X <= o.Max.X && o.Min.X <= b.Max.X &&
		b.Min.Y <= o.Max.Y && o.Min.Y <= b.Max.Y &&
		b.Min.Z <= o.Max.Z && o.Min.Z <= b.Max.Z
}

// Clamp returns the point of the box closest to p.
func (b Box) Clamp(p Point) Point {
	return Point{
		clamp(p.X, b.Min.X, b.Max.X),
		clamp(p.Y, b.Min.Y, b.Max.Y),
		clamp(p.Z, b.Min.Z, b.Max.Z),
	}
}

// Split returns the sub-box for the given octant, cutting at the midpoint.
// Bit 0 of octant selects the upper x half, bit 1 the upper y half and
// bit 2 the upper z half.
func (b Box) Split(octant int) Box {
	c := b.Center()
	out := b
	if octant&1 != 0 {
		out.Min.X = c.X
	} else {
		out.Max.X = c.X
	}
	if octant&2 != 0 {
		out.Min.Y = c.Y
	} else {
		out.Max.Y = c.Y
	}
	if octant&4 != 0 {
		out.Min.Z = c.Z
	} else {
		out.Max.Z = c.Z
	}
	return out
}

func (b Box) String() string {
	return fmt.Sprintf("[%v - %v]", b.Min, b.Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
