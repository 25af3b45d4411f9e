// Package cube maps world coordinates onto a grid of fixed-size cubes and
// names every cube with a 48-bit id. The id interleaves the 16-bit grid
// coordinates bit by bit (x in bits 0,3,6..., y in 1,4,7..., z in 2,5,8...)
// so nearby cubes get nearby ids.
package cube

import (
	"errors"
	"fmt"
	"math"

	"realmsdb/pkg/config"
	"realmsdb/pkg/geom"
)

// Mask of the 48 significant bits of a cube id.
const IDMask uint64 = 1<<48 - 1

// Error for accessing an iterator that is not positioned on a cube.
var ErrIteratorState = errors.New("cube iterator is not positioned on a cube")

// Partition divides space into cubes of side Edge.
type Partition struct {
	Edge float64
}

// Default is the world partition with 64 unit cubes.
var Default = Partition{Edge: config.DefaultCubeEdge}

// spread maps a byte to its bits spread three positions apart:
// bit j of the input lands on bit 3j of the output.
var spread [256]uint64

func init() {
	for i := 0; i < 256; i++ {
		var v uint64
		for j := 0; j < 8; j++ {
			if i&(1<<j) != 0 {
				v |= 1 << (3 * j)
			}
		}
		spread[i] = v
	}
}

// grid returns the grid coordinate of a, rounding half up.
func (p Partition) grid(a float64) int64 {
	return int64(math.Floor(a/p.Edge + 0.5))
}

// spread16 spreads the low 16 bits of v over 48 bits.
func spread16(v int64) uint64 {
	return spread[v&0xFF] | spread[(v>>8)&0xFF]<<24
}

// compact16 undoes spread16 for the axis starting at bit shift and
// sign-extends the result.
func compact16(id uint64, shift uint) int64 {
	var v uint16
	for k := uint(0); k < 16; k++ {
		v |= uint16((id>>(3*k+shift))&1) << k
	}
	return int64(int16(v))
}

// interleave builds the id of the grid cell (gx, gy, gz). Grid coordinates
// outside the 16-bit range wrap.
func interleave(gx, gy, gz int64) uint64 {
	return spread16(gx) | spread16(gy)<<1 | spread16(gz)<<2
}

// Encode returns the id of the cube containing (x, y, z).
func (p Partition) Encode(x, y, z float64) uint64 {
	return interleave(p.grid(x), p.grid(y), p.grid(z))
}

// EncodePoint is Encode for a geom.Point.
func (p Partition) EncodePoint(pt geom.Point) uint64 {
	return p.Encode(pt.X, pt.Y, pt.Z)
}

// DecodeCenter returns the center of the cube with the given id.
func (p Partition) DecodeCenter(id uint64) geom.Point {
	return geom.Point{
		X: float64(compact16(id, 0)) * p.Edge,
		Y: float64(compact16(id, 1)) * p.Edge,
		Z: float64(compact16(id, 2)) * p.Edge,
	}
}

// DecodeBounds returns the box of the cube with the given id.
func (p Partition) DecodeBounds(id uint64) geom.Box {
	return geom.Cube(p.DecodeCenter(id), p.Edge/2)
}

// Center returns the center of the cube containing (x, y, z).
func (p Partition) Center(x, y, z float64) geom.Point {
	return p.DecodeCenter(p.Encode(x, y, z))
}

// Bounds returns the box of the cube containing (x, y, z).
func (p Partition) Bounds(x, y, z float64) geom.Box {
	return p.DecodeBounds(p.Encode(x, y, z))
}

// Volume returns the volume of one cube.
func (p Partition) Volume() float64 {
	return p.Edge * p.Edge * p.Edge
}

// Intersect returns an iterator over every cube that shares a point with v.
// Cubes come ordered by z, then y, then x.
func (p Partition) Intersect(v geom.Volume) *Iterator {
	b := v.Box()
	it := &Iterator{
		part:   p,
		volume: v,
		center: v.Center(),
		lo:     [3]int64{p.grid(b.Min.X), p.grid(b.Min.Y), p.grid(b.Min.Z)},
		hi:     [3]int64{p.grid(b.Max.X), p.grid(b.Max.Y), p.grid(b.Max.Z)},
	}
	it.cur = [3]int64{it.lo[0] - 1, it.lo[1], it.lo[2]}
	return it
}

// IDs collects the ids of every cube that intersects v.
func (p Partition) IDs(v geom.Volume) []uint64 {
	var ids []uint64
	for it := p.Intersect(v); it.Next(); {
		ids = append(ids, it.CubeID())
	}
	return ids
}

// Package level helpers operate on the Default partition.

// Encode returns the id of the default cube containing (x, y, z).
func Encode(x, y, z float64) uint64 { return Default.Encode(x, y, z) }

// DecodeCenter returns the center of a default cube.
func DecodeCenter(id uint64) geom.Point { return Default.DecodeCenter(id) }

// DecodeBounds returns the box of a default cube.
func DecodeBounds(id uint64) geom.Box { return Default.DecodeBounds(id) }

// Intersect enumerates the default cubes intersecting v.
func Intersect(v geom.Volume) *Iterator { return Default.Intersect(v) }

// String formats a cube id as 12 hex digits.
func String(id uint64) string {
	return fmt.Sprintf("%012x", id&IDMask)
}
