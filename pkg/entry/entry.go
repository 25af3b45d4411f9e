package entry

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"realmsdb/pkg/geom"
)

// Size is the number of bytes a marshalled entry takes on disk.
const Size = 28

// NoID is the value id that is never written to an index file.
const NoID int32 = -1

// Entry is a point of an octree index together with the id of its value.
type Entry struct {
	X, Y, Z float64
	ID      int32
}

// New constructs and returns a new Entry at the given point.
func New(p geom.Point, id int32) Entry {
	return Entry{p.X, p.Y, p.Z, id}
}

// Point returns the entry's position.
func (entry Entry) Point() geom.Point {
	return geom.Point{X: entry.X, Y: entry.Y, Z: entry.Z}
}

// Marshal serializes the entry into the first Size bytes of buf, little-endian.
func (entry Entry) Marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:], math.Float64bits(entry.X))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(entry.Y))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(entry.Z))
	binary.LittleEndian.PutUint32(buf[24:], uint32(entry.ID))
}

// Unmarshal deserializes an entry from the first Size bytes of data.
func Unmarshal(data []byte) Entry {
	return Entry{
		X:  math.Float64frombits(binary.LittleEndian.Uint64(data[0:])),
		Y:  math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		Z:  math.Float64frombits(binary.LittleEndian.Uint64(data[16:])),
		ID: int32(binary.LittleEndian.Uint32(data[24:])),
	}
}

// Print writes the entry to the specified writer in the following format: (<x>, <y>, <z>) -> <id>
func (entry Entry) Print(w io.Writer) {
	fmt.Fprintf(w, "(%g, %g, %g) -> %d\n", entry.X, entry.Y, entry.Z, entry.ID)
}
