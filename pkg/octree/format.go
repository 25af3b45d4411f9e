package octree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"realmsdb/pkg/geom"
)

var (
	// Error for writing a tree without entries.
	ErrEmptyTree = errors.New("cannot write an empty octree")
	// Error for a value whose id is the reserved -1.
	ErrReservedID = errors.New("value id -1 is reserved")
	// Error for a banner that is not Latin-1 or too long for the first page.
	ErrBadBanner = errors.New("invalid index banner")
	// Error for a file whose banner differs from the expected one.
	ErrBannerMismatch = errors.New("index banner mismatch")
	// Error for structurally invalid index data.
	ErrCorrupt = errors.New("corrupt index file")
)

// encodeBanner converts the banner to ISO-8859-1 bytes.
func encodeBanner(banner string) ([]byte, error) {
	out := make([]byte, 0, len(banner))
	for _, r := range banner {
		if r > 0xFF {
			return nil, fmt.Errorf("%w: %q is not Latin-1", ErrBadBanner, r)
		}
		out = append(out, byte(r))
	}
	if headerLen(len(out))+RootSize > MaxHeader {
		return nil, fmt.Errorf("%w: %d bytes is too long", ErrBadBanner, len(out))
	}
	return out, nil
}

// decodeBanner reads ISO-8859-1 bytes as a string.
func decodeBanner(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// headerLen returns the size of banner plus sentinel, padded to a block.
func headerLen(bannerLen int) int64 {
	n := int64(bannerLen) + 1
	return (n + NodeSize - 1) / NodeSize * NodeSize
}

// words is the decoded form of one 32-byte block.
type words [NodeWords]int32

func (w *words) marshal(buf []byte) {
	for i, v := range w {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
}

func unmarshalWords(buf []byte) (w words) {
	for i := range w {
		w[i] = int32(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return w
}

// leafWords returns the leaf directory for count entries at entryBlock.
func leafWords(entryBlock int32, count int) words {
	w := words{NoBlock}
	w[leafEntryBlockWord] = entryBlock
	w[leafCountWord] = int32(count)
	return w
}

// isLeaf tells a leaf directory from an internal node. Both may start with
// -1, but only a leaf has five zero words at the end: the children of an
// internal node are distinct blocks or -1.
func (w *words) isLeaf() bool {
	if w[0] != NoBlock {
		return false
	}
	for _, v := range w[leafPadStartWord:] {
		if v != 0 {
			return false
		}
	}
	return true
}

// header is the decoded root region.
type header struct {
	bounds geom.Box
	count  int32
	node   words
}

func (r *header) marshal(buf []byte) {
	f := [6]float64{
		r.bounds.Min.X, r.bounds.Max.X,
		r.bounds.Min.Y, r.bounds.Max.Y,
		r.bounds.Min.Z, r.bounds.Max.Z,
	}
	for i, v := range f {
		binary.LittleEndian.PutUint64(buf[rootBoundsOffset+int64(8*i):], math.Float64bits(v))
	}
	binary.LittleEndian.PutUint32(buf[rootCountOffset:], uint32(r.count))
	r.node.marshal(buf[rootNodeOffset:])
}

func unmarshalHeader(buf []byte) header {
	var f [6]float64
	for i := range f {
		f[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[rootBoundsOffset+int64(8*i):]))
	}
	return header{
		bounds: geom.Box{Min: geom.Pt(f[0], f[2], f[4]), Max: geom.Pt(f[1], f[3], f[5])},
		count:  int32(binary.LittleEndian.Uint32(buf[rootCountOffset:])),
		node:   unmarshalWords(buf[rootNodeOffset:]),
	}
}
