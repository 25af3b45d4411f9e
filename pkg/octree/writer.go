package octree

import (
	"fmt"
	"math"
	"os"

	"realmsdb/pkg/dberr"
	"realmsdb/pkg/entry"
	"realmsdb/pkg/pager"

	"github.com/sirupsen/logrus"
)

// IDProvider returns the id stored for a value. It must never return -1.
type IDProvider[V any] func(V) int32

// Writer serializes a complete in-memory tree into an index file. Blocks
// are written bottom-up: children before their parent, and a leaf's entry
// run before its directory.
type Writer[V any] struct {
	banner string
	ids    IDProvider[V]
	log    *logrus.Logger
}

// NewWriter returns a writer stamping files with banner.
func NewWriter[V any](banner string, ids IDProvider[V], opts ...Option) *Writer[V] {
	o := buildOptions(opts)
	return &Writer[V]{banner: banner, ids: ids, log: o.logger}
}

// WriteFile writes the tree under root to path. The file is written next to
// path and renamed into place once complete, so a reader never sees a
// partial index.
func (w *Writer[V]) WriteFile(path string, root RootView[V]) error {
	if root == nil || root.IsEmpty() {
		return ErrEmptyTree
	}
	banner, err := encodeBanner(w.banner)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	pw, err := pager.Create(tmp)
	if err != nil {
		return dberr.Wrap("create index", tmp, err)
	}
	enc := &encoder[V]{pw: pw, ids: w.ids}
	if err := enc.writeFile(banner, root); err != nil {
		_ = pw.Abort()
		return err
	}
	if err := pw.Close(); err != nil {
		_ = os.Remove(tmp)
		return dberr.Wrap("write index", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return dberr.Wrap("publish index", path, err)
	}
	w.log.WithFields(logrus.Fields{
		"index":   path,
		"entries": enc.entries,
		"blocks":  enc.blocks,
		"direct":  pw.Direct(),
	}).Info("wrote index")
	return nil
}

// encoder holds the state of one write.
type encoder[V any] struct {
	pw      *pager.Writer
	ids     IDProvider[V]
	base    int64 // File offset of block 0
	entries int
	blocks  int
}

func (e *encoder[V]) writeFile(banner []byte, root RootView[V]) error {
	if err := e.append(append(banner, BannerEnd)); err != nil {
		return err
	}
	if err := e.pad(); err != nil {
		return err
	}
	head := e.pw.Offset()
	if err := e.append(make([]byte, RootSize)); err != nil {
		return err
	}
	e.base = e.pw.Offset()

	w, ok, err := e.encode(root)
	if err != nil {
		return err
	}
	if !ok {
		return ErrEmptyTree
	}
	rt := header{bounds: root.Bounds(), count: int32(e.entries), node: w}
	buf := make([]byte, RootSize)
	rt.marshal(buf)
	return e.wrap(e.pw.PatchHead(head, buf))
}

func (e *encoder[V]) wrap(err error) error {
	return dberr.Wrap("write index", e.pw.Name(), err)
}

func (e *encoder[V]) append(b []byte) error {
	return e.wrap(e.pw.Append(b))
}

func (e *encoder[V]) pad() error {
	return e.wrap(e.pw.Pad(NodeSize))
}

// writeBlock appends b padded to whole blocks and returns its block index.
func (e *encoder[V]) writeBlock(b []byte) (int32, error) {
	block := (e.pw.Offset() - e.base) / NodeSize
	if block > math.MaxInt32 {
		return NoBlock, fmt.Errorf("%w: index exceeds %d blocks", ErrCorrupt, math.MaxInt32)
	}
	if err := e.append(b); err != nil {
		return NoBlock, err
	}
	if err := e.pad(); err != nil {
		return NoBlock, err
	}
	e.blocks++
	return int32(block), nil
}

// writeNode writes n and returns its block index, or -1 if n holds no entries.
func (e *encoder[V]) writeNode(n NodeView[V]) (int32, error) {
	w, ok, err := e.encode(n)
	if err != nil || !ok {
		return NoBlock, err
	}
	buf := make([]byte, NodeSize)
	w.marshal(buf)
	return e.writeBlock(buf)
}

// encode writes everything below n and returns the block words for n
// itself. ok is false when the subtree holds no entries.
func (e *encoder[V]) encode(n NodeView[V]) (w words, ok bool, err error) {
	if n == nil || n.IsEmpty() {
		return w, false, nil
	}
	if n.HasChildNodes() {
		for o := range w {
			if w[o], err = e.writeNode(n.Child(o)); err != nil {
				return w, false, err
			}
			ok = ok || w[o] != NoBlock
		}
		return w, ok, nil
	}
	count := n.EntryCount()
	if count == 0 {
		return w, false, nil
	}
	buf := make([]byte, int64(count)*EntrySize)
	for i := 0; i < count; i++ {
		p, v := n.Entry(i)
		id := e.ids(v)
		if id == entry.NoID {
			return w, false, fmt.Errorf("%w: entry at %v", ErrReservedID, p)
		}
		entry.New(p, id).Marshal(buf[int64(i)*EntrySize:])
	}
	block, err := e.writeBlock(buf)
	if err != nil {
		return w, false, err
	}
	e.entries += count
	return leafWords(block, count), true, nil
}
