// Package octree implements the on-disk point index: a write-once file
// holding an octree of points, each carrying the int32 id of a value kept
// elsewhere. The reader maps the file and decodes nodes on first use.
package octree

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"realmsdb/pkg/dberr"
	"realmsdb/pkg/entry"
	"realmsdb/pkg/geom"
	"realmsdb/pkg/pager"

	"github.com/sirupsen/logrus"
)

// Error for calling Entry.Value on a reader opened without a resolver.
var ErrNoResolver = errors.New("index has no value resolver")

// Error for using a closed reader.
var ErrClosed = errors.New("index is closed")

// Resolver turns a stored value id into its value.
type Resolver[V any] func(id int32) (V, error)

// Consumer receives matching entries. Returning an error stops the query.
type Consumer[V any] func(Entry[V]) error

// Entry is a point of the index and the id of its value.
type Entry[V any] struct {
	Point   geom.Point
	ID      int32
	resolve Resolver[V]
}

// Value resolves the entry's value id.
func (e Entry[V]) Value() (V, error) {
	if e.resolve == nil {
		var zero V
		return zero, ErrNoResolver
	}
	return e.resolve(e.ID)
}

// Option configures readers and writers.
type Option func(*options)

type options struct {
	logger *logrus.Logger
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Reader answers queries against an index file. It is safe for concurrent
// use; Close must not overlap other calls.
type Reader[V any] struct {
	path    string
	banner  string
	m       *pager.Mapping
	base    int64 // File offset of block 0
	size    int
	root    *nodeRef
	resolve Resolver[V]
	log     *logrus.Entry
	closed  atomic.Bool
}

// Open maps the index file at path and checks its banner. resolve may be
// nil if callers only need ids.
func Open[V any](path, banner string, resolve Resolver[V], opts ...Option) (*Reader[V], error) {
	o := buildOptions(opts)
	want, err := encodeBanner(banner)
	if err != nil {
		return nil, err
	}
	m, err := pager.Map(path)
	if err != nil {
		return nil, dberr.Wrap("open index", path, err)
	}
	r := &Reader[V]{
		path:    path,
		banner:  banner,
		m:       m,
		resolve: resolve,
		log:     o.logger.WithField("index", path),
	}
	if err := r.readHeader(want); err != nil {
		_ = m.Close()
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"entries": r.size, "bounds": r.Bounds()}).Info("opened index")
	return r, nil
}

func (r *Reader[V]) readHeader(want []byte) error {
	head := headerLen(len(want))
	buf, err := r.m.Slice(0, head+RootSize)
	if err != nil {
		return dberr.Wrap("read header", r.path, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	if string(buf[:len(want)]) != string(want) {
		n := min(len(buf)-1, len(want))
		return dberr.Wrap("read header", r.path,
			fmt.Errorf("%w: found %q", ErrBannerMismatch, decodeBanner(buf[:n])))
	}
	if buf[len(want)] != BannerEnd {
		return dberr.Wrap("read header", r.path, fmt.Errorf("%w: missing banner sentinel", ErrCorrupt))
	}
	rt := unmarshalHeader(buf[head:])
	if rt.count < 0 {
		return dberr.Wrap("read header", r.path, fmt.Errorf("%w: negative entry count", ErrCorrupt))
	}
	r.base = head + RootSize
	r.size = int(rt.count)
	r.root = &nodeRef{block: NoBlock, bounds: rt.bounds}
	n, err := r.decode(rt.node, rt.bounds)
	if err != nil {
		return err
	}
	r.root.cached.Store(n)
	return nil
}

// decode turns block words into a node, reading a leaf's entry run.
func (r *Reader[V]) decode(w words, bounds geom.Box) (*node, error) {
	n := newNode(w, bounds)
	if !n.leaf {
		return n, nil
	}
	block, count := w[leafEntryBlockWord], w[leafCountWord]
	if block < 0 || count < 0 {
		return nil, dberr.Wrap("read leaf", r.path,
			fmt.Errorf("%w: leaf directory [%d, %d]", ErrCorrupt, block, count))
	}
	buf, err := r.m.Slice(r.base+int64(block)*NodeSize, int64(count)*EntrySize)
	if err != nil {
		return nil, dberr.Wrap("read leaf", r.path, err)
	}
	n.entries = make([]entry.Entry, count)
	for i := range n.entries {
		n.entries[i] = entry.Unmarshal(buf[int64(i)*EntrySize:])
	}
	return n, nil
}

// load returns the node behind ref, reading it on first use.
func (r *Reader[V]) load(ref *nodeRef) (*node, error) {
	if n := ref.cached.Load(); n != nil {
		return n, nil
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}
	buf, err := r.m.Slice(r.base+int64(ref.block)*NodeSize, NodeSize)
	if err != nil {
		return nil, dberr.Wrap("read node", r.path, err)
	}
	n, err := r.decode(unmarshalWords(buf), ref.bounds)
	if err != nil {
		return nil, err
	}
	r.log.WithField("block", ref.block).Trace("decoded node")
	ref.cached.CompareAndSwap(nil, n)
	return ref.cached.Load(), nil
}

// Path returns the index file's path.
func (r *Reader[V]) Path() string {
	return r.path
}

// Banner returns the banner the file was opened with.
func (r *Reader[V]) Banner() string {
	return r.banner
}

// Size returns the number of entries in the index.
func (r *Reader[V]) Size() int {
	return r.size
}

// Bounds returns the box covered by the root node.
func (r *Reader[V]) Bounds() geom.Box {
	return r.root.bounds
}

// Contains reports whether an entry sits exactly at (x, y, z).
func (r *Reader[V]) Contains(x, y, z float64) (bool, error) {
	if !r.root.bounds.Includes(x, y, z) {
		return false, nil
	}
	return r.contains(r.root, x, y, z)
}

func (r *Reader[V]) contains(ref *nodeRef, x, y, z float64) (bool, error) {
	n, err := r.load(ref)
	if err != nil {
		return false, err
	}
	if n.leaf {
		for _, e := range n.entries {
			if e.X == x && e.Y == y && e.Z == z {
				return true, nil
			}
		}
		return false, nil
	}
	// A point on a split plane belongs to every child sharing that plane.
	for _, c := range n.children {
		if c == nil || !c.bounds.Includes(x, y, z) {
			continue
		}
		if ok, err := r.contains(c, x, y, z); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

// Intersect calls fn for every entry inside region and returns the number
// of entries reported.
func (r *Reader[V]) Intersect(region geom.Volume, fn Consumer[V]) (int, error) {
	box := region.Box()
	if !r.root.bounds.Overlaps(box) {
		return 0, nil
	}
	return r.intersect(r.root, region, box, fn)
}

func (r *Reader[V]) intersect(ref *nodeRef, region geom.Volume, box geom.Box, fn Consumer[V]) (int, error) {
	n, err := r.load(ref)
	if err != nil {
		return 0, err
	}
	found := 0
	if n.leaf {
		for _, e := range n.entries {
			if !region.Includes(e.X, e.Y, e.Z) {
				continue
			}
			found++
			if err := fn(r.entry(e)); err != nil {
				return found, err
			}
		}
		return found, nil
	}
	for _, c := range n.children {
		if c == nil || !c.bounds.Overlaps(box) {
			continue
		}
		k, err := r.intersect(c, region, box, fn)
		found += k
		if err != nil {
			return found, err
		}
	}
	return found, nil
}

func (r *Reader[V]) entry(e entry.Entry) Entry[V] {
	return Entry[V]{Point: e.Point(), ID: e.ID, resolve: r.resolve}
}

// Print writes every entry of the index to w in cursor order.
func (r *Reader[V]) Print(w io.Writer) error {
	c := r.Cursor()
	for c.Next() {
		e := c.Entry()
		entry.New(e.Point, e.ID).Print(w)
	}
	return c.Err()
}

// Close unmaps the file. Later calls do nothing.
func (r *Reader[V]) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.log.Debug("closed index")
	return dberr.Wrap("close index", r.path, r.m.Close())
}
