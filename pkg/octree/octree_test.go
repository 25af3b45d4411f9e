package octree_test

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"realmsdb/pkg/dberr"
	"realmsdb/pkg/geom"
	"realmsdb/pkg/octree"
	"realmsdb/pkg/pager"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"pgregory.net/rapid"
)

const banner = "realmsdb test index"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func identity(v int32) int32 { return v }

func resolve(id int32) (int32, error) { return id, nil }

var world = geom.NewBox(geom.Pt(-100, -100, -100), geom.Pt(100, 100, 100))

type point struct {
	p  geom.Point
	id int32
}

// buildIndex writes pts into a fresh index file and opens it.
func buildIndex(t testing.TB, pts []point, maxPerVoxel int) *octree.Reader[int32] {
	m := octree.NewMap[int32](world, maxPerVoxel, 10)
	for _, pt := range pts {
		require.NoError(t, m.Put(pt.p, pt.id))
	}
	path := filepath.Join(t.TempDir(), "points"+".3dex")
	w := octree.NewWriter[int32](banner, identity, octree.WithLogger(quietLogger()))
	require.NoError(t, w.WriteFile(path, m.Root()))
	r, err := octree.Open[int32](path, banner, resolve, octree.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func grid(n int) []point {
	var pts []point
	id := int32(0)
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				pts = append(pts, point{geom.Pt(float64(x*20-90), float64(y*20-90), float64(z*20-90)), id})
				id++
			}
		}
	}
	return pts
}

func collectIDs(t testing.TB, r *octree.Reader[int32]) []int32 {
	var ids []int32
	c := r.Cursor()
	for c.Next() {
		ids = append(ids, c.Entry().ID)
	}
	require.NoError(t, c.Err())
	return ids
}

func sortedIDs(ids []int32) []int32 {
	out := append([]int32(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestRoundTrip(t *testing.T) {
	pts := grid(6)
	r := buildIndex(t, pts, 4)
	assert.Equal(t, len(pts), r.Size())
	assert.Equal(t, world, r.Bounds())
	assert.Equal(t, banner, r.Banner())

	ids := sortedIDs(collectIDs(t, r))
	require.Len(t, ids, len(pts))
	for i, id := range ids {
		assert.Equal(t, int32(i), id)
	}

	for _, pt := range pts {
		ok, err := r.Contains(pt.p.X, pt.p.Y, pt.p.Z)
		require.NoError(t, err)
		require.True(t, ok, "missing %v", pt.p)
	}
	ok, err := r.Contains(-89, -90, -90)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.Contains(500, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRootLeaf(t *testing.T) {
	r := buildIndex(t, []point{{geom.Pt(1, 2, 3), 7}, {geom.Pt(-1, -2, -3), 8}}, 16)
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, []int32{7, 8}, collectIDs(t, r))
	ok, err := r.Contains(-1, -2, -3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingFirstOctant(t *testing.T) {
	// Nothing in the low x/y/z octant, so the root's first child word is -1.
	pts := []point{
		{geom.Pt(50, -50, -50), 1},
		{geom.Pt(-50, 50, -50), 2},
		{geom.Pt(50, 50, 50), 3},
	}
	r := buildIndex(t, pts, 1)
	assert.Equal(t, []int32{1, 2, 3}, collectIDs(t, r))
	for _, pt := range pts {
		ok, err := r.Contains(pt.p.X, pt.p.Y, pt.p.Z)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestCursorVisitsOctantsInOrder(t *testing.T) {
	var pts []point
	for o := 7; o >= 0; o-- {
		p := geom.Pt(-50, -50, -50)
		if o&1 != 0 {
			p.X = 50
		}
		if o&2 != 0 {
			p.Y = 50
		}
		if o&4 != 0 {
			p.Z = 50
		}
		pts = append(pts, point{p, int32(o)})
	}
	r := buildIndex(t, pts, 1)
	assert.Equal(t, []int32{
		octree.XLYLZL, octree.XHYLZL, octree.XLYHZL, octree.XHYHZL,
		octree.XLYLZH, octree.XHYLZH, octree.XLYHZH, octree.XHYHZH,
	}, collectIDs(t, r))
}

func TestPointsOnSplitPlanes(t *testing.T) {
	pts := []point{
		{geom.Pt(0, 0, 0), 1},
		{geom.Pt(0, 10, 0), 2},
		{geom.Pt(100, 100, 100), 3},
		{geom.Pt(-100, -100, -100), 4},
		{geom.Pt(0, 0, 0), 5},
	}
	r := buildIndex(t, pts, 1)
	for _, pt := range pts {
		ok, err := r.Contains(pt.p.X, pt.p.Y, pt.p.Z)
		require.NoError(t, err)
		assert.True(t, ok, "missing %v", pt.p)
	}
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, sortedIDs(collectIDs(t, r)))
}

func TestIntersect(t *testing.T) {
	pts := grid(6)
	r := buildIndex(t, pts, 3)

	box := geom.NewBox(geom.Pt(-50, -50, -50), geom.Pt(10, 10, 10))
	sphere := geom.NewSphere(geom.Pt(0, 0, 0), 45)
	for _, region := range []geom.Volume{box, sphere, world} {
		var want []int32
		for _, pt := range pts {
			if region.Includes(pt.p.X, pt.p.Y, pt.p.Z) {
				want = append(want, pt.id)
			}
		}
		var got []int32
		n, err := r.Intersect(region, func(e octree.Entry[int32]) error {
			v, err := e.Value()
			if err != nil {
				return err
			}
			got = append(got, v)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, len(want), n)
		assert.Equal(t, sortedIDs(want), sortedIDs(got))
	}

	n, err := r.Intersect(geom.NewBox(geom.Pt(200, 200, 200), geom.Pt(300, 300, 300)),
		func(octree.Entry[int32]) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIntersectStopsOnConsumerError(t *testing.T) {
	r := buildIndex(t, grid(4), 2)
	stop := errors.New("stop")
	calls := 0
	n, err := r.Intersect(world, func(octree.Entry[int32]) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestNoResolver(t *testing.T) {
	m := octree.NewMap[int32](world, 4, 4)
	require.NoError(t, m.Put(geom.Pt(1, 1, 1), 9))
	path := filepath.Join(t.TempDir(), "ids.3dex")
	require.NoError(t, octree.NewWriter[int32](banner, identity, octree.WithLogger(quietLogger())).WriteFile(path, m.Root()))

	r, err := octree.Open[int32](path, banner, nil, octree.WithLogger(quietLogger()))
	require.NoError(t, err)
	defer r.Close()
	c := r.Cursor()
	require.True(t, c.Next())
	assert.Equal(t, int32(9), c.Entry().ID)
	_, err = c.Entry().Value()
	assert.ErrorIs(t, err, octree.ErrNoResolver)
}

func TestWriteEmptyTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.3dex")
	w := octree.NewWriter[int32](banner, identity, octree.WithLogger(quietLogger()))
	err := w.WriteFile(path, octree.NewMap[int32](world, 4, 4).Root())
	assert.ErrorIs(t, err, octree.ErrEmptyTree)
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestWriteReservedID(t *testing.T) {
	dir := t.TempDir()
	m := octree.NewMap[int32](world, 4, 4)
	require.NoError(t, m.Put(geom.Pt(1, 1, 1), -1))
	err := octree.NewWriter[int32](banner, identity, octree.WithLogger(quietLogger())).
		WriteFile(filepath.Join(dir, "bad.3dex"), m.Root())
	assert.ErrorIs(t, err, octree.ErrReservedID)
	files, _ := os.ReadDir(dir)
	assert.Empty(t, files, "failed writes must not leave files behind")
}

func TestBadBanner(t *testing.T) {
	m := octree.NewMap[int32](world, 4, 4)
	require.NoError(t, m.Put(geom.Pt(1, 1, 1), 1))
	w := octree.NewWriter[int32](string(make([]byte, pager.Pagesize)), identity)
	err := w.WriteFile(filepath.Join(t.TempDir(), "x.3dex"), m.Root())
	assert.ErrorIs(t, err, octree.ErrBadBanner)

	w = octree.NewWriter[int32]("snow ☃", identity)
	err = w.WriteFile(filepath.Join(t.TempDir(), "x.3dex"), m.Root())
	assert.ErrorIs(t, err, octree.ErrBadBanner)
}

func TestMapRejectsOutOfBounds(t *testing.T) {
	m := octree.NewMap[int32](world, 4, 4)
	assert.ErrorIs(t, m.Put(geom.Pt(101, 0, 0), 1), octree.ErrOutOfBounds)
	assert.Equal(t, 0, m.Size())
}

func TestFileLayout(t *testing.T) {
	pts := []point{{geom.Pt(1, 2, 3), 42}}
	r := buildIndex(t, pts, 4)
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	assert.Zero(t, int64(len(data))%pager.Pagesize)
	assert.Equal(t, banner, string(data[:len(banner)]))
	assert.Equal(t, octree.BannerEnd, data[len(banner)])

	head := int64(32) // banner plus sentinel fits in one block
	rootRegion := data[head : head+octree.RootSize]
	assert.Equal(t, -100.0, math.Float64frombits(binary.LittleEndian.Uint64(rootRegion[0:])))
	assert.Equal(t, 100.0, math.Float64frombits(binary.LittleEndian.Uint64(rootRegion[8:])))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(rootRegion[48:]))
	// Root is a leaf directory: -1, entry block 0, one entry.
	assert.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(rootRegion[52:])))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(rootRegion[56:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(rootRegion[60:]))

	block0 := data[head+octree.RootSize:]
	assert.Equal(t, 1.0, math.Float64frombits(binary.LittleEndian.Uint64(block0[0:])))
	assert.Equal(t, 3.0, math.Float64frombits(binary.LittleEndian.Uint64(block0[16:])))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(block0[24:]))
	assert.Equal(t, make([]byte, 4), block0[28:32], "entry run padded to a block")
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := octree.Open[int32](filepath.Join(dir, "absent.3dex"), banner, resolve)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, err, dberr.ErrStorage)

	short := filepath.Join(dir, "short.3dex")
	require.NoError(t, os.WriteFile(short, []byte(banner), 0o644))
	_, err = octree.Open[int32](short, banner, resolve)
	assert.ErrorIs(t, err, octree.ErrCorrupt)
	assert.ErrorIs(t, err, dberr.ErrStorage)

	r := buildIndex(t, grid(3), 2)
	_, err = octree.Open[int32](r.Path(), "some other banner", resolve)
	assert.ErrorIs(t, err, octree.ErrBannerMismatch)

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	data[len(banner)] = 0
	broken := filepath.Join(dir, "broken.3dex")
	require.NoError(t, os.WriteFile(broken, data, 0o644))
	_, err = octree.Open[int32](broken, banner, resolve)
	assert.ErrorIs(t, err, octree.ErrCorrupt)
}

func TestTruncatedBlocks(t *testing.T) {
	r := buildIndex(t, grid(6), 2)
	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	cut := filepath.Join(t.TempDir(), "cut.3dex")
	require.NoError(t, os.WriteFile(cut, data[:32+octree.RootSize+64], 0o644))

	c, err := octree.Open[int32](cut, banner, resolve, octree.WithLogger(quietLogger()))
	require.NoError(t, err, "the header is intact")
	defer c.Close()
	_, err = c.Intersect(world, func(octree.Entry[int32]) error { return nil })
	assert.ErrorIs(t, err, dberr.ErrStorage)
	assert.ErrorIs(t, err, pager.ErrOutOfBounds)
}

func TestCloseIsIdempotent(t *testing.T) {
	r := buildIndex(t, grid(2), 16)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestConcurrentReaders(t *testing.T) {
	pts := grid(8)
	r := buildIndex(t, pts, 4)
	sphere := geom.NewSphere(geom.Pt(10, -10, 0), 60)
	want := 0
	for _, pt := range pts {
		if sphere.Includes(pt.p.X, pt.p.Y, pt.p.Z) {
			want++
		}
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			n, err := r.Intersect(sphere, func(octree.Entry[int32]) error { return nil })
			if err != nil {
				return err
			}
			if n != want {
				return errors.New("wrong intersect count")
			}
			for _, pt := range pts[i*10 : i*10+10] {
				ok, err := r.Contains(pt.p.X, pt.p.Y, pt.p.Z)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("lost a point")
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestRandomTreesMatchBruteForce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(rt, "n")
		coord := rapid.Float64Range(-100, 100)
		pts := make([]point, n)
		for i := range pts {
			pts[i] = point{geom.Pt(coord.Draw(rt, "x"), coord.Draw(rt, "y"), coord.Draw(rt, "z")), int32(i)}
		}
		r := buildIndex(t, pts, rapid.IntRange(1, 8).Draw(rt, "maxPerVoxel"))
		defer r.Close()

		if r.Size() != n {
			rt.Fatalf("size %d, want %d", r.Size(), n)
		}
		if got := len(collectIDs(t, r)); got != n {
			rt.Fatalf("cursor saw %d entries, want %d", got, n)
		}
		region := geom.NewSphere(geom.Pt(coord.Draw(rt, "cx"), coord.Draw(rt, "cy"), coord.Draw(rt, "cz")),
			rapid.Float64Range(0, 150).Draw(rt, "radius"))
		want := 0
		for _, pt := range pts {
			if region.Includes(pt.p.X, pt.p.Y, pt.p.Z) {
				want++
			}
		}
		got, err := r.Intersect(region, func(octree.Entry[int32]) error { return nil })
		if err != nil {
			rt.Fatal(err)
		}
		if got != want {
			rt.Fatalf("intersect found %d, want %d", got, want)
		}
	})
}
