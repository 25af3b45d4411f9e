package database

import (
	"realmsdb/pkg/geom"
	"realmsdb/pkg/octree"
)

// IndexPoint is one point of an index under construction.
type IndexPoint struct {
	P  geom.Point
	ID int32
}

// BuildIndex indexes pts under name. The tree covers the bounding box of
// the points grown by one unit on each side.
func (db *Database) BuildIndex(name string, pts []IndexPoint) (*Index, error) {
	if len(pts) == 0 {
		return nil, octree.ErrEmptyTree
	}
	lo, hi := pts[0].P, pts[0].P
	for _, pt := range pts[1:] {
		lo = geom.Pt(min(lo.X, pt.P.X), min(lo.Y, pt.P.Y), min(lo.Z, pt.P.Z))
		hi = geom.Pt(max(hi.X, pt.P.X), max(hi.Y, pt.P.Y), max(hi.Z, pt.P.Z))
	}
	bounds := geom.NewBox(geom.Pt(lo.X-1, lo.Y-1, lo.Z-1), geom.Pt(hi.X+1, hi.Y+1, hi.Z+1))
	m := octree.NewMap[int32](bounds, db.cfg.Octree.MaxPerVoxel, db.cfg.Octree.MaxDepth)
	for _, pt := range pts {
		if err := m.Put(pt.P, pt.ID); err != nil {
			return nil, err
		}
	}
	return db.CreateIndex(name, m.Root())
}
