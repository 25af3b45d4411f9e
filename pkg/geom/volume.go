package geom

// Volume is a bounded region of space. Box must enclose every point for
// which Includes returns true.
type Volume interface {
	Box() Box
	Center() Point
	Includes(x, y, z float64) bool
}

// Sphere is a ball around Center.
type Sphere struct {
	Mid    Point
	Radius float64
}

// NewSphere builds a sphere of radius r around c.
func NewSphere(c Point, r float64) Sphere {
	return Sphere{Mid: c, Radius: r}
}

// Box returns the bounding cube of the sphere.
func (s Sphere) Box() Box {
	return Cube(s.Mid, s.Radius)
}

// Center returns the centre of the sphere.
func (s Sphere) Center() Point {
	return s.Mid
}

// Includes reports whether the point is inside the sphere or on its surface.
func (s Sphere) Includes(x, y, z float64) bool {
	dx, dy, dz := x-s.Mid.X, y-s.Mid.Y, z-s.Mid.Z
	return dx*dx+dy*dy+dz*dz <= s.Radius*s.Radius
}
