package types

import "github.com/chewxy/math32"

// Axis aligned bounding box. The empty box is the sentinel state with
// Bmin at +Inf and Bmax at -Inf; growing an empty box by a point yields
// the degenerate box containing just that point.
type Aabb struct {
	Bmin Vec3
	Bmax Vec3
}

// Create an empty box.
func NewAabb() Aabb {
	inf := math32.Inf(1)
	return Aabb{
		Bmin: Vec3{inf, inf, inf},
		Bmax: Vec3{-inf, -inf, -inf},
	}
}

// Create a box from explicit extents.
func AabbOf(bmin, bmax Vec3) Aabb {
	return Aabb{Bmin: bmin, Bmax: bmax}
}

// Expand the box to include a point.
func (b *Aabb) GrowPoint(p Vec3) {
	b.Bmin = MinVec3(b.Bmin, p)
	b.Bmax = MaxVec3(b.Bmax, p)
}

// Expand the box to include another box. Growing by an empty box is a no-op.
func (b *Aabb) Grow(other Aabb) {
	if other.IsEmpty() {
		return
	}
	b.GrowPoint(other.Bmin)
	b.GrowPoint(other.Bmax)
}

// Report whether the box is in the empty sentinel state.
func (b Aabb) IsEmpty() bool {
	return b.Bmax[0] < b.Bmin[0]
}

// Half surface area of the box: ex*ey + ey*ez + ez*ex. Empty boxes
// report zero so SAH sweeps can fold them without producing NaNs.
func (b Aabb) Area() float32 {
	if b.IsEmpty() {
		return 0
	}
	e := b.Bmax.Sub(b.Bmin)
	return e[0]*e[1] + e[1]*e[2] + e[2]*e[0]
}

// Box center.
func (b Aabb) Center() Vec3 {
	return b.Bmin.Add(b.Bmax).Mul(0.5)
}

// Box extent.
func (b Aabb) Extent() Vec3 {
	return b.Bmax.Sub(b.Bmin)
}

// Smallest box containing both inputs.
func Union(a, b Aabb) Aabb {
	return Aabb{
		Bmin: MinVec3(a.Bmin, b.Bmin),
		Bmax: MaxVec3(a.Bmax, b.Bmax),
	}
}

// Report whether b fully contains other.
func (b Aabb) Contains(other Aabb) bool {
	return b.Bmin[0] <= other.Bmin[0] && b.Bmin[1] <= other.Bmin[1] && b.Bmin[2] <= other.Bmin[2] &&
		b.Bmax[0] >= other.Bmax[0] && b.Bmax[1] >= other.Bmax[1] && b.Bmax[2] >= other.Bmax[2]
}
