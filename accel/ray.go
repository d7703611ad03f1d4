package accel

import (
	"github.com/chewxy/math32"

	"github.com/tracelight/tracelight/types"
)

const (
	// Hit.InstPrim packs the instance index in the high 12 bits and the
	// primitive index in the low 20 bits.
	primIdxBits = 20
	primIdxMask = (1 << primIdxBits) - 1
)

// Hit is the intersection record carried by a ray. A T of +Inf marks
// "no hit yet".
type Hit struct {
	T        float32
	U, V     float32
	InstPrim uint32
}

// Instance index of the recorded hit.
func (h Hit) InstanceIndex() uint32 {
	return h.InstPrim >> primIdxBits
}

// Primitive index of the recorded hit.
func (h Hit) PrimIndex() uint32 {
	return h.InstPrim & primIdxMask
}

func packInstPrim(instanceIdx, primIdx uint32) uint32 {
	return instanceIdx<<primIdxBits | primIdx
}

// Ray is the traversal query carrier. RD must hold the componentwise
// reciprocal of D before traversal; NewRay takes care of that. Zero
// direction components produce infinities in RD, which the slab test
// handles per IEEE-754.
type Ray struct {
	O   types.Vec3
	D   types.Vec3
	RD  types.Vec3
	Hit Hit
}

// Create a ray ready for traversal.
func NewRay(origin, direction types.Vec3) Ray {
	return Ray{
		O:   origin,
		D:   direction,
		RD:  direction.Recip(),
		Hit: Hit{T: math32.Inf(1)},
	}
}

// Slab test against an AABB using precomputed reciprocal directions.
// Returns the entry distance, or +Inf when the box is missed or lies
// beyond the current hit.
func intersectAabb(ray *Ray, bmin, bmax types.Vec3) float32 {
	tx1 := (bmin[0] - ray.O[0]) * ray.RD[0]
	tx2 := (bmax[0] - ray.O[0]) * ray.RD[0]
	tmin := math32.Min(tx1, tx2)
	tmax := math32.Max(tx1, tx2)
	ty1 := (bmin[1] - ray.O[1]) * ray.RD[1]
	ty2 := (bmax[1] - ray.O[1]) * ray.RD[1]
	tmin = math32.Max(tmin, math32.Min(ty1, ty2))
	tmax = math32.Min(tmax, math32.Max(ty1, ty2))
	tz1 := (bmin[2] - ray.O[2]) * ray.RD[2]
	tz2 := (bmax[2] - ray.O[2]) * ray.RD[2]
	tmin = math32.Max(tmin, math32.Min(tz1, tz2))
	tmax = math32.Min(tmax, math32.Max(tz1, tz2))
	if tmax >= tmin && tmin < ray.Hit.T && tmax > 0 {
		return tmin
	}
	return math32.Inf(1)
}
