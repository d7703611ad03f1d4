package accel

import "github.com/tracelight/tracelight/types"

// BvhInstance places a shared BLAS in the scene under an affine transform.
// Only rigid transforms and uniform scaling keep the world-space ray t
// parameterization correct.
type BvhInstance struct {
	transform    types.Mat4
	invTransform types.Mat4

	// World-space bounds of the BLAS root, recomputed by SetTransform.
	Bounds types.Aabb

	bvh *Bvh
	idx uint32
}

// Create an instance of a built BLAS. idx is the instance's index in the
// scene; it ends up in the high bits of Hit.InstPrim.
func NewBvhInstance(bvh *Bvh, idx uint32) BvhInstance {
	inst := BvhInstance{bvh: bvh, idx: idx}
	inst.SetTransform(types.Ident4())
	return inst
}

// The current instance transform.
func (bi *BvhInstance) Transform() types.Mat4 {
	return bi.transform
}

// SetTransform stores the transform and its inverse and recomputes the
// world-space bounds from the eight transformed corners of the BLAS root
// box.
func (bi *BvhInstance) SetTransform(transform types.Mat4) {
	bi.transform = transform
	bi.invTransform = transform.Inv()
	bmin, bmax := bi.bvh.Node[0].Bmin, bi.bvh.Node[0].Bmax
	bi.Bounds = types.NewAabb()
	for i := 0; i < 8; i++ {
		corner := types.Vec3{bmin[0], bmin[1], bmin[2]}
		if i&1 != 0 {
			corner[0] = bmax[0]
		}
		if i&2 != 0 {
			corner[1] = bmax[1]
		}
		if i&4 != 0 {
			corner[2] = bmax[2]
		}
		bi.Bounds.GrowPoint(types.TransformPoint(transform, corner))
	}
}

// Intersect transforms the ray into BLAS-local space and traverses the
// BLAS. The caller's ray keeps its world-space origin and direction; only
// the hit record is written back.
func (bi *BvhInstance) Intersect(ray *Ray) {
	local := *ray
	local.O = types.TransformPoint(bi.invTransform, ray.O)
	local.D = types.TransformDir(bi.invTransform, ray.D)
	local.RD = local.D.Recip()
	bi.bvh.Intersect(&local, bi.idx)
	ray.Hit = local.Hit
}
