package types

import "github.com/go-gl/mathgl/mgl32"

// Affine transforms are mathgl matrices; the helpers below apply them
// to the array-backed vectors the rest of the package trades in.
type Mat4 = mgl32.Mat4

// Identity transform.
func Ident4() Mat4 {
	return mgl32.Ident4()
}

// Transform a point by an affine matrix (w = 1).
func TransformPoint(m Mat4, v Vec3) Vec3 {
	out := m.Mul4x1(mgl32.Vec4{v[0], v[1], v[2], 1})
	return Vec3{out[0], out[1], out[2]}
}

// Transform a direction by the linear part of an affine matrix (w = 0).
func TransformDir(m Mat4, v Vec3) Vec3 {
	out := m.Mul4x1(mgl32.Vec4{v[0], v[1], v[2], 0})
	return Vec3{out[0], out[1], out[2]}
}
