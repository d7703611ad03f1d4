package accel

import "github.com/tracelight/tracelight/types"

// Triangle is the primitive the BLAS partitions. The centroid is
// maintained by the owning mesh.
type Triangle struct {
	V0, V1, V2 types.Vec3
	Centroid   types.Vec3
}

// Mesh is a minimal triangle soup carrier. Loading meshes from files is
// the caller's problem; this type only owns the geometry the BLAS needs.
type Mesh struct {
	Tri []Triangle
}

// Wrap a triangle list into a mesh and populate the centroids.
func NewMesh(tris []Triangle) *Mesh {
	m := &Mesh{Tri: tris}
	for i := range m.Tri {
		m.Tri[i].Centroid = centroidOf(&m.Tri[i])
	}
	return m
}

func centroidOf(t *Triangle) types.Vec3 {
	return t.V0.Add(t.V1).Add(t.V2).Mul(1.0 / 3.0)
}

// Displace every vertex by d, keeping centroids in sync. Rigid motion
// like this keeps leaf assignments valid so a BLAS refit suffices.
func (m *Mesh) Translate(d types.Vec3) {
	for i := range m.Tri {
		t := &m.Tri[i]
		t.V0 = t.V0.Add(d)
		t.V1 = t.V1.Add(d)
		t.V2 = t.V2.Add(d)
		t.Centroid = t.Centroid.Add(d)
	}
}
