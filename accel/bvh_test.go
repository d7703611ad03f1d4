package accel

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"

	"github.com/tracelight/tracelight/types"
)

func randomTestMesh(rng *rand.Rand, count int) *Mesh {
	tris := make([]Triangle, count)
	for i := range tris {
		v0 := types.XYZ(rng.Float32()*9-5, rng.Float32()*9-5, rng.Float32()*9-5)
		tris[i] = Triangle{
			V0: v0,
			V1: v0.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32())),
			V2: v0.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32())),
		}
	}
	return NewMesh(tris)
}

// Count the triangles reachable below a node by walking its leaf ranges.
func subtreeTriCount(b *Bvh, nodeIdx uint32) uint32 {
	node := &b.Node[nodeIdx]
	if node.IsLeaf() {
		return node.TriCount
	}
	return subtreeTriCount(b, node.LeftFirst) + subtreeTriCount(b, node.LeftFirst+1)
}

func TestRayAabbMiss(t *testing.T) {
	ray := NewRay(types.XYZ(0, 0, 0), types.XYZ(1, 0, 0))
	dist := intersectAabb(&ray, types.XYZ(1, 1, 1), types.XYZ(2, 2, 2))
	if !math32.IsInf(dist, 1) {
		t.Fatalf("expected slab test to miss the box; got entry distance %f", dist)
	}
}

func TestRayAabbHit(t *testing.T) {
	ray := NewRay(types.XYZ(0, 1.5, 1.5), types.XYZ(1, 0, 0))
	dist := intersectAabb(&ray, types.XYZ(1, 1, 1), types.XYZ(2, 2, 2))
	if dist != 1 {
		t.Fatalf("expected entry distance 1; got %f", dist)
	}
}

func TestRayTriangleHit(t *testing.T) {
	mesh := NewMesh([]Triangle{{
		V0: types.XYZ(0, 0, 1),
		V1: types.XYZ(1, 0, 1),
		V2: types.XYZ(0, 1, 1),
	}})
	bvh := NewBvh(mesh)
	bvh.Build()

	if !bvh.Node[0].IsLeaf() {
		t.Fatal("expected single-triangle blas root to be a leaf")
	}

	ray := NewRay(types.XYZ(0.25, 0.25, 0), types.XYZ(0, 0, 1))
	bvh.Intersect(&ray, 3)

	if ray.Hit.T != 1 {
		t.Fatalf("expected hit at t=1; got %f", ray.Hit.T)
	}
	if math32.Abs(ray.Hit.U-0.25) > 1e-6 || math32.Abs(ray.Hit.V-0.25) > 1e-6 {
		t.Fatalf("expected barycentrics (0.25, 0.25); got (%f, %f)", ray.Hit.U, ray.Hit.V)
	}
	if ray.Hit.InstanceIndex() != 3 || ray.Hit.PrimIndex() != 0 {
		t.Fatalf("expected instPrim (3, 0); got (%d, %d)", ray.Hit.InstanceIndex(), ray.Hit.PrimIndex())
	}
}

func TestSahTwoClusterSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tris := make([]Triangle, 0, 200)
	for i := 0; i < 100; i++ {
		v0 := types.XYZ(rng.Float32()*0.8, rng.Float32()*4, rng.Float32()*4)
		tris = append(tris, Triangle{V0: v0, V1: v0.Add(types.XYZ(0.2, 0, 0)), V2: v0.Add(types.XYZ(0, 0.2, 0))})
	}
	for i := 0; i < 100; i++ {
		v0 := types.XYZ(10+rng.Float32()*0.8, rng.Float32()*4, rng.Float32()*4)
		tris = append(tris, Triangle{V0: v0, V1: v0.Add(types.XYZ(0.2, 0, 0)), V2: v0.Add(types.XYZ(0, 0.2, 0))})
	}
	bvh := NewBvh(NewMesh(tris))
	bvh.Build()

	root := &bvh.Node[0]
	if root.IsLeaf() {
		t.Fatal("expected two-cluster root to be split")
	}
	left := &bvh.Node[root.LeftFirst]
	right := &bvh.Node[root.LeftFirst+1]
	if n := subtreeTriCount(bvh, root.LeftFirst); n != 100 {
		t.Fatalf("expected 100 triangles below the left child; got %d", n)
	}
	if n := subtreeTriCount(bvh, root.LeftFirst+1); n != 100 {
		t.Fatalf("expected 100 triangles below the right child; got %d", n)
	}
	// the clusters must not straddle the split: one child stays below
	// x=1+eps, the other above x=10-eps
	if (left.Bmax[0] > 2) == (right.Bmax[0] > 2) {
		t.Fatalf("expected the children to separate the clusters; got x-extents [%f %f] and [%f %f]",
			left.Bmin[0], left.Bmax[0], right.Bmin[0], right.Bmax[0])
	}
}

func TestBuildCoversAllTriangles(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	mesh := randomTestMesh(rng, 500)
	bvh := NewBvh(mesh)
	bvh.Build()

	seen := make(map[uint32]int)
	var walk func(nodeIdx uint32)
	walk = func(nodeIdx uint32) {
		node := &bvh.Node[nodeIdx]
		if node.IsLeaf() {
			for i := uint32(0); i < node.TriCount; i++ {
				seen[bvh.TriIdx[node.LeftFirst+i]]++
			}
			return
		}
		walk(node.LeftFirst)
		walk(node.LeftFirst + 1)
	}
	walk(0)

	if len(seen) != len(mesh.Tri) {
		t.Fatalf("expected %d distinct triangles below the root; got %d", len(mesh.Tri), len(seen))
	}
	for idx, count := range seen {
		if count != 1 {
			t.Fatalf("expected triangle %d to appear exactly once; appeared %d times", idx, count)
		}
	}
}

func TestBuildBoundsAreSound(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	mesh := randomTestMesh(rng, 300)
	bvh := NewBvh(mesh)
	bvh.Build()

	var walk func(nodeIdx uint32)
	walk = func(nodeIdx uint32) {
		node := &bvh.Node[nodeIdx]
		box := types.AabbOf(node.Bmin, node.Bmax)
		if node.IsLeaf() {
			for i := uint32(0); i < node.TriCount; i++ {
				tri := &mesh.Tri[bvh.TriIdx[node.LeftFirst+i]]
				triBox := types.NewAabb()
				triBox.GrowPoint(tri.V0)
				triBox.GrowPoint(tri.V1)
				triBox.GrowPoint(tri.V2)
				if !box.Contains(triBox) {
					t.Fatalf("expected leaf %d to contain triangle %d", nodeIdx, bvh.TriIdx[node.LeftFirst+i])
				}
			}
			return
		}
		left := &bvh.Node[node.LeftFirst]
		right := &bvh.Node[node.LeftFirst+1]
		if !box.Contains(types.AabbOf(left.Bmin, left.Bmax)) || !box.Contains(types.AabbOf(right.Bmin, right.Bmax)) {
			t.Fatalf("expected node %d to contain both children", nodeIdx)
		}
		walk(node.LeftFirst)
		walk(node.LeftFirst + 1)
	}
	walk(0)
}

func TestRefitIsIdempotentOnStaticMesh(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	mesh := randomTestMesh(rng, 200)
	bvh := NewBvh(mesh)
	bvh.Build()

	before := make([]BvhNode, bvh.NodesUsed)
	copy(before, bvh.Node[:bvh.NodesUsed])

	bvh.Refit()

	for i := range before {
		if bvh.Node[i] != before[i] {
			t.Fatalf("expected refit on an unmodified mesh to preserve node %d bitwise; got %+v want %+v",
				i, bvh.Node[i], before[i])
		}
	}
}

func TestRefitAfterTranslatePreservesHit(t *testing.T) {
	// quad at z=5 built from two triangles
	mesh := NewMesh([]Triangle{
		{V0: types.XYZ(-1, -1, 5), V1: types.XYZ(1, -1, 5), V2: types.XYZ(1, 1, 5)},
		{V0: types.XYZ(-1, -1, 5), V1: types.XYZ(1, 1, 5), V2: types.XYZ(-1, 1, 5)},
	})
	bvh := NewBvh(mesh)
	bvh.Build()

	ray := NewRay(types.XYZ(0, 0, 0), types.XYZ(0, 0, 1))
	bvh.Intersect(&ray, 0)
	if ray.Hit.T != 5 {
		t.Fatalf("expected hit at t=5; got %f", ray.Hit.T)
	}

	// move the quad one unit toward the ray origin and refit
	mesh.Translate(types.XYZ(0, 0, -1))
	bvh.Refit()

	ray = NewRay(types.XYZ(0, 0, 0), types.XYZ(0, 0, 1))
	bvh.Intersect(&ray, 0)
	if math32.Abs(ray.Hit.T-4) > 1e-5 {
		t.Fatalf("expected hit at t=4 after refit; got %f", ray.Hit.T)
	}
}

func TestIntersectMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	mesh := randomTestMesh(rng, 400)
	bvh := NewBvh(mesh)
	bvh.Build()

	for i := 0; i < 200; i++ {
		origin := types.XYZ(rng.Float32()*20-10, rng.Float32()*20-10, -20)
		dir := types.XYZ(rng.Float32()*0.2-0.1, rng.Float32()*0.2-0.1, 1)

		ray := NewRay(origin, dir)
		bvh.Intersect(&ray, 0)

		ref := NewRay(origin, dir)
		for p := range mesh.Tri {
			intersectTri(&ref, &mesh.Tri[p], packInstPrim(0, uint32(p)))
		}

		if ray.Hit.T != ref.Hit.T {
			t.Fatalf("ray %d: expected traversal t=%f to match brute force; got %f", i, ref.Hit.T, ray.Hit.T)
		}
	}
}
