package accel

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/tracelight/tracelight/log"
	"github.com/tracelight/tracelight/types"
)

// Number of bins evaluated per axis by the binned SAH split search.
const bvhBins = 8

// Traversal stack depth. Plenty for any tree over 2^20 primitives.
const bvhStackSize = 64

// BvhNode is a 32-byte flat-array node. A node is a leaf iff TriCount > 0;
// empty leaves do not exist. For interior nodes LeftFirst indexes the left
// child (the right child is LeftFirst+1); for leaves it is the start of the
// node's range in the owning tree's TriIdx permutation.
type BvhNode struct {
	Bmin      types.Vec3
	LeftFirst uint32
	Bmax      types.Vec3
	TriCount  uint32
}

// Report whether the node is a leaf.
func (n *BvhNode) IsLeaf() bool {
	return n.TriCount > 0
}

// SAH cost of keeping the node as a leaf: half-area times primitive count.
func (n *BvhNode) cost() float32 {
	e := n.Bmax.Sub(n.Bmin)
	return (e[0]*e[1] + e[1]*e[2] + e[2]*e[0]) * float32(n.TriCount)
}

// Bvh is a per-mesh bounding volume hierarchy, used as a BLAS. Node and
// index storage is allocated once at construction and reused across
// rebuilds; the root is always node 0.
type Bvh struct {
	mesh *Mesh

	Node      []BvhNode
	TriIdx    []uint32
	NodesUsed uint32

	logger log.Logger
}

// Create a BVH over the given mesh. Build must be called before the
// structure can be traversed.
func NewBvh(mesh *Mesh) *Bvh {
	n := len(mesh.Tri)
	return &Bvh{
		mesh:   mesh,
		Node:   make([]BvhNode, 2*n),
		TriIdx: make([]uint32, n),
		logger: log.New("bvh"),
	}
}

// Build constructs the hierarchy with a binned SAH top-down subdivision.
// Node slot 1 is skipped so sibling pairs share a cache line.
func (b *Bvh) Build() {
	start := time.Now()
	for i := range b.TriIdx {
		b.TriIdx[i] = uint32(i)
	}
	root := &b.Node[0]
	root.LeftFirst, root.TriCount = 0, uint32(len(b.mesh.Tri))
	b.NodesUsed = 2
	b.updateNodeBounds(0)
	b.subdivide(0)
	b.logger.Debugf("built blas over %d tris: %d nodes, %d ms",
		len(b.mesh.Tri), b.NodesUsed, time.Since(start).Nanoseconds()/1e6)
}

// Refit recomputes node bounds bottom-up without changing topology.
// Valid after the mesh moved rigidly (or nearly so); the caller is
// responsible for leaf assignments still being reasonable.
func (b *Bvh) Refit() {
	for i := int(b.NodesUsed) - 1; i >= 0; i-- {
		if i == 1 {
			continue
		}
		node := &b.Node[i]
		if node.IsLeaf() {
			b.updateNodeBounds(uint32(i))
			continue
		}
		left := &b.Node[node.LeftFirst]
		right := &b.Node[node.LeftFirst+1]
		node.Bmin = types.MinVec3(left.Bmin, right.Bmin)
		node.Bmax = types.MaxVec3(left.Bmax, right.Bmax)
	}
}

func (b *Bvh) updateNodeBounds(nodeIdx uint32) {
	node := &b.Node[nodeIdx]
	box := types.NewAabb()
	for i := uint32(0); i < node.TriCount; i++ {
		tri := &b.mesh.Tri[b.TriIdx[node.LeftFirst+i]]
		box.GrowPoint(tri.V0)
		box.GrowPoint(tri.V1)
		box.GrowPoint(tri.V2)
	}
	node.Bmin, node.Bmax = box.Bmin, box.Bmax
}

// Evaluate a binned SAH split for the node. Returns axis -1 when no axis
// offers a non-degenerate centroid spread. Ties resolve to the lower axis
// and then the lower plane because only strict improvements are kept.
func (b *Bvh) findBestSplitPlane(node *BvhNode) (bestAxis int, bestPos, bestCost float32) {
	bestAxis = -1
	bestCost = math32.Inf(1)
	for axis := 0; axis < 3; axis++ {
		cmin := math32.Inf(1)
		cmax := math32.Inf(-1)
		for i := uint32(0); i < node.TriCount; i++ {
			c := b.mesh.Tri[b.TriIdx[node.LeftFirst+i]].Centroid[axis]
			cmin = math32.Min(cmin, c)
			cmax = math32.Max(cmax, c)
		}
		if cmin == cmax {
			continue
		}
		var bin [bvhBins]struct {
			bounds types.Aabb
			count  uint32
		}
		for i := range bin {
			bin[i].bounds = types.NewAabb()
		}
		scale := float32(bvhBins) / (cmax - cmin)
		for i := uint32(0); i < node.TriCount; i++ {
			tri := &b.mesh.Tri[b.TriIdx[node.LeftFirst+i]]
			binIdx := int((tri.Centroid[axis] - cmin) * scale)
			if binIdx > bvhBins-1 {
				binIdx = bvhBins - 1
			}
			bin[binIdx].count++
			bin[binIdx].bounds.GrowPoint(tri.V0)
			bin[binIdx].bounds.GrowPoint(tri.V1)
			bin[binIdx].bounds.GrowPoint(tri.V2)
		}
		// prefix/suffix sweep over the B-1 candidate planes
		var leftArea, rightArea [bvhBins - 1]float32
		var leftCount, rightCount [bvhBins - 1]uint32
		leftBox, rightBox := types.NewAabb(), types.NewAabb()
		leftSum, rightSum := uint32(0), uint32(0)
		for i := 0; i < bvhBins-1; i++ {
			leftSum += bin[i].count
			leftCount[i] = leftSum
			leftBox.Grow(bin[i].bounds)
			leftArea[i] = leftBox.Area()
			rightSum += bin[bvhBins-1-i].count
			rightCount[bvhBins-2-i] = rightSum
			rightBox.Grow(bin[bvhBins-1-i].bounds)
			rightArea[bvhBins-2-i] = rightBox.Area()
		}
		planeWidth := (cmax - cmin) / bvhBins
		for i := 0; i < bvhBins-1; i++ {
			if leftCount[i] == 0 || rightCount[i] == 0 {
				continue
			}
			cost := float32(leftCount[i])*leftArea[i] + float32(rightCount[i])*rightArea[i]
			if cost < bestCost {
				bestCost = cost
				bestAxis = axis
				bestPos = cmin + planeWidth*float32(i+1)
			}
		}
	}
	return bestAxis, bestPos, bestCost
}

func (b *Bvh) subdivide(nodeIdx uint32) {
	node := &b.Node[nodeIdx]
	axis, splitPos, splitCost := b.findBestSplitPlane(node)
	if axis < 0 || splitCost >= node.cost() {
		return
	}
	// partition TriIdx in place around the split plane
	i := int(node.LeftFirst)
	j := i + int(node.TriCount) - 1
	for i <= j {
		if b.mesh.Tri[b.TriIdx[i]].Centroid[axis] < splitPos {
			i++
		} else {
			b.TriIdx[i], b.TriIdx[j] = b.TriIdx[j], b.TriIdx[i]
			j--
		}
	}
	leftCount := uint32(i) - node.LeftFirst
	if leftCount == 0 || leftCount == node.TriCount {
		return
	}
	leftChild := b.NodesUsed
	b.NodesUsed += 2
	b.Node[leftChild].LeftFirst = node.LeftFirst
	b.Node[leftChild].TriCount = leftCount
	b.Node[leftChild+1].LeftFirst = uint32(i)
	b.Node[leftChild+1].TriCount = node.TriCount - leftCount
	node.LeftFirst = leftChild
	node.TriCount = 0
	b.updateNodeBounds(leftChild)
	b.updateNodeBounds(leftChild + 1)
	b.subdivide(leftChild)
	b.subdivide(leftChild + 1)
}

// Intersect traverses the tree with an explicit stack, visiting the
// nearer child first and skipping anything beyond the current hit.
// instanceIdx is folded into the InstPrim field of recorded hits.
func (b *Bvh) Intersect(ray *Ray, instanceIdx uint32) {
	node := &b.Node[0]
	var stack [bvhStackSize]*BvhNode
	stackPtr := 0
	for {
		if node.IsLeaf() {
			for i := uint32(0); i < node.TriCount; i++ {
				primIdx := b.TriIdx[node.LeftFirst+i]
				intersectTri(ray, &b.mesh.Tri[primIdx], packInstPrim(instanceIdx, primIdx))
			}
			if stackPtr == 0 {
				break
			}
			stackPtr--
			node = stack[stackPtr]
			continue
		}
		child1 := &b.Node[node.LeftFirst]
		child2 := &b.Node[node.LeftFirst+1]
		dist1 := intersectAabb(ray, child1.Bmin, child1.Bmax)
		dist2 := intersectAabb(ray, child2.Bmin, child2.Bmax)
		if dist1 > dist2 {
			dist1, dist2 = dist2, dist1
			child1, child2 = child2, child1
		}
		if math32.IsInf(dist1, 1) {
			if stackPtr == 0 {
				break
			}
			stackPtr--
			node = stack[stackPtr]
			continue
		}
		node = child1
		if !math32.IsInf(dist2, 1) {
			stack[stackPtr] = child2
			stackPtr++
		}
	}
}

// Moeller-Trumbore ray/triangle test; records the hit if it improves on
// the current one.
func intersectTri(ray *Ray, tri *Triangle, instPrim uint32) {
	edge1 := tri.V1.Sub(tri.V0)
	edge2 := tri.V2.Sub(tri.V0)
	h := ray.D.Cross(edge2)
	a := edge1.Dot(h)
	if a > -1e-7 && a < 1e-7 {
		return // ray parallel to triangle
	}
	f := 1 / a
	s := ray.O.Sub(tri.V0)
	u := f * s.Dot(h)
	if u < 0 || u > 1 {
		return
	}
	q := s.Cross(edge1)
	v := f * ray.D.Dot(q)
	if v < 0 || u+v > 1 {
		return
	}
	t := f * edge2.Dot(q)
	if t > 0.0001 && t < ray.Hit.T {
		ray.Hit = Hit{T: t, U: u, V: v, InstPrim: instPrim}
	}
}
