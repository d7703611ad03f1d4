package accel

import (
	"fmt"
	"sort"
	"time"

	"github.com/chewxy/math32"

	"github.com/tracelight/tracelight/log"
	"github.com/tracelight/tracelight/types"
)

// TlasNode is a 32-byte top-level node. LeftRight packs the right child
// index in the high 16 bits and the left child in the low 16; zero marks
// a leaf, in which case Blas holds the instance index.
type TlasNode struct {
	AabbMin   types.Vec3
	LeftRight uint32
	AabbMax   types.Vec3
	Blas      uint32
}

// Report whether the node is a leaf.
func (n *TlasNode) IsLeaf() bool {
	return n.LeftRight == 0
}

// Left child index.
func (n *TlasNode) Left() uint32 {
	return n.LeftRight & 0xffff
}

// Right child index.
func (n *TlasNode) Right() uint32 {
	return n.LeftRight >> 16
}

// Tlas is a BVH over BLAS instances. Node slot 0 is unused; instance
// leaves occupy slots 1..N and merged nodes grow upward from there, so
// the root is wherever the last merge (or the quick build) left it.
type Tlas struct {
	Node []TlasNode
	blas []BvhInstance

	kdtree    *KdTree
	NodesUsed uint32
	blasCount uint32
	root      uint32

	scratch []uint32 // BuildQuick index workspace

	logger log.Logger
}

// Create a TLAS over a set of instances. Child indices live in 16-bit
// halves, so the instance count is capped at what the packing can
// address; exceeding it is a caller bug.
func NewTlas(instances []BvhInstance) *Tlas {
	n := uint32(len(instances))
	if 2*n > 0xffff {
		panic(fmt.Sprintf("tlas: %d instances exceed 16-bit node addressing", n))
	}
	t := &Tlas{
		Node:      make([]TlasNode, 2*n),
		blas:      instances,
		blasCount: n,
		scratch:   make([]uint32, n),
		logger:    log.New("tlas"),
	}
	t.kdtree = NewKdTree(t.Node, n)
	return t
}

// Root index of the built tree.
func (t *Tlas) Root() uint32 {
	return t.root
}

func (t *Tlas) initLeaves() {
	for i := uint32(0); i < t.blasCount; i++ {
		t.Node[i+1] = TlasNode{
			AabbMin: t.blas[i].Bounds.Bmin,
			AabbMax: t.blas[i].Bounds.Bmax,
			Blas:    i,
		}
	}
	t.NodesUsed = t.blasCount + 1
}

// Build runs agglomerative clustering: repeatedly merge the pair of live
// nodes whose union has the smallest surface area. The kd-tree answers
// the nearest queries; merges only happen between mutual nearest
// neighbors, chasing through better candidates otherwise.
func (t *Tlas) Build() {
	start := time.Now()
	t.initLeaves()
	if t.blasCount == 0 {
		return
	}
	t.root = 1
	if t.blasCount == 1 {
		return
	}
	t.kdtree.Rebuild()
	liveCount := t.blasCount
	a := uint32(1)
	bestB, bestSA := t.kdtree.FindNearest(a, 0, math32.Inf(1))
	for liveCount > 1 {
		// is a still the best match for bestB?
		c, csa := t.kdtree.FindNearest(bestB, a, bestSA)
		if c != a {
			// chase: bestB has a better partner, restart from there
			a, bestB, bestSA = bestB, c, csa
			continue
		}
		// a and bestB are mutual nearest neighbors: merge them
		newIdx := t.NodesUsed
		t.NodesUsed++
		t.Node[newIdx] = TlasNode{
			AabbMin:   types.MinVec3(t.Node[a].AabbMin, t.Node[bestB].AabbMin),
			AabbMax:   types.MaxVec3(t.Node[a].AabbMax, t.Node[bestB].AabbMax),
			LeftRight: a<<16 | bestB,
		}
		t.kdtree.RemoveLeaf(a)
		t.kdtree.RemoveLeaf(bestB)
		t.kdtree.Add(newIdx)
		liveCount--
		if liveCount == 1 {
			t.root = newIdx
			break
		}
		a = newIdx
		bestB, bestSA = t.kdtree.FindNearest(a, 0, math32.Inf(1))
	}
	t.logger.Debugf("agglomerative tlas over %d instances: %d nodes, %d ms",
		t.blasCount, t.NodesUsed, time.Since(start).Nanoseconds()/1e6)
}

// BuildQuick is the fast fallback: recursive median splits along the
// dominant axis of the centroid bounds, emitted in post-order. Lower
// quality than Build but cheap and kd-tree free.
func (t *Tlas) BuildQuick() {
	start := time.Now()
	t.initLeaves()
	if t.blasCount == 0 {
		return
	}
	for i := uint32(0); i < t.blasCount; i++ {
		t.scratch[i] = i + 1
	}
	t.root = t.quickSplit(t.scratch)
	t.logger.Debugf("quick tlas over %d instances: %d nodes, %d ms",
		t.blasCount, t.NodesUsed, time.Since(start).Nanoseconds()/1e6)
}

func (t *Tlas) quickSplit(idx []uint32) uint32 {
	if len(idx) == 1 {
		return idx[0]
	}
	cb := types.NewAabb()
	for _, i := range idx {
		cb.GrowPoint(t.Node[i].AabbMin.Add(t.Node[i].AabbMax).Mul(0.5))
	}
	axis := types.DominantAxis(cb.Extent())
	sort.Slice(idx, func(a, b int) bool {
		ca := t.Node[idx[a]].AabbMin[axis] + t.Node[idx[a]].AabbMax[axis]
		cbv := t.Node[idx[b]].AabbMin[axis] + t.Node[idx[b]].AabbMax[axis]
		return ca < cbv
	})
	mid := len(idx) / 2
	left := t.quickSplit(idx[:mid])
	right := t.quickSplit(idx[mid:])
	newIdx := t.NodesUsed
	t.NodesUsed++
	t.Node[newIdx] = TlasNode{
		AabbMin:   types.MinVec3(t.Node[left].AabbMin, t.Node[right].AabbMin),
		AabbMax:   types.MaxVec3(t.Node[left].AabbMax, t.Node[right].AabbMax),
		LeftRight: left<<16 | right,
	}
	return newIdx
}

// Intersect walks the top-level tree and hands rays to the per-instance
// BLAS traversal at the leaves.
func (t *Tlas) Intersect(ray *Ray) {
	if t.blasCount == 0 {
		return
	}
	node := &t.Node[t.root]
	var stack [bvhStackSize]*TlasNode
	stackPtr := 0
	for {
		if node.IsLeaf() {
			t.blas[node.Blas].Intersect(ray)
			if stackPtr == 0 {
				break
			}
			stackPtr--
			node = stack[stackPtr]
			continue
		}
		child1 := &t.Node[node.Left()]
		child2 := &t.Node[node.Right()]
		dist1 := intersectAabb(ray, child1.AabbMin, child1.AabbMax)
		dist2 := intersectAabb(ray, child2.AabbMin, child2.AabbMax)
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
