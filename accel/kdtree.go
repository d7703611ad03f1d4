package accel

import (
	"github.com/chewxy/math32"

	"github.com/tracelight/tracelight/types"
)

// Nearest-neighbor traversal stack depth.
const kdStackSize = 60

// The balancing heuristic only kicks in above this population; below it
// the plain midpoint split is good enough.
const kdBalanceThreshold = 150

// kdNode is a flat-array kd-tree node. parax packs the parent node index
// (upper bits) with the split axis in the low 3 bits; a low-bits value of
// 7 marks a leaf. For interior nodes left/right index the children; for
// leaves they hold the first index into tlasIdx and the instance count.
// bmin/bmax bound the *centroids* of the instances below the node, not
// their full boxes. minSize is the smallest half-extent per axis present
// in the cluster and feeds the surface-area lower bound during search.
type kdNode struct {
	left, right uint32
	parax       uint32
	splitPos    float32
	bmin        types.Vec3
	bmax        types.Vec3
	minSize     types.Vec3
}

func (n *kdNode) isLeaf() bool {
	return n.parax&7 == 7
}

// first/count aliases for the leaf interpretation of left/right.
func (n *kdNode) first() uint32 { return n.left }
func (n *kdNode) count() uint32 { return n.right }

// kdBounds is a copy of an instance's world box, kept separate from the
// TLAS node array so the hot search loop touches compact records only.
type kdBounds struct {
	bmin types.Vec3
	bmax types.Vec3
}

func (b *kdBounds) center() types.Vec3 {
	return b.bmin.Add(b.bmax).Mul(0.5)
}

func (b *kdBounds) halfExtent() types.Vec3 {
	return b.bmax.Sub(b.bmin).Mul(0.5)
}

// KdTree indexes TLAS leaf centroids so agglomerative clustering can find
// "the instance whose merged box with A has the smallest surface area"
// without scanning every pair. It supports removal and insertion in
// logarithmic expected time; the two node slots released by the last
// RemoveLeaf are recycled by the next Add.
type KdTree struct {
	tlas []TlasNode // shared with the owning Tlas

	node    []kdNode
	bounds  []kdBounds // indexed by tlas node index; slot 0 reserved
	tlasIdx []uint32   // leaf ranges index into this permutation
	leaf    []uint32   // tlas node index -> containing leaf node

	nodePtr    uint32
	tlasCount  uint32
	blasCount  uint32
	freed      [2]uint32
	freedValid bool
}

// Create a kd-tree over the leaf range tlas[1..n]. Capacity covers the
// up-to-2n tlas nodes agglomerative clustering creates.
func NewKdTree(tlas []TlasNode, n uint32) *KdTree {
	return &KdTree{
		tlas:      tlas,
		node:      make([]kdNode, 2*(n+1)),
		bounds:    make([]kdBounds, 2*(n+1)),
		tlasIdx:   make([]uint32, 2*(n+1)),
		leaf:      make([]uint32, 2*(n+1)),
		blasCount: n,
	}
}

func (t *KdTree) swap(a, b uint32) {
	t.tlasIdx[a], t.tlasIdx[b] = t.tlasIdx[b], t.tlasIdx[a]
}

// Rebuild initializes the tree from scratch over tlas[1..blasCount].
func (t *KdTree) Rebuild() {
	t.tlasCount = t.blasCount
	for i := uint32(1); i <= t.blasCount; i++ {
		t.tlasIdx[i-1] = i
		t.bounds[i] = kdBounds{bmin: t.tlas[i].AabbMin, bmax: t.tlas[i].AabbMax}
	}
	root := &t.node[0]
	root.left, root.right = 0, t.blasCount // first, count
	root.parax = 7
	t.nodePtr = 1
	t.freedValid = false
	t.subdivide(0)
	t.minRefit()
}

func (t *KdTree) subdivide(nodeIdx uint32) {
	n := &t.node[nodeIdx]
	// centroid bounds and minimum half-extent for this cluster
	inf := math32.Inf(1)
	n.bmin = types.Vec3{inf, inf, inf}
	n.bmax = types.Vec3{-inf, -inf, -inf}
	n.minSize = types.Vec3{inf, inf, inf}
	for i := uint32(0); i < n.count(); i++ {
		tb := &t.bounds[t.tlasIdx[n.first()+i]]
		c := tb.center()
		n.minSize = types.MinVec3(n.minSize, tb.halfExtent())
		n.bmin = types.MinVec3(n.bmin, c)
		n.bmax = types.MaxVec3(n.bmax, c)
	}
	if n.count() < 2 {
		return
	}
	axis := types.DominantAxis(n.bmax.Sub(n.bmin))
	splitPos := (n.bmin[axis] + n.bmax[axis]) * 0.5
	if n.count() > kdBalanceThreshold {
		// bias the plane toward a balanced partition in skewed clusters
		leftCount := 0
		for i := uint32(0); i < n.count(); i++ {
			tb := &t.bounds[t.tlasIdx[n.first()+i]]
			if tb.center()[axis] <= splitPos {
				leftCount++
			}
		}
		ratio := float32(leftCount) / float32(n.count())
		ratio = math32.Max(0.15, math32.Min(0.85, ratio))
		splitPos = ratio*n.bmin[axis] + (1-ratio)*n.bmax[axis]
	}
	t.partition(nodeIdx, splitPos, axis)
	if t.node[t.nodePtr].count() == 0 || t.node[t.nodePtr+1].count() == 0 {
		return // split failed, keep as leaf
	}
	leftIdx := t.nodePtr
	n.left, n.right = leftIdx, leftIdx+1
	t.nodePtr += 2
	n.parax = (n.parax &^ 7) | uint32(axis)
	n.splitPos = splitPos
	t.subdivide(leftIdx)
	t.subdivide(leftIdx + 1)
}

// Split the node's tlasIdx range around splitPos, staging the two halves
// in the (not yet claimed) nodes at nodePtr and nodePtr+1. A range of
// fewer than three instances is split first-versus-rest without looking
// at splitPos.
func (t *KdTree) partition(nodeIdx uint32, splitPos float32, axis int) {
	n := &t.node[nodeIdx]
	count := n.count()
	first := n.first()
	last := first + count
	if count < 3 {
		last = first + 1
	} else {
		for {
			tb := &t.bounds[t.tlasIdx[first]]
			if tb.center()[axis] > splitPos {
				last--
				t.swap(first, last)
			} else {
				first++
			}
			if first >= last {
				break
			}
		}
	}
	left := &t.node[t.nodePtr]
	right := &t.node[t.nodePtr+1]
	left.left = n.first()            // first
	left.right = last - n.first()    // count
	right.left = last                // first
	right.right = count - left.right // count
	left.parax = nodeIdx<<3 | 7
	right.parax = nodeIdx<<3 | 7
}

// minRefit rebuilds every node's centroid bounds and minSize bottom-up
// and refreshes the instance-to-leaf map.
func (t *KdTree) minRefit() {
	inf := math32.Inf(1)
	for i := int(t.nodePtr) - 1; i >= 0; i-- {
		n := &t.node[i]
		if n.isLeaf() {
			n.bmin = types.Vec3{inf, inf, inf}
			n.bmax = types.Vec3{-inf, -inf, -inf}
			n.minSize = types.Vec3{inf, inf, inf}
			for j := uint32(0); j < n.count(); j++ {
				idx := t.tlasIdx[n.first()+j]
				t.leaf[idx] = uint32(i)
				tb := &t.bounds[idx]
				c := tb.center()
				n.minSize = types.MinVec3(n.minSize, tb.halfExtent())
				n.bmin = types.MinVec3(n.bmin, c)
				n.bmax = types.MaxVec3(n.bmax, c)
			}
			continue
		}
		left := &t.node[n.left]
		right := &t.node[n.right]
		n.minSize = types.MinVec3(left.minSize, right.minSize)
		n.bmin = types.MinVec3(left.bmin, right.bmin)
		n.bmax = types.MaxVec3(left.bmax, right.bmax)
	}
}

// recurseRefit walks the ancestors of a node up to the root, recomputing
// each one's cached cluster data from its two children.
func (t *KdTree) recurseRefit(nodeIdx uint32) {
	for nodeIdx != 0 {
		nodeIdx = t.node[nodeIdx].parax >> 3
		n := &t.node[nodeIdx]
		left := &t.node[n.left]
		right := &t.node[n.right]
		n.minSize = types.MinVec3(left.minSize, right.minSize)
		n.bmin = types.MinVec3(left.bmin, right.bmin)
		n.bmax = types.MaxVec3(left.bmax, right.bmax)
	}
}

// Conservative lower bound on the surface area of the union of A with any
// instance whose centroid lies inside node c. v is the componentwise
// distance from A's center to the node's centroid box; the closest any
// resident could put its box is v minus its half-extent, which is at
// least c.minSize.
func (t *KdTree) lowerBoundSA(c uint32, pa, extentA, halfExtentA types.Vec3) float32 {
	n := &t.node[c]
	v := types.MaxVec3(n.bmin.Sub(pa), pa.Sub(n.bmax))
	d := types.MaxVec3(extentA, v.Sub(n.minSize.Add(halfExtentA)))
	return d[0]*d[1] + d[1]*d[2] + d[2]*d[0]
}

// FindNearest returns the live instance B != a minimizing the half
// surface area of union(a, B), along with that area. The search is seeded
// with the caller's current best (pass +Inf and any index when nothing is
// known); a tighter seed prunes more aggressively.
func (t *KdTree) FindNearest(a uint32, bestB uint32, bestSA float32) (uint32, float32) {
	ba := &t.bounds[a]
	pa := ba.center()
	extentA := ba.bmax.Sub(ba.bmin)
	halfExtentA := extentA.Mul(0.5)
	var stack [kdStackSize]uint32
	stackPtr := 0
	n := uint32(0)
	for {
		for {
			nd := &t.node[n]
			if nd.isLeaf() {
				for i := uint32(0); i < nd.count(); i++ {
					b := t.tlasIdx[nd.first()+i]
					if b == a {
						continue
					}
					bb := &t.bounds[b]
					size := types.MaxVec3(ba.bmax, bb.bmax).Sub(types.MinVec3(ba.bmin, bb.bmin))
					sa := size[0]*size[1] + size[1]*size[2] + size[2]*size[0]
					if sa < bestSA {
						bestSA, bestB = sa, b
					}
				}
				break
			}
			near, far := nd.left, nd.right
			if pa[nd.parax&7] > nd.splitPos {
				near, far = far, near
			}
			saNear := t.lowerBoundSA(near, pa, extentA, halfExtentA)
			saFar := t.lowerBoundSA(far, pa, extentA, halfExtentA)
			visitNear := saNear < bestSA
			visitFar := saFar < bestSA
			if !visitNear && !visitFar {
				break
			}
			if visitNear {
				if visitFar {
					stack[stackPtr] = far
					stackPtr++
				}
				n = near
			} else {
				n = far
			}
		}
		if stackPtr == 0 {
			break
		}
		stackPtr--
		n = stack[stackPtr]
	}
	return bestB, bestSA
}

// Add inserts tlas[idx] into the tree, reusing the two node slots freed
// by the last RemoveLeaf (or claiming fresh ones when none are pending).
// Ancestor cluster data is refit on the way out, covering any refit the
// preceding removal deferred.
func (t *KdTree) Add(idx uint32) {
	t.bounds[idx] = kdBounds{bmin: t.tlas[idx].AabbMin, bmax: t.tlas[idx].AabbMax}
	newBounds := &t.bounds[idx]
	p := newBounds.center()
	t.tlasIdx[t.tlasCount] = idx
	t.tlasCount++
	var leafIdx, intIdx uint32
	if t.freedValid {
		leafIdx, intIdx = t.freed[0], t.freed[1]
		t.freedValid = false
	} else {
		leafIdx, intIdx = t.nodePtr, t.nodePtr+1
		t.nodePtr += 2
	}
	leafNode := &t.node[leafIdx]
	t.leaf[idx] = leafIdx
	leafNode.left = t.tlasCount - 1 // first
	leafNode.right = 1              // count
	leafNode.bmin, leafNode.bmax = p, p
	leafNode.minSize = newBounds.halfExtent()
	// descend to the leaf the new centroid belongs to
	nidx := uint32(0)
	for {
		n := &t.node[nidx]
		if !n.isLeaf() {
			if p[n.parax&7] < n.splitPos {
				nidx = n.left
			} else {
				nidx = n.right
			}
			continue
		}
		var pn types.Vec3
		if nidx == 0 {
			// root is a leaf: the old root moves into the spare slot and
			// becomes the sibling, the root turns interior
			t.node[intIdx] = t.node[0]
			t.node[intIdx].parax &= 7
			t.node[leafIdx].parax = 7
			sibling := &t.node[intIdx]
			pn = sibling.bmin.Add(sibling.bmax).Mul(0.5)
			for j := uint32(0); j < sibling.count(); j++ {
				t.leaf[t.tlasIdx[sibling.first()+j]] = intIdx
			}
			nidx, intIdx = intIdx, 0
			t.node[0].parax = 0
		} else {
			// splice the new interior node between the found leaf and its parent
			parent := &t.node[n.parax>>3]
			if parent.left == nidx {
				parent.left = intIdx
			} else {
				parent.right = intIdx
			}
			t.node[intIdx].parax = n.parax &^ 7
			n.parax = intIdx<<3 | 7
			t.node[leafIdx].parax = intIdx<<3 | 7
			pn = n.bmin.Add(n.bmax).Mul(0.5)
		}
		// split over the axis of greatest separation between the two centroids
		axis := types.DominantAxis(p.Sub(pn))
		in := &t.node[intIdx]
		in.parax += uint32(axis)
		in.splitPos = pn.Add(p).Mul(0.5)[axis]
		if p[axis] < in.splitPos {
			in.left, in.right = leafIdx, nidx
		} else {
			in.left, in.right = nidx, leafIdx
		}
		break
	}
	t.recurseRefit(t.leaf[idx])
}

// RemoveLeaf detaches tlas[idx] from the tree and records the two node
// slots it frees for the next Add. Ancestor refitting is deferred until
// that Add issues its recurseRefit.
func (t *KdTree) RemoveLeaf(idx uint32) {
	toDelete := t.leaf[idx]
	n := &t.node[toDelete]
	if n.count() > 1 {
		// several instances share this leaf (failed split); shrink the range
		for j := uint32(0); j < n.count(); j++ {
			if t.tlasIdx[n.first()+j] == idx {
				n.right--
				t.tlasIdx[n.first()+j] = t.tlasIdx[n.first()+n.right]
				break
			}
		}
		t.freed[0] = t.nodePtr
		t.freed[1] = t.nodePtr + 1
		t.nodePtr += 2
		t.freedValid = true
		return
	}
	parentIdx := n.parax >> 3
	parent := &t.node[parentIdx]
	sibling := parent.right
	if parent.left != toDelete {
		sibling = parent.left
	}
	sib := &t.node[sibling]
	sib.parax = (parent.parax &^ 7) | (sib.parax & 7)
	*parent = *sib // the sibling takes the parent's slot
	if parent.isLeaf() {
		for j := uint32(0); j < parent.count(); j++ {
			t.leaf[t.tlasIdx[parent.first()+j]] = parentIdx
		}
	} else {
		left := &t.node[parent.left]
		right := &t.node[parent.right]
		left.parax = parentIdx<<3 | left.parax&7
		right.parax = parentIdx<<3 | right.parax&7
	}
	t.freed[0] = sibling
	t.freed[1] = toDelete
	t.freedValid = true
}
