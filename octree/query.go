package octree

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// LeafNodes returns the leaves in depth first pre-order, optionally skipping empty ones.
func (octree *Octree) LeafNodes(nonEmpty bool) []NodeID {
	var out []NodeID
	octree.walk(RootID, func(id NodeID) {
		n := octree.nodes[id]
		if n.nodeType != LeafNode {
			return
		}
		if nonEmpty && octree.leaves[n.payload].cloud.Size() == 0 {
			return
		}
		out = append(out, id)
	})
	return out
}

// PointClouds returns the leaf clouds in depth first pre-order, optionally skipping empty ones.
func (octree *Octree) PointClouds(nonEmpty bool) []*pc.Cloud {
	ids := octree.LeafNodes(nonEmpty)
	out := make([]*pc.Cloud, len(ids))
	for i, id := range ids {
		out[i] = octree.leaves[octree.nodes[id].payload].cloud
	}
	return out
}

// clipExtent is the screen space extent of a box after projection and perspective divide.
type clipExtent struct {
	min, max mgl32.Vec3
	// behind is set when a corner projects with w <= 0, in which case min and max are
	// meaningless and the box is treated as visible.
	behind bool
}

func project(bounds pc.Bounds, mvp mgl32.Mat4) clipExtent {
	inf := float32(math.Inf(1))
	ext := clipExtent{
		min: mgl32.Vec3{inf, inf, inf},
		max: mgl32.Vec3{-inf, -inf, -inf},
	}
	for _, c := range bounds.Corners() {
		clip := mvp.Mul4x1(mgl32.Vec4{float32(c.X), float32(c.Y), float32(c.Z), 1})
		if clip.W() <= 0 {
			ext.behind = true
			return ext
		}
		ndc := clip.Vec3().Mul(1 / clip.W())
		for axis := 0; axis < 3; axis++ {
			ext.min[axis] = float32(math.Min(float64(ext.min[axis]), float64(ndc[axis])))
			ext.max[axis] = float32(math.Max(float64(ext.max[axis]), float64(ndc[axis])))
		}
	}
	return ext
}

func (ext clipExtent) visible() bool {
	if ext.behind {
		return true
	}
	for axis := 0; axis < 3; axis++ {
		if ext.max[axis] < -1 || ext.min[axis] > 1 {
			return false
		}
	}
	return true
}

// pixelArea estimates the screen footprint of the extent for the given viewport size.
func (ext clipExtent) pixelArea(viewport mgl32.Vec2) float64 {
	fx := float64(viewport.X()) * float64(ext.max.X()-ext.min.X())
	fy := float64(viewport.Y()) * float64(ext.max.Y()-ext.min.Y())
	return fx * fy
}

// PointCloudsInsideFrustum returns the non-empty leaf clouds whose bounds overlap the view
// volume of mvp, in depth first pre-order. When lodPixelArea is positive, leaves whose
// projected footprint is at most lodPixelArea pixels are replaced by a decimated cloud of at
// most lodVertexBudget points. Boxes reaching behind the camera are kept whole without level
// of detail.
func (octree *Octree) PointCloudsInsideFrustum(
	mvp mgl32.Mat4,
	viewport mgl32.Vec2,
	lodPixelArea float64,
	lodVertexBudget int,
) []*pc.Cloud {
	var out []*pc.Cloud
	octree.collectVisible(RootID, mvp, viewport, lodPixelArea, lodVertexBudget, &out)
	return out
}

func (octree *Octree) collectVisible(
	id NodeID,
	mvp mgl32.Mat4,
	viewport mgl32.Vec2,
	lodPixelArea float64,
	lodVertexBudget int,
	out *[]*pc.Cloud,
) {
	n := octree.nodes[id]
	ext := project(n.bounds, mvp)
	if !ext.visible() {
		return
	}

	switch n.nodeType {
	case InternalNode:
		for _, child := range octree.children(id) {
			octree.collectVisible(child, mvp, viewport, lodPixelArea, lodVertexBudget, out)
		}
	case LeafNode:
		slot := &octree.leaves[n.payload]
		if slot.cloud.Size() == 0 {
			return
		}
		if lodPixelArea > 0 && !ext.behind && ext.pixelArea(viewport) <= lodPixelArea {
			*out = append(*out, octree.lod(slot, lodVertexBudget))
			return
		}
		*out = append(*out, slot.cloud)
	}
}

// lod returns the decimated cloud of a leaf, reusing the cached one while the budget holds.
func (octree *Octree) lod(slot *leafSlot, budget int) *pc.Cloud {
	if slot.lod == nil || slot.lodBudget != budget {
		slot.lod = slot.cloud.Decimate(budget)
		slot.lodBudget = budget
	}
	return slot.lod
}

// Walk calls fn with a view of every node in depth first pre-order.
func (octree *Octree) Walk(fn func(Node)) {
	octree.walk(RootID, func(id NodeID) {
		fn(octree.view(id))
	})
}
