package octree

import (
	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

func (octree *Octree) allocLeaf(cloud *pc.Cloud) int {
	if n := len(octree.freeLeaves); n > 0 {
		slot := octree.freeLeaves[n-1]
		octree.freeLeaves = octree.freeLeaves[:n-1]
		octree.leaves[slot] = leafSlot{cloud: cloud}
		return slot
	}
	octree.leaves = append(octree.leaves, leafSlot{cloud: cloud})
	return len(octree.leaves) - 1
}

func (octree *Octree) freeLeaf(slot int) {
	octree.leaves[slot] = leafSlot{}
	octree.freeLeaves = append(octree.freeLeaves, slot)
}

// allocBlock returns the id of the first of 8 contiguous unused nodes.
func (octree *Octree) allocBlock() NodeID {
	if n := len(octree.freeBlocks); n > 0 {
		first := octree.freeBlocks[n-1]
		octree.freeBlocks = octree.freeBlocks[:n-1]
		return first
	}
	first := NodeID(len(octree.nodes))
	octree.nodes = append(octree.nodes, make([]node, 8)...)
	return first
}

// update applies the split and join rules top down to the subtree at id and recomputes its
// counters.
func (octree *Octree) update(id NodeID) {
	n := &octree.nodes[id]
	switch n.nodeType {
	case LeafNode:
		size := octree.leaves[n.payload].cloud.Size()
		if n.depth < octree.maxDepth && size > octree.preferred {
			octree.split(id)
			for _, child := range octree.children(id) {
				octree.update(child)
			}
		}
	case InternalNode:
		if n.depth >= octree.maxDepth || n.totalVertices <= octree.preferred {
			octree.join(id)
		} else {
			for _, child := range octree.children(id) {
				octree.update(child)
			}
		}
	}
	octree.recount(id)
}

func (octree *Octree) recount(id NodeID) {
	n := &octree.nodes[id]
	switch n.nodeType {
	case LeafNode:
		n.totalVertices = octree.leaves[n.payload].cloud.Size()
		n.totalLeaves = lo.Ternary(n.totalVertices > 0, 1, 0)
	case InternalNode:
		n.totalVertices, n.totalLeaves = 0, 0
		for _, child := range octree.children(id) {
			n.totalVertices += octree.nodes[child].totalVertices
			n.totalLeaves += octree.nodes[child].totalLeaves
		}
	}
}

// octantBounds returns the bounds of child i of a node, ordered x*4 + y*2 + z.
func octantBounds(bounds pc.Bounds, i int) pc.Bounds {
	center := bounds.Center()
	child := pc.Bounds{Min: bounds.Min, Max: center}
	if i&4 != 0 {
		child.Min.X, child.Max.X = center.X, bounds.Max.X
	}
	if i&2 != 0 {
		child.Min.Y, child.Max.Y = center.Y, bounds.Max.Y
	}
	if i&1 != 0 {
		child.Min.Z, child.Max.Z = center.Z, bounds.Max.Z
	}
	return child
}

// octantOf returns the child index of p. Points on the centre plane go to the lower octant.
func octantOf(p, center r3.Vector) int {
	i := 0
	if p.X > center.X {
		i |= 4
	}
	if p.Y > center.Y {
		i |= 2
	}
	if p.Z > center.Z {
		i |= 1
	}
	return i
}

// split turns the leaf at id into an internal node with 8 leaf children.
func (octree *Octree) split(id NodeID) {
	n := octree.nodes[id]
	cloud := octree.leaves[n.payload].cloud
	center := n.bounds.Center()

	var positions, normals [8][]r3.Vector
	cloud.Iterate(func(p, normal r3.Vector) bool {
		i := octantOf(p, center)
		positions[i] = append(positions[i], p)
		if cloud.HasNormals() {
			normals[i] = append(normals[i], normal)
		}
		return true
	})

	octree.freeLeaf(n.payload)
	first := octree.allocBlock()
	for i := 0; i < 8; i++ {
		// counts always match since they were partitioned together
		child, _ := pc.New(positions[i], normals[i])
		child.SetPrecision(cloud.Precision())
		octree.nodes[first+NodeID(i)] = node{
			nodeType: LeafNode,
			payload:  octree.allocLeaf(child),
			bounds:   octantBounds(n.bounds, i),
			depth:    n.depth + 1,
		}
	}
	octree.nodes[id].nodeType = InternalNode
	octree.nodes[id].payload = int(first)
}

// join replaces the subtree at id by a single leaf holding every point below it.
func (octree *Octree) join(id NodeID) {
	var clouds []*pc.Cloud
	octree.release(id, &clouds)
	joined := pc.Join(clouds...)
	if len(clouds) > 0 {
		joined.SetPrecision(clouds[0].Precision())
	}
	octree.nodes[id].nodeType = LeafNode
	octree.nodes[id].payload = octree.allocLeaf(joined)
}

// release frees everything below the internal node at id, collecting leaf clouds depth first.
func (octree *Octree) release(id NodeID, clouds *[]*pc.Cloud) {
	n := octree.nodes[id]
	switch n.nodeType {
	case LeafNode:
		*clouds = append(*clouds, octree.leaves[n.payload].cloud)
		octree.freeLeaf(n.payload)
	case InternalNode:
		for _, child := range octree.children(id) {
			octree.release(child, clouds)
		}
		octree.freeBlocks = append(octree.freeBlocks, NodeID(n.payload))
	}
}
