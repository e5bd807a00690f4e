// Package octree implements an adaptive octree over brick point clouds. Nodes live in an arena
// and are addressed by index; leaves own a cloud restricted to their octant. The tree is
// rebalanced in place by Update and answers frustum and level of detail queries.
package octree

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// Each node in the octree is either a leaf which owns one point cloud, or an internal node which
// owns exactly 8 contiguous children.
const (
	LeafNode = NodeType(iota)
	InternalNode
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

func (t NodeType) String() string {
	switch t {
	case LeafNode:
		return "leaf"
	case InternalNode:
		return "internal"
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// NodeID addresses a node of an Octree. The root is always 0.
type NodeID int

// RootID is the id of the root node.
const RootID NodeID = 0

// node is a tagged variant: payload is a leaf slot for LeafNode and the id of the first of 8
// children for InternalNode.
type node struct {
	nodeType NodeType
	payload  int
	bounds   pc.Bounds
	depth    int

	totalVertices int
	totalLeaves   int
}

type leafSlot struct {
	cloud *pc.Cloud

	lod       *pc.Cloud
	lodBudget int
}

// Octree is an adaptive octree over a point cloud. It is not safe for concurrent use.
type Octree struct {
	logger logging.Logger

	nodes      []node
	leaves     []leafSlot
	freeBlocks []NodeID
	freeLeaves []int

	maxDepth  int
	preferred int
}

// Node is a read only view of an octree node.
type Node struct {
	ID       NodeID
	Type     NodeType
	Bounds   pc.Bounds
	Depth    int
	Children []NodeID
	// Cloud is set for leaves only.
	Cloud *pc.Cloud

	TotalVerticesCount  int
	TotalLeafNodesCount int
	// Occupancy is the vertex count under the node divided by the preferred vertices per node.
	Occupancy float64
}

func validateParameters(maxDepth, preferredVerticesPerNode int) error {
	if maxDepth <= 0 {
		return errors.Errorf("invalid max depth (%d) for octree, must be at least 1", maxDepth)
	}
	if preferredVerticesPerNode <= 0 {
		return errors.Errorf("invalid preferred vertices per node (%d) for octree, must be at least 1",
			preferredVerticesPerNode)
	}
	return nil
}

// New wraps cloud in a root leaf and splits it until every leaf satisfies the given limits.
// The cloud itself is never modified.
func New(cloud *pc.Cloud, maxDepth, preferredVerticesPerNode int, logger logging.Logger) (*Octree, error) {
	if cloud == nil {
		return nil, errors.New("cannot build an octree without a point cloud")
	}
	if err := validateParameters(maxDepth, preferredVerticesPerNode); err != nil {
		return nil, err
	}

	octree := &Octree{
		logger:    logger,
		maxDepth:  maxDepth,
		preferred: preferredVerticesPerNode,
	}
	octree.nodes = append(octree.nodes, node{
		nodeType: LeafNode,
		payload:  octree.allocLeaf(cloud),
		bounds:   cloud.Bounds(),
	})
	octree.update(RootID)
	logger.Debugw("built octree",
		"points", cloud.Size(), "leaves", octree.TotalLeafNodesCount(), "depth", octree.Depth())
	return octree, nil
}

// Update rebalances the tree for new limits. Calling it with unchanged limits does nothing.
func (octree *Octree) Update(maxDepth, preferredVerticesPerNode int) error {
	if err := validateParameters(maxDepth, preferredVerticesPerNode); err != nil {
		return err
	}
	if maxDepth == octree.maxDepth && preferredVerticesPerNode == octree.preferred {
		return nil
	}
	octree.maxDepth = maxDepth
	octree.preferred = preferredVerticesPerNode
	octree.update(RootID)
	octree.logger.Debugw("updated octree",
		"maxDepth", maxDepth, "preferred", preferredVerticesPerNode,
		"leaves", octree.TotalLeafNodesCount(), "depth", octree.Depth())
	return nil
}

// MaxDepth returns the current depth limit.
func (octree *Octree) MaxDepth() int {
	return octree.maxDepth
}

// PreferredVerticesPerNode returns the current split threshold.
func (octree *Octree) PreferredVerticesPerNode() int {
	return octree.preferred
}

// TotalVerticesCount returns the number of points stored in the tree.
func (octree *Octree) TotalVerticesCount() int {
	return octree.nodes[RootID].totalVertices
}

// TotalLeafNodesCount returns the number of leaves holding at least one point.
func (octree *Octree) TotalLeafNodesCount() int {
	return octree.nodes[RootID].totalLeaves
}

// Depth returns the depth of the deepest leaf.
func (octree *Octree) Depth() int {
	deepest := 0
	octree.walk(RootID, func(id NodeID) {
		if d := octree.nodes[id].depth; d > deepest {
			deepest = d
		}
	})
	return deepest
}

// Root returns the root node.
func (octree *Octree) Root() Node {
	return octree.view(RootID)
}

// Node returns the node with the given id.
func (octree *Octree) Node(id NodeID) (Node, error) {
	if !octree.reachable(id) {
		return Node{}, errors.Errorf("no octree node with id %d", id)
	}
	return octree.view(id), nil
}

func (octree *Octree) reachable(id NodeID) bool {
	found := false
	octree.walk(RootID, func(other NodeID) {
		if other == id {
			found = true
		}
	})
	return found
}

func (octree *Octree) view(id NodeID) Node {
	n := octree.nodes[id]
	v := Node{
		ID:                  id,
		Type:                n.nodeType,
		Bounds:              n.bounds,
		Depth:               n.depth,
		TotalVerticesCount:  n.totalVertices,
		TotalLeafNodesCount: n.totalLeaves,
		Occupancy:           float64(n.totalVertices) / float64(octree.preferred),
	}
	switch n.nodeType {
	case LeafNode:
		v.Cloud = octree.leaves[n.payload].cloud
	case InternalNode:
		v.Children = octree.children(id)
	}
	return v
}

func (octree *Octree) children(id NodeID) []NodeID {
	first := NodeID(octree.nodes[id].payload)
	out := make([]NodeID, 8)
	for i := range out {
		out[i] = first + NodeID(i)
	}
	return out
}

// walk visits the subtree rooted at id in depth first pre-order.
func (octree *Octree) walk(id NodeID, fn func(NodeID)) {
	fn(id)
	n := octree.nodes[id]
	switch n.nodeType {
	case InternalNode:
		for i := 0; i < 8; i++ {
			octree.walk(NodeID(n.payload+i), fn)
		}
	case LeafNode:
	}
}
