package octree

import (
	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// Cache lazily builds the octree of one cloud and keeps it until the cloud changes.
type Cache struct {
	logger logging.Logger

	cloud    *pc.Cloud
	revision uint64
	tree     *Octree
}

// NewCache returns an empty cache.
func NewCache(logger logging.Logger) *Cache {
	return &Cache{logger: logger}
}

// Get returns the octree of cloud for the given limits. The tree is rebuilt when cloud or its
// revision differ from the last call and rebalanced when only the limits changed.
func (c *Cache) Get(cloud *pc.Cloud, maxDepth, preferredVerticesPerNode int) (*Octree, error) {
	if c.tree != nil && c.cloud == cloud && c.revision == cloud.Revision() {
		if err := c.tree.Update(maxDepth, preferredVerticesPerNode); err != nil {
			return nil, err
		}
		return c.tree, nil
	}

	tree, err := New(cloud, maxDepth, preferredVerticesPerNode, c.logger)
	if err != nil {
		return nil, err
	}
	c.cloud, c.revision, c.tree = cloud, cloud.Revision(), tree
	return tree, nil
}

// Reset drops the cached tree.
func (c *Cache) Reset() {
	c.cloud, c.revision, c.tree = nil, 0, nil
}
