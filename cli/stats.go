package cli

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/alex-tdrn/lpc-renderer/octree"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/quantize"
)

// StatsAction prints the brick statistics of a cloud at every requested precision.
func StatsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	cloud, err := loadCloud(cfg, logger)
	if err != nil {
		return err
	}
	if cloud.Size() == 0 {
		warningf(c.App.Writer, "the point cloud is empty")
	}

	bounds := cloud.Bounds()
	printf(c.App.Writer, "%d points, normals: %t, subdivisions %v, brick size %v",
		cloud.Size(), cloud.HasNormals(), cloud.Subdivisions(), cloud.BrickSize())
	printf(c.App.Writer, "bounds %v to %v", bounds.Min, bounds.Max)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Precision", "Bricks", "Empty", "Points", "Collisions", "Collision %", "Positions"})
	for _, levels := range c.IntSlice(flagPrecisions) {
		precision, err := quantize.ParsePrecision(levels)
		if err != nil {
			return err
		}
		cloud.SetPrecision(precision)
		t.AppendRow(statsRow(cloud.Statistics(), precision))
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

func statsRow(s pc.Statistics, precision quantize.Precision) table.Row {
	collisions := 0.
	if s.Points > 0 {
		collisions = 100 * float64(s.Collisions) / float64(s.Points)
	}
	return table.Row{
		precision,
		s.Bricks,
		s.EmptyBricks,
		s.Points,
		s.Collisions,
		fmt.Sprintf("%.2f", collisions),
		units.BytesSize(float64(s.Points * precision.WordSize())),
	}
}

// OctreeAction prints how an octree over the cloud distributes its points per depth.
func OctreeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet(flagMaxDepth) {
		cfg.Selection.MaxDepth = c.Int(flagMaxDepth)
	}
	if c.IsSet(flagPreferred) {
		cfg.Selection.PreferredVerticesPerNode = c.Int(flagPreferred)
	}
	opts, err := cfg.Selection.Options()
	if err != nil {
		return err
	}
	logger := newLogger(c, cfg)
	cloud, err := loadCloud(cfg, logger)
	if err != nil {
		return err
	}
	tree, err := octree.New(cloud, opts.MaxDepth, opts.PreferredVerticesPerNode, logger)
	if err != nil {
		return err
	}

	type level struct {
		internal, leaves, empty, points int
	}
	levels := make([]level, tree.Depth()+1)
	tree.Walk(func(n octree.Node) {
		l := &levels[n.Depth]
		switch n.Type {
		case octree.InternalNode:
			l.internal++
		case octree.LeafNode:
			l.leaves++
			l.points += n.TotalVerticesCount
			if n.TotalVerticesCount == 0 {
				l.empty++
			}
		}
	})

	printf(c.App.Writer, "%d points, max depth %d, preferred vertices per node %d, %d non-empty leaves, depth %d",
		tree.TotalVerticesCount(), tree.MaxDepth(), tree.PreferredVerticesPerNode(),
		tree.TotalLeafNodesCount(), tree.Depth())
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Depth", "Internal", "Leaves", "Empty leaves", "Points"})
	for depth, l := range levels {
		t.AppendRow(table.Row{depth, l.internal, l.leaves, l.empty, l.points})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
