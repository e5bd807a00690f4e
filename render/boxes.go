package render

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/samber/lo"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/logging"
	"github.com/alex-tdrn/lpc-renderer/octree"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// unit cube corners, front face then back face
var cubeVertices = []float32{
	-1, +1, +1,
	-1, -1, +1,
	+1, -1, +1,
	+1, +1, +1,
	+1, +1, -1,
	+1, -1, -1,
	-1, -1, -1,
	-1, +1, -1,
}

// the 12 cube edges as line pairs
var cubeEdges = []byte{
	0, 1, 1, 2, 2, 3, 3, 0,
	0, 7, 7, 6, 6, 1, 2, 5,
	5, 4, 4, 3, 7, 4, 5, 6,
}

// BoundsTransform maps the unit cube [-1,1]³ onto b.
func BoundsTransform(b pc.Bounds) mgl32.Mat4 {
	center := vec3(b.Center())
	half := vec3(b.Size()).Mul(0.5)
	return mgl32.Translate3D(center[0], center[1], center[2]).Mul4(mgl32.Scale3D(half[0], half[1], half[2]))
}

type boxKey struct {
	cloud        *pc.Cloud
	subdivisions pc.Indices
	includeEmpty bool

	tree      *octree.Octree
	maxDepth  int
	preferred int
	leaves    int
	vertices  int
}

// BoxCache draws wireframe boxes, one instance per brick or octree leaf, and only uploads new
// instance transforms when what they outline changed.
type BoxCache struct {
	commands  gpu.Commands
	vao       gpu.Handle
	vertices  *gpu.Buffer
	edges     *gpu.Buffer
	instances *gpu.Buffer

	key   boxKey
	valid bool
	count int
}

// NewBoxCache uploads the cube geometry and sets up the instanced layout.
func NewBoxCache(device gpu.Device, commands gpu.Commands, logger logging.Logger) (*BoxCache, error) {
	c := &BoxCache{commands: commands, vao: commands.CreateVertexArray()}
	commands.BindVertexArray(c.vao)

	c.vertices = gpu.NewBuffer(device, gpu.ArrayBuffer, gpu.WithLogger(logger))
	if err := c.vertices.Write(false, gpu.Float32Bytes(cubeVertices)); err != nil {
		return nil, err
	}
	c.vertices.Bind()
	commands.EnableVertexAttribArray(0)
	commands.VertexAttribPointer(0, 3, gpu.Float, false, 0, 0)

	c.edges = gpu.NewBuffer(device, gpu.ElementArrayBuffer, gpu.WithLogger(logger))
	if err := c.edges.Write(false, cubeEdges); err != nil {
		return nil, err
	}
	c.edges.Bind()

	c.instances = gpu.NewBuffer(device, gpu.ArrayBuffer, gpu.WithLogger(logger))
	return c, nil
}

// UpdateBricks outlines the bricks of cloud, leaving out empty ones unless includeEmpty is set.
// It reports whether the instances were rebuilt.
func (c *BoxCache) UpdateBricks(cloud *pc.Cloud, includeEmpty bool) (bool, error) {
	key := boxKey{cloud: cloud, subdivisions: cloud.Subdivisions(), includeEmpty: includeEmpty}
	if c.valid && key == c.key {
		return false, nil
	}
	var boxes []mgl32.Mat4
	for _, brick := range cloud.Bricks() {
		if !includeEmpty && brick.IsEmpty() {
			continue
		}
		bounds, err := cloud.BoundsAt(brick.Indices)
		if err != nil {
			return false, err
		}
		boxes = append(boxes, BoundsTransform(bounds))
	}
	return true, c.upload(key, boxes)
}

// UpdateOctree outlines the leaves of tree.
func (c *BoxCache) UpdateOctree(tree *octree.Octree) (bool, error) {
	key := boxKey{
		tree:      tree,
		maxDepth:  tree.MaxDepth(),
		preferred: tree.PreferredVerticesPerNode(),
		leaves:    len(tree.LeafNodes(false)),
		vertices:  tree.TotalVerticesCount(),
	}
	if c.valid && key == c.key {
		return false, nil
	}
	boxes := make([]mgl32.Mat4, 0, key.leaves)
	for _, id := range tree.LeafNodes(false) {
		node, err := tree.Node(id)
		if err != nil {
			return false, err
		}
		boxes = append(boxes, BoundsTransform(node.Bounds))
	}
	return true, c.upload(key, boxes)
}

func (c *BoxCache) upload(key boxKey, boxes []mgl32.Mat4) error {
	values := make([]float32, 0, 16*len(boxes))
	for _, m := range boxes {
		values = append(values, m[:]...)
	}
	c.commands.BindVertexArray(c.vao)
	if err := c.instances.Write(true, gpu.Float32Bytes(values)); err != nil {
		c.valid = false
		return err
	}
	c.instances.Bind()
	for column := uint32(0); column < 4; column++ {
		attrib := 1 + column
		c.commands.EnableVertexAttribArray(attrib)
		c.commands.VertexAttribPointer(attrib, 4, gpu.Float, false, 16*4, int(column)*4*4)
		c.commands.VertexAttribDivisor(attrib, 1)
	}
	c.key, c.valid, c.count = key, true, len(boxes)
	return nil
}

// Count returns the number of boxes drawn.
func (c *BoxCache) Count() int {
	return c.count
}

// Draw draws every box with shader, which receives the mvp uniform.
func (c *BoxCache) Draw(shader Shader, mvp mgl32.Mat4) error {
	if c.count == 0 {
		return nil
	}
	shader.Use()
	if err := shader.Set("mvp", mvp); err != nil {
		return err
	}
	c.commands.BindVertexArray(c.vao)
	c.commands.DrawElementsInstanced(gpu.Lines, int32(len(cubeEdges)), gpu.UnsignedByte, 0, int32(c.count))
	return nil
}

// Free releases the device objects.
func (c *BoxCache) Free() {
	lo.ForEach([]*gpu.Buffer{c.vertices, c.edges, c.instances}, func(b *gpu.Buffer, _ int) { b.Free() })
	c.commands.DeleteVertexArray(c.vao)
	c.valid, c.count = false, 0
}
