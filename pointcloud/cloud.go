package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/alex-tdrn/lpc-renderer/quantize"
)

// Cloud is a point cloud bucketed into a dense grid of bricks. Its bounds are computed once
// at construction and never grow.
type Cloud struct {
	bounds       Bounds
	subdivisions Indices
	brickSize    r3.Vector
	bricks       []Brick
	hasNormals   bool
	size         int

	precision quantize.Precision
	stats     Statistics
	revision  uint64
}

// New returns a cloud holding the given points in a single brick. normals must be empty or
// hold one normal per position.
func New(positions, normals []r3.Vector) (*Cloud, error) {
	if len(normals) != 0 && len(normals) != len(positions) {
		return nil, errors.Errorf("got %d normals for %d positions", len(normals), len(positions))
	}
	return newCloud(positions, normals), nil
}

func newCloud(positions, normals []r3.Vector) *Cloud {
	bounds := NewBounds(positions...)
	cloud := &Cloud{
		bounds:     bounds,
		brickSize:  bounds.Size(),
		hasNormals: len(positions) > 0 && len(normals) == len(positions),
		size:       len(positions),
		precision:  quantize.P32,
	}

	brick := Brick{Positions: make([]r3.Vector, len(positions))}
	extent := bounds.Size()
	for i, p := range positions {
		brick.Positions[i] = r3.Vector{
			X: normalizeAxis(p.X, bounds.Min.X, extent.X),
			Y: normalizeAxis(p.Y, bounds.Min.Y, extent.Y),
			Z: normalizeAxis(p.Z, bounds.Min.Z, extent.Z),
		}
	}
	if cloud.hasNormals {
		brick.Normals = append([]r3.Vector(nil), normals...)
	}
	cloud.bricks = []Brick{brick}
	cloud.computeStatistics()
	return cloud
}

// Join returns a new cloud holding the world positions of all given clouds. Normals are kept
// only when every non-empty input has them.
func Join(clouds ...*Cloud) *Cloud {
	total := lo.SumBy(clouds, func(c *Cloud) int { return c.Size() })
	withNormals := total > 0 && lo.EveryBy(clouds, func(c *Cloud) bool { return c.Size() == 0 || c.HasNormals() })

	positions := make([]r3.Vector, 0, total)
	var normals []r3.Vector
	if withNormals {
		normals = make([]r3.Vector, 0, total)
	}
	for _, c := range clouds {
		c.Iterate(func(p, n r3.Vector) bool {
			positions = append(positions, p)
			if withNormals {
				normals = append(normals, n)
			}
			return true
		})
	}
	return newCloud(positions, normals)
}

// Size returns the number of points in the cloud.
func (c *Cloud) Size() int {
	return c.size
}

// HasNormals reports whether every point carries a normal.
func (c *Cloud) HasNormals() bool {
	return c.hasNormals
}

// Bounds returns the world space bounds computed at construction.
func (c *Cloud) Bounds() Bounds {
	return c.bounds
}

// Subdivisions returns the current grid subdivisions.
func (c *Cloud) Subdivisions() Indices {
	return c.subdivisions
}

// BrickSize returns the world space extent of one brick.
func (c *Cloud) BrickSize() r3.Vector {
	return c.brickSize
}

// Revision changes every time the brick layout of the cloud changes.
func (c *Cloud) Revision() uint64 {
	return c.revision
}

// Statistics returns the distribution statistics computed at the last layout change.
func (c *Cloud) Statistics() Statistics {
	return c.stats
}

// Precision returns the precision used to count quantization collisions.
func (c *Cloud) Precision() quantize.Precision {
	return c.precision
}

// SetPrecision changes the precision used to count quantization collisions. It only affects
// statistics and does not change the revision.
func (c *Cloud) SetPrecision(p quantize.Precision) {
	if p == c.precision {
		return
	}
	c.precision = p
	c.computeStatistics()
}

// Bricks returns every brick in grid order. The slice is owned by the cloud.
func (c *Cloud) Bricks() []Brick {
	return c.bricks
}

// NonEmptyBricks returns the bricks holding at least one point, in grid order.
func (c *Cloud) NonEmptyBricks() []*Brick {
	out := make([]*Brick, 0, len(c.bricks))
	for i := range c.bricks {
		if !c.bricks[i].IsEmpty() {
			out = append(out, &c.bricks[i])
		}
	}
	return out
}

// BrickAt returns the brick at idx.
func (c *Cloud) BrickAt(idx Indices) (*Brick, error) {
	if !idx.within(c.subdivisions) {
		return nil, c.outOfRange(idx)
	}
	return &c.bricks[idx.linear(c.subdivisions)], nil
}

// LinearIndex returns the position of idx in Bricks.
func (c *Cloud) LinearIndex(idx Indices) (int, error) {
	if !idx.within(c.subdivisions) {
		return 0, c.outOfRange(idx)
	}
	return idx.linear(c.subdivisions), nil
}

func (c *Cloud) outOfRange(idx Indices) error {
	return errors.Errorf("brick indices %v outside of subdivisions %v", idx, c.subdivisions)
}

// OffsetAt returns the world space origin of the brick at idx.
func (c *Cloud) OffsetAt(idx Indices) (r3.Vector, error) {
	if !idx.within(c.subdivisions) {
		return r3.Vector{}, c.outOfRange(idx)
	}
	return c.offset(idx), nil
}

func (c *Cloud) offset(idx Indices) r3.Vector {
	return c.bounds.Min.Add(mulComponents(idx.Vector(), c.brickSize))
}

// BoundsAt returns the world space bounds of the brick at idx.
func (c *Cloud) BoundsAt(idx Indices) (Bounds, error) {
	if !idx.within(c.subdivisions) {
		return Bounds{}, c.outOfRange(idx)
	}
	lower := c.offset(idx)
	return Bounds{Min: lower, Max: lower.Add(c.brickSize)}, nil
}

// ConvertToWorldPosition converts a position local to the brick at idx into world space.
func (c *Cloud) ConvertToWorldPosition(idx Indices, local r3.Vector) (r3.Vector, error) {
	if !idx.within(c.subdivisions) {
		return r3.Vector{}, c.outOfRange(idx)
	}
	return c.toWorld(idx, local), nil
}

func (c *Cloud) toWorld(idx Indices, local r3.Vector) r3.Vector {
	return c.offset(idx).Add(mulComponents(local, c.brickSize))
}

// Iterate calls fn with the world position and normal of every point in brick traversal
// order, stopping early when fn returns false. The normal is zero for clouds without normals.
func (c *Cloud) Iterate(fn func(p, n r3.Vector) bool) {
	for i := range c.bricks {
		b := &c.bricks[i]
		for j, local := range b.Positions {
			var n r3.Vector
			if c.hasNormals {
				n = b.Normals[j]
			}
			if !fn(c.toWorld(b.Indices, local), n) {
				return
			}
		}
	}
}

// WorldPositions returns every point in world space, in brick traversal order.
func (c *Cloud) WorldPositions() []r3.Vector {
	out := make([]r3.Vector, 0, c.size)
	c.Iterate(func(p, _ r3.Vector) bool {
		out = append(out, p)
		return true
	})
	return out
}

// Normals returns every normal in brick traversal order, or nil without normals.
func (c *Cloud) Normals() []r3.Vector {
	if !c.hasNormals {
		return nil
	}
	out := make([]r3.Vector, 0, c.size)
	for _, b := range c.bricks {
		out = append(out, b.Normals...)
	}
	return out
}

// SetSubdivisions rebuckets every point into a grid with sub+1 bricks per axis. Calling it
// again with the same subdivisions reproduces the same assignment.
func (c *Cloud) SetSubdivisions(sub Indices) error {
	if err := sub.validateSubdivisions(); err != nil {
		return err
	}

	old := c.subdivisions
	bricks := make([]Brick, sub.Count())
	for i := range bricks {
		bricks[i].Indices = indicesFromLinear(i, sub)
	}
	for _, b := range c.bricks {
		for j, local := range b.Positions {
			var idx Indices
			var newLocal r3.Vector
			idx.I, newLocal.X = rebucketAxis(b.Indices.I, local.X, old.I, sub.I)
			idx.J, newLocal.Y = rebucketAxis(b.Indices.J, local.Y, old.J, sub.J)
			idx.K, newLocal.Z = rebucketAxis(b.Indices.K, local.Z, old.K, sub.K)

			target := &bricks[idx.linear(sub)]
			target.Positions = append(target.Positions, newLocal)
			if c.hasNormals {
				target.Normals = append(target.Normals, b.Normals[j])
			}
		}
	}

	c.bricks = bricks
	c.subdivisions = sub
	c.brickSize = c.bounds.Size()
	c.brickSize.X /= float64(sub.I + 1)
	c.brickSize.Y /= float64(sub.J + 1)
	c.brickSize.Z /= float64(sub.K + 1)
	c.revision++
	c.computeStatistics()
	return nil
}

// rebucketAxis moves a coordinate given as brick index plus local offset on a grid
// subdivided oldSub times onto a grid subdivided sub times. Axes whose subdivisions do not
// change keep their assignment untouched.
func rebucketAxis(oldIdx int, local float64, oldSub, sub int) (int, float64) {
	if oldSub == sub {
		return oldIdx, local
	}
	grid := (float64(oldIdx) + local) * float64(sub+1) / float64(oldSub+1)
	idx := int(math.Floor(grid))
	if idx < 0 {
		idx = 0
	}
	if idx > sub {
		idx = sub
	}
	return idx, clampLocal(grid - float64(idx))
}

// Decimate returns a new cloud with every stride-th point, stride being
// max(1, Size()/maxPoints). A non positive maxPoints keeps every point.
func (c *Cloud) Decimate(maxPoints int) *Cloud {
	stride := 1
	if maxPoints > 0 && c.size/maxPoints > 1 {
		stride = c.size / maxPoints
	}

	positions := make([]r3.Vector, 0, c.size/stride+1)
	var normals []r3.Vector
	if c.hasNormals {
		normals = make([]r3.Vector, 0, c.size/stride+1)
	}
	i := 0
	c.Iterate(func(p, n r3.Vector) bool {
		if i%stride == 0 {
			positions = append(positions, p)
			if c.hasNormals {
				normals = append(normals, n)
			}
		}
		i++
		return true
	})

	decimated := newCloud(positions, normals)
	decimated.SetPrecision(c.precision)
	return decimated
}

func (c *Cloud) computeStatistics() {
	bits := c.precision.BitsPerAxis()
	stats := Statistics{Bricks: len(c.bricks), Points: c.size, Precision: int(c.precision)}
	for _, b := range c.bricks {
		if b.IsEmpty() {
			stats.EmptyBricks++
			continue
		}
		codes := lo.Uniq(lo.Map(b.Positions, func(p r3.Vector, _ int) uint32 {
			return quantize.Pack(p, bits)
		}))
		stats.Collisions += len(b.Positions) - len(codes)
	}
	c.stats = stats
}
