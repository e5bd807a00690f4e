package pointcloud

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Indices are the integer coordinates of a brick in its cloud's grid. Subdivisions use the
// same type: a subdivision count of n along an axis means n+1 bricks.
type Indices struct {
	I, J, K int
}

// NewIndices is a convenience constructor for Indices.
func NewIndices(i, j, k int) Indices {
	return Indices{i, j, k}
}

func (idx Indices) String() string {
	return fmt.Sprintf("(%d, %d, %d)", idx.I, idx.J, idx.K)
}

// Vector returns the indices as a float vector.
func (idx Indices) Vector() r3.Vector {
	return r3.Vector{X: float64(idx.I), Y: float64(idx.J), Z: float64(idx.K)}
}

// Count returns the number of bricks a grid subdivided by idx holds.
func (idx Indices) Count() int {
	return (idx.I + 1) * (idx.J + 1) * (idx.K + 1)
}

func (idx Indices) validateSubdivisions() error {
	if idx.I < 0 || idx.J < 0 || idx.K < 0 {
		return errors.Errorf("subdivisions must not be negative, got %v", idx)
	}
	return nil
}

// within reports whether idx addresses a brick of a grid subdivided by sub.
func (idx Indices) within(sub Indices) bool {
	return idx.I >= 0 && idx.I <= sub.I &&
		idx.J >= 0 && idx.J <= sub.J &&
		idx.K >= 0 && idx.K <= sub.K
}

// linear returns the position of idx in a dense brick slice, x varying fastest.
func (idx Indices) linear(sub Indices) int {
	nx, ny := sub.I+1, sub.J+1
	return idx.I + idx.J*nx + idx.K*nx*ny
}

func indicesFromLinear(i int, sub Indices) Indices {
	nx, ny := sub.I+1, sub.J+1
	return Indices{I: i % nx, J: (i / nx) % ny, K: i / (nx * ny)}
}

// Brick is one grid cell of a Cloud. Positions are local to the brick and normalized to
// [0,1) per axis. Normals is either empty or parallel to Positions.
type Brick struct {
	Indices   Indices
	Positions []r3.Vector
	Normals   []r3.Vector
}

// Size returns the number of points in the brick.
func (b *Brick) Size() int {
	return len(b.Positions)
}

// IsEmpty reports whether the brick holds no point.
func (b *Brick) IsEmpty() bool {
	return len(b.Positions) == 0
}
