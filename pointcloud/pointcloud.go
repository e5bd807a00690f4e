// Package pointcloud defines a brick based point cloud.
//
// Space between the cloud's bounds is divided into a regular grid of bricks. Every point is
// owned by exactly one brick and stored relative to that brick's origin, normalized to [0,1)
// per axis, which is what lets the renderer quantize positions into a few bits per axis.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// belowOne is the largest normalized coordinate a brick can hold.
var belowOne = math.Nextafter(1, 0)

// Bounds is an axis aligned bounding box.
type Bounds struct {
	Min, Max r3.Vector
}

// NewEmptyBounds returns inverted bounds that any merged point will replace.
func NewEmptyBounds() Bounds {
	return Bounds{
		Min: r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		Max: r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// NewBounds returns the bounds spanning the given points.
func NewBounds(points ...r3.Vector) Bounds {
	b := NewEmptyBounds()
	for _, p := range points {
		b.Merge(p)
	}
	return b
}

// Merge grows the bounds to include p.
func (b *Bounds) Merge(p r3.Vector) {
	if p.X > b.Max.X {
		b.Max.X = p.X
	}
	if p.Y > b.Max.Y {
		b.Max.Y = p.Y
	}
	if p.Z > b.Max.Z {
		b.Max.Z = p.Z
	}

	if p.X < b.Min.X {
		b.Min.X = p.X
	}
	if p.Y < b.Min.Y {
		b.Min.Y = p.Y
	}
	if p.Z < b.Min.Z {
		b.Min.Z = p.Z
	}
}

// IsEmpty reports whether no point was ever merged into the bounds.
func (b Bounds) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// Size returns the extent of the bounds, zero when empty.
func (b Bounds) Size() r3.Vector {
	if b.IsEmpty() {
		return r3.Vector{}
	}
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Contains reports whether p lies inside the closed box.
func (b Bounds) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Corners returns the 8 corners of the box, ordered x*4 + y*2 + z with 0 the lower side.
func (b Bounds) Corners() [8]r3.Vector {
	var corners [8]r3.Vector
	for i := range corners {
		c := b.Min
		if i&4 != 0 {
			c.X = b.Max.X
		}
		if i&2 != 0 {
			c.Y = b.Max.Y
		}
		if i&1 != 0 {
			c.Z = b.Max.Z
		}
		corners[i] = c
	}
	return corners
}

// Statistics describes how points are distributed over a cloud's bricks.
type Statistics struct {
	Bricks      int
	EmptyBricks int
	Points      int
	// Collisions is the number of points that share a quantized code with another point of
	// their brick at Precision.
	Collisions int
	Precision  int
}

// mulComponents multiplies two vectors componentwise.
func mulComponents(a, b r3.Vector) r3.Vector {
	return r3.Vector{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z}
}

func normalizeAxis(v, lower, extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	return clampLocal((v - lower) / extent)
}

func clampLocal(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > belowOne {
		return belowOne
	}
	return v
}
