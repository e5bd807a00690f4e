// Package quantize packs brick-local normalized coordinates and unit normals into compact
// integer words. Every function here is pure.
package quantize

import (
	"math"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Precision is the number of quantization levels per axis used for brick-local positions.
type Precision int

// The supported precisions. P1024 packs into a 32-bit word, the others into 16 bits.
const (
	P1024 Precision = 1024
	P32   Precision = 32
	P16   Precision = 16
	P8    Precision = 8
	P4    Precision = 4
)

// Precisions lists every supported precision from finest to coarsest.
var Precisions = []Precision{P1024, P32, P16, P8, P4}

// ParsePrecision returns the precision with the given number of levels per axis.
func ParsePrecision(levels int) (Precision, error) {
	for _, p := range Precisions {
		if int(p) == levels {
			return p, nil
		}
	}
	return 0, errors.Errorf("unsupported precision %d, expected one of 1024, 32, 16, 8 or 4", levels)
}

// BitsPerAxis returns log2 of the level count.
func (p Precision) BitsPerAxis() uint {
	switch p {
	case P1024:
		return 10
	case P32:
		return 5
	case P16:
		return 4
	case P8:
		return 3
	case P4:
		return 2
	}
	return 0
}

// Levels returns the number of cells per axis.
func (p Precision) Levels() int {
	return int(p)
}

// WordSize returns the size in bytes of a packed position.
func (p Precision) WordSize() int {
	if p.BitsPerAxis()*3 > 16 {
		return 4
	}
	return 2
}

// MaxError is the largest per-axis distance between a coordinate and its decoded value.
func (p Precision) MaxError() float64 {
	return 1 / float64(uint(1)<<p.BitsPerAxis())
}

// Valid reports whether p is one of the supported precisions.
func (p Precision) Valid() bool {
	return p.BitsPerAxis() != 0
}

func cell(v float64, levels int) uint32 {
	c := int(math.Floor(v * float64(levels)))
	if c < 0 {
		return 0
	}
	if c >= levels {
		return uint32(levels - 1)
	}
	return uint32(c)
}

// Cell returns the integer cell of p on a grid with the given number of levels per axis.
// Coordinates outside [0,1) land in the nearest border cell.
func Cell(p r3.Vector, levels int) (x, y, z int) {
	return int(cell(p.X, levels)), int(cell(p.Y, levels)), int(cell(p.Z, levels))
}

// Pack quantizes p with bits per axis and interleaves the axes as x | y<<bits | z<<2*bits.
func Pack(p r3.Vector, bits uint) uint32 {
	levels := 1 << bits
	x, y, z := cell(p.X, levels), cell(p.Y, levels), cell(p.Z, levels)
	return x | y<<bits | z<<(2*bits)
}

// Unpack returns the lower corner of the cell encoded by code.
func Unpack(code uint32, bits uint) r3.Vector {
	mask := uint32(1)<<bits - 1
	scale := 1 / float64(uint(1)<<bits)
	return r3.Vector{
		X: float64(code&mask) * scale,
		Y: float64((code>>bits)&mask) * scale,
		Z: float64((code>>(2*bits))&mask) * scale,
	}
}

// PackPrecision packs p at the given precision.
func PackPrecision(p r3.Vector, precision Precision) uint32 {
	return Pack(p, precision.BitsPerAxis())
}

// Pack1024 packs p with 10 bits per axis.
func Pack1024(p r3.Vector) uint32 {
	return Pack(p, 10)
}

// Pack32 packs p with 5 bits per axis.
func Pack32(p r3.Vector) uint16 {
	return uint16(Pack(p, 5))
}

// Pack16 packs p with 4 bits per axis.
func Pack16(p r3.Vector) uint16 {
	return uint16(Pack(p, 4))
}

// Pack8 packs p with 3 bits per axis.
func Pack8(p r3.Vector) uint16 {
	return uint16(Pack(p, 3))
}

// Pack4 packs p with 2 bits per axis.
func Pack4(p r3.Vector) uint16 {
	return uint16(Pack(p, 2))
}

// BitmapIndex returns the linear index of p's cell in a size³ occupancy bitmap, x varying fastest.
func BitmapIndex(p r3.Vector, size int) int {
	x, y, z := Cell(p, size)
	return x + y*size + z*size*size
}

func unorm8(v float64) uint32 {
	return uint32(math.Round(clamp01(v) * 255))
}

func unorm16(v float64) uint32 {
	return uint32(math.Round(clamp01(v) * 65535))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// PackUnorm4x8 packs p into four unsigned normalized bytes, the fourth being zero.
func PackUnorm4x8(p r3.Vector) uint32 {
	return unorm8(p.X) | unorm8(p.Y)<<8 | unorm8(p.Z)<<16
}

// UnpackUnorm4x8 decodes the first three components of a PackUnorm4x8 word.
func UnpackUnorm4x8(code uint32) r3.Vector {
	return r3.Vector{
		X: float64(code&0xFF) / 255,
		Y: float64((code>>8)&0xFF) / 255,
		Z: float64((code>>16)&0xFF) / 255,
	}
}

func (p Precision) String() string {
	return strconv.Itoa(int(p))
}
