package quantize

import (
	"math"

	"github.com/golang/geo/r3"
)

// toSpherical maps a unit normal to normalized (phi, theta), both in [0,1].
func toSpherical(n r3.Vector) (float64, float64) {
	theta := math.Acos(math.Max(-1, math.Min(1, n.Y))) / math.Pi
	phi := (math.Atan2(n.X, n.Z)/math.Pi)*0.5 + 0.5
	return phi, theta
}

func fromSpherical(phi, theta float64) r3.Vector {
	t := theta * math.Pi
	p := (phi - 0.5) * 2 * math.Pi
	return r3.Vector{
		X: math.Sin(t) * math.Sin(p),
		Y: math.Cos(t),
		Z: math.Sin(t) * math.Cos(p),
	}
}

// Spherical16 encodes a unit normal as two unorm16 spherical angles, phi in the low half.
func Spherical16(n r3.Vector) uint32 {
	phi, theta := toSpherical(n)
	return unorm16(phi) | unorm16(theta)<<16
}

// FromSpherical16 decodes a Spherical16 word.
func FromSpherical16(code uint32) r3.Vector {
	return fromSpherical(float64(code&0xFFFF)/65535, float64(code>>16)/65535)
}

func byteAngle(v float64) uint16 {
	c := int(v * 256)
	if c > 255 {
		c = 255
	}
	if c < 0 {
		c = 0
	}
	return uint16(c)
}

// Spherical8 encodes a unit normal as two 8 bit spherical angles, phi in the low byte.
func Spherical8(n r3.Vector) uint16 {
	phi, theta := toSpherical(n)
	return byteAngle(phi) | byteAngle(theta)<<8
}

// FromSpherical8 decodes a Spherical8 word, using the centre of each angular bucket.
func FromSpherical8(code uint16) r3.Vector {
	return fromSpherical((float64(code&0xFF)+0.5)/256, (float64(code>>8)+0.5)/256)
}
