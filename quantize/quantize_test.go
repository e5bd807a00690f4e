package quantize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func randomUnitCubePoints(n int) []r3.Vector {
	rng := rand.New(rand.NewSource(7))
	points := make([]r3.Vector, 0, n+3)
	points = append(points,
		r3.Vector{},
		r3.Vector{X: math.Nextafter(1, 0), Y: math.Nextafter(1, 0), Z: math.Nextafter(1, 0)},
		r3.Vector{X: 0.5, Y: 0.25, Z: 0.125},
	)
	for i := 0; i < n; i++ {
		points = append(points, r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()})
	}
	return points
}

func TestPackUnpackErrorBound(t *testing.T) {
	points := randomUnitCubePoints(2000)
	for _, precision := range Precisions {
		bits := precision.BitsPerAxis()
		maxErr := precision.MaxError()
		for _, p := range points {
			code := Pack(p, bits)
			test.That(t, code, test.ShouldBeLessThan, uint32(1)<<(3*bits))
			decoded := Unpack(code, bits)
			test.That(t, math.Abs(decoded.X-p.X), test.ShouldBeLessThanOrEqualTo, maxErr)
			test.That(t, math.Abs(decoded.Y-p.Y), test.ShouldBeLessThanOrEqualTo, maxErr)
			test.That(t, math.Abs(decoded.Z-p.Z), test.ShouldBeLessThanOrEqualTo, maxErr)
		}
	}
	test.That(t, P32.MaxError(), test.ShouldEqual, 0.03125)
}

func TestPackLayout(t *testing.T) {
	p := r3.Vector{X: 1.0 / 32, Y: 2.0 / 32, Z: 3.0 / 32}
	test.That(t, Pack32(p), test.ShouldEqual, uint16(1|2<<5|3<<10))

	p = r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}
	test.That(t, Pack1024(p), test.ShouldEqual, uint32(512|512<<10|512<<20))
	test.That(t, Pack16(p), test.ShouldEqual, uint16(8|8<<4|8<<8))
	test.That(t, Pack8(p), test.ShouldEqual, uint16(4|4<<3|4<<6))
	test.That(t, Pack4(p), test.ShouldEqual, uint16(2|2<<2|2<<4))

	// the upper border is clamped into the last cell instead of overflowing into the next axis
	test.That(t, Pack(r3.Vector{X: 1, Y: 0, Z: 0}, 5), test.ShouldEqual, uint32(31))
}

func TestPrecision(t *testing.T) {
	test.That(t, P1024.WordSize(), test.ShouldEqual, 4)
	for _, p := range []Precision{P32, P16, P8, P4} {
		test.That(t, p.WordSize(), test.ShouldEqual, 2)
		test.That(t, p.Levels(), test.ShouldEqual, 1<<p.BitsPerAxis())
	}

	p, err := ParsePrecision(16)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, P16)

	_, err = ParsePrecision(64)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Precision(64).Valid(), test.ShouldBeFalse)
}

func TestBitmapIndex(t *testing.T) {
	test.That(t, BitmapIndex(r3.Vector{}, 4), test.ShouldEqual, 0)
	test.That(t, BitmapIndex(r3.Vector{X: 0.3, Y: 0.6, Z: 0.9}, 4), test.ShouldEqual, 1+2*4+3*16)
	test.That(t, BitmapIndex(r3.Vector{X: 0.99, Y: 0.99, Z: 0.99}, 32), test.ShouldEqual, 32*32*32-1)
}

func TestUnorm4x8(t *testing.T) {
	p := r3.Vector{X: 0.2, Y: 0.4, Z: 0.6}
	code := PackUnorm4x8(p)
	test.That(t, code>>24, test.ShouldEqual, uint32(0))
	decoded := UnpackUnorm4x8(code)
	test.That(t, decoded.X, test.ShouldAlmostEqual, p.X, 1.0/255)
	test.That(t, decoded.Y, test.ShouldAlmostEqual, p.Y, 1.0/255)
	test.That(t, decoded.Z, test.ShouldAlmostEqual, p.Z, 1.0/255)
}

func TestSphericalNormals(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	normals := []r3.Vector{{X: 0, Y: 1, Z: 0}, {X: 0, Y: -1, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 0, Z: -1}}
	for i := 0; i < 500; i++ {
		n := r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		normals = append(normals, n.Normalize())
	}

	for _, n := range normals {
		test.That(t, FromSpherical16(Spherical16(n)).Dot(n), test.ShouldBeGreaterThan, 0.99999)
		test.That(t, FromSpherical8(Spherical8(n)).Dot(n), test.ShouldBeGreaterThan, 0.999)
	}
}
