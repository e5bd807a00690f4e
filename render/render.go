// Package render turns the clouds chosen for a frame into device buffers and draw calls. The
// Assembler supports four encodings of the same points, from plain world space floats to per
// brick occupancy bitmaps expanded by a compute pass, and only rebuilds device data when the
// clouds or the options change.
package render

import (
	"sort"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/alex-tdrn/lpc-renderer/quantize"
)

// Compression selects how points are encoded on the device.
type Compression uint8

// The supported compressions.
const (
	// None uploads world space float positions and draws them in one call.
	None Compression = iota
	// BrickGeometryExpansion draws one vertex per brick and lets a geometry stage emit its points
	// from 8-bit brick-local positions.
	BrickGeometryExpansion
	// BrickIndirect draws every brick with one indirect command over quantized positions.
	BrickIndirect
	// BitmapDedup uploads per brick occupancy bitmaps and expands them with a compute pass.
	BitmapDedup
)

// Compressions lists every compression.
var Compressions = []Compression{None, BrickGeometryExpansion, BrickIndirect, BitmapDedup}

// String returns the string representation of Compression.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case BrickGeometryExpansion:
		return "brick-geometry-expansion"
	case BrickIndirect:
		return "brick-indirect"
	case BitmapDedup:
		return "bitmap-dedup"
	default:
		return "unknown"
	}
}

// ParseCompression parses the String form of a compression.
func ParseCompression(s string) (Compression, error) {
	for _, c := range Compressions {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	names := lo.Map(Compressions, func(c Compression, _ int) string { return c.String() })
	return None, errors.Errorf("unknown compression %q, expected one of %s", s, strings.Join(names, ", "))
}

// Scene supplies the camera and the parameters forwarded to the draw shader.
type Scene interface {
	Model() mgl32.Mat4
	View() mgl32.Mat4
	Projection() mgl32.Mat4
	Viewport() mgl32.Vec2
	// Parameters are lighting and material values set on the shader as is.
	Parameters() map[string]interface{}
}

// Shader is a program uniforms can be set on.
type Shader interface {
	Use()
	Set(name string, value interface{}) error
}

// MVP returns projection * view * model.
func MVP(scene Scene) mgl32.Mat4 {
	return scene.Projection().Mul4(scene.View()).Mul4(scene.Model())
}

// StaticScene is a Scene with fixed values.
type StaticScene struct {
	ModelMatrix      mgl32.Mat4
	ViewMatrix       mgl32.Mat4
	ProjectionMatrix mgl32.Mat4
	ViewportSize     mgl32.Vec2
	Params           map[string]interface{}
}

// NewStaticScene returns a scene with identity matrices.
func NewStaticScene(viewport mgl32.Vec2) *StaticScene {
	return &StaticScene{
		ModelMatrix:      mgl32.Ident4(),
		ViewMatrix:       mgl32.Ident4(),
		ProjectionMatrix: mgl32.Ident4(),
		ViewportSize:     viewport,
	}
}

// Model implements Scene.
func (s *StaticScene) Model() mgl32.Mat4 { return s.ModelMatrix }

// View implements Scene.
func (s *StaticScene) View() mgl32.Mat4 { return s.ViewMatrix }

// Projection implements Scene.
func (s *StaticScene) Projection() mgl32.Mat4 { return s.ProjectionMatrix }

// Viewport implements Scene.
func (s *StaticScene) Viewport() mgl32.Vec2 { return s.ViewportSize }

// Parameters implements Scene.
func (s *StaticScene) Parameters() map[string]interface{} { return s.Params }

func setCamera(shader Shader, scene Scene) error {
	if err := shader.Set("model", scene.Model()); err != nil {
		return err
	}
	if err := shader.Set("view", scene.View()); err != nil {
		return err
	}
	if err := shader.Set("projection", scene.Projection()); err != nil {
		return err
	}
	params := scene.Parameters()
	names := lo.Keys(params)
	sort.Strings(names)
	for _, name := range names {
		if err := shader.Set(name, params[name]); err != nil {
			return errors.Wrapf(err, "failed to set scene parameter %q", name)
		}
	}
	return nil
}

// Options configure an Assembler.
type Options struct {
	Compression Compression
	// PositionPrecision is the quantization of BrickIndirect positions, P1024 or P32.
	PositionPrecision quantize.Precision
	// BitmapSize is the per axis resolution of BitmapDedup bitmaps: 32, 16, 8 or 4.
	BitmapSize int
	// BatchSize is the number of bricks expanded per compute dispatch.
	BatchSize int
	// Normals uploads normals when every cloud has them.
	Normals bool
	// NormalSize is the bit width of packed BrickIndirect normals, 16 or 8.
	NormalSize int
	// ShrinkToFit releases unused device memory when the data shrinks.
	ShrinkToFit bool
	// PersistentMapping maps device buffers persistently instead of uploading through copies.
	PersistentMapping bool
	// BufferCount is the number of device buffers each kind of data rotates through. A rebuild
	// writes the least recently used one, so it only waits for frames BufferCount rebuilds old.
	BufferCount int
	PointSize   float32
}

// DefaultOptions returns the options the renderer starts with.
func DefaultOptions() Options {
	return Options{
		Compression:       None,
		PositionPrecision: quantize.P32,
		BitmapSize:        32,
		BatchSize:         1,
		NormalSize:        16,
		BufferCount:       1,
		PointSize:         2,
	}
}

// Validate returns an error for options no assembler can render with.
func (o Options) Validate() error {
	if !lo.Contains(Compressions, o.Compression) {
		return errors.Errorf("unknown compression %d", o.Compression)
	}
	if o.PositionPrecision != quantize.P1024 && o.PositionPrecision != quantize.P32 {
		return errors.Errorf("position precision must be 1024 or 32, got %d", o.PositionPrecision)
	}
	if !lo.Contains([]int{32, 16, 8, 4}, o.BitmapSize) {
		return errors.Errorf("bitmap size must be 32, 16, 8 or 4, got %d", o.BitmapSize)
	}
	if o.BatchSize < 1 {
		return errors.Errorf("batch size must be at least 1, got %d", o.BatchSize)
	}
	if o.BufferCount < 1 {
		return errors.Errorf("buffer count must be at least 1, got %d", o.BufferCount)
	}
	if o.NormalSize != 16 && o.NormalSize != 8 {
		return errors.Errorf("normal size must be 16 or 8, got %d", o.NormalSize)
	}
	if o.PointSize <= 0 {
		return errors.Errorf("point size must be positive, got %v", o.PointSize)
	}
	return nil
}

// bitmapPrecision is the quantization implied by the bitmap resolution.
func (o Options) bitmapPrecision() quantize.Precision {
	return quantize.Precision(o.BitmapSize)
}
