package render

import (
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
)

// Names of the device buffers an Assembler may own.
const (
	bufPositions     = "positions"
	bufNormals       = "normals"
	bufBricks        = "bricks"
	bufPacked        = "packed"
	bufDraws         = "draws"
	bufBitmaps       = "bitmaps"
	bufBitmapIndices = "bitmap-indices"
	bufExpanded      = "expanded"
	bufExpandedDraws = "expanded-draws"
	bufCounter       = "counter"
)

var bufferTargets = map[string]gpu.Target{
	bufPositions:     gpu.ArrayBuffer,
	bufNormals:       gpu.ArrayBuffer,
	bufBricks:        gpu.ArrayBuffer,
	bufPacked:        gpu.ShaderStorageBuffer,
	bufDraws:         gpu.DrawIndirectBuffer,
	bufBitmaps:       gpu.ShaderStorageBuffer,
	bufBitmapIndices: gpu.ShaderStorageBuffer,
	bufExpanded:      gpu.ShaderStorageBuffer,
	bufExpandedDraws: gpu.ShaderStorageBuffer,
	bufCounter:       gpu.AtomicCounterBuffer,
}

// cloudDraw is the range of bricks, draw commands or bitmaps belonging to one cloud.
type cloudDraw struct {
	cloud *pc.Cloud
	first int
	count int
}

type cloudKey struct {
	cloud    *pc.Cloud
	revision uint64
}

type fingerprint struct {
	opts   Options
	clouds []cloudKey
}

func newFingerprint(opts Options, clouds []*pc.Cloud) fingerprint {
	return fingerprint{
		opts: opts,
		clouds: lo.Map(clouds, func(c *pc.Cloud, _ int) cloudKey {
			return cloudKey{cloud: c, revision: c.Revision()}
		}),
	}
}

func (f fingerprint) equal(other fingerprint) bool {
	return f.opts == other.opts && slices.Equal(f.clouds, other.clouds)
}

// Stats describes the data of the last Update and the draws of the last Render.
type Stats struct {
	Clouds      int
	Points      int
	Bricks      int
	Draws       int
	Dispatches  int
	DeviceBytes int
}

// Assembler owns the device data of the clouds drawn each frame. It is driven by the goroutine
// owning the device.
type Assembler struct {
	device   gpu.Device
	commands gpu.Commands
	logger   logging.Logger
	recorder gpu.Recorder

	opts   Options
	unpack Shader
	vao    gpu.Handle
	rings  map[string]*gpu.Ring
	// rotated holds the rings already advanced by the rebuild in progress.
	rotated map[string]bool

	built       bool
	dirty       bool
	fingerprint fingerprint

	vertices int
	normals  bool
	draws    []cloudDraw
	stats    Stats
}

// NewAssembler returns an assembler with no data. recorder may be nil.
func NewAssembler(
	device gpu.Device,
	commands gpu.Commands,
	opts Options,
	logger logging.Logger,
	recorder gpu.Recorder,
) (*Assembler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{
		device:   device,
		commands: commands,
		logger:   logger,
		recorder: recorder,
		opts:     opts,
		vao:      commands.CreateVertexArray(),
		rings:    map[string]*gpu.Ring{},
		rotated:  map[string]bool{},
	}, nil
}

// Options returns the current options.
func (a *Assembler) Options() Options {
	return a.opts
}

// SetOptions replaces the options. The next Update rebuilds the device data.
func (a *Assembler) SetOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.PersistentMapping != a.opts.PersistentMapping || opts.BufferCount != a.opts.BufferCount {
		a.freeBuffers()
	}
	a.opts = opts
	return nil
}

// SetUnpackShader sets the compute shader expanding BitmapDedup bitmaps.
func (a *Assembler) SetUnpackShader(s Shader) {
	a.unpack = s
}

// Refresh makes the next Update rebuild the device data even if nothing changed.
func (a *Assembler) Refresh() {
	a.dirty = true
}

// Stats returns the statistics of the last Update and Render.
func (a *Assembler) Stats() Stats {
	s := a.stats
	s.DeviceBytes = lo.SumBy(lo.Values(a.rings), func(r *gpu.Ring) int { return r.Capacity() })
	return s
}

// buffer returns the buffer the rebuild in progress writes name to. The first call per rebuild
// advances the ring, waiting only if the GPU still reads the buffer it advances to. A single
// buffer is not advanced since its writes wait on or discard its fence themselves.
func (a *Assembler) buffer(name string) (*gpu.Buffer, error) {
	r, ok := a.rings[name]
	if !ok {
		opts := []gpu.Option{gpu.WithLogger(a.logger)}
		if a.recorder != nil {
			opts = append(opts, gpu.WithRecorder(a.recorder))
		}
		if a.opts.PersistentMapping {
			opts = append(opts, gpu.WithPersistentMapping())
		}
		var err error
		if r, err = gpu.NewRing(a.device, bufferTargets[name], a.opts.BufferCount, opts...); err != nil {
			return nil, err
		}
		a.rings[name] = r
		a.rotated[name] = true
	}
	if a.rotated[name] || r.Len() == 1 {
		return r.Current(), nil
	}
	b, err := r.Next()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to rotate %s buffer", name)
	}
	a.rotated[name] = true
	return b, nil
}

// current returns the buffer last written for name.
func (a *Assembler) current(name string) *gpu.Buffer {
	return a.rings[name].Current()
}

func (a *Assembler) write(name string, parts ...[]byte) (*gpu.Buffer, error) {
	b, err := a.buffer(name)
	if err != nil {
		return nil, err
	}
	if err := b.Write(a.opts.ShrinkToFit, parts...); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s buffer", name)
	}
	return b, nil
}

func (a *Assembler) reserve(name string, size int) (*gpu.Buffer, error) {
	b, err := a.buffer(name)
	if err != nil {
		return nil, err
	}
	if err := b.Reserve(size); err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %s buffer", name)
	}
	return b, nil
}

// keepBuffers frees every buffer not named.
func (a *Assembler) keepBuffers(names ...string) {
	for name, r := range a.rings {
		if !lo.Contains(names, name) {
			r.Free()
			delete(a.rings, name)
		}
	}
}

func (a *Assembler) freeBuffers() {
	a.keepBuffers()
	a.built = false
}

// Update rebuilds the device data for clouds when the set of clouds, a cloud's revision or the
// options changed since the last Update, or after Refresh. It reports whether it rebuilt.
func (a *Assembler) Update(clouds []*pc.Cloud) (bool, error) {
	if lo.Contains(clouds, nil) {
		return false, errors.New("cannot render a nil cloud")
	}
	fp := newFingerprint(a.opts, clouds)
	if a.built && !a.dirty && fp.equal(a.fingerprint) {
		return false, nil
	}
	start := time.Now()
	clear(a.rotated)

	for _, c := range clouds {
		switch a.opts.Compression {
		case BrickIndirect:
			c.SetPrecision(a.opts.PositionPrecision)
		case BitmapDedup:
			c.SetPrecision(a.opts.bitmapPrecision())
		case None, BrickGeometryExpansion:
		}
	}

	nonEmpty := lo.Filter(clouds, func(c *pc.Cloud, _ int) bool { return c.Size() > 0 })
	a.normals = a.opts.Normals && len(nonEmpty) > 0 &&
		lo.EveryBy(nonEmpty, func(c *pc.Cloud) bool { return c.HasNormals() })
	if a.opts.Normals && !a.normals && len(nonEmpty) > 0 {
		a.logger.Warnw("normals requested but not every cloud has them, drawing without normals")
	}

	a.commands.BindVertexArray(a.vao)
	var err error
	switch a.opts.Compression {
	case None:
		err = a.updateNone(nonEmpty)
	case BrickGeometryExpansion:
		err = a.updateBrickGeometryExpansion(nonEmpty)
	case BrickIndirect:
		err = a.updateBrickIndirect(nonEmpty)
	case BitmapDedup:
		err = a.updateBitmapDedup(nonEmpty)
	default:
		err = errors.Errorf("unknown compression %d", a.opts.Compression)
	}
	if err != nil {
		a.built = false
		return false, err
	}

	a.stats = Stats{
		Clouds: len(clouds),
		Points: lo.SumBy(clouds, func(c *pc.Cloud) int { return c.Size() }),
		Bricks: lo.SumBy(clouds, func(c *pc.Cloud) int { return c.Statistics().Bricks - c.Statistics().EmptyBricks }),
	}
	a.fingerprint = fp
	a.built = true
	a.dirty = false
	a.logger.Debugw("rebuilt render data",
		"compression", a.opts.Compression,
		"clouds", len(clouds),
		"points", a.stats.Points,
		"took", time.Since(start),
	)
	return true, nil
}

func (a *Assembler) updateNone(clouds []*pc.Cloud) error {
	a.keepBuffers(bufPositions, bufNormals)
	total := lo.SumBy(clouds, func(c *pc.Cloud) int { return c.Size() })
	positions := make([]float32, 0, 3*total)
	var normals []float32
	if a.normals {
		normals = make([]float32, 0, 3*total)
	}
	for _, c := range clouds {
		c.Iterate(func(p, n r3.Vector) bool {
			positions = append(positions, float32(p.X), float32(p.Y), float32(p.Z))
			if a.normals {
				normals = append(normals, float32(n.X), float32(n.Y), float32(n.Z))
			}
			return true
		})
	}

	b, err := a.write(bufPositions, gpu.Float32Bytes(positions))
	if err != nil {
		return err
	}
	b.Bind()
	a.commands.EnableVertexAttribArray(0)
	a.commands.VertexAttribPointer(0, 3, gpu.Float, false, 0, 0)

	if a.normals {
		b, err := a.write(bufNormals, gpu.Float32Bytes(normals))
		if err != nil {
			return err
		}
		b.Bind()
		a.commands.EnableVertexAttribArray(1)
		a.commands.VertexAttribPointer(1, 3, gpu.Float, false, 0, 0)
	} else {
		a.keepBuffers(bufPositions)
	}

	a.vertices = total
	a.draws = nil
	return nil
}

// Render draws the data of the last Update and fences every buffer it read.
func (a *Assembler) Render(scene Scene, shader Shader) error {
	if !a.built {
		return errors.New("render data has not been built, call Update first")
	}
	a.stats.Draws, a.stats.Dispatches = 0, 0
	shader.Use()
	if err := setCamera(shader, scene); err != nil {
		return err
	}
	a.commands.PointSize(a.opts.PointSize)
	a.commands.BindVertexArray(a.vao)

	var err error
	switch a.opts.Compression {
	case None:
		if a.vertices > 0 {
			a.commands.DrawArrays(gpu.Points, 0, int32(a.vertices))
			a.stats.Draws++
		}
	case BrickGeometryExpansion:
		err = a.renderBrickGeometryExpansion(shader)
	case BrickIndirect:
		err = a.renderBrickIndirect(shader)
	case BitmapDedup:
		err = a.renderBitmapDedup(shader)
	default:
		err = errors.Errorf("unknown compression %d", a.opts.Compression)
	}
	if err != nil {
		return err
	}

	for _, r := range a.rings {
		r.LockCurrent()
	}
	return nil
}

func vec3(v r3.Vector) mgl32.Vec3 {
	return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

// setCloud sets the uniforms brick encodings reconstruct world positions from.
func setCloud(shader Shader, cloud *pc.Cloud) error {
	sub := cloud.Subdivisions()
	return multiSet(shader,
		"cloudOrigin", vec3(cloud.Bounds().Min),
		"brickSize", vec3(cloud.BrickSize()),
		"subdivisions", [3]uint32{uint32(sub.I), uint32(sub.J), uint32(sub.K)},
	)
}

// multiSet sets name, value pairs in order.
func multiSet(shader Shader, pairs ...interface{}) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			return errors.Errorf("uniform name %v is not a string", pairs[i])
		}
		if err := shader.Set(name, pairs[i+1]); err != nil {
			return errors.Wrapf(err, "failed to set %q", name)
		}
	}
	return nil
}

// Free releases every device object. The assembler must not be used afterwards.
func (a *Assembler) Free() {
	a.freeBuffers()
	if a.vao != 0 {
		a.commands.DeleteVertexArray(a.vao)
		a.vao = 0
	}
}
