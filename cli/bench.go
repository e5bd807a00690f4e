package cli

import (
	"fmt"
	"math"
	"time"

	"github.com/docker/go-units"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/alex-tdrn/lpc-renderer/config"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/profiler"
	"github.com/alex-tdrn/lpc-renderer/render"
)

// applyBenchFlags lets explicitly set flags override the config file.
func applyBenchFlags(c *cli.Context, cfg *config.Config) error {
	r, s, b := &cfg.Render, &cfg.Selection, &cfg.Bench
	if c.IsSet(flagCompression) {
		r.Compression = c.String(flagCompression)
	}
	if c.IsSet(flagPrecision) {
		r.PositionPrecision = c.Int(flagPrecision)
	}
	if c.IsSet(flagBitmapSize) {
		r.BitmapSize = c.Int(flagBitmapSize)
	}
	if c.IsSet(flagBatchSize) {
		r.BatchSize = c.Int(flagBatchSize)
	}
	if c.IsSet(flagNormals) {
		r.Normals = c.Bool(flagNormals)
	}
	if c.IsSet(flagPersistent) {
		r.PersistentMapping = c.Bool(flagPersistent)
	}
	if c.IsSet(flagBuffers) {
		r.BufferCount = c.Int(flagBuffers)
	}
	if c.IsSet(flagSelection) {
		s.Mode = c.String(flagSelection)
	}
	if c.IsSet(flagMaxDepth) {
		s.MaxDepth = c.Int(flagMaxDepth)
	}
	if c.IsSet(flagPreferred) {
		s.PreferredVerticesPerNode = c.Int(flagPreferred)
	}
	if c.IsSet(flagFrames) {
		b.Frames = c.Int(flagFrames)
	}
	if c.IsSet(flagWidth) {
		b.Width = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		b.Height = c.Int(flagHeight)
	}
	if c.IsSet(flagOrbit) {
		b.Orbit = float32(c.Float64(flagOrbit))
	}
	if err := cfg.Validate(""); err != nil {
		return err
	}
	// the gl device has no compiled unpack program to expand bitmaps with
	if c.String(flagDevice) == deviceGL {
		if compression, err := render.ParseCompression(r.Compression); err == nil && compression == render.BitmapDedup {
			return errors.Errorf("%v is not supported on the %s device", render.BitmapDedup, deviceGL)
		}
	}
	return nil
}

// orbitCamera circles the cloud at a distance of its diagonal.
type orbitCamera struct {
	center mgl32.Vec3
	radius float32
}

func newOrbitCamera(bounds pc.Bounds) orbitCamera {
	if bounds.Min.X > bounds.Max.X {
		return orbitCamera{radius: 1}
	}
	center := bounds.Min.Add(bounds.Max).Mul(0.5)
	radius := float32(bounds.Max.Sub(bounds.Min).Norm())
	if radius == 0 {
		radius = 1
	}
	return orbitCamera{
		center: mgl32.Vec3{float32(center.X), float32(center.Y), float32(center.Z)},
		radius: radius,
	}
}

func (o orbitCamera) projection(width, height int) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(45), float32(width)/float32(height), o.radius/100, o.radius*10)
}

func (o orbitCamera) view(degrees float32) mgl32.Mat4 {
	a := float64(mgl32.DegToRad(degrees))
	eye := o.center.Add(mgl32.Vec3{
		float32(math.Cos(a)) * o.radius,
		o.radius / 2,
		float32(math.Sin(a)) * o.radius,
	})
	return mgl32.LookAtV(eye, o.center, mgl32.Vec3{0, 1, 0})
}

// BenchAction renders the configured cloud for a number of frames and prints frame statistics.
func BenchAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := applyBenchFlags(c, cfg); err != nil {
		return err
	}
	renderOpts, err := cfg.Render.Options()
	if err != nil {
		return err
	}
	selectOpts, err := cfg.Selection.Options()
	if err != nil {
		return err
	}
	bench := cfg.Bench.WithDefaults()

	logger := newLogger(c, cfg)
	cloud, err := loadCloud(cfg, logger)
	if err != nil {
		return err
	}

	dev, err := openDevice(c.String(flagDevice), bench.Width, bench.Height, c.Duration(flagFenceLatency), logger)
	if err != nil {
		return err
	}
	defer dev.close()

	reg := prometheus.NewRegistry()
	prof := profiler.New(reg)
	assembler, err := render.NewAssembler(dev.device, dev.commands, renderOpts, logger, prof)
	if err != nil {
		return err
	}
	defer assembler.Free()
	assembler.SetUnpackShader(dev.unpack)

	selector, err := render.NewSelector(selectOpts, logger)
	if err != nil {
		return err
	}
	var boxes *render.BoxCache
	if c.Bool(flagBoxes) {
		if boxes, err = render.NewBoxCache(dev.device, dev.commands, logger); err != nil {
			return err
		}
		defer boxes.Free()
	}

	camera := newOrbitCamera(cloud.Bounds())
	scene := render.NewStaticScene(mgl32.Vec2{float32(bench.Width), float32(bench.Height)})
	scene.ProjectionMatrix = camera.projection(bench.Width, bench.Height)
	scene.Params = map[string]interface{}{
		"lightDirection": mgl32.Vec3{-1, -1, -1}.Normalize(),
		"ambient":        float32(0.2),
	}

	logger.Infow("benchmark starting",
		"device", c.String(flagDevice),
		"compression", renderOpts.Compression,
		"selection", selectOpts.Mode,
		"frames", bench.Frames,
		"points", cloud.Size())

	start := time.Now()
	rebuilds := 0
	for frame := 0; frame < bench.Frames; frame++ {
		scene.ViewMatrix = camera.view(float32(frame) * bench.Orbit)
		clouds, err := selector.Select(cloud, scene)
		if err != nil {
			return err
		}
		rebuilt, err := assembler.Update(clouds)
		if err != nil {
			return err
		}
		if rebuilt {
			rebuilds++
		}
		if err := assembler.Render(scene, dev.points); err != nil {
			return err
		}
		if boxes != nil {
			if err := drawBoxes(boxes, selector, cloud, scene, dev.boxes); err != nil {
				return err
			}
		}
		if err := dev.endFrame(); err != nil {
			return err
		}
		prof.RecordFrame()
	}
	elapsed := time.Since(start)

	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}

	snapshot := prof.Snapshot()
	stats := assembler.Stats()
	printf(c.App.Writer, "%d frames in %s, %d rebuilds", snapshot.Frames, elapsed.Round(time.Millisecond), rebuilds)

	frames := table.NewWriter()
	frames.AppendHeader(table.Row{"", "Last", "Mean", "Median", "P99", "Max"})
	frames.AppendRow(summaryRow("Frame time", snapshot.FrameTime))
	frames.AppendRow(summaryRow("Fence wait", snapshot.FenceWait))
	frames.AppendFooter(table.Row{"FPS", "", fmt.Sprintf("%.1f", snapshot.FPS()), "", "", ""})
	printf(c.App.Writer, "%s", frames.Render())

	data := table.NewWriter()
	data.AppendHeader(table.Row{"Clouds", "Points", "Bricks", "Draws", "Dispatches", "Device data", "Allocated"})
	data.AppendRow(table.Row{
		stats.Clouds,
		stats.Points,
		stats.Bricks,
		stats.Draws,
		stats.Dispatches,
		units.BytesSize(float64(stats.DeviceBytes)),
		snapshot.Allocated(),
	})
	printf(c.App.Writer, "%s", data.Render())

	metrics := table.NewWriter()
	metrics.AppendHeader(table.Row{"Metric", "Value"})
	for _, family := range families {
		for _, m := range family.GetMetric() {
			var value string
			switch {
			case m.GetCounter() != nil:
				value = fmt.Sprintf("%g", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				value = fmt.Sprintf("%g", m.GetGauge().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				value = fmt.Sprintf("%d samples, %s total",
					h.GetSampleCount(), time.Duration(h.GetSampleSum()*float64(time.Second)).Round(time.Microsecond))
			default:
				continue
			}
			metrics.AppendRow(table.Row{family.GetName(), value})
		}
	}
	printf(c.App.Writer, "%s", metrics.Render())
	return nil
}

func drawBoxes(
	boxes *render.BoxCache,
	selector *render.Selector,
	cloud *pc.Cloud,
	scene render.Scene,
	shader render.Shader,
) error {
	if selector.Options().Mode == render.WholeCloud {
		if _, err := boxes.UpdateBricks(cloud, false); err != nil {
			return err
		}
	} else {
		tree, err := selector.Octree(cloud)
		if err != nil {
			return err
		}
		if _, err := boxes.UpdateOctree(tree); err != nil {
			return err
		}
	}
	return boxes.Draw(shader, render.MVP(scene))
}

func summaryRow(name string, s profiler.Summary) table.Row {
	round := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return table.Row{name, round(s.Last), round(s.Mean), round(s.Median), round(s.P99), round(s.Max)}
}
