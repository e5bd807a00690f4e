package render_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"go.viam.com/test"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/gpu/memdevice"
	"github.com/alex-tdrn/lpc-renderer/logging"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/quantize"
	"github.com/alex-tdrn/lpc-renderer/render"
)

// cubePositions spans [-1,1]³ and, with one subdivision per axis, fills bricks 0, 5 and 7.
var cubePositions = []r3.Vector{
	{X: -1, Y: -1, Z: -1},
	{X: -0.5, Y: -0.5, Z: -0.5},
	{X: -0.6, Y: -0.4, Z: -0.5},
	{X: 0.5, Y: 0.5, Z: 0.5},
	{X: 0.5, Y: -0.5, Z: 0.5},
	{X: 1, Y: 1, Z: 1},
}

func unitNormals(n int) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = r3.Vector{X: 0, Y: 1, Z: 0}
	}
	return out
}

func brickCloud(t *testing.T, positions, normals []r3.Vector, sub pc.Indices) *pc.Cloud {
	t.Helper()
	cloud, err := pc.New(positions, normals)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.SetSubdivisions(sub), test.ShouldBeNil)
	return cloud
}

func newAssembler(t *testing.T, device *memdevice.Device, opts render.Options) *render.Assembler {
	t.Helper()
	a, err := render.NewAssembler(device, device, opts, logging.NewTestLogger(t), nil)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(a.Free)
	return a
}

// attribBuffer returns the storage bound when attribute index was last specified.
func attribBuffer(t *testing.T, device *memdevice.Device, index uint32) []byte {
	t.Helper()
	var calls []memdevice.Call
	calls = append(calls, device.CallsNamed("VertexAttribPointer")...)
	calls = append(calls, device.CallsNamed("VertexAttribIPointer")...)
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Args[0] == index {
			handle := calls[i].Args[len(calls[i].Args)-1].(gpu.Handle)
			return device.Bytes(handle)
		}
	}
	t.Fatalf("attribute %d was never specified", index)
	return nil
}

func lastCall(t *testing.T, device *memdevice.Device, name string) memdevice.Call {
	t.Helper()
	calls := device.CallsNamed(name)
	test.That(t, calls, test.ShouldNotBeEmpty)
	return calls[len(calls)-1]
}

func float32Positions(points []r3.Vector) []float32 {
	out := make([]float32, 0, 3*len(points))
	for _, p := range points {
		out = append(out, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return out
}

func TestParseCompression(t *testing.T) {
	for _, c := range render.Compressions {
		parsed, err := render.ParseCompression(c.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, c)
	}
	parsed, err := render.ParseCompression("Bitmap-Dedup")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, render.BitmapDedup)

	_, err = render.ParseCompression("zip")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "brick-indirect")
}

func TestOptionsValidate(t *testing.T) {
	test.That(t, render.DefaultOptions().Validate(), test.ShouldBeNil)

	for name, mutate := range map[string]func(*render.Options){
		"compression": func(o *render.Options) { o.Compression = 9 },
		"precision":   func(o *render.Options) { o.PositionPrecision = quantize.P16 },
		"bitmap size": func(o *render.Options) { o.BitmapSize = 64 },
		"batch size":  func(o *render.Options) { o.BatchSize = 0 },
		"normal size": func(o *render.Options) { o.NormalSize = 32 },
		"buffers":     func(o *render.Options) { o.BufferCount = 0 },
		"point size":  func(o *render.Options) { o.PointSize = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			opts := render.DefaultOptions()
			mutate(&opts)
			test.That(t, opts.Validate(), test.ShouldNotBeNil)
			_, err := render.NewAssembler(memdevice.New(), memdevice.New(), opts, logging.NewTestLogger(t), nil)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestUpdateOnlyWhenChanged(t *testing.T) {
	device := memdevice.New()
	a := newAssembler(t, device, render.DefaultOptions())
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(0, 0, 0))
	clouds := []*pc.Cloud{cloud}

	rebuilt, err := a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeTrue)

	rebuilt, err = a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeFalse)

	cloud.SetPrecision(quantize.P4)
	rebuilt, err = a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeFalse)

	a.Refresh()
	rebuilt, err = a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeTrue)

	test.That(t, cloud.SetSubdivisions(pc.NewIndices(1, 1, 1)), test.ShouldBeNil)
	rebuilt, err = a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeTrue)

	opts := a.Options()
	opts.Compression = render.BrickIndirect
	test.That(t, a.SetOptions(opts), test.ShouldBeNil)
	rebuilt, err = a.Update(clouds)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeTrue)
	test.That(t, cloud.Precision(), test.ShouldEqual, quantize.P32)

	other := brickCloud(t, cubePositions, nil, pc.NewIndices(0, 0, 0))
	rebuilt, err = a.Update([]*pc.Cloud{cloud, other})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rebuilt, test.ShouldBeTrue)

	_, err = a.Update([]*pc.Cloud{nil})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRenderBeforeUpdate(t *testing.T) {
	device := memdevice.New()
	a := newAssembler(t, device, render.DefaultOptions())
	err := a.Render(render.NewStaticScene(mgl32.Vec2{100, 100}), memdevice.NewShader())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNone(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Normals = true
	a := newAssembler(t, device, opts)
	cloud := brickCloud(t, cubePositions, unitNormals(len(cubePositions)), pc.NewIndices(0, 0, 0))

	_, err := a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gpu.BytesFloat32(attribBuffer(t, device, 0)), test.ShouldResemble, float32Positions(cubePositions))
	test.That(t, gpu.BytesFloat32(attribBuffer(t, device, 1)), test.ShouldResemble,
		float32Positions(unitNormals(len(cubePositions))))

	scene := render.NewStaticScene(mgl32.Vec2{640, 480})
	scene.Params = map[string]interface{}{"shininess": float32(8)}
	shader := memdevice.NewShader()
	test.That(t, a.Render(scene, shader), test.ShouldBeNil)

	test.That(t, lastCall(t, device, "DrawArrays").Args, test.ShouldResemble,
		[]interface{}{gpu.Points, int32(0), int32(len(cubePositions))})
	test.That(t, lastCall(t, device, "PointSize").Args, test.ShouldResemble, []interface{}{float32(2)})
	shininess, ok := shader.Uniform("shininess")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, shininess, test.ShouldEqual, float32(8))
	view, ok := shader.Uniform("view")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, view, test.ShouldResemble, mgl32.Ident4())

	stats := a.Stats()
	test.That(t, stats.Points, test.ShouldEqual, len(cubePositions))
	test.That(t, stats.Draws, test.ShouldEqual, 1)
	test.That(t, stats.DeviceBytes, test.ShouldEqual, 2*len(cubePositions)*12)
}

func TestNoneWithoutNormals(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Normals = true
	a := newAssembler(t, device, opts)
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(0, 0, 0))

	_, err := a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	for _, call := range device.CallsNamed("VertexAttribPointer") {
		test.That(t, call.Args[0], test.ShouldEqual, uint32(0))
	}
	test.That(t, a.Stats().DeviceBytes, test.ShouldEqual, len(cubePositions)*12)
}

func TestBrickGeometryExpansion(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Compression = render.BrickGeometryExpansion
	a := newAssembler(t, device, opts)
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(1, 1, 1))

	_, err := a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	shader := memdevice.NewShader()
	test.That(t, a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), shader), test.ShouldBeNil)

	bricks := cloud.NonEmptyBricks()
	test.That(t, lastCall(t, device, "DrawArrays").Args, test.ShouldResemble,
		[]interface{}{gpu.Points, int32(0), int32(len(bricks))})

	attributes := attribBuffer(t, device, 0)
	packed := gpu.BytesUint32(device.SlotBytes(gpu.ShaderStorageBuffer, 0))
	indexBytes := 4 * ((3*len(bricks) + 3) / 4)
	offsets := gpu.BytesUint32(attributes[indexBytes : indexBytes+4*len(bricks)])
	lengths := gpu.BytesUint32(attributes[indexBytes+4*len(bricks):])
	for i, brick := range bricks {
		test.That(t, attributes[3*i:3*i+3], test.ShouldResemble,
			[]byte{byte(brick.Indices.I), byte(brick.Indices.J), byte(brick.Indices.K)})
		test.That(t, lengths[i], test.ShouldEqual, uint32(brick.Size()))
		for j, p := range brick.Positions {
			test.That(t, packed[int(offsets[i])+j], test.ShouldEqual, quantize.PackUnorm4x8(p))
		}
	}

	origin, ok := shader.Uniform("cloudOrigin")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, origin, test.ShouldResemble, mgl32.Vec3{-1, -1, -1})
	brickSize, _ := shader.Uniform("brickSize")
	test.That(t, brickSize, test.ShouldResemble, mgl32.Vec3{1, 1, 1})
}

func TestBrickGeometryExpansionIndexLimit(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Compression = render.BrickGeometryExpansion
	a := newAssembler(t, device, opts)
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(300, 0, 0))

	_, err := a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldNotBeNil)
	err = a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), memdevice.NewShader())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBrickIndirect(t *testing.T) {
	for _, precision := range []quantize.Precision{quantize.P1024, quantize.P32} {
		for _, normalSize := range []int{16, 8} {
			t.Run(fmt.Sprintf("%v/normals-%d", precision, normalSize), func(t *testing.T) {
				device := memdevice.New()
				opts := render.DefaultOptions()
				opts.Compression = render.BrickIndirect
				opts.PositionPrecision = precision
				opts.Normals = true
				opts.NormalSize = normalSize
				a := newAssembler(t, device, opts)
				normals := unitNormals(len(cubePositions))
				cloud := brickCloud(t, cubePositions, normals, pc.NewIndices(1, 1, 1))

				_, err := a.Update([]*pc.Cloud{cloud})
				test.That(t, err, test.ShouldBeNil)
				test.That(t, cloud.Precision(), test.ShouldEqual, precision)
				test.That(t, a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), memdevice.NewShader()), test.ShouldBeNil)

				call := lastCall(t, device, "MultiDrawArraysIndirect")
				test.That(t, call.Args[:4], test.ShouldResemble, []interface{}{gpu.Points, 0, int32(3), int32(0)})
				draws := gpu.DecodeDrawCommands(device.Bytes(call.Args[4].(gpu.Handle)))
				test.That(t, draws, test.ShouldResemble, []gpu.DrawCommand{
					{Count: 3, InstanceCount: 1, First: 0, BaseInstance: 0},
					{Count: 1, InstanceCount: 1, First: 3, BaseInstance: 5},
					{Count: 2, InstanceCount: 1, First: 4, BaseInstance: 7},
				})

				var codes []uint32
				if precision == quantize.P1024 {
					codes = gpu.BytesUint32(attribBuffer(t, device, 0))
				} else {
					for _, c := range gpu.BytesUint16(attribBuffer(t, device, 0)) {
						codes = append(codes, uint32(c))
					}
				}
				test.That(t, len(codes), test.ShouldEqual, len(cubePositions))
				for _, draw := range draws {
					brick := cloud.Bricks()[draw.BaseInstance]
					for j, p := range brick.Positions {
						test.That(t, codes[int(draw.First)+j], test.ShouldEqual, quantize.PackPrecision(p, precision))
					}
				}

				normalBytes := attribBuffer(t, device, 1)
				if normalSize == 16 {
					test.That(t, gpu.BytesUint32(normalBytes)[0], test.ShouldEqual, quantize.Spherical16(normals[0]))
				} else {
					test.That(t, gpu.BytesUint16(normalBytes)[0], test.ShouldEqual, quantize.Spherical8(normals[0]))
				}
			})
		}
	}
}

func TestBrickIndirectMultipleClouds(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Compression = render.BrickIndirect
	a := newAssembler(t, device, opts)
	first := brickCloud(t, cubePositions, nil, pc.NewIndices(1, 1, 1))
	second := brickCloud(t, cubePositions[:2], nil, pc.NewIndices(0, 0, 0))
	empty := brickCloud(t, nil, nil, pc.NewIndices(0, 0, 0))

	_, err := a.Update([]*pc.Cloud{first, empty, second})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), memdevice.NewShader()), test.ShouldBeNil)

	calls := device.CallsNamed("MultiDrawArraysIndirect")
	test.That(t, len(calls), test.ShouldEqual, 2)
	test.That(t, calls[0].Args[1:3], test.ShouldResemble, []interface{}{0, int32(3)})
	test.That(t, calls[1].Args[1:3], test.ShouldResemble, []interface{}{3 * gpu.DrawCommandSize, int32(1)})
	draws := gpu.DecodeDrawCommands(device.Bytes(calls[1].Args[4].(gpu.Handle)))
	test.That(t, draws[3], test.ShouldResemble, gpu.DrawCommand{Count: 2, InstanceCount: 1, First: 6, BaseInstance: 0})
	test.That(t, a.Stats().Draws, test.ShouldEqual, 2)
}

func TestEmptyClouds(t *testing.T) {
	for _, compression := range render.Compressions {
		t.Run(compression.String(), func(t *testing.T) {
			device := memdevice.New()
			opts := render.DefaultOptions()
			opts.Compression = compression
			a := newAssembler(t, device, opts)
			a.SetUnpackShader(memdevice.NewShader())
			empty := brickCloud(t, nil, nil, pc.NewIndices(0, 0, 0))

			for _, clouds := range [][]*pc.Cloud{nil, {empty}} {
				_, err := a.Update(clouds)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), memdevice.NewShader()), test.ShouldBeNil)
			}
			test.That(t, device.CallsNamed("DrawArrays"), test.ShouldBeEmpty)
			test.That(t, device.CallsNamed("MultiDrawArraysIndirect"), test.ShouldBeEmpty)
			test.That(t, device.CallsNamed("DispatchCompute"), test.ShouldBeEmpty)
			test.That(t, a.Stats().Draws, test.ShouldEqual, 0)
		})
	}
}

func TestPersistentBuffersAreFenced(t *testing.T) {
	device := memdevice.New()
	opts := render.DefaultOptions()
	opts.Compression = render.BrickIndirect
	opts.PersistentMapping = true
	a, err := render.NewAssembler(device, device, opts, logging.NewTestLogger(t), nil)
	test.That(t, err, test.ShouldBeNil)
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(1, 1, 1))

	_, err = a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Render(render.NewStaticScene(mgl32.Vec2{1, 1}), memdevice.NewShader()), test.ShouldBeNil)
	test.That(t, device.LiveFences(), test.ShouldEqual, 2)

	a.Refresh()
	_, err = a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, device.LiveFences(), test.ShouldEqual, 0)
	test.That(t, device.FencePolls(), test.ShouldBeGreaterThan, 0)

	opts.PersistentMapping = false
	test.That(t, a.SetOptions(opts), test.ShouldBeNil)
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 0)
	_, err = a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 2)

	a.Free()
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 0)
	test.That(t, device.LiveFences(), test.ShouldEqual, 0)
}

func TestBufferRotation(t *testing.T) {
	mock := clock.NewMock()
	device := memdevice.New(memdevice.WithClock(mock), memdevice.WithFenceLatency(10*time.Millisecond))
	opts := render.DefaultOptions()
	opts.PersistentMapping = true
	opts.BufferCount = 3
	a := newAssembler(t, device, opts)
	cloud := brickCloud(t, cubePositions, nil, pc.NewIndices(1, 1, 1))
	scene := render.NewStaticScene(mgl32.Vec2{1, 1})

	var handles []gpu.Handle
	for i := 0; i < 3; i++ {
		a.Refresh()
		_, err := a.Update([]*pc.Cloud{cloud})
		test.That(t, err, test.ShouldBeNil)
		handles = append(handles, device.Bound(gpu.ArrayBuffer))
		test.That(t, a.Render(scene, memdevice.NewShader()), test.ShouldBeNil)
	}
	// each rebuild writes a buffer the GPU is not reading
	test.That(t, lo.Uniq(handles), test.ShouldHaveLength, 3)
	test.That(t, device.FencePolls(), test.ShouldEqual, 0)
	test.That(t, device.LiveFences(), test.ShouldEqual, 3)
	test.That(t, a.Stats().DeviceBytes, test.ShouldEqual, 3*len(cubePositions)*12)

	// wrapping around waits for the oldest frame
	a.Refresh()
	_, err := a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, device.Bound(gpu.ArrayBuffer), test.ShouldEqual, handles[0])
	test.That(t, device.FencePolls(), test.ShouldBeGreaterThan, 0)
	test.That(t, device.LiveFences(), test.ShouldEqual, 2)

	opts.BufferCount = 1
	test.That(t, a.SetOptions(opts), test.ShouldBeNil)
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 0)
	_, err = a.Update([]*pc.Cloud{cloud})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 1)
}
