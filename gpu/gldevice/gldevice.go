// Package gldevice implements gpu.Device and gpu.Commands on an OpenGL 4.3 core context. Every
// method must be called from the goroutine that owns the current context, which is usually the
// main goroutine locked with runtime.LockOSThread.
package gldevice

import (
	"time"
	"unsafe"

	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/logging"
)

const persistentFlags = gl.MAP_WRITE_BIT | gl.MAP_READ_BIT | gl.MAP_PERSISTENT_BIT | gl.MAP_COHERENT_BIT

// Device issues commands to the current OpenGL context.
type Device struct {
	logger logging.Logger
}

// New loads the OpenGL function pointers of the current context.
func New(logger logging.Logger) (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize OpenGL")
	}
	logger.Infow("OpenGL context",
		"version", gl.GoStr(gl.GetString(gl.VERSION)),
		"vendor", gl.GoStr(gl.GetString(gl.VENDOR)),
		"renderer", gl.GoStr(gl.GetString(gl.RENDERER)),
	)
	return &Device{logger: logger}, nil
}

func glTarget(t gpu.Target) uint32 {
	switch t {
	case gpu.ArrayBuffer:
		return gl.ARRAY_BUFFER
	case gpu.ElementArrayBuffer:
		return gl.ELEMENT_ARRAY_BUFFER
	case gpu.DrawIndirectBuffer:
		return gl.DRAW_INDIRECT_BUFFER
	case gpu.ShaderStorageBuffer:
		return gl.SHADER_STORAGE_BUFFER
	case gpu.AtomicCounterBuffer:
		return gl.ATOMIC_COUNTER_BUFFER
	case gpu.UniformBuffer:
		return gl.UNIFORM_BUFFER
	default:
		panic(errors.Errorf("gldevice: unknown target %v", t))
	}
}

func glPrimitive(p gpu.Primitive) uint32 {
	switch p {
	case gpu.Points:
		return gl.POINTS
	case gpu.Lines:
		return gl.LINES
	case gpu.Triangles:
		return gl.TRIANGLES
	default:
		panic(errors.Errorf("gldevice: unknown primitive %d", p))
	}
}

func glType(a gpu.AttribType) uint32 {
	switch a {
	case gpu.Float:
		return gl.FLOAT
	case gpu.UnsignedInt:
		return gl.UNSIGNED_INT
	case gpu.UnsignedShort:
		return gl.UNSIGNED_SHORT
	case gpu.UnsignedByte:
		return gl.UNSIGNED_BYTE
	default:
		panic(errors.Errorf("gldevice: unknown attribute type %d", a))
	}
}

func glBarriers(bits gpu.BarrierBits) uint32 {
	var out uint32
	if bits&gpu.VertexAttribArrayBarrier != 0 {
		out |= gl.VERTEX_ATTRIB_ARRAY_BARRIER_BIT
	}
	if bits&gpu.CommandBarrier != 0 {
		out |= gl.COMMAND_BARRIER_BIT
	}
	if bits&gpu.ShaderStorageBarrier != 0 {
		out |= gl.SHADER_STORAGE_BARRIER_BIT
	}
	if bits&gpu.AtomicCounterBarrier != 0 {
		out |= gl.ATOMIC_COUNTER_BARRIER_BIT
	}
	return out
}

func pointer(data []byte) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return gl.Ptr(data)
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer() gpu.Handle {
	var h uint32
	gl.GenBuffers(1, &h)
	return gpu.Handle(h)
}

// DeleteBuffer implements gpu.Device.
func (d *Device) DeleteBuffer(h gpu.Handle) {
	handle := uint32(h)
	gl.DeleteBuffers(1, &handle)
}

// BufferData implements gpu.Device.
func (d *Device) BufferData(target gpu.Target, h gpu.Handle, size int, data []byte) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	gl.BufferData(t, size, pointer(data), gl.DYNAMIC_DRAW)
}

// BufferSubData implements gpu.Device.
func (d *Device) BufferSubData(target gpu.Target, h gpu.Handle, offset int, data []byte) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	gl.BufferSubData(t, offset, len(data), pointer(data))
}

// ClearBufferSubData implements gpu.Device. Immutable storage may be cleared, so this also
// serves persistently mapped buffers.
func (d *Device) ClearBufferSubData(target gpu.Target, h gpu.Handle, offset, size int) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	gl.ClearBufferSubData(t, gl.R8UI, offset, size, gl.RED_INTEGER, gl.UNSIGNED_BYTE, nil)
}

// BufferStorageMapped implements gpu.Device.
func (d *Device) BufferStorageMapped(target gpu.Target, h gpu.Handle, size int) ([]byte, error) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	gl.BufferStorage(t, size, nil, persistentFlags)
	ptr := gl.MapBufferRange(t, 0, size, persistentFlags)
	if ptr == nil {
		return nil, errors.Errorf("glMapBufferRange failed with error 0x%x", gl.GetError())
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

// Unmap implements gpu.Device.
func (d *Device) Unmap(target gpu.Target, h gpu.Handle) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	if !gl.UnmapBuffer(t) {
		d.logger.Warnw("buffer contents were corrupted while mapped", "buffer", h)
	}
}

// GetBufferSubData implements gpu.Device.
func (d *Device) GetBufferSubData(target gpu.Target, h gpu.Handle, offset int, out []byte) {
	t := glTarget(target)
	gl.BindBuffer(t, uint32(h))
	gl.GetBufferSubData(t, offset, len(out), pointer(out))
}

// BindBuffer implements gpu.Device.
func (d *Device) BindBuffer(target gpu.Target, h gpu.Handle) {
	gl.BindBuffer(glTarget(target), uint32(h))
}

// BindBufferBase implements gpu.Device.
func (d *Device) BindBufferBase(target gpu.Target, slot uint32, h gpu.Handle) {
	gl.BindBufferBase(glTarget(target), slot, uint32(h))
}

// FenceSync implements gpu.Device.
func (d *Device) FenceSync() gpu.Fence {
	return gpu.Fence(gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0))
}

// ClientWaitSync implements gpu.Device.
func (d *Device) ClientWaitSync(f gpu.Fence, timeout time.Duration) gpu.WaitStatus {
	switch gl.ClientWaitSync(uintptr(f), gl.SYNC_FLUSH_COMMANDS_BIT, uint64(timeout.Nanoseconds())) {
	case gl.ALREADY_SIGNALED:
		return gpu.AlreadySignaled
	case gl.CONDITION_SATISFIED:
		return gpu.ConditionSatisfied
	case gl.TIMEOUT_EXPIRED:
		return gpu.TimeoutExpired
	default:
		return gpu.WaitFailed
	}
}

// DeleteSync implements gpu.Device.
func (d *Device) DeleteSync(f gpu.Fence) {
	gl.DeleteSync(uintptr(f))
}

// CreateVertexArray implements gpu.Commands.
func (d *Device) CreateVertexArray() gpu.Handle {
	var h uint32
	gl.GenVertexArrays(1, &h)
	return gpu.Handle(h)
}

// DeleteVertexArray implements gpu.Commands.
func (d *Device) DeleteVertexArray(h gpu.Handle) {
	handle := uint32(h)
	gl.DeleteVertexArrays(1, &handle)
}

// BindVertexArray implements gpu.Commands.
func (d *Device) BindVertexArray(h gpu.Handle) {
	gl.BindVertexArray(uint32(h))
}

// EnableVertexAttribArray implements gpu.Commands.
func (d *Device) EnableVertexAttribArray(index uint32) {
	gl.EnableVertexAttribArray(index)
}

// VertexAttribPointer implements gpu.Commands.
func (d *Device) VertexAttribPointer(index uint32, size int32, typ gpu.AttribType, normalized bool, stride int32, offset int) {
	gl.VertexAttribPointer(index, size, glType(typ), normalized, stride, gl.PtrOffset(offset))
}

// VertexAttribIPointer implements gpu.Commands.
func (d *Device) VertexAttribIPointer(index uint32, size int32, typ gpu.AttribType, stride int32, offset int) {
	gl.VertexAttribIPointer(index, size, glType(typ), stride, gl.PtrOffset(offset))
}

// VertexAttribDivisor implements gpu.Commands.
func (d *Device) VertexAttribDivisor(index, divisor uint32) {
	gl.VertexAttribDivisor(index, divisor)
}

// DrawArrays implements gpu.Commands.
func (d *Device) DrawArrays(mode gpu.Primitive, first, count int32) {
	gl.DrawArrays(glPrimitive(mode), first, count)
}

// DrawElementsInstanced implements gpu.Commands.
func (d *Device) DrawElementsInstanced(mode gpu.Primitive, count int32, typ gpu.AttribType, offset int, instances int32) {
	gl.DrawElementsInstanced(glPrimitive(mode), count, glType(typ), gl.PtrOffset(offset), instances)
}

// MultiDrawArraysIndirect implements gpu.Commands.
func (d *Device) MultiDrawArraysIndirect(mode gpu.Primitive, offset int, drawCount, stride int32) {
	gl.MultiDrawArraysIndirect(glPrimitive(mode), gl.PtrOffset(offset), drawCount, stride)
}

// DispatchCompute implements gpu.Commands.
func (d *Device) DispatchCompute(x, y, z uint32) {
	gl.DispatchCompute(x, y, z)
}

// MemoryBarrier implements gpu.Commands.
func (d *Device) MemoryBarrier(bits gpu.BarrierBits) {
	gl.MemoryBarrier(glBarriers(bits))
}

// PointSize implements gpu.Commands.
func (d *Device) PointSize(size float32) {
	gl.PointSize(size)
}
