// Package gpu manages device memory for the renderer. A Device is a thin, handle based view of
// an OpenGL 4.3 style API; Buffer builds growable, optionally persistently mapped storage on top
// of it and guards CPU writes with fences so the GPU never reads memory that is being rewritten.
package gpu

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Buffer errors.
var (
	// ErrIllegalUsage is returned when an operation is not valid for the buffer's target.
	ErrIllegalUsage = errors.New("gpu: illegal buffer usage")

	// ErrBufferFreed is returned when operating on a freed buffer.
	ErrBufferFreed = errors.New("gpu: buffer has been freed")

	// ErrNotPersistent is returned when requesting the mapping of a buffer created without
	// persistent mapping.
	ErrNotPersistent = errors.New("gpu: buffer is not persistently mapped")

	// ErrWaitFailed is returned when the device cannot wait on a fence.
	ErrWaitFailed = errors.New("gpu: fence wait failed")
)

// Handle names a device object such as a buffer or a vertex array. Zero is never a valid object.
type Handle uint32

// Fence is an opaque device sync object. Zero means no fence.
type Fence uintptr

// Target is the binding point a buffer is used through.
type Target uint8

// The supported buffer targets.
const (
	ArrayBuffer Target = iota
	ElementArrayBuffer
	DrawIndirectBuffer
	ShaderStorageBuffer
	AtomicCounterBuffer
	UniformBuffer
)

// String returns the string representation of Target.
func (t Target) String() string {
	switch t {
	case ArrayBuffer:
		return "ArrayBuffer"
	case ElementArrayBuffer:
		return "ElementArrayBuffer"
	case DrawIndirectBuffer:
		return "DrawIndirectBuffer"
	case ShaderStorageBuffer:
		return "ShaderStorageBuffer"
	case AtomicCounterBuffer:
		return "AtomicCounterBuffer"
	case UniformBuffer:
		return "UniformBuffer"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Indexed reports whether buffers of this target can be bound to numbered slots.
func (t Target) Indexed() bool {
	switch t {
	case ShaderStorageBuffer, AtomicCounterBuffer, UniformBuffer:
		return true
	case ArrayBuffer, ElementArrayBuffer, DrawIndirectBuffer:
		return false
	default:
		return false
	}
}

// WaitStatus is the result of polling a fence.
type WaitStatus uint8

// The possible fence poll results.
const (
	AlreadySignaled WaitStatus = iota
	ConditionSatisfied
	TimeoutExpired
	WaitFailed
)

// String returns the string representation of WaitStatus.
func (s WaitStatus) String() string {
	switch s {
	case AlreadySignaled:
		return "AlreadySignaled"
	case ConditionSatisfied:
		return "ConditionSatisfied"
	case TimeoutExpired:
		return "TimeoutExpired"
	case WaitFailed:
		return "WaitFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Signaled reports whether the fence has completed.
func (s WaitStatus) Signaled() bool {
	return s == AlreadySignaled || s == ConditionSatisfied
}

// Primitive is the topology of a draw call.
type Primitive uint8

// The supported primitives.
const (
	Points Primitive = iota
	Lines
	Triangles
)

// AttribType is the component type of a vertex attribute or index.
type AttribType uint8

// The supported component types.
const (
	Float AttribType = iota
	UnsignedInt
	UnsignedShort
	UnsignedByte
)

// Size returns the size of one component in bytes.
func (a AttribType) Size() int {
	switch a {
	case Float, UnsignedInt:
		return 4
	case UnsignedShort:
		return 2
	case UnsignedByte:
		return 1
	default:
		return 0
	}
}

// BarrierBits selects the memory barriers issued by Commands.MemoryBarrier.
type BarrierBits uint32

// The supported barriers.
const (
	VertexAttribArrayBarrier BarrierBits = 1 << iota
	CommandBarrier
	ShaderStorageBarrier
	AtomicCounterBarrier
)

// Device is the memory and synchronization half of a graphics device. Implementations are
// bound to the goroutine owning the graphics context.
type Device interface {
	CreateBuffer() Handle
	DeleteBuffer(h Handle)
	// BufferData allocates size bytes of mutable storage, initialized from data when it is not nil.
	BufferData(target Target, h Handle, size int, data []byte)
	BufferSubData(target Target, h Handle, offset int, data []byte)
	// ClearBufferSubData zeroes size bytes at offset. It is ordered with the other commands, so
	// commands issued before it see the old content and commands issued after it see zeros.
	ClearBufferSubData(target Target, h Handle, offset, size int)
	// BufferStorageMapped allocates size bytes of immutable storage and maps it persistently and
	// coherently for writing. The returned slice stays valid until Unmap or DeleteBuffer.
	BufferStorageMapped(target Target, h Handle, size int) ([]byte, error)
	Unmap(target Target, h Handle)
	GetBufferSubData(target Target, h Handle, offset int, out []byte)
	BindBuffer(target Target, h Handle)
	BindBufferBase(target Target, slot uint32, h Handle)

	// FenceSync inserts a fence completing once every previously issued command has completed.
	FenceSync() Fence
	ClientWaitSync(f Fence, timeout time.Duration) WaitStatus
	DeleteSync(f Fence)
}

// Commands is the drawing half of a graphics device.
type Commands interface {
	CreateVertexArray() Handle
	DeleteVertexArray(h Handle)
	BindVertexArray(h Handle)
	EnableVertexAttribArray(index uint32)
	VertexAttribPointer(index uint32, size int32, typ AttribType, normalized bool, stride int32, offset int)
	VertexAttribIPointer(index uint32, size int32, typ AttribType, stride int32, offset int)
	VertexAttribDivisor(index, divisor uint32)

	DrawArrays(mode Primitive, first, count int32)
	DrawElementsInstanced(mode Primitive, count int32, typ AttribType, offset int, instances int32)
	// MultiDrawArraysIndirect draws drawCount DrawCommands read from the bound DrawIndirectBuffer.
	MultiDrawArraysIndirect(mode Primitive, offset int, drawCount, stride int32)
	DispatchCompute(x, y, z uint32)
	MemoryBarrier(bits BarrierBits)
	PointSize(size float32)
}

// Kernel runs a compute dispatch of x*y*z workgroups on the host. Host devices use it in place of
// a compiled compute shader.
type Kernel func(x, y, z uint32)

// Recorder receives memory and synchronization events from buffers.
type Recorder interface {
	RecordAllocation(bytes int)
	RecordDeallocation(bytes int)
	RecordFenceWait(d time.Duration)
}
