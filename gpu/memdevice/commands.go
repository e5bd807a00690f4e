package memdevice

import (
	"github.com/alex-tdrn/lpc-renderer/gpu"
)

// CreateVertexArray implements gpu.Commands.
func (d *Device) CreateVertexArray() gpu.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	d.log("CreateVertexArray", d.nextHandle)
	return d.nextHandle
}

// DeleteVertexArray implements gpu.Commands.
func (d *Device) DeleteVertexArray(h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.vertexArray == h {
		d.vertexArray = 0
	}
	d.log("DeleteVertexArray", h)
}

// BindVertexArray implements gpu.Commands.
func (d *Device) BindVertexArray(h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vertexArray = h
	d.log("BindVertexArray", h)
}

// EnableVertexAttribArray implements gpu.Commands.
func (d *Device) EnableVertexAttribArray(index uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("EnableVertexAttribArray", index)
}

// VertexAttribPointer implements gpu.Commands.
func (d *Device) VertexAttribPointer(index uint32, size int32, typ gpu.AttribType, normalized bool, stride int32, offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("VertexAttribPointer", index, size, typ, normalized, stride, offset, d.bound[gpu.ArrayBuffer])
}

// VertexAttribIPointer implements gpu.Commands.
func (d *Device) VertexAttribIPointer(index uint32, size int32, typ gpu.AttribType, stride int32, offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("VertexAttribIPointer", index, size, typ, stride, offset, d.bound[gpu.ArrayBuffer])
}

// VertexAttribDivisor implements gpu.Commands.
func (d *Device) VertexAttribDivisor(index, divisor uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("VertexAttribDivisor", index, divisor)
}

// DrawArrays implements gpu.Commands.
func (d *Device) DrawArrays(mode gpu.Primitive, first, count int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("DrawArrays", mode, first, count)
}

// DrawElementsInstanced implements gpu.Commands.
func (d *Device) DrawElementsInstanced(mode gpu.Primitive, count int32, typ gpu.AttribType, offset int, instances int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("DrawElementsInstanced", mode, count, typ, offset, instances)
}

// MultiDrawArraysIndirect implements gpu.Commands. The logged arguments end with the handle of
// the bound DrawIndirectBuffer.
func (d *Device) MultiDrawArraysIndirect(mode gpu.Primitive, offset int, drawCount, stride int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("MultiDrawArraysIndirect", mode, offset, drawCount, stride, d.bound[gpu.DrawIndirectBuffer])
}

// DispatchCompute implements gpu.Commands by running the kernel synchronously.
func (d *Device) DispatchCompute(x, y, z uint32) {
	d.mu.Lock()
	d.log("DispatchCompute", x, y, z)
	kernel := d.kernel
	d.mu.Unlock()
	if kernel != nil {
		kernel(x, y, z)
	}
}

// MemoryBarrier implements gpu.Commands.
func (d *Device) MemoryBarrier(bits gpu.BarrierBits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("MemoryBarrier", bits)
}

// PointSize implements gpu.Commands.
func (d *Device) PointSize(size float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log("PointSize", size)
}
