// Package memdevice implements gpu.Device and gpu.Commands in host memory. Fences signal after a
// configurable latency, every command is logged, and compute dispatches run a caller supplied
// kernel, which makes it usable for tests and headless benchmarks.
package memdevice

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/alex-tdrn/lpc-renderer/gpu"
)

// Call is one logged device command.
type Call struct {
	Name string
	Args []interface{}
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Name, c.Args)
}

type buffer struct {
	data      []byte
	immutable bool
	mapped    bool
}

type slotKey struct {
	target gpu.Target
	slot   uint32
}

// Device is an in-memory graphics device.
type Device struct {
	mu sync.Mutex

	clock   clock.Clock
	latency time.Duration

	nextHandle  gpu.Handle
	buffers     map[gpu.Handle]*buffer
	bound       map[gpu.Target]gpu.Handle
	slots       map[slotKey]gpu.Handle
	vertexArray gpu.Handle

	nextFence gpu.Fence
	fences    map[gpu.Fence]time.Time

	kernel gpu.Kernel
	calls  []Call

	fencePolls *atomic.Int64
	allocated  *atomic.Int64
}

// Option configures a Device.
type Option func(*Device)

// WithClock sets the clock fences are timed with. With a *clock.Mock, waits advance the mock
// instead of sleeping.
func WithClock(c clock.Clock) Option {
	return func(d *Device) {
		d.clock = c
	}
}

// WithFenceLatency sets how long after insertion fences signal.
func WithFenceLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

// New returns an empty device.
func New(opts ...Option) *Device {
	d := &Device{
		clock:      clock.New(),
		buffers:    map[gpu.Handle]*buffer{},
		bound:      map[gpu.Target]gpu.Handle{},
		slots:      map[slotKey]gpu.Handle{},
		fences:     map[gpu.Fence]time.Time{},
		fencePolls: atomic.NewInt64(0),
		allocated:  atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetKernel sets the function run by DispatchCompute.
func (d *Device) SetKernel(k gpu.Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernel = k
}

func (d *Device) log(name string, args ...interface{}) {
	d.calls = append(d.calls, Call{Name: name, Args: args})
}

// Calls returns every logged command in issue order.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsNamed returns the logged commands with the given name.
func (d *Device) CallsNamed(name string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Call
	for _, c := range d.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the command log.
func (d *Device) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// FencePolls returns how many times fences were polled.
func (d *Device) FencePolls() int64 {
	return d.fencePolls.Load()
}

// AllocatedBytes returns the total size of live buffer storage.
func (d *Device) AllocatedBytes() int64 {
	return d.allocated.Load()
}

// LiveBuffers returns the number of buffers not yet deleted.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// LiveFences returns the number of fences not yet deleted.
func (d *Device) LiveFences() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fences)
}

// Bytes returns the storage of buffer h, or nil for unknown handles. The slice aliases device
// memory.
func (d *Device) Bytes(h gpu.Handle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[h]; ok {
		return b.data
	}
	return nil
}

// Bound returns the buffer bound to target.
func (d *Device) Bound(target gpu.Target) gpu.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bound[target]
}

// BoundBase returns the buffer bound to a numbered slot of target.
func (d *Device) BoundBase(target gpu.Target, slot uint32) gpu.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slots[slotKey{target, slot}]
}

// SlotBytes returns the storage of the buffer bound to a numbered slot of target.
func (d *Device) SlotBytes(target gpu.Target, slot uint32) []byte {
	return d.Bytes(d.BoundBase(target, slot))
}

// CreateBuffer implements gpu.Device.
func (d *Device) CreateBuffer() gpu.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextHandle++
	d.buffers[d.nextHandle] = &buffer{}
	return d.nextHandle
}

// DeleteBuffer implements gpu.Device.
func (d *Device) DeleteBuffer(h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return
	}
	d.allocated.Sub(int64(len(b.data)))
	delete(d.buffers, h)
	for target, bound := range d.bound {
		if bound == h {
			delete(d.bound, target)
		}
	}
	for key, bound := range d.slots {
		if bound == h {
			delete(d.slots, key)
		}
	}
	d.log("DeleteBuffer", h)
}

func (d *Device) mustBuffer(h gpu.Handle) *buffer {
	b, ok := d.buffers[h]
	if !ok {
		panic(errors.Errorf("memdevice: unknown buffer %d", h))
	}
	return b
}

// BufferData implements gpu.Device.
func (d *Device) BufferData(target gpu.Target, h gpu.Handle, size int, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.mustBuffer(h)
	if b.immutable {
		panic(errors.Errorf("memdevice: BufferData on immutable buffer %d", h))
	}
	d.allocated.Add(int64(size - len(b.data)))
	b.data = make([]byte, size)
	copy(b.data, data)
	d.log("BufferData", target, h, size)
}

// BufferSubData implements gpu.Device.
func (d *Device) BufferSubData(target gpu.Target, h gpu.Handle, offset int, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.mustBuffer(h)
	if offset+len(data) > len(b.data) {
		panic(errors.Errorf("memdevice: BufferSubData of %d bytes at %d overflows buffer %d of %d bytes",
			len(data), offset, h, len(b.data)))
	}
	copy(b.data[offset:], data)
	d.log("BufferSubData", target, h, offset, len(data))
}

// ClearBufferSubData implements gpu.Device.
func (d *Device) ClearBufferSubData(target gpu.Target, h gpu.Handle, offset, size int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.mustBuffer(h)
	if offset+size > len(b.data) {
		panic(errors.Errorf("memdevice: ClearBufferSubData of %d bytes at %d overflows buffer %d of %d bytes",
			size, offset, h, len(b.data)))
	}
	clear(b.data[offset : offset+size])
	d.log("ClearBufferSubData", target, h, offset, size)
}

// BufferStorageMapped implements gpu.Device.
func (d *Device) BufferStorageMapped(target gpu.Target, h gpu.Handle, size int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[h]
	if !ok {
		return nil, errors.Errorf("memdevice: unknown buffer %d", h)
	}
	if b.immutable {
		return nil, errors.Errorf("memdevice: buffer %d already has immutable storage", h)
	}
	if size <= 0 {
		return nil, errors.Errorf("memdevice: invalid storage size %d", size)
	}
	d.allocated.Add(int64(size - len(b.data)))
	b.data = make([]byte, size)
	b.immutable = true
	b.mapped = true
	d.log("BufferStorageMapped", target, h, size)
	return b.data, nil
}

// Unmap implements gpu.Device.
func (d *Device) Unmap(target gpu.Target, h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mustBuffer(h).mapped = false
	d.log("Unmap", target, h)
}

// GetBufferSubData implements gpu.Device.
func (d *Device) GetBufferSubData(target gpu.Target, h gpu.Handle, offset int, out []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(out, d.mustBuffer(h).data[offset:])
}

// BindBuffer implements gpu.Device.
func (d *Device) BindBuffer(target gpu.Target, h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bound[target] = h
	d.log("BindBuffer", target, h)
}

// BindBufferBase implements gpu.Device.
func (d *Device) BindBufferBase(target gpu.Target, slot uint32, h gpu.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !target.Indexed() {
		panic(errors.Errorf("memdevice: %v has no numbered slots", target))
	}
	d.slots[slotKey{target, slot}] = h
	d.bound[target] = h
	d.log("BindBufferBase", target, slot, h)
}

// FenceSync implements gpu.Device.
func (d *Device) FenceSync() gpu.Fence {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFence++
	d.fences[d.nextFence] = d.clock.Now().Add(d.latency)
	d.log("FenceSync", d.nextFence)
	return d.nextFence
}

// ClientWaitSync implements gpu.Device.
func (d *Device) ClientWaitSync(f gpu.Fence, timeout time.Duration) gpu.WaitStatus {
	d.mu.Lock()
	signal, ok := d.fences[f]
	d.mu.Unlock()
	if !ok {
		return gpu.WaitFailed
	}
	d.fencePolls.Inc()

	now := d.clock.Now()
	if !now.Before(signal) {
		return gpu.AlreadySignaled
	}
	if timeout <= 0 {
		return gpu.TimeoutExpired
	}
	wait := signal.Sub(now)
	if wait > timeout {
		wait = timeout
	}
	if mock, isMock := d.clock.(*clock.Mock); isMock {
		mock.Add(wait)
	} else {
		d.clock.Sleep(wait)
	}
	if !d.clock.Now().Before(signal) {
		return gpu.ConditionSatisfied
	}
	return gpu.TimeoutExpired
}

// DeleteSync implements gpu.Device.
func (d *Device) DeleteSync(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
	d.log("DeleteSync", f)
}
