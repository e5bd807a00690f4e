package gpu

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/alex-tdrn/lpc-renderer/logging"
)

const (
	// DefaultStallThreshold is the fence wait above which a warning is logged.
	DefaultStallThreshold = 4 * time.Millisecond
	pollTimeout           = time.Millisecond
)

// Buffer is a block of device memory with growable capacity. Writes replace the whole content.
// A persistently mapped buffer is written directly through its mapping; Lock marks the point
// after which the GPU may be reading it, and any later write first waits for that fence.
//
// A Buffer is exclusively owned by the goroutine driving its device.
type Buffer struct {
	device Device
	target Target
	handle Handle

	size     int
	capacity int

	persistent bool
	mapped     []byte
	fence      Fence
	freed      bool

	recorder       Recorder
	logger         logging.Logger
	clock          clock.Clock
	stallThreshold time.Duration
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithPersistentMapping makes the buffer keep its storage mapped for writing.
func WithPersistentMapping() Option {
	return func(b *Buffer) {
		b.persistent = true
	}
}

// WithRecorder reports allocations and fence waits to r.
func WithRecorder(r Recorder) Option {
	return func(b *Buffer) {
		b.recorder = r
	}
}

// WithLogger sets the logger used to report stalls.
func WithLogger(logger logging.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// WithClock sets the clock fence waits are measured with.
func WithClock(c clock.Clock) Option {
	return func(b *Buffer) {
		b.clock = c
	}
}

// WithStallThreshold sets the fence wait above which a warning is logged.
func WithStallThreshold(d time.Duration) Option {
	return func(b *Buffer) {
		b.stallThreshold = d
	}
}

// NewBuffer creates an empty buffer used through target.
func NewBuffer(device Device, target Target, opts ...Option) *Buffer {
	b := &Buffer{
		device:         device,
		target:         target,
		clock:          clock.New(),
		stallThreshold: DefaultStallThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.NewBlankLogger("gpu")
	}
	b.handle = device.CreateBuffer()
	return b
}

// Target returns the target the buffer was created for.
func (b *Buffer) Target() Target {
	return b.target
}

// Handle returns the device handle, which changes whenever persistent storage is reallocated.
func (b *Buffer) Handle() Handle {
	return b.handle
}

// Size returns the number of bytes written by the last Write or Reserve.
func (b *Buffer) Size() int {
	return b.size
}

// Capacity returns the size of the device allocation.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Persistent reports whether the buffer is persistently mapped.
func (b *Buffer) Persistent() bool {
	return b.persistent
}

// Mapping returns the persistent mapping. Callers writing through it must call AwaitGPU first.
func (b *Buffer) Mapping() ([]byte, error) {
	if b.freed {
		return nil, ErrBufferFreed
	}
	if !b.persistent {
		return nil, ErrNotPersistent
	}
	return b.mapped[:b.size], nil
}

// Write replaces the content of the buffer with the concatenation of parts. Storage grows when
// the content does not fit and shrinks only when shrinkToFit is set. Reallocating discards any
// pending fence without waiting since the old storage is released with it; otherwise the write
// waits for the pending fence first.
func (b *Buffer) Write(shrinkToFit bool, parts ...[]byte) error {
	if b.freed {
		return ErrBufferFreed
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	if total > b.capacity || (shrinkToFit && total < b.capacity) {
		if err := b.reallocate(total, parts); err != nil {
			return err
		}
		b.size = total
		return nil
	}

	if err := b.AwaitGPU(); err != nil {
		return err
	}
	if b.persistent {
		offset := 0
		for _, p := range parts {
			offset += copy(b.mapped[offset:], p)
		}
	} else {
		offset := 0
		for _, p := range parts {
			if len(p) == 0 {
				continue
			}
			b.device.BufferSubData(b.target, b.handle, offset, p)
			offset += len(p)
		}
	}
	b.size = total
	return nil
}

// Reserve makes the buffer hold size bytes whose content is undefined, reallocating only when
// size exceeds the capacity.
func (b *Buffer) Reserve(size int) error {
	if b.freed {
		return ErrBufferFreed
	}
	if size > b.capacity {
		if err := b.reallocate(size, nil); err != nil {
			return err
		}
	}
	b.size = size
	return nil
}

func (b *Buffer) reallocate(size int, parts [][]byte) error {
	b.discardFence()
	b.record(b.capacity, size)

	if !b.persistent {
		var data []byte
		if parts != nil {
			data = concat(size, parts)
		}
		b.device.BufferData(b.target, b.handle, size, data)
		b.capacity = size
		return nil
	}

	if b.mapped != nil {
		b.device.Unmap(b.target, b.handle)
		b.mapped = nil
	}
	b.device.DeleteBuffer(b.handle)
	b.handle = b.device.CreateBuffer()
	b.capacity = 0
	if size == 0 {
		return nil
	}
	mapped, err := b.device.BufferStorageMapped(b.target, b.handle, size)
	if err != nil {
		return errors.Wrapf(err, "failed to map %d bytes of %v storage", size, b.target)
	}
	b.mapped = mapped
	b.capacity = size
	offset := 0
	for _, p := range parts {
		offset += copy(b.mapped[offset:], p)
	}
	return nil
}

func (b *Buffer) record(oldCapacity, newCapacity int) {
	if b.recorder == nil {
		return
	}
	if newCapacity > oldCapacity {
		b.recorder.RecordAllocation(newCapacity - oldCapacity)
	} else if newCapacity < oldCapacity {
		b.recorder.RecordDeallocation(oldCapacity - newCapacity)
	}
}

func concat(size int, parts [][]byte) []byte {
	if len(parts) == 1 {
		return parts[0]
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Clear zeroes the written range with a device command, so it takes effect after every command
// issued so far and never waits. A persistent buffer is fenced again afterwards: the clear is a
// GPU write that later writes through the mapping must wait for.
func (b *Buffer) Clear() error {
	if b.freed {
		return ErrBufferFreed
	}
	if b.size == 0 {
		return nil
	}
	b.device.ClearBufferSubData(b.target, b.handle, 0, b.size)
	if b.persistent {
		b.Lock()
	}
	return nil
}

// ReadBack copies the written range back from the device.
func (b *Buffer) ReadBack() ([]byte, error) {
	if b.freed {
		return nil, ErrBufferFreed
	}
	out := make([]byte, b.size)
	if b.size > 0 {
		b.device.GetBufferSubData(b.target, b.handle, 0, out)
	}
	return out, nil
}

// Lock inserts a fence after every command issued so far, marking the buffer as possibly in
// use by the GPU.
func (b *Buffer) Lock() {
	if b.freed {
		return
	}
	// commands complete in order, so the new fence covers the old one
	b.discardFence()
	b.fence = b.device.FenceSync()
}

// Locked reports whether a fence is pending.
func (b *Buffer) Locked() bool {
	return b.fence != 0
}

// AwaitGPU blocks until the pending fence, if any, is signaled. The wait is reported to the
// recorder and logged when it exceeds the stall threshold.
func (b *Buffer) AwaitGPU() error {
	if b.fence == 0 {
		return nil
	}
	start := b.clock.Now()
	polls := 0
	for {
		polls++
		status := b.device.ClientWaitSync(b.fence, pollTimeout)
		if status.Signaled() {
			break
		}
		if status == WaitFailed {
			b.discardFence()
			return errors.Wrapf(ErrWaitFailed, "waiting on %v buffer %d", b.target, b.handle)
		}
	}
	waited := b.clock.Since(start)
	b.discardFence()

	if b.recorder != nil {
		b.recorder.RecordFenceWait(waited)
	}
	if waited > b.stallThreshold {
		b.logger.Warnw("fence wait stalled", "target", b.target, "buffer", b.handle,
			"waited", waited, "polls", polls)
	}
	return nil
}

// Unlock is AwaitGPU.
func (b *Buffer) Unlock() error {
	return b.AwaitGPU()
}

func (b *Buffer) discardFence() {
	if b.fence != 0 {
		b.device.DeleteSync(b.fence)
		b.fence = 0
	}
}

// Bind binds the buffer to its target.
func (b *Buffer) Bind() {
	b.device.BindBuffer(b.target, b.handle)
}

// BindAs binds the buffer to another target, such as reading a storage buffer as vertex data.
func (b *Buffer) BindAs(target Target) {
	b.device.BindBuffer(target, b.handle)
}

// BindBase binds the buffer to a numbered slot of its target. It fails with ErrIllegalUsage
// for targets without numbered slots.
func (b *Buffer) BindBase(slot uint32) error {
	if !b.target.Indexed() {
		return errors.Wrapf(ErrIllegalUsage, "cannot bind %v buffer %d to slot %d", b.target, b.handle, slot)
	}
	if b.freed {
		return ErrBufferFreed
	}
	b.device.BindBufferBase(b.target, slot, b.handle)
	return nil
}

// Free releases the device storage. Calling it again does nothing.
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	b.discardFence()
	if b.mapped != nil {
		b.device.Unmap(b.target, b.handle)
		b.mapped = nil
	}
	b.device.DeleteBuffer(b.handle)
	b.record(b.capacity, 0)
	b.capacity, b.size = 0, 0
	b.freed = true
}

// Freed reports whether Free was called.
func (b *Buffer) Freed() bool {
	return b.freed
}
