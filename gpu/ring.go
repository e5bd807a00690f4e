package gpu

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Ring is a fixed set of buffers used round robin so the CPU can fill one buffer while the GPU
// still reads the others.
type Ring struct {
	buffers []*Buffer
	current int
}

// NewRing creates count buffers sharing target and options.
func NewRing(device Device, target Target, count int, opts ...Option) (*Ring, error) {
	if count < 1 {
		return nil, errors.Errorf("a buffer ring needs at least one buffer, got %d", count)
	}
	r := &Ring{buffers: make([]*Buffer, count), current: count - 1}
	for i := range r.buffers {
		r.buffers[i] = NewBuffer(device, target, opts...)
	}
	return r, nil
}

// Len returns the number of buffers in the ring.
func (r *Ring) Len() int {
	return len(r.buffers)
}

// Current returns the buffer handed out by the last Next.
func (r *Ring) Current() *Buffer {
	return r.buffers[r.current]
}

// Next advances to the following buffer and waits until the GPU is done with it.
func (r *Ring) Next() (*Buffer, error) {
	r.current = (r.current + 1) % len(r.buffers)
	b := r.buffers[r.current]
	if err := b.AwaitGPU(); err != nil {
		return nil, err
	}
	return b, nil
}

// Capacity returns the allocated bytes of every buffer in the ring.
func (r *Ring) Capacity() int {
	total := 0
	for _, b := range r.buffers {
		total += b.Capacity()
	}
	return total
}

// LockCurrent fences the current buffer.
func (r *Ring) LockCurrent() {
	r.Current().Lock()
}

// Free frees every buffer of the ring.
func (r *Ring) Free() {
	for _, b := range r.buffers {
		b.Free()
	}
}

// AwaitAll waits on every pending fence of the ring.
func (r *Ring) AwaitAll() error {
	var err error
	for _, b := range r.buffers {
		err = multierr.Combine(err, b.AwaitGPU())
	}
	return err
}
