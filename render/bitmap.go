package render

import (
	"context"
	"encoding/binary"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	pc "github.com/alex-tdrn/lpc-renderer/pointcloud"
	"github.com/alex-tdrn/lpc-renderer/quantize"
)

// Storage slots of the bitmap unpack pass.
const (
	SlotBitmaps uint32 = iota
	SlotBitmapIndices
	SlotPackedPositions
	SlotDrawCommands
)

// SlotCounter is the atomic counter slot of the bitmap unpack pass.
const SlotCounter uint32 = 0

// BitmapWords returns the number of 32-bit words of one size³ occupancy bitmap.
func BitmapWords(size int) int {
	return size * size * size / 32
}

// buildBitmaps rasterizes every non-empty brick of cloud into an occupancy bitmap and returns
// the bitmaps back to back together with the linear index of each brick.
func buildBitmaps(cloud *pc.Cloud, size int) ([]uint32, []uint32) {
	words := BitmapWords(size)
	bricks := cloud.NonEmptyBricks()
	bitmaps := make([]uint32, len(bricks)*words)
	indices := make([]uint32, 0, len(bricks))
	for i, brick := range bricks {
		bitmap := bitmaps[i*words : (i+1)*words]
		for _, p := range brick.Positions {
			bit := quantize.BitmapIndex(p, size)
			bitmap[bit/32] |= 1 << (bit % 32)
		}
		// indices of a non-empty brick are always in range
		linear, _ := cloud.LinearIndex(brick.Indices)
		indices = append(indices, uint32(linear))
	}
	return bitmaps, indices
}

// BitmapBatch is the device memory one unpack dispatch reads and writes.
type BitmapBatch struct {
	// Bitmaps holds every bitmap of the frame back to back.
	Bitmaps []byte
	// Indices holds the linear brick index of every bitmap as uint32.
	Indices []byte
	// Positions receives the packed cells as uint16, which are the bit indices of the bitmap.
	Positions []byte
	// Draws receives one DrawCommand per bitmap of the batch.
	Draws []byte
	// Counter is the uint32 running count of written positions.
	Counter []byte

	Size   int
	Offset int
	Count  int
}

// ExpandBitmaps is the host version of the unpack pass. Every bitmap of the batch is expanded by
// its own goroutine, which reserves room for its points by advancing the shared counter, writes
// them in ascending cell order and records a draw command for them whose BaseInstance is the
// brick's linear index.
func ExpandBitmaps(ctx context.Context, batch BitmapBatch) error {
	if batch.Size <= 0 || BitmapWords(batch.Size) == 0 {
		return errors.Errorf("invalid bitmap size %d", batch.Size)
	}
	words := BitmapWords(batch.Size)
	wordBytes := words * 4
	if (batch.Offset+batch.Count)*wordBytes > len(batch.Bitmaps) || (batch.Offset+batch.Count)*4 > len(batch.Indices) {
		return errors.Errorf("batch of %d bitmaps at %d exceeds the %d uploaded bitmaps",
			batch.Count, batch.Offset, len(batch.Indices)/4)
	}
	if batch.Count*gpu.DrawCommandSize > len(batch.Draws) {
		return errors.Errorf("batch of %d bitmaps exceeds the room for %d draw commands",
			batch.Count, len(batch.Draws)/gpu.DrawCommandSize)
	}
	if len(batch.Counter) < 4 {
		return errors.New("missing counter storage")
	}

	counter := atomic.NewUint32(binary.LittleEndian.Uint32(batch.Counter))
	capacity := uint32(len(batch.Positions) / 2)

	g, ctx := errgroup.WithContext(ctx)
	for b := 0; b < batch.Count; b++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			brick := batch.Offset + b
			bitmap := batch.Bitmaps[brick*wordBytes : (brick+1)*wordBytes]

			var count uint32
			for w := 0; w < words; w++ {
				count += uint32(bits.OnesCount32(binary.LittleEndian.Uint32(bitmap[w*4:])))
			}
			first := counter.Add(count) - count
			if first+count > capacity {
				return errors.Errorf("bitmap %d needs positions up to %d but only %d fit", brick, first+count, capacity)
			}

			out := first
			for w := 0; w < words; w++ {
				word := binary.LittleEndian.Uint32(bitmap[w*4:])
				for word != 0 {
					bit := bits.TrailingZeros32(word)
					binary.LittleEndian.PutUint16(batch.Positions[out*2:], uint16(w*32+bit))
					out++
					word &= word - 1
				}
			}

			copy(batch.Draws[b*gpu.DrawCommandSize:], gpu.EncodeDrawCommands([]gpu.DrawCommand{{
				Count:         count,
				InstanceCount: 1,
				First:         first,
				BaseInstance:  binary.LittleEndian.Uint32(batch.Indices[brick*4:]),
			}}))
			return nil
		})
	}
	err := g.Wait()
	binary.LittleEndian.PutUint32(batch.Counter, counter.Load())
	return err
}

// SlotReader exposes the storage bound to numbered slots, which host devices can do.
type SlotReader interface {
	SlotBytes(target gpu.Target, slot uint32) []byte
}

// HostUnpacker stands in for the unpack compute shader on host devices. It records the uniforms
// the Assembler sets on the unpack shader, and Dispatch, installed as the device kernel, runs
// ExpandBitmaps over the bound slots.
type HostUnpacker struct {
	device SlotReader

	mu     sync.Mutex
	offset int
	size   int
	err    error
}

// NewHostUnpacker returns an unpacker reading the slots of device.
func NewHostUnpacker(device SlotReader) *HostUnpacker {
	return &HostUnpacker{device: device}
}

// Use implements Shader.
func (u *HostUnpacker) Use() {}

// Set implements Shader.
func (u *HostUnpacker) Set(name string, value interface{}) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	v, ok := value.(int)
	if !ok {
		return errors.Errorf("uniform %q must be an int, got %T", name, value)
	}
	switch name {
	case "bitmapsOffset":
		u.offset = v
	case "bitmapSize":
		u.size = v
	default:
		return errors.Errorf("unknown uniform %q", name)
	}
	return nil
}

// Dispatch implements gpu.Kernel with one workgroup per bitmap.
func (u *HostUnpacker) Dispatch(x, y, z uint32) {
	u.mu.Lock()
	offset, size := u.offset, u.size
	u.mu.Unlock()

	err := ExpandBitmaps(context.Background(), BitmapBatch{
		Bitmaps:   u.device.SlotBytes(gpu.ShaderStorageBuffer, SlotBitmaps),
		Indices:   u.device.SlotBytes(gpu.ShaderStorageBuffer, SlotBitmapIndices),
		Positions: u.device.SlotBytes(gpu.ShaderStorageBuffer, SlotPackedPositions),
		Draws:     u.device.SlotBytes(gpu.ShaderStorageBuffer, SlotDrawCommands),
		Counter:   u.device.SlotBytes(gpu.AtomicCounterBuffer, SlotCounter),
		Size:      size,
		Offset:    offset,
		Count:     int(x * y * z),
	})
	if err != nil {
		u.mu.Lock()
		if u.err == nil {
			u.err = err
		}
		u.mu.Unlock()
	}
}

// Err returns the first error of any dispatch.
func (u *HostUnpacker) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}
