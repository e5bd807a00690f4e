package gpu_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/alex-tdrn/lpc-renderer/gpu"
	"github.com/alex-tdrn/lpc-renderer/gpu/memdevice"
	"github.com/alex-tdrn/lpc-renderer/logging"
)

type fakeRecorder struct {
	allocated   int
	deallocated int
	waits       []time.Duration
}

func (r *fakeRecorder) RecordAllocation(bytes int)      { r.allocated += bytes }
func (r *fakeRecorder) RecordDeallocation(bytes int)    { r.deallocated += bytes }
func (r *fakeRecorder) RecordFenceWait(d time.Duration) { r.waits = append(r.waits, d) }

func payload(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestReplaceOnWrite(t *testing.T) {
	device := memdevice.New()
	recorder := &fakeRecorder{}
	b := gpu.NewBuffer(device, gpu.ArrayBuffer, gpu.WithRecorder(recorder))
	defer b.Free()

	t.Run("grows and keeps every byte", func(t *testing.T) {
		first, second := payload(6, 1), payload(10, 50)
		test.That(t, b.Write(false, first, second), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 16)
		test.That(t, b.Size(), test.ShouldEqual, 16)
		data, err := b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, append(append([]byte(nil), first...), second...))

		large := payload(1000, 7)
		test.That(t, b.Write(false, large), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldBeGreaterThanOrEqualTo, 1000)
		data, err = b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, large)
		test.That(t, recorder.allocated, test.ShouldEqual, 1000)
	})

	t.Run("reuses storage unless asked to shrink", func(t *testing.T) {
		small := payload(8, 3)
		device.ResetCalls()
		test.That(t, b.Write(false, small), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 1000)
		test.That(t, b.Size(), test.ShouldEqual, 8)
		test.That(t, device.CallsNamed("BufferData"), test.ShouldBeEmpty)
		test.That(t, len(device.CallsNamed("BufferSubData")), test.ShouldEqual, 1)
		data, err := b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, small)

		test.That(t, b.Write(true, small), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 8)
		test.That(t, recorder.deallocated, test.ShouldEqual, 992)
	})

	t.Run("reserve and clear", func(t *testing.T) {
		test.That(t, b.Reserve(4), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 8)
		test.That(t, b.Size(), test.ShouldEqual, 4)
		test.That(t, b.Reserve(64), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 64)

		test.That(t, b.Write(false, payload(32, 9)), test.ShouldBeNil)
		test.That(t, b.Clear(), test.ShouldBeNil)
		data, err := b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldResemble, make([]byte, 32))
	})

	_, err := b.Mapping()
	test.That(t, errors.Is(err, gpu.ErrNotPersistent), test.ShouldBeTrue)
}

func TestPersistentMapping(t *testing.T) {
	mock := clock.NewMock()
	device := memdevice.New(memdevice.WithClock(mock), memdevice.WithFenceLatency(10*time.Millisecond))
	recorder := &fakeRecorder{}
	logger, logs := logging.NewObservedTestLogger(t)
	b := gpu.NewBuffer(device, gpu.ShaderStorageBuffer,
		gpu.WithPersistentMapping(),
		gpu.WithRecorder(recorder),
		gpu.WithLogger(logger),
		gpu.WithClock(mock),
		gpu.WithStallThreshold(5*time.Millisecond),
	)

	t.Run("write through the mapping", func(t *testing.T) {
		data := payload(64, 1)
		test.That(t, b.Write(false, data[:20], data[20:]), test.ShouldBeNil)
		mapping, err := b.Mapping()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mapping, test.ShouldResemble, data)
		test.That(t, device.Bytes(b.Handle()), test.ShouldResemble, data)
	})

	t.Run("a write waits on the pending fence", func(t *testing.T) {
		b.Lock()
		test.That(t, b.Locked(), test.ShouldBeTrue)
		start := mock.Now()

		data := payload(64, 100)
		test.That(t, b.Write(false, data), test.ShouldBeNil)
		test.That(t, b.Locked(), test.ShouldBeFalse)
		test.That(t, mock.Since(start), test.ShouldBeGreaterThanOrEqualTo, 10*time.Millisecond)
		test.That(t, len(recorder.waits), test.ShouldEqual, 1)
		test.That(t, recorder.waits[0], test.ShouldEqual, 10*time.Millisecond)
		test.That(t, logs.FilterMessage("fence wait stalled").Len(), test.ShouldEqual, 1)
		test.That(t, device.LiveFences(), test.ShouldEqual, 0)

		readBack, err := b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, readBack, test.ShouldResemble, data)
	})

	t.Run("a signaled fence does not stall", func(t *testing.T) {
		b.Lock()
		mock.Add(20 * time.Millisecond)
		test.That(t, b.AwaitGPU(), test.ShouldBeNil)
		test.That(t, recorder.waits[1], test.ShouldEqual, time.Duration(0))
		test.That(t, logs.FilterMessage("fence wait stalled").Len(), test.ShouldEqual, 1)
	})

	t.Run("growth discards the fence and remaps", func(t *testing.T) {
		b.Lock()
		polls := device.FencePolls()
		oldHandle := b.Handle()

		data := payload(4096, 5)
		test.That(t, b.Write(false, data), test.ShouldBeNil)
		test.That(t, device.FencePolls(), test.ShouldEqual, polls)
		test.That(t, b.Locked(), test.ShouldBeFalse)
		test.That(t, device.LiveFences(), test.ShouldEqual, 0)
		test.That(t, b.Handle(), test.ShouldNotEqual, oldHandle)
		test.That(t, device.Bytes(oldHandle), test.ShouldBeNil)
		test.That(t, b.Capacity(), test.ShouldEqual, 4096)

		readBack, err := b.ReadBack()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bytes.Equal(readBack, data), test.ShouldBeTrue)
		test.That(t, device.AllocatedBytes(), test.ShouldEqual, int64(4096))
	})

	t.Run("clear is a fenced device command", func(t *testing.T) {
		b.Lock()
		polls := device.FencePolls()
		device.ResetCalls()
		test.That(t, b.Clear(), test.ShouldBeNil)
		test.That(t, device.FencePolls(), test.ShouldEqual, polls)
		test.That(t, len(device.CallsNamed("ClearBufferSubData")), test.ShouldEqual, 1)
		test.That(t, len(device.CallsNamed("FenceSync")), test.ShouldEqual, 1)
		test.That(t, b.Locked(), test.ShouldBeTrue)
		test.That(t, device.LiveFences(), test.ShouldEqual, 1)
		test.That(t, device.Bytes(b.Handle()), test.ShouldResemble, make([]byte, 4096))

		// writing through the mapping waits for the clear
		test.That(t, b.Write(false, payload(8, 1)), test.ShouldBeNil)
		test.That(t, device.FencePolls(), test.ShouldBeGreaterThan, polls)
		test.That(t, b.Locked(), test.ShouldBeFalse)
	})

	t.Run("free is idempotent", func(t *testing.T) {
		b.Lock()
		b.Free()
		b.Free()
		test.That(t, b.Freed(), test.ShouldBeTrue)
		test.That(t, device.LiveBuffers(), test.ShouldEqual, 0)
		test.That(t, device.LiveFences(), test.ShouldEqual, 0)
		test.That(t, device.AllocatedBytes(), test.ShouldEqual, int64(0))
		test.That(t, recorder.allocated, test.ShouldEqual, recorder.deallocated)
		test.That(t, len(device.CallsNamed("DeleteBuffer")), test.ShouldEqual, 3)

		test.That(t, errors.Is(b.Write(false, payload(4, 0)), gpu.ErrBufferFreed), test.ShouldBeTrue)
		_, err := b.ReadBack()
		test.That(t, errors.Is(err, gpu.ErrBufferFreed), test.ShouldBeTrue)
	})
}

func TestShrinkPersistentToZero(t *testing.T) {
	device := memdevice.New()
	b := gpu.NewBuffer(device, gpu.ArrayBuffer, gpu.WithPersistentMapping())
	defer b.Free()

	test.That(t, b.Write(false, payload(16, 0)), test.ShouldBeNil)
	test.That(t, b.Write(true), test.ShouldBeNil)
	test.That(t, b.Capacity(), test.ShouldEqual, 0)
	test.That(t, b.Size(), test.ShouldEqual, 0)
	data, err := b.ReadBack()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldBeEmpty)
	test.That(t, device.AllocatedBytes(), test.ShouldEqual, int64(0))
}

func TestBindBase(t *testing.T) {
	device := memdevice.New()

	array := gpu.NewBuffer(device, gpu.ArrayBuffer)
	defer array.Free()
	err := array.BindBase(0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, gpu.ErrIllegalUsage), test.ShouldBeTrue)
	test.That(t, device.CallsNamed("BindBufferBase"), test.ShouldBeEmpty)

	for _, target := range []gpu.Target{gpu.ShaderStorageBuffer, gpu.AtomicCounterBuffer, gpu.UniformBuffer} {
		b := gpu.NewBuffer(device, target)
		test.That(t, b.BindBase(3), test.ShouldBeNil)
		test.That(t, device.BoundBase(target, 3), test.ShouldEqual, b.Handle())
		b.Free()
	}

	ssbo := gpu.NewBuffer(device, gpu.ShaderStorageBuffer)
	ssbo.BindAs(gpu.ArrayBuffer)
	test.That(t, device.Bound(gpu.ArrayBuffer), test.ShouldEqual, ssbo.Handle())
	ssbo.Free()
	test.That(t, errors.Is(ssbo.BindBase(0), gpu.ErrBufferFreed), test.ShouldBeTrue)
}

func TestRing(t *testing.T) {
	_, err := gpu.NewRing(memdevice.New(), gpu.ArrayBuffer, 0)
	test.That(t, err, test.ShouldNotBeNil)

	mock := clock.NewMock()
	device := memdevice.New(memdevice.WithClock(mock), memdevice.WithFenceLatency(3*time.Millisecond))
	ring, err := gpu.NewRing(device, gpu.ArrayBuffer, 3, gpu.WithPersistentMapping(), gpu.WithClock(mock))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ring.Len(), test.ShouldEqual, 3)

	seen := map[gpu.Handle]bool{}
	for i := 0; i < 3; i++ {
		b, err := ring.Next()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, b.Write(false, payload(32, byte(i))), test.ShouldBeNil)
		ring.LockCurrent()
		seen[b.Handle()] = true
	}
	test.That(t, len(seen), test.ShouldEqual, 3)

	// wrapping around waits on the oldest fence
	start := mock.Now()
	b, err := ring.Next()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Locked(), test.ShouldBeFalse)
	test.That(t, seen[b.Handle()], test.ShouldBeTrue)
	test.That(t, mock.Since(start), test.ShouldBeGreaterThan, time.Duration(0))

	test.That(t, ring.AwaitAll(), test.ShouldBeNil)
	test.That(t, device.LiveFences(), test.ShouldEqual, 0)
	ring.Free()
	test.That(t, device.LiveBuffers(), test.ShouldEqual, 0)
}

func TestDrawCommands(t *testing.T) {
	commands := []gpu.DrawCommand{
		{Count: 12, InstanceCount: 1, First: 0, BaseInstance: 7},
		{Count: 3, InstanceCount: 1, First: 12, BaseInstance: 9},
	}
	encoded := gpu.EncodeDrawCommands(commands)
	test.That(t, len(encoded), test.ShouldEqual, 2*gpu.DrawCommandSize)
	test.That(t, encoded[:4], test.ShouldResemble, []byte{12, 0, 0, 0})
	test.That(t, encoded[28:32], test.ShouldResemble, []byte{9, 0, 0, 0})
	test.That(t, gpu.DecodeDrawCommands(encoded), test.ShouldResemble, commands)
}

func TestTargets(t *testing.T) {
	test.That(t, gpu.ArrayBuffer.Indexed(), test.ShouldBeFalse)
	test.That(t, gpu.DrawIndirectBuffer.Indexed(), test.ShouldBeFalse)
	test.That(t, gpu.ShaderStorageBuffer.Indexed(), test.ShouldBeTrue)
	test.That(t, gpu.AtomicCounterBuffer.String(), test.ShouldEqual, "AtomicCounterBuffer")
	test.That(t, gpu.ConditionSatisfied.Signaled(), test.ShouldBeTrue)
	test.That(t, gpu.TimeoutExpired.Signaled(), test.ShouldBeFalse)
}
