package profiler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/test"
)

func TestFrames(t *testing.T) {
	mock := clock.NewMock()
	p := New(nil, WithClock(mock))

	test.That(t, p.Snapshot(), test.ShouldResemble, Snapshot{})
	test.That(t, p.Snapshot().FPS(), test.ShouldEqual, 0.0)

	mock.Add(10 * time.Millisecond)
	p.RecordFenceWait(2 * time.Millisecond)
	p.RecordFenceWait(3 * time.Millisecond)
	p.RecordFrame()
	mock.Add(20 * time.Millisecond)
	p.RecordFrame()

	snap := p.Snapshot()
	test.That(t, snap.Frames, test.ShouldEqual, 2)
	test.That(t, snap.FrameTime.Last, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, snap.FrameTime.Mean, test.ShouldEqual, 15*time.Millisecond)
	test.That(t, snap.FrameTime.Median, test.ShouldEqual, 15*time.Millisecond)
	test.That(t, snap.FrameTime.Max, test.ShouldEqual, 20*time.Millisecond)
	test.That(t, snap.FenceWait.Last, test.ShouldEqual, time.Duration(0))
	test.That(t, snap.FenceWait.Max, test.ShouldEqual, 5*time.Millisecond)
	test.That(t, snap.FenceWait.Mean, test.ShouldEqual, 2500*time.Microsecond)
	test.That(t, snap.FPS(), test.ShouldAlmostEqual, 1000.0/15, 1e-9)

	p.Reset()
	test.That(t, p.Snapshot().Frames, test.ShouldEqual, 0)
	test.That(t, p.Snapshot().FrameTime, test.ShouldResemble, Summary{})
}

func TestWindowEvictsOldSamples(t *testing.T) {
	mock := clock.NewMock()
	p := New(nil, WithClock(mock))

	for i := 0; i < FrameSamples; i++ {
		mock.Add(10 * time.Millisecond)
		p.RecordFrame()
	}
	test.That(t, p.Snapshot().FrameTime.Max, test.ShouldEqual, 10*time.Millisecond)

	for i := 0; i < FrameSamples; i++ {
		mock.Add(time.Millisecond)
		p.RecordFrame()
	}
	snap := p.Snapshot()
	test.That(t, snap.Frames, test.ShouldEqual, 2*FrameSamples)
	test.That(t, snap.FrameTime.Max, test.ShouldEqual, time.Millisecond)
	test.That(t, snap.FrameTime.Mean, test.ShouldEqual, time.Millisecond)
	test.That(t, snap.FrameTime.P99, test.ShouldEqual, time.Millisecond)
}

func TestAllocations(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.RecordAllocation(4096)
	p.RecordDeallocation(1024)
	test.That(t, p.AllocatedBytes(), test.ShouldEqual, int64(3072))
	test.That(t, p.Snapshot().Allocated(), test.ShouldEqual, "3KiB")
	test.That(t, testutil.ToFloat64(p.metrics.allocated), test.ShouldEqual, 3072.0)
	test.That(t, testutil.ToFloat64(p.metrics.allocations), test.ShouldEqual, 1.0)

	p.RecordFenceWait(time.Millisecond)
	test.That(t, testutil.ToFloat64(p.metrics.fenceWaits), test.ShouldEqual, 1.0)

	families, err := reg.Gather()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(families), test.ShouldEqual, 6)
}
