// Package profiler tracks frame times, time spent waiting on GPU fences and the amount of device
// memory allocated by buffers. Recent samples are kept in fixed size windows for on-screen and
// CLI summaries and are also exported as prometheus metrics.
package profiler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docker/go-units"
	"github.com/montanaflynn/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FrameSamples is the number of frames summaries are computed over.
const FrameSamples = 200

// Profiler implements gpu.Recorder. It is safe for concurrent use.
type Profiler struct {
	mu sync.Mutex

	clock     clock.Clock
	lastFrame time.Time
	frames    int

	frameTimes  *window
	fenceWaits  *window
	currentWait time.Duration

	allocated int64
	metrics   *metrics
}

// Option configures a Profiler.
type Option func(*Profiler)

// WithClock sets the clock frames are timed with.
func WithClock(c clock.Clock) Option {
	return func(p *Profiler) {
		p.clock = c
	}
}

// New returns a profiler whose metrics are registered with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer, opts ...Option) *Profiler {
	p := &Profiler{
		clock:      clock.New(),
		frameTimes: newWindow(FrameSamples),
		fenceWaits: newWindow(FrameSamples),
		metrics:    newMetrics(promauto.With(reg)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastFrame = p.clock.Now()
	return p
}

// RecordFrame closes the current frame. Its duration is the time since the previous call, or
// since New for the first frame, and the fence waits recorded during it are summed into one
// sample.
func (p *Profiler) RecordFrame() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	frameTime := now.Sub(p.lastFrame)
	p.lastFrame = now
	p.frames++

	p.frameTimes.add(frameTime)
	p.fenceWaits.add(p.currentWait)
	p.metrics.frameTime.Observe(frameTime.Seconds())
	p.metrics.frameFenceWait.Observe(p.currentWait.Seconds())
	p.currentWait = 0
}

// RecordFenceWait adds d to the time the current frame spent waiting on fences.
func (p *Profiler) RecordFenceWait(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentWait += d
	p.metrics.fenceWaits.Inc()
	p.metrics.fenceWait.Observe(d.Seconds())
}

// RecordAllocation records bytes of newly allocated device memory.
func (p *Profiler) RecordAllocation(bytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated += int64(bytes)
	p.metrics.allocations.Inc()
	p.metrics.allocated.Set(float64(p.allocated))
}

// RecordDeallocation records bytes of released device memory.
func (p *Profiler) RecordDeallocation(bytes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated -= int64(bytes)
	p.metrics.allocated.Set(float64(p.allocated))
}

// AllocatedBytes returns the device memory currently allocated.
func (p *Profiler) AllocatedBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Summary describes the samples of one window.
type Summary struct {
	Last   time.Duration
	Mean   time.Duration
	Median time.Duration
	P99    time.Duration
	Max    time.Duration
}

// Snapshot is the state of a Profiler at one point in time.
type Snapshot struct {
	Frames         int
	FrameTime      Summary
	FenceWait      Summary
	AllocatedBytes int64
}

// FPS returns the frame rate implied by the mean frame time.
func (s Snapshot) FPS() float64 {
	if s.FrameTime.Mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.FrameTime.Mean)
}

// Allocated formats the allocated bytes for humans.
func (s Snapshot) Allocated() string {
	return units.BytesSize(float64(s.AllocatedBytes))
}

// Snapshot summarizes the last FrameSamples frames.
func (p *Profiler) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Frames:         p.frames,
		FrameTime:      p.frameTimes.summary(),
		FenceWait:      p.fenceWaits.summary(),
		AllocatedBytes: p.allocated,
	}
}

// Reset discards every frame sample. Allocation accounting is kept since the memory is still live.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = 0
	p.frameTimes = newWindow(FrameSamples)
	p.fenceWaits = newWindow(FrameSamples)
	p.currentWait = 0
	p.lastFrame = p.clock.Now()
}

// window is a ring of the most recent samples in nanoseconds.
type window struct {
	samples []float64
	next    int
	last    float64
}

func newWindow(capacity int) *window {
	return &window{samples: make([]float64, 0, capacity)}
}

func (w *window) add(d time.Duration) {
	v := float64(d)
	w.last = v
	if len(w.samples) < cap(w.samples) {
		w.samples = append(w.samples, v)
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
}

func duration(v float64) time.Duration {
	return time.Duration(v)
}

func (w *window) summary() Summary {
	if len(w.samples) == 0 {
		return Summary{}
	}
	data := stats.Float64Data(w.samples)
	// the data is never empty here and percentiles of a non-empty set do not fail
	mean, _ := data.Mean()
	median, _ := data.Median()
	p99, _ := data.Percentile(99)
	maximum, _ := data.Max()
	return Summary{
		Last:   duration(w.last),
		Mean:   duration(mean),
		Median: duration(median),
		P99:    duration(p99),
		Max:    duration(maximum),
	}
}
