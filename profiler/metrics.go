package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var frameBuckets = []float64{.001, .002, .004, .008, .016, .033, .066, .1, .25, .5, 1}

type metrics struct {
	frameTime      prometheus.Histogram
	frameFenceWait prometheus.Histogram
	fenceWait      prometheus.Histogram
	fenceWaits     prometheus.Counter
	allocations    prometheus.Counter
	allocated      prometheus.Gauge
}

func newMetrics(factory promauto.Factory) *metrics {
	return &metrics{
		frameTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lpcrender_frame_time_seconds",
			Help:    "The time between two consecutive frames.",
			Buckets: frameBuckets,
		}),
		frameFenceWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lpcrender_frame_fence_wait_seconds",
			Help:    "The time a frame spent waiting on GPU fences.",
			Buckets: frameBuckets,
		}),
		fenceWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lpcrender_fence_wait_seconds",
			Help:    "The duration of a single wait on a GPU fence.",
			Buckets: frameBuckets,
		}),
		fenceWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "lpcrender_fence_waits_total",
			Help: "The number of waits on GPU fences.",
		}),
		allocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "lpcrender_gpu_allocations_total",
			Help: "The number of device buffer allocations that grew memory usage.",
		}),
		allocated: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lpcrender_gpu_allocated_bytes",
			Help: "The device memory currently allocated by buffers.",
		}),
	}
}
