// Package metrics records adapter activity as Prometheus metrics. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
)

// Recorder tracks slashfs operation metrics.
type Recorder struct {
	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	openFiles prometheus.Gauge
	bytes     *prometheus.CounterVec
	retries   prometheus.Counter
}

// New registers the slashfs metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		ops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "slashfs_operations_total",
				Help: "Adapter operations by name and result errno",
			},
			[]string{"op", "result"},
		),
		latency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slashfs_operation_duration_seconds",
				Help:    "Adapter operation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
			},
			[]string{"op"},
		),
		openFiles: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "slashfs_open_handles",
				Help: "Open-file handles currently in the handle table",
			},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "slashfs_bytes_total",
				Help: "Bytes transferred by read and write",
			},
			[]string{"direction"}, // "read", "write"
		),
		retries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "slashfs_unmount_retries_total",
				Help: "Unmount attempts refused by the engine during teardown",
			},
		),
	}
}

// Result returns the result label for err: "ok", an errno name such as
// "ENOENT", or "other".
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		if name := unix.ErrnoName(errno); name != "" {
			return name
		}
	}
	return "other"
}

// ObserveOp records one completed operation.
func (r *Recorder) ObserveOp(op string, err error, d time.Duration) {
	if r == nil {
		return
	}
	r.ops.WithLabelValues(op, Result(err)).Inc()
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// SetOpenFiles records the handle table size.
func (r *Recorder) SetOpenFiles(n int) {
	if r == nil {
		return
	}
	r.openFiles.Set(float64(n))
}

// AddBytes records n bytes moved in direction "read" or "write".
func (r *Recorder) AddBytes(direction string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.bytes.WithLabelValues(direction).Add(float64(n))
}

// UnmountRetry records a refused unmount attempt.
func (r *Recorder) UnmountRetry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}
