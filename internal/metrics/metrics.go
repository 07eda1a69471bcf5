// Package metrics exposes the engine's Prometheus instrumentation. The
// engine talks only to the Collector interface and defaults to a no-op
// implementation, so depending on Prometheus is never mandatory for an
// embedder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector receives observations from the append engine. Every method
// must be safe to call from multiple goroutines (the engine calls it
// while holding its own lock for counters, and from the background
// flusher goroutine).
type Collector interface {
	WriteObserved(bytes int)
	FlushObserved(d time.Duration)
	FSyncObserved()
	SegmentRotated()
	SegmentRetired()
	RetentionError()
}

type noop struct{}

// NoOp is the engine's default Collector: every observation is discarded.
var NoOp Collector = noop{}

func (noop) WriteObserved(int)          {}
func (noop) FlushObserved(time.Duration) {}
func (noop) FSyncObserved()             {}
func (noop) SegmentRotated()            {}
func (noop) SegmentRetired()            {}
func (noop) RetentionError()            {}

// Prometheus is a Collector backed by client_golang, registered against
// the supplied registry (pass prometheus.NewRegistry() to isolate an
// embedder's WAL metrics from its own default registry, or
// prometheus.DefaultRegisterer to expose them globally).
type Prometheus struct {
	writesTotal       prometheus.Counter
	bytesWrittenTotal prometheus.Counter
	flushesTotal      prometheus.Counter
	flushDuration     prometheus.Histogram
	fsyncsTotal       prometheus.Counter
	rotationsTotal    prometheus.Counter
	retiredTotal      prometheus.Counter
	retentionErrors   prometheus.Counter
}

// NewPrometheus registers the engine's metric set against reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		writesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_writes_total",
			Help: "Total number of records appended.",
		}),
		bytesWrittenTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_bytes_written_total",
			Help: "Total number of framed bytes appended.",
		}),
		flushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_flushes_total",
			Help: "Total number of successful flushes.",
		}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledgerwal_flush_duration_seconds",
			Help:    "Latency of flush operations, including fsync when enabled.",
			Buckets: prometheus.DefBuckets,
		}),
		fsyncsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_fsyncs_total",
			Help: "Total number of fsync calls against the active segment.",
		}),
		rotationsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_segment_rotations_total",
			Help: "Total number of segment rotations.",
		}),
		retiredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_segments_retired_total",
			Help: "Total number of segments deleted by retention.",
		}),
		retentionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ledgerwal_retention_errors_total",
			Help: "Total number of retention failures: failed segment deletions and failed archive uploads.",
		}),
	}
}

func (p *Prometheus) WriteObserved(bytes int) {
	p.writesTotal.Inc()
	p.bytesWrittenTotal.Add(float64(bytes))
}

func (p *Prometheus) FlushObserved(d time.Duration) {
	p.flushesTotal.Inc()
	p.flushDuration.Observe(d.Seconds())
}

func (p *Prometheus) FSyncObserved()  { p.fsyncsTotal.Inc() }
func (p *Prometheus) SegmentRotated() { p.rotationsTotal.Inc() }
func (p *Prometheus) SegmentRetired() { p.retiredTotal.Inc() }
func (p *Prometheus) RetentionError() { p.retentionErrors.Inc() }
