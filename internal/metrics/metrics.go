// Package metrics exposes forq's Prometheus instrumentation: job lifecycle
// counters fed by worker pool events and storage read/commit histograms fed
// by the Pebble wrapper's hook.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rvallejo/forq/internal/worker"
)

// Set bundles every collector forq registers.
type Set struct {
	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsStalled   *prometheus.CounterVec
	JobsActive    *prometheus.GaugeVec

	StorageReadSeconds   prometheus.Histogram
	StorageCommitSeconds prometheus.Histogram
}

// New builds and registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		JobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forq",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs accepted into a queue.",
		}, []string{"queue"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forq",
			Name:      "jobs_completed_total",
			Help:      "Jobs acknowledged as completed.",
		}, []string{"queue"}),
		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forq",
			Name:      "jobs_retried_total",
			Help:      "Failed runs scheduled for a backoff retry.",
		}, []string{"queue"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forq",
			Name:      "jobs_failed_total",
			Help:      "Jobs that reached failed-terminal.",
		}, []string{"queue"}),
		JobsStalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forq",
			Name:      "jobs_stalled_total",
			Help:      "Jobs recovered by the expired-lock sweep.",
		}, []string{"queue"}),
		JobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forq",
			Name:      "jobs_active",
			Help:      "Jobs currently held by workers.",
		}, []string{"queue"}),
		StorageReadSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forq",
			Name:      "storage_read_seconds",
			Help:      "Point read latency against the embedded store.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		StorageCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forq",
			Name:      "storage_commit_seconds",
			Help:      "Batch commit latency against the embedded store.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
	}
	reg.MustRegister(
		s.JobsEnqueued, s.JobsCompleted, s.JobsRetried, s.JobsFailed,
		s.JobsStalled, s.JobsActive,
		s.StorageReadSeconds, s.StorageCommitSeconds,
	)
	return s
}

// Emit implements worker.Sink, translating pool events into counters.
func (s *Set) Emit(e worker.Event) {
	switch e.Kind {
	case worker.EventClaimed:
		s.JobsActive.WithLabelValues(e.Queue).Inc()
	case worker.EventCompleted:
		s.JobsCompleted.WithLabelValues(e.Queue).Inc()
		s.JobsActive.WithLabelValues(e.Queue).Dec()
	case worker.EventRetried:
		s.JobsRetried.WithLabelValues(e.Queue).Inc()
		s.JobsActive.WithLabelValues(e.Queue).Dec()
	case worker.EventFailed:
		s.JobsFailed.WithLabelValues(e.Queue).Inc()
		s.JobsActive.WithLabelValues(e.Queue).Dec()
	case worker.EventLost:
		// The claim's gauge increment must not outlive a rejected ack.
		s.JobsActive.WithLabelValues(e.Queue).Dec()
	case worker.EventStalled:
		s.JobsStalled.WithLabelValues(e.Queue).Inc()
	}
}

// ObserveRead implements the storage metrics hook.
func (s *Set) ObserveRead(elapsed time.Duration, bytes int) {
	s.StorageReadSeconds.Observe(elapsed.Seconds())
}

// ObserveCommit implements the storage metrics hook.
func (s *Set) ObserveCommit(elapsed time.Duration, bytes int) {
	s.StorageCommitSeconds.Observe(elapsed.Seconds())
}
