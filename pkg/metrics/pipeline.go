package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics observes the upload pipeline: job outcomes, sweep actions,
// resolver tier hits and offload drops. All methods are nil-safe.
type PipelineMetrics struct {
	jobsProcessed  *prometheus.CounterVec
	rateLimitWaits prometheus.Counter
	sweepActions   *prometheus.CounterVec
	resolverHits   *prometheus.CounterVec
	offloadDropped prometheus.Counter
	uploadsStaged  prometheus.Counter
}

// NewPipelineMetrics creates the Prometheus-backed pipeline recorder.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewPipelineMetrics() *PipelineMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &PipelineMetrics{
		jobsProcessed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgcdn_jobs_processed_total",
				Help: "Upload jobs finished by a worker, by outcome",
			},
			[]string{"outcome"}, // "committed", "failed", "lost_race"
		),
		rateLimitWaits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tgcdn_upstream_rate_limit_waits_total",
				Help: "In-place sleeps caused by upstream 429 responses",
			},
		),
		sweepActions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgcdn_sweep_actions_total",
				Help: "Reconciliation sweep actions by kind",
			},
			[]string{"action"}, // "unstuck", "recommitted", "retried", "deleted"
		),
		resolverHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tgcdn_resolver_lookups_total",
				Help: "URL resolutions by serving tier",
			},
			[]string{"tier"}, // "l1", "l2", "l3", "miss"
		),
		offloadDropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tgcdn_offload_dropped_total",
				Help: "Cache-warm tasks dropped because the offload queue was full",
			},
		),
		uploadsStaged: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tgcdn_uploads_staged_total",
				Help: "Accepted uploads staged and enqueued",
			},
		),
	}
}

// RecordJobOutcome counts one finished job by outcome.
func (m *PipelineMetrics) RecordJobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(outcome).Inc()
}

// RecordRateLimitWait counts one in-place 429 sleep.
func (m *PipelineMetrics) RecordRateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

// RecordSweep counts the actions of one sweep pass.
func (m *PipelineMetrics) RecordSweep(unstuck, recommitted, retried, deleted int) {
	if m == nil {
		return
	}
	m.sweepActions.WithLabelValues("unstuck").Add(float64(unstuck))
	m.sweepActions.WithLabelValues("recommitted").Add(float64(recommitted))
	m.sweepActions.WithLabelValues("retried").Add(float64(retried))
	m.sweepActions.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordResolverHit counts one resolution by serving tier.
func (m *PipelineMetrics) RecordResolverHit(tier string) {
	if m == nil {
		return
	}
	m.resolverHits.WithLabelValues(tier).Inc()
}

// RecordOffloadDrop counts one dropped cache-warm task.
func (m *PipelineMetrics) RecordOffloadDrop() {
	if m == nil {
		return
	}
	m.offloadDropped.Inc()
}

// RecordUploadStaged counts one accepted upload.
func (m *PipelineMetrics) RecordUploadStaged() {
	if m == nil {
		return
	}
	m.uploadsStaged.Inc()
}
