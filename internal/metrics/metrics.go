// Package metrics exposes the Prometheus instrumentation of the service: token
// issuance, job outcomes and durations, and upload volume.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ytdown"

// Collector owns a private registry so multiple collectors (e.g. in tests) never
// collide on registration.
type Collector struct {
	registry *prometheus.Registry

	tokensIssued      prometheus.Counter
	tokensRateLimited prometheus.Counter

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsInFlight  prometheus.Gauge
	jobDuration   prometheus.Histogram

	uploadBytes prometheus.Counter
	dedupHits   prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Total number of access tokens issued",
		}),
		tokensRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_rate_limited_total",
			Help:      "Total number of token requests rejected by the per-client limit",
		}),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of jobs accepted for processing",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs which reached a terminal state, by state",
		}, []string{"state"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time taken for a job to reach a terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Total number of bytes transferred to object storage",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_dedup_hits_total",
			Help:      "Total number of uploads skipped because an identical object was already stored",
		}),
	}

	c.registry.MustRegister(
		c.tokensIssued,
		c.tokensRateLimited,
		c.jobsSubmitted,
		c.jobsFinished,
		c.jobsInFlight,
		c.jobDuration,
		c.uploadBytes,
		c.dedupHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

func (c *Collector) TokenIssued()      { c.tokensIssued.Inc() }
func (c *Collector) TokenRateLimited() { c.tokensRateLimited.Inc() }
func (c *Collector) JobSubmitted()     { c.jobsSubmitted.Inc() }

func (c *Collector) JobStarted() { c.jobsInFlight.Inc() }

func (c *Collector) JobFinished(outcome string, elapsed time.Duration) {
	c.jobsInFlight.Dec()
	c.jobsFinished.WithLabelValues(outcome).Inc()
	c.jobDuration.Observe(elapsed.Seconds())
}

// UploadFinished records a completed upload. Duplicates transfer nothing, so
// only count towards dedup hits.
func (c *Collector) UploadFinished(bytes int64, duplicate bool) {
	if duplicate {
		c.dedupHits.Inc()
		return
	}

	c.uploadBytes.Add(float64(bytes))
}

// Handler returns the HTTP handler exposing this collectors metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
