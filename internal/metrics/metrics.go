package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus instruments for the pipeline engine.
// Each Collector owns its registry so tests can create them freely.
type Collector struct {
	registry *prometheus.Registry

	jobsClaimed   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsCancelled prometheus.Counter
	stageRetries  *prometheus.CounterVec
	stageLatency  *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
}

// NewCollector creates and registers the engine metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transcription_jobs_claimed_total",
			Help: "Jobs claimed by engine workers",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transcription_jobs_completed_total",
			Help: "Jobs that reached COMPLETED",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transcription_jobs_failed_total",
			Help: "Jobs that reached FAILED",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transcription_jobs_cancelled_total",
			Help: "Jobs that reached CANCELLED",
		}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_stage_retries_total",
			Help: "Stage retries after transient backend errors",
		}, []string{"stage"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcription_stage_duration_seconds",
			Help:    "Wall-clock duration per pipeline stage",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"stage"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_jobs_in_flight",
			Help: "Jobs currently held by a worker",
		}),
	}

	c.registry.MustRegister(c.jobsClaimed, c.jobsCompleted, c.jobsFailed,
		c.jobsCancelled, c.stageRetries, c.stageLatency, c.jobsInFlight)
	return c
}

func (c *Collector) JobClaimed() { c.jobsClaimed.Inc(); c.jobsInFlight.Inc() }

func (c *Collector) JobReleased() { c.jobsInFlight.Dec() }

func (c *Collector) JobCompleted() { c.jobsCompleted.Inc() }

func (c *Collector) JobFailed() { c.jobsFailed.Inc() }

func (c *Collector) JobCancelled() { c.jobsCancelled.Inc() }

func (c *Collector) StageRetry(stage string) {
	c.stageRetries.WithLabelValues(stage).Inc()
}

func (c *Collector) ObserveStage(stage string, seconds float64) {
	c.stageLatency.WithLabelValues(stage).Observe(seconds)
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
