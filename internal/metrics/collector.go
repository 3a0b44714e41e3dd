package metrics

import (
	"context"
	"net/http"

	"github.com/phrazzld/coursegen/internal/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coursegen"

// Collector turns lifecycle events into Prometheus metrics.
type Collector struct {
	batchesSubmitted prometheus.Counter
	batchesCancelled prometheus.Counter
	jobsEnqueued     prometheus.Counter
	jobsCancelled    prometheus.Counter
	jobsClaimed      prometheus.Counter
	jobOutcomes      *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	leasesSwept      *prometheus.CounterVec
	jobsInFlight     prometheus.Gauge
}

var _ events.EventHandler = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		batchesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_submitted_total",
			Help:      "Total number of batches submitted",
		}),
		batchesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_cancelled_total",
			Help:      "Total number of batches cancelled",
		}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs created by submissions",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_cancelled_total",
			Help:      "Total number of pending jobs failed by batch cancellation",
		}),
		jobsClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Total number of job claims",
		}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempts_total",
			Help:      "Finished job attempts by outcome",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempt_duration_seconds",
			Help:      "Time from claim to outcome of one job attempt",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		leasesSwept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_leases_total",
			Help:      "Jobs recovered from expired leases by outcome",
		}, []string{"outcome"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_in_flight",
			Help:      "Jobs claimed by this process and not yet finished",
		}),
	}

	reg.MustRegister(
		c.batchesSubmitted,
		c.batchesCancelled,
		c.jobsEnqueued,
		c.jobsCancelled,
		c.jobsClaimed,
		c.jobOutcomes,
		c.jobDuration,
		c.leasesSwept,
		c.jobsInFlight,
	)
	return c
}

// HandleEvent implements events.EventHandler.
func (c *Collector) HandleEvent(_ context.Context, event *events.Event) error {
	switch event.Type {
	case events.BatchSubmitted:
		c.batchesSubmitted.Inc()
		c.jobsEnqueued.Add(float64(event.Count))
	case events.BatchCancelled:
		c.batchesCancelled.Inc()
		c.jobsCancelled.Add(float64(event.Count))
	case events.JobClaimed:
		c.jobsClaimed.Inc()
		c.jobsInFlight.Inc()
	case events.JobCompleted:
		c.finish("completed", event)
	case events.JobRequeued:
		c.finish("requeued", event)
	case events.JobFailed:
		c.finish("failed", event)
	case events.LeasesSwept:
		c.leasesSwept.WithLabelValues("requeued").Add(float64(event.Count))
		c.leasesSwept.WithLabelValues("failed").Add(float64(event.Failed))
	}
	return nil
}

func (c *Collector) finish(outcome string, event *events.Event) {
	c.jobsInFlight.Dec()
	c.jobOutcomes.WithLabelValues(outcome).Inc()
	c.jobDuration.WithLabelValues(outcome).Observe(event.Duration.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
// A nil g uses prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
