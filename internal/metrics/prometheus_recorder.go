package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "webship"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	buildDuration      *prom.HistogramVec
	buildOutcome       *prom.CounterVec
	stepDuration       *prom.HistogramVec
	fetchDuration      *prom.HistogramVec
	fetchRetries       prom.Counter
	queueDepth         prom.Gauge
	busyWorkers        prom.Gauge
	subscribers        prom.Gauge
	droppedSubscribers prom.Counter
	invalidTransitions prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics on reg.
func NewPrometheusRecorder(reg prom.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	buildBuckets := []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400}
	pr := &PrometheusRecorder{
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time from start to terminal status",
			Buckets:   buildBuckets,
		}, []string{"status"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Builds by terminal status and error kind",
		}, []string{"status", "error_kind"}),
		stepDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "toolchain_step_duration_seconds",
			Help:      "Duration of toolchain steps",
			Buckets:   buildBuckets,
		}, []string{"step", "result"}),
		fetchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of repository fetches",
			Buckets:   prom.DefBuckets,
		}, []string{"result"}),
		fetchRetries: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts retried after a timeout",
		}),
		queueDepth: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Builds waiting in application lanes",
		}),
		busyWorkers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Worker slots currently executing a build",
		}),
		subscribers: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_subscribers",
			Help:      "Connected status stream subscribers",
		}),
		droppedSubscribers: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stream_subscribers_dropped_total",
			Help:      "Subscribers disconnected because their buffer overflowed",
		}),
		invalidTransitions: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_transitions_total",
			Help:      "Rejected build status transitions",
		}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.stepDuration, pr.fetchDuration,
		pr.fetchRetries, pr.queueDepth, pr.busyWorkers, pr.subscribers, pr.droppedSubscribers,
		pr.invalidTransitions)
	return pr
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func (p *PrometheusRecorder) ObserveBuildDuration(status string, d time.Duration) {
	p.buildDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(status, errorKind string) {
	p.buildOutcome.WithLabelValues(status, errorKind).Inc()
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration, success bool) {
	p.stepDuration.WithLabelValues(step, result(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveFetchDuration(d time.Duration, success bool) {
	p.fetchDuration.WithLabelValues(result(success)).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncFetchRetry()        { p.fetchRetries.Inc() }
func (p *PrometheusRecorder) SetQueueDepth(n int)   { p.queueDepth.Set(float64(n)) }
func (p *PrometheusRecorder) SetBusyWorkers(n int)  { p.busyWorkers.Set(float64(n)) }
func (p *PrometheusRecorder) SetSubscribers(n int)  { p.subscribers.Set(float64(n)) }
func (p *PrometheusRecorder) IncSubscriberDropped() { p.droppedSubscribers.Inc() }
func (p *PrometheusRecorder) IncInvalidTransition() { p.invalidTransitions.Inc() }
