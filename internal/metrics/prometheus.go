package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver exports live run metrics on a private registry.
type PrometheusObserver struct {
	registry *prometheus.Registry

	iterations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueWait  prometheus.Histogram
	dropped    *prometheus.CounterVec
	checks     *prometheus.CounterVec
	workers    prometheus.Gauge
	phase      *prometheus.GaugeVec
}

// NewPrometheusObserver creates an observer whose metrics carry the given
// constant labels (e.g. the scenario name).
func NewPrometheusObserver(constLabels prometheus.Labels) *PrometheusObserver {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	o := &PrometheusObserver{
		registry: reg,
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "steadyrate",
			Name:        "iterations_total",
			Help:        "Completed iterations by operation, status code and outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "status", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "steadyrate",
			Name:        "request_duration_seconds",
			Help:        "Request latency of iterations that received a response.",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 16),
			ConstLabels: constLabels,
		}, []string{"operation"}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "steadyrate",
			Name:        "queue_wait_seconds",
			Help:        "Delay between a tick's scheduled time and the start of its iteration.",
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
			ConstLabels: constLabels,
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "steadyrate",
			Name:        "dropped_iterations_total",
			Help:        "Ticks that never reached a worker.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "steadyrate",
			Name:        "checks_total",
			Help:        "Check evaluations by name and result.",
			ConstLabels: constLabels,
		}, []string{"check", "result"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "steadyrate",
			Name:        "active_workers",
			Help:        "Workers currently allocated in the pool.",
			ConstLabels: constLabels,
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "steadyrate",
			Name:        "phase",
			Help:        "1 for the current run phase, 0 otherwise.",
			ConstLabels: constLabels,
		}, []string{"phase"}),
	}

	reg.MustRegister(o.iterations, o.latency, o.queueWait, o.dropped, o.checks, o.workers, o.phase)
	return o
}

// Registry returns the private registry.
func (o *PrometheusObserver) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// ObserveIteration implements Observer.
func (o *PrometheusObserver) ObserveIteration(res *IterationResult) {
	if res.Interrupted {
		o.iterations.WithLabelValues(res.Operation, "", "interrupted").Inc()
		return
	}

	outcome := "success"
	if res.Failed {
		outcome = "failure"
	}
	status := ""
	if res.Err != nil {
		status = res.ErrKind
	} else {
		status = strconv.Itoa(res.StatusCode)
		o.latency.WithLabelValues(res.Operation).Observe(res.Latency.Seconds())
	}
	o.iterations.WithLabelValues(res.Operation, status, outcome).Inc()

	if res.QueueWait >= 0 {
		o.queueWait.Observe(res.QueueWait.Seconds())
	}

	for _, c := range res.Checks {
		result := "pass"
		if !c.Passed {
			result = "fail"
		}
		o.checks.WithLabelValues(c.Name, result).Inc()
	}
}

// ObserveDrop implements Observer.
func (o *PrometheusObserver) ObserveDrop(reason DropReason) {
	o.dropped.WithLabelValues(string(reason)).Inc()
}

// ObservePhase implements Observer.
func (o *PrometheusObserver) ObservePhase(phase Phase) {
	o.phase.Reset()
	o.phase.WithLabelValues(string(phase)).Set(1)
}

// ObserveActiveWorkers implements Observer.
func (o *PrometheusObserver) ObserveActiveWorkers(n int) {
	o.workers.Set(float64(n))
}
