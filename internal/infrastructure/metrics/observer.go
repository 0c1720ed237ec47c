// Package metrics exports reconciliation passes as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetshift/apigw-reconciler/internal/domain"
)

const namespace = "apigw_reconciler"

// Pass results used as the "result" label.
const (
	ResultSuccess   = "success"
	ResultRetryable = "retryable"
	ResultFailed    = "failed"
)

var _ domain.PassObserver = (*Observer)(nil)

// Observer counts finished passes. It owns its registry so that several
// observers (one per test, say) never collide.
type Observer struct {
	Registry *prometheus.Registry

	passes      *prometheus.CounterVec
	deployments *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	duration    prometheus.Histogram
}

// NewObserver creates an Observer with a fresh registry that also carries
// the Go runtime and process collectors.
func NewObserver() *Observer {
	o := &Observer{
		Registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by API, stage and result.",
		}, []string{"api", "stage", "result"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_created_total",
			Help:      "Deployments created by the reconciler.",
		}, []string{"api", "stage"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_mutations_total",
			Help:      "Stage create or update calls, by the stage status found before the pass.",
		}, []string{"api", "stage", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	o.Registry.MustRegister(
		o.passes, o.deployments, o.mutations, o.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return o
}

// PassFinished implements [domain.PassObserver].
func (o *Observer) PassFinished(rec domain.PassRecord) {
	o.passes.WithLabelValues(rec.APIID, rec.StageName, result(rec)).Inc()
	if d := rec.FinishedAt.Sub(rec.StartedAt); d >= 0 {
		o.duration.Observe(d.Seconds())
	}
	if !rec.Succeeded() {
		return
	}
	if rec.DeploymentCreated {
		o.deployments.WithLabelValues(rec.APIID, rec.StageName).Inc()
	}
	if rec.StageMutated {
		o.mutations.WithLabelValues(rec.APIID, rec.StageName, string(rec.Status)).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.Registry, promhttp.HandlerOpts{Registry: o.Registry})
}

func result(rec domain.PassRecord) string {
	switch {
	case rec.Succeeded():
		return ResultSuccess
	case rec.Retryable:
		return ResultRetryable
	default:
		return ResultFailed
	}
}
