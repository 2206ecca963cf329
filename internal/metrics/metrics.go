// Package metrics holds the Prometheus instruments for the push service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request results as recorded by the HTTP surface.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Recorder groups the service instruments. A nil *Recorder records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	Requests         *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	ProviderTimeouts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	DispatchLatency  prometheus.Histogram
}

// New creates the instruments and registers them on a dedicated registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_requests_total",
			Help: "Push requests received, by result",
		}, []string{"result"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Per-token delivery outcomes",
		}, []string{"platform", "status"}),
		ProviderTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_provider_timeouts_total",
			Help: "Provider calls abandoned at the deadline",
		}, []string{"platform"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "push_provider_call_seconds",
			Help:    "Time spent in one provider adapter call",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform"}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_dispatch_seconds",
			Help:    "Time to fan out and collect one request",
			Buckets: prometheus.DefBuckets,
		}),
	}
	r.registry.MustRegister(
		r.Requests,
		r.Deliveries,
		r.ProviderTimeouts,
		r.ProviderLatency,
		r.DispatchLatency,
	)
	return r
}

// Handler serves the exposition format for this recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveRequest(result string) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(result).Inc()
}

func (r *Recorder) ObserveDelivery(platform, status string) {
	if r == nil {
		return
	}
	r.Deliveries.WithLabelValues(platform, status).Inc()
}

func (r *Recorder) ObserveProviderCall(platform string, elapsed time.Duration, timedOut bool) {
	if r == nil {
		return
	}
	r.ProviderLatency.WithLabelValues(platform).Observe(elapsed.Seconds())
	if timedOut {
		r.ProviderTimeouts.WithLabelValues(platform).Inc()
	}
}

func (r *Recorder) ObserveDispatch(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.DispatchLatency.Observe(elapsed.Seconds())
}
