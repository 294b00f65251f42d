package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exposes digest metrics for scraping. Each recorder owns
// its registry so several can coexist in one process.
type PrometheusRecorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	recipients  *prometheus.CounterVec
	sent        *prometheus.CounterVec
	failed      *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	sends       *prometheus.CounterVec
	sendLatency prometheus.Histogram
	lastRunTS   *prometheus.GaugeVec
	requests    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the digest metrics, plus the Go runtime
// and process collectors, on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	const ns = "eventdigest"
	p := &PrometheusRecorder{registry: prometheus.NewRegistry()}

	p.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "runs_total",
		Help:      "Digest runs by outcome",
	}, []string{"outcome"})
	p.recipients = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "recipients_total",
		Help:      "Recipients resolved across runs",
	}, []string{"outcome"})
	p.sent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "sent_total",
		Help:      "Digests accepted by the email provider",
	}, []string{"outcome"})
	p.failed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "failed_total",
		Help:      "Digests the email provider did not accept",
	}, []string{"outcome"})
	p.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a digest run",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})
	p.sends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "send_attempts_total",
		Help:      "Individual send attempts by result",
	}, []string{"result"})
	p.sendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "send_latency_seconds",
		Help:      "Latency of individual send calls",
		Buckets:   prometheus.DefBuckets,
	})
	p.lastRunTS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last run by outcome",
	}, []string{"outcome"})

	p.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "http_requests_total",
		Help:      "API requests by method, route and status",
	}, []string{"method", "route", "status"})
	p.reqLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	p.registry.MustRegister(
		p.runs, p.recipients, p.sent, p.failed, p.runDuration,
		p.sends, p.sendLatency, p.lastRunTS, p.requests, p.reqLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// RecordRun implements Recorder.
func (p *PrometheusRecorder) RecordRun(_ context.Context, outcome RunOutcome) {
	label := string(outcome.Status)
	p.runs.WithLabelValues(label).Inc()
	p.recipients.WithLabelValues(label).Add(float64(outcome.Result.Total))
	p.sent.WithLabelValues(label).Add(float64(outcome.Result.Sent))
	p.failed.WithLabelValues(label).Add(float64(outcome.Result.Failed()))
	p.runDuration.WithLabelValues(label).Observe(outcome.Duration.Seconds())
	p.lastRunTS.WithLabelValues(label).SetToCurrentTime()
}

// RecordSend implements Recorder.
func (p *PrometheusRecorder) RecordSend(_ context.Context, ok bool, latency time.Duration) {
	p.sends.WithLabelValues(sendResult(ok)).Inc()
	p.sendLatency.Observe(latency.Seconds())
}

// RecordRequest records one API request; it satisfies the HTTP server's
// metrics collector.
func (p *PrometheusRecorder) RecordRequest(method, route, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.reqLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

var _ Recorder = (*PrometheusRecorder)(nil)
