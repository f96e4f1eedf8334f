package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	upstream        *prometheus.HistogramVec
	exports         *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evalportal",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method and status.",
		}, []string{"method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "evalportal",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "evalportal",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of calls to the evaluation API, by endpoint and status.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "endpoint", "status"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "evalportal",
			Name:      "table_exports_total",
			Help:      "Table exports by format and outcome.",
		}, []string{"format", "outcome"}),
	}
	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.upstream,
		c.exports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Record(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveUpstream records one call to the evaluation API. status is 0 for transport failures.
func (c *Collector) ObserveUpstream(method, endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstream.WithLabelValues(method, endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}

func (c *Collector) RecordExport(format string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.exports.WithLabelValues(format, outcome).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
