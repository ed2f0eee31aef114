// Package metrics provides Prometheus metrics for oohmap.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. All Record methods are safe
// on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CacheLookupsTotal *prometheus.CounterVec

	GeocodeRequestsTotal *prometheus.CounterVec
	GeocodeQueueDepth    prometheus.Gauge

	LayerOperationsTotal *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oohmap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oohmap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oohmap_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	m.GeocodeRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oohmap_geocode_requests_total",
			Help: "Geocode requests by outcome (provided, cached, ok, error)",
		},
		[]string{"outcome"},
	)

	m.GeocodeQueueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "oohmap_geocode_queue_depth",
			Help: "Geocode requests waiting for the provider",
		},
	)

	m.LayerOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oohmap_layer_operations_total",
			Help: "Layer operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordCacheLookup records a response cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordGeocode records the outcome of one geocode call.
func (m *Metrics) RecordGeocode(outcome string) {
	if m == nil {
		return
	}
	m.GeocodeRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetGeocodeQueueDepth updates the queue gauge.
func (m *Metrics) SetGeocodeQueueDepth(n int) {
	if m == nil {
		return
	}
	m.GeocodeQueueDepth.Set(float64(n))
}

// RecordLayerOperation records a layer service call.
func (m *Metrics) RecordLayerOperation(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.LayerOperationsTotal.WithLabelValues(op, status).Inc()
}
