// Package metrics defines the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Relay metrics
	ActiveRelays    prometheus.Gauge
	RelaysStarted   prometheus.Counter
	RelayErrors     *prometheus.CounterVec
	ElementaryBytes prometheus.Counter

	// Upstream metrics
	SegmentsFetched prometheus.Counter
	SegmentBytes    prometheus.Counter
	UpstreamErrors  *prometheus.CounterVec

	// Object store metrics
	Uploads       *prometheus.CounterVec
	UploadedParts prometheus.Counter
	UploadedBytes prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry that also carries the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sounds_relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sounds_relay_http_request_duration_seconds",
			Help:    "Time to serve HTTP requests, including streamed bodies",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"route"}),

		ActiveRelays: f.NewGauge(prometheus.GaugeOpts{
			Name: "sounds_relay_active_relays",
			Help: "Current number of episodes being relayed",
		}),
		RelaysStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_relays_started_total",
			Help: "Total number of episode relays started",
		}),
		RelayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sounds_relay_relay_errors_total",
			Help: "Total number of relays that failed, by error kind",
		}, []string{"kind"}),
		ElementaryBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_elementary_bytes_total",
			Help: "Total AAC bytes produced by the demultiplexer",
		}),

		SegmentsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_segments_fetched_total",
			Help: "Total number of HLS segments fetched",
		}),
		SegmentBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_segment_bytes_total",
			Help: "Total transport stream bytes fetched",
		}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sounds_relay_upstream_errors_total",
			Help: "Total number of failed upstream requests, by operation",
		}, []string{"op"}),

		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sounds_relay_uploads_total",
			Help: "Total number of object store uploads, by result",
		}, []string{"result"}),
		UploadedParts: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_uploaded_parts_total",
			Help: "Total number of multipart parts uploaded",
		}),
		UploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "sounds_relay_uploaded_bytes_total",
			Help: "Total number of bytes uploaded to the object store",
		}),

		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
