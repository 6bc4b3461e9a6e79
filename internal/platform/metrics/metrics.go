package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the forwarder.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         *prometheus.CounterVec
	errorsTotal           prometheus.Counter
	activeStreams         prometheus.Gauge
	streamsStartedTotal   prometheus.Counter
	streamsStoppedTotal   prometheus.Counter
	launchFailuresTotal   prometheus.Counter
	transcoderExitsTotal  *prometheus.CounterVec
	segmentsProducedTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the forwarder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests by route pattern and status code",
	}, []string{"route", "code"})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_streams",
		Help: "Number of streams with running transcoders",
	})
	streamsStartedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_streams_started_total",
		Help: "Total number of streams started, including partial starts",
	})
	streamsStoppedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_streams_stopped_total",
		Help: "Total number of streams stopped",
	})
	launchFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_transcoder_launch_failures_total",
		Help: "Total number of transcoder processes that could not be spawned",
	})
	transcoderExitsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_transcoder_exits_total",
		Help: "Total number of transcoder process exits by result",
	}, []string{"result"})
	segmentsProducedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_produced_total",
		Help: "Total number of media segments written by transcoders",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeStreams,
		streamsStartedTotal,
		streamsStoppedTotal,
		launchFailuresTotal,
		transcoderExitsTotal,
		segmentsProducedTotal,
	)

	return &Metrics{
		registry:              registry,
		requestsTotal:         requestsTotal,
		errorsTotal:           errorsTotal,
		activeStreams:         activeStreams,
		streamsStartedTotal:   streamsStartedTotal,
		streamsStoppedTotal:   streamsStoppedTotal,
		launchFailuresTotal:   launchFailuresTotal,
		transcoderExitsTotal:  transcoderExitsTotal,
		segmentsProducedTotal: segmentsProducedTotal,
	}
}

// IncRequests counts one request under its route pattern and status code.
// Route should be a pattern, not the raw path, to keep cardinality bounded.
func (m *Metrics) IncRequests(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// IncStreamsStarted increments the streams started counter.
func (m *Metrics) IncStreamsStarted() {
	m.streamsStartedTotal.Inc()
}

// IncStreamsStopped increments the streams stopped counter.
func (m *Metrics) IncStreamsStopped() {
	m.streamsStoppedTotal.Inc()
}

// IncLaunchFailures increments the transcoder launch failure counter.
func (m *Metrics) IncLaunchFailures() {
	m.launchFailuresTotal.Inc()
}

// ObserveTranscoderExit counts a transcoder exit under its result label
// (success, failure or stopped).
func (m *Metrics) ObserveTranscoderExit(result string) {
	m.transcoderExitsTotal.WithLabelValues(result).Inc()
}

// IncSegmentsProduced increments the produced segments counter.
func (m *Metrics) IncSegmentsProduced() {
	m.segmentsProducedTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
