// Package metrics exposes Prometheus instrumentation of analysis runs and the
// HTTP API.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/consentscope/api/schemas"
)

const namespace = "consentscope"

// Metrics implements orchestrator.Recorder on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	analyses        *prometheus.CounterVec
	analysisSeconds *prometheus.HistogramVec
	consentArms     *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	cacheHits       prometheus.Counter
	inflight        prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpSeconds     *prometheus.HistogramVec
}

// New registers all collectors, including the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Number of finished analyses.",
		}, []string{"mode", "outcome"}),
		analysisSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one analysis.",
			Buckets:   []float64{2, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		}, []string{"mode"}),
		consentArms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_arm_outcomes_total",
			Help:      "Consent experiment arm outcomes.",
		}, []string{"arm", "outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_anomalies_total",
			Help:      "Extractors that failed closed.",
		}, []string{"extractor"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quick_cache_hits_total",
			Help:      "Quick analyses served from the result cache.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyses_in_flight",
			Help:      "Analyses currently running.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	m.registry.MustRegister(
		m.analyses,
		m.analysisSeconds,
		m.consentArms,
		m.anomalies,
		m.cacheHits,
		m.inflight,
		m.httpRequests,
		m.httpSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) AnalysisFinished(mode schemas.AnalysisMode, outcome string, d time.Duration) {
	m.analyses.WithLabelValues(string(mode), outcome).Inc()
	m.analysisSeconds.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (m *Metrics) ConsentArmFinished(arm, outcome string) {
	m.consentArms.WithLabelValues(arm, outcome).Inc()
}

func (m *Metrics) ExtractorAnomaly(extractor string) {
	m.anomalies.WithLabelValues(extractor).Inc()
}

// CacheHit counts a quick analysis served from cache.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// Track marks an analysis as running until the returned func is called.
func (m *Metrics) Track() func() {
	m.inflight.Inc()
	return m.inflight.Dec
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required for WebSocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request counts and latency per chi route pattern, so
// path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
