package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"research-rag/internal/models"
)

const (
	buildOK         = "ok"
	buildSyncFailed = "sync_failed"
	buildFailed     = "failed"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	askDuration prometheus.Histogram
	builds      *prometheus.CounterVec
	chunks      prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_http_requests_total",
			Help: "HTTP requests by route template and status code.",
		}, []string{"route", "code"}),
		askDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_ask_duration_seconds",
			Help:    "Time spent answering /ask requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_index_builds_total",
			Help: "Index rebuilds by result.",
		}, []string{"result"}),
		chunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rag_index_chunks",
			Help: "Chunks in the most recently built index.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.askDuration,
		m.builds,
		m.chunks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBuild records the outcome of an upload-triggered rebuild. A build
// returned alongside an error was served locally but failed to sync.
func (m *Metrics) ObserveBuild(build *models.IndexBuild, err error) {
	switch {
	case build == nil:
		m.builds.WithLabelValues(buildFailed).Inc()
		return
	case err != nil:
		m.builds.WithLabelValues(buildSyncFailed).Inc()
	default:
		m.builds.WithLabelValues(buildOK).Inc()
	}
	m.chunks.Set(float64(build.Chunks))
}

// instrument counts requests per matched route template.
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
