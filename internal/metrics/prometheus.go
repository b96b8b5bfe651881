package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	unitDuration  *prom.HistogramVec
	unitResults   *prom.CounterVec
	buildDuration prom.Histogram
	buildOutcome  *prom.CounterVec
	inFlight      prom.Gauge
	cacheEntries  prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.unitDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "kbuildgo",
			Name:      "unit_duration_seconds",
			Help:      "Time spent processing a unit, including compiler invocation",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"})
		pr.unitResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kbuildgo",
			Name:      "unit_results_total",
			Help:      "Unit outcomes by kind and status",
		}, []string{"kind", "status"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "kbuildgo",
			Name:      "build_duration_seconds",
			Help:      "Total build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kbuildgo",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.inFlight = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kbuildgo",
			Name:      "units_in_flight",
			Help:      "Units currently being processed by workers",
		})
		pr.cacheEntries = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kbuildgo",
			Name:      "fingerprint_cache_entries",
			Help:      "Entries in the fingerprint cache after the last build",
		})
		reg.MustRegister(pr.unitDuration, pr.unitResults, pr.buildDuration, pr.buildOutcome, pr.inFlight, pr.cacheEntries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveUnitDuration(kind string, d time.Duration) {
	if p == nil || p.unitDuration == nil {
		return
	}
	p.unitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUnitResult(kind, status string) {
	if p == nil || p.unitResults == nil {
		return
	}
	p.unitResults.WithLabelValues(kind, status).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetUnitsInFlight(n int) {
	if p == nil || p.inFlight == nil {
		return
	}
	p.inFlight.Set(float64(n))
}

func (p *PrometheusRecorder) SetCacheEntries(n int) {
	if p == nil || p.cacheEntries == nil {
		return
	}
	p.cacheEntries.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
