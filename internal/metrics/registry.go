package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
)

// Registry holds all Prometheus metrics for the forecaster.
// Every method is safe to call on a nil *Registry.
type Registry struct {
	gatherer prometheus.Gatherer

	// Request pipeline
	StepDuration *prometheus.HistogramVec
	Steps        *prometheus.CounterVec
	Requests     *prometheus.CounterVec

	// Artifact tiers
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	RemoteFetches *prometheus.CounterVec

	// Forecasting
	ProductOutcomes *prometheus.CounterVec
}

// New creates and registers the forecaster metrics with reg
func New(reg *prometheus.Registry) *Registry {
	r := &Registry{
		gatherer: reg,

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecaster_step_duration_seconds",
				Help:    "Duration of each request step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"step", "result"},
		),

		Steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_steps_total",
				Help: "Total number of request steps executed",
			},
			[]string{"step", "result"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_artifact_cache_hits_total",
				Help: "Artifact cache hits by tier",
			},
			[]string{"tier"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_artifact_cache_misses_total",
				Help: "Artifact cache misses by tier",
			},
			[]string{"tier"},
		),

		RemoteFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_remote_fetches_total",
				Help: "Remote artifact downloads by result",
			},
			[]string{"result"},
		),

		ProductOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecaster_product_outcomes_total",
				Help: "Per-product forecast outcomes (ok, skipped, failed)",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		r.StepDuration,
		r.Steps,
		r.Requests,
		r.CacheHits,
		r.CacheMisses,
		r.RemoteFetches,
		r.ProductOutcomes,
	)

	return r
}

// StepTimer tracks execution time for one request step
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: r,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
		st.metrics.Steps.WithLabelValues(st.step, result).Inc()
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Request step completed")
}

// RecordCacheHit records an artifact cache hit for tier
func (r *Registry) RecordCacheHit(tier string) {
	if r == nil {
		return
	}
	r.CacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records an artifact cache miss for tier
func (r *Registry) RecordCacheMiss(tier string) {
	if r == nil {
		return
	}
	r.CacheMisses.WithLabelValues(tier).Inc()
}

// RecordFetch records a remote download result
func (r *Registry) RecordFetch(result string) {
	if r == nil {
		return
	}
	r.RemoteFetches.WithLabelValues(result).Inc()
}

// RecordRequest records a served HTTP request
func (r *Registry) RecordRequest(route string, code string) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(route, code).Inc()
}

// ObserveOutcome implements forecast.Observer
func (r *Registry) ObserveOutcome(status forecast.OutcomeStatus) {
	if r == nil {
		return
	}
	r.ProductOutcomes.WithLabelValues(string(status)).Inc()
}

// Handler exposes the registry in Prometheus text format
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Tier and result labels
const (
	TierDisk   = "disk"
	TierRedis  = "redis"
	TierBundle = "bundle"

	FetchOK       = "ok"
	FetchNotFound = "not_found"
	FetchError    = "error"
)
