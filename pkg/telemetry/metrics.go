package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for pageflow. A Metrics created with
// metrics disabled accepts every Record call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Synchronization metrics
	polls           *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	retryRounds     *prometheus.HistogramVec
	barrierWaits    *prometheus.CounterVec
	barrierDuration *prometheus.HistogramVec

	// Login metrics
	logins        *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	otcAttempts   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Total number of element waits by condition and result",
			},
			[]string{"condition", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_duration_seconds",
				Help:      "Time spent waiting for element conditions",
				Buckets:   buckets,
			},
			[]string{"condition"},
		),
		retryRounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retry_rounds",
				Help:      "Action rounds used by retry-with-verification loops",
				Buckets:   []float64{1, 2, 3, 5, 8},
			},
			[]string{"result"},
		),
		barrierWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "barrier_waits_total",
				Help:      "Total number of transaction barrier waits by result",
			},
			[]string{"result"},
		),
		barrierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "barrier_wait_duration_seconds",
				Help:      "Time spent waiting for the busy indicator to clear",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_outcomes_total",
				Help:      "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		loginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "login_duration_seconds",
				Help:      "Duration of login attempts",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Total number of login state machine transitions",
			},
			[]string{"from", "to"},
		),
		otcAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "otc_attempts_total",
				Help:      "Total number of one-time code submissions by result",
			},
			[]string{"result"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class", "code"},
		),
	}

	registry.MustRegister(
		m.polls,
		m.pollDuration,
		m.retryRounds,
		m.barrierWaits,
		m.barrierDuration,
		m.logins,
		m.loginDuration,
		m.transitions,
		m.otcAttempts,
		m.errorsByClass,
	)

	return m, nil
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordPoll records an element wait.
func (m *Metrics) RecordPoll(condition string, satisfied bool, duration time.Duration) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(condition, result(satisfied, "satisfied", "timeout")).Inc()
	m.pollDuration.WithLabelValues(condition).Observe(duration.Seconds())
}

// RecordRetry records a finished retry-with-verification loop.
func (m *Metrics) RecordRetry(_ string, rounds int, succeeded bool) {
	if m == nil || m.retryRounds == nil {
		return
	}
	m.retryRounds.WithLabelValues(result(succeeded, "verified", "exhausted")).Observe(float64(rounds))
}

// RecordBarrier records a transaction barrier wait.
func (m *Metrics) RecordBarrier(idle bool, duration time.Duration) {
	if m == nil || m.barrierWaits == nil {
		return
	}
	r := result(idle, "idle", "timeout")
	m.barrierWaits.WithLabelValues(r).Inc()
	m.barrierDuration.WithLabelValues(r).Observe(duration.Seconds())
}

// RecordTransition records a login state machine edge.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordLogin records a finished login.
func (m *Metrics) RecordLogin(outcome string, duration time.Duration) {
	if m == nil || m.logins == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
	m.loginDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordOneTimeCode records a one-time code submission.
func (m *Metrics) RecordOneTimeCode(accepted bool) {
	if m == nil || m.otcAttempts == nil {
		return
	}
	m.otcAttempts.WithLabelValues(result(accepted, "accepted", "rejected")).Inc()
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. The returned
// server should be shut down by the caller.
func (m *Metrics) StartMetricsServer() *http.Server {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return server
}
