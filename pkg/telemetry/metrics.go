package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for the praxon engine. A disabled
// instance is a safe no-op so components record unconditionally.
type Metrics struct {
	config MetricsConfig

	// Decision metrics
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	candidatesRanked prometheus.Histogram

	// Evaluation metrics
	evaluationsTotal *prometheus.CounterVec
	vetoesBySource   *prometheus.CounterVec
	aggregateScore   prometheus.Histogram

	// Execution metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stepsExecuted *prometheus.CounterVec
	stepDuration  prometheus.Histogram

	// Knowledge store metrics
	templatesTotal     prometheus.Gauge
	templatesLearned   prometheus.Counter
	templatesRecalled  prometheus.Counter
	templatesTransfers *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of decision requests by outcome",
			},
			[]string{"outcome"},
		),
		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_duration_seconds",
				Help:      "Duration of decision requests in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		candidatesRanked: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "decision_candidates",
				Help:      "Number of candidate templates considered per decision",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of template evaluations by verdict",
			},
			[]string{"verdict"},
		),
		vetoesBySource: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vetoes_total",
				Help:      "Total number of vetoes by evaluator",
			},
			[]string{"source"},
		),
		aggregateScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_score",
				Help:      "Distribution of aggregate evaluation scores",
				Buckets:   []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of plan executions by status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of plan executions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of plan steps executed by status",
			},
			[]string{"status"},
		),
		stepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of plan step execution in seconds",
				Buckets:   buckets,
			},
		),

		templatesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "templates",
				Help:      "Current number of templates in the knowledge store",
			},
		),
		templatesLearned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "templates_learned_total",
				Help:      "Total number of newly learned templates",
			},
		),
		templatesRecalled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "templates_recalled_total",
				Help:      "Total number of recognitions of known templates",
			},
		),
		templatesTransfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "template_transfers_total",
				Help:      "Total number of templates transferred between stores",
			},
			[]string{"kind"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.decisionDuration,
		m.candidatesRanked,
		m.evaluationsTotal,
		m.vetoesBySource,
		m.aggregateScore,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.templatesTotal,
		m.templatesLearned,
		m.templatesRecalled,
		m.templatesTransfers,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordDecision records a decision request with its outcome and duration.
func (m *Metrics) RecordDecision(outcome string, candidates int, duration time.Duration) {
	if m.decisionsTotal == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.decisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.candidatesRanked.Observe(float64(candidates))
}

// RecordEvaluation records one template evaluation.
func (m *Metrics) RecordEvaluation(verdict string, aggregate float64, vetoSource string) {
	if m.evaluationsTotal == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(verdict).Inc()
	m.aggregateScore.Observe(aggregate)
	if vetoSource != "" {
		m.vetoesBySource.WithLabelValues(vetoSource).Inc()
	}
}

// RecordRunCompleted records a completed plan execution.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecuted records a single executed plan step.
func (m *Metrics) RecordStepExecuted(status string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(status).Inc()
	m.stepDuration.Observe(duration.Seconds())
}

// SetTemplateCount sets the current number of stored templates.
func (m *Metrics) SetTemplateCount(count float64) {
	if m.templatesTotal == nil {
		return
	}
	m.templatesTotal.Set(count)
}

// RecordLearned increments the learned-template counter.
func (m *Metrics) RecordLearned() {
	if m.templatesLearned == nil {
		return
	}
	m.templatesLearned.Inc()
}

// RecordRecalled increments the recognized-template counter.
func (m *Metrics) RecordRecalled() {
	if m.templatesRecalled == nil {
		return
	}
	m.templatesRecalled.Inc()
}

// RecordTransfer records a cross-store template transfer by kind
// (gap_fill or upgrade).
func (m *Metrics) RecordTransfer(kind string) {
	if m.templatesTransfers == nil {
		return
	}
	m.templatesTransfers.WithLabelValues(kind).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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

// StartMetricsServer starts an HTTP server exposing the metrics endpoint.
func (m *Metrics) StartMetricsServer(logger zerolog.Logger) error {
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
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return nil
}
