package export

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

const namespace = "poolspy"

// MetricsConfig configures delivery of run metrics.
type MetricsConfig struct {
	// Pushgateway is the URL of a Prometheus Pushgateway. Metrics are only
	// pushed when set.
	Pushgateway string `yaml:"pushgateway"`

	// Job is the Pushgateway job name. Defaults to "poolspy".
	Job string `yaml:"job"`
}

// Metrics holds the Prometheus metrics of one report run.
type Metrics struct {
	log      logrus.FieldLogger
	cfg      MetricsConfig
	registry *prometheus.Registry

	// Pipeline
	EntitiesProcessed prometheus.Counter
	EntitiesFailed    *prometheus.CounterVec // reason
	SamplesFetched    prometheus.Counter
	IntervalsActive   prometheus.Counter
	RunDuration       prometheus.Gauge
	LastSuccess       prometheus.Gauge

	// Results
	HoursPerDay      *prometheus.GaugeVec // entity
	WeightedRate     *prometheus.GaugeVec // entity
	WeightedEarnings *prometheus.GaugeVec // entity

	// Pool API
	APIRequestsTotal   *prometheus.CounterVec   // endpoint, status
	APIRequestDuration *prometheus.HistogramVec // endpoint

	// Outputs
	ExportErrors *prometheus.CounterVec // sink
	NotifyErrors prometheus.Counter
}

// NewMetrics creates the run metrics on a private registry.
func NewMetrics(log logrus.FieldLogger, cfg MetricsConfig) *Metrics {
	if cfg.Job == "" {
		cfg.Job = namespace
	}

	reg := prometheus.NewRegistry()

	m := &Metrics{
		log:      log.WithField("component", "metrics"),
		cfg:      cfg,
		registry: reg,

		EntitiesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_processed_total",
			Help:      "Total entities aggregated into the report.",
		}),
		EntitiesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entities_failed_total",
				Help:      "Total entities skipped by failure reason.",
			},
			[]string{"reason"},
		),
		SamplesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_fetched_total",
			Help:      "Total telemetry samples fetched from the pool API.",
		}),
		IntervalsActive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intervals_active_total",
			Help:      "Total active intervals reconstructed.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last report run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed report run.",
		}),
		HoursPerDay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hours_per_day",
				Help:      "Average active hours per day by entity.",
			},
			[]string{"entity"},
		),
		WeightedRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "weighted_rate",
				Help:      "Duration-weighted daily-equivalent hash rate by entity.",
			},
			[]string{"entity"},
		),
		WeightedEarnings: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "weighted_earnings",
				Help:      "Duration-weighted daily-equivalent earnings by entity.",
			},
			[]string{"entity"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total pool API requests by endpoint and status.",
			},
			[]string{"endpoint", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "Pool API request duration by endpoint.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}, // 50ms-10s
			},
			[]string{"endpoint"},
		),
		ExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_errors_total",
				Help:      "Total report export errors by sink.",
			},
			[]string{"sink"},
		),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Total failed report notifications.",
		}),
	}

	reg.MustRegister(
		m.EntitiesProcessed,
		m.EntitiesFailed,
		m.SamplesFetched,
		m.IntervalsActive,
		m.RunDuration,
		m.LastSuccess,
	)

	reg.MustRegister(
		m.HoursPerDay,
		m.WeightedRate,
		m.WeightedEarnings,
	)

	reg.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.ExportErrors,
		m.NotifyErrors,
	)

	return m
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records the run duration and completion time.
func (m *Metrics) ObserveRun(started, finished time.Time) {
	m.RunDuration.Set(finished.Sub(started).Seconds())
	m.LastSuccess.Set(float64(finished.Unix()))
}

// Push sends the metrics to the configured Pushgateway. It is a no-op when
// no Pushgateway is configured.
func (m *Metrics) Push(ctx context.Context) error {
	if m.cfg.Pushgateway == "" {
		return nil
	}

	err := push.New(m.cfg.Pushgateway, m.cfg.Job).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", m.cfg.Pushgateway, err)
	}

	m.log.WithField("pushgateway", m.cfg.Pushgateway).Debug("Pushed run metrics")

	return nil
}
