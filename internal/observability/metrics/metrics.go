package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled           bool
	PrometheusEnabled bool
	ExporterEndpoint  string
	ExporterProtocol  string
	ServiceName       string
}

// Metrics exposes payment-level instruments to both OTLP and Prometheus.
type Metrics struct {
	chargesCreated      metric.Int64Counter
	notifications       metric.Int64Counter
	transitions         metric.Int64Counter
	providerDuration    metric.Float64Histogram
	jobRuns             metric.Int64Counter
	promCharges         *prometheus.CounterVec
	promNotifications   *prometheus.CounterVec
	promTransitions     *prometheus.CounterVec
	promProviderLatency *prometheus.HistogramVec
	promJobRuns         *prometheus.CounterVec
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New builds the instruments. Prometheus collectors are registered on the default registerer when enabled.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	return NewWithRegisterer(cfg, provider, prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the Prometheus collectors on reg instead of the default registerer.
func NewWithRegisterer(cfg Config, provider metric.MeterProvider, reg prometheus.Registerer) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "paygate"
	}
	meter := provider.Meter(name)

	chargesCreated, err := meter.Int64Counter("paygate_charges_created_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("paygate_notifications_total")
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("paygate_charge_transitions_total")
	if err != nil {
		return nil, err
	}
	providerDuration, err := meter.Float64Histogram("paygate_provider_request_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	jobRuns, err := meter.Int64Counter("paygate_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		chargesCreated:   chargesCreated,
		notifications:    notifications,
		transitions:      transitions,
		providerDuration: providerDuration,
		jobRuns:          jobRuns,
	}
	if !cfg.PrometheusEnabled || reg == nil {
		return m, nil
	}

	m.promCharges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_charges_created_total",
		Help: "Charge creation attempts by provider, method and resulting status.",
	}, []string{"provider", "method", "status"})
	m.promNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_notifications_total",
		Help: "Provider notifications by outcome.",
	}, []string{"provider", "outcome"})
	m.promTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_charge_transitions_total",
		Help: "Charge status transitions.",
	}, []string{"from", "to"})
	m.promProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_provider_request_duration_seconds",
		Help:    "Latency of outbound provider calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation", "outcome"})
	m.promJobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_scheduler_job_runs_total",
		Help: "Background job runs by outcome.",
	}, []string{"job", "outcome"})

	for _, c := range []prometheus.Collector{m.promCharges, m.promNotifications, m.promTransitions, m.promProviderLatency, m.promJobRuns} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordChargeCreated(ctx context.Context, provider, method, status string) {
	if m == nil {
		return
	}
	m.chargesCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("method", method),
		attribute.String("status", status),
	)...))
	if m.promCharges != nil {
		m.promCharges.WithLabelValues(provider, method, status).Inc()
	}
}

func (m *Metrics) RecordNotification(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)...))
	if m.promNotifications != nil {
		m.promNotifications.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)...))
	if m.promTransitions != nil {
		m.promTransitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveProviderCall records how long an outbound provider call took.
func (m *Metrics) ObserveProviderCall(ctx context.Context, provider, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(FilterAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)...))
	if m.promProviderLatency != nil {
		m.promProviderLatency.WithLabelValues(provider, operation, outcome).Observe(elapsed.Seconds())
	}
}

// RecordJobRun counts a background job run. outcome is ok, error or timeout.
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string) {
	if m == nil {
		return
	}
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	)...))
	if m.promJobRuns != nil {
		m.promJobRuns.WithLabelValues(job, outcome).Inc()
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":  {},
	"method":    {},
	"status":    {},
	"outcome":   {},
	"operation": {},
	"from":      {},
	"to":        {},
	"route":     {},
	"job":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
