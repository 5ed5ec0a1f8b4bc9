package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A zero Telemetry
// (or a nil pointer) is valid and records nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *prometheus.Registry
	startedAt      time.Time

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Storage and asset lifecycle
	storageOperationsTotal   metric.Int64Counter
	storageOperationDuration metric.Float64Histogram
	storageBytes             metric.Int64Counter
	assetOperationsTotal     metric.Int64Counter
	assetOperationDuration   metric.Float64Histogram
	orphanedAssets           metric.Int64Gauge

	// Metadata store
	dbOperationsTotal   metric.Int64Counter
	dbOperationDuration metric.Float64Histogram

	// Token cache
	cacheLookupsTotal     metric.Int64Counter
	cacheExpirationsTotal metric.Int64Counter

	// System health
	systemErrors metric.Int64Counter
	systemUptime metric.Float64ObservableGauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	OTLPInterval   time.Duration
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		interval := cfg.OTLPInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}

		readers = append(readers, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(interval)),
		))
	}

	meterProvider := sdkmetric.NewMeterProvider(readers...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter: meterProvider.Meter(cfg.ServiceName,
			metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		registry:  registry,
		startedAt: time.Now(),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := runtime.Start(
		runtime.WithMeterProvider(meterProvider),
		runtime.WithMinimumReadMemStatsInterval(15*time.Second),
	); err != nil {
		return nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordStorageOperation records a blob backend call.
func (t *Telemetry) RecordStorageOperation(backend, operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.storageOperationsTotal != nil {
		t.storageOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.storageOperationDuration != nil {
		t.storageOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordStorageBytes records the payload size moved through a backend.
func (t *Telemetry) RecordStorageBytes(backend, direction string, n int64) {
	if t != nil && t.storageBytes != nil {
		t.storageBytes.Add(context.Background(), n,
			metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("direction", direction),
			),
		)
	}
}

// RecordAssetOperation records a lifecycle operation (create, update, delete).
func (t *Telemetry) RecordAssetOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.assetOperationsTotal != nil {
		t.assetOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.assetOperationDuration != nil {
		t.assetOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordOrphanedAssets records the number of skeleton assets found by the audit.
func (t *Telemetry) RecordOrphanedAssets(n int) {
	if t != nil && t.orphanedAssets != nil {
		t.orphanedAssets.Record(context.Background(), int64(n))
	}
}

// RecordDBOperation records database operation metrics.
func (t *Telemetry) RecordDBOperation(operation, status string, duration time.Duration) {
	if t == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.dbOperationsTotal != nil {
		t.dbOperationsTotal.Add(context.Background(), 1, attrs)
	}

	if t.dbOperationDuration != nil {
		t.dbOperationDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordCacheLookup records a token cache hit or miss.
func (t *Telemetry) RecordCacheLookup(cache string, hit bool) {
	if t == nil || t.cacheLookupsTotal == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	t.cacheLookupsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("cache", cache),
			attribute.String("result", result),
		),
	)
}

// RecordCacheExpiration records an entry evicted by its timeout.
func (t *Telemetry) RecordCacheExpiration(cache string) {
	if t != nil && t.cacheExpirationsTotal != nil {
		t.cacheExpirationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("cache", cache)),
		)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return t.meterProvider.Shutdown(ctx)
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	if err := t.initializeStorageMetrics(); err != nil {
		return err
	}

	if err := t.initializeCacheMetrics(); err != nil {
		return err
	}

	return t.initializeSystemMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeStorageMetrics() error {
	var err error

	t.storageOperationsTotal, err = t.meter.Int64Counter(
		"storage_operations_total",
		metric.WithDescription("Total number of blob backend operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage_operations_total counter: %w", err)
	}

	t.storageOperationDuration, err = t.meter.Float64Histogram(
		"storage_operation_duration_seconds",
		metric.WithDescription("Blob backend operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage_operation_duration histogram: %w", err)
	}

	t.storageBytes, err = t.meter.Int64Counter(
		"storage_bytes_total",
		metric.WithDescription("Bytes written to or read from blob backends"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create storage_bytes_total counter: %w", err)
	}

	t.assetOperationsTotal, err = t.meter.Int64Counter(
		"asset_operations_total",
		metric.WithDescription("Total number of asset lifecycle operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset_operations_total counter: %w", err)
	}

	t.assetOperationDuration, err = t.meter.Float64Histogram(
		"asset_operation_duration_seconds",
		metric.WithDescription("Asset lifecycle operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create asset_operation_duration histogram: %w", err)
	}

	t.orphanedAssets, err = t.meter.Int64Gauge(
		"orphaned_assets",
		metric.WithDescription("Skeleton assets older than the grace period"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create orphaned_assets gauge: %w", err)
	}

	t.dbOperationsTotal, err = t.meter.Int64Counter(
		"db_operations_total",
		metric.WithDescription("Total number of database operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operations_total counter: %w", err)
	}

	t.dbOperationDuration, err = t.meter.Float64Histogram(
		"db_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create db_operation_duration histogram: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeCacheMetrics() error {
	var err error

	t.cacheLookupsTotal, err = t.meter.Int64Counter(
		"cache_lookups_total",
		metric.WithDescription("Total number of cache lookups by result"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_lookups_total counter: %w", err)
	}

	t.cacheExpirationsTotal, err = t.meter.Int64Counter(
		"cache_expirations_total",
		metric.WithDescription("Total number of cache entries removed by timeout"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache_expirations_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeSystemMetrics() error {
	var err error

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	t.systemUptime, err = t.meter.Float64ObservableGauge(
		"system_uptime_seconds",
		metric.WithDescription("System uptime in seconds"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(t.startedAt).Seconds())

			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_uptime gauge: %w", err)
	}

	return nil
}
