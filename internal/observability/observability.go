package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/config"
	"github.com/tinylink/go-server/internal/tracing"
)

// Observability holds the tracer and meter providers and the /metrics handler
type Observability struct {
	tracerShutdown func(ctx context.Context) error
	meterShutdown  func(ctx context.Context) error
	MetricsHandler http.Handler
	initialized    ObservabilityStatus
}

// ObservabilityStatus tracks which components are initialized
type ObservabilityStatus struct {
	TracingEnabled    bool
	OTLPMetricsPushed bool
}

// Shutdown flushes and stops the exporters
func (o *Observability) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerShutdown != nil {
		if err := o.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if o.meterShutdown != nil {
		if err := o.meterShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}

// GetStatus returns the current observability status
func (o *Observability) GetStatus() ObservabilityStatus {
	return o.initialized
}

// SetupObservability installs the global meter provider, exposed for
// scraping next to the promauto collectors. Traces and OTLP metric pushes
// are only enabled when cfg.OTLPEndpoint is set.
func SetupObservability(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Observability, error) {
	obs := &Observability{}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var httpClient *http.Client
	if cfg.OTLPEndpoint != "" {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: tracing.NewLoggingTransport(nil, logger),
		}

		tracerShutdown, err := initTracing(ctx, res, cfg.OTLPEndpoint, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		obs.tracerShutdown = tracerShutdown
		obs.initialized.TracingEnabled = true
	}

	meterShutdown, handler, err := initMetrics(ctx, res, cfg.OTLPEndpoint, httpClient)
	if err != nil {
		if obs.tracerShutdown != nil {
			_ = obs.tracerShutdown(ctx)
		}
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	obs.meterShutdown = meterShutdown
	obs.MetricsHandler = handler
	obs.initialized.OTLPMetricsPushed = cfg.OTLPEndpoint != ""

	logger.Info("Observability initialized",
		zap.Bool("tracing", obs.initialized.TracingEnabled),
		zap.Bool("otlp_metrics", obs.initialized.OTLPMetricsPushed),
		zap.String("otlp_endpoint", cfg.OTLPEndpoint),
	)

	return obs, nil
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	}
	if taskARN := os.Getenv("TASK_ARN"); taskARN != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.AWSECSTaskARN(taskARN)))
	}

	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func initTracing(ctx context.Context, res *resource.Resource, endpoint string, client *http.Client) (func(context.Context) error, error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(stripProtocol(endpoint)),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithHTTPClient(client),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithMaxExportBatchSize(512),
		sdktrace.WithMaxQueueSize(2048),
		sdktrace.WithBatchTimeout(5*time.Second),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return tracerProvider.Shutdown, nil
}

// initMetrics always exposes otel instruments (pgx pool stats among them)
// through a Prometheus registry; the OTLP push reader is added only when an
// endpoint is configured.
func initMetrics(ctx context.Context, res *resource.Resource, endpoint string, client *http.Client) (func(context.Context) error, http.Handler, error) {
	registry := prometheus.NewRegistry()

	prometheusExporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	opts := []metric.Option{
		metric.WithResource(res),
		metric.WithReader(prometheusExporter),
	}

	if endpoint != "" {
		otlpExporter, err := otlpmetrichttp.New(
			ctx,
			otlpmetrichttp.WithEndpoint(stripProtocol(endpoint)),
			otlpmetrichttp.WithInsecure(),
			otlpmetrichttp.WithHTTPClient(client),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(metric.NewPeriodicReader(otlpExporter, metric.WithInterval(30*time.Second))))
	}

	meterProvider := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(meterProvider)

	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, registry}
	handler := promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})

	return meterProvider.Shutdown, handler, nil
}

// stripProtocol reduces an endpoint to host:port. The OTLP exporters append
// /v1/traces and /v1/metrics themselves.
func stripProtocol(endpoint string) string {
	endpoint = strings.TrimSpace(strings.Trim(endpoint, `"`))

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if idx := strings.Index(endpoint, "/"); idx != -1 {
			return endpoint[:idx]
		}
		return endpoint
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	}
	return parsedURL.Host
}
