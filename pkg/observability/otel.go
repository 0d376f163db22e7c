// Package observability sets up the OTLP export pipeline: logs through the
// otelslog bridge, traces, and metrics, all over HTTP. When disabled, the
// no-op providers are installed and logging falls back to stdout JSON.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	exporterTimeout = 10 * time.Second
	batchTimeout    = 5 * time.Second
	metricInterval  = 15 * time.Second
)

// Config controls the export pipeline.
type Config struct {
	// Enabled turns OTLP export on. When false all providers are no-ops.
	Enabled bool
	// ServiceName identifies this process in the backend.
	ServiceName string
	// ServiceVersion is stamped on the resource; defaults to "dev".
	ServiceVersion string
}

// Providers bundles the three initialized providers so the caller can flush
// them together on shutdown.
type Providers struct {
	// Logger is the process-wide structured logger. Callers should also
	// slog.SetDefault it so library code picks it up.
	Logger *slog.Logger

	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
	logs   *sdklog.LoggerProvider
}

// Init builds the providers, installs them as the otel globals, and sets up
// W3C trace context propagation. Exporter endpoints and auth come from the
// standard OTEL_EXPORTER_OTLP_* environment variables.
func Init(ctx context.Context, cfg Config) (*Providers, error) {
	if !cfg.Enabled {
		p := &Providers{
			Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
			tracer: sdktrace.NewTracerProvider(),
			meter:  sdkmetric.NewMeterProvider(),
			logs:   sdklog.NewLoggerProvider(),
		}
		otel.SetTracerProvider(p.tracer)
		otel.SetMeterProvider(p.meter)
		return p, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	headers := parseOTLPHeaders()

	tracer, err := newTracerProvider(res, headers)
	if err != nil {
		return nil, err
	}
	meter, err := newMeterProvider(res, headers)
	if err != nil {
		return nil, err
	}
	logs, logger, err := newLoggerProvider(res, headers, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tracer)
	otel.SetMeterProvider(meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Providers{Logger: logger, tracer: tracer, meter: meter, logs: logs}, nil
}

// Shutdown flushes and stops all providers, collecting every error.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
	}
	if err := p.meter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
	}
	if err := p.logs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("logger provider shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func newTracerProvider(res *resource.Resource, headers map[string]string) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(exporterTimeout)}
	if headers != nil {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	// context.Background so exporter setup is not tied to the request that
	// triggered initialization.
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
	), nil
}

func newMeterProvider(res *resource.Resource, headers map[string]string) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithTimeout(exporterTimeout)}
	if headers != nil {
		opts = append(opts, otlpmetrichttp.WithHeaders(headers))
	}
	exporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(metricInterval),
		)),
	), nil
}

func newLoggerProvider(res *resource.Resource, headers map[string]string, serviceName string) (*sdklog.LoggerProvider, *slog.Logger, error) {
	opts := []otlploghttp.Option{otlploghttp.WithTimeout(exporterTimeout)}
	if headers != nil {
		opts = append(opts, otlploghttp.WithHeaders(headers))
	}
	exporter, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(batchTimeout),
		)),
		sdklog.WithResource(res),
	)
	logger := otelslog.NewLogger(serviceName, otelslog.WithLoggerProvider(provider))
	return provider, logger, nil
}

// newResource merges the SDK defaults with the service identity. Partial
// resource and schema URL conflicts are non-fatal; the merged resource is
// still usable.
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	version := cfg.ServiceVersion
	if version == "" {
		version = "dev"
	}

	// WithFromEnv reads OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME.
	serviceRes, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
		resource.WithSchemaURL(semconv.SchemaURL),
	)
	if err != nil {
		return nil, fmt.Errorf("create service resource: %w", err)
	}

	res, err := resource.Merge(resource.Default(), serviceRes)
	if err != nil {
		if errors.Is(err, resource.ErrPartialResource) || errors.Is(err, resource.ErrSchemaURLConflict) {
			return res, nil
		}
		return nil, fmt.Errorf("merge resources: %w", err)
	}
	return res, nil
}

// parseOTLPHeaders reads OTEL_EXPORTER_OTLP_HEADERS and URL-decodes the
// values. Some backends hand out headers pre-encoded (Basic%20token) and
// the SDK does not always decode them.
func parseOTLPHeaders() map[string]string {
	raw := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	if raw == "" {
		return nil
	}

	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		value, err := url.QueryUnescape(kv[1])
		if err != nil {
			value = kv[1]
		}
		headers[strings.TrimSpace(kv[0])] = value
	}
	return headers
}
