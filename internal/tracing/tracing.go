// Package tracing owns the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ModuleName is the lifecycle name of the tracing provider.
const ModuleName = "Tracing"

// Provider wraps the OpenTelemetry TracerProvider as a lifecycle module.
// It boots first so every later module load is traced.
type Provider struct {
	cfg            config.TracingConfig
	serviceName    string
	serviceVersion string

	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger
}

// New creates the provider. Nothing is exported until Initialize.
func New(cfg config.TracingConfig, serviceName, serviceVersion string) *Provider {
	return &Provider{
		cfg:            cfg,
		serviceName:    serviceName,
		serviceVersion: serviceVersion,
		logger:         logging.GetLogger("tracing"),
	}
}

// Name implements lifecycle.Module
func (p *Provider) Name() string {
	return ModuleName
}

// Priority implements lifecycle.Module
func (p *Provider) Priority() lifecycle.BootPriority {
	return lifecycle.Critical
}

// Initialize builds the OTLP exporter and installs the global provider.
func (p *Provider) Initialize(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info("Tracing disabled")
		return nil
	}

	if p.cfg.Endpoint == "" {
		return fmt.Errorf("tracing enabled but endpoint not configured")
	}

	otlpOptions, err := p.exporterOptions()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx, otlpOptions...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName(p.serviceName),
			semconv.ServiceVersion(p.serviceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(p.tracerProvider)

	p.logger.Info("Tracing initialized with endpoint: %s", p.cfg.Endpoint)
	return nil
}

func (p *Provider) exporterOptions() ([]otlptracegrpc.Option, error) {
	var dialOptions []grpc.DialOption
	var otlpOptions []otlptracegrpc.Option

	switch {
	case p.cfg.TLSInsecure:
		tlsConfig := &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // opt-in via tracing.tls_insecure
			MinVersion:         tls.VersionTLS12,
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		p.logger.Info("TLS enabled for tracing with certificate verification disabled (insecure mode)")

	case p.cfg.TLSCAPath != "":
		caCert, err := os.ReadFile(p.cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate to pool")
		}

		tlsConfig := &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		p.logger.Info("TLS enabled for tracing with CA from: %s", p.cfg.TLSCAPath)

	default:
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
		otlpOptions = append(otlpOptions, otlptracegrpc.WithInsecure())
		p.logger.Debug("TLS disabled for tracing")
	}

	return append(otlpOptions,
		otlptracegrpc.WithEndpoint(p.cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOptions...),
	), nil
}

// Stop flushes pending spans.
func (p *Provider) Stop(ctx context.Context) error {
	tp := p.tracerProvider
	if tp == nil {
		return nil
	}
	p.tracerProvider = nil

	p.logger.Info("Shutting down tracing provider")
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// Tracer returns a named tracer from the global provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// IsEnabled reports whether spans are exported
func (p *Provider) IsEnabled() bool {
	return p.tracerProvider != nil
}
