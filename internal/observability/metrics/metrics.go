package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

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
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger instruments.
type Metrics struct {
	tariffChanges     metric.Int64Counter
	activationChanges metric.Int64Counter
	rejections        metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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

// New configures the ledger metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "cooptariff"
	}
	meter := provider.Meter(name)

	tariffChanges, err := meter.Int64Counter("cooptariff_tariff_changes_total",
		metric.WithDescription("Tariff rows written by ledger and operation."))
	if err != nil {
		return nil, err
	}
	activationChanges, err := meter.Int64Counter("cooptariff_activation_changes_total",
		metric.WithDescription("Service and assignment activation flips by source."))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("cooptariff_rejections_total",
		metric.WithDescription("Ledger operations refused with a business error."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tariffChanges:     tariffChanges,
		activationChanges: activationChanges,
		rejections:        rejections,
	}, nil
}

// RecordTariffChange counts a committed tariff write.
func (m *Metrics) RecordTariffChange(ctx context.Context, ledger, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("ledger", strings.TrimSpace(ledger)),
		attribute.String("operation", strings.TrimSpace(operation)),
	)
	m.tariffChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActivationChange counts an active flag flip. reason is "toggle" or "sweep".
func (m *Metrics) RecordActivationChange(ctx context.Context, ledger, reason string, active bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("ledger", strings.TrimSpace(ledger)),
		attribute.String("reason", strings.TrimSpace(reason)),
		attribute.Bool("active", active),
	)
	m.activationChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRejection counts a refused operation by its error code.
func (m *Metrics) RecordRejection(ctx context.Context, operation, code string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("error_code", strings.TrimSpace(code)),
	)
	m.rejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
	"ledger":      {},
	"operation":   {},
	"reason":      {},
	"active":      {},
	"error_code":  {},
	"status_code": {},
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
