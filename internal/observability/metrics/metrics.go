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

// Metrics exposes billing domain instruments.
type Metrics struct {
	webhookEvents metric.Int64Counter
	charges       metric.Int64Counter
	chargeAmount  metric.Int64Counter
	refunds       metric.Int64Counter
	notifications metric.Int64Counter
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

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "dojopay"
	}
	meter := provider.Meter(name)

	webhookEvents, err := meter.Int64Counter("dojopay_webhook_events_total")
	if err != nil {
		return nil, err
	}
	charges, err := meter.Int64Counter("dojopay_charges_total")
	if err != nil {
		return nil, err
	}
	chargeAmount, err := meter.Int64Counter("dojopay_charge_amount_cents_total", metric.WithUnit("{cent}"))
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("dojopay_refunds_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("dojopay_notifications_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents: webhookEvents,
		charges:       charges,
		chargeAmount:  chargeAmount,
		refunds:       refunds,
		notifications: notifications,
	}, nil
}

// RecordWebhookEvent counts processor webhook deliveries by type and result.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCharge counts charge attempts by outcome. Amount is only added for
// succeeded charges.
func (m *Metrics) RecordCharge(ctx context.Context, source, outcome string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.charges.Add(ctx, 1, metric.WithAttributes(attrs...))
	if outcome == "succeeded" && amount > 0 {
		m.chargeAmount.Add(ctx, amount, metric.WithAttributes(attrs...))
	}
}

// RecordRefund counts refunds by whether they covered the full payment.
func (m *Metrics) RecordRefund(ctx context.Context, full bool) {
	if m == nil {
		return
	}
	kind := "partial"
	if full {
		kind = "full"
	}
	m.refunds.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("kind", kind))...))
}

// RecordNotification counts dispatched notifications by type and status.
func (m *Metrics) RecordNotification(ctx context.Context, notificationType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("notification_type", strings.TrimSpace(notificationType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.notifications.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// Payer, payment and subscription ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":          {},
	"event_type":        {},
	"result":            {},
	"source":            {},
	"outcome":           {},
	"kind":              {},
	"notification_type": {},
	"status":            {},
	"route":             {},
	"method":            {},
	"status_code":       {},
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
