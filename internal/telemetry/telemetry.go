// Package telemetry provides OpenTelemetry integration for driveshadow.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
// # Configuration
//
//	DS_OTEL_ENABLED=true   enable telemetry (default: off)
//	DS_OTEL_STDOUT=true    write metrics to stdout (dev mode)
package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/driveshadow/driveshadow"

var (
	meter metric.Meter

	itemsProcessed        metric.Int64Counter
	changesDetected       metric.Int64Counter
	notificationsAccepted metric.Int64Counter
	notificationsRejected metric.Int64Counter
	syncPasses            metric.Int64Counter

	shutdownFn func(context.Context) error
)

// Enabled reports whether telemetry is active (DS_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("DS_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When DS_OTEL_ENABLED is not
// "true" this installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return initInstruments()
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if os.Getenv("DS_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("stdout metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second))))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)
	shutdownFn = provider.Shutdown

	return initInstruments()
}

func initInstruments() error {
	meter = otel.GetMeterProvider().Meter(instrumentationScope)

	var err error
	if itemsProcessed, err = meter.Int64Counter("driveshadow.reconcile.items_processed"); err != nil {
		return err
	}
	if changesDetected, err = meter.Int64Counter("driveshadow.reconcile.changes_detected"); err != nil {
		return err
	}
	if notificationsAccepted, err = meter.Int64Counter("driveshadow.notify.accepted"); err != nil {
		return err
	}
	if notificationsRejected, err = meter.Int64Counter("driveshadow.notify.rejected"); err != nil {
		return err
	}
	if syncPasses, err = meter.Int64Counter("driveshadow.reconcile.passes"); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the meter provider.
func Shutdown(ctx context.Context) error {
	if shutdownFn == nil {
		return nil
	}
	return shutdownFn(ctx)
}

// CountItemsProcessed records items applied during a reconciliation pass.
func CountItemsProcessed(ctx context.Context, n int) {
	if itemsProcessed != nil {
		itemsProcessed.Add(ctx, int64(n))
	}
}

// CountChange records one detected change of the given kind.
func CountChange(ctx context.Context, kind string) {
	if changesDetected != nil {
		changesDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// CountNotification records an inbound notification outcome.
func CountNotification(ctx context.Context, accepted bool) {
	c := notificationsRejected
	if accepted {
		c = notificationsAccepted
	}
	if c != nil {
		c.Add(ctx, 1)
	}
}

// CountSyncPass records a completed reconciliation pass.
func CountSyncPass(ctx context.Context, ok bool) {
	if syncPasses != nil {
		syncPasses.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
	}
}
