package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	lifecycleOnce        sync.Once
	transitionsCounter   metric.Int64Counter
	escrowReleaseCounter metric.Int64Counter
	escrowReleasedKobo   metric.Int64Counter
)

func lifecycleInstruments() {
	meter := otel.Meter("order-lifecycle")
	transitionsCounter, _ = meter.Int64Counter("order_transitions_total",
		metric.WithDescription("Committed order status transitions"))
	escrowReleaseCounter, _ = meter.Int64Counter("escrow_releases_total",
		metric.WithDescription("Escrow releases, by destination"))
	escrowReleasedKobo, _ = meter.Int64Counter("escrow_released_kobo_total",
		metric.WithDescription("Total escrow amount released, in kobo"))
}

// RecordTransition counts one committed transition.
func RecordTransition(ctx context.Context, from, to string) {
	lifecycleOnce.Do(lifecycleInstruments)
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordEscrowRelease counts one funds release and its amount.
func RecordEscrowRelease(ctx context.Context, destination string, amount int64) {
	lifecycleOnce.Do(lifecycleInstruments)
	attrs := metric.WithAttributes(attribute.String("destination", destination))
	escrowReleaseCounter.Add(ctx, 1, attrs)
	escrowReleasedKobo.Add(ctx, amount, attrs)
}
