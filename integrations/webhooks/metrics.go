package webhooks

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "dework/notify"

var (
	instrumentsOnce sync.Once
	sharedMetrics   *deliveryMetrics
)

type deliveryMetrics struct {
	attempts  metric.Int64Counter
	abandoned metric.Int64Counter
}

// instruments resolves against the global meter provider, which
// observability/otel installs when metrics export is enabled.
func instruments() *deliveryMetrics {
	instrumentsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(meterName)
		attempts, err := meter.Int64Counter("dework.notify.attempts",
			metric.WithDescription("Webhook POST attempts by event type and outcome."))
		if err != nil {
			attempts, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("dework.notify.attempts")
		}
		abandoned, err := meter.Int64Counter("dework.notify.abandoned",
			metric.WithDescription("Deliveries dropped after exhausting retries."))
		if err != nil {
			abandoned, _ = noop.NewMeterProvider().Meter(meterName).Int64Counter("dework.notify.abandoned")
		}
		sharedMetrics = &deliveryMetrics{attempts: attempts, abandoned: abandoned}
	})
	return sharedMetrics
}

func (m *deliveryMetrics) recordAttempt(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.attempts.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome)))
}

func (m *deliveryMetrics) recordAbandoned(event string) {
	if m == nil {
		return
	}
	m.abandoned.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", event)))
}
