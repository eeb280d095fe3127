package handlers

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/draftea/order-system/shared/events"
	sharedinfra "github.com/draftea/order-system/shared/infrastructure"
	"github.com/draftea/order-system/shared/telemetry"
)

// OrderEventHandlers consumes payment gateway and warehouse events
type OrderEventHandlers struct {
	router *sharedinfra.EventRouter
	logger zerolog.Logger
}

// NewOrderEventHandlers routes payment.* and fulfillment.# to the order status use case
func NewOrderEventHandlers(processOrderEvents events.EventHandler, logger zerolog.Logger) *OrderEventHandlers {
	router := sharedinfra.NewEventRouter(logger).
		Route(events.PaymentTopicPattern, processOrderEvents).
		Route(events.FulfillmentTopicPattern, processOrderEvents)

	return &OrderEventHandlers{router: router, logger: logger}
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	ctx, span := telemetry.StartSpan(ctx, "consume "+event.Topic.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.id", event.ID.String()),
			attribute.String("event.topic", event.Topic.String()),
			attribute.String("event.aggregate_id", event.AggregateID.String()),
		),
	)
	defer span.End()

	ctx = h.logger.With().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic.String()).
		Logger().WithContext(ctx)

	err := h.router.Handle(ctx, event)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
