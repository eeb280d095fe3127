package handlers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
)

type recordingHandler struct {
	topics []events.Topic
}

func (h *recordingHandler) Handle(_ context.Context, event *events.Event) error {
	h.topics = append(h.topics, event.Topic)
	return nil
}

func TestOrderEventHandlers_Routing(t *testing.T) {
	process := &recordingHandler{}
	handler := NewOrderEventHandlers(process, zerolog.Nop())

	for _, topic := range []string{
		events.PaymentCapturedEvent,
		events.PaymentVoidedEvent,
		events.FulfillmentUpdatedEvent,
		events.OrderCreatedEvent,
		"inventory.adjusted",
	} {
		assert.NoError(t, handler.Handle(context.Background(), events.NewEvent(models.GenerateUUID(), topic, map[string]string{})))
	}

	assert.Equal(t, []events.Topic{
		events.PaymentCapturedEvent,
		events.PaymentVoidedEvent,
		events.FulfillmentUpdatedEvent,
	}, process.topics)
}
