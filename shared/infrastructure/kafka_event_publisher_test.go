package infrastructure

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
)

type fakeKafkaWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaEventPublisher_Publish(t *testing.T) {
	writer := &fakeKafkaWriter{}
	publisher := NewKafkaEventPublisher(writer, zerolog.Nop())
	orderID := models.GenerateUUID()

	require.NoError(t, publisher.Publish(context.Background(),
		events.NewEvent(orderID, events.OrderCreatedEvent, map[string]string{"order_id": orderID.String()}),
		events.NewEvent(orderID, events.OrderConfirmedEvent, map[string]string{"order_id": orderID.String()}),
	))

	require.Len(t, writer.messages, 2)
	for _, msg := range writer.messages {
		assert.Equal(t, orderID.String(), string(msg.Key))
	}

	headers := KafkaHeaderCarrier(writer.messages[1].Headers)
	assert.Equal(t, events.OrderConfirmedEvent, headers.Get(topicAttr))

	decoded, err := events.Decode(writer.messages[1].Value)
	require.NoError(t, err)
	assert.Equal(t, events.Topic(events.OrderConfirmedEvent), decoded.Topic)

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestKafkaEventPublisher_WriteFailure(t *testing.T) {
	writer := &fakeKafkaWriter{err: errors.New("broker unavailable")}
	publisher := NewKafkaEventPublisher(writer, zerolog.Nop())

	err := publisher.Publish(context.Background(), orderEvents(1)...)
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestKafkaHeaderCarrier(t *testing.T) {
	carrier := KafkaHeaderCarrier{}
	carrier.Set("traceparent", "a")
	carrier.Set("traceparent", "b")
	carrier.Set("tracestate", "c")

	assert.Equal(t, "b", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, carrier.Keys())
	assert.Empty(t, carrier.Get("missing"))
}
