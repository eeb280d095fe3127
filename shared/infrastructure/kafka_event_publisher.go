package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/telemetry"
)

var _ events.Publisher = (*KafkaEventPublisher)(nil)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaHeaderCarrier lets the otel propagator read and write kafka headers
type KafkaHeaderCarrier []kafka.Header

func (c *KafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}

// KafkaEventPublisher writes events to one Kafka topic keyed by aggregate ID,
// so every event of an order lands on the same partition in order.
type KafkaEventPublisher struct {
	writer kafkaWriter
	logger zerolog.Logger
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafkaEventPublisher(writer kafkaWriter, logger zerolog.Logger) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		writer: writer,
		logger: logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(evts))
	for i, event := range evts {
		body, err := events.Encode(event)
		if err != nil {
			return errors.Wrap(err, "failed to encode event")
		}

		headers := KafkaHeaderCarrier{{Key: topicAttr, Value: []byte(event.Topic.String())}}
		otel.GetTextMapPropagator().Inject(ctx, &headers)

		messages[i] = kafka.Message{
			Key:     []byte(event.AggregateID.String()),
			Value:   body,
			Headers: headers,
			Time:    event.Timestamp,
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error().Err(err).Int("count", len(evts)).Msg("failed to write events to kafka")
		return errors.Wrap(err, "failed to write events to kafka")
	}

	for _, event := range evts {
		telemetry.RecordCounter(ctx, "events_published_total", "Events handed to the broker", 1,
			attribute.String("transport", "kafka"),
			attribute.String("topic", event.Topic.String()),
			attribute.Bool("success", true),
		)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
