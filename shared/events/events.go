package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/draftea/order-system/shared/models"
)

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Topic represents an event topic. Patterns support "*" for one segment and
// a trailing "#" for any remainder, e.g. "payment.*" or "order.#".
type Topic string

func NewTopic(topic string) (Topic, error) {
	if strings.TrimSpace(topic) == "" {
		return "", ErrInvalidTopic
	}
	return Topic(topic), nil
}

func (t Topic) String() string {
	return string(t)
}

func (t Topic) Matches(pattern Topic) bool {
	patternParts := strings.Split(pattern.String(), ".")
	topicParts := strings.Split(t.String(), ".")
	return matchPattern(patternParts, topicParts)
}

func matchPattern(patternParts, topicParts []string) bool {
	if len(patternParts) == 1 && patternParts[0] == "#" {
		return true
	}
	if len(patternParts) == 0 || len(topicParts) == 0 {
		return len(patternParts) == len(topicParts)
	}
	if patternParts[0] == "*" || patternParts[0] == topicParts[0] {
		return matchPattern(patternParts[1:], topicParts[1:])
	}
	return false
}

// Metadata represents event metadata
type Metadata map[string]string

func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func (m Metadata) Clone() Metadata {
	clone := make(Metadata, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// Event represents a domain event
type Event struct {
	ID            models.ID `json:"id"`
	AggregateID   models.ID `json:"aggregate_id"`
	Topic         Topic     `json:"topic"`
	Version       string    `json:"version"`
	Data          any       `json:"data"`
	Metadata      Metadata  `json:"metadata"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID models.ID `json:"correlation_id,omitempty"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

// EventHandler handles domain events
type EventHandler interface {
	Handle(ctx context.Context, event *Event) error
}

// NewEvent creates a new domain event
func NewEvent(aggregateID models.ID, topic string, data any) *Event {
	return &Event{
		ID:          models.GenerateUUID(),
		AggregateID: aggregateID,
		Topic:       Topic(topic),
		Version:     "1.0",
		Data:        data,
		Metadata:    make(Metadata),
		Timestamp:   time.Now().UTC(),
	}
}

// WithCorrelationID sets correlation ID
func (e *Event) WithCorrelationID(correlationID models.ID) *Event {
	e.CorrelationID = correlationID
	return e
}

// WithMetadata adds metadata
func (e *Event) WithMetadata(key string, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata[key] = value
	return e
}

// MarshalPayload marshals the event payload
func (e *Event) MarshalPayload() (json.RawMessage, error) {
	switch data := e.Data.(type) {
	case json.RawMessage:
		return data, nil
	case []byte:
		return data, nil
	case nil:
		return nil, ErrInvalidPayload
	}
	return json.Marshal(e.Data)
}

// UnmarshalPayload decodes the payload into v
func (e *Event) UnmarshalPayload(v any) error {
	raw, err := e.MarshalPayload()
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(raw, v), "unmarshal payload")
}

// Envelope is the wire representation shared by every transport
type Envelope struct {
	ID            string            `json:"id"`
	AggregateID   string            `json:"aggregate_id"`
	Topic         string            `json:"topic"`
	Version       string            `json:"version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Encode serializes the event into its wire envelope
func Encode(e *Event) ([]byte, error) {
	payload, err := e.MarshalPayload()
	if err != nil {
		return nil, errors.Wrapf(err, "event %s", e.ID)
	}
	return json.Marshal(Envelope{
		ID:            e.ID.String(),
		AggregateID:   e.AggregateID.String(),
		Topic:         e.Topic.String(),
		Version:       e.Version,
		Payload:       payload,
		Metadata:      e.Metadata,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID.String(),
	})
}

// Decode parses a wire envelope. The payload is kept raw until a handler asks for it.
func Decode(body []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	if env.Topic == "" || env.ID == "" {
		return nil, errors.Wrap(ErrInvalidEnvelope, "missing id or topic")
	}
	metadata := Metadata(env.Metadata)
	if metadata == nil {
		metadata = make(Metadata)
	}
	return &Event{
		ID:            models.ID(env.ID),
		AggregateID:   models.ID(env.AggregateID),
		Topic:         Topic(env.Topic),
		Version:       env.Version,
		Data:          env.Payload,
		Metadata:      metadata,
		Timestamp:     env.Timestamp,
		CorrelationID: models.ID(env.CorrelationID),
	}, nil
}

// Event Types Constants
const (
	// Order events
	OrderCreatedEvent                = "order.created"
	OrderConfirmedEvent              = "order.confirmed"
	OrderCreationFailedEvent         = "order.creation.failed"
	OrderStatusChangedEvent          = "order.status.changed"
	OrderCancelledEvent              = "order.cancelled"
	OrderRefundCreatedEvent          = "order.refund.created"
	OrderReconciliationRequiredEvent = "order.reconciliation.required"

	// Inbound events from the payment gateway and warehouse
	PaymentCapturedEvent    = "payment.captured"
	PaymentVoidedEvent      = "payment.voided"
	FulfillmentUpdatedEvent = "fulfillment.updated"
	PaymentTopicPattern     = "payment.*"
	FulfillmentTopicPattern = "fulfillment.#"
)
