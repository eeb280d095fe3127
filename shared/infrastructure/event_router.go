package infrastructure

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/draftea/order-system/shared/events"
)

var _ events.EventHandler = (*EventRouter)(nil)

// EventHandlerFunc adapts a function to events.EventHandler
type EventHandlerFunc func(ctx context.Context, event *events.Event) error

func (f EventHandlerFunc) Handle(ctx context.Context, event *events.Event) error {
	return f(ctx, event)
}

type route struct {
	pattern events.Topic
	handler events.EventHandler
}

// EventRouter dispatches an event to the first route whose pattern matches its topic.
// Events without a route are acknowledged and dropped.
type EventRouter struct {
	mu     sync.RWMutex
	routes []route
	logger zerolog.Logger
}

func NewEventRouter(logger zerolog.Logger) *EventRouter {
	return &EventRouter{logger: logger}
}

func (r *EventRouter) Route(pattern events.Topic, handler events.EventHandler) *EventRouter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{pattern: pattern, handler: handler})
	return r
}

func (r *EventRouter) Handle(ctx context.Context, event *events.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if event.Topic.Matches(rt.pattern) {
			return rt.handler.Handle(ctx, event)
		}
	}

	r.logger.Debug().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic.String()).
		Msg("no route for event")
	return nil
}
