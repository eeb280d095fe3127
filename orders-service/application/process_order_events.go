package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

const maxConflictRetries = 3

// ProcessOrderEventsUseCase applies payment and fulfillment events from other
// services to orders. Returning an error leaves the message for redelivery.
type ProcessOrderEventsUseCase struct {
	repo         domain.OrderRepository
	sagaLog      saga.Log
	stateMachine *domain.StateMachine
	publisher    events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

func NewProcessOrderEventsUseCase(
	repo domain.OrderRepository,
	sagaLog saga.Log,
	stateMachine *domain.StateMachine,
	publisher events.Publisher,
	logger zerolog.Logger,
) *ProcessOrderEventsUseCase {
	return &ProcessOrderEventsUseCase{
		repo:         repo,
		sagaLog:      sagaLog,
		stateMachine: stateMachine,
		publisher:    publisher,
		logger:       logger.With().Str("component", "order_events").Logger(),
		now:          time.Now,
	}
}

func (uc *ProcessOrderEventsUseCase) Handle(ctx context.Context, event *events.Event) error {
	logger := uc.logger.With().Str("event_id", event.ID.String()).Str("topic", event.Topic.String()).Logger()

	switch event.Topic {
	case events.PaymentCapturedEvent, events.PaymentVoidedEvent:
		var data domain.PaymentEventData
		if err := event.UnmarshalPayload(&data); err != nil {
			logger.Error().Err(err).Msg("dropping malformed payment event")
			return nil
		}
		target := domain.FinancialPaid
		if event.Topic == events.PaymentVoidedEvent {
			target = domain.FinancialVoided
		}
		return uc.apply(ctx, logger, data.OrderID, domain.ToFinancial(target), ActorPaymentGateway, event.Topic.String())

	case events.FulfillmentUpdatedEvent:
		var data domain.FulfillmentEventData
		if err := event.UnmarshalPayload(&data); err != nil {
			logger.Error().Err(err).Msg("dropping malformed fulfillment event")
			return nil
		}
		status, err := domain.ParseFulfillmentStatus(string(data.Status))
		if err != nil {
			logger.Error().Err(err).Msg("dropping fulfillment event with unknown status")
			return nil
		}
		return uc.apply(ctx, logger, data.OrderID, domain.ToFulfillment(status), ActorWarehouse, event.Topic.String())

	default:
		logger.Debug().Msg("ignoring event")
		return nil
	}
}

func (uc *ProcessOrderEventsUseCase) apply(
	ctx context.Context,
	logger zerolog.Logger,
	orderID string,
	req domain.TransitionRequest,
	actor, reason string,
) error {
	id, err := models.NewID(orderID)
	if err != nil {
		logger.Error().Err(err).Msg("dropping event without a valid order id")
		return nil
	}
	logger = logger.With().Str("order_id", id.String()).Logger()

	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		order, err := findSettledOrder(ctx, uc.repo, uc.sagaLog, id)
		if errors.Is(err, domain.ErrOrderCreationInProgress) {
			logger.Info().Msg("order is still being created, leaving event for redelivery")
			return err
		}
		if err != nil {
			return err
		}
		if alreadyApplied(order, req) {
			logger.Debug().Msg("duplicate delivery, order already in target status")
			return nil
		}

		now := uc.now()
		var invalid *domain.InvalidTransitionError
		err = order.Transition(uc.stateMachine, req, actor, reason, now)
		if errors.As(err, &invalid) {
			logger.Warn().Err(err).Msg("event conflicts with order status, flagging for reconciliation")
			order.FlagForReconciliation(err.Error(), now)
		} else if err != nil {
			return err
		}

		err = uc.repo.Save(ctx, order)
		var conflict *domain.ConcurrentModificationError
		if errors.As(err, &conflict) {
			logger.Debug().Int("attempt", attempt).Msg("order changed while applying event, retrying")
			continue
		}
		if err != nil {
			return errors.Wrap(err, "failed to save order")
		}

		publishOrderEvents(ctx, uc.publisher, uc.logger, order)
		return nil
	}
	return &domain.ConcurrentModificationError{OrderID: id}
}

func alreadyApplied(order *domain.Order, req domain.TransitionRequest) bool {
	if req.Financial != nil && order.FinancialStatus != *req.Financial {
		return false
	}
	if req.Fulfillment != nil && order.FulfillmentStatus != *req.Fulfillment {
		return false
	}
	return true
}
