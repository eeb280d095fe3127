package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/saga"
)

// UpdateOrderStatusCommand requests a change on either axis, or both
type UpdateOrderStatusCommand struct {
	OrderID           string  `json:"-"`
	FinancialStatus   *string `json:"financial_status,omitempty"`
	FulfillmentStatus *string `json:"fulfillment_status,omitempty"`
	Actor             string  `json:"actor,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	// ExpectedVersion, when set, must match the stored version
	ExpectedVersion *int `json:"expected_version,omitempty"`
}

type UpdateOrderStatusUseCase struct {
	repo         domain.OrderRepository
	sagaLog      saga.Log
	stateMachine *domain.StateMachine
	publisher    events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

func NewUpdateOrderStatusUseCase(
	repo domain.OrderRepository,
	sagaLog saga.Log,
	stateMachine *domain.StateMachine,
	publisher events.Publisher,
	logger zerolog.Logger,
) *UpdateOrderStatusUseCase {
	return &UpdateOrderStatusUseCase{
		repo:         repo,
		sagaLog:      sagaLog,
		stateMachine: stateMachine,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

func (uc *UpdateOrderStatusUseCase) Execute(ctx context.Context, cmd UpdateOrderStatusCommand) (*OrderResponse, error) {
	id, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return nil, err
	}
	req, err := parseTransitionRequest(cmd.FinancialStatus, cmd.FulfillmentStatus)
	if err != nil {
		return nil, err
	}

	order, err := findSettledOrder(ctx, uc.repo, uc.sagaLog, id)
	if err != nil {
		return nil, err
	}
	if cmd.ExpectedVersion != nil && *cmd.ExpectedVersion != order.Version.Value {
		return nil, &domain.ConcurrentModificationError{OrderID: id, ExpectedVersion: *cmd.ExpectedVersion}
	}

	// nothing requested: report the current state
	if req.IsEmpty() {
		return toOrderResponse(order), nil
	}

	actor := cmd.Actor
	if actor == "" {
		actor = ActorSystem
	}
	if err := order.Transition(uc.stateMachine, req, actor, cmd.Reason, uc.now()); err != nil {
		return nil, err
	}
	if err := uc.repo.Save(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to save order")
	}

	uc.logger.Info().
		Str("order_id", id.String()).
		Str("financial_status", order.FinancialStatus.String()).
		Str("fulfillment_status", order.FulfillmentStatus.String()).
		Str("actor", actor).
		Msg("order status updated")

	publishOrderEvents(ctx, uc.publisher, uc.logger, order)
	return toOrderResponse(order), nil
}

func parseTransitionRequest(financial, fulfillment *string) (domain.TransitionRequest, error) {
	var req domain.TransitionRequest
	if financial != nil {
		status, err := domain.ParseFinancialStatus(*financial)
		if err != nil {
			return req, err
		}
		req.Financial = &status
	}
	if fulfillment != nil {
		status, err := domain.ParseFulfillmentStatus(*fulfillment)
		if err != nil {
			return req, err
		}
		req.Fulfillment = &status
	}
	return req, nil
}
