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

type CancelOrderCommand struct {
	OrderID string `json:"-"`
	Reason  string `json:"reason,omitempty"`
	Actor   string `json:"actor,omitempty"`
}

// CancelOrderUseCase terminalizes an order and undoes what it holds remotely:
// the payment (voided or refunded) and the stock (released or restocked).
type CancelOrderUseCase struct {
	repo         domain.OrderRepository
	sagaLog      saga.Log
	inventory    domain.InventoryService
	payments     domain.PaymentGateway
	stateMachine *domain.StateMachine
	publisher    events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

func NewCancelOrderUseCase(
	repo domain.OrderRepository,
	sagaLog saga.Log,
	inventory domain.InventoryService,
	payments domain.PaymentGateway,
	stateMachine *domain.StateMachine,
	publisher events.Publisher,
	logger zerolog.Logger,
) *CancelOrderUseCase {
	return &CancelOrderUseCase{
		repo:         repo,
		sagaLog:      sagaLog,
		inventory:    inventory,
		payments:     payments,
		stateMachine: stateMachine,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

func (uc *CancelOrderUseCase) Execute(ctx context.Context, cmd CancelOrderCommand) (*OrderResponse, error) {
	id, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := findSettledOrder(ctx, uc.repo, uc.sagaLog, id)
	if err != nil {
		return nil, err
	}
	if !uc.stateMachine.CanCancelOrder(order) {
		return nil, &domain.CancellationNotAllowedError{OrderID: order.ID, FinancialStatus: order.FinancialStatus}
	}

	req := cancellationRequest(order)
	if err := uc.stateMachine.ValidateTransition(order, req); err != nil {
		return nil, err
	}

	actor := cmd.Actor
	if actor == "" {
		actor = ActorSystem
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "cancelled on request"
	}
	now := uc.now()

	switch order.FinancialStatus {
	case domain.FinancialPaid, domain.FinancialPartiallyRefunded:
		if err := uc.refundRemaining(ctx, order, req, actor, reason, now); err != nil {
			return nil, err
		}
	default:
		if order.PaymentIntentID != "" {
			if err := uc.payments.CancelIntent(ctx, order.PaymentIntentID); err != nil {
				return nil, errors.Wrap(err, "failed to cancel payment intent")
			}
		}
		if err := order.Transition(uc.stateMachine, req, actor, reason, now); err != nil {
			return nil, err
		}
	}

	if order.FulfillmentStatus == domain.FulfillmentUnfulfilled && order.ReservationID != "" {
		if err := uc.inventory.Release(ctx, order.ReservationID); err != nil {
			return nil, errors.Wrap(err, "failed to release reservation")
		}
	}

	order.MarkCancelled(reason, actor, now)
	if err := uc.repo.Save(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to save order")
	}

	uc.logger.Info().
		Str("order_id", order.ID.String()).
		Str("financial_status", order.FinancialStatus.String()).
		Str("fulfillment_status", order.FulfillmentStatus.String()).
		Str("reason", reason).
		Msg("order cancelled")

	publishOrderEvents(ctx, uc.publisher, uc.logger, order)
	return toOrderResponse(order), nil
}

func (uc *CancelOrderUseCase) refundRemaining(
	ctx context.Context,
	order *domain.Order,
	req domain.TransitionRequest,
	actor, reason string,
	now time.Time,
) error {
	balance := order.RefundableBalance()
	if !balance.IsPositive() {
		return order.Transition(uc.stateMachine, req, actor, reason, now)
	}
	if order.PaymentIntentID == "" {
		return domain.NewValidationError("payment_intent_id", errors.New("paid order has no payment intent to refund"))
	}

	refund, _, err := order.PrepareRefund(balance, reason, now)
	if err != nil {
		return err
	}
	providerID, err := uc.payments.Refund(ctx, order.PaymentIntentID, balance, order.ID.String()+":cancel-refund")
	if err != nil {
		return errors.Wrap(err, "failed to refund payment")
	}
	refund.ProviderRefundID = providerID
	return order.RecordRefund(uc.stateMachine, refund, req, actor, now)
}

// cancellationRequest picks the terminal statuses a cancellation moves to
func cancellationRequest(order *domain.Order) domain.TransitionRequest {
	var req domain.TransitionRequest
	switch order.FinancialStatus {
	case domain.FinancialPaid, domain.FinancialPartiallyRefunded:
		req = domain.ToFinancial(domain.FinancialRefunded)
	default:
		req = domain.ToFinancial(domain.FinancialVoided)
	}
	switch order.FulfillmentStatus {
	case domain.FulfillmentPartiallyFulfilled, domain.FulfillmentFulfilled:
		restocked := domain.FulfillmentRestocked
		req.Fulfillment = &restocked
	}
	return req
}
