package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

type CreateRefundCommand struct {
	OrderID string `json:"-"`
	// Amount in minor units of the order currency
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Reason   string `json:"reason"`
	Actor    string `json:"actor,omitempty"`
	// IdempotencyKey is forwarded to the payment provider
	IdempotencyKey string `json:"-"`
}

type RefundResponse struct {
	ID                string                 `json:"id"`
	OrderID           string                 `json:"order_id"`
	Amount            models.Money           `json:"amount"`
	Reason            string                 `json:"reason,omitempty"`
	ProviderRefundID  string                 `json:"provider_refund_id,omitempty"`
	FinancialStatus   domain.FinancialStatus `json:"financial_status"`
	RefundableBalance models.Money           `json:"refundable_balance"`
	CreatedAt         time.Time              `json:"created_at"`
}

type CreateRefundUseCase struct {
	repo         domain.OrderRepository
	sagaLog      saga.Log
	payments     domain.PaymentGateway
	stateMachine *domain.StateMachine
	publisher    events.Publisher
	logger       zerolog.Logger
	now          func() time.Time
}

func NewCreateRefundUseCase(
	repo domain.OrderRepository,
	sagaLog saga.Log,
	payments domain.PaymentGateway,
	stateMachine *domain.StateMachine,
	publisher events.Publisher,
	logger zerolog.Logger,
) *CreateRefundUseCase {
	return &CreateRefundUseCase{
		repo:         repo,
		sagaLog:      sagaLog,
		payments:     payments,
		stateMachine: stateMachine,
		publisher:    publisher,
		logger:       logger,
		now:          time.Now,
	}
}

// Execute issues the refund at the provider and books it on the order. The
// provider call carries a key derived from the request, so a retried request
// never moves money twice.
func (uc *CreateRefundUseCase) Execute(ctx context.Context, cmd CreateRefundCommand) (*RefundResponse, error) {
	id, err := parseOrderID(cmd.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := findSettledOrder(ctx, uc.repo, uc.sagaLog, id)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = order.Currency
	}
	amount := models.NewMoney(cmd.Amount, currency)
	refund, _, err := uc.prepare(order, amount, cmd.Reason, uc.now())
	if err != nil {
		return nil, err
	}

	key := cmd.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("v%d:%d:%s", order.PersistedVersion(), amount.Amount, amount.Currency)
	}
	refund.ID = models.DeriveID("refunds/"+order.ID.String(), key)

	providerID, err := uc.payments.Refund(ctx, order.PaymentIntentID, refund.Amount, order.ID.String()+":refund:"+key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to refund payment")
	}
	refund.ProviderRefundID = providerID

	actor := cmd.Actor
	if actor == "" {
		actor = ActorSystem
	}
	order, refund, err = uc.record(ctx, order, refund, actor)
	if err != nil {
		return nil, err
	}

	uc.logger.Info().
		Str("order_id", order.ID.String()).
		Str("refund_id", refund.ID.String()).
		Int64("amount", refund.Amount.Amount).
		Str("financial_status", order.FinancialStatus.String()).
		Msg("refund created")

	publishOrderEvents(ctx, uc.publisher, uc.logger, order)
	return &RefundResponse{
		ID:                refund.ID.String(),
		OrderID:           order.ID.String(),
		Amount:            refund.Amount,
		Reason:            refund.Reason,
		ProviderRefundID:  refund.ProviderRefundID,
		FinancialStatus:   order.FinancialStatus,
		RefundableBalance: order.RefundableBalance(),
		CreatedAt:         refund.CreatedAt,
	}, nil
}

// prepare checks the refund against the order as read and returns the financial
// transition it implies
func (uc *CreateRefundUseCase) prepare(order *domain.Order, amount models.Money, reason string, now time.Time) (*domain.Refund, domain.TransitionRequest, error) {
	// PARTIALLY_REFUNDED keeps its own explicit edge to REFUNDED
	if !uc.stateMachine.CanRefundOrder(order) && order.FinancialStatus != domain.FinancialPartiallyRefunded {
		return nil, domain.TransitionRequest{}, &domain.RefundNotAllowedError{OrderID: order.ID, FinancialStatus: order.FinancialStatus}
	}
	if order.PaymentIntentID == "" {
		return nil, domain.TransitionRequest{}, domain.NewValidationError("payment_intent_id", errors.New("order has no payment to refund"))
	}

	refund, next, err := order.PrepareRefund(amount, reason, now)
	if err != nil {
		return nil, domain.TransitionRequest{}, err
	}

	var req domain.TransitionRequest
	if next != order.FinancialStatus {
		req = domain.ToFinancial(next)
	}
	if err := uc.stateMachine.ValidateTransition(order, req); err != nil {
		return nil, domain.TransitionRequest{}, err
	}
	return refund, req, nil
}

// record books a refund the provider already issued. Losing a write race
// re-reads the order and books it again on top of the newer state; a refund
// that cannot be booked leaves the order flagged for reconciliation.
func (uc *CreateRefundUseCase) record(ctx context.Context, order *domain.Order, issued *domain.Refund, actor string) (*domain.Order, *domain.Refund, error) {
	for attempt := 1; ; attempt++ {
		now := uc.now()
		refund, req, err := uc.prepare(order, issued.Amount, issued.Reason, now)
		if err != nil {
			return nil, nil, uc.unrecorded(ctx, order.ID, issued, err)
		}
		refund.ID = issued.ID
		refund.ProviderRefundID = issued.ProviderRefundID
		if err := order.RecordRefund(uc.stateMachine, refund, req, actor, now); err != nil {
			return nil, nil, uc.unrecorded(ctx, order.ID, issued, err)
		}

		err = uc.repo.Save(ctx, order)
		if err == nil {
			return order, refund, nil
		}
		if errors.Is(err, domain.ErrRefundRecorded) {
			// a replay of a request that was already booked
			order, err = findOrder(ctx, uc.repo, order.ID)
			if err != nil {
				return nil, nil, err
			}
			return order, refund, nil
		}

		var conflict *domain.ConcurrentModificationError
		if !errors.As(err, &conflict) || attempt >= maxConflictRetries {
			return nil, nil, uc.unrecorded(ctx, order.ID, issued, err)
		}
		uc.logger.Debug().
			Str("order_id", order.ID.String()).
			Int("attempt", attempt).
			Msg("order changed while booking refund, retrying")

		order, err = findOrder(ctx, uc.repo, order.ID)
		if err != nil {
			return nil, nil, uc.unrecorded(ctx, conflict.OrderID, issued, err)
		}
	}
}

// unrecorded flags the order after the provider moved money the order does not
// show. Flagging is best effort; the returned error carries the cause either way.
func (uc *CreateRefundUseCase) unrecorded(ctx context.Context, id models.ID, issued *domain.Refund, cause error) error {
	logger := uc.logger.With().
		Str("order_id", id.String()).
		Str("refund_id", issued.ID.String()).
		Str("provider_refund_id", issued.ProviderRefundID).
		Logger()
	logger.Error().Err(cause).Msg("refund issued by provider but not recorded on order")

	reason := fmt.Sprintf("refund %s (%s) issued but not recorded: %v", issued.ID, issued.ProviderRefundID, cause)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		order, err := findOrder(ctx, uc.repo, id)
		if err != nil {
			logger.Error().Err(err).Msg("failed to flag order for reconciliation")
			break
		}
		order.FlagForReconciliation(reason, uc.now())
		err = uc.repo.Save(ctx, order)
		var conflict *domain.ConcurrentModificationError
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to flag order for reconciliation")
			break
		}
		publishOrderEvents(ctx, uc.publisher, uc.logger, order)
		break
	}
	return errors.Wrapf(cause, "refund %s issued but not recorded", issued.ProviderRefundID)
}
