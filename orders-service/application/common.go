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

// Actors recorded in the status history when no caller identity is given
const (
	ActorSaga           = "order-saga"
	ActorSystem         = "system"
	ActorPaymentGateway = "payment-gateway"
	ActorWarehouse      = "warehouse"
)

// OrderResponse is the read model returned by every order use case
type OrderResponse struct {
	ID                  string                   `json:"id"`
	StoreID             string                   `json:"store_id"`
	CustomerID          string                   `json:"customer_id"`
	Currency            string                   `json:"currency"`
	FinancialStatus     domain.FinancialStatus   `json:"financial_status"`
	FulfillmentStatus   domain.FulfillmentStatus `json:"fulfillment_status"`
	Items               []domain.LineItem        `json:"items"`
	ShippingAddress     domain.Address           `json:"shipping_address"`
	Totals              domain.Totals            `json:"totals"`
	RefundableBalance   models.Money             `json:"refundable_balance"`
	ReservationID       string                   `json:"reservation_id,omitempty"`
	PaymentIntentID     string                   `json:"payment_intent_id,omitempty"`
	CancelReason        string                   `json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time               `json:"cancelled_at,omitempty"`
	NeedsReconciliation bool                     `json:"needs_reconciliation"`
	Version             int                      `json:"version"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

func toOrderResponse(order *domain.Order) *OrderResponse {
	return &OrderResponse{
		ID:                  order.ID.String(),
		StoreID:             order.StoreID,
		CustomerID:          order.CustomerID,
		Currency:            order.Currency,
		FinancialStatus:     order.FinancialStatus,
		FulfillmentStatus:   order.FulfillmentStatus,
		Items:               order.Items,
		ShippingAddress:     order.ShippingAddress,
		Totals:              order.Totals,
		RefundableBalance:   order.RefundableBalance(),
		ReservationID:       order.ReservationID,
		PaymentIntentID:     order.PaymentIntentID,
		CancelReason:        order.CancelReason,
		CancelledAt:         order.CancelledAt,
		NeedsReconciliation: order.NeedsReconciliation,
		Version:             order.Version.Value,
		CreatedAt:           order.CreatedAt,
		UpdatedAt:           order.UpdatedAt,
	}
}

// publishOrderEvents sends the events recorded on the aggregate. Publishing is
// fire-and-forget: the state change is already committed.
func publishOrderEvents(ctx context.Context, publisher events.Publisher, logger zerolog.Logger, order *domain.Order) {
	for _, evt := range order.Events() {
		publishEvent(ctx, publisher, logger, evt)
	}
	order.ClearEvents()
}

func publishEvent(ctx context.Context, publisher events.Publisher, logger zerolog.Logger, evt *events.Event) {
	if err := publisher.Publish(ctx, evt); err != nil {
		logger.Error().Err(err).
			Str("aggregate_id", evt.AggregateID.String()).
			Str("topic", evt.Topic.String()).
			Msg("failed to publish event")
	}
}

func findOrder(ctx context.Context, repo domain.OrderRepository, id models.ID) (*domain.Order, error) {
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
	}
	return order, nil
}

// findSettledOrder loads an order for an external write. Writes are refused while
// the order's creation saga has not finished; orders with no execution on record
// are treated as settled.
func findSettledOrder(ctx context.Context, repo domain.OrderRepository, log saga.Log, id models.ID) (*domain.Order, error) {
	order, err := findOrder(ctx, repo, id)
	if err != nil {
		return nil, err
	}

	execution, err := log.Get(ctx, id.String())
	if errors.Is(err, saga.ErrExecutionNotFound) {
		return order, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load order saga")
	}
	if !execution.Status.IsTerminal() {
		return nil, errors.Wrapf(domain.ErrOrderCreationInProgress, "order %s", id)
	}
	return order, nil
}

func parseOrderID(value string) (models.ID, error) {
	id, err := models.NewID(value)
	if err != nil {
		return "", domain.NewValidationError("order_id", err)
	}
	return id, nil
}
