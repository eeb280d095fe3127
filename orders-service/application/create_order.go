package application

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

type CreateOrderItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	// UnitPrice in minor units of the order currency
	UnitPrice int64 `json:"unit_price"`
}

// CreateOrderCommand represents the command to place an order
type CreateOrderCommand struct {
	StoreID         string            `json:"store_id"`
	CustomerID      string            `json:"customer_id"`
	Currency        string            `json:"currency"`
	Items           []CreateOrderItem `json:"items"`
	ShippingAddress domain.Address    `json:"shipping_address"`
	// IdempotencyKey makes retries of the same request return the same order
	IdempotencyKey string `json:"-"`
}

// CreateOrderUseCase validates the request and runs the order creation saga
type CreateOrderUseCase struct {
	saga   *OrderSaga
	log    saga.Log
	repo   domain.OrderRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewCreateOrderUseCase(orderSaga *OrderSaga, log saga.Log, repo domain.OrderRepository, logger zerolog.Logger) *CreateOrderUseCase {
	return &CreateOrderUseCase{
		saga:   orderSaga,
		log:    log,
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Execute returns the confirmed order, or *domain.OrderCreationFailedError when
// the saga rolled back.
func (uc *CreateOrderUseCase) Execute(ctx context.Context, cmd CreateOrderCommand) (*OrderResponse, error) {
	if err := validateCreateOrderCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	id := models.GenerateUUID()
	if cmd.IdempotencyKey != "" {
		id = models.DeriveID("orders/"+strings.TrimSpace(cmd.StoreID), cmd.IdempotencyKey)

		order, err := uc.replay(ctx, id)
		if err != nil || order != nil {
			return order, err
		}
	}

	items := make([]domain.LineItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		items = append(items, domain.LineItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: models.NewMoney(item.UnitPrice, strings.ToUpper(strings.TrimSpace(cmd.Currency))),
		})
	}

	draft, err := domain.NewOrder(id, cmd.StoreID, cmd.CustomerID, cmd.Currency, items, cmd.ShippingAddress, uc.now())
	if err != nil {
		return nil, errors.Wrap(err, "invalid order")
	}

	uc.logger.Info().
		Str("order_id", id.String()).
		Str("store_id", draft.StoreID).
		Int("items", len(items)).
		Msg("creating order")

	order, err := uc.saga.Run(ctx, draft)
	if errors.Is(err, saga.ErrExecutionExists) {
		// lost a race with a retry carrying the same key
		return uc.replay(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return toOrderResponse(order), nil
}

// replay answers a repeated request from the saga log. It returns nil, nil when
// no execution exists for the id.
func (uc *CreateOrderUseCase) replay(ctx context.Context, id models.ID) (*OrderResponse, error) {
	execution, err := uc.log.Get(ctx, id.String())
	if errors.Is(err, saga.ErrExecutionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load saga execution")
	}

	switch execution.Status {
	case saga.ExecutionCompleted:
		order, err := uc.repo.FindByID(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to find order")
		}
		if order == nil {
			return nil, errors.Wrapf(domain.ErrOrderNotFound, "order %s", id)
		}
		return toOrderResponse(order), nil
	case saga.ExecutionAborted:
		return nil, &domain.OrderCreationFailedError{
			OrderID: id,
			Step:    execution.FailedStep,
			Code:    execution.FailureCode,
			Cause:   errors.New(execution.FailureReason),
		}
	case saga.ExecutionCompensationFailed:
		return nil, &saga.CompensationFailure{
			ExecutionID: execution.ID,
			FailedStep:  execution.FailedStep,
			Cause:       errors.New(execution.FailureReason),
		}
	default:
		return nil, errors.Wrapf(domain.ErrOrderCreationInProgress, "order %s", id)
	}
}

func validateCreateOrderCommand(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return domain.NewValidationError("store_id", errors.New("is required"))
	}
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return domain.NewValidationError("customer_id", errors.New("is required"))
	}
	if len(strings.TrimSpace(cmd.Currency)) != 3 {
		return domain.NewValidationError("currency", errors.Errorf("invalid currency %q", cmd.Currency))
	}
	if len(cmd.Items) == 0 {
		return domain.NewValidationError("items", domain.ErrNoLineItems)
	}
	for i, item := range cmd.Items {
		if item.Quantity <= 0 {
			return domain.NewValidationError("items", errors.Wrapf(domain.ErrInvalidQuantity, "item %d", i))
		}
		if item.UnitPrice < 0 {
			return domain.NewValidationError("items", errors.Errorf("item %d: unit price cannot be negative", i))
		}
	}
	addr := cmd.ShippingAddress
	if addr.Line1 == "" || addr.City == "" || addr.Country == "" {
		return domain.NewValidationError("shipping_address", errors.New("line1, city and country are required"))
	}
	return nil
}
