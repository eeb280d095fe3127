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

const SagaCreateOrder = "create_order"

// Steps of the order creation saga, in execution order
const (
	StepCreateOrderRecord   = "CreateOrderRecord"
	StepReserveInventory    = "ReserveInventory"
	StepCalculateShipping   = "CalculateShipping"
	StepCalculateTax        = "CalculateTax"
	StepCreatePaymentIntent = "CreatePaymentIntent"
	StepConfirmOrder        = "ConfirmOrder"
)

const creationFailedReason = "order creation failed"

// ErrSagaFinished is returned by Resume when the execution already reached a terminal state
var ErrSagaFinished = errors.New("saga already finished")

// OrderSagaDependencies groups what the order creation saga talks to
type OrderSagaDependencies struct {
	Repository   domain.OrderRepository
	Inventory    domain.InventoryService
	Shipping     domain.ShippingService
	Tax          domain.TaxService
	Payments     domain.PaymentGateway
	StateMachine *domain.StateMachine
	Log          saga.Log
	Locker       saga.Locker
	Publisher    events.Publisher
	Logger       zerolog.Logger
	Options      []saga.Option
}

// OrderSaga brings a draft order to AUTHORIZED, or back to VOIDED when any step fails
type OrderSaga struct {
	repository   domain.OrderRepository
	inventory    domain.InventoryService
	shipping     domain.ShippingService
	tax          domain.TaxService
	payments     domain.PaymentGateway
	stateMachine *domain.StateMachine
	log          saga.Log
	locker       saga.Locker
	publisher    events.Publisher
	orchestrator *saga.Orchestrator[*domain.Order]
	logger       zerolog.Logger
	now          func() time.Time
}

func NewOrderSaga(deps OrderSagaDependencies) *OrderSaga {
	opts := append([]saga.Option{saga.WithFailureCode(domain.ReasonCode)}, deps.Options...)
	return &OrderSaga{
		repository:   deps.Repository,
		inventory:    deps.Inventory,
		shipping:     deps.Shipping,
		tax:          deps.Tax,
		payments:     deps.Payments,
		stateMachine: deps.StateMachine,
		log:          deps.Log,
		locker:       deps.Locker,
		publisher:    deps.Publisher,
		orchestrator: saga.NewOrchestrator[*domain.Order](deps.Log, deps.Logger, opts...),
		logger:       deps.Logger.With().Str("component", "order_saga").Logger(),
		now:          time.Now,
	}
}

func (s *OrderSaga) Definition() saga.Definition[*domain.Order] {
	return saga.Definition[*domain.Order]{
		Name: SagaCreateOrder,
		Steps: []saga.Step[*domain.Order]{
			{
				Name:           StepCreateOrderRecord,
				IdempotencyKey: keyFor(StepCreateOrderRecord),
				Execute:        s.createOrderRecord,
				Compensate:     s.voidOrderRecord,
			},
			{
				Name:           StepReserveInventory,
				IdempotencyKey: keyFor(StepReserveInventory),
				Execute:        s.reserveInventory,
				Compensate:     s.releaseInventory,
			},
			{
				Name:           StepCalculateShipping,
				IdempotencyKey: keyFor(StepCalculateShipping),
				Execute:        s.calculateShipping,
			},
			{
				Name:           StepCalculateTax,
				IdempotencyKey: keyFor(StepCalculateTax),
				Execute:        s.calculateTax,
			},
			{
				Name:           StepCreatePaymentIntent,
				IdempotencyKey: keyFor(StepCreatePaymentIntent),
				Execute:        s.createPaymentIntent,
				Compensate:     s.cancelPaymentIntent,
			},
			{
				Name:           StepConfirmOrder,
				IdempotencyKey: keyFor(StepConfirmOrder),
				Execute:        s.confirmOrder,
			},
		},
	}
}

// Run executes the saga for a new draft order
func (s *OrderSaga) Run(ctx context.Context, draft *domain.Order) (*domain.Order, error) {
	unlock, err := s.lock(ctx, draft.ID.String())
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, unlock, draft.ID.String())

	execution, err := s.orchestrator.Start(ctx, s.Definition(), draft.ID.String(), draft)
	return s.finish(ctx, draft.ID, execution, err)
}

// Resume drives a stored, unfinished execution to a terminal state
func (s *OrderSaga) Resume(ctx context.Context, executionID string) (*domain.Order, error) {
	unlock, err := s.lock(ctx, executionID)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, unlock, executionID)

	// re-read under the lock; the listed copy may be stale
	execution, err := s.log.Get(ctx, executionID)
	if err != nil {
		return nil, errors.Wrap(err, "load saga execution")
	}
	if execution.Status.IsTerminal() {
		return nil, ErrSagaFinished
	}

	s.logger.Info().Str("execution_id", executionID).Str("status", string(execution.Status)).Msg("resuming order saga")
	execution, err = s.orchestrator.Resume(ctx, s.Definition(), execution)
	return s.finish(ctx, models.ID(executionID), execution, err)
}

func (s *OrderSaga) lock(ctx context.Context, id string) (saga.Unlock, error) {
	unlock, err := s.locker.Lock(ctx, "order-saga:"+id)
	if err != nil {
		if errors.Is(err, saga.ErrLocked) {
			return nil, errors.Wrapf(domain.ErrOrderCreationInProgress, "order %s", id)
		}
		return nil, errors.Wrap(err, "lock order saga")
	}
	return unlock, nil
}

func (s *OrderSaga) unlock(ctx context.Context, unlock saga.Unlock, id string) {
	if err := unlock(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Str("order_id", id).Msg("failed to release saga lock")
	}
}

func (s *OrderSaga) finish(ctx context.Context, orderID models.ID, execution *saga.Execution, err error) (*domain.Order, error) {
	var compensationFailure *saga.CompensationFailure
	var failure *saga.FailureError

	switch {
	case err == nil:
		order, findErr := s.repository.FindByID(ctx, orderID)
		if findErr != nil {
			return nil, errors.Wrap(findErr, "failed to load confirmed order")
		}
		if order == nil {
			return nil, errors.Wrapf(domain.ErrOrderNotFound, "confirmed order %s", orderID)
		}
		publishEvent(ctx, s.publisher, s.logger, events.NewEvent(order.ID, events.OrderConfirmedEvent, domain.OrderConfirmedData{
			OrderID:         order.ID.String(),
			StoreID:         order.StoreID,
			CustomerID:      order.CustomerID,
			Total:           order.Totals.Total,
			PaymentIntentID: order.PaymentIntentID,
			ReservationID:   order.ReservationID,
		}))
		return order, nil

	case errors.As(err, &compensationFailure):
		s.flagForReconciliation(ctx, orderID, compensationFailure)
		return nil, err

	case errors.As(err, &failure):
		code := execution.FailureCode
		if code == "" {
			code = domain.ReasonCode(failure.Cause)
		}
		publishEvent(ctx, s.publisher, s.logger, events.NewEvent(orderID, events.OrderCreationFailedEvent, domain.OrderCreationFailedData{
			OrderID: orderID.String(),
			Step:    failure.Step,
			Code:    code,
			Reason:  failure.Cause.Error(),
		}))
		return nil, &domain.OrderCreationFailedError{
			OrderID: orderID,
			Step:    failure.Step,
			Code:    code,
			Cause:   failure.Cause,
		}

	default:
		return nil, err
	}
}

// flagForReconciliation is best effort: the compensation failure is already
// logged and recorded in the saga log.
func (s *OrderSaga) flagForReconciliation(ctx context.Context, orderID models.ID, failure *saga.CompensationFailure) {
	logger := s.logger.With().Str("order_id", orderID.String()).Logger()

	for attempt := 0; attempt < 3; attempt++ {
		order, err := s.repository.FindByID(ctx, orderID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to load order for reconciliation")
			return
		}
		if order == nil {
			logger.Error().Err(failure).Msg("compensation failed for an order that was never stored")
			return
		}

		order.FlagForReconciliation(failure.Error(), s.now())
		err = s.repository.Save(ctx, order)
		var conflict *domain.ConcurrentModificationError
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to flag order for reconciliation")
			return
		}
		publishOrderEvents(ctx, s.publisher, s.logger, order)
		return
	}
}

func (s *OrderSaga) createOrderRecord(ctx context.Context, draft *domain.Order, _ saga.Results) (saga.StepResult, error) {
	if err := draft.Validate(); err != nil {
		return saga.StepResult{}, err
	}

	existing, err := s.repository.FindByID(ctx, draft.ID)
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "failed to find order")
	}
	if existing != nil {
		return saga.StepResult{Handle: draft.ID.String()}, nil
	}

	order := *draft
	if err := s.repository.Save(ctx, &order); err != nil {
		if errors.Is(err, domain.ErrOrderExists) {
			return saga.StepResult{Handle: draft.ID.String()}, nil
		}
		return saga.StepResult{}, errors.Wrap(err, "failed to save order")
	}

	publishEvent(ctx, s.publisher, s.logger, events.NewEvent(order.ID, events.OrderCreatedEvent, domain.OrderCreatedData{
		OrderID:    order.ID.String(),
		StoreID:    order.StoreID,
		CustomerID: order.CustomerID,
		Subtotal:   order.Totals.Subtotal,
		ItemCount:  len(order.Items),
	}))
	return saga.StepResult{Handle: draft.ID.String()}, nil
}

// voidOrderRecord terminalizes the order; orders are never deleted
func (s *OrderSaga) voidOrderRecord(ctx context.Context, draft *domain.Order, _ saga.Results) error {
	order, err := s.repository.FindByID(ctx, draft.ID)
	if err != nil {
		return errors.Wrap(err, "failed to find order")
	}
	if order == nil || order.FinancialStatus == domain.FinancialVoided {
		return nil
	}

	now := s.now()
	if err := order.Transition(s.stateMachine, domain.ToFinancial(domain.FinancialVoided), ActorSaga, creationFailedReason, now); err != nil {
		return err
	}
	order.MarkCancelled(creationFailedReason, ActorSaga, now)
	if err := s.repository.Save(ctx, order); err != nil {
		return errors.Wrap(err, "failed to void order")
	}
	publishOrderEvents(ctx, s.publisher, s.logger, order)
	return nil
}

func (s *OrderSaga) reserveInventory(ctx context.Context, draft *domain.Order, _ saga.Results) (saga.StepResult, error) {
	reservation, err := s.inventory.Reserve(ctx, draft.Items, stepKey(draft, StepReserveInventory))
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "reserve inventory")
	}
	return saga.NewStepResult(reservation.ID, reservation)
}

// releaseInventory releases the reservation. When the reserve call gave up
// without an answer there is no handle; replaying it under the same key returns
// the reservation the inventory service holds for that key.
func (s *OrderSaga) releaseInventory(ctx context.Context, draft *domain.Order, results saga.Results) error {
	reservationID := results[StepReserveInventory].Handle
	if reservationID == "" {
		reservation, err := s.inventory.Reserve(ctx, draft.Items, stepKey(draft, StepReserveInventory))
		if rejected(err) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "look up reservation")
		}
		if reservation.ID == "" {
			return nil
		}
		reservationID = reservation.ID
	}
	return errors.Wrap(s.inventory.Release(ctx, reservationID), "release inventory")
}

func (s *OrderSaga) calculateShipping(ctx context.Context, draft *domain.Order, results saga.Results) (saga.StepResult, error) {
	var reservation domain.Reservation
	if err := results.Decode(StepReserveInventory, &reservation); err != nil {
		return saga.StepResult{}, err
	}

	quote, err := s.shipping.Quote(ctx, reservation.Origin, draft.ShippingAddress, reservation.WeightGrams, stepKey(draft, StepCalculateShipping))
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "quote shipping")
	}
	if quote.Amount.Currency != draft.Currency {
		return saga.StepResult{}, domain.NewValidationError("shipping", errors.Wrapf(models.ErrCurrencyMismatch,
			"quote in %s for order in %s", quote.Amount.Currency, draft.Currency))
	}
	return saga.NewStepResult(quote.ID, quote)
}

func (s *OrderSaga) calculateTax(ctx context.Context, draft *domain.Order, results saga.Results) (saga.StepResult, error) {
	var shipping domain.ShippingQuote
	if err := results.Decode(StepCalculateShipping, &shipping); err != nil {
		return saga.StepResult{}, err
	}

	taxable, err := draft.Totals.Subtotal.Add(shipping.Amount)
	if err != nil {
		return saga.StepResult{}, domain.NewValidationError("shipping", err)
	}
	quote, err := s.tax.Calculate(ctx, draft.ShippingAddress, taxable, stepKey(draft, StepCalculateTax))
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "calculate tax")
	}
	if quote.Amount.Currency != draft.Currency {
		return saga.StepResult{}, domain.NewValidationError("tax", errors.Wrapf(models.ErrCurrencyMismatch,
			"quote in %s for order in %s", quote.Amount.Currency, draft.Currency))
	}
	return saga.NewStepResult(quote.ID, quote)
}

func (s *OrderSaga) createPaymentIntent(ctx context.Context, draft *domain.Order, results saga.Results) (saga.StepResult, error) {
	var shipping domain.ShippingQuote
	if err := results.Decode(StepCalculateShipping, &shipping); err != nil {
		return saga.StepResult{}, err
	}
	var tax domain.TaxQuote
	if err := results.Decode(StepCalculateTax, &tax); err != nil {
		return saga.StepResult{}, err
	}

	total, err := draft.CheckoutTotal(shipping.Amount, tax.Amount)
	if err != nil {
		return saga.StepResult{}, domain.NewValidationError("totals", err)
	}

	intent, err := s.requestIntent(ctx, draft, total)
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "create payment intent")
	}
	return saga.NewStepResult(intent.ID, intent)
}

func (s *OrderSaga) requestIntent(ctx context.Context, draft *domain.Order, total models.Money) (domain.PaymentIntent, error) {
	return s.payments.CreateIntent(ctx, total, map[string]string{
		"order_id":    draft.ID.String(),
		"store_id":    draft.StoreID,
		"customer_id": draft.CustomerID,
	}, stepKey(draft, StepCreatePaymentIntent))
}

// cancelPaymentIntent cancels the intent, replaying the create call under its
// key to find it when the create call gave up without an answer
func (s *OrderSaga) cancelPaymentIntent(ctx context.Context, draft *domain.Order, results saga.Results) error {
	intentID := results[StepCreatePaymentIntent].Handle
	if intentID == "" {
		var shipping domain.ShippingQuote
		if err := results.Decode(StepCalculateShipping, &shipping); err != nil {
			return err
		}
		var tax domain.TaxQuote
		if err := results.Decode(StepCalculateTax, &tax); err != nil {
			return err
		}
		total, err := draft.CheckoutTotal(shipping.Amount, tax.Amount)
		if err != nil {
			return domain.NewValidationError("totals", err)
		}

		intent, err := s.requestIntent(ctx, draft, total)
		if rejected(err) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "look up payment intent")
		}
		if intent.ID == "" {
			return nil
		}
		intentID = intent.ID
	}
	return errors.Wrap(s.payments.CancelIntent(ctx, intentID), "cancel payment intent")
}

// rejected reports a definite refusal from a remote service, after which nothing
// exists remotely for the key
func rejected(err error) bool {
	var external *domain.ExternalServiceError
	return errors.As(err, &external) && !external.Retryable && !external.Timeout
}

func (s *OrderSaga) confirmOrder(ctx context.Context, draft *domain.Order, results saga.Results) (saga.StepResult, error) {
	order, err := s.repository.FindByID(ctx, draft.ID)
	if err != nil {
		return saga.StepResult{}, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return saga.StepResult{}, errors.Wrapf(domain.ErrOrderNotFound, "order %s", draft.ID)
	}
	if order.FinancialStatus == domain.FinancialAuthorized {
		return saga.StepResult{Handle: order.ID.String()}, nil
	}

	var (
		reservation domain.Reservation
		shipping    domain.ShippingQuote
		tax         domain.TaxQuote
		intent      domain.PaymentIntent
	)
	for step, target := range map[string]any{
		StepReserveInventory:    &reservation,
		StepCalculateShipping:   &shipping,
		StepCalculateTax:        &tax,
		StepCreatePaymentIntent: &intent,
	} {
		if err := results.Decode(step, target); err != nil {
			return saga.StepResult{}, err
		}
	}

	now := s.now()
	if err := order.ApplyCheckout(reservation, shipping, tax, intent, now); err != nil {
		return saga.StepResult{}, domain.NewValidationError("totals", err)
	}
	if err := order.Transition(s.stateMachine, domain.ToFinancial(domain.FinancialAuthorized), ActorSaga, "order confirmed", now); err != nil {
		return saga.StepResult{}, err
	}
	if err := s.repository.Save(ctx, order); err != nil {
		return saga.StepResult{}, errors.Wrap(err, "failed to confirm order")
	}
	publishOrderEvents(ctx, s.publisher, s.logger, order)
	return saga.StepResult{Handle: order.ID.String()}, nil
}

func keyFor(step string) func(*domain.Order) string {
	return func(order *domain.Order) string {
		return stepKey(order, step)
	}
}

func stepKey(order *domain.Order, step string) string {
	return order.ID.String() + ":" + step
}
