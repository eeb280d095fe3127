package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/orders-service/mocks"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

// memoryOrderRepository mirrors the optimistic locking of the postgres repository
type memoryOrderRepository struct {
	mu      sync.Mutex
	orders  map[models.ID]*domain.Order
	history map[models.ID][]domain.StatusHistoryEntry
	refunds map[models.ID][]*domain.Refund
}

func newMemoryOrderRepository() *memoryOrderRepository {
	return &memoryOrderRepository{
		orders:  make(map[models.ID]*domain.Order),
		history: make(map[models.ID][]domain.StatusHistoryEntry),
		refunds: make(map[models.ID][]*domain.Refund),
	}
}

func (r *memoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[order.ID]
	if order.PersistedVersion() == 0 {
		if exists {
			return domain.ErrOrderExists
		}
	} else if !exists || stored.Version.Value != order.PersistedVersion() {
		return &domain.ConcurrentModificationError{OrderID: order.ID, ExpectedVersion: order.PersistedVersion()}
	}

	for _, refund := range order.PendingRefunds() {
		for _, recorded := range r.refunds[order.ID] {
			if recorded.ID == refund.ID {
				return domain.ErrRefundRecorded
			}
		}
	}

	r.history[order.ID] = append(r.history[order.ID], order.PendingHistory()...)
	r.refunds[order.ID] = append(r.refunds[order.ID], order.PendingRefunds()...)
	r.orders[order.ID] = cloneOrder(order)
	order.MarkPersisted()
	return nil
}

func (r *memoryOrderRepository) FindByID(_ context.Context, id models.ID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(stored), nil
}

func (r *memoryOrderRepository) FindHistory(_ context.Context, id models.ID) ([]domain.StatusHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusHistoryEntry(nil), r.history[id]...), nil
}

func (r *memoryOrderRepository) get(t *testing.T, id models.ID) *domain.Order {
	t.Helper()
	order, err := r.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func cloneOrder(order *domain.Order) *domain.Order {
	clone := *order
	clone.Items = append([]domain.LineItem(nil), order.Items...)
	clone.ClearEvents()
	clone.MarkPersisted()
	return &clone
}

var testAddress = domain.Address{
	Name:       "Jane Doe",
	Line1:      "1 Main St",
	City:       "Springfield",
	Region:     "IL",
	PostalCode: "62701",
	Country:    "US",
}

var warehouse = domain.Address{Line1: "9 Depot Rd", City: "Joliet", PostalCode: "60431", Country: "US"}

// newDraft builds a two line item order totalling 20.00 USD
func newDraft(t *testing.T) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(models.GenerateUUID(), "store-1", "customer-1", "USD", []domain.LineItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: models.NewMoney(1200, "USD")},
		{ProductID: "sku-2", VariantID: "red", Quantity: 2, UnitPrice: models.NewMoney(400, "USD")},
	}, testAddress, time.Now())
	require.NoError(t, err)
	return order
}

// seedOrder stores an order that already went through checkout, in the given statuses
func seedOrder(t *testing.T, repo *memoryOrderRepository, financial domain.FinancialStatus, fulfillment domain.FulfillmentStatus) *domain.Order {
	t.Helper()
	order := newDraft(t)
	require.NoError(t, order.ApplyCheckout(
		domain.Reservation{ID: "res-1", Origin: warehouse, WeightGrams: 900},
		domain.ShippingQuote{ID: "ship-1", Amount: models.NewMoney(500, "USD")},
		domain.TaxQuote{ID: "tax-1", Amount: models.NewMoney(200, "USD")},
		domain.PaymentIntent{ID: "pi_1", Amount: models.NewMoney(2700, "USD")},
		time.Now(),
	))
	order.FinancialStatus = financial
	order.FulfillmentStatus = fulfillment
	require.NoError(t, repo.Save(context.Background(), order))
	return repo.get(t, order.ID)
}

type sagaFixture struct {
	repo      *memoryOrderRepository
	inventory *mocks.MockInventoryService
	shipping  *mocks.MockShippingService
	tax       *mocks.MockTaxService
	payments  *mocks.MockPaymentGateway
	publisher *mocks.MockPublisher
	log       *saga.MemoryLog
	saga      *OrderSaga
}

func newSagaFixture(t *testing.T) *sagaFixture {
	f := &sagaFixture{
		repo:      newMemoryOrderRepository(),
		inventory: mocks.NewMockInventoryService(t),
		shipping:  mocks.NewMockShippingService(t),
		tax:       mocks.NewMockTaxService(t),
		payments:  mocks.NewMockPaymentGateway(t),
		publisher: mocks.NewMockPublisher(t),
		log:       saga.NewMemoryLog(),
	}
	f.publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Maybe()

	f.saga = NewOrderSaga(OrderSagaDependencies{
		Repository:   f.repo,
		Inventory:    f.inventory,
		Shipping:     f.shipping,
		Tax:          f.tax,
		Payments:     f.payments,
		StateMachine: domain.NewStateMachine(zerolog.Nop()),
		Log:          f.log,
		Locker:       saga.NewLocalLocker(),
		Publisher:    f.publisher,
		Logger:       zerolog.Nop(),
		Options: []saga.Option{
			saga.WithRetryPolicy(saga.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
			saga.WithStepTimeout(time.Second),
		},
	})
	return f
}

func (f *sagaFixture) expectReserve(id models.ID) {
	f.inventory.EXPECT().
		Reserve(mock.Anything, mock.Anything, id.String()+":"+StepReserveInventory).
		Return(domain.Reservation{ID: "res-1", Origin: warehouse, WeightGrams: 900}, nil).
		Once()
}

func (f *sagaFixture) expectShipping(id models.ID) {
	f.shipping.EXPECT().
		Quote(mock.Anything, warehouse, testAddress, 900, id.String()+":"+StepCalculateShipping).
		Return(domain.ShippingQuote{ID: "ship-1", Amount: models.NewMoney(500, "USD"), Carrier: "ups", Service: "ground"}, nil).
		Once()
}

func (f *sagaFixture) expectTax(id models.ID) {
	// taxable = 2000 subtotal + 500 shipping
	f.tax.EXPECT().
		Calculate(mock.Anything, testAddress, models.NewMoney(2500, "USD"), id.String()+":"+StepCalculateTax).
		Return(domain.TaxQuote{ID: "tax-1", Amount: models.NewMoney(200, "USD"), RateBasisPoints: 800}, nil).
		Once()
}

func (f *sagaFixture) expectIntent(id models.ID) {
	f.payments.EXPECT().
		CreateIntent(mock.Anything, models.NewMoney(2700, "USD"), mock.Anything, id.String()+":"+StepCreatePaymentIntent).
		Return(domain.PaymentIntent{ID: "pi_1", Amount: models.NewMoney(2700, "USD"), Status: "requires_capture"}, nil).
		Once()
}

// sagaLogWith records a creation saga for the order in the given status
func sagaLogWith(t *testing.T, id models.ID, status saga.ExecutionStatus) *saga.MemoryLog {
	t.Helper()
	log := saga.NewMemoryLog()
	require.NoError(t, log.Create(context.Background(), &saga.Execution{
		ID:       id.String(),
		SagaName: SagaCreateOrder,
		Status:   status,
	}))
	return log
}

func newPublisher(t *testing.T) *mocks.MockPublisher {
	publisher := mocks.NewMockPublisher(t)
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Maybe()
	return publisher
}

func isInvalidTransition(err error) bool {
	var target *domain.InvalidTransitionError
	return errors.As(err, &target)
}

func isValidation(err error) bool {
	var target *domain.ValidationError
	return errors.As(err, &target)
}

func isConflict(err error) bool {
	var target *domain.ConcurrentModificationError
	return errors.As(err, &target)
}
