package application

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

func stepStatuses(t *testing.T, log saga.Log, id models.ID) map[string]saga.StepStatus {
	t.Helper()
	execution, err := log.Get(context.Background(), id.String())
	require.NoError(t, err)

	statuses := make(map[string]saga.StepStatus, len(execution.Steps))
	for _, step := range execution.Steps {
		statuses[step.Name] = step.Status
	}
	return statuses
}

func TestOrderSaga_Run_ConfirmsOrder(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	f.expectReserve(draft.ID)
	f.expectShipping(draft.ID)
	f.expectTax(draft.ID)
	f.expectIntent(draft.ID)

	order, err := f.saga.Run(context.Background(), draft)
	require.NoError(t, err)

	assert.Equal(t, domain.FinancialAuthorized, order.FinancialStatus)
	assert.Equal(t, domain.FulfillmentUnfulfilled, order.FulfillmentStatus)
	assert.Equal(t, int64(2000), order.Totals.Subtotal.Amount)
	assert.Equal(t, int64(500), order.Totals.Shipping.Amount)
	assert.Equal(t, int64(200), order.Totals.Tax.Amount)
	assert.Equal(t, int64(2700), order.Totals.Total.Amount)
	assert.Equal(t, "res-1", order.ReservationID)
	assert.Equal(t, "pi_1", order.PaymentIntentID)

	execution, err := f.log.Get(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, saga.ExecutionCompleted, execution.Status)
	for _, step := range execution.Steps {
		assert.Equal(t, saga.StepSucceeded, step.Status, step.Name)
		assert.Equal(t, draft.ID.String()+":"+step.Name, step.IdempotencyKey)
	}

	history, err := f.repo.FindHistory(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.FinancialPending, history[0].PreviousFinancial)
	assert.Equal(t, domain.FinancialAuthorized, history[0].NewFinancial)
	assert.Equal(t, ActorSaga, history[0].Actor)
}

func TestOrderSaga_Run_TaxTimeoutCompensatesInReverse(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	f.expectReserve(draft.ID)
	f.expectShipping(draft.ID)

	timeout := &domain.ExternalServiceError{Service: "tax", Message: "deadline exceeded", Timeout: true, Retryable: true}
	f.tax.EXPECT().
		Calculate(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.TaxQuote{}, timeout).
		Times(3)
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil).Once()

	order, err := f.saga.Run(context.Background(), draft)
	require.Error(t, err)
	assert.Nil(t, order)

	var failed *domain.OrderCreationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, StepCalculateTax, failed.Step)
	assert.Equal(t, domain.CodeServiceUnavailable, failed.Code)

	stored := f.repo.get(t, draft.ID)
	assert.Equal(t, domain.FinancialVoided, stored.FinancialStatus)
	assert.True(t, stored.IsCancelled())
	assert.False(t, stored.NeedsReconciliation)

	assert.Equal(t, map[string]saga.StepStatus{
		StepCreateOrderRecord:   saga.StepCompensated,
		StepReserveInventory:    saga.StepCompensated,
		StepCalculateShipping:   saga.StepCompensated,
		StepCalculateTax:        saga.StepUncertain,
		StepCreatePaymentIntent: saga.StepPending,
		StepConfirmOrder:        saga.StepPending,
	}, stepStatuses(t, f.log, draft.ID))

	execution, err := f.log.Get(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, saga.ExecutionAborted, execution.Status)
	assert.Equal(t, 3, execution.Step(StepCalculateTax).AttemptCount)
	assert.Equal(t, domain.CodeServiceUnavailable, execution.FailureCode)
}

func TestOrderSaga_Run_PaymentTimeoutCancelsIntentByKey(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	key := draft.ID.String() + ":" + StepCreatePaymentIntent
	f.expectReserve(draft.ID)
	f.expectShipping(draft.ID)
	f.expectTax(draft.ID)

	timeout := &domain.ExternalServiceError{Service: "payment", Message: "read timeout", Timeout: true, Retryable: true}
	f.payments.EXPECT().
		CreateIntent(mock.Anything, models.NewMoney(2700, "USD"), mock.Anything, key).
		Return(domain.PaymentIntent{}, timeout).
		Times(3)
	// the gateway created the intent on the last attempt; the same key returns it
	f.payments.EXPECT().
		CreateIntent(mock.Anything, models.NewMoney(2700, "USD"), mock.Anything, key).
		Return(domain.PaymentIntent{ID: "pi_1", Amount: models.NewMoney(2700, "USD"), Status: "requires_capture"}, nil).
		Once()
	f.payments.EXPECT().CancelIntent(mock.Anything, "pi_1").Return(nil).Once()
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil).Once()

	_, err := f.saga.Run(context.Background(), draft)

	var failed *domain.OrderCreationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, StepCreatePaymentIntent, failed.Step)

	stored := f.repo.get(t, draft.ID)
	assert.Equal(t, domain.FinancialVoided, stored.FinancialStatus)
	assert.False(t, stored.NeedsReconciliation)

	statuses := stepStatuses(t, f.log, draft.ID)
	assert.Equal(t, saga.StepCompensated, statuses[StepCreatePaymentIntent])
	assert.Equal(t, saga.StepCompensated, statuses[StepReserveInventory])

	execution, err := f.log.Get(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, saga.ExecutionAborted, execution.Status)
}

func TestOrderSaga_Run_ReserveTimeoutReleasesByKey(t *testing.T) {
	tests := []struct {
		name   string
		replay func(f *sagaFixture)
	}{
		{
			name: "reservation exists",
			replay: func(f *sagaFixture) {
				f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, mock.Anything).
					Return(domain.Reservation{ID: "res-9", Origin: warehouse}, nil).Once()
				f.inventory.EXPECT().Release(mock.Anything, "res-9").Return(nil).Once()
			},
		},
		{
			name: "nothing was reserved",
			replay: func(f *sagaFixture) {
				f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, mock.Anything).
					Return(domain.Reservation{}, &domain.ExternalServiceError{
						Service: "inventory", Code: domain.CodeInsufficientStock, StatusCode: 409,
					}).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSagaFixture(t)
			draft := newDraft(t)
			f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, draft.ID.String()+":"+StepReserveInventory).
				Return(domain.Reservation{}, &domain.ExternalServiceError{Service: "inventory", Timeout: true, Retryable: true}).
				Times(3)
			tt.replay(f)

			_, err := f.saga.Run(context.Background(), draft)
			require.Error(t, err)

			stored := f.repo.get(t, draft.ID)
			assert.Equal(t, domain.FinancialVoided, stored.FinancialStatus)
			assert.False(t, stored.NeedsReconciliation)
			assert.Equal(t, saga.StepCompensated, stepStatuses(t, f.log, draft.ID)[StepReserveInventory])
		})
	}
}

func TestOrderSaga_Run_PermanentFailureSkipsRetries(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(f *sagaFixture, id models.ID)
		expectedStep string
		expectedCode string
	}{
		{
			name: "out of stock",
			setup: func(f *sagaFixture, id models.ID) {
				f.inventory.EXPECT().Reserve(mock.Anything, mock.Anything, mock.Anything).
					Return(domain.Reservation{}, &domain.ExternalServiceError{
						Service: "inventory", Code: domain.CodeInsufficientStock, StatusCode: 409,
					}).Once()
			},
			expectedStep: StepReserveInventory,
			expectedCode: domain.CodeInsufficientStock,
		},
		{
			name: "card declined",
			setup: func(f *sagaFixture, id models.ID) {
				f.expectReserve(id)
				f.expectShipping(id)
				f.expectTax(id)
				f.payments.EXPECT().CreateIntent(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(domain.PaymentIntent{}, &domain.ExternalServiceError{
						Service: "payment", Code: domain.CodePaymentDeclined, StatusCode: 402,
					}).Once()
				f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(nil).Once()
			},
			expectedStep: StepCreatePaymentIntent,
			expectedCode: domain.CodePaymentDeclined,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSagaFixture(t)
			draft := newDraft(t)
			tt.setup(f, draft.ID)

			_, err := f.saga.Run(context.Background(), draft)

			var failed *domain.OrderCreationFailedError
			require.True(t, errors.As(err, &failed))
			assert.Equal(t, tt.expectedStep, failed.Step)
			assert.Equal(t, tt.expectedCode, failed.Code)
			assert.Equal(t, domain.FinancialVoided, f.repo.get(t, draft.ID).FinancialStatus)
		})
	}
}

func TestOrderSaga_Run_CompensationFailureFlagsOrder(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	f.expectReserve(draft.ID)
	f.expectShipping(draft.ID)
	f.expectTax(draft.ID)
	f.payments.EXPECT().CreateIntent(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.PaymentIntent{}, &domain.ExternalServiceError{Service: "payment", Code: domain.CodePaymentDeclined}).
		Once()
	f.inventory.EXPECT().Release(mock.Anything, "res-1").Return(errors.New("reservation locked by warehouse")).Once()

	_, err := f.saga.Run(context.Background(), draft)

	var compensation *saga.CompensationFailure
	require.True(t, errors.As(err, &compensation))
	require.Len(t, compensation.Failures, 1)
	assert.Equal(t, StepReserveInventory, compensation.Failures[0].Step)

	stored := f.repo.get(t, draft.ID)
	assert.True(t, stored.NeedsReconciliation)
	assert.Equal(t, domain.FinancialVoided, stored.FinancialStatus)

	statuses := stepStatuses(t, f.log, draft.ID)
	assert.Equal(t, saga.StepCompensationFailed, statuses[StepReserveInventory])
	assert.Equal(t, saga.StepCompensated, statuses[StepCreateOrderRecord])

	execution, err := f.log.Get(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, saga.ExecutionCompensationFailed, execution.Status)
}

func TestOrderSaga_Run_InvalidDraftNeverLeavesFirstStep(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	draft.Items = nil

	_, err := f.saga.Run(context.Background(), draft)

	var failed *domain.OrderCreationFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, StepCreateOrderRecord, failed.Step)
	assert.Equal(t, domain.CodeInvalidOrder, failed.Code)

	order, err := f.repo.FindByID(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestOrderSaga_Resume_AfterInterruption(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	f.expectReserve(draft.ID)

	ctx, cancel := context.WithCancel(context.Background())
	f.shipping.EXPECT().Quote(mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(stepCtx context.Context, _, _ domain.Address, _ int, _ string) (domain.ShippingQuote, error) {
			cancel()
			return domain.ShippingQuote{}, stepCtx.Err()
		}).Once()

	_, err := f.saga.Run(ctx, draft)
	require.True(t, errors.Is(err, saga.ErrInterrupted))

	execution, err := f.log.Get(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, saga.ExecutionRunning, execution.Status)

	// reservation is not repeated; shipping runs again with the same key
	f.expectShipping(draft.ID)
	f.expectTax(draft.ID)
	f.expectIntent(draft.ID)

	order, err := f.saga.Resume(context.Background(), draft.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialAuthorized, order.FinancialStatus)

	_, err = f.saga.Resume(context.Background(), draft.ID.String())
	assert.True(t, errors.Is(err, ErrSagaFinished))
}

func TestOrderSaga_Run_RejectsConcurrentDriver(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)

	unlock, err := f.saga.locker.Lock(context.Background(), "order-saga:"+draft.ID.String())
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	_, err = f.saga.Run(context.Background(), draft)
	assert.True(t, errors.Is(err, domain.ErrOrderCreationInProgress))
}
