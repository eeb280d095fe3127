package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/saga"
)

func TestRecoverSagasUseCase_Execute(t *testing.T) {
	f := newSagaFixture(t)
	draft := newDraft(t)
	f.expectReserve(draft.ID)

	// a crash while quoting shipping leaves the execution RUNNING
	ctx, cancel := context.WithCancel(context.Background())
	f.shipping.EXPECT().Quote(mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(stepCtx context.Context, _, _ domain.Address, _ int, _ string) (domain.ShippingQuote, error) {
			cancel()
			return domain.ShippingQuote{}, stepCtx.Err()
		}).Once()
	_, err := f.saga.Run(ctx, draft)
	require.ErrorIs(t, err, saga.ErrInterrupted)

	// a saga of another kind is left alone
	require.NoError(t, f.log.Create(context.Background(), &saga.Execution{
		ID: "other-1", SagaName: "settle_payout", Status: saga.ExecutionRunning, UpdatedAt: time.Now(),
	}))

	f.expectShipping(draft.ID)
	f.expectTax(draft.ID)
	f.expectIntent(draft.ID)

	uc := NewRecoverSagasUseCase(f.saga, f.log, 10, 2, zerolog.Nop())
	summary, err := uc.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RecoverySummary{Scanned: 2, Completed: 1, Skipped: 1}, summary)
	assert.Equal(t, domain.FinancialAuthorized, f.repo.get(t, draft.ID).FinancialStatus)

	// only the foreign saga is still listed
	summary, err = uc.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Scanned: 1, Skipped: 1}, summary)
}

func TestClassifyRecovery(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected recoveryOutcome
	}{
		{name: "completed", err: nil, expected: recoveryCompleted},
		{name: "rolled back", err: &domain.OrderCreationFailedError{Step: StepCalculateTax}, expected: recoveryAborted},
		{name: "compensation failed", err: &saga.CompensationFailure{ExecutionID: "x"}, expected: recoveryCompensationFailed},
		{name: "locked elsewhere", err: domain.ErrOrderCreationInProgress, expected: recoverySkipped},
		{name: "already finished", err: ErrSagaFinished, expected: recoverySkipped},
		{name: "log unavailable", err: assert.AnError, expected: recoveryError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyRecovery(tt.err))
		})
	}
}
