package application

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/saga"
)

func TestGetValidTransitionsUseCase_Execute(t *testing.T) {
	tests := []struct {
		name        string
		financial   domain.FinancialStatus
		fulfillment domain.FulfillmentStatus
		expected    domain.TransitionSet
		canCancel   bool
		canRefund   bool
	}{
		{
			name:        "pending",
			financial:   domain.FinancialPending,
			fulfillment: domain.FulfillmentUnfulfilled,
			expected: domain.TransitionSet{
				Financial:   []domain.FinancialStatus{domain.FinancialAuthorized, domain.FinancialPaid, domain.FinancialVoided},
				Fulfillment: []domain.FulfillmentStatus{domain.FulfillmentPartiallyFulfilled, domain.FulfillmentFulfilled},
			},
			canCancel: true,
		},
		{
			name:        "paid and fulfilled",
			financial:   domain.FinancialPaid,
			fulfillment: domain.FulfillmentFulfilled,
			expected: domain.TransitionSet{
				Financial:   []domain.FinancialStatus{domain.FinancialPartiallyRefunded, domain.FinancialRefunded},
				Fulfillment: []domain.FulfillmentStatus{domain.FulfillmentRestocked},
			},
			canCancel: true,
			canRefund: true,
		},
		{
			name:        "refunded and restocked",
			financial:   domain.FinancialRefunded,
			fulfillment: domain.FulfillmentRestocked,
			expected: domain.TransitionSet{
				Financial:   []domain.FinancialStatus{},
				Fulfillment: []domain.FulfillmentStatus{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryOrderRepository()
			seeded := seedOrder(t, repo, tt.financial, tt.fulfillment)

			uc := NewGetValidTransitionsUseCase(repo, domain.NewStateMachine(zerolog.Nop()))
			resp, err := uc.Execute(context.Background(), GetValidTransitionsQuery{OrderID: seeded.ID.String()})
			require.NoError(t, err)

			assert.ElementsMatch(t, tt.expected.Financial, resp.Transitions.Financial)
			assert.ElementsMatch(t, tt.expected.Fulfillment, resp.Transitions.Fulfillment)
			assert.Equal(t, tt.canCancel, resp.CanCancel)
			assert.Equal(t, tt.canRefund, resp.CanRefund)
		})
	}
}

func TestOrderQueries(t *testing.T) {
	repo := newMemoryOrderRepository()
	seeded := seedOrder(t, repo, domain.FinancialAuthorized, domain.FulfillmentUnfulfilled)
	log := saga.NewMemoryLog()
	queries := NewOrderQueries(repo, log)

	order, err := queries.GetOrder(context.Background(), seeded.ID.String())
	require.NoError(t, err)
	assert.Equal(t, seeded.ID.String(), order.ID)

	_, err = queries.GetOrder(context.Background(), "not-a-uuid")
	assert.True(t, isValidation(err))

	history, err := queries.GetOrderHistory(context.Background(), seeded.ID.String())
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = queries.GetSagaExecution(context.Background(), seeded.ID.String())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
