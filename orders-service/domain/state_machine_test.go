package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/shared/models"
)

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	order, err := NewOrder(
		models.GenerateUUID(),
		"store-1",
		"customer-1",
		"USD",
		[]LineItem{{ProductID: "sku-1", Quantity: 2, UnitPrice: models.NewMoney(1000, "USD")}},
		Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return order
}

func TestTransitionTablesCoverEveryStatus(t *testing.T) {
	for _, status := range FinancialStatuses() {
		_, ok := financialTransitions[status]
		assert.True(t, ok, "financial status %s has no table row", status)
	}
	assert.Len(t, financialTransitions, len(FinancialStatuses()))

	for _, status := range FulfillmentStatuses() {
		_, ok := fulfillmentTransitions[status]
		assert.True(t, ok, "fulfillment status %s has no table row", status)
	}
	assert.Len(t, fulfillmentTransitions, len(FulfillmentStatuses()))
}

func TestValidateTransition_FinancialGrid(t *testing.T) {
	allowed := map[FinancialStatus]map[FinancialStatus]bool{
		FinancialPending:           {FinancialAuthorized: true, FinancialPaid: true, FinancialVoided: true},
		FinancialAuthorized:        {FinancialPaid: true, FinancialVoided: true},
		FinancialPaid:              {FinancialPartiallyRefunded: true, FinancialRefunded: true},
		FinancialPartiallyRefunded: {FinancialRefunded: true},
		FinancialRefunded:          {},
		FinancialVoided:            {},
	}

	sm := NewStateMachine(zerolog.Nop())
	for _, from := range FinancialStatuses() {
		for _, to := range FinancialStatuses() {
			t.Run(fmt.Sprintf("%s->%s", from, to), func(t *testing.T) {
				order := newTestOrder(t)
				order.FinancialStatus = from

				err := sm.ValidateTransition(order, ToFinancial(to))
				if allowed[from][to] {
					assert.NoError(t, err)
					assert.True(t, sm.CanTransition(order, ToFinancial(to)))
					return
				}

				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid))
				assert.Equal(t, AxisFinancial, invalid.Axis)
				assert.Equal(t, string(from), invalid.Current)
				assert.Equal(t, string(to), invalid.Requested)
				assert.False(t, sm.CanTransition(order, ToFinancial(to)))
				// validation never mutates
				assert.Equal(t, from, order.FinancialStatus)
			})
		}
	}
}

func TestValidateTransition_FulfillmentGrid(t *testing.T) {
	allowed := map[FulfillmentStatus]map[FulfillmentStatus]bool{
		FulfillmentUnfulfilled:        {FulfillmentPartiallyFulfilled: true, FulfillmentFulfilled: true},
		FulfillmentPartiallyFulfilled: {FulfillmentFulfilled: true, FulfillmentRestocked: true},
		FulfillmentFulfilled:          {FulfillmentRestocked: true},
		FulfillmentRestocked:          {},
	}

	sm := NewStateMachine(zerolog.Nop())
	for _, from := range FulfillmentStatuses() {
		for _, to := range FulfillmentStatuses() {
			order := newTestOrder(t)
			order.FulfillmentStatus = from

			err := sm.ValidateTransition(order, ToFulfillment(to))
			if allowed[from][to] {
				assert.NoError(t, err, "%s->%s", from, to)
				continue
			}
			var invalid *InvalidTransitionError
			assert.True(t, errors.As(err, &invalid), "%s->%s", from, to)
		}
	}
}

func TestValidateTransition_BothAxes(t *testing.T) {
	sm := NewStateMachine(zerolog.Nop())
	order := newTestOrder(t)
	order.FinancialStatus = FinancialPaid

	paid := FinancialRefunded
	restocked := FulfillmentRestocked
	err := sm.ValidateTransition(order, TransitionRequest{Financial: &paid, Fulfillment: &restocked})

	var invalid *InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, AxisFulfillment, invalid.Axis)

	assert.NoError(t, sm.ValidateTransition(order, TransitionRequest{}))
}

func TestValidTransitions(t *testing.T) {
	sm := NewStateMachine(zerolog.Nop())
	order := newTestOrder(t)

	set := sm.ValidTransitions(order)
	assert.Equal(t, []FinancialStatus{FinancialAuthorized, FinancialPaid, FinancialVoided}, set.Financial)
	assert.Equal(t, []FulfillmentStatus{FulfillmentPartiallyFulfilled, FulfillmentFulfilled}, set.Fulfillment)

	order.FinancialStatus = FinancialRefunded
	order.FulfillmentStatus = FulfillmentRestocked
	set = sm.ValidTransitions(order)
	assert.Empty(t, set.Financial)
	assert.Empty(t, set.Fulfillment)
}

func TestCanCancelAndRefund(t *testing.T) {
	tests := []struct {
		status    FinancialStatus
		canCancel bool
		canRefund bool
	}{
		{FinancialPending, true, false},
		{FinancialAuthorized, true, false},
		{FinancialPaid, true, true},
		{FinancialPartiallyRefunded, true, false},
		{FinancialRefunded, false, false},
		{FinancialVoided, false, false},
	}

	sm := NewStateMachine(zerolog.Nop())
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			order := newTestOrder(t)
			order.FinancialStatus = tt.status
			assert.Equal(t, tt.canCancel, sm.CanCancelOrder(order))
			assert.Equal(t, tt.canRefund, sm.CanRefundOrder(order))
		})
	}
}

func TestParseStatuses(t *testing.T) {
	status, err := ParseFinancialStatus("PAID")
	require.NoError(t, err)
	assert.Equal(t, FinancialPaid, status)

	_, err = ParseFinancialStatus("paid")
	var validation *ValidationError
	assert.True(t, errors.As(err, &validation))

	fulfillment, err := ParseFulfillmentStatus("RESTOCKED")
	require.NoError(t, err)
	assert.Equal(t, FulfillmentRestocked, fulfillment)

	_, err = ParseFulfillmentStatus("SHIPPED")
	assert.Error(t, err)
}
