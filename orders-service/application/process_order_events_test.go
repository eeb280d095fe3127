package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/orders-service/mocks"
	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

// inboundEvent builds an event the way a subscriber hands it over: raw payload
func inboundEvent(t *testing.T, topic string, data any) *events.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return events.NewEvent(models.GenerateUUID(), topic, json.RawMessage(raw))
}

func TestProcessOrderEventsUseCase_Handle(t *testing.T) {
	tests := []struct {
		name                string
		financial           domain.FinancialStatus
		fulfillment         domain.FulfillmentStatus
		topic               string
		data                func(id models.ID) any
		expectedFinancial   domain.FinancialStatus
		expectedFulfillment domain.FulfillmentStatus
		expectedHistory     int
		expectedFlagged     bool
	}{
		{
			name:        "payment captured",
			financial:   domain.FinancialAuthorized,
			fulfillment: domain.FulfillmentUnfulfilled,
			topic:       events.PaymentCapturedEvent,
			data: func(id models.ID) any {
				return domain.PaymentEventData{OrderID: id.String(), PaymentIntentID: "pi_1"}
			},
			expectedFinancial:   domain.FinancialPaid,
			expectedFulfillment: domain.FulfillmentUnfulfilled,
			expectedHistory:     1,
		},
		{
			name:        "duplicate capture is acknowledged",
			financial:   domain.FinancialPaid,
			fulfillment: domain.FulfillmentUnfulfilled,
			topic:       events.PaymentCapturedEvent,
			data: func(id models.ID) any {
				return domain.PaymentEventData{OrderID: id.String()}
			},
			expectedFinancial:   domain.FinancialPaid,
			expectedFulfillment: domain.FulfillmentUnfulfilled,
		},
		{
			name:        "payment voided",
			financial:   domain.FinancialAuthorized,
			fulfillment: domain.FulfillmentUnfulfilled,
			topic:       events.PaymentVoidedEvent,
			data: func(id models.ID) any {
				return domain.PaymentEventData{OrderID: id.String()}
			},
			expectedFinancial:   domain.FinancialVoided,
			expectedFulfillment: domain.FulfillmentUnfulfilled,
			expectedHistory:     1,
		},
		{
			name:        "shipment progress",
			financial:   domain.FinancialPaid,
			fulfillment: domain.FulfillmentUnfulfilled,
			topic:       events.FulfillmentUpdatedEvent,
			data: func(id models.ID) any {
				return domain.FulfillmentEventData{OrderID: id.String(), Status: domain.FulfillmentPartiallyFulfilled}
			},
			expectedFinancial:   domain.FinancialPaid,
			expectedFulfillment: domain.FulfillmentPartiallyFulfilled,
			expectedHistory:     1,
		},
		{
			name:        "capture after void is flagged",
			financial:   domain.FinancialVoided,
			fulfillment: domain.FulfillmentUnfulfilled,
			topic:       events.PaymentCapturedEvent,
			data: func(id models.ID) any {
				return domain.PaymentEventData{OrderID: id.String()}
			},
			expectedFinancial:   domain.FinancialVoided,
			expectedFulfillment: domain.FulfillmentUnfulfilled,
			expectedFlagged:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemoryOrderRepository()
			seeded := seedOrder(t, repo, tt.financial, tt.fulfillment)
			uc := NewProcessOrderEventsUseCase(repo, saga.NewMemoryLog(), domain.NewStateMachine(zerolog.Nop()), newPublisher(t), zerolog.Nop())

			err := uc.Handle(context.Background(), inboundEvent(t, tt.topic, tt.data(seeded.ID)))
			require.NoError(t, err)

			stored := repo.get(t, seeded.ID)
			assert.Equal(t, tt.expectedFinancial, stored.FinancialStatus)
			assert.Equal(t, tt.expectedFulfillment, stored.FulfillmentStatus)
			assert.Equal(t, tt.expectedFlagged, stored.NeedsReconciliation)

			history, err := repo.FindHistory(context.Background(), seeded.ID)
			require.NoError(t, err)
			assert.Len(t, history, tt.expectedHistory)
		})
	}
}

func TestProcessOrderEventsUseCase_RetriesOnConflict(t *testing.T) {
	memory := newMemoryOrderRepository()
	seeded := seedOrder(t, memory, domain.FinancialAuthorized, domain.FulfillmentUnfulfilled)

	repo := mocks.NewMockOrderRepository(t)
	repo.EXPECT().FindByID(mock.Anything, seeded.ID).RunAndReturn(memory.FindByID).Times(2)
	repo.EXPECT().Save(mock.Anything, mock.Anything).
		Return(&domain.ConcurrentModificationError{OrderID: seeded.ID, ExpectedVersion: 1}).Once()
	repo.EXPECT().Save(mock.Anything, mock.Anything).RunAndReturn(memory.Save).Once()

	uc := NewProcessOrderEventsUseCase(repo, saga.NewMemoryLog(), domain.NewStateMachine(zerolog.Nop()), newPublisher(t), zerolog.Nop())
	err := uc.Handle(context.Background(), inboundEvent(t, events.PaymentCapturedEvent, domain.PaymentEventData{OrderID: seeded.ID.String()}))
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialPaid, memory.get(t, seeded.ID).FinancialStatus)
}

func TestProcessOrderEventsUseCase_GivesUpAfterRepeatedConflicts(t *testing.T) {
	memory := newMemoryOrderRepository()
	seeded := seedOrder(t, memory, domain.FinancialAuthorized, domain.FulfillmentUnfulfilled)

	repo := mocks.NewMockOrderRepository(t)
	repo.EXPECT().FindByID(mock.Anything, seeded.ID).RunAndReturn(memory.FindByID).Times(maxConflictRetries)
	repo.EXPECT().Save(mock.Anything, mock.Anything).
		Return(&domain.ConcurrentModificationError{OrderID: seeded.ID}).Times(maxConflictRetries)

	uc := NewProcessOrderEventsUseCase(repo, saga.NewMemoryLog(), domain.NewStateMachine(zerolog.Nop()), newPublisher(t), zerolog.Nop())
	err := uc.Handle(context.Background(), inboundEvent(t, events.PaymentCapturedEvent, domain.PaymentEventData{OrderID: seeded.ID.String()}))
	assert.True(t, isConflict(err))
}

func TestProcessOrderEventsUseCase_UnknownOrderIsRedelivered(t *testing.T) {
	repo := newMemoryOrderRepository()
	uc := NewProcessOrderEventsUseCase(repo, saga.NewMemoryLog(), domain.NewStateMachine(zerolog.Nop()), newPublisher(t), zerolog.Nop())

	err := uc.Handle(context.Background(), inboundEvent(t, events.PaymentCapturedEvent,
		domain.PaymentEventData{OrderID: models.GenerateUUID().String()}))
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))

	// malformed and unrelated events are acknowledged
	assert.NoError(t, uc.Handle(context.Background(), inboundEvent(t, events.PaymentCapturedEvent, domain.PaymentEventData{OrderID: "nope"})))
	assert.NoError(t, uc.Handle(context.Background(), inboundEvent(t, "inventory.adjusted", map[string]string{})))
}

func TestProcessOrderEventsUseCase_RedeliversWhileOrderIsCreated(t *testing.T) {
	repo := newMemoryOrderRepository()
	seeded := seedOrder(t, repo, domain.FinancialAuthorized, domain.FulfillmentUnfulfilled)
	uc := NewProcessOrderEventsUseCase(repo, sagaLogWith(t, seeded.ID, saga.ExecutionRunning),
		domain.NewStateMachine(zerolog.Nop()), newPublisher(t), zerolog.Nop())

	err := uc.Handle(context.Background(), inboundEvent(t, events.PaymentCapturedEvent, domain.PaymentEventData{OrderID: seeded.ID.String()}))
	assert.True(t, errors.Is(err, domain.ErrOrderCreationInProgress))

	stored := repo.get(t, seeded.ID)
	assert.Equal(t, domain.FinancialAuthorized, stored.FinancialStatus)
	assert.False(t, stored.NeedsReconciliation)
}
