package application

import (
	"context"

	"github.com/draftea/order-system/orders-service/domain"
)

type GetValidTransitionsQuery struct {
	OrderID string
}

type ValidTransitionsResponse struct {
	OrderID           string                   `json:"order_id"`
	FinancialStatus   domain.FinancialStatus   `json:"financial_status"`
	FulfillmentStatus domain.FulfillmentStatus `json:"fulfillment_status"`
	Transitions       domain.TransitionSet     `json:"transitions"`
	CanCancel         bool                     `json:"can_cancel"`
	CanRefund         bool                     `json:"can_refund"`
}

type GetValidTransitionsUseCase struct {
	repo         domain.OrderRepository
	stateMachine *domain.StateMachine
}

func NewGetValidTransitionsUseCase(repo domain.OrderRepository, stateMachine *domain.StateMachine) *GetValidTransitionsUseCase {
	return &GetValidTransitionsUseCase{repo: repo, stateMachine: stateMachine}
}

func (uc *GetValidTransitionsUseCase) Execute(ctx context.Context, query GetValidTransitionsQuery) (*ValidTransitionsResponse, error) {
	id, err := parseOrderID(query.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := findOrder(ctx, uc.repo, id)
	if err != nil {
		return nil, err
	}

	return &ValidTransitionsResponse{
		OrderID:           order.ID.String(),
		FinancialStatus:   order.FinancialStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		Transitions:       uc.stateMachine.ValidTransitions(order),
		CanCancel:         uc.stateMachine.CanCancelOrder(order),
		CanRefund:         uc.stateMachine.CanRefundOrder(order),
	}, nil
}
