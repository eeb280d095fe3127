package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/draftea/order-system/orders-service/domain"
	"github.com/draftea/order-system/shared/saga"
)

// OrderQueries serves the read side: the order, its audit trail and its saga
type OrderQueries struct {
	repo domain.OrderRepository
	log  saga.Log
}

func NewOrderQueries(repo domain.OrderRepository, log saga.Log) *OrderQueries {
	return &OrderQueries{repo: repo, log: log}
}

func (q *OrderQueries) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	order, err := findOrder(ctx, q.repo, id)
	if err != nil {
		return nil, err
	}
	return toOrderResponse(order), nil
}

// GetOrderHistory returns every recorded transition, oldest first
func (q *OrderQueries) GetOrderHistory(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if _, err := findOrder(ctx, q.repo, id); err != nil {
		return nil, err
	}

	history, err := q.repo.FindHistory(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load order history")
	}
	return history, nil
}

// GetSagaExecution returns the creation saga of an order; both share the id
func (q *OrderQueries) GetSagaExecution(ctx context.Context, orderID string) (*saga.Execution, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}

	execution, err := q.log.Get(ctx, id.String())
	if errors.Is(err, saga.ErrExecutionNotFound) {
		return nil, errors.Wrapf(domain.ErrOrderNotFound, "no saga for order %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load saga execution")
	}
	return execution, nil
}
