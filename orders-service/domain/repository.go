package domain

import (
	"context"

	"github.com/draftea/order-system/shared/models"
)

// OrderRepository persists orders. Save writes the order, its pending history
// entries and refunds in one transaction and fails with
// *ConcurrentModificationError when the stored version moved on.
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
	FindHistory(ctx context.Context, id models.ID) ([]StatusHistoryEntry, error)
}
