package domain

import (
	"context"

	"github.com/draftea/order-system/shared/models"
)

// Reservation is a hold on stock in a warehouse
type Reservation struct {
	ID          string  `json:"id"`
	Origin      Address `json:"origin"`
	WeightGrams int     `json:"weight_grams"`
}

type ShippingQuote struct {
	ID      string       `json:"id"`
	Amount  models.Money `json:"amount"`
	Carrier string       `json:"carrier"`
	Service string       `json:"service"`
}

type TaxQuote struct {
	ID     string       `json:"id"`
	Amount models.Money `json:"amount"`
	// RateBasisPoints is the effective rate, 825 = 8.25%
	RateBasisPoints int `json:"rate_basis_points"`
}

type PaymentIntent struct {
	ID     string       `json:"id"`
	Amount models.Money `json:"amount"`
	Status string       `json:"status"`
}

// Every call that creates something remote carries an idempotency key; repeating
// a call with the same key must not repeat the side effect.

type InventoryService interface {
	Reserve(ctx context.Context, items []LineItem, idempotencyKey string) (Reservation, error)
	// Release succeeds when the reservation is already gone
	Release(ctx context.Context, reservationID string) error
}

type ShippingService interface {
	Quote(ctx context.Context, origin, destination Address, weightGrams int, idempotencyKey string) (ShippingQuote, error)
}

type TaxService interface {
	Calculate(ctx context.Context, destination Address, taxable models.Money, idempotencyKey string) (TaxQuote, error)
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount models.Money, metadata map[string]string, idempotencyKey string) (PaymentIntent, error)
	// CancelIntent succeeds when the intent is already cancelled
	CancelIntent(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amount models.Money, idempotencyKey string) (string, error)
}
