package domain

import (
	"github.com/draftea/order-system/shared/models"
)

// Event payloads published for orders

type StatusChangedData struct {
	OrderID             string            `json:"order_id"`
	PreviousFinancial   FinancialStatus   `json:"previous_financial_status"`
	NewFinancial        FinancialStatus   `json:"new_financial_status"`
	PreviousFulfillment FulfillmentStatus `json:"previous_fulfillment_status"`
	NewFulfillment      FulfillmentStatus `json:"new_fulfillment_status"`
	Actor               string            `json:"actor"`
	Reason              string            `json:"reason,omitempty"`
}

type RefundCreatedData struct {
	OrderID          string          `json:"order_id"`
	RefundID         string          `json:"refund_id"`
	Amount           models.Money    `json:"amount"`
	ProviderRefundID string          `json:"provider_refund_id,omitempty"`
	FinancialStatus  FinancialStatus `json:"financial_status"`
}

type CancelledData struct {
	OrderID           string            `json:"order_id"`
	Reason            string            `json:"reason"`
	Actor             string            `json:"actor"`
	FinancialStatus   FinancialStatus   `json:"financial_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
}

type ReconciliationData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type OrderCreatedData struct {
	OrderID    string       `json:"order_id"`
	StoreID    string       `json:"store_id"`
	CustomerID string       `json:"customer_id"`
	Subtotal   models.Money `json:"subtotal"`
	ItemCount  int          `json:"item_count"`
}

type OrderConfirmedData struct {
	OrderID         string       `json:"order_id"`
	StoreID         string       `json:"store_id"`
	CustomerID      string       `json:"customer_id"`
	Total           models.Money `json:"total"`
	PaymentIntentID string       `json:"payment_intent_id"`
	ReservationID   string       `json:"reservation_id"`
}

type OrderCreationFailedData struct {
	OrderID string `json:"order_id"`
	Step    string `json:"step"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// Inbound payloads

type PaymentEventData struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

type FulfillmentEventData struct {
	OrderID string            `json:"order_id"`
	Status  FulfillmentStatus `json:"status"`
}
