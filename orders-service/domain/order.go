package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/draftea/order-system/shared/events"
	"github.com/draftea/order-system/shared/models"
)

var (
	ErrNoLineItems     = errors.New("order must have at least one line item")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

type LineItem struct {
	ProductID string       `json:"product_id"`
	VariantID string       `json:"variant_id,omitempty"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
}

func (i LineItem) Total() models.Money {
	return i.UnitPrice.Multiply(i.Quantity)
}

type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Totals struct {
	Subtotal models.Money `json:"subtotal"`
	Shipping models.Money `json:"shipping"`
	Tax      models.Money `json:"tax"`
	Total    models.Money `json:"total"`
	Refunded models.Money `json:"refunded"`
}

// StatusHistoryEntry is the audit row written with every accepted transition
type StatusHistoryEntry struct {
	ID                  models.ID         `json:"id"`
	OrderID             models.ID         `json:"order_id"`
	PreviousFinancial   FinancialStatus   `json:"previous_financial_status"`
	NewFinancial        FinancialStatus   `json:"new_financial_status"`
	PreviousFulfillment FulfillmentStatus `json:"previous_fulfillment_status"`
	NewFulfillment      FulfillmentStatus `json:"new_fulfillment_status"`
	Actor               string            `json:"actor"`
	Reason              string            `json:"reason,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

type Refund struct {
	ID               models.ID    `json:"id"`
	OrderID          models.ID    `json:"order_id"`
	Amount           models.Money `json:"amount"`
	Reason           string       `json:"reason,omitempty"`
	ProviderRefundID string       `json:"provider_refund_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Order is the aggregate root. Its statuses only change through Transition.
type Order struct {
	ID                  models.ID         `json:"id"`
	StoreID             string            `json:"store_id"`
	CustomerID          string            `json:"customer_id"`
	Currency            string            `json:"currency"`
	FinancialStatus     FinancialStatus   `json:"financial_status"`
	FulfillmentStatus   FulfillmentStatus `json:"fulfillment_status"`
	Items               []LineItem        `json:"items"`
	ShippingAddress     Address           `json:"shipping_address"`
	Totals              Totals            `json:"totals"`
	ReservationID       string            `json:"reservation_id,omitempty"`
	PaymentIntentID     string            `json:"payment_intent_id,omitempty"`
	CancelReason        string            `json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time        `json:"cancelled_at,omitempty"`
	NeedsReconciliation bool              `json:"needs_reconciliation"`
	models.Timestamps
	Version models.Version `json:"version"`

	persistedVersion int
	history          []StatusHistoryEntry
	refunds          []*Refund
	events           []*events.Event
}

// NewOrder builds a draft order in PENDING / UNFULFILLED. It is not persisted.
func NewOrder(
	id models.ID,
	storeID, customerID, currency string,
	items []LineItem,
	address Address,
	now time.Time,
) (*Order, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	order := &Order{
		ID:                id,
		StoreID:           strings.TrimSpace(storeID),
		CustomerID:        strings.TrimSpace(customerID),
		Currency:          currency,
		FinancialStatus:   FinancialPending,
		FulfillmentStatus: FulfillmentUnfulfilled,
		Items:             items,
		ShippingAddress:   address,
		Timestamps:        models.NewTimestamps(now),
		Version:           models.NewVersion(),
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	subtotal := models.Zero(currency)
	for _, item := range items {
		subtotal, _ = subtotal.Add(item.Total())
	}
	order.Totals = Totals{
		Subtotal: subtotal,
		Shipping: models.Zero(currency),
		Tax:      models.Zero(currency),
		Total:    subtotal,
		Refunded: models.Zero(currency),
	}
	return order, nil
}

// Validate checks the invariants every persisted order holds
func (o *Order) Validate() error {
	if o.ID.IsEmpty() {
		return NewValidationError("id", errors.New("is required"))
	}
	if o.StoreID == "" {
		return NewValidationError("store_id", errors.New("is required"))
	}
	if o.CustomerID == "" {
		return NewValidationError("customer_id", errors.New("is required"))
	}
	if len(o.Currency) != 3 {
		return NewValidationError("currency", errors.Errorf("invalid currency %q", o.Currency))
	}
	if len(o.Items) == 0 {
		return NewValidationError("items", ErrNoLineItems)
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return NewValidationError("items", errors.Errorf("item %d: product_id is required", i))
		}
		if item.Quantity <= 0 {
			return NewValidationError("items", errors.Wrapf(ErrInvalidQuantity, "item %d", i))
		}
		if item.UnitPrice.IsNegative() {
			return NewValidationError("items", errors.Errorf("item %d: unit price cannot be negative", i))
		}
		if item.UnitPrice.Currency != o.Currency {
			return NewValidationError("items", errors.Wrapf(models.ErrCurrencyMismatch, "item %d", i))
		}
	}
	return nil
}

// Transition applies a validated status change and queues its history entry
func (o *Order) Transition(sm *StateMachine, req TransitionRequest, actor, reason string, now time.Time) error {
	if req.IsEmpty() {
		return nil
	}
	if err := sm.ValidateTransition(o, req); err != nil {
		return err
	}

	entry := StatusHistoryEntry{
		ID:                  models.GenerateUUID(),
		OrderID:             o.ID,
		PreviousFinancial:   o.FinancialStatus,
		NewFinancial:        o.FinancialStatus,
		PreviousFulfillment: o.FulfillmentStatus,
		NewFulfillment:      o.FulfillmentStatus,
		Actor:               actor,
		Reason:              reason,
		CreatedAt:           now.UTC(),
	}
	if req.Financial != nil {
		o.FinancialStatus = *req.Financial
		entry.NewFinancial = *req.Financial
	}
	if req.Fulfillment != nil {
		o.FulfillmentStatus = *req.Fulfillment
		entry.NewFulfillment = *req.Fulfillment
	}
	o.history = append(o.history, entry)
	o.touch(now)

	o.recordEvent(events.OrderStatusChangedEvent, StatusChangedData{
		OrderID:             o.ID.String(),
		PreviousFinancial:   entry.PreviousFinancial,
		NewFinancial:        entry.NewFinancial,
		PreviousFulfillment: entry.PreviousFulfillment,
		NewFulfillment:      entry.NewFulfillment,
		Actor:               actor,
		Reason:              reason,
	})
	return nil
}

// ApplyCheckout stores what the saga gathered: reservation, shipping and tax
// quotes and the payment intent.
func (o *Order) ApplyCheckout(reservation Reservation, shipping ShippingQuote, tax TaxQuote, intent PaymentIntent, now time.Time) error {
	total, err := o.CheckoutTotal(shipping.Amount, tax.Amount)
	if err != nil {
		return err
	}

	o.ReservationID = reservation.ID
	o.PaymentIntentID = intent.ID
	o.Totals.Shipping = shipping.Amount
	o.Totals.Tax = tax.Amount
	o.Totals.Total = total
	o.touch(now)
	return nil
}

// CheckoutTotal is the subtotal plus shipping and tax, the amount the payment
// intent is created for
func (o *Order) CheckoutTotal(shipping, tax models.Money) (models.Money, error) {
	total, err := o.Totals.Subtotal.Add(shipping)
	if err != nil {
		return models.Money{}, errors.Wrap(err, "shipping amount")
	}
	total, err = total.Add(tax)
	if err != nil {
		return models.Money{}, errors.Wrap(err, "tax amount")
	}
	return total, nil
}

// RefundableBalance is what has been paid and not yet returned
func (o *Order) RefundableBalance() models.Money {
	balance, err := o.Totals.Total.Subtract(o.Totals.Refunded)
	if err != nil {
		return models.Zero(o.Currency)
	}
	return balance
}

// PrepareRefund validates a refund amount and returns the refund together with
// the financial status the order ends up in. The order is not modified.
func (o *Order) PrepareRefund(amount models.Money, reason string, now time.Time) (*Refund, FinancialStatus, error) {
	if !amount.IsPositive() {
		return nil, "", NewValidationError("amount", ErrInvalidAmount)
	}
	if amount.Currency != o.Currency {
		return nil, "", NewValidationError("amount", errors.Wrapf(models.ErrCurrencyMismatch, "order is in %s", o.Currency))
	}

	balance := o.RefundableBalance()
	if exceeds, _ := amount.GreaterThan(balance); exceeds {
		return nil, "", &RefundExceedsBalanceError{Requested: amount, Refundable: balance}
	}

	next := FinancialPartiallyRefunded
	if amount.Amount == balance.Amount {
		next = FinancialRefunded
	}
	return &Refund{
		ID:        models.GenerateUUID(),
		OrderID:   o.ID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}, next, nil
}

// RecordRefund books a refund and applies the accompanying transition, if any
func (o *Order) RecordRefund(sm *StateMachine, refund *Refund, req TransitionRequest, actor string, now time.Time) error {
	if err := o.Transition(sm, req, actor, refund.Reason, now); err != nil {
		return err
	}

	refunded, err := o.Totals.Refunded.Add(refund.Amount)
	if err != nil {
		return errors.Wrap(err, "refunded amount")
	}
	o.Totals.Refunded = refunded
	o.refunds = append(o.refunds, refund)
	o.touch(now)

	o.recordEvent(events.OrderRefundCreatedEvent, RefundCreatedData{
		OrderID:          o.ID.String(),
		RefundID:         refund.ID.String(),
		Amount:           refund.Amount,
		ProviderRefundID: refund.ProviderRefundID,
		FinancialStatus:  o.FinancialStatus,
	})
	return nil
}

// MarkCancelled records why the order was cancelled; the statuses are changed
// separately through Transition.
func (o *Order) MarkCancelled(reason, actor string, now time.Time) {
	at := now.UTC()
	o.CancelReason = reason
	o.CancelledAt = &at
	o.touch(now)

	o.recordEvent(events.OrderCancelledEvent, CancelledData{
		OrderID:           o.ID.String(),
		Reason:            reason,
		Actor:             actor,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
	})
}

// FlagForReconciliation marks the order as needing manual attention
func (o *Order) FlagForReconciliation(reason string, now time.Time) {
	o.NeedsReconciliation = true
	o.touch(now)
	o.recordEvent(events.OrderReconciliationRequiredEvent, ReconciliationData{
		OrderID: o.ID.String(),
		Reason:  reason,
	})
}

func (o *Order) IsCancelled() bool {
	return o.CancelledAt != nil
}

// PersistedVersion is the version last read from or written to storage; zero for
// an order that was never saved.
func (o *Order) PersistedVersion() int {
	return o.persistedVersion
}

// MarkPersisted is called by repositories after a load or a successful save
func (o *Order) MarkPersisted() {
	o.persistedVersion = o.Version.Value
	o.history = nil
	o.refunds = nil
}

func (o *Order) PendingHistory() []StatusHistoryEntry {
	return o.history
}

func (o *Order) PendingRefunds() []*Refund {
	return o.refunds
}

func (o *Order) Events() []*events.Event {
	return o.events
}

func (o *Order) ClearEvents() {
	o.events = nil
}

// touch bumps the version once per unsaved change set
func (o *Order) touch(now time.Time) {
	o.Timestamps = o.Timestamps.Touch(now)
	if o.persistedVersion != 0 && o.Version.Value == o.persistedVersion {
		o.Version = o.Version.Next()
	}
}

func (o *Order) recordEvent(topic string, data any) {
	o.events = append(o.events, events.NewEvent(o.ID, topic, data))
}
