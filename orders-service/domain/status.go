package domain

import (
	"github.com/pkg/errors"
)

// FinancialStatus tracks the money side of an order
type FinancialStatus string

const (
	FinancialPending           FinancialStatus = "PENDING"
	FinancialAuthorized        FinancialStatus = "AUTHORIZED"
	FinancialPaid              FinancialStatus = "PAID"
	FinancialPartiallyRefunded FinancialStatus = "PARTIALLY_REFUNDED"
	FinancialRefunded          FinancialStatus = "REFUNDED"
	FinancialVoided            FinancialStatus = "VOIDED"
)

// FulfillmentStatus tracks the goods side of an order
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled        FulfillmentStatus = "UNFULFILLED"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "PARTIALLY_FULFILLED"
	FulfillmentFulfilled          FulfillmentStatus = "FULFILLED"
	FulfillmentRestocked          FulfillmentStatus = "RESTOCKED"
)

// financialTransitions is the complete financial transition table. Every status
// has a row; terminal statuses map to an empty list.
var financialTransitions = map[FinancialStatus][]FinancialStatus{
	FinancialPending:           {FinancialAuthorized, FinancialPaid, FinancialVoided},
	FinancialAuthorized:        {FinancialPaid, FinancialVoided},
	FinancialPaid:              {FinancialPartiallyRefunded, FinancialRefunded},
	FinancialPartiallyRefunded: {FinancialRefunded},
	FinancialRefunded:          {},
	FinancialVoided:            {},
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled:        {FulfillmentPartiallyFulfilled, FulfillmentFulfilled},
	FulfillmentPartiallyFulfilled: {FulfillmentFulfilled, FulfillmentRestocked},
	FulfillmentFulfilled:          {FulfillmentRestocked},
	FulfillmentRestocked:          {},
}

// FinancialStatuses lists every financial status
func FinancialStatuses() []FinancialStatus {
	return []FinancialStatus{
		FinancialPending,
		FinancialAuthorized,
		FinancialPaid,
		FinancialPartiallyRefunded,
		FinancialRefunded,
		FinancialVoided,
	}
}

// FulfillmentStatuses lists every fulfillment status
func FulfillmentStatuses() []FulfillmentStatus {
	return []FulfillmentStatus{
		FulfillmentUnfulfilled,
		FulfillmentPartiallyFulfilled,
		FulfillmentFulfilled,
		FulfillmentRestocked,
	}
}

// ParseFinancialStatus rejects values outside the closed set
func ParseFinancialStatus(value string) (FinancialStatus, error) {
	status := FinancialStatus(value)
	if _, ok := financialTransitions[status]; !ok {
		return "", NewValidationError("financial_status", errors.Errorf("unknown financial status %q", value))
	}
	return status, nil
}

// ParseFulfillmentStatus rejects values outside the closed set
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	status := FulfillmentStatus(value)
	if _, ok := fulfillmentTransitions[status]; !ok {
		return "", NewValidationError("fulfillment_status", errors.Errorf("unknown fulfillment status %q", value))
	}
	return status, nil
}

func (s FinancialStatus) String() string { return string(s) }

// Next returns the statuses reachable in one step
func (s FinancialStatus) Next() []FinancialStatus {
	return append([]FinancialStatus(nil), financialTransitions[s]...)
}

// CanTransitionTo reports whether next is a legal successor. Self-loops are not.
func (s FinancialStatus) CanTransitionTo(next FinancialStatus) bool {
	for _, allowed := range financialTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s FinancialStatus) IsTerminal() bool {
	return len(financialTransitions[s]) == 0
}

func (s FulfillmentStatus) String() string { return string(s) }

func (s FulfillmentStatus) Next() []FulfillmentStatus {
	return append([]FulfillmentStatus(nil), fulfillmentTransitions[s]...)
}

func (s FulfillmentStatus) CanTransitionTo(next FulfillmentStatus) bool {
	for _, allowed := range fulfillmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s FulfillmentStatus) IsTerminal() bool {
	return len(fulfillmentTransitions[s]) == 0
}
