package domain

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/draftea/order-system/shared/models"
	"github.com/draftea/order-system/shared/saga"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderExists             = errors.New("order already exists")
	ErrOrderCreationInProgress = errors.New("order creation is still in progress")
	ErrRefundRecorded          = errors.New("refund already recorded")
)

// Reason codes surfaced to clients when order creation fails
const (
	CodeInsufficientStock   = "insufficient_stock"
	CodeNoRateAvailable     = "no_rate_available"
	CodeTaxUnavailable      = "tax_unavailable"
	CodePaymentDeclined     = "payment_declined"
	CodeInvalidPayment      = "invalid_payment_method"
	CodeServiceUnavailable  = "service_unavailable"
	CodeInvalidOrder        = "invalid_order"
	CodeInternal            = "internal_error"
	CodeReconciliationState = "reconciliation_required"
)

// ValidationError is returned for malformed input
type ValidationError struct {
	Field string
	Err   error
}

func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when the table does not allow a move
type InvalidTransitionError struct {
	Axis      string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s", e.Axis, e.Current, e.Requested)
}

// ConcurrentModificationError is returned when an order changed since it was read
type ConcurrentModificationError struct {
	OrderID         models.ID
	ExpectedVersion int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("order %s was modified concurrently (expected version %d)", e.OrderID, e.ExpectedVersion)
}

// Transient lets saga steps re-read and retry after losing a write race
func (e *ConcurrentModificationError) Transient() bool { return true }

type CancellationNotAllowedError struct {
	OrderID         models.ID
	FinancialStatus FinancialStatus
}

func (e *CancellationNotAllowedError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled in financial status %s", e.OrderID, e.FinancialStatus)
}

type RefundNotAllowedError struct {
	OrderID         models.ID
	FinancialStatus FinancialStatus
}

func (e *RefundNotAllowedError) Error() string {
	return fmt.Sprintf("order %s cannot be refunded in financial status %s", e.OrderID, e.FinancialStatus)
}

type RefundExceedsBalanceError struct {
	Requested  models.Money
	Refundable models.Money
}

func (e *RefundExceedsBalanceError) Error() string {
	return fmt.Sprintf("refund of %s exceeds refundable balance %s", e.Requested, e.Refundable)
}

// ExternalServiceError wraps a failed call to inventory, shipping, tax or payments
type ExternalServiceError struct {
	Service    string
	Code       string
	Message    string
	StatusCode int
	Timeout    bool
	Retryable  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s service: %s: %s", e.Service, e.Code, msg)
	}
	return fmt.Sprintf("%s service: %s", e.Service, msg)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Transient drives the saga's default retry classification
func (e *ExternalServiceError) Transient() bool { return e.Retryable }

func (e *ExternalServiceError) ErrorAttributes() saga.ErrorAttributes {
	return saga.ErrorAttributes{
		Service:    e.Service,
		Code:       e.Code,
		StatusCode: e.StatusCode,
		Timeout:    e.Timeout,
	}
}

// OrderCreationFailedError is what CreateOrder returns when the saga rolled back
type OrderCreationFailedError struct {
	OrderID models.ID
	Step    string
	Code    string
	Cause   error
}

func (e *OrderCreationFailedError) Error() string {
	return fmt.Sprintf("order %s creation failed at %s (%s): %v", e.OrderID, e.Step, e.Code, e.Cause)
}

func (e *OrderCreationFailedError) Unwrap() error { return e.Cause }

// ReasonCode maps a saga failure cause to a client facing code
func ReasonCode(err error) string {
	var ext *ExternalServiceError
	if errors.As(err, &ext) {
		if ext.Code != "" {
			return ext.Code
		}
		if ext.Retryable {
			return CodeServiceUnavailable
		}
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return CodeInvalidOrder
	}
	return CodeInternal
}
