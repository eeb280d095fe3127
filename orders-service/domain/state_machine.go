package domain

import (
	"github.com/rs/zerolog"
)

const (
	AxisFinancial   = "financial"
	AxisFulfillment = "fulfillment"
)

// TransitionRequest names the target status per axis. A nil axis is left alone.
type TransitionRequest struct {
	Financial   *FinancialStatus   `json:"financial_status,omitempty"`
	Fulfillment *FulfillmentStatus `json:"fulfillment_status,omitempty"`
}

// ToFinancial requests a financial transition only
func ToFinancial(status FinancialStatus) TransitionRequest {
	return TransitionRequest{Financial: &status}
}

// ToFulfillment requests a fulfillment transition only
func ToFulfillment(status FulfillmentStatus) TransitionRequest {
	return TransitionRequest{Fulfillment: &status}
}

// IsEmpty reports whether the request changes nothing
func (r TransitionRequest) IsEmpty() bool {
	return r.Financial == nil && r.Fulfillment == nil
}

// TransitionSet lists the legal next statuses on both axes
type TransitionSet struct {
	Financial   []FinancialStatus   `json:"financial_status"`
	Fulfillment []FulfillmentStatus `json:"fulfillment_status"`
}

// StateMachine validates status changes against the transition tables. It has
// no state of its own and never mutates the order.
type StateMachine struct {
	logger zerolog.Logger
}

func NewStateMachine(logger zerolog.Logger) *StateMachine {
	return &StateMachine{logger: logger.With().Str("component", "order_state_machine").Logger()}
}

func (sm *StateMachine) CanTransition(order *Order, req TransitionRequest) bool {
	return sm.check(order, req) == nil
}

// ValidateTransition returns an *InvalidTransitionError naming the first axis that
// is not allowed.
func (sm *StateMachine) ValidateTransition(order *Order, req TransitionRequest) error {
	err := sm.check(order, req)
	if err != nil {
		sm.logger.Debug().
			Str("order_id", order.ID.String()).
			Str("axis", err.Axis).
			Str("current", err.Current).
			Str("requested", err.Requested).
			Msg("transition rejected")
		return err
	}
	return nil
}

func (sm *StateMachine) check(order *Order, req TransitionRequest) *InvalidTransitionError {
	if req.Financial != nil && !order.FinancialStatus.CanTransitionTo(*req.Financial) {
		return &InvalidTransitionError{
			Axis:      AxisFinancial,
			Current:   order.FinancialStatus.String(),
			Requested: req.Financial.String(),
		}
	}
	if req.Fulfillment != nil && !order.FulfillmentStatus.CanTransitionTo(*req.Fulfillment) {
		return &InvalidTransitionError{
			Axis:      AxisFulfillment,
			Current:   order.FulfillmentStatus.String(),
			Requested: req.Fulfillment.String(),
		}
	}
	return nil
}

func (sm *StateMachine) ValidTransitions(order *Order) TransitionSet {
	return TransitionSet{
		Financial:   order.FinancialStatus.Next(),
		Fulfillment: order.FulfillmentStatus.Next(),
	}
}

// CanCancelOrder is true until money has been fully returned or the order voided
func (sm *StateMachine) CanCancelOrder(order *Order) bool {
	switch order.FinancialStatus {
	case FinancialRefunded, FinancialVoided:
		return false
	}
	return true
}

// CanRefundOrder is true only for captured orders
func (sm *StateMachine) CanRefundOrder(order *Order) bool {
	return order.FinancialStatus == FinancialPaid
}
