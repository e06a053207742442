// Package order implements the order lifecycle state machine. All status
// mutations of a model.Order flow through the transition and fill functions
// here; handlers and workers never assign statuses directly.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

var (
	// ErrAlreadyTerminal is returned when a transition is attempted on an
	// order in a terminal state (filled, cancelled, rejected).
	ErrAlreadyTerminal = errors.New("order: already in terminal state")

	// ErrInvalidTransition is returned for transitions the lifecycle does
	// not permit (e.g. submitted → pending).
	ErrInvalidTransition = errors.New("order: invalid state transition")

	// ErrFillOverflow is returned when a fill would push filled quantity
	// past the requested quantity. This indicates an upstream invariant
	// violation; the fill is refused, never clamped.
	ErrFillOverflow = errors.New("order: fill exceeds requested quantity")

	// ErrNonPositiveFill is returned for fills with zero or negative
	// quantity or price.
	ErrNonPositiveFill = errors.New("order: fill quantity and price must be positive")
)

// legal maps each non-terminal status to the statuses reachable from it.
var legal = map[model.Status][]model.Status{
	model.StatusPending: {
		model.StatusSubmitted,
		model.StatusRejected,
		model.StatusCancelled,
	},
	model.StatusSubmitted: {
		model.StatusPartiallyFilled,
		model.StatusFilled,
		model.StatusCancelled,
	},
	model.StatusPartiallyFilled: {
		model.StatusPartiallyFilled, // further partial fills
		model.StatusFilled,
		model.StatusCancelled,
	},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to model.Status) bool {
	for _, next := range legal[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves o to status to, or returns ErrAlreadyTerminal /
// ErrInvalidTransition without touching o.
func Transition(o *model.Order, to model.Status) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, o.ID, o.Status)
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Acknowledge records broker acceptance: pending → submitted with the
// broker-assigned external id.
func Acknowledge(o *model.Order, externalID string) error {
	if err := Transition(o, model.StatusSubmitted); err != nil {
		return err
	}
	o.ExternalID = externalID
	return nil
}

// Reject moves a pending order to rejected before any fill.
func Reject(o *model.Order) error {
	return Transition(o, model.StatusRejected)
}

// Cancel moves the order to cancelled. The unfilled remainder is what gets
// cancelled; quantity already filled stays filled (a cancel racing a fill
// loses for the quantity the fill covers).
func Cancel(o *model.Order) error {
	return Transition(o, model.StatusCancelled)
}

// ApplyFill advances the order for a fill of qty at price, recomputing the
// running average fill price and the resulting status. Deduplication by
// fill id is the caller's concern (the store's applied_fills record);
// this function assumes the fill is new.
func ApplyFill(o *model.Order, qty, price decimal.Decimal) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, o.ID, o.Status)
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return ErrNonPositiveFill
	}

	newFilled := o.FilledQty.Add(qty)
	if newFilled.GreaterThan(o.RequestedQty) {
		return fmt.Errorf("%w: order %s filled %s + %s > requested %s",
			ErrFillOverflow, o.ID, o.FilledQty, qty, o.RequestedQty)
	}

	next := model.StatusPartiallyFilled
	if newFilled.Equal(o.RequestedQty) {
		next = model.StatusFilled
	}
	if err := Transition(o, next); err != nil {
		return err
	}

	// Weighted running average: (prevFilled×prevAvg + qty×price) / newFilled.
	cost := o.FilledQty.Mul(o.AvgFillPrice).Add(qty.Mul(price))
	o.AvgFillPrice = cost.Div(newFilled)
	o.FilledQty = newFilled
	return nil
}
