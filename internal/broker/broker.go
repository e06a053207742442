// Package broker defines the external execution venue the trading core
// submits orders to, plus a simulated venue for development and tests.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

var (
	// ErrRejected is returned when the venue declines an order outright.
	ErrRejected = errors.New("broker: order rejected")

	// ErrUnavailable is returned on venue outage or timeout. After a
	// durable local record exists this is NOT safely retryable by
	// resubmission; the reconciliation worker resolves the ambiguity via
	// the client order id.
	ErrUnavailable = errors.New("broker: unavailable")

	// ErrAlreadyTerminal is returned by CancelOrder when the venue-side
	// order can no longer be cancelled.
	ErrAlreadyTerminal = errors.New("broker: order already terminal")

	// ErrUnknownOrder is returned when the venue has no order for the
	// given id.
	ErrUnknownOrder = errors.New("broker: unknown order")
)

// OrderSpec is the order submission payload. ClientOrderID is the local
// order id; the venue echoes it back so a lost acknowledgement can be
// correlated later.
type OrderSpec struct {
	ClientOrderID string
	Symbol        string
	Side          model.Side
	Type          model.OrderType
	TimeInForce   model.TimeInForce
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
}

// Ack is the venue's acceptance of an order.
type Ack struct {
	ExternalID string
}

// FillEvent is one execution reported by the venue. FillID is unique per
// fill; delivery is at-least-once, so consumers deduplicate on it.
type FillEvent struct {
	FillID    string
	Qty       decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// BrokerOrder is the venue's view of an order, used by the reconciler to
// resolve submissions whose acknowledgement was lost.
type BrokerOrder struct {
	ExternalID    string
	ClientOrderID string
	Terminal      bool
}

// Gateway is the execution venue interface the core consumes.
type Gateway interface {
	// SubmitOrder sends the order to the venue. Fails with ErrRejected
	// or ErrUnavailable.
	SubmitOrder(ctx context.Context, spec OrderSpec) (Ack, error)

	// CancelOrder cancels the unfilled remainder of a venue order.
	// Fails with ErrAlreadyTerminal, ErrUnknownOrder, or ErrUnavailable.
	CancelOrder(ctx context.Context, externalID string) error

	// PollFills returns all fills the venue has recorded for the order.
	// Events may repeat across polls; each carries a unique FillID.
	PollFills(ctx context.Context, externalID string) ([]FillEvent, error)

	// GetOrderByClientID looks an order up by the client order id set at
	// submission. Fails with ErrUnknownOrder or ErrUnavailable.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (BrokerOrder, error)
}
