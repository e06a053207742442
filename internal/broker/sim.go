package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimGateway is an in-process execution venue for development and tests.
// Submitted orders fill in configurable tranches: each PollFills call
// releases the next tranche until the order is fully filled. Cancels take
// the unfilled remainder. The at-least-once contract is honest — PollFills
// always returns every fill recorded so far, so consumers see repeats.
type SimGateway struct {
	mu     sync.Mutex
	orders map[string]*simOrder // by external id
	byCID  map[string]string    // client order id → external id

	// Tranches are the fractions of requested quantity released per
	// poll; the last tranche absorbs rounding remainder.
	Tranches []decimal.Decimal

	// FailSubmits makes SubmitOrder return ErrUnavailable while set,
	// after recording the order venue-side (a lost acknowledgement).
	FailSubmits bool

	// RejectSubmits makes SubmitOrder return ErrRejected.
	RejectSubmits bool
}

type simOrder struct {
	spec      OrderSpec
	filled    decimal.Decimal
	fills     []FillEvent
	cancelled bool
}

// NewSimGateway creates a simulated venue that fills 40% then the rest.
func NewSimGateway() *SimGateway {
	return &SimGateway{
		orders: make(map[string]*simOrder),
		byCID:  make(map[string]string),
		Tranches: []decimal.Decimal{
			decimal.NewFromFloat(0.4),
			decimal.NewFromFloat(0.6),
		},
	}
}

func (g *SimGateway) SubmitOrder(_ context.Context, spec OrderSpec) (Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.RejectSubmits {
		return Ack{}, fmt.Errorf("%w: venue declined %s", ErrRejected, spec.Symbol)
	}

	externalID := "sim-" + uuid.New().String()
	g.orders[externalID] = &simOrder{spec: spec}
	if spec.ClientOrderID != "" {
		g.byCID[spec.ClientOrderID] = externalID
	}

	if g.FailSubmits {
		// Order is recorded venue-side but the ack never makes it back.
		return Ack{}, ErrUnavailable
	}
	return Ack{ExternalID: externalID}, nil
}

func (g *SimGateway) CancelOrder(_ context.Context, externalID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[externalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, externalID)
	}
	if o.cancelled || o.filled.Equal(o.spec.Quantity) {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, externalID)
	}
	o.cancelled = true
	return nil
}

// PollFills releases the next unfilled tranche (unless cancelled) and
// returns every fill recorded so far.
func (g *SimGateway) PollFills(_ context.Context, externalID string) ([]FillEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, externalID)
	}

	if !o.cancelled && o.filled.LessThan(o.spec.Quantity) {
		tranche := len(o.fills)
		var qty decimal.Decimal
		if tranche >= len(g.Tranches)-1 {
			qty = o.spec.Quantity.Sub(o.filled)
		} else {
			qty = o.spec.Quantity.Mul(g.Tranches[tranche])
		}
		if qty.IsPositive() {
			price := o.spec.LimitPrice
			if !price.IsPositive() {
				price = decimal.NewFromInt(100) // sim market fill
			}
			o.filled = o.filled.Add(qty)
			o.fills = append(o.fills, FillEvent{
				FillID:    fmt.Sprintf("%s-f%d", externalID, tranche+1),
				Qty:       qty,
				Price:     price,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	out := make([]FillEvent, len(o.fills))
	copy(out, o.fills)
	return out, nil
}

// Forget drops all venue-side record of a client order id, simulating a
// submission that never reached the venue.
func (g *SimGateway) Forget(clientOrderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if externalID, ok := g.byCID[clientOrderID]; ok {
		delete(g.orders, externalID)
		delete(g.byCID, clientOrderID)
	}
}

func (g *SimGateway) GetOrderByClientID(_ context.Context, clientOrderID string) (BrokerOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	externalID, ok := g.byCID[clientOrderID]
	if !ok {
		return BrokerOrder{}, fmt.Errorf("%w: client id %s", ErrUnknownOrder, clientOrderID)
	}
	o := g.orders[externalID]
	return BrokerOrder{
		ExternalID:    externalID,
		ClientOrderID: clientOrderID,
		Terminal:      o.cancelled || o.filled.Equal(o.spec.Quantity),
	}, nil
}
