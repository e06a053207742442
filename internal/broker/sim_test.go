package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func spec(qty, limit float64) OrderSpec {
	return OrderSpec{
		ClientOrderID: "cid-1",
		Symbol:        "AAPL",
		Side:          model.SideBuy,
		Type:          model.OrderTypeLimit,
		TimeInForce:   model.TIFGoodTillCancelled,
		Quantity:      d(qty),
		LimitPrice:    d(limit),
	}
}

func TestSimGateway_FillsInTranches(t *testing.T) {
	g := NewSimGateway()
	ctx := context.Background()

	ack, err := g.SubmitOrder(ctx, spec(100, 50))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fills, err := g.PollFills(ctx, ack.ExternalID)
	if err != nil {
		t.Fatalf("poll 1: %v", err)
	}
	if len(fills) != 1 || !fills[0].Qty.Equal(d(40)) {
		t.Fatalf("poll 1 fills = %+v, want one fill of 40", fills)
	}

	fills, err = g.PollFills(ctx, ack.ExternalID)
	if err != nil {
		t.Fatalf("poll 2: %v", err)
	}
	if len(fills) != 2 || !fills[1].Qty.Equal(d(60)) {
		t.Fatalf("poll 2 fills = %+v, want second fill of 60", fills)
	}

	// At-least-once: further polls repeat all fills with stable ids.
	again, err := g.PollFills(ctx, ack.ExternalID)
	if err != nil {
		t.Fatalf("poll 3: %v", err)
	}
	if len(again) != 2 || again[0].FillID != fills[0].FillID || again[1].FillID != fills[1].FillID {
		t.Fatalf("poll 3 = %+v, want the same two fills", again)
	}
}

func TestSimGateway_CancelStopsRemainder(t *testing.T) {
	g := NewSimGateway()
	ctx := context.Background()

	ack, _ := g.SubmitOrder(ctx, spec(100, 50))
	if _, err := g.PollFills(ctx, ack.ExternalID); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if err := g.CancelOrder(ctx, ack.ExternalID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fills, err := g.PollFills(ctx, ack.ExternalID)
	if err != nil {
		t.Fatalf("poll after cancel: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("fills after cancel = %d, want 1 (remainder cancelled)", len(fills))
	}

	if err := g.CancelOrder(ctx, ack.ExternalID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second cancel err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestSimGateway_LostAckResolvedByClientID(t *testing.T) {
	g := NewSimGateway()
	g.FailSubmits = true
	ctx := context.Background()

	if _, err := g.SubmitOrder(ctx, spec(100, 50)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("submit err = %v, want ErrUnavailable", err)
	}

	// The order exists venue-side despite the lost ack.
	bo, err := g.GetOrderByClientID(ctx, "cid-1")
	if err != nil {
		t.Fatalf("lookup by client id: %v", err)
	}
	if bo.ExternalID == "" || bo.Terminal {
		t.Errorf("broker order = %+v, want live order with external id", bo)
	}
}

func TestSimGateway_Reject(t *testing.T) {
	g := NewSimGateway()
	g.RejectSubmits = true
	if _, err := g.SubmitOrder(context.Background(), spec(100, 50)); !errors.Is(err, ErrRejected) {
		t.Fatalf("submit err = %v, want ErrRejected", err)
	}
}
