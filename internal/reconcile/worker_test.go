package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/broker"
	"github.com/samrddhi/trading-core/internal/coordinator"
	"github.com/samrddhi/trading-core/internal/marketdata"
	"github.com/samrddhi/trading-core/internal/model"
	"github.com/samrddhi/trading-core/internal/store"
	"github.com/samrddhi/trading-core/internal/trade"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestWorker(t *testing.T) (*Worker, *trade.Engine, *store.MemoryStore, *broker.SimGateway, *marketdata.SimFeed) {
	t.Helper()
	st := store.NewMemoryStore()
	gw := broker.NewSimGateway()
	feed := marketdata.NewSimFeed(1, nil)
	feed.SetPrice("AAPL", d("50"))
	eng := trade.NewEngine(st, coordinator.New(2*time.Second), feed, gw, nil)
	w := New(eng, st, gw, feed, time.Second)
	return w, eng, st, gw, feed
}

func submitAccountAndOrder(t *testing.T, eng *trade.Engine) (*model.Account, *model.Order) {
	t.Helper()
	ctx := context.Background()
	acct, err := eng.CreateAccount(ctx, "", d("100000"), d("1"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.SubmitTrade(ctx, trade.SubmitRequest{
		AccountID:   acct.ID,
		Symbol:      "AAPL",
		Side:        model.SideBuy,
		Type:        model.OrderTypeLimit,
		TimeInForce: model.TIFDay,
		Quantity:    d("100"),
		LimitPrice:  d("50"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejection != nil {
		t.Fatalf("unexpected rejection: %s", res.Rejection.Reason)
	}
	return acct, res.Order
}

func TestSweepDrainsFillsToCompletion(t *testing.T) {
	w, eng, st, _, _ := newTestWorker(t)
	ctx := context.Background()
	acct, o := submitAccountAndOrder(t, eng)

	// First sweep releases the 40% tranche.
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}
	stored, _ := st.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusPartiallyFilled || !stored.FilledQty.Equal(d("40")) {
		t.Fatalf("after sweep 1: %s filled %s, want partially_filled 40", stored.Status, stored.FilledQty)
	}

	// Second sweep redelivers the first fill and releases the remainder;
	// the redelivery must not double-apply.
	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}
	stored, _ = st.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusFilled {
		t.Fatalf("after sweep 2: status %s, want filled", stored.Status)
	}

	got, _ := st.GetAccount(ctx, acct.ID)
	if !got.Cash.Equal(d("95000")) {
		t.Fatalf("cash = %s, want 95000 (100 @ 50 exactly once)", got.Cash)
	}
	if !got.BuyingPower.Equal(d("95000")) {
		t.Fatalf("buying power = %s, want 95000", got.BuyingPower)
	}
	pos, err := st.GetPosition(ctx, acct.ID, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.Quantity.Equal(d("100")) || !pos.AvgPrice.Equal(d("50")) {
		t.Fatalf("position = %s @ %s, want 100 @ 50", pos.Quantity, pos.AvgPrice)
	}
}

func TestSweepRecoversLostAcknowledgement(t *testing.T) {
	w, eng, st, gw, _ := newTestWorker(t)
	ctx := context.Background()

	gw.FailSubmits = true
	acct, o := submitAccountAndOrder(t, eng)
	if o.Status != model.StatusPending || o.ExternalID != "" {
		t.Fatalf("precondition: %s %q, want pending with no external id", o.Status, o.ExternalID)
	}
	gw.FailSubmits = false

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// The venue had the order all along; the sweep adopts its id rather
	// than resubmitting, then drains the first tranche.
	stored, _ := st.GetOrder(ctx, o.ID)
	if stored.ExternalID == "" {
		t.Fatal("expected recovered external id")
	}
	if stored.Status != model.StatusPartiallyFilled {
		t.Fatalf("status = %s, want partially_filled", stored.Status)
	}
	if !stored.FilledQty.Equal(d("40")) {
		t.Fatalf("filled = %s, want 40", stored.FilledQty)
	}
	got, _ := st.GetAccount(ctx, acct.ID)
	if !got.Cash.Equal(d("98000")) {
		t.Fatalf("cash = %s, want 98000", got.Cash)
	}
}

func TestSweepLeavesUnknownOrdersPending(t *testing.T) {
	w, eng, st, gw, _ := newTestWorker(t)
	ctx := context.Background()

	// Simulate an order that never reached the venue at all.
	gw.FailSubmits = true
	_, o := submitAccountAndOrder(t, eng)
	gw.FailSubmits = false
	gw.Forget(o.ID)

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	// Venue silence is not a terminal outcome.
	stored, _ := st.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusPending {
		t.Fatalf("status = %s, want still pending", stored.Status)
	}
}

func TestSweepResolvesVenueCancelledRemainder(t *testing.T) {
	w, eng, st, gw, _ := newTestWorker(t)
	ctx := context.Background()
	acct, o := submitAccountAndOrder(t, eng)

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep 1: %v", err)
	}

	// The venue cancels the unfilled 60 behind our back.
	stored, _ := st.GetOrder(ctx, o.ID)
	if err := gw.CancelOrder(ctx, stored.ExternalID); err != nil {
		t.Fatal(err)
	}

	if err := w.Sweep(ctx); err != nil {
		t.Fatalf("sweep 2: %v", err)
	}

	stored, _ = st.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
	if !stored.FilledQty.Equal(d("40")) {
		t.Fatalf("filled = %s, want the 40 that executed", stored.FilledQty)
	}

	// 5000 reserved, 2000 consumed by the fill, 3000 returned on cancel.
	got, _ := st.GetAccount(ctx, acct.ID)
	if !got.BuyingPower.Equal(d("98000")) {
		t.Fatalf("buying power = %s, want 98000", got.BuyingPower)
	}
}

func TestSweepRefreshesMarkPrices(t *testing.T) {
	w, eng, st, _, feed := newTestWorker(t)
	ctx := context.Background()
	acct, o := submitAccountAndOrder(t, eng)

	// Fill fully across two sweeps.
	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	stored, _ := st.GetOrder(ctx, o.ID)
	if stored.Status != model.StatusFilled {
		t.Fatalf("precondition: status %s, want filled", stored.Status)
	}

	feed.SetPrice("AAPL", d("55"))
	if err := w.Sweep(ctx); err != nil {
		t.Fatal(err)
	}

	pos, err := st.GetPosition(ctx, acct.ID, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !pos.MarkPrice.Equal(d("55")) {
		t.Fatalf("mark = %s, want 55", pos.MarkPrice)
	}
	if !pos.UnrealizedPnL().Equal(d("500")) {
		t.Fatalf("unrealized = %s, want 500", pos.UnrealizedPnL())
	}
}

func TestBackoffGrowth(t *testing.T) {
	base := 5 * time.Second
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{10, maxBackoff},
	}
	for _, tc := range cases {
		if got := backoff(base, tc.failures); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.failures, got, tc.want)
		}
	}
}
