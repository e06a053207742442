package order

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newOrder(qty float64) *model.Order {
	return &model.Order{
		ID:           "ord-1",
		AccountID:    "acct-1",
		Symbol:       "AAPL",
		Side:         model.SideBuy,
		Type:         model.OrderTypeMarket,
		RequestedQty: d(qty),
		Status:       model.StatusPending,
	}
}

func TestAcknowledge(t *testing.T) {
	o := newOrder(100)
	if err := Acknowledge(o, "ext-42"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if o.Status != model.StatusSubmitted {
		t.Errorf("status = %s, want submitted", o.Status)
	}
	if o.ExternalID != "ext-42" {
		t.Errorf("external id = %q, want ext-42", o.ExternalID)
	}
}

func TestApplyFill_PartialThenComplete(t *testing.T) {
	o := newOrder(100)
	if err := Acknowledge(o, "ext-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	if err := ApplyFill(o, d(40), d(50)); err != nil {
		t.Fatalf("fill 1: %v", err)
	}
	if o.Status != model.StatusPartiallyFilled {
		t.Errorf("status after fill 1 = %s, want partially_filled", o.Status)
	}
	if !o.FilledQty.Equal(d(40)) {
		t.Errorf("filled qty = %s, want 40", o.FilledQty)
	}

	if err := ApplyFill(o, d(60), d(51)); err != nil {
		t.Fatalf("fill 2: %v", err)
	}
	if o.Status != model.StatusFilled {
		t.Errorf("status after fill 2 = %s, want filled", o.Status)
	}
	// avg = (40×50 + 60×51) / 100 = 50.6
	if !o.AvgFillPrice.Equal(d(50.6)) {
		t.Errorf("avg fill price = %s, want 50.6", o.AvgFillPrice)
	}
}

func TestApplyFill_Overflow(t *testing.T) {
	o := newOrder(100)
	if err := Acknowledge(o, "ext-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := ApplyFill(o, d(80), d(50)); err != nil {
		t.Fatalf("fill 1: %v", err)
	}

	err := ApplyFill(o, d(30), d(50))
	if !errors.Is(err, ErrFillOverflow) {
		t.Fatalf("err = %v, want ErrFillOverflow", err)
	}
	// State untouched by the refused fill.
	if !o.FilledQty.Equal(d(80)) {
		t.Errorf("filled qty = %s, want unchanged 80", o.FilledQty)
	}
	if o.Status != model.StatusPartiallyFilled {
		t.Errorf("status = %s, want unchanged partially_filled", o.Status)
	}
}

func TestApplyFill_OnPendingIsIllegal(t *testing.T) {
	o := newOrder(100)
	err := ApplyFill(o, d(10), d(50))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	terminals := []model.Status{model.StatusFilled, model.StatusCancelled, model.StatusRejected}
	for _, terminal := range terminals {
		o := newOrder(100)
		o.Status = terminal

		if err := Transition(o, model.StatusSubmitted); !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("%s: transition err = %v, want ErrAlreadyTerminal", terminal, err)
		}
		if err := ApplyFill(o, d(10), d(50)); !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("%s: fill err = %v, want ErrAlreadyTerminal", terminal, err)
		}
		if err := Cancel(o); !errors.Is(err, ErrAlreadyTerminal) {
			t.Errorf("%s: cancel err = %v, want ErrAlreadyTerminal", terminal, err)
		}
		if o.Status != terminal {
			t.Errorf("status mutated from %s to %s", terminal, o.Status)
		}
	}
}

func TestCancelAfterPartialFill(t *testing.T) {
	o := newOrder(100)
	if err := Acknowledge(o, "ext-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := ApplyFill(o, d(40), d(50)); err != nil {
		t.Fatalf("fill: %v", err)
	}

	if err := Cancel(o); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", o.Status)
	}
	// Filled portion survives the cancel.
	if !o.FilledQty.Equal(d(40)) {
		t.Errorf("filled qty = %s, want 40", o.FilledQty)
	}
}

func TestCanTransition_Table(t *testing.T) {
	cases := []struct {
		from, to model.Status
		want     bool
	}{
		{model.StatusPending, model.StatusSubmitted, true},
		{model.StatusPending, model.StatusRejected, true},
		{model.StatusPending, model.StatusCancelled, true},
		{model.StatusPending, model.StatusFilled, false},
		{model.StatusSubmitted, model.StatusPartiallyFilled, true},
		{model.StatusSubmitted, model.StatusFilled, true},
		{model.StatusSubmitted, model.StatusPending, false},
		{model.StatusPartiallyFilled, model.StatusPartiallyFilled, true},
		{model.StatusPartiallyFilled, model.StatusFilled, true},
		{model.StatusFilled, model.StatusCancelled, false},
		{model.StatusCancelled, model.StatusSubmitted, false},
		{model.StatusRejected, model.StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNonPositiveFill(t *testing.T) {
	o := newOrder(100)
	if err := Acknowledge(o, "ext-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := ApplyFill(o, decimal.Zero, d(50)); !errors.Is(err, ErrNonPositiveFill) {
		t.Errorf("zero qty err = %v, want ErrNonPositiveFill", err)
	}
	if err := ApplyFill(o, d(10), decimal.Zero); !errors.Is(err, ErrNonPositiveFill) {
		t.Errorf("zero price err = %v, want ErrNonPositiveFill", err)
	}
}
