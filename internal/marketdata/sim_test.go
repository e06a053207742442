package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSimFeedUnknownSymbol(t *testing.T) {
	f := NewSimFeed(1, map[string]float64{"AAPL": 190})

	_, err := f.GetQuote(context.Background(), "ZZZZ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSimFeedPinnedPrice(t *testing.T) {
	f := NewSimFeed(1, nil)
	f.SetPrice("AAPL", decimal.NewFromInt(50))

	for i := 0; i < 5; i++ {
		q, err := f.GetQuote(context.Background(), "AAPL")
		if err != nil {
			t.Fatal(err)
		}
		if !q.Price.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("pinned price drifted to %s", q.Price)
		}
		if !q.Bid.LessThan(q.Price) || !q.Ask.GreaterThan(q.Price) {
			t.Fatalf("spread not around price: bid %s ask %s", q.Bid, q.Ask)
		}
	}
}

func TestSimFeedWalkStaysPositive(t *testing.T) {
	f := NewSimFeed(42, map[string]float64{"PENNY": 0.01})

	for i := 0; i < 200; i++ {
		q, err := f.GetQuote(context.Background(), "PENNY")
		if err != nil {
			t.Fatal(err)
		}
		if !q.Price.IsPositive() {
			t.Fatalf("walk produced non-positive price %s on tick %d", q.Price, i)
		}
	}
}
