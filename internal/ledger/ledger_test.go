package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2025, 8, 15, 14, 30, 0, 0, time.UTC)

func TestComputeFill_OpenLong(t *testing.T) {
	pos := model.Position{AccountID: "a1", Symbol: "AAPL"}
	res := ComputeFill(pos, model.SideBuy, d(100), d(50), now)

	if !res.Position.Quantity.Equal(d(100)) {
		t.Errorf("quantity = %s, want 100", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d(50)) {
		t.Errorf("avg price = %s, want 50", res.Position.AvgPrice)
	}
	if !res.CashDelta.Equal(d(-5000)) {
		t.Errorf("cash delta = %s, want -5000", res.CashDelta)
	}
	if !res.RealizedPnL.IsZero() {
		t.Errorf("realized pnl = %s, want 0", res.RealizedPnL)
	}
	if !res.ExposureDelta.Equal(d(5000)) {
		t.Errorf("exposure delta = %s, want 5000", res.ExposureDelta)
	}
}

func TestComputeFill_WeightedAverageAddition(t *testing.T) {
	pos := model.Position{Quantity: d(40), AvgPrice: d(50), OpenedAt: now}
	res := ComputeFill(pos, model.SideBuy, d(60), d(51), now)

	if !res.Position.Quantity.Equal(d(100)) {
		t.Errorf("quantity = %s, want 100", res.Position.Quantity)
	}
	// (40×50 + 60×51) / 100 = 50.6
	if !res.Position.AvgPrice.Equal(d(50.6)) {
		t.Errorf("avg price = %s, want 50.6", res.Position.AvgPrice)
	}
	if !res.CashDelta.Equal(d(-3060)) {
		t.Errorf("cash delta = %s, want -3060", res.CashDelta)
	}
}

func TestComputeFill_PartialReduction(t *testing.T) {
	pos := model.Position{Quantity: d(100), AvgPrice: d(10), OpenedAt: now.AddDate(0, 0, -2)}
	res := ComputeFill(pos, model.SideSell, d(40), d(12), now)

	if !res.Position.Quantity.Equal(d(60)) {
		t.Errorf("quantity = %s, want 60", res.Position.Quantity)
	}
	// Cost basis of the remainder unchanged.
	if !res.Position.AvgPrice.Equal(d(10)) {
		t.Errorf("avg price = %s, want 10", res.Position.AvgPrice)
	}
	if !res.RealizedPnL.Equal(d(80)) {
		t.Errorf("realized pnl = %s, want (12-10)×40 = 80", res.RealizedPnL)
	}
	if !res.CashDelta.Equal(d(480)) {
		t.Errorf("cash delta = %s, want +480", res.CashDelta)
	}
	if res.DayTrade {
		t.Error("close of a two-day-old position counted as day trade")
	}
}

func TestComputeFill_ExactClose(t *testing.T) {
	pos := model.Position{Quantity: d(100), AvgPrice: d(10), OpenedAt: now}
	res := ComputeFill(pos, model.SideSell, d(100), d(12), now)

	if !res.PositionClosed {
		t.Error("expected position closed at exactly zero")
	}
	if !res.Position.Quantity.IsZero() {
		t.Errorf("quantity = %s, want 0", res.Position.Quantity)
	}
	if !res.RealizedPnL.Equal(d(200)) {
		t.Errorf("realized pnl = %s, want 200", res.RealizedPnL)
	}
	if !res.DayTrade {
		t.Error("same-day round trip not counted as day trade")
	}
}

func TestComputeFill_FlipLongToShort(t *testing.T) {
	// Long 100 @ $10; sell 150 @ $12 → realize $200 on the close,
	// remainder opens short 50 @ $12.
	pos := model.Position{Quantity: d(100), AvgPrice: d(10), OpenedAt: now.AddDate(0, 0, -1)}
	res := ComputeFill(pos, model.SideSell, d(150), d(12), now)

	if !res.Position.Quantity.Equal(d(-50)) {
		t.Errorf("quantity = %s, want -50", res.Position.Quantity)
	}
	if !res.Position.AvgPrice.Equal(d(12)) {
		t.Errorf("avg price = %s, want 12", res.Position.AvgPrice)
	}
	if !res.RealizedPnL.Equal(d(200)) {
		t.Errorf("realized pnl = %s, want 200", res.RealizedPnL)
	}
	if !res.CashDelta.Equal(d(1800)) {
		t.Errorf("cash delta = %s, want +150×12 = 1800", res.CashDelta)
	}
	// Exposure went from 100×12 to 50×12.
	if !res.ExposureDelta.Equal(d(-600)) {
		t.Errorf("exposure delta = %s, want -600", res.ExposureDelta)
	}
	if res.Position.OpenedAt != now {
		t.Error("flipped position should reopen at the fill time")
	}
}

func TestComputeFill_ShortCoverWithLoss(t *testing.T) {
	pos := model.Position{Quantity: d(-100), AvgPrice: d(20), OpenedAt: now.AddDate(0, 0, -1)}
	res := ComputeFill(pos, model.SideBuy, d(100), d(25), now)

	if !res.PositionClosed {
		t.Error("expected short fully covered")
	}
	// Short sold at 20, covered at 25 → loss of 500.
	if !res.RealizedPnL.Equal(d(-500)) {
		t.Errorf("realized pnl = %s, want -500", res.RealizedPnL)
	}
	if !res.CashDelta.Equal(d(-2500)) {
		t.Errorf("cash delta = %s, want -2500", res.CashDelta)
	}
}

// Conservation: over any fill sequence, cash moves by exactly
// -Σ(qty × price × sign), with zero decimal drift.
func TestComputeFill_Conservation(t *testing.T) {
	type step struct {
		side  model.Side
		qty   float64
		price float64
	}
	steps := []step{
		{model.SideBuy, 33, 10.01},
		{model.SideBuy, 67, 10.07},
		{model.SideSell, 50, 10.11},
		{model.SideSell, 150, 9.97}, // flips short
		{model.SideBuy, 100, 10.03}, // covers back to flat
	}

	pos := model.Position{AccountID: "a1", Symbol: "AAPL"}
	cash := d(100000)
	expected := d(100000)

	for i, s := range steps {
		res := ComputeFill(pos, s.side, d(s.qty), d(s.price), now)
		cash = cash.Add(res.CashDelta)
		expected = expected.Sub(d(s.qty).Mul(d(s.price)).Mul(s.side.Sign()))
		if !cash.Equal(expected) {
			t.Fatalf("step %d: cash = %s, want %s", i, cash, expected)
		}
		pos = res.Position
	}

	if !pos.Quantity.IsZero() {
		t.Errorf("final quantity = %s, want flat", pos.Quantity)
	}
}

func TestDailyRealized_ResetsAcrossDays(t *testing.T) {
	acct := &model.Account{
		DailyRealizedPnL: d(300),
		PnLDay:           utcMidnight(now),
	}
	if got := dailyRealized(acct, now); !got.Equal(d(300)) {
		t.Errorf("same day realized = %s, want 300", got)
	}
	nextDay := now.AddDate(0, 0, 1)
	if got := dailyRealized(acct, nextDay); !got.IsZero() {
		t.Errorf("next day realized = %s, want 0", got)
	}
}
