// Package ledger owns the account → {symbol → position} mapping and the
// cash effects of fills. The fill math is pure (ComputeFill); the Ledger
// service binds it to the store's atomic commit so that the position
// update, the cash/buying-power update, the order fill fields, and the
// applied-fills record all land in one transaction.
//
// Everything here assumes the caller holds the account coordinator's lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
	"github.com/samrddhi/trading-core/internal/store"
)

// Fill is one execution event to apply to a position.
type Fill struct {
	ID        string
	Qty       decimal.Decimal // positive
	Price     decimal.Decimal // positive
	Timestamp time.Time
}

// FillResult describes the position effect of one fill.
type FillResult struct {
	Position       model.Position
	PositionClosed bool // quantity reached exactly zero
	RealizedPnL    decimal.Decimal
	CashDelta      decimal.Decimal // signed change to account cash
	// ExposureDelta is the change in absolute position notional at the
	// fill price; drives the buying-power adjustment.
	ExposureDelta decimal.Decimal
	// DayTrade is set when the fill closed quantity on a position opened
	// the same UTC day.
	DayTrade bool
}

// ComputeFill applies one fill to a position snapshot and returns the new
// position plus cash/P&L effects. Pure; no I/O.
//
// Rules:
//   - Same-direction additions recompute the average entry price as a
//     weighted cost basis.
//   - Reductions keep the average price and book realized P&L on the
//     closed quantity.
//   - A fill that flips the sign books realized P&L for the portion that
//     closes the existing side, then opens the remainder at the fill price.
//   - Cash moves by exactly qty × price: out on buys, in on sells.
func ComputeFill(pos model.Position, side model.Side, qty, price decimal.Decimal, now time.Time) FillResult {
	signedQty := qty.Mul(side.Sign())
	oldQty := pos.Quantity

	res := FillResult{
		CashDelta: qty.Mul(price).Mul(side.Sign()).Neg(),
	}

	switch {
	case oldQty.IsZero():
		// Opening a fresh position.
		pos.Quantity = signedQty
		pos.AvgPrice = price
		pos.OpenedAt = now

	case oldQty.Sign() == signedQty.Sign():
		// Same-direction addition: weighted cost basis.
		newQty := oldQty.Add(signedQty)
		cost := oldQty.Abs().Mul(pos.AvgPrice).Add(qty.Mul(price))
		pos.AvgPrice = cost.Div(newQty.Abs())
		pos.Quantity = newQty

	default:
		// Reducing, closing, or flipping.
		closeQty := decimal.Min(qty, oldQty.Abs())
		direction := decimal.NewFromInt(int64(oldQty.Sign()))
		res.RealizedPnL = price.Sub(pos.AvgPrice).Mul(closeQty).Mul(direction)
		res.DayTrade = sameUTCDay(pos.OpenedAt, now)

		newQty := oldQty.Add(signedQty)
		switch {
		case newQty.IsZero():
			res.PositionClosed = true
			pos.Quantity = decimal.Zero
		case newQty.Sign() == oldQty.Sign():
			// Partial reduction; cost basis of the remainder unchanged.
			pos.Quantity = newQty
		default:
			// Flip: the remainder opens a new position at the fill price.
			pos.Quantity = newQty
			pos.AvgPrice = price
			pos.OpenedAt = now
		}
	}

	pos.MarkPrice = price
	pos.UpdatedAt = now
	res.ExposureDelta = pos.Quantity.Abs().Sub(oldQty.Abs()).Mul(price)
	res.Position = pos
	return res
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// Valuation is the read-only aggregate over an account's positions.
type Valuation struct {
	AccountValue       decimal.Decimal `json:"account_value"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
}

// Ledger applies fills and valuations against the store. Account and
// position rows are written only through this type (single writer path via
// the account coordinator).
type Ledger struct {
	store store.Store
}

// New creates a ledger over the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// ApplyFill commits one deduplicated fill. The order o must already carry
// its post-fill state (the order state machine runs first); reserveRelease
// is the buying-power reservation being returned for the filled portion.
// Must be called with the account lock held.
//
// Returns store.ErrDuplicateFill if the fill id was already applied;
// callers treat that as idempotent success.
func (l *Ledger) ApplyFill(ctx context.Context, o model.Order, f Fill, reserveRelease decimal.Decimal) (FillResult, error) {
	acct, err := l.store.GetAccount(ctx, o.AccountID)
	if err != nil {
		return FillResult{}, fmt.Errorf("apply fill: load account: %w", err)
	}

	pos := model.Position{AccountID: o.AccountID, Symbol: o.Symbol}
	if existing, err := l.store.GetPosition(ctx, o.AccountID, o.Symbol); err == nil {
		pos = *existing
	} else if !errors.Is(err, store.ErrNotFound) {
		return FillResult{}, fmt.Errorf("apply fill: load position: %w", err)
	}

	now := f.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := ComputeFill(pos, o.Side, f.Qty, f.Price, now)

	acct.Cash = acct.Cash.Add(res.CashDelta)
	// Return the reservation for the filled portion, then charge the
	// actual exposure change at the fill price.
	acct.BuyingPower = acct.BuyingPower.Add(reserveRelease).Sub(res.ExposureDelta)
	acct.DailyRealizedPnL = dailyRealized(acct, now).Add(res.RealizedPnL)
	acct.PnLDay = utcMidnight(now)
	if res.DayTrade {
		acct.DayTradeCount++
	}
	acct.UpdatedAt = now

	fc := store.FillCommit{
		FillID:         f.ID,
		Order:          o,
		Account:        *acct,
		Position:       res.Position,
		DeletePosition: res.PositionClosed,
	}
	if err := l.store.CommitFill(ctx, fc); err != nil {
		return FillResult{}, err
	}
	return res, nil
}

// dailyRealized returns the account's realized P&L for the session that
// contains now, resetting across UTC day boundaries.
func dailyRealized(acct *model.Account, now time.Time) decimal.Decimal {
	if sameUTCDay(acct.PnLDay, now) {
		return acct.DailyRealizedPnL
	}
	return decimal.Zero
}

func utcMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MarkToMarket refreshes the position's mark price. Idempotent; safe to
// call concurrently with readers (the store replaces the row atomically).
func (l *Ledger) MarkToMarket(ctx context.Context, accountID, symbol string, price decimal.Decimal) (*model.Position, error) {
	return l.store.MarkPosition(ctx, accountID, symbol, price)
}

// Valuation aggregates cash plus marked position values for an account.
func (l *Ledger) Valuation(ctx context.Context, accountID string) (Valuation, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Valuation{}, fmt.Errorf("valuation: %w", err)
	}
	positions, err := l.store.GetPositions(ctx, accountID)
	if err != nil {
		return Valuation{}, fmt.Errorf("valuation: %w", err)
	}

	v := Valuation{CashBalance: acct.Cash, AccountValue: acct.Cash}
	for _, p := range positions {
		v.AccountValue = v.AccountValue.Add(p.MarketValue())
		v.TotalUnrealizedPnL = v.TotalUnrealizedPnL.Add(p.UnrealizedPnL())
	}
	return v, nil
}

// DailyPnL is realized P&L for the current UTC day plus unrealized P&L on
// open positions. Input to the risk evaluator's daily-loss gate.
func (l *Ledger) DailyPnL(acct *model.Account, positions []model.Position) decimal.Decimal {
	pnl := dailyRealized(acct, time.Now().UTC())
	for _, p := range positions {
		pnl = pnl.Add(p.UnrealizedPnL())
	}
	return pnl
}
