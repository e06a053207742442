// Package risk implements the pre-trade risk limit evaluator.
//
// Evaluate is a pure function over an immutable account snapshot (taken
// under the account lock) and a proposed trade: no I/O, no mutation of
// shared state. Rejections carry an unpersisted RiskAlert; persisting it
// is the caller's responsibility.
package risk

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

// Rejection reasons, in check order. ReasonBuyingPower is raised by the
// engine at reservation time, not by Evaluate.
const (
	ReasonPositionSize  = "position size limit exceeded"
	ReasonLeverage      = "leverage limit exceeded"
	ReasonConcentration = "concentration limit exceeded"
	ReasonDailyLoss     = "daily loss limit exceeded"
	ReasonBuyingPower   = "insufficient buying power"
)

// ProposedTrade is the trade under evaluation, priced at the current quote.
type ProposedTrade struct {
	Symbol   string
	Side     model.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal // estimated execution price
}

// Notional is quantity × price for the proposed trade.
func (t ProposedTrade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Decision is the evaluator's outcome. A rejection is a normal decision,
// not an error path.
type Decision struct {
	Approved  bool            `json:"approved"`
	Reason    string          `json:"reason"`
	RiskScore decimal.Decimal `json:"risk_score"`
	// Alert is populated on rejection; the caller persists it.
	Alert *model.RiskAlert `json:"alert,omitempty"`
}

// Evaluate runs the ordered limit checks, short-circuiting on the first
// failure:
//
//  1. post-trade position notional vs max position size
//  2. post-trade total notional vs max leverage × cash
//  3. post-trade symbol concentration vs concentration limit
//  4. daily loss gate on risk-increasing trades
func Evaluate(snap model.AccountSnapshot, trade ProposedTrade) Decision {
	limits := snap.Limits
	pos := snap.PositionFor(trade.Symbol)

	signedQty := trade.Quantity.Mul(trade.Side.Sign())
	postQty := pos.Quantity.Add(signedQty)
	postSymbolNotional := postQty.Abs().Mul(trade.Price)
	riskIncreasing := postQty.Abs().GreaterThan(pos.Quantity.Abs())

	// Post-trade aggregate exposure: current notional with this symbol
	// re-marked at the quote price.
	postTotalNotional := snap.TotalNotional().Sub(pos.Notional()).Add(postSymbolNotional)

	// 1. Notional check against the resulting position, not just the order.
	if limits.MaxPositionSize.IsPositive() && postSymbolNotional.GreaterThan(limits.MaxPositionSize) {
		return reject(snap, trade, ReasonPositionSize, postSymbolNotional, limits.MaxPositionSize,
			fmt.Sprintf("post-trade notional %s exceeds position size limit %s",
				postSymbolNotional.StringFixed(2), limits.MaxPositionSize.StringFixed(2)))
	}

	// 2. Leverage check.
	maxExposure := limits.MaxLeverage.Mul(snap.Account.Cash)
	if limits.MaxLeverage.IsPositive() && postTotalNotional.GreaterThan(maxExposure) {
		return reject(snap, trade, ReasonLeverage, postTotalNotional, maxExposure,
			fmt.Sprintf("post-trade exposure %s exceeds %sx leverage on cash %s",
				postTotalNotional.StringFixed(2), limits.MaxLeverage, snap.Account.Cash.StringFixed(2)))
	}

	// 3. Concentration check.
	accountValue := snap.AccountValue()
	if limits.ConcentrationLimit.IsPositive() && accountValue.IsPositive() {
		concentration := postSymbolNotional.Div(accountValue)
		if concentration.GreaterThan(limits.ConcentrationLimit) {
			return reject(snap, trade, ReasonConcentration, concentration, limits.ConcentrationLimit,
				fmt.Sprintf("%s would be %s%% of account value, limit %s%%",
					trade.Symbol,
					concentration.Mul(decimal.NewFromInt(100)).StringFixed(1),
					limits.ConcentrationLimit.Mul(decimal.NewFromInt(100)).StringFixed(1)))
		}
	}

	// 4. Daily loss gate: once the day's loss reaches the limit, only
	// risk-reducing trades pass.
	if limits.MaxDailyLoss.IsPositive() && riskIncreasing &&
		snap.DailyPnL.LessThanOrEqual(limits.MaxDailyLoss.Neg()) {
		loss := snap.DailyPnL.Abs()
		return reject(snap, trade, ReasonDailyLoss, loss, limits.MaxDailyLoss,
			fmt.Sprintf("daily loss %s has reached limit %s; risk-increasing trades blocked",
				loss.StringFixed(2), limits.MaxDailyLoss.StringFixed(2)))
	}

	return Decision{
		Approved:  true,
		Reason:    "approved",
		RiskScore: score(snap, postSymbolNotional, postTotalNotional),
	}
}

// InsufficientBuyingPower builds the rejection for a trade whose required
// reservation exceeds the account's remaining buying power. Lives here so
// every rejection, whatever its origin, carries a uniformly graded alert.
func InsufficientBuyingPower(snap model.AccountSnapshot, trade ProposedTrade, required decimal.Decimal) Decision {
	return reject(snap, trade, ReasonBuyingPower, required, snap.Account.BuyingPower,
		fmt.Sprintf("requires %s buying power, %s available",
			required.StringFixed(2), snap.Account.BuyingPower.StringFixed(2)))
}

// reject builds a rejection decision with its alert. Severity grades how
// far the computed value overshot the threshold.
func reject(snap model.AccountSnapshot, trade ProposedTrade, reason string, value, threshold decimal.Decimal, message string) Decision {
	sev := Severity(value, threshold)
	return Decision{
		Approved:  false,
		Reason:    reason,
		RiskScore: decimal.NewFromInt(1),
		Alert: &model.RiskAlert{
			ID:        uuid.New().String(),
			AccountID: snap.Account.ID,
			Severity:  sev,
			Title:     reason,
			Message: fmt.Sprintf("%s %s %s %s: %s",
				trade.Side, trade.Quantity, trade.Symbol, trade.Price.StringFixed(2), message),
			CreatedAt: time.Now().UTC(),
		},
	}
}

// Severity maps the overage ratio (value - threshold) / threshold to an
// alert severity: >50% over is critical, >25% high, >10% medium, else low.
func Severity(value, threshold decimal.Decimal) model.AlertSeverity {
	if !threshold.IsPositive() {
		return model.SeverityCritical
	}
	over := value.Sub(threshold).Div(threshold)
	switch {
	case over.GreaterThan(decimal.NewFromFloat(0.5)):
		return model.SeverityCritical
	case over.GreaterThan(decimal.NewFromFloat(0.25)):
		return model.SeverityHigh
	case over.GreaterThan(decimal.NewFromFloat(0.1)):
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// score blends limit utilizations into a [0,1] risk score for approved
// trades: how close the account would sit to its limits post-trade.
func score(snap model.AccountSnapshot, postSymbolNotional, postTotalNotional decimal.Decimal) decimal.Decimal {
	limits := snap.Limits
	var parts []decimal.Decimal

	if limits.MaxPositionSize.IsPositive() {
		parts = append(parts, postSymbolNotional.Div(limits.MaxPositionSize))
	}
	if maxExposure := limits.MaxLeverage.Mul(snap.Account.Cash); maxExposure.IsPositive() {
		parts = append(parts, postTotalNotional.Div(maxExposure))
	}
	if av := snap.AccountValue(); limits.ConcentrationLimit.IsPositive() && av.IsPositive() {
		parts = append(parts, postSymbolNotional.Div(av).Div(limits.ConcentrationLimit))
	}
	if len(parts) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p)
	}
	s := sum.Div(decimal.NewFromInt(int64(len(parts)))).Round(4)
	one := decimal.NewFromInt(1)
	if s.GreaterThan(one) {
		return one
	}
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}
