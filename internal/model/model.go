// Package model defines the core domain types shared across the trading core.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for buys and -1 for sells, as a decimal multiplier
// for signed quantity/cash arithmetic.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderType enumerates supported order types.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStop         OrderType = "stop"
	OrderTypeStopLimit    OrderType = "stop_limit"
	OrderTypeTrailingStop OrderType = "trailing_stop"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// TimeInForce enumerates order validity policies.
type TimeInForce string

const (
	TIFGoodTillCancelled TimeInForce = "gtc"
	TIFDay               TimeInForce = "day"
	TIFImmediateOrCancel TimeInForce = "ioc"
	TIFFillOrKill        TimeInForce = "fok"
)

// Valid reports whether tif is a known time-in-force.
func (tif TimeInForce) Valid() bool {
	switch tif {
	case TIFGoodTillCancelled, TIFDay, TIFImmediateOrCancel, TIFFillOrKill:
		return true
	}
	return false
}

// Account holds cash and margin state for one trading account.
// Mutated only under the account coordinator's lock.
type Account struct {
	ID            string          `json:"id" db:"id"`
	Cash          decimal.Decimal `json:"cash" db:"cash"`
	BuyingPower   decimal.Decimal `json:"buying_power" db:"buying_power"`
	Leverage      decimal.Decimal `json:"leverage" db:"leverage"`
	DayTradeCount int             `json:"day_trade_count" db:"day_trade_count"`
	// DailyRealizedPnL accumulates realized P&L for PnLDay (UTC); the
	// ledger resets it across day boundaries.
	DailyRealizedPnL decimal.Decimal `json:"daily_realized_pnl" db:"daily_realized_pnl"`
	PnLDay           time.Time       `json:"pnl_day" db:"pnl_day"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is a trader's holding in one symbol. Quantity is signed:
// positive = long, negative = short. Deleted when quantity returns to
// exactly zero.
type Position struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"`
	MarkPrice decimal.Decimal `json:"mark_price" db:"mark_price"`
	OpenedAt  time.Time       `json:"opened_at" db:"opened_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// MarketValue is quantity × mark price (signed).
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice)
}

// Notional is the absolute dollar exposure of the position at its mark.
func (p Position) Notional() decimal.Decimal {
	return p.MarketValue().Abs()
}

// UnrealizedPnL is (mark - avg) × quantity; correct for both signs.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarkPrice.Sub(p.AvgPrice).Mul(p.Quantity)
}

// Order is a trade intent moving through the execution lifecycle.
// Status transitions are owned exclusively by the order state machine.
type Order struct {
	ID               string          `json:"id" db:"id"`
	AccountID        string          `json:"account_id" db:"account_id"`
	Symbol           string          `json:"symbol" db:"symbol"`
	Side             Side            `json:"side" db:"side"`
	Type             OrderType       `json:"type" db:"type"`
	TimeInForce      TimeInForce     `json:"time_in_force" db:"time_in_force"`
	RequestedQty     decimal.Decimal `json:"requested_qty" db:"requested_qty"`
	FilledQty        decimal.Decimal `json:"filled_qty" db:"filled_qty"`
	AvgFillPrice     decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	LimitPrice       decimal.Decimal `json:"limit_price" db:"limit_price"`
	StopPrice        decimal.Decimal `json:"stop_price" db:"stop_price"`
	ReservedNotional decimal.Decimal `json:"reserved_notional" db:"reserved_notional"`
	Status           Status          `json:"status" db:"status"`
	ExternalID       string          `json:"external_id,omitempty" db:"external_id"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// RemainingQty is the unfilled portion of the order.
func (o Order) RemainingQty() decimal.Decimal {
	return o.RequestedQty.Sub(o.FilledQty)
}

// RiskLimits are the per-account thresholds the evaluator checks against.
// Read-mostly; updated out-of-band by an administrative path.
type RiskLimits struct {
	AccountID          string          `json:"account_id" db:"account_id"`
	MaxPositionSize    decimal.Decimal `json:"max_position_size" db:"max_position_size"`
	MaxDailyLoss       decimal.Decimal `json:"max_daily_loss" db:"max_daily_loss"` // positive magnitude
	MaxLeverage        decimal.Decimal `json:"max_leverage" db:"max_leverage"`
	ConcentrationLimit decimal.Decimal `json:"concentration_limit" db:"concentration_limit"`
}

// DefaultRiskLimits returns the limits assigned to a new account.
func DefaultRiskLimits(accountID string) RiskLimits {
	return RiskLimits{
		AccountID:          accountID,
		MaxPositionSize:    decimal.NewFromInt(50000),
		MaxDailyLoss:       decimal.NewFromInt(1000),
		MaxLeverage:        decimal.NewFromInt(2),
		ConcentrationLimit: decimal.NewFromFloat(0.25),
	}
}

// AlertSeverity grades how far a risk check was exceeded.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// RiskAlert is an append-only record of a rejected or flagged risk check.
// Never mutated after creation except for AcknowledgedAt.
type RiskAlert struct {
	ID             string        `json:"id" db:"id"`
	AccountID      string        `json:"account_id" db:"account_id"`
	Severity       AlertSeverity `json:"severity" db:"severity"`
	Title          string        `json:"title" db:"title"`
	Message        string        `json:"message" db:"message"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}

// Quote is a market data snapshot for one symbol.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// AccountSnapshot is the read-only aggregate returned to callers and fed
// into the risk evaluator. Taken under the account lock.
type AccountSnapshot struct {
	Account    Account    `json:"account"`
	Positions  []Position `json:"positions"`
	OpenOrders []Order    `json:"open_orders"`
	Limits     RiskLimits `json:"limits"`
	// DailyPnL is realized + unrealized P&L for the current session.
	DailyPnL decimal.Decimal `json:"daily_pnl"`
}

// AccountValue is cash plus the market value of all positions.
func (s AccountSnapshot) AccountValue() decimal.Decimal {
	v := s.Account.Cash
	for _, p := range s.Positions {
		v = v.Add(p.MarketValue())
	}
	return v
}

// PositionFor returns the snapshot's position in symbol, or a zero position.
func (s AccountSnapshot) PositionFor(symbol string) Position {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return Position{AccountID: s.Account.ID, Symbol: symbol}
}

// TotalNotional is the aggregate absolute exposure across all positions.
func (s AccountSnapshot) TotalNotional() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.Positions {
		total = total.Add(p.Notional())
	}
	return total
}
