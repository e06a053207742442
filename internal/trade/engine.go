// Package trade provides the order lifecycle engine and its HTTP handlers:
// risk-gated submission, cancellation, fill application, and account
// snapshots.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every read-modify-write over one account runs under the account
// coordinator's lock; the broker round trip deliberately does not. Instead
// buying power is reserved inside the lock, the lock is released for the
// venue call, and a brief re-acquire records the outcome.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/broker"
	"github.com/samrddhi/trading-core/internal/coordinator"
	"github.com/samrddhi/trading-core/internal/ledger"
	"github.com/samrddhi/trading-core/internal/marketdata"
	"github.com/samrddhi/trading-core/internal/metrics"
	"github.com/samrddhi/trading-core/internal/model"
	"github.com/samrddhi/trading-core/internal/order"
	"github.com/samrddhi/trading-core/internal/risk"
	"github.com/samrddhi/trading-core/internal/store"
)

var (
	// ErrOrderNotFound is returned when an order id does not exist or
	// belongs to a different account.
	ErrOrderNotFound = errors.New("trade: order not found")

	// ErrQuoteUnavailable wraps market data failures; retryable.
	ErrQuoteUnavailable = errors.New("trade: quote unavailable")
)

// ValidationError is a malformed request, rejected before touching the
// account lock or persistence.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

var symbolRe = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

// Engine coordinates the order lifecycle. It is the only writer of order
// state and, through the ledger, of account and position state.
type Engine struct {
	store  store.Store
	ledger *ledger.Ledger
	coord  *coordinator.Coordinator
	feed   marketdata.Feed
	broker broker.Gateway
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewEngine creates the trade engine. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewEngine(st store.Store, coord *coordinator.Coordinator, feed marketdata.Feed, gw broker.Gateway, hub *WSHub) *Engine {
	return &Engine{
		store:  st,
		ledger: ledger.New(st),
		coord:  coord,
		feed:   feed,
		broker: gw,
		wsHub:  hub,
	}
}

// --- Requests and results ---

// SubmitRequest is a trade intent from an authenticated caller.
type SubmitRequest struct {
	AccountID   string            `json:"account_id"`
	Symbol      string            `json:"symbol"`
	Side        model.Side        `json:"side"`
	Type        model.OrderType   `json:"type"`
	TimeInForce model.TimeInForce `json:"time_in_force"`
	Quantity    decimal.Decimal   `json:"quantity"`
	LimitPrice  decimal.Decimal   `json:"limit_price"`
	StopPrice   decimal.Decimal   `json:"stop_price"`
}

// SubmitResult is the outcome of SubmitTrade. Exactly one of Order and
// Rejection is set: a risk rejection is a normal decision, not an error.
type SubmitResult struct {
	Order     *model.Order   `json:"order,omitempty"`
	Rejection *risk.Decision `json:"rejection,omitempty"`
}

func (r SubmitRequest) validate() error {
	if r.AccountID == "" {
		return invalid("account_id is required")
	}
	if !symbolRe.MatchString(r.Symbol) {
		return invalid("bad symbol %q", r.Symbol)
	}
	if !r.Side.Valid() {
		return invalid("side must be buy or sell")
	}
	if !r.Type.Valid() {
		return invalid("unknown order type %q", r.Type)
	}
	if !r.TimeInForce.Valid() {
		return invalid("unknown time in force %q", r.TimeInForce)
	}
	if !r.Quantity.IsPositive() {
		return invalid("quantity must be positive")
	}
	switch r.Type {
	case model.OrderTypeLimit, model.OrderTypeStopLimit:
		if !r.LimitPrice.IsPositive() {
			return invalid("%s order requires a positive limit_price", r.Type)
		}
	}
	switch r.Type {
	case model.OrderTypeStop, model.OrderTypeStopLimit, model.OrderTypeTrailingStop:
		if !r.StopPrice.IsPositive() {
			return invalid("%s order requires a positive stop_price", r.Type)
		}
	}
	return nil
}

// estimatedPrice is the price the risk check and reservation are computed
// at: the limit price when one is set, else the live quote.
func (r SubmitRequest) estimatedPrice(q model.Quote) decimal.Decimal {
	if r.LimitPrice.IsPositive() {
		return r.LimitPrice
	}
	return q.Price
}

// --- Accounts ---

// CreateAccount provisions an account with initial cash, full buying
// power at the given leverage, and default risk limits.
func (e *Engine) CreateAccount(ctx context.Context, id string, cash, leverage decimal.Decimal) (*model.Account, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if cash.IsNegative() {
		return nil, invalid("initial cash must not be negative")
	}
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}

	now := time.Now().UTC()
	acct := &model.Account{
		ID:          id,
		Cash:        cash,
		BuyingPower: cash.Mul(leverage),
		Leverage:    leverage,
		PnLDay:      now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	limits := model.DefaultRiskLimits(id)
	limits.MaxLeverage = leverage
	if err := e.store.CreateAccount(ctx, acct, limits); err != nil {
		return nil, err
	}
	slog.Info("account created", "account", id, "cash", cash.String(), "leverage", leverage.String())
	return acct, nil
}

// GetAccountSnapshot returns cash, buying power, positions, and open
// orders, read consistently under the account lock.
func (e *Engine) GetAccountSnapshot(ctx context.Context, accountID string) (model.AccountSnapshot, error) {
	var snap model.AccountSnapshot
	err := e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		var err error
		snap, err = e.loadSnapshot(ctx, accountID)
		return err
	})
	return snap, err
}

// loadSnapshot must be called with the account lock held.
func (e *Engine) loadSnapshot(ctx context.Context, accountID string) (model.AccountSnapshot, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	positions, err := e.store.GetPositions(ctx, accountID)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	limits, err := e.store.GetRiskLimits(ctx, accountID)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	open, err := e.store.ListOpenOrders(ctx, accountID)
	if err != nil {
		return model.AccountSnapshot{}, err
	}
	return model.AccountSnapshot{
		Account:    *acct,
		Positions:  positions,
		OpenOrders: open,
		Limits:     *limits,
		DailyPnL:   e.ledger.DailyPnL(acct, positions),
	}, nil
}

// --- Submission ---

// SubmitTrade validates, risk-checks, durably records, and submits one
// trade intent. The account lock covers snapshot → risk evaluation →
// order creation with buying-power reservation; the broker call happens
// outside it, and a second short critical section records the outcome.
//
// If the broker is unreachable after the order is durably pending, the
// order is returned in pending state and the reconciliation worker
// resolves the ambiguity — never resubmit.
func (e *Engine) SubmitTrade(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		return SubmitResult{}, err
	}

	quote, err := e.feed.GetQuote(ctx, req.Symbol)
	if err != nil {
		if errors.Is(err, marketdata.ErrNotFound) {
			return SubmitResult{}, invalid("unknown symbol %q", req.Symbol)
		}
		return SubmitResult{}, fmt.Errorf("%w: %w", ErrQuoteUnavailable, err)
	}
	price := req.estimatedPrice(quote)

	var (
		o         *model.Order
		rejection *risk.Decision
	)
	err = e.coord.WithAccount(ctx, req.AccountID, func(ctx context.Context) error {
		snap, err := e.loadSnapshot(ctx, req.AccountID)
		if err != nil {
			return err
		}

		proposed := risk.ProposedTrade{
			Symbol:   req.Symbol,
			Side:     req.Side,
			Quantity: req.Quantity,
			Price:    price,
		}
		dec := risk.Evaluate(snap, proposed)

		reserve := decimal.Zero
		if dec.Approved && riskIncreasing(snap, proposed) {
			reserve = proposed.Notional()
			if reserve.GreaterThan(snap.Account.BuyingPower) {
				dec = risk.InsufficientBuyingPower(snap, proposed, reserve)
			}
		}

		if !dec.Approved {
			if dec.Alert != nil {
				if err := e.store.InsertAlert(ctx, dec.Alert); err != nil {
					return fmt.Errorf("persist risk alert: %w", err)
				}
			}
			metrics.RiskRejections.WithLabelValues(dec.Reason).Inc()
			slog.Info("trade rejected",
				"account", req.AccountID,
				"symbol", req.Symbol,
				"reason", dec.Reason,
			)
			rejection = &dec
			return nil
		}

		now := time.Now().UTC()
		o = &model.Order{
			ID:               uuid.New().String(),
			AccountID:        req.AccountID,
			Symbol:           req.Symbol,
			Side:             req.Side,
			Type:             req.Type,
			TimeInForce:      req.TimeInForce,
			RequestedQty:     req.Quantity,
			LimitPrice:       req.LimitPrice,
			StopPrice:        req.StopPrice,
			ReservedNotional: reserve,
			Status:           model.StatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		acct := snap.Account
		acct.BuyingPower = acct.BuyingPower.Sub(reserve)
		acct.UpdatedAt = now
		return e.store.CreateOrder(ctx, o, &acct)
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if rejection != nil {
		return SubmitResult{Rejection: rejection}, nil
	}

	// Venue round trip, outside the lock.
	ack, submitErr := e.broker.SubmitOrder(ctx, broker.OrderSpec{
		ClientOrderID: o.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   o.TimeInForce,
		Quantity:      o.RequestedQty,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
	})

	switch {
	case submitErr == nil:
		if err := e.RecordAck(ctx, o.AccountID, o.ID, ack.ExternalID); err != nil {
			return SubmitResult{}, err
		}
		o.Status = model.StatusSubmitted
		o.ExternalID = ack.ExternalID

	case errors.Is(submitErr, broker.ErrRejected):
		if err := e.rejectOrder(ctx, o.AccountID, o.ID); err != nil {
			return SubmitResult{}, err
		}
		o.Status = model.StatusRejected

	default:
		// Post-submission uncertainty: the order is durably pending and
		// may or may not exist venue-side. The reconciler resolves it by
		// client order id; resubmitting here would risk a double order.
		slog.Warn("broker unreachable after durable order record, leaving pending for reconciliation",
			"order", o.ID,
			"account", o.AccountID,
			"err", submitErr,
		)
	}

	metrics.OrdersSubmitted.WithLabelValues(string(o.Side), string(o.Type)).Inc()
	metrics.SubmitLatency.Observe(time.Since(start).Seconds())
	slog.Info("trade submitted",
		"order", o.ID,
		"account", o.AccountID,
		"symbol", o.Symbol,
		"side", o.Side,
		"qty", o.RequestedQty.String(),
		"status", o.Status,
	)
	e.broadcast("order_submitted", o, decimal.Zero)
	return SubmitResult{Order: o}, nil
}

// riskIncreasing reports whether the trade grows the absolute position.
func riskIncreasing(snap model.AccountSnapshot, t risk.ProposedTrade) bool {
	pos := snap.PositionFor(t.Symbol)
	post := pos.Quantity.Add(t.Quantity.Mul(t.Side.Sign()))
	return post.Abs().GreaterThan(pos.Quantity.Abs())
}

// RecordAck transitions a pending order to submitted with its broker id.
// Also used by the reconciliation worker when the original acknowledgement
// was lost.
func (e *Engine) RecordAck(ctx context.Context, accountID, orderID, externalID string) error {
	return e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == model.StatusSubmitted && o.ExternalID == externalID {
			return nil // ack already recorded
		}
		if err := order.Acknowledge(o, externalID); err != nil {
			return err
		}
		return e.store.UpdateOrder(ctx, o, nil)
	})
}

// rejectOrder reverses a pending order the venue declined, returning its
// buying-power reservation.
func (e *Engine) rejectOrder(ctx context.Context, accountID, orderID string) error {
	return e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Reject(o); err != nil {
			return err
		}
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		acct.BuyingPower = acct.BuyingPower.Add(o.ReservedNotional)
		acct.UpdatedAt = time.Now().UTC()
		o.ReservedNotional = decimal.Zero
		return e.store.UpdateOrder(ctx, o, acct)
	})
}

// --- Cancellation ---

// CancelTrade cancels the unfilled remainder of an order. Best-effort
// against in-flight fills: a fill that lands first wins for the quantity
// it covers. Returns order.ErrAlreadyTerminal if nothing remains to
// cancel, ErrOrderNotFound if the order is unknown for this account.
func (e *Engine) CancelTrade(ctx context.Context, accountID, orderID string) error {
	var externalID string
	err := e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if o.AccountID != accountID {
			return ErrOrderNotFound
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", order.ErrAlreadyTerminal, o.ID, o.Status)
		}
		externalID = o.ExternalID
		return nil
	})
	if err != nil {
		return err
	}

	// An order stuck in the post-submission-uncertainty window may exist
	// venue-side under our client order id even though the ack was lost.
	// Adopt the venue's id before cancelling; cancel locally only when
	// the venue genuinely does not know the order.
	if externalID == "" {
		bo, err := e.broker.GetOrderByClientID(ctx, orderID)
		switch {
		case err == nil:
			if err := e.RecordAck(ctx, accountID, orderID, bo.ExternalID); err != nil {
				return err
			}
			externalID = bo.ExternalID
		case errors.Is(err, broker.ErrUnknownOrder):
			// Never reached the venue; nothing can fill it there.
		default:
			return err
		}
	}

	// Venue cancel outside the lock, then drain any fills the venue
	// executed before the cancel took effect: those fills win for the
	// quantity they cover, the cancel only takes the remainder. The
	// drain has to happen now: once the order is locally terminal the
	// reconciler stops looking at it.
	if externalID != "" {
		// ErrAlreadyTerminal means the venue finished with the order
		// before our cancel; the drained fills below decide whether the
		// local order ends filled or cancelled.
		if err := e.broker.CancelOrder(ctx, externalID); err != nil {
			if !errors.Is(err, broker.ErrAlreadyTerminal) &&
				!errors.Is(err, broker.ErrUnknownOrder) {
				return err
			}
		}

		fills, err := e.broker.PollFills(ctx, externalID)
		if err != nil && !errors.Is(err, broker.ErrUnknownOrder) {
			return err
		}
		for _, f := range fills {
			if err := e.ApplyFill(ctx, accountID, orderID, f); err != nil {
				return err
			}
		}
	}

	return e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			// A fill completed the order while the cancel was in flight.
			return fmt.Errorf("%w: %s is %s", order.ErrAlreadyTerminal, o.ID, o.Status)
		}
		if err := order.Cancel(o); err != nil {
			return err
		}
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		acct.BuyingPower = acct.BuyingPower.Add(o.ReservedNotional)
		acct.UpdatedAt = time.Now().UTC()
		o.ReservedNotional = decimal.Zero
		if err := e.store.UpdateOrder(ctx, o, acct); err != nil {
			return err
		}
		slog.Info("order cancelled", "order", o.ID, "account", accountID, "filled", o.FilledQty.String())
		e.broadcast("order_update", o, decimal.Zero)
		return nil
	})
}

// ResolveCancelled cancels an order's unfilled remainder locally after
// the venue reported the order terminal. Idempotent: an order that is
// already terminal is left untouched. Used by the reconciliation worker;
// user-initiated cancels go through CancelTrade.
func (e *Engine) ResolveCancelled(ctx context.Context, accountID, orderID string) error {
	return e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return nil
		}
		if err := order.Cancel(o); err != nil {
			return err
		}
		acct, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		acct.BuyingPower = acct.BuyingPower.Add(o.ReservedNotional)
		acct.UpdatedAt = time.Now().UTC()
		o.ReservedNotional = decimal.Zero
		if err := e.store.UpdateOrder(ctx, o, acct); err != nil {
			return err
		}
		slog.Info("order resolved cancelled from venue state",
			"order", o.ID, "account", accountID, "filled", o.FilledQty.String())
		e.broadcast("order_update", o, decimal.Zero)
		return nil
	})
}

// --- Fill application ---

// ApplyFill is the single code path for fills regardless of origin
// (synchronous poll, webhook-equivalent, or reconciliation sweep).
// Deduplicates by fill id, so at-least-once delivery is safe; duplicate
// fills are a silent no-op. Must NOT be called with the account lock held.
func (e *Engine) ApplyFill(ctx context.Context, accountID, orderID string, f broker.FillEvent) error {
	return e.coord.WithAccount(ctx, accountID, func(ctx context.Context) error {
		applied, err := e.store.FillApplied(ctx, orderID, f.FillID)
		if err != nil {
			return err
		}
		if applied {
			metrics.DuplicateFills.Inc()
			return nil
		}

		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.AccountID != accountID {
			return ErrOrderNotFound
		}

		remBefore := o.RemainingQty()
		updated := *o
		if err := order.ApplyFill(&updated, f.Qty, f.Price); err != nil {
			if errors.Is(err, order.ErrFillOverflow) || errors.Is(err, order.ErrAlreadyTerminal) {
				metrics.InvariantViolations.Inc()
				slog.Error("refused fill violating order invariants",
					"order", orderID,
					"fill", f.FillID,
					"status", o.Status,
					"filled", o.FilledQty.String(),
					"fill_qty", f.Qty.String(),
					"err", err,
				)
			}
			return err
		}

		// Pro-rata return of the buying-power reservation. A full fill
		// releases the reservation exactly.
		release := decimal.Zero
		if o.ReservedNotional.IsPositive() && remBefore.IsPositive() {
			release = o.ReservedNotional.Mul(f.Qty).Div(remBefore)
			if release.GreaterThan(o.ReservedNotional) {
				release = o.ReservedNotional
			}
		}
		updated.ReservedNotional = o.ReservedNotional.Sub(release)

		res, err := e.ledger.ApplyFill(ctx, updated, ledger.Fill{
			ID:        f.FillID,
			Qty:       f.Qty,
			Price:     f.Price,
			Timestamp: f.Timestamp,
		}, release)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateFill) {
				metrics.DuplicateFills.Inc()
				return nil
			}
			return err
		}

		metrics.FillsApplied.Inc()
		slog.Info("fill applied",
			"order", orderID,
			"fill", f.FillID,
			"qty", f.Qty.String(),
			"price", f.Price.String(),
			"status", updated.Status,
			"realized_pnl", res.RealizedPnL.String(),
		)
		e.broadcast("fill", &updated, res.RealizedPnL)
		return nil
	})
}

// --- Reads and passthroughs ---

// ListOrders returns all orders for an account, newest first.
func (e *Engine) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	return e.store.ListOrders(ctx, accountID)
}

// ListAllOpenOrders returns every non-terminal order; used by the
// reconciliation worker.
func (e *Engine) ListAllOpenOrders(ctx context.Context) ([]model.Order, error) {
	return e.store.ListAllOpenOrders(ctx)
}

// ListAlerts returns risk alerts for an account, newest first.
func (e *Engine) ListAlerts(ctx context.Context, accountID string) ([]model.RiskAlert, error) {
	return e.store.ListAlerts(ctx, accountID)
}

// AcknowledgeAlert stamps an alert as acknowledged.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID string) error {
	return e.store.AcknowledgeAlert(ctx, alertID)
}

// Valuation returns the account's aggregate value and unrealized P&L.
func (e *Engine) Valuation(ctx context.Context, accountID string) (ledger.Valuation, error) {
	return e.ledger.Valuation(ctx, accountID)
}

// MarkToMarket refreshes one position's mark price. Safe without the
// account lock: the store replaces the row atomically.
func (e *Engine) MarkToMarket(ctx context.Context, accountID, symbol string, price decimal.Decimal) error {
	_, err := e.ledger.MarkToMarket(ctx, accountID, symbol, price)
	if errors.Is(err, store.ErrNotFound) {
		return nil // position closed since the sweep started
	}
	return err
}

func (e *Engine) broadcast(msgType string, o *model.Order, realized decimal.Decimal) {
	if e.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:         msgType,
		OrderID:      o.ID,
		AccountID:    o.AccountID,
		Symbol:       o.Symbol,
		Status:       string(o.Status),
		Side:         string(o.Side),
		FilledQty:    o.FilledQty.String(),
		AvgFillPrice: o.AvgFillPrice.String(),
	}
	if !realized.IsZero() {
		msg.RealizedPnL = realized.String()
	}
	e.wsHub.Broadcast(msg)
}
