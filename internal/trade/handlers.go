package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/broker"
	"github.com/samrddhi/trading-core/internal/coordinator"
	"github.com/samrddhi/trading-core/internal/marketdata"
	"github.com/samrddhi/trading-core/internal/model"
	"github.com/samrddhi/trading-core/internal/order"
	"github.com/samrddhi/trading-core/internal/store"
)

// CreateAccountRequest is the JSON body for POST /api/v1/accounts.
type CreateAccountRequest struct {
	ID       string          `json:"id"`
	Cash     decimal.Decimal `json:"cash"`
	Leverage decimal.Decimal `json:"leverage"` // 0 → 1x
}

// SnapshotResponse is the JSON body for GET /api/v1/accounts/{id}.
type SnapshotResponse struct {
	Account      model.Account    `json:"account"`
	AccountValue decimal.Decimal  `json:"account_value"`
	DailyPnL     decimal.Decimal  `json:"daily_pnl"`
	Positions    []model.Position `json:"positions"`
	OpenOrders   []model.Order    `json:"open_orders"`
	Limits       model.RiskLimits `json:"limits"`
}

// CreateAccount handles POST /api/v1/accounts
func (e *Engine) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := e.CreateAccount(r.Context(), req.ID, req.Cash, req.Leverage)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, "account already exists", http.StatusConflict)
			return
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (e *Engine) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	snap, err := e.GetAccountSnapshot(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SnapshotResponse{
		Account:      snap.Account,
		AccountValue: snap.AccountValue(),
		DailyPnL:     snap.DailyPnL,
		Positions:    snap.Positions,
		OpenOrders:   snap.OpenOrders,
		Limits:       snap.Limits,
	})
}

// SubmitTradeHandler handles POST /api/v1/trades
//
// Responses: 201 with the order on acceptance, 202 if the order is
// durably recorded but the venue outcome is unknown, 422 with the risk
// decision on rejection.
func (e *Engine) SubmitTradeHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TimeInForce == "" {
		req.TimeInForce = model.TIFDay
	}
	if req.Type == "" {
		req.Type = model.OrderTypeMarket
	}

	res, err := e.SubmitTrade(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res.Rejection != nil {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	status := http.StatusCreated
	if res.Order.Status == model.StatusPending {
		// Venue outcome unknown; the reconciler will settle it.
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// CancelOrderHandler handles DELETE /api/v1/accounts/{accountID}/orders/{orderID}
func (e *Engine) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	orderID := chi.URLParam(r, "orderID")

	if err := e.CancelTrade(r.Context(), accountID, orderID); err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			writeError(w, "order not found", http.StatusNotFound)
		case errors.Is(err, order.ErrAlreadyTerminal):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeEngineError(w, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListOrdersHandler handles GET /api/v1/accounts/{accountID}/orders
func (e *Engine) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	orders, err := e.ListOrders(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// ListAlertsHandler handles GET /api/v1/accounts/{accountID}/alerts
func (e *Engine) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	alerts, err := e.ListAlerts(r.Context(), accountID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.RiskAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// AckAlertHandler handles POST /api/v1/alerts/{alertID}/ack
func (e *Engine) AckAlertHandler(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	if err := e.AcknowledgeAlert(r.Context(), alertID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "alert not found", http.StatusNotFound)
			return
		}
		writeEngineError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Routes mounts the trading API onto the given router.
func (e *Engine) Routes(r chi.Router) {
	r.Post("/accounts", e.CreateAccountHandler)
	r.Get("/accounts/{accountID}", e.GetAccountHandler)
	r.Get("/accounts/{accountID}/orders", e.ListOrdersHandler)
	r.Delete("/accounts/{accountID}/orders/{orderID}", e.CancelOrderHandler)
	r.Get("/accounts/{accountID}/alerts", e.ListAlertsHandler)
	r.Post("/trades", e.SubmitTradeHandler)
	r.Post("/alerts/{alertID}/ack", e.AckAlertHandler)
}

// writeEngineError maps engine error classes onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, ve.Msg, http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, coordinator.ErrAccountBusy),
		errors.Is(err, ErrQuoteUnavailable),
		errors.Is(err, marketdata.ErrStaleQuote),
		errors.Is(err, broker.ErrUnavailable):
		writeError(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
