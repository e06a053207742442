// Package store defines the persistence interface for the trading core.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing). All monetary values are stored as NUMERIC for exact decimal
// precision.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert collides with an existing row.
	ErrConflict = errors.New("store: already exists")

	// ErrDuplicateFill is returned by CommitFill when the (order, fill)
	// pair has already been applied. The commit is a no-op in that case;
	// callers treat it as idempotent success.
	ErrDuplicateFill = errors.New("store: fill already applied")
)

// FillCommit carries the complete post-fill state of every row a single
// fill touches. CommitFill persists all of it atomically — either the
// whole fill commits or none of it does. The rows are computed by the
// position ledger under the account lock; the store only persists them.
type FillCommit struct {
	FillID string

	Order   model.Order
	Account model.Account

	// Position is the post-fill position row. When DeletePosition is set
	// the quantity reached exactly zero and the row is removed instead.
	Position       model.Position
	DeletePosition bool
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// the in-memory implementation backs tests and development.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its risk limits.
	CreateAccount(ctx context.Context, acct *model.Account, limits model.RiskLimits) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// UpdateAccount replaces the account row.
	UpdateAccount(ctx context.Context, acct *model.Account) error

	// ListAccounts returns every account; used by the reconciliation
	// worker's mark-to-market sweep.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// GetRiskLimits returns the risk limits for an account.
	GetRiskLimits(ctx context.Context, accountID string) (*model.RiskLimits, error)

	// --- Positions ---

	// GetPositions returns all open positions for an account.
	GetPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// GetPosition returns one position, or ErrNotFound.
	GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error)

	// MarkPosition atomically replaces the position's mark price.
	// Idempotent; readers see either the old or the new row, never a
	// torn one.
	MarkPosition(ctx context.Context, accountID, symbol string, price decimal.Decimal) (*model.Position, error)

	// --- Orders ---

	// CreateOrder inserts the order and updates the account's buying
	// power reservation in one transaction.
	CreateOrder(ctx context.Context, o *model.Order, acct *model.Account) error

	// GetOrder retrieves an order by id.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrder replaces the order row, and the account row when acct
	// is non-nil (cancel/reject release the remaining reservation), in
	// one transaction.
	UpdateOrder(ctx context.Context, o *model.Order, acct *model.Account) error

	// ListOrders returns all orders for an account, newest first.
	ListOrders(ctx context.Context, accountID string) ([]model.Order, error)

	// ListOpenOrders returns the account's non-terminal orders.
	ListOpenOrders(ctx context.Context, accountID string) ([]model.Order, error)

	// ListAllOpenOrders returns every non-terminal order across accounts.
	// Used by the reconciliation worker.
	ListAllOpenOrders(ctx context.Context) ([]model.Order, error)

	// --- Fills ---

	// FillApplied reports whether the (order, fill) pair was already
	// committed.
	FillApplied(ctx context.Context, orderID, fillID string) (bool, error)

	// CommitFill atomically persists one fill: the applied_fills record,
	// the order, the account, and the position upsert/delete. Returns
	// ErrDuplicateFill without side effects if the fill id was already
	// applied.
	CommitFill(ctx context.Context, fc FillCommit) error

	// --- Risk alerts (append-only) ---

	// InsertAlert appends a risk alert.
	InsertAlert(ctx context.Context, alert *model.RiskAlert) error

	// ListAlerts returns alerts for an account, newest first.
	ListAlerts(ctx context.Context, accountID string) ([]model.RiskAlert, error)

	// AcknowledgeAlert stamps acknowledged_at on an alert.
	AcknowledgeAlert(ctx context.Context, alertID string) error
}
