package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// CommitFill, CreateOrder, and UpdateOrder run their row writes inside a
// single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables the core requires if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
	id                 TEXT PRIMARY KEY,
	cash               NUMERIC NOT NULL,
	buying_power       NUMERIC NOT NULL,
	leverage           NUMERIC NOT NULL,
	day_trade_count    INTEGER NOT NULL DEFAULT 0,
	daily_realized_pnl NUMERIC NOT NULL DEFAULT 0,
	pnl_day            TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS risk_limits (
	account_id          TEXT PRIMARY KEY REFERENCES accounts(id),
	max_position_size   NUMERIC NOT NULL,
	max_daily_loss      NUMERIC NOT NULL,
	max_leverage        NUMERIC NOT NULL,
	concentration_limit NUMERIC NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account_id TEXT NOT NULL REFERENCES accounts(id),
	symbol     TEXT NOT NULL,
	quantity   NUMERIC NOT NULL,
	avg_price  NUMERIC NOT NULL,
	mark_price NUMERIC NOT NULL,
	opened_at  TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	account_id        TEXT NOT NULL REFERENCES accounts(id),
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	type              TEXT NOT NULL,
	time_in_force     TEXT NOT NULL,
	requested_qty     NUMERIC NOT NULL,
	filled_qty        NUMERIC NOT NULL DEFAULT 0,
	avg_fill_price    NUMERIC NOT NULL DEFAULT 0,
	limit_price       NUMERIC NOT NULL DEFAULT 0,
	stop_price        NUMERIC NOT NULL DEFAULT 0,
	reserved_notional NUMERIC NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	external_id       TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_account_idx ON orders (account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_open_idx ON orders (status)
	WHERE status NOT IN ('filled', 'cancelled', 'rejected');
CREATE TABLE IF NOT EXISTS applied_fills (
	order_id   TEXT NOT NULL REFERENCES orders(id),
	fill_id    TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (order_id, fill_id)
);
CREATE TABLE IF NOT EXISTS risk_alerts (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id),
	severity        TEXT NOT NULL,
	title           TEXT NOT NULL,
	message         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	acknowledged_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS risk_alerts_account_idx ON risk_alerts (account_id, created_at DESC);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account, limits model.RiskLimits) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create account %s: %w", acct.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, cash, buying_power, leverage, day_trade_count, daily_realized_pnl, pnl_day, created_at, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9)`,
		acct.ID, acct.Cash.String(), acct.BuyingPower.String(), acct.Leverage.String(),
		acct.DayTradeCount, acct.DailyRealizedPnL.String(), acct.PnLDay, acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", acct.ID, mapPgError(err))
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO risk_limits (account_id, max_position_size, max_daily_loss, max_leverage, concentration_limit)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC)`,
		limits.AccountID, limits.MaxPositionSize.String(), limits.MaxDailyLoss.String(),
		limits.MaxLeverage.String(), limits.ConcentrationLimit.String(),
	)
	if err != nil {
		return fmt.Errorf("create account %s limits: %w", acct.ID, mapPgError(err))
	}

	return tx.Commit(ctx)
}

const accountCols = `id, cash::TEXT, buying_power::TEXT, leverage::TEXT,
	day_trade_count, daily_realized_pnl::TEXT, pnl_day, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var cash, bp, lev, pnl string
	if err := row.Scan(&a.ID, &cash, &bp, &lev, &a.DayTradeCount, &pnl,
		&a.PnLDay, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Cash = mustDecimal(cash)
	a.BuyingPower = mustDecimal(bp)
	a.Leverage = mustDecimal(lev)
	a.DailyRealizedPnL = mustDecimal(pnl)
	return &a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, mapPgError(err))
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, acct *model.Account) error {
	tag, err := s.pool.Exec(ctx, accountUpdateSQL,
		acct.ID, acct.Cash.String(), acct.BuyingPower.String(), acct.Leverage.String(),
		acct.DayTradeCount, acct.DailyRealizedPnL.String(), acct.PnLDay, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account %s: %w", acct.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update account %s: %w", acct.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountCols+` FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const accountUpdateSQL = `UPDATE accounts SET
	cash = $2::NUMERIC, buying_power = $3::NUMERIC, leverage = $4::NUMERIC,
	day_trade_count = $5, daily_realized_pnl = $6::NUMERIC, pnl_day = $7, updated_at = $8
	WHERE id = $1`

func (s *PostgresStore) GetRiskLimits(ctx context.Context, accountID string) (*model.RiskLimits, error) {
	var l model.RiskLimits
	var mps, mdl, ml, cl string
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, max_position_size::TEXT, max_daily_loss::TEXT,
		        max_leverage::TEXT, concentration_limit::TEXT
		 FROM risk_limits WHERE account_id = $1`, accountID).
		Scan(&l.AccountID, &mps, &mdl, &ml, &cl)
	if err != nil {
		return nil, fmt.Errorf("get risk limits %s: %w", accountID, mapPgError(err))
	}
	l.MaxPositionSize = mustDecimal(mps)
	l.MaxDailyLoss = mustDecimal(mdl)
	l.MaxLeverage = mustDecimal(ml)
	l.ConcentrationLimit = mustDecimal(cl)
	return &l, nil
}

// --- Positions ---

const positionCols = `account_id, symbol, quantity::TEXT, avg_price::TEXT,
	mark_price::TEXT, opened_at, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avg, mark string
	if err := row.Scan(&p.AccountID, &p.Symbol, &qty, &avg, &mark,
		&p.OpenedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Quantity = mustDecimal(qty)
	p.AvgPrice = mustDecimal(avg)
	p.MarkPrice = mustDecimal(mark)
	return &p, nil
}

func (s *PostgresStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, fmt.Errorf("get positions %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("get positions %s: %w", accountID, err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE account_id = $1 AND symbol = $2`,
		accountID, symbol))
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", accountID, symbol, mapPgError(err))
	}
	return p, nil
}

func (s *PostgresStore) MarkPosition(ctx context.Context, accountID, symbol string, price decimal.Decimal) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`UPDATE positions SET mark_price = $3::NUMERIC, updated_at = $4
		 WHERE account_id = $1 AND symbol = $2
		 RETURNING `+positionCols,
		accountID, symbol, price.String(), time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("mark position %s/%s: %w", accountID, symbol, mapPgError(err))
	}
	return p, nil
}

// --- Orders ---

const orderCols = `id, account_id, symbol, side, type, time_in_force,
	requested_qty::TEXT, filled_qty::TEXT, avg_fill_price::TEXT,
	limit_price::TEXT, stop_price::TEXT, reserved_notional::TEXT,
	status, external_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var req, filled, avg, limit, stop, reserved string
	if err := row.Scan(&o.ID, &o.AccountID, &o.Symbol, &o.Side, &o.Type, &o.TimeInForce,
		&req, &filled, &avg, &limit, &stop, &reserved,
		&o.Status, &o.ExternalID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.RequestedQty = mustDecimal(req)
	o.FilledQty = mustDecimal(filled)
	o.AvgFillPrice = mustDecimal(avg)
	o.LimitPrice = mustDecimal(limit)
	o.StopPrice = mustDecimal(stop)
	o.ReservedNotional = mustDecimal(reserved)
	return &o, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders (id, account_id, symbol, side, type, time_in_force,
		   requested_qty, filled_qty, avg_fill_price, limit_price, stop_price,
		   reserved_notional, status, external_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		   $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13, $14, $15, $16)`,
		o.ID, o.AccountID, o.Symbol, o.Side, o.Type, o.TimeInForce,
		o.RequestedQty.String(), o.FilledQty.String(), o.AvgFillPrice.String(),
		o.LimitPrice.String(), o.StopPrice.String(), o.ReservedNotional.String(),
		o.Status, o.ExternalID, o.CreatedAt, o.UpdatedAt)
	return err
}

func updateOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET filled_qty = $2::NUMERIC, avg_fill_price = $3::NUMERIC,
		   reserved_notional = $4::NUMERIC, status = $5, external_id = $6, updated_at = $7
		 WHERE id = $1`,
		o.ID, o.FilledQty.String(), o.AvgFillPrice.String(),
		o.ReservedNotional.String(), o.Status, o.ExternalID, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func updateAccountTx(ctx context.Context, tx pgx.Tx, acct *model.Account) error {
	tag, err := tx.Exec(ctx, accountUpdateSQL,
		acct.ID, acct.Cash.String(), acct.BuyingPower.String(), acct.Leverage.String(),
		acct.DayTradeCount, acct.DailyRealizedPnL.String(), acct.PnLDay, acct.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order, acct *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	defer tx.Rollback(ctx)

	if err := insertOrder(ctx, tx, o); err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, mapPgError(err))
	}
	if acct != nil {
		if err := updateAccountTx(ctx, tx, acct); err != nil {
			return fmt.Errorf("create order %s: reserve: %w", o.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, mapPgError(err))
	}
	return o, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order, acct *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	defer tx.Rollback(ctx)

	if err := updateOrder(ctx, tx, o); err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if acct != nil {
		if err := updateAccountTx(ctx, tx, acct); err != nil {
			return fmt.Errorf("update order %s: account: %w", o.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderCols+` FROM orders WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID)
}

func (s *PostgresStore) ListOpenOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE account_id = $1 AND status NOT IN ('filled', 'cancelled', 'rejected')
		 ORDER BY created_at DESC`, accountID)
}

func (s *PostgresStore) ListAllOpenOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status NOT IN ('filled', 'cancelled', 'rejected')
		 ORDER BY created_at`)
}

// --- Fills ---

func (s *PostgresStore) FillApplied(ctx context.Context, orderID, fillID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applied_fills WHERE order_id = $1 AND fill_id = $2)`,
		orderID, fillID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("fill applied %s/%s: %w", orderID, fillID, err)
	}
	return exists, nil
}

// CommitFill persists every effect of one fill in a single transaction.
// The applied_fills primary key is the idempotency backstop: a duplicate
// insert aborts the whole transaction with ErrDuplicateFill.
func (s *PostgresStore) CommitFill(ctx context.Context, fc FillCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit fill %s/%s: %w", fc.Order.ID, fc.FillID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO applied_fills (order_id, fill_id) VALUES ($1, $2)`,
		fc.Order.ID, fc.FillID); err != nil {
		if errors.Is(mapPgError(err), ErrConflict) {
			return fmt.Errorf("commit fill %s/%s: %w", fc.Order.ID, fc.FillID, ErrDuplicateFill)
		}
		return fmt.Errorf("commit fill %s/%s: %w", fc.Order.ID, fc.FillID, err)
	}

	if err := updateOrder(ctx, tx, &fc.Order); err != nil {
		return fmt.Errorf("commit fill %s/%s: order: %w", fc.Order.ID, fc.FillID, err)
	}
	if err := updateAccountTx(ctx, tx, &fc.Account); err != nil {
		return fmt.Errorf("commit fill %s/%s: account: %w", fc.Order.ID, fc.FillID, err)
	}

	if fc.DeletePosition {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`,
			fc.Position.AccountID, fc.Position.Symbol); err != nil {
			return fmt.Errorf("commit fill %s/%s: delete position: %w", fc.Order.ID, fc.FillID, err)
		}
	} else {
		p := fc.Position
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, avg_price, mark_price, opened_at, updated_at)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)
			 ON CONFLICT (account_id, symbol) DO UPDATE SET
			   quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price,
			   mark_price = EXCLUDED.mark_price, opened_at = EXCLUDED.opened_at,
			   updated_at = EXCLUDED.updated_at`,
			p.AccountID, p.Symbol, p.Quantity.String(), p.AvgPrice.String(),
			p.MarkPrice.String(), p.OpenedAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("commit fill %s/%s: position: %w", fc.Order.ID, fc.FillID, err)
		}
	}

	return tx.Commit(ctx)
}

// --- Risk alerts ---

func (s *PostgresStore) InsertAlert(ctx context.Context, alert *model.RiskAlert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_alerts (id, account_id, severity, title, message, created_at, acknowledged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		alert.ID, alert.AccountID, alert.Severity, alert.Title, alert.Message,
		alert.CreatedAt, alert.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", alert.ID, mapPgError(err))
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, accountID string) ([]model.RiskAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, severity, title, message, created_at, acknowledged_at
		 FROM risk_alerts WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list alerts %s: %w", accountID, err)
	}
	defer rows.Close()

	var out []model.RiskAlert
	for rows.Next() {
		var a model.RiskAlert
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Severity, &a.Title, &a.Message,
			&a.CreatedAt, &a.AcknowledgedAt); err != nil {
			return nil, fmt.Errorf("list alerts %s: %w", accountID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE risk_alerts SET acknowledged_at = now()
		 WHERE id = $1 AND acknowledged_at IS NULL`, alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already acknowledged; distinguish for the caller.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM risk_alerts WHERE id = $1)`, alertID).Scan(&exists); err != nil {
			return fmt.Errorf("acknowledge alert %s: %w", alertID, err)
		}
		if !exists {
			return fmt.Errorf("acknowledge alert %s: %w", alertID, ErrNotFound)
		}
	}
	return nil
}
