package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samrddhi/trading-core/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence). CommitFill's
// all-or-nothing contract holds trivially: every mutation happens under one
// critical section.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	limits   map[string]model.RiskLimits
	// positions and fills are keyed account|symbol and order|fill.
	positions map[string]*model.Position
	orders    map[string]*model.Order
	fills     map[string]struct{}
	alerts    []model.RiskAlert
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		limits:    make(map[string]model.RiskLimits),
		positions: make(map[string]*model.Position),
		orders:    make(map[string]*model.Order),
		fills:     make(map[string]struct{}),
	}
}

func posKey(accountID, symbol string) string { return accountID + "|" + symbol }
func fillKey(orderID, fillID string) string  { return orderID + "|" + fillID }

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account, limits model.RiskLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("account %s: %w", acct.ID, ErrConflict)
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	s.limits[acct.ID] = limits
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; !ok {
		return fmt.Errorf("account %s: %w", acct.ID, ErrNotFound)
	}
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (s *MemoryStore) GetRiskLimits(_ context.Context, accountID string) (*model.RiskLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.limits[accountID]
	if !ok {
		return nil, fmt.Errorf("risk limits for %s: %w", accountID, ErrNotFound)
	}
	return &l, nil
}

// --- Positions ---

func (s *MemoryStore) GetPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[posKey(accountID, symbol)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, symbol, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) MarkPosition(_ context.Context, accountID, symbol string, price decimal.Decimal) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[posKey(accountID, symbol)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s: %w", accountID, symbol, ErrNotFound)
	}
	// Atomic replace: readers holding a copy never see a torn record.
	cp := *p
	cp.MarkPrice = price
	cp.UpdatedAt = time.Now().UTC()
	s.positions[posKey(accountID, symbol)] = &cp
	out := cp
	return &out, nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrConflict)
	}
	if acct != nil {
		if _, ok := s.accounts[acct.ID]; !ok {
			return fmt.Errorf("account %s: %w", acct.ID, ErrNotFound)
		}
		cp := *acct
		s.accounts[acct.ID] = &cp
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, o *model.Order, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	if acct != nil {
		if _, ok := s.accounts[acct.ID]; !ok {
			return fmt.Errorf("account %s: %w", acct.ID, ErrNotFound)
		}
		acp := *acct
		s.accounts[acct.ID] = &acp
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrders(func(o *model.Order) bool { return o.AccountID == accountID }), nil
}

func (s *MemoryStore) ListOpenOrders(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrders(func(o *model.Order) bool {
		return o.AccountID == accountID && !o.Status.Terminal()
	}), nil
}

func (s *MemoryStore) ListAllOpenOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOrders(func(o *model.Order) bool { return !o.Status.Terminal() }), nil
}

// listOrders must be called with the lock held. Newest first.
func (s *MemoryStore) listOrders(keep func(*model.Order) bool) []model.Order {
	var out []model.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// --- Fills ---

func (s *MemoryStore) FillApplied(_ context.Context, orderID, fillID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.fills[fillKey(orderID, fillID)]
	return ok, nil
}

func (s *MemoryStore) CommitFill(_ context.Context, fc FillCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fillKey(fc.Order.ID, fc.FillID)
	if _, ok := s.fills[key]; ok {
		return fmt.Errorf("order %s fill %s: %w", fc.Order.ID, fc.FillID, ErrDuplicateFill)
	}
	if _, ok := s.orders[fc.Order.ID]; !ok {
		return fmt.Errorf("order %s: %w", fc.Order.ID, ErrNotFound)
	}
	if _, ok := s.accounts[fc.Account.ID]; !ok {
		return fmt.Errorf("account %s: %w", fc.Account.ID, ErrNotFound)
	}

	s.fills[key] = struct{}{}

	ocp := fc.Order
	s.orders[ocp.ID] = &ocp

	acp := fc.Account
	s.accounts[acp.ID] = &acp

	pk := posKey(fc.Position.AccountID, fc.Position.Symbol)
	if fc.DeletePosition {
		delete(s.positions, pk)
	} else {
		pcp := fc.Position
		s.positions[pk] = &pcp
	}
	return nil
}

// --- Risk alerts ---

func (s *MemoryStore) InsertAlert(_ context.Context, alert *model.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, accountID string) ([]model.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.RiskAlert
	for _, a := range s.alerts {
		if a.AccountID == accountID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AcknowledgeAlert(_ context.Context, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			if s.alerts[i].AcknowledgedAt == nil {
				now := time.Now().UTC()
				s.alerts[i].AcknowledgedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
}
