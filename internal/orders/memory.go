package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	accounts map[string]*ReferralAccount
	bindings map[int64]string
	audit    []AuditEntry
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   map[string]*Order{},
		accounts: map[string]*ReferralAccount{},
		bindings: map[int64]string{},
		now:      time.Now,
	}
}

// WithClock replaces the timestamp source.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("create order %s: duplicate id", o.ID)
	}
	c := cloneOrder(o)
	if c.Status == "" {
		c.Status = StatusPendingPayment
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.orders[o.ID] = c
	o.Status, o.CreatedAt, o.UpdatedAt = c.Status, now, now
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

// transition applies mutate when the order is currently in from.
func (m *MemoryStore) transition(id string, from, to Status, mutate func(o *Order)) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != from || !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, o.Status)
	}
	o.Status = to
	o.UpdatedAt = m.now()
	if mutate != nil {
		mutate(o)
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) MarkPaid(_ context.Context, id, paymentID, method string) (*Order, error) {
	return m.transition(id, StatusPendingPayment, StatusPaid, func(o *Order) {
		if paymentID != "" {
			o.PaymentID = &paymentID
		}
		if method != "" {
			o.PaymentMethod = &method
		}
	})
}

func (m *MemoryStore) MarkPaymentFailed(_ context.Context, id, reason string) error {
	_, err := m.transition(id, StatusPendingPayment, StatusFailed, func(o *Order) {
		o.ErrorDetail = &reason
	})
	return err
}

func (m *MemoryStore) Claim(_ context.Context, id string) (*Order, error) {
	return m.transition(id, StatusPaid, StatusGenerating, nil)
}

func (m *MemoryStore) SaveEnrichment(_ context.Context, id string, payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusGenerating {
		return fmt.Errorf("%w: save enrichment in %s", ErrInvalidTransition, o.Status)
	}
	o.Enrichment = append(json.RawMessage(nil), payload...)
	o.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, id, content string, fn CommissionFunc) (*AccountUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if o.Status != StatusGenerating {
		return nil, fmt.Errorf("%w: complete in %s", ErrInvalidTransition, o.Status)
	}

	var upd *AccountUpdate
	if o.HasCommission() && !o.CommissionApplied && fn != nil {
		if acc, ok := m.accounts[*o.ReferralCode]; ok {
			u := fn(*acc, cloneOrder(o))
			acc.TotalSales = u.TotalSales
			acc.TotalCommission = u.TotalCommission
			acc.Tier = u.Tier
			acc.UpdatedAt = m.now()
			upd = &u
		}
	}

	now := m.now()
	o.Content = &content
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	o.CommissionApplied = o.CommissionApplied || upd != nil
	return upd, nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id, detail string) error {
	_, err := m.transition(id, StatusGenerating, StatusFailed, func(o *Order) {
		o.ErrorDetail = &detail
	})
	return err
}

func (m *MemoryStore) MarkRefunded(_ context.Context, id string) error {
	_, err := m.transition(id, StatusFailed, StatusRefunded, nil)
	return err
}

func (m *MemoryStore) Rearm(_ context.Context, id string, observed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != StatusGenerating || !o.UpdatedAt.Equal(observed) {
		return fmt.Errorf("%w: rearm in %s", ErrInvalidTransition, o.Status)
	}
	o.Status = StatusPaid
	o.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, before time.Time, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == status && o.UpdatedAt.Before(before) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateReferralAccount(_ context.Context, acc *ReferralAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acc.Code]; ok {
		return fmt.Errorf("create referral account %s: duplicate code", acc.Code)
	}
	c := *acc
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.accounts[acc.Code] = &c
	return nil
}

func (m *MemoryStore) GetReferralAccount(_ context.Context, code string) (*ReferralAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[code]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *acc
	return &c, nil
}

func (m *MemoryStore) BindReferral(_ context.Context, userID int64, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bindings[userID]; ok {
		return existing, nil
	}
	if _, ok := m.accounts[code]; !ok {
		return "", ErrAccountNotFound
	}
	m.bindings[userID] = code
	return code, nil
}

func (m *MemoryStore) ReferralFor(_ context.Context, userID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindings[userID], nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.audit) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) AuditStats(_ context.Context, since time.Time) (AuditStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s AuditStats
	for _, e := range m.audit {
		if e.CreatedAt.Before(since) {
			continue
		}
		s.Total++
		if e.Outcome == OutcomeFailed {
			s.Failed++
		}
	}
	return s, nil
}

// AuditEntries returns a copy of the audit log, optionally filtered by operation.
func (m *MemoryStore) AuditEntries(op Operation) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.audit {
		if op == "" || e.Operation == op {
			out = append(out, e)
		}
	}
	return out
}

func cloneOrder(o *Order) *Order {
	c := *o
	if o.UserInput != nil {
		c.UserInput = make(map[string]any, len(o.UserInput))
		for k, v := range o.UserInput {
			c.UserInput[k] = v
		}
	}
	if o.Enrichment != nil {
		c.Enrichment = append(json.RawMessage(nil), o.Enrichment...)
	}
	return &c
}

var _ Store = (*MemoryStore)(nil)
