// Package memory is an in-process bill store with the same contract as the
// sqlite repository. Data lives only as long as the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bollette/internal/core"
	"bollette/internal/storage"
)

type Store struct {
	mu    sync.RWMutex
	bills map[string]core.Bill
	loc   *time.Location
}

func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{bills: map[string]core.Bill{}, loc: loc}
}

// NewWithBills returns a store seeded with bills.
func NewWithBills(loc *time.Location, bills ...core.Bill) (*Store, error) {
	s := New(loc)
	if err := s.ReplaceAll(context.Background(), bills); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) CreateBill(_ context.Context, b core.Bill) (core.Bill, error) {
	if b.ID == "" {
		b.ID = core.NewBillID()
	}
	if err := b.Validate(); err != nil {
		return core.Bill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[b.ID]; ok {
		return core.Bill{}, fmt.Errorf("%w: %s", storage.ErrExists, b.ID)
	}
	now := time.Now()
	b = b.In(s.loc)
	b.CreatedAt, b.UpdatedAt, b.Version = now, now, 1
	s.bills[b.ID] = b
	return b.Clone(), nil
}

func (s *Store) GetBill(_ context.Context, id string) (core.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[id]
	if !ok {
		return core.Bill{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return b.Clone(), nil
}

func (s *Store) UpdateBill(_ context.Context, b core.Bill) (core.Bill, error) {
	if err := b.Validate(); err != nil {
		return core.Bill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.bills[b.ID]
	if !ok {
		return core.Bill{}, fmt.Errorf("%w: %s", storage.ErrNotFound, b.ID)
	}
	b = b.In(s.loc)
	b.CreatedAt = old.CreatedAt
	b.UpdatedAt = time.Now()
	b.Version = old.Version + 1
	s.bills[b.ID] = b
	return b.Clone(), nil
}

func (s *Store) DeleteBill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(s.bills, id)
	return nil
}

func (s *Store) AddPayment(_ context.Context, id string, p core.PaymentRecord) (core.Bill, error) {
	if p.Date.IsZero() {
		return core.Bill{}, fmt.Errorf("payment: %w", core.ErrZeroDate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[id]
	if !ok {
		return core.Bill{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	b = b.Clone()
	p.Date = p.Date.In(s.loc)
	b.Payments = append(b.Payments, p)
	b.UpdatedAt = time.Now()
	b.Version++
	s.bills[id] = b
	return b.Clone(), nil
}

// ReplaceAll swaps the ledger only if every bill is valid.
func (s *Store) ReplaceAll(_ context.Context, bills []core.Bill) error {
	next := make(map[string]core.Bill, len(bills))
	for _, b := range bills {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bill %s: %w", b.ID, err)
		}
		if _, dup := next[b.ID]; dup {
			return fmt.Errorf("%w: %s", storage.ErrExists, b.ID)
		}
		b = b.In(s.loc)
		if b.Version == 0 {
			b.Version = 1
		}
		next[b.ID] = b
	}
	s.mu.Lock()
	s.bills = next
	s.mu.Unlock()
	return nil
}

// FetchBillsInDateRange copies the matching bills under one read lock.
func (s *Store) FetchBillsInDateRange(_ context.Context, from, to time.Time) ([]core.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Bill
	for _, b := range s.bills {
		if storage.Overlaps(b, from, to) {
			out = append(out, b.Clone())
		}
	}
	sortBills(out)
	return out, nil
}

func (s *Store) FetchAllBills(_ context.Context) ([]core.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Bill, 0, len(s.bills))
	for _, b := range s.bills {
		out = append(out, b.Clone())
	}
	sortBills(out)
	return out, nil
}

// Len returns the number of stored bills.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bills)
}

func sortBills(bills []core.Bill) {
	sort.Slice(bills, func(i, j int) bool {
		if !bills[i].StartDate.Equal(bills[j].StartDate) {
			return bills[i].StartDate.Before(bills[j].StartDate)
		}
		return bills[i].ID < bills[j].ID
	})
}

var _ storage.BillStore = (*Store)(nil)
