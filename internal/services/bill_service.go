package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bollette/internal/core"
	"bollette/internal/observability/metrics"
	"bollette/internal/storage"
)

// Publisher announces bill changes to the Sheets mirror.
type Publisher interface {
	PublishBillSync(ctx context.Context, id string, version int64) error
	PublishBillDelete(ctx context.Context, id string) error
}

// Invalidator is notified after every successful write.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// BillFilter narrows ListBills. Zero fields do not filter.
type BillFilter struct {
	From, To time.Time
	Status   core.Status
}

// BillService orchestrates bill writes across the store, the sync publisher
// and the statistics cache.
type BillService struct {
	store        storage.BillStore
	publisher    Publisher
	invalidators []Invalidator
}

// NewBillService builds the service. publisher may be nil when messaging is
// not configured.
func NewBillService(store storage.BillStore, publisher Publisher, invalidators ...Invalidator) *BillService {
	return &BillService{
		store:        store,
		publisher:    publisher,
		invalidators: invalidators,
	}
}

// CreateBill validates and stores a new bill.
func (s *BillService) CreateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	created, err := s.store.CreateBill(ctx, b)
	metrics.IncBillWrite("create", err)
	if err != nil {
		return core.Bill{}, fmt.Errorf("create bill: %w", err)
	}
	s.afterWrite(ctx, created)
	return created, nil
}

// GetBill returns a bill with its computed balance.
func (s *BillService) GetBill(ctx context.Context, id string) (core.Bill, core.Balance, error) {
	b, err := s.store.GetBill(ctx, id)
	if err != nil {
		return core.Bill{}, core.Balance{}, fmt.Errorf("get bill: %w", err)
	}
	return b, core.CalculateBalance(b), nil
}

// UpdateBill replaces an existing bill.
func (s *BillService) UpdateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	updated, err := s.store.UpdateBill(ctx, b)
	metrics.IncBillWrite("update", err)
	if err != nil {
		return core.Bill{}, fmt.Errorf("update bill: %w", err)
	}
	s.afterWrite(ctx, updated)
	return updated, nil
}

// DeleteBill removes a bill and asks the mirror to drop it.
func (s *BillService) DeleteBill(ctx context.Context, id string) error {
	err := s.store.DeleteBill(ctx, id)
	metrics.IncBillWrite("delete", err)
	if err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBillDelete(ctx, id); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete message", "id", id, "error", err)
		}
	}
	s.invalidate(ctx)
	return nil
}

// AddPayment appends a payment record and returns the bill with its new balance.
func (s *BillService) AddPayment(ctx context.Context, id string, p core.PaymentRecord) (core.Bill, core.Balance, error) {
	b, err := s.store.AddPayment(ctx, id, p)
	metrics.IncBillWrite("pay", err)
	if err != nil {
		return core.Bill{}, core.Balance{}, fmt.Errorf("add payment: %w", err)
	}
	s.afterWrite(ctx, b)
	return b, core.CalculateBalance(b), nil
}

// ListBills returns bills matching f, in start date order.
func (s *BillService) ListBills(ctx context.Context, f BillFilter) ([]core.Bill, error) {
	var (
		bills []core.Bill
		err   error
	)
	switch {
	case !f.From.IsZero() || !f.To.IsZero():
		from, to := f.From, f.To
		if to.IsZero() {
			to = core.MaxTime
		}
		w, werr := core.CustomWindow(from, to)
		if werr != nil {
			return nil, werr
		}
		bills, err = s.store.FetchBillsInDateRange(ctx, w.From, w.To)
	default:
		bills, err = s.store.FetchAllBills(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	if f.Status == "" {
		return bills, nil
	}
	out := bills[:0]
	for _, b := range bills {
		if core.CalculateBalance(b).Status == f.Status {
			out = append(out, b)
		}
	}
	return out, nil
}

// Snapshot returns the whole ledger for backups.
func (s *BillService) Snapshot(ctx context.Context) ([]core.Bill, error) {
	bills, err := s.store.FetchAllBills(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot bills: %w", err)
	}
	return bills, nil
}

// Restore replaces the whole ledger and queues every bill for mirroring.
func (s *BillService) Restore(ctx context.Context, bills []core.Bill) error {
	err := s.store.ReplaceAll(ctx, bills)
	metrics.IncBillWrite("restore", err)
	if err != nil {
		return fmt.Errorf("restore bills: %w", err)
	}
	for _, b := range bills {
		s.publishSync(ctx, b)
	}
	s.invalidate(ctx)
	slog.InfoContext(ctx, "Ledger restored", "bills", len(bills))
	return nil
}

func (s *BillService) afterWrite(ctx context.Context, b core.Bill) {
	s.publishSync(ctx, b)
	s.invalidate(ctx)

	bal := core.CalculateBalance(b)
	slog.InfoContext(ctx, "Bill written",
		"id", b.ID,
		"version", b.Version,
		"status", bal.Status,
		"outstanding", bal.Outstanding.String())
}

func (s *BillService) publishSync(ctx context.Context, b core.Bill) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP client not available, skipping sync message", "id", b.ID)
		return
	}
	version := b.Version
	if version == 0 {
		version = 1
	}
	if err := s.publisher.PublishBillSync(ctx, b.ID, version); err != nil {
		// The bill stays pending in the store; the worker's catch-up pass picks it up.
		slog.ErrorContext(ctx, "Failed to publish sync message", "id", b.ID, "error", err)
	}
}

func (s *BillService) invalidate(ctx context.Context) {
	for _, inv := range s.invalidators {
		inv.Invalidate(ctx)
	}
}
