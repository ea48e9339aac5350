// Package storage persists bills. The sqlite repository is the durable
// backend; the memory subpackage offers the same contract for tests and
// local runs.
package storage

import (
	"context"
	"errors"
	"time"

	"bollette/internal/core"
)

var (
	// ErrNotFound is returned when a bill ID does not exist.
	ErrNotFound = errors.New("bill not found")
	// ErrExists is returned when creating a bill whose ID is taken.
	ErrExists = errors.New("bill already exists")
)

// SchemaVersion is the latest migration applied by RunMigrations. Backup
// snapshots carry it so older binaries refuse newer data.
const SchemaVersion = 2

// BillStore is the persistence contract used by the services.
// Every read returns deep copies the caller may keep.
type BillStore interface {
	CreateBill(ctx context.Context, b core.Bill) (core.Bill, error)
	GetBill(ctx context.Context, id string) (core.Bill, error)
	UpdateBill(ctx context.Context, b core.Bill) (core.Bill, error)
	DeleteBill(ctx context.Context, id string) error
	AddPayment(ctx context.Context, id string, p core.PaymentRecord) (core.Bill, error)
	// ReplaceAll atomically swaps the whole ledger for bills.
	ReplaceAll(ctx context.Context, bills []core.Bill) error

	FetchBillsInDateRange(ctx context.Context, from, to time.Time) ([]core.Bill, error)
	FetchAllBills(ctx context.Context) ([]core.Bill, error)
}

// PendingSyncBill identifies a bill whose balance still has to be mirrored.
type PendingSyncBill struct {
	ID        string
	Version   int64
	UpdatedAt time.Time
}

// Sync states stored in bills.sync_status.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

// Overlaps reports whether b belongs in a range snapshot for [from, to]:
// its active span intersects the range or one of its payments falls inside.
func Overlaps(b core.Bill, from, to time.Time) bool {
	if !b.StartDate.After(to) && !b.EndDate.Before(from) {
		return true
	}
	for _, p := range b.Payments {
		if !p.Date.Before(from) && !p.Date.After(to) {
			return true
		}
	}
	return false
}

var _ BillStore = (*SQLiteRepository)(nil)
