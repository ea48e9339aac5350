package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bollette/internal/amqp"
	"bollette/internal/core"
	"bollette/internal/observability/metrics"
	"bollette/internal/sheets"
	"bollette/internal/storage"
)

// Store is the part of the sqlite repository the worker reads and marks.
type Store interface {
	GetBill(ctx context.Context, id string) (core.Bill, error)
	GetPendingSyncBills(ctx context.Context, limit int) ([]storage.PendingSyncBill, error)
	MarkSynced(ctx context.Context, id string, version int64) error
	MarkSyncError(ctx context.Context, id string) error
}

var (
	_ amqp.Handler = (*SyncWorker)(nil)
	_ Store        = (*storage.SQLiteRepository)(nil)
)

// SyncWorker mirrors bill balances from SQLite to the spreadsheet.
type SyncWorker struct {
	store  Store
	mirror sheets.Mirror
}

func NewSyncWorker(store Store, mirror sheets.Mirror) *SyncWorker {
	return &SyncWorker{store: store, mirror: mirror}
}

// HandleSyncMessage mirrors the current state of the bill named by msg. The
// stored bill is always authoritative, so an outdated message still writes
// the newest balance.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.BillMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"id", msg.ID,
		"version", msg.Version)

	err := w.syncBill(ctx, msg.ID)
	metrics.IncSyncMessage(amqp.TypeBillSync, err)
	return err
}

// HandleDeleteMessage removes the bill's row from the mirror.
func (w *SyncWorker) HandleDeleteMessage(ctx context.Context, msg *amqp.BillMessage) error {
	slog.InfoContext(ctx, "Processing delete message", "id", msg.ID)

	err := w.mirror.DeleteBalance(ctx, msg.ID)
	metrics.IncSyncMessage(amqp.TypeBillDelete, err)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to delete bill from sheet",
			"id", msg.ID,
			"error", err,
			"timestamp", msg.Timestamp)
		return fmt.Errorf("delete bill from sheet: %w", err)
	}

	slog.InfoContext(ctx, "Successfully deleted bill from sheet", "id", msg.ID)
	return nil
}

// ProcessPendingBills mirrors up to limit bills still marked pending. It is
// the backup path for lost AMQP messages and worker downtime.
func (w *SyncWorker) ProcessPendingBills(ctx context.Context, limit int) (int, error) {
	pending, err := w.store.GetPendingSyncBills(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending bills: %w", err)
	}
	metrics.SetSyncPending(len(pending))
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending bills", "count", len(pending))

	synced := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := w.syncBill(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to sync pending bill", "id", p.ID, "error", err)
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Pending sync completed",
		"total", len(pending),
		"synced", synced,
		"errors", len(pending)-synced)
	return synced, nil
}

func (w *SyncWorker) syncBill(ctx context.Context, id string) error {
	b, err := w.store.GetBill(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted after the message was published; the delete message handles the row.
		slog.InfoContext(ctx, "Bill no longer exists, skipping sync", "id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get bill from storage: %w", err)
	}

	ref, err := w.mirror.UpsertBalance(ctx, b, core.CalculateBalance(b))
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error", "id", id, "error", markErr)
		}
		return fmt.Errorf("sync bill to sheet: %w", err)
	}

	if err := w.store.MarkSynced(ctx, id, b.Version); err != nil {
		return fmt.Errorf("mark bill synced: %w", err)
	}

	slog.InfoContext(ctx, "Bill synced to sheet",
		"id", id,
		"version", b.Version,
		"ref", ref)
	return nil
}
