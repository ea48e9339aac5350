// Package backup writes and reads ledger snapshots. A snapshot is a JSON
// document carrying the schema version it was taken at and every bill with
// its items, payments, waiver, location and remark.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"bollette/internal/core"
	"bollette/internal/storage"
)

var (
	ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")
	ErrInvalidSnapshot   = errors.New("invalid snapshot")
)

type Snapshot struct {
	SchemaVersion int         `json:"schema_version"`
	CreatedAt     time.Time   `json:"created_at"`
	Bills         []core.Bill `json:"bills"`
}

// Ledger is the service surface a snapshot is taken from and restored into.
type Ledger interface {
	Snapshot(ctx context.Context) ([]core.Bill, error)
	Restore(ctx context.Context, bills []core.Bill) error
}

// Take captures the whole ledger.
func Take(ctx context.Context, l Ledger) (Snapshot, error) {
	bills, err := l.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if bills == nil {
		bills = []core.Bill{}
	}
	return Snapshot{
		SchemaVersion: storage.SchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Bills:         bills,
	}, nil
}

// Export writes a snapshot of l to w as indented JSON.
func Export(ctx context.Context, l Ledger, w io.Writer) (Snapshot, error) {
	snap, err := Take(ctx, l)
	if err != nil {
		return Snapshot{}, fmt.Errorf("take snapshot: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}
	slog.InfoContext(ctx, "Snapshot exported", "bills", len(snap.Bills), "schema_version", snap.SchemaVersion)
	return snap, nil
}

// Read decodes and checks a snapshot without touching any store.
func Read(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Validate checks the schema version and every bill.
func (s Snapshot) Validate() error {
	if s.SchemaVersion < 1 {
		return fmt.Errorf("%w: missing schema version", ErrInvalidSnapshot)
	}
	if s.SchemaVersion > storage.SchemaVersion {
		return fmt.Errorf("%w: snapshot has %d, this build supports up to %d",
			ErrUnsupportedSchema, s.SchemaVersion, storage.SchemaVersion)
	}
	seen := make(map[string]struct{}, len(s.Bills))
	for i, b := range s.Bills {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: bill %d: %w", ErrInvalidSnapshot, i, err)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("%w: duplicate bill id %s", ErrInvalidSnapshot, b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

// Restore reads a snapshot from r and replaces the ledger with it. Nothing
// is written unless the whole snapshot is valid.
func Restore(ctx context.Context, l Ledger, r io.Reader) (Snapshot, error) {
	snap, err := Read(r)
	if err != nil {
		return Snapshot{}, err
	}
	if err := l.Restore(ctx, snap.Bills); err != nil {
		return Snapshot{}, err
	}
	slog.InfoContext(ctx, "Snapshot restored",
		"bills", len(snap.Bills),
		"schema_version", snap.SchemaVersion,
		"created_at", snap.CreatedAt)
	return snap, nil
}
