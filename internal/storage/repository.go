package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"bollette/internal/core"

	_ "modernc.org/sqlite"
)

// Instants are stored as fixed-width UTC text so string comparison in SQL
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db  *sql.DB
	loc *time.Location
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations. Dates read back are expressed in loc.
func NewSQLiteRepository(dbPath string, loc *time.Location) (*SQLiteRepository, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite has a single writer; one connection avoids SQLITE_BUSY on upgrade.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, loc: loc}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateBill stores a new bill. An empty ID is replaced by a fresh UUID.
func (r *SQLiteRepository) CreateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	if b.ID == "" {
		b.ID = core.NewBillID()
	}
	if err := b.Validate(); err != nil {
		return core.Bill{}, err
	}
	now := time.Now()
	b = b.Clone()
	b.CreatedAt, b.UpdatedAt, b.Version = now, now, 1

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := billExists(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrExists, b.ID)
		}
		if err := insertBill(ctx, tx, b); err != nil {
			return err
		}
		return insertLines(ctx, tx, b)
	})
	if err != nil {
		return core.Bill{}, err
	}

	slog.InfoContext(ctx, "Bill saved to SQLite",
		"id", b.ID,
		"items", len(b.Items),
		"payments", len(b.Payments))

	return b.In(r.loc), nil
}

// GetBill returns the bill with the given ID or ErrNotFound.
func (r *SQLiteRepository) GetBill(ctx context.Context, id string) (core.Bill, error) {
	bills, err := r.loadBills(ctx, r.db, "b.id = ?", id)
	if err != nil {
		return core.Bill{}, fmt.Errorf("get bill: %w", err)
	}
	if len(bills) == 0 {
		return core.Bill{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return bills[0], nil
}

// UpdateBill replaces every field of an existing bill, bumps its version
// and queues it for sync again. CreatedAt is preserved.
func (r *SQLiteRepository) UpdateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	if err := b.Validate(); err != nil {
		return core.Bill{}, err
	}
	b = b.Clone()
	b.UpdatedAt = time.Now()

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var created string
		err := tx.QueryRowContext(ctx,
			`SELECT created_at, version FROM bills WHERE id = ?`, b.ID).Scan(&created, &b.Version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, b.ID)
		}
		if err != nil {
			return fmt.Errorf("read bill: %w", err)
		}
		if b.CreatedAt, err = r.parseTime(created); err != nil {
			return err
		}
		b.Version++

		_, err = tx.ExecContext(ctx, `
			UPDATE bills SET
				start_date = ?, end_date = ?, community_name = ?, phase = ?,
				building_number = ?, room_number = ?, remark = ?, waived_amount = ?,
				updated_at = ?, version = ?, sync_status = ?
			WHERE id = ?`,
			formatTime(b.StartDate), formatTime(b.EndDate), b.CommunityName, b.Phase,
			b.BuildingNumber, b.RoomNumber, b.Remark, b.WaivedAmount,
			formatTime(b.UpdatedAt), b.Version, SyncPending, b.ID)
		if err != nil {
			return fmt.Errorf("update bill: %w", err)
		}
		if err := deleteLines(ctx, tx, b.ID); err != nil {
			return err
		}
		return insertLines(ctx, tx, b)
	})
	if err != nil {
		return core.Bill{}, err
	}

	slog.InfoContext(ctx, "Bill updated in SQLite", "id", b.ID, "version", b.Version)
	return b.In(r.loc), nil
}

// DeleteBill removes a bill with its items and payments.
func (r *SQLiteRepository) DeleteBill(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteLines(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM bills WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete bill: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete bill: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Bill deleted from SQLite", "id", id)
	return nil
}

// AddPayment appends p to the bill's payment history.
func (r *SQLiteRepository) AddPayment(ctx context.Context, id string, p core.PaymentRecord) (core.Bill, error) {
	if p.Date.IsZero() {
		return core.Bill{}, fmt.Errorf("payment: %w", core.ErrZeroDate)
	}
	var out core.Bill
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE bills SET version = version + 1, updated_at = ?, sync_status = ?
			WHERE id = ?`, formatTime(time.Now()), SyncPending, id)
		if err != nil {
			return fmt.Errorf("touch bill: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM payment_records WHERE bill_id = ?`, id).Scan(&pos); err != nil {
			return fmt.Errorf("count payments: %w", err)
		}
		if err := insertPayment(ctx, tx, id, pos, p); err != nil {
			return err
		}
		bills, err := r.loadBills(ctx, tx, "b.id = ?", id)
		if err != nil {
			return err
		}
		out = bills[0]
		return nil
	})
	if err != nil {
		return core.Bill{}, err
	}
	slog.InfoContext(ctx, "Payment recorded", "id", id, "amount", p.Amount.String(), "version", out.Version)
	return out, nil
}

// ReplaceAll deletes every bill and inserts bills in one transaction.
// Versions and timestamps are kept as given.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, bills []core.Bill) error {
	for _, b := range bills {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bill %s: %w", b.ID, err)
		}
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM payment_records`,
			`DELETE FROM bill_items`,
			`DELETE FROM bills`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear ledger: %w", err)
			}
		}
		for _, b := range bills {
			if b.Version == 0 {
				b.Version = 1
			}
			if b.CreatedAt.IsZero() {
				b.CreatedAt = time.Now()
			}
			if b.UpdatedAt.IsZero() {
				b.UpdatedAt = b.CreatedAt
			}
			if err := insertBill(ctx, tx, b); err != nil {
				return err
			}
			if err := insertLines(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Ledger replaced", "bills", len(bills))
	return nil
}

// FetchBillsInDateRange returns the bills whose active span intersects
// [from, to] or that have a payment dated inside it. Bills and their lines
// are read in one transaction so the snapshot is consistent.
func (r *SQLiteRepository) FetchBillsInDateRange(ctx context.Context, from, to time.Time) ([]core.Bill, error) {
	f, t := formatTime(from), formatTime(to)
	var out []core.Bill
	err := r.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = r.loadBills(ctx, tx, `(b.start_date <= ? AND b.end_date >= ?)
			OR EXISTS (SELECT 1 FROM payment_records p
				WHERE p.bill_id = b.id AND p.paid_at >= ? AND p.paid_at <= ?)`,
			t, f, f, t)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bills in range: %w", err)
	}
	return out, nil
}

// FetchAllBills returns the whole ledger ordered by start date.
func (r *SQLiteRepository) FetchAllBills(ctx context.Context) ([]core.Bill, error) {
	var out []core.Bill
	err := r.withReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = r.loadBills(ctx, tx, "1 = 1")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch all bills: %w", err)
	}
	return out, nil
}

// GetPendingSyncBills returns bills whose balance has not been mirrored yet,
// oldest change first.
func (r *SQLiteRepository) GetPendingSyncBills(ctx context.Context, limit int) ([]PendingSyncBill, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, version, updated_at FROM bills
		WHERE sync_status = ?
		ORDER BY updated_at
		LIMIT ?`, SyncPending, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync bills: %w", err)
	}
	defer rows.Close()

	var out []PendingSyncBill
	for rows.Next() {
		var (
			p       PendingSyncBill
			updated string
		)
		if err := rows.Scan(&p.ID, &p.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan pending sync bill: %w", err)
		}
		if p.UpdatedAt, err = r.parseTime(updated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSynced marks a bill as mirrored. A newer version written meanwhile
// stays pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, version int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bills SET sync_status = ?, synced_at = ?
		WHERE id = ? AND version = ?`,
		SyncSynced, formatTime(time.Now()), id, version)
	if err != nil {
		return fmt.Errorf("mark bill synced: %w", err)
	}

	slog.InfoContext(ctx, "Bill marked as synced", "id", id, "version", version)
	return nil
}

// MarkSyncError marks a bill as having failed to sync.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bills SET sync_status = ? WHERE id = ?`, SyncError, id)
	if err != nil {
		return fmt.Errorf("mark bill sync error: %w", err)
	}

	slog.WarnContext(ctx, "Bill marked with sync error", "id", id)
	return nil
}

// SyncStatus returns the stored sync state of a bill.
func (r *SQLiteRepository) SyncStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT sync_status FROM bills WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("get sync status: %w", err)
	}
	return status, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) withReadTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// loadBills reads the bills matching where (aliased as b) together with
// their items and payments, in start date order.
func (r *SQLiteRepository) loadBills(ctx context.Context, q querier, where string, args ...any) ([]core.Bill, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT b.id, b.start_date, b.end_date, b.community_name, b.phase,
			b.building_number, b.room_number, b.remark, b.waived_amount,
			b.created_at, b.updated_at, b.version
		FROM bills b
		WHERE `+where+`
		ORDER BY b.start_date, b.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	defer rows.Close()

	var (
		bills []core.Bill
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			b                            core.Bill
			start, end, created, updated string
		)
		if err := rows.Scan(&b.ID, &start, &end, &b.CommunityName, &b.Phase,
			&b.BuildingNumber, &b.RoomNumber, &b.Remark, &b.WaivedAmount,
			&created, &updated, &b.Version); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		for _, f := range []struct {
			dst *time.Time
			src string
		}{{&b.StartDate, start}, {&b.EndDate, end}, {&b.CreatedAt, created}, {&b.UpdatedAt, updated}} {
			if *f.dst, err = r.parseTime(f.src); err != nil {
				return nil, err
			}
		}
		index[b.ID] = len(bills)
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bills: %w", err)
	}
	rows.Close()
	if len(bills) == 0 {
		return nil, nil
	}

	itemRows, err := q.QueryContext(ctx, `
		SELECT i.bill_id, i.label, i.amount
		FROM bill_items i
		WHERE i.bill_id IN (SELECT b.id FROM bills b WHERE `+where+`)
		ORDER BY i.bill_id, i.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query bill items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			id   string
			item core.BillItem
		)
		if err := itemRows.Scan(&id, &item.Label, &item.Amount); err != nil {
			return nil, fmt.Errorf("scan bill item: %w", err)
		}
		if i, ok := index[id]; ok {
			bills[i].Items = append(bills[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bill items: %w", err)
	}
	itemRows.Close()

	payRows, err := q.QueryContext(ctx, `
		SELECT pr.bill_id, pr.amount, pr.paid_at, pr.note
		FROM payment_records pr
		WHERE pr.bill_id IN (SELECT b.id FROM bills b WHERE `+where+`)
		ORDER BY pr.bill_id, pr.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query payment records: %w", err)
	}
	defer payRows.Close()
	for payRows.Next() {
		var (
			id, paidAt string
			p          core.PaymentRecord
		)
		if err := payRows.Scan(&id, &p.Amount, &paidAt, &p.Note); err != nil {
			return nil, fmt.Errorf("scan payment record: %w", err)
		}
		if p.Date, err = r.parseTime(paidAt); err != nil {
			return nil, err
		}
		if i, ok := index[id]; ok {
			bills[i].Payments = append(bills[i].Payments, p)
		}
	}
	if err := payRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment records: %w", err)
	}
	return bills, nil
}

func billExists(ctx context.Context, q querier, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bills WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check bill: %w", err)
	}
	return n > 0, nil
}

func insertBill(ctx context.Context, q querier, b core.Bill) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO bills (
			id, start_date, end_date, community_name, phase, building_number,
			room_number, remark, waived_amount, created_at, updated_at, version, sync_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, formatTime(b.StartDate), formatTime(b.EndDate), b.CommunityName, b.Phase,
		b.BuildingNumber, b.RoomNumber, b.Remark, b.WaivedAmount,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version, SyncPending)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func insertLines(ctx context.Context, q querier, b core.Bill) error {
	for i, item := range b.Items {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO bill_items (bill_id, position, label, amount) VALUES (?, ?, ?, ?)`,
			b.ID, i, item.Label, item.Amount); err != nil {
			return fmt.Errorf("insert bill item: %w", err)
		}
	}
	for i, p := range b.Payments {
		if err := insertPayment(ctx, q, b.ID, i, p); err != nil {
			return err
		}
	}
	return nil
}

func insertPayment(ctx context.Context, q querier, billID string, pos int, p core.PaymentRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO payment_records (bill_id, position, amount, paid_at, note) VALUES (?, ?, ?, ?, ?)`,
		billID, pos, p.Amount, formatTime(p.Date), p.Note)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

func deleteLines(ctx context.Context, q querier, id string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM bill_items WHERE bill_id = ?`, id); err != nil {
		return fmt.Errorf("delete bill items: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM payment_records WHERE bill_id = ?`, id); err != nil {
		return fmt.Errorf("delete payment records: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (r *SQLiteRepository) parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.In(r.loc), nil
}
