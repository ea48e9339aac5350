package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bollette/internal/core"
	"bollette/internal/storage"
	"bollette/internal/storage/memory"
)

type fakePublisher struct {
	mu      sync.Mutex
	syncs   []string
	deletes []string
	err     error
}

func (f *fakePublisher) PublishBillSync(_ context.Context, id string, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, id)
	return f.err
}

func (f *fakePublisher) PublishBillDelete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.err
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) { c.n++ }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sampleBill(id string, start, end time.Time, items ...string) core.Bill {
	b := core.Bill{
		ID:             id,
		StartDate:      start,
		EndDate:        end,
		CommunityName:  "Sunrise",
		Phase:          "1",
		BuildingNumber: "3",
		RoomNumber:     "502",
	}
	for _, amt := range items {
		b.Items = append(b.Items, core.BillItem{Label: "fee", Amount: core.MustParseMoney(amt)})
	}
	return b
}

func newTestBillService(t *testing.T, pub Publisher) (*BillService, *countingInvalidator) {
	t.Helper()
	inv := &countingInvalidator{}
	return NewBillService(memory.New(time.UTC), pub, inv), inv
}

func TestBillService_CreatePublishesAndInvalidates(t *testing.T) {
	pub := &fakePublisher{}
	svc, inv := newTestBillService(t, pub)
	ctx := context.Background()

	b, err := svc.CreateBill(ctx, sampleBill("", day(2024, 1, 1), day(2024, 1, 31), "100.00"))
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if b.ID == "" || b.Version != 1 {
		t.Fatalf("created bill = %+v", b)
	}
	if len(pub.syncs) != 1 || pub.syncs[0] != b.ID {
		t.Fatalf("sync messages = %v", pub.syncs)
	}
	if inv.n != 1 {
		t.Fatalf("invalidations = %d, want 1", inv.n)
	}
}

func TestBillService_PublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc, _ := newTestBillService(t, pub)

	if _, err := svc.CreateBill(context.Background(), sampleBill("b1", day(2024, 1, 1), day(2024, 1, 31), "10")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
}

func TestBillService_NilPublisher(t *testing.T) {
	svc, inv := newTestBillService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateBill(ctx, sampleBill("b1", day(2024, 1, 1), day(2024, 1, 31), "10")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if err := svc.DeleteBill(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBill: %v", err)
	}
	if inv.n != 2 {
		t.Fatalf("invalidations = %d, want 2", inv.n)
	}
}

func TestBillService_CreateInvalidBill(t *testing.T) {
	pub := &fakePublisher{}
	svc, inv := newTestBillService(t, pub)

	_, err := svc.CreateBill(context.Background(), sampleBill("b1", day(2024, 2, 1), day(2024, 1, 1), "10"))
	if !errors.Is(err, core.ErrDateOrder) {
		t.Fatalf("err = %v, want ErrDateOrder", err)
	}
	if len(pub.syncs) != 0 || inv.n != 0 {
		t.Fatalf("failed write must not publish or invalidate")
	}
}

func TestBillService_AddPaymentUpdatesBalance(t *testing.T) {
	svc, _ := newTestBillService(t, &fakePublisher{})
	ctx := context.Background()

	b, err := svc.CreateBill(ctx, sampleBill("b1", day(2024, 1, 1), day(2024, 1, 31), "80.00", "20.00"))
	if err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	_, bal, err := svc.AddPayment(ctx, b.ID, core.PaymentRecord{Amount: core.MustParseMoney("40"), Date: day(2024, 1, 10)})
	if err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if bal.Status != core.StatusPartial || !bal.Outstanding.Equal(core.MustParseMoney("60")) {
		t.Fatalf("balance = %+v", bal)
	}

	_, bal, err = svc.AddPayment(ctx, b.ID, core.PaymentRecord{Amount: core.MustParseMoney("60"), Date: day(2024, 1, 20)})
	if err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if bal.Status != core.StatusPaid {
		t.Fatalf("status = %s, want PAID", bal.Status)
	}

	got, gotBal, err := svc.GetBill(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBill: %v", err)
	}
	if len(got.Payments) != 2 || gotBal.Status != bal.Status || !gotBal.PaidTotal.Equal(core.MustParseMoney("100")) {
		t.Fatalf("GetBill = %+v %+v", got, gotBal)
	}
}

func TestBillService_NotFound(t *testing.T) {
	svc, _ := newTestBillService(t, nil)
	ctx := context.Background()

	if _, _, err := svc.GetBill(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetBill err = %v", err)
	}
	if err := svc.DeleteBill(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("DeleteBill err = %v", err)
	}
	if _, _, err := svc.AddPayment(ctx, "missing", core.PaymentRecord{Amount: core.MustParseMoney("1"), Date: day(2024, 1, 1)}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("AddPayment err = %v", err)
	}
}

func TestBillService_DeletePublishesDelete(t *testing.T) {
	pub := &fakePublisher{}
	svc, _ := newTestBillService(t, pub)
	ctx := context.Background()

	if _, err := svc.CreateBill(ctx, sampleBill("b1", day(2024, 1, 1), day(2024, 1, 31), "10")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	if err := svc.DeleteBill(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBill: %v", err)
	}
	if len(pub.deletes) != 1 || pub.deletes[0] != "b1" {
		t.Fatalf("delete messages = %v", pub.deletes)
	}
}

func TestBillService_ListBills(t *testing.T) {
	svc, _ := newTestBillService(t, nil)
	ctx := context.Background()

	jan := sampleBill("jan", day(2024, 1, 1), day(2024, 1, 31), "10")
	mar := sampleBill("mar", day(2024, 3, 1), day(2024, 3, 31), "10")
	mar.Payments = []core.PaymentRecord{{Amount: core.MustParseMoney("10"), Date: day(2024, 3, 5)}}
	for _, b := range []core.Bill{mar, jan} {
		if _, err := svc.CreateBill(ctx, b); err != nil {
			t.Fatalf("CreateBill: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter BillFilter
		want   []string
	}{
		{"all", BillFilter{}, []string{"jan", "mar"}},
		{"from only", BillFilter{From: day(2024, 2, 1)}, []string{"mar"}},
		{"to only", BillFilter{To: day(2024, 1, 15)}, []string{"jan"}},
		{"window", BillFilter{From: day(2024, 1, 10), To: day(2024, 3, 1)}, []string{"jan", "mar"}},
		{"status paid", BillFilter{Status: core.StatusPaid}, []string{"mar"}},
		{"status unpaid", BillFilter{Status: core.StatusUnpaid}, []string{"jan"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bills, err := svc.ListBills(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListBills: %v", err)
			}
			if len(bills) != len(tt.want) {
				t.Fatalf("got %d bills, want %v", len(bills), tt.want)
			}
			for i, id := range tt.want {
				if bills[i].ID != id {
					t.Fatalf("bills[%d] = %s, want %s", i, bills[i].ID, id)
				}
			}
		})
	}

	if _, err := svc.ListBills(ctx, BillFilter{From: day(2024, 5, 1), To: day(2024, 4, 1)}); !errors.Is(err, core.ErrInvalidRange) {
		t.Fatalf("inverted filter err = %v", err)
	}
}

func TestBillService_SnapshotRestore(t *testing.T) {
	pub := &fakePublisher{}
	svc, inv := newTestBillService(t, pub)
	ctx := context.Background()

	if _, err := svc.CreateBill(ctx, sampleBill("old", day(2024, 1, 1), day(2024, 1, 31), "10")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}

	restored := []core.Bill{
		sampleBill("a", day(2023, 1, 1), day(2023, 1, 31), "5"),
		sampleBill("b", day(2023, 2, 1), day(2023, 2, 28), "6"),
	}
	if err := svc.Restore(ctx, restored); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 2 || snap[0].ID != "a" || snap[1].ID != "b" {
		t.Fatalf("snapshot = %+v", snap)
	}
	// one create, two restored bills
	if len(pub.syncs) != 3 {
		t.Fatalf("sync messages = %v", pub.syncs)
	}
	if inv.n != 2 {
		t.Fatalf("invalidations = %d, want 2", inv.n)
	}
}

func TestBillService_RestoreRejectsInvalidLedger(t *testing.T) {
	svc, _ := newTestBillService(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateBill(ctx, sampleBill("keep", day(2024, 1, 1), day(2024, 1, 31), "10")); err != nil {
		t.Fatalf("CreateBill: %v", err)
	}
	bad := sampleBill("bad", day(2024, 2, 1), day(2024, 1, 1), "10")
	if err := svc.Restore(ctx, []core.Bill{bad}); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := svc.GetBill(ctx, "keep"); err != nil {
		t.Fatalf("ledger changed after failed restore: %v", err)
	}
}
