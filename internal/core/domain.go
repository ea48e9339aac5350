package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// Bill is one billing period for one physical unit. Items and payments
	// are owned by exactly one bill and persisted with it.
	Bill struct {
		ID             string          `json:"id"`
		StartDate      time.Time       `json:"start_date"`
		EndDate        time.Time       `json:"end_date"`
		CommunityName  string          `json:"community_name"`
		Phase          string          `json:"phase"`
		BuildingNumber string          `json:"building_number"`
		RoomNumber     string          `json:"room_number"`
		Remark         string          `json:"remark"`
		WaivedAmount   Money           `json:"waived_amount"`
		Items          []BillItem      `json:"items"`
		Payments       []PaymentRecord `json:"payments"`

		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		Version   int64     `json:"version"`
	}

	// BillItem is one charge line. Zero and negative amounts are adjustments.
	BillItem struct {
		Label  string `json:"label"`
		Amount Money  `json:"amount"`
	}

	// PaymentRecord is one payment applied toward a bill.
	PaymentRecord struct {
		Amount Money     `json:"amount"`
		Date   time.Time `json:"date"`
		Note   string    `json:"note,omitempty"`
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrMissingID     = errors.New("missing bill id")
	ErrZeroDate      = errors.New("date cannot be zero")
	ErrDateOrder     = errors.New("end date must not be before start date")
)

// NewBillID returns a fresh stable identifier for a bill.
func NewBillID() string {
	return uuid.NewString()
}

// Validate checks the structural constraints a bill must satisfy before it
// is written. Amounts are not checked: negative items, waivers above the item
// total and overpayments are all valid ledger data.
func (b Bill) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrMissingID
	}
	if b.StartDate.IsZero() {
		return fmt.Errorf("invalid start date: %w", ErrZeroDate)
	}
	if b.EndDate.IsZero() {
		return fmt.Errorf("invalid end date: %w", ErrZeroDate)
	}
	if b.EndDate.Before(b.StartDate) {
		return ErrDateOrder
	}
	for i, p := range b.Payments {
		if p.Date.IsZero() {
			return fmt.Errorf("invalid payment date at position %d: %w", i, ErrZeroDate)
		}
	}
	return nil
}

// Location returns the location tuple formatted for display,
// e.g. "Green Park / 2 / B3 / 1201".
func (b Bill) Location() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{b.CommunityName, b.Phase, b.BuildingNumber, b.RoomNumber} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " / ")
}

// Clone returns a deep copy so callers can hand out bills without sharing
// the item and payment slices.
func (b Bill) Clone() Bill {
	out := b
	if b.Items != nil {
		out.Items = append([]BillItem(nil), b.Items...)
	}
	if b.Payments != nil {
		out.Payments = append([]PaymentRecord(nil), b.Payments...)
	}
	return out
}

// In converts every date of the bill to loc.
func (b Bill) In(loc *time.Location) Bill {
	if loc == nil {
		return b
	}
	out := b.Clone()
	out.StartDate = out.StartDate.In(loc)
	out.EndDate = out.EndDate.In(loc)
	for i := range out.Payments {
		out.Payments[i].Date = out.Payments[i].Date.In(loc)
	}
	return out
}

// Balance computes the bill's financial state.
func (b Bill) Balance() Balance {
	return CalculateBalance(b)
}
