package http

import (
	"strings"
	"time"

	"bollette/internal/core"
)

// billView is a bill as served by the API: the stored fields plus the
// balance computed from them.
type billView struct {
	core.Bill
	Balance core.Balance `json:"balance"`
}

func newBillView(b core.Bill) billView {
	if b.Items == nil {
		b.Items = []core.BillItem{}
	}
	if b.Payments == nil {
		b.Payments = []core.PaymentRecord{}
	}
	return billView{Bill: b, Balance: core.CalculateBalance(b)}
}

type windowView struct {
	Kind  core.WindowKind `json:"kind"`
	Label string          `json:"label"`
	From  time.Time       `json:"from"`
	To    time.Time       `json:"to"`
}

type statisticsView struct {
	Window     windowView          `json:"window"`
	Statistics core.StatisticsData `json:"statistics"`
}

func newStatisticsView(w core.Window, d core.StatisticsData) statisticsView {
	if d.TopPayments == nil {
		d.TopPayments = []core.TopPayment{}
	}
	return statisticsView{
		Window:     windowView{Kind: w.Kind, Label: w.String(), From: w.From, To: w.To},
		Statistics: d,
	}
}

// sanitizeInput removes control characters other than tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
