package core

// Status is the settlement state of a bill derived from its amounts.
type Status string

const (
	StatusUnpaid   Status = "UNPAID"
	StatusPartial  Status = "PARTIAL"
	StatusPaid     Status = "PAID"
	StatusOverpaid Status = "OVERPAID"
)

// Settled reports whether nothing is owed any more.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusOverpaid
}

// Balance is the canonical set of numbers for a bill. Reports, exports and
// the sheets mirror display these values and never recompute them.
type Balance struct {
	ItemTotal   Money  `json:"item_total"`
	NetTotal    Money  `json:"net_total"`
	PaidTotal   Money  `json:"paid_total"`
	Outstanding Money  `json:"outstanding"`
	Status      Status `json:"status"`
}

// CalculateBalance derives totals and status from a bill's items, payments
// and waiver. It is a pure function: no input is rejected and nothing is
// clamped, so a waiver above the item total yields a negative net total and
// an overpayment yields a negative outstanding amount.
func CalculateBalance(b Bill) Balance {
	var bal Balance
	for _, it := range b.Items {
		bal.ItemTotal = bal.ItemTotal.Add(it.Amount)
	}
	for _, p := range b.Payments {
		bal.PaidTotal = bal.PaidTotal.Add(p.Amount)
	}
	bal.NetTotal = bal.ItemTotal.Sub(b.WaivedAmount)
	bal.Outstanding = bal.NetTotal.Sub(bal.PaidTotal)
	bal.Status = statusOf(bal)
	return bal
}

func statusOf(bal Balance) Status {
	// Nothing paid: owed when the net total is positive, settled otherwise
	// (a full waiver or a credit bill has nothing to collect).
	if bal.PaidTotal.IsZero() {
		if bal.NetTotal.IsPositive() {
			return StatusUnpaid
		}
		return StatusPaid
	}
	if bal.Outstanding.IsZero() && bal.NetTotal.Sign() >= 0 {
		return StatusPaid
	}
	if bal.Outstanding.IsNegative() {
		return StatusOverpaid
	}
	return StatusPartial
}
