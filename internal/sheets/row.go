package sheets

import (
	"strconv"

	"bollette/internal/core"
)

// DateLayout is the date format written to the sheet.
const DateLayout = "2006-01-02"

// Header is the first row of the mirror sheet. Column A always holds the
// bill ID so rows can be found again.
var Header = []string{
	"ID", "Community", "Phase", "Building", "Room",
	"Start", "End",
	"Items", "Waived", "Net", "Paid", "Outstanding", "Status",
	"Version", "Remark",
}

// LastColumn is the column letter of the last Header entry.
const LastColumn = "O"

// FormatRow renders a bill and its balance as one sheet row. Amounts are
// written as plain decimal strings so the sheet never rounds them.
func FormatRow(b core.Bill, bal core.Balance) []any {
	return []any{
		b.ID,
		b.CommunityName,
		b.Phase,
		b.BuildingNumber,
		b.RoomNumber,
		b.StartDate.Format(DateLayout),
		b.EndDate.Format(DateLayout),
		bal.ItemTotal.String(),
		b.WaivedAmount.String(),
		bal.NetTotal.String(),
		bal.PaidTotal.String(),
		bal.Outstanding.String(),
		string(bal.Status),
		strconv.FormatInt(b.Version, 10),
		b.Remark,
	}
}

// HeaderRow returns Header as a row value.
func HeaderRow() []any {
	out := make([]any, len(Header))
	for i, h := range Header {
		out[i] = h
	}
	return out
}
