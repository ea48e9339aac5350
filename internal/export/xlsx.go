package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"bollette/internal/core"
)

// Sheet names used by the workbooks.
const (
	SheetSummary  = "summary"
	SheetItems    = "items"
	SheetPayments = "payments"
	SheetTop      = "top_payments"
)

// BillStatementXLSX renders a bill with a summary sheet, its charge lines and
// its payments. Amounts are written as exact decimal text.
func BillStatementXLSX(b core.Bill, bal core.Balance) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetItems, SheetPayments} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	summary := [][2]any{
		{"Bill Statement", ""},
		{"", ""},
		{"Bill ID", b.ID},
		{"Location", b.Location()},
		{"Period", b.StartDate.Format(dateLayout) + " to " + b.EndDate.Format(dateLayout)},
		{"Remark", b.Remark},
		{"Items Total", bal.ItemTotal.String()},
		{"Waived", b.WaivedAmount.String()},
		{"Net Total", bal.NetTotal.String()},
		{"Paid Total", bal.PaidTotal.String()},
		{"Outstanding", bal.Outstanding.String()},
		{"Status", string(bal.Status)},
	}
	if err := writePairs(f, SheetSummary, summary); err != nil {
		return nil, err
	}

	items := [][]any{{"Label", "Amount"}}
	for _, it := range b.Items {
		items = append(items, []any{it.Label, it.Amount.String()})
	}
	if err := writeRows(f, SheetItems, items); err != nil {
		return nil, err
	}

	payments := [][]any{{"Date", "Amount", "Note"}}
	for _, p := range b.Payments {
		payments = append(payments, []any{p.Date.Format(dateLayout), p.Amount.String(), p.Note})
	}
	if err := writeRows(f, SheetPayments, payments); err != nil {
		return nil, err
	}

	return writeFile(f)
}

// StatisticsXLSX renders a statistics report with the counts on the summary
// sheet and the ranking on its own sheet.
func StatisticsXLSX(w core.Window, d core.StatisticsData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetTop); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Statistics", windowTitle(w)},
		{"", ""},
		{"From", w.From.Format(dateLayout)},
		{"To", w.To.Format(dateLayout)},
		{"Started Projects", d.StartedProjects},
		{"Ended Projects", d.EndedProjects},
		{"Completed Projects", d.CompletedProjects},
		{"Total Payments", d.TotalPayments.String()},
	}
	if err := writePairs(f, SheetSummary, summary); err != nil {
		return nil, err
	}

	top := [][]any{{"Rank", "Date", "Amount", "Location", "Bill ID", "Note"}}
	for i, p := range d.TopPayments {
		loc := paymentLocation(p)
		top = append(top, []any{i + 1, p.Date.Format(dateLayout), p.Amount.String(), loc, p.BillID, p.Note})
	}
	if err := writeRows(f, SheetTop, top); err != nil {
		return nil, err
	}

	return writeFile(f)
}

func writePairs(f *excelize.File, sheet string, pairs [][2]any) error {
	for i, p := range pairs {
		row := i + 1
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), p[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("B%d", row), p[1]); err != nil {
			return err
		}
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
