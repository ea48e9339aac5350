package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"bollette/internal/core"
)

// newPDF returns an A4 document with one page and a translator for text
// outside ASCII. The core fonts cover cp1252 only; other runes print as '?'.
func newPDF() (*gofpdf.Fpdf, func(string) string) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()
	return pdf, pdf.UnicodeTranslatorFromDescriptor("")
}

// BillStatementPDF renders one bill statement.
func BillStatementPDF(b core.Bill, bal core.Balance) ([]byte, error) {
	pdf, tr := newPDF()

	pdf.Cell(0, 8, "Bill Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Bill: %s", b.ID),
		fmt.Sprintf("Location: %s", b.Location()),
		fmt.Sprintf("Period: %s to %s", b.StartDate.Format(dateLayout), b.EndDate.Format(dateLayout)),
	}
	if b.Remark != "" {
		lines = append(lines, fmt.Sprintf("Remark: %s", b.Remark))
	}
	for _, l := range lines {
		pdf.Cell(0, 6, tr(l))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(110, 6, "Item", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, it := range b.Items {
		pdf.CellFormat(110, 6, tr(it.Label), "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, it.Amount.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	totals := [][2]string{
		{"Items Total", bal.ItemTotal.String()},
		{"Waived", b.WaivedAmount.String()},
		{"Net Total", bal.NetTotal.String()},
		{"Paid Total", bal.PaidTotal.String()},
		{"Outstanding", bal.Outstanding.String()},
		{"Status", string(bal.Status)},
	}
	pdf.Ln(4)
	for _, t := range totals {
		pdf.CellFormat(110, 6, t[0], "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, t[1], "", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	if len(b.Payments) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 6, "Date", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, "Note", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, p := range b.Payments {
			pdf.CellFormat(40, 6, p.Date.Format(dateLayout), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, p.Amount.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(70, 6, tr(p.Note), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	return output(pdf)
}

// StatisticsPDF renders a statistics report.
func StatisticsPDF(w core.Window, d core.StatisticsData) ([]byte, error) {
	pdf, tr := newPDF()

	pdf.Cell(0, 8, "Statistics: "+windowTitle(w))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, l := range []string{
		fmt.Sprintf("Window: %s to %s", w.From.Format(dateLayout), w.To.Format(dateLayout)),
		fmt.Sprintf("Started projects: %d", d.StartedProjects),
		fmt.Sprintf("Ended projects: %d", d.EndedProjects),
		fmt.Sprintf("Completed projects: %d", d.CompletedProjects),
		fmt.Sprintf("Total payments: %s", d.TotalPayments.String()),
	} {
		pdf.Cell(0, 6, l)
		pdf.Ln(5)
	}

	if len(d.TopPayments) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(12, 6, "#", "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 6, "Date", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
		pdf.CellFormat(110, 6, "Location", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for i, p := range d.TopPayments {
			loc := paymentLocation(p)
			pdf.CellFormat(12, 6, fmt.Sprintf("%d", i+1), "1", 0, "C", false, 0, "")
			pdf.CellFormat(28, 6, p.Date.Format(dateLayout), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, p.Amount.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(110, 6, tr(loc), "1", 0, "L", false, 0, "")
			pdf.Ln(-1)
		}
	}

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
