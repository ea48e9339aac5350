// Package export renders bill statements and statistics reports as XLSX
// workbooks and PDF documents. Every figure comes from core.CalculateBalance
// or core.StatisticsData; nothing is recomputed here.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bollette/internal/core"
	"bollette/internal/observability/metrics"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var ErrUnknownFormat = errors.New("unknown export format")

const dateLayout = "2006-01-02"

// ParseFormat accepts "xlsx" or "pdf" in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Filename builds a download name such as "bill-<id>.xlsx".
func (f Format) Filename(base string) string {
	return base + "." + string(f)
}

// Bill renders one bill statement.
func Bill(f Format, b core.Bill) ([]byte, error) {
	start := time.Now()
	bal := core.CalculateBalance(b)

	var (
		out []byte
		err error
	)
	switch f {
	case FormatXLSX:
		out, err = BillStatementXLSX(b, bal)
	case FormatPDF:
		out, err = BillStatementPDF(b, bal)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	metrics.ObserveExport("bill", string(f), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("export bill %s: %w", b.ID, err)
	}
	return out, nil
}

// Statistics renders a statistics report for w.
func Statistics(f Format, w core.Window, d core.StatisticsData) ([]byte, error) {
	start := time.Now()

	var (
		out []byte
		err error
	)
	switch f {
	case FormatXLSX:
		out, err = StatisticsXLSX(w, d)
	case FormatPDF:
		out, err = StatisticsPDF(w, d)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	metrics.ObserveExport("statistics", string(f), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("export statistics: %w", err)
	}
	return out, nil
}

// windowTitle describes a window for report headings.
func windowTitle(w core.Window) string {
	switch w.Kind {
	case core.WindowYear:
		return fmt.Sprintf("Year %d", w.From.Year())
	case core.WindowMonth:
		return w.From.Format("January 2006")
	default:
		return w.From.Format(dateLayout) + " to " + w.To.Format(dateLayout)
	}
}

func paymentLocation(p core.TopPayment) string {
	return core.Bill{
		CommunityName:  p.CommunityName,
		Phase:          p.Phase,
		BuildingNumber: p.BuildingNumber,
		RoomNumber:     p.RoomNumber,
	}.Location()
}
