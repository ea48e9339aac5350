// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request
// data: JSON bodies, calendar dates, statistics windows and list filters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"bollette/internal/core"
	"bollette/internal/export"
	"bollette/internal/services"
)

const dateLayout = "2006-01-02"

// errMalformedRequest marks client input that could not be parsed.
var errMalformedRequest = errors.New("malformed request")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errMalformedRequest, fmt.Sprintf(format, args...))
}

// validate checks request structs; field names in errors are the JSON names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidation renders the first failed rule, e.g.
// "items[0].label: max=200".
func describeValidation(ve validator.ValidationErrors) string {
	fe := ve[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: %s", field, fe.Tag())
}

// decodeJSON decodes exactly one JSON value into v, rejecting unknown fields,
// then applies the struct's validate tags.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		if errors.Is(err, core.ErrInvalidAmount) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return malformed("empty body")
		}
		return malformed("%v", err)
	}
	if dec.More() {
		return malformed("unexpected data after JSON body")
	}
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return malformed("%s", describeValidation(ve))
		}
		return malformed("%v", err)
	}
	return nil
}

// parseDate accepts YYYY-MM-DD, read as midnight in loc, or an RFC 3339
// timestamp.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(sanitizeInput(s))
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, malformed("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

// parseUpperBound is parseDate for inclusive upper bounds: a bare date
// extends to the last instant of that day.
func parseUpperBound(s string, loc *time.Location) (time.Time, error) {
	t, err := parseDate(s, loc)
	if err != nil || t.IsZero() {
		return t, err
	}
	if _, derr := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc); derr == nil {
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return t, nil
}

func parseIntParam(q url.Values, key string) (int, bool, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, malformed("%s must be an integer", key)
	}
	return n, true, nil
}

// ParseWindow reads a statistics window from query parameters:
//
//	year=2024&month=3   calendar month
//	year=2024           calendar year
//	from=...&to=...     inclusive custom range; either bound may be omitted
//	(nothing)           the current calendar year
//
// Calendar and custom parameters cannot be mixed.
func ParseWindow(q url.Values, loc *time.Location, now time.Time) (core.Window, error) {
	year, hasYear, err := parseIntParam(q, "year")
	if err != nil {
		return core.Window{}, err
	}
	month, hasMonth, err := parseIntParam(q, "month")
	if err != nil {
		return core.Window{}, err
	}
	rawFrom, rawTo := q.Get("from"), q.Get("to")
	hasRange := strings.TrimSpace(rawFrom) != "" || strings.TrimSpace(rawTo) != ""

	switch {
	case hasRange && (hasYear || hasMonth):
		return core.Window{}, malformed("use either year/month or from/to")
	case hasRange:
		from, err := parseDate(rawFrom, loc)
		if err != nil {
			return core.Window{}, err
		}
		to, err := parseUpperBound(rawTo, loc)
		if err != nil {
			return core.Window{}, err
		}
		if to.IsZero() {
			to = core.MaxTime
		}
		return core.CustomWindow(from, to)
	case hasMonth && !hasYear:
		return core.Window{}, malformed("month requires year")
	}

	if !hasYear {
		year = now.In(loc).Year()
	}
	if year < 1 || year > 9999 {
		return core.Window{}, malformed("year %d out of range", year)
	}
	if hasMonth {
		if month < 1 || month > 12 {
			return core.Window{}, malformed("month must be between 1 and 12")
		}
		return core.MonthWindow(year, time.Month(month), loc), nil
	}
	return core.YearWindow(year, loc), nil
}

// ParseBillFilter reads the from, to and status list filters.
func ParseBillFilter(q url.Values, loc *time.Location) (services.BillFilter, error) {
	var f services.BillFilter
	var err error
	if f.From, err = parseDate(q.Get("from"), loc); err != nil {
		return f, err
	}
	if f.To, err = parseUpperBound(q.Get("to"), loc); err != nil {
		return f, err
	}
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		switch st := core.Status(s); st {
		case core.StatusUnpaid, core.StatusPartial, core.StatusPaid, core.StatusOverpaid:
			f.Status = st
		default:
			return f, malformed("unknown status %q", q.Get("status"))
		}
	}
	return f, nil
}

// parseFormat reads the export format, defaulting to XLSX.
func parseFormat(q url.Values) (export.Format, error) {
	if strings.TrimSpace(q.Get("format")) == "" {
		return export.FormatXLSX, nil
	}
	return export.ParseFormat(q.Get("format"))
}

// billRequest is the body of create and update calls. Dates use the same
// formats as query parameters.
type billRequest struct {
	ID             string           `json:"id" validate:"max=64"`
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	CommunityName  string           `json:"community_name" validate:"max=200"`
	Phase          string           `json:"phase" validate:"max=100"`
	BuildingNumber string           `json:"building_number" validate:"max=50"`
	RoomNumber     string           `json:"room_number" validate:"max=50"`
	Remark         string           `json:"remark" validate:"max=2000"`
	WaivedAmount   core.Money       `json:"waived_amount"`
	Items          []itemRequest    `json:"items" validate:"max=500,dive"`
	Payments       []paymentRequest `json:"payments" validate:"max=500,dive"`
}

type itemRequest struct {
	Label  string     `json:"label" validate:"max=200"`
	Amount core.Money `json:"amount"`
}

type paymentRequest struct {
	Amount core.Money `json:"amount"`
	Date   string     `json:"date" validate:"required"`
	Note   string     `json:"note" validate:"max=500"`
}

func (p paymentRequest) toPayment(loc *time.Location) (core.PaymentRecord, error) {
	date, err := parseDate(p.Date, loc)
	if err != nil {
		return core.PaymentRecord{}, err
	}
	return core.PaymentRecord{
		Amount: p.Amount,
		Date:   date,
		Note:   sanitizeInput(p.Note),
	}, nil
}

func (req billRequest) toBill(loc *time.Location) (core.Bill, error) {
	start, err := parseDate(req.StartDate, loc)
	if err != nil {
		return core.Bill{}, err
	}
	end, err := parseDate(req.EndDate, loc)
	if err != nil {
		return core.Bill{}, err
	}

	b := core.Bill{
		ID:             sanitizeInput(req.ID),
		StartDate:      start,
		EndDate:        end,
		CommunityName:  sanitizeInput(req.CommunityName),
		Phase:          sanitizeInput(req.Phase),
		BuildingNumber: sanitizeInput(req.BuildingNumber),
		RoomNumber:     sanitizeInput(req.RoomNumber),
		Remark:         sanitizeInput(req.Remark),
		WaivedAmount:   req.WaivedAmount,
	}
	for _, it := range req.Items {
		b.Items = append(b.Items, core.BillItem{Label: sanitizeInput(it.Label), Amount: it.Amount})
	}
	for i, p := range req.Payments {
		rec, err := p.toPayment(loc)
		if err != nil {
			return core.Bill{}, fmt.Errorf("payment %d: %w", i, err)
		}
		b.Payments = append(b.Payments, rec)
	}
	return b, nil
}
