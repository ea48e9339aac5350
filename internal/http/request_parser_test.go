package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bollette/internal/core"
	"bollette/internal/export"
)

var rome = mustLoad("Europe/Rome")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 3600)
	}
	return loc
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, rome), false},
		{" 2024-03-01 ", time.Date(2024, 3, 1, 0, 0, 0, 0, rome), false},
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), false},
		{"01/03/2024", time.Time{}, true},
		{"2024-02-30", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, rome)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate(%q) err = %v", tt.in, err)
			}
			if err != nil && !errors.Is(err, errMalformedRequest) {
				t.Fatalf("error not marked malformed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseUpperBound(t *testing.T) {
	got, err := parseUpperBound("2024-03-31", rome)
	if err != nil {
		t.Fatalf("parseUpperBound: %v", err)
	}
	want := time.Date(2024, 3, 31, 23, 59, 59, 999999999, rome)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	exact, _ := parseUpperBound("2024-03-31T12:00:00Z", rome)
	if !exact.Equal(time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamps must not be extended: %v", exact)
	}
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, rome)

	tests := []struct {
		name     string
		query    string
		kind     core.WindowKind
		from, to time.Time
		errIs    error
	}{
		{
			name:  "month",
			query: "year=2024&month=2",
			kind:  core.WindowMonth,
			from:  time.Date(2024, 2, 1, 0, 0, 0, 0, rome),
			to:    time.Date(2024, 2, 29, 23, 59, 59, 999999999, rome),
		},
		{
			name:  "year",
			query: "year=2023",
			kind:  core.WindowYear,
			from:  time.Date(2023, 1, 1, 0, 0, 0, 0, rome),
			to:    time.Date(2023, 12, 31, 23, 59, 59, 999999999, rome),
		},
		{
			name:  "default current year",
			query: "",
			kind:  core.WindowYear,
			from:  time.Date(2025, 1, 1, 0, 0, 0, 0, rome),
			to:    time.Date(2025, 12, 31, 23, 59, 59, 999999999, rome),
		},
		{
			name:  "range",
			query: "from=2024-03-01&to=2024-03-10",
			kind:  core.WindowRange,
			from:  time.Date(2024, 3, 1, 0, 0, 0, 0, rome),
			to:    time.Date(2024, 3, 10, 23, 59, 59, 999999999, rome),
		},
		{
			name:  "open ended range",
			query: "from=2024-03-01",
			kind:  core.WindowRange,
			from:  time.Date(2024, 3, 1, 0, 0, 0, 0, rome),
			to:    core.MaxTime,
		},
		{
			name:  "single day range",
			query: "from=2024-03-01&to=2024-03-01",
			kind:  core.WindowRange,
			from:  time.Date(2024, 3, 1, 0, 0, 0, 0, rome),
			to:    time.Date(2024, 3, 1, 23, 59, 59, 999999999, rome),
		},
		{name: "reversed range", query: "from=2024-03-10&to=2024-03-01", errIs: core.ErrInvalidRange},
		{name: "month 13", query: "year=2024&month=13", errIs: errMalformedRequest},
		{name: "month 0", query: "year=2024&month=0", errIs: errMalformedRequest},
		{name: "month without year", query: "month=3", errIs: errMalformedRequest},
		{name: "mixed", query: "year=2024&from=2024-01-01", errIs: errMalformedRequest},
		{name: "bad year", query: "year=twenty", errIs: errMalformedRequest},
		{name: "year out of range", query: "year=0", errIs: errMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			w, err := ParseWindow(q, rome, now)
			if tt.errIs != nil {
				if !errors.Is(err, tt.errIs) {
					t.Fatalf("err = %v, want %v", err, tt.errIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseWindow: %v", err)
			}
			if w.Kind != tt.kind || !w.From.Equal(tt.from) || !w.To.Equal(tt.to) {
				t.Fatalf("window = %+v, want %s [%v, %v]", w, tt.kind, tt.from, tt.to)
			}
		})
	}
}

func TestParseBillFilter(t *testing.T) {
	q, _ := url.ParseQuery("from=2024-01-01&to=2024-01-31&status=partial")
	f, err := ParseBillFilter(q, time.UTC)
	if err != nil {
		t.Fatalf("ParseBillFilter: %v", err)
	}
	if f.Status != core.StatusPartial {
		t.Fatalf("status = %q", f.Status)
	}
	if !f.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) ||
		!f.To.Equal(time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC)) {
		t.Fatalf("bounds = %v %v", f.From, f.To)
	}

	q, _ = url.ParseQuery("status=settled")
	if _, err := ParseBillFilter(q, time.UTC); !errors.Is(err, errMalformedRequest) {
		t.Fatalf("unknown status err = %v", err)
	}

	f, err = ParseBillFilter(url.Values{}, time.UTC)
	if err != nil || !f.From.IsZero() || !f.To.IsZero() || f.Status != "" {
		t.Fatalf("empty filter = %+v, %v", f, err)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := parseFormat(url.Values{})
	if err != nil || f != export.FormatXLSX {
		t.Fatalf("default format = %q, %v", f, err)
	}
	f, err = parseFormat(url.Values{"format": {"PDF"}})
	if err != nil || f != export.FormatPDF {
		t.Fatalf("pdf = %q, %v", f, err)
	}
	if _, err := parseFormat(url.Values{"format": {"csv"}}); !errors.Is(err, export.ErrUnknownFormat) {
		t.Fatalf("csv err = %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		errIs error
	}{
		{"valid", `{"amount":"10.50","date":"2024-03-01"}`, nil},
		{"empty", ``, errMalformedRequest},
		{"unknown field", `{"amount":"1","date":"2024-03-01","extra":1}`, errMalformedRequest},
		{"trailing data", `{"amount":"1","date":"2024-03-01"} {}`, errMalformedRequest},
		{"bad amount", `{"amount":"ten","date":"2024-03-01"}`, core.ErrInvalidAmount},
		{"syntax", `{"amount":`, errMalformedRequest},
		{"missing date", `{"amount":"1"}`, errMalformedRequest},
		{"long note", `{"amount":"1","date":"2024-03-01","note":"` + strings.Repeat("n", 501) + `"}`, errMalformedRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p paymentRequest
			err := decodeJSON(r, &p)
			if tt.errIs == nil {
				if err != nil {
					t.Fatalf("decodeJSON: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.errIs) {
				t.Fatalf("err = %v, want %v", err, tt.errIs)
			}
		})
	}
}

func TestDecodeJSONValidationNamesField(t *testing.T) {
	body := `{"start_date":"2024-03-01","end_date":"2024-03-31","items":[{"label":"` + strings.Repeat("x", 201) + `","amount":"1"}]}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var req billRequest
	err := decodeJSON(r, &req)
	if !errors.Is(err, errMalformedRequest) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "items[0].label: max=200") {
		t.Fatalf("error does not name the field: %v", err)
	}
}

func TestBillRequestToBill(t *testing.T) {
	req := billRequest{
		ID:            " b1 ",
		StartDate:     "2024-01-01",
		EndDate:       "2024-01-31",
		CommunityName: "Green\x00 Park",
		WaivedAmount:  core.MustParseMoney("5"),
		Items:         []itemRequest{{Label: "water", Amount: core.MustParseMoney("30")}},
		Payments:      []paymentRequest{{Amount: core.MustParseMoney("10"), Date: "2024-01-15", Note: "cash"}},
	}
	b, err := req.toBill(time.UTC)
	if err != nil {
		t.Fatalf("toBill: %v", err)
	}
	if b.ID != "b1" || b.CommunityName != "Green Park" {
		t.Fatalf("sanitized fields = %q %q", b.ID, b.CommunityName)
	}
	if len(b.Items) != 1 || len(b.Payments) != 1 || b.Payments[0].Note != "cash" {
		t.Fatalf("bill = %+v", b)
	}
	if got := core.CalculateBalance(b).Outstanding.String(); got != "15.00" {
		t.Fatalf("outstanding = %s", got)
	}

	req.Payments[0].Date = "yesterday"
	if _, err := req.toBill(time.UTC); !errors.Is(err, errMalformedRequest) {
		t.Fatalf("bad payment date err = %v", err)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  plain  ":       "plain",
		"a\x00b\x07c":     "abc",
		"line\nbreak\tok": "line\nbreak\tok",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Fatalf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
