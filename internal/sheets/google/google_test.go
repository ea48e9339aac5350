package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"bollette/internal/core"
)

const testClientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

// fakeSheets is an in-memory stand-in for the subset of the Sheets v4 REST
// API the client uses.
type fakeSheets struct {
	mu           sync.Mutex
	title        string
	rows         [][]any
	reads        int
	batchDeletes int
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, rq := range req.Requests {
			if d := rq.DeleteDimension; d != nil {
				if d.Range.SheetId != 42 {
					http.Error(w, "unknown sheet", http.StatusBadRequest)
					return
				}
				f.rows = append(f.rows[:d.Range.StartIndex], f.rows[d.Range.EndIndex:]...)
				f.batchDeletes++
			}
		}
		writeJSON(w, map[string]any{"spreadsheetId": "sid"})

	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		f.reads++
		col := make([][]any, 0, len(f.rows))
		for _, row := range f.rows {
			if len(row) == 0 {
				col = append(col, []any{})
				continue
			}
			col = append(col, []any{row[0]})
		}
		writeJSON(w, map[string]any{"range": f.title + "!A:A", "majorDimension": "ROWS", "values": col})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		rng := path[strings.Index(path, "/values/")+len("/values/"):]
		row, err := rowOfRange(rng)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			http.Error(w, "expected RAW input", http.StatusBadRequest)
			return
		}
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for len(f.rows) < row {
			f.rows = append(f.rows, nil)
		}
		f.rows[row-1] = vr.Values[0]
		writeJSON(w, map[string]any{"updatedRange": rng})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sid"):
		writeJSON(w, map[string]any{
			"spreadsheetId": "sid",
			"sheets": []any{
				map[string]any{"properties": map[string]any{"sheetId": 7, "title": "Other"}},
				map[string]any{"properties": map[string]any{"sheetId": 42, "title": f.title}},
			},
		})

	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func (f *fakeSheets) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.rows))
	for i, row := range f.rows {
		if len(row) > 0 {
			out[i] = fmt.Sprint(row[0])
		}
	}
	return out
}

func (f *fakeSheets) counts() (reads, batchDeletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.batchDeletes
}

func (f *fakeSheets) row(i int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[i-1]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// rowOfRange extracts the row of a single-row range such as "Bollette!A5:O5".
func rowOfRange(rng string) (int, error) {
	cells := rng[strings.Index(rng, "!")+1:]
	first := strings.SplitN(cells, ":", 2)[0]
	return strconv.Atoi(strings.TrimLeft(first, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, Options{SpreadsheetID: "sid", SheetName: fake.title, RowCacheTTL: time.Minute})
}

func testBill(id string, paid string) (core.Bill, core.Balance) {
	b := core.Bill{
		ID:            id,
		StartDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		CommunityName: "Green Park",
		Items:         []core.BillItem{{Label: "water", Amount: core.MustParseMoney("100")}},
		Version:       1,
	}
	if paid != "" {
		b.Payments = []core.PaymentRecord{{Amount: core.MustParseMoney(paid), Date: b.StartDate}}
	}
	return b, core.CalculateBalance(b)
}

func TestClient_UpsertBalance(t *testing.T) {
	fake := &fakeSheets{title: "Bollette"}
	c := newTestClient(t, fake)
	ctx := context.Background()

	b1, bal1 := testBill("b1", "")
	ref, err := c.UpsertBalance(ctx, b1, bal1)
	if err != nil {
		t.Fatalf("UpsertBalance: %v", err)
	}
	if ref != "Bollette!A2:O2" {
		t.Fatalf("ref = %q", ref)
	}

	b2, bal2 := testBill("b2", "")
	if ref, err = c.UpsertBalance(ctx, b2, bal2); err != nil || ref != "Bollette!A3:O3" {
		t.Fatalf("second upsert ref=%q err=%v", ref, err)
	}

	b1, bal1 = testBill("b1", "100")
	b1.Version = 2
	if ref, err = c.UpsertBalance(ctx, b1, bal1); err != nil || ref != "Bollette!A2:O2" {
		t.Fatalf("update ref=%q err=%v", ref, err)
	}

	if got := fake.ids(); strings.Join(got, ",") != "ID,b1,b2" {
		t.Fatalf("sheet ids = %v", got)
	}
	row := fake.row(2)
	if row[12] != "PAID" || row[13] != "2" || row[11] != "0.00" {
		t.Fatalf("row 2 = %v", row)
	}
	if reads, _ := fake.counts(); reads != 1 {
		t.Fatalf("column reads = %d, want 1 while the row index is fresh", reads)
	}
}

func TestClient_UpsertFindsExistingRows(t *testing.T) {
	fake := &fakeSheets{title: "Bollette", rows: [][]any{
		{"ID"}, {"x1"}, {"x2"}, {"b1", "stale"}, {"x3"},
	}}
	c := newTestClient(t, fake)

	b, bal := testBill("b1", "40")
	ref, err := c.UpsertBalance(context.Background(), b, bal)
	if err != nil {
		t.Fatalf("UpsertBalance: %v", err)
	}
	if ref != "Bollette!A4:O4" {
		t.Fatalf("ref = %q", ref)
	}
	if fake.row(4)[12] != "PARTIAL" {
		t.Fatalf("row 4 = %v", fake.row(4))
	}
	if len(fake.ids()) != 5 {
		t.Fatalf("no row should be added, got %v", fake.ids())
	}
}

func TestClient_DeleteBalance(t *testing.T) {
	fake := &fakeSheets{title: "Bollette"}
	c := newTestClient(t, fake)
	ctx := context.Background()

	for _, id := range []string{"b1", "b2", "b3"} {
		b, bal := testBill(id, "")
		if _, err := c.UpsertBalance(ctx, b, bal); err != nil {
			t.Fatalf("UpsertBalance(%s): %v", id, err)
		}
	}

	if err := c.DeleteBalance(ctx, "b2"); err != nil {
		t.Fatalf("DeleteBalance: %v", err)
	}
	if got := strings.Join(fake.ids(), ","); got != "ID,b1,b3" {
		t.Fatalf("sheet ids = %s", got)
	}

	// b3 moved up; the next upsert must find it at its new row.
	b3, bal3 := testBill("b3", "100")
	ref, err := c.UpsertBalance(ctx, b3, bal3)
	if err != nil {
		t.Fatalf("UpsertBalance: %v", err)
	}
	if ref != "Bollette!A3:O3" {
		t.Fatalf("ref after delete = %q", ref)
	}

	if err := c.DeleteBalance(ctx, "missing"); err != nil {
		t.Fatalf("deleting an unknown id should succeed: %v", err)
	}
	if _, deletes := fake.counts(); deletes != 1 {
		t.Fatalf("batch deletes = %d, want 1", deletes)
	}
}

func TestClient_Guards(t *testing.T) {
	c := &Client{spreadsheetID: "test", sheetName: "Bollette"} // svc is nil

	b, bal := testBill("", "")
	if _, err := c.UpsertBalance(context.Background(), b, bal); !errors.Is(err, core.ErrMissingID) {
		t.Fatalf("err = %v, want ErrMissingID", err)
	}
	b.ID = "b1"
	if _, err := c.UpsertBalance(context.Background(), b, bal); err == nil {
		t.Fatal("expected error with nil service")
	}
	if err := c.DeleteBalance(context.Background(), "b1"); err == nil {
		t.Fatal("expected error with nil service")
	}
}

func TestNew_MissingSettings(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"no spreadsheet", Options{SheetName: "Bollette"}, "missing spreadsheet id"},
		{"no sheet", Options{SpreadsheetID: "sid"}, "missing sheet name"},
		{"no client", Options{SpreadsheetID: "sid", SheetName: "Bollette"}, "missing oauth client"},
		{"no token", Options{SpreadsheetID: "sid", SheetName: "Bollette", ClientJSON: testClientJSON}, "missing oauth token"},
		{"bad client", Options{SpreadsheetID: "sid", SheetName: "Bollette", ClientJSON: "invalid-json", TokenJSON: `{"access_token":"t"}`}, "oauth config"},
		{"bad token", Options{SpreadsheetID: "sid", SheetName: "Bollette", ClientJSON: testClientJSON, TokenJSON: "invalid-json"}, "oauth token"},
		{"missing client file", Options{SpreadsheetID: "sid", SheetName: "Bollette", ClientFile: "/non/existent.json"}, "read oauth client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("New() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestNew_FromFiles(t *testing.T) {
	dir := t.TempDir()
	clientFile := filepath.Join(dir, "client.json")
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(clientFile, []byte(testClientJSON), 0o600); err != nil {
		t.Fatalf("write client: %v", err)
	}
	if err := os.WriteFile(tokenFile, []byte(`{"access_token":"test","token_type":"Bearer"}`), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	c, err := New(context.Background(), Options{
		SpreadsheetID: "sid",
		SheetName:     "Bollette",
		ClientFile:    clientFile,
		TokenFile:     tokenFile,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.cacheValidDuration != 5*time.Minute {
		t.Fatalf("default row cache TTL = %v", c.cacheValidDuration)
	}
}

func TestJsonUnmarshalIndirection(t *testing.T) {
	var token oauth2.Token
	if err := jsonUnmarshal([]byte(`{"access_token":"test","token_type":"Bearer"}`), &token); err != nil {
		t.Fatalf("jsonUnmarshal failed: %v", err)
	}
	if token.AccessToken != "test" {
		t.Errorf("expected access token 'test', got %s", token.AccessToken)
	}
}
