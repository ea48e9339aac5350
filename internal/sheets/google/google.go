package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"bollette/internal/core"
	ports "bollette/internal/sheets"
)

// Options locates the spreadsheet and the OAuth material used to reach it.
// Inline JSON wins over files.
type Options struct {
	SpreadsheetID string
	SheetName     string

	ClientJSON string
	ClientFile string
	TokenJSON  string
	TokenFile  string

	// RowCacheTTL bounds how long the ID to row index is trusted (default 5m).
	RowCacheTTL time.Duration
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	// mu serializes writes so row numbers stay valid between lookup and write.
	mu                 sync.Mutex
	rows               map[string]int
	rowCount           int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
	sheetID            *int64
}

// Ensure interface conformance
var _ ports.Mirror = (*Client)(nil)

// jsonUnmarshal is indirected for tests.
var jsonUnmarshal = json.Unmarshal

// New creates a Sheets client authorised with a stored OAuth token.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(opts.SheetName) == "" {
		return nil, errors.New("missing sheet name")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, opts), nil
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, opts Options) *Client {
	ttl := opts.RowCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      opts.SpreadsheetID,
		sheetName:          opts.SheetName,
		cacheValidDuration: ttl,
	}
}

// newSheetsService builds an OAuth2 HTTP client from the installed-app client
// secret and the token saved by bollette-oauth-init.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	clientJSON, err := readSecret(opts.ClientJSON, opts.ClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	if clientJSON == nil {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	tokenJSON, err := readSecret(opts.TokenJSON, opts.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if tokenJSON == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	var tok oauth2.Token
	if err := jsonUnmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	// The oauth2 client reuses the pooled transport for API calls and refreshes.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := cfg.Client(ctx, &tok)

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "scope", gsheet.SpreadsheetsScope)
	return svc, nil
}

func readSecret(inline, file string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if file = strings.TrimSpace(file); file != "" {
		return os.ReadFile(file)
	}
	return nil, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// UpsertBalance writes the bill's row in place when column A already holds
// its ID, otherwise appends a new row.
func (c *Client) UpsertBalance(ctx context.Context, b core.Bill, bal core.Balance) (string, error) {
	if strings.TrimSpace(b.ID) == "" {
		return "", core.ErrMissingID
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	row, err := c.rowFor(ctx, b.ID)
	if err != nil {
		return "", err
	}
	if c.rowCount == 0 {
		if err := c.writeRow(ctx, 1, ports.HeaderRow()); err != nil {
			return "", fmt.Errorf("write header: %w", err)
		}
		c.rowCount = 1
	}
	if row == 0 {
		row = c.rowCount + 1
	}

	if err := c.writeRow(ctx, row, ports.FormatRow(b, bal)); err != nil {
		c.invalidateRowCache()
		return "", err
	}
	c.rows[b.ID] = row
	if row > c.rowCount {
		c.rowCount = row
	}

	return c.rowRange(row), nil
}

// DeleteBalance removes the row holding id, if any.
func (c *Client) DeleteBalance(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	row, err := c.rowFor(ctx, id)
	if err != nil {
		return err
	}
	if row == 0 {
		slog.InfoContext(ctx, "Bill not present in sheet, nothing to delete", "id", id)
		return nil
	}

	sheetID, err := c.lookupSheetID(ctx)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		c.invalidateRowCache()
		return fmt.Errorf("delete row %d in sheet %s: %w", row, c.sheetName, err)
	}

	// Rows below the deleted one moved up.
	c.invalidateRowCache()
	return nil
}

// rowFor returns the 1-based row of id, or 0 when the sheet has no such row.
// Callers hold c.mu.
func (c *Client) rowFor(ctx context.Context, id string) (int, error) {
	if c.rows == nil || !time.Now().Before(c.cacheExpiresAt) {
		if err := c.loadRowIndex(ctx); err != nil {
			return 0, err
		}
	}
	return c.rows[id], nil
}

func (c *Client) loadRowIndex(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s: %w", rng, err)
	}
	rows := make(map[string]int, len(resp.Values))
	for i, v := range resp.Values {
		if i == 0 || len(v) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(v[0]))
		if id != "" {
			rows[id] = i + 1
		}
	}
	c.rows = rows
	c.rowCount = len(resp.Values)
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	return nil
}

func (c *Client) invalidateRowCache() {
	c.rows = nil
	c.rowCount = 0
	c.cacheExpiresAt = time.Time{}
}

func (c *Client) lookupSheetID(ctx context.Context) (int64, error) {
	if c.sheetID != nil {
		return *c.sheetID, nil
	}
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			id := s.Properties.SheetId
			c.sheetID = &id
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in spreadsheet", c.sheetName)
}

func (c *Client) writeRow(ctx context.Context, row int, values []any) error {
	rng := c.rowRange(row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) rowRange(row int) string {
	r := strconv.Itoa(row)
	return c.sheetName + "!A" + r + ":" + ports.LastColumn + r
}
