// Package google writes user exports to a Google Sheets spreadsheet, one tab
// per user.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finsight/internal/core"
	"finsight/internal/export"
	"finsight/internal/insight"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *slog.Logger
}

var _ export.Writer = (*Client)(nil)

// Credentials selects the service account. JSON wins over File.
type Credentials struct {
	JSON string
	File string
}

// New builds a client authenticated as a service account.
func New(ctx context.Context, spreadsheetID string, creds Credentials, logger *slog.Logger) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := newSheetsService(ctx, creds, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

// NewWithOptions builds a client from explicit API options, for tests.
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...goption.ClientOption) (*Client, error) {
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, logger: slog.Default()}, nil
}

func newSheetsService(ctx context.Context, creds Credentials, logger *slog.Logger) (*gsheet.Service, error) {
	credentialsJSON, err := readCredentials(creds)
	if err != nil {
		return nil, err
	}

	jwtConf, err := oauthgoogle.JWTConfigFromJSON(credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	logger.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"client_email", jwtConf.Email,
		"scope", gsheet.SpreadsheetsScope)

	// Token refreshes and API calls share the pooled transport.
	base := context.WithValue(context.Background(), oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := oauth2.NewClient(base, jwtConf.TokenSource(base))
	httpClient.Timeout = 60 * time.Second

	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func readCredentials(creds Credentials) ([]byte, error) {
	if j := strings.TrimSpace(creds.JSON); j != "" {
		return []byte(j), nil
	}
	file := strings.TrimSpace(creds.File)
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if file == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// newHTTPClientWithPooling keeps connections to the Sheets API warm between
// worker batches.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// ReplaceUserSheet makes sure the user's tab exists, clears it and writes the
// new grid.
func (c *Client) ReplaceUserSheet(ctx context.Context, userID string, rows []core.Transaction, summary insight.Result) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	tab := export.TabName(userID)

	if err := c.ensureTab(ctx, tab); err != nil {
		return err
	}

	rng := quoteTab(tab)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", tab, err)
	}

	grid := export.Grid(rows, summary)
	vr := &gsheet.ValueRange{Values: grid}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng+"!A1", vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", tab, err)
	}

	c.logger.DebugContext(ctx, "Sheet replaced", "tab", tab, "rows", len(grid))
	return nil
}

func (c *Client) ensureTab(ctx context.Context, tab string) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == tab {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", tab, err)
	}
	c.logger.InfoContext(ctx, "Sheet created", "tab", tab)
	return nil
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
