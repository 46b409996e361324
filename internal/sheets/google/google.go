package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"conti/internal/core"
	ports "conti/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultCacheValidDuration = 5 * time.Minute

// Client appends finalized months to a history sheet with columns
// Month, Type, From, To, Description, Amount.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	historySheet  string

	// Exported month keys read from column A, refreshed after expiry.
	mu                 sync.Mutex
	exported           map[core.MonthKey]struct{}
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var (
	_ ports.HistoryExporter = (*Client)(nil)
	_ ports.HistoryReader   = (*Client)(nil)
)

// New creates a Sheets client writing to historySheet ("History" when empty).
func New(ctx context.Context, spreadsheetID, historySheet string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	historySheet = strings.TrimSpace(historySheet)
	if historySheet == "" {
		historySheet = "History"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		historySheet:       historySheet,
		cacheValidDuration: defaultCacheValidDuration,
	}, nil
}

// NewFromEnv creates a client from GOOGLE_SPREADSHEET_ID and
// GOOGLE_HISTORY_SHEET.
func NewFromEnv(ctx context.Context) (*Client, error) {
	return New(ctx, os.Getenv("GOOGLE_SPREADSHEET_ID"), os.Getenv("GOOGLE_HISTORY_SHEET"))
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials()
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials() ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// ExportMonth appends a's rows unless the month is already in the sheet.
func (c *Client) ExportMonth(ctx context.Context, a core.MonthlyAccount) error {
	if !a.Status.IsFinalized() {
		return fmt.Errorf("export %s: %w", a.ID, core.ErrValidation)
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	exported, err := c.exportedSet(ctx)
	if err != nil {
		return err
	}
	if _, ok := exported[a.ID]; ok {
		slog.InfoContext(ctx, "Month already exported, skipping", "month_key", a.ID)
		return nil
	}

	rows := buildHistoryRows(a)
	rng := fmt.Sprintf("%s!A:F", c.historySheet)
	vr := &gsheet.ValueRange{Values: rows}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		// The append may have partially landed; re-read before the retry.
		c.invalidateCache()
		return fmt.Errorf("append to %s: %w", c.historySheet, err)
	}

	c.markExported(a.ID)
	slog.InfoContext(ctx, "Exported month to Google Sheets",
		"month_key", a.ID,
		"rows", len(rows),
		"sheet", c.historySheet)
	return nil
}

// ExportedMonths lists the distinct months found in column A.
func (c *Client) ExportedMonths(ctx context.Context) ([]core.MonthKey, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	set, err := c.exportedSet(ctx)
	if err != nil {
		return nil, err
	}
	return sortedMonths(set), nil
}

func (c *Client) exportedSet(ctx context.Context) (map[core.MonthKey]struct{}, error) {
	c.mu.Lock()
	if c.exported != nil && time.Now().Before(c.cacheExpiresAt) {
		set := make(map[core.MonthKey]struct{}, len(c.exported))
		for k := range c.exported {
			set[k] = struct{}{}
		}
		c.mu.Unlock()
		return set, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.historySheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	set := parseExportedMonths(resp.Values)

	c.mu.Lock()
	c.exported = make(map[core.MonthKey]struct{}, len(set))
	for k := range set {
		c.exported[k] = struct{}{}
	}
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()
	return set, nil
}

func (c *Client) markExported(month core.MonthKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exported == nil {
		return
	}
	c.exported[month] = struct{}{}
}

// invalidateCache forces the next export to re-read the sheet.
func (c *Client) invalidateCache() {
	c.mu.Lock()
	c.exported = nil
	c.cacheExpiresAt = time.Time{}
	c.mu.Unlock()
}
