package google

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"conti/internal/core"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", "History")
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), "sheet-id", "")
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestLoadCredentials_FileNotFound(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", t.TempDir()+"/missing.json")

	if _, err := loadCredentials(); err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestExportMonth_Guards(t *testing.T) {
	c := &Client{spreadsheetID: "test"}

	err := c.ExportMonth(context.Background(), core.MonthlyAccount{ID: "2026-10", Status: core.Open})
	if !errors.Is(err, core.ErrValidation) {
		t.Errorf("open months must be rejected, got %v", err)
	}
	err = c.ExportMonth(context.Background(), core.MonthlyAccount{ID: "2026-10", Status: core.Finalized})
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("expected uninitialized service error, got %v", err)
	}
	if _, err := c.ExportedMonths(context.Background()); err == nil {
		t.Error("expected uninitialized service error")
	}
}

func TestExportedCache(t *testing.T) {
	c := &Client{cacheValidDuration: 100 * time.Millisecond}

	// Nothing cached yet: markExported is a no-op.
	c.markExported("2026-10")
	if c.exported != nil {
		t.Fatal("markExported must not create a partial cache")
	}

	c.mu.Lock()
	c.exported = map[core.MonthKey]struct{}{"2026-09": {}}
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()

	set, err := c.exportedSet(context.Background())
	if err != nil {
		t.Fatalf("cached read should not hit the API: %v", err)
	}
	if _, ok := set["2026-09"]; !ok {
		t.Fatalf("expected cached month, got %v", set)
	}

	c.markExported("2026-10")
	if _, ok := c.exported["2026-10"]; !ok {
		t.Error("exported month should be added to a live cache")
	}

	c.invalidateCache()
	if c.exported != nil || !c.cacheExpiresAt.IsZero() {
		t.Error("invalidateCache should clear the cache")
	}
}
