package google

import (
	"reflect"
	"testing"

	"conti/internal/core"
)

func TestBuildHistoryRows(t *testing.T) {
	a := core.MonthlyAccount{
		ID:        "2026-10",
		Status:    core.Finalized,
		RentTotal: core.Cents(100000),
		RentPayer: "a",
		FixedChargeSnapshot: []core.FixedChargeSnapshot{
			{Description: "Internet", Amount: core.Cents(4000), Payer: "a"},
		},
		SettlementDebts: []core.DebtEntry{{Debtor: "b", Creditor: "a", Amount: core.Cents(42000)}},
	}

	want := [][]any{
		{"2026-10", "rent", "a", "", "Rent", "1000.00"},
		{"2026-10", "fixed", "a", "", "Internet", "40.00"},
		{"2026-10", "settlement", "b", "a", "", "420.00"},
	}
	if got := buildHistoryRows(a); !reflect.DeepEqual(got, want) {
		t.Fatalf("rows mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestBuildHistoryRowsSettledMonth(t *testing.T) {
	rows := buildHistoryRows(core.MonthlyAccount{ID: "2026-11", Status: core.Finalized})
	if len(rows) != 1 || rows[0][1] != "rent" {
		t.Fatalf("a settled month still needs its rent row, got %v", rows)
	}
}

func TestParseExportedMonths(t *testing.T) {
	values := [][]interface{}{
		{"Month"},
		{"2026-09"},
		{"2026-09"},
		{},
		{" 2026-10 "},
		{"not a month"},
		{"2026-13"},
	}
	got := sortedMonths(parseExportedMonths(values))
	want := []core.MonthKey{"2026-09", "2026-10"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
