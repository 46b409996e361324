package google

import (
	"fmt"
	"sort"
	"strings"

	"conti/internal/core"
)

// Row types in the Type column.
const (
	rowRent       = "rent"
	rowFixed      = "fixed"
	rowSettlement = "settlement"
)

// buildHistoryRows renders a finalized account as sheet rows: one rent row,
// one row per fixed charge snapshot and one per settlement transfer. A month
// with nothing to settle still gets its rent row so it reads as exported.
func buildHistoryRows(a core.MonthlyAccount) [][]any {
	month := string(a.ID)
	rows := [][]any{{month, rowRent, a.RentPayer, "", "Rent", a.RentTotal.String()}}
	for _, f := range a.FixedChargeSnapshot {
		rows = append(rows, []any{month, rowFixed, f.Payer, "", f.Description, f.Amount.String()})
	}
	for _, d := range a.SettlementDebts {
		rows = append(rows, []any{month, rowSettlement, d.Debtor, d.Creditor, "", d.Amount.String()})
	}
	return rows
}

// parseExportedMonths collects valid month keys from the first column,
// skipping headers and blanks.
func parseExportedMonths(values [][]interface{}) map[core.MonthKey]struct{} {
	out := make(map[core.MonthKey]struct{})
	for _, row := range values {
		if len(row) == 0 {
			continue
		}
		k := core.MonthKey(strings.TrimSpace(fmt.Sprint(row[0])))
		if k.Validate() != nil {
			continue
		}
		out[k] = struct{}{}
	}
	return out
}

func sortedMonths(set map[core.MonthKey]struct{}) []core.MonthKey {
	out := make([]core.MonthKey, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
