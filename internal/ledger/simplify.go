package ledger

import (
	"conti/internal/core"

	"github.com/shopspring/decimal"
)

// Epsilon is the settlement tolerance: remainders at or below one cent are
// treated as settled and never transferred.
var Epsilon = decimal.New(1, -2)

type party struct {
	id        string
	remaining decimal.Decimal // always positive
}

// Simplify reduces net positions to an ordered list of transfers that
// drives every position to zero. It is the greedy heuristic: repeatedly
// match the largest creditor with the largest debtor, ties broken by the
// lower member id. At most len(parties)-1 transfers are returned.
func Simplify(net map[string]decimal.Decimal) []core.DebtEntry {
	var creditors, debtors []*party
	for id, amount := range net {
		switch {
		case amount.GreaterThan(Epsilon):
			creditors = append(creditors, &party{id: id, remaining: amount})
		case amount.LessThan(Epsilon.Neg()):
			debtors = append(debtors, &party{id: id, remaining: amount.Neg()})
		}
	}

	var transfers []core.DebtEntry
	for len(creditors) > 0 && len(debtors) > 0 {
		ci := largest(creditors)
		di := largest(debtors)
		creditor, debtor := creditors[ci], debtors[di]

		amount := decimal.Min(creditor.remaining, debtor.remaining)
		transfers = append(transfers, core.DebtEntry{
			Debtor:   debtor.id,
			Creditor: creditor.id,
			Amount:   core.MoneyFromDecimal(amount),
		})

		creditor.remaining = creditor.remaining.Sub(amount)
		debtor.remaining = debtor.remaining.Sub(amount)
		if creditor.remaining.LessThanOrEqual(Epsilon) {
			creditors = remove(creditors, ci)
		}
		if debtor.remaining.LessThanOrEqual(Epsilon) {
			debtors = remove(debtors, di)
		}
	}
	return transfers
}

// largest returns the index of the party with the largest remainder,
// preferring the lower id on ties.
func largest(parties []*party) int {
	best := 0
	for i := 1; i < len(parties); i++ {
		p, b := parties[i], parties[best]
		switch p.remaining.Cmp(b.remaining) {
		case 1:
			best = i
		case 0:
			if p.id < b.id {
				best = i
			}
		}
	}
	return best
}

func remove(parties []*party, i int) []*party {
	return append(parties[:i], parties[i+1:]...)
}

// Residual applies transfers to net positions and returns what is left.
// For the output of Simplify every residual is within rounding dust.
func Residual(net map[string]decimal.Decimal, transfers []core.DebtEntry) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(net))
	for id, amount := range net {
		out[id] = amount
	}
	for _, t := range transfers {
		// A debtor paying reduces what they owe; the creditor is owed less.
		out[t.Debtor] = out[t.Debtor].Add(t.Amount.Decimal())
		out[t.Creditor] = out[t.Creditor].Sub(t.Amount.Decimal())
	}
	return out
}

// NetFromDebts derives net positions from a closed set of debt entries.
func NetFromDebts(debts []core.DebtEntry, members []string) map[string]decimal.Decimal {
	m := NewMatrix()
	for _, d := range debts {
		m.Add(d.Debtor, d.Creditor, d.Amount.Decimal())
	}
	return m.NetPositions(members)
}

// AddAdjustments merges manual debtor->creditor corrections into m.
func AddAdjustments(m *Matrix, adjustments []core.Adjustment) {
	for _, a := range adjustments {
		m.Add(a.Debtor, a.Creditor, a.Amount.Decimal())
	}
}
