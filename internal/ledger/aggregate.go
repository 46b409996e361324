// Package ledger turns charge instances and rent figures into balances.
//
// Everything here is a pure function of its inputs. Shares are accumulated
// unrounded with decimal arithmetic; rounding to cents happens only when a
// settlement is emitted (Simplify) or a figure is presented (Rounded).
package ledger

import (
	"fmt"
	"sort"

	"conti/internal/core"

	"github.com/shopspring/decimal"
)

// Matrix is a signed pairwise table: Owe[debtor][creditor] -> amount.
type Matrix struct {
	owe map[string]map[string]decimal.Decimal
}

func NewMatrix() *Matrix {
	return &Matrix{owe: make(map[string]map[string]decimal.Decimal)}
}

// Add records that debtor owes creditor amount. Self-debts are dropped.
func (m *Matrix) Add(debtor, creditor string, amount decimal.Decimal) {
	if debtor == creditor || amount.IsZero() {
		return
	}
	row, ok := m.owe[debtor]
	if !ok {
		row = make(map[string]decimal.Decimal)
		m.owe[debtor] = row
	}
	row[creditor] = row[creditor].Add(amount)
}

// Owed returns Owe[debtor][creditor].
func (m *Matrix) Owed(debtor, creditor string) decimal.Decimal {
	return m.owe[debtor][creditor]
}

// Members returns every member appearing in the matrix, sorted.
func (m *Matrix) Members() []string {
	seen := make(map[string]struct{})
	for debtor, row := range m.owe {
		seen[debtor] = struct{}{}
		for creditor := range row {
			seen[creditor] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Merge adds every entry of other into m.
func (m *Matrix) Merge(other *Matrix) {
	for debtor, row := range other.owe {
		for creditor, amount := range row {
			m.Add(debtor, creditor, amount)
		}
	}
}

// NetPositions reduces the matrix to net_m = Σ_k Owe[k][m] − Σ_k Owe[m][k].
// Positive means m is owed money. Every member in members is present in the
// result, even with a zero position.
func (m *Matrix) NetPositions(members []string) map[string]decimal.Decimal {
	net := make(map[string]decimal.Decimal, len(members))
	for _, id := range members {
		net[id] = decimal.Zero
	}
	for debtor, row := range m.owe {
		for creditor, amount := range row {
			net[creditor] = net[creditor].Add(amount)
			net[debtor] = net[debtor].Sub(amount)
		}
	}
	return net
}

// Share splits amount evenly among n beneficiaries.
func Share(amount core.Money, n int) decimal.Decimal {
	return amount.Decimal().Div(decimal.NewFromInt(int64(n)))
}

// AddCharges accumulates charges into m: every beneficiary other than the
// payer owes the payer amount/|beneficiaries|.
func AddCharges(m *Matrix, charges []core.ChargeInstance) error {
	for _, c := range charges {
		if len(c.Beneficiaries) == 0 {
			return fmt.Errorf("charge %s: %w", c.ID, core.ErrEmptyBeneficiaries)
		}
		switch c.Kind {
		case core.Fixed, core.Variable:
			share := Share(c.Amount, len(c.Beneficiaries))
			for _, b := range c.Beneficiaries {
				m.Add(b, c.Payer, share)
			}
		default:
			return fmt.Errorf("charge %s: %w %q", c.ID, core.ErrUnknownKind, c.Kind)
		}
	}
	return nil
}

// NetRent returns rentTotal/|members| − allowance_m for every member other
// than the rent payer.
func NetRent(rent core.RentTerms, members []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if rent.Total.Cents == 0 || len(members) == 0 {
		return out, nil
	}
	if !contains(members, rent.Payer) {
		return nil, fmt.Errorf("rent payer %q: %w", rent.Payer, core.ErrUnknownMember)
	}
	share := Share(rent.Total, len(members))
	for _, id := range members {
		if id == rent.Payer {
			continue
		}
		out[id] = share.Sub(rent.HousingAllowance[id].Decimal())
	}
	return out, nil
}

// AddRent adds the synthetic rent instance: each non-payer owes the payer
// their net rent.
func AddRent(m *Matrix, rent core.RentTerms, members []string) error {
	netRent, err := NetRent(rent, members)
	if err != nil {
		return err
	}
	for id, amount := range netRent {
		m.Add(id, rent.Payer, amount)
	}
	return nil
}

// Aggregate builds the full who-owes-whom matrix for a period.
func Aggregate(charges []core.ChargeInstance, rent core.RentTerms, members []string) (*Matrix, error) {
	m := NewMatrix()
	if err := AddCharges(m, charges); err != nil {
		return nil, err
	}
	if err := AddRent(m, rent, members); err != nil {
		return nil, err
	}
	return m, nil
}

// SettlementInputs drops the regularization entries written by a previous
// close so a re-run does not count settled transfers as new charges.
func SettlementInputs(charges []core.ChargeInstance) []core.ChargeInstance {
	out := make([]core.ChargeInstance, 0, len(charges))
	for _, c := range charges {
		if c.Regularization {
			continue
		}
		out = append(out, c)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
