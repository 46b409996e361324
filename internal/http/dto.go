package http

import (
	"strings"
	"time"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/services"

	"github.com/shopspring/decimal"
)

// Amounts cross the wire as decimal strings with two places ("420.00").
// Dates are YYYY-MM-DD.
const dateLayout = "2006-01-02"

type memberJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chargeJSON struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Description    string   `json:"description"`
	Amount         string   `json:"amount"`
	Payer          string   `json:"payer"`
	Beneficiaries  []string `json:"beneficiaries"`
	OccurredAt     string   `json:"occurred_at"`
	MonthKey       string   `json:"month_key"`
	Category       string   `json:"category,omitempty"`
	TemplateID     string   `json:"template_id,omitempty"`
	Regularization bool     `json:"regularization,omitempty"`
}

type debtJSON struct {
	Debtor   string `json:"debtor"`
	Creditor string `json:"creditor"`
	Amount   string `json:"amount"`
}

type snapshotJSON struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Payer       string `json:"payer"`
}

type accountJSON struct {
	Month            string            `json:"month"`
	Status           string            `json:"status"`
	RentTotal        string            `json:"rent_total"`
	RentPayer        string            `json:"rent_payer,omitempty"`
	HousingAllowance map[string]string `json:"housing_allowance"`
	Settlement       []debtJSON        `json:"settlement,omitempty"`
	FixedSnapshot    []snapshotJSON    `json:"fixed_snapshot,omitempty"`
	FinalizedAt      string            `json:"finalized_at,omitempty"`
}

type periodJSON struct {
	Account  accountJSON  `json:"account"`
	Members  []memberJSON `json:"members"`
	Fixed    []chargeJSON `json:"fixed"`
	Variable []chargeJSON `json:"variable"`
}

type balanceJSON struct {
	MemberID string `json:"member_id"`
	Rent     string `json:"rent"`
	Fixed    string `json:"fixed"`
	Variable string `json:"variable"`
	Total    string `json:"total"`
	Status   string `json:"status"`
}

type templateJSON struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Payer       string `json:"payer"`
	TriggerDay  int    `json:"trigger_day"`
	Category    string `json:"category,omitempty"`
}

type materializeJSON struct {
	Created []chargeJSON `json:"created"`
	Skipped int          `json:"skipped"`
}

type errorJSON struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func toCharge(c core.ChargeInstance) chargeJSON {
	beneficiaries := c.Beneficiaries
	if beneficiaries == nil {
		beneficiaries = []string{}
	}
	return chargeJSON{
		ID:             c.ID,
		Kind:           string(c.Kind),
		Description:    c.Description,
		Amount:         c.Amount.String(),
		Payer:          c.Payer,
		Beneficiaries:  beneficiaries,
		OccurredAt:     c.OccurredAt.Format(dateLayout),
		MonthKey:       c.MonthKey.String(),
		Category:       c.Category,
		TemplateID:     c.TemplateID,
		Regularization: c.Regularization,
	}
}

func toCharges(cs []core.ChargeInstance) []chargeJSON {
	out := make([]chargeJSON, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCharge(c))
	}
	return out
}

func toDebts(ds []core.DebtEntry) []debtJSON {
	out := make([]debtJSON, 0, len(ds))
	for _, d := range ds {
		out = append(out, debtJSON{Debtor: d.Debtor, Creditor: d.Creditor, Amount: d.Amount.String()})
	}
	return out
}

func toAccount(a core.MonthlyAccount) accountJSON {
	out := accountJSON{
		Month:            a.ID.String(),
		Status:           string(a.Status),
		RentTotal:        a.RentTotal.String(),
		RentPayer:        a.RentPayer,
		HousingAllowance: make(map[string]string, len(a.HousingAllowance)),
	}
	for member, amount := range a.HousingAllowance {
		out.HousingAllowance[member] = amount.String()
	}
	if a.Status.IsFinalized() {
		out.Settlement = toDebts(a.SettlementDebts)
		for _, s := range a.FixedChargeSnapshot {
			out.FixedSnapshot = append(out.FixedSnapshot, snapshotJSON{
				Description: s.Description,
				Amount:      s.Amount.String(),
				Payer:       s.Payer,
			})
		}
		out.FinalizedAt = a.FinalizedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toPeriod(p services.Period) periodJSON {
	out := periodJSON{
		Account:  toAccount(p.Account),
		Members:  make([]memberJSON, 0, len(p.Members)),
		Fixed:    toCharges(p.Fixed),
		Variable: toCharges(p.Variable),
	}
	for _, m := range p.Members {
		out.Members = append(out.Members, memberJSON{ID: m.ID, Name: m.Name})
	}
	return out
}

func toBalance(pb ledger.PersonalBalance) balanceJSON {
	r := pb.Rounded()
	return balanceJSON{
		MemberID: r.MemberID,
		Rent:     r.Rent.StringFixed(2),
		Fixed:    r.Fixed.StringFixed(2),
		Variable: r.Variable.StringFixed(2),
		Total:    r.Total.StringFixed(2),
		Status:   r.Status(),
	}
}

func toTemplate(t core.RecurringTemplate) templateJSON {
	return templateJSON{
		ID:          t.ID,
		Description: t.Description,
		Amount:      t.Amount.String(),
		Payer:       t.Payer,
		TriggerDay:  t.TriggerDay,
		Category:    t.Category,
	}
}

// parseAmount reads a strictly positive amount. Both "12.34" and "12,34"
// are accepted.
func parseAmount(field, s string) (core.Money, error) {
	cents, err := core.ParseDecimalToCents(s)
	if err != nil {
		return core.Money{}, &core.ValidationError{Field: field, Err: err}
	}
	return core.Cents(cents), nil
}

// parseNonNegativeAmount is parseAmount that also accepts zero and the
// empty string.
func parseNonNegativeAmount(field, s string) (core.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Money{}, nil
	}
	if d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ".")); err == nil && d.IsZero() {
		return core.Money{}, nil
	}
	return parseAmount(field, s)
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: field, Err: err}
	}
	return t, nil
}
