package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"conti/internal/core"
)

type debtJSON struct {
	Debtor      string `json:"debtor"`
	Creditor    string `json:"creditor"`
	AmountCents int64  `json:"amount_cents"`
}

type snapshotJSON struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Payer       string `json:"payer"`
}

func isDomainError(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrAlreadyFinalized) ||
		errors.Is(err, core.ErrDuplicate)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func chargeToRow(c core.ChargeInstance) (ChargeInstance, error) {
	beneficiaries, err := json.Marshal(c.Beneficiaries)
	if err != nil {
		return ChargeInstance{}, fmt.Errorf("encode beneficiaries: %w", err)
	}
	return ChargeInstance{
		ID:             c.ID,
		HouseholdID:    c.HouseholdID,
		Kind:           string(c.Kind),
		Description:    c.Description,
		AmountCents:    c.Amount.Cents,
		Payer:          c.Payer,
		Beneficiaries:  string(beneficiaries),
		OccurredAt:     formatTime(c.OccurredAt),
		RecordedAt:     formatTime(c.RecordedAt),
		MonthKey:       string(c.MonthKey),
		Category:       c.Category,
		TemplateID:     c.TemplateID,
		Regularization: c.Regularization,
	}, nil
}

func rowToCharge(row ChargeInstance) (core.ChargeInstance, error) {
	c := core.ChargeInstance{
		ID:             row.ID,
		HouseholdID:    row.HouseholdID,
		Kind:           core.ChargeKind(row.Kind),
		Description:    row.Description,
		Amount:         core.Money{Cents: row.AmountCents},
		Payer:          row.Payer,
		MonthKey:       core.MonthKey(row.MonthKey),
		Category:       row.Category,
		TemplateID:     row.TemplateID,
		Regularization: row.Regularization,
	}
	if err := json.Unmarshal([]byte(row.Beneficiaries), &c.Beneficiaries); err != nil {
		return c, fmt.Errorf("decode beneficiaries of %s: %w", row.ID, err)
	}
	var err error
	if c.OccurredAt, err = parseTime(row.OccurredAt); err != nil {
		return c, fmt.Errorf("decode occurred_at of %s: %w", row.ID, err)
	}
	if c.RecordedAt, err = parseTime(row.RecordedAt); err != nil {
		return c, fmt.Errorf("decode recorded_at of %s: %w", row.ID, err)
	}
	return c, nil
}

func templateToRow(t core.RecurringTemplate) RecurringTemplate {
	return RecurringTemplate{
		ID:          t.ID,
		HouseholdID: t.HouseholdID,
		Description: t.Description,
		AmountCents: t.Amount.Cents,
		Payer:       t.Payer,
		TriggerDay:  int64(t.TriggerDay),
		Category:    t.Category,
	}
}

func rowToTemplate(row RecurringTemplate) core.RecurringTemplate {
	return core.RecurringTemplate{
		ID:          row.ID,
		HouseholdID: row.HouseholdID,
		Description: row.Description,
		Amount:      core.Money{Cents: row.AmountCents},
		Payer:       row.Payer,
		TriggerDay:  int(row.TriggerDay),
		Category:    row.Category,
	}
}

func allowanceToJSON(in map[string]core.Money) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v.Cents
	}
	return out
}

func debtsToJSON(in []core.DebtEntry) []debtJSON {
	out := make([]debtJSON, 0, len(in))
	for _, d := range in {
		out = append(out, debtJSON{Debtor: d.Debtor, Creditor: d.Creditor, AmountCents: d.Amount.Cents})
	}
	return out
}

func snapshotToJSON(in []core.FixedChargeSnapshot) []snapshotJSON {
	out := make([]snapshotJSON, 0, len(in))
	for _, s := range in {
		out = append(out, snapshotJSON{Description: s.Description, AmountCents: s.Amount.Cents, Payer: s.Payer})
	}
	return out
}

func accountToRow(a core.MonthlyAccount) (MonthlyAccount, error) {
	allowance, err := json.Marshal(allowanceToJSON(a.HousingAllowance))
	if err != nil {
		return MonthlyAccount{}, err
	}
	debts, err := json.Marshal(debtsToJSON(a.SettlementDebts))
	if err != nil {
		return MonthlyAccount{}, err
	}
	snapshot, err := json.Marshal(snapshotToJSON(a.FixedChargeSnapshot))
	if err != nil {
		return MonthlyAccount{}, err
	}
	status := a.Status
	if status == "" {
		status = core.Open
	}
	return MonthlyAccount{
		HouseholdID:      a.HouseholdID,
		MonthKey:         string(a.ID),
		Status:           string(status),
		RentTotalCents:   a.RentTotal.Cents,
		RentPayer:        a.RentPayer,
		HousingAllowance: string(allowance),
		SettlementDebts:  string(debts),
		FixedSnapshot:    string(snapshot),
		CreatedAt:        formatTime(a.CreatedAt),
		FinalizedAt:      formatTime(a.FinalizedAt),
	}, nil
}

func rowToAccount(row MonthlyAccount) (core.MonthlyAccount, error) {
	a := core.MonthlyAccount{
		ID:               core.MonthKey(row.MonthKey),
		HouseholdID:      row.HouseholdID,
		Status:           core.AccountStatus(row.Status),
		RentTotal:        core.Money{Cents: row.RentTotalCents},
		RentPayer:        row.RentPayer,
		HousingAllowance: map[string]core.Money{},
	}

	var allowance map[string]int64
	if err := json.Unmarshal([]byte(row.HousingAllowance), &allowance); err != nil {
		return a, fmt.Errorf("decode housing_allowance of %s: %w", row.MonthKey, err)
	}
	for k, v := range allowance {
		a.HousingAllowance[k] = core.Money{Cents: v}
	}

	var debts []debtJSON
	if err := json.Unmarshal([]byte(row.SettlementDebts), &debts); err != nil {
		return a, fmt.Errorf("decode settlement_debts of %s: %w", row.MonthKey, err)
	}
	for _, d := range debts {
		a.SettlementDebts = append(a.SettlementDebts, core.DebtEntry{
			Debtor: d.Debtor, Creditor: d.Creditor, Amount: core.Money{Cents: d.AmountCents},
		})
	}

	var snapshot []snapshotJSON
	if err := json.Unmarshal([]byte(row.FixedSnapshot), &snapshot); err != nil {
		return a, fmt.Errorf("decode fixed_snapshot of %s: %w", row.MonthKey, err)
	}
	for _, s := range snapshot {
		a.FixedChargeSnapshot = append(a.FixedChargeSnapshot, core.FixedChargeSnapshot{
			Description: s.Description, Amount: core.Money{Cents: s.AmountCents}, Payer: s.Payer,
		})
	}

	var err error
	if a.CreatedAt, err = parseTime(row.CreatedAt); err != nil {
		return a, fmt.Errorf("decode created_at of %s: %w", row.MonthKey, err)
	}
	if a.FinalizedAt, err = parseTime(row.FinalizedAt); err != nil {
		return a, fmt.Errorf("decode finalized_at of %s: %w", row.MonthKey, err)
	}
	return a, nil
}
