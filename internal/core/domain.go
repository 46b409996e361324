package core

import (
	"strings"
	"time"
)

const (
	Fixed    ChargeKind = "fixed"
	Variable ChargeKind = "variable"
)

const (
	Open      AccountStatus = "OPEN"
	Finalized AccountStatus = "FINALIZED"
)

const maxDescriptionLen = 200

type (
	// ChargeKind discriminates charge instances. Every switch over it must
	// handle both kinds and reject anything else.
	ChargeKind string

	AccountStatus string

	Member struct {
		ID   string
		Name string
	}

	Household struct {
		ID        string
		MemberIDs []string
	}

	// ChargeInstance is one concrete expense record. TemplateID is only set on
	// fixed instances materialized from a RecurringTemplate; Regularization is
	// only set on the variable instances written when a month is closed.
	ChargeInstance struct {
		ID             string
		HouseholdID    string
		Kind           ChargeKind
		Description    string
		Amount         Money
		Payer          string
		Beneficiaries  []string
		OccurredAt     time.Time
		RecordedAt     time.Time
		MonthKey       MonthKey
		Category       string
		TemplateID     string
		Regularization bool
	}

	// RecurringTemplate is the recipe fixed charge instances are built from.
	RecurringTemplate struct {
		ID          string
		HouseholdID string
		Description string
		Amount      Money
		Payer       string
		TriggerDay  int // 1-31
		Category    string
	}

	// DebtEntry is a settlement transfer: Debtor pays Creditor Amount.
	DebtEntry struct {
		Debtor   string
		Creditor string
		Amount   Money
	}

	// Adjustment is a manual correction added on top of the charge ledger
	// when a month is closed.
	Adjustment struct {
		Debtor   string
		Creditor string
		Amount   Money
	}

	FixedChargeSnapshot struct {
		Description string
		Amount      Money
		Payer       string
	}

	// RentTerms are the mutable rent figures of an OPEN month.
	RentTerms struct {
		Total            Money
		HousingAllowance map[string]Money
		Payer            string
	}

	MonthlyAccount struct {
		ID                  MonthKey
		HouseholdID         string
		Status              AccountStatus
		RentTotal           Money
		HousingAllowance    map[string]Money
		RentPayer           string
		SettlementDebts     []DebtEntry
		FixedChargeSnapshot []FixedChargeSnapshot
		CreatedAt           time.Time
		FinalizedAt         time.Time
	}
)

func (k ChargeKind) Validate() error {
	switch k {
	case Fixed, Variable:
		return nil
	default:
		return &ValidationError{Field: "kind", Err: ErrUnknownKind}
	}
}

func (s AccountStatus) IsFinalized() bool {
	return s == Finalized
}

// Rent returns the account's current rent figures.
func (a MonthlyAccount) Rent() RentTerms {
	return RentTerms{
		Total:            a.RentTotal,
		HousingAllowance: a.HousingAllowance,
		Payer:            a.RentPayer,
	}
}

// Clone returns a copy of a that shares no maps or slices with it.
func (a MonthlyAccount) Clone() MonthlyAccount {
	if a.HousingAllowance != nil {
		allowance := make(map[string]Money, len(a.HousingAllowance))
		for k, v := range a.HousingAllowance {
			allowance[k] = v
		}
		a.HousingAllowance = allowance
	}
	if a.SettlementDebts != nil {
		a.SettlementDebts = append([]DebtEntry(nil), a.SettlementDebts...)
	}
	if a.FixedChargeSnapshot != nil {
		a.FixedChargeSnapshot = append([]FixedChargeSnapshot(nil), a.FixedChargeSnapshot...)
	}
	return a
}

func (c ChargeInstance) HasBeneficiary(memberID string) bool {
	for _, b := range c.Beneficiaries {
		if b == memberID {
			return true
		}
	}
	return false
}

// Validate rejects charges that must never reach the ledger engine.
func (c ChargeInstance) Validate() error {
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	if err := validateDescription(c.Description); err != nil {
		return err
	}
	if err := c.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if strings.TrimSpace(c.Payer) == "" {
		return &ValidationError{Field: "payer", Err: ErrMissingPayer}
	}
	if len(c.Beneficiaries) == 0 {
		return &ValidationError{Field: "beneficiaries", Err: ErrEmptyBeneficiaries}
	}
	seen := make(map[string]struct{}, len(c.Beneficiaries))
	for _, b := range c.Beneficiaries {
		if strings.TrimSpace(b) == "" {
			return &ValidationError{Field: "beneficiaries", Err: ErrEmptyBeneficiaries}
		}
		if _, dup := seen[b]; dup {
			return &ValidationError{Field: "beneficiaries", Err: ErrDuplicateBeneficiary}
		}
		seen[b] = struct{}{}
	}
	if err := c.MonthKey.Validate(); err != nil {
		return err
	}
	return nil
}

func (t RecurringTemplate) Validate() error {
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return &ValidationError{Field: "amount", Err: err}
	}
	if strings.TrimSpace(t.Payer) == "" {
		return &ValidationError{Field: "payer", Err: ErrMissingPayer}
	}
	return ValidateTriggerDay(t.TriggerDay)
}

func (r RentTerms) Validate() error {
	if r.Total.Cents < 0 {
		return &ValidationError{Field: "rent_total", Err: ErrInvalidAmount}
	}
	if r.Total.Cents > 0 && strings.TrimSpace(r.Payer) == "" {
		return &ValidationError{Field: "rent_payer", Err: ErrMissingPayer}
	}
	for member, amount := range r.HousingAllowance {
		if strings.TrimSpace(member) == "" {
			return &ValidationError{Field: "housing_allowance", Err: ErrUnknownMember}
		}
		if amount.Cents < 0 {
			return &ValidationError{Field: "housing_allowance", Err: ErrInvalidAmount}
		}
	}
	return nil
}

func (a Adjustment) Validate() error {
	if err := a.Amount.Validate(); err != nil {
		return &ValidationError{Field: "adjustment", Err: err}
	}
	if a.Debtor == "" || a.Creditor == "" {
		return &ValidationError{Field: "adjustment", Err: ErrMissingPayer}
	}
	if a.Debtor == a.Creditor {
		return &ValidationError{Field: "adjustment", Err: ErrSelfDebt}
	}
	return nil
}

func ValidateTriggerDay(day int) error {
	if day < 1 || day > 31 {
		return &ValidationError{Field: "trigger_day", Err: ErrInvalidTriggerDay}
	}
	return nil
}

func validateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return &ValidationError{Field: "description", Err: ErrEmptyDescription}
	}
	if len(desc) > maxDescriptionLen {
		return &ValidationError{Field: "description", Err: ErrDescriptionTooLong}
	}
	return nil
}
