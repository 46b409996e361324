package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"conti/internal/core"
)

// Event types published on the ledger exchange.
const (
	EventChargeMaterialized = "charge.materialized"
	EventMonthFinalized     = "month.finalized"
)

// Event is the envelope for every ledger message. Exactly one of Charge and
// Account is set, matching Type.
type Event struct {
	Type        string          `json:"type"`
	HouseholdID string          `json:"household_id"`
	MonthKey    string          `json:"month_key"`
	Timestamp   time.Time       `json:"timestamp"`
	Charge      *ChargePayload  `json:"charge,omitempty"`
	Account     *AccountPayload `json:"account,omitempty"`
}

type ChargePayload struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id,omitempty"`
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Payer       string `json:"payer"`
}

type DebtPayload struct {
	Debtor      string `json:"debtor"`
	Creditor    string `json:"creditor"`
	AmountCents int64  `json:"amount_cents"`
}

type SnapshotPayload struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Payer       string `json:"payer"`
}

type AccountPayload struct {
	RentTotalCents int64             `json:"rent_total_cents"`
	RentPayer      string            `json:"rent_payer"`
	Debts          []DebtPayload     `json:"debts"`
	Snapshot       []SnapshotPayload `json:"fixed_snapshot"`
	FinalizedAt    time.Time         `json:"finalized_at"`
}

func NewChargeMaterializedEvent(c core.ChargeInstance) *Event {
	return &Event{
		Type:        EventChargeMaterialized,
		HouseholdID: c.HouseholdID,
		MonthKey:    string(c.MonthKey),
		Timestamp:   time.Now().UTC(),
		Charge: &ChargePayload{
			ID:          c.ID,
			TemplateID:  c.TemplateID,
			Description: c.Description,
			AmountCents: c.Amount.Cents,
			Payer:       c.Payer,
		},
	}
}

func NewMonthFinalizedEvent(a core.MonthlyAccount) *Event {
	payload := &AccountPayload{
		RentTotalCents: a.RentTotal.Cents,
		RentPayer:      a.RentPayer,
		Debts:          make([]DebtPayload, 0, len(a.SettlementDebts)),
		Snapshot:       make([]SnapshotPayload, 0, len(a.FixedChargeSnapshot)),
		FinalizedAt:    a.FinalizedAt,
	}
	for _, d := range a.SettlementDebts {
		payload.Debts = append(payload.Debts, DebtPayload{Debtor: d.Debtor, Creditor: d.Creditor, AmountCents: d.Amount.Cents})
	}
	for _, s := range a.FixedChargeSnapshot {
		payload.Snapshot = append(payload.Snapshot, SnapshotPayload{Description: s.Description, AmountCents: s.Amount.Cents, Payer: s.Payer})
	}
	return &Event{
		Type:        EventMonthFinalized,
		HouseholdID: a.HouseholdID,
		MonthKey:    string(a.ID),
		Timestamp:   time.Now().UTC(),
		Account:     payload,
	}
}

// MonthlyAccount rebuilds the finalized account carried by a month.finalized
// event.
func (e *Event) MonthlyAccount() (core.MonthlyAccount, error) {
	if e.Type != EventMonthFinalized || e.Account == nil {
		return core.MonthlyAccount{}, fmt.Errorf("event %s carries no account", e.Type)
	}
	a := core.MonthlyAccount{
		ID:          core.MonthKey(e.MonthKey),
		HouseholdID: e.HouseholdID,
		Status:      core.Finalized,
		RentTotal:   core.Money{Cents: e.Account.RentTotalCents},
		RentPayer:   e.Account.RentPayer,
		FinalizedAt: e.Account.FinalizedAt,
	}
	for _, d := range e.Account.Debts {
		a.SettlementDebts = append(a.SettlementDebts, core.DebtEntry{Debtor: d.Debtor, Creditor: d.Creditor, Amount: core.Money{Cents: d.AmountCents}})
	}
	for _, s := range e.Account.Snapshot {
		a.FixedChargeSnapshot = append(a.FixedChargeSnapshot, core.FixedChargeSnapshot{Description: s.Description, Amount: core.Money{Cents: s.AmountCents}, Payer: s.Payer})
	}
	return a, nil
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and rejects unknown types.
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Type {
	case EventChargeMaterialized, EventMonthFinalized:
		return &e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
