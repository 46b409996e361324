package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"conti/internal/cache"
	"conti/internal/clock"
	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/store"

	"github.com/google/uuid"
)

// maxOpenAhead bounds how far past today LoadCurrentPeriod walks over
// finalized months.
const maxOpenAhead = 24

// Period is the household's current billing state as shown to members.
type Period struct {
	Account  core.MonthlyAccount
	Members  []core.Member
	Fixed    []core.ChargeInstance
	Variable []core.ChargeInstance
}

// NewCharge is user input for AddChargeInstance. An empty Beneficiaries
// list is rejected; callers wanting "everybody" must say so.
type NewCharge struct {
	Kind          core.ChargeKind
	Description   string
	Amount        core.Money
	Payer         string
	Beneficiaries []string
	OccurredAt    time.Time
	Category      string
}

// NewTemplate is user input for CreateTemplate.
type NewTemplate struct {
	Description string
	Amount      core.Money
	Payer       string
	TriggerDay  int
	Category    string
}

// TemplatePatch updates the set fields of a template.
type TemplatePatch struct {
	Description *string
	Amount      *core.Money
	Payer       *string
	TriggerDay  *int
	Category    *string
}

// LedgerService is the upward API of the engine for one household. Every
// read re-derives its view from the store; only finalized accounts are
// cached.
type LedgerService struct {
	store       store.Ledger
	months      *MonthManager
	scheduler   *Scheduler
	history     *cache.History
	clock       clock.Clock
	householdID string
}

var _ Materializer = (*LedgerService)(nil)

func NewLedgerService(s store.Ledger, months *MonthManager, scheduler *Scheduler, history *cache.History, clk clock.Clock, householdID string) *LedgerService {
	if clk == nil {
		clk = clock.Real()
	}
	return &LedgerService{
		store:       s,
		months:      months,
		scheduler:   scheduler,
		history:     history,
		clock:       clk,
		householdID: householdID,
	}
}

func (s *LedgerService) HouseholdID() string { return s.householdID }

// Members lists the household's members ordered by id.
func (s *LedgerService) Members(ctx context.Context) ([]core.Member, error) {
	return s.store.ListMembers(ctx, s.householdID)
}

// currentAccount resolves the OPEN account of the current period: today's
// month, advanced past months that were already closed.
func (s *LedgerService) currentAccount(ctx context.Context, requester string) (core.MonthlyAccount, error) {
	month := core.MonthKeyOf(s.clock.Now())
	for i := 0; i < maxOpenAhead; i++ {
		account, err := s.months.GetOrCreate(ctx, s.householdID, month, requester)
		if err != nil {
			return core.MonthlyAccount{}, err
		}
		if !account.Status.IsFinalized() {
			return account, nil
		}
		s.history.Put(account)
		month = month.Next()
	}
	return core.MonthlyAccount{}, fmt.Errorf("no open month within %d months of %s", maxOpenAhead, core.MonthKeyOf(s.clock.Now()))
}

// LoadCurrentPeriod returns the current account with its members and charges.
func (s *LedgerService) LoadCurrentPeriod(ctx context.Context, requester string) (Period, error) {
	account, err := s.currentAccount(ctx, requester)
	if err != nil {
		return Period{}, err
	}
	return s.loadPeriod(ctx, account)
}

func (s *LedgerService) loadPeriod(ctx context.Context, account core.MonthlyAccount) (Period, error) {
	members, err := s.store.ListMembers(ctx, s.householdID)
	if err != nil {
		return Period{}, err
	}
	charges, err := s.store.ListChargeInstances(ctx, s.householdID, store.ChargeFilter{MonthKey: account.ID})
	if err != nil {
		return Period{}, err
	}
	p := Period{Account: account, Members: members}
	for _, c := range charges {
		switch c.Kind {
		case core.Fixed:
			p.Fixed = append(p.Fixed, c)
		case core.Variable:
			p.Variable = append(p.Variable, c)
		default:
			return Period{}, fmt.Errorf("charge %s: %w", c.ID, core.ErrUnknownKind)
		}
	}
	return p, nil
}

// AddChargeInstance records a charge in the current period.
func (s *LedgerService) AddChargeInstance(ctx context.Context, in NewCharge) (core.ChargeInstance, error) {
	now := s.clock.Now().UTC()
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	c := core.ChargeInstance{
		ID:            uuid.NewString(),
		HouseholdID:   s.householdID,
		Kind:          in.Kind,
		Description:   strings.TrimSpace(in.Description),
		Amount:        in.Amount,
		Payer:         in.Payer,
		Beneficiaries: append([]string(nil), in.Beneficiaries...),
		OccurredAt:    occurred.UTC(),
		RecordedAt:    now,
		MonthKey:      core.MonthKeyOf(now),
		Category:      in.Category,
	}
	if err := c.Validate(); err != nil {
		return core.ChargeInstance{}, err
	}
	if err := s.checkMembers(ctx, c.Payer, c.Beneficiaries...); err != nil {
		return core.ChargeInstance{}, err
	}

	account, err := s.currentAccount(ctx, in.Payer)
	if err != nil {
		return core.ChargeInstance{}, err
	}
	c.MonthKey = account.ID
	if err := s.store.CreateChargeInstance(ctx, c); err != nil {
		return core.ChargeInstance{}, fmt.Errorf("save charge: %w", err)
	}

	slog.InfoContext(ctx, "Recorded charge",
		"household_id", s.householdID,
		"charge_id", c.ID,
		"kind", c.Kind,
		"amount_cents", c.Amount.Cents,
		"month_key", c.MonthKey)
	return c, nil
}

// UpdateChargeAmount edits a fixed charge of an OPEN month. The backing
// template is updated too, so later months bill the new amount while
// finalized snapshots stay untouched.
func (s *LedgerService) UpdateChargeAmount(ctx context.Context, id string, amount core.Money) (core.ChargeInstance, error) {
	if err := amount.Validate(); err != nil {
		return core.ChargeInstance{}, &core.ValidationError{Field: "amount", Err: err}
	}
	return s.editFixed(ctx, id, store.ChargePatch{Amount: &amount}, func(t *core.RecurringTemplate) {
		t.Amount = amount
	})
}

// UpdateChargePayer changes who paid a fixed charge.
func (s *LedgerService) UpdateChargePayer(ctx context.Context, id, payer string) (core.ChargeInstance, error) {
	if strings.TrimSpace(payer) == "" {
		return core.ChargeInstance{}, &core.ValidationError{Field: "payer", Err: core.ErrMissingPayer}
	}
	if err := s.checkMembers(ctx, payer); err != nil {
		return core.ChargeInstance{}, err
	}
	return s.editFixed(ctx, id, store.ChargePatch{Payer: &payer}, func(t *core.RecurringTemplate) {
		t.Payer = payer
	})
}

// UpdateChargeDay moves a fixed charge to another day of its month. Days
// past the end of the month are clamped.
func (s *LedgerService) UpdateChargeDay(ctx context.Context, id string, day int) (core.ChargeInstance, error) {
	if err := core.ValidateTriggerDay(day); err != nil {
		return core.ChargeInstance{}, err
	}
	c, err := s.store.GetChargeInstance(ctx, s.householdID, id)
	if err != nil {
		return core.ChargeInstance{}, err
	}
	occurred := c.MonthKey.Date(day)
	return s.editFixed(ctx, id, store.ChargePatch{OccurredAt: &occurred}, func(t *core.RecurringTemplate) {
		t.TriggerDay = day
	})
}

func (s *LedgerService) editFixed(ctx context.Context, id string, patch store.ChargePatch, applyTemplate func(*core.RecurringTemplate)) (core.ChargeInstance, error) {
	c, err := s.store.GetChargeInstance(ctx, s.householdID, id)
	if err != nil {
		return core.ChargeInstance{}, err
	}
	if c.Kind != core.Fixed {
		return core.ChargeInstance{}, &core.ValidationError{Field: "kind", Err: core.ErrImmutableCharge}
	}
	if err := s.requireOpen(ctx, c.MonthKey); err != nil {
		return core.ChargeInstance{}, err
	}

	updated, err := s.store.UpdateChargeInstance(ctx, s.householdID, id, patch)
	if err != nil {
		return core.ChargeInstance{}, err
	}

	if c.TemplateID != "" {
		t, err := s.store.GetTemplate(ctx, s.householdID, c.TemplateID)
		switch {
		case errors.Is(err, core.ErrNotFound):
			slog.DebugContext(ctx, "Template of edited charge no longer exists", "template_id", c.TemplateID)
		case err != nil:
			return updated, err
		default:
			applyTemplate(&t)
			if err := s.store.UpdateTemplate(ctx, t); err != nil {
				return updated, fmt.Errorf("propagate edit to template: %w", err)
			}
		}
	}

	slog.InfoContext(ctx, "Edited fixed charge",
		"household_id", s.householdID,
		"charge_id", id,
		"template_id", c.TemplateID,
		"month_key", c.MonthKey)
	return updated, nil
}

// DeleteChargeInstance removes a charge from an OPEN month.
func (s *LedgerService) DeleteChargeInstance(ctx context.Context, id string) error {
	c, err := s.store.GetChargeInstance(ctx, s.householdID, id)
	if err != nil {
		return err
	}
	if c.Regularization {
		return &core.ValidationError{Field: "regularization", Err: core.ErrImmutableCharge}
	}
	if err := s.requireOpen(ctx, c.MonthKey); err != nil {
		return err
	}
	if err := s.store.DeleteChargeInstance(ctx, s.householdID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Deleted charge", "household_id", s.householdID, "charge_id", id)
	return nil
}

func (s *LedgerService) requireOpen(ctx context.Context, month core.MonthKey) error {
	account, err := s.store.GetMonthlyAccount(ctx, s.householdID, month)
	if err != nil {
		return err
	}
	if account != nil && account.Status.IsFinalized() {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	return nil
}

// UpdateRent sets the rent figures of the current period.
func (s *LedgerService) UpdateRent(ctx context.Context, requester string, rent core.RentTerms) (core.MonthlyAccount, error) {
	account, err := s.currentAccount(ctx, requester)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	if err := s.months.UpdateRent(ctx, s.householdID, account.ID, rent); err != nil {
		return core.MonthlyAccount{}, err
	}
	return s.months.GetOrCreate(ctx, s.householdID, account.ID, requester)
}

// CloseMonth finalizes the current period and returns the next one.
func (s *LedgerService) CloseMonth(ctx context.Context, requester string, req CloseRequest) (Period, error) {
	account, err := s.currentAccount(ctx, requester)
	if err != nil {
		return Period{}, err
	}
	closed, err := s.months.Close(ctx, s.householdID, account.ID, req)
	if err != nil {
		return Period{}, err
	}
	s.history.Put(closed)
	// Reload so callers observe the next open month.
	return s.LoadCurrentPeriod(ctx, requester)
}

// CloseMonthKey finalizes a specific month. Admin tooling uses it to close
// months left open in the past.
func (s *LedgerService) CloseMonthKey(ctx context.Context, month core.MonthKey, req CloseRequest) (core.MonthlyAccount, error) {
	closed, err := s.months.Close(ctx, s.householdID, month, req)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	s.history.Put(closed)
	return closed, nil
}

// GetPersonalBalance breaks down memberID's position in the current period.
// Variable charges contribute through their simplified debts.
func (s *LedgerService) GetPersonalBalance(ctx context.Context, requester, memberID string) (ledger.PersonalBalance, error) {
	p, err := s.LoadCurrentPeriod(ctx, requester)
	if err != nil {
		return ledger.PersonalBalance{}, err
	}
	memberIDs := store.MemberIDs(p.Members)
	if !containsID(memberIDs, memberID) {
		return ledger.PersonalBalance{}, &core.ValidationError{Field: "member_id", Err: core.ErrUnknownMember}
	}
	debts, err := Settle(ledger.SettlementInputs(p.Variable), core.RentTerms{}, memberIDs, nil)
	if err != nil {
		return ledger.PersonalBalance{}, err
	}
	return ledger.Personal(memberID, ledger.PersonalInput{
		Rent:    p.Account.Rent(),
		Members: memberIDs,
		Fixed:   p.Fixed,
		Debts:   debts,
	})
}

// GetSimplifiedTransfers previews the settlement of the current period
// without writing anything.
func (s *LedgerService) GetSimplifiedTransfers(ctx context.Context, requester string) ([]core.DebtEntry, error) {
	p, err := s.LoadCurrentPeriod(ctx, requester)
	if err != nil {
		return nil, err
	}
	charges := append(append([]core.ChargeInstance(nil), p.Fixed...), p.Variable...)
	return Settle(ledger.SettlementInputs(charges), p.Account.Rent(), store.MemberIDs(p.Members), nil)
}

// GetHistoricalAccount returns a finalized month.
func (s *LedgerService) GetHistoricalAccount(ctx context.Context, month core.MonthKey) (core.MonthlyAccount, error) {
	if err := month.Validate(); err != nil {
		return core.MonthlyAccount{}, err
	}
	if a, ok := s.history.Get(s.householdID, month); ok {
		return a, nil
	}
	a, err := s.store.GetMonthlyAccount(ctx, s.householdID, month)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	if a == nil || !a.Status.IsFinalized() {
		return core.MonthlyAccount{}, fmt.Errorf("finalized account %s: %w", month, core.ErrNotFound)
	}
	s.history.Put(*a)
	return *a, nil
}

// ListHistory returns finalized months, newest first.
func (s *LedgerService) ListHistory(ctx context.Context) ([]core.MonthlyAccount, error) {
	all, err := s.store.ListMonthlyAccounts(ctx, s.householdID)
	if err != nil {
		return nil, err
	}
	var out []core.MonthlyAccount
	for _, a := range all {
		if a.Status.IsFinalized() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *LedgerService) ListTemplates(ctx context.Context) ([]core.RecurringTemplate, error) {
	return s.store.ListTemplates(ctx, s.householdID)
}

// CreateTemplate adds a recurring charge. It is materialized by the next
// scheduler run whose period has reached its trigger day.
func (s *LedgerService) CreateTemplate(ctx context.Context, in NewTemplate) (core.RecurringTemplate, error) {
	t := core.RecurringTemplate{
		ID:          uuid.NewString(),
		HouseholdID: s.householdID,
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Payer:       in.Payer,
		TriggerDay:  in.TriggerDay,
		Category:    in.Category,
	}
	if err := t.Validate(); err != nil {
		return core.RecurringTemplate{}, err
	}
	if err := s.checkMembers(ctx, t.Payer); err != nil {
		return core.RecurringTemplate{}, err
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return core.RecurringTemplate{}, err
	}
	slog.InfoContext(ctx, "Created recurring template",
		"household_id", s.householdID,
		"template_id", t.ID,
		"trigger_day", t.TriggerDay)
	return t, nil
}

// UpdateTemplate edits a template. Materialized instances are not touched.
func (s *LedgerService) UpdateTemplate(ctx context.Context, id string, patch TemplatePatch) (core.RecurringTemplate, error) {
	t, err := s.store.GetTemplate(ctx, s.householdID, id)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Amount != nil {
		t.Amount = *patch.Amount
	}
	if patch.Payer != nil {
		t.Payer = *patch.Payer
	}
	if patch.TriggerDay != nil {
		t.TriggerDay = *patch.TriggerDay
	}
	if patch.Category != nil {
		t.Category = *patch.Category
	}
	if err := t.Validate(); err != nil {
		return core.RecurringTemplate{}, err
	}
	if err := s.checkMembers(ctx, t.Payer); err != nil {
		return core.RecurringTemplate{}, err
	}
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return core.RecurringTemplate{}, err
	}
	return t, nil
}

func (s *LedgerService) DeleteTemplate(ctx context.Context, id string) error {
	return s.store.DeleteTemplate(ctx, s.householdID, id)
}

// MaterializeDue runs the scheduler for the current period.
func (s *LedgerService) MaterializeDue(ctx context.Context) (MaterializeResult, error) {
	account, err := s.currentAccount(ctx, "")
	if err != nil {
		return MaterializeResult{}, err
	}
	return s.scheduler.MaterializeDue(ctx, s.householdID, account.ID)
}

// SeedMembers upserts the household's members, ordered by id.
func (s *LedgerService) SeedMembers(ctx context.Context, members []core.Member) error {
	sorted := append([]core.Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, m := range sorted {
		if strings.TrimSpace(m.ID) == "" {
			return &core.ValidationError{Field: "member_id", Err: core.ErrUnknownMember}
		}
		if err := s.store.UpsertMember(ctx, s.householdID, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerService) checkMembers(ctx context.Context, payer string, beneficiaries ...string) error {
	members, err := s.store.ListMembers(ctx, s.householdID)
	if err != nil {
		return err
	}
	ids := store.MemberIDs(members)
	if !containsID(ids, payer) {
		return &core.ValidationError{Field: "payer", Err: core.ErrUnknownMember}
	}
	for _, b := range beneficiaries {
		if !containsID(ids, b) {
			return &core.ValidationError{Field: "beneficiaries", Err: core.ErrUnknownMember}
		}
	}
	return nil
}
