package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/clock"
	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/metrics"
	"conti/internal/store"

	"github.com/google/uuid"
)

// CloseRequest carries the caller's input to closing a month.
type CloseRequest struct {
	// Adjustments are manual debtor->creditor corrections merged into the
	// matrix before simplification.
	Adjustments []core.Adjustment
	// FixedEdits maps fixed instance ids of the month to corrected amounts.
	FixedEdits map[string]core.Money
}

// MonthManager owns every MonthlyAccount mutation: lazy creation, rent
// updates and the OPEN -> FINALIZED transition.
type MonthManager struct {
	store     store.Ledger
	scheduler *Scheduler
	events    EventPublisher
	metrics   *metrics.Metrics
	clock     clock.Clock

	mu      sync.Mutex
	closing map[string]*monthLock
}

// monthLock is a per-month mutex shared by the closers waiting on it.
type monthLock struct {
	sync.Mutex
	refs int
}

func NewMonthManager(s store.Ledger, scheduler *Scheduler, events EventPublisher, m *metrics.Metrics, clk clock.Clock) *MonthManager {
	if clk == nil {
		clk = clock.Real()
	}
	return &MonthManager{
		store:     s,
		scheduler: scheduler,
		events:    events,
		metrics:   m,
		clock:     clk,
		closing:   make(map[string]*monthLock),
	}
}

// GetOrCreate returns the account for month, creating an OPEN one with
// zeroed rent when none exists. requester becomes the provisional rent
// payer when it is a member; otherwise the first member by id is used.
func (mm *MonthManager) GetOrCreate(ctx context.Context, householdID string, month core.MonthKey, requester string) (core.MonthlyAccount, error) {
	if err := month.Validate(); err != nil {
		return core.MonthlyAccount{}, err
	}
	existing, err := mm.store.GetMonthlyAccount(ctx, householdID, month)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	ids, err := mm.memberIDs(ctx, householdID)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	payer := requester
	if !containsID(ids, payer) {
		payer = ""
		if len(ids) > 0 {
			payer = ids[0]
		}
	}

	account := core.MonthlyAccount{
		ID:               month,
		HouseholdID:      householdID,
		Status:           core.Open,
		HousingAllowance: map[string]core.Money{},
		RentPayer:        payer,
		CreatedAt:        mm.clock.Now().UTC(),
	}
	err = mm.store.CreateMonthlyAccount(ctx, account)
	if errors.Is(err, core.ErrDuplicate) {
		// Created concurrently by another request; read the winner.
		existing, err = mm.store.GetMonthlyAccount(ctx, householdID, month)
		if err != nil {
			return core.MonthlyAccount{}, err
		}
		if existing == nil {
			return core.MonthlyAccount{}, fmt.Errorf("account %s: %w", month, core.ErrNotFound)
		}
		return *existing, nil
	}
	if err != nil {
		return core.MonthlyAccount{}, err
	}

	slog.InfoContext(ctx, "Opened monthly account",
		"household_id", householdID,
		"month_key", month,
		"rent_payer", payer)
	return account, nil
}

// UpdateRent replaces the rent figures of an OPEN month.
func (mm *MonthManager) UpdateRent(ctx context.Context, householdID string, month core.MonthKey, rent core.RentTerms) error {
	if err := rent.Validate(); err != nil {
		return err
	}
	memberIDs, err := mm.memberIDs(ctx, householdID)
	if err != nil {
		return err
	}
	if rent.Payer != "" && !containsID(memberIDs, rent.Payer) {
		return &core.ValidationError{Field: "rent_payer", Err: core.ErrUnknownMember}
	}
	for id := range rent.HousingAllowance {
		if !containsID(memberIDs, id) {
			return &core.ValidationError{Field: "housing_allowance", Err: core.ErrUnknownMember}
		}
	}

	account, err := mm.store.GetMonthlyAccount(ctx, householdID, month)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %s: %w", month, core.ErrNotFound)
	}
	if account.Status.IsFinalized() {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	if err := mm.store.UpdateRent(ctx, householdID, month, rent); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Updated rent",
		"household_id", householdID,
		"month_key", month,
		"rent_cents", rent.Total.Cents,
		"rent_payer", rent.Payer)
	return nil
}

// Close finalizes month. The seven closing steps map onto the code as:
//
//  1. materialize every template for the month and apply fixed edits
//  2. snapshot the fixed charges
//  3. aggregate, merge adjustments and simplify
//  4. persist the settlement debts
//  5. write one regularization charge per transfer (deterministic ids)
//  6. flip the account to FINALIZED
//  7. reload the current period (LedgerService.CloseMonth)
//
// Steps 4, 5 and 6 are a single conditional store write: a closer that
// loses the race, here or in another process, gets core.ErrAlreadyFinalized
// and writes nothing to the finalized month. Step 1 is idempotent, so a
// failed close can be retried. A second Close fails with
// core.ErrAlreadyFinalized before any write.
func (mm *MonthManager) Close(ctx context.Context, householdID string, month core.MonthKey, req CloseRequest) (core.MonthlyAccount, error) {
	unlock := mm.lockMonth(householdID, month)
	defer unlock()

	start := mm.clock.Now()
	account, err := mm.close(ctx, householdID, month, req)
	took := mm.clock.Now().Sub(start)
	switch {
	case err == nil:
		mm.metrics.MonthClosed("ok", took)
	case errors.Is(err, core.ErrAlreadyFinalized):
		mm.metrics.MonthClosed("already_finalized", took)
	default:
		mm.metrics.MonthClosed("error", took)
	}
	return account, err
}

// lockMonth serializes closes of one month within this process. Closers in
// other processes are stopped by the conditional finalize.
// The entry is dropped once its last holder or waiter releases it.
func (mm *MonthManager) lockMonth(householdID string, month core.MonthKey) func() {
	key := householdID + "/" + string(month)
	mm.mu.Lock()
	l, ok := mm.closing[key]
	if !ok {
		l = &monthLock{}
		mm.closing[key] = l
	}
	l.refs++
	mm.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		mm.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(mm.closing, key)
		}
		mm.mu.Unlock()
	}
}

// pendingCloses reports how many month locks are held or awaited.
func (mm *MonthManager) pendingCloses() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.closing)
}

func (mm *MonthManager) close(ctx context.Context, householdID string, month core.MonthKey, req CloseRequest) (core.MonthlyAccount, error) {
	if err := month.Validate(); err != nil {
		return core.MonthlyAccount{}, err
	}
	account, err := mm.store.GetMonthlyAccount(ctx, householdID, month)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	if account == nil {
		return core.MonthlyAccount{}, fmt.Errorf("account %s: %w", month, core.ErrNotFound)
	}
	if account.Status.IsFinalized() {
		return core.MonthlyAccount{}, fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}

	memberIDs, err := mm.memberIDs(ctx, householdID)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	if err := validateClose(req, memberIDs); err != nil {
		return core.MonthlyAccount{}, err
	}

	// Step 1.
	if mm.scheduler != nil {
		if _, err := mm.scheduler.MaterializeAll(ctx, householdID, month); err != nil {
			return core.MonthlyAccount{}, fmt.Errorf("materialize fixed charges: %w", err)
		}
	}
	if err := mm.applyFixedEdits(ctx, householdID, month, req.FixedEdits); err != nil {
		return core.MonthlyAccount{}, err
	}

	// Step 2.
	charges, err := mm.store.ListChargeInstances(ctx, householdID, store.ChargeFilter{MonthKey: month})
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	snapshot := FixedSnapshot(charges)

	// Step 3.
	debts, err := Settle(ledger.SettlementInputs(charges), account.Rent(), memberIDs, req.Adjustments)
	if err != nil {
		return core.MonthlyAccount{}, err
	}

	// Steps 4 to 6.
	finalizedAt := mm.clock.Now().UTC()
	regs := Regularizations(householdID, month, debts, finalizedAt)
	err = mm.store.FinalizeMonthlyAccount(ctx, householdID, month, store.FinalizePatch{
		Debts:           debts,
		Snapshot:        snapshot,
		FinalizedAt:     finalizedAt,
		Regularizations: regs,
	})
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	for range regs {
		mm.metrics.RegularizationWritten()
	}

	account.Status = core.Finalized
	account.SettlementDebts = debts
	account.FixedChargeSnapshot = snapshot
	account.FinalizedAt = finalizedAt

	slog.InfoContext(ctx, "Closed month",
		"household_id", householdID,
		"month_key", month,
		"transfers", len(debts),
		"fixed_charges", len(snapshot))
	publishMonth(ctx, mm.events, mm.metrics, *account)
	return *account, nil
}

func validateClose(req CloseRequest, memberIDs []string) error {
	for _, a := range req.Adjustments {
		if err := a.Validate(); err != nil {
			return err
		}
		if !containsID(memberIDs, a.Debtor) || !containsID(memberIDs, a.Creditor) {
			return &core.ValidationError{Field: "adjustment", Err: core.ErrUnknownMember}
		}
	}
	for id, amount := range req.FixedEdits {
		if err := amount.Validate(); err != nil {
			return &core.ValidationError{Field: "fixed_edits." + id, Err: err}
		}
	}
	return nil
}

func (mm *MonthManager) applyFixedEdits(ctx context.Context, householdID string, month core.MonthKey, edits map[string]core.Money) error {
	for id, amount := range edits {
		c, err := mm.store.GetChargeInstance(ctx, householdID, id)
		if err != nil {
			return err
		}
		if c.Kind != core.Fixed || c.MonthKey != month {
			return &core.ValidationError{Field: "fixed_edits." + id, Err: core.ErrImmutableCharge}
		}
		if c.Amount == amount {
			continue
		}
		amount := amount
		if _, err := mm.store.UpdateChargeInstance(ctx, householdID, id, store.ChargePatch{Amount: &amount}); err != nil {
			return err
		}
	}
	return nil
}

// Regularizations builds one regularization charge per non-zero transfer.
func Regularizations(householdID string, month core.MonthKey, debts []core.DebtEntry, now time.Time) []core.ChargeInstance {
	var out []core.ChargeInstance
	for _, d := range debts {
		if d.Amount.Cents <= 0 {
			continue
		}
		out = append(out, Regularization(householdID, month, d, now))
	}
	return out
}

func (mm *MonthManager) memberIDs(ctx context.Context, householdID string) ([]string, error) {
	members, err := mm.store.ListMembers(ctx, householdID)
	if err != nil {
		return nil, err
	}
	return store.MemberIDs(members), nil
}

var regularizationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("conti:regularization"))

// Regularization builds the compensating variable charge for one settlement
// transfer: the debtor pays the creditor, zeroing their position once
// aggregated.
func Regularization(householdID string, month core.MonthKey, d core.DebtEntry, now time.Time) core.ChargeInstance {
	name := householdID + "/" + string(month) + "/" + d.Debtor + "/" + d.Creditor
	return core.ChargeInstance{
		ID:             uuid.NewSHA1(regularizationNamespace, []byte(name)).String(),
		HouseholdID:    householdID,
		Kind:           core.Variable,
		Description:    fmt.Sprintf("Settlement %s: %s pays %s", month, d.Debtor, d.Creditor),
		Amount:         d.Amount,
		Payer:          d.Debtor,
		Beneficiaries:  []string{d.Creditor},
		OccurredAt:     now,
		RecordedAt:     now,
		MonthKey:       month,
		Category:       "settlement",
		Regularization: true,
	}
}

// FixedSnapshot captures the {description, amount, payer} of every fixed
// charge, in store order.
func FixedSnapshot(charges []core.ChargeInstance) []core.FixedChargeSnapshot {
	var out []core.FixedChargeSnapshot
	for _, c := range charges {
		if c.Kind != core.Fixed {
			continue
		}
		out = append(out, core.FixedChargeSnapshot{Description: c.Description, Amount: c.Amount, Payer: c.Payer})
	}
	return out
}

// Settle runs the aggregator and simplifier over a period.
func Settle(charges []core.ChargeInstance, rent core.RentTerms, memberIDs []string, adjustments []core.Adjustment) ([]core.DebtEntry, error) {
	m, err := ledger.Aggregate(charges, rent, memberIDs)
	if err != nil {
		return nil, err
	}
	ledger.AddAdjustments(m, adjustments)
	return ledger.Simplify(m.NetPositions(memberIDs)), nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
