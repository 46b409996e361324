// Package memory is an in-process implementation of store.Ledger used by
// DATA_BACKEND=memory and by service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"conti/internal/core"
	"conti/internal/store"
)

type household struct {
	members   []core.Member
	charges   map[string]core.ChargeInstance
	order     []string
	templates map[string]core.RecurringTemplate
	accounts  map[core.MonthKey]core.MonthlyAccount
}

type Store struct {
	mu         sync.Mutex
	households map[string]*household
}

var _ store.Ledger = (*Store)(nil)

func New() *Store {
	return &Store{households: map[string]*household{}}
}

func (s *Store) get(householdID string) *household {
	h, ok := s.households[householdID]
	if !ok {
		h = &household{
			charges:   map[string]core.ChargeInstance{},
			templates: map[string]core.RecurringTemplate{},
			accounts:  map[core.MonthKey]core.MonthlyAccount{},
		}
		s.households[householdID] = h
	}
	return h
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateChargeInstance(_ context.Context, c core.ChargeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(c.HouseholdID)
	if err := h.checkOpen(c.MonthKey); err != nil {
		return err
	}
	if _, ok := h.charges[c.ID]; ok {
		return fmt.Errorf("charge %s: %w", c.ID, core.ErrDuplicate)
	}
	h.insert(c)
	return nil
}

func (s *Store) GetChargeInstance(_ context.Context, householdID, id string) (core.ChargeInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.get(householdID).charges[id]
	if !ok {
		return core.ChargeInstance{}, fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
	}
	return cloneCharge(c), nil
}

// ListChargeInstances returns matches in insertion order.
func (s *Store) ListChargeInstances(_ context.Context, householdID string, f store.ChargeFilter) ([]core.ChargeInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	var out []core.ChargeInstance
	for _, id := range h.order {
		c, ok := h.charges[id]
		if !ok || !f.Matches(c) {
			continue
		}
		out = append(out, cloneCharge(c))
	}
	return out, nil
}

func (s *Store) UpdateChargeInstance(_ context.Context, householdID, id string, p store.ChargePatch) (core.ChargeInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	c, ok := h.charges[id]
	if !ok {
		return core.ChargeInstance{}, fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
	}
	if err := h.checkOpen(c.MonthKey); err != nil {
		return core.ChargeInstance{}, err
	}
	c = p.Apply(c)
	h.charges[id] = c
	return cloneCharge(c), nil
}

func (s *Store) DeleteChargeInstance(_ context.Context, householdID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	c, ok := h.charges[id]
	if !ok {
		return fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
	}
	if err := h.checkOpen(c.MonthKey); err != nil {
		return err
	}
	h.remove(id)
	return nil
}

func (h *household) checkOpen(month core.MonthKey) error {
	if a, ok := h.accounts[month]; ok && a.Status.IsFinalized() {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	return nil
}

func (h *household) insert(c core.ChargeInstance) {
	h.charges[c.ID] = cloneCharge(c)
	h.order = append(h.order, c.ID)
}

func (h *household) remove(id string) {
	delete(h.charges, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (s *Store) CreateTemplate(_ context.Context, t core.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(t.HouseholdID)
	if _, ok := h.templates[t.ID]; ok {
		return fmt.Errorf("template %s: %w", t.ID, core.ErrDuplicate)
	}
	h.templates[t.ID] = t
	return nil
}

func (s *Store) GetTemplate(_ context.Context, householdID, id string) (core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.get(householdID).templates[id]
	if !ok {
		return core.RecurringTemplate{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return t, nil
}

// ListTemplates returns templates ordered by description.
func (s *Store) ListTemplates(_ context.Context, householdID string) ([]core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	out := make([]core.RecurringTemplate, 0, len(h.templates))
	for _, t := range h.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Description != out[j].Description {
			return out[i].Description < out[j].Description
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateTemplate(_ context.Context, t core.RecurringTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(t.HouseholdID)
	if _, ok := h.templates[t.ID]; !ok {
		return fmt.Errorf("template %s: %w", t.ID, core.ErrNotFound)
	}
	h.templates[t.ID] = t
	return nil
}

func (s *Store) DeleteTemplate(_ context.Context, householdID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	if _, ok := h.templates[id]; !ok {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	delete(h.templates, id)
	return nil
}

func (s *Store) GetMonthlyAccount(_ context.Context, householdID string, month core.MonthKey) (*core.MonthlyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.get(householdID).accounts[month]
	if !ok {
		return nil, nil
	}
	a = cloneAccount(a)
	return &a, nil
}

func (s *Store) CreateMonthlyAccount(_ context.Context, a core.MonthlyAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(a.HouseholdID)
	if _, ok := h.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, core.ErrDuplicate)
	}
	h.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *Store) UpdateRent(_ context.Context, householdID string, month core.MonthKey, rent core.RentTerms) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	a, ok := h.accounts[month]
	if !ok {
		return fmt.Errorf("account %s: %w", month, core.ErrNotFound)
	}
	if a.Status.IsFinalized() {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	a.RentTotal = rent.Total
	a.RentPayer = rent.Payer
	a.HousingAllowance = cloneAllowance(rent.HousingAllowance)
	h.accounts[month] = a
	return nil
}

func (s *Store) FinalizeMonthlyAccount(_ context.Context, householdID string, month core.MonthKey, p store.FinalizePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	a, ok := h.accounts[month]
	if !ok {
		return fmt.Errorf("account %s: %w", month, core.ErrNotFound)
	}
	if a.Status.IsFinalized() {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	wanted := make(map[string]struct{}, len(p.Regularizations))
	for _, c := range p.Regularizations {
		wanted[c.ID] = struct{}{}
	}
	for _, id := range append([]string(nil), h.order...) {
		c := h.charges[id]
		if _, keep := wanted[id]; c.Regularization && c.MonthKey == month && !keep {
			h.remove(id)
		}
	}
	for _, c := range p.Regularizations {
		if _, ok := h.charges[c.ID]; ok {
			h.charges[c.ID] = cloneCharge(c)
			continue
		}
		h.insert(c)
	}

	a.Status = core.Finalized
	a.SettlementDebts = append([]core.DebtEntry(nil), p.Debts...)
	a.FixedChargeSnapshot = append([]core.FixedChargeSnapshot(nil), p.Snapshot...)
	a.FinalizedAt = p.FinalizedAt
	h.accounts[month] = a
	return nil
}

func (s *Store) ListMonthlyAccounts(_ context.Context, householdID string) ([]core.MonthlyAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	out := make([]core.MonthlyAccount, 0, len(h.accounts))
	for _, a := range h.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[j].ID.Before(out[i].ID) })
	return out, nil
}

// ListMembers returns members ordered by id.
func (s *Store) ListMembers(_ context.Context, householdID string) ([]core.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Member(nil), s.get(householdID).members...), nil
}

func (s *Store) UpsertMember(_ context.Context, householdID string, m core.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.get(householdID)
	for i := range h.members {
		if h.members[i].ID == m.ID {
			h.members[i] = m
			return nil
		}
	}
	h.members = append(h.members, m)
	sort.Slice(h.members, func(i, j int) bool { return h.members[i].ID < h.members[j].ID })
	return nil
}

func cloneCharge(c core.ChargeInstance) core.ChargeInstance {
	c.Beneficiaries = append([]string(nil), c.Beneficiaries...)
	return c
}

func cloneAccount(a core.MonthlyAccount) core.MonthlyAccount {
	a.HousingAllowance = cloneAllowance(a.HousingAllowance)
	a.SettlementDebts = append([]core.DebtEntry(nil), a.SettlementDebts...)
	a.FixedChargeSnapshot = append([]core.FixedChargeSnapshot(nil), a.FixedChargeSnapshot...)
	return a
}

func cloneAllowance(in map[string]core.Money) map[string]core.Money {
	out := make(map[string]core.Money, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
