package memory

import (
	"context"
	"errors"
	"testing"

	"conti/internal/core"
	"conti/internal/store"
)

func TestChargeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := core.ChargeInstance{
		ID: "c1", HouseholdID: "h", Kind: core.Variable, Description: "Groceries",
		Amount: core.Cents(1000), Payer: "a", Beneficiaries: []string{"a", "b"}, MonthKey: "2026-10",
	}
	if err := s.CreateChargeInstance(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateChargeInstance(ctx, c); !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Mutating the caller's slice must not leak into the store.
	c.Beneficiaries[0] = "z"
	got, err := s.GetChargeInstance(ctx, "h", "c1")
	if err != nil || got.Beneficiaries[0] != "a" {
		t.Fatalf("get: %+v %v", got, err)
	}

	payer := "b"
	got, err = s.UpdateChargeInstance(ctx, "h", "c1", store.ChargePatch{Payer: &payer})
	if err != nil || got.Payer != "b" {
		t.Fatalf("update: %+v %v", got, err)
	}

	list, _ := s.ListChargeInstances(ctx, "h", store.ChargeFilter{MonthKey: "2026-10", Kind: core.Variable})
	if len(list) != 1 {
		t.Fatalf("list: %+v", list)
	}
	if other, _ := s.ListChargeInstances(ctx, "other", store.ChargeFilter{}); len(other) != 0 {
		t.Fatalf("households must be isolated, got %+v", other)
	}

	if err := s.DeleteChargeInstance(ctx, "h", "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetChargeInstance(ctx, "h", "c1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFinalizeIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateMonthlyAccount(ctx, core.MonthlyAccount{ID: "2026-10", HouseholdID: "h", Status: core.Open}); err != nil {
		t.Fatalf("create: %v", err)
	}
	patch := store.FinalizePatch{Debts: []core.DebtEntry{{Debtor: "b", Creditor: "a", Amount: core.Cents(42000)}}}
	if err := s.FinalizeMonthlyAccount(ctx, "h", "2026-10", patch); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := s.FinalizeMonthlyAccount(ctx, "h", "2026-10", store.FinalizePatch{}); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if err := s.UpdateRent(ctx, "h", "2026-10", core.RentTerms{}); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Fatalf("expected rent update to be rejected, got %v", err)
	}
	a, err := s.GetMonthlyAccount(ctx, "h", "2026-10")
	if err != nil || a == nil || len(a.SettlementDebts) != 1 || a.Status != core.Finalized {
		t.Fatalf("unexpected account %+v %v", a, err)
	}
	if missing, err := s.GetMonthlyAccount(ctx, "h", "2026-11"); missing != nil || err != nil {
		t.Fatalf("expected nil, nil for missing account, got %+v %v", missing, err)
	}
}

func TestFinalizeReplacesRegularizations(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateMonthlyAccount(ctx, core.MonthlyAccount{ID: "2026-10", HouseholdID: "h", Status: core.Open}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	reg := func(id, payer string, cents int64, month core.MonthKey) core.ChargeInstance {
		return core.ChargeInstance{
			ID: id, HouseholdID: "h", Kind: core.Variable, Description: "Settlement",
			Amount: core.Cents(cents), Payer: payer, Beneficiaries: []string{"a"},
			MonthKey: month, Regularization: true,
		}
	}
	for _, c := range []core.ChargeInstance{reg("stale", "b", 100, "2026-10"), reg("keep", "b", 100, "2026-10"), reg("sept", "b", 100, "2026-09")} {
		if err := s.CreateChargeInstance(ctx, c); err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}

	patch := store.FinalizePatch{Regularizations: []core.ChargeInstance{reg("keep", "b", 42000, "2026-10"), reg("new", "c", 500, "2026-10")}}
	if err := s.FinalizeMonthlyAccount(ctx, "h", "2026-10", patch); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := map[string]int64{}
	all, _ := s.ListChargeInstances(ctx, "h", store.ChargeFilter{})
	for _, c := range all {
		got[c.ID] = c.Amount.Cents
	}
	want := map[string]int64{"keep": 42000, "new": 500, "sept": 100}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for id, cents := range want {
		if got[id] != cents {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// A losing finalize must not touch the charges.
	if err := s.FinalizeMonthlyAccount(ctx, "h", "2026-10", store.FinalizePatch{}); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	if after, _ := s.ListChargeInstances(ctx, "h", store.ChargeFilter{MonthKey: "2026-10"}); len(after) != 2 {
		t.Fatalf("regularizations changed after a rejected finalize: %+v", after)
	}
}

func TestChargeWritesRejectedOnFinalizedMonth(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateMonthlyAccount(ctx, core.MonthlyAccount{ID: "2026-10", HouseholdID: "h", Status: core.Open}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	c := core.ChargeInstance{
		ID: "c1", HouseholdID: "h", Kind: core.Fixed, Description: "Internet",
		Amount: core.Cents(4000), Payer: "a", Beneficiaries: []string{"a", "b"}, MonthKey: "2026-10",
	}
	if err := s.CreateChargeInstance(ctx, c); err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if err := s.FinalizeMonthlyAccount(ctx, "h", "2026-10", store.FinalizePatch{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	late := c
	late.ID = "c2"
	if err := s.CreateChargeInstance(ctx, late); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Errorf("create: expected ErrAlreadyFinalized, got %v", err)
	}
	amount := core.Cents(1)
	if _, err := s.UpdateChargeInstance(ctx, "h", "c1", store.ChargePatch{Amount: &amount}); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Errorf("update: expected ErrAlreadyFinalized, got %v", err)
	}
	if err := s.DeleteChargeInstance(ctx, "h", "c1"); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Errorf("delete: expected ErrAlreadyFinalized, got %v", err)
	}
	if got, err := s.GetChargeInstance(ctx, "h", "c1"); err != nil || got.Amount.Cents != 4000 {
		t.Fatalf("finalized charge changed: %+v %v", got, err)
	}

	next := c
	next.ID, next.MonthKey = "c3", "2026-11"
	if err := s.CreateChargeInstance(ctx, next); err != nil {
		t.Fatalf("months without a finalized account stay writable: %v", err)
	}
}

func TestListMonthlyAccountsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []core.MonthKey{"2026-08", "2026-10", "2026-09"} {
		_ = s.CreateMonthlyAccount(ctx, core.MonthlyAccount{ID: k, HouseholdID: "h", Status: core.Open})
	}
	list, _ := s.ListMonthlyAccounts(ctx, "h")
	if len(list) != 3 || list[0].ID != "2026-10" || list[2].ID != "2026-08" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestMembersSortedAndUpserted(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.UpsertMember(ctx, "h", core.Member{ID: "b", Name: "Bea"})
	_ = s.UpsertMember(ctx, "h", core.Member{ID: "a", Name: "Al"})
	_ = s.UpsertMember(ctx, "h", core.Member{ID: "a", Name: "Alan"})
	members, _ := s.ListMembers(ctx, "h")
	if len(members) != 2 || members[0].Name != "Alan" || members[1].ID != "b" {
		t.Fatalf("unexpected members: %+v", members)
	}
}
