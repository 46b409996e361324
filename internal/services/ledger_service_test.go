package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"conti/internal/cache"
	"conti/internal/core"
	"conti/internal/store/memory"

	"github.com/shopspring/decimal"
)

func TestLoadCurrentPeriodAdvancesPastClosedMonths(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	ctx := context.Background()

	next, err := env.svc.CloseMonth(ctx, "a", CloseRequest{})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if next.Account.ID != "2026-11" || next.Account.Status != core.Open {
		t.Fatalf("expected open 2026-11, got %s %s", next.Account.ID, next.Account.Status)
	}
	if len(next.Fixed) != 0 || len(next.Variable) != 0 {
		t.Errorf("new period should start empty, got %d fixed %d variable", len(next.Fixed), len(next.Variable))
	}

	p, err := env.svc.LoadCurrentPeriod(ctx, "b")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Account.ID != "2026-11" {
		t.Fatalf("today is still October but October is closed, got %s", p.Account.ID)
	}

	c, err := env.svc.AddChargeInstance(ctx, NewCharge{
		Kind: core.Variable, Description: "Pizza", Amount: core.Cents(2400),
		Payer: "a", Beneficiaries: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.MonthKey != "2026-11" {
		t.Errorf("new charges belong to the current period, got %s", c.MonthKey)
	}
}

func TestPersonalBalanceScenario(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	ctx := context.Background()
	if _, err := env.svc.MaterializeDue(ctx); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	tests := []struct {
		member                       string
		rent, fixed, variable, total string
		status                       string
	}{
		{"b", "450", "20", "-50", "420", "owes"},
		{"a", "-450", "-20", "50", "-420", "owed"},
	}

	for _, tt := range tests {
		t.Run(tt.member, func(t *testing.T) {
			pb, err := env.svc.GetPersonalBalance(ctx, "a", tt.member)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			pb = pb.Rounded()
			for _, c := range []struct {
				label     string
				got, want decimal.Decimal
			}{
				{"rent", pb.Rent, decimal.RequireFromString(tt.rent)},
				{"fixed", pb.Fixed, decimal.RequireFromString(tt.fixed)},
				{"variable", pb.Variable, decimal.RequireFromString(tt.variable)},
				{"total", pb.Total, decimal.RequireFromString(tt.total)},
			} {
				if !c.got.Equal(c.want) {
					t.Errorf("%s: expected %s, got %s", c.label, c.want, c.got)
				}
			}
			if pb.Status() != tt.status {
				t.Errorf("expected status %s, got %s", tt.status, pb.Status())
			}
		})
	}

	if _, err := env.svc.GetPersonalBalance(ctx, "a", "z"); !errors.Is(err, core.ErrUnknownMember) {
		t.Errorf("expected ErrUnknownMember, got %v", err)
	}
}

func TestGetSimplifiedTransfersDoesNotWrite(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	ctx := context.Background()
	if _, err := env.svc.MaterializeDue(ctx); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	transfers, err := env.svc.GetSimplifiedTransfers(ctx, "a")
	if err != nil {
		t.Fatalf("transfers: %v", err)
	}
	if len(transfers) != 1 || transfers[0].Debtor != "b" || transfers[0].Amount.Cents != 42000 {
		t.Fatalf("expected b pays a 420, got %+v", transfers)
	}
	a, _ := env.store.GetMonthlyAccount(ctx, testHousehold, october)
	if a.Status != core.Open || len(a.SettlementDebts) != 0 {
		t.Errorf("preview must not touch the account, got %+v", a)
	}
	if regs := regularizations(t, env.store, october); len(regs) != 0 {
		t.Errorf("preview must not write regularizations, got %d", len(regs))
	}
}

func TestAddChargeInstanceValidation(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedHousehold(t, env.store)

	valid := NewCharge{Kind: core.Variable, Description: "Dinner", Amount: core.Cents(3000), Payer: "a", Beneficiaries: []string{"a", "b"}}
	tests := []struct {
		name   string
		mutate func(*NewCharge)
		want   error
	}{
		{"zero amount", func(c *NewCharge) { c.Amount = core.Cents(0) }, core.ErrInvalidAmount},
		{"empty description", func(c *NewCharge) { c.Description = "  " }, core.ErrEmptyDescription},
		{"missing payer", func(c *NewCharge) { c.Payer = "" }, core.ErrMissingPayer},
		{"no beneficiaries", func(c *NewCharge) { c.Beneficiaries = nil }, core.ErrEmptyBeneficiaries},
		{"unknown kind", func(c *NewCharge) { c.Kind = "weekly" }, core.ErrUnknownKind},
		{"unknown payer", func(c *NewCharge) { c.Payer = "z" }, core.ErrUnknownMember},
		{"unknown beneficiary", func(c *NewCharge) { c.Beneficiaries = []string{"a", "z"} }, core.ErrUnknownMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := env.svc.AddChargeInstance(context.Background(), in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("expected a validation error, got %v", err)
			}
		})
	}

	accounts, _ := env.store.ListMonthlyAccounts(context.Background(), testHousehold)
	if len(accounts) != 0 {
		t.Errorf("rejected charges must not touch the store, got %d accounts", len(accounts))
	}
}

func TestFixedChargeEdits(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	ctx := context.Background()
	if _, err := env.svc.MaterializeDue(ctx); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	internet := fixedCharges(t, env.store, october)[0]

	if _, err := env.svc.UpdateChargeAmount(ctx, internet.ID, core.Cents(4500)); err != nil {
		t.Fatalf("amount: %v", err)
	}
	if _, err := env.svc.UpdateChargePayer(ctx, internet.ID, "b"); err != nil {
		t.Fatalf("payer: %v", err)
	}
	updated, err := env.svc.UpdateChargeDay(ctx, internet.ID, 31)
	if err != nil {
		t.Fatalf("day: %v", err)
	}
	if updated.Amount.Cents != 4500 || updated.Payer != "b" || updated.OccurredAt.Day() != 31 {
		t.Errorf("unexpected instance %+v", updated)
	}

	tpl, err := env.store.GetTemplate(ctx, testHousehold, internet.TemplateID)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if tpl.Amount.Cents != 4500 || tpl.Payer != "b" || tpl.TriggerDay != 31 {
		t.Errorf("edits should reach the template for future months, got %+v", tpl)
	}

	if _, err := env.svc.UpdateChargePayer(ctx, internet.ID, "z"); !errors.Is(err, core.ErrUnknownMember) {
		t.Errorf("expected ErrUnknownMember, got %v", err)
	}
	if _, err := env.svc.UpdateChargeAmount(ctx, internet.ID, core.Cents(0)); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := env.svc.UpdateChargeDay(ctx, internet.ID, 32); !errors.Is(err, core.ErrInvalidTriggerDay) {
		t.Errorf("expected ErrInvalidTriggerDay, got %v", err)
	}
}

func TestVariableChargeEditRejected(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	groceries := variableCharges(t, env)[0]

	_, err := env.svc.UpdateChargeAmount(context.Background(), groceries.ID, core.Cents(1))
	if !errors.Is(err, core.ErrImmutableCharge) {
		t.Fatalf("expected ErrImmutableCharge, got %v", err)
	}
}

func TestFinalizedMonthIsImmutable(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedScenario(t, env)
	ctx := context.Background()
	if _, err := env.svc.CloseMonth(ctx, "a", CloseRequest{}); err != nil {
		t.Fatalf("close: %v", err)
	}
	internet := fixedCharges(t, env.store, october)[0]
	groceries := variableCharges(t, env)[0]

	if _, err := env.svc.UpdateChargeAmount(ctx, internet.ID, core.Cents(1)); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Errorf("edit in a finalized month: expected ErrAlreadyFinalized, got %v", err)
	}
	if err := env.svc.DeleteChargeInstance(ctx, groceries.ID); !errors.Is(err, core.ErrAlreadyFinalized) {
		t.Errorf("delete in a finalized month: expected ErrAlreadyFinalized, got %v", err)
	}
	reg := regularizations(t, env.store, october)[0]
	if err := env.svc.DeleteChargeInstance(ctx, reg.ID); !errors.Is(err, core.ErrImmutableCharge) {
		t.Errorf("regularization delete: expected ErrImmutableCharge, got %v", err)
	}

	tpl, _ := env.store.GetTemplate(ctx, testHousehold, internet.TemplateID)
	amount := core.Cents(9900)
	if _, err := env.svc.UpdateTemplate(ctx, tpl.ID, TemplatePatch{Amount: &amount}); err != nil {
		t.Fatalf("update template: %v", err)
	}
	hist, err := env.svc.GetHistoricalAccount(ctx, october)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if hist.FixedChargeSnapshot[0].Amount.Cents != 4000 {
		t.Errorf("template edits must not rewrite the snapshot, got %+v", hist.FixedChargeSnapshot)
	}
}

func TestHistoricalAccounts(t *testing.T) {
	clk := fakeClock(2026, 10, 18)
	mem := memory.New()
	env := newTestEnv(t, mem, clk)
	env.svc = NewLedgerService(mem, env.months, env.sched, cache.NewHistory(4, time.Hour, clk), clk, testHousehold)
	seedScenario(t, env)
	ctx := context.Background()

	if _, err := env.svc.GetHistoricalAccount(ctx, october); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("open month is not history, got %v", err)
	}
	if _, err := env.svc.CloseMonth(ctx, "a", CloseRequest{}); err != nil {
		t.Fatalf("close: %v", err)
	}

	hist, err := env.svc.ListHistory(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(hist) != 1 || hist[0].ID != october {
		t.Fatalf("expected only October in history, got %+v", hist)
	}
	a, err := env.svc.GetHistoricalAccount(ctx, october)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.SettlementDebts) != 1 || a.SettlementDebts[0].Amount.Cents != 42000 {
		t.Errorf("unexpected debts %+v", a.SettlementDebts)
	}
	if _, err := env.svc.GetHistoricalAccount(ctx, "2026-13"); !errors.Is(err, core.ErrInvalidMonthKey) {
		t.Errorf("expected ErrInvalidMonthKey, got %v", err)
	}
}

func TestTemplateCRUD(t *testing.T) {
	env := newTestEnv(t, memory.New(), fakeClock(2026, 10, 18))
	seedHousehold(t, env.store)
	ctx := context.Background()

	if _, err := env.svc.CreateTemplate(ctx, NewTemplate{Description: "Gym", Amount: core.Cents(100), Payer: "a", TriggerDay: 0}); !errors.Is(err, core.ErrInvalidTriggerDay) {
		t.Fatalf("expected ErrInvalidTriggerDay, got %v", err)
	}
	tpl, err := env.svc.CreateTemplate(ctx, NewTemplate{Description: "Gym", Amount: core.Cents(100), Payer: "a", TriggerDay: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	desc := "Gym membership"
	if _, err := env.svc.UpdateTemplate(ctx, tpl.ID, TemplatePatch{Description: &desc}); err != nil {
		t.Fatalf("update: %v", err)
	}
	list, _ := env.svc.ListTemplates(ctx)
	if len(list) != 1 || list[0].Description != desc {
		t.Fatalf("unexpected templates %+v", list)
	}
	if err := env.svc.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.svc.DeleteTemplate(ctx, tpl.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
