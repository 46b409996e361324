package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"conti/internal/clock"
	"conti/internal/core"
	"conti/internal/store"
	"conti/internal/store/memory"
)

const testHousehold = "home"

var errInjected = errors.New("injected store failure")

// failingStore fails CreateChargeInstance for the listed template ids.
type failingStore struct {
	*memory.Store

	mu       sync.Mutex
	failFor  map[string]bool
	attempts map[string]int
}

func newFailingStore(s *memory.Store, templateIDs ...string) *failingStore {
	fs := &failingStore{Store: s, failFor: map[string]bool{}, attempts: map[string]int{}}
	for _, id := range templateIDs {
		fs.failFor[id] = true
	}
	return fs
}

func (f *failingStore) CreateChargeInstance(ctx context.Context, c core.ChargeInstance) error {
	f.mu.Lock()
	f.attempts[c.TemplateID]++
	fail := f.failFor[c.TemplateID]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Store.CreateChargeInstance(ctx, c)
}

func (f *failingStore) heal(templateID string) {
	f.mu.Lock()
	delete(f.failFor, templateID)
	f.mu.Unlock()
}

// recordingPublisher keeps every event it is asked to publish.
type recordingPublisher struct {
	mu      sync.Mutex
	charges []core.ChargeInstance
	months  []core.MonthlyAccount
	err     error
}

func (p *recordingPublisher) PublishChargeMaterialized(_ context.Context, c core.ChargeInstance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges = append(p.charges, c)
	return p.err
}

func (p *recordingPublisher) PublishMonthFinalized(_ context.Context, a core.MonthlyAccount) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.months = append(p.months, a)
	return p.err
}

func (p *recordingPublisher) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

// seedHousehold stores members a and b plus the given templates.
func seedHousehold(t *testing.T, s store.Ledger, templates ...core.RecurringTemplate) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []core.Member{{ID: "a", Name: "Alice"}, {ID: "b", Name: "Bruno"}} {
		if err := s.UpsertMember(ctx, testHousehold, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	for _, tpl := range templates {
		tpl.HouseholdID = testHousehold
		if err := s.CreateTemplate(ctx, tpl); err != nil {
			t.Fatalf("seed template %s: %v", tpl.ID, err)
		}
	}
}

func template(id, desc string, cents int64, payer string, day int) core.RecurringTemplate {
	return core.RecurringTemplate{
		ID: id, HouseholdID: testHousehold, Description: desc,
		Amount: core.Cents(cents), Payer: payer, TriggerDay: day,
	}
}

func fakeClock(year int, month time.Month, day int) *clock.Fake {
	return clock.NewFake(time.Date(year, month, day, 12, 0, 0, 0, time.UTC))
}

func fixedCharges(t *testing.T, s store.ChargeStore, month core.MonthKey) []core.ChargeInstance {
	t.Helper()
	list, err := s.ListChargeInstances(context.Background(), testHousehold, store.ChargeFilter{MonthKey: month, Kind: core.Fixed})
	if err != nil {
		t.Fatalf("list fixed charges: %v", err)
	}
	return list
}

// flakyFinalizeStore fails the next n finalize calls after every earlier
// close step has run.
type flakyFinalizeStore struct {
	*memory.Store
	failures int
}

func (f *flakyFinalizeStore) FinalizeMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey, p store.FinalizePatch) error {
	if f.failures > 0 {
		f.failures--
		return store.Wrap("finalize monthly account", errInjected)
	}
	return f.Store.FinalizeMonthlyAccount(ctx, householdID, month, p)
}

// interleavingStore runs interleave once, on the first charge listing, to
// let another closer act after this one has read the account as OPEN.
type interleavingStore struct {
	store.Ledger
	once       sync.Once
	interleave func()
}

func (s *interleavingStore) ListChargeInstances(ctx context.Context, householdID string, f store.ChargeFilter) ([]core.ChargeInstance, error) {
	s.once.Do(s.interleave)
	return s.Ledger.ListChargeInstances(ctx, householdID, f)
}

type testEnv struct {
	store  store.Ledger
	clock  *clock.Fake
	events *recordingPublisher
	sched  *Scheduler
	months *MonthManager
	svc    *LedgerService
}

func newTestEnv(t *testing.T, s store.Ledger, clk *clock.Fake) *testEnv {
	t.Helper()
	pub := &recordingPublisher{}
	sched := NewScheduler(s, pub, nil, clk, DefaultSchedulerConfig())
	months := NewMonthManager(s, sched, pub, nil, clk)
	svc := NewLedgerService(s, months, sched, nil, clk, testHousehold)
	return &testEnv{store: s, clock: clk, events: pub, sched: sched, months: months, svc: svc}
}

// seedScenario builds the two-member household of October 2026: rent 1000
// paid by a (allowances a=100, b=50), Internet 40 paid by a, Groceries 100
// paid by b for both.
func seedScenario(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	seedHousehold(t, env.store)
	if _, err := env.svc.LoadCurrentPeriod(ctx, "a"); err != nil {
		t.Fatalf("load period: %v", err)
	}
	rent := core.RentTerms{
		Total:            core.Cents(100000),
		HousingAllowance: map[string]core.Money{"a": core.Cents(10000), "b": core.Cents(5000)},
		Payer:            "a",
	}
	if _, err := env.svc.UpdateRent(ctx, "a", rent); err != nil {
		t.Fatalf("update rent: %v", err)
	}
	if _, err := env.svc.CreateTemplate(ctx, NewTemplate{Description: "Internet", Amount: core.Cents(4000), Payer: "a", TriggerDay: 1}); err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := env.svc.AddChargeInstance(ctx, NewCharge{
		Kind: core.Variable, Description: "Groceries", Amount: core.Cents(10000),
		Payer: "b", Beneficiaries: []string{"a", "b"},
	}); err != nil {
		t.Fatalf("add groceries: %v", err)
	}
}

func regularizations(t *testing.T, s store.ChargeStore, month core.MonthKey) []core.ChargeInstance {
	t.Helper()
	all, err := s.ListChargeInstances(context.Background(), testHousehold, store.ChargeFilter{MonthKey: month, Kind: core.Variable})
	if err != nil {
		t.Fatalf("list charges: %v", err)
	}
	var out []core.ChargeInstance
	for _, c := range all {
		if c.Regularization {
			out = append(out, c)
		}
	}
	return out
}

func storeFilter(month core.MonthKey) store.ChargeFilter {
	return store.ChargeFilter{MonthKey: month}
}

func variableCharges(t *testing.T, env *testEnv) []core.ChargeInstance {
	t.Helper()
	list, err := env.store.ListChargeInstances(context.Background(), testHousehold, store.ChargeFilter{Kind: core.Variable})
	if err != nil {
		t.Fatalf("list variable charges: %v", err)
	}
	return list
}
