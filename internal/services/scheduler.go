package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"conti/internal/clock"
	"conti/internal/core"
	"conti/internal/metrics"
	"conti/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SchedulerStore is the part of the Ledger Store the scheduler touches.
type SchedulerStore interface {
	store.ChargeStore
	store.TemplateStore
	store.MemberStore
}

type SchedulerConfig struct {
	// Concurrency bounds how many templates are materialized at once.
	Concurrency int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Concurrency: 4}
}

// MaterializeResult lists the fixed instances created by one run.
type MaterializeResult struct {
	Created []core.ChargeInstance
	Skipped int
}

// Scheduler turns recurring templates into fixed charge instances. The
// in-flight set only guards this process; the durable existence check
// against the store is the real idempotency boundary.
type Scheduler struct {
	store   SchedulerStore
	events  EventPublisher
	metrics *metrics.Metrics
	clock   clock.Clock
	checker DuenessChecker
	config  SchedulerConfig

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewScheduler(s SchedulerStore, events EventPublisher, m *metrics.Metrics, clk clock.Clock, config SchedulerConfig) *Scheduler {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		store:    s,
		events:   events,
		metrics:  m,
		clock:    clk,
		checker:  MonthlyChecker{},
		config:   config,
		inflight: make(map[string]struct{}),
	}
}

// MaterializeDue creates the instances whose trigger day has been reached
// in period. Templates fail independently; if any failed the returned error
// is a *core.PartialFailure and the result still lists what was created.
func (s *Scheduler) MaterializeDue(ctx context.Context, householdID string, period core.MonthKey) (MaterializeResult, error) {
	return s.materialize(ctx, householdID, period, s.checker)
}

// MaterializeAll creates every missing instance for period regardless of
// trigger day. Closing a month uses it.
func (s *Scheduler) MaterializeAll(ctx context.Context, householdID string, period core.MonthKey) (MaterializeResult, error) {
	return s.materialize(ctx, householdID, period, ClosingChecker{})
}

func (s *Scheduler) materialize(ctx context.Context, householdID string, period core.MonthKey, checker DuenessChecker) (MaterializeResult, error) {
	var result MaterializeResult
	if err := period.Validate(); err != nil {
		return result, err
	}

	templates, err := s.store.ListTemplates(ctx, householdID)
	if err != nil {
		return result, fmt.Errorf("list templates: %w", err)
	}
	if len(templates) == 0 {
		return result, nil
	}

	existing, err := s.store.ListChargeInstances(ctx, householdID, store.ChargeFilter{MonthKey: period, Kind: core.Fixed})
	if err != nil {
		return result, fmt.Errorf("list fixed charges: %w", err)
	}

	members, err := s.store.ListMembers(ctx, householdID)
	if err != nil {
		return result, fmt.Errorf("list members: %w", err)
	}
	beneficiaries := store.MemberIDs(members)

	now := s.clock.Now()
	slog.InfoContext(ctx, "Materializing recurring charges",
		"household_id", householdID,
		"month_key", period,
		"templates", len(templates))

	var (
		mu       sync.Mutex
		failures []core.TemplateFailure
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, t := range templates {
		t := t
		g.Go(func() error {
			created, skipped, err := s.materializeOne(gctx, t, period, now, existing, beneficiaries, checker)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, core.TemplateFailure{TemplateID: t.ID, Description: t.Description, Err: err})
			case skipped:
				result.Skipped++
			default:
				result.Created = append(result.Created, created)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Created, func(i, j int) bool { return result.Created[i].Description < result.Created[j].Description })

	slog.InfoContext(ctx, "Recurring charge materialization complete",
		"household_id", householdID,
		"month_key", period,
		"created", len(result.Created),
		"skipped", result.Skipped,
		"failed", len(failures))

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].TemplateID < failures[j].TemplateID })
		return result, &core.PartialFailure{Failures: failures}
	}
	return result, nil
}

// materializeOne returns skipped=true when the template needs no instance.
func (s *Scheduler) materializeOne(ctx context.Context, t core.RecurringTemplate, period core.MonthKey, now time.Time,
	existing []core.ChargeInstance, beneficiaries []string, checker DuenessChecker) (core.ChargeInstance, bool, error) {

	key := t.ID + ":" + string(period)
	if !s.acquire(key) {
		s.metrics.MaterializeSkipped("in_flight")
		return core.ChargeInstance{}, true, nil
	}

	if alreadyMaterialized(existing, t, period) {
		s.release(key)
		s.metrics.MaterializeSkipped("exists")
		return core.ChargeInstance{}, true, nil
	}
	if !checker.IsDue(t, period, now) {
		s.release(key)
		s.metrics.MaterializeSkipped("not_due")
		return core.ChargeInstance{}, true, nil
	}

	instance := core.ChargeInstance{
		ID:            uuid.NewString(),
		HouseholdID:   t.HouseholdID,
		Kind:          core.Fixed,
		Description:   t.Description,
		Amount:        t.Amount,
		Payer:         t.Payer,
		Beneficiaries: append([]string(nil), beneficiaries...),
		OccurredAt:    period.Date(t.TriggerDay),
		RecordedAt:    now,
		MonthKey:      period,
		Category:      t.Category,
		TemplateID:    t.ID,
	}

	err := instance.Validate()
	if err == nil {
		err = s.store.CreateChargeInstance(ctx, instance)
	}
	if errors.Is(err, core.ErrDuplicate) {
		// Another process won the race; the store already holds the instance.
		s.metrics.MaterializeSkipped("exists")
		return core.ChargeInstance{}, true, nil
	}
	if err != nil {
		s.release(key)
		s.metrics.MaterializeFailed()
		slog.ErrorContext(ctx, "Failed to materialize recurring charge",
			"template_id", t.ID,
			"description", t.Description,
			"month_key", period,
			"error", err)
		return core.ChargeInstance{}, false, err
	}

	s.metrics.ChargeMaterialized()
	slog.InfoContext(ctx, "Created fixed charge from template",
		"template_id", t.ID,
		"charge_id", instance.ID,
		"description", t.Description,
		"amount_cents", t.Amount.Cents,
		"month_key", period)
	publishCharge(ctx, s.events, s.metrics, instance)
	return instance, false, nil
}

// alreadyMaterialized is the durable idempotency check: a fixed instance for
// the same template, or with the same description, already exists in period.
func alreadyMaterialized(existing []core.ChargeInstance, t core.RecurringTemplate, period core.MonthKey) bool {
	for _, c := range existing {
		if c.Kind != core.Fixed || c.MonthKey != period {
			continue
		}
		if c.TemplateID == t.ID || c.Description == t.Description {
			return true
		}
	}
	return false
}

func (s *Scheduler) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[key]; busy {
		return false
	}
	s.inflight[key] = struct{}{}
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// InFlight reports whether key (template id + ":" + month key) is held.
func (s *Scheduler) InFlight(templateID string, period core.MonthKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[templateID+":"+string(period)]
	return ok
}
