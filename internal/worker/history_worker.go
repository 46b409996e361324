// Package worker exports finalized months to the history spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"conti/internal/amqp"
	"conti/internal/core"
	"conti/internal/sheets"
)

// AccountReader is the slice of the store the worker reads.
type AccountReader interface {
	GetMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey) (*core.MonthlyAccount, error)
	ListMonthlyAccounts(ctx context.Context, householdID string) ([]core.MonthlyAccount, error)
}

// HistoryWorker reacts to month.finalized events by appending the month to
// the history sheet. ExportPending is the backup path for lost messages.
type HistoryWorker struct {
	accounts    AccountReader
	exporter    sheets.HistoryExporter
	reader      sheets.HistoryReader
	householdID string
}

// NewHistoryWorker builds a worker. reader may be nil, in which case
// ExportPending relies on the exporter skipping months it already wrote.
func NewHistoryWorker(accounts AccountReader, exporter sheets.HistoryExporter, reader sheets.HistoryReader, householdID string) *HistoryWorker {
	return &HistoryWorker{
		accounts:    accounts,
		exporter:    exporter,
		reader:      reader,
		householdID: householdID,
	}
}

// HandleEvent is an amqp.Client consumer handler. Returning an error
// requeues the message.
func (w *HistoryWorker) HandleEvent(ctx context.Context, e *amqp.Event) error {
	switch e.Type {
	case amqp.EventChargeMaterialized:
		slog.DebugContext(ctx, "Ignoring charge event", "month_key", e.MonthKey)
		return nil
	case amqp.EventMonthFinalized:
	default:
		return fmt.Errorf("unexpected event type %q", e.Type)
	}

	if e.HouseholdID != w.householdID {
		slog.WarnContext(ctx, "Skipping event for another household",
			"household_id", e.HouseholdID,
			"month_key", e.MonthKey)
		return nil
	}

	account, err := w.resolveAccount(ctx, e)
	if err != nil {
		return err
	}
	if err := w.exporter.ExportMonth(ctx, account); err != nil {
		return fmt.Errorf("export month %s: %w", account.ID, err)
	}
	slog.InfoContext(ctx, "Exported finalized month", "month_key", account.ID)
	return nil
}

// resolveAccount prefers the stored account, which carries the housing
// allowances the event omits, and falls back to the event payload.
func (w *HistoryWorker) resolveAccount(ctx context.Context, e *amqp.Event) (core.MonthlyAccount, error) {
	month, err := core.ParseMonthKey(e.MonthKey)
	if err != nil {
		return core.MonthlyAccount{}, err
	}
	stored, err := w.accounts.GetMonthlyAccount(ctx, w.householdID, month)
	switch {
	case err == nil && stored != nil && stored.Status.IsFinalized():
		return *stored, nil
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return core.MonthlyAccount{}, fmt.Errorf("load account %s: %w", month, err)
	}
	slog.WarnContext(ctx, "Finalized account not in store, using event payload", "month_key", month)
	return e.MonthlyAccount()
}

// ExportPending exports every finalized month the sheet does not have yet,
// oldest first, and returns how many were written. It stops at the first
// failure.
func (w *HistoryWorker) ExportPending(ctx context.Context) (int, error) {
	accounts, err := w.accounts.ListMonthlyAccounts(ctx, w.householdID)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	exported := map[core.MonthKey]bool{}
	if w.reader != nil {
		months, err := w.reader.ExportedMonths(ctx)
		if err != nil {
			return 0, fmt.Errorf("read exported months: %w", err)
		}
		for _, m := range months {
			exported[m] = true
		}
	}

	var pending []core.MonthlyAccount
	for _, a := range accounts {
		if a.Status.IsFinalized() && !exported[a.ID] {
			pending = append(pending, a)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID.Before(pending[j].ID) })

	for i, a := range pending {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := w.exporter.ExportMonth(ctx, a); err != nil {
			return i, fmt.Errorf("export month %s: %w", a.ID, err)
		}
	}
	if len(pending) > 0 {
		slog.InfoContext(ctx, "Exported pending months", "count", len(pending))
	}
	return len(pending), nil
}
