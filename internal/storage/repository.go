package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"conti/internal/core"
	"conti/internal/store"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ store.Ledger = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Immediate transactions take the write lock up front, so a status check
	// and the write that depends on it cannot interleave with another process.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps the conditional finalize serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) CreateChargeInstance(ctx context.Context, c core.ChargeInstance) error {
	row, err := chargeToRow(c)
	if err != nil {
		return store.Wrap("create_charge", err)
	}
	err = r.inTx(ctx, "create_charge", func(q *Queries) error {
		if err := requireOpenMonth(ctx, q, c.HouseholdID, c.MonthKey); err != nil {
			return err
		}
		if err := q.CreateChargeInstance(ctx, row); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("charge %s: %w", c.ID, core.ErrDuplicate)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "Charge instance saved",
		"id", c.ID,
		"kind", c.Kind,
		"month", c.MonthKey,
		"amount_cents", c.Amount.Cents)
	return nil
}

func (r *SQLiteRepository) GetChargeInstance(ctx context.Context, householdID, id string) (core.ChargeInstance, error) {
	row, err := r.queries.GetChargeInstance(ctx, householdID, id)
	if isNoRows(err) {
		return core.ChargeInstance{}, fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.ChargeInstance{}, store.Wrap("get_charge", err)
	}
	return rowToCharge(row)
}

func (r *SQLiteRepository) ListChargeInstances(ctx context.Context, householdID string, f store.ChargeFilter) ([]core.ChargeInstance, error) {
	rows, err := r.queries.ListChargeInstances(ctx, ListChargeInstancesParams{
		HouseholdID: householdID,
		MonthKey:    string(f.MonthKey),
		Kind:        string(f.Kind),
		TemplateID:  f.TemplateID,
	})
	if err != nil {
		return nil, store.Wrap("list_charges", err)
	}
	out := make([]core.ChargeInstance, 0, len(rows))
	for _, row := range rows {
		c, err := rowToCharge(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateChargeInstance(ctx context.Context, householdID, id string, p store.ChargePatch) (core.ChargeInstance, error) {
	var updated core.ChargeInstance
	err := r.inTx(ctx, "update_charge", func(q *Queries) error {
		row, err := q.GetChargeInstance(ctx, householdID, id)
		if isNoRows(err) {
			return fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return err
		}
		current, err := rowToCharge(row)
		if err != nil {
			return err
		}
		if err := requireOpenMonth(ctx, q, householdID, current.MonthKey); err != nil {
			return err
		}
		updated = p.Apply(current)
		row.AmountCents = updated.Amount.Cents
		row.Payer = updated.Payer
		row.OccurredAt = formatTime(updated.OccurredAt)
		_, err = q.UpdateChargeInstance(ctx, row)
		return err
	})
	return updated, err
}

func (r *SQLiteRepository) DeleteChargeInstance(ctx context.Context, householdID, id string) error {
	return r.inTx(ctx, "delete_charge", func(q *Queries) error {
		row, err := q.GetChargeInstance(ctx, householdID, id)
		if isNoRows(err) {
			return fmt.Errorf("charge %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if err := requireOpenMonth(ctx, q, householdID, core.MonthKey(row.MonthKey)); err != nil {
			return err
		}
		_, err = q.DeleteChargeInstance(ctx, householdID, id)
		return err
	})
}

func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	if err := r.queries.CreateTemplate(ctx, templateToRow(t)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("template %s: %w", t.ID, core.ErrDuplicate)
		}
		return store.Wrap("create_template", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTemplate(ctx context.Context, householdID, id string) (core.RecurringTemplate, error) {
	row, err := r.queries.GetTemplate(ctx, householdID, id)
	if isNoRows(err) {
		return core.RecurringTemplate{}, fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RecurringTemplate{}, store.Wrap("get_template", err)
	}
	return rowToTemplate(row), nil
}

func (r *SQLiteRepository) ListTemplates(ctx context.Context, householdID string) ([]core.RecurringTemplate, error) {
	rows, err := r.queries.ListTemplates(ctx, householdID)
	if err != nil {
		return nil, store.Wrap("list_templates", err)
	}
	out := make([]core.RecurringTemplate, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToTemplate(row))
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	n, err := r.queries.UpdateTemplate(ctx, templateToRow(t))
	if err != nil {
		return store.Wrap("update_template", err)
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, householdID, id string) error {
	n, err := r.queries.DeleteTemplate(ctx, householdID, id)
	if err != nil {
		return store.Wrap("delete_template", err)
	}
	if n == 0 {
		return fmt.Errorf("template %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey) (*core.MonthlyAccount, error) {
	row, err := r.queries.GetMonthlyAccount(ctx, householdID, string(month))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Wrap("get_account", err)
	}
	a, err := rowToAccount(row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) CreateMonthlyAccount(ctx context.Context, a core.MonthlyAccount) error {
	row, err := accountToRow(a)
	if err != nil {
		return store.Wrap("create_account", err)
	}
	if err := r.queries.CreateMonthlyAccount(ctx, row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", a.ID, core.ErrDuplicate)
		}
		return store.Wrap("create_account", err)
	}
	slog.InfoContext(ctx, "Monthly account opened", "household", a.HouseholdID, "month", a.ID)
	return nil
}

func (r *SQLiteRepository) UpdateRent(ctx context.Context, householdID string, month core.MonthKey, rent core.RentTerms) error {
	allowance, err := json.Marshal(allowanceToJSON(rent.HousingAllowance))
	if err != nil {
		return store.Wrap("update_rent", err)
	}
	return r.inTx(ctx, "update_rent", func(q *Queries) error {
		n, err := q.UpdateRent(ctx, UpdateRentParams{
			HouseholdID:      householdID,
			MonthKey:         string(month),
			RentTotalCents:   rent.Total.Cents,
			RentPayer:        rent.Payer,
			HousingAllowance: string(allowance),
		})
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		return missingOrFinalized(ctx, q, householdID, month)
	})
}

// FinalizeMonthlyAccount flips the account with a conditional UPDATE and
// replaces the month's regularizations in the same transaction. Only one
// caller can observe the row in OPEN; the others write nothing.
func (r *SQLiteRepository) FinalizeMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey, p store.FinalizePatch) error {
	debts, err := json.Marshal(debtsToJSON(p.Debts))
	if err != nil {
		return store.Wrap("finalize_account", err)
	}
	snapshot, err := json.Marshal(snapshotToJSON(p.Snapshot))
	if err != nil {
		return store.Wrap("finalize_account", err)
	}
	regs := make([]ChargeInstance, 0, len(p.Regularizations))
	for _, c := range p.Regularizations {
		row, err := chargeToRow(c)
		if err != nil {
			return store.Wrap("finalize_account", err)
		}
		regs = append(regs, row)
	}

	return r.inTx(ctx, "finalize_account", func(q *Queries) error {
		n, err := q.FinalizeMonthlyAccount(ctx, FinalizeMonthlyAccountParams{
			HouseholdID:     householdID,
			MonthKey:        string(month),
			SettlementDebts: string(debts),
			FixedSnapshot:   string(snapshot),
			FinalizedAt:     formatTime(p.FinalizedAt),
		})
		if err != nil {
			return err
		}
		if n != 1 {
			return missingOrFinalized(ctx, q, householdID, month)
		}
		if _, err := q.DeleteRegularizations(ctx, householdID, string(month)); err != nil {
			return err
		}
		for _, row := range regs {
			if err := q.CreateChargeInstance(ctx, row); err != nil {
				return fmt.Errorf("write regularization %s: %w", row.ID, err)
			}
		}
		slog.InfoContext(ctx, "Monthly account finalized",
			"household", householdID,
			"month", month,
			"debts", len(p.Debts),
			"regularizations", len(regs))
		return nil
	})
}

func (r *SQLiteRepository) ListMonthlyAccounts(ctx context.Context, householdID string) ([]core.MonthlyAccount, error) {
	rows, err := r.queries.ListMonthlyAccounts(ctx, householdID)
	if err != nil {
		return nil, store.Wrap("list_accounts", err)
	}
	out := make([]core.MonthlyAccount, 0, len(rows))
	for _, row := range rows {
		a, err := rowToAccount(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, householdID string) ([]core.Member, error) {
	rows, err := r.queries.ListMembers(ctx, householdID)
	if err != nil {
		return nil, store.Wrap("list_members", err)
	}
	out := make([]core.Member, 0, len(rows))
	for _, m := range rows {
		out = append(out, core.Member{ID: m.ID, Name: m.Name})
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertMember(ctx context.Context, householdID string, m core.Member) error {
	err := r.queries.UpsertMember(ctx, Member{HouseholdID: householdID, ID: m.ID, Name: m.Name})
	return store.Wrap("upsert_member", err)
}

func (r *SQLiteRepository) inTx(ctx context.Context, op string, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap(op, err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		if isDomainError(err) {
			return err
		}
		return store.Wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return store.Wrap(op, err)
	}
	return nil
}

func requireOpenMonth(ctx context.Context, q *Queries, householdID string, month core.MonthKey) error {
	finalized, err := q.MonthFinalized(ctx, householdID, string(month))
	if err != nil {
		return err
	}
	if finalized {
		return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
	}
	return nil
}

func missingOrFinalized(ctx context.Context, q *Queries, householdID string, month core.MonthKey) error {
	_, err := q.GetMonthlyAccount(ctx, householdID, string(month))
	if isNoRows(err) {
		return fmt.Errorf("account %s: %w", month, core.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("account %s: %w", month, core.ErrAlreadyFinalized)
}
