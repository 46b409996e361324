package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const chargeColumns = `id, household_id, kind, description, amount_cents, payer, beneficiaries,
	occurred_at, recorded_at, month_key, category, template_id, regularization`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCharge(row rowScanner) (ChargeInstance, error) {
	var c ChargeInstance
	err := row.Scan(&c.ID, &c.HouseholdID, &c.Kind, &c.Description, &c.AmountCents, &c.Payer,
		&c.Beneficiaries, &c.OccurredAt, &c.RecordedAt, &c.MonthKey, &c.Category, &c.TemplateID,
		&c.Regularization)
	return c, err
}

const createChargeInstance = `INSERT INTO charge_instances (` + chargeColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateChargeInstance(ctx context.Context, c ChargeInstance) error {
	_, err := q.db.ExecContext(ctx, createChargeInstance,
		c.ID, c.HouseholdID, c.Kind, c.Description, c.AmountCents, c.Payer, c.Beneficiaries,
		c.OccurredAt, c.RecordedAt, c.MonthKey, c.Category, c.TemplateID, c.Regularization)
	return err
}

const getChargeInstance = `SELECT ` + chargeColumns + ` FROM charge_instances
WHERE household_id = ? AND id = ?`

func (q *Queries) GetChargeInstance(ctx context.Context, householdID, id string) (ChargeInstance, error) {
	return scanCharge(q.db.QueryRowContext(ctx, getChargeInstance, householdID, id))
}

type ListChargeInstancesParams struct {
	HouseholdID string
	MonthKey    string
	Kind        string
	TemplateID  string
}

// Empty string parameters disable the matching condition.
const listChargeInstances = `SELECT ` + chargeColumns + ` FROM charge_instances
WHERE household_id = ?1
  AND (?2 = '' OR month_key = ?2)
  AND (?3 = '' OR kind = ?3)
  AND (?4 = '' OR template_id = ?4)
ORDER BY recorded_at, id`

func (q *Queries) ListChargeInstances(ctx context.Context, arg ListChargeInstancesParams) ([]ChargeInstance, error) {
	rows, err := q.db.QueryContext(ctx, listChargeInstances, arg.HouseholdID, arg.MonthKey, arg.Kind, arg.TemplateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ChargeInstance
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const updateChargeInstance = `UPDATE charge_instances
SET amount_cents = ?, payer = ?, occurred_at = ?
WHERE household_id = ? AND id = ?`

func (q *Queries) UpdateChargeInstance(ctx context.Context, c ChargeInstance) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateChargeInstance, c.AmountCents, c.Payer, c.OccurredAt, c.HouseholdID, c.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteChargeInstance = `DELETE FROM charge_instances WHERE household_id = ? AND id = ?`

func (q *Queries) DeleteChargeInstance(ctx context.Context, householdID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteChargeInstance, householdID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteRegularizations = `DELETE FROM charge_instances
WHERE household_id = ? AND month_key = ? AND regularization = 1`

func (q *Queries) DeleteRegularizations(ctx context.Context, householdID, monthKey string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRegularizations, householdID, monthKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const monthFinalized = `SELECT EXISTS (
	SELECT 1 FROM monthly_accounts
	WHERE household_id = ? AND month_key = ? AND status = 'FINALIZED'
)`

// MonthFinalized reports whether the month has a FINALIZED account.
func (q *Queries) MonthFinalized(ctx context.Context, householdID, monthKey string) (bool, error) {
	var finalized bool
	err := q.db.QueryRowContext(ctx, monthFinalized, householdID, monthKey).Scan(&finalized)
	return finalized, err
}

const templateColumns = `id, household_id, description, amount_cents, payer, trigger_day, category`

func scanTemplate(row rowScanner) (RecurringTemplate, error) {
	var t RecurringTemplate
	err := row.Scan(&t.ID, &t.HouseholdID, &t.Description, &t.AmountCents, &t.Payer, &t.TriggerDay, &t.Category)
	return t, err
}

const createTemplate = `INSERT INTO recurring_templates (` + templateColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTemplate(ctx context.Context, t RecurringTemplate) error {
	_, err := q.db.ExecContext(ctx, createTemplate, t.ID, t.HouseholdID, t.Description, t.AmountCents, t.Payer, t.TriggerDay, t.Category)
	return err
}

const getTemplate = `SELECT ` + templateColumns + ` FROM recurring_templates
WHERE household_id = ? AND id = ?`

func (q *Queries) GetTemplate(ctx context.Context, householdID, id string) (RecurringTemplate, error) {
	return scanTemplate(q.db.QueryRowContext(ctx, getTemplate, householdID, id))
}

const listTemplates = `SELECT ` + templateColumns + ` FROM recurring_templates
WHERE household_id = ?
ORDER BY description, id`

func (q *Queries) ListTemplates(ctx context.Context, householdID string) ([]RecurringTemplate, error) {
	rows, err := q.db.QueryContext(ctx, listTemplates, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const updateTemplate = `UPDATE recurring_templates
SET description = ?, amount_cents = ?, payer = ?, trigger_day = ?, category = ?
WHERE household_id = ? AND id = ?`

func (q *Queries) UpdateTemplate(ctx context.Context, t RecurringTemplate) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateTemplate, t.Description, t.AmountCents, t.Payer, t.TriggerDay, t.Category, t.HouseholdID, t.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteTemplate = `DELETE FROM recurring_templates WHERE household_id = ? AND id = ?`

func (q *Queries) DeleteTemplate(ctx context.Context, householdID, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTemplate, householdID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const accountColumns = `household_id, month_key, status, rent_total_cents, rent_payer, housing_allowance,
	settlement_debts, fixed_snapshot, created_at, finalized_at`

func scanAccount(row rowScanner) (MonthlyAccount, error) {
	var a MonthlyAccount
	err := row.Scan(&a.HouseholdID, &a.MonthKey, &a.Status, &a.RentTotalCents, &a.RentPayer,
		&a.HousingAllowance, &a.SettlementDebts, &a.FixedSnapshot, &a.CreatedAt, &a.FinalizedAt)
	return a, err
}

const getMonthlyAccount = `SELECT ` + accountColumns + ` FROM monthly_accounts
WHERE household_id = ? AND month_key = ?`

func (q *Queries) GetMonthlyAccount(ctx context.Context, householdID, monthKey string) (MonthlyAccount, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getMonthlyAccount, householdID, monthKey))
}

const createMonthlyAccount = `INSERT INTO monthly_accounts (` + accountColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateMonthlyAccount(ctx context.Context, a MonthlyAccount) error {
	_, err := q.db.ExecContext(ctx, createMonthlyAccount, a.HouseholdID, a.MonthKey, a.Status, a.RentTotalCents,
		a.RentPayer, a.HousingAllowance, a.SettlementDebts, a.FixedSnapshot, a.CreatedAt, a.FinalizedAt)
	return err
}

const updateRent = `UPDATE monthly_accounts
SET rent_total_cents = ?, rent_payer = ?, housing_allowance = ?
WHERE household_id = ? AND month_key = ? AND status = 'OPEN'`

type UpdateRentParams struct {
	HouseholdID      string
	MonthKey         string
	RentTotalCents   int64
	RentPayer        string
	HousingAllowance string
}

func (q *Queries) UpdateRent(ctx context.Context, arg UpdateRentParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateRent, arg.RentTotalCents, arg.RentPayer, arg.HousingAllowance, arg.HouseholdID, arg.MonthKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const finalizeMonthlyAccount = `UPDATE monthly_accounts
SET status = 'FINALIZED', settlement_debts = ?, fixed_snapshot = ?, finalized_at = ?
WHERE household_id = ? AND month_key = ? AND status = 'OPEN'`

type FinalizeMonthlyAccountParams struct {
	HouseholdID     string
	MonthKey        string
	SettlementDebts string
	FixedSnapshot   string
	FinalizedAt     string
}

// FinalizeMonthlyAccount returns the number of rows moved out of OPEN;
// zero means the account was missing or already finalized.
func (q *Queries) FinalizeMonthlyAccount(ctx context.Context, arg FinalizeMonthlyAccountParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, finalizeMonthlyAccount, arg.SettlementDebts, arg.FixedSnapshot, arg.FinalizedAt, arg.HouseholdID, arg.MonthKey)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listMonthlyAccounts = `SELECT ` + accountColumns + ` FROM monthly_accounts
WHERE household_id = ?
ORDER BY month_key DESC`

func (q *Queries) ListMonthlyAccounts(ctx context.Context, householdID string) ([]MonthlyAccount, error) {
	rows, err := q.db.QueryContext(ctx, listMonthlyAccounts, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MonthlyAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const listMembers = `SELECT household_id, id, name FROM members WHERE household_id = ? ORDER BY id`

func (q *Queries) ListMembers(ctx context.Context, householdID string) ([]Member, error) {
	rows, err := q.db.QueryContext(ctx, listMembers, householdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.HouseholdID, &m.ID, &m.Name); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

const upsertMember = `INSERT INTO members (household_id, id, name) VALUES (?, ?, ?)
ON CONFLICT (household_id, id) DO UPDATE SET name = excluded.name`

func (q *Queries) UpsertMember(ctx context.Context, m Member) error {
	_, err := q.db.ExecContext(ctx, upsertMember, m.HouseholdID, m.ID, m.Name)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed")
}
