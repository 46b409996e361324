// Package store defines the persistence ports of the ledger. Every call is
// scoped to one household; implementations live in internal/storage (SQLite)
// and internal/store/memory.
package store

import (
	"context"
	"fmt"
	"time"

	"conti/internal/core"
)

// ChargeFilter narrows ListChargeInstances. Zero fields match everything.
type ChargeFilter struct {
	MonthKey   core.MonthKey
	Kind       core.ChargeKind
	TemplateID string
}

// Matches reports whether c passes the filter.
func (f ChargeFilter) Matches(c core.ChargeInstance) bool {
	if f.MonthKey != "" && c.MonthKey != f.MonthKey {
		return false
	}
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.TemplateID != "" && c.TemplateID != f.TemplateID {
		return false
	}
	return true
}

// ChargePatch carries the mutable fields of a charge instance. Nil fields
// are left untouched.
type ChargePatch struct {
	Amount     *core.Money
	Payer      *string
	OccurredAt *time.Time
}

// Apply returns c with the patch applied.
func (p ChargePatch) Apply(c core.ChargeInstance) core.ChargeInstance {
	if p.Amount != nil {
		c.Amount = *p.Amount
	}
	if p.Payer != nil {
		c.Payer = *p.Payer
	}
	if p.OccurredAt != nil {
		c.OccurredAt = *p.OccurredAt
	}
	return c
}

// FinalizePatch is written together with the OPEN -> FINALIZED transition.
type FinalizePatch struct {
	Debts       []core.DebtEntry
	Snapshot    []core.FixedChargeSnapshot
	FinalizedAt time.Time
	// Regularizations replaces the month's regularization charges in the
	// same write: listed ids are upserted, any other regularization of the
	// month is removed.
	Regularizations []core.ChargeInstance
}

type (
	// ChargeStore writes fail with core.ErrAlreadyFinalized when the
	// charge's month has a FINALIZED account. The check and the write are
	// one atomic step.
	ChargeStore interface {
		// CreateChargeInstance fails with core.ErrDuplicate when the id exists.
		CreateChargeInstance(ctx context.Context, c core.ChargeInstance) error
		// GetChargeInstance fails with core.ErrNotFound.
		GetChargeInstance(ctx context.Context, householdID, id string) (core.ChargeInstance, error)
		ListChargeInstances(ctx context.Context, householdID string, f ChargeFilter) ([]core.ChargeInstance, error)
		UpdateChargeInstance(ctx context.Context, householdID, id string, p ChargePatch) (core.ChargeInstance, error)
		DeleteChargeInstance(ctx context.Context, householdID, id string) error
	}

	TemplateStore interface {
		CreateTemplate(ctx context.Context, t core.RecurringTemplate) error
		GetTemplate(ctx context.Context, householdID, id string) (core.RecurringTemplate, error)
		ListTemplates(ctx context.Context, householdID string) ([]core.RecurringTemplate, error)
		UpdateTemplate(ctx context.Context, t core.RecurringTemplate) error
		DeleteTemplate(ctx context.Context, householdID, id string) error
	}

	AccountStore interface {
		// GetMonthlyAccount returns nil, nil when no account exists yet.
		GetMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey) (*core.MonthlyAccount, error)
		CreateMonthlyAccount(ctx context.Context, a core.MonthlyAccount) error
		// UpdateRent only succeeds while the account is OPEN.
		UpdateRent(ctx context.Context, householdID string, month core.MonthKey, rent core.RentTerms) error
		// FinalizeMonthlyAccount moves an OPEN account to FINALIZED and
		// applies p, regularizations included, in one conditional write. It
		// fails with core.ErrAlreadyFinalized if another caller got there
		// first, leaving every charge untouched.
		FinalizeMonthlyAccount(ctx context.Context, householdID string, month core.MonthKey, p FinalizePatch) error
		// ListMonthlyAccounts returns accounts newest first.
		ListMonthlyAccounts(ctx context.Context, householdID string) ([]core.MonthlyAccount, error)
	}

	MemberStore interface {
		ListMembers(ctx context.Context, householdID string) ([]core.Member, error)
		UpsertMember(ctx context.Context, householdID string, m core.Member) error
	}

	// Ledger is the full persistence surface the services depend on.
	Ledger interface {
		ChargeStore
		TemplateStore
		AccountStore
		MemberStore
		Close() error
	}
)

// Error wraps a backend failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// MemberIDs extracts the ids of members in order.
func MemberIDs(members []core.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
