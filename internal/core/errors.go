package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyFinalized = errors.New("monthly account already finalized")
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
	ErrPartialFailure   = errors.New("partial failure")

	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyDescription     = errors.New("empty description")
	ErrDescriptionTooLong   = errors.New("description too long (max 200 characters)")
	ErrEmptyBeneficiaries   = errors.New("empty beneficiary set")
	ErrDuplicateBeneficiary = errors.New("duplicate beneficiary")
	ErrMissingPayer         = errors.New("missing payer")
	ErrUnknownMember        = errors.New("unknown member")
	ErrUnknownKind          = errors.New("unknown charge kind")
	ErrInvalidMonthKey      = errors.New("invalid month key")
	ErrInvalidTriggerDay    = errors.New("invalid trigger day")
	ErrSelfDebt             = errors.New("debtor and creditor are the same member")
	ErrImmutableCharge      = errors.New("charge cannot be edited")
)

// ValidationError is returned before any store call is made. It matches both
// ErrValidation and the wrapped field error.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TemplateFailure records why one recurring template could not be materialized.
type TemplateFailure struct {
	TemplateID  string
	Description string
	Err         error
}

// PartialFailure reports templates that failed while the others went through.
type PartialFailure struct {
	Failures []TemplateFailure
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", f.TemplateID, f.Description, f.Err))
	}
	return fmt.Sprintf("%d template(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *PartialFailure) Is(target error) bool {
	return target == ErrPartialFailure
}

func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
