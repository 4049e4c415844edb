/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is against the sentinels; the structured
  types carry context and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Validation - payload fails local checks; never sent over the wire
  2. Not found  - account or catalog entry absent; degrade to fallbacks
  3. Auth       - collaborator rejected the caller; propagated unchanged
  4. Transient  - fetch/timeout failures; retry the whole cycle
  5. Ledger     - virtual-row deletes, period conflicts, superseded cycles

MESSAGE PRIORITY:
  UserMessage picks the most specific text available:
  field-level validation message > backend message > generic fallback.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when a payment payload fails local checks.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an account, catalog entry or payment is absent.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned when the collaborator rejects the caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransient is returned when a fetch fails or times out.
	ErrTransient = errors.New("transient failure")

	// ErrVirtualRow is returned when deleting a row with no backing record.
	ErrVirtualRow = errors.New("virtual row has no backing record")

	// ErrPeriodTaken is returned when a monthly fee already exists for the
	// account and period.
	ErrPeriodTaken = errors.New("period already has a recorded fee")

	// ErrSuperseded is returned when a newer cycle replaced an in-flight one.
	ErrSuperseded = errors.New("reconciliation cycle superseded")

	// ErrNoLedger is returned when no cycle has completed yet.
	ErrNoLedger = errors.New("no ledger available")
)

// genericFailureMessage is the last-resort text shown for failed mutations.
const genericFailureMessage = "the payment operation could not be completed"

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending payload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError describes a missing resource.
type NotFoundError struct {
	Kind string // "account", "payment", "catalog:type", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthError wraps an authorization failure reported by the collaborator.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return ErrUnauthorized.Error()
	}
	return fmt.Sprintf("%v: %v", ErrUnauthorized, e.Err)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnauthorized}
	}
	return []error{ErrUnauthorized, e.Err}
}

// TransientError wraps a network or timeout failure during a fetch.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransient}
	}
	return []error{ErrTransient, e.Err}
}

// BackendError carries a message produced by the payment backend.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("backend error (status %d)", e.Status)
}

func (e *BackendError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-running the cycle might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrSuperseded) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrVirtualRow) ||
		errors.Is(err, ErrPeriodTaken)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserMessage returns the most specific message available for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var be *BackendError
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	switch {
	case errors.Is(err, ErrVirtualRow):
		return "an overdue month without a recorded payment cannot be deleted"
	case errors.Is(err, ErrPeriodTaken):
		return "a monthly fee is already recorded for that month"
	}
	return genericFailureMessage
}
