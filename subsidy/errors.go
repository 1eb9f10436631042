/*
errors.go - Centralized error types for the subsidy engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses; nothing is retried
  automatically and nothing is silently swallowed.

ERROR CATEGORIES:
  1. NotFound           - missing application, campaign, rate, calculation
  2. Validation         - business rule violations (no declared uses, ...)
  3. Forbidden          - caller lacks the capability for a transition
  4. InvalidTransition  - state machine guard failed
  5. Internal           - store/connectivity failures

USAGE:
  if errors.Is(err, subsidy.ErrRateNotFound) { ... }

  var missing *subsidy.MissingRateError
  if errors.As(err, &missing) { log.Print(missing.CropID) }

SEE ALSO:
  - lifecycle.go, calculator.go: Producers of these errors
  - api/handlers.go: Maps error kinds to HTTP statuses
*/
package subsidy

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrApplicationNotFound is returned when the referenced application
	// does not exist.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrCampaignNotFound is returned when no active campaign matches the
	// application's campaign year.
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrRateNotFound is returned when a declared crop has no unit rate in
	// the campaign's rate table. It aborts the whole calculation.
	ErrRateNotFound = errors.New("unit rate not found")

	// ErrCalculationNotFound is returned when no calculation has been run
	// for the application yet.
	ErrCalculationNotFound = errors.New("calculation not found")

	// ErrNoDeclaredUses is returned when an application has no declared
	// parcel-uses and therefore nothing to compute.
	ErrNoDeclaredUses = errors.New("no declared uses")

	// ErrReasonRequired is returned when a rejection carries no reason.
	ErrReasonRequired = errors.New("rejection reason required")

	// ErrForbidden is returned when the caller's role lacks the capability
	// for the requested transition.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition is returned when a state machine guard fails.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConcurrentModification is returned when a compare-and-set on the
	// stored state loses a race with another transition.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError reports a refused lifecycle transition.
type TransitionError struct {
	Op   string
	From ApplicationState
	To   ApplicationState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Op, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// MissingRateError reports the crop that blocked a calculation.
type MissingRateError struct {
	CampaignID CampaignID
	CropID     CropID
}

func (e *MissingRateError) Error() string {
	return fmt.Sprintf("rate missing for crop %d in campaign %d", e.CropID, e.CampaignID)
}

func (e *MissingRateError) Unwrap() error { return ErrRateNotFound }

// ForbiddenError reports the capability the caller was missing.
type ForbiddenError struct {
	Role       Role
	Capability Capability
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("role %s lacks capability %s", e.Role, e.Capability)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// ValidationError reports invalid input on record creation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// =============================================================================
// ERROR KIND HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound) ||
		errors.Is(err, ErrCampaignNotFound) ||
		errors.Is(err, ErrRateNotFound) ||
		errors.Is(err, ErrCalculationNotFound)
}

// IsValidation reports whether the error is due to invalid caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNoDeclaredUses) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.As(err, &ve)
}

// IsForbidden reports whether the caller lacked a capability.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvalidTransition reports whether a state machine guard failed.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsConflict reports whether the error is a lost concurrency race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
