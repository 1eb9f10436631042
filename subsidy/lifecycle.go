/*
lifecycle.go - Application lifecycle state machine

PURPOSE:
  Guarded, role-aware transitions over a single application record:

    Draft ──Submit──▶ Submitted ──StartReview──▶ UnderReview ──┬─▶ Approved
                                                               └─▶ Rejected

  Disbursed is modeled as a terminal state but no operation transitions into
  it; disbursement is executed outside this engine.

GUARDS:
  - Submit:      Draft only. No capability gate beyond ownership, which the
                 boundary layer enforces before the call reaches this engine.
  - StartReview: Submitted only; requires the review capability.
  - Approve /
    Reject:      Require the decide capability. The reference system allowed
                 deciding from ANY state, which is almost certainly a policy
                 gap. The default here is the stricter UnderReview-only rule;
                 set AllowDecisionFromAnyState to reproduce the legacy
                 behavior. This deviation is deliberate and documented.

CONCURRENCY:
  Every transition is a compare-and-set on the stored state. Two racing
  transitions from the same state see exactly one winner; the loser gets
  InvalidTransition (or ErrConcurrentModification if the race is unresolvable
  from a re-read). No transition is reversible, none is batched.

SEE ALSO:
  - store.go: CompareAndSwapState contract
  - errors.go: TransitionError, ForbiddenError
*/
package subsidy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Lifecycle exposes the guarded transition operations.
type Lifecycle struct {
	Apps  ApplicationStore
	Notes ReviewNoteStore

	// AllowDecisionFromAnyState reproduces the legacy behavior of accepting
	// Approve/Reject regardless of the current state. Off by default:
	// decisions require UnderReview.
	AllowDecisionFromAnyState bool
}

// NewLifecycle returns a lifecycle with the strict decision policy.
func NewLifecycle(apps ApplicationStore, notes ReviewNoteStore) *Lifecycle {
	return &Lifecycle{Apps: apps, Notes: notes}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Submit moves a Draft application to Submitted and records the submission
// time. Ownership is checked by the access layer before this call.
func (l *Lifecycle) Submit(ctx context.Context, id ApplicationID, caller Caller) error {
	app, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if app.State != StateDraft {
		return &TransitionError{Op: "submit", From: app.State, To: StateSubmitted}
	}

	now := time.Now().UTC()
	return l.swap(ctx, "submit", id, StateDraft, StateSubmitted, StatePatch{
		SubmittedAt: &now,
	})
}

// StartReview moves a Submitted application to UnderReview and records the
// reviewer identity and timestamp.
func (l *Lifecycle) StartReview(ctx context.Context, id ApplicationID, caller Caller) error {
	if !caller.Role.Can(CapReviewApplication) {
		return &ForbiddenError{Role: caller.Role, Capability: CapReviewApplication}
	}

	app, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if app.State != StateSubmitted {
		return &TransitionError{Op: "start review", From: app.State, To: StateUnderReview}
	}

	now := time.Now().UTC()
	reviewer := caller.ID
	return l.swap(ctx, "start review", id, StateSubmitted, StateUnderReview, StatePatch{
		ReviewerID:      &reviewer,
		ReviewStartedAt: &now,
	})
}

// Approve moves an application to Approved.
func (l *Lifecycle) Approve(ctx context.Context, id ApplicationID, caller Caller) error {
	if !caller.Role.Can(CapDecideApplication) {
		return &ForbiddenError{Role: caller.Role, Capability: CapDecideApplication}
	}

	from, err := l.decisionSource(ctx, id, "approve", StateApproved)
	if err != nil {
		return err
	}
	return l.swap(ctx, "approve", id, from, StateApproved, StatePatch{})
}

// Reject moves an application to Rejected and appends an immutable review
// note recording the reason and the reviewer. The reason is mandatory.
//
// The note is written BEFORE the state swap: a rejected application must
// never exist without its reason on record. If the swap then fails, the
// dangling note on a still-undecided application is harmless; notes are
// append-only and carry their reviewer.
func (l *Lifecycle) Reject(ctx context.Context, id ApplicationID, caller Caller, reason string) error {
	if !caller.Role.Can(CapDecideApplication) {
		return &ForbiddenError{Role: caller.Role, Capability: CapDecideApplication}
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	from, err := l.decisionSource(ctx, id, "reject", StateRejected)
	if err != nil {
		return err
	}

	note := &ReviewNote{
		ApplicationID: id,
		ReviewerID:    caller.ID,
		Note:          "REJECTED: " + reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := l.Notes.AddReviewNote(ctx, note); err != nil {
		return fmt.Errorf("record rejection reason for application %d: %w", id, err)
	}

	return l.swap(ctx, "reject", id, from, StateRejected, StatePatch{})
}

// =============================================================================
// INTERNALS
// =============================================================================

func (l *Lifecycle) load(ctx context.Context, id ApplicationID) (*Application, error) {
	app, err := l.Apps.GetApplication(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load application %d: %w", id, err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}
	return app, nil
}

// decisionSource determines which source state an Approve/Reject swaps from.
// Strict policy: UnderReview only. Lenient policy: whatever state the
// application is observed in (the CAS still serializes racing deciders).
func (l *Lifecycle) decisionSource(ctx context.Context, id ApplicationID, op string, to ApplicationState) (ApplicationState, error) {
	app, err := l.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !l.AllowDecisionFromAnyState && app.State != StateUnderReview {
		return "", &TransitionError{Op: op, From: app.State, To: to}
	}
	return app.State, nil
}

// swap runs the compare-and-set and resolves a lost race into the error the
// caller would have gotten reading the winner's state.
func (l *Lifecycle) swap(ctx context.Context, op string, id ApplicationID, from, to ApplicationState, patch StatePatch) error {
	swapped, err := l.Apps.CompareAndSwapState(ctx, id, from, to, patch)
	if err != nil {
		return fmt.Errorf("%s application %d: %w", op, id, err)
	}
	if swapped {
		return nil
	}

	// Lost the race: report the state the winner left behind.
	app, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if app.State == from {
		return ErrConcurrentModification
	}
	return &TransitionError{Op: op, From: app.State, To: to}
}
