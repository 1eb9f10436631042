package subsidy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrofondo/subsidy-engine/subsidy"
	"github.com/agrofondo/subsidy-engine/subsidy/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	applicant = subsidy.Caller{ID: 10, Role: subsidy.RoleApplicant}
	reviewer  = subsidy.Caller{ID: 20, Role: subsidy.RoleReviewer}
	admin     = subsidy.Caller{ID: 30, Role: subsidy.RoleAdministrator}
)

func newLifecycleFixture(t *testing.T) (*subsidy.Lifecycle, *store.Memory, subsidy.ApplicationID) {
	t.Helper()
	m := store.NewMemory()
	app := &subsidy.Application{DossierID: 1, CampaignYear: 2025, State: subsidy.StateDraft}
	require.NoError(t, m.CreateApplication(context.Background(), app))
	return subsidy.NewLifecycle(m, m), m, app.ID
}

func mustState(t *testing.T, m *store.Memory, id subsidy.ApplicationID, want subsidy.ApplicationState) {
	t.Helper()
	app, err := m.GetApplication(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, want, app.State)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_DraftOnly(t *testing.T) {
	// GIVEN: a draft application
	// WHEN: submitting once, then again
	// THEN: the first succeeds and records the timestamp, the second is an
	//       invalid transition

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)

	require.NoError(t, lc.Submit(ctx, id, applicant))
	mustState(t, m, id, subsidy.StateSubmitted)

	app, err := m.GetApplication(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, app.SubmittedAt)

	err = lc.Submit(ctx, id, applicant)
	require.Error(t, err)
	assert.True(t, subsidy.IsInvalidTransition(err))

	var te *subsidy.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, subsidy.StateSubmitted, te.From)
}

func TestSubmit_UnknownApplication(t *testing.T) {
	lc, _, _ := newLifecycleFixture(t)

	err := lc.Submit(context.Background(), 9999, applicant)
	assert.ErrorIs(t, err, subsidy.ErrApplicationNotFound)
}

// =============================================================================
// START REVIEW
// =============================================================================

func TestStartReview_RequiresReviewCapability(t *testing.T) {
	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))

	err := lc.StartReview(ctx, id, applicant)
	require.Error(t, err)
	assert.True(t, subsidy.IsForbidden(err))
	mustState(t, m, id, subsidy.StateSubmitted)
}

func TestStartReview_RecordsReviewer(t *testing.T) {
	// GIVEN: a submitted application
	// WHEN: a reviewer starts the review
	// THEN: state, reviewer id, and timestamp are recorded

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))

	require.NoError(t, lc.StartReview(ctx, id, reviewer))
	mustState(t, m, id, subsidy.StateUnderReview)

	app, err := m.GetApplication(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, app.ReviewerID)
	assert.Equal(t, reviewer.ID, *app.ReviewerID)
	assert.NotNil(t, app.ReviewStartedAt)
}

func TestStartReview_FromDraft_Fails(t *testing.T) {
	lc, m, id := newLifecycleFixture(t)

	err := lc.StartReview(context.Background(), id, reviewer)
	require.Error(t, err)
	assert.True(t, subsidy.IsInvalidTransition(err))
	mustState(t, m, id, subsidy.StateDraft)
}

// =============================================================================
// DECISIONS
// =============================================================================

func TestApprove_StrictPolicy_RequiresUnderReview(t *testing.T) {
	// GIVEN: a submitted application and the default strict policy
	// WHEN: approving without starting review
	// THEN: invalid transition

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))

	err := lc.Approve(ctx, id, reviewer)
	require.Error(t, err)
	assert.True(t, subsidy.IsInvalidTransition(err))

	require.NoError(t, lc.StartReview(ctx, id, reviewer))
	require.NoError(t, lc.Approve(ctx, id, reviewer))
	mustState(t, m, id, subsidy.StateApproved)
}

func TestApprove_LenientPolicy_AcceptsAnyState(t *testing.T) {
	// GIVEN: the legacy lenient decision policy
	// WHEN: approving straight from Submitted
	// THEN: the decision lands

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	lc.AllowDecisionFromAnyState = true
	require.NoError(t, lc.Submit(ctx, id, applicant))

	require.NoError(t, lc.Approve(ctx, id, reviewer))
	mustState(t, m, id, subsidy.StateApproved)
}

func TestApprove_RequiresDecideCapability(t *testing.T) {
	ctx := context.Background()
	lc, _, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))
	require.NoError(t, lc.StartReview(ctx, id, reviewer))

	err := lc.Approve(ctx, id, applicant)
	require.Error(t, err)
	assert.True(t, subsidy.IsForbidden(err))

	var fe *subsidy.ForbiddenError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, subsidy.CapDecideApplication, fe.Capability)
}

func TestReject_RequiresReason(t *testing.T) {
	// GIVEN: an application under review
	// WHEN: rejecting with a blank reason
	// THEN: validation error and no transition

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))
	require.NoError(t, lc.StartReview(ctx, id, reviewer))

	for _, reason := range []string{"", "   ", "\t"} {
		err := lc.Reject(ctx, id, reviewer, reason)
		require.Error(t, err)
		assert.ErrorIs(t, err, subsidy.ErrReasonRequired)
		assert.True(t, subsidy.IsValidation(err))
	}
	mustState(t, m, id, subsidy.StateUnderReview)
}

func TestReject_AppendsReviewNote(t *testing.T) {
	// GIVEN: an application under review
	// WHEN: rejecting with a reason
	// THEN: state is Rejected and the note records reviewer and reason

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))
	require.NoError(t, lc.StartReview(ctx, id, reviewer))

	require.NoError(t, lc.Reject(ctx, id, reviewer, "incomplete parcel data"))
	mustState(t, m, id, subsidy.StateRejected)

	notes, err := m.ListReviewNotes(ctx, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "REJECTED: incomplete parcel data", notes[0].Note)
	assert.Equal(t, reviewer.ID, notes[0].ReviewerID)
}

// failingNoteStore wraps the memory store and refuses every note write.
type failingNoteStore struct {
	*store.Memory
}

func (f *failingNoteStore) AddReviewNote(context.Context, *subsidy.ReviewNote) error {
	return errors.New("notes table unavailable")
}

func TestReject_NoteWriteFailure_LeavesStateUndecided(t *testing.T) {
	// GIVEN: a note store that fails on write
	// WHEN: rejecting an application under review
	// THEN: the error surfaces and the application is NOT rejected; a
	//       rejection never lands without its reason on record

	ctx := context.Background()
	m := store.NewMemory()
	app := &subsidy.Application{DossierID: 1, CampaignYear: 2025, State: subsidy.StateDraft}
	require.NoError(t, m.CreateApplication(ctx, app))

	lc := subsidy.NewLifecycle(m, &failingNoteStore{Memory: m})
	require.NoError(t, lc.Submit(ctx, app.ID, applicant))
	require.NoError(t, lc.StartReview(ctx, app.ID, reviewer))

	err := lc.Reject(ctx, app.ID, reviewer, "incomplete parcel data")
	require.Error(t, err)
	mustState(t, m, app.ID, subsidy.StateUnderReview)

	notes, err := m.ListReviewNotes(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestDecisions_TerminalStatesAreFinal(t *testing.T) {
	// GIVEN: an approved application
	// WHEN: trying any further transition
	// THEN: every one is an invalid transition

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))
	require.NoError(t, lc.StartReview(ctx, id, reviewer))
	require.NoError(t, lc.Approve(ctx, id, admin))

	assert.True(t, subsidy.IsInvalidTransition(lc.Submit(ctx, id, applicant)))
	assert.True(t, subsidy.IsInvalidTransition(lc.StartReview(ctx, id, reviewer)))
	assert.True(t, subsidy.IsInvalidTransition(lc.Approve(ctx, id, reviewer)))
	assert.True(t, subsidy.IsInvalidTransition(lc.Reject(ctx, id, reviewer, "late")))
	mustState(t, m, id, subsidy.StateApproved)
}

func TestDecisions_RacingDeciders_ExactlyOneWins(t *testing.T) {
	// GIVEN: an application under review and two racing deciders
	// WHEN: approve and reject run concurrently
	// THEN: exactly one succeeds and the loser sees a transition/race error

	ctx := context.Background()
	lc, m, id := newLifecycleFixture(t)
	require.NoError(t, lc.Submit(ctx, id, applicant))
	require.NoError(t, lc.StartReview(ctx, id, reviewer))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = lc.Approve(ctx, id, reviewer) }()
	go func() { defer wg.Done(); errs[1] = lc.Reject(ctx, id, reviewer, "duplicate dossier") }()
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.True(t, subsidy.IsInvalidTransition(err) || subsidy.IsConflict(err),
				"loser got unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	app, err := m.GetApplication(ctx, id)
	require.NoError(t, err)
	assert.True(t, app.State.Terminal())
}

// =============================================================================
// ROLE TABLE
// =============================================================================

func TestRoleCapabilities(t *testing.T) {
	assert.True(t, subsidy.RoleApplicant.Can(subsidy.CapSubmitApplication))
	assert.False(t, subsidy.RoleApplicant.Can(subsidy.CapReviewApplication))
	assert.False(t, subsidy.RoleApplicant.Can(subsidy.CapDecideApplication))

	assert.True(t, subsidy.RoleReviewer.Can(subsidy.CapReviewApplication))
	assert.True(t, subsidy.RoleReviewer.Can(subsidy.CapDecideApplication))
	assert.False(t, subsidy.RoleReviewer.Can(subsidy.CapManageReferenceData))

	assert.True(t, subsidy.RoleAdministrator.Can(subsidy.CapManageReferenceData))

	// Unknown roles grant nothing.
	assert.False(t, subsidy.Role("INTRUDER").Can(subsidy.CapSubmitApplication))
}
