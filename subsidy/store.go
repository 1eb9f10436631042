/*
store.go - Persistence contracts for the subsidy engine

PURPOSE:
  Defines the interface between the domain logic and the database. Components
  receive these narrow interfaces by injection, so tests substitute the
  in-memory implementation and production wires the SQLite one. The engine
  never touches a storage engine directly.

KEY INTERFACES:
  ApplicationStore: Application records + compare-and-set state transitions
  ParcelUseStore:   Declared parcel-uses (append + list; no updates)
  CampaignStore / CropStore / RateStore: Reference data
  ReviewNoteStore:  Immutable review notes
  CalculationStore: The calculation ledger (idempotent upsert)

CONCURRENCY CONTRACT:
  CompareAndSwapState is the serialization point for lifecycle transitions:
  two racing transitions from the same state see exactly one winner. The
  store reports swapped=false for the loser; it never lets both through.

ATOMICITY CONTRACT:
  ReplaceCalculation performs upsert-result + replace-details + write-back of
  the application total as a single atomic unit. On failure nothing is
  visible: a prior result survives a failed recomputation untouched.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (single transactional store)
  - subsidy/store/memory.go: In-memory for testing

SEE ALSO:
  - lifecycle.go: Uses ApplicationStore + ReviewNoteStore
  - calculator.go: Uses the rest
*/
package subsidy

import (
	"context"
	"time"
)

// =============================================================================
// APPLICATIONS
// =============================================================================

// StatePatch carries the fields a transition writes alongside the new state.
// Nil fields are left untouched.
type StatePatch struct {
	SubmittedAt     *time.Time
	ReviewerID      *UserID
	ReviewStartedAt *time.Time
}

// ApplicationStore persists application records.
//
// Lookups return (nil, nil) when the record is absent; the domain layer maps
// that to ErrApplicationNotFound so stores stay error-taxonomy agnostic.
type ApplicationStore interface {
	// CreateApplication inserts a new application and assigns its ID.
	CreateApplication(ctx context.Context, app *Application) error

	// GetApplication returns the application, or (nil, nil) if absent.
	GetApplication(ctx context.Context, id ApplicationID) (*Application, error)

	// ListApplications returns all applications, newest first.
	ListApplications(ctx context.Context) ([]Application, error)

	// CompareAndSwapState atomically moves the application from `from` to
	// `to`, applying patch fields. Returns swapped=false when the stored
	// state no longer equals `from` (the caller lost a race or read stale
	// state). It must never report success for both of two racing callers.
	CompareAndSwapState(ctx context.Context, id ApplicationID, from, to ApplicationState, patch StatePatch) (swapped bool, err error)
}

// ParcelUseStore persists declared parcel-uses. Declared uses are immutable:
// there is no update or delete.
type ParcelUseStore interface {
	AddParcelUse(ctx context.Context, use *DeclaredParcelUse) error

	// ListParcelUses returns the declared uses for an application in
	// insertion order. The order is stable so recomputation is deterministic.
	ListParcelUses(ctx context.Context, appID ApplicationID) ([]DeclaredParcelUse, error)
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *Campaign) error

	// GetCampaignByYear returns the ACTIVE campaign for a year, or
	// (nil, nil) when none is active. An inactive campaign for the same
	// year never shadows an active one. Campaigns are looked up by year,
	// never by id, when entering the calculator.
	GetCampaignByYear(ctx context.Context, year int) (*Campaign, error)

	ListCampaigns(ctx context.Context) ([]Campaign, error)
}

type CropStore interface {
	CreateCrop(ctx context.Context, c *Crop) error
	ListCrops(ctx context.Context) ([]Crop, error)
}

type RateStore interface {
	CreateUnitRate(ctx context.Context, r *UnitRate) error

	// GetUnitRate returns the rate for (campaign, crop), or (nil, nil) if
	// absent. If the store holds duplicates the first match wins; uniqueness
	// is a data-quality assumption, not enforced here.
	GetUnitRate(ctx context.Context, campaignID CampaignID, cropID CropID) (*UnitRate, error)

	ListUnitRates(ctx context.Context, campaignID CampaignID) ([]UnitRate, error)

	// DeleteUnitRate removes a rate rule. Deleting an absent rate is a
	// no-op. Persisted calculations keep their priced rows until the next
	// recomputation.
	DeleteUnitRate(ctx context.Context, id RateID) error
}

// =============================================================================
// REVIEW NOTES
// =============================================================================

// ReviewNoteStore is append-only.
type ReviewNoteStore interface {
	AddReviewNote(ctx context.Context, n *ReviewNote) error
	ListReviewNotes(ctx context.Context, appID ApplicationID) ([]ReviewNote, error)
}

// =============================================================================
// CALCULATION LEDGER
// =============================================================================

// CalculationStore is the persistence boundary for calculation results. It
// guarantees at most one result row per application.
type CalculationStore interface {
	// ReplaceCalculation upserts the result for result.ApplicationID: if one
	// exists its total is replaced and its detail rows wholesale-replaced,
	// otherwise both are inserted. The application's computed-total is
	// written back in the same atomic unit. Assigns result.ID and detail IDs.
	ReplaceCalculation(ctx context.Context, result *CalculationResult) error

	// GetCalculation returns the current result with details, or (nil, nil)
	// if no calculation has run for the application.
	GetCalculation(ctx context.Context, appID ApplicationID) (*CalculationResult, error)
}

// Store aggregates every persistence contract the engine needs. Both the
// SQLite store and the in-memory store implement it.
type Store interface {
	ApplicationStore
	ParcelUseStore
	CampaignStore
	CropStore
	RateStore
	ReviewNoteStore
	CalculationStore
}
