/*
Package subsidy provides the core subsidy calculation and application
lifecycle engine.

PURPOSE:
  This package contains the domain types and algorithms for administering
  agricultural subsidy applications: the ordered state machine an application
  moves through from draft to decision, and the deterministic computation of
  the contribution owed from declared parcel-uses and campaign rate tables.

KEY CONCEPTS IN THIS FILE (types.go):
  - Application: One subsidy request tied to a campaign year
  - DeclaredParcelUse: A crop-to-parcel area declaration inside an application
  - Campaign / UnitRate: The yearly rate tables contributions are priced from
  - CalculationResult / CalculationDetail: The single authoritative outcome
  - Caller / Role / Capability: The already-authenticated actor identity

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for areas and money to avoid
     floating-point errors; floats only appear at the JSON boundary
  2. Type Safety: Strong integer ID types prevent mixing identifiers
  3. Capabilities: Transitions check capabilities, not role string equality,
     so new roles can be added without touching transition logic
  4. Idempotency: Recomputation replaces the prior result wholesale and never
     accumulates duplicate detail rows

SEE ALSO:
  - lifecycle.go: Guarded state transitions
  - calculator.go: Contribution computation
  - store.go: Persistence contracts
*/
package subsidy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// All persisted records are keyed by integer identifiers assigned by the
// store. Distinct types keep an ApplicationID from ever being passed where a
// CropID is expected.
type (
	ApplicationID int64
	DossierID     int64
	ParcelID      int64
	CropID        int64
	CampaignID    int64
	RateID        int64
	CalculationID int64
	UserID        int64
)

// =============================================================================
// LIFECYCLE STATES
// =============================================================================

type ApplicationState string

const (
	StateDraft       ApplicationState = "DRAFT"
	StateSubmitted   ApplicationState = "SUBMITTED"
	StateUnderReview ApplicationState = "UNDER_REVIEW"
	StateApproved    ApplicationState = "APPROVED"
	StateRejected    ApplicationState = "REJECTED"

	// StateDisbursed is a modeled terminal state. No operation currently
	// transitions into it; disbursement execution lives outside this engine.
	StateDisbursed ApplicationState = "DISBURSED"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s ApplicationState) Valid() bool {
	switch s {
	case StateDraft, StateSubmitted, StateUnderReview, StateApproved, StateRejected, StateDisbursed:
		return true
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s ApplicationState) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateDisbursed
}

// =============================================================================
// CALLER IDENTITY - attached by the boundary layer, never parsed here
// =============================================================================

type Role string

const (
	RoleApplicant     Role = "APPLICANT"
	RoleReviewer      Role = "REVIEWER"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Capability names a single permission. Transition guards check capabilities
// so adding a role means editing the table below, not the transition code.
type Capability string

const (
	CapSubmitApplication   Capability = "submit_application"
	CapReviewApplication   Capability = "review_application"
	CapDecideApplication   Capability = "decide_application"
	CapManageReferenceData Capability = "manage_reference_data"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleApplicant: {
		CapSubmitApplication: true,
	},
	RoleReviewer: {
		CapSubmitApplication: true,
		CapReviewApplication: true,
		CapDecideApplication: true,
	},
	RoleAdministrator: {
		CapSubmitApplication:   true,
		CapReviewApplication:   true,
		CapDecideApplication:   true,
		CapManageReferenceData: true,
	},
}

// Can reports whether the role grants the capability. Unknown roles grant
// nothing.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// Caller is the already-authenticated actor performing an operation.
type Caller struct {
	ID   UserID
	Role Role
}

// =============================================================================
// APPLICATION - one subsidy request
// =============================================================================

type Application struct {
	ID           ApplicationID
	DossierID    DossierID
	CampaignYear int
	State        ApplicationState

	// Set on submit.
	SubmittedAt *time.Time

	// Set on review start.
	ReviewerID      *UserID
	ReviewStartedAt *time.Time

	// Written back by the calculator; nil until a calculation has run.
	ComputedTotal *decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeclaredParcelUse is one declared crop assignment to a land parcel within
// an application. Immutable once created; an application needs at least one
// to be computable.
type DeclaredParcelUse struct {
	ID            int64
	ApplicationID ApplicationID
	ParcelID      ParcelID
	CropID        CropID
	AreaSqm       decimal.Decimal // declared area, must be > 0
}

// ReviewNote is an immutable note appended during review (e.g. the rejection
// reason).
type ReviewNote struct {
	ID            int64
	ApplicationID ApplicationID
	ReviewerID    UserID
	Note          string
	CreatedAt     time.Time
}

// =============================================================================
// REFERENCE DATA - campaigns, crops, rate tables
// =============================================================================

// Campaign is a yearly program scope. Rates are defined against a campaign;
// applications reference it by year, not by id.
type Campaign struct {
	ID          CampaignID
	Year        int
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Active      bool
}

// Crop is a catalog entry declared uses point at.
type Crop struct {
	ID          CropID
	Code        string
	Description string
	Active      bool
}

// UnitRate is a rate rule scoped to (campaign, crop): amount paid per m² of
// declared area, with optional caps. At most one rate per pair is assumed;
// the resolver takes the first match if the store holds duplicates.
type UnitRate struct {
	ID           RateID
	CampaignID   CampaignID
	CropID       CropID
	AmountPerSqm decimal.Decimal
	AreaCapSqm   *decimal.Decimal // nil = no area cap
	AmountCap    *decimal.Decimal // nil = no amount cap
}

// =============================================================================
// CALCULATION RESULT - the single authoritative outcome per application
// =============================================================================

// CalculationResult holds the current computed total and its line items.
// Created on first successful calculation, then updated in place. Never
// versioned; recomputation after a rate change re-prices every detail.
type CalculationResult struct {
	ID            CalculationID
	ApplicationID ApplicationID
	Total         decimal.Decimal
	ComputedAt    time.Time
	Details       []CalculationDetail
}

// CalculationDetail is one line item per declared parcel-use. CapApplied is
// true whenever a cap reduced the amount below declaredArea × rate (the
// capped-vs-naive comparison, so an area cap also sets it).
type CalculationDetail struct {
	ID            int64
	CalculationID CalculationID
	CropID        CropID
	DeclaredArea  decimal.Decimal
	EffectiveArea decimal.Decimal
	UnitRate      decimal.Decimal
	Amount        decimal.Decimal
	CapApplied    bool
}
