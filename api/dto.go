/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND AREAS:
  Internally everything is decimal.Decimal; DTOs expose float64 because the
  JSON boundary is where precision stops mattering for display. Conversions
  are one-way (decimal → float); requests carrying amounts are parsed from
  strings into decimals.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - subsidy/types.go: Domain types these project from
*/
package api

import (
	"time"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

// =============================================================================
// APPLICATIONS
// =============================================================================

// ApplicationDTO represents an application in API responses.
type ApplicationDTO struct {
	ID              int64    `json:"id"`
	DossierID       int64    `json:"dossier_id"`
	CampaignYear    int      `json:"campaign_year"`
	State           string   `json:"state"`
	SubmittedAt     *string  `json:"submitted_at,omitempty"`
	ReviewerID      *int64   `json:"reviewer_id,omitempty"`
	ReviewStartedAt *string  `json:"review_started_at,omitempty"`
	ComputedTotal   *float64 `json:"computed_total,omitempty"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// CreateApplicationRequest is the request to open a new draft application.
type CreateApplicationRequest struct {
	DossierID    int64                   `json:"dossier_id"`
	CampaignYear int                     `json:"campaign_year"`
	ParcelUses   []DeclareParcelUseInput `json:"parcel_uses,omitempty"`
}

// DeclareParcelUseInput declares one crop on one parcel. Area arrives as a
// string and is parsed into a decimal; floats never enter the domain.
type DeclareParcelUseInput struct {
	ParcelID int64  `json:"parcel_id"`
	CropID   int64  `json:"crop_id"`
	AreaSqm  string `json:"area_sqm"`
}

// ParcelUseDTO represents a declared parcel-use in responses.
type ParcelUseDTO struct {
	ID       int64   `json:"id"`
	ParcelID int64   `json:"parcel_id"`
	CropID   int64   `json:"crop_id"`
	AreaSqm  float64 `json:"area_sqm"`
}

// TransitionResponse is returned by every lifecycle transition endpoint.
type TransitionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	State   string `json:"state,omitempty"`
}

// ReviewNoteDTO represents an immutable review note.
type ReviewNoteDTO struct {
	ID         int64  `json:"id"`
	ReviewerID int64  `json:"reviewer_id"`
	Note       string `json:"note"`
	CreatedAt  string `json:"created_at"`
}

// =============================================================================
// CALCULATIONS
// =============================================================================

// CalculationResponse is the envelope both calculation endpoints return.
// Field names here are camelCase, matching the clients of the calculation
// service; the rest of the API uses snake_case.
type CalculationResponse struct {
	Success bool           `json:"success"`
	Data    CalculationDTO `json:"data"`
}

// CalculationDTO represents the single authoritative calculation result.
type CalculationDTO struct {
	CalculationID int64                  `json:"calculationId"`
	ApplicationID int64                  `json:"applicationId"`
	Total         float64                `json:"total"`
	ComputedAt    string                 `json:"computedAt"`
	Details       []CalculationDetailDTO `json:"details"`
}

// CalculationDetailDTO is one priced line item.
type CalculationDetailDTO struct {
	CropID        int64   `json:"cropId"`
	DeclaredArea  float64 `json:"declaredArea"`
	EffectiveArea float64 `json:"effectiveArea"`
	UnitRate      float64 `json:"unitRate"`
	Amount        float64 `json:"amount"`
	CapApplied    bool    `json:"capApplied"`
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// CampaignDTO represents a campaign in API responses.
type CampaignDTO struct {
	ID          int64  `json:"id"`
	Year        int    `json:"year"`
	Description string `json:"description"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Active      bool   `json:"active"`
}

// CreateCampaignRequest is the request to create a campaign.
type CreateCampaignRequest struct {
	Year        int    `json:"year"`
	Description string `json:"description"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Active      *bool  `json:"active,omitempty"`
}

// CropDTO represents a crop catalog entry.
type CropDTO struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// CreateCropRequest is the request to add a crop to the catalog.
type CreateCropRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Active      *bool  `json:"active,omitempty"`
}

// UnitRateDTO represents a rate rule.
type UnitRateDTO struct {
	ID           int64    `json:"id"`
	CampaignID   int64    `json:"campaign_id"`
	CropID       int64    `json:"crop_id"`
	AmountPerSqm float64  `json:"amount_per_sqm"`
	AreaCapSqm   *float64 `json:"area_cap_sqm,omitempty"`
	AmountCap    *float64 `json:"amount_cap,omitempty"`
}

// CreateUnitRateRequest is the request to create a rate rule. Amounts arrive
// as strings and are parsed into decimals.
type CreateUnitRateRequest struct {
	CampaignID   int64   `json:"campaign_id"`
	CropID       int64   `json:"crop_id"`
	AmountPerSqm string  `json:"amount_per_sqm"`
	AreaCapSqm   *string `json:"area_cap_sqm,omitempty"`
	AmountCap    *string `json:"amount_cap,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// PROJECTIONS
// =============================================================================

func toApplicationDTO(app *subsidy.Application) ApplicationDTO {
	dto := ApplicationDTO{
		ID:           int64(app.ID),
		DossierID:    int64(app.DossierID),
		CampaignYear: app.CampaignYear,
		State:        string(app.State),
		CreatedAt:    app.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    app.UpdatedAt.Format(time.RFC3339),
	}
	if app.SubmittedAt != nil {
		s := app.SubmittedAt.Format(time.RFC3339)
		dto.SubmittedAt = &s
	}
	if app.ReviewerID != nil {
		id := int64(*app.ReviewerID)
		dto.ReviewerID = &id
	}
	if app.ReviewStartedAt != nil {
		s := app.ReviewStartedAt.Format(time.RFC3339)
		dto.ReviewStartedAt = &s
	}
	if app.ComputedTotal != nil {
		t := app.ComputedTotal.InexactFloat64()
		dto.ComputedTotal = &t
	}
	return dto
}

func toCalculationDTO(result *subsidy.CalculationResult) CalculationDTO {
	dto := CalculationDTO{
		CalculationID: int64(result.ID),
		ApplicationID: int64(result.ApplicationID),
		Total:         result.Total.InexactFloat64(),
		ComputedAt:    result.ComputedAt.Format(time.RFC3339),
		Details:       make([]CalculationDetailDTO, len(result.Details)),
	}
	for i, d := range result.Details {
		dto.Details[i] = CalculationDetailDTO{
			CropID:        int64(d.CropID),
			DeclaredArea:  d.DeclaredArea.InexactFloat64(),
			EffectiveArea: d.EffectiveArea.InexactFloat64(),
			UnitRate:      d.UnitRate.InexactFloat64(),
			Amount:        d.Amount.InexactFloat64(),
			CapApplied:    d.CapApplied,
		}
	}
	return dto
}

func toCampaignDTO(c subsidy.Campaign) CampaignDTO {
	return CampaignDTO{
		ID:          int64(c.ID),
		Year:        c.Year,
		Description: c.Description,
		StartDate:   c.StartDate.Format("2006-01-02"),
		EndDate:     c.EndDate.Format("2006-01-02"),
		Active:      c.Active,
	}
}

func toCropDTO(c subsidy.Crop) CropDTO {
	return CropDTO{
		ID:          int64(c.ID),
		Code:        c.Code,
		Description: c.Description,
		Active:      c.Active,
	}
}

func toUnitRateDTO(r subsidy.UnitRate) UnitRateDTO {
	dto := UnitRateDTO{
		ID:           int64(r.ID),
		CampaignID:   int64(r.CampaignID),
		CropID:       int64(r.CropID),
		AmountPerSqm: r.AmountPerSqm.InexactFloat64(),
	}
	if r.AreaCapSqm != nil {
		v := r.AreaCapSqm.InexactFloat64()
		dto.AreaCapSqm = &v
	}
	if r.AmountCap != nil {
		v := r.AmountCap.InexactFloat64()
		dto.AmountCap = &v
	}
	return dto
}
