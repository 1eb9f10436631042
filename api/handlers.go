/*
handlers.go - HTTP API handlers for the subsidy engine

PURPOSE:
  Exposes the lifecycle and calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Applications:
    GET    /api/applications                       List all applications
    POST   /api/applications                       Open a draft application
    GET    /api/applications/{id}                  Get application details
    GET    /api/applications/{id}/notes            Review notes
    POST   /api/applications/{id}/submit           Draft → Submitted
    POST   /api/applications/{id}/review           Submitted → UnderReview
    POST   /api/applications/{id}/approve          UnderReview → Approved
    POST   /api/applications/{id}/reject?reason=   UnderReview → Rejected

  Calculations:
    POST   /api/calculations/{applicationId}       Compute (idempotent)
    GET    /api/calculations/{applicationId}       Current result

  Reference data (administrator only):
    GET/POST /api/campaigns, /api/crops, /api/rates
    DELETE   /api/rates/{id}                       Retire a rate rule

  Demo:
    POST   /api/seed/demo                          Load demo dataset

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (lifecycle, calculator)
  4. Serialize response
  5. Map domain errors to status codes

ERROR HANDLING:
  The domain error taxonomy maps onto HTTP statuses in statusForError:
  - 400: validation errors (blank reason, no declared uses, bad input)
  - 403: capability failures
  - 404: absent application / campaign / rate / calculation
  - 409: invalid transitions, lost races
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Caller identity extraction
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      subsidy.Store
	Lifecycle  *subsidy.Lifecycle
	Calculator *subsidy.Calculator
}

// NewHandler wires the engine components over one store.
func NewHandler(store subsidy.Store, lenientDecisions bool) *Handler {
	lifecycle := subsidy.NewLifecycle(store, store)
	lifecycle.AllowDecisionFromAnyState = lenientDecisions

	return &Handler{
		Store:      store,
		Lifecycle:  lifecycle,
		Calculator: subsidy.NewCalculator(store),
	}
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

// ListApplications returns all applications, newest first.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.Store.ListApplications(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list applications", err)
		return
	}

	dtos := make([]ApplicationDTO, len(apps))
	for i := range apps {
		dtos[i] = toApplicationDTO(&apps[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateApplication opens a new draft application, optionally with its
// declared parcel-uses.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.DossierID <= 0 {
		writeError(w, http.StatusBadRequest, "dossier_id is required", nil)
		return
	}
	if req.CampaignYear <= 0 {
		writeError(w, http.StatusBadRequest, "campaign_year is required", nil)
		return
	}

	// Parse declared areas before writing anything.
	uses := make([]subsidy.DeclaredParcelUse, len(req.ParcelUses))
	for i, in := range req.ParcelUses {
		area, err := decimal.NewFromString(in.AreaSqm)
		if err != nil || !area.IsPositive() {
			writeError(w, http.StatusBadRequest, "area_sqm must be a positive decimal", err)
			return
		}
		uses[i] = subsidy.DeclaredParcelUse{
			ParcelID: subsidy.ParcelID(in.ParcelID),
			CropID:   subsidy.CropID(in.CropID),
			AreaSqm:  area,
		}
	}

	ctx := r.Context()
	app := &subsidy.Application{
		DossierID:    subsidy.DossierID(req.DossierID),
		CampaignYear: req.CampaignYear,
		State:        subsidy.StateDraft,
	}
	if err := h.Store.CreateApplication(ctx, app); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create application", err)
		return
	}

	for i := range uses {
		uses[i].ApplicationID = app.ID
		if err := h.Store.AddParcelUse(ctx, &uses[i]); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to declare parcel use", err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, toApplicationDTO(app))
}

// GetApplication returns one application with its declared parcel-uses.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	app, err := h.Store.GetApplication(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get application", err)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return
	}

	uses, err := h.Store.ListParcelUses(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load parcel uses", err)
		return
	}

	useDTOs := make([]ParcelUseDTO, len(uses))
	for i, u := range uses {
		useDTOs[i] = ParcelUseDTO{
			ID:       u.ID,
			ParcelID: int64(u.ParcelID),
			CropID:   int64(u.CropID),
			AreaSqm:  u.AreaSqm.InexactFloat64(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"application": toApplicationDTO(app),
		"parcel_uses": useDTOs,
	})
}

// ListReviewNotes returns the immutable review notes for an application.
func (h *Handler) ListReviewNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	notes, err := h.Store.ListReviewNotes(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load review notes", err)
		return
	}

	dtos := make([]ReviewNoteDTO, len(notes))
	for i, n := range notes {
		dtos[i] = ReviewNoteDTO{
			ID:         n.ID,
			ReviewerID: int64(n.ReviewerID),
			Note:       n.Note,
			CreatedAt:  n.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LIFECYCLE TRANSITION HANDLERS
// =============================================================================

// SubmitApplication moves a draft application to Submitted.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Application submitted", subsidy.StateSubmitted,
		func(id subsidy.ApplicationID, caller subsidy.Caller) error {
			return h.Lifecycle.Submit(r.Context(), id, caller)
		})
}

// StartReview moves a submitted application to UnderReview.
func (h *Handler) StartReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Review started", subsidy.StateUnderReview,
		func(id subsidy.ApplicationID, caller subsidy.Caller) error {
			return h.Lifecycle.StartReview(r.Context(), id, caller)
		})
}

// ApproveApplication moves an application under review to Approved.
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "Application approved", subsidy.StateApproved,
		func(id subsidy.ApplicationID, caller subsidy.Caller) error {
			return h.Lifecycle.Approve(r.Context(), id, caller)
		})
}

// RejectApplication moves an application under review to Rejected. The
// mandatory reason travels as a query parameter and is recorded as a note.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	h.transition(w, r, "Application rejected", subsidy.StateRejected,
		func(id subsidy.ApplicationID, caller subsidy.Caller) error {
			return h.Lifecycle.Reject(r.Context(), id, caller, reason)
		})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, message string, to subsidy.ApplicationState, op func(subsidy.ApplicationID, subsidy.Caller) error) {
	id, ok := applicationID(w, r)
	if !ok {
		return
	}

	if err := op(id, callerFrom(r.Context())); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TransitionResponse{
		Success: true,
		Message: message,
		State:   string(to),
	})
}

// =============================================================================
// CALCULATION HANDLERS
// =============================================================================

// ComputeCalculation runs the subsidy computation for an application and
// returns the persisted result. Safe to call repeatedly.
func (h *Handler) ComputeCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "applicationId")
	if !ok {
		return
	}

	result, err := h.Calculator.ComputeSubsidy(r.Context(), subsidy.ApplicationID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CalculationResponse{Success: true, Data: toCalculationDTO(result)})
}

// GetCalculation returns the current result for an application.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "applicationId")
	if !ok {
		return
	}

	result, err := h.Calculator.GetCalculation(r.Context(), subsidy.ApplicationID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CalculationResponse{Success: true, Data: toCalculationDTO(result)})
}

// =============================================================================
// REFERENCE DATA HANDLERS (administrator only)
// =============================================================================

// ListCampaigns returns all campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.Store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list campaigns", err)
		return
	}

	dtos := make([]CampaignDTO, len(campaigns))
	for i, c := range campaigns {
		dtos[i] = toCampaignDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCampaign creates a campaign.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	if !h.requireManage(w, r) {
		return
	}

	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Year <= 0 {
		writeError(w, http.StatusBadRequest, "year is required", nil)
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
		return
	}

	campaign := &subsidy.Campaign{
		Year:        req.Year,
		Description: req.Description,
		StartDate:   start,
		EndDate:     end,
		Active:      true,
	}
	if req.Active != nil {
		campaign.Active = *req.Active
	}

	if err := h.Store.CreateCampaign(r.Context(), campaign); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCampaignDTO(*campaign))
}

// ListCrops returns the crop catalog.
func (h *Handler) ListCrops(w http.ResponseWriter, r *http.Request) {
	crops, err := h.Store.ListCrops(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list crops", err)
		return
	}

	dtos := make([]CropDTO, len(crops))
	for i, c := range crops {
		dtos[i] = toCropDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCrop adds a crop to the catalog.
func (h *Handler) CreateCrop(w http.ResponseWriter, r *http.Request) {
	if !h.requireManage(w, r) {
		return
	}

	var req CreateCropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required", nil)
		return
	}

	crop := &subsidy.Crop{
		Code:        req.Code,
		Description: req.Description,
		Active:      true,
	}
	if req.Active != nil {
		crop.Active = *req.Active
	}

	if err := h.Store.CreateCrop(r.Context(), crop); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create crop", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCropDTO(*crop))
}

// ListUnitRates returns the rate rules for a campaign.
func (h *Handler) ListUnitRates(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.ParseInt(r.URL.Query().Get("campaign_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "campaign_id query parameter is required", err)
		return
	}

	rates, err := h.Store.ListUnitRates(r.Context(), subsidy.CampaignID(campaignID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list unit rates", err)
		return
	}

	dtos := make([]UnitRateDTO, len(rates))
	for i, rate := range rates {
		dtos[i] = toUnitRateDTO(rate)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnitRate creates a rate rule for a (campaign, crop) pair.
func (h *Handler) CreateUnitRate(w http.ResponseWriter, r *http.Request) {
	if !h.requireManage(w, r) {
		return
	}

	var req CreateUnitRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.AmountPerSqm)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount_per_sqm must be a non-negative decimal", err)
		return
	}

	rate := &subsidy.UnitRate{
		CampaignID:   subsidy.CampaignID(req.CampaignID),
		CropID:       subsidy.CropID(req.CropID),
		AmountPerSqm: amount,
	}
	if req.AreaCapSqm != nil {
		cap, err := decimal.NewFromString(*req.AreaCapSqm)
		if err != nil {
			writeError(w, http.StatusBadRequest, "area_cap_sqm must be a decimal", err)
			return
		}
		rate.AreaCapSqm = &cap
	}
	if req.AmountCap != nil {
		cap, err := decimal.NewFromString(*req.AmountCap)
		if err != nil {
			writeError(w, http.StatusBadRequest, "amount_cap must be a decimal", err)
			return
		}
		rate.AmountCap = &cap
	}

	if err := h.Store.CreateUnitRate(r.Context(), rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create unit rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitRateDTO(*rate))
}

// DeleteUnitRate retires a rate rule. The next recomputation re-prices
// against the remaining table; deletion itself is idempotent.
func (h *Handler) DeleteUnitRate(w http.ResponseWriter, r *http.Request) {
	if !h.requireManage(w, r) {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.Store.DeleteUnitRate(r.Context(), subsidy.RateID(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete unit rate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireManage gates reference-data writes on the manage capability.
func (h *Handler) requireManage(w http.ResponseWriter, r *http.Request) bool {
	caller := callerFrom(r.Context())
	if !caller.Role.Can(subsidy.CapManageReferenceData) {
		writeError(w, http.StatusForbidden, "Managing reference data requires the administrator role", nil)
		return false
	}
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

func applicationID(w http.ResponseWriter, r *http.Request) (subsidy.ApplicationID, bool) {
	id, ok := pathID(w, r, "id")
	return subsidy.ApplicationID(id), ok
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid identifier", err)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error(), nil)
}

func statusForError(err error) int {
	switch {
	case subsidy.IsNotFound(err):
		return http.StatusNotFound
	case subsidy.IsValidation(err):
		return http.StatusBadRequest
	case subsidy.IsForbidden(err):
		return http.StatusForbidden
	case subsidy.IsInvalidTransition(err), subsidy.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
