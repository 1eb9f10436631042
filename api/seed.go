/*
seed.go - Demo dataset loader for testing and demonstrations

PURPOSE:

	Populates the database with a realistic campaign, crop catalog, rate
	table, and a handful of applications in different lifecycle states.
	Useful for demos and manual API exploration.

WHAT IT CREATES:
 1. Campaign for the current year (active)
 2. Three crops: durum wheat, maize, vineyard
 3. Rate rules, one with an area cap and one with an amount cap
 4. A draft application with declared parcel-uses
 5. A submitted application ready for review

USAGE VIA API:

	POST /api/seed/demo

NOTE:

	Seeding resets the database first. Only mounted when dev tools are
	enabled.

SEE ALSO:
  - server.go: Route registration behind EnableDevTools
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

// SeedDemo resets the store and loads the demo dataset.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if store, ok := h.Store.(resetter); ok {
		if err := store.Reset(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
			return
		}
	}

	if err := h.loadDemoData(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Demo dataset loaded",
	})
}

func (h *Handler) loadDemoData(ctx context.Context) error {
	year := time.Now().Year()

	campaign := &subsidy.Campaign{
		Year:        year,
		Description: fmt.Sprintf("CAP direct payments %d", year),
		StartDate:   time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:      true,
	}
	if err := h.Store.CreateCampaign(ctx, campaign); err != nil {
		return err
	}

	wheat := &subsidy.Crop{Code: "WHT", Description: "Durum wheat", Active: true}
	maize := &subsidy.Crop{Code: "MZE", Description: "Maize", Active: true}
	vine := &subsidy.Crop{Code: "VIN", Description: "Vineyard", Active: true}
	for _, crop := range []*subsidy.Crop{wheat, maize, vine} {
		if err := h.Store.CreateCrop(ctx, crop); err != nil {
			return err
		}
	}

	// Wheat pays flat; maize carries an area cap; vineyard an amount cap.
	maizeAreaCap := decimal.NewFromInt(50_000)
	vineAmountCap := decimal.NewFromInt(12_000)
	rates := []*subsidy.UnitRate{
		{CampaignID: campaign.ID, CropID: wheat.ID, AmountPerSqm: decimal.RequireFromString("0.12")},
		{CampaignID: campaign.ID, CropID: maize.ID, AmountPerSqm: decimal.RequireFromString("0.09"), AreaCapSqm: &maizeAreaCap},
		{CampaignID: campaign.ID, CropID: vine.ID, AmountPerSqm: decimal.RequireFromString("0.35"), AmountCap: &vineAmountCap},
	}
	for _, rate := range rates {
		if err := h.Store.CreateUnitRate(ctx, rate); err != nil {
			return err
		}
	}

	// Draft application: mixed wheat and maize, the maize parcel exceeds the
	// area cap so its line will come back flagged.
	draft := &subsidy.Application{DossierID: 1001, CampaignYear: year, State: subsidy.StateDraft}
	if err := h.Store.CreateApplication(ctx, draft); err != nil {
		return err
	}
	draftUses := []subsidy.DeclaredParcelUse{
		{ApplicationID: draft.ID, ParcelID: 1, CropID: wheat.ID, AreaSqm: decimal.NewFromInt(30_000)},
		{ApplicationID: draft.ID, ParcelID: 2, CropID: maize.ID, AreaSqm: decimal.NewFromInt(80_000)},
	}
	for i := range draftUses {
		if err := h.Store.AddParcelUse(ctx, &draftUses[i]); err != nil {
			return err
		}
	}

	// Submitted application: a vineyard hitting the amount cap.
	submitted := &subsidy.Application{DossierID: 1002, CampaignYear: year, State: subsidy.StateDraft}
	if err := h.Store.CreateApplication(ctx, submitted); err != nil {
		return err
	}
	use := subsidy.DeclaredParcelUse{
		ApplicationID: submitted.ID, ParcelID: 7, CropID: vine.ID,
		AreaSqm: decimal.NewFromInt(60_000),
	}
	if err := h.Store.AddParcelUse(ctx, &use); err != nil {
		return err
	}
	if err := h.Lifecycle.Submit(ctx, submitted.ID, subsidy.Caller{ID: 1, Role: subsidy.RoleApplicant}); err != nil {
		return err
	}

	return nil
}
