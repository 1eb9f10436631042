package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrofondo/subsidy-engine/api"
	"github.com/agrofondo/subsidy-engine/subsidy/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t      *testing.T
	server *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := api.NewHandler(store.NewMemory(), false)
	router := api.NewRouter(h, api.RouterOptions{EnableDevTools: true})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{t: t, server: srv}
}

// do performs a request as the given role and decodes the JSON body into out
// (when out is non-nil).
func (ts *testServer) do(method, path, role string, body any, out any) *http.Response {
	ts.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "7")
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// seedReference creates a campaign, a crop, and a rate through the admin API
// and returns the crop id.
func (ts *testServer) seedReference(t *testing.T) int64 {
	t.Helper()

	var campaign api.CampaignDTO
	resp := ts.do(http.MethodPost, "/api/campaigns", "ADMINISTRATOR", api.CreateCampaignRequest{
		Year:        2025,
		Description: "Campaign 2025",
		StartDate:   "2025-01-01",
		EndDate:     "2025-12-31",
	}, &campaign)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var crop api.CropDTO
	resp = ts.do(http.MethodPost, "/api/crops", "ADMINISTRATOR", api.CreateCropRequest{
		Code:        "WHT",
		Description: "Durum wheat",
	}, &crop)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	areaCap := "40"
	var rate api.UnitRateDTO
	resp = ts.do(http.MethodPost, "/api/rates", "ADMINISTRATOR", api.CreateUnitRateRequest{
		CampaignID:   campaign.ID,
		CropID:       crop.ID,
		AmountPerSqm: "3",
		AreaCapSqm:   &areaCap,
	}, &rate)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	return crop.ID
}

func (ts *testServer) createApplication(t *testing.T, cropID int64, area string) int64 {
	t.Helper()

	var app api.ApplicationDTO
	resp := ts.do(http.MethodPost, "/api/applications", "APPLICANT", api.CreateApplicationRequest{
		DossierID:    1001,
		CampaignYear: 2025,
		ParcelUses: []api.DeclareParcelUseInput{
			{ParcelID: 1, CropID: cropID, AreaSqm: area},
		},
	}, &app)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "DRAFT", app.State)
	return app.ID
}

// =============================================================================
// LIFECYCLE OVER HTTP
// =============================================================================

func TestLifecycle_FullApprovalFlow(t *testing.T) {
	// GIVEN: a draft application
	// WHEN: submit → review → approve
	// THEN: every transition returns 200 and the state advances

	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	base := fmt.Sprintf("/api/applications/%d", appID)

	var tr api.TransitionResponse
	resp := ts.do(http.MethodPost, base+"/submit", "APPLICANT", nil, &tr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SUBMITTED", tr.State)

	resp = ts.do(http.MethodPost, base+"/review", "REVIEWER", nil, &tr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UNDER_REVIEW", tr.State)

	resp = ts.do(http.MethodPost, base+"/approve", "REVIEWER", nil, &tr)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", tr.State)

	var detail struct {
		Application api.ApplicationDTO `json:"application"`
	}
	resp = ts.do(http.MethodGet, base, "REVIEWER", nil, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", detail.Application.State)
	assert.NotNil(t, detail.Application.ReviewerID)
}

func TestLifecycle_DoubleSubmitIsConflict(t *testing.T) {
	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	path := fmt.Sprintf("/api/applications/%d/submit", appID)
	resp := ts.do(http.MethodPost, path, "APPLICANT", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var errResp api.ErrorResponse
	resp = ts.do(http.MethodPost, path, "APPLICANT", nil, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, errResp.Error)
}

func TestLifecycle_RejectWithoutReasonIs400(t *testing.T) {
	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	base := fmt.Sprintf("/api/applications/%d", appID)
	ts.do(http.MethodPost, base+"/submit", "APPLICANT", nil, nil)
	ts.do(http.MethodPost, base+"/review", "REVIEWER", nil, nil)

	resp := ts.do(http.MethodPost, base+"/reject", "REVIEWER", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// With a reason the rejection lands and the note is recorded.
	resp = ts.do(http.MethodPost, base+"/reject?reason=missing+documents", "REVIEWER", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var notes []api.ReviewNoteDTO
	resp = ts.do(http.MethodGet, base+"/notes", "REVIEWER", nil, &notes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, notes, 1)
	assert.Equal(t, "REJECTED: missing documents", notes[0].Note)
}

func TestLifecycle_ApplicantCannotReview(t *testing.T) {
	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	base := fmt.Sprintf("/api/applications/%d", appID)
	ts.do(http.MethodPost, base+"/submit", "APPLICANT", nil, nil)

	resp := ts.do(http.MethodPost, base+"/review", "APPLICANT", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLifecycle_UnknownApplicationIs404(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/applications/9999/submit", "APPLICANT", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// CALCULATIONS OVER HTTP
// =============================================================================

func TestCalculation_ComputeAndFetch(t *testing.T) {
	// GIVEN: an application with area 100 against rate 3 (area cap 40)
	// WHEN: computing twice and fetching
	// THEN: total = 40×3 = 120 with the line flagged, and no duplicate rows

	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	path := fmt.Sprintf("/api/calculations/%d", appID)

	var calc api.CalculationResponse
	resp := ts.do(http.MethodPost, path, "REVIEWER", nil, &calc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, calc.Success)
	assert.InDelta(t, 120.0, calc.Data.Total, 0.0001)
	require.Len(t, calc.Data.Details, 1)
	assert.True(t, calc.Data.Details[0].CapApplied)
	assert.InDelta(t, 40.0, calc.Data.Details[0].EffectiveArea, 0.0001)

	resp = ts.do(http.MethodPost, path, "REVIEWER", nil, &calc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, calc.Data.Details, 1)

	var fetched api.CalculationResponse
	resp = ts.do(http.MethodGet, path, "APPLICANT", nil, &fetched)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 120.0, fetched.Data.Total, 0.0001)

	// The computed total is written back onto the application.
	var detail struct {
		Application api.ApplicationDTO `json:"application"`
	}
	ts.do(http.MethodGet, fmt.Sprintf("/api/applications/%d", appID), "APPLICANT", nil, &detail)
	require.NotNil(t, detail.Application.ComputedTotal)
	assert.InDelta(t, 120.0, *detail.Application.ComputedTotal, 0.0001)
}

func TestCalculation_NotComputedIs404(t *testing.T) {
	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	resp := ts.do(http.MethodGet, fmt.Sprintf("/api/calculations/%d", appID), "APPLICANT", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCalculation_NoDeclaredUsesIs400(t *testing.T) {
	ts := newTestServer(t)
	ts.seedReference(t)

	var app api.ApplicationDTO
	resp := ts.do(http.MethodPost, "/api/applications", "APPLICANT", api.CreateApplicationRequest{
		DossierID:    1002,
		CampaignYear: 2025,
	}, &app)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(http.MethodPost, fmt.Sprintf("/api/calculations/%d", app.ID), "REVIEWER", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCalculation_MissingRateIs404(t *testing.T) {
	// GIVEN: a campaign but no rate for the declared crop
	// WHEN: computing
	// THEN: 404 with the missing crop named in the error

	ts := newTestServer(t)
	ts.seedReference(t)
	appID := ts.createApplication(t, 424242, "10")

	var errResp api.ErrorResponse
	resp := ts.do(http.MethodPost, fmt.Sprintf("/api/calculations/%d", appID), "REVIEWER", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errResp.Error, "424242")
}

// =============================================================================
// REFERENCE DATA GUARDS
// =============================================================================

func TestReferenceData_WritesAreAdminOnly(t *testing.T) {
	ts := newTestServer(t)

	body := api.CreateCropRequest{Code: "MZE", Description: "Maize"}
	for _, role := range []string{"APPLICANT", "REVIEWER"} {
		resp := ts.do(http.MethodPost, "/api/crops", role, body, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "role %s", role)
	}

	resp := ts.do(http.MethodPost, "/api/crops", "ADMINISTRATOR", body, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Reads stay open to every role.
	var crops []api.CropDTO
	resp = ts.do(http.MethodGet, "/api/crops", "APPLICANT", nil, &crops)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, crops, 1)
}

func TestReferenceData_MissingRoleDefaultsToApplicant(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/campaigns", "", api.CreateCampaignRequest{
		Year: 2025, StartDate: "2025-01-01", EndDate: "2025-12-31",
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnitRates_DeleteAndReprice(t *testing.T) {
	// GIVEN: a computed application (area 100 against rate 3, area cap 40)
	// WHEN: an administrator retires the rate and installs an uncapped rate 2
	// THEN: recomputing prices against the new table; non-admins cannot delete

	ts := newTestServer(t)
	cropID := ts.seedReference(t)
	appID := ts.createApplication(t, cropID, "100")

	calcPath := fmt.Sprintf("/api/calculations/%d", appID)
	var calc api.CalculationResponse
	resp := ts.do(http.MethodPost, calcPath, "REVIEWER", nil, &calc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.InDelta(t, 120.0, calc.Data.Total, 0.0001)

	var rates []api.UnitRateDTO
	resp = ts.do(http.MethodGet, "/api/rates?campaign_id=1", "REVIEWER", nil, &rates)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rates, 1)

	ratePath := fmt.Sprintf("/api/rates/%d", rates[0].ID)
	resp = ts.do(http.MethodDelete, ratePath, "REVIEWER", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(http.MethodDelete, ratePath, "ADMINISTRATOR", nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(http.MethodPost, "/api/rates", "ADMINISTRATOR", api.CreateUnitRateRequest{
		CampaignID:   rates[0].CampaignID,
		CropID:       cropID,
		AmountPerSqm: "2",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(http.MethodPost, calcPath, "REVIEWER", nil, &calc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 200.0, calc.Data.Total, 0.0001)
	require.Len(t, calc.Data.Details, 1)
	assert.False(t, calc.Data.Details[0].CapApplied)
}

func TestCreateApplication_RejectsBadArea(t *testing.T) {
	ts := newTestServer(t)

	for _, area := range []string{"", "abc", "-5", "0"} {
		resp := ts.do(http.MethodPost, "/api/applications", "APPLICANT", api.CreateApplicationRequest{
			DossierID:    1,
			CampaignYear: 2025,
			ParcelUses: []api.DeclareParcelUseInput{
				{ParcelID: 1, CropID: 1, AreaSqm: area},
			},
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "area %q", area)
	}
}

// =============================================================================
// DEMO SEED
// =============================================================================

func TestSeedDemo_LoadsWorkingDataset(t *testing.T) {
	// GIVEN: an empty store
	// WHEN: seeding the demo dataset
	// THEN: both seeded applications compute without error

	ts := newTestServer(t)

	resp := ts.do(http.MethodPost, "/api/seed/demo", "ADMINISTRATOR", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var apps []api.ApplicationDTO
	resp = ts.do(http.MethodGet, "/api/applications", "REVIEWER", nil, &apps)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, apps, 2)

	for _, app := range apps {
		var calc api.CalculationResponse
		resp = ts.do(http.MethodPost, fmt.Sprintf("/api/calculations/%d", app.ID), "REVIEWER", nil, &calc)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Greater(t, calc.Data.Total, 0.0)
	}
}
