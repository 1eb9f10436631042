// Package store provides an in-memory subsidy.Store for tests and dev.
//
// The implementation mirrors the SQLite store's contracts exactly: integer
// IDs assigned on insert, compare-and-set state transitions, and an atomic
// ReplaceCalculation (everything happens under one mutex, so a failed
// replace leaves the prior result visible and intact).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agrofondo/subsidy-engine/subsidy"
)

// Memory is an in-memory implementation of subsidy.Store.
type Memory struct {
	mu sync.RWMutex

	applications map[subsidy.ApplicationID]subsidy.Application
	parcelUses   map[subsidy.ApplicationID][]subsidy.DeclaredParcelUse
	campaigns    []subsidy.Campaign
	crops        []subsidy.Crop
	rates        []subsidy.UnitRate
	notes        map[subsidy.ApplicationID][]subsidy.ReviewNote
	calculations map[subsidy.ApplicationID]subsidy.CalculationResult

	nextID int64
}

var _ subsidy.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		applications: make(map[subsidy.ApplicationID]subsidy.Application),
		parcelUses:   make(map[subsidy.ApplicationID][]subsidy.DeclaredParcelUse),
		notes:        make(map[subsidy.ApplicationID][]subsidy.ReviewNote),
		calculations: make(map[subsidy.ApplicationID]subsidy.CalculationResult),
	}
}

func (m *Memory) nextIDLocked() int64 {
	m.nextID++
	return m.nextID
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (m *Memory) CreateApplication(_ context.Context, app *subsidy.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app.ID = subsidy.ApplicationID(m.nextIDLocked())
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	m.applications[app.ID] = *app
	return nil
}

func (m *Memory) GetApplication(_ context.Context, id subsidy.ApplicationID) (*subsidy.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, ok := m.applications[id]
	if !ok {
		return nil, nil
	}
	return &app, nil
}

func (m *Memory) ListApplications(_ context.Context) ([]subsidy.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apps := make([]subsidy.Application, 0, len(m.applications))
	for _, app := range m.applications {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID > apps[j].ID })
	return apps, nil
}

func (m *Memory) CompareAndSwapState(_ context.Context, id subsidy.ApplicationID, from, to subsidy.ApplicationState, patch subsidy.StatePatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[id]
	if !ok || app.State != from {
		return false, nil
	}

	app.State = to
	if patch.SubmittedAt != nil {
		app.SubmittedAt = patch.SubmittedAt
	}
	if patch.ReviewerID != nil {
		app.ReviewerID = patch.ReviewerID
	}
	if patch.ReviewStartedAt != nil {
		app.ReviewStartedAt = patch.ReviewStartedAt
	}
	app.UpdatedAt = time.Now().UTC()
	m.applications[id] = app
	return true, nil
}

// =============================================================================
// DECLARED PARCEL-USES
// =============================================================================

func (m *Memory) AddParcelUse(_ context.Context, use *subsidy.DeclaredParcelUse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	use.ID = m.nextIDLocked()
	m.parcelUses[use.ApplicationID] = append(m.parcelUses[use.ApplicationID], *use)
	return nil
}

func (m *Memory) ListParcelUses(_ context.Context, appID subsidy.ApplicationID) ([]subsidy.DeclaredParcelUse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uses := make([]subsidy.DeclaredParcelUse, len(m.parcelUses[appID]))
	copy(uses, m.parcelUses[appID])
	return uses, nil
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) CreateCampaign(_ context.Context, c *subsidy.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = subsidy.CampaignID(m.nextIDLocked())
	m.campaigns = append(m.campaigns, *c)
	return nil
}

func (m *Memory) GetCampaignByYear(_ context.Context, year int) (*subsidy.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.campaigns {
		if c.Year == year && c.Active {
			campaign := c
			return &campaign, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListCampaigns(_ context.Context) ([]subsidy.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	campaigns := make([]subsidy.Campaign, len(m.campaigns))
	copy(campaigns, m.campaigns)
	return campaigns, nil
}

func (m *Memory) CreateCrop(_ context.Context, c *subsidy.Crop) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = subsidy.CropID(m.nextIDLocked())
	m.crops = append(m.crops, *c)
	return nil
}

func (m *Memory) ListCrops(_ context.Context) ([]subsidy.Crop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	crops := make([]subsidy.Crop, len(m.crops))
	copy(crops, m.crops)
	return crops, nil
}

func (m *Memory) CreateUnitRate(_ context.Context, r *subsidy.UnitRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = subsidy.RateID(m.nextIDLocked())
	m.rates = append(m.rates, *r)
	return nil
}

// GetUnitRate returns the first match, mirroring the data-quality assumption
// documented on subsidy.RateStore.
func (m *Memory) GetUnitRate(_ context.Context, campaignID subsidy.CampaignID, cropID subsidy.CropID) (*subsidy.UnitRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.rates {
		if r.CampaignID == campaignID && r.CropID == cropID {
			rate := r
			return &rate, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListUnitRates(_ context.Context, campaignID subsidy.CampaignID) ([]subsidy.UnitRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rates []subsidy.UnitRate
	for _, r := range m.rates {
		if r.CampaignID == campaignID {
			rates = append(rates, r)
		}
	}
	return rates, nil
}

// DeleteUnitRate removes a rate; deleting an absent rate is a no-op.
func (m *Memory) DeleteUnitRate(_ context.Context, id subsidy.RateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.rates {
		if r.ID == id {
			m.rates = append(m.rates[:i], m.rates[i+1:]...)
			return nil
		}
	}
	return nil
}

// =============================================================================
// REVIEW NOTES
// =============================================================================

func (m *Memory) AddReviewNote(_ context.Context, n *subsidy.ReviewNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n.ID = m.nextIDLocked()
	m.notes[n.ApplicationID] = append(m.notes[n.ApplicationID], *n)
	return nil
}

func (m *Memory) ListReviewNotes(_ context.Context, appID subsidy.ApplicationID) ([]subsidy.ReviewNote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	notes := make([]subsidy.ReviewNote, len(m.notes[appID]))
	copy(notes, m.notes[appID])
	return notes, nil
}

// =============================================================================
// CALCULATION LEDGER
// =============================================================================

// ReplaceCalculation upserts the result and wholesale-replaces its details,
// then writes the total back onto the application. Atomic under the store
// mutex.
func (m *Memory) ReplaceCalculation(_ context.Context, result *subsidy.CalculationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.calculations[result.ApplicationID]; ok {
		result.ID = prior.ID
	} else {
		result.ID = subsidy.CalculationID(m.nextIDLocked())
	}
	for i := range result.Details {
		result.Details[i].ID = m.nextIDLocked()
		result.Details[i].CalculationID = result.ID
	}

	stored := *result
	stored.Details = make([]subsidy.CalculationDetail, len(result.Details))
	copy(stored.Details, result.Details)
	m.calculations[result.ApplicationID] = stored

	if app, ok := m.applications[result.ApplicationID]; ok {
		total := result.Total
		app.ComputedTotal = &total
		app.UpdatedAt = time.Now().UTC()
		m.applications[result.ApplicationID] = app
	}
	return nil
}

// Reset clears all data (for testing/demo), mirroring the SQLite store.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applications = make(map[subsidy.ApplicationID]subsidy.Application)
	m.parcelUses = make(map[subsidy.ApplicationID][]subsidy.DeclaredParcelUse)
	m.notes = make(map[subsidy.ApplicationID][]subsidy.ReviewNote)
	m.calculations = make(map[subsidy.ApplicationID]subsidy.CalculationResult)
	m.campaigns = nil
	m.crops = nil
	m.rates = nil
	return nil
}

func (m *Memory) GetCalculation(_ context.Context, appID subsidy.ApplicationID) (*subsidy.CalculationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.calculations[appID]
	if !ok {
		return nil, nil
	}

	result := stored
	result.Details = make([]subsidy.CalculationDetail, len(stored.Details))
	copy(result.Details, stored.Details)
	return &result, nil
}
