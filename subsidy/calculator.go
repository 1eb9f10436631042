/*
calculator.go - Subsidy contribution computation

PURPOSE:
  Orchestrates the deterministic computation of the total contribution owed
  for one application:

    1. Load application           → NotFound if absent
    2. Resolve active campaign    → NotFound if none is active for the year
    3. Load declared parcel-uses  → ValidationError if none
    4. Resolve rate per crop      → NotFound aborts the WHOLE computation
    5. Apply area cap, price, apply amount cap, flag capped lines
    6. Sum into a total
    7. Atomically replace the prior result and write the total back

  The operation is idempotent: unchanged inputs produce an identical result
  and never accumulate duplicate detail rows. A rate-table change re-prices
  every detail on the next run; no historical snapshot is kept.

CAP SEMANTICS:
  effectiveArea = min(declaredArea, areaCap)      when an area cap is set
  amount        = effectiveArea × rate, clamped to the amount cap
  capApplied    = amount < declaredArea × rate    (capped vs NAIVE product,
                  so an area-cap reduction flags the line too)

LIFECYCLE INDEPENDENCE:
  A calculation reads the application's campaign year but requires no
  particular lifecycle state. Reviewers recompute freely while a dossier is
  under review.

CONCURRENCY:
  Calls for the same application are serialized with a per-application lock;
  calls for different applications run concurrently. The store transaction
  guarantees no partial write is visible on failure.

SEE ALSO:
  - rates.go: Rate resolution
  - store.go: ReplaceCalculation atomicity contract
*/
package subsidy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Calculator computes and persists subsidy contributions.
type Calculator struct {
	Apps      ApplicationStore
	Uses      ParcelUseStore
	Campaigns CampaignStore
	Resolver  *RateTableResolver
	Calcs     CalculationStore

	locks appLocks
}

// NewCalculator wires a calculator over a single store.
func NewCalculator(store Store) *Calculator {
	return &Calculator{
		Apps:      store,
		Uses:      store,
		Campaigns: store,
		Resolver:  NewRateTableResolver(store),
		Calcs:     store,
	}
}

// ComputeSubsidy computes the total contribution for an application and
// persists it as the single authoritative result, replacing any prior one.
func (c *Calculator) ComputeSubsidy(ctx context.Context, appID ApplicationID) (*CalculationResult, error) {
	unlock := c.locks.lock(appID)
	defer unlock()

	app, err := c.Apps.GetApplication(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("load application %d: %w", appID, err)
	}
	if app == nil {
		return nil, ErrApplicationNotFound
	}

	campaign, err := c.Campaigns.GetCampaignByYear(ctx, app.CampaignYear)
	if err != nil {
		return nil, fmt.Errorf("resolve campaign %d: %w", app.CampaignYear, err)
	}
	if campaign == nil {
		return nil, fmt.Errorf("campaign year %d: %w", app.CampaignYear, ErrCampaignNotFound)
	}

	uses, err := c.Uses.ListParcelUses(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("load declared uses for application %d: %w", appID, err)
	}
	if len(uses) == 0 {
		return nil, ErrNoDeclaredUses
	}

	// Rates are memoized per call: a crop declared on ten parcels is
	// resolved once, and every line of one run prices against the same rate.
	rates := make(map[CropID]*UnitRate)
	details := make([]CalculationDetail, 0, len(uses))
	total := decimal.Zero

	for _, use := range uses {
		rate, ok := rates[use.CropID]
		if !ok {
			rate, err = c.Resolver.Resolve(ctx, campaign.ID, use.CropID)
			if err != nil {
				// Abort wholesale: a prior result stays untouched.
				return nil, err
			}
			rates[use.CropID] = rate
		}

		detail := priceParcelUse(use, rate)
		total = total.Add(detail.Amount)
		details = append(details, detail)
	}

	result := &CalculationResult{
		ApplicationID: appID,
		Total:         total,
		ComputedAt:    time.Now().UTC(),
		Details:       details,
	}

	if err := c.Calcs.ReplaceCalculation(ctx, result); err != nil {
		return nil, fmt.Errorf("persist calculation for application %d: %w", appID, err)
	}
	return result, nil
}

// GetCalculation returns the most recent result with its details.
func (c *Calculator) GetCalculation(ctx context.Context, appID ApplicationID) (*CalculationResult, error) {
	result, err := c.Calcs.GetCalculation(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("load calculation for application %d: %w", appID, err)
	}
	if result == nil {
		return nil, ErrCalculationNotFound
	}
	return result, nil
}

// priceParcelUse prices one declared use against its unit rate.
func priceParcelUse(use DeclaredParcelUse, rate *UnitRate) CalculationDetail {
	effectiveArea := use.AreaSqm
	if rate.AreaCapSqm != nil && effectiveArea.GreaterThan(*rate.AreaCapSqm) {
		effectiveArea = *rate.AreaCapSqm
	}

	amount := effectiveArea.Mul(rate.AmountPerSqm)
	if rate.AmountCap != nil && amount.GreaterThan(*rate.AmountCap) {
		amount = *rate.AmountCap
	}

	// Capped vs naive product: true whenever either cap reduced the line.
	naive := use.AreaSqm.Mul(rate.AmountPerSqm)

	return CalculationDetail{
		CropID:        use.CropID,
		DeclaredArea:  use.AreaSqm,
		EffectiveArea: effectiveArea,
		UnitRate:      rate.AmountPerSqm,
		Amount:        amount,
		CapApplied:    amount.LessThan(naive),
	}
}

// =============================================================================
// PER-APPLICATION LOCKS
// =============================================================================

// appLocks serializes calculations per application id. Entries are tiny and
// applications are finite, so locks are never evicted.
type appLocks struct {
	mu sync.Mutex
	m  map[ApplicationID]*sync.Mutex
}

func (a *appLocks) lock(id ApplicationID) (unlock func()) {
	a.mu.Lock()
	if a.m == nil {
		a.m = make(map[ApplicationID]*sync.Mutex)
	}
	l, ok := a.m[id]
	if !ok {
		l = &sync.Mutex{}
		a.m[id] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
