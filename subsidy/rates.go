// rates.go - Rate table resolution.
//
// RateTableResolver answers "what does crop X pay in campaign Y?" from the
// reference-data store. Pure read; the calculator memoizes results for the
// lifetime of one calculation call so a crop declared on many parcels is
// looked up once.
package subsidy

import (
	"context"
	"fmt"
)

// RateTableResolver resolves the applicable unit rate and caps for a
// (campaign, crop) pair.
type RateTableResolver struct {
	Rates RateStore
}

func NewRateTableResolver(rates RateStore) *RateTableResolver {
	return &RateTableResolver{Rates: rates}
}

// Resolve returns the unit rate for (campaignID, cropID), or a
// MissingRateError (kind NotFound) when the rate table has no entry.
func (r *RateTableResolver) Resolve(ctx context.Context, campaignID CampaignID, cropID CropID) (*UnitRate, error) {
	rate, err := r.Rates.GetUnitRate(ctx, campaignID, cropID)
	if err != nil {
		return nil, fmt.Errorf("resolve rate (campaign %d, crop %d): %w", campaignID, cropID, err)
	}
	if rate == nil {
		return nil, &MissingRateError{CampaignID: campaignID, CropID: cropID}
	}
	return rate, nil
}
