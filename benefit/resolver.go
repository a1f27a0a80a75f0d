// Package benefit implements the eligibility resolver: for each active
// benefit bound to the customer's tier it evaluates a closed set of gating
// conditions (external asset state, single-use, daily cap). Results are
// computed fresh on every call and never cached, so a condition flipping
// false is reflected by the very next query.
package benefit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perkledger/calendar"
	"perkledger/models"
)

// ErrCatalogIntegrity marks a customer referencing catalog data that no
// longer exists.
var ErrCatalogIntegrity = errors.New("benefit: customer references missing catalog data")

// CatalogSource is the catalog read surface the resolver needs.
type CatalogSource interface {
	CustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	ActiveBenefitsForTier(ctx context.Context, tierID uuid.UUID) ([]models.Benefit, error)
}

// UsageSource is the ledger read surface for redemption history.
type UsageSource interface {
	HasRedemption(ctx context.Context, customerID, benefitID uuid.UUID) (bool, error)
	RedemptionsOnDay(ctx context.Context, customerID, benefitID uuid.UUID, day string) (int64, error)
}

// Resolver computes the redeemable benefit set for a customer.
type Resolver struct {
	catalog CatalogSource
	usage   UsageSource
	clock   *calendar.Clock
}

// NewResolver wires a resolver over the catalog and ledger.
func NewResolver(catalog CatalogSource, usage UsageSource, clock *calendar.Clock) *Resolver {
	return &Resolver{catalog: catalog, usage: usage, clock: clock}
}

// Eligible returns the benefits the customer may redeem right now, in
// deterministic order (benefit code ascending). A customer holding no tier
// has no candidates and gets an empty set, not an error.
func (r *Resolver) Eligible(ctx context.Context, customerID uuid.UUID) ([]models.Benefit, error) {
	customer, err := r.catalog.CustomerByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("resolve benefits: %w", err)
	}
	if customer.TierID == nil {
		return []models.Benefit{}, nil
	}
	if _, err := r.catalog.TierByID(ctx, *customer.TierID); err != nil {
		return nil, fmt.Errorf("%w: tier %s: %v", ErrCatalogIntegrity, customer.TierID, err)
	}

	candidates, err := r.catalog.ActiveBenefitsForTier(ctx, *customer.TierID)
	if err != nil {
		return nil, fmt.Errorf("resolve benefits: %w", err)
	}

	now := r.clock.Now()
	eligible := make([]models.Benefit, 0, len(candidates))
	for _, candidate := range candidates {
		ok, err := r.passes(ctx, customer, &candidate, now)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, candidate)
		}
	}
	return eligible, nil
}

// CheckRedeemable re-evaluates one benefit at redemption time, not trusting
// any earlier snapshot. It reports false both for "not currently eligible"
// and "not bound to the customer's tier"; callers surface a uniform
// rejection either way.
func (r *Resolver) CheckRedeemable(ctx context.Context, customerID, benefitID uuid.UUID) (bool, error) {
	eligible, err := r.Eligible(ctx, customerID)
	if err != nil {
		return false, err
	}
	for _, b := range eligible {
		if b.ID == benefitID {
			return true, nil
		}
	}
	return false, nil
}

// passes applies the closed condition set. Each condition is independent and
// all must hold.
func (r *Resolver) passes(ctx context.Context, customer *models.Customer, b *models.Benefit, now time.Time) (bool, error) {
	if ok := r.assetStateCondition(customer, b); !ok {
		return false, nil
	}
	ok, err := r.singleUseCondition(ctx, customer.ID, b)
	if err != nil || !ok {
		return ok, err
	}
	return r.dailyCapCondition(ctx, customer.ID, b, now)
}

// assetStateCondition: when the benefit is gated on an external state, at
// least one owned asset must currently report the trigger state.
func (r *Resolver) assetStateCondition(customer *models.Customer, b *models.Benefit) bool {
	if !b.RequiresState {
		return true
	}
	for _, asset := range customer.Assets {
		if asset.State == b.TriggerState {
			return true
		}
	}
	return false
}

// singleUseCondition: a single-use benefit is consumed by any prior
// redemption, on any date, counted or not.
func (r *Resolver) singleUseCondition(ctx context.Context, customerID uuid.UUID, b *models.Benefit) (bool, error) {
	if !b.SingleUse {
		return true, nil
	}
	used, err := r.usage.HasRedemption(ctx, customerID, b.ID)
	if err != nil {
		return false, fmt.Errorf("benefit %s single-use check: %w", b.Code, err)
	}
	return !used, nil
}

// dailyCapCondition: with MaxPerDay > 0, today's redemption count must stay
// below the cap. Zero means uncapped.
func (r *Resolver) dailyCapCondition(ctx context.Context, customerID uuid.UUID, b *models.Benefit, now time.Time) (bool, error) {
	if b.MaxPerDay <= 0 {
		return true, nil
	}
	n, err := r.usage.RedemptionsOnDay(ctx, customerID, b.ID, r.clock.DayKey(now))
	if err != nil {
		return false, fmt.Errorf("benefit %s daily cap check: %w", b.Code, err)
	}
	return n < int64(b.MaxPerDay), nil
}
