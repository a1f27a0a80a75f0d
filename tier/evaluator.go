// Package tier implements the rolling-window tier evaluator. The evaluator
// only ever raises a customer's rank; lowering is reserved for the
// explicitly-triggered inactivity decay in this package's Decay helper.
package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perkledger/calendar"
	"perkledger/models"
)

// DefaultWeightedOrderMultiplier is the visit-equivalents one weighted order
// contributes to the rolling-window sum.
const DefaultWeightedOrderMultiplier = 3

// ErrCatalogIntegrity marks a customer referencing a tier that no longer
// exists. This is a catalog-management fault and aborts the evaluation
// instead of being silently ignored.
var ErrCatalogIntegrity = errors.New("tier: customer references missing catalog data")

// CatalogState is the catalog access the evaluator needs.
type CatalogState interface {
	CustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error)
	TiersByRankDesc(ctx context.Context) ([]models.Tier, error)
	SetCustomerTier(ctx context.Context, customerID uuid.UUID, tierID *uuid.UUID) error
}

// ActivitySource is the ledger aggregation surface the evaluator reads.
type ActivitySource interface {
	CountedVisitsSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error)
	WeightedOrdersSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error)
	DistinctLocationsSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error)
	LastCountedAt(ctx context.Context, customerID uuid.UUID) (time.Time, bool, error)
}

// Evaluator aggregates counted ledger activity over each tier's rolling
// window and promotes the customer to the highest tier they qualify for.
type Evaluator struct {
	catalog    CatalogState
	activity   ActivitySource
	clock      *calendar.Clock
	multiplier int64
}

// NewEvaluator constructs an evaluator. A non-positive multiplier falls back
// to the default.
func NewEvaluator(catalog CatalogState, activity ActivitySource, clock *calendar.Clock, multiplier int) *Evaluator {
	if multiplier <= 0 {
		multiplier = DefaultWeightedOrderMultiplier
	}
	return &Evaluator{catalog: catalog, activity: activity, clock: clock, multiplier: int64(multiplier)}
}

// Result reports one evaluation outcome.
type Result struct {
	Tier     *models.Tier
	Promoted bool
}

// Evaluate recomputes the customer's qualifying tier. It returns the tier
// now held (nil when the customer holds none) and whether this invocation
// promoted them. The customer's rank never decreases here.
func (e *Evaluator) Evaluate(ctx context.Context, customerID uuid.UUID) (Result, error) {
	customer, err := e.catalog.CustomerByID(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate tier: %w", err)
	}

	var current *models.Tier
	if customer.TierID != nil {
		current, err = e.catalog.TierByID(ctx, *customer.TierID)
		if err != nil {
			return Result{}, fmt.Errorf("%w: tier %s: %v", ErrCatalogIntegrity, customer.TierID, err)
		}
	}

	tiers, err := e.catalog.TiersByRankDesc(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate tier: %w", err)
	}

	var qualifying *models.Tier
	for i := range tiers {
		candidate := &tiers[i]
		ok, err := e.qualifies(ctx, customerID, candidate)
		if err != nil {
			return Result{}, err
		}
		if ok {
			qualifying = candidate
			break
		}
	}

	if qualifying == nil || (current != nil && qualifying.Rank <= current.Rank) {
		return Result{Tier: current, Promoted: false}, nil
	}

	if err := e.catalog.SetCustomerTier(ctx, customerID, &qualifying.ID); err != nil {
		return Result{}, fmt.Errorf("promote customer: %w", err)
	}
	return Result{Tier: qualifying, Promoted: true}, nil
}

func (e *Evaluator) qualifies(ctx context.Context, customerID uuid.UUID, candidate *models.Tier) (bool, error) {
	windowStart := e.clock.DaysAgo(candidate.WindowDays)

	visits, err := e.activity.CountedVisitsSince(ctx, customerID, windowStart)
	if err != nil {
		return false, fmt.Errorf("tier %s visits: %w", candidate.Code, err)
	}
	weighted, err := e.activity.WeightedOrdersSince(ctx, customerID, windowStart)
	if err != nil {
		return false, fmt.Errorf("tier %s weighted orders: %w", candidate.Code, err)
	}
	visitSum := visits + e.multiplier*weighted
	if visitSum < int64(candidate.MinVisits) {
		return false, nil
	}

	locations, err := e.activity.DistinctLocationsSince(ctx, customerID, windowStart)
	if err != nil {
		return false, fmt.Errorf("tier %s locations: %w", candidate.Code, err)
	}
	crossUses := locations - 1
	if crossUses < 0 {
		crossUses = 0
	}
	return crossUses >= int64(candidate.MinCrossUses), nil
}
