package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"perkledger/models"
)

// DecayCatalog is the extra catalog access decay needs on top of the
// evaluator's read surface.
type DecayCatalog interface {
	CatalogState
	NextLowerTier(ctx context.Context, rank int) (*models.Tier, error)
}

// Decay lowers an idle customer by one rank. It is the sole sanctioned
// rank-lowering path, invoked by the external periodic decay job, never by
// the evaluator. A customer whose last counted activity is within idleAfter,
// or who holds no tier, is left untouched. The bool reports whether a rank
// reduction was applied.
func Decay(ctx context.Context, catalog DecayCatalog, activity ActivitySource, customerID uuid.UUID, idleAfter time.Duration, now time.Time) (*models.Tier, bool, error) {
	customer, err := catalog.CustomerByID(ctx, customerID)
	if err != nil {
		return nil, false, fmt.Errorf("decay tier: %w", err)
	}
	if customer.TierID == nil {
		return nil, false, nil
	}
	current, err := catalog.TierByID(ctx, *customer.TierID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: tier %s: %v", ErrCatalogIntegrity, customer.TierID, err)
	}

	lastCounted, ok, err := activity.LastCountedAt(ctx, customerID)
	if err != nil {
		return nil, false, fmt.Errorf("decay tier: %w", err)
	}
	if ok && now.Sub(lastCounted) < idleAfter {
		return current, false, nil
	}

	lower, err := catalog.NextLowerTier(ctx, current.Rank)
	if err != nil {
		return nil, false, fmt.Errorf("decay tier: %w", err)
	}
	var lowerID *uuid.UUID
	if lower != nil {
		lowerID = &lower.ID
	}
	if err := catalog.SetCustomerTier(ctx, customerID, lowerID); err != nil {
		return nil, false, fmt.Errorf("decay tier: %w", err)
	}
	return lower, true, nil
}
