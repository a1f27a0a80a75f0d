// Package ledger owns the append-only event ledger and the daily dedup gate.
// Every scan and redemption flows through Record; the single sanctioned
// mutation of an existing entry is RevokeMostRecentCounted, used by the
// external event-cancellation penalty process.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perkledger/calendar"
	"perkledger/models"
)

// ErrLocationRequired is returned when a visit or redemption is recorded
// without a location.
var ErrLocationRequired = errors.New("ledger: visit events require a location")

// Store persists and aggregates ledger entries. All business-day boundaries
// are resolved through the injected calendar clock, never host-local time.
type Store struct {
	db    *gorm.DB
	clock *calendar.Clock
}

// NewStore wires a ledger store over the shared database handle.
func NewStore(db *gorm.DB, clock *calendar.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// WithTx returns a store bound to an open transaction. Used by redemption to
// run the freshness re-check and the insert as one unit.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, clock: s.clock}
}

// Clock exposes the business calendar the store operates on.
func (s *Store) Clock() *calendar.Clock {
	return s.clock
}

// RecordInput describes one event to append.
type RecordInput struct {
	CustomerID    uuid.UUID
	LocationID    *uuid.UUID
	Kind          models.EntryKind
	BenefitID     *uuid.UUID
	StateSnapshot string
}

// Record appends one ledger entry, applying the daily dedup gate for VISIT
// and BENEFIT_REDEEMED kinds: the first such event per customer, location and
// business day is counted, later ones are written with Counted=false. The
// check-then-insert race between terminals is closed by the unique dedup key,
// with a losing insert degraded to an uncounted entry.
func (s *Store) Record(ctx context.Context, in RecordInput) (*models.LedgerEntry, error) {
	now := s.clock.Now()
	entry := &models.LedgerEntry{
		ID:            uuid.New(),
		CustomerID:    in.CustomerID,
		LocationID:    in.LocationID,
		Kind:          in.Kind,
		BenefitID:     in.BenefitID,
		StateSnapshot: in.StateSnapshot,
		BusinessDay:   s.clock.DayKey(now),
		OccurredAt:    now,
	}

	switch in.Kind {
	case models.KindVisit, models.KindBenefitRedeemed:
		if in.LocationID == nil {
			return nil, ErrLocationRequired
		}
		key := dedupKey(in.CustomerID, *in.LocationID, entry.BusinessDay)
		entry.Counted = true
		entry.DedupKey = &key
		// ON CONFLICT DO NOTHING instead of catching the constraint error:
		// a failed INSERT would abort an enclosing Postgres transaction, and
		// Record runs inside one during redemption.
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).Create(entry)
		if res.Error != nil {
			return nil, fmt.Errorf("record counted entry: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return entry, nil
		}
		// A counted entry already exists for this business day. Keep the
		// event for the audit trail, without tier credit.
		entry.ID = uuid.New()
		entry.Counted = false
		entry.DedupKey = nil
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			return nil, fmt.Errorf("record uncounted entry: %w", err)
		}
		return entry, nil
	case models.KindWeightedOrder:
		// Weighted orders bypass the dedup rule entirely and always
		// contribute to the rolling-window sum.
		entry.Counted = true
	case models.KindExternalStateSync:
		entry.Counted = false
	default:
		return nil, fmt.Errorf("record entry: unknown kind %q", in.Kind)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("record %s entry: %w", strings.ToLower(string(in.Kind)), err)
	}
	return entry, nil
}

// CountedVisitsSince counts counted VISIT/BENEFIT_REDEEMED entries in
// [since, now).
func (s *Store) CountedVisitsSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("customer_id = ? AND counted = ? AND kind IN ? AND occurred_at >= ?",
			customerID, true, []models.EntryKind{models.KindVisit, models.KindBenefitRedeemed}, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count visits: %w", err)
	}
	return n, nil
}

// WeightedOrdersSince counts counted WEIGHTED_ORDER entries in [since, now).
func (s *Store) WeightedOrdersSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("customer_id = ? AND counted = ? AND kind = ? AND occurred_at >= ?",
			customerID, true, models.KindWeightedOrder, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count weighted orders: %w", err)
	}
	return n, nil
}

// DistinctLocationsSince counts the distinct locations with a counted
// VISIT/BENEFIT_REDEEMED entry in [since, now).
func (s *Store) DistinctLocationsSince(ctx context.Context, customerID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Distinct("location_id").
		Where("customer_id = ? AND counted = ? AND kind IN ? AND occurred_at >= ? AND location_id IS NOT NULL",
			customerID, true, []models.EntryKind{models.KindVisit, models.KindBenefitRedeemed}, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count distinct locations: %w", err)
	}
	return n, nil
}

// HasRedemption reports whether the customer ever redeemed the benefit,
// counted or not. Uncounted redemptions still consumed the perk.
func (s *Store) HasRedemption(ctx context.Context, customerID, benefitID uuid.UUID) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("customer_id = ? AND benefit_id = ? AND kind = ?",
			customerID, benefitID, models.KindBenefitRedeemed).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check redemption history: %w", err)
	}
	return n > 0, nil
}

// RedemptionsOnDay counts the customer's redemptions of the benefit on the
// given business day.
func (s *Store) RedemptionsOnDay(ctx context.Context, customerID, benefitID uuid.UUID, day string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("customer_id = ? AND benefit_id = ? AND kind = ? AND business_day = ?",
			customerID, benefitID, models.KindBenefitRedeemed, day).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// LastCountedAt returns the timestamp of the customer's most recent counted
// entry. The second return is false when no counted activity exists.
func (s *Store) LastCountedAt(ctx context.Context, customerID uuid.UUID) (time.Time, bool, error) {
	var entry models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND counted = ?", customerID, true).
		Order("occurred_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load last counted entry: %w", err)
	}
	return entry.OccurredAt, true, nil
}

// RevokeMostRecentCounted clears the Counted flag on the customer's n most
// recent counted entries. This is the one sanctioned exception to the
// append-only rule, invoked by the external cancellation-penalty process.
// Fewer than n available entries is not an error; the number actually revoked
// is returned so the caller can audit the effect. The dedup key is cleared
// alongside so the unique index keeps describing only counted entries.
func (s *Store) RevokeMostRecentCounted(ctx context.Context, customerID uuid.UUID, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND counted = ?", customerID, true).
		Order("occurred_at DESC").
		Limit(n).
		Find(&entries).Error
	if err != nil {
		return 0, fmt.Errorf("select entries to revoke: %w", err)
	}

	revoked := 0
	for _, entry := range entries {
		res := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
			Where("id = ? AND counted = ?", entry.ID, true).
			Updates(map[string]any{"counted": false, "dedup_key": nil})
		if res.Error != nil {
			return revoked, fmt.Errorf("revoke entry %s: %w", entry.ID, res.Error)
		}
		revoked += int(res.RowsAffected)
	}
	return revoked, nil
}

func dedupKey(customerID, locationID uuid.UUID, day string) string {
	return customerID.String() + "|" + locationID.String() + "|" + day
}
