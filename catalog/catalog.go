// Package catalog provides read/write access to customers and to the static
// reference data (tiers, benefits, locations) the rules engine evaluates
// against. Tiers and benefits are administered elsewhere; the core treats
// them as read-only apart from the evaluator's tier promotion.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"perkledger/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("catalog: not found")

// Store wraps catalog and customer persistence.
type Store struct {
	db *gorm.DB
}

// NewStore wires the store over the shared database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// CustomerByID loads one customer with owned assets.
func (s *Store) CustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).Preload("Assets").First(&customer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	return &customer, nil
}

// CustomerByPhone loads one customer by phone number.
func (s *Store) CustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.WithContext(ctx).Preload("Assets").First(&customer, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load customer by phone: %w", err)
	}
	return &customer, nil
}

// ActiveCustomersWithSecret returns the population scanned during OTP
// resolution: active members holding a provisioned secret. The result is
// ordered by creation time so the scan is deterministic.
func (s *Store) ActiveCustomersWithSecret(ctx context.Context) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.WithContext(ctx).
		Where("state = ? AND otp_secret <> ''", models.CustomerActive).
		Order("created_at ASC, id ASC").
		Find(&customers).Error
	if err != nil {
		return nil, fmt.Errorf("load active customers: %w", err)
	}
	return customers, nil
}

// CreateCustomer registers and activates a member, provisioning the immutable
// OTP secret in the same write.
func (s *Store) CreateCustomer(ctx context.Context, phone, name, secret string) (*models.Customer, error) {
	customer := &models.Customer{
		ID:        uuid.New(),
		Phone:     phone,
		Name:      name,
		State:     models.CustomerActive,
		OTPSecret: secret,
	}
	if err := s.db.WithContext(ctx).Create(customer).Error; err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

// SetCustomerTier updates the tier reference. Callers are the evaluator
// (promotions only) and the inactivity-decay hook (the sole lowering path).
func (s *Store) SetCustomerTier(ctx context.Context, customerID uuid.UUID, tierID *uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Customer{}).
		Where("id = ?", customerID).
		Update("tier_id", tierID)
	if res.Error != nil {
		return fmt.Errorf("set customer tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TierByID loads one tier.
func (s *Store) TierByID(ctx context.Context, id uuid.UUID) (*models.Tier, error) {
	var tier models.Tier
	err := s.db.WithContext(ctx).First(&tier, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tier: %w", err)
	}
	return &tier, nil
}

// TiersByRankDesc returns all tiers ordered from highest rank to lowest,
// the order the evaluator tests them in.
func (s *Store) TiersByRankDesc(ctx context.Context) ([]models.Tier, error) {
	var tiers []models.Tier
	if err := s.db.WithContext(ctx).Order("rank DESC").Find(&tiers).Error; err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	return tiers, nil
}

// NextLowerTier returns the tier immediately below the given rank, or nil
// when none exists.
func (s *Store) NextLowerTier(ctx context.Context, rank int) (*models.Tier, error) {
	var tier models.Tier
	err := s.db.WithContext(ctx).
		Where("rank < ?", rank).
		Order("rank DESC").
		First(&tier).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lower tier: %w", err)
	}
	return &tier, nil
}

// ActiveBenefitsForTier returns the active benefits bound to the tier in a
// deterministic order (benefit code ascending).
func (s *Store) ActiveBenefitsForTier(ctx context.Context, tierID uuid.UUID) ([]models.Benefit, error) {
	var benefits []models.Benefit
	err := s.db.WithContext(ctx).
		Joins("JOIN tier_benefits ON tier_benefits.benefit_id = benefits.id").
		Where("tier_benefits.tier_id = ? AND benefits.active = ?", tierID, true).
		Order("benefits.code ASC").
		Find(&benefits).Error
	if err != nil {
		return nil, fmt.Errorf("load tier benefits: %w", err)
	}
	return benefits, nil
}

// BenefitByID loads one benefit.
func (s *Store) BenefitByID(ctx context.Context, id uuid.UUID) (*models.Benefit, error) {
	var benefit models.Benefit
	err := s.db.WithContext(ctx).First(&benefit, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load benefit: %w", err)
	}
	return &benefit, nil
}

// LocationByID loads one location.
func (s *Store) LocationByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	err := s.db.WithContext(ctx).First(&location, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	return &location, nil
}

// UpsertAssetState applies one report from the external asset feed. The
// latest reported state per asset is authoritative; stale reports (older than
// the stored ReportedAt) are ignored.
func (s *Store) UpsertAssetState(ctx context.Context, customerID uuid.UUID, externalRef, state string, reportedAt time.Time) (*models.Asset, error) {
	var asset models.Asset
	err := s.db.WithContext(ctx).
		First(&asset, "customer_id = ? AND external_ref = ?", customerID, externalRef).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		asset = models.Asset{
			ID:          uuid.New(),
			CustomerID:  customerID,
			ExternalRef: externalRef,
			State:       state,
			ReportedAt:  reportedAt,
		}
		if err := s.db.WithContext(ctx).Create(&asset).Error; err != nil {
			return nil, fmt.Errorf("create asset: %w", err)
		}
		return &asset, nil
	case err != nil:
		return nil, fmt.Errorf("load asset: %w", err)
	}

	if reportedAt.Before(asset.ReportedAt) {
		return &asset, nil
	}
	asset.State = state
	asset.ReportedAt = reportedAt
	if err := s.db.WithContext(ctx).Model(&asset).
		Updates(map[string]any{"state": state, "reported_at": reportedAt}).Error; err != nil {
		return nil, fmt.Errorf("update asset state: %w", err)
	}
	return &asset, nil
}
