package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CustomerState tracks the membership lifecycle.
type CustomerState string

// Membership lifecycle states.
const (
	CustomerPreRegistered CustomerState = "PRE_REGISTERED"
	CustomerActive        CustomerState = "ACTIVE"
	CustomerInactive      CustomerState = "INACTIVE"
)

// EntryKind identifies what a ledger entry records.
type EntryKind string

// Ledger entry kinds.
const (
	KindVisit             EntryKind = "VISIT"
	KindBenefitRedeemed   EntryKind = "BENEFIT_REDEEMED"
	KindExternalStateSync EntryKind = "EXTERNAL_STATE_SYNC"
	KindWeightedOrder     EntryKind = "WEIGHTED_ORDER"
)

// Customer is one loyalty member. The OTP secret is provisioned once at
// activation and never rotated while the customer stays active.
type Customer struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Phone     string        `gorm:"size:32;uniqueIndex" json:"phone"`
	Name      string        `gorm:"size:128" json:"name"`
	State     CustomerState `gorm:"size:32;index" json:"state"`
	TierID    *uuid.UUID    `gorm:"type:uuid;index" json:"tier_id,omitempty"`
	OTPSecret string        `gorm:"size:64" json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Assets    []Asset       `json:"assets,omitempty"`
}

// Tier is static catalog data describing one loyalty rank and its
// qualification criteria over a rolling window.
type Tier struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code         string    `gorm:"size:32;uniqueIndex" json:"code"`
	Name         string    `gorm:"size:64" json:"name"`
	Rank         int       `gorm:"uniqueIndex;not null" json:"rank"`
	MinVisits    int       `gorm:"not null" json:"min_visits"`
	WindowDays   int       `gorm:"not null" json:"window_days"`
	MinCrossUses int       `gorm:"not null" json:"min_cross_uses"`
	Benefits     []Benefit `gorm:"many2many:tier_benefits" json:"benefits,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Benefit is a redeemable perk bound to one or more tiers. Its gating
// conditions form a closed set: an external asset-state trigger, a single-use
// flag, and a per-business-day redemption cap (0 means uncapped).
type Benefit struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code          string    `gorm:"size:32;uniqueIndex" json:"code"`
	Name          string    `gorm:"size:128" json:"name"`
	Active        bool      `gorm:"index" json:"active"`
	RequiresState bool      `json:"requires_state"`
	TriggerState  string    `gorm:"size:32" json:"trigger_state,omitempty"`
	SingleUse     bool      `json:"single_use"`
	MaxPerDay     int       `json:"max_per_day"`
	Tiers         []Tier    `gorm:"many2many:tier_benefits" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Location is a point-of-sale site where presentations happen.
type Location struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string    `gorm:"size:32;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:128" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is a customer-owned item (e.g. a vehicle) whose current state is
// reported by an external collaborator. The core only reads it.
type Asset struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID  uuid.UUID `gorm:"type:uuid;index" json:"customer_id"`
	ExternalRef string    `gorm:"size:64;index" json:"external_ref"`
	State       string    `gorm:"size:32;index" json:"state"`
	ReportedAt  time.Time `json:"reported_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LedgerEntry records one customer interaction. Entries are append-only; the
// single sanctioned mutation is the penalty process clearing the Counted flag
// through ledger.RevokeMostRecentCounted.
//
// DedupKey is set only on counted VISIT/BENEFIT_REDEEMED entries and carries a
// unique index, so two concurrent terminals cannot both record a counted entry
// for the same customer, location and business day. NULL keys do not collide.
type LedgerEntry struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID    uuid.UUID  `gorm:"type:uuid;index" json:"customer_id"`
	LocationID    *uuid.UUID `gorm:"type:uuid;index" json:"location_id,omitempty"`
	Kind          EntryKind  `gorm:"size:32;index" json:"kind"`
	BenefitID     *uuid.UUID `gorm:"type:uuid;index" json:"benefit_id,omitempty"`
	Counted       bool       `gorm:"index" json:"counted"`
	BusinessDay   string     `gorm:"size:10;index" json:"business_day"`
	DedupKey      *string    `gorm:"size:96;uniqueIndex" json:"-"`
	StateSnapshot string     `gorm:"size:255" json:"state_snapshot,omitempty"`
	OccurredAt    time.Time  `gorm:"index" json:"occurred_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:255"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Customer{},
		&Tier{},
		&Benefit{},
		&Location{},
		&Asset{},
		&LedgerEntry{},
		&IdempotencyKey{},
	)
}
