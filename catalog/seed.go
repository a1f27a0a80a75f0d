package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"perkledger/models"
)

// Seed is the YAML catalog file loaded at boot. The core never administers
// tiers or benefits at runtime; operators ship them as reference data.
type Seed struct {
	Tiers     []SeedTier     `yaml:"tiers"`
	Benefits  []SeedBenefit  `yaml:"benefits"`
	Locations []SeedLocation `yaml:"locations"`
}

// SeedTier declares one tier and the benefit codes bound to it.
type SeedTier struct {
	Code         string   `yaml:"code"`
	Name         string   `yaml:"name"`
	Rank         int      `yaml:"rank"`
	MinVisits    int      `yaml:"min_visits"`
	WindowDays   int      `yaml:"window_days"`
	MinCrossUses int      `yaml:"min_cross_uses"`
	Benefits     []string `yaml:"benefits"`
}

// SeedBenefit declares one benefit and its gating conditions.
type SeedBenefit struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Active        bool   `yaml:"active"`
	RequiresState bool   `yaml:"requires_state"`
	TriggerState  string `yaml:"trigger_state"`
	SingleUse     bool   `yaml:"single_use"`
	MaxPerDay     int    `yaml:"max_per_day"`
}

// SeedLocation declares one point-of-sale site.
type SeedLocation struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// LoadSeed reads and validates the YAML catalog file.
func LoadSeed(path string) (*Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog seed: %w", err)
	}
	defer file.Close()

	var seed Seed
	if err := yaml.NewDecoder(file).Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode catalog seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks cross-references and required fields.
func (s *Seed) Validate() error {
	benefitCodes := make(map[string]struct{}, len(s.Benefits))
	for _, b := range s.Benefits {
		if b.Code == "" {
			return fmt.Errorf("catalog seed: benefit without code")
		}
		if _, dup := benefitCodes[b.Code]; dup {
			return fmt.Errorf("catalog seed: duplicate benefit code %q", b.Code)
		}
		if b.RequiresState && b.TriggerState == "" {
			return fmt.Errorf("catalog seed: benefit %q requires a trigger state", b.Code)
		}
		if b.MaxPerDay < 0 {
			return fmt.Errorf("catalog seed: benefit %q has negative max_per_day", b.Code)
		}
		benefitCodes[b.Code] = struct{}{}
	}
	ranks := make(map[int]string, len(s.Tiers))
	for _, t := range s.Tiers {
		if t.Code == "" {
			return fmt.Errorf("catalog seed: tier without code")
		}
		if prev, dup := ranks[t.Rank]; dup {
			return fmt.Errorf("catalog seed: tiers %q and %q share rank %d", prev, t.Code, t.Rank)
		}
		ranks[t.Rank] = t.Code
		if t.WindowDays <= 0 {
			return fmt.Errorf("catalog seed: tier %q needs a positive window", t.Code)
		}
		for _, code := range t.Benefits {
			if _, ok := benefitCodes[code]; !ok {
				return fmt.Errorf("catalog seed: tier %q references unknown benefit %q", t.Code, code)
			}
		}
	}
	return nil
}

// Apply upserts the seed into the database, keyed by code so repeated boots
// converge instead of duplicating rows.
func (s *Store) Apply(ctx context.Context, seed *Seed) error {
	if seed == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		benefitsByCode := make(map[string]*models.Benefit, len(seed.Benefits))
		for _, sb := range seed.Benefits {
			benefit, err := upsertBenefit(tx, sb)
			if err != nil {
				return err
			}
			benefitsByCode[sb.Code] = benefit
		}
		for _, st := range seed.Tiers {
			tier, err := upsertTier(tx, st)
			if err != nil {
				return err
			}
			bound := make([]models.Benefit, 0, len(st.Benefits))
			for _, code := range st.Benefits {
				bound = append(bound, *benefitsByCode[code])
			}
			if err := tx.Model(tier).Association("Benefits").Replace(bound); err != nil {
				return fmt.Errorf("bind benefits to tier %q: %w", st.Code, err)
			}
		}
		for _, sl := range seed.Locations {
			if err := upsertLocation(tx, sl); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertBenefit(tx *gorm.DB, sb SeedBenefit) (*models.Benefit, error) {
	var benefit models.Benefit
	err := tx.First(&benefit, "code = ?", sb.Code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		benefit = models.Benefit{ID: uuid.New(), Code: sb.Code}
	} else if err != nil {
		return nil, fmt.Errorf("load benefit %q: %w", sb.Code, err)
	}
	benefit.Name = sb.Name
	benefit.Active = sb.Active
	benefit.RequiresState = sb.RequiresState
	benefit.TriggerState = sb.TriggerState
	benefit.SingleUse = sb.SingleUse
	benefit.MaxPerDay = sb.MaxPerDay
	if err := tx.Save(&benefit).Error; err != nil {
		return nil, fmt.Errorf("save benefit %q: %w", sb.Code, err)
	}
	return &benefit, nil
}

func upsertTier(tx *gorm.DB, st SeedTier) (*models.Tier, error) {
	var tier models.Tier
	err := tx.First(&tier, "code = ?", st.Code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tier = models.Tier{ID: uuid.New(), Code: st.Code}
	} else if err != nil {
		return nil, fmt.Errorf("load tier %q: %w", st.Code, err)
	}
	tier.Name = st.Name
	tier.Rank = st.Rank
	tier.MinVisits = st.MinVisits
	tier.WindowDays = st.WindowDays
	tier.MinCrossUses = st.MinCrossUses
	if err := tx.Save(&tier).Error; err != nil {
		return nil, fmt.Errorf("save tier %q: %w", st.Code, err)
	}
	return &tier, nil
}

func upsertLocation(tx *gorm.DB, sl SeedLocation) error {
	var location models.Location
	err := tx.First(&location, "code = ?", sl.Code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		location = models.Location{ID: uuid.New(), Code: sl.Code, Name: sl.Name}
		if err := tx.Create(&location).Error; err != nil {
			return fmt.Errorf("create location %q: %w", sl.Code, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load location %q: %w", sl.Code, err)
	}
	if location.Name != sl.Name {
		if err := tx.Model(&location).Update("name", sl.Name).Error; err != nil {
			return fmt.Errorf("update location %q: %w", sl.Code, err)
		}
	}
	return nil
}
