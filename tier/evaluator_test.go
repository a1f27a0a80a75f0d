package tier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"perkledger/calendar"
	"perkledger/catalog"
	"perkledger/ledger"
	"perkledger/models"
)

type fixture struct {
	db      *gorm.DB
	clock   *calendar.Clock
	catalog *catalog.Store
	ledger  *ledger.Store
	eval    *Evaluator
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	clock, err := calendar.New("Asia/Seoul")
	require.NoError(t, err)
	f := &fixture{
		db:      db,
		clock:   clock,
		catalog: catalog.NewStore(db),
		ledger:  ledger.NewStore(db, clock),
		now:     time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC),
	}
	clock.SetNow(func() time.Time { return f.now })
	f.eval = NewEvaluator(f.catalog, f.ledger, clock, DefaultWeightedOrderMultiplier)
	return f
}

func (f *fixture) addTier(t *testing.T, code string, rank, minVisits, windowDays, minCross int) models.Tier {
	t.Helper()
	tier := models.Tier{
		ID: uuid.New(), Code: code, Name: code,
		Rank: rank, MinVisits: minVisits, WindowDays: windowDays, MinCrossUses: minCross,
	}
	require.NoError(t, f.db.Create(&tier).Error)
	return tier
}

func (f *fixture) addCustomer(t *testing.T) models.Customer {
	t.Helper()
	customer := models.Customer{
		ID: uuid.New(), Phone: uuid.NewString()[:12], State: models.CustomerActive, OTPSecret: "SECRET234567",
	}
	require.NoError(t, f.db.Create(&customer).Error)
	return customer
}

// visitOnDay records one counted visit `daysAgo` days before the fixture's
// reference time.
func (f *fixture) visitOnDay(t *testing.T, customerID, locationID uuid.UUID, daysAgo int) {
	t.Helper()
	at := f.now.AddDate(0, 0, -daysAgo)
	f.clock.SetNow(func() time.Time { return at })
	defer f.clock.SetNow(func() time.Time { return f.now })

	entry, err := f.ledger.Record(context.Background(), ledger.RecordInput{
		CustomerID: customerID, LocationID: &locationID, Kind: models.KindVisit,
	})
	require.NoError(t, err)
	require.True(t, entry.Counted)
}

func TestPromotionOnTenthVisitAtSecondLocation(t *testing.T) {
	f := newFixture(t)
	silver := f.addTier(t, "SILVER", 1, 10, 30, 1)
	customer := f.addCustomer(t)
	mainStore := uuid.New()
	secondStore := uuid.New()

	for day := 1; day <= 9; day++ {
		f.visitOnDay(t, customer.ID, mainStore, day)
	}
	res, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.False(t, res.Promoted, "nine single-location visits must not qualify")

	// The tenth visit at a second location raises both the visit sum and the
	// cross-use count past the threshold.
	f.visitOnDay(t, customer.ID, secondStore, 0)
	res, err = f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.True(t, res.Promoted)
	require.Equal(t, silver.ID, res.Tier.ID)

	reloaded, err := f.catalog.CustomerByID(context.Background(), customer.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.TierID)
	require.Equal(t, silver.ID, *reloaded.TierID)
}

func TestEvaluatorPicksHighestQualifyingTier(t *testing.T) {
	f := newFixture(t)
	f.addTier(t, "SILVER", 1, 2, 30, 0)
	gold := f.addTier(t, "GOLD", 2, 4, 30, 1)
	customer := f.addCustomer(t)
	a, b := uuid.New(), uuid.New()

	f.visitOnDay(t, customer.ID, a, 4)
	f.visitOnDay(t, customer.ID, a, 3)
	f.visitOnDay(t, customer.ID, b, 2)
	f.visitOnDay(t, customer.ID, b, 1)

	res, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.True(t, res.Promoted)
	require.Equal(t, gold.ID, res.Tier.ID, "evaluation walks ranks from highest down")
}

func TestEvaluatorNeverLowersRank(t *testing.T) {
	f := newFixture(t)
	f.addTier(t, "SILVER", 1, 1, 30, 0)
	gold := f.addTier(t, "GOLD", 2, 100, 30, 3)
	customer := f.addCustomer(t)
	require.NoError(t, f.catalog.SetCustomerTier(context.Background(), customer.ID, &gold.ID))

	f.visitOnDay(t, customer.ID, uuid.New(), 1)

	res, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.False(t, res.Promoted)
	require.Equal(t, gold.ID, res.Tier.ID, "qualifying only for Silver must not demote from Gold")
}

func TestWeightedOrderContributesMultiplier(t *testing.T) {
	f := newFixture(t)
	silver := f.addTier(t, "SILVER", 1, 10, 30, 1)
	customer := f.addCustomer(t)
	a, b := uuid.New(), uuid.New()

	for day := 1; day <= 6; day++ {
		f.visitOnDay(t, customer.ID, a, day)
	}
	f.visitOnDay(t, customer.ID, b, 7)

	// 7 visits + one weighted order at x3 = 10 visit-equivalents.
	_, err := f.ledger.Record(context.Background(), ledger.RecordInput{
		CustomerID: customer.ID, LocationID: &a, Kind: models.KindWeightedOrder,
	})
	require.NoError(t, err)

	res, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.True(t, res.Promoted)
	require.Equal(t, silver.ID, res.Tier.ID)
}

func TestWeightedOrderAloneInsufficient(t *testing.T) {
	f := newFixture(t)
	f.addTier(t, "SILVER", 1, 10, 30, 1)
	customer := f.addCustomer(t)
	loc := uuid.New()

	_, err := f.ledger.Record(context.Background(), ledger.RecordInput{
		CustomerID: customer.ID, LocationID: &loc, Kind: models.KindWeightedOrder,
	})
	require.NoError(t, err)

	res, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.NoError(t, err)
	require.False(t, res.Promoted, "3 visit-equivalents alone must not reach a 10-visit tier")
}

func TestEvaluateFailsOnMissingTierReference(t *testing.T) {
	f := newFixture(t)
	customer := f.addCustomer(t)
	orphan := uuid.New()
	require.NoError(t, f.db.Model(&models.Customer{}).Where("id = ?", customer.ID).Update("tier_id", orphan).Error)

	_, err := f.eval.Evaluate(context.Background(), customer.ID)
	require.ErrorIs(t, err, ErrCatalogIntegrity)
}

func TestDecayLowersIdleCustomerOneRank(t *testing.T) {
	f := newFixture(t)
	silver := f.addTier(t, "SILVER", 1, 1, 30, 0)
	gold := f.addTier(t, "GOLD", 2, 4, 30, 1)
	customer := f.addCustomer(t)
	require.NoError(t, f.catalog.SetCustomerTier(context.Background(), customer.ID, &gold.ID))

	f.visitOnDay(t, customer.ID, uuid.New(), 120)

	lowered, applied, err := Decay(context.Background(), f.catalog, f.ledger, customer.ID, 90*24*time.Hour, f.now)
	require.NoError(t, err)
	require.True(t, applied)
	require.NotNil(t, lowered)
	require.Equal(t, silver.ID, lowered.ID)

	// A second decay with no tier below clears the reference.
	lowered, applied, err = Decay(context.Background(), f.catalog, f.ledger, customer.ID, 90*24*time.Hour, f.now)
	require.NoError(t, err)
	require.True(t, applied)
	require.Nil(t, lowered)
}

func TestDecaySkipsRecentlyActiveCustomer(t *testing.T) {
	f := newFixture(t)
	gold := f.addTier(t, "GOLD", 2, 4, 30, 1)
	customer := f.addCustomer(t)
	require.NoError(t, f.catalog.SetCustomerTier(context.Background(), customer.ID, &gold.ID))

	f.visitOnDay(t, customer.ID, uuid.New(), 5)

	current, applied, err := Decay(context.Background(), f.catalog, f.ledger, customer.ID, 90*24*time.Hour, f.now)
	require.NoError(t, err)
	require.False(t, applied)
	require.NotNil(t, current)
	require.Equal(t, gold.ID, current.ID)
}
