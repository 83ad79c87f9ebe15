package level

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
)

func setupLevelTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&LevelState{}, &LevelChangeEvent{}, &AppliedEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func entryFor(id string, net float64) *commission.LedgerEntry {
	return &commission.LedgerEntry{
		EntryID:       "LED_TEST_" + id,
		DistributorID: id,
		Kind:          commission.KindPairCommission,
		GrossAmount:   net,
		NetAmount:     net,
		PeriodID:      "PRD_1",
	}
}

func TestApplyPromotionCarriesExcess(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default() // first ceiling 50000
	svc := NewService(db)

	events, err := svc.Apply(entryFor("D001", 60000), cfg)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one promotion, got %d", len(events))
	}
	if events[0].FromLevel != 1 || events[0].ToLevel != 2 {
		t.Fatalf("expected promotion 1 -> 2, got %d -> %d", events[0].FromLevel, events[0].ToLevel)
	}

	state, err := svc.GetState("D001", cfg)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	// The running total carries the excess past the crossed ceiling
	if state.CumulativeAchieved != 60000 {
		t.Fatalf("expected cumulative 60000, got %.2f", state.CumulativeAchieved)
	}
	if state.CurrentLevel != 2 || state.CeilingForLevel != 200000 {
		t.Fatalf("expected level 2 with ceiling 200000, got %d/%.0f", state.CurrentLevel, state.CeilingForLevel)
	}
}

func TestApplyIsIdempotentPerEntry(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	entry := entryFor("D001", 60000)
	if _, err := svc.Apply(entry, cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Settlement replays re-feed the same entry; it must not count twice
	events, err := svc.Apply(entry, cfg)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("replayed entry promoted again: %+v", events)
	}

	state, err := svc.GetState("D001", cfg)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CumulativeAchieved != 60000 {
		t.Fatalf("replayed entry double counted: %.2f", state.CumulativeAchieved)
	}
	if state.CurrentLevel != 2 {
		t.Fatalf("expected level 2, got %d", state.CurrentLevel)
	}
}

func TestApplyMultiStepPromotion(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	events, err := svc.Apply(entryFor("D001", 250000), cfg)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected two promotions, got %d", len(events))
	}
	if events[0].ToLevel != 2 || events[1].ToLevel != 3 {
		t.Fatalf("promotion chain wrong: %+v", events)
	}

	history, err := svc.GetHistory("D001")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two recorded events, got %d", len(history))
	}
}

func TestApplyTopLevelAccumulatesWithoutPromotion(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default() // top tier level 5
	svc := NewService(db)

	if err := db.Create(&LevelState{
		DistributorID:      "D001",
		CurrentLevel:       5,
		CumulativeAchieved: 5000000,
		CeilingForLevel:    5000000,
	}).Error; err != nil {
		t.Fatalf("seed state: %v", err)
	}

	events, err := svc.Apply(entryFor("D001", 100000), cfg)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("top level must not promote further, got %+v", events)
	}

	state, err := svc.GetState("D001", cfg)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CumulativeAchieved != 5100000 {
		t.Fatalf("expected cumulative 5100000, got %.2f", state.CumulativeAchieved)
	}
	if state.CurrentLevel != 5 {
		t.Fatalf("level changed past the top tier: %d", state.CurrentLevel)
	}
}

func TestApplySkipsZeroEntries(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	events, err := svc.Apply(nil, cfg)
	if err != nil || events != nil {
		t.Fatalf("nil entry must be a no-op, got %v/%v", events, err)
	}
	events, err = svc.Apply(entryFor("D001", 0), cfg)
	if err != nil || events != nil {
		t.Fatalf("zero entry must be a no-op, got %v/%v", events, err)
	}

	var count int64
	if err := db.Model(&LevelState{}).Count(&count).Error; err != nil {
		t.Fatalf("count states: %v", err)
	}
	if count != 0 {
		t.Fatalf("no-op entries created %d state rows", count)
	}
}

func TestGetStateDefaultsToFirstTier(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	state, err := svc.GetState("NEVER_EARNED", cfg)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CurrentLevel != 1 || state.CeilingForLevel != 50000 {
		t.Fatalf("expected first-tier defaults, got %d/%.0f", state.CurrentLevel, state.CeilingForLevel)
	}
}

func TestResetLevelsKeepsCumulativeTotals(t *testing.T) {
	db := setupLevelTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	if _, err := svc.Apply(entryFor("D001", 60000), cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := svc.ResetLevels(cfg); err != nil {
		t.Fatalf("reset: %v", err)
	}

	state, err := svc.GetState("D001", cfg)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.CurrentLevel != 1 || state.CeilingForLevel != 50000 {
		t.Fatalf("expected demotion to the first tier, got %d/%.0f", state.CurrentLevel, state.CeilingForLevel)
	}
	if state.CumulativeAchieved != 60000 {
		t.Fatalf("reset must keep cumulative totals, got %.2f", state.CumulativeAchieved)
	}
}
