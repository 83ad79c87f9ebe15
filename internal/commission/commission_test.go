package commission

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
)

func setupCommissionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Distributor{}, &LedgerEntry{}, &EarningsState{}, &WalletBalance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedDistributor(t *testing.T, db *gorm.DB, d *types.Distributor) {
	t.Helper()
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("seed distributor %s: %v", d.DistributorID, err)
	}
}

func assertEntryIdentity(t *testing.T, entry *LedgerEntry) {
	t.Helper()
	diff := entry.GrossAmount - entry.TdsAmount - entry.ExtraDeductionAmount - entry.NetAmount
	if math.Abs(diff) > 0.001 {
		t.Fatalf("entry identity broken: gross=%.2f tds=%.2f extra=%.2f net=%.2f",
			entry.GrossAmount, entry.TdsAmount, entry.ExtraDeductionAmount, entry.NetAmount)
	}
	if entry.NetAmount < 0 {
		t.Fatalf("net amount must never be negative, got %.2f", entry.NetAmount)
	}
}

func TestActivationBonusExactlyOnce(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default() // threshold 3, bonus 1000, TDS 20%
	svc := NewService(db)

	seedDistributor(t, db, &types.Distributor{DistributorID: "D001", DirectReferralCount: 2})

	event := types.DirectReferralCountChanged{DistributorID: "D001", NewCount: 3}
	entry, err := svc.ProcessReferralCountChanged(event, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("process count change: %v", err)
	}
	if entry == nil || entry.Kind != KindActivationBonus {
		t.Fatalf("expected activation bonus entry, got %+v", entry)
	}
	if entry.GrossAmount != 1000 || entry.TdsAmount != 200 || entry.NetAmount != 800 {
		t.Fatalf("bonus amounts wrong: %+v", entry)
	}
	assertEntryIdentity(t, entry)

	// A duplicate delivery of the crossing event is absorbed without a
	// second entry
	again, err := svc.ProcessReferralCountChanged(event, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no second bonus, got %+v", again)
	}

	ledger, err := svc.GetLedger("D001")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(ledger))
	}

	wallet, err := svc.GetWallet("D001")
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if wallet.TotalEarned != 800 {
		t.Fatalf("expected wallet total 800, got %.2f", wallet.TotalEarned)
	}
}

func TestReferralCountBelowThresholdPaysNothing(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	seedDistributor(t, db, &types.Distributor{DistributorID: "D001"})

	entry, err := svc.ProcessReferralCountChanged(types.DirectReferralCountChanged{
		DistributorID: "D001",
		NewCount:      2,
	}, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("process count change: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no entry below threshold, got %+v", entry)
	}

	var d types.Distributor
	if err := db.Where("distributor_id = ?", "D001").First(&d).Error; err != nil {
		t.Fatalf("reload distributor: %v", err)
	}
	if d.IsActivated {
		t.Fatal("distributor must not be activated below threshold")
	}
	if d.DirectReferralCount != 2 {
		t.Fatalf("expected count 2, got %d", d.DirectReferralCount)
	}
}

func TestReferralCountNeverShrinks(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	seedDistributor(t, db, &types.Distributor{DistributorID: "D001", DirectReferralCount: 5, IsActivated: true})
	if err := db.Create(&EarningsState{DistributorID: "D001", ActivationBonusPaid: true}).Error; err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if _, err := svc.ProcessReferralCountChanged(types.DirectReferralCountChanged{
		DistributorID: "D001",
		NewCount:      2,
	}, "PRD_1", cfg); err != nil {
		t.Fatalf("process stale count: %v", err)
	}

	var d types.Distributor
	if err := db.Where("distributor_id = ?", "D001").First(&d).Error; err != nil {
		t.Fatalf("reload distributor: %v", err)
	}
	if d.DirectReferralCount != 5 {
		t.Fatalf("stale delivery shrank the count to %d", d.DirectReferralCount)
	}
}

func TestDirectCommissionOnlyWhileReferrerUnactivated(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default() // direct commission 500
	svc := NewService(db)

	seedDistributor(t, db, &types.Distributor{DistributorID: "REF"})
	seedDistributor(t, db, &types.Distributor{DistributorID: "D001", ReferrerID: "REF"})

	entry, err := svc.ProcessPurchaseActivated(types.PurchaseActivated{
		DistributorID: "D001",
		AmountPaid:    65000,
	}, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("process purchase: %v", err)
	}
	if entry == nil || entry.Kind != KindDirectCommission {
		t.Fatalf("expected direct commission, got %+v", entry)
	}
	if entry.DistributorID != "REF" {
		t.Fatalf("commission must go to the sponsor, got %s", entry.DistributorID)
	}
	// Direct commission is untaxed at this layer
	if entry.GrossAmount != 500 || entry.NetAmount != 500 || entry.TdsAmount != 0 {
		t.Fatalf("direct commission amounts wrong: %+v", entry)
	}

	// Once the sponsor is activated, further purchases in its downline pay
	// no direct commission
	seedDistributor(t, db, &types.Distributor{DistributorID: "REF2", IsActivated: true})
	seedDistributor(t, db, &types.Distributor{DistributorID: "D002", ReferrerID: "REF2"})

	entry, err = svc.ProcessPurchaseActivated(types.PurchaseActivated{DistributorID: "D002"}, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("process purchase under activated sponsor: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected no commission for activated sponsor, got %+v", entry)
	}

	var d types.Distributor
	if err := db.Where("distributor_id = ?", "D002").First(&d).Error; err != nil {
		t.Fatalf("reload distributor: %v", err)
	}
	if !d.IsActiveBuyer {
		t.Fatal("purchase must still flip the active-buyer flag")
	}
}

func TestDuplicatePurchaseAbsorbed(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	seedDistributor(t, db, &types.Distributor{DistributorID: "REF"})
	seedDistributor(t, db, &types.Distributor{DistributorID: "D001", ReferrerID: "REF"})

	event := types.PurchaseActivated{DistributorID: "D001"}
	if _, err := svc.ProcessPurchaseActivated(event, "PRD_1", cfg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	entry, err := svc.ProcessPurchaseActivated(event, "PRD_1", cfg)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if entry != nil {
		t.Fatalf("duplicate purchase paid again: %+v", entry)
	}

	ledger, err := svc.GetLedger("REF")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("expected one commission entry, got %d", len(ledger))
	}
}

func TestPurchaseForUnknownDistributor(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	_, err := svc.ProcessPurchaseActivated(types.PurchaseActivated{DistributorID: "MISSING"}, "PRD_1", cfg)
	if !errors.Is(err, ErrDistributorNotFound) {
		t.Fatalf("expected distributor-not-found, got %v", err)
	}
}

func TestPairCommissionTdsThresholdSplit(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default() // pair 2000, threshold 5, TDS 20%, extra 20%
	svc := NewService(db)

	if err := db.Create(&EarningsState{DistributorID: "D001", PairsSinceActivation: 3}).Error; err != nil {
		t.Fatalf("seed state: %v", err)
	}

	// Pairs 4 and 5 sit at the base rate, pairs 6 and 7 carry the extra
	// deduction
	entry, err := svc.ProcessPairMatch(matching.PairMatchEvent{
		EventID:       "PME_TEST_1",
		DistributorID: "D001",
		MatchedPairs:  4,
		PeriodID:      "PRD_1",
	}, cfg)
	if err != nil {
		t.Fatalf("process pair match: %v", err)
	}

	if entry.GrossAmount != 8000 {
		t.Fatalf("expected gross 8000, got %.2f", entry.GrossAmount)
	}
	if entry.TdsAmount != 1600 {
		t.Fatalf("expected TDS 1600, got %.2f", entry.TdsAmount)
	}
	if entry.ExtraDeductionAmount != 800 {
		t.Fatalf("expected extra deduction 800, got %.2f", entry.ExtraDeductionAmount)
	}
	if entry.NetAmount != 5600 {
		t.Fatalf("expected net 5600, got %.2f", entry.NetAmount)
	}
	assertEntryIdentity(t, entry)

	var state EarningsState
	if err := db.Where("distributor_id = ?", "D001").First(&state).Error; err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if state.PairsSinceActivation != 7 {
		t.Fatalf("expected cumulative pairs 7, got %d", state.PairsSinceActivation)
	}
}

func TestPairCommissionDuplicateEventReturnsExisting(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	svc := NewService(db)

	event := matching.PairMatchEvent{
		EventID:       "PME_TEST_1",
		DistributorID: "D001",
		MatchedPairs:  2,
		PeriodID:      "PRD_1",
	}
	first, err := svc.ProcessPairMatch(event, cfg)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := svc.ProcessPairMatch(event, cfg)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if second.EntryID != first.EntryID {
		t.Fatalf("duplicate produced a new entry: %s vs %s", second.EntryID, first.EntryID)
	}

	var state EarningsState
	if err := db.Where("distributor_id = ?", "D001").First(&state).Error; err != nil {
		t.Fatalf("reload state: %v", err)
	}
	if state.PairsSinceActivation != 2 {
		t.Fatalf("duplicate delivery advanced the pair total to %d", state.PairsSinceActivation)
	}
}

func TestPairCommissionNetClampedAtZero(t *testing.T) {
	db := setupCommissionTestDB(t)
	cfg := config.Default()
	cfg.BinaryTdsThresholdPairs = 0
	cfg.BinaryCommissionTdsPercentage = 60
	cfg.BinaryExtraDeductionPercentage = 60
	svc := NewService(db)

	entry, err := svc.ProcessPairMatch(matching.PairMatchEvent{
		EventID:       "PME_TEST_1",
		DistributorID: "D001",
		MatchedPairs:  1,
		PeriodID:      "PRD_1",
	}, cfg)
	if err != nil {
		t.Fatalf("process pair match: %v", err)
	}

	if entry.NetAmount != 0 {
		t.Fatalf("expected net clamped to zero, got %.2f", entry.NetAmount)
	}
	assertEntryIdentity(t, entry)
}
