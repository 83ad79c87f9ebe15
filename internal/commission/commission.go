package commission

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/response"
)

// Service monetizes events into ledger entries, applying tax and
// deduction tiers.
type Service struct {
	db *Database
}

// NewService creates a new commission service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// round2 rounds a monetary amount to two decimal places. Each portion of
// a split entry is rounded independently so rounding error cannot
// accumulate across the TDS threshold boundary.
func round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// ProcessReferralCountChanged applies the authoritative direct referral
// count and runs the activation check. The activation bonus is emitted
// exactly once per distributor for the lifetime of the system, guarded by
// the persisted bonus-paid flag rather than by recomputing from counters.
func (s *Service) ProcessReferralCountChanged(event types.DirectReferralCountChanged, periodID string, cfg config.CommissionConfig) (*LedgerEntry, error) {
	logger := log.With().
		Str("distributor_id", event.DistributorID).
		Str("service", "commission").
		Logger()

	distributor, err := s.db.GetDistributor(event.DistributorID)
	if err != nil {
		return nil, err
	}
	if distributor == nil {
		return nil, ErrDistributorNotFound
	}

	// The count only moves forward; a stale redelivery cannot shrink it
	if event.NewCount > distributor.DirectReferralCount {
		distributor.DirectReferralCount = event.NewCount
	}

	crossed := false
	if !distributor.IsActivated && distributor.DirectReferralCount >= cfg.ActivationThreshold {
		distributor.IsActivated = true
		crossed = true
	}

	if !distributor.IsActivated {
		return nil, s.db.CommitEntry(nil, nil, distributor)
	}

	state, err := s.db.GetEarningsState(event.DistributorID)
	if err != nil {
		return nil, err
	}
	if state.ActivationBonusPaid {
		if crossed {
			// Can only happen on duplicate delivery of the crossing event
			logger.Warn().Err(ErrBonusAlreadyPaid).Msg("duplicate activation delivery absorbed")
		}
		return nil, s.db.CommitEntry(nil, nil, distributor)
	}

	gross := cfg.BinaryCommissionInitialBonus
	tds := round2(gross * cfg.BinaryCommissionTdsPercentage / 100)
	entry := &LedgerEntry{
		EntryID:       "LED_" + uuid.New().String(),
		DistributorID: distributor.DistributorID,
		Kind:          KindActivationBonus,
		GrossAmount:   gross,
		TdsAmount:     tds,
		NetAmount:     gross - tds,
		PeriodID:      periodID,
		SourceEventID: "ACT_" + distributor.DistributorID,
		CreatedAt:     time.Now(),
	}
	state.ActivationBonusPaid = true

	if err := s.db.CommitEntry(entry, state, distributor); err != nil {
		return nil, err
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Float64("gross_amount", entry.GrossAmount).
		Float64("net_amount", entry.NetAmount).
		Msg("activation bonus booked")

	return entry, nil
}

// ProcessPurchaseActivated flips the active-buyer flag and pays the
// direct commission to the distributor's referrer while the referrer is
// not yet activated. A duplicate delivery is absorbed.
func (s *Service) ProcessPurchaseActivated(event types.PurchaseActivated, periodID string, cfg config.CommissionConfig) (*LedgerEntry, error) {
	logger := log.With().
		Str("distributor_id", event.DistributorID).
		Str("service", "commission").
		Logger()

	distributor, err := s.db.GetDistributor(event.DistributorID)
	if err != nil {
		return nil, err
	}
	if distributor == nil {
		return nil, ErrDistributorNotFound
	}

	if distributor.IsActiveBuyer {
		logger.Warn().Msg("duplicate purchase delivery absorbed")
		return nil, nil
	}
	distributor.IsActiveBuyer = true

	var entry *LedgerEntry
	if distributor.ReferrerID != "" {
		referrer, err := s.db.GetDistributor(distributor.ReferrerID)
		if err != nil {
			return nil, err
		}
		// Direct commission applies only while the referrer has not
		// reached binary activation; untaxed at this layer.
		if referrer != nil && !referrer.IsActivated && cfg.DirectUserCommissionAmount > 0 {
			gross := cfg.DirectUserCommissionAmount
			entry = &LedgerEntry{
				EntryID:       "LED_" + uuid.New().String(),
				DistributorID: referrer.DistributorID,
				Kind:          KindDirectCommission,
				GrossAmount:   gross,
				NetAmount:     gross,
				PeriodID:      periodID,
				SourceEventID: "PUR_" + distributor.DistributorID,
				CreatedAt:     time.Now(),
			}
		}
	}

	if err := s.db.CommitEntry(entry, nil, distributor); err != nil {
		return nil, err
	}

	if entry != nil {
		logger.Info().
			Str("entry_id", entry.EntryID).
			Str("referrer_id", entry.DistributorID).
			Float64("net_amount", entry.NetAmount).
			Msg("direct commission booked")
	}

	return entry, nil
}

// ProcessPairMatch converts a pair match event into a pair commission
// entry. Pairs at or below the cumulative TDS threshold carry TDS only;
// pairs beyond it carry TDS plus the extra deduction. An event that
// straddles the threshold is split into two portions before rounding.
func (s *Service) ProcessPairMatch(event matching.PairMatchEvent, cfg config.CommissionConfig) (*LedgerEntry, error) {
	logger := log.With().
		Str("distributor_id", event.DistributorID).
		Str("source_event_id", event.EventID).
		Str("service", "commission").
		Logger()

	existing, err := s.db.GetEntryBySource(event.EventID, KindPairCommission)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Warn().Str("entry_id", existing.EntryID).Msg("duplicate pair match delivery absorbed")
		return existing, nil
	}

	state, err := s.db.GetEarningsState(event.DistributorID)
	if err != nil {
		return nil, err
	}

	basePairs := cfg.BinaryTdsThresholdPairs - state.PairsSinceActivation
	if basePairs < 0 {
		basePairs = 0
	}
	if basePairs > event.MatchedPairs {
		basePairs = event.MatchedPairs
	}
	extraPairs := event.MatchedPairs - basePairs

	baseGross := float64(basePairs) * cfg.BinaryPairCommissionAmount
	extraGross := float64(extraPairs) * cfg.BinaryPairCommissionAmount

	tds := round2(baseGross*cfg.BinaryCommissionTdsPercentage/100) +
		round2(extraGross*cfg.BinaryCommissionTdsPercentage/100)
	extraDeduction := round2(extraGross * cfg.BinaryExtraDeductionPercentage / 100)

	gross := baseGross + extraGross
	net := gross - tds - extraDeduction
	if net < 0 {
		// Deduction percentages sum past 100%; cap the extra deduction so
		// the entry identity still holds at a zero net.
		log.Warn().
			Float64("gross_amount", gross).
			Float64("tds_amount", tds).
			Float64("extra_deduction_amount", extraDeduction).
			Str("service", "commission").
			Msgf("%v: deductions exceed gross, clamping net to zero", config.ErrConfigInvariant)
		extraDeduction = round2(gross - tds)
		net = 0
	}

	entry := &LedgerEntry{
		EntryID:              "LED_" + uuid.New().String(),
		DistributorID:        event.DistributorID,
		Kind:                 KindPairCommission,
		GrossAmount:          gross,
		TdsAmount:            tds,
		ExtraDeductionAmount: extraDeduction,
		NetAmount:            net,
		PeriodID:             event.PeriodID,
		SourceEventID:        event.EventID,
		CreatedAt:            time.Now(),
	}
	state.PairsSinceActivation += event.MatchedPairs

	if err := s.db.CommitEntry(entry, state, nil); err != nil {
		return nil, err
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Int("matched_pairs", event.MatchedPairs).
		Int("pairs_at_base_rate", basePairs).
		Float64("gross_amount", entry.GrossAmount).
		Float64("net_amount", entry.NetAmount).
		Msg("pair commission booked")

	return entry, nil
}

// GetLedger returns the statement for a distributor.
func (s *Service) GetLedger(distributorID string) ([]LedgerEntry, error) {
	return s.db.GetLedgerByDistributor(distributorID)
}

// GetWallet returns the wallet balance for a distributor.
func (s *Service) GetWallet(distributorID string) (*WalletBalance, error) {
	return s.db.GetWallet(distributorID)
}

// GetLedgerByPeriod returns every entry booked in one period.
func (s *Service) GetLedgerByPeriod(periodID string) ([]LedgerEntry, error) {
	return s.db.GetLedgerByPeriod(periodID)
}

// GinHandlers contains HTTP handlers for commission endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for commission endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetLedgerHandler handles GET requests for a distributor's commission
// statement. URL parameter: distributor_id
func (h *GinHandlers) GetLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		entries, err := h.service.GetLedger(distributorID)
		response.Handle(c, entries, err)
	}
}

// GetWalletHandler handles GET requests for a distributor's wallet
// balance. URL parameter: distributor_id
func (h *GinHandlers) GetWalletHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		wallet, err := h.service.GetWallet(distributorID)
		response.Handle(c, wallet, err)
	}
}
