package settlement

import (
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/level"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/response"
)

// Service owns the settlement period state machine and drives the other
// engines in order: match, monetize, promote, close.
type Service struct {
	db         *Database
	matching   *matching.Service
	commission *commission.Service
	level      *level.Service
	cfg        config.CommissionConfig
}

// NewService creates a new settlement service. The config given here is
// the base config frozen onto every period this service opens.
func NewService(gormDB *gorm.DB, matchingSvc *matching.Service, commissionSvc *commission.Service, levelSvc *level.Service, cfg config.CommissionConfig) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		matching:   matchingSvc,
		commission: commissionSvc,
		level:      levelSvc,
		cfg:        cfg,
	}
}

// OpenPeriod opens a new period of the given type. Fails when one is
// already open: exactly one daily and one monthly period may be open at
// a time.
func (s *Service) OpenPeriod(periodType string) (*SettlementPeriod, error) {
	open, err := s.db.GetOpenPeriod(periodType)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, ErrPeriodAlreadyOpen
	}

	snapshot, err := s.cfg.Snapshot()
	if err != nil {
		return nil, err
	}

	period := &SettlementPeriod{
		PeriodID:       "PRD_" + uuid.New().String(),
		PeriodType:     periodType,
		Status:         StatusOpen,
		OpenedAt:       time.Now(),
		ConfigSnapshot: snapshot,
	}
	if err := s.db.CreatePeriod(period); err != nil {
		return nil, fmt.Errorf("failed to open period: %w", err)
	}

	log.Info().
		Str("period_id", period.PeriodID).
		Str("period_type", periodType).
		Str("service", "settlement").
		Msg("period opened")

	return period, nil
}

// ensureOpenDaily returns the open daily period, opening a fresh one if
// needed, together with the config frozen onto it.
func (s *Service) ensureOpenDaily() (*SettlementPeriod, config.CommissionConfig, error) {
	period, err := s.db.GetOpenPeriod(PeriodTypeDaily)
	if err != nil {
		return nil, config.CommissionConfig{}, err
	}
	if period == nil {
		period, err = s.OpenPeriod(PeriodTypeDaily)
		if err != nil {
			return nil, config.CommissionConfig{}, err
		}
	}

	cfg, err := config.FromSnapshot(period.ConfigSnapshot)
	if err != nil {
		return nil, config.CommissionConfig{}, err
	}
	return period, cfg, nil
}

// EnsureMonthlyOpen opens the monthly period when none is open.
func (s *Service) EnsureMonthlyOpen() (*SettlementPeriod, error) {
	period, err := s.db.GetOpenPeriod(PeriodTypeMonthly)
	if err != nil {
		return nil, err
	}
	if period != nil {
		return period, nil
	}
	return s.OpenPeriod(PeriodTypeMonthly)
}

// RunDaily executes one daily settlement cycle: replay anything a
// previous run left half-finished, open (or resume) the daily period,
// run the matching pass, monetize the resulting events, fold the entries
// into the level engine and close the period. A failure for one
// distributor is recorded and does not roll back the others; a matching
// failure leaves the counters untouched for the next run, and a
// monetization failure is replayed from the persisted pair match event.
func (s *Service) RunDaily() (*RunResult, error) {
	period, cfg, err := s.ensureOpenDaily()
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Str("period_id", period.PeriodID).
		Str("service", "settlement").
		Logger()

	logger.Info().Msg("starting daily settlement cycle")

	result := &RunResult{
		PeriodID: period.PeriodID,
		Failures: make(map[string]string),
	}

	s.reconcileUnmonetized(result)

	report, err := s.matching.RunMatching(period.PeriodID, cfg)
	if err != nil {
		return nil, fmt.Errorf("matching pass failed: %w", err)
	}

	result.MatchedEvents = len(report.Events)
	for id, msg := range report.Failures {
		result.Failures[id] = msg
	}

	for _, event := range report.Events {
		entry, err := s.commission.ProcessPairMatch(event, cfg)
		if err != nil {
			result.Failures[event.DistributorID] = err.Error()
			continue
		}
		result.LedgerEntries++

		changes, err := s.level.Apply(entry, cfg)
		if err != nil {
			result.Failures[event.DistributorID] = err.Error()
			continue
		}
		result.LevelChanges += len(changes)
	}

	if err := s.closePeriod(period.PeriodID); err != nil {
		return nil, err
	}

	logger.Info().
		Int("matched_events", result.MatchedEvents).
		Int("ledger_entries", result.LedgerEntries).
		Int("level_changes", result.LevelChanges).
		Int("failures", len(result.Failures)).
		Msg("daily settlement cycle completed")

	return result, nil
}

// reconcileWindow bounds how many recent periods a daily run re-checks
// for pair match events whose commission was never booked. Events older
// than the window need manual replay.
const reconcileWindow = 30

// reconcileUnmonetized re-feeds pair match events from recent closed
// daily periods through the calculator and level engine. Counters are
// drained when an event is settled, so a crash between settlement and
// monetization would otherwise lose the commission for good. Safe to
// repeat: the calculator dedupes by source event and the level engine
// skips entries it has already folded in. Each period's own frozen
// config governs its replays.
func (s *Service) reconcileUnmonetized(result *RunResult) {
	logger := log.With().Str("service", "settlement").Logger()

	periods, err := s.db.ListRecentPeriods(reconcileWindow)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list periods for reconciliation")
		return
	}

	for _, period := range periods {
		if period.PeriodType != PeriodTypeDaily || period.Status != StatusClosed {
			continue
		}

		events, err := s.matching.GetEventsByPeriod(period.PeriodID)
		if err != nil {
			logger.Error().Err(err).Str("period_id", period.PeriodID).Msg("failed to load events for reconciliation")
			continue
		}
		if len(events) == 0 {
			continue
		}

		entries, err := s.commission.GetLedgerByPeriod(period.PeriodID)
		if err != nil {
			logger.Error().Err(err).Str("period_id", period.PeriodID).Msg("failed to load ledger for reconciliation")
			continue
		}
		monetized := make(map[string]*commission.LedgerEntry, len(entries))
		for i := range entries {
			if entries[i].Kind == commission.KindPairCommission {
				monetized[entries[i].SourceEventID] = &entries[i]
			}
		}

		cfg, err := config.FromSnapshot(period.ConfigSnapshot)
		if err != nil {
			logger.Error().Err(err).Str("period_id", period.PeriodID).Msg("failed to restore period config for reconciliation")
			continue
		}

		for _, event := range events {
			entry := monetized[event.EventID]
			if entry == nil {
				entry, err = s.commission.ProcessPairMatch(event, cfg)
				if err != nil {
					result.Failures[event.DistributorID] = err.Error()
					continue
				}
				result.Reconciled++
				result.LedgerEntries++

				logger.Info().
					Str("event_id", event.EventID).
					Str("distributor_id", event.DistributorID).
					Str("period_id", period.PeriodID).
					Msg("unmonetized pair match event replayed")
			}

			// No-op for entries the level engine has already seen
			changes, err := s.level.Apply(entry, cfg)
			if err != nil {
				result.Failures[event.DistributorID] = err.Error()
				continue
			}
			result.LevelChanges += len(changes)
		}
	}
}

// closePeriod walks the one-way Open -> Closing -> Closed transition.
func (s *Service) closePeriod(periodID string) error {
	if err := s.db.UpdatePeriodStatus(periodID, StatusOpen, StatusClosing, nil); err != nil {
		return err
	}
	now := time.Now()
	return s.db.UpdatePeriodStatus(periodID, StatusClosing, StatusClosed, &now)
}

// CloseMonth closes the open monthly period, applying carry-forward to
// every distributor's leftover leg counts and zeroing the new counts for
// the closed period. Each distributor is mutated in its own transaction;
// one failure never blocks the rest.
func (s *Service) CloseMonth() (*CarryForwardResult, error) {
	period, err := s.db.GetOpenPeriod(PeriodTypeMonthly)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, ErrNoOpenPeriod
	}

	cfg, err := config.FromSnapshot(period.ConfigSnapshot)
	if err != nil {
		return nil, err
	}

	logger := log.With().
		Str("period_id", period.PeriodID).
		Str("service", "settlement").
		Logger()

	logger.Info().Msg("closing monthly period")

	if err := s.db.UpdatePeriodStatus(period.PeriodID, StatusOpen, StatusClosing, nil); err != nil {
		return nil, err
	}

	result := &CarryForwardResult{
		PeriodID: period.PeriodID,
		Failures: make(map[string]string),
	}

	ids, err := s.db.ListCounterDistributorIDs()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		counters, err := s.db.GetCounters(id)
		if err != nil {
			result.Failures[id] = err.Error()
			continue
		}

		carried, forfeited := applyCarryForward(counters, cfg.CarryForward)

		if err := s.db.SaveCounters(counters); err != nil {
			result.Failures[id] = err.Error()
			continue
		}

		result.Zeroed++
		if carried {
			result.Carried++
		}
		result.Forfeited += forfeited
	}

	if cfg.LevelResetOnMonthlyClose {
		if err := s.level.ResetLevels(cfg); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if err := s.db.UpdatePeriodStatus(period.PeriodID, StatusClosing, StatusClosed, &now); err != nil {
		return nil, err
	}

	logger.Info().
		Int("carried", result.Carried).
		Int("forfeited", result.Forfeited).
		Int("failures", len(result.Failures)).
		Msg("monthly period closed")

	return result, nil
}

// applyCarryForward mutates one distributor's counters across the
// monthly boundary: age out expired carried buckets, move the allowed
// share of the leftover new counts into the carried buckets, then zero
// the new counts for the closed period. Returns whether anything was
// newly carried and how many buckets were forfeited by age.
func applyCarryForward(counters *types.SubtreeCounters, policy config.CarryForwardPolicy) (bool, int) {
	forfeited := 0

	// Age the existing backlog first. A bucket that has survived more
	// than MaxPeriods consecutive periods is discarded, not carried
	// further: designed forfeiture.
	if policy.Enabled {
		if counters.CarriedLeftCount > 0 {
			counters.CarriedLeftAge++
			if counters.CarriedLeftAge > policy.MaxPeriods {
				counters.CarriedLeftCount = 0
				counters.CarriedLeftAge = 0
				forfeited++
			}
		}
		if counters.CarriedRightCount > 0 {
			counters.CarriedRightAge++
			if counters.CarriedRightAge > policy.MaxPeriods {
				counters.CarriedRightCount = 0
				counters.CarriedRightAge = 0
				forfeited++
			}
		}
	}

	carryLeft, carryRight := 0, 0
	if policy.Enabled {
		carryLeft = carryAmount(counters.NewLeftCount, policy)
		carryRight = carryAmount(counters.NewRightCount, policy)

		if policy.WeakLegOnly {
			// Only the lesser leg's remainder moves forward
			if counters.NewLeftCount <= counters.NewRightCount {
				carryRight = 0
			} else {
				carryLeft = 0
			}
		}

		if carryLeft > 0 {
			if counters.CarriedLeftCount == 0 {
				counters.CarriedLeftAge = 1
			}
			counters.CarriedLeftCount += carryLeft
		}
		if carryRight > 0 {
			if counters.CarriedRightCount == 0 {
				counters.CarriedRightAge = 1
			}
			counters.CarriedRightCount += carryRight
		}
	}

	counters.NewLeftCount = 0
	counters.NewRightCount = 0

	return carryLeft > 0 || carryRight > 0, forfeited
}

// carryAmount applies the percentage and the absolute cap to one leg's
// remainder.
func carryAmount(remainder int, policy config.CarryForwardPolicy) int {
	carry := int(math.Floor(float64(remainder) * policy.Percentage / 100))
	if carry > policy.MaxAmount {
		carry = policy.MaxAmount
	}
	if carry < 0 {
		carry = 0
	}
	return carry
}

// ProcessPurchaseActivated routes a purchase event through the
// calculator and ceiling engine against the open daily period.
func (s *Service) ProcessPurchaseActivated(event types.PurchaseActivated) (*commission.LedgerEntry, error) {
	period, cfg, err := s.ensureOpenDaily()
	if err != nil {
		return nil, err
	}

	entry, err := s.commission.ProcessPurchaseActivated(event, period.PeriodID, cfg)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if _, err := s.level.Apply(entry, cfg); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// ProcessReferralCountChanged routes a referral count event through the
// calculator and ceiling engine against the open daily period.
func (s *Service) ProcessReferralCountChanged(event types.DirectReferralCountChanged) (*commission.LedgerEntry, error) {
	period, cfg, err := s.ensureOpenDaily()
	if err != nil {
		return nil, err
	}

	entry, err := s.commission.ProcessReferralCountChanged(event, period.PeriodID, cfg)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		if _, err := s.level.Apply(entry, cfg); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// GetRecentPeriods exposes the latest periods for the console.
func (s *Service) GetRecentPeriods(limit int) ([]SettlementPeriod, error) {
	return s.db.ListRecentPeriods(limit)
}

// GetDB exposes the settlement database to the background processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for settlement endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RunDailyHandler handles POST requests to trigger a daily settlement
// cycle. Requires internal authentication.
func (h *GinHandlers) RunDailyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.RunDaily()
		response.Handle(c, result, err)
	}
}

// CloseMonthHandler handles POST requests to close the monthly period.
// Requires internal authentication.
func (h *GinHandlers) CloseMonthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.service.CloseMonth()
		response.Handle(c, result, err)
	}
}

// PurchaseActivatedHandler handles POST requests delivering
// PurchaseActivated events. Requires internal authentication.
func (h *GinHandlers) PurchaseActivatedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event types.PurchaseActivated
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.ProcessPurchaseActivated(event)
		response.Handle(c, entry, err)
	}
}

// ReferralCountChangedHandler handles POST requests delivering
// DirectReferralCountChanged events. Requires internal authentication.
func (h *GinHandlers) ReferralCountChangedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var event types.DirectReferralCountChanged
		if err := c.ShouldBindJSON(&event); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.ProcessReferralCountChanged(event)
		response.Handle(c, entry, err)
	}
}

// GetPeriodsHandler handles GET requests for recent settlement periods.
func (h *GinHandlers) GetPeriodsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		periods, err := h.service.GetRecentPeriods(30)
		response.Handle(c, periods, err)
	}
}
