package matching

import (
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/response"
)

// matchWorkers bounds the per-run worker pool. Distributors are
// independent units of work; each one settles inside its own transaction.
const matchWorkers = 4

// Service converts accumulated leg counters into matched pairs.
type Service struct {
	db *Database
}

// NewService creates a new matching service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// ComputeMatch is the pure matching computation for one distributor.
// Given an identical snapshot of counters and config it always produces
// the same outcome: no randomness, no wall clock.
func ComputeMatch(counters *types.SubtreeCounters, lifetimePairs int, isActiveBuyer bool, cfg config.CommissionConfig) MatchOutcome {
	availableLeft := counters.AvailableLeft()
	availableRight := counters.AvailableRight()

	raw := availableLeft
	if availableRight < raw {
		raw = availableRight
	}

	capped := raw
	if capped > cfg.BinaryDailyPairLimit {
		capped = cfg.BinaryDailyPairLimit
	}

	// Until the distributor is an active buyer, lifetime matched pairs
	// are capped. Counters keep accumulating past the cap as intentional
	// backlog, they are just not consumable yet.
	if !isActiveBuyer {
		remaining := cfg.MaxEarningsBeforeActiveBuyer - lifetimePairs
		if remaining < 0 {
			remaining = 0
		}
		if capped > remaining {
			capped = remaining
		}
	}

	outcome := MatchOutcome{
		RawMatches:   raw,
		MatchedPairs: capped,
	}

	// Carried counts are consumed before new ones so the oldest backlog
	// clears first.
	outcome.ConsumedCarriedLeft = capped
	if counters.CarriedLeftCount < capped {
		outcome.ConsumedCarriedLeft = counters.CarriedLeftCount
	}
	outcome.ConsumedNewLeft = capped - outcome.ConsumedCarriedLeft

	outcome.ConsumedCarriedRight = capped
	if counters.CarriedRightCount < capped {
		outcome.ConsumedCarriedRight = counters.CarriedRightCount
	}
	outcome.ConsumedNewRight = capped - outcome.ConsumedCarriedRight

	return outcome
}

// RunMatching performs one matching pass over all activated distributors
// for the given period. At most one PairMatchEvent is emitted per
// distributor per run. A failure for one distributor is recorded and
// skipped; its counters stay untouched so the next run retries it.
func (s *Service) RunMatching(periodID string, cfg config.CommissionConfig) (*RunReport, error) {
	logger := log.With().
		Str("period_id", periodID).
		Str("service", "matching").
		Logger()

	ids, err := s.db.GetMatchableDistributorIDs()
	if err != nil {
		return nil, err
	}

	logger.Info().Int("distributors", len(ids)).Msg("starting matching run")

	report := &RunReport{
		PeriodID: periodID,
		Failures: make(map[string]string),
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < matchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for distributorID := range jobs {
				event, err := s.matchDistributor(distributorID, periodID, cfg)

				mu.Lock()
				report.Processed++
				if err != nil {
					report.Failures[distributorID] = err.Error()
				} else if event != nil {
					report.Events = append(report.Events, *event)
				}
				mu.Unlock()
			}
		}()
	}

	for _, id := range ids {
		jobs <- id
	}
	close(jobs)
	wg.Wait()

	// Workers finish in arbitrary order; sort so the report is stable
	sort.Slice(report.Events, func(i, j int) bool {
		return report.Events[i].DistributorID < report.Events[j].DistributorID
	})

	logger.Info().
		Int("processed", report.Processed).
		Int("events", len(report.Events)).
		Int("failures", len(report.Failures)).
		Msg("matching run completed")

	return report, nil
}

// matchDistributor computes and settles the match for one distributor.
func (s *Service) matchDistributor(distributorID, periodID string, cfg config.CommissionConfig) (*PairMatchEvent, error) {
	distributor, counters, err := s.db.GetDistributorWithCounters(distributorID)
	if err != nil {
		return nil, err
	}
	if !distributor.IsActivated {
		return nil, nil
	}

	outcome := ComputeMatch(counters, distributor.TotalMatchedPairs, distributor.IsActiveBuyer, cfg)
	if outcome.MatchedPairs == 0 {
		return nil, nil
	}

	event := &PairMatchEvent{
		EventID:       "PME_" + uuid.New().String(),
		DistributorID: distributorID,
		MatchedPairs:  outcome.MatchedPairs,
		PeriodID:      periodID,
		Timestamp:     time.Now(),
	}

	if err := s.db.SettleDistributor(distributorID, event, outcome); err != nil {
		return nil, err
	}

	log.Debug().
		Str("distributor_id", distributorID).
		Str("period_id", periodID).
		Int("raw_matches", outcome.RawMatches).
		Int("matched_pairs", outcome.MatchedPairs).
		Str("service", "matching").
		Msg("pairs matched")

	return event, nil
}

// GetPairHistory returns the pair matching history for a distributor.
func (s *Service) GetPairHistory(distributorID string) ([]PairMatchEvent, error) {
	return s.db.GetEventsByDistributor(distributorID)
}

// GetEventsByPeriod returns every event settled in one period. The
// settlement reconciler diffs these against the booked ledger entries.
func (s *Service) GetEventsByPeriod(periodID string) ([]PairMatchEvent, error) {
	return s.db.GetEventsByPeriod(periodID)
}

// GinHandlers contains HTTP handlers for matching endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for matching endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetPairHistoryHandler handles GET requests for a distributor's pair
// matching history. URL parameter: distributor_id
func (h *GinHandlers) GetPairHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		events, err := h.service.GetPairHistory(distributorID)
		response.Handle(c, events, err)
	}
}
