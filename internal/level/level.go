package level

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/response"
)

// Service promotes distributor levels as cumulative net earnings reach
// each ceiling in the configured level table.
type Service struct {
	db *Database
}

// NewService creates a new level service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Apply folds one ledger entry into the distributor's level state. The
// excess above a crossed ceiling carries over: the running total is
// measured against the new, higher ceiling rather than reset. Earnings
// past the highest configured level accumulate without further
// promotion. Idempotent per entry: a replayed entry is a no-op. Returns
// the promotion events emitted, if any.
func (s *Service) Apply(entry *commission.LedgerEntry, cfg config.CommissionConfig) ([]LevelChangeEvent, error) {
	if entry == nil || entry.NetAmount == 0 {
		return nil, nil
	}

	applied, err := s.db.EntryApplied(entry.EntryID)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, nil
	}

	table := cfg.SortedLevelTable()

	state, err := s.db.GetState(entry.DistributorID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &LevelState{
			DistributorID:   entry.DistributorID,
			CurrentLevel:    table[0].Level,
			CeilingForLevel: table[0].Ceiling,
		}
	}

	state.CumulativeAchieved += entry.NetAmount

	var events []LevelChangeEvent
	for {
		next, ok := nextTier(table, state.CurrentLevel)
		if !ok || state.CumulativeAchieved < state.CeilingForLevel {
			break
		}

		from := state.CurrentLevel
		state.CurrentLevel = next.Level
		state.CeilingForLevel = next.Ceiling

		events = append(events, LevelChangeEvent{
			EventID:            "LVL_" + uuid.New().String(),
			DistributorID:      entry.DistributorID,
			FromLevel:          from,
			ToLevel:            next.Level,
			CumulativeAchieved: state.CumulativeAchieved,
			PeriodID:           entry.PeriodID,
			Timestamp:          time.Now(),
		})
	}

	if err := s.db.CommitState(state, events, entry.EntryID); err != nil {
		return nil, err
	}

	for _, event := range events {
		log.Info().
			Str("distributor_id", event.DistributorID).
			Int("from_level", event.FromLevel).
			Int("to_level", event.ToLevel).
			Float64("cumulative_achieved", event.CumulativeAchieved).
			Str("service", "level").
			Msg("level promoted")
	}

	return events, nil
}

// nextTier finds the tier directly above the current level in the table.
func nextTier(table []config.LevelTier, currentLevel int) (config.LevelTier, bool) {
	for i, tier := range table {
		if tier.Level == currentLevel && i+1 < len(table) {
			return table[i+1], true
		}
	}
	return config.LevelTier{}, false
}

// ResetLevels demotes all distributors to the first tier. Cumulative
// totals are kept; only the level and its ceiling reset.
func (s *Service) ResetLevels(cfg config.CommissionConfig) error {
	table := cfg.SortedLevelTable()
	return s.db.ResetStates(table[0].Level, table[0].Ceiling)
}

// GetState returns the level state for a distributor, defaulting to the
// first tier for distributors with no earnings yet.
func (s *Service) GetState(distributorID string, cfg config.CommissionConfig) (*LevelState, error) {
	state, err := s.db.GetState(distributorID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		table := cfg.SortedLevelTable()
		state = &LevelState{
			DistributorID:   distributorID,
			CurrentLevel:    table[0].Level,
			CeilingForLevel: table[0].Ceiling,
		}
	}
	return state, nil
}

// GetHistory returns the promotion history for a distributor.
func (s *Service) GetHistory(distributorID string) ([]LevelChangeEvent, error) {
	return s.db.GetChangeEvents(distributorID)
}

// GinHandlers contains HTTP handlers for level endpoints
type GinHandlers struct {
	service *Service
	cfg     config.CommissionConfig
}

// NewGinHandlers creates a new set of HTTP handlers for level endpoints
func NewGinHandlers(service *Service, cfg config.CommissionConfig) *GinHandlers {
	return &GinHandlers{
		service: service,
		cfg:     cfg,
	}
}

// GetLevelHandler handles GET requests for a distributor's level state.
// URL parameter: distributor_id
func (h *GinHandlers) GetLevelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		state, err := h.service.GetState(distributorID, h.cfg)
		response.Handle(c, state, err)
	}
}

// GetLevelHistoryHandler handles GET requests for a distributor's
// promotion history. URL parameter: distributor_id
func (h *GinHandlers) GetLevelHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		distributorID := c.Param("distributor_id")

		events, err := h.service.GetHistory(distributorID)
		response.Handle(c, events, err)
	}
}
