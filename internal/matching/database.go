package matching

import (
	"fmt"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetMatchableDistributorIDs returns the IDs of all activated
// distributors, ordered by ID so a run over an identical snapshot always
// walks the same sequence.
func (d *Database) GetMatchableDistributorIDs() ([]string, error) {
	var ids []string
	if err := d.db.Model(&types.Distributor{}).
		Where("is_activated = ?", true).
		Order("distributor_id ASC").
		Pluck("distributor_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list matchable distributors: %w", err)
	}
	return ids, nil
}

/// SettleDistributor applies one distributor's match outcome atomically:
// the pair match event, the counter decrements and the lifetime pair
// total. This is the per-distributor transactional boundary of a run.
func (d *Database) SettleDistributor(distributorID string, event *PairMatchEvent, outcome MatchOutcome) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(event).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create pair match event: %w", err)
	}

	updates := map[string]interface{}{
		"carried_left_count":  gorm.Expr("carried_left_count - ?", outcome.ConsumedCarriedLeft),
		"carried_right_count": gorm.Expr("carried_right_count - ?", outcome.ConsumedCarriedRight),
		"new_left_count":      gorm.Expr("new_left_count - ?", outcome.ConsumedNewLeft),
		"new_right_count":     gorm.Expr("new_right_count - ?", outcome.ConsumedNewRight),
	}
	if err := tx.Model(&types.SubtreeCounters{}).
		Where("distributor_id = ?", distributorID).
		Updates(updates).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to decrement counters: %w", err)
	}

	if err := tx.Model(&types.Distributor{}).
		Where("distributor_id = ?", distributorID).
		Update("total_matched_pairs", gorm.Expr("total_matched_pairs + ?", outcome.MatchedPairs)).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update lifetime pair total: %w", err)
	}

	return tx.Commit().Error
}

// GetDistributorWithCounters loads the matching inputs for one
// distributor.
func (d *Database) GetDistributorWithCounters(distributorID string) (*types.Distributor, *types.SubtreeCounters, error) {
	var distributor types.Distributor
	if err := d.db.Where("distributor_id = ?", distributorID).First(&distributor).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to fetch distributor: %w", err)
	}

	var counters types.SubtreeCounters
	if err := d.db.Where("distributor_id = ?", distributorID).First(&counters).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to fetch subtree counters: %w", err)
	}
	return &distributor, &counters, nil
}

// GetEventsByDistributor returns the pair matching history for a
// distributor, newest first.
func (d *Database) GetEventsByDistributor(distributorID string) ([]PairMatchEvent, error) {
	var events []PairMatchEvent
	if err := d.db.Where("distributor_id = ?", distributorID).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pair match events: %w", err)
	}
	return events, nil
}

// GetEventsByPeriod returns all events emitted in one period.
func (d *Database) GetEventsByPeriod(periodID string) ([]PairMatchEvent, error) {
	var events []PairMatchEvent
	if err := d.db.Where("period_id = ?", periodID).
		Order("distributor_id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch pair match events for period: %w", err)
	}
	return events, nil
}
