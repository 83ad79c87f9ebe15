package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOpenPeriod returns the open period of the given type, nil when none
// is open.
func (d *Database) GetOpenPeriod(periodType string) (*SettlementPeriod, error) {
	var period SettlementPeriod
	err := d.db.Where("period_type = ? AND status = ?", periodType, StatusOpen).First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open period: %w", err)
	}
	return &period, nil
}

// GetPeriod retrieves a period by its ID.
func (d *Database) GetPeriod(periodID string) (*SettlementPeriod, error) {
	var period SettlementPeriod
	if err := d.db.Where("period_id = ?", periodID).First(&period).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch period: %w", err)
	}
	return &period, nil
}

// CreatePeriod opens a new period row.
func (d *Database) CreatePeriod(period *SettlementPeriod) error {
	return d.db.Create(period).Error
}

// UpdatePeriodStatus advances the period state machine. The guard on the
// current status makes the transition one-way.
func (d *Database) UpdatePeriodStatus(periodID, fromStatus, toStatus string, closedAt *time.Time) error {
	updates := map[string]interface{}{"status": toStatus}
	if closedAt != nil {
		updates["closed_at"] = closedAt
	}

	result := d.db.Model(&SettlementPeriod{}).
		Where("period_id = ? AND status = ?", periodID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update period status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPeriodNotOpen
	}
	return nil
}

// ListCounterDistributorIDs returns the IDs of all distributors with a
// counters row, ordered for deterministic iteration.
func (d *Database) ListCounterDistributorIDs() ([]string, error) {
	var ids []string
	if err := d.db.Model(&types.SubtreeCounters{}).
		Order("distributor_id ASC").
		Pluck("distributor_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list counter rows: %w", err)
	}
	return ids, nil
}

// GetCounters loads the counters row for one distributor.
func (d *Database) GetCounters(distributorID string) (*types.SubtreeCounters, error) {
	var counters types.SubtreeCounters
	if err := d.db.Where("distributor_id = ?", distributorID).First(&counters).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subtree counters: %w", err)
	}
	return &counters, nil
}

// SaveCounters persists a carry-forward mutation for one distributor in
// its own transaction, the per-distributor atomicity boundary of the
// monthly close.
func (d *Database) SaveCounters(counters *types.SubtreeCounters) error {
	return d.db.Save(counters).Error
}

// GetLatestPeriod returns the most recently opened period of a type,
// nil when none exists.
func (d *Database) GetLatestPeriod(periodType string) (*SettlementPeriod, error) {
	var period SettlementPeriod
	err := d.db.Where("period_type = ?", periodType).
		Order("opened_at DESC").
		First(&period).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest period: %w", err)
	}
	return &period, nil
}

// ListRecentPeriods returns the latest periods for the status endpoint.
func (d *Database) ListRecentPeriods(limit int) ([]SettlementPeriod, error) {
	var periods []SettlementPeriod
	if err := d.db.Order("opened_at DESC").Limit(limit).Find(&periods).Error; err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	return periods, nil
}
