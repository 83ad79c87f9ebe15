package tree

import (
	"errors"
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

// GetDistributor retrieves a distributor by its ID, returning nil when it
// does not exist.
func (d *Database) GetDistributor(distributorID string) (*types.Distributor, error) {
	var distributor types.Distributor
	if err := d.db.Where("distributor_id = ?", distributorID).First(&distributor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch distributor: %w", err)
	}
	return &distributor, nil
}

// GetDistributorsByIDs fetches a batch of distributors keyed by ID.
func (d *Database) GetDistributorsByIDs(ids []string) (map[string]types.Distributor, error) {
	result := make(map[string]types.Distributor, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var distributors []types.Distributor
	if err := d.db.Where("distributor_id IN ?", ids).Find(&distributors).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch distributors: %w", err)
	}
	for _, distributor := range distributors {
		result[distributor.DistributorID] = distributor
	}
	return result, nil
}

// GetRoot returns the tree root, the single distributor with no parent.
func (d *Database) GetRoot() (*types.Distributor, error) {
	var distributor types.Distributor
	if err := d.db.Where("parent_id = ?", "").First(&distributor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch tree root: %w", err)
	}
	return &distributor, nil
}

// GetCounters retrieves the subtree counters for a distributor.
func (d *Database) GetCounters(distributorID string) (*types.SubtreeCounters, error) {
	var counters types.SubtreeCounters
	if err := d.db.Where("distributor_id = ?", distributorID).First(&counters).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subtree counters: %w", err)
	}
	return &counters, nil
}

// ApplyPlacement persists a placement as a single transaction: the new
// distributor row, its zeroed counters, the parent's child pointer and one
// leg-counter increment per ancestor on the path to the root. Two
// concurrent placements under the same lineage must not lose an
// increment, so callers serialize placements before reaching this point.
func (d *Database) ApplyPlacement(distributor *types.Distributor, parent *types.Distributor, side types.Side, increments []LegIncrement) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(distributor).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create distributor: %w", err)
	}

	counters := &types.SubtreeCounters{DistributorID: distributor.DistributorID}
	if err := tx.Create(counters).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to create subtree counters: %w", err)
	}

	if parent != nil {
		column := "left_child_id"
		if side == types.SideRight {
			column = "right_child_id"
		}
		result := tx.Model(&types.Distributor{}).
			Where("distributor_id = ? AND "+column+" = ?", parent.DistributorID, "").
			Update(column, distributor.DistributorID)
		if result.Error != nil {
			tx.Rollback()
			return fmt.Errorf("failed to attach child pointer: %w", result.Error)
		}
		// The guarded update refusing to overwrite a taken slot is the
		// no-overwrite-without-detach invariant at the storage layer.
		if result.RowsAffected == 0 {
			tx.Rollback()
			return fmt.Errorf("slot %s of %s is no longer empty", side, parent.DistributorID)
		}
	}

	for _, inc := range increments {
		column := "new_left_count"
		if inc.Side == types.SideRight {
			column = "new_right_count"
		}
		if err := tx.Model(&types.SubtreeCounters{}).
			Where("distributor_id = ?", inc.DistributorID).
			Update(column, gorm.Expr(column+" + 1")).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to increment leg counter for %s: %w", inc.DistributorID, err)
		}
	}

	return tx.Commit().Error
}
