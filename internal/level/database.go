package level

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetState loads the level state for a distributor, nil when the
// distributor has never earned.
func (d *Database) GetState(distributorID string) (*LevelState, error) {
	var state LevelState
	err := d.db.Where("distributor_id = ?", distributorID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch level state: %w", err)
	}
	return &state, nil
}

// EntryApplied reports whether a ledger entry was already folded into
// level state.
func (d *Database) EntryApplied(entryID string) (bool, error) {
	var count int64
	if err := d.db.Model(&AppliedEntry{}).
		Where("entry_id = ?", entryID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check applied entry: %w", err)
	}
	return count > 0, nil
}

// CommitState saves the state, appends any promotion events and records
// the applied entry, all in one transaction.
func (d *Database) CommitState(state *LevelState, events []LevelChangeEvent, entryID string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(state).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to save level state: %w", err)
	}

	for i := range events {
		if err := tx.Create(&events[i]).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to append level change event: %w", err)
		}
	}

	if err := tx.Create(&AppliedEntry{EntryID: entryID}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record applied entry: %w", err)
	}

	return tx.Commit().Error
}

// ResetStates demotes every level state to the given tier. Only invoked
// under the monthly reset policy, which is off by default.
func (d *Database) ResetStates(level int, ceiling float64) error {
	if err := d.db.Model(&LevelState{}).
		Where("1 = 1").
		Updates(map[string]interface{}{
			"current_level":     level,
			"ceiling_for_level": ceiling,
		}).Error; err != nil {
		return fmt.Errorf("failed to reset level states: %w", err)
	}
	return nil
}

// GetChangeEvents returns a distributor's promotion history, newest
// first.
func (d *Database) GetChangeEvents(distributorID string) ([]LevelChangeEvent, error) {
	var events []LevelChangeEvent
	if err := d.db.Where("distributor_id = ?", distributorID).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch level change events: %w", err)
	}
	return events, nil
}
