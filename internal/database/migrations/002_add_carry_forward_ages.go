package migrations

import (
	"fmt"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"gorm.io/gorm"
)

// AddCarryForwardAges backfills the per-bucket age columns on subtree
// counters for databases created before carry-forward aging existed.
func AddCarryForwardAges(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.SubtreeCounters{}); err != nil {
		return fmt.Errorf("failed to migrate subtree counters: %w", err)
	}

	for _, column := range []string{"carried_left_age", "carried_right_age"} {
		if !db.Migrator().HasColumn(&types.SubtreeCounters{}, column) {
			if err := db.Migrator().AddColumn(&types.SubtreeCounters{}, column); err != nil {
				return fmt.Errorf("failed to add column %s: %w", column, err)
			}
		}
	}

	return nil
}
