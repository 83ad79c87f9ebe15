package migrations

import (
	"fmt"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"gorm.io/gorm"
)

// AddPairMatchEvents creates the append-only pair match event log with
// its lookup indexes.
func AddPairMatchEvents(db *gorm.DB) error {
	if err := db.AutoMigrate(&matching.PairMatchEvent{}); err != nil {
		return fmt.Errorf("failed to migrate pair match events: %w", err)
	}

	// Settlement replays and history views both scan by period
	if !db.Migrator().HasIndex(&matching.PairMatchEvent{}, "idx_pair_match_events_period_id") {
		if err := db.Exec(
			"CREATE INDEX IF NOT EXISTS idx_pair_match_events_period_id ON pair_match_events(period_id)",
		).Error; err != nil {
			return fmt.Errorf("failed to create period index: %w", err)
		}
	}

	return nil
}
