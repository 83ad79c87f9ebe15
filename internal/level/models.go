package level

import (
	"time"

	"gorm.io/gorm"
)

// LevelState tracks one distributor's cumulative net earnings against the
// ceiling of its current level. CumulativeAchieved is a running total
// that only grows; the level is never demoted unless the monthly reset
// policy is switched on.
type LevelState struct {
	gorm.Model         `json:"-"`
	DistributorID      string  `gorm:"uniqueIndex" json:"distributor_id"`
	CurrentLevel       int     `json:"current_level"`
	CumulativeAchieved float64 `json:"cumulative_achieved"`
	CeilingForLevel    float64 `json:"ceiling_for_level"`
}

// AppliedEntry marks a ledger entry as already folded into level state.
// Settlement replays re-feed entries through Apply; the marker makes the
// second application a no-op instead of a double count.
type AppliedEntry struct {
	gorm.Model `json:"-"`
	EntryID    string `gorm:"uniqueIndex" json:"entry_id"`
}

// LevelChangeEvent is the append-only promotion record emitted for the
// notification and reporting subsystems.
type LevelChangeEvent struct {
	gorm.Model         `json:"-"`
	EventID            string    `gorm:"uniqueIndex" json:"event_id"`
	DistributorID      string    `gorm:"index" json:"distributor_id"`
	FromLevel          int       `json:"from_level"`
	ToLevel            int       `json:"to_level"`
	CumulativeAchieved float64   `json:"cumulative_achieved"`
	PeriodID           string    `json:"period_id"`
	Timestamp          time.Time `json:"timestamp"`
}
