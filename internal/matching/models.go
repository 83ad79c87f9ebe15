package matching

import (
	"time"

	"gorm.io/gorm"
)

// PairMatchEvent is the append-only record of pairs consumed for one
// distributor in one settlement run. Never mutated after creation.
type PairMatchEvent struct {
	gorm.Model    `json:"-"`
	EventID       string    `gorm:"uniqueIndex" json:"event_id"`
	DistributorID string    `gorm:"index" json:"distributor_id"`
	MatchedPairs  int       `json:"matched_pairs"`
	PeriodID      string    `gorm:"index" json:"period_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// MatchOutcome is the pure result of the matching computation for one
// distributor, before anything is persisted.
type MatchOutcome struct {
	RawMatches           int
	MatchedPairs         int
	ConsumedCarriedLeft  int
	ConsumedCarriedRight int
	ConsumedNewLeft      int
	ConsumedNewRight     int
}

// RunReport summarizes one matching pass. Failures are keyed by
// distributor ID; a failed distributor is retried on the next run and
// never blocks the others.
type RunReport struct {
	PeriodID  string            `json:"period_id"`
	Processed int               `json:"processed"`
	Events    []PairMatchEvent  `json:"events"`
	Failures  map[string]string `json:"failures,omitempty"`
}
