package settlement

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	PeriodTypeDaily   = "DAILY"
	PeriodTypeMonthly = "MONTHLY"

	StatusOpen    = "OPEN"
	StatusClosing = "CLOSING"
	StatusClosed  = "CLOSED"
)

var (
	ErrPeriodAlreadyOpen = errors.New("a period of this type is already open")
	ErrNoOpenPeriod      = errors.New("no open period of this type")
	ErrPeriodNotOpen     = errors.New("period is not open")
)

// SettlementPeriod is the one-way Open -> Closing -> Closed state
// machine. At most one daily and one monthly period are open at a time;
// a closed period is never reopened. The config snapshot frozen at open
// time is retained for audit and never mutated retroactively.
type SettlementPeriod struct {
	gorm.Model     `json:"-"`
	PeriodID       string     `gorm:"uniqueIndex" json:"period_id"`
	PeriodType     string     `gorm:"index" json:"period_type"` // DAILY or MONTHLY
	Status         string     `json:"status"`                   // OPEN, CLOSING, CLOSED
	OpenedAt       time.Time  `json:"opened_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	ConfigSnapshot string     `json:"-"`
}

// RunResult summarizes one daily settlement cycle. Reconciled counts the
// pair match events from earlier periods that were replayed into the
// ledger at the start of this run.
type RunResult struct {
	PeriodID      string            `json:"period_id"`
	MatchedEvents int               `json:"matched_events"`
	LedgerEntries int               `json:"ledger_entries"`
	LevelChanges  int               `json:"level_changes"`
	Reconciled    int               `json:"reconciled"`
	Failures      map[string]string `json:"failures,omitempty"`
}

// CarryForwardResult summarizes the monthly carry-forward application.
type CarryForwardResult struct {
	PeriodID  string            `json:"period_id"`
	Carried   int               `json:"carried"`   // distributors with a non-zero new carry
	Forfeited int               `json:"forfeited"` // carried buckets discarded by age
	Zeroed    int               `json:"zeroed"`    // distributors whose new counts were reset
	Failures  map[string]string `json:"failures,omitempty"`
}
