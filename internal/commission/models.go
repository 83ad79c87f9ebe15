package commission

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	KindDirectCommission = "DIRECT_COMMISSION"
	KindPairCommission   = "PAIR_COMMISSION"
	KindActivationBonus  = "ACTIVATION_BONUS"
)

var (
	ErrDistributorNotFound = errors.New("distributor not found")

	// ErrBonusAlreadyPaid signals a duplicate activation event delivery.
	// It is absorbed by callers, logged rather than retried.
	ErrBonusAlreadyPaid = errors.New("activation bonus already paid")
)

// LedgerEntry is the immutable monetary record appended for every
// commission. Invariant: NetAmount = GrossAmount - TdsAmount -
// ExtraDeductionAmount, and NetAmount >= 0.
type LedgerEntry struct {
	gorm.Model           `json:"-"`
	EntryID              string    `gorm:"uniqueIndex" json:"entry_id"`
	DistributorID        string    `gorm:"index" json:"distributor_id"`
	Kind                 string    `json:"kind"`
	GrossAmount          float64   `json:"gross_amount"`
	TdsAmount            float64   `json:"tds_amount"`
	ExtraDeductionAmount float64   `json:"extra_deduction_amount"`
	NetAmount            float64   `json:"net_amount"`
	PeriodID             string    `gorm:"index" json:"period_id"`
	SourceEventID        string    `gorm:"index" json:"source_event_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// EarningsState is the calculator's persisted per-distributor state: the
// cumulative pairs paid since activation (drives the TDS threshold split)
// and the exactly-once guard for the activation bonus.
type EarningsState struct {
	gorm.Model           `json:"-"`
	DistributorID        string `gorm:"uniqueIndex" json:"distributor_id"`
	PairsSinceActivation int    `json:"pairs_since_activation"`
	ActivationBonusPaid  bool   `json:"activation_bonus_paid"`
}

// WalletBalance is the wallet sink every net amount is deposited into.
type WalletBalance struct {
	gorm.Model    `json:"-"`
	DistributorID string  `gorm:"uniqueIndex" json:"distributor_id"`
	Balance       float64 `json:"balance"`
	TotalEarned   float64 `json:"total_earned"`
}
