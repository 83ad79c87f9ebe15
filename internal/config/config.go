package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
)

// ErrConfigInvariant marks a configuration that passed field validation
// but violates a cross-field business invariant.
var ErrConfigInvariant = errors.New("config invariant violation")

// CarryForwardPolicy controls how unmatched leg counts move across the
// monthly period boundary.
type CarryForwardPolicy struct {
	Enabled     bool    `json:"enabled"`
	WeakLegOnly bool    `json:"weak_leg_only"`
	MaxPeriods  int     `json:"max_periods" validate:"gte=0"`
	Percentage  float64 `json:"percentage" validate:"gte=0,lte=100"`
	MaxAmount   int     `json:"max_amount" validate:"gte=0"`
}

// LevelTier is one row of the ceiling table: reaching Ceiling in
// cumulative net earnings while on Level triggers promotion to the next
// tier.
type LevelTier struct {
	Level   int     `json:"level" validate:"gte=1"`
	Ceiling float64 `json:"ceiling" validate:"gt=0"`
}

// CommissionConfig is the immutable snapshot of tunable compensation
// parameters. A snapshot is frozen onto every settlement period when it
// opens; the engines only ever receive it as an explicit value, never as
// a mutable global.
type CommissionConfig struct {
	ActivationThreshold            int        `json:"activation_threshold" validate:"gte=1"`
	DirectUserCommissionAmount     float64    `json:"direct_user_commission_amount" validate:"gte=0"`
	BinaryPairCommissionAmount     float64    `json:"binary_pair_commission_amount" validate:"gte=0"`
	BinaryTdsThresholdPairs        int        `json:"binary_tds_threshold_pairs" validate:"gte=0"`
	BinaryCommissionTdsPercentage  float64    `json:"binary_commission_tds_percentage" validate:"gte=0,lte=100"`
	BinaryExtraDeductionPercentage float64    `json:"binary_extra_deduction_percentage" validate:"gte=0,lte=100"`
	BinaryDailyPairLimit           int        `json:"binary_daily_pair_limit" validate:"gte=1"`
	MaxEarningsBeforeActiveBuyer   int        `json:"max_earnings_before_active_buyer" validate:"gte=1"`
	BinaryCommissionInitialBonus   float64    `json:"binary_commission_initial_bonus" validate:"gte=0"`
	DefaultPlacementSide           types.Side `json:"default_placement_side" validate:"oneof=LEFT RIGHT"`
	MaxTreeDepth                   int        `json:"max_tree_depth" validate:"gte=1"`
	LevelResetOnMonthlyClose       bool       `json:"level_reset_on_monthly_close"`
	CarryForward                   CarryForwardPolicy `json:"carry_forward"`
	LevelTable                     []LevelTier        `json:"level_table" validate:"min=1,dive"`
}

// Default returns the compensation parameters the settings console ships
// with before any operator edits.
func Default() CommissionConfig {
	return CommissionConfig{
		ActivationThreshold:            3,
		DirectUserCommissionAmount:     500,
		BinaryPairCommissionAmount:     2000,
		BinaryTdsThresholdPairs:        5,
		BinaryCommissionTdsPercentage:  20,
		BinaryExtraDeductionPercentage: 20,
		BinaryDailyPairLimit:           10,
		MaxEarningsBeforeActiveBuyer:   5,
		BinaryCommissionInitialBonus:   1000,
		DefaultPlacementSide:           types.SideLeft,
		MaxTreeDepth:                   30,
		CarryForward: CarryForwardPolicy{
			Enabled:     true,
			WeakLegOnly: true,
			MaxPeriods:  3,
			Percentage:  100,
			MaxAmount:   100,
		},
		LevelTable: []LevelTier{
			{Level: 1, Ceiling: 50000},
			{Level: 2, Ceiling: 200000},
			{Level: 3, Ceiling: 500000},
			{Level: 4, Ceiling: 1500000},
			{Level: 5, Ceiling: 5000000},
		},
	}
}

// Load builds the configuration from the environment, starting from
// Default and overriding with any COMP_* variables found. A .env file is
// honoured if present. The result is validated before it is returned; a
// bad environment never yields a partially applied config.
func Load() (CommissionConfig, error) {
	// Missing .env is fine, variables may come from the real environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := Default()

	intVar(&cfg.ActivationThreshold, "COMP_ACTIVATION_THRESHOLD")
	floatVar(&cfg.DirectUserCommissionAmount, "COMP_DIRECT_COMMISSION_AMOUNT")
	floatVar(&cfg.BinaryPairCommissionAmount, "COMP_PAIR_COMMISSION_AMOUNT")
	intVar(&cfg.BinaryTdsThresholdPairs, "COMP_TDS_THRESHOLD_PAIRS")
	floatVar(&cfg.BinaryCommissionTdsPercentage, "COMP_TDS_PERCENTAGE")
	floatVar(&cfg.BinaryExtraDeductionPercentage, "COMP_EXTRA_DEDUCTION_PERCENTAGE")
	intVar(&cfg.BinaryDailyPairLimit, "COMP_DAILY_PAIR_LIMIT")
	intVar(&cfg.MaxEarningsBeforeActiveBuyer, "COMP_MAX_EARNINGS_BEFORE_ACTIVE_BUYER")
	floatVar(&cfg.BinaryCommissionInitialBonus, "COMP_INITIAL_BONUS")
	intVar(&cfg.MaxTreeDepth, "COMP_MAX_TREE_DEPTH")
	boolVar(&cfg.LevelResetOnMonthlyClose, "COMP_LEVEL_RESET_ON_MONTHLY_CLOSE")

	if v := os.Getenv("COMP_DEFAULT_PLACEMENT_SIDE"); v != "" {
		cfg.DefaultPlacementSide = types.Side(v)
	}

	boolVar(&cfg.CarryForward.Enabled, "COMP_CARRY_FORWARD_ENABLED")
	boolVar(&cfg.CarryForward.WeakLegOnly, "COMP_CARRY_FORWARD_WEAK_LEG_ONLY")
	intVar(&cfg.CarryForward.MaxPeriods, "COMP_CARRY_FORWARD_MAX_PERIODS")
	floatVar(&cfg.CarryForward.Percentage, "COMP_CARRY_FORWARD_PERCENTAGE")
	intVar(&cfg.CarryForward.MaxAmount, "COMP_CARRY_FORWARD_MAX_AMOUNT")

	if v := os.Getenv("COMP_LEVEL_TABLE"); v != "" {
		var table []LevelTier
		if err := json.Unmarshal([]byte(v), &table); err != nil {
			return CommissionConfig{}, fmt.Errorf("failed to parse COMP_LEVEL_TABLE: %w", err)
		}
		cfg.LevelTable = table
	}

	if err := cfg.Validate(); err != nil {
		return CommissionConfig{}, err
	}
	return cfg, nil
}

// Validate rejects malformed parameters before any period can open under
// them. Field ranges are enforced strictly; a deduction total above 100%
// is only warned about here because the calculator clamps it per entry.
func (c CommissionConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvariant, err)
	}

	// Level table must be strictly ascending in both level and ceiling
	table := append([]LevelTier(nil), c.LevelTable...)
	sort.Slice(table, func(i, j int) bool { return table[i].Level < table[j].Level })
	for i := 1; i < len(table); i++ {
		if table[i].Level == table[i-1].Level {
			return fmt.Errorf("%w: duplicate level %d in level table", ErrConfigInvariant, table[i].Level)
		}
		if table[i].Ceiling <= table[i-1].Ceiling {
			return fmt.Errorf("%w: ceiling for level %d must exceed level %d", ErrConfigInvariant, table[i].Level, table[i-1].Level)
		}
	}

	if c.CarryForward.Enabled && c.CarryForward.MaxPeriods < 1 {
		return fmt.Errorf("%w: carry-forward enabled with max_periods < 1", ErrConfigInvariant)
	}

	if c.BinaryCommissionTdsPercentage+c.BinaryExtraDeductionPercentage > 100 {
		log.Warn().
			Float64("tds_percentage", c.BinaryCommissionTdsPercentage).
			Float64("extra_deduction_percentage", c.BinaryExtraDeductionPercentage).
			Msg("combined deduction percentages exceed 100%, net amounts will be clamped")
	}

	return nil
}

// SortedLevelTable returns the ceiling table ordered by level ascending.
func (c CommissionConfig) SortedLevelTable() []LevelTier {
	table := append([]LevelTier(nil), c.LevelTable...)
	sort.Slice(table, func(i, j int) bool { return table[i].Level < table[j].Level })
	return table
}

// Snapshot serializes the config for freezing onto a settlement period.
func (c CommissionConfig) Snapshot() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot config: %w", err)
	}
	return string(raw), nil
}

// FromSnapshot restores a config frozen onto a closed period.
func FromSnapshot(raw string) (CommissionConfig, error) {
	var cfg CommissionConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return CommissionConfig{}, fmt.Errorf("failed to restore config snapshot: %w", err)
	}
	return cfg, nil
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func floatVar(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

func boolVar(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}
