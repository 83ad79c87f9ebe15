package database

import (
	"fmt"

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/database/migrations"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/level"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/settlement"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "compensation.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddPairMatchEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddCarryForwardAges(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Distributor{},
		&types.SubtreeCounters{},
		&commission.LedgerEntry{},
		&commission.EarningsState{},
		&commission.WalletBalance{},
		&level.LevelState{},
		&level.LevelChangeEvent{},
		&level.AppliedEntry{},
		&settlement.SettlementPeriod{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
