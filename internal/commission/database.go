package commission

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

// GetDistributor retrieves a distributor by ID, nil when absent.
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

// GetEarningsState loads (or initializes) the calculator state for a
// distributor.
func (d *Database) GetEarningsState(distributorID string) (*EarningsState, error) {
	var state EarningsState
	err := d.db.Where("distributor_id = ?", distributorID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &EarningsState{DistributorID: distributorID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch earnings state: %w", err)
	}
	return &state, nil
}

// GetEntryBySource returns an existing ledger entry for a source event
// and kind, nil when none exists. Used to absorb duplicate deliveries.
func (d *Database) GetEntryBySource(sourceEventID, kind string) (*LedgerEntry, error) {
	var entry LedgerEntry
	err := d.db.Where("source_event_id = ? AND kind = ?", sourceEventID, kind).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entry by source: %w", err)
	}
	return &entry, nil
}

// CommitEntry appends a ledger entry, saves the calculator state and
// deposits the net amount into the wallet, all in one transaction. Either
// the distributor or the state may be nil when unchanged.
func (d *Database) CommitEntry(entry *LedgerEntry, state *EarningsState, distributor *types.Distributor) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if entry != nil {
		if err := tx.Create(entry).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
		if err := depositTx(tx, entry.DistributorID, entry.NetAmount); err != nil {
			tx.Rollback()
			return err
		}
	}

	if state != nil {
		if err := tx.Save(state).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save earnings state: %w", err)
		}
	}

	if distributor != nil {
		if err := tx.Save(distributor).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save distributor: %w", err)
		}
	}

	return tx.Commit().Error
}

// depositTx upserts the wallet balance inside an open transaction.
func depositTx(tx *gorm.DB, distributorID string, amount float64) error {
	var wallet WalletBalance
	err := tx.Where("distributor_id = ?", distributorID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		wallet = WalletBalance{DistributorID: distributorID}
	} else if err != nil {
		return fmt.Errorf("failed to fetch wallet: %w", err)
	}

	wallet.Balance += amount
	wallet.TotalEarned += amount
	if err := tx.Save(&wallet).Error; err != nil {
		return fmt.Errorf("failed to deposit into wallet: %w", err)
	}
	return nil
}

// GetLedgerByDistributor returns a distributor's statement, newest first.
func (d *Database) GetLedgerByDistributor(distributorID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	if err := d.db.Where("distributor_id = ?", distributorID).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entries: %w", err)
	}
	return entries, nil
}

// GetLedgerByPeriod returns every entry booked in one period.
func (d *Database) GetLedgerByPeriod(periodID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	if err := d.db.Where("period_id = ?", periodID).
		Order("distributor_id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entries for period: %w", err)
	}
	return entries, nil
}

// GetWallet returns a distributor's wallet balance, a zero wallet when
// nothing has been deposited yet.
func (d *Database) GetWallet(distributorID string) (*WalletBalance, error) {
	var wallet WalletBalance
	err := d.db.Where("distributor_id = ?", distributorID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &WalletBalance{DistributorID: distributorID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet: %w", err)
	}
	return &wallet, nil
}
