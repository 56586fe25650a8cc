package ledger

import (
	"errors"
	"fmt"

	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccount retrieves a trading account by its ID, or nil if unknown
func (d *Database) GetAccount(accountID string) (*types.TradingAccount, error) {
	var account types.TradingAccount
	if err := d.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetEntries retrieves an account's ledger entries, oldest first
func (d *Database) GetEntries(accountID string) ([]types.LedgerEntry, error) {
	var entries []types.LedgerEntry
	if err := d.db.Where("account_id = ?", accountID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch ledger entries: %w", err)
	}
	return entries, nil
}

// SumEntries computes the running balance of an account from its
// entries: credits count positive, debits negative.
func (d *Database) SumEntries(accountID string) (float64, error) {
	var total float64
	err := d.db.Model(&types.LedgerEntry{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE -amount END), 0)", types.EntryTypeCredit).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger entries: %w", err)
	}
	return total, nil
}
