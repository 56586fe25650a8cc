package accounts

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

// CreateAccount stores a new trading account
func (d *Database) CreateAccount(account *types.TradingAccount) error {
	if err := d.db.Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
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

// GetAccountsForTrader retrieves all accounts owned by a trader
func (d *Database) GetAccountsForTrader(traderID string) ([]types.TradingAccount, error) {
	var accounts []types.TradingAccount
	if err := d.db.Where("trader_id = ?", traderID).
		Order("account_id ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch trader accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountsForBroker retrieves all accounts under a broker
func (d *Database) GetAccountsForBroker(brokerID string) ([]types.TradingAccount, error) {
	var accounts []types.TradingAccount
	if err := d.db.Where("broker_id = ?", brokerID).
		Order("account_id ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch broker accounts: %w", err)
	}
	return accounts, nil
}

// GetAllAccounts retrieves every trading account
func (d *Database) GetAllAccounts() ([]types.TradingAccount, error) {
	var accounts []types.TradingAccount
	if err := d.db.Order("account_id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}
	return accounts, nil
}

// UpdateStatus sets an account's lifecycle status
func (d *Database) UpdateStatus(accountID, status string) error {
	if err := d.db.Model(&types.TradingAccount{}).
		Where("account_id = ?", accountID).
		Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return nil
}
