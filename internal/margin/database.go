package margin

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

// GetActiveMarginAccounts retrieves the accounts covered by the
// periodic margin sweep
func (d *Database) GetActiveMarginAccounts() ([]types.TradingAccount, error) {
	var accounts []types.TradingAccount
	if err := d.db.Where("account_type = ? AND status = ?",
		types.AccountTypeMargin, types.AccountStatusActive).
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch margin accounts: %w", err)
	}
	return accounts, nil
}

// CreateRule stores a new margin rule
func (d *Database) CreateRule(rule *types.MarginRule) error {
	if err := d.db.Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create margin rule: %w", err)
	}
	return nil
}

// GetRules retrieves all margin rules
func (d *Database) GetRules() ([]types.MarginRule, error) {
	var rules []types.MarginRule
	if err := d.db.Order("scope ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch margin rules: %w", err)
	}
	return rules, nil
}

// GetCheck retrieves the latest margin check for an account, or nil
func (d *Database) GetCheck(accountID string) (*types.MarginCheck, error) {
	var check types.MarginCheck
	if err := d.db.Where("account_id = ?", accountID).First(&check).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &check, nil
}

// GetAlerts retrieves risk alerts, optionally filtered by account,
// newest first
func (d *Database) GetAlerts(accountID string) ([]types.RiskAlert, error) {
	query := d.db.Order("raised_at DESC, id DESC")
	if accountID != "" {
		query = query.Where("account_id = ?", accountID)
	}

	var alerts []types.RiskAlert
	if err := query.Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch risk alerts: %w", err)
	}
	return alerts, nil
}
