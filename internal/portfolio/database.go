package portfolio

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

// GetPositions retrieves all positions for an account
func (d *Database) GetPositions(accountID string) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Where("account_id = ?", accountID).
		Order("symbol ASC").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return positions, nil
}

// GetPositionsForBroker retrieves all positions on accounts owned by
// the given broker
func (d *Database) GetPositionsForBroker(brokerID string) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.
		Joins("JOIN trading_accounts ON trading_accounts.account_id = positions.account_id").
		Where("trading_accounts.broker_id = ?", brokerID).
		Order("positions.account_id ASC, positions.symbol ASC").
		Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch broker positions: %w", err)
	}
	return positions, nil
}

// GetLots retrieves all lots for a position, oldest first
func (d *Database) GetLots(positionID string) ([]types.Lot, error) {
	var lots []types.Lot
	if err := d.db.Where("position_id = ?", positionID).
		Order("opened_at ASC, id ASC").
		Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch lots: %w", err)
	}
	return lots, nil
}

// GetPosition retrieves a single position by account and symbol, or nil
func (d *Database) GetPosition(accountID, symbol string) (*types.Position, error) {
	var position types.Position
	if err := d.db.Where("account_id = ? AND symbol = ?", accountID, symbol).
		First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}
