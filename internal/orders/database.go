package orders

import (
	"errors"
	"fmt"
	"time"

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

// GetInstrument retrieves an instrument by symbol, or nil if unknown
func (d *Database) GetInstrument(symbol string) (*types.Instrument, error) {
	var instrument types.Instrument
	if err := d.db.Where("symbol = ?", symbol).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &instrument, nil
}

// GetPosition retrieves the position for an account and symbol, or nil
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

// GetQuote retrieves the latest quote for a symbol, or nil if none
func (d *Database) GetQuote(symbol string) (*types.Quote, error) {
	var quote types.Quote
	if err := d.db.Where("symbol = ?", symbol).First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &quote, nil
}

// GetOrder retrieves an order by its ID, or nil if unknown
func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrdersForAccount retrieves an account's orders, newest first
func (d *Database) GetOrdersForAccount(accountID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.Where("account_id = ?", accountID).
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch orders: %w", err)
	}
	return orders, nil
}

// GetExecutionsForOrder retrieves an order's executions in fill order
func (d *Database) GetExecutionsForOrder(orderID string) ([]types.Execution, error) {
	var executions []types.Execution
	if err := d.db.Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch executions: %w", err)
	}
	return executions, nil
}

// GetIdempotencyRecord retrieves an unexpired idempotency record by
// key, or nil when the key is unused or expired
func (d *Database) GetIdempotencyRecord(key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if record.ExpiresAt.Before(time.Now()) {
		return nil, nil
	}
	return &record, nil
}

// CreateIdempotencyRecord stores the mapping from key to order inside
// the caller's transaction
func (d *Database) CreateIdempotencyRecord(tx *gorm.DB, key, orderID string) error {
	record := IdempotencyRecord{
		IdempotencyKey: key,
		ResourceID:     orderID,
		ResourceType:   "order",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to create idempotency record: %w", err)
	}
	return nil
}

// CreateRejectedOrder persists a rejected order together with its
// idempotency record in one transaction, so a retry of a rejected
// order replays the rejection instead of re-running the pipeline.
func (d *Database) CreateRejectedOrder(order *types.Order, idempotencyKey string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create rejected order: %w", err)
		}
		if idempotencyKey != "" {
			return d.CreateIdempotencyRecord(tx, idempotencyKey, order.OrderID)
		}
		return nil
	})
}
