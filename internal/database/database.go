package database

import (
	"fmt"

	"github.com/ksred/brokerage-api/internal/database/migrations"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddMarginChecks(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddQuotes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.TradingAccount{},
		&types.Instrument{},
		&types.Order{},
		&types.Execution{},
		&types.Position{},
		&types.Lot{},
		&types.LedgerEntry{},
		&types.MarginRule{},
		&types.RiskAlert{},
		&orders.IdempotencyRecord{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
