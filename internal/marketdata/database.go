package marketdata

import (
	"errors"

	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// UpsertQuote inserts or replaces the quote for a symbol
func (d *Database) UpsertQuote(quote *types.Quote) error {
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "quoted_at", "updated_at"}),
	}).Create(quote).Error
}

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
