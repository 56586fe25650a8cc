package catalog

import (
	"errors"

	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateInstrument(instrument *types.Instrument) error {
	return d.db.Create(instrument).Error
}

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

func (d *Database) ListInstruments() ([]types.Instrument, error) {
	var instruments []types.Instrument
	if err := d.db.Order("symbol ASC").Find(&instruments).Error; err != nil {
		return nil, err
	}
	return instruments, nil
}
