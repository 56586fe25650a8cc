package migrations

import (
	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/gorm"
)

func AddQuotes(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Quote{}); err != nil {
		return err
	}

	return nil
}
