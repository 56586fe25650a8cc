package migrations

import (
	"github.com/ksred/brokerage-api/internal/types"
	"gorm.io/gorm"
)

func AddMarginChecks(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.MarginCheck{}); err != nil {
		return err
	}

	return nil
}
