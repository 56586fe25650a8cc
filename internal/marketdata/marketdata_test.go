package marketdata

import (
	"testing"

	"github.com/ksred/brokerage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&types.Quote{}))
	return NewService(db)
}

func TestUpsertQuoteReplacesPrice(t *testing.T) {
	service := setupService(t)

	require.NoError(t, service.UpsertQuote("AAPL", 100))
	require.NoError(t, service.UpsertQuote("AAPL", 105))

	price, err := service.GetReferencePrice("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 105.0, price)
}

func TestUpsertQuoteRejectsNonPositivePrice(t *testing.T) {
	service := setupService(t)

	err := service.UpsertQuote("AAPL", 0)
	require.Error(t, err)

	var invalid *types.InvalidOrderError
	assert.ErrorAs(t, err, &invalid)
}

func TestGetReferencePriceWithoutQuote(t *testing.T) {
	service := setupService(t)

	_, err := service.GetReferencePrice("AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoLiquidity)
}
