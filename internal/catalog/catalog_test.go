package catalog

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

	require.NoError(t, db.AutoMigrate(&types.Instrument{}))
	return NewService(db)
}

func TestCreateInstrumentAppliesDefaults(t *testing.T) {
	service := setupService(t)

	instrument := &types.Instrument{
		Symbol:   "AAPL",
		Exchange: "NASDAQ",
		Class:    "EQUITY",
	}
	require.NoError(t, service.CreateInstrument(instrument))

	stored, err := service.GetInstrument("AAPL")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, types.InstrumentStatusActive, stored.Status)
	assert.Equal(t, 1.0, stored.LotSize)
	assert.Equal(t, 0.01, stored.TickSize)
}

func TestGetInstrumentUnknownReturnsNil(t *testing.T) {
	service := setupService(t)

	instrument, err := service.GetInstrument("NOPE")
	require.NoError(t, err)
	assert.Nil(t, instrument)
}

func TestScopeCandidatesClassBeforeExchange(t *testing.T) {
	instrument := &types.Instrument{Symbol: "AAPL", Exchange: "NASDAQ", Class: "EQUITY"}
	assert.Equal(t, []string{"EQUITY", "NASDAQ"}, ScopeCandidates(instrument))

	noClass := &types.Instrument{Symbol: "XYZ", Exchange: "NASDAQ"}
	assert.Equal(t, []string{"NASDAQ"}, ScopeCandidates(noClass))

	bare := &types.Instrument{Symbol: "XYZ"}
	assert.Empty(t, ScopeCandidates(bare))
}
