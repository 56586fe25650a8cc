package ledger

import (
	"testing"
	"time"

	"github.com/ksred/brokerage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&types.TradingAccount{},
		&types.LedgerEntry{},
	))
	return db
}

// seedAccount creates an account and funds it through the poster so the
// balance invariant holds from the start.
func seedAccount(t *testing.T, db *gorm.DB, cash float64) *types.TradingAccount {
	t.Helper()

	account := &types.TradingAccount{
		AccountID:    "ACC_TEST",
		BrokerID:     "BRK001",
		TraderID:     "TRD001",
		AccountType:  types.AccountTypeMargin,
		BaseCurrency: "USD",
		Status:       types.AccountStatusActive,
	}
	require.NoError(t, db.Create(account).Error)

	if cash > 0 {
		_, err := NewPoster().PostTransfer(db, account, types.EntryTypeCredit, cash, "opening deposit")
		require.NoError(t, err)
	}
	return account
}

func testExecution(side string, qty, price float64) *types.Execution {
	return &types.Execution{
		ExecutionID: "EXE_TEST",
		OrderID:     "ORD_TEST",
		AccountID:   "ACC_TEST",
		Symbol:      "AAPL",
		Side:        side,
		Quantity:    qty,
		Price:       price,
		ExecutedAt:  time.Now(),
	}
}

// assertBalanced checks the core invariant: the stored cash balance
// equals the signed sum of the account's entries.
func assertBalanced(t *testing.T, db *gorm.DB, accountID string) {
	t.Helper()

	ledgerDB := NewDatabase(db)
	sum, err := ledgerDB.SumEntries(accountID)
	require.NoError(t, err)

	account, err := ledgerDB.GetAccount(accountID)
	require.NoError(t, err)
	require.NotNil(t, account)

	assert.InDelta(t, account.CashBalance, sum, 1e-9, "cash balance diverged from ledger sum")
}

func TestPostExecutionBuyDebitsGross(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 10_000)

	err := poster.PostExecution(db, account, testExecution(types.SideBuy, 10, 100), 0, nil)
	require.NoError(t, err)

	var entries []types.LedgerEntry
	require.NoError(t, db.Where("reference_id = ?", "EXE_TEST").Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryTypeDebit, entries[0].EntryType)
	assert.Equal(t, 1000.0, entries[0].Amount)
	assert.Equal(t, "EXE_TEST", entries[0].ReferenceID)

	assert.Equal(t, 9000.0, account.CashBalance)
	assertBalanced(t, db, account.AccountID)
}

func TestPostExecutionSellCreditsGross(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 10_000)

	err := poster.PostExecution(db, account, testExecution(types.SideSell, 10, 100), 0, nil)
	require.NoError(t, err)

	assert.Equal(t, 11_000.0, account.CashBalance)
	assertBalanced(t, db, account.AccountID)
}

func TestPostExecutionRealizedPairNetsToZero(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 10_000)

	err := poster.PostExecution(db, account, testExecution(types.SideSell, 10, 120), 200,
		[]string{"LOT_a", "LOT_b"})
	require.NoError(t, err)

	var entries []types.LedgerEntry
	require.NoError(t, db.Where("reference_id = ?", "EXE_TEST").Order("id ASC").Find(&entries).Error)
	require.Len(t, entries, 3)

	// Trade credit plus a balanced P&L pair
	assert.Equal(t, types.EntryTypeCredit, entries[0].EntryType)
	assert.Equal(t, 1200.0, entries[0].Amount)
	assert.Equal(t, types.EntryTypeCredit, entries[1].EntryType)
	assert.Equal(t, 200.0, entries[1].Amount)
	assert.Contains(t, entries[1].Description, "LOT_a,LOT_b")
	assert.Equal(t, types.EntryTypeDebit, entries[2].EntryType)
	assert.Equal(t, 200.0, entries[2].Amount)

	// Only the trade proceeds move cash
	assert.Equal(t, 11_200.0, account.CashBalance)
	assertBalanced(t, db, account.AccountID)
}

func TestPostExecutionRealizedLossPairNetsToZero(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 10_000)

	err := poster.PostExecution(db, account, testExecution(types.SideSell, 10, 80), -200,
		[]string{"LOT_a"})
	require.NoError(t, err)

	assert.Equal(t, 10_800.0, account.CashBalance)
	assertBalanced(t, db, account.AccountID)
}

func TestPostTransferRejectsNonPositiveAmount(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 0)

	_, err := poster.PostTransfer(db, account, types.EntryTypeCredit, 0, "deposit")
	require.Error(t, err)

	var invalid *types.InvalidOrderError
	assert.ErrorAs(t, err, &invalid)
}

func TestBalanceHoldsAcrossHistory(t *testing.T) {
	db := setupTestDB(t)
	poster := NewPoster()
	account := seedAccount(t, db, 0)

	_, err := poster.PostTransfer(db, account, types.EntryTypeCredit, 50_000, "deposit")
	require.NoError(t, err)

	require.NoError(t, poster.PostExecution(db, account, testExecution(types.SideBuy, 100, 100), 0, nil))
	require.NoError(t, poster.PostExecution(db, account, testExecution(types.SideSell, 60, 110), 600, []string{"LOT_a"}))

	_, err = poster.PostTransfer(db, account, types.EntryTypeDebit, 5_000, "withdrawal")
	require.NoError(t, err)

	// 50000 - 10000 + 6600 - 5000
	assert.InDelta(t, 41_600.0, account.CashBalance, 1e-9)
	assertBalanced(t, db, account.AccountID)
}
