package accounts

import (
	"testing"

	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/ledger"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*gorm.DB, *Service) {
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

	return db, NewService(db, ledger.NewPoster(), NewLocks())
}

func TestCreateAccountDefaults(t *testing.T) {
	_, service := setupService(t)

	account, err := service.CreateAccount("TRD001", "BRK001", types.AccountTypeMargin, "", "")
	require.NoError(t, err)

	assert.NotEmpty(t, account.AccountID)
	assert.Equal(t, "USD", account.BaseCurrency)
	assert.Equal(t, types.LotMethodFIFO, account.LotMethod)
	assert.Equal(t, types.AccountStatusActive, account.Status)
	assert.Zero(t, account.CashBalance)
}

func TestCreateAccountRejectsBadInputs(t *testing.T) {
	_, service := setupService(t)

	_, err := service.CreateAccount("TRD001", "BRK001", "PRIME", "", "")
	require.Error(t, err)

	_, err = service.CreateAccount("TRD001", "BRK001", types.AccountTypeCash, "", "HIFO")
	require.Error(t, err)
}

func TestDepositAndWithdrawKeepLedgerBalanced(t *testing.T) {
	db, service := setupService(t)

	account, err := service.CreateAccount("TRD001", "BRK001", types.AccountTypeCash, "", "")
	require.NoError(t, err)

	_, err = service.Deposit(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 5_000, "")
	require.NoError(t, err)

	_, err = service.Withdraw(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 2_000, "")
	require.NoError(t, err)

	var stored types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&stored).Error)
	assert.InDelta(t, 3_000.0, stored.CashBalance, 1e-9)

	sum, err := ledger.NewDatabase(db).SumEntries(account.AccountID)
	require.NoError(t, err)
	assert.InDelta(t, stored.CashBalance, sum, 1e-9)
}

func TestWithdrawRejectsOverdraw(t *testing.T) {
	db, service := setupService(t)

	account, err := service.CreateAccount("TRD001", "BRK001", types.AccountTypeCash, "", "")
	require.NoError(t, err)

	_, err = service.Deposit(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 100, "")
	require.NoError(t, err)

	_, err = service.Withdraw(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 200, "")
	require.Error(t, err)

	var invalid *types.InvalidOrderError
	assert.ErrorAs(t, err, &invalid)

	var stored types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&stored).Error)
	assert.InDelta(t, 100.0, stored.CashBalance, 1e-9)
}

func TestAccountScoping(t *testing.T) {
	_, service := setupService(t)

	account, err := service.CreateAccount("TRD001", "BRK001", types.AccountTypeCash, "", "")
	require.NoError(t, err)

	// Another trader cannot see it
	got, err := service.GetAccount(account.AccountID, "TRD999", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Nil(t, got)

	// An admin of a different broker cannot see it
	got, err = service.GetAccount(account.AccountID, "ADM001", "BRK999", auth.RoleBrokerAdmin)
	require.NoError(t, err)
	assert.Nil(t, got)

	// The owning broker's admin and operators can
	got, err = service.GetAccount(account.AccountID, "ADM002", "BRK001", auth.RoleBrokerAdmin)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = service.GetAccount(account.AccountID, "OPS001", "", auth.RoleOperator)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestUpdateStatusCloseRequiresZeroBalance(t *testing.T) {
	_, service := setupService(t)

	account, err := service.CreateAccount("TRD001", "BRK001", types.AccountTypeCash, "", "")
	require.NoError(t, err)

	_, err = service.Deposit(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 100, "")
	require.NoError(t, err)

	_, err = service.UpdateStatus(account.AccountID, "TRD001", "BRK001", auth.RoleTrader,
		types.AccountStatusClosed)
	require.Error(t, err)

	_, err = service.Withdraw(account.AccountID, "TRD001", "BRK001", auth.RoleTrader, 100, "")
	require.NoError(t, err)

	updated, err := service.UpdateStatus(account.AccountID, "TRD001", "BRK001", auth.RoleTrader,
		types.AccountStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, types.AccountStatusClosed, updated.Status)
}
