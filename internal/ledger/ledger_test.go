package ledger

import (
	"testing"

	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalanceReportsLedgerAgreement(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)
	account := seedAccount(t, db, 5_000)

	balance, err := service.GetBalance(account.AccountID, "TRD001", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	require.NotNil(t, balance)

	assert.Equal(t, account.AccountID, balance.AccountID)
	assert.InDelta(t, 5_000.0, balance.CashBalance, 1e-9)
	assert.InDelta(t, balance.CashBalance, balance.LedgerBalance, 1e-9)
}

func TestGetEntriesScoping(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)
	account := seedAccount(t, db, 5_000)

	entries, err := service.GetEntries(account.AccountID, "TRD001", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Accounts outside the caller's scope read as not found
	entries, err = service.GetEntries(account.AccountID, "TRD999", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Nil(t, entries)

	entries, err = service.GetEntries(account.AccountID, "ADM001", "BRK999", auth.RoleBrokerAdmin)
	require.NoError(t, err)
	assert.Nil(t, entries)

	entries, err = service.GetEntries(account.AccountID, "OPS001", "", auth.RoleOperator)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db)

	balance, err := service.GetBalance("ACC_NOPE", "TRD001", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Nil(t, balance)
}
