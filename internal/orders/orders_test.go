package orders

import (
	"testing"
	"time"

	"github.com/ksred/brokerage-api/internal/accounts"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/ledger"
	"github.com/ksred/brokerage-api/internal/margin"
	"github.com/ksred/brokerage-api/internal/portfolio"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupPipeline(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&types.TradingAccount{},
		&types.Instrument{},
		&types.Order{},
		&types.Execution{},
		&types.Position{},
		&types.Lot{},
		&types.LedgerEntry{},
		&types.MarginRule{},
		&types.RiskAlert{},
		&types.MarginCheck{},
		&types.Quote{},
		&IdempotencyRecord{},
	))

	service := NewService(db, portfolio.NewAccountant(), ledger.NewPoster(),
		margin.NewEvaluator(), accounts.NewLocks())
	return db, service
}

// seedBooks creates a funded margin account plus the reference data an
// AAPL order needs: the instrument, a margin rule and a quote at 100.
func seedBooks(t *testing.T, db *gorm.DB, cash float64) *types.TradingAccount {
	t.Helper()

	account := &types.TradingAccount{
		AccountID:   "ACC_TEST",
		BrokerID:    "BRK001",
		TraderID:    "TRD001",
		AccountType: types.AccountTypeMargin,
		LotMethod:   types.LotMethodFIFO,
		Status:      types.AccountStatusActive,
	}
	require.NoError(t, db.Create(account).Error)

	if cash > 0 {
		_, err := ledger.NewPoster().PostTransfer(db, account, types.EntryTypeCredit, cash, "opening deposit")
		require.NoError(t, err)
	}

	require.NoError(t, db.Create(&types.Instrument{
		Symbol:   "AAPL",
		Exchange: "NASDAQ",
		Class:    "EQUITY",
		Status:   types.InstrumentStatusActive,
		LotSize:  1,
		TickSize: 0.01,
	}).Error)

	require.NoError(t, db.Create(&types.MarginRule{
		RuleID:         "MRL_TEST",
		Scope:          "EQUITY",
		InitialPct:     0.5,
		MaintenancePct: 0.25,
	}).Error)

	require.NoError(t, db.Create(&types.Quote{
		Symbol:   "AAPL",
		Price:    100,
		QuotedAt: time.Now(),
	}).Error)

	return account
}

func marketBuy(qty float64) *types.OrderRequest {
	return &types.OrderRequest{
		AccountID: "ACC_TEST",
		Symbol:    "AAPL",
		Side:      types.SideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  qty,
	}
}

func asTrader(s *Service, req *types.OrderRequest, key string) (*types.OrderResult, error) {
	return s.PlaceOrder(req, key, "TRD001", "BRK001", auth.RoleTrader)
}

func TestPlaceOrderFillsMarketBuy(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	result, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.OrderStatusFilled, result.Order.Status)
	assert.Equal(t, types.MarginStatusSufficient, result.MarginStatus)
	assert.Zero(t, result.RealizedPnL)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, 100.0, result.Executions[0].Price)
	assert.Equal(t, 10.0, result.Executions[0].Quantity)

	var account types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&account).Error)
	assert.InDelta(t, 9_000.0, account.CashBalance, 1e-9)

	var position types.Position
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&position).Error)
	assert.Equal(t, 10.0, position.Quantity)
	assert.Equal(t, 100.0, position.AvgCost)
}

func TestPlaceOrderLimitFillsAtLimitPrice(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	req := marketBuy(10)
	req.OrderType = types.OrderTypeLimit
	req.LimitPrice = 99.5

	result, err := asTrader(service, req, "key-1")
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, 99.5, result.Executions[0].Price)
}

func TestPlaceOrderSellRealizesPnL(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	_, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)

	require.NoError(t, db.Model(&types.Quote{}).
		Where("symbol = ?", "AAPL").
		Update("price", 120).Error)

	sell := marketBuy(10)
	sell.Side = types.SideSell
	result, err := asTrader(service, sell, "key-2")
	require.NoError(t, err)

	assert.InDelta(t, 200.0, result.RealizedPnL, 1e-9)

	// 10000 - 1000 + 1200
	var account types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&account).Error)
	assert.InDelta(t, 10_200.0, account.CashBalance, 1e-9)

	// Balance must still equal the ledger sum
	sum, err := ledger.NewDatabase(db).SumEntries("ACC_TEST")
	require.NoError(t, err)
	assert.InDelta(t, account.CashBalance, sum, 1e-9)
}

func TestPlaceOrderIdempotentReplay(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	first, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)

	replay, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, first.Order.OrderID, replay.Order.OrderID)

	// The pipeline must not have run twice
	var executions []types.Execution
	require.NoError(t, db.Find(&executions).Error)
	assert.Len(t, executions, 1)

	var account types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&account).Error)
	assert.InDelta(t, 9_000.0, account.CashBalance, 1e-9)
}

func TestPlaceOrderRejectsWithoutQuote(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)
	require.NoError(t, db.Where("symbol = ?", "AAPL").Delete(&types.Quote{}).Error)

	_, err := asTrader(service, marketBuy(10), "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoLiquidity)

	var order types.Order
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&order).Error)
	assert.Equal(t, types.OrderStatusRejected, order.Status)
	assert.NotEmpty(t, order.Reason)

	// Nothing else moved
	var account types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&account).Error)
	assert.InDelta(t, 10_000.0, account.CashBalance, 1e-9)
}

func TestPlaceOrderRejectsOnValidation(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	_, err := asTrader(service, marketBuy(-5), "key-1")
	require.Error(t, err)

	var invalid *types.InvalidOrderError
	assert.ErrorAs(t, err, &invalid)

	var order types.Order
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&order).Error)
	assert.Equal(t, types.OrderStatusRejected, order.Status)
}

func TestPlaceOrderRollsBackOnMarginBreach(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 400)

	// Buying 10 at 100 requires 500 initial margin against 400 equity
	_, err := asTrader(service, marketBuy(10), "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientMargin)

	// The trade must leave no trace beyond the rejected order
	var executions []types.Execution
	require.NoError(t, db.Find(&executions).Error)
	assert.Empty(t, executions)

	var lots []types.Lot
	require.NoError(t, db.Find(&lots).Error)
	assert.Empty(t, lots)

	var account types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", "ACC_TEST").First(&account).Error)
	assert.InDelta(t, 400.0, account.CashBalance, 1e-9)

	var order types.Order
	require.NoError(t, db.Where("account_id = ? AND status = ?", "ACC_TEST", types.OrderStatusRejected).
		First(&order).Error)
	assert.Contains(t, order.Reason, "margin")
}

func TestPlaceOrderRejectsWithoutMarginRule(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)
	require.NoError(t, db.Where("scope = ?", "EQUITY").Delete(&types.MarginRule{}).Error)

	_, err := asTrader(service, marketBuy(10), "key-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoMarginRule)

	var executions []types.Execution
	require.NoError(t, db.Find(&executions).Error)
	assert.Empty(t, executions)
}

func TestPlaceOrderScopedToOwnAccounts(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	// Another trader cannot see the account at all
	result, err := service.PlaceOrder(marketBuy(10), "key-1", "TRD999", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Nil(t, result)

	// Nor can an admin of a different broker
	result, err = service.PlaceOrder(marketBuy(10), "key-2", "ADM001", "BRK999", auth.RoleBrokerAdmin)
	require.NoError(t, err)
	assert.Nil(t, result)

	// The owning broker's admin can
	result, err = service.PlaceOrder(marketBuy(10), "key-3", "ADM002", "BRK001", auth.RoleBrokerAdmin)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.OrderStatusFilled, result.Order.Status)
}

func TestCancelOrderOnlyWhenNew(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	stale := &types.Order{
		OrderID:     "ORD_STALE",
		AccountID:   "ACC_TEST",
		Symbol:      "AAPL",
		Side:        types.SideBuy,
		OrderType:   types.OrderTypeMarket,
		TimeInForce: types.TimeInForceIOC,
		Quantity:    10,
		Status:      types.OrderStatusNew,
	}
	require.NoError(t, db.Create(stale).Error)

	cancelled, err := service.CancelOrder("ORD_STALE", "TRD001", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	// A filled order is final
	result, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)

	_, err = service.CancelOrder(result.Order.OrderID, "TRD001", "BRK001", auth.RoleTrader)
	require.Error(t, err)

	var invalid *types.InvalidOrderError
	assert.ErrorAs(t, err, &invalid)
}

func TestPlaceOrderChecksBalanceMovedWhileWaiting(t *testing.T) {
	db, service := setupPipeline(t)
	account := seedBooks(t, db, 1_000)
	require.NoError(t, db.Model(&types.TradingAccount{}).
		Where("account_id = ?", account.AccountID).
		Update("account_type", types.AccountTypeCash).Error)

	// Park the order behind the account's lock, drain most of the
	// balance with a concurrent trade, then let the order through. The
	// pipeline must check against the balance as it stands once the
	// order holds the lock, not the snapshot taken before it.
	unlock := service.locks.Lock(account.AccountID)
	done := make(chan error, 1)
	go func() {
		_, err := asTrader(service, marketBuy(9), "key-1")
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)

	var current types.TradingAccount
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&current).Error)
	_, err := ledger.NewPoster().PostTransfer(db, &current, types.EntryTypeDebit, 900, "concurrent trade")
	require.NoError(t, err)

	unlock()
	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientMargin)

	// The 900 buy against the remaining 100 never moved any cash
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&current).Error)
	assert.InDelta(t, 100.0, current.CashBalance, 1e-9)
}

func TestGetOrdersScoping(t *testing.T) {
	db, service := setupPipeline(t)
	seedBooks(t, db, 10_000)

	_, err := asTrader(service, marketBuy(10), "key-1")
	require.NoError(t, err)

	orders, err := service.GetOrders("ACC_TEST", "TRD001", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	// Out of scope reads as not found
	orders, err = service.GetOrders("ACC_TEST", "TRD999", "BRK001", auth.RoleTrader)
	require.NoError(t, err)
	assert.Nil(t, orders)

	// Operators see everything
	orders, err = service.GetOrders("ACC_TEST", "OPS001", "", auth.RoleOperator)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}
