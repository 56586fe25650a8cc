package margin

import (
	"testing"
	"time"

	"github.com/ksred/brokerage-api/internal/accounts"
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
		&types.Instrument{},
		&types.Position{},
		&types.MarginRule{},
		&types.MarginCheck{},
		&types.RiskAlert{},
		&types.Quote{},
	))
	return db
}

type fixture struct {
	db      *gorm.DB
	account *types.TradingAccount
}

// newFixture seeds a margin account holding 10 AAPL at cost 100 with a
// 50%/25% equity margin rule and a quote at the given mark price.
func newFixture(t *testing.T, cash, mark float64) *fixture {
	t.Helper()
	db := setupTestDB(t)

	account := &types.TradingAccount{
		AccountID:   "ACC_TEST",
		BrokerID:    "BRK001",
		TraderID:    "TRD001",
		AccountType: types.AccountTypeMargin,
		CashBalance: cash,
		Status:      types.AccountStatusActive,
	}
	require.NoError(t, db.Create(account).Error)

	require.NoError(t, db.Create(&types.Instrument{
		Symbol:   "AAPL",
		Exchange: "NASDAQ",
		Class:    "EQUITY",
		Status:   types.InstrumentStatusActive,
		LotSize:  1,
		TickSize: 0.01,
	}).Error)

	require.NoError(t, db.Create(&types.Position{
		PositionID: "POS_TEST",
		AccountID:  "ACC_TEST",
		Symbol:     "AAPL",
		Quantity:   10,
		AvgCost:    100,
	}).Error)

	require.NoError(t, db.Create(&types.MarginRule{
		RuleID:         "MRL_TEST",
		Scope:          "EQUITY",
		InitialPct:     0.5,
		MaintenancePct: 0.25,
	}).Error)

	if mark > 0 {
		require.NoError(t, db.Create(&types.Quote{
			Symbol:   "AAPL",
			Price:    mark,
			QuotedAt: time.Now(),
		}).Error)
	}

	return &fixture{db: db, account: account}
}

func TestEvaluateSufficient(t *testing.T) {
	f := newFixture(t, 10_000, 100)
	evaluator := NewEvaluator()

	check, prev, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	assert.Equal(t, types.MarginStatusSufficient, prev)
	assert.Equal(t, types.MarginStatusSufficient, check.Status)
	assert.InDelta(t, 10_000.0, check.Equity, 1e-9)
	assert.InDelta(t, 500.0, check.InitialRequired, 1e-9)
	assert.InDelta(t, 250.0, check.MaintenanceRequired, 1e-9)
	assert.Zero(t, check.ConsecutiveBreaches)
}

func TestEvaluateMarksUnrealizedPnL(t *testing.T) {
	f := newFixture(t, 1_000, 120)
	evaluator := NewEvaluator()

	check, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	// Equity is cash plus (mark - cost) * qty; requirements use mark
	assert.InDelta(t, 1_200.0, check.Equity, 1e-9)
	assert.InDelta(t, 600.0, check.InitialRequired, 1e-9)
	assert.InDelta(t, 300.0, check.MaintenanceRequired, 1e-9)
	assert.Equal(t, types.MarginStatusSufficient, check.Status)
}

func TestEvaluateInitialBreach(t *testing.T) {
	f := newFixture(t, 300, 100)
	evaluator := NewEvaluator()

	check, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	assert.Equal(t, types.MarginStatusInitialBreach, check.Status)
	assert.Zero(t, check.ConsecutiveBreaches)
}

func TestEvaluateMaintenanceBreachCounts(t *testing.T) {
	f := newFixture(t, 100, 100)
	evaluator := NewEvaluator()

	check, prev, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	assert.Equal(t, types.MarginStatusSufficient, prev)
	assert.Equal(t, types.MarginStatusMaintenanceBreach, check.Status)
	assert.Equal(t, 1, check.ConsecutiveBreaches)

	check, prev, err = evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	assert.Equal(t, types.MarginStatusMaintenanceBreach, prev)
	assert.Equal(t, 2, check.ConsecutiveBreaches)
}

func TestEvaluateRecoveryResetsCounter(t *testing.T) {
	f := newFixture(t, 100, 100)
	evaluator := NewEvaluator()

	_, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	f.account.CashBalance = 10_000
	check, prev, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	assert.Equal(t, types.MarginStatusMaintenanceBreach, prev)
	assert.Equal(t, types.MarginStatusSufficient, check.Status)
	assert.Zero(t, check.ConsecutiveBreaches)
	assert.False(t, check.Escalated)
}

func TestEvaluateFailsClosedWithoutRule(t *testing.T) {
	f := newFixture(t, 10_000, 100)
	require.NoError(t, f.db.Where("scope = ?", "EQUITY").Delete(&types.MarginRule{}).Error)

	evaluator := NewEvaluator()
	_, _, err := evaluator.Evaluate(f.db, f.account)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoMarginRule)
}

func TestEvaluateFallsBackToExchangeScope(t *testing.T) {
	f := newFixture(t, 10_000, 100)
	require.NoError(t, f.db.Where("scope = ?", "EQUITY").Delete(&types.MarginRule{}).Error)
	require.NoError(t, f.db.Create(&types.MarginRule{
		RuleID:         "MRL_EXCH",
		Scope:          "NASDAQ",
		InitialPct:     0.4,
		MaintenancePct: 0.2,
	}).Error)

	evaluator := NewEvaluator()
	check, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, check.InitialRequired, 1e-9)
}

func TestEvaluateWithoutQuoteUsesAvgCost(t *testing.T) {
	f := newFixture(t, 1_000, 0)

	evaluator := NewEvaluator()
	check, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	// Mark falls back to cost, so no unrealized P&L contributes
	assert.InDelta(t, 1_000.0, check.Equity, 1e-9)
	assert.InDelta(t, 500.0, check.InitialRequired, 1e-9)
}

func TestEvaluatePropagatesQuoteQueryFailure(t *testing.T) {
	f := newFixture(t, 10_000, 100)
	require.NoError(t, f.db.Migrator().DropTable(&types.Quote{}))

	// A failing quote lookup must surface, not silently mark at cost
	_, _, err := NewEvaluator().Evaluate(f.db, f.account)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quote")
}

func TestEvaluateAccountChecksBalanceMovedWhileWaiting(t *testing.T) {
	f := newFixture(t, 10_000, 100)
	locks := accounts.NewLocks()
	service := NewService(f.db, locks, 3)

	// Park the evaluation behind the account's lock, drop the balance
	// while it waits, then release it. Equity must reflect the balance
	// as it stands once the evaluation holds the lock.
	unlock := locks.Lock("ACC_TEST")
	type outcome struct {
		report *types.MarginReport
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		report, err := service.EvaluateAccount("ACC_TEST")
		done <- outcome{report: report, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, f.db.Model(&types.TradingAccount{}).
		Where("account_id = ?", "ACC_TEST").
		Update("cash_balance", 100).Error)

	unlock()
	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, types.MarginStatusMaintenanceBreach, got.report.Status)
	assert.InDelta(t, 100.0, got.report.Equity, 1e-9)
}

func TestEvaluateCashAccountSkipsRequirements(t *testing.T) {
	f := newFixture(t, 1_000, 100)
	f.account.AccountType = types.AccountTypeCash

	evaluator := NewEvaluator()
	check, _, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)

	assert.Equal(t, types.MarginStatusSufficient, check.Status)
	assert.Zero(t, check.InitialRequired)
	assert.Zero(t, check.MaintenanceRequired)
}

func TestEmitAlertsOnBreachEdgeOnly(t *testing.T) {
	f := newFixture(t, 100, 100)
	evaluator := NewEvaluator()
	emitter := NewEmitter(3)

	check, prev, err := evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	alerts, err := emitter.Emit(f.db, f.account, prev, check)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertTypeMarginBreach, alerts[0].AlertType)
	assert.Equal(t, "TRD001", alerts[0].TraderID)

	// Still breached: no duplicate alert
	check, prev, err = evaluator.Evaluate(f.db, f.account)
	require.NoError(t, err)
	alerts, err = emitter.Emit(f.db, f.account, prev, check)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	var stored []types.RiskAlert
	require.NoError(t, f.db.Find(&stored).Error)
	assert.Len(t, stored, 1)
}

func TestEmitEscalatesOnceAfterGrace(t *testing.T) {
	f := newFixture(t, 100, 100)
	evaluator := NewEvaluator()
	emitter := NewEmitter(2)

	var squareOffs int
	for i := 0; i < 4; i++ {
		check, prev, err := evaluator.Evaluate(f.db, f.account)
		require.NoError(t, err)
		alerts, err := emitter.Emit(f.db, f.account, prev, check)
		require.NoError(t, err)
		for _, alert := range alerts {
			if alert.AlertType == types.AlertTypeAutoSquareOff {
				squareOffs++
			}
		}
	}

	assert.Equal(t, 1, squareOffs)

	var check types.MarginCheck
	require.NoError(t, f.db.Where("account_id = ?", "ACC_TEST").First(&check).Error)
	assert.True(t, check.Escalated)
	assert.Equal(t, 4, check.ConsecutiveBreaches)
}
