package margin

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ksred/brokerage-api/internal/catalog"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Evaluator recomputes an account's required initial and maintenance
// margin from its open positions and compares them to equity (cash
// plus unrealized P&L marked at the latest reference price).
//
// Evaluation is idempotent: re-running it on an unchanged snapshot
// yields the same status, and the stored MarginCheck row lets the
// emitter alert only on breach transitions.
type Evaluator struct{}

// NewEvaluator creates a new margin evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate computes the account's margin status inside the caller's
// transaction and persists the updated MarginCheck row. It returns the
// check and the status recorded by the previous evaluation.
//
// Rule lookup fails closed: a position whose instrument matches no
// margin rule scope aborts the evaluation with ErrNoMarginRule rather
// than treating the instrument as margin-free.
func (e *Evaluator) Evaluate(tx *gorm.DB, account *types.TradingAccount) (*types.MarginCheck, string, error) {
	logger := log.With().
		Str("account_id", account.AccountID).
		Str("service", "margin").
		Logger()

	check, prevStatus, err := e.loadCheck(tx, account.AccountID)
	if err != nil {
		return nil, "", err
	}

	equity := account.CashBalance
	var initialRequired, maintenanceRequired float64

	// CASH accounts carry no margin requirement; the validator already
	// blocks short exposure on them.
	if account.AccountType == types.AccountTypeMargin {
		var positions []types.Position
		if err := tx.Where("account_id = ? AND quantity <> 0", account.AccountID).
			Find(&positions).Error; err != nil {
			return nil, "", fmt.Errorf("failed to fetch positions: %w", err)
		}

		for _, position := range positions {
			rule, err := e.matchRule(tx, position.Symbol)
			if err != nil {
				return nil, "", err
			}

			mark, err := e.markPrice(tx, &position)
			if err != nil {
				return nil, "", err
			}
			marketValue := math.Abs(position.Quantity) * mark

			initialRequired += marketValue * rule.InitialPct
			maintenanceRequired += marketValue * rule.MaintenancePct
			equity += position.Quantity * (mark - position.AvgCost)
		}
	}

	status := types.MarginStatusSufficient
	switch {
	case equity < maintenanceRequired:
		status = types.MarginStatusMaintenanceBreach
	case equity < initialRequired:
		status = types.MarginStatusInitialBreach
	}

	check.Status = status
	check.Equity = equity
	check.InitialRequired = initialRequired
	check.MaintenanceRequired = maintenanceRequired
	check.EvaluatedAt = time.Now()

	if status == types.MarginStatusMaintenanceBreach {
		check.ConsecutiveBreaches++
	} else {
		check.ConsecutiveBreaches = 0
		check.Escalated = false
	}

	if err := tx.Save(check).Error; err != nil {
		return nil, "", fmt.Errorf("failed to save margin check: %w", err)
	}

	logger.Debug().
		Str("status", status).
		Str("previous_status", prevStatus).
		Float64("equity", equity).
		Float64("initial_required", initialRequired).
		Float64("maintenance_required", maintenanceRequired).
		Msg("margin evaluation completed")

	return check, prevStatus, nil
}

// loadCheck fetches the account's check row, creating a fresh
// SUFFICIENT one on first evaluation.
func (e *Evaluator) loadCheck(tx *gorm.DB, accountID string) (*types.MarginCheck, string, error) {
	var check types.MarginCheck
	err := tx.Where("account_id = ?", accountID).First(&check).Error
	if err == nil {
		return &check, check.Status, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	check = types.MarginCheck{
		AccountID: accountID,
		Status:    types.MarginStatusSufficient,
	}
	return &check, types.MarginStatusSufficient, nil
}

// matchRule resolves the margin rule for an instrument. Scope
// candidates are tried most specific first (instrument class, then
// exchange); the first rule found wins.
func (e *Evaluator) matchRule(tx *gorm.DB, symbol string) (*types.MarginRule, error) {
	var instrument types.Instrument
	if err := tx.Where("symbol = ?", symbol).First(&instrument).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch instrument %s: %w", symbol, err)
	}

	candidates := catalog.ScopeCandidates(&instrument)
	for _, scope := range candidates {
		var rule types.MarginRule
		err := tx.Where("scope = ?", scope).First(&rule).Error
		if err == nil {
			return &rule, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: instrument %s (scopes %v)", types.ErrNoMarginRule, symbol, candidates)
}

// markPrice returns the latest reference price for a position's
// instrument, falling back to average cost when no quote exists so a
// missing quote contributes zero unrealized P&L instead of failing the
// sweep. Query failures other than a missing quote propagate.
func (e *Evaluator) markPrice(tx *gorm.DB, position *types.Position) (float64, error) {
	var quote types.Quote
	err := tx.Where("symbol = ?", position.Symbol).First(&quote).Error
	if err == nil {
		return quote.Price, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return position.AvgCost, nil
	}
	return 0, fmt.Errorf("failed to fetch quote for %s: %w", position.Symbol, err)
}
