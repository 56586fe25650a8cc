package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Poster translates executions and cash movements into immutable ledger
// entries. It is the only writer of LedgerEntry records and of
// TradingAccount.CashBalance: the balance is always the running sum of
// the account's entries (credits positive, debits negative).
type Poster struct{}

// NewPoster creates a new ledger poster
func NewPoster() *Poster {
	return &Poster{}
}

// PostExecution posts the monetary effect of an execution inside the
// caller's transaction. A BUY debits price x quantity (cash leaves the
// account); a SELL credits the same magnitude. Realized gain/loss from
// lot closure posts an additional zero-net entry pair identifying the
// source lots, so the cash balance still equals the sum of all entries.
func (p *Poster) PostExecution(tx *gorm.DB, account *types.TradingAccount, execution *types.Execution, realized float64, closedLotIDs []string) error {
	logger := log.With().
		Str("account_id", account.AccountID).
		Str("execution_id", execution.ExecutionID).
		Str("service", "ledger").
		Logger()

	gross := execution.Price * execution.Quantity

	entryType := types.EntryTypeDebit
	if execution.Side == types.SideSell {
		entryType = types.EntryTypeCredit
	}

	tradeEntry := &types.LedgerEntry{
		EntryID:   "LED_" + uuid.New().String(),
		AccountID: account.AccountID,
		EntryType: entryType,
		Amount:    gross,
		Description: fmt.Sprintf("%s %g %s @ %g", execution.Side,
			execution.Quantity, execution.Symbol, execution.Price),
		ReferenceID: execution.ExecutionID,
		PostedAt:    time.Now(),
	}

	if err := p.post(tx, account, tradeEntry); err != nil {
		return fmt.Errorf("failed to post trade entry: %w", err)
	}

	logger.Debug().
		Str("entry_type", entryType).
		Float64("amount", gross).
		Msg("posted trade cash entry")

	if realized != 0 {
		if err := p.postRealized(tx, account, execution, realized, closedLotIDs); err != nil {
			return err
		}
		logger.Debug().
			Float64("realized", realized).
			Int("lots_closed", len(closedLotIDs)).
			Msg("posted realized P&L entries")
	}

	return nil
}

// postRealized records realized gain/loss as a balanced pair: the P&L
// entry plus its cost-basis counter-entry. The pair nets to zero so it
// never double-counts cash the trade entry already moved.
func (p *Poster) postRealized(tx *gorm.DB, account *types.TradingAccount, execution *types.Execution, realized float64, closedLotIDs []string) error {
	lots := strings.Join(closedLotIDs, ",")

	pnlType := types.EntryTypeCredit
	offsetType := types.EntryTypeDebit
	label := "realized gain"
	amount := realized
	if realized < 0 {
		pnlType = types.EntryTypeDebit
		offsetType = types.EntryTypeCredit
		label = "realized loss"
		amount = -realized
	}

	pnlEntry := &types.LedgerEntry{
		EntryID:     "LED_" + uuid.New().String(),
		AccountID:   account.AccountID,
		EntryType:   pnlType,
		Amount:      amount,
		Description: fmt.Sprintf("%s on %s lots %s", label, execution.Symbol, lots),
		ReferenceID: execution.ExecutionID,
		PostedAt:    time.Now(),
	}
	if err := p.post(tx, account, pnlEntry); err != nil {
		return fmt.Errorf("failed to post realized P&L entry: %w", err)
	}

	offsetEntry := &types.LedgerEntry{
		EntryID:     "LED_" + uuid.New().String(),
		AccountID:   account.AccountID,
		EntryType:   offsetType,
		Amount:      amount,
		Description: fmt.Sprintf("cost basis adjustment for %s lots %s", execution.Symbol, lots),
		ReferenceID: execution.ExecutionID,
		PostedAt:    time.Now(),
	}
	if err := p.post(tx, account, offsetEntry); err != nil {
		return fmt.Errorf("failed to post cost basis entry: %w", err)
	}

	return nil
}

// PostTransfer posts a single cash movement (deposit or withdrawal)
// against an account inside the caller's transaction.
func (p *Poster) PostTransfer(tx *gorm.DB, account *types.TradingAccount, entryType string, amount float64, description string) (*types.LedgerEntry, error) {
	if amount <= 0 {
		return nil, types.NewInvalidOrderError("amount", "transfer amount must be positive, got %f", amount)
	}

	entry := &types.LedgerEntry{
		EntryID:     "LED_" + uuid.New().String(),
		AccountID:   account.AccountID,
		EntryType:   entryType,
		Amount:      amount,
		Description: description,
		PostedAt:    time.Now(),
	}

	if err := p.post(tx, account, entry); err != nil {
		return nil, fmt.Errorf("failed to post transfer entry: %w", err)
	}

	return entry, nil
}

// post writes the entry and moves the account balance by its signed
// amount in one step. Entries are never edited or deleted afterwards.
func (p *Poster) post(tx *gorm.DB, account *types.TradingAccount, entry *types.LedgerEntry) error {
	if err := tx.Create(entry).Error; err != nil {
		return err
	}

	delta := entry.Amount
	if entry.EntryType == types.EntryTypeDebit {
		delta = -delta
	}
	account.CashBalance += delta

	return tx.Model(&types.TradingAccount{}).
		Where("account_id = ?", account.AccountID).
		Update("cash_balance", gorm.Expr("cash_balance + ?", delta)).Error
}
