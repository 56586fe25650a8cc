package types

import (
	"time"

	"gorm.io/gorm"
)

// Account types and statuses
const (
	AccountTypeCash   = "CASH"
	AccountTypeMargin = "MARGIN"

	AccountStatusActive    = "ACTIVE"
	AccountStatusSuspended = "SUSPENDED"
	AccountStatusClosed    = "CLOSED"
)

// Instrument statuses
const (
	InstrumentStatusActive    = "ACTIVE"
	InstrumentStatusSuspended = "SUSPENDED"
	InstrumentStatusDelisted  = "DELISTED"
)

// Order sides, types, time-in-force and statuses
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	TimeInForceIOC = "IOC"

	OrderStatusNew             = "NEW"
	OrderStatusFilled          = "FILLED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusCancelled       = "CANCELLED"
)

// Lot directions and closing methods
const (
	LotDirectionLong  = "LONG"
	LotDirectionShort = "SHORT"

	LotMethodFIFO = "FIFO"
	LotMethodLIFO = "LIFO"
)

// Ledger entry types
const (
	EntryTypeDebit  = "DEBIT"
	EntryTypeCredit = "CREDIT"
)

// Margin statuses
const (
	MarginStatusSufficient        = "SUFFICIENT"
	MarginStatusInitialBreach     = "INITIAL_BREACH"
	MarginStatusMaintenanceBreach = "MAINTENANCE_BREACH"
)

// Risk alert types
const (
	AlertTypeMarginBreach  = "MARGIN_BREACH"
	AlertTypeAutoSquareOff = "AUTO_SQOFF"
)

// TradingAccount is the unit of ownership for orders, positions, ledger
// entries and risk alerts. CashBalance is mutated only by the ledger
// poster and always equals the running sum of the account's entries.
type TradingAccount struct {
	gorm.Model   `json:"-"`
	AccountID    string  `gorm:"uniqueIndex" json:"account_id"`
	BrokerID     string  `gorm:"index" json:"broker_id"`
	TraderID     string  `gorm:"index" json:"trader_id"`
	AccountType  string  `json:"account_type"` // CASH or MARGIN
	BaseCurrency string  `json:"base_currency"`
	CashBalance  float64 `json:"cash_balance"`
	LotMethod    string  `json:"lot_method"` // FIFO or LIFO, applied when lots open
	Status       string  `json:"status"`     // ACTIVE, SUSPENDED, CLOSED
}

// Instrument is read-only to the execution core. Class and Exchange are
// the margin rule scope candidates, most specific (class) first.
type Instrument struct {
	gorm.Model `json:"-"`
	Symbol     string  `gorm:"uniqueIndex" json:"symbol"`
	Exchange   string  `json:"exchange"`
	Class      string  `json:"class"` // e.g. EQUITY, FUTURE
	Status     string  `json:"status"`
	LotSize    float64 `json:"lot_size"`
	TickSize   float64 `json:"tick_size"`
}

type Order struct {
	gorm.Model  `json:"-"`
	OrderID     string  `gorm:"uniqueIndex" json:"order_id"`
	AccountID   string  `gorm:"index" json:"account_id"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`       // BUY or SELL
	OrderType   string  `json:"order_type"` // MARKET or LIMIT
	TimeInForce string  `json:"time_in_force"`
	Quantity    float64 `json:"quantity"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	Venue       string  `json:"venue,omitempty"`
	Status      string  `json:"status"` // NEW, FILLED, PARTIALLY_FILLED, REJECTED, CANCELLED
	Reason      string  `json:"reason,omitempty"`
}

// Execution is an immutable, append-only fill record.
type Execution struct {
	gorm.Model  `json:"-"`
	ExecutionID string    `gorm:"uniqueIndex" json:"execution_id"`
	OrderID     string    `gorm:"index" json:"order_id"`
	AccountID   string    `gorm:"index" json:"account_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Position aggregates the open lots for one (account, instrument) pair.
// Quantity is signed: positive long, negative short. It is recomputed
// from open lot remainders after every accounting step.
type Position struct {
	gorm.Model `json:"-"`
	PositionID string  `gorm:"uniqueIndex" json:"position_id"`
	AccountID  string  `gorm:"index:idx_positions_account_symbol,unique" json:"account_id"`
	Symbol     string  `gorm:"index:idx_positions_account_symbol,unique" json:"symbol"`
	Quantity   float64 `json:"quantity"`
	AvgCost    float64 `json:"avg_cost"`
}

// Lot is a cost-basis unit of a position. QtyClosed never exceeds
// QtyOpen; a lot with QtyClosed == QtyOpen is fully closed and excluded
// from open-quantity calculations.
type Lot struct {
	gorm.Model `json:"-"`
	LotID      string    `gorm:"uniqueIndex" json:"lot_id"`
	PositionID string    `gorm:"index" json:"position_id"`
	Direction  string    `json:"direction"` // LONG or SHORT
	Method     string    `json:"method"`    // closing method fixed at open time
	OpenPrice  float64   `json:"open_price"`
	QtyOpen    float64   `json:"qty_open"`
	QtyClosed  float64   `json:"qty_closed"`
	OpenedAt   time.Time `json:"opened_at"`
}

// LedgerEntry is append-only and immutable once posted. Corrections are
// made via new offsetting entries, never edits.
type LedgerEntry struct {
	gorm.Model  `json:"-"`
	EntryID     string    `gorm:"uniqueIndex" json:"entry_id"`
	AccountID   string    `gorm:"index" json:"account_id"`
	EntryType   string    `json:"entry_type"` // DEBIT or CREDIT
	Amount      float64   `json:"amount"`     // always positive
	Description string    `json:"description"`
	ReferenceID string    `json:"reference_id,omitempty"`
	PostedAt    time.Time `json:"posted_at"`
}

// MarginRule holds initial and maintenance percentages for a scope
// (instrument class or exchange code). RiskParams is an opaque JSON
// payload carried through untouched.
type MarginRule struct {
	gorm.Model     `json:"-"`
	RuleID         string  `gorm:"uniqueIndex" json:"rule_id"`
	Scope          string  `gorm:"uniqueIndex" json:"scope"`
	InitialPct     float64 `json:"initial_pct"`     // fraction, e.g. 0.5
	MaintenancePct float64 `json:"maintenance_pct"` // fraction, e.g. 0.25
	RiskParams     string  `json:"risk_params,omitempty"`
}

// RiskAlert is an append-only fact raised by the margin pipeline.
type RiskAlert struct {
	gorm.Model  `json:"-"`
	AlertID     string    `gorm:"uniqueIndex" json:"alert_id"`
	AccountID   string    `gorm:"index" json:"account_id"`
	TraderID    string    `json:"trader_id"`
	AlertType   string    `json:"alert_type"` // MARGIN_BREACH or AUTO_SQOFF
	Description string    `json:"description"`
	RaisedAt    time.Time `json:"raised_at"`
}

// MarginCheck records the latest margin evaluation per account. The
// previous status stored here is what makes breach alerts fire on the
// SUFFICIENT to MAINTENANCE_BREACH edge only, and the consecutive
// breach counter drives AUTO_SQOFF escalation.
type MarginCheck struct {
	gorm.Model          `json:"-"`
	AccountID           string    `gorm:"uniqueIndex" json:"account_id"`
	Status              string    `json:"status"`
	Equity              float64   `json:"equity"`
	InitialRequired     float64   `json:"initial_required"`
	MaintenanceRequired float64   `json:"maintenance_required"`
	ConsecutiveBreaches int       `json:"consecutive_breaches"`
	Escalated           bool      `json:"escalated"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// Quote is the latest reference price for an instrument, supplied by
// the market data collaborator.
type Quote struct {
	gorm.Model `json:"-"`
	Symbol     string    `gorm:"uniqueIndex" json:"symbol"`
	Price      float64   `json:"price"`
	QuotedAt   time.Time `json:"quoted_at"`
}
