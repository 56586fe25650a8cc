package types

import "time"

// OrderRequest is the order placement payload accepted by the intake
// layer.
type OrderRequest struct {
	AccountID   string  `json:"account_id" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	OrderType   string  `json:"order_type" binding:"required"`
	TimeInForce string  `json:"time_in_force"`
	Quantity    float64 `json:"quantity" binding:"required"`
	LimitPrice  float64 `json:"limit_price"`
}

// OrderResult is returned by the execution pipeline: the order, its
// executions (empty on rejection) and the post-trade margin status.
type OrderResult struct {
	Order        *Order      `json:"order"`
	Executions   []Execution `json:"executions,omitempty"`
	MarginStatus string      `json:"margin_status,omitempty"`
	RealizedPnL  float64     `json:"realized_pnl"`
}

// MarginReport is the query-surface view of an account's latest margin
// evaluation.
type MarginReport struct {
	AccountID           string    `json:"account_id"`
	Status              string    `json:"status"`
	Equity              float64   `json:"equity"`
	InitialRequired     float64   `json:"initial_required"`
	MaintenanceRequired float64   `json:"maintenance_required"`
	EvaluatedAt         time.Time `json:"evaluated_at"`
}

// BalanceResponse reports an account's cash balance alongside the sum
// of its ledger entries, which must agree.
type BalanceResponse struct {
	AccountID     string  `json:"account_id"`
	CashBalance   float64 `json:"cash_balance"`
	LedgerBalance float64 `json:"ledger_balance"`
	Currency      string  `json:"currency"`
}
