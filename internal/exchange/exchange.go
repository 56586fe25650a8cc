package exchange

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Simulator stands in for an execution venue. Fills are deterministic:
// an immediate-or-cancel order fills in full in a single execution, at
// the reference price for MARKET orders and at the limit price for
// LIMIT orders. No partial fills, no queue position, no slippage.
type Simulator struct{}

// NewSimulator creates a new execution simulator
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Execute fills a validated order inside the caller's transaction and
// returns the resulting execution. The caller supplies the reference
// price already resolved from market data; price selection here is the
// only venue behavior being modeled.
func (s *Simulator) Execute(tx *gorm.DB, order *types.Order, referencePrice float64) (*types.Execution, error) {
	price := referencePrice
	if order.OrderType == types.OrderTypeLimit {
		price = order.LimitPrice
	}

	execution := &types.Execution{
		ExecutionID: "EXE_" + uuid.New().String(),
		OrderID:     order.OrderID,
		AccountID:   order.AccountID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    order.Quantity,
		Price:       price,
		ExecutedAt:  time.Now(),
	}

	if err := tx.Create(execution).Error; err != nil {
		return nil, fmt.Errorf("failed to record execution: %w", err)
	}

	log.Debug().
		Str("order_id", order.OrderID).
		Str("execution_id", execution.ExecutionID).
		Float64("price", price).
		Float64("quantity", execution.Quantity).
		Str("service", "exchange").
		Msg("order executed")

	return execution, nil
}
