package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// qtyEpsilon bounds float drift when comparing lot quantities.
const qtyEpsilon = 1e-9

// Accountant applies executions to positions, maintaining cost-basis
// lots under the account's configured closing method (FIFO or LIFO,
// fixed on each lot at open time).
type Accountant struct{}

// NewAccountant creates a new position lot accountant
func NewAccountant() *Accountant {
	return &Accountant{}
}

// Apply books an execution against the account's position for that
// instrument inside the caller's transaction. It returns the realized
// gain/loss from any lots closed and their IDs.
//
// An execution in the direction of the current position (or against a
// flat one) opens a new lot. An execution against the position closes
// open lots in method order until the quantity is exhausted; quantity
// beyond all closable lots crosses through flat and opens a lot in the
// opposite direction at the execution price.
func (a *Accountant) Apply(tx *gorm.DB, account *types.TradingAccount, execution *types.Execution) (float64, []string, error) {
	logger := log.With().
		Str("account_id", account.AccountID).
		Str("symbol", execution.Symbol).
		Str("execution_id", execution.ExecutionID).
		Str("service", "portfolio").
		Logger()

	position, err := a.getOrCreatePosition(tx, account, execution.Symbol)
	if err != nil {
		return 0, nil, err
	}

	signedQty := execution.Quantity
	if execution.Side == types.SideSell {
		signedQty = -execution.Quantity
	}

	// Same direction as the position (or flat): pure open.
	if position.Quantity == 0 || (position.Quantity > 0) == (signedQty > 0) {
		if err := a.openLot(tx, account, position, signedQty, execution.Price); err != nil {
			return 0, nil, err
		}
		if err := a.recompute(tx, position); err != nil {
			return 0, nil, err
		}
		logger.Debug().
			Float64("position_quantity", position.Quantity).
			Float64("avg_cost", position.AvgCost).
			Msg("opened lot")
		return 0, nil, nil
	}

	// Opposing direction: close lots, possibly crossing through flat.
	lots, err := a.openLots(tx, position.PositionID, account.LotMethod)
	if err != nil {
		return 0, nil, err
	}

	var available float64
	for _, lot := range lots {
		available += lot.QtyOpen - lot.QtyClosed
	}

	// The open lots must account for the full position quantity. If
	// they do not, the books are inconsistent and the pipeline must
	// abort rather than clamp.
	if math.Abs(available-math.Abs(position.Quantity)) > qtyEpsilon {
		return 0, nil, &types.InsufficientLotsError{
			PositionID: position.PositionID,
			Requested:  math.Abs(position.Quantity),
			Available:  available,
		}
	}

	closingLong := position.Quantity > 0
	remaining := math.Abs(signedQty)
	var realized float64
	closedLotIDs := make([]string, 0, len(lots))

	for i := range lots {
		if remaining <= qtyEpsilon {
			break
		}
		lot := &lots[i]

		take := math.Min(remaining, lot.QtyOpen-lot.QtyClosed)
		if take <= qtyEpsilon {
			continue
		}

		if closingLong {
			realized += (execution.Price - lot.OpenPrice) * take
		} else {
			realized += (lot.OpenPrice - execution.Price) * take
		}

		lot.QtyClosed += take
		remaining -= take
		closedLotIDs = append(closedLotIDs, lot.LotID)

		if err := tx.Save(lot).Error; err != nil {
			return 0, nil, fmt.Errorf("failed to update lot %s: %w", lot.LotID, err)
		}
	}

	// Crossed through flat: the remainder opens a lot on the other side.
	if remaining > qtyEpsilon {
		if err := a.openLot(tx, account, position, math.Copysign(remaining, signedQty), execution.Price); err != nil {
			return 0, nil, err
		}
	}

	if err := a.recompute(tx, position); err != nil {
		return 0, nil, err
	}

	logger.Debug().
		Float64("realized", realized).
		Int("lots_closed", len(closedLotIDs)).
		Float64("position_quantity", position.Quantity).
		Float64("avg_cost", position.AvgCost).
		Msg("closed lots")

	return realized, closedLotIDs, nil
}

func (a *Accountant) getOrCreatePosition(tx *gorm.DB, account *types.TradingAccount, symbol string) (*types.Position, error) {
	var position types.Position
	err := tx.Where("account_id = ? AND symbol = ?", account.AccountID, symbol).
		First(&position).Error
	if err == nil {
		return &position, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	position = types.Position{
		PositionID: "POS_" + uuid.New().String(),
		AccountID:  account.AccountID,
		Symbol:     symbol,
	}
	if err := tx.Create(&position).Error; err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}
	return &position, nil
}

func (a *Accountant) openLot(tx *gorm.DB, account *types.TradingAccount, position *types.Position, signedQty, price float64) error {
	direction := types.LotDirectionLong
	if signedQty < 0 {
		direction = types.LotDirectionShort
	}

	method := account.LotMethod
	if method == "" {
		method = types.LotMethodFIFO
	}

	lot := &types.Lot{
		LotID:      "LOT_" + uuid.New().String(),
		PositionID: position.PositionID,
		Direction:  direction,
		Method:     method,
		OpenPrice:  price,
		QtyOpen:    math.Abs(signedQty),
		QtyClosed:  0,
		OpenedAt:   time.Now(),
	}

	if err := tx.Create(lot).Error; err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}
	return nil
}

// openLots returns the position's unclosed lots in closing order:
// oldest first for FIFO, newest first for LIFO.
func (a *Accountant) openLots(tx *gorm.DB, positionID, method string) ([]types.Lot, error) {
	order := "opened_at ASC, id ASC"
	if method == types.LotMethodLIFO {
		order = "opened_at DESC, id DESC"
	}

	var lots []types.Lot
	if err := tx.Where("position_id = ? AND qty_closed < qty_open", positionID).
		Order(order).
		Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch open lots: %w", err)
	}
	return lots, nil
}

// recompute derives Position.Quantity and Position.AvgCost from the
// remaining open lot quantities.
func (a *Accountant) recompute(tx *gorm.DB, position *types.Position) error {
	var lots []types.Lot
	if err := tx.Where("position_id = ? AND qty_closed < qty_open", position.PositionID).
		Find(&lots).Error; err != nil {
		return fmt.Errorf("failed to fetch open lots: %w", err)
	}

	var signedQty, openQty, weightedCost float64
	for _, lot := range lots {
		remaining := lot.QtyOpen - lot.QtyClosed
		openQty += remaining
		weightedCost += remaining * lot.OpenPrice
		if lot.Direction == types.LotDirectionShort {
			signedQty -= remaining
		} else {
			signedQty += remaining
		}
	}

	position.Quantity = signedQty
	position.AvgCost = 0
	if openQty > qtyEpsilon {
		position.AvgCost = weightedCost / openQty
	}

	return tx.Save(position).Error
}
