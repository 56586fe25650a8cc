package orders

import (
	"math"

	"github.com/ksred/brokerage-api/internal/types"
)

// priceEpsilon bounds float drift in lot size and tick size multiple
// checks.
const priceEpsilon = 1e-9

// Validator rejects malformed or impermissible orders before any money
// moves. It only reads reference data; everything it checks must hold
// before the execution pipeline starts.
type Validator struct{}

// NewValidator creates a new order validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks an order request against its account, instrument and
// current position. A nil error means the order may proceed to
// execution.
func (v *Validator) Validate(req *types.OrderRequest, account *types.TradingAccount, instrument *types.Instrument, position *types.Position) error {
	if account.Status != types.AccountStatusActive {
		return types.NewInvalidOrderError("account",
			"account %s is %s", account.AccountID, account.Status)
	}

	if instrument == nil {
		return types.NewInvalidOrderError("symbol", "unknown instrument %s", req.Symbol)
	}
	if instrument.Status != types.InstrumentStatusActive {
		return types.NewInvalidOrderError("symbol",
			"instrument %s is %s", instrument.Symbol, instrument.Status)
	}

	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return types.NewInvalidOrderError("side", "side must be BUY or SELL, got %s", req.Side)
	}

	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return types.NewInvalidOrderError("order_type",
			"order type must be MARKET or LIMIT, got %s", req.OrderType)
	}

	if req.TimeInForce != "" && req.TimeInForce != types.TimeInForceIOC {
		return types.NewInvalidOrderError("time_in_force",
			"only IOC orders are supported, got %s", req.TimeInForce)
	}

	if req.Quantity <= 0 {
		return types.NewInvalidOrderError("quantity",
			"quantity must be positive, got %g", req.Quantity)
	}
	if !isMultiple(req.Quantity, instrument.LotSize) {
		return types.NewInvalidOrderError("quantity",
			"quantity %g is not a multiple of lot size %g", req.Quantity, instrument.LotSize)
	}

	switch req.OrderType {
	case types.OrderTypeLimit:
		if req.LimitPrice <= 0 {
			return types.NewInvalidOrderError("limit_price",
				"limit price must be positive, got %g", req.LimitPrice)
		}
		if !isMultiple(req.LimitPrice, instrument.TickSize) {
			return types.NewInvalidOrderError("limit_price",
				"limit price %g is not a multiple of tick size %g", req.LimitPrice, instrument.TickSize)
		}
	default:
		if req.LimitPrice != 0 {
			return types.NewInvalidOrderError("limit_price",
				"market orders must not carry a limit price")
		}
	}

	// A CASH account may sell only what it holds: the resulting
	// position must not go short.
	if account.AccountType == types.AccountTypeCash && req.Side == types.SideSell {
		var held float64
		if position != nil {
			held = position.Quantity
		}
		if req.Quantity > held+priceEpsilon {
			return types.NewInvalidOrderError("quantity",
				"cash account cannot sell short: selling %g with %g held", req.Quantity, held)
		}
	}

	return nil
}

// isMultiple reports whether value is an integer multiple of unit
// within float tolerance. A non-positive unit disables the check.
func isMultiple(value, unit float64) bool {
	if unit <= 0 {
		return true
	}
	return math.Abs(math.Remainder(value, unit)) < priceEpsilon
}
