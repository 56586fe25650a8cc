package orders

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/accounts"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/exchange"
	"github.com/ksred/brokerage-api/internal/ledger"
	"github.com/ksred/brokerage-api/internal/margin"
	"github.com/ksred/brokerage-api/internal/portfolio"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service runs the order pipeline: validate, execute, account the lots,
// post the ledger entries and evaluate margin, all under the account's
// lock in a single transaction. Any failure past validation rolls the
// whole trade back so no partial state survives.
type Service struct {
	db         *Database
	gormDB     *gorm.DB
	validator  *Validator
	simulator  *exchange.Simulator
	accountant *portfolio.Accountant
	poster     *ledger.Poster
	evaluator  *margin.Evaluator
	locks      *accounts.Locks
}

// NewService creates a new orders service wired to its pipeline
// collaborators
func NewService(gormDB *gorm.DB, accountant *portfolio.Accountant, poster *ledger.Poster,
	evaluator *margin.Evaluator, locks *accounts.Locks) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		gormDB:     gormDB,
		validator:  NewValidator(),
		simulator:  exchange.NewSimulator(),
		accountant: accountant,
		poster:     poster,
		evaluator:  evaluator,
		locks:      locks,
	}
}

// PlaceOrder runs the full pipeline for one order request. It returns
// nil when the account is unknown or outside the caller's scope. A
// rejected order is persisted with its reason and the rejection error
// is returned; a retried Idempotency-Key replays the stored order
// without re-running the pipeline.
func (s *Service) PlaceOrder(req *types.OrderRequest, idempotencyKey, clientID, brokerID, role string) (*types.OrderResult, error) {
	account, err := s.scopedAccount(req.AccountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}

	if idempotencyKey != "" {
		replay, err := s.replayIdempotent(idempotencyKey)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	unlock := s.locks.Lock(account.AccountID)
	defer unlock()

	// Re-read under the lock: the balance may have moved while we
	// waited, and every balance-dependent check below must see the
	// serialized state.
	account, err = s.db.GetAccount(account.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, nil
	}

	logger := log.With().
		Str("account_id", account.AccountID).
		Str("symbol", req.Symbol).
		Str("service", "orders").
		Logger()

	instrument, err := s.db.GetInstrument(req.Symbol)
	if err != nil {
		return nil, err
	}
	position, err := s.db.GetPosition(account.AccountID, req.Symbol)
	if err != nil {
		return nil, err
	}

	order := newOrder(req)

	if err := s.validator.Validate(req, account, instrument, position); err != nil {
		if rejErr := s.reject(order, idempotencyKey, err); rejErr != nil {
			return nil, rejErr
		}
		logger.Info().Str("order_id", order.OrderID).Err(err).Msg("order rejected by validation")
		return nil, err
	}

	// MARKET orders need a reference price to fill at; LIMIT orders
	// fill at their own price.
	var referencePrice float64
	if order.OrderType == types.OrderTypeMarket {
		quote, err := s.db.GetQuote(order.Symbol)
		if err != nil {
			return nil, err
		}
		if quote == nil {
			err := fmt.Errorf("%w: no quote for %s", types.ErrNoLiquidity, order.Symbol)
			if rejErr := s.reject(order, idempotencyKey, err); rejErr != nil {
				return nil, rejErr
			}
			logger.Info().Str("order_id", order.OrderID).Msg("order rejected, no reference price")
			return nil, err
		}
		referencePrice = quote.Price
	}

	result := &types.OrderResult{}
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		execution, err := s.simulator.Execute(tx, order, referencePrice)
		if err != nil {
			return err
		}

		realized, closedLotIDs, err := s.accountant.Apply(tx, account, execution)
		if err != nil {
			return err
		}

		if err := s.poster.PostExecution(tx, account, execution, realized, closedLotIDs); err != nil {
			return err
		}

		// A CASH account can never owe money: the trade must be fully
		// funded by the balance it already holds.
		if account.AccountType == types.AccountTypeCash && account.CashBalance < -priceEpsilon {
			return fmt.Errorf("%w: trade not covered by cash balance", types.ErrInsufficientMargin)
		}

		if account.AccountType == types.AccountTypeMargin {
			check, _, err := s.evaluator.Evaluate(tx, account)
			if err != nil {
				return err
			}
			if check.Status != types.MarginStatusSufficient {
				return fmt.Errorf("%w: post-trade margin status %s", types.ErrInsufficientMargin, check.Status)
			}
			result.MarginStatus = check.Status
		}

		order.Status = types.OrderStatusFilled
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		if idempotencyKey != "" {
			if err := s.db.CreateIdempotencyRecord(tx, idempotencyKey, order.OrderID); err != nil {
				return err
			}
		}

		result.Order = order
		result.Executions = []types.Execution{*execution}
		result.RealizedPnL = realized
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrInsufficientMargin) || errors.Is(err, types.ErrNoMarginRule) {
			if rejErr := s.reject(order, idempotencyKey, err); rejErr != nil {
				return nil, rejErr
			}
			logger.Info().Str("order_id", order.OrderID).Err(err).Msg("order rejected post-trade")
		}
		return nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Float64("realized_pnl", result.RealizedPnL).
		Msg("order filled")

	return result, nil
}

// CancelOrder cancels an order that has not started executing. Only
// NEW orders can be cancelled; filled and rejected orders are final.
func (s *Service) CancelOrder(orderID, clientID, brokerID, role string) (*types.Order, error) {
	order, err := s.scopedOrder(orderID, clientID, brokerID, role)
	if err != nil || order == nil {
		return nil, err
	}

	if order.Status != types.OrderStatusNew {
		return nil, types.NewInvalidOrderError("status",
			"order %s is %s and cannot be cancelled", order.OrderID, order.Status)
	}

	order.Status = types.OrderStatusCancelled
	if err := s.gormDB.Save(order).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	return order, nil
}

// GetOrder returns an order scoped to the caller, or nil.
func (s *Service) GetOrder(orderID, clientID, brokerID, role string) (*types.Order, error) {
	return s.scopedOrder(orderID, clientID, brokerID, role)
}

// GetOrders returns an account's orders scoped to the caller, newest
// first, or nil when the account is out of scope.
func (s *Service) GetOrders(accountID, clientID, brokerID, role string) ([]types.Order, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	return s.db.GetOrdersForAccount(accountID)
}

// GetExecutions returns an order's executions scoped to the caller, or
// nil when the order is out of scope.
func (s *Service) GetExecutions(orderID, clientID, brokerID, role string) ([]types.Execution, error) {
	order, err := s.scopedOrder(orderID, clientID, brokerID, role)
	if err != nil || order == nil {
		return nil, err
	}
	return s.db.GetExecutionsForOrder(order.OrderID)
}

// replayIdempotent returns the stored outcome for a seen key, or nil
// when the key is fresh.
func (s *Service) replayIdempotent(key string) (*types.OrderResult, error) {
	record, err := s.db.GetIdempotencyRecord(key)
	if err != nil || record == nil {
		return nil, err
	}

	order, err := s.db.GetOrder(record.ResourceID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("idempotency record %s references missing order %s", key, record.ResourceID)
	}

	executions, err := s.db.GetExecutionsForOrder(order.OrderID)
	if err != nil {
		return nil, err
	}

	return &types.OrderResult{Order: order, Executions: executions}, nil
}

// reject persists the order as REJECTED with the rejection reason.
func (s *Service) reject(order *types.Order, idempotencyKey string, cause error) error {
	order.Model = gorm.Model{}
	order.Status = types.OrderStatusRejected
	order.Reason = cause.Error()
	return s.db.CreateRejectedOrder(order, idempotencyKey)
}

// scopedAccount loads an account and enforces the caller's visibility.
func (s *Service) scopedAccount(accountID, clientID, brokerID, role string) (*types.TradingAccount, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil || account == nil {
		return nil, err
	}

	switch role {
	case auth.RoleOperator:
		return account, nil
	case auth.RoleBrokerAdmin:
		if account.BrokerID != brokerID {
			return nil, nil
		}
	default:
		if account.TraderID != clientID {
			return nil, nil
		}
	}
	return account, nil
}

// scopedOrder loads an order and enforces the caller's visibility via
// the owning account.
func (s *Service) scopedOrder(orderID, clientID, brokerID, role string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil || order == nil {
		return nil, err
	}

	account, err := s.scopedAccount(order.AccountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	return order, nil
}

func newOrder(req *types.OrderRequest) *types.Order {
	tif := req.TimeInForce
	if tif == "" {
		tif = types.TimeInForceIOC
	}

	return &types.Order{
		OrderID:     "ORD_" + uuid.New().String(),
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		OrderType:   req.OrderType,
		TimeInForce: tif,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		Venue:       "SIM",
		Status:      types.OrderStatusNew,
	}
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceOrderHandler handles POST requests to place orders
// Requires a valid JWT token and Idempotency-Key header
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceOrder(&req, idempotencyKey,
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if result == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, result)
	}
}

// GetOrderHandler handles GET requests for a single order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// GetOrdersHandler handles GET requests for an account's orders
// URL parameter: account_id
func (h *GinHandlers) GetOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.GetOrders(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if orders == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, orders)
	}
}

// CancelOrderHandler handles POST requests to cancel an order
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.CancelOrder(c.Param("order_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// GetExecutionsHandler handles GET requests for an order's executions
// URL parameter: order_id
func (h *GinHandlers) GetExecutionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		executions, err := h.service.GetExecutions(c.Param("order_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if executions == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, executions)
	}
}
