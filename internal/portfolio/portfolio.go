package portfolio

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"gorm.io/gorm"
)

// Service exposes the position and lot query surface. Position writes
// happen only through the Accountant inside the order pipeline.
type Service struct {
	db         *Database
	accountant *Accountant
}

// NewService creates a new portfolio service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		accountant: NewAccountant(),
	}
}

// Accountant returns the lot accountant used by the order pipeline
func (s *Service) Accountant() *Accountant {
	return s.accountant
}

// GetPositions returns the positions visible to the caller for an
// account. An account outside the caller's broker scope reads as not
// found: a broker admin must never see another broker's accounts even
// with the same query filter.
func (s *Service) GetPositions(accountID, clientID, brokerID, role string) ([]types.Position, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	return s.db.GetPositions(accountID)
}

// GetBrokerPositions returns every position under the caller's broker.
// Only meaningful for broker admins; traders fall back to their own
// accounts via GetPositions.
func (s *Service) GetBrokerPositions(brokerID string) ([]types.Position, error) {
	return s.db.GetPositionsForBroker(brokerID)
}

// GetLots returns the cost-basis lots behind a position, scoped like
// GetPositions.
func (s *Service) GetLots(accountID, symbol, clientID, brokerID, role string) ([]types.Lot, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}

	position, err := s.db.GetPosition(accountID, symbol)
	if err != nil || position == nil {
		return nil, err
	}
	return s.db.GetLots(position.PositionID)
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

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for portfolio endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetPositionsHandler handles GET requests for an account's positions
// URL parameter: account_id
func (h *GinHandlers) GetPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		positions, err := h.service.GetPositions(accountID,
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if positions == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, positions)
	}
}

// GetBrokerPositionsHandler handles GET requests for all positions
// under the caller's broker. Requires the broker-admin role.
func (h *GinHandlers) GetBrokerPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != auth.RoleBrokerAdmin {
			response.Forbidden(c, "Broker admin role required")
			return
		}

		positions, err := h.service.GetBrokerPositions(c.GetString("brokerID"))
		response.Handle(c, positions, err)
	}
}

// GetLotsHandler handles GET requests for a position's lots
// URL parameters: account_id, symbol
func (h *GinHandlers) GetLotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")
		symbol := c.Param("symbol")

		lots, err := h.service.GetLots(accountID, symbol,
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if lots == nil {
			response.NotFound(c, "Position not found")
			return
		}

		response.Success(c, lots)
	}
}
