package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"gorm.io/gorm"
)

// Service exposes the ledger query surface. Writes happen only through
// the Poster inside the order pipeline and the accounts service.
type Service struct {
	db     *Database
	poster *Poster
}

// NewService creates a new ledger service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		poster: NewPoster(),
	}
}

// Poster returns the poster used to write entries for this ledger
func (s *Service) Poster() *Poster {
	return s.poster
}

// GetEntries returns an account's ledger entries, scoped to the caller:
// traders see only their own accounts, broker admins only accounts
// under their broker. Accounts outside the caller's scope read as not
// found rather than leaking their existence.
func (s *Service) GetEntries(accountID, clientID, brokerID, role string) ([]types.LedgerEntry, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	return s.db.GetEntries(accountID)
}

// GetBalance returns an account's cash balance together with the sum of
// its ledger entries. The two must always agree.
func (s *Service) GetBalance(accountID, clientID, brokerID, role string) (*types.BalanceResponse, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}

	ledgerBalance, err := s.db.SumEntries(accountID)
	if err != nil {
		return nil, err
	}

	return &types.BalanceResponse{
		AccountID:     account.AccountID,
		CashBalance:   account.CashBalance,
		LedgerBalance: ledgerBalance,
		Currency:      account.BaseCurrency,
	}, nil
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

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for ledger endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetEntriesHandler handles GET requests for an account's ledger
// URL parameter: account_id
func (h *GinHandlers) GetEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		entries, err := h.service.GetEntries(accountID,
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if entries == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, entries)
	}
}

// GetBalanceHandler handles GET requests for an account's balance
// URL parameter: account_id
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		balance, err := h.service.GetBalance(accountID,
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if balance == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, balance)
	}
}
