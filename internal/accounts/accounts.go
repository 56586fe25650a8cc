package accounts

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/ledger"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service manages trading account lifecycle and cash transfers. Cash
// moves only through the ledger poster so the balance invariant holds
// from the first deposit.
type Service struct {
	db     *Database
	gormDB *gorm.DB
	poster *ledger.Poster
	locks  *Locks
}

// NewService creates a new accounts service with the given database
// connection, ledger poster and per-account lock manager
func NewService(gormDB *gorm.DB, poster *ledger.Poster, locks *Locks) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		gormDB: gormDB,
		poster: poster,
		locks:  locks,
	}
}

// CreateAccount opens a new trading account. Traders open accounts for
// themselves; broker admins may open accounts for any trader under
// their broker by supplying trader_id.
func (s *Service) CreateAccount(traderID, brokerID, accountType, baseCurrency, lotMethod string) (*types.TradingAccount, error) {
	if accountType != types.AccountTypeCash && accountType != types.AccountTypeMargin {
		return nil, types.NewInvalidOrderError("account_type",
			"account type must be CASH or MARGIN, got %s", accountType)
	}

	if baseCurrency == "" {
		baseCurrency = "USD"
	}
	if lotMethod == "" {
		lotMethod = types.LotMethodFIFO
	}
	if lotMethod != types.LotMethodFIFO && lotMethod != types.LotMethodLIFO {
		return nil, types.NewInvalidOrderError("lot_method",
			"lot method must be FIFO or LIFO, got %s", lotMethod)
	}

	account := &types.TradingAccount{
		AccountID:    "ACC_" + uuid.New().String(),
		BrokerID:     brokerID,
		TraderID:     traderID,
		AccountType:  accountType,
		BaseCurrency: baseCurrency,
		LotMethod:    lotMethod,
		Status:       types.AccountStatusActive,
	}

	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", account.AccountID).
		Str("trader_id", traderID).
		Str("broker_id", brokerID).
		Str("account_type", accountType).
		Str("service", "accounts").
		Msg("account opened")

	return account, nil
}

// GetAccount returns an account scoped to the caller, or nil when the
// account is unknown or outside the caller's scope.
func (s *Service) GetAccount(accountID, clientID, brokerID, role string) (*types.TradingAccount, error) {
	return s.scopedAccount(accountID, clientID, brokerID, role)
}

// ListAccounts returns the accounts visible to the caller: their own
// for traders, the broker's for broker admins, all for operators.
func (s *Service) ListAccounts(clientID, brokerID, role string) ([]types.TradingAccount, error) {
	switch role {
	case auth.RoleOperator:
		return s.db.GetAllAccounts()
	case auth.RoleBrokerAdmin:
		return s.db.GetAccountsForBroker(brokerID)
	default:
		return s.db.GetAccountsForTrader(clientID)
	}
}

// Deposit credits cash into an account through the ledger. Deposits are
// allowed while the account is not CLOSED.
func (s *Service) Deposit(accountID, clientID, brokerID, role string, amount float64, description string) (*types.LedgerEntry, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	if account.Status == types.AccountStatusClosed {
		return nil, types.NewInvalidOrderError("status", "cannot deposit into a closed account")
	}

	if description == "" {
		description = "cash deposit"
	}

	unlock := s.locks.Lock(account.AccountID)
	defer unlock()

	var entry *types.LedgerEntry
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		entry, err = s.poster.PostTransfer(tx, account, types.EntryTypeCredit, amount, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Withdraw debits cash from an account through the ledger. A withdrawal
// that would take the cash balance negative is rejected.
func (s *Service) Withdraw(accountID, clientID, brokerID, role string, amount float64, description string) (*types.LedgerEntry, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}
	if account.Status != types.AccountStatusActive {
		return nil, types.NewInvalidOrderError("status", "account %s is not active", account.AccountID)
	}

	if description == "" {
		description = "cash withdrawal"
	}

	unlock := s.locks.Lock(account.AccountID)
	defer unlock()

	var entry *types.LedgerEntry
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		// Re-read inside the transaction: the balance may have moved
		// while we waited on the lock.
		var current types.TradingAccount
		if err := tx.Where("account_id = ?", account.AccountID).First(&current).Error; err != nil {
			return err
		}
		if current.CashBalance < amount {
			return types.NewInvalidOrderError("amount",
				"withdrawal of %f exceeds cash balance %f", amount, current.CashBalance)
		}

		entry, err = s.poster.PostTransfer(tx, &current, types.EntryTypeDebit, amount, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateStatus moves an account between lifecycle states. Closing an
// account requires a zero cash balance.
func (s *Service) UpdateStatus(accountID, clientID, brokerID, role, status string) (*types.TradingAccount, error) {
	if status != types.AccountStatusActive &&
		status != types.AccountStatusSuspended &&
		status != types.AccountStatusClosed {
		return nil, types.NewInvalidOrderError("status", "unknown account status %s", status)
	}

	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}

	if status == types.AccountStatusClosed && account.CashBalance != 0 {
		return nil, types.NewInvalidOrderError("status",
			"cannot close account with cash balance %f", account.CashBalance)
	}

	if err := s.db.UpdateStatus(accountID, status); err != nil {
		return nil, err
	}
	account.Status = status

	log.Info().
		Str("account_id", accountID).
		Str("status", status).
		Str("service", "accounts").
		Msg("account status updated")

	return account, nil
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

// GinHandlers contains HTTP handlers for account endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for account endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// AccountRequest is the payload for opening a trading account
type AccountRequest struct {
	TraderID     string `json:"trader_id"`
	AccountType  string `json:"account_type" binding:"required"`
	BaseCurrency string `json:"base_currency"`
	LotMethod    string `json:"lot_method"`
}

// TransferRequest is the payload for deposits and withdrawals
type TransferRequest struct {
	Amount      float64 `json:"amount" binding:"required"`
	Description string  `json:"description"`
}

// StatusRequest is the payload for account status updates
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// CreateAccountHandler handles POST requests to open an account
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		traderID := c.GetString("clientID")
		role := c.GetString("role")
		if req.TraderID != "" && req.TraderID != traderID {
			if role != auth.RoleBrokerAdmin && role != auth.RoleOperator {
				response.Forbidden(c, "Traders can only open accounts for themselves")
				return
			}
			traderID = req.TraderID
		}

		account, err := h.service.CreateAccount(traderID, c.GetString("brokerID"),
			req.AccountType, req.BaseCurrency, req.LotMethod)
		response.Handle(c, account, err)
	}
}

// GetAccountHandler handles GET requests for a single account
// URL parameter: account_id
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.GetAccount(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, account)
	}
}

// ListAccountsHandler handles GET requests for the caller's accounts
func (h *GinHandlers) ListAccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := h.service.ListAccounts(
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		response.Handle(c, accounts, err)
	}
}

// DepositHandler handles POST requests to deposit cash
// URL parameter: account_id
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.Deposit(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"),
			req.Amount, req.Description)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if entry == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, entry)
	}
}

// WithdrawHandler handles POST requests to withdraw cash
// URL parameter: account_id
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.Withdraw(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"),
			req.Amount, req.Description)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if entry == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, entry)
	}
}

// UpdateStatusHandler handles PUT requests to change account status
// URL parameter: account_id
func (h *GinHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.UpdateStatus(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"),
			req.Status)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, account)
	}
}
