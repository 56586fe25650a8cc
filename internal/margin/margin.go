package margin

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/accounts"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/response"
	"gorm.io/gorm"
)

// Service evaluates account margin and manages margin rules and risk
// alerts. The order pipeline calls the evaluator directly inside its
// own transaction; everything else goes through here.
type Service struct {
	db        *Database
	gormDB    *gorm.DB
	evaluator *Evaluator
	emitter   *Emitter
	locks     *accounts.Locks
}

// NewService creates a new margin service with the given database
// connection and per-account lock manager
func NewService(gormDB *gorm.DB, locks *accounts.Locks, graceEvaluations int) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		gormDB:    gormDB,
		evaluator: NewEvaluator(),
		emitter:   NewEmitter(graceEvaluations),
		locks:     locks,
	}
}

// Evaluator returns the evaluator used by the order pipeline
func (s *Service) Evaluator() *Evaluator {
	return s.evaluator
}

// EvaluateAccount runs a full margin evaluation for one account under
// its lock, in its own transaction, and raises any alerts due. It
// returns nil if the account is unknown.
func (s *Service) EvaluateAccount(accountID string) (*types.MarginReport, error) {
	account, err := s.db.GetAccount(accountID)
	if err != nil || account == nil {
		return nil, err
	}

	unlock := s.locks.Lock(account.AccountID)
	defer unlock()

	var check *types.MarginCheck
	err = s.gormDB.Transaction(func(tx *gorm.DB) error {
		// Re-read under the lock: the balance may have moved while we
		// waited, and equity must reflect the serialized state.
		var current types.TradingAccount
		if err := tx.Where("account_id = ?", account.AccountID).First(&current).Error; err != nil {
			return err
		}

		evaluated, prevStatus, err := s.evaluator.Evaluate(tx, &current)
		if err != nil {
			return err
		}
		if _, err := s.emitter.Emit(tx, &current, prevStatus, evaluated); err != nil {
			return err
		}
		check = evaluated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("margin evaluation failed for %s: %w", accountID, err)
	}

	return reportFromCheck(check), nil
}

// GetReport returns the latest stored margin check for an account,
// scoped to the caller. Accounts never evaluated report SUFFICIENT
// with zero requirements.
func (s *Service) GetReport(accountID, clientID, brokerID, role string) (*types.MarginReport, error) {
	account, err := s.scopedAccount(accountID, clientID, brokerID, role)
	if err != nil || account == nil {
		return nil, err
	}

	check, err := s.db.GetCheck(accountID)
	if err != nil {
		return nil, err
	}
	if check == nil {
		return &types.MarginReport{
			AccountID: accountID,
			Status:    types.MarginStatusSufficient,
			Equity:    account.CashBalance,
		}, nil
	}
	return reportFromCheck(check), nil
}

// CreateRule validates and stores a new margin rule.
func (s *Service) CreateRule(scope string, initialPct, maintenancePct float64, riskParams string) (*types.MarginRule, error) {
	if scope == "" {
		return nil, types.NewInvalidOrderError("scope", "margin rule scope is required")
	}
	if initialPct <= 0 || initialPct > 1 {
		return nil, types.NewInvalidOrderError("initial_pct", "initial margin pct must be in (0, 1]")
	}
	if maintenancePct <= 0 || maintenancePct > initialPct {
		return nil, types.NewInvalidOrderError("maintenance_pct", "maintenance margin pct must be in (0, initial_pct]")
	}

	rule := &types.MarginRule{
		RuleID:         "MRL_" + uuid.New().String(),
		Scope:          scope,
		InitialPct:     initialPct,
		MaintenancePct: maintenancePct,
		RiskParams:     riskParams,
	}
	if err := s.db.CreateRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// GetRules returns all margin rules.
func (s *Service) GetRules() ([]types.MarginRule, error) {
	return s.db.GetRules()
}

// GetAlerts returns risk alerts scoped to the caller. Traders see only
// alerts on their own accounts; broker admins see alerts across their
// broker; operators see everything.
func (s *Service) GetAlerts(accountID, clientID, brokerID, role string) ([]types.RiskAlert, error) {
	if accountID != "" {
		account, err := s.scopedAccount(accountID, clientID, brokerID, role)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return []types.RiskAlert{}, nil
		}
		return s.db.GetAlerts(accountID)
	}

	alerts, err := s.db.GetAlerts("")
	if err != nil {
		return nil, err
	}
	if role == auth.RoleOperator {
		return alerts, nil
	}

	filtered := make([]types.RiskAlert, 0, len(alerts))
	for _, alert := range alerts {
		account, err := s.db.GetAccount(alert.AccountID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			continue
		}
		switch role {
		case auth.RoleBrokerAdmin:
			if account.BrokerID == brokerID {
				filtered = append(filtered, alert)
			}
		default:
			if account.TraderID == clientID {
				filtered = append(filtered, alert)
			}
		}
	}
	return filtered, nil
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

func reportFromCheck(check *types.MarginCheck) *types.MarginReport {
	return &types.MarginReport{
		AccountID:           check.AccountID,
		Status:              check.Status,
		Equity:              check.Equity,
		InitialRequired:     check.InitialRequired,
		MaintenanceRequired: check.MaintenanceRequired,
		EvaluatedAt:         check.EvaluatedAt,
	}
}

// GinHandlers contains HTTP handlers for margin endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for margin endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// MarginRuleRequest is the payload for creating a margin rule
type MarginRuleRequest struct {
	Scope          string  `json:"scope" binding:"required"`
	InitialPct     float64 `json:"initial_pct" binding:"required"`
	MaintenancePct float64 `json:"maintenance_pct" binding:"required"`
	RiskParams     string  `json:"risk_params"`
}

// CreateRuleHandler handles POST requests to create a margin rule.
// Operator only.
func (h *GinHandlers) CreateRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MarginRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		rule, err := h.service.CreateRule(req.Scope, req.InitialPct, req.MaintenancePct, req.RiskParams)
		response.Handle(c, rule, err)
	}
}

// GetRulesHandler handles GET requests for all margin rules
func (h *GinHandlers) GetRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := h.service.GetRules()
		response.Handle(c, rules, err)
	}
}

// EvaluateHandler handles POST requests to run a margin evaluation for
// an account. Operator only; the sweep covers routine evaluation.
// URL parameter: account_id
func (h *GinHandlers) EvaluateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.service.EvaluateAccount(c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if report == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, report)
	}
}

// GetReportHandler handles GET requests for an account's margin status
// URL parameter: account_id
func (h *GinHandlers) GetReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.service.GetReport(c.Param("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if report == nil {
			response.NotFound(c, "Account not found")
			return
		}

		response.Success(c, report)
	}
}

// GetAlertsHandler handles GET requests for risk alerts
// Optional query parameter: account_id
func (h *GinHandlers) GetAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		alerts, err := h.service.GetAlerts(c.Query("account_id"),
			c.GetString("clientID"), c.GetString("brokerID"), c.GetString("role"))
		response.Handle(c, alerts, err)
	}
}
