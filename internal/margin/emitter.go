package margin

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Emitter raises risk alerts from margin check results. Alerts fire on
// breach edges, not levels: an account sitting in breach across many
// evaluations produces one MARGIN_BREACH alert, and at most one
// AUTO_SQOFF escalation once the breach has outlasted the configured
// grace evaluations.
type Emitter struct {
	graceEvaluations int
}

// NewEmitter creates a new risk alert emitter. graceEvaluations is the
// number of consecutive breached evaluations tolerated before the
// square-off escalation fires.
func NewEmitter(graceEvaluations int) *Emitter {
	return &Emitter{graceEvaluations: graceEvaluations}
}

// Emit inspects a freshly persisted margin check against the previous
// status and raises any alerts due, inside the caller's transaction.
// It returns the alerts raised, which may be empty.
func (e *Emitter) Emit(tx *gorm.DB, account *types.TradingAccount, prevStatus string, check *types.MarginCheck) ([]types.RiskAlert, error) {
	if check.Status != types.MarginStatusMaintenanceBreach {
		return nil, nil
	}

	var alerts []types.RiskAlert

	if prevStatus != types.MarginStatusMaintenanceBreach {
		alert, err := e.raise(tx, account, types.AlertTypeMarginBreach,
			fmt.Sprintf("maintenance margin breached: equity %.2f below required %.2f",
				check.Equity, check.MaintenanceRequired))
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}

	if check.ConsecutiveBreaches >= e.graceEvaluations && !check.Escalated {
		alert, err := e.raise(tx, account, types.AlertTypeAutoSquareOff,
			fmt.Sprintf("breach persisted for %d evaluations, flagging account for square-off",
				check.ConsecutiveBreaches))
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)

		check.Escalated = true
		if err := tx.Save(check).Error; err != nil {
			return nil, fmt.Errorf("failed to mark escalation: %w", err)
		}
	}

	return alerts, nil
}

func (e *Emitter) raise(tx *gorm.DB, account *types.TradingAccount, alertType, description string) (*types.RiskAlert, error) {
	alert := &types.RiskAlert{
		AlertID:     "RSK_" + uuid.New().String(),
		AccountID:   account.AccountID,
		TraderID:    account.TraderID,
		AlertType:   alertType,
		Description: description,
		RaisedAt:    time.Now(),
	}

	if err := tx.Create(alert).Error; err != nil {
		return nil, fmt.Errorf("failed to create risk alert: %w", err)
	}

	log.Warn().
		Str("account_id", account.AccountID).
		Str("alert_id", alert.AlertID).
		Str("alert_type", alertType).
		Str("service", "margin").
		Msg(description)

	return alert, nil
}
