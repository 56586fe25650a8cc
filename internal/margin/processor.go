package margin

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor runs the periodic margin sweep: every active MARGIN account
// is re-evaluated on a fixed interval so breaches surface even when the
// account is not trading.
type Processor struct {
	service       *Service
	sweepInterval time.Duration
}

func NewProcessor(service *Service, sweepInterval time.Duration) *Processor {
	return &Processor{
		service:       service,
		sweepInterval: sweepInterval,
	}
}

// Start begins the margin sweep loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "margin_processor").Logger()
	logger.Info().Dur("interval", p.sweepInterval).Msg("starting margin processor")

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down margin processor")
			return
		case <-ticker.C:
			if err := p.sweep(); err != nil {
				logger.Error().Err(err).Msg("margin sweep failed")
			}
		}
	}
}

// sweep evaluates every active margin account. A failed evaluation on
// one account (a missing margin rule, for example) is logged and does
// not block the rest of the sweep.
func (p *Processor) sweep() error {
	logger := log.With().Str("component", "margin_processor").Logger()

	accounts, err := p.service.db.GetActiveMarginAccounts()
	if err != nil {
		return err
	}

	logger.Info().Int("account_count", len(accounts)).Msg("running margin sweep")

	for _, account := range accounts {
		if _, err := p.service.EvaluateAccount(account.AccountID); err != nil {
			logger.Error().
				Err(err).
				Str("account_id", account.AccountID).
				Msg("failed to evaluate account margin")
			continue
		}
	}

	return nil
}
