package settlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor drives the settlement cycles from a ticker: one daily run
// per calendar day and a monthly close when the open monthly period's
// month has ended. Which day already ran is read back from the period
// table, so a restart never double-runs a day.
type Processor struct {
	service      *Service
	tickInterval time.Duration
}

func NewProcessor(service *Service) *Processor {
	return &Processor{
		service:      service,
		tickInterval: time.Minute,
	}
}

// Start begins the settlement scheduling loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Msg("starting settlement processor")

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if err := p.tick(time.Now()); err != nil {
				logger.Error().Err(err).Msg("settlement tick failed")
			}
		}
	}
}

// tick runs whatever cycle the clock calls for.
func (p *Processor) tick(now time.Time) error {
	logger := log.With().Str("component", "settlement_processor").Logger()

	if _, err := p.service.EnsureMonthlyOpen(); err != nil {
		return err
	}

	// Month rollover closes the old monthly period before the first
	// daily run of the new month, so carry-forward is applied on top of
	// the final daily match of the closed month.
	monthly, err := p.service.GetDB().GetOpenPeriod(PeriodTypeMonthly)
	if err != nil {
		return err
	}
	if monthly != nil && !sameMonth(monthly.OpenedAt, now) {
		result, err := p.service.CloseMonth()
		if err != nil {
			return err
		}
		logger.Info().
			Str("period_id", result.PeriodID).
			Int("carried", result.Carried).
			Int("forfeited", result.Forfeited).
			Msg("monthly period rolled over")

		if _, err := p.service.EnsureMonthlyOpen(); err != nil {
			return err
		}
	}

	due, err := p.dailyRunDue(now)
	if err != nil {
		return err
	}
	if !due {
		return nil
	}

	result, err := p.service.RunDaily()
	if err != nil {
		return err
	}

	logger.Info().
		Str("period_id", result.PeriodID).
		Int("matched_events", result.MatchedEvents).
		Int("ledger_entries", result.LedgerEntries).
		Int("failures", len(result.Failures)).
		Msg("scheduled daily run completed")

	return nil
}

// dailyRunDue reports whether no daily period has been opened yet today.
func (p *Processor) dailyRunDue(now time.Time) (bool, error) {
	latest, err := p.service.GetDB().GetLatestPeriod(PeriodTypeDaily)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	return !sameDay(latest.OpenedAt, now), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return ay == by && am == bm
}
