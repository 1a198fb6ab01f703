package inventory

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically expires abandoned reservations.
type Sweeper struct {
	m        *ReservationManager
	interval time.Duration
	log      observability.Logger
}

func NewSweeper(m *ReservationManager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		m:        m,
		interval: interval,
		log:      m.obs.Logger().With(observability.F("component", "reservation_sweeper")),
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("reservation_sweeper_started", observability.F("interval", s.interval.String()))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reservation_sweeper_stopped")
			return
		case <-ticker.C:
			if _, err := s.m.SweepExpired(ctx); err != nil {
				s.log.Warn("reservation_sweep_failed", observability.F("error", err))
			}
		}
	}
}
