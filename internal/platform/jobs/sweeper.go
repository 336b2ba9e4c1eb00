package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/domain/booking"
)

// Sweeper periodically marks appointments that were never acted on as
// no-show: pending or confirmed rows whose end time passed more than the
// grace period ago.
type Sweeper struct {
	appointments booking.AppointmentRepository
	logger       zerolog.Logger
	interval     string
	grace        time.Duration

	cron *cron.Cron
	now  func() time.Time
}

// NewSweeper builds a sweeper running on the given cron spec (e.g.
// "@hourly"). An empty interval disables it.
func NewSweeper(appointments booking.AppointmentRepository, logger zerolog.Logger, interval string, grace time.Duration) *Sweeper {
	return &Sweeper{
		appointments: appointments,
		logger:       logger,
		interval:     interval,
		grace:        grace,
		now:          time.Now,
	}
}

// Start registers the cron entry and begins running. Returns without
// starting anything when the sweeper is disabled.
func (s *Sweeper) Start() error {
	if s.interval == "" {
		s.logger.Info().Msg("no-show sweeper disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.interval, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("interval", s.interval).Dur("grace", s.grace).Msg("no-show sweeper started")
	return nil
}

// Stop halts the cron scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce executes a single sweep pass. Exposed for the cron entry and for
// manual triggering.
func (s *Sweeper) RunOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.grace)
	n, err := s.appointments.MarkOverdueNoShow(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("no-show sweep failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("marked", n).Time("cutoff", cutoff).Msg("no-show sweep")
	}
}
