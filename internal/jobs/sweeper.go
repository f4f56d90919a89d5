package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fixly-booking/internal/config"
	"fixly-booking/pkg/sl"

	"github.com/robfig/cron/v3"
)

type Store interface {
	CancelStalePending(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper cancels pending bookings nobody confirmed within the pending TTL,
// so abandoned checkouts free their time range again.
type Sweeper struct {
	log   *slog.Logger
	store Store
	cfg   config.Booking
	cron  *cron.Cron
}

func NewSweeper(log *slog.Logger, store Store, cfg config.Booking) *Sweeper {
	return &Sweeper{
		log:   log.With(slog.String("component", "jobs/sweeper")),
		store: store,
		cfg:   cfg,
		cron:  cron.New(),
	}
}

func (s *Sweeper) Start() error {
	const op = "jobs.Sweeper.Start"

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), s.sweep)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.cron.Start()
	s.log.Info("Sweeper started", slog.String("interval", s.cfg.SweepInterval.String()))

	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.PendingTTL)

	n, err := s.store.CancelStalePending(ctx, cutoff)
	if err != nil {
		s.log.Error("Failed to cancel stale pending bookings", sl.Err(err))
		return
	}

	if n > 0 {
		s.log.Info("Cancelled stale pending bookings", slog.Int64("count", n))
	}
}
