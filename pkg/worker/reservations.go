package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/referral-api/pkg/logger"
)

// ReservationExpirer marks lapsed bed reservations expired.
type ReservationExpirer interface {
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)
}

type ReservationSweeper struct {
	expirer  ReservationExpirer
	interval time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func NewReservationSweeper(expirer ReservationExpirer, interval time.Duration, logger *logger.Logger) *ReservationSweeper {
	if interval <= 0 {
		panic("interval must be greater than 0")
	}
	return &ReservationSweeper{
		expirer:  expirer,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ReservationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Starting reservation sweeper", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down reservation sweeper")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error(err, "Reservation sweep failed")
			}
		}
	}
}

func (s *ReservationSweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.expirer.ExpireReservations(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Expired bed reservations", "count", n)
	}
	return n, nil
}
