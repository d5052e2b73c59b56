package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"creditledger/internal/config"
)

type StaleReservationExpirer interface {
	ExpireStaleReservations(ctx context.Context) (int, error)
}

// ReservationSweeper expires holds whose caller never committed or released them.
type ReservationSweeper struct {
	expirer  StaleReservationExpirer
	guard    singleFlight
	log      *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewReservationSweeper(expirer StaleReservationExpirer, cfg *config.Config, newLock LockFactory, log *slog.Logger) *ReservationSweeper {
	log = log.With("job", "reservation_sweeper")
	return &ReservationSweeper{
		expirer:  expirer,
		guard:    singleFlight{name: "reservation_sweeper", newLock: newLock, log: log},
		log:      log,
		interval: cfg.Business.SweepInterval,
		stopCh:   make(chan struct{}),
	}
}

func (j *ReservationSweeper) Start(ctx context.Context) {
	j.log.Info("reservation sweeper started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("reservation sweeper exiting")
			return
		case <-j.stopCh:
			j.log.Info("reservation sweeper stopped")
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *ReservationSweeper) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce performs one sweep. It returns ErrRunInProgress or ErrLockHeld when skipped.
func (j *ReservationSweeper) RunOnce(ctx context.Context) (int, error) {
	var expired int
	err := j.guard.do(ctx, func(ctx context.Context) error {
		var err error
		expired, err = j.expirer.ExpireStaleReservations(ctx)
		return err
	})
	return expired, err
}

func (j *ReservationSweeper) tick(ctx context.Context) {
	expired, err := j.RunOnce(ctx)
	switch {
	case isSkip(err):
		j.log.Debug("sweep skipped", "reason", err)
	case err != nil:
		j.log.Error("sweep failed", "expired", expired, "err", err)
	case expired > 0:
		j.log.Info("sweep finished", "expired", expired)
	}
}
