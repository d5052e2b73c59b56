package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"creditledger/internal/config"
)

type BalanceReconciler interface {
	Reconcile(ctx context.Context, accountID int64) (bool, error)
}

type AccountLister interface {
	ListIDsUpdatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]int64, error)
}

// BalanceReconcileJob checks the cached balance of recently written accounts against
// their ledger and heals drift. The first run covers every account.
type BalanceReconcileJob struct {
	reconciler BalanceReconciler
	accounts   AccountLister
	guard      singleFlight
	log        *slog.Logger
	interval   time.Duration
	batchSize  int
	now        func() time.Time
	lastRun    time.Time
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewBalanceReconcileJob(reconciler BalanceReconciler, accounts AccountLister, cfg *config.Config, newLock LockFactory, log *slog.Logger) *BalanceReconcileJob {
	log = log.With("job", "balance_reconcile")
	batch := cfg.Business.ReconcileBatchSize
	if batch <= 0 {
		batch = 200
	}
	return &BalanceReconcileJob{
		reconciler: reconciler,
		accounts:   accounts,
		guard:      singleFlight{name: "balance_reconcile", newLock: newLock, log: log},
		log:        log,
		interval:   cfg.Business.ReconcileInterval,
		batchSize:  batch,
		now:        func() time.Time { return time.Now().UTC() },
		stopCh:     make(chan struct{}),
	}
}

func (j *BalanceReconcileJob) Start(ctx context.Context) {
	j.log.Info("balance reconcile started", "interval", j.interval)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("balance reconcile exiting")
			return
		case <-j.stopCh:
			j.log.Info("balance reconcile stopped")
			return
		case <-ticker.C:
			checked, corrected, err := j.RunOnce(ctx)
			switch {
			case isSkip(err):
				j.log.Debug("reconcile skipped", "reason", err)
			case err != nil:
				j.log.Error("reconcile failed", "checked", checked, "err", err)
			case corrected > 0:
				j.log.Warn("reconcile corrected balances", "checked", checked, "corrected", corrected)
			}
		}
	}
}

func (j *BalanceReconcileJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// RunOnce reconciles every account updated since the previous successful run, with one
// interval of overlap.
func (j *BalanceReconcileJob) RunOnce(ctx context.Context) (checked, corrected int, err error) {
	err = j.guard.do(ctx, func(ctx context.Context) error {
		startedAt := j.now()
		var since time.Time
		if !j.lastRun.IsZero() {
			since = j.lastRun.Add(-j.interval)
		}

		var afterID int64
		for {
			ids, err := j.accounts.ListIDsUpdatedSince(ctx, since, afterID, j.batchSize)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fixed, err := j.reconciler.Reconcile(ctx, id)
				if err != nil {
					j.log.Error("reconcile account failed", "account_id", id, "err", err)
					continue
				}
				checked++
				if fixed {
					corrected++
				}
			}
			if len(ids) < j.batchSize {
				break
			}
			afterID = ids[len(ids)-1]
		}

		j.lastRun = startedAt
		return nil
	})
	return checked, corrected, err
}
