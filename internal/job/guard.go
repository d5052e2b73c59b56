package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"creditledger/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrRunInProgress means a previous run of the same job in this process has not finished.
	ErrRunInProgress = errors.New("job run already in progress")
	// ErrLockHeld means another instance holds the job's cluster lock.
	ErrLockHeld = errors.New("job lock held by another instance")
	// ErrLockLost means the cluster lock expired or changed owner while a run was in progress.
	ErrLockLost = errors.New("job lock lost during run")
)

type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) (bool, error)
	Lease() time.Duration
}

// LockFactory returns a fresh lock for one run. A nil factory disables cluster locking.
type LockFactory func() Locker

// RedisLockFactory returns nil when rdb is nil so jobs fall back to in-process protection.
func RedisLockFactory(rdb *redis.Client, key string, lease time.Duration) LockFactory {
	if rdb == nil {
		return nil
	}
	return func() Locker {
		return lock.NewJobLock(rdb, key, lease)
	}
}

// singleFlight keeps runs of one job from overlapping, within the process and, with a
// lock factory, across instances.
type singleFlight struct {
	name    string
	running atomic.Bool
	newLock LockFactory
	log     *slog.Logger
}

func (g *singleFlight) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer g.running.Store(false)

	if g.newLock == nil {
		return fn(ctx)
	}

	l := g.newLock()
	ok, err := l.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", g.name, err)
	}
	if !ok {
		return ErrLockHeld
	}
	defer g.release(ctx, l)

	// the run is cancelled with ErrLockLost as soon as the lease can no longer be extended
	runCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	if every := l.Lease() / 3; every > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.keepAlive(runCtx, l, every, cancel)
		}()
	}

	err = fn(runCtx)
	cancel(nil)
	wg.Wait()

	if errors.Is(context.Cause(runCtx), ErrLockLost) {
		return errors.Join(ErrLockLost, err)
	}
	return err
}

func (g *singleFlight) keepAlive(ctx context.Context, l Locker, every time.Duration, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.log.Warn("refresh job lock failed", "job", g.name, "err", err)
				continue
			}
			if !ok {
				g.log.Error("job lock lost, aborting run", "job", g.name)
				cancel(ErrLockLost)
				return
			}
		}
	}
}

func (g *singleFlight) release(ctx context.Context, l Locker) {
	unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := l.Unlock(unlockCtx); err != nil {
		g.log.Warn("release job lock failed", "job", g.name, "err", err)
	}
}

func isSkip(err error) bool {
	return errors.Is(err, ErrRunInProgress) || errors.Is(err, ErrLockHeld)
}
