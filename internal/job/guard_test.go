package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"creditledger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeLocker struct {
	mu        sync.Mutex
	acquire   bool
	err       error
	lease     time.Duration
	lostAfter int // Refresh reports the lock gone from this call on; 0 never
	locks     int
	refreshes int
	unlocked  int
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.acquire {
		l.locks++
	}
	return l.acquire, nil
}

func (l *fakeLocker) Refresh(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return l.lostAfter == 0 || l.refreshes < l.lostAfter, nil
}

func (l *fakeLocker) Lease() time.Duration { return l.lease }

func (l *fakeLocker) counts() (refreshes, unlocked int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes, l.unlocked
}

func (l *fakeLocker) Unlock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked++
	return true, nil
}

func (l *fakeLocker) factory() LockFactory {
	return func() Locker { return l }
}

type fakeExpirer struct {
	mu      sync.Mutex
	calls   int
	result  int
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeExpirer) ExpireStaleReservations(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.result, f.err
}

func sweepConfig() *config.Config {
	cfg := config.Default()
	cfg.Business.SweepInterval = 10 * time.Millisecond
	return cfg
}

func TestReservationSweeper_RunOnce(t *testing.T) {
	expirer := &fakeExpirer{result: 4}
	locker := &fakeLocker{acquire: true}
	sweeper := NewReservationSweeper(expirer, sweepConfig(), locker.factory(), discard)

	n, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, locker.locks)
	assert.Equal(t, 1, locker.unlocked)
}

func TestReservationSweeper_SkipsWhenLockHeld(t *testing.T) {
	expirer := &fakeExpirer{}
	sweeper := NewReservationSweeper(expirer, sweepConfig(), (&fakeLocker{acquire: false}).factory(), discard)

	_, err := sweeper.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Zero(t, expirer.calls)
}

func TestReservationSweeper_LockError(t *testing.T) {
	expirer := &fakeExpirer{}
	redisDown := errors.New("redis down")
	sweeper := NewReservationSweeper(expirer, sweepConfig(), (&fakeLocker{err: redisDown}).factory(), discard)

	_, err := sweeper.RunOnce(context.Background())
	assert.ErrorIs(t, err, redisDown)
	assert.Zero(t, expirer.calls)
}

func TestReservationSweeper_NoOverlap(t *testing.T) {
	expirer := &fakeExpirer{started: make(chan struct{}), release: make(chan struct{})}
	sweeper := NewReservationSweeper(expirer, sweepConfig(), nil, discard)

	done := make(chan error, 1)
	go func() {
		_, err := sweeper.RunOnce(context.Background())
		done <- err
	}()
	<-expirer.started

	_, err := sweeper.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(expirer.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, expirer.calls)
}

func TestReservationSweeper_StartStop(t *testing.T) {
	expirer := &fakeExpirer{}
	sweeper := NewReservationSweeper(expirer, sweepConfig(), nil, discard)

	done := make(chan struct{})
	go func() {
		sweeper.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		expirer.mu.Lock()
		defer expirer.mu.Unlock()
		return expirer.calls > 0
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRedisLockFactory_NilClient(t *testing.T) {
	assert.Nil(t, RedisLockFactory(nil, "k", time.Minute))
}

func TestSingleFlight_RenewsLeaseDuringLongRun(t *testing.T) {
	locker := &fakeLocker{acquire: true, lease: 15 * time.Millisecond}
	g := &singleFlight{name: "test", newLock: locker.factory(), log: discard}

	err := g.do(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(80 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)

	refreshes, unlocked := locker.counts()
	assert.GreaterOrEqual(t, refreshes, 2, "a run longer than the lease keeps extending it")
	assert.Equal(t, 1, unlocked)
}

func TestSingleFlight_AbortsWhenLockLost(t *testing.T) {
	locker := &fakeLocker{acquire: true, lease: 15 * time.Millisecond, lostAfter: 2}
	g := &singleFlight{name: "test", newLock: locker.factory(), log: discard}

	err := g.do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return errors.New("run was not cancelled")
		}
	})
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)

	refreshes, unlocked := locker.counts()
	assert.Equal(t, 2, refreshes)
	assert.Equal(t, 1, unlocked)

	// a later run can start once the lost run has finished
	locker.mu.Lock()
	locker.lostAfter = 0
	locker.mu.Unlock()
	require.NoError(t, g.do(context.Background(), func(context.Context) error { return nil }))
}
