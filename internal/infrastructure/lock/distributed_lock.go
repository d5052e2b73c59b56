package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Redis lock: SET key owner NX EX ttl to acquire, compare-and-delete to release so that a
// holder whose lease expired cannot remove the next holder's lock.

var ErrLockFailed = errors.New("failed to acquire distributed lock")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const refreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

const (
	SweeperLockKey   = "lock:ledger:reservation-sweeper"
	ReconcileLockKey = "lock:ledger:balance-reconcile"
	SeedLockKey      = "lock:ledger:seed-catalog"
)

type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewJobLock returns a lock for one run of a periodic job, owned by a fresh token. Runs
// that can outlast the lease must Refresh it.
func NewJobLock(client *redis.Client, key string, lease time.Duration) *DistributedLock {
	return NewDistributedLock(client, key, uuid.NewString(), lease)
}

func (l *DistributedLock) Key() string          { return l.key }
func (l *DistributedLock) Owner() string        { return l.value }
func (l *DistributedLock) Lease() time.Duration { return l.expiration }

// TryLock acquires the lock without waiting.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock polls TryLock until it succeeds, ctx ends, or maxRetries attempts fail.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		ok, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock if it is still held by this owner. It reports whether a key was deleted.
func (l *DistributedLock) Unlock(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Refresh resets the lease to its full length if this owner still holds the lock. It
// reports false once the lock has expired or passed to another owner.
func (l *DistributedLock) Refresh(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, refreshScript, []string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
