package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"creditledger/internal/config"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often an operation that lost a race or hit an unreachable store
// is run again before the error reaches the caller.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxTries:        cfg.MaxTries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// withRetry runs op until it succeeds, fails with a terminal error, or MaxTries is reached.
// Every returned error is classified.
func withRetry[T any](ctx context.Context, p RetryPolicy, log *slog.Logger, name string, op func() (T, error)) (T, error) {
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		err = classify(err)
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("retrying ledger operation", "op", name, "err", err, "backoff", next)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return v, err
}
