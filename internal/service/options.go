package service

import (
	"log/slog"
	"time"

	"creditledger/internal/config"
)

type Option func(*options)

type options struct {
	now    func() time.Time
	retry  RetryPolicy
	logger *slog.Logger
}

// WithClock replaces the wall clock used for TTLs and ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(cfg *config.Config, opts []Option) options {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		retry:  RetryPolicyFromConfig(cfg.Retry),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
