package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"gorm.io/gorm"
)

// RetryPolicy bounds how often a transaction is replayed after a transient failure.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// RunInTx runs fn inside a transaction. Transient failures replay the whole
// transaction; any other error is returned as-is after the first attempt.
func RunInTx(ctx context.Context, conn *gorm.DB, policy RetryPolicy, fn func(tx *gorm.DB) error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := conn.WithContext(ctx).Transaction(fn)
		if err == nil {
			return struct{}{}, nil
		}
		if IsTransientErr(err) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
	)
	return err
}
