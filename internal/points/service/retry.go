package service

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 25 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// withRetry re-runs fn when the database reports transient contention
// (sqlite busy locks, serialization failures, deadlocks). Domain errors
// pass through untouched.
func withRetry(ctx context.Context, log *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}

		delay := retryBaseDelay << attempt
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

		log.Warn("retrying after transient database error",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"database is locked",
		"database table is locked",
		"deadlock",
		"sqlstate 40001",
		"serialization failure",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
