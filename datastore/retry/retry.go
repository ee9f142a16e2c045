// Package retry wraps remote store calls with the bounded retry policy
// applied uniformly across the access layer: a transient timeout is
// retried immediately up to MaxAttempts more times, anything else
// aborts at once.
package retry

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kitaindia/slim3/storage/remote"
	"github.com/kitaindia/slim3/utils/log"
)

// MaxAttempts bounds the retries that follow the initial failure
const MaxAttempts = 10

// Call runs fn, retrying on remote.ErrTimeout. Every timeout is logged
// at warning level, retries with their attempt index. When the retry
// bound is exhausted the FIRST timeout is returned, not the last; the
// later ones are only logged. Callers depend on that surfacing order.
func Call[T any](logger *zap.Logger, operation string, fn func() (T, error)) (T, error) {
	logger = log.For(logger, operation)

	v, err := fn()

	if err == nil || !errors.Is(err, remote.ErrTimeout) {
		return v, err
	}

	first := err
	logger.Warn("remote call timed out", zap.Error(err))

	for i := 0; i < MaxAttempts; i++ {
		v, err = fn()

		if err == nil || !errors.Is(err, remote.ErrTimeout) {
			return v, err
		}

		logger.Warn("retry failed", zap.Int("retry", i), zap.Error(err))
	}

	var zero T

	return zero, first
}

// Run is Call for operations without a result
func Run(logger *zap.Logger, operation string, fn func() error) error {
	_, err := Call(logger, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})

	return err
}
