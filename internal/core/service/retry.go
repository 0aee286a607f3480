package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
)

const (
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
	maxBackoff          = time.Second
)

type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// backoff returns the wait before the given attempt (attempt > 0):
// baseDelay * 2^(attempt-1), capped at maxBackoff, plus up to jitterFactor of that.
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 1; i < attempt && delay < maxBackoff; i++ {
		delay *= 2
	}
	delay = min(delay, maxBackoff)
	jitter := rand.Float64() * float64(delay) * p.jitterFactor //nolint:gosec // jitter only
	return delay + time.Duration(jitter)
}

// retryOnConflict runs fn until it succeeds, fails with anything other than
// domain.ErrConflict, or the attempts are used up.
func (s *RentalService) retryOnConflict(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < s.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			s.metrics.IncConflictRetry(op)
			s.logger.Debug("retrying after conflict",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr),
			)

			select {
			case <-time.After(s.retry.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, domain.ErrConflict) {
			return lastErr
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", s.retry.maxAttempts, lastErr)
}
