package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
)

var ErrDuplicateRequest = errors.New("duplicate request")

// CreateRentalIdempotent is CreateRental keyed by a client request id: a
// completed request returns the rental it produced, a request still in flight
// returns ErrDuplicateRequest.
func (s *RentalService) CreateRentalIdempotent(ctx context.Context, requestID string, movieID int64, userID string, rentalDate, dueDate time.Time) (domain.Rental, error) {
	if s.idempotency == nil || requestID == "" {
		return s.CreateRental(ctx, movieID, userID, rentalDate, dueDate)
	}

	key := fmt.Sprintf("rental:%s:%s", userID, requestID)

	rentalID, found, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	if found {
		return s.GetRental(ctx, rentalID)
	}

	ok, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		// The first request may have completed since the lookup.
		rentalID, found, err := s.idempotency.Lookup(ctx, key)
		if err != nil {
			return domain.Rental{}, fmt.Errorf("idempotency lookup failed: %w", err)
		}
		if found {
			return s.GetRental(ctx, rentalID)
		}
		return domain.Rental{}, ErrDuplicateRequest
	}

	rental, err := s.CreateRental(ctx, movieID, userID, rentalDate, dueDate)
	if err != nil {
		if releaseErr := s.idempotency.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(releaseErr))
		}
		return domain.Rental{}, err
	}

	if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, rental.ID); err != nil {
		s.logger.Warn("failed to record idempotency result",
			zap.String("key", key),
			zap.Int64("rental_id", rental.ID),
			zap.Error(err),
		)
	}
	return rental, nil
}
