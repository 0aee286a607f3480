package port

import "context"

type IdempotencyRepository interface {
	// Reserve claims key for an in-flight request, returns false if already claimed
	Reserve(ctx context.Context, key string) (bool, error)

	// Complete records the rental id produced for key
	Complete(ctx context.Context, key string, rentalID int64) error

	// Lookup returns the rental id recorded for key, if the request completed
	Lookup(ctx context.Context, key string) (int64, bool, error)

	// Release drops a claim so the request can be retried after a failure
	Release(ctx context.Context, key string) error
}
