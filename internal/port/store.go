package port

import (
	"context"
	"time"

	"github.com/rl1809/movie-rental/internal/core/domain"
)

type LockMode string

const (
	// LockOptimistic reads the row version and fails the conditional update
	// with domain.ErrConflict when another writer committed first.
	LockOptimistic LockMode = "optimistic"
	// LockPessimistic holds the inventory row lock until the unit ends.
	LockPessimistic LockMode = "pessimistic"
)

// Store runs atomic units against inventory and rental records.
type Store interface {
	// WithinTx runs fn in one atomic unit. Any error from fn aborts every
	// mutation made through tx. A lost write-write race surfaces as
	// domain.ErrConflict, either from a Tx method or from the commit.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// ScanOverdue streams active rentals due strictly before asOf, ordered by
	// due date then id, all read at one consistent point. Iteration stops
	// when fn returns false.
	ScanOverdue(ctx context.Context, asOf time.Time, fn func(domain.Rental) bool) error
}

// Tx is the read/write view handed to a WithinTx callback.
type Tx interface {
	// GetInventory loads a title for modification, returns domain.ErrNotFound if absent.
	GetInventory(ctx context.Context, movieID int64) (domain.Inventory, error)

	// InsertInventory registers a new title, domain.ErrAlreadyExists on duplicates.
	InsertInventory(ctx context.Context, inv domain.Inventory) error

	// UpdateInventory writes counters guarded by inv.Version.
	UpdateInventory(ctx context.Context, inv domain.Inventory) error

	// InsertRental persists a new active rental and returns its id.
	InsertRental(ctx context.Context, rental domain.Rental) (int64, error)

	// GetRental returns domain.ErrNotFound if absent.
	GetRental(ctx context.Context, rentalID int64) (domain.Rental, error)

	// UpdateRental closes an active rental; the row must still be active.
	UpdateRental(ctx context.Context, rental domain.Rental) error

	// CountActiveRentals counts active rentals of a title.
	CountActiveRentals(ctx context.Context, movieID int64) (int, error)
}
