package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrOutOfStock          = errors.New("out of stock")
	ErrAlreadyReturned     = errors.New("rental already returned")
	ErrInvalidReturnDate   = errors.New("return date before rental date")
	ErrInvalidRentalPeriod = errors.New("due date must be after rental date")
	ErrInvalidUserID       = errors.New("user id is required")
	ErrInvalidStock        = errors.New("invalid stock")

	// ErrConflict is raised by stores when a concurrent writer got to a row first.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrInvariantViolation means the stock counters no longer match the
	// active rentals. It is never a user error.
	ErrInvariantViolation = errors.New("inventory invariant violation")
	ErrTitleQuarantined   = errors.New("title quarantined pending operator review")
)
