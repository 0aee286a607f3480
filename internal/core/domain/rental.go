package domain

import (
	"fmt"
	"strings"
	"time"
)

type RentalStatus string

const (
	RentalStatusActive   RentalStatus = "active"
	RentalStatusReturned RentalStatus = "returned"
)

type Rental struct {
	ID         int64
	MovieID    int64
	UserID     string
	RentalDate time.Time
	DueDate    time.Time
	ReturnedAt *time.Time
	Status     RentalStatus
}

func NewRental(movieID int64, userID string, rentalDate, dueDate time.Time) (Rental, error) {
	if strings.TrimSpace(userID) == "" {
		return Rental{}, ErrInvalidUserID
	}
	if !dueDate.After(rentalDate) {
		return Rental{}, fmt.Errorf("due %s not after %s: %w",
			dueDate.Format(time.RFC3339), rentalDate.Format(time.RFC3339), ErrInvalidRentalPeriod)
	}
	return Rental{
		MovieID:    movieID,
		UserID:     userID,
		RentalDate: rentalDate,
		DueDate:    dueDate,
		Status:     RentalStatusActive,
	}, nil
}

func (r Rental) IsActive() bool {
	return r.Status == RentalStatusActive
}

func (r Rental) IsOverdue(asOf time.Time) bool {
	return r.IsActive() && r.DueDate.Before(asOf)
}

// MarkReturned moves the rental to its terminal state.
func (r *Rental) MarkReturned(at time.Time) error {
	if r.Status == RentalStatusReturned {
		return fmt.Errorf("rental %d: %w", r.ID, ErrAlreadyReturned)
	}
	if at.Before(r.RentalDate) {
		return fmt.Errorf("rental %d returned %s before %s: %w",
			r.ID, at.Format(time.RFC3339), r.RentalDate.Format(time.RFC3339), ErrInvalidReturnDate)
	}
	returnedAt := at
	r.ReturnedAt = &returnedAt
	r.Status = RentalStatusReturned
	return nil
}

// Validate checks the status / returnedAt pairing.
func (r Rental) Validate() error {
	switch r.Status {
	case RentalStatusActive:
		if r.ReturnedAt != nil {
			return fmt.Errorf("rental %d active with return date: %w", r.ID, ErrInvariantViolation)
		}
	case RentalStatusReturned:
		if r.ReturnedAt == nil || r.ReturnedAt.Before(r.RentalDate) {
			return fmt.Errorf("rental %d returned without valid return date: %w", r.ID, ErrInvariantViolation)
		}
	default:
		return fmt.Errorf("rental %d unknown status %q: %w", r.ID, r.Status, ErrInvariantViolation)
	}
	return nil
}
