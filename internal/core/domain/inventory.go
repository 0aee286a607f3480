package domain

import (
	"fmt"
	"time"
)

type Inventory struct {
	ID             int64
	TotalStock     int
	AvailableStock int
	Version        int64 // optimistic locking
	Quarantined    bool
	UpdatedAt      time.Time
}

func NewInventory(movieID int64, totalStock int) (Inventory, error) {
	if totalStock < 0 {
		return Inventory{}, fmt.Errorf("total stock %d: %w", totalStock, ErrInvalidStock)
	}
	return Inventory{
		ID:             movieID,
		TotalStock:     totalStock,
		AvailableStock: totalStock,
	}, nil
}

// CheckInvariant reports whether the counters are within 0 <= available <= total.
func (i Inventory) CheckInvariant() error {
	if i.AvailableStock < 0 || i.AvailableStock > i.TotalStock || i.TotalStock < 0 {
		return fmt.Errorf("movie %d: available %d, total %d: %w",
			i.ID, i.AvailableStock, i.TotalStock, ErrInvariantViolation)
	}
	return nil
}

// Rented is the number of copies currently out on loan.
func (i Inventory) Rented() int {
	return i.TotalStock - i.AvailableStock
}

// Reserve takes one copy out of the available pool.
func (i *Inventory) Reserve() error {
	if i.Quarantined {
		return fmt.Errorf("movie %d: %w", i.ID, ErrTitleQuarantined)
	}
	if err := i.CheckInvariant(); err != nil {
		return err
	}
	if i.AvailableStock <= 0 {
		return ErrOutOfStock
	}
	i.AvailableStock--
	return nil
}

// Release puts one copy back. Overflowing total stock means the counters were
// already inconsistent before this call.
func (i *Inventory) Release() error {
	if i.Quarantined {
		return fmt.Errorf("movie %d: %w", i.ID, ErrTitleQuarantined)
	}
	if i.AvailableStock+1 > i.TotalStock {
		return fmt.Errorf("movie %d: release would raise available to %d over total %d: %w",
			i.ID, i.AvailableStock+1, i.TotalStock, ErrInvariantViolation)
	}
	i.AvailableStock++
	return i.CheckInvariant()
}

// SetTotalStock resizes the title keeping the active loans out of the pool.
func (i *Inventory) SetTotalStock(total, active int) error {
	if total < 0 || total < active {
		return fmt.Errorf("total %d with %d active rentals: %w", total, active, ErrInvalidStock)
	}
	i.TotalStock = total
	i.AvailableStock = total - active
	return nil
}

// Reconcile recomputes the available counter from the authoritative count of
// active rentals and lifts the quarantine.
func (i *Inventory) Reconcile(active int) error {
	if active > i.TotalStock {
		return fmt.Errorf("movie %d: %d active rentals over total %d: %w",
			i.ID, active, i.TotalStock, ErrInvariantViolation)
	}
	i.AvailableStock = i.TotalStock - active
	i.Quarantined = false
	return nil
}
