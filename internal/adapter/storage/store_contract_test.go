package storage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

var movieSeq atomic.Int64

// nextMovieID keeps ids unique across runs against a shared database.
func nextMovieID() int64 {
	return time.Now().UnixNano()/1000 + movieSeq.Add(1)
}

func seedInventory(t *testing.T, store port.Store, total int) domain.Inventory {
	t.Helper()

	inv, err := domain.NewInventory(nextMovieID(), total)
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(context.Background(), func(tx port.Tx) error {
		return tx.InsertInventory(context.Background(), inv)
	}))
	return inv
}

func loadInventory(t *testing.T, store port.Store, movieID int64) domain.Inventory {
	t.Helper()

	var inv domain.Inventory
	require.NoError(t, store.WithinTx(context.Background(), func(tx port.Tx) error {
		var err error
		inv, err = tx.GetInventory(context.Background(), movieID)
		return err
	}))
	return inv
}

func insertRental(t *testing.T, store port.Store, movieID int64, rentalDate, dueDate time.Time) domain.Rental {
	t.Helper()

	r, err := domain.NewRental(movieID, "user-1", rentalDate, dueDate)
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(context.Background(), func(tx port.Tx) error {
		id, err := tx.InsertRental(context.Background(), r)
		r.ID = id
		return err
	}))
	return r
}

// runStoreContract checks the behaviour every port.Store must share. The
// store must run in optimistic mode.
func runStoreContract(t *testing.T, store port.Store) {
	ctx := context.Background()

	t.Run("InsertAndGetInventory", func(t *testing.T) {
		inv := seedInventory(t, store, 5)

		got := loadInventory(t, store, inv.ID)
		assert.Equal(t, 5, got.TotalStock)
		assert.Equal(t, 5, got.AvailableStock)
		assert.False(t, got.Quarantined)
	})

	t.Run("DuplicateInventory", func(t *testing.T) {
		inv := seedInventory(t, store, 1)

		err := store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.InsertInventory(ctx, inv)
		})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("NotFound", func(t *testing.T) {
		err := store.WithinTx(ctx, func(tx port.Tx) error {
			_, err := tx.GetInventory(ctx, -1)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = store.WithinTx(ctx, func(tx port.Tx) error {
			_, err := tx.GetRental(ctx, -1)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("VersionBumpOnUpdate", func(t *testing.T) {
		inv := seedInventory(t, store, 3)

		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			cur, err := tx.GetInventory(ctx, inv.ID)
			if err != nil {
				return err
			}
			if err := cur.Reserve(); err != nil {
				return err
			}
			return tx.UpdateInventory(ctx, cur)
		}))

		got := loadInventory(t, store, inv.ID)
		assert.Equal(t, inv.Version+1, got.Version)
		assert.Equal(t, 2, got.AvailableStock)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		inv := seedInventory(t, store, 3)
		boom := errors.New("boom")

		err := store.WithinTx(ctx, func(tx port.Tx) error {
			cur, err := tx.GetInventory(ctx, inv.ID)
			if err != nil {
				return err
			}
			_ = cur.Reserve()
			if err := tx.UpdateInventory(ctx, cur); err != nil {
				return err
			}
			r, _ := domain.NewRental(inv.ID, "user-1", time.Now(), time.Now().Add(time.Hour))
			if _, err := tx.InsertRental(ctx, r); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got := loadInventory(t, store, inv.ID)
		assert.Equal(t, 3, got.AvailableStock)
		assert.Equal(t, inv.Version, got.Version)

		var active int
		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			active, err = tx.CountActiveRentals(ctx, inv.ID)
			return err
		}))
		assert.Zero(t, active)
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		inv := seedInventory(t, store, 3)

		err := store.WithinTx(ctx, func(tx port.Tx) error {
			stale, err := tx.GetInventory(ctx, inv.ID)
			if err != nil {
				return err
			}

			// Another writer commits in between.
			if err := store.WithinTx(ctx, func(other port.Tx) error {
				cur, err := other.GetInventory(ctx, inv.ID)
				if err != nil {
					return err
				}
				_ = cur.Reserve()
				return other.UpdateInventory(ctx, cur)
			}); err != nil {
				return err
			}

			_ = stale.Reserve()
			return tx.UpdateInventory(ctx, stale)
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		got := loadInventory(t, store, inv.ID)
		assert.Equal(t, 2, got.AvailableStock)
	})

	t.Run("RentalLifecycle", func(t *testing.T) {
		inv := seedInventory(t, store, 2)
		rentalDate := time.Now().UTC().Truncate(time.Second)
		r := insertRental(t, store, inv.ID, rentalDate, rentalDate.Add(72*time.Hour))
		require.NotZero(t, r.ID)

		var (
			got    domain.Rental
			active int
		)
		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			var err error
			if got, err = tx.GetRental(ctx, r.ID); err != nil {
				return err
			}
			active, err = tx.CountActiveRentals(ctx, inv.ID)
			return err
		}))
		assert.Equal(t, inv.ID, got.MovieID)
		assert.Equal(t, "user-1", got.UserID)
		assert.True(t, got.RentalDate.Equal(rentalDate))
		assert.Nil(t, got.ReturnedAt)
		assert.Equal(t, domain.RentalStatusActive, got.Status)
		assert.Equal(t, 1, active)

		returnedAt := rentalDate.Add(24 * time.Hour)
		require.NoError(t, got.MarkReturned(returnedAt))
		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.UpdateRental(ctx, got)
		}))

		// Closing it a second time finds the row no longer active.
		err := store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.UpdateRental(ctx, got)
		})
		assert.ErrorIs(t, err, domain.ErrConflict)

		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			var err error
			if got, err = tx.GetRental(ctx, r.ID); err != nil {
				return err
			}
			active, err = tx.CountActiveRentals(ctx, inv.ID)
			return err
		}))
		assert.Equal(t, domain.RentalStatusReturned, got.Status)
		require.NotNil(t, got.ReturnedAt)
		assert.True(t, got.ReturnedAt.Equal(returnedAt))
		assert.Zero(t, active)
	})

	t.Run("ScanOverdueOrder", func(t *testing.T) {
		inv := seedInventory(t, store, 10)
		asOf := time.Now().UTC().Truncate(time.Second)
		rentedAt := asOf.Add(-10 * 24 * time.Hour)

		due1 := insertRental(t, store, inv.ID, rentedAt, asOf.Add(-1*time.Hour))
		due5 := insertRental(t, store, inv.ID, rentedAt, asOf.Add(-5*time.Hour))
		due3 := insertRental(t, store, inv.ID, rentedAt, asOf.Add(-3*time.Hour))
		insertRental(t, store, inv.ID, rentedAt, asOf)
		insertRental(t, store, inv.ID, rentedAt, asOf.Add(time.Hour))

		returned := insertRental(t, store, inv.ID, rentedAt, asOf.Add(-8*time.Hour))
		require.NoError(t, returned.MarkReturned(asOf))
		require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.UpdateRental(ctx, returned)
		}))

		var ids []int64
		require.NoError(t, store.ScanOverdue(ctx, asOf, func(r domain.Rental) bool {
			if r.MovieID == inv.ID {
				ids = append(ids, r.ID)
			}
			return true
		}))
		assert.Equal(t, []int64{due5.ID, due3.ID, due1.ID}, ids)
	})

	t.Run("ScanOverdueStops", func(t *testing.T) {
		inv := seedInventory(t, store, 2)
		asOf := time.Now().UTC().Truncate(time.Second)
		insertRental(t, store, inv.ID, asOf.Add(-48*time.Hour), asOf.Add(-2*time.Hour))
		insertRental(t, store, inv.ID, asOf.Add(-48*time.Hour), asOf.Add(-1*time.Hour))

		calls := 0
		require.NoError(t, store.ScanOverdue(ctx, asOf, func(domain.Rental) bool {
			calls++
			return false
		}))
		assert.Equal(t, 1, calls)
	})
}
