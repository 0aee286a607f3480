package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/movie-rental/internal/adapter/storage"
	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

// corrupt overwrites the stored counters, bypassing every domain check.
func corrupt(t *testing.T, store *storage.MemoryAdapter, movieID int64, mutate func(*domain.Inventory)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(tx port.Tx) error {
		inv, err := tx.GetInventory(ctx, movieID)
		if err != nil {
			return err
		}
		mutate(&inv)
		return tx.UpdateInventory(ctx, inv)
	}))
}

func TestAddTitle(t *testing.T) {
	svc, _ := newTestService(t, port.LockOptimistic)
	ctx := context.Background()

	inv, err := svc.AddTitle(ctx, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, inv.TotalStock)
	assert.Equal(t, 4, inv.AvailableStock)

	_, err = svc.AddTitle(ctx, 7, 1)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = svc.AddTitle(ctx, 8, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidStock)

	_, err = svc.GetInventory(ctx, 8)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdjustTotalStock(t *testing.T) {
	svc, _ := newTestService(t, port.LockOptimistic)
	ctx := context.Background()
	addTitle(t, svc, 1, 3)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
		require.NoError(t, err)
	}

	inv, err := svc.AdjustTotalStock(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, inv.TotalStock)
	assert.Equal(t, 3, inv.AvailableStock)

	inv, err = svc.AdjustTotalStock(ctx, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, inv.AvailableStock)

	_, err = svc.AdjustTotalStock(ctx, 1, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidStock)

	_, err = svc.AdjustTotalStock(ctx, 1, -3)
	assert.ErrorIs(t, err, domain.ErrInvalidStock)

	_, err = svc.AdjustTotalStock(ctx, 42, 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	report, err := svc.AuditTitle(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestAuditTitle_Consistent(t *testing.T) {
	svc, _ := newTestService(t, port.LockOptimistic)
	ctx := context.Background()
	addTitle(t, svc, 1, 2)

	_, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
	require.NoError(t, err)

	report, err := svc.AuditTitle(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, AuditReport{
		MovieID:        1,
		TotalStock:     2,
		AvailableStock: 1,
		ActiveRentals:  1,
	}, report)
}

func TestAuditTitle_MismatchQuarantines(t *testing.T) {
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}
	svc, store := newTestService(t, port.LockOptimistic, WithPublisher(pub), WithMetrics(metrics))
	ctx := context.Background()
	addTitle(t, svc, 1, 2)

	rental, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
	require.NoError(t, err)

	// In bounds but one copy unaccounted for.
	corrupt(t, store, 1, func(inv *domain.Inventory) { inv.AvailableStock = 2 })

	report, err := svc.AuditTitle(ctx, 1)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.True(t, report.Quarantined)
	assert.Equal(t, 1, report.ActiveRentals)
	assert.Equal(t, int32(1), metrics.violations.Load())
	assert.Len(t, pub.ofType(domain.EventTitleQuarantined), 1)

	// Writes on the title are refused until released.
	_, err = svc.CreateRental(ctx, 1, "other", baseT, weekOn)
	assert.ErrorIs(t, err, domain.ErrTitleQuarantined)
	_, err = svc.ReturnRental(ctx, rental.ID, baseT.Add(day))
	assert.ErrorIs(t, err, domain.ErrTitleQuarantined)
	_, err = svc.AdjustTotalStock(ctx, 1, 10)
	assert.ErrorIs(t, err, domain.ErrTitleQuarantined)

	// Auditing again does not raise a second quarantine.
	_, err = svc.AuditTitle(ctx, 1)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Len(t, pub.ofType(domain.EventTitleQuarantined), 1)

	inv, err := svc.ReleaseQuarantine(ctx, 1)
	require.NoError(t, err)
	assert.False(t, inv.Quarantined)
	assert.Equal(t, 1, inv.AvailableStock)
	assert.Len(t, pub.ofType(domain.EventTitleReleased), 1)

	_, err = svc.ReturnRental(ctx, rental.ID, baseT.Add(day))
	require.NoError(t, err)

	report, err = svc.AuditTitle(ctx, 1)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 2, report.AvailableStock)
}

func TestCreateRental_OutOfBoundsCountersQuarantine(t *testing.T) {
	pub := &recordingPublisher{}
	metrics := &countingMetrics{}
	svc, store := newTestService(t, port.LockOptimistic, WithPublisher(pub), WithMetrics(metrics))
	ctx := context.Background()
	addTitle(t, svc, 1, 2)

	corrupt(t, store, 1, func(inv *domain.Inventory) { inv.AvailableStock = 3 })

	_, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	inv, err := svc.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.True(t, inv.Quarantined)
	assert.Equal(t, 3, inv.AvailableStock, "the failing unit must not have written")
	assert.Equal(t, int32(1), metrics.violations.Load())

	_, err = svc.CreateRental(ctx, 1, "user", baseT, weekOn)
	assert.ErrorIs(t, err, domain.ErrTitleQuarantined)
	assert.Len(t, pub.ofType(domain.EventTitleQuarantined), 1)
	assert.Empty(t, pub.ofType(domain.EventRentalCreated))
}

func TestReturnRental_OverflowQuarantines(t *testing.T) {
	svc, store := newTestService(t, port.LockPessimistic)
	ctx := context.Background()
	addTitle(t, svc, 1, 1)

	rental, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
	require.NoError(t, err)

	// The copy is already back in the pool.
	corrupt(t, store, 1, func(inv *domain.Inventory) { inv.AvailableStock = 1 })

	_, err = svc.ReturnRental(ctx, rental.ID, baseT.Add(day))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	got, err := svc.GetRental(ctx, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RentalStatusActive, got.Status, "the failing unit must not have written")

	inv, err := svc.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.True(t, inv.Quarantined)

	inv, err = svc.ReleaseQuarantine(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, inv.AvailableStock)

	_, err = svc.ReturnRental(ctx, rental.ID, baseT.Add(day))
	require.NoError(t, err)
}

func TestReturnRental_OverflowQuarantinesMovieZero(t *testing.T) {
	svc, store := newTestService(t, port.LockOptimistic)
	ctx := context.Background()
	addTitle(t, svc, 0, 1)

	rental, err := svc.CreateRental(ctx, 0, "user", baseT, weekOn)
	require.NoError(t, err)

	corrupt(t, store, 0, func(inv *domain.Inventory) { inv.AvailableStock = 1 })

	_, err = svc.ReturnRental(ctx, rental.ID, baseT.Add(day))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	inv, err := svc.GetInventory(ctx, 0)
	require.NoError(t, err)
	assert.True(t, inv.Quarantined)
}

func TestReleaseQuarantine_NotFound(t *testing.T) {
	svc, _ := newTestService(t, port.LockOptimistic)

	_, err := svc.ReleaseQuarantine(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReleaseQuarantine_MoreRentalsThanStock(t *testing.T) {
	svc, store := newTestService(t, port.LockOptimistic)
	ctx := context.Background()
	addTitle(t, svc, 1, 2)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateRental(ctx, 1, "user", baseT, weekOn)
		require.NoError(t, err)
	}
	corrupt(t, store, 1, func(inv *domain.Inventory) {
		inv.TotalStock = 1
		inv.AvailableStock = 0
		inv.Quarantined = true
	})

	_, err := svc.ReleaseQuarantine(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)

	inv, err := svc.GetInventory(ctx, 1)
	require.NoError(t, err)
	assert.True(t, inv.Quarantined)
}
