package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestNewRental(t *testing.T) {
	r, err := NewRental(3, "user-1", t0, t0.Add(72*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, RentalStatusActive, r.Status)
	assert.Nil(t, r.ReturnedAt)
	assert.NoError(t, r.Validate())
}

func TestNewRental_Validation(t *testing.T) {
	_, err := NewRental(3, "user-1", t0, t0)
	assert.ErrorIs(t, err, ErrInvalidRentalPeriod)

	_, err = NewRental(3, "user-1", t0, t0.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrInvalidRentalPeriod)

	_, err = NewRental(3, "  ", t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestMarkReturned(t *testing.T) {
	r, _ := NewRental(3, "user-1", t0, t0.Add(72*time.Hour))

	require.NoError(t, r.MarkReturned(t0.Add(time.Hour)))
	assert.Equal(t, RentalStatusReturned, r.Status)
	require.NotNil(t, r.ReturnedAt)
	assert.True(t, r.ReturnedAt.Equal(t0.Add(time.Hour)))
	assert.NoError(t, r.Validate())

	err := r.MarkReturned(t0.Add(2 * time.Hour))
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.True(t, r.ReturnedAt.Equal(t0.Add(time.Hour)))
}

func TestMarkReturned_SameInstantAllowed(t *testing.T) {
	r, _ := NewRental(3, "user-1", t0, t0.Add(time.Hour))
	assert.NoError(t, r.MarkReturned(t0))
}

func TestMarkReturned_BeforeRentalDate(t *testing.T) {
	r, _ := NewRental(3, "user-1", t0, t0.Add(time.Hour))

	err := r.MarkReturned(t0.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidReturnDate)
	assert.True(t, r.IsActive())
	assert.Nil(t, r.ReturnedAt)
}

func TestIsOverdue(t *testing.T) {
	r, _ := NewRental(3, "user-1", t0, t0.Add(time.Hour))

	assert.False(t, r.IsOverdue(t0.Add(time.Hour)))
	assert.True(t, r.IsOverdue(t0.Add(time.Hour+time.Nanosecond)))

	_ = r.MarkReturned(t0.Add(30 * time.Minute))
	assert.False(t, r.IsOverdue(t0.Add(48*time.Hour)))
}

func TestValidate_BrokenPairs(t *testing.T) {
	at := t0.Add(time.Hour)
	before := t0.Add(-time.Hour)

	cases := []Rental{
		{ID: 1, RentalDate: t0, Status: RentalStatusActive, ReturnedAt: &at},
		{ID: 2, RentalDate: t0, Status: RentalStatusReturned},
		{ID: 3, RentalDate: t0, Status: RentalStatusReturned, ReturnedAt: &before},
		{ID: 4, RentalDate: t0, Status: "lost"},
	}
	for _, r := range cases {
		assert.ErrorIs(t, r.Validate(), ErrInvariantViolation, "rental %d", r.ID)
	}
}
