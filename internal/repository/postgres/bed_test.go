package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

func TestExpireReservations(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBedRepository(db)

	mock.ExpectExec("UPDATE bed_reservations SET status = 'expired'").
		WithArgs(fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ExpireReservations(context.Background(), fixedTime)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCreateReservationDoubleBooked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBedRepository(db)

	// partial unique index on (bed_id) WHERE status = 'active'
	mock.ExpectExec("INSERT INTO bed_reservations").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateReservation(context.Background(), &model.BedReservation{BedID: uuid.New(), PatientID: uuid.New()})
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestBedGetDerivesReserved(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBedRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, facility_id, (.+) AS reserved, (.+) FROM beds WHERE id = \$1 FOR UPDATE OF beds`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "reserved"}).AddRow(id, "available", true))

	bed, err := repo.GetForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, bed.Reserved)
	assert.Equal(t, model.BedStatusAvailable, bed.Status)
}
