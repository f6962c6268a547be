package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

var fixedTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestReferralCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)

	ref := &model.Referral{
		PatientID:           uuid.New(),
		ReferringFacilityID: uuid.New(),
		ReceivingFacilityID: uuid.New(),
		ReferringDoctorID:   uuid.New(),
		SpecialtyID:         uuid.New(),
		Urgency:             model.UrgencyEmergency,
		Status:              model.ReferralStatusPending,
		Reason:              "suspected stroke",
		ReferredAt:          fixedTime,
	}

	mock.ExpectExec("INSERT INTO referrals").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), ref))
	assert.NotEqual(t, uuid.Nil, ref.ID)
	assert.False(t, ref.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralGet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)
	id := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "status", "urgency", "reason", "outcome", "referred_at"}).
		AddRow(id, "accepted", "urgent", "fracture", []byte(`{"discharged":true}`), fixedTime)
	mock.ExpectQuery("SELECT (.+) FROM referrals WHERE id = \\$1$").WithArgs(id).WillReturnRows(rows)

	ref, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, ref.ID)
	assert.Equal(t, model.ReferralStatusAccepted, ref.Status)
	assert.Equal(t, true, ref.Outcome["discharged"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralGetForUpdateLocksRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM referrals WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id, "pending"))

	_, err := repo.GetForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralGetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM referrals").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestReferralUpdateCompareAndSet(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)
	ref := &model.Referral{ID: uuid.New(), Status: model.ReferralStatusAccepted}

	mock.ExpectExec("UPDATE referrals (.+) WHERE id = \\$16 AND status = \\$17").
		WithArgs(
			model.ReferralStatusAccepted,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			ref.ID, model.ReferralStatusPending,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), ref, model.ReferralStatusPending))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralUpdateLostRace(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)

	mock.ExpectExec("UPDATE referrals").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &model.Referral{ID: uuid.New()}, model.ReferralStatusPending)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestReferralList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)
	facility := uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "referrals" WHERE \(\("status" = \$1\) AND \("receiving_facility_id" = \$2\)\)`).
		WithArgs("pending", facility).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT id, patient_id, (.+) FROM "referrals" WHERE (.+) ORDER BY "referred_at" DESC LIMIT (.+)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow(uuid.New(), "pending").
			AddRow(uuid.New(), "pending"))

	refs, total, err := repo.List(context.Background(), &model.ReferralFilter{
		Status:              model.ReferralStatusPending,
		ReceivingFacilityID: &facility,
		Pagination:          model.Pagination{Page: 1, PageSize: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, refs, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReferralSummary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewReferralRepository(db)
	facility := uuid.New()

	mock.ExpectQuery("SELECT status, urgency, COUNT").
		WithArgs(facility, fixedTime, fixedTime.AddDate(0, 1, 0)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "urgency", "count"}).
			AddRow("completed", "emergency", 4).
			AddRow("pending", "routine", 1))

	rows, err := repo.Summary(context.Background(), facility, fixedTime, fixedTime.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[0].Count)
	assert.Equal(t, model.UrgencyRoutine, rows[1].Urgency)
}
