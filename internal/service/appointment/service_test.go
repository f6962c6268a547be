package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	svc      *Service
	facility uuid.UUID
	patient  uuid.UUID
	doctor   uuid.UUID
	nurse    authz.Caller
	clinical authz.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{store: store, facility: uuid.New(), patient: uuid.New(), doctor: uuid.New()}
	store.AddFacilities(f.facility)
	store.AddPatients(f.patient)
	store.AddDoctors(f.doctor)

	auditor := audit.NewService(store.Audit(), logger.Nop())
	f.svc = NewService(Deps{
		Tx:                 store.Transactor(),
		Appointments:       store.Appointments(),
		Referrals:          store.Referrals(),
		Refs:               store.References(),
		Guard:              authz.NewGuard(authz.NewPolicy(), auditor),
		Auditor:            auditor,
		CancellationCutoff: 90 * time.Minute,
		Now:                func() time.Time { return now },
	})
	f.nurse = authz.NewCaller(uuid.New(), authz.RoleNurse, &f.facility)
	f.clinical = authz.NewCaller(f.doctor, authz.RoleDoctor, &f.facility)
	return f
}

func (f *fixture) request(at time.Time, minutes int) *model.CreateAppointmentRequest {
	return &model.CreateAppointmentRequest{
		PatientID:       f.patient,
		DoctorID:        f.doctor,
		FacilityID:      f.facility,
		ScheduledAt:     at,
		DurationMinutes: minutes,
		Reason:          "follow up on referral",
	}
}

func (f *fixture) book(t *testing.T, at time.Time, minutes int) *model.Appointment {
	t.Helper()
	apt, err := f.svc.Create(context.Background(), f.nurse, f.request(at, minutes))
	require.NoError(t, err)
	return apt
}

func TestCreateRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nine := now.Add(time.Hour)

	apt := f.book(t, nine, 30)
	assert.Equal(t, model.AppointmentStatusScheduled, apt.Status)
	assert.Equal(t, model.AppointmentPriorityNormal, apt.Priority)

	_, err := f.svc.Create(ctx, f.nurse, f.request(nine.Add(15*time.Minute), 30))
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// back-to-back slots do not overlap
	f.book(t, nine.Add(30*time.Minute), 30)
	f.book(t, nine.Add(-30*time.Minute), 30)

	q := &model.AvailabilityQuery{DoctorID: f.doctor, Start: nine.Add(10 * time.Minute), DurationMinutes: 10}
	free, err := f.svc.CheckAvailability(ctx, f.nurse, q)
	require.NoError(t, err)
	assert.False(t, free)

	q.ExcludeID = &apt.ID
	free, err = f.svc.CheckAvailability(ctx, f.nurse, q)
	require.NoError(t, err)
	assert.True(t, free)
}

func TestCancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tomorrow := now.Add(24 * time.Hour)

	apt := f.book(t, tomorrow, 60)
	_, err := f.svc.Cancel(ctx, f.nurse, apt.ID, "patient unwell")
	require.NoError(t, err)

	f.book(t, tomorrow, 60)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*model.CreateAppointmentRequest)
	}{
		{"too short", func(r *model.CreateAppointmentRequest) { r.DurationMinutes = 4 }},
		{"too long", func(r *model.CreateAppointmentRequest) { r.DurationMinutes = 481 }},
		{"in the past", func(r *model.CreateAppointmentRequest) { r.ScheduledAt = now.Add(-time.Minute) }},
		{"bad priority", func(r *model.CreateAppointmentRequest) { r.Priority = "asap" }},
		{"unknown patient", func(r *model.CreateAppointmentRequest) { r.PatientID = uuid.New() }},
		{"unknown doctor", func(r *model.CreateAppointmentRequest) { r.DoctorID = uuid.New() }},
		{"unknown referral", func(r *model.CreateAppointmentRequest) { r.ReferralID = model.UUIDPtr(uuid.New()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(now.Add(2*time.Hour), 30)
			tt.mutate(req)
			_, err := f.svc.Create(context.Background(), f.nurse, req)
			assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
		})
	}

	for _, minutes := range []int{model.MinAppointmentMinutes, model.MaxAppointmentMinutes} {
		_, err := f.svc.Create(context.Background(), f.nurse, f.request(now.Add(time.Duration(minutes)*time.Hour), minutes))
		assert.NoError(t, err, "%d minutes is allowed", minutes)
	}
}

func TestReferralMustMatchPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := &model.Referral{ID: uuid.New(), PatientID: uuid.New(), Status: model.ReferralStatusAccepted}
	require.NoError(t, f.store.Referrals().Create(ctx, r))

	req := f.request(now.Add(time.Hour), 30)
	req.ReferralID = &r.ID
	_, err := f.svc.Create(ctx, f.nurse, req)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	req.PatientID = r.PatientID
	f.store.AddPatients(r.PatientID)
	apt, err := f.svc.Create(ctx, f.nurse, req)
	require.NoError(t, err)
	assert.Equal(t, r.ID, *apt.ReferralID)
}

func TestVisitLifecycleWithFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, now.Add(time.Hour), 30)

	apt, err := f.svc.Confirm(ctx, f.nurse, apt.ID)
	require.NoError(t, err)
	assert.NotNil(t, apt.ConfirmedAt)

	apt, err = f.svc.CheckIn(ctx, f.nurse, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCheckedIn, apt.Status)

	_, err = f.svc.Start(ctx, f.nurse, apt.ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden), "nurses cannot start a visit")

	apt, err = f.svc.Start(ctx, f.clinical, apt.ID)
	require.NoError(t, err)
	assert.NotNil(t, apt.StartedAt)

	_, err = f.svc.Cancel(ctx, f.nurse, apt.ID, "changed mind")
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))

	followAt := now.Add(7 * 24 * time.Hour)
	done, err := f.svc.Complete(ctx, f.clinical, apt.ID, &model.CompleteAppointmentRequest{
		ClinicalNotes: "stable",
		Diagnosis:     "resolved",
		FollowUp:      &model.FollowUpRequest{ScheduledAt: followAt, DurationMinutes: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCompleted, done.Appointment.Status)
	assert.Equal(t, "resolved", *done.Appointment.Diagnosis)
	require.NotNil(t, done.FollowUp)
	assert.Equal(t, apt.ID, *done.FollowUp.FollowUpOf)
	assert.Equal(t, model.AppointmentStatusScheduled, done.FollowUp.Status)

	schedule, err := f.svc.DoctorSchedule(ctx, f.nurse, f.doctor, followAt)
	require.NoError(t, err)
	require.Len(t, schedule, 1)
	assert.Equal(t, done.FollowUp.ID, schedule[0].ID)
}

func TestFollowUpConflictRollsBackCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	busy := now.Add(48 * time.Hour)
	f.book(t, busy, 60)

	apt := f.book(t, now.Add(time.Hour), 30)
	_, err := f.svc.CheckIn(ctx, f.nurse, apt.ID)
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, f.clinical, apt.ID, &model.CompleteAppointmentRequest{
		FollowUp: &model.FollowUpRequest{ScheduledAt: busy.Add(30 * time.Minute), DurationMinutes: 30},
	})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	got, err := f.svc.Get(ctx, f.nurse, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCheckedIn, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCancelCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := f.book(t, now.Add(time.Hour), 30)
	_, err := f.svc.Cancel(ctx, f.nurse, soon.ID, "running late")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.svc.Cancel(ctx, f.nurse, soon.ID, " ")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	later := f.book(t, now.Add(3*time.Hour), 30)
	cancelled, err := f.svc.Cancel(ctx, f.nurse, later.ID, "running late")
	require.NoError(t, err)
	assert.Equal(t, "running late", *cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Confirm(ctx, f.nurse, later.ID)
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestCancelFromEveryOpenStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.book(t, now.Add(4*time.Hour), 30)
	_, err := f.svc.Confirm(ctx, f.nurse, confirmed.ID)
	require.NoError(t, err)

	checkedIn := f.book(t, now.Add(6*time.Hour), 30)
	_, err = f.svc.CheckIn(ctx, f.nurse, checkedIn.ID)
	require.NoError(t, err)

	for name, id := range map[string]uuid.UUID{"confirmed": confirmed.ID, "checked_in": checkedIn.ID} {
		got, err := f.svc.Cancel(ctx, f.nurse, id, "clinic closed")
		require.NoError(t, err, name)
		assert.Equal(t, model.AppointmentStatusCancelled, got.Status, name)
		assert.NotNil(t, got.CancelledAt, name)
	}

	started := f.book(t, now.Add(8*time.Hour), 30)
	_, err = f.svc.CheckIn(ctx, f.nurse, started.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, f.clinical, started.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.nurse, started.ID, "clinic closed")
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestRescheduleResetsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, now.Add(time.Hour), 30)
	other := f.book(t, now.Add(3*time.Hour), 30)

	_, err := f.svc.Confirm(ctx, f.nurse, apt.ID)
	require.NoError(t, err)

	// moving within its own slot does not clash with itself
	moved, err := f.svc.Reschedule(ctx, f.nurse, apt.ID, &model.RescheduleAppointmentRequest{ScheduledAt: now.Add(70 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusScheduled, moved.Status)
	assert.Nil(t, moved.ConfirmedAt)
	assert.Equal(t, 30, moved.DurationMinutes)

	_, err = f.svc.Reschedule(ctx, f.nurse, apt.ID, &model.RescheduleAppointmentRequest{ScheduledAt: other.ScheduledAt, DurationMinutes: 15})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	got, err := f.svc.Get(ctx, f.nurse, apt.ID)
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(now.Add(70*time.Minute)))
}

func TestOtherFacilityDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, now.Add(3*time.Hour), 30)

	elsewhere := uuid.New()
	outsider := authz.NewCaller(uuid.New(), authz.RoleNurse, &elsewhere)
	_, err := f.svc.Confirm(ctx, outsider, apt.ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden))
	_, err = f.svc.Create(ctx, outsider, f.request(now.Add(5*time.Hour), 30))
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	denied := 0
	for _, l := range f.store.AuditLogs() {
		if l.Action == model.AuditActionPermissionDenied {
			denied++
		}
	}
	assert.Equal(t, 2, denied)
}

func TestReadsAreConfinedToTheFacility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	apt := f.book(t, now.Add(3*time.Hour), 30)

	elsewhere := uuid.New()
	outsider := authz.NewCaller(uuid.New(), authz.RoleViewer, &elsewhere)

	_, err := f.svc.Get(ctx, outsider, apt.ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	items, total, err := f.svc.List(ctx, outsider, &model.AppointmentFilter{FacilityID: &f.facility})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)

	schedule, err := f.svc.DoctorSchedule(ctx, outsider, f.doctor, apt.ScheduledAt)
	require.NoError(t, err)
	assert.Empty(t, schedule)

	_, total, err = f.svc.List(ctx, f.nurse, &model.AppointmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// the doctor sees their own day wherever they are signed in
	roaming := authz.NewCaller(f.doctor, authz.RoleDoctor, &elsewhere)
	schedule, err = f.svc.DoctorSchedule(ctx, roaming, f.doctor, apt.ScheduledAt)
	require.NoError(t, err)
	assert.Len(t, schedule, 1)
	got, err := f.svc.Get(ctx, roaming, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, apt.ID, got.ID)
}
