package referral

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/bed"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*model.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Event)
	}
	return out
}

type fixture struct {
	store     *memory.Store
	svc       *Service
	beds      *bed.Service
	notifier  *recordingNotifier
	referring uuid.UUID
	receiving uuid.UUID
	patient   uuid.UUID
	specialty uuid.UUID
	refDoctor uuid.UUID
	recDoctor uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(),
		notifier:  &recordingNotifier{},
		referring: uuid.New(),
		receiving: uuid.New(),
		patient:   uuid.New(),
		specialty: uuid.New(),
		refDoctor: uuid.New(),
		recDoctor: uuid.New(),
	}
	f.store.AddFacilities(f.referring, f.receiving)
	f.store.AddPatients(f.patient)
	f.store.AddSpecialties(f.specialty)
	f.store.AddDoctors(f.refDoctor, f.recDoctor)

	auditor := audit.NewService(f.store.Audit(), logger.Nop())
	guard := authz.NewGuard(authz.NewPolicy(), auditor)
	f.beds = bed.NewService(bed.Deps{
		Tx:        f.store.Transactor(),
		Beds:      f.store.Beds(),
		Referrals: f.store.Referrals(),
		Refs:      f.store.References(),
		Guard:     guard,
		Auditor:   auditor,
	})
	f.svc = NewService(Deps{
		Tx:        f.store.Transactor(),
		Referrals: f.store.Referrals(),
		Refs:      f.store.References(),
		Beds:      f.beds,
		Guard:     guard,
		Auditor:   auditor,
		Notifier:  f.notifier,
	})
	return f
}

func (f *fixture) referringDoctor() authz.Caller {
	return authz.NewCaller(f.refDoctor, authz.RoleDoctor, &f.referring)
}

func (f *fixture) receivingDoctor() authz.Caller {
	return authz.NewCaller(f.recDoctor, authz.RoleDoctor, &f.receiving)
}

func (f *fixture) request(urgency model.Urgency) *model.CreateReferralRequest {
	return &model.CreateReferralRequest{
		PatientID:           f.patient,
		ReferringFacilityID: f.referring,
		ReceivingFacilityID: f.receiving,
		ReferringDoctorID:   f.refDoctor,
		SpecialtyID:         f.specialty,
		Urgency:             urgency,
		Reason:              "suspected appendicitis",
		ClinicalSummary:     "RLQ pain 12h, fever",
	}
}

func (f *fixture) create(t *testing.T) *model.Referral {
	t.Helper()
	r, err := f.svc.Create(context.Background(), f.referringDoctor(), f.request(model.UrgencyUrgent))
	require.NoError(t, err)
	return r
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(model.UrgencyRoutine)

	created, err := f.svc.Create(ctx, f.referringDoctor(), req)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.receivingDoctor(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, got.Status)
	assert.Equal(t, req.PatientID, got.PatientID)
	assert.Equal(t, req.ReferringFacilityID, got.ReferringFacilityID)
	assert.Equal(t, req.ReceivingFacilityID, got.ReceivingFacilityID)
	assert.Equal(t, req.ReferringDoctorID, got.ReferringDoctorID)
	assert.Equal(t, req.SpecialtyID, got.SpecialtyID)
	assert.Equal(t, req.Urgency, got.Urgency)
	assert.Equal(t, req.Reason, got.Reason)
	assert.Equal(t, req.ClinicalSummary, got.ClinicalSummary)
	assert.False(t, got.ReferredAt.IsZero())

	assert.Equal(t, []string{model.EventReferralCreated}, f.notifier.events())
	require.Len(t, f.notifier.sent[0].Recipients, 1)
	assert.Equal(t, f.receiving, *f.notifier.sent[0].Recipients[0].FacilityID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(r *model.CreateReferralRequest)
	}{
		{"same facility", func(r *model.CreateReferralRequest) { r.ReceivingFacilityID = r.ReferringFacilityID }},
		{"unknown patient", func(r *model.CreateReferralRequest) { r.PatientID = uuid.New() }},
		{"unknown specialty", func(r *model.CreateReferralRequest) { r.SpecialtyID = uuid.New() }},
		{"blank reason", func(r *model.CreateReferralRequest) { r.Reason = "   " }},
		{"bad urgency", func(r *model.CreateReferralRequest) { r.Urgency = "whenever" }},
		{"unknown receiving doctor", func(r *model.CreateReferralRequest) { r.ReceivingDoctorID = model.UUIDPtr(uuid.New()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request(model.UrgencyUrgent)
			tt.mutate(req)
			_, err := f.svc.Create(context.Background(), f.referringDoctor(), req)
			assert.True(t, errors.Is(err, errors.ErrValidation), "got %v", err)
		})
	}

	list, total, err := f.store.Referrals().List(context.Background(), &model.ReferralFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, total)
}

func TestEmergencyReferralAcceptedThenCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.svc.Create(ctx, f.referringDoctor(), f.request(model.UrgencyEmergency))
	require.NoError(t, err)

	r, err = f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor, Notes: "bed ready"})
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusAccepted, r.Status)
	assert.Equal(t, f.recDoctor, *r.ReceivingDoctorID)
	assert.NotNil(t, r.AcceptedAt)

	outcome := model.JSONMap{"disposition": "admitted", "ward": "surgical"}
	r, err = f.svc.Complete(ctx, f.receivingDoctor(), r.ID, &model.CompleteReferralRequest{Outcome: outcome, Notes: "appendectomy"})
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCompleted, r.Status)
	require.NotNil(t, r.CompletedAt)

	stored, err := f.store.Referrals().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "admitted", stored.Outcome["disposition"])

	assert.Equal(t, []string{
		model.EventReferralCreated, model.EventReferralAccepted, model.EventReferralCompleted,
	}, f.notifier.events())

	var transitions []model.AuditLog
	for _, l := range f.store.AuditLogs() {
		if l.EntityID == r.ID && l.Action != model.AuditActionCreate {
			transitions = append(transitions, l)
		}
	}
	require.Len(t, transitions, 2)
	assert.Equal(t, "pending", *transitions[0].OldStatus)
	assert.Equal(t, "accepted", *transitions[0].NewStatus)
	assert.Equal(t, "completed", *transitions[1].NewStatus)
}

func TestSecondAcceptIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)
	req := &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor}

	_, err := f.svc.Accept(ctx, f.receivingDoctor(), r.ID, req)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, f.receivingDoctor(), r.ID, req)
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrInvalidTransition, appErr.Code)
	assert.Equal(t, "accepted", appErr.Details["current_status"])
}

func TestIneligibleTransitionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)
	auditBefore := len(f.store.AuditLogs())

	calls := map[string]func() error{
		"complete": func() error {
			_, err := f.svc.Complete(ctx, f.receivingDoctor(), r.ID, &model.CompleteReferralRequest{})
			return err
		},
		"in transit": func() error {
			_, err := f.svc.MarkInTransit(ctx, f.receivingDoctor(), r.ID)
			return err
		},
		"arrive": func() error {
			_, err := f.svc.MarkArrived(ctx, f.receivingDoctor(), r.ID)
			return err
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(call(), errors.ErrInvalidTransition))
		})
	}

	stored, err := f.store.Referrals().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.Len(t, f.store.AuditLogs(), auditBefore)
}

func TestConcurrentAcceptsOneWins(t *testing.T) {
	f := newFixture(t)
	r := f.create(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(context.Background(), f.receivingDoctor(), r.ID,
				&model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if errors.Is(err, errors.ErrInvalidTransition) || errors.Is(err, errors.ErrConflict) {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	stored, err := f.store.Referrals().Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusAccepted, stored.Status)
}

func TestAcceptReservesBedAtomically(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	nurse := authz.NewCaller(uuid.New(), authz.RoleNurse, &f.receiving)
	b, err := f.beds.Create(ctx, nurse, &model.CreateBedRequest{FacilityID: f.receiving, Ward: "ICU", BedNumber: "3", Type: "icu"})
	require.NoError(t, err)

	r := f.create(t)
	f.store.FailOn("audit.create", stderrors.New("disk full"))
	_, err = f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor, BedID: &b.ID})
	require.Error(t, err)

	got, err := f.beds.Get(ctx, nurse, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Reserved, "reservation must roll back with the referral")
	stored, err := f.store.Referrals().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, stored.Status)

	accepted, err := f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor, BedID: &b.ID})
	require.NoError(t, err)
	require.NotNil(t, accepted.ReservationID)

	got, err = f.beds.Get(ctx, nurse, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Reserved)

	_, err = f.svc.Cancel(ctx, f.referringDoctor(), r.ID, "patient transferred elsewhere")
	require.NoError(t, err)
	res, err := f.store.Beds().GetReservation(ctx, *accepted.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationStatusReleased, res.Status)
}

func TestAcceptWithBedFromOtherFacilityFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := authz.NewCaller(uuid.New(), authz.RoleAdmin, nil)
	b, err := f.beds.Create(ctx, admin, &model.CreateBedRequest{FacilityID: f.referring, Ward: "A", BedNumber: "1", Type: "general"})
	require.NoError(t, err)
	r := f.create(t)

	_, err = f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor, BedID: &b.ID})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)

	_, err := f.svc.Accept(ctx, f.referringDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor})
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	_, err = f.svc.Cancel(ctx, f.receivingDoctor(), r.ID, "not ours")
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	var denials int
	for _, l := range f.store.AuditLogs() {
		if l.Security && l.Action == model.AuditActionPermissionDenied && l.EntityID == r.ID {
			denials++
		}
	}
	assert.Equal(t, 2, denials)

	stored, err := f.store.Referrals().Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, stored.Status)
}

func TestNamedReceivingDoctorMayRespondFromElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(model.UrgencyUrgent)
	req.ReceivingDoctorID = &f.recDoctor
	r, err := f.svc.Create(ctx, f.referringDoctor(), req)
	require.NoError(t, err)

	visiting := uuid.New()
	caller := authz.NewCaller(f.recDoctor, authz.RoleDoctor, &visiting)
	_, err = f.svc.Reject(ctx, caller, r.ID, "no ICU capacity")
	require.NoError(t, err)
}

func TestRejectAndCancelRequireReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)

	_, err := f.svc.Reject(ctx, f.receivingDoctor(), r.ID, " ")
	assert.True(t, errors.Is(err, errors.ErrValidation))
	_, err = f.svc.Cancel(ctx, f.referringDoctor(), r.ID, "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	rejected, err := f.svc.Reject(ctx, f.receivingDoctor(), r.ID, "specialty unavailable")
	require.NoError(t, err)
	assert.Equal(t, "specialty unavailable", *rejected.RejectionReason)
	assert.NotNil(t, rejected.RejectedAt)

	_, err = f.svc.Cancel(ctx, f.referringDoctor(), r.ID, "too late")
	assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
}

func TestOutboxFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.svc.Notifier = notification.NewService(f.store.Outbox(), logger.Nop())
	ctx := context.Background()
	r := f.create(t)
	require.Len(t, f.store.OutboxEvents(), 1)

	f.store.FailOn("outbox.create", stderrors.New("outbox unavailable"))
	accepted, err := f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor})
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusAccepted, accepted.Status)
	assert.Len(t, f.store.OutboxEvents(), 1)
}

func TestAdvanceForDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	crew := authz.System()
	dispatchID := uuid.New()

	pending := f.create(t)
	err := f.store.WithinTx(ctx, func(ctx context.Context) error {
		_, changed, err := f.svc.AdvanceForDispatch(ctx, crew, pending.ID, dispatchID, model.DispatchStatusPatientLoaded)
		assert.False(t, changed)
		return err
	})
	require.NoError(t, err)

	r := f.create(t)
	_, err = f.svc.Accept(ctx, f.receivingDoctor(), r.ID, &model.AcceptReferralRequest{ReceivingDoctorID: f.recDoctor})
	require.NoError(t, err)

	steps := []struct {
		status  model.DispatchStatus
		changed bool
		want    model.ReferralStatus
	}{
		{model.DispatchStatusAcknowledged, false, model.ReferralStatusAccepted},
		{model.DispatchStatusPatientLoaded, true, model.ReferralStatusInTransit},
		{model.DispatchStatusEnRouteDestination, false, model.ReferralStatusInTransit},
		{model.DispatchStatusAtDestination, true, model.ReferralStatusArrived},
		{model.DispatchStatusPatientDelivered, false, model.ReferralStatusArrived},
	}
	for _, step := range steps {
		err := f.store.WithinTx(ctx, func(ctx context.Context) error {
			_, changed, err := f.svc.AdvanceForDispatch(ctx, crew, r.ID, dispatchID, step.status)
			assert.Equal(t, step.changed, changed, step.status)
			return err
		})
		require.NoError(t, err)
		stored, err := f.store.Referrals().Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, stored.Status, step.status)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t)
	f.create(t)
	emergency, err := f.svc.Create(ctx, f.referringDoctor(), f.request(model.UrgencyEmergency))
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, f.receivingDoctor(), emergency.ID, "diverted")
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour)
	to := time.Now().Add(time.Hour)
	summary, err := f.svc.Summary(ctx, f.referringDoctor(), f.referring, from, to)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByStatus[model.ReferralStatusPending])
	assert.Equal(t, 1, summary.ByStatus[model.ReferralStatusRejected])
	assert.Equal(t, 1, summary.ByUrgency[model.UrgencyEmergency])

	_, err = f.svc.Summary(ctx, f.referringDoctor(), f.referring, to, from)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestReadsAreConfinedToParticipatingFacilities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.create(t)
	elsewhere := uuid.New()
	outsider := authz.NewCaller(uuid.New(), authz.RoleViewer, &elsewhere)

	_, err := f.svc.Get(ctx, outsider, r.ID)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	refs, total, err := f.svc.List(ctx, outsider, &model.ReferralFilter{ReceivingFacilityID: &f.receiving})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, refs)

	for _, facility := range []uuid.UUID{f.referring, f.receiving} {
		viewer := authz.NewCaller(uuid.New(), authz.RoleViewer, &facility)
		_, err := f.svc.Get(ctx, viewer, r.ID)
		require.NoError(t, err)
		_, total, err := f.svc.List(ctx, viewer, &model.ReferralFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	}
}
