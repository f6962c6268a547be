package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

type Deps struct {
	Tx           repository.Transactor
	Appointments repository.AppointmentRepository
	Referrals    repository.ReferralRepository
	Refs         repository.ReferenceChecker
	Guard        *authz.Guard
	Auditor      *audit.Service
	Notifier     notification.Service
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
	// CancellationCutoff is how close to the start an appointment may still be cancelled.
	CancellationCutoff time.Duration
	Now                func() time.Time
}

type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = notification.Nop{}
	}
	return &Service{Deps: d}
}

func appointmentResource(a *model.Appointment) authz.Resource {
	return authz.Resource{
		Kind:       model.AuditEntityAppointment,
		ID:         a.ID,
		Facilities: []uuid.UUID{a.FacilityID},
		Users:      []uuid.UUID{a.DoctorID},
	}
}

func (s *Service) validateSlot(start time.Time, minutes int) error {
	if minutes < model.MinAppointmentMinutes || minutes > model.MaxAppointmentMinutes {
		return errors.Validation("duration_minutes must be between %d and %d", model.MinAppointmentMinutes, model.MaxAppointmentMinutes)
	}
	if start.IsZero() {
		return errors.Validation("scheduled_at is required")
	}
	if start.Before(s.Now()) {
		return errors.Validation("appointment cannot be scheduled in the past")
	}
	return nil
}

// CheckAvailability reports whether the doctor has no live appointment
// overlapping [start, start+duration).
func (s *Service) CheckAvailability(ctx context.Context, caller authz.Caller, q *model.AvailabilityQuery) (bool, error) {
	if err := s.Guard.Check(ctx, caller, authz.AppointmentRead, authz.Resource{Kind: model.AuditEntityAppointment}); err != nil {
		return false, err
	}
	if q.DoctorID == uuid.Nil {
		return false, errors.Validation("doctor_id is required")
	}
	if q.DurationMinutes < model.MinAppointmentMinutes || q.DurationMinutes > model.MaxAppointmentMinutes {
		return false, errors.Validation("duration_minutes must be between %d and %d", model.MinAppointmentMinutes, model.MaxAppointmentMinutes)
	}
	return s.isFree(ctx, q.DoctorID, q.Start, q.DurationMinutes, q.ExcludeID)
}

func (s *Service) isFree(ctx context.Context, doctorID uuid.UUID, start time.Time, minutes int, exclude *uuid.UUID) (bool, error) {
	end := start.Add(time.Duration(minutes) * time.Minute)
	overlapping, err := s.Appointments.FindOverlapping(ctx, doctorID, start, end, exclude)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return len(overlapping) == 0, nil
}

// reserveSlot locks the doctor's schedule and fails with Conflict when the slot
// is taken. Must run inside a transaction.
func (s *Service) reserveSlot(ctx context.Context, doctorID uuid.UUID, start time.Time, minutes int, exclude *uuid.UUID) error {
	if err := s.Appointments.LockDoctorSchedule(ctx, doctorID); err != nil {
		return err
	}
	free, err := s.isFree(ctx, doctorID, start, minutes, exclude)
	if err != nil {
		return err
	}
	if !free {
		return errors.Conflict("appointment slot", fmt.Errorf("doctor %s is booked at %s", doctorID, start.Format(time.RFC3339)))
	}
	return nil
}

func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateAppointmentRequest) (*model.Appointment, error) {
	res := authz.Resource{Kind: model.AuditEntityAppointment, Facilities: []uuid.UUID{req.FacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.AppointmentManage, res); err != nil {
		return nil, err
	}
	if err := s.validateCreate(ctx, req); err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = model.AppointmentPriorityNormal
	}
	apt := &model.Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		FacilityID:      req.FacilityID,
		ReferralID:      req.ReferralID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Status:          model.AppointmentStatusScheduled,
		Priority:        priority,
		Reason:          strings.TrimSpace(req.Reason),
		Notes:           model.StringPtr(req.Notes),
		CreatedBy:       caller.UserID,
	}

	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.book(ctx, caller, apt, nil)
	})
	s.Metrics.ObserveTransition(model.AuditEntityAppointment, model.AuditActionCreate, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}

	s.announce(ctx, apt, model.EventAppointmentBooked)
	return apt, nil
}

// book inserts a new scheduled appointment after the slot check. Must run
// inside a transaction.
func (s *Service) book(ctx context.Context, caller authz.Caller, apt *model.Appointment, meta map[string]interface{}) error {
	if err := s.reserveSlot(ctx, apt.DoctorID, apt.ScheduledAt, apt.DurationMinutes, nil); err != nil {
		return err
	}
	if err := s.Appointments.Create(ctx, apt); err != nil {
		return err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["doctor_id"] = apt.DoctorID.String()
	meta["scheduled_at"] = apt.ScheduledAt.Format(time.RFC3339)
	return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityAppointment, apt.ID, &audit.LogOptions{
		NewStatus:  string(apt.Status),
		FacilityID: &apt.FacilityID,
		Metadata:   meta,
	})
}

func (s *Service) validateCreate(ctx context.Context, req *model.CreateAppointmentRequest) error {
	if err := s.validateSlot(req.ScheduledAt, req.DurationMinutes); err != nil {
		return err
	}
	switch req.Priority {
	case "", model.AppointmentPriorityNormal, model.AppointmentPriorityHigh, model.AppointmentPriorityUrgent:
	default:
		return errors.Validation("invalid priority %q", req.Priority)
	}

	checks := []struct {
		what   string
		id     uuid.UUID
		exists func(context.Context, uuid.UUID) (bool, error)
	}{
		{"patient", req.PatientID, s.Refs.PatientExists},
		{"doctor", req.DoctorID, s.Refs.DoctorExists},
		{"facility", req.FacilityID, s.Refs.FacilityExists},
	}
	for _, c := range checks {
		ok, err := c.exists(ctx, c.id)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", c.what, err)
		}
		if !ok {
			return errors.Validation("%s %s does not exist", c.what, c.id)
		}
	}

	if req.ReferralID != nil && s.Referrals != nil {
		r, err := s.Referrals.Get(ctx, *req.ReferralID)
		if errors.Is(err, errors.ErrNotFound) {
			return errors.Validation("referral %s does not exist", *req.ReferralID)
		}
		if err != nil {
			return fmt.Errorf("failed to check referral: %w", err)
		}
		if r.PatientID != req.PatientID {
			return errors.Validation("referral %s belongs to another patient", r.ID)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error) {
	a, err := s.Appointments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.AppointmentRead, appointmentResource(a)); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.AppointmentFilter) ([]*model.Appointment, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.AppointmentRead, model.AuditEntityAppointment)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		filter.FacilityID = scope
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, errors.Validation("to must not be before from")
	}
	return s.Appointments.List(ctx, filter)
}

// DoctorSchedule lists the doctor's live appointments on the calendar day of
// day, in day's location. Non-admins see the doctor's own schedule in full and
// otherwise only the appointments held at their facility.
func (s *Service) DoctorSchedule(ctx context.Context, caller authz.Caller, doctorID uuid.UUID, day time.Time) ([]*model.Appointment, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.AppointmentRead, model.AuditEntityAppointment)
	if err != nil {
		return nil, err
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	schedule, err := s.Appointments.DoctorSchedule(ctx, doctorID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if scope == nil || caller.UserID == doctorID {
		return schedule, nil
	}
	visible := make([]*model.Appointment, 0, len(schedule))
	for _, a := range schedule {
		if a.FacilityID == *scope {
			visible = append(visible, a)
		}
	}
	return visible, nil
}
