package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

type appointmentRepository struct{ s *Store }

func (r *appointmentRepository) Create(_ context.Context, a *model.Appointment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("appointments.create"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.data.appointments[a.ID] = *a
	return nil
}

func (r *appointmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.appointments[id]
	if !ok {
		return nil, notFound("appointment")
	}
	return &a, nil
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.Get(ctx, id)
}

func (r *appointmentRepository) Update(_ context.Context, a *model.Appointment, expected model.AppointmentStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.appointments[a.ID]
	if !ok || stored.Status != expected {
		return lostRace("appointment")
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.data.appointments[a.ID] = *a
	return nil
}

func (r *appointmentRepository) List(_ context.Context, f *model.AppointmentFilter) ([]*model.Appointment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Appointment
	for _, a := range r.s.data.appointments {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.FacilityID != nil && a.FacilityID != *f.FacilityID {
			continue
		}
		if !inRange(a.ScheduledAt, f.TimeRange) {
			continue
		}
		items = append(items, a)
	}
	out, total := page(items, f.Pagination, func(a, b model.Appointment) bool { return a.ScheduledAt.Before(b.ScheduledAt) })
	return out, total, nil
}

// LockDoctorSchedule is a no-op: transactions are already serialised.
func (r *appointmentRepository) LockDoctorSchedule(context.Context, uuid.UUID) error {
	return nil
}

func (r *appointmentRepository) FindOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	minutes := int(end.Sub(start) / time.Minute)
	var out []*model.Appointment
	for _, a := range r.s.data.appointments {
		if a.DoctorID != doctorID || a.Status == model.AppointmentStatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Overlaps(start, minutes) {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

func (r *appointmentRepository) DoctorSchedule(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]*model.Appointment, error) {
	r.s.mu.Lock()
	var items []model.Appointment
	for _, a := range r.s.data.appointments {
		if a.DoctorID == doctorID && a.Status != model.AppointmentStatusCancelled &&
			!a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			items = append(items, a)
		}
	}
	r.s.mu.Unlock()
	out, _ := page(items, model.Pagination{PageSize: model.MaxPageSize}, func(a, b model.Appointment) bool {
		return a.ScheduledAt.Before(b.ScheduledAt)
	})
	return out, nil
}
