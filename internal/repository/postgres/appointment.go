package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const appointmentColumns = `id, patient_id, doctor_id, facility_id, referral_id, follow_up_of, scheduled_at,
	duration_minutes, status, priority, reason, notes, clinical_notes, diagnosis, cancellation_reason,
	created_by, confirmed_at, checked_in_at, started_at, completed_at, cancelled_at, created_at, updated_at`

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{NewBaseRepository(db)}
}

func (r *appointmentRepository) Create(ctx context.Context, a *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, doctor_id, facility_id, referral_id, follow_up_of, scheduled_at,
			duration_minutes, status, priority, reason, notes, created_by, created_at, updated_at
		) VALUES (
			:id, :patient_id, :doctor_id, :facility_id, :referral_id, :follow_up_of, :scheduled_at,
			:duration_minutes, :status, :priority, :reason, :notes, :created_by, :created_at, :updated_at
		)
	`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to create appointment: %w", classify("appointment", err))
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, id, "")
}

func (r *appointmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *appointmentRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1` + lock

	var a model.Appointment
	if err := r.q(ctx).GetContext(ctx, &a, query, id); err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", classify("appointment", err))
	}
	return &a, nil
}

func (r *appointmentRepository) Update(ctx context.Context, a *model.Appointment, expected model.AppointmentStatus) error {
	query := `
		UPDATE appointments
		SET scheduled_at = $1, duration_minutes = $2, status = $3, notes = $4, clinical_notes = $5,
			diagnosis = $6, cancellation_reason = $7, confirmed_at = $8, checked_in_at = $9,
			started_at = $10, completed_at = $11, cancelled_at = $12, updated_at = $13
		WHERE id = $14 AND status = $15
	`
	a.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		a.ScheduledAt,
		a.DurationMinutes,
		a.Status,
		a.Notes,
		a.ClinicalNotes,
		a.Diagnosis,
		a.CancellationReason,
		a.ConfirmedAt,
		a.CheckedInAt,
		a.StartedAt,
		a.CompletedAt,
		a.CancelledAt,
		a.UpdatedAt,
		a.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", classify("appointment", err))
	}
	return expectOne("appointment", res)
}

func (r *appointmentRepository) List(ctx context.Context, filter *model.AppointmentFilter) ([]*model.Appointment, int, error) {
	ds := from("appointments")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.DoctorID != nil {
		ds = ds.Where(goqu.C("doctor_id").Eq(*filter.DoctorID))
	}
	if filter.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(*filter.PatientID))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}
	ds = inRange(ds, "scheduled_at", filter.TimeRange)

	page := filter.Pagination.Normalize()
	var appointments []*model.Appointment
	total, err := r.listQuery(ctx, "appointments", &appointments, ds, goqu.L(appointmentColumns),
		[]exp.OrderedExpression{goqu.C("scheduled_at").Asc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return appointments, total, nil
}

func (r *appointmentRepository) LockDoctorSchedule(ctx context.Context, doctorID uuid.UUID) error {
	if _, err := r.q(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID.String()); err != nil {
		return fmt.Errorf("failed to lock doctor schedule: %w", classify("appointment", err))
	}
	return nil
}

func (r *appointmentRepository) FindOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1
			AND status <> 'cancelled'
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
			AND ($4::uuid IS NULL OR id <> $4::uuid)
		ORDER BY scheduled_at`

	var appointments []*model.Appointment
	if err := r.q(ctx).SelectContext(ctx, &appointments, query, doctorID, start, end, excludeID); err != nil {
		return nil, fmt.Errorf("failed to find overlapping appointments: %w", classify("appointment", err))
	}
	return appointments, nil
}

func (r *appointmentRepository) DoctorSchedule(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3 AND status <> 'cancelled'
		ORDER BY scheduled_at`

	var appointments []*model.Appointment
	if err := r.q(ctx).SelectContext(ctx, &appointments, query, doctorID, start, end); err != nil {
		return nil, fmt.Errorf("failed to get doctor schedule: %w", classify("appointment", err))
	}
	return appointments, nil
}
