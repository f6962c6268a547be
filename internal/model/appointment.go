package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/lifecycle"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled  AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed  AppointmentStatus = "confirmed"
	AppointmentStatusCheckedIn  AppointmentStatus = "checked_in"
	AppointmentStatusInProgress AppointmentStatus = "in_progress"
	AppointmentStatusCompleted  AppointmentStatus = "completed"
	AppointmentStatusCancelled  AppointmentStatus = "cancelled"
)

type AppointmentPriority string

const (
	AppointmentPriorityNormal AppointmentPriority = "normal"
	AppointmentPriorityHigh   AppointmentPriority = "high"
	AppointmentPriorityUrgent AppointmentPriority = "urgent"
)

const (
	MinAppointmentMinutes = 5
	MaxAppointmentMinutes = 480
)

// Appointment actions
const (
	AppointmentActionReschedule = "reschedule"
	AppointmentActionConfirm    = "confirm"
	AppointmentActionCheckIn    = "check_in"
	AppointmentActionStart      = "start"
	AppointmentActionComplete   = "complete"
	AppointmentActionCancel     = "cancel"
)

var AppointmentLifecycle = lifecycle.New("appointment",
	[]AppointmentStatus{
		AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusCheckedIn,
		AppointmentStatusInProgress, AppointmentStatusCompleted, AppointmentStatusCancelled,
	},
	AppointmentStatusCompleted, AppointmentStatusCancelled,
).
	Allow(AppointmentActionReschedule, AppointmentStatusScheduled, AppointmentStatusScheduled, AppointmentStatusConfirmed).
	Allow(AppointmentActionConfirm, AppointmentStatusConfirmed, AppointmentStatusScheduled).
	Allow(AppointmentActionCheckIn, AppointmentStatusCheckedIn, AppointmentStatusScheduled, AppointmentStatusConfirmed).
	Allow(AppointmentActionStart, AppointmentStatusInProgress, AppointmentStatusCheckedIn).
	Allow(AppointmentActionComplete, AppointmentStatusCompleted, AppointmentStatusCheckedIn, AppointmentStatusInProgress).
	Allow(AppointmentActionCancel, AppointmentStatusCancelled, AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusCheckedIn)

type Appointment struct {
	ID                 uuid.UUID           `db:"id" json:"id"`
	PatientID          uuid.UUID           `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID           `db:"doctor_id" json:"doctor_id"`
	FacilityID         uuid.UUID           `db:"facility_id" json:"facility_id"`
	ReferralID         *uuid.UUID          `db:"referral_id" json:"referral_id,omitempty"`
	FollowUpOf         *uuid.UUID          `db:"follow_up_of" json:"follow_up_of,omitempty"`
	ScheduledAt        time.Time           `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes    int                 `db:"duration_minutes" json:"duration_minutes"`
	Status             AppointmentStatus   `db:"status" json:"status"`
	Priority           AppointmentPriority `db:"priority" json:"priority"`
	Reason             string              `db:"reason" json:"reason,omitempty"`
	Notes              *string             `db:"notes" json:"notes,omitempty"`
	ClinicalNotes      *string             `db:"clinical_notes" json:"clinical_notes,omitempty"`
	Diagnosis          *string             `db:"diagnosis" json:"diagnosis,omitempty"`
	CancellationReason *string             `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedBy          uuid.UUID           `db:"created_by" json:"created_by"`
	ConfirmedAt        *time.Time          `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CheckedInAt        *time.Time          `db:"checked_in_at" json:"checked_in_at,omitempty"`
	StartedAt          *time.Time          `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time          `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Stamp records when the appointment entered status. Moving back to scheduled
// clears the confirmation.
func (a *Appointment) Stamp(status AppointmentStatus, at time.Time) {
	t := &at
	switch status {
	case AppointmentStatusScheduled:
		a.ConfirmedAt = nil
	case AppointmentStatusConfirmed:
		a.ConfirmedAt = t
	case AppointmentStatusCheckedIn:
		a.CheckedInAt = t
	case AppointmentStatusInProgress:
		a.StartedAt = t
	case AppointmentStatusCompleted:
		a.CompletedAt = t
	case AppointmentStatusCancelled:
		a.CancelledAt = t
	}
}

// Overlaps reports whether the appointment intersects [start, start+minutes).
// Back-to-back slots do not overlap.
func (a *Appointment) Overlaps(start time.Time, minutes int) bool {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return a.ScheduledAt.Before(end) && start.Before(a.EndsAt())
}

// CanBeCancelled applies the cancellation rule: not finished, not under way,
// and more than cutoff away from the start.
func (a *Appointment) CanBeCancelled(now time.Time, cutoff time.Duration) bool {
	switch a.Status {
	case AppointmentStatusCompleted, AppointmentStatusCancelled, AppointmentStatusInProgress:
		return false
	}
	return a.ScheduledAt.Sub(now) > cutoff
}

type CreateAppointmentRequest struct {
	PatientID       uuid.UUID           `json:"patient_id" binding:"required"`
	DoctorID        uuid.UUID           `json:"doctor_id" binding:"required"`
	FacilityID      uuid.UUID           `json:"facility_id" binding:"required"`
	ReferralID      *uuid.UUID          `json:"referral_id"`
	ScheduledAt     time.Time           `json:"scheduled_at" binding:"required"`
	DurationMinutes int                 `json:"duration_minutes" binding:"required"`
	Priority        AppointmentPriority `json:"priority" binding:"omitempty,oneof=normal high urgent"`
	Reason          string              `json:"reason" binding:"max=2000"`
	Notes           string              `json:"notes" binding:"max=2000"`
}

type RescheduleAppointmentRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes"`
}

type FollowUpRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
	Reason          string    `json:"reason" binding:"max=2000"`
}

type CompleteAppointmentRequest struct {
	ClinicalNotes string           `json:"clinical_notes" binding:"max=20000"`
	Diagnosis     string           `json:"diagnosis" binding:"max=2000"`
	FollowUp      *FollowUpRequest `json:"follow_up"`
}

// CompletedAppointment is the result of completing a visit, with the follow-up
// booked in the same transaction, if any.
type CompletedAppointment struct {
	Appointment *Appointment `json:"appointment"`
	FollowUp    *Appointment `json:"follow_up,omitempty"`
}

type AvailabilityQuery struct {
	DoctorID        uuid.UUID  `form:"-" query:"doctor_id"`
	Start           time.Time  `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	DurationMinutes int        `form:"duration_minutes" binding:"required"`
	ExcludeID       *uuid.UUID `form:"-" query:"exclude_id"`
}

type AppointmentFilter struct {
	Status     AppointmentStatus `form:"status"`
	DoctorID   *uuid.UUID        `form:"-" query:"doctor_id"`
	PatientID  *uuid.UUID        `form:"-" query:"patient_id"`
	FacilityID *uuid.UUID        `form:"-" query:"facility_id"`
	TimeRange
	Pagination
}
