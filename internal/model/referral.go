package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/lifecycle"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusAccepted  ReferralStatus = "accepted"
	ReferralStatusRejected  ReferralStatus = "rejected"
	ReferralStatusInTransit ReferralStatus = "in_transit"
	ReferralStatusArrived   ReferralStatus = "arrived"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusCancelled ReferralStatus = "cancelled"
)

type Urgency string

const (
	UrgencyEmergency  Urgency = "emergency"
	UrgencyUrgent     Urgency = "urgent"
	UrgencySemiUrgent Urgency = "semi_urgent"
	UrgencyRoutine    Urgency = "routine"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyEmergency, UrgencyUrgent, UrgencySemiUrgent, UrgencyRoutine:
		return true
	}
	return false
}

// Referral actions
const (
	ReferralActionAccept    = "accept"
	ReferralActionReject    = "reject"
	ReferralActionInTransit = "mark_in_transit"
	ReferralActionArrive    = "mark_arrived"
	ReferralActionComplete  = "complete"
	ReferralActionCancel    = "cancel"
)

var ReferralLifecycle = lifecycle.New("referral",
	[]ReferralStatus{
		ReferralStatusPending, ReferralStatusAccepted, ReferralStatusRejected, ReferralStatusInTransit,
		ReferralStatusArrived, ReferralStatusCompleted, ReferralStatusCancelled,
	},
	ReferralStatusRejected, ReferralStatusCompleted, ReferralStatusCancelled,
).
	Allow(ReferralActionAccept, ReferralStatusAccepted, ReferralStatusPending).
	Allow(ReferralActionReject, ReferralStatusRejected, ReferralStatusPending).
	Allow(ReferralActionInTransit, ReferralStatusInTransit, ReferralStatusAccepted).
	Allow(ReferralActionArrive, ReferralStatusArrived, ReferralStatusAccepted, ReferralStatusInTransit).
	Allow(ReferralActionComplete, ReferralStatusCompleted, ReferralStatusAccepted, ReferralStatusArrived).
	AllowFromActive(ReferralActionCancel, ReferralStatusCancelled)

type Referral struct {
	ID                  uuid.UUID      `db:"id" json:"id"`
	PatientID           uuid.UUID      `db:"patient_id" json:"patient_id"`
	ReferringFacilityID uuid.UUID      `db:"referring_facility_id" json:"referring_facility_id"`
	ReceivingFacilityID uuid.UUID      `db:"receiving_facility_id" json:"receiving_facility_id"`
	ReferringDoctorID   uuid.UUID      `db:"referring_doctor_id" json:"referring_doctor_id"`
	ReceivingDoctorID   *uuid.UUID     `db:"receiving_doctor_id" json:"receiving_doctor_id,omitempty"`
	SpecialtyID         uuid.UUID      `db:"specialty_id" json:"specialty_id"`
	Urgency             Urgency        `db:"urgency" json:"urgency"`
	Status              ReferralStatus `db:"status" json:"status"`
	Reason              string         `db:"reason" json:"reason"`
	ClinicalSummary     string         `db:"clinical_summary" json:"clinical_summary,omitempty"`
	AcceptanceNotes     *string        `db:"acceptance_notes" json:"acceptance_notes,omitempty"`
	RejectionReason     *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancellationReason  *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Outcome             JSONMap        `db:"outcome" json:"outcome,omitempty"`
	CompletionNotes     *string        `db:"completion_notes" json:"completion_notes,omitempty"`
	ReservationID       *uuid.UUID     `db:"bed_reservation_id" json:"bed_reservation_id,omitempty"`
	CreatedBy           uuid.UUID      `db:"created_by" json:"created_by"`
	ReferredAt          time.Time      `db:"referred_at" json:"referred_at"`
	AcceptedAt          *time.Time     `db:"accepted_at" json:"accepted_at,omitempty"`
	RejectedAt          *time.Time     `db:"rejected_at" json:"rejected_at,omitempty"`
	InTransitAt         *time.Time     `db:"in_transit_at" json:"in_transit_at,omitempty"`
	ArrivedAt           *time.Time     `db:"arrived_at" json:"arrived_at,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt         *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

type CreateReferralRequest struct {
	PatientID           uuid.UUID  `json:"patient_id" binding:"required"`
	ReferringFacilityID uuid.UUID  `json:"referring_facility_id" binding:"required"`
	ReceivingFacilityID uuid.UUID  `json:"receiving_facility_id" binding:"required"`
	ReferringDoctorID   uuid.UUID  `json:"referring_doctor_id" binding:"required"`
	ReceivingDoctorID   *uuid.UUID `json:"receiving_doctor_id"`
	SpecialtyID         uuid.UUID  `json:"specialty_id" binding:"required"`
	Urgency             Urgency    `json:"urgency" binding:"required,oneof=emergency urgent semi_urgent routine"`
	Reason              string     `json:"reason" binding:"required,max=2000"`
	ClinicalSummary     string     `json:"clinical_summary" binding:"max=10000"`
}

type AcceptReferralRequest struct {
	ReceivingDoctorID uuid.UUID  `json:"receiving_doctor_id" binding:"required"`
	Notes             string     `json:"notes" binding:"max=2000"`
	BedID             *uuid.UUID `json:"bed_id"`
}

type RejectReferralRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

type CompleteReferralRequest struct {
	Outcome JSONMap `json:"outcome"`
	Notes   string  `json:"notes" binding:"max=2000"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

type ReferralFilter struct {
	Status              ReferralStatus `form:"status"`
	Urgency             Urgency        `form:"urgency"`
	ReferringFacilityID *uuid.UUID     `form:"-" query:"referring_facility_id"`
	ReceivingFacilityID *uuid.UUID     `form:"-" query:"receiving_facility_id"`
	PatientID           *uuid.UUID     `form:"-" query:"patient_id"`
	// FacilityID matches either end of the referral.
	FacilityID *uuid.UUID `form:"-"`
	TimeRange
	Pagination
}

// ReferralSummary aggregates referral counts for reports.
type ReferralSummary struct {
	FacilityID uuid.UUID              `json:"facility_id"`
	From       time.Time              `json:"from"`
	To         time.Time              `json:"to"`
	Total      int                    `json:"total"`
	ByStatus   map[ReferralStatus]int `json:"by_status"`
	ByUrgency  map[Urgency]int        `json:"by_urgency"`
	Rows       []ReferralSummaryRow   `json:"rows"`
}

type ReferralSummaryRow struct {
	Status  ReferralStatus `db:"status" json:"status"`
	Urgency Urgency        `db:"urgency" json:"urgency"`
	Count   int            `db:"count" json:"count"`
}

// Stamp records the lifecycle timestamp for status.
func (r *Referral) Stamp(status ReferralStatus, at time.Time) {
	t := &at
	switch status {
	case ReferralStatusAccepted:
		r.AcceptedAt = t
	case ReferralStatusRejected:
		r.RejectedAt = t
	case ReferralStatusInTransit:
		r.InTransitAt = t
	case ReferralStatusArrived:
		r.ArrivedAt = t
	case ReferralStatusCompleted:
		r.CompletedAt = t
	case ReferralStatusCancelled:
		r.CancelledAt = t
	}
}
