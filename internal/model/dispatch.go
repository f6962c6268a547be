package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/lifecycle"
)

type DispatchStatus string

const (
	DispatchStatusDispatched         DispatchStatus = "dispatched"
	DispatchStatusAcknowledged       DispatchStatus = "acknowledged"
	DispatchStatusEnRoutePickup      DispatchStatus = "en_route_pickup"
	DispatchStatusAtPickup           DispatchStatus = "at_pickup"
	DispatchStatusPatientLoaded      DispatchStatus = "patient_loaded"
	DispatchStatusEnRouteDestination DispatchStatus = "en_route_destination"
	DispatchStatusAtDestination      DispatchStatus = "at_destination"
	DispatchStatusPatientDelivered   DispatchStatus = "patient_delivered"
	DispatchStatusCompleted          DispatchStatus = "completed"
	DispatchStatusCancelled          DispatchStatus = "cancelled"
)

type DispatchPriority string

const (
	DispatchPriorityEmergency DispatchPriority = "emergency"
	DispatchPriorityUrgent    DispatchPriority = "urgent"
	DispatchPriorityRoutine   DispatchPriority = "routine"
)

// Dispatch actions
const (
	DispatchActionAcknowledge         = "acknowledge"
	DispatchActionEnRoutePickup       = "start_en_route_pickup"
	DispatchActionArriveAtPickup      = "arrive_at_pickup"
	DispatchActionLoadPatient         = "load_patient"
	DispatchActionEnRouteDestination  = "start_en_route_destination"
	DispatchActionArriveAtDestination = "arrive_at_destination"
	DispatchActionDeliverPatient      = "deliver_patient"
	DispatchActionComplete            = "complete"
	DispatchActionCancel              = "cancel"
)

var DispatchLifecycle = lifecycle.New("dispatch",
	[]DispatchStatus{
		DispatchStatusDispatched, DispatchStatusAcknowledged, DispatchStatusEnRoutePickup, DispatchStatusAtPickup,
		DispatchStatusPatientLoaded, DispatchStatusEnRouteDestination, DispatchStatusAtDestination,
		DispatchStatusPatientDelivered, DispatchStatusCompleted, DispatchStatusCancelled,
	},
	DispatchStatusCompleted, DispatchStatusCancelled,
).
	Allow(DispatchActionAcknowledge, DispatchStatusAcknowledged, DispatchStatusDispatched).
	Allow(DispatchActionEnRoutePickup, DispatchStatusEnRoutePickup, DispatchStatusAcknowledged).
	Allow(DispatchActionArriveAtPickup, DispatchStatusAtPickup, DispatchStatusEnRoutePickup).
	Allow(DispatchActionLoadPatient, DispatchStatusPatientLoaded, DispatchStatusAtPickup).
	Allow(DispatchActionEnRouteDestination, DispatchStatusEnRouteDestination, DispatchStatusPatientLoaded).
	Allow(DispatchActionArriveAtDestination, DispatchStatusAtDestination, DispatchStatusEnRouteDestination).
	Allow(DispatchActionDeliverPatient, DispatchStatusPatientDelivered, DispatchStatusAtDestination).
	Allow(DispatchActionComplete, DispatchStatusCompleted, DispatchStatusPatientDelivered).
	AllowFromActive(DispatchActionCancel, DispatchStatusCancelled)

type Dispatch struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	AmbulanceID          uuid.UUID        `db:"ambulance_id" json:"ambulance_id"`
	ReferralID           *uuid.UUID       `db:"referral_id" json:"referral_id,omitempty"`
	DispatcherID         uuid.UUID        `db:"dispatcher_id" json:"dispatcher_id"`
	FacilityID           uuid.UUID        `db:"facility_id" json:"facility_id"`
	PickupLatitude       float64          `db:"pickup_latitude" json:"pickup_latitude"`
	PickupLongitude      float64          `db:"pickup_longitude" json:"pickup_longitude"`
	PickupAddress        string           `db:"pickup_address" json:"pickup_address"`
	DestinationLatitude  float64          `db:"destination_latitude" json:"destination_latitude"`
	DestinationLongitude float64          `db:"destination_longitude" json:"destination_longitude"`
	DestinationAddress   string           `db:"destination_address" json:"destination_address"`
	Priority             DispatchPriority `db:"priority" json:"priority"`
	Status               DispatchStatus   `db:"status" json:"status"`
	EstimatedDistanceKM  *float64         `db:"estimated_distance_km" json:"estimated_distance_km,omitempty"`
	EstimatedDurationMin *float64         `db:"estimated_duration_min" json:"estimated_duration_min,omitempty"`
	DistanceKM           *float64         `db:"distance_km" json:"distance_km,omitempty"`
	FuelConsumed         *float64         `db:"fuel_consumed" json:"fuel_consumed,omitempty"`
	HandoverNotes        *string          `db:"handover_notes" json:"handover_notes,omitempty"`
	Notes                *string          `db:"notes" json:"notes,omitempty"`
	CancellationReason   *string          `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	DispatchedAt         time.Time        `db:"dispatched_at" json:"dispatched_at"`
	AcknowledgedAt       *time.Time       `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	EnRoutePickupAt      *time.Time       `db:"en_route_pickup_at" json:"en_route_pickup_at,omitempty"`
	AtPickupAt           *time.Time       `db:"at_pickup_at" json:"at_pickup_at,omitempty"`
	PatientLoadedAt      *time.Time       `db:"patient_loaded_at" json:"patient_loaded_at,omitempty"`
	EnRouteDestinationAt *time.Time       `db:"en_route_destination_at" json:"en_route_destination_at,omitempty"`
	AtDestinationAt      *time.Time       `db:"at_destination_at" json:"at_destination_at,omitempty"`
	PatientDeliveredAt   *time.Time       `db:"patient_delivered_at" json:"patient_delivered_at,omitempty"`
	CompletedAt          *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt          *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

func (d *Dispatch) Pickup() GeoPoint {
	return GeoPoint{Latitude: d.PickupLatitude, Longitude: d.PickupLongitude}
}

func (d *Dispatch) Destination() GeoPoint {
	return GeoPoint{Latitude: d.DestinationLatitude, Longitude: d.DestinationLongitude}
}

// Stamp records the lifecycle timestamp for status.
func (d *Dispatch) Stamp(status DispatchStatus, at time.Time) {
	t := &at
	switch status {
	case DispatchStatusAcknowledged:
		d.AcknowledgedAt = t
	case DispatchStatusEnRoutePickup:
		d.EnRoutePickupAt = t
	case DispatchStatusAtPickup:
		d.AtPickupAt = t
	case DispatchStatusPatientLoaded:
		d.PatientLoadedAt = t
	case DispatchStatusEnRouteDestination:
		d.EnRouteDestinationAt = t
	case DispatchStatusAtDestination:
		d.AtDestinationAt = t
	case DispatchStatusPatientDelivered:
		d.PatientDeliveredAt = t
	case DispatchStatusCompleted:
		d.CompletedAt = t
	case DispatchStatusCancelled:
		d.CancelledAt = t
	}
}

// DispatchStatusUpdate is one row of a dispatch's status history.
type DispatchStatusUpdate struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	DispatchID uuid.UUID      `db:"dispatch_id" json:"dispatch_id"`
	OldStatus  DispatchStatus `db:"old_status" json:"old_status"`
	NewStatus  DispatchStatus `db:"new_status" json:"new_status"`
	ActorID    uuid.UUID      `db:"actor_id" json:"actor_id"`
	Latitude   *float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude  *float64       `db:"longitude" json:"longitude,omitempty"`
	Notes      *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

type CreateDispatchRequest struct {
	AmbulanceID        uuid.UUID        `json:"ambulance_id" binding:"required"`
	ReferralID         *uuid.UUID       `json:"referral_id"`
	Pickup             GeoPoint         `json:"pickup" binding:"required"`
	PickupAddress      string           `json:"pickup_address" binding:"required,max=500"`
	Destination        GeoPoint         `json:"destination" binding:"required"`
	DestinationAddress string           `json:"destination_address" binding:"required,max=500"`
	Priority           DispatchPriority `json:"priority" binding:"required,oneof=emergency urgent routine"`
	Notes              string           `json:"notes" binding:"max=2000"`
}

// TransitionRequest is the body shared by the forward dispatch transitions.
type TransitionRequest struct {
	Location *GeoPoint `json:"location"`
	Notes    string    `json:"notes" binding:"max=2000"`
}

type DeliverPatientRequest struct {
	Location      *GeoPoint `json:"location"`
	HandoverNotes string    `json:"handover_notes" binding:"max=5000"`
}

type CompleteDispatchRequest struct {
	Location     *GeoPoint `json:"location"`
	DistanceKM   *float64  `json:"distance_km" binding:"omitempty,gte=0"`
	FuelConsumed *float64  `json:"fuel_consumed" binding:"omitempty,gte=0"`
	Notes        string    `json:"notes" binding:"max=2000"`
}

type CancelDispatchRequest struct {
	Location *GeoPoint `json:"location"`
	Reason   string    `json:"reason" binding:"required,max=2000"`
}

type LocationUpdateRequest struct {
	Latitude  float64  `json:"latitude" binding:"lat"`
	Longitude float64  `json:"longitude" binding:"lng"`
	Heading   *float64 `json:"heading" binding:"omitempty,heading"`
	Speed     *float64 `json:"speed" binding:"omitempty,gte=0"`
}

// RouteProgress is the live position of a dispatch, kept in the live cache.
type RouteProgress struct {
	DispatchID  uuid.UUID      `json:"dispatch_id"`
	AmbulanceID uuid.UUID      `json:"ambulance_id"`
	Status      DispatchStatus `json:"status"`
	Latitude    float64        `json:"latitude"`
	Longitude   float64        `json:"longitude"`
	Heading     *float64       `json:"heading,omitempty"`
	Speed       *float64       `json:"speed,omitempty"`
	// RemainingKM and RemainingMin are filled when the routing provider answered.
	RemainingKM  *float64  `json:"remaining_km,omitempty"`
	RemainingMin *float64  `json:"remaining_min,omitempty"`
	Source       string    `json:"source"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type DispatchFilter struct {
	Status      DispatchStatus `form:"status"`
	AmbulanceID *uuid.UUID     `form:"-" query:"ambulance_id"`
	ReferralID  *uuid.UUID     `form:"-" query:"referral_id"`
	FacilityID  *uuid.UUID     `form:"-" query:"facility_id"`
	ActiveOnly  bool           `form:"active"`
	TimeRange
	Pagination
}

// AmbulanceSuggestion is an available ambulance ranked by ETA to a pickup.
type AmbulanceSuggestion struct {
	Ambulance   *Ambulance `json:"ambulance"`
	DistanceKM  float64    `json:"distance_km"`
	DurationMin float64    `json:"duration_min"`
}
