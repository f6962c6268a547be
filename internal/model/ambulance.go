package model

import (
	"time"

	"github.com/google/uuid"
)

type AmbulanceStatus string

const (
	AmbulanceStatusAvailable    AmbulanceStatus = "available"
	AmbulanceStatusDispatched   AmbulanceStatus = "dispatched"
	AmbulanceStatusOnTrip       AmbulanceStatus = "on_trip"
	AmbulanceStatusMaintenance  AmbulanceStatus = "maintenance"
	AmbulanceStatusOutOfService AmbulanceStatus = "out_of_service"
)

// AmbulanceStatusFor derives the ambulance status from its dispatch status.
func AmbulanceStatusFor(s DispatchStatus) AmbulanceStatus {
	switch s {
	case DispatchStatusDispatched, DispatchStatusAcknowledged, DispatchStatusEnRoutePickup, DispatchStatusAtPickup:
		return AmbulanceStatusDispatched
	case DispatchStatusPatientLoaded, DispatchStatusEnRouteDestination, DispatchStatusAtDestination, DispatchStatusPatientDelivered:
		return AmbulanceStatusOnTrip
	default:
		return AmbulanceStatusAvailable
	}
}

type Ambulance struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	FacilityID        uuid.UUID       `db:"facility_id" json:"facility_id"`
	CallSign          string          `db:"call_sign" json:"call_sign"`
	RegistrationPlate string          `db:"registration_plate" json:"registration_plate"`
	Type              string          `db:"type" json:"type"`
	Status            AmbulanceStatus `db:"status" json:"status"`
	CurrentDispatchID *uuid.UUID      `db:"current_dispatch_id" json:"current_dispatch_id,omitempty"`
	Latitude          *float64        `db:"latitude" json:"latitude,omitempty"`
	Longitude         *float64        `db:"longitude" json:"longitude,omitempty"`
	Heading           *float64        `db:"heading" json:"heading,omitempty"`
	Speed             *float64        `db:"speed" json:"speed,omitempty"`
	LocationUpdatedAt *time.Time      `db:"location_updated_at" json:"location_updated_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Position returns the last reported position, if any.
func (a *Ambulance) Position() (GeoPoint, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Latitude: *a.Latitude, Longitude: *a.Longitude}, true
}

type CreateAmbulanceRequest struct {
	FacilityID        uuid.UUID `json:"facility_id" binding:"required"`
	CallSign          string    `json:"call_sign" binding:"required,max=50"`
	RegistrationPlate string    `json:"registration_plate" binding:"required,max=20"`
	Type              string    `json:"type" binding:"required,oneof=basic advanced neonatal"`
	Location          *GeoPoint `json:"location"`
}

type SetAmbulanceStatusRequest struct {
	Status AmbulanceStatus `json:"status" binding:"required,oneof=available maintenance out_of_service"`
}

type AmbulanceFilter struct {
	Status     AmbulanceStatus `form:"status"`
	FacilityID *uuid.UUID      `form:"-" query:"facility_id"`
	Pagination
}

// PositionUpdate is a telemetry sample for one ambulance.
type PositionUpdate struct {
	Latitude   float64   `json:"latitude" validate:"lat"`
	Longitude  float64   `json:"longitude" validate:"lng"`
	Heading    *float64  `json:"heading,omitempty" validate:"omitempty,heading"`
	Speed      *float64  `json:"speed,omitempty" validate:"omitempty,gte=0"`
	RecordedAt time.Time `json:"recorded_at"`
}
