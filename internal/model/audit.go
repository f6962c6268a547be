package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ActorID    uuid.UUID  `json:"actor_id" db:"actor_id"`
	ActorRole  string     `json:"actor_role" db:"actor_role"`
	FacilityID *uuid.UUID `json:"facility_id,omitempty" db:"facility_id"`
	Action     string     `json:"action" db:"action"`
	EntityType string     `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id" db:"entity_id"`
	OldStatus  *string    `json:"old_status,omitempty" db:"old_status"`
	NewStatus  *string    `json:"new_status,omitempty" db:"new_status"`
	Metadata   JSONMap    `json:"metadata,omitempty" db:"metadata"`
	IPAddress  string     `json:"ip_address,omitempty" db:"ip_address"`
	RequestID  string     `json:"request_id,omitempty" db:"request_id"`
	Security   bool       `json:"security" db:"security"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

const (
	// Action types beyond the lifecycle actions
	AuditActionCreate           = "create"
	AuditActionUpdate           = "update"
	AuditActionDelete           = "delete"
	AuditActionPermissionDenied = "permission_denied"

	// Entity types
	AuditEntityReferral    = "referral"
	AuditEntityDispatch    = "dispatch"
	AuditEntityAmbulance   = "ambulance"
	AuditEntityAppointment = "appointment"
	AuditEntityEquipment   = "equipment"
	AuditEntityMaintenance = "maintenance"
	AuditEntityBed         = "bed"
	AuditEntityReservation = "bed_reservation"
)

type AuditFilter struct {
	ActorID    *uuid.UUID `form:"-" query:"actor_id"`
	FacilityID *uuid.UUID `form:"-" query:"facility_id"`
	EntityType string     `form:"entity_type"`
	EntityID   *uuid.UUID `form:"-" query:"entity_id"`
	Action     string     `form:"action"`
	Security   *bool      `form:"security"`
	TimeRange
	Pagination
}
