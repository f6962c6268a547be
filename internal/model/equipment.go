package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/lifecycle"
)

type EquipmentStatus string

const (
	EquipmentStatusAvailable        EquipmentStatus = "available"
	EquipmentStatusInUse            EquipmentStatus = "in_use"
	EquipmentStatusUnderMaintenance EquipmentStatus = "under_maintenance"
	EquipmentStatusOutOfOrder       EquipmentStatus = "out_of_order"
)

type MaintenanceStatus string

const (
	MaintenanceStatusScheduled  MaintenanceStatus = "scheduled"
	MaintenanceStatusInProgress MaintenanceStatus = "in_progress"
	MaintenanceStatusCompleted  MaintenanceStatus = "completed"
	MaintenanceStatusCancelled  MaintenanceStatus = "cancelled"
)

type MaintenanceType string

const (
	MaintenanceTypePreventive  MaintenanceType = "preventive"
	MaintenanceTypeCorrective  MaintenanceType = "corrective"
	MaintenanceTypeCalibration MaintenanceType = "calibration"
)

// Maintenance actions
const (
	MaintenanceActionStart    = "start"
	MaintenanceActionComplete = "complete"
	MaintenanceActionCancel   = "cancel"
)

var MaintenanceLifecycle = lifecycle.New("maintenance",
	[]MaintenanceStatus{
		MaintenanceStatusScheduled, MaintenanceStatusInProgress, MaintenanceStatusCompleted, MaintenanceStatusCancelled,
	},
	MaintenanceStatusCompleted, MaintenanceStatusCancelled,
).
	Allow(MaintenanceActionStart, MaintenanceStatusInProgress, MaintenanceStatusScheduled).
	Allow(MaintenanceActionComplete, MaintenanceStatusCompleted, MaintenanceStatusInProgress).
	Allow(MaintenanceActionCancel, MaintenanceStatusCancelled, MaintenanceStatusScheduled, MaintenanceStatusInProgress)

type Equipment struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	FacilityID         uuid.UUID       `db:"facility_id" json:"facility_id"`
	Name               string          `db:"name" json:"name"`
	Category           string          `db:"category" json:"category"`
	SerialNumber       string          `db:"serial_number" json:"serial_number"`
	Status             EquipmentStatus `db:"status" json:"status"`
	ConditionRating    *int            `db:"condition_rating" json:"condition_rating,omitempty"`
	LastMaintenance    *time.Time      `db:"last_maintenance" json:"last_maintenance,omitempty"`
	NextMaintenanceDue *time.Time      `db:"next_maintenance_due" json:"next_maintenance_due,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

type MaintenanceRecord struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	EquipmentID        uuid.UUID         `db:"equipment_id" json:"equipment_id"`
	Type               MaintenanceType   `db:"type" json:"type"`
	Status             MaintenanceStatus `db:"status" json:"status"`
	ScheduledFor       time.Time         `db:"scheduled_for" json:"scheduled_for"`
	TechnicianID       *uuid.UUID        `db:"technician_id" json:"technician_id,omitempty"`
	Description        string            `db:"description" json:"description"`
	ConditionRating    *int              `db:"condition_rating" json:"condition_rating,omitempty"`
	Cost               *float64          `db:"cost" json:"cost,omitempty"`
	Notes              *string           `db:"notes" json:"notes,omitempty"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedBy          uuid.UUID         `db:"created_by" json:"created_by"`
	StartedAt          *time.Time        `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

type CreateEquipmentRequest struct {
	FacilityID   uuid.UUID `json:"facility_id" binding:"required"`
	Name         string    `json:"name" binding:"required,max=200"`
	Category     string    `json:"category" binding:"required,max=100"`
	SerialNumber string    `json:"serial_number" binding:"required,max=100"`
}

type SetEquipmentStatusRequest struct {
	Status EquipmentStatus `json:"status" binding:"required,oneof=available in_use out_of_order"`
}

type ScheduleMaintenanceRequest struct {
	Type         MaintenanceType `json:"type" binding:"required,oneof=preventive corrective calibration"`
	ScheduledFor time.Time       `json:"scheduled_for" binding:"required"`
	TechnicianID *uuid.UUID      `json:"technician_id"`
	Description  string          `json:"description" binding:"max=2000"`
}

type CompleteMaintenanceRequest struct {
	ConditionRating    int        `json:"condition_rating" binding:"required,min=1,max=5"`
	NextMaintenanceDue *time.Time `json:"next_maintenance_due"`
	ReturnToService    bool       `json:"return_to_service"`
	Cost               *float64   `json:"cost" binding:"omitempty,gte=0"`
	Notes              string     `json:"notes" binding:"max=5000"`
}

type EquipmentFilter struct {
	Status     EquipmentStatus `form:"status"`
	FacilityID *uuid.UUID      `form:"-" query:"facility_id"`
	Category   string          `form:"category"`
	DueBefore  *time.Time      `form:"due_before" time_format:"2006-01-02T15:04:05Z07:00"`
	Pagination
}

type CancelMaintenanceRequest struct {
	Reason string `json:"reason" binding:"required,max=2000"`
}

// Stamp records when the maintenance record entered status.
func (m *MaintenanceRecord) Stamp(status MaintenanceStatus, at time.Time) {
	t := &at
	switch status {
	case MaintenanceStatusInProgress:
		m.StartedAt = t
	case MaintenanceStatusCompleted:
		m.CompletedAt = t
	case MaintenanceStatusCancelled:
		m.CancelledAt = t
	}
}
