package model

import (
	"time"

	"github.com/google/uuid"
)

type BedStatus string

const (
	BedStatusAvailable   BedStatus = "available"
	BedStatusOccupied    BedStatus = "occupied"
	BedStatusMaintenance BedStatus = "maintenance"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusFulfilled ReservationStatus = "fulfilled"
	ReservationStatusExpired   ReservationStatus = "expired"
)

type Bed struct {
	ID         uuid.UUID `db:"id" json:"id"`
	FacilityID uuid.UUID `db:"facility_id" json:"facility_id"`
	Ward       string    `db:"ward" json:"ward"`
	BedNumber  string    `db:"bed_number" json:"bed_number"`
	Type       string    `db:"type" json:"type"`
	Status     BedStatus `db:"status" json:"status"`
	// Reserved is derived from the active reservation, not stored.
	Reserved  bool      `db:"reserved" json:"reserved"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type BedReservation struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	BedID       uuid.UUID         `db:"bed_id" json:"bed_id"`
	PatientID   uuid.UUID         `db:"patient_id" json:"patient_id"`
	ReferralID  *uuid.UUID        `db:"referral_id" json:"referral_id,omitempty"`
	Status      ReservationStatus `db:"status" json:"status"`
	ReservedBy  uuid.UUID         `db:"reserved_by" json:"reserved_by"`
	ExpiresAt   time.Time         `db:"expires_at" json:"expires_at"`
	ReleasedAt  *time.Time        `db:"released_at" json:"released_at,omitempty"`
	FulfilledAt *time.Time        `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

type CreateBedRequest struct {
	FacilityID uuid.UUID `json:"facility_id" binding:"required"`
	Ward       string    `json:"ward" binding:"required,max=100"`
	BedNumber  string    `json:"bed_number" binding:"required,max=20"`
	Type       string    `json:"type" binding:"required,oneof=general icu hdu maternity pediatric isolation"`
}

type ReserveBedRequest struct {
	PatientID  uuid.UUID  `json:"patient_id" binding:"required"`
	ReferralID *uuid.UUID `json:"referral_id"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type BedFilter struct {
	FacilityID *uuid.UUID `form:"-" query:"facility_id"`
	Status     BedStatus  `form:"status"`
	Ward       string     `form:"ward"`
	Pagination
}
