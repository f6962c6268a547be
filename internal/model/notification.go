package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelSMS      NotificationChannel = "sms"
	ChannelInApp    NotificationChannel = "in_app"
)

// Notification events
const (
	EventReferralCreated    = "referral.created"
	EventReferralAccepted   = "referral.accepted"
	EventReferralRejected   = "referral.rejected"
	EventReferralInTransit  = "referral.in_transit"
	EventReferralArrived    = "referral.arrived"
	EventReferralCompleted  = "referral.completed"
	EventReferralCancelled  = "referral.cancelled"
	EventDispatchCreated    = "dispatch.created"
	EventDispatchAck        = "dispatch.acknowledged"
	EventDispatchAtPickup   = "dispatch.at_pickup"
	EventDispatchDelivered  = "dispatch.patient_delivered"
	EventDispatchCompleted  = "dispatch.completed"
	EventDispatchCancelled  = "dispatch.cancelled"
	EventAppointmentBooked  = "appointment.scheduled"
	EventAppointmentMoved   = "appointment.rescheduled"
	EventAppointmentCancel  = "appointment.cancelled"
	EventMaintenanceStarted = "maintenance.started"
	EventMaintenanceDone    = "maintenance.completed"
)

// Recipient is one delivery target. Facility recipients are fanned out to the
// facility's on-call contacts by the relay.
type Recipient struct {
	Channel    NotificationChannel `json:"channel"`
	Address    string              `json:"address,omitempty"`
	UserID     *uuid.UUID          `json:"user_id,omitempty"`
	FacilityID *uuid.UUID          `json:"facility_id,omitempty"`
}

// Notification is the outbox payload for a lifecycle event.
type Notification struct {
	Event      string      `json:"event"`
	EntityType string      `json:"entity_type"`
	EntityID   uuid.UUID   `json:"entity_id"`
	Subject    string      `json:"subject"`
	Body       string      `json:"body"`
	Recipients []Recipient `json:"recipients"`
	Data       JSONMap     `json:"data,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Contact is a facility notification contact.
type Contact struct {
	FacilityID uuid.UUID           `db:"facility_id" json:"facility_id"`
	UserID     *uuid.UUID          `db:"user_id" json:"user_id,omitempty"`
	Channel    NotificationChannel `db:"channel" json:"channel"`
	Address    string              `db:"address" json:"address"`
}
