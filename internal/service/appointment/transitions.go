package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

func (s *Service) Reschedule(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, model.AppointmentActionReschedule, authz.AppointmentManage,
		func(ctx context.Context, a *model.Appointment, meta map[string]interface{}) error {
			minutes := req.DurationMinutes
			if minutes == 0 {
				minutes = a.DurationMinutes
			}
			if err := s.validateSlot(req.ScheduledAt, minutes); err != nil {
				return err
			}
			if err := s.reserveSlot(ctx, a.DoctorID, req.ScheduledAt, minutes, &a.ID); err != nil {
				return err
			}
			meta["previous_scheduled_at"] = a.ScheduledAt.Format(time.RFC3339)
			meta["scheduled_at"] = req.ScheduledAt.UTC().Format(time.RFC3339)
			a.ScheduledAt = req.ScheduledAt.UTC()
			a.DurationMinutes = minutes
			return nil
		})
}

func (s *Service) Confirm(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, model.AppointmentActionConfirm, authz.AppointmentManage, nil)
}

func (s *Service) CheckIn(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, model.AppointmentActionCheckIn, authz.AppointmentManage, nil)
}

func (s *Service) Start(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, model.AppointmentActionStart, authz.AppointmentClinical, nil)
}

// Cancel is refused once the appointment is under way or starts within the
// configured cutoff.
func (s *Service) Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("cancellation reason is required")
	}
	return s.transition(ctx, caller, id, model.AppointmentActionCancel, authz.AppointmentManage,
		func(_ context.Context, a *model.Appointment, meta map[string]interface{}) error {
			if !a.CanBeCancelled(s.Now(), s.CancellationCutoff) {
				return errors.Validation("appointment starts within %s and can no longer be cancelled", s.CancellationCutoff)
			}
			a.CancellationReason = &reason
			meta["reason"] = reason
			return nil
		})
}

// Complete closes the visit. A requested follow-up is booked with the same
// patient, doctor and facility in the same transaction.
func (s *Service) Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteAppointmentRequest) (*model.CompletedAppointment, error) {
	if req.FollowUp != nil {
		if err := s.validateSlot(req.FollowUp.ScheduledAt, req.FollowUp.DurationMinutes); err != nil {
			return nil, err
		}
	}

	var followUp *model.Appointment
	completed, err := s.transition(ctx, caller, id, model.AppointmentActionComplete, authz.AppointmentClinical,
		func(ctx context.Context, a *model.Appointment, meta map[string]interface{}) error {
			a.ClinicalNotes = model.StringPtr(req.ClinicalNotes)
			a.Diagnosis = model.StringPtr(req.Diagnosis)
			if req.FollowUp == nil {
				return nil
			}
			followUp = &model.Appointment{
				ID:              uuid.New(),
				PatientID:       a.PatientID,
				DoctorID:        a.DoctorID,
				FacilityID:      a.FacilityID,
				ReferralID:      a.ReferralID,
				FollowUpOf:      model.UUIDPtr(a.ID),
				ScheduledAt:     req.FollowUp.ScheduledAt.UTC(),
				DurationMinutes: req.FollowUp.DurationMinutes,
				Status:          model.AppointmentStatusScheduled,
				Priority:        a.Priority,
				Reason:          strings.TrimSpace(req.FollowUp.Reason),
				CreatedBy:       caller.UserID,
			}
			meta["follow_up_id"] = followUp.ID.String()
			return s.book(ctx, caller, followUp, map[string]interface{}{"follow_up_of": a.ID.String()})
		})
	if err != nil {
		return nil, err
	}
	if followUp != nil {
		s.announce(ctx, followUp, model.EventAppointmentBooked)
	}
	return &model.CompletedAppointment{Appointment: completed, FollowUp: followUp}, nil
}

type mutation func(ctx context.Context, a *model.Appointment, meta map[string]interface{}) error

var actionEvents = map[string]string{
	model.AppointmentActionReschedule: model.EventAppointmentMoved,
	model.AppointmentActionCancel:     model.EventAppointmentCancel,
}

func (s *Service) transition(
	ctx context.Context,
	caller authz.Caller,
	id uuid.UUID,
	action string,
	capability authz.Capability,
	mutate mutation,
) (*model.Appointment, error) {
	pre, err := s.Appointments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, capability, appointmentResource(pre)); err != nil {
		return nil, err
	}

	var updated *model.Appointment
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.Appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old := a.Status
		next, err := model.AppointmentLifecycle.Next(action, old)
		if err != nil {
			return err
		}

		// mutations see the pre-transition status
		meta := map[string]interface{}{}
		if mutate != nil {
			if err := mutate(ctx, a, meta); err != nil {
				return err
			}
		}
		a.Status = next
		a.Stamp(next, s.Now())
		if err := s.Appointments.Update(ctx, a, old); err != nil {
			return err
		}

		opts := &audit.LogOptions{
			OldStatus:  string(old),
			NewStatus:  string(next),
			FacilityID: &a.FacilityID,
		}
		if len(meta) > 0 {
			opts.Metadata = meta
		}
		updated = a
		return s.Auditor.Log(ctx, caller, action, model.AuditEntityAppointment, a.ID, opts)
	})
	s.Metrics.ObserveTransition(model.AuditEntityAppointment, action, err)
	if err != nil {
		return nil, fmt.Errorf("failed to %s appointment: %w", action, err)
	}

	if event, ok := actionEvents[action]; ok {
		s.announce(ctx, updated, event)
	}
	return updated, nil
}

func (s *Service) announce(ctx context.Context, a *model.Appointment, event string) {
	label := strings.TrimPrefix(event, "appointment.")
	s.Notifier.Notify(ctx, &model.Notification{
		Event:      event,
		EntityType: model.AuditEntityAppointment,
		EntityID:   a.ID,
		Subject:    fmt.Sprintf("Appointment %s", label),
		Body: fmt.Sprintf("Appointment %s on %s (%d min) is %s.",
			a.ID, a.ScheduledAt.Format("2006-01-02 15:04 MST"), a.DurationMinutes, label),
		Recipients: []model.Recipient{
			{FacilityID: model.UUIDPtr(a.FacilityID)},
			{Channel: model.ChannelInApp, UserID: model.UUIDPtr(a.DoctorID)},
		},
		Data: model.JSONMap{
			"status":       string(a.Status),
			"patient_id":   a.PatientID.String(),
			"scheduled_at": a.ScheduledAt.Format(time.RFC3339),
		},
	})
}
