package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
)

// AdvanceForDispatch moves the referral carried by a dispatch along with it:
// loading the patient puts it in transit, reaching the destination marks it
// arrived. Referrals that are not eligible are left alone. It must run inside
// the dispatch transaction; call Announce after commit when changed is true.
func (s *Service) AdvanceForDispatch(ctx context.Context, caller authz.Caller, referralID uuid.UUID, dispatchID uuid.UUID, status model.DispatchStatus) (r *model.Referral, changed bool, err error) {
	var action string
	switch status {
	case model.DispatchStatusPatientLoaded, model.DispatchStatusEnRouteDestination:
		action = model.ReferralActionInTransit
	case model.DispatchStatusAtDestination, model.DispatchStatusPatientDelivered:
		action = model.ReferralActionArrive
	default:
		return nil, false, nil
	}

	r, err = s.Referrals.GetForUpdate(ctx, referralID)
	if err != nil {
		return nil, false, err
	}
	if !model.ReferralLifecycle.Can(action, r.Status) {
		return r, false, nil
	}

	r, err = s.apply(ctx, caller, r, action, nil, map[string]interface{}{
		"dispatch_id":     dispatchID.String(),
		"dispatch_status": string(status),
	})
	s.Metrics.ObserveTransition(model.AuditEntityReferral, action, err)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

var referralEvents = map[model.ReferralStatus]string{
	model.ReferralStatusPending:   model.EventReferralCreated,
	model.ReferralStatusAccepted:  model.EventReferralAccepted,
	model.ReferralStatusRejected:  model.EventReferralRejected,
	model.ReferralStatusInTransit: model.EventReferralInTransit,
	model.ReferralStatusArrived:   model.EventReferralArrived,
	model.ReferralStatusCompleted: model.EventReferralCompleted,
	model.ReferralStatusCancelled: model.EventReferralCancelled,
}

// Announce enqueues the notification for the referral's current status.
func (s *Service) Announce(ctx context.Context, r *model.Referral) {
	event, ok := referralEvents[r.Status]
	if !ok {
		return
	}
	s.Notifier.Notify(ctx, &model.Notification{
		Event:      event,
		EntityType: model.AuditEntityReferral,
		EntityID:   r.ID,
		Subject:    fmt.Sprintf("Referral %s", statusLabel(r.Status)),
		Body: fmt.Sprintf("Referral %s (%s) for patient %s is now %s.",
			r.ID, r.Urgency, r.PatientID, statusLabel(r.Status)),
		Recipients: recipientsFor(r),
		Data: model.JSONMap{
			"status":                string(r.Status),
			"urgency":               string(r.Urgency),
			"referring_facility_id": r.ReferringFacilityID.String(),
			"receiving_facility_id": r.ReceivingFacilityID.String(),
		},
	})
}

// recipientsFor addresses the side of the referral that did not act.
func recipientsFor(r *model.Referral) []model.Recipient {
	referring := []model.Recipient{
		{FacilityID: model.UUIDPtr(r.ReferringFacilityID)},
		{Channel: model.ChannelInApp, UserID: model.UUIDPtr(r.ReferringDoctorID)},
	}
	receiving := []model.Recipient{{FacilityID: model.UUIDPtr(r.ReceivingFacilityID)}}
	if r.ReceivingDoctorID != nil {
		receiving = append(receiving, model.Recipient{Channel: model.ChannelInApp, UserID: r.ReceivingDoctorID})
	}

	switch r.Status {
	case model.ReferralStatusAccepted, model.ReferralStatusRejected, model.ReferralStatusCompleted:
		return referring
	default:
		return receiving
	}
}

func statusLabel(s model.ReferralStatus) string {
	if s == model.ReferralStatusPending {
		return "created"
	}
	if s == model.ReferralStatusInTransit {
		return "in transit"
	}
	return string(s)
}
