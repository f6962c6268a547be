package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/referral-api/internal/model"
)

// Statuses that notify the dispatch desk and crew.
var dispatchEvents = map[model.DispatchStatus]string{
	model.DispatchStatusDispatched:       model.EventDispatchCreated,
	model.DispatchStatusAcknowledged:     model.EventDispatchAck,
	model.DispatchStatusAtPickup:         model.EventDispatchAtPickup,
	model.DispatchStatusPatientDelivered: model.EventDispatchDelivered,
	model.DispatchStatusCompleted:        model.EventDispatchCompleted,
	model.DispatchStatusCancelled:        model.EventDispatchCancelled,
}

func (s *Service) announce(ctx context.Context, d *model.Dispatch) {
	event, ok := dispatchEvents[d.Status]
	if !ok {
		return
	}
	label := strings.ReplaceAll(string(d.Status), "_", " ")
	s.Notifier.Notify(ctx, &model.Notification{
		Event:      event,
		EntityType: model.AuditEntityDispatch,
		EntityID:   d.ID,
		Subject:    fmt.Sprintf("Dispatch %s", label),
		Body: fmt.Sprintf("%s dispatch %s: %s -> %s is now %s.",
			d.Priority, d.ID, d.PickupAddress, d.DestinationAddress, label),
		Recipients: []model.Recipient{
			{FacilityID: model.UUIDPtr(d.FacilityID)},
			{Channel: model.ChannelInApp, UserID: model.UUIDPtr(d.DispatcherID)},
		},
		Data: model.JSONMap{
			"status":       string(d.Status),
			"ambulance_id": d.AmbulanceID.String(),
			"priority":     string(d.Priority),
		},
	})
}
