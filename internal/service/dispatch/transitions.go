package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

func (s *Service) Acknowledge(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionAcknowledge, req)
}

func (s *Service) StartEnRouteToPickup(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionEnRoutePickup, req)
}

func (s *Service) ArriveAtPickup(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionArriveAtPickup, req)
}

func (s *Service) LoadPatient(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionLoadPatient, req)
}

func (s *Service) StartEnRouteToDestination(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionEnRouteDestination, req)
}

func (s *Service) ArriveAtDestination(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.TransitionRequest) (*model.Dispatch, error) {
	return s.forward(ctx, caller, id, model.DispatchActionArriveAtDestination, req)
}

func (s *Service) forward(ctx context.Context, caller authz.Caller, id uuid.UUID, action string, req *model.TransitionRequest) (*model.Dispatch, error) {
	if req == nil {
		req = &model.TransitionRequest{}
	}
	return s.transition(ctx, caller, id, step{
		action:     action,
		capability: authz.DispatchUpdate,
		location:   req.Location,
		notes:      req.Notes,
	})
}

func (s *Service) DeliverPatient(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.DeliverPatientRequest) (*model.Dispatch, error) {
	return s.transition(ctx, caller, id, step{
		action:     model.DispatchActionDeliverPatient,
		capability: authz.DispatchUpdate,
		location:   req.Location,
		notes:      req.HandoverNotes,
		mutate: func(d *model.Dispatch) {
			d.HandoverNotes = model.StringPtr(req.HandoverNotes)
		},
	})
}

// Complete closes the trip and frees the ambulance. Distance and fuel are
// stored as reported.
func (s *Service) Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteDispatchRequest) (*model.Dispatch, error) {
	if req.DistanceKM != nil && *req.DistanceKM < 0 {
		return nil, errors.Validation("distance_km must not be negative")
	}
	if req.FuelConsumed != nil && *req.FuelConsumed < 0 {
		return nil, errors.Validation("fuel_consumed must not be negative")
	}
	return s.transition(ctx, caller, id, step{
		action:     model.DispatchActionComplete,
		capability: authz.DispatchUpdate,
		location:   req.Location,
		notes:      req.Notes,
		mutate: func(d *model.Dispatch) {
			d.DistanceKM = req.DistanceKM
			d.FuelConsumed = req.FuelConsumed
		},
		metadata: func(meta map[string]interface{}) {
			if req.DistanceKM != nil {
				meta["distance_km"] = *req.DistanceKM
			}
			if req.FuelConsumed != nil {
				meta["fuel_consumed"] = *req.FuelConsumed
			}
		},
	})
}

func (s *Service) Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CancelDispatchRequest) (*model.Dispatch, error) {
	if req.Reason == "" {
		return nil, errors.Validation("cancellation reason is required")
	}
	return s.transition(ctx, caller, id, step{
		action:     model.DispatchActionCancel,
		capability: authz.DispatchCancel,
		location:   req.Location,
		notes:      req.Reason,
		mutate: func(d *model.Dispatch) {
			d.CancellationReason = model.StringPtr(req.Reason)
		},
		metadata: func(meta map[string]interface{}) {
			meta["reason"] = req.Reason
		},
	})
}

type step struct {
	action     string
	capability authz.Capability
	location   *model.GeoPoint
	notes      string
	mutate     func(d *model.Dispatch)
	metadata   func(meta map[string]interface{})
}

// transition applies one dispatch step. The status history row, the derived
// ambulance status and the referral fan-out commit together with the dispatch.
func (s *Service) transition(ctx context.Context, caller authz.Caller, id uuid.UUID, st step) (*model.Dispatch, error) {
	if st.location != nil {
		if err := s.validate.Validate(st.location); err != nil {
			return nil, err
		}
	}
	pre, err := s.Dispatches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, st.capability, dispatchResource(pre)); err != nil {
		return nil, err
	}

	var (
		updated  *model.Dispatch
		referral *model.Referral
		advanced bool
	)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.Dispatches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		old := d.Status
		next, err := model.DispatchLifecycle.Next(st.action, old)
		if err != nil {
			return err
		}

		now := s.Now()
		d.Status = next
		d.Stamp(next, now)
		if st.mutate != nil {
			st.mutate(d)
		}
		if err := s.Dispatches.Update(ctx, d, old); err != nil {
			return err
		}

		update := &model.DispatchStatusUpdate{
			ID:         uuid.New(),
			DispatchID: d.ID,
			OldStatus:  old,
			NewStatus:  next,
			ActorID:    caller.UserID,
			Notes:      model.StringPtr(st.notes),
			CreatedAt:  now,
		}
		if st.location != nil {
			lat, lng := st.location.Latitude, st.location.Longitude
			update.Latitude, update.Longitude = &lat, &lng
		}
		if err := s.Dispatches.AddStatusUpdate(ctx, update); err != nil {
			return err
		}

		if err := s.syncAmbulance(ctx, d, st.location, now); err != nil {
			return err
		}

		if d.ReferralID != nil && s.Tracker != nil {
			referral, advanced, err = s.Tracker.AdvanceForDispatch(ctx, caller, *d.ReferralID, d.ID, next)
			if err != nil {
				return fmt.Errorf("failed to advance referral: %w", err)
			}
		}

		meta := map[string]interface{}{"ambulance_id": d.AmbulanceID.String()}
		if st.metadata != nil {
			st.metadata(meta)
		}
		updated = d
		return s.Auditor.Log(ctx, caller, st.action, model.AuditEntityDispatch, d.ID, &audit.LogOptions{
			OldStatus:  string(old),
			NewStatus:  string(next),
			FacilityID: &d.FacilityID,
			Metadata:   meta,
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityDispatch, st.action, err)
	if err != nil {
		return nil, fmt.Errorf("failed to %s dispatch: %w", st.action, err)
	}

	if model.DispatchLifecycle.IsTerminal(updated.Status) && s.Live != nil {
		if err := s.Live.Delete(ctx, progressKey(updated.ID)); err != nil {
			s.Logger.Warn(err, "Failed to clear route progress", "dispatch_id", updated.ID.String())
		}
	}
	s.announce(ctx, updated)
	if advanced {
		s.Tracker.Announce(ctx, referral)
	}
	return updated, nil
}

// syncAmbulance derives the ambulance status from the dispatch status.
func (s *Service) syncAmbulance(ctx context.Context, d *model.Dispatch, loc *model.GeoPoint, now time.Time) error {
	amb, err := s.Ambulances.GetForUpdate(ctx, d.AmbulanceID)
	if err != nil {
		return err
	}
	amb.Status = model.AmbulanceStatusFor(d.Status)
	if model.DispatchLifecycle.IsTerminal(d.Status) {
		amb.CurrentDispatchID = nil
	} else {
		amb.CurrentDispatchID = model.UUIDPtr(d.ID)
	}
	if loc != nil {
		lat, lng := loc.Latitude, loc.Longitude
		amb.Latitude, amb.Longitude = &lat, &lng
		amb.LocationUpdatedAt = &now
	}
	return s.Ambulances.Update(ctx, amb)
}
