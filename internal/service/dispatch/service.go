package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/livecache"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/routing"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
	"github.com/jwalitptl/referral-api/pkg/validator"
)

const (
	defaultProgressTTL     = 10 * time.Minute
	defaultSuggestionLimit = 5
)

// ReferralTracker moves a dispatch's referral along with it.
type ReferralTracker interface {
	AdvanceForDispatch(ctx context.Context, caller authz.Caller, referralID, dispatchID uuid.UUID, status model.DispatchStatus) (*model.Referral, bool, error)
	Announce(ctx context.Context, r *model.Referral)
}

type Deps struct {
	Tx         repository.Transactor
	Dispatches repository.DispatchRepository
	Ambulances repository.AmbulanceRepository
	Referrals  repository.ReferralRepository
	Tracker    ReferralTracker
	Routes     routing.Estimator
	Live       livecache.Store
	Guard      *authz.Guard
	Auditor    *audit.Service
	Notifier   notification.Service
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	// ProgressTTL bounds how long a live position is served after the last update.
	ProgressTTL     time.Duration
	SuggestionLimit int
	Now             func() time.Time
}

type Service struct {
	Deps
	validate validator.Validator
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = notification.Nop{}
	}
	if d.ProgressTTL <= 0 {
		d.ProgressTTL = defaultProgressTTL
	}
	if d.SuggestionLimit <= 0 {
		d.SuggestionLimit = defaultSuggestionLimit
	}
	return &Service{Deps: d, validate: validator.New()}
}

func dispatchResource(d *model.Dispatch) authz.Resource {
	return authz.Resource{Kind: model.AuditEntityDispatch, ID: d.ID, Facilities: []uuid.UUID{d.FacilityID}}
}

func progressKey(id uuid.UUID) string {
	return "dispatch:" + id.String() + ":progress"
}

func validPriority(p model.DispatchPriority) bool {
	switch p {
	case model.DispatchPriorityEmergency, model.DispatchPriorityUrgent, model.DispatchPriorityRoutine:
		return true
	}
	return false
}

// Create assigns an available ambulance. The ambulance is marked dispatched in
// the same transaction; the route estimate is requested after commit.
func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateDispatchRequest) (*model.Dispatch, error) {
	if !validPriority(req.Priority) {
		return nil, errors.Validation("invalid priority %q", req.Priority)
	}
	if err := s.validate.Validate(req.Pickup); err != nil {
		return nil, err
	}
	if err := s.validate.Validate(req.Destination); err != nil {
		return nil, err
	}

	pre, err := s.Ambulances.Get(ctx, req.AmbulanceID)
	if err != nil {
		return nil, err
	}
	res := authz.Resource{Kind: model.AuditEntityDispatch, Facilities: []uuid.UUID{pre.FacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.DispatchCreate, res); err != nil {
		return nil, err
	}

	now := s.Now()
	d := &model.Dispatch{
		ID:                   uuid.New(),
		AmbulanceID:          req.AmbulanceID,
		ReferralID:           req.ReferralID,
		DispatcherID:         caller.UserID,
		FacilityID:           pre.FacilityID,
		PickupLatitude:       req.Pickup.Latitude,
		PickupLongitude:      req.Pickup.Longitude,
		PickupAddress:        req.PickupAddress,
		DestinationLatitude:  req.Destination.Latitude,
		DestinationLongitude: req.Destination.Longitude,
		DestinationAddress:   req.DestinationAddress,
		Priority:             req.Priority,
		Status:               model.DispatchStatusDispatched,
		Notes:                model.StringPtr(req.Notes),
		DispatchedAt:         now,
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		amb, err := s.Ambulances.GetForUpdate(ctx, req.AmbulanceID)
		if err != nil {
			return err
		}
		if amb.Status != model.AmbulanceStatusAvailable {
			return errors.InvalidTransition(model.AuditEntityAmbulance, "dispatch", string(amb.Status))
		}
		active, err := s.Dispatches.ActiveForAmbulance(ctx, amb.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return errors.InvalidTransition(model.AuditEntityAmbulance, "dispatch", string(active.Status))
		}

		if req.ReferralID != nil {
			r, err := s.Referrals.GetForUpdate(ctx, *req.ReferralID)
			if err != nil {
				return err
			}
			if r.Status != model.ReferralStatusAccepted {
				return errors.InvalidTransition(model.AuditEntityReferral, "dispatch", string(r.Status))
			}
		}

		if err := s.Dispatches.Create(ctx, d); err != nil {
			return err
		}
		err = s.Dispatches.AddStatusUpdate(ctx, &model.DispatchStatusUpdate{
			ID:         uuid.New(),
			DispatchID: d.ID,
			NewStatus:  d.Status,
			ActorID:    caller.UserID,
			Latitude:   amb.Latitude,
			Longitude:  amb.Longitude,
			Notes:      d.Notes,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}

		amb.Status = model.AmbulanceStatusDispatched
		amb.CurrentDispatchID = model.UUIDPtr(d.ID)
		if err := s.Ambulances.Update(ctx, amb); err != nil {
			return err
		}

		metadata := map[string]interface{}{
			"ambulance_id": amb.ID.String(),
			"priority":     string(d.Priority),
		}
		if d.ReferralID != nil {
			metadata["referral_id"] = d.ReferralID.String()
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityDispatch, d.ID, &audit.LogOptions{
			NewStatus:  string(d.Status),
			FacilityID: &d.FacilityID,
			Metadata:   metadata,
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityDispatch, model.AuditActionCreate, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch: %w", err)
	}

	s.attachEstimate(ctx, d)
	s.announce(ctx, d)
	return d, nil
}

// attachEstimate stores the provider's pickup-to-destination estimate. Failures
// are logged; the dispatch stands without an estimate.
func (s *Service) attachEstimate(ctx context.Context, d *model.Dispatch) {
	if s.Routes == nil {
		return
	}
	est, err := s.Routes.EstimateRoute(ctx, d.Pickup(), d.Destination())
	if err != nil {
		s.Logger.Warn(err, "Route estimate unavailable", "dispatch_id", d.ID.String())
		return
	}
	if err := s.Dispatches.SetEstimate(ctx, d.ID, est.DistanceKM, est.DurationMin); err != nil {
		s.Logger.Warn(err, "Failed to store route estimate", "dispatch_id", d.ID.String())
		return
	}
	d.EstimatedDistanceKM = &est.DistanceKM
	d.EstimatedDurationMin = &est.DurationMin
}

func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Dispatch, error) {
	d, err := s.Dispatches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.DispatchRead, dispatchResource(d)); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.DispatchFilter) ([]*model.Dispatch, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.DispatchRead, model.AuditEntityDispatch)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		filter.FacilityID = scope
	}
	return s.Dispatches.List(ctx, filter)
}

// History returns the dispatch's status updates, oldest first.
func (s *Service) History(ctx context.Context, caller authz.Caller, id uuid.UUID) ([]*model.DispatchStatusUpdate, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.Dispatches.History(ctx, id)
}
