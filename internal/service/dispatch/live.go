package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/livecache"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

const (
	SourceGPS       = "gps"
	SourceAmbulance = "ambulance"
)

// UpdateLocation records a position report for an active dispatch: the
// ambulance row and the live route progress entry.
func (s *Service) UpdateLocation(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.LocationUpdateRequest) (*model.RouteProgress, error) {
	pos := &model.PositionUpdate{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Heading:    req.Heading,
		Speed:      req.Speed,
		RecordedAt: s.Now(),
	}
	if err := s.validate.Validate(pos); err != nil {
		return nil, err
	}

	d, err := s.Dispatches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.DispatchUpdate, dispatchResource(d)); err != nil {
		return nil, err
	}
	if model.DispatchLifecycle.IsTerminal(d.Status) {
		return nil, errors.InvalidTransition(model.AuditEntityDispatch, "update_location", string(d.Status))
	}

	if err := s.Ambulances.UpdatePosition(ctx, d.AmbulanceID, pos); err != nil {
		return nil, fmt.Errorf("failed to update ambulance position: %w", err)
	}

	progress := &model.RouteProgress{
		DispatchID:  d.ID,
		AmbulanceID: d.AmbulanceID,
		Status:      d.Status,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Heading:     pos.Heading,
		Speed:       pos.Speed,
		Source:      SourceGPS,
		UpdatedAt:   pos.RecordedAt,
	}
	s.estimateRemaining(ctx, d, progress)

	if s.Live != nil {
		if err := livecache.SetJSON(ctx, s.Live, progressKey(d.ID), progress, s.ProgressTTL); err != nil {
			s.Logger.Warn(err, "Failed to store route progress", "dispatch_id", d.ID.String())
		}
	}
	return progress, nil
}

// estimateRemaining fills the remaining distance to the current leg's target.
func (s *Service) estimateRemaining(ctx context.Context, d *model.Dispatch, p *model.RouteProgress) {
	if s.Routes == nil {
		return
	}
	target := d.Pickup()
	switch d.Status {
	case model.DispatchStatusPatientLoaded, model.DispatchStatusEnRouteDestination:
		target = d.Destination()
	case model.DispatchStatusAtDestination, model.DispatchStatusPatientDelivered:
		return
	}

	here := model.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
	est, err := s.Routes.EstimateRoute(ctx, here, target)
	if err != nil {
		s.Logger.Warn(err, "Remaining route estimate unavailable", "dispatch_id", d.ID.String())
		return
	}
	p.RemainingKM = &est.DistanceKM
	p.RemainingMin = &est.DurationMin
}

// Progress serves the live entry, falling back to the ambulance's last stored
// position when the entry is missing or the cache is down.
func (s *Service) Progress(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.RouteProgress, error) {
	d, err := s.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if s.Live != nil {
		var p model.RouteProgress
		err := livecache.GetJSON(ctx, s.Live, progressKey(id), &p)
		if err == nil {
			return &p, nil
		}
		if !stderrors.Is(err, livecache.ErrMiss) {
			s.Logger.Warn(err, "Live cache read failed", "dispatch_id", id.String())
		}
	}

	amb, err := s.Ambulances.Get(ctx, d.AmbulanceID)
	if err != nil {
		return nil, err
	}
	pos, ok := amb.Position()
	if !ok {
		return nil, errors.NotFound("route progress", nil)
	}

	p := &model.RouteProgress{
		DispatchID:  d.ID,
		AmbulanceID: amb.ID,
		Status:      d.Status,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Heading:     amb.Heading,
		Speed:       amb.Speed,
		Source:      SourceAmbulance,
		UpdatedAt:   amb.UpdatedAt,
	}
	if amb.LocationUpdatedAt != nil {
		p.UpdatedAt = *amb.LocationUpdatedAt
	}
	return p, nil
}

// SuggestAmbulances ranks available ambulances by the provider's ETA to pickup.
// Ambulances without a known position are skipped.
func (s *Service) SuggestAmbulances(ctx context.Context, caller authz.Caller, pickup model.GeoPoint, facilityID *uuid.UUID, limit int) ([]*model.AmbulanceSuggestion, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.FleetRead, model.AuditEntityAmbulance)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		facilityID = scope
	}
	if err := s.validate.Validate(pickup); err != nil {
		return nil, err
	}
	if s.Routes == nil {
		return nil, errors.Dependency("routing provider", fmt.Errorf("not configured"))
	}
	if limit <= 0 || limit > s.SuggestionLimit {
		limit = s.SuggestionLimit
	}

	ambulances, _, err := s.Ambulances.List(ctx, &model.AmbulanceFilter{
		Status:     model.AmbulanceStatusAvailable,
		FacilityID: facilityID,
		Pagination: model.Pagination{Page: 1, PageSize: model.MaxPageSize},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ambulances: %w", err)
	}

	var (
		suggestions []*model.AmbulanceSuggestion
		lastErr     error
	)
	for _, amb := range ambulances {
		pos, ok := amb.Position()
		if !ok {
			continue
		}
		est, err := s.Routes.EstimateRoute(ctx, pos, pickup)
		if err != nil {
			lastErr = err
			continue
		}
		suggestions = append(suggestions, &model.AmbulanceSuggestion{
			Ambulance:   amb,
			DistanceKM:  est.DistanceKM,
			DurationMin: est.DurationMin,
		})
	}
	if len(suggestions) == 0 && lastErr != nil {
		return nil, lastErr
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].DurationMin < suggestions[j].DurationMin
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}
