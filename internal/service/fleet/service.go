package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/validator"
)

type Deps struct {
	Tx         repository.Transactor
	Ambulances repository.AmbulanceRepository
	Dispatches repository.DispatchRepository
	Refs       repository.ReferenceChecker
	Guard      *authz.Guard
	Auditor    *audit.Service
	Logger     *logger.Logger
	Now        func() time.Time
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
	return &Service{Deps: d, validate: validator.New()}
}

func ambulanceResource(a *model.Ambulance) authz.Resource {
	return authz.Resource{Kind: model.AuditEntityAmbulance, ID: a.ID, Facilities: []uuid.UUID{a.FacilityID}}
}

func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateAmbulanceRequest) (*model.Ambulance, error) {
	res := authz.Resource{Kind: model.AuditEntityAmbulance, Facilities: []uuid.UUID{req.FacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.FleetManage, res); err != nil {
		return nil, err
	}
	if req.CallSign == "" || req.RegistrationPlate == "" {
		return nil, errors.Validation("call_sign and registration_plate are required")
	}
	ok, err := s.Refs.FacilityExists(ctx, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to check facility: %w", err)
	}
	if !ok {
		return nil, errors.Validation("facility %s does not exist", req.FacilityID)
	}

	amb := &model.Ambulance{
		ID:                uuid.New(),
		FacilityID:        req.FacilityID,
		CallSign:          req.CallSign,
		RegistrationPlate: req.RegistrationPlate,
		Type:              req.Type,
		Status:            model.AmbulanceStatusAvailable,
	}
	if req.Location != nil {
		if err := s.validate.Validate(req.Location); err != nil {
			return nil, err
		}
		lat, lng, now := req.Location.Latitude, req.Location.Longitude, s.Now()
		amb.Latitude, amb.Longitude, amb.LocationUpdatedAt = &lat, &lng, &now
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Ambulances.Create(ctx, amb); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityAmbulance, amb.ID, &audit.LogOptions{
			NewStatus:  string(amb.Status),
			FacilityID: &amb.FacilityID,
			Metadata:   map[string]interface{}{"call_sign": amb.CallSign},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ambulance: %w", err)
	}
	return amb, nil
}

func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Ambulance, error) {
	a, err := s.Ambulances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.FleetRead, ambulanceResource(a)); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.AmbulanceFilter) ([]*model.Ambulance, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.FleetRead, model.AuditEntityAmbulance)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		filter.FacilityID = scope
	}
	return s.Ambulances.List(ctx, filter)
}

// SetStatus takes an idle ambulance in or out of service. Dispatched and
// on-trip statuses belong to the dispatch lifecycle and cannot be set here.
func (s *Service) SetStatus(ctx context.Context, caller authz.Caller, id uuid.UUID, status model.AmbulanceStatus) (*model.Ambulance, error) {
	switch status {
	case model.AmbulanceStatusAvailable, model.AmbulanceStatusMaintenance, model.AmbulanceStatusOutOfService:
	default:
		return nil, errors.Validation("status must be available, maintenance or out_of_service")
	}
	pre, err := s.Ambulances.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.FleetManage, ambulanceResource(pre)); err != nil {
		return nil, err
	}

	var updated *model.Ambulance
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		amb, err := s.lockIdle(ctx, id, "set_status")
		if err != nil {
			return err
		}
		old := amb.Status
		amb.Status = status
		if err := s.Ambulances.Update(ctx, amb); err != nil {
			return err
		}
		updated = amb
		return s.Auditor.Log(ctx, caller, "set_status", model.AuditEntityAmbulance, amb.ID, &audit.LogOptions{
			OldStatus:  string(old),
			NewStatus:  string(status),
			FacilityID: &amb.FacilityID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set ambulance status: %w", err)
	}
	return updated, nil
}

// Decommission deletes an ambulance that has no active dispatch.
func (s *Service) Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error {
	pre, err := s.Ambulances.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Guard.Check(ctx, caller, authz.FleetManage, ambulanceResource(pre)); err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		amb, err := s.lockIdle(ctx, id, model.AuditActionDelete)
		if err != nil {
			return err
		}
		if err := s.Ambulances.Delete(ctx, id); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionDelete, model.AuditEntityAmbulance, id, &audit.LogOptions{
			OldStatus:  string(amb.Status),
			FacilityID: &amb.FacilityID,
			Metadata:   map[string]interface{}{"call_sign": amb.CallSign},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to decommission ambulance: %w", err)
	}
	return nil
}

func (s *Service) lockIdle(ctx context.Context, id uuid.UUID, action string) (*model.Ambulance, error) {
	amb, err := s.Ambulances.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	active, err := s.Dispatches.ActiveForAmbulance(ctx, id)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.InvalidTransition(model.AuditEntityAmbulance, action, string(amb.Status))
	}
	return amb, nil
}

// UpdatePosition stores a position report for an ambulance, e.g. from telemetry
// while it is idle. Reports for active dispatches go through the dispatch service.
func (s *Service) UpdatePosition(ctx context.Context, caller authz.Caller, id uuid.UUID, pos *model.PositionUpdate) error {
	if err := s.validate.Validate(pos); err != nil {
		return err
	}
	amb, err := s.Ambulances.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Guard.Check(ctx, caller, authz.DispatchUpdate, ambulanceResource(amb)); err != nil {
		return err
	}
	if pos.RecordedAt.IsZero() {
		pos.RecordedAt = s.Now()
	}
	if err := s.Ambulances.UpdatePosition(ctx, id, pos); err != nil {
		return fmt.Errorf("failed to update ambulance position: %w", err)
	}
	return nil
}
