package equipment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

type Deps struct {
	Tx          repository.Transactor
	Equipment   repository.EquipmentRepository
	Maintenance repository.MaintenanceRepository
	Refs        repository.ReferenceChecker
	Guard       *authz.Guard
	Auditor     *audit.Service
	Notifier    notification.Service
	Metrics     *metrics.Metrics
	Logger      *logger.Logger
	Now         func() time.Time
}

type Service struct {
	Deps
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
	return &Service{Deps: d}
}

func equipmentResource(e *model.Equipment) authz.Resource {
	return authz.Resource{Kind: model.AuditEntityEquipment, ID: e.ID, Facilities: []uuid.UUID{e.FacilityID}}
}

func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateEquipmentRequest) (*model.Equipment, error) {
	res := authz.Resource{Kind: model.AuditEntityEquipment, Facilities: []uuid.UUID{req.FacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.EquipmentManage, res); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.SerialNumber) == "" {
		return nil, errors.Validation("name and serial_number are required")
	}
	ok, err := s.Refs.FacilityExists(ctx, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to check facility: %w", err)
	}
	if !ok {
		return nil, errors.Validation("facility %s does not exist", req.FacilityID)
	}

	e := &model.Equipment{
		ID:           uuid.New(),
		FacilityID:   req.FacilityID,
		Name:         strings.TrimSpace(req.Name),
		Category:     req.Category,
		SerialNumber: strings.TrimSpace(req.SerialNumber),
		Status:       model.EquipmentStatusAvailable,
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Equipment.Create(ctx, e); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityEquipment, e.ID, &audit.LogOptions{
			NewStatus:  string(e.Status),
			FacilityID: &e.FacilityID,
			Metadata:   map[string]interface{}{"serial_number": e.SerialNumber},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create equipment: %w", err)
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Equipment, error) {
	e, err := s.Equipment.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.EquipmentRead, equipmentResource(e)); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.EquipmentFilter) ([]*model.Equipment, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.EquipmentRead, model.AuditEntityEquipment)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		filter.FacilityID = scope
	}
	return s.Equipment.List(ctx, filter)
}

// MaintenanceHistory lists an item's maintenance records, latest first.
func (s *Service) MaintenanceHistory(ctx context.Context, caller authz.Caller, equipmentID uuid.UUID) ([]*model.MaintenanceRecord, error) {
	if _, err := s.Get(ctx, caller, equipmentID); err != nil {
		return nil, err
	}
	return s.Maintenance.ListByEquipment(ctx, equipmentID)
}

// SetStatus moves equipment between the operational statuses. Maintenance
// status is owned by the maintenance records.
func (s *Service) SetStatus(ctx context.Context, caller authz.Caller, id uuid.UUID, status model.EquipmentStatus) (*model.Equipment, error) {
	switch status {
	case model.EquipmentStatusAvailable, model.EquipmentStatusInUse, model.EquipmentStatusOutOfOrder:
	default:
		return nil, errors.Validation("status must be available, in_use or out_of_order")
	}
	pre, err := s.Equipment.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.EquipmentManage, equipmentResource(pre)); err != nil {
		return nil, err
	}

	var updated *model.Equipment
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.Equipment.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if e.Status == model.EquipmentStatusUnderMaintenance {
			return errors.InvalidTransition(model.AuditEntityEquipment, "set_status", string(e.Status))
		}
		old := e.Status
		e.Status = status
		if err := s.Equipment.Update(ctx, e); err != nil {
			return err
		}
		updated = e
		return s.Auditor.Log(ctx, caller, "set_status", model.AuditEntityEquipment, e.ID, &audit.LogOptions{
			OldStatus:  string(old),
			NewStatus:  string(status),
			FacilityID: &e.FacilityID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set equipment status: %w", err)
	}
	return updated, nil
}

// Decommission deletes equipment with no scheduled or running maintenance.
func (s *Service) Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error {
	pre, err := s.Equipment.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Guard.Check(ctx, caller, authz.EquipmentManage, equipmentResource(pre)); err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.Equipment.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		active, err := s.Maintenance.ActiveForEquipment(ctx, id)
		if err != nil {
			return err
		}
		if active != nil {
			return errors.InvalidTransition(model.AuditEntityEquipment, model.AuditActionDelete, string(e.Status))
		}
		if err := s.Equipment.Delete(ctx, id); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionDelete, model.AuditEntityEquipment, id, &audit.LogOptions{
			OldStatus:  string(e.Status),
			FacilityID: &e.FacilityID,
			Metadata:   map[string]interface{}{"serial_number": e.SerialNumber},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to decommission equipment: %w", err)
	}
	return nil
}
