package equipment

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

const actionScheduleMaintenance = "schedule_maintenance"

// ScheduleMaintenance books a maintenance record. The equipment keeps its
// status until the work starts.
func (s *Service) ScheduleMaintenance(ctx context.Context, caller authz.Caller, equipmentID uuid.UUID, req *model.ScheduleMaintenanceRequest) (*model.MaintenanceRecord, error) {
	switch req.Type {
	case model.MaintenanceTypePreventive, model.MaintenanceTypeCorrective, model.MaintenanceTypeCalibration:
	default:
		return nil, errors.Validation("invalid maintenance type %q", req.Type)
	}
	if req.ScheduledFor.IsZero() {
		return nil, errors.Validation("scheduled_for is required")
	}
	pre, err := s.Equipment.Get(ctx, equipmentID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.MaintenanceManage, equipmentResource(pre)); err != nil {
		return nil, err
	}

	record := &model.MaintenanceRecord{
		ID:           uuid.New(),
		EquipmentID:  equipmentID,
		Type:         req.Type,
		Status:       model.MaintenanceStatusScheduled,
		ScheduledFor: req.ScheduledFor.UTC(),
		TechnicianID: req.TechnicianID,
		Description:  strings.TrimSpace(req.Description),
		CreatedBy:    caller.UserID,
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		e, err := s.Equipment.GetForUpdate(ctx, equipmentID)
		if err != nil {
			return err
		}
		active, err := s.Maintenance.ActiveForEquipment(ctx, equipmentID)
		if err != nil {
			return err
		}
		if active != nil {
			return errors.InvalidTransition(model.AuditEntityMaintenance, actionScheduleMaintenance, string(active.Status))
		}
		if err := s.Maintenance.Create(ctx, record); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityMaintenance, record.ID, &audit.LogOptions{
			NewStatus:  string(record.Status),
			FacilityID: &e.FacilityID,
			Metadata: map[string]interface{}{
				"equipment_id":  equipmentID.String(),
				"type":          string(record.Type),
				"scheduled_for": record.ScheduledFor.Format(time.RFC3339),
			},
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityMaintenance, actionScheduleMaintenance, err)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	return record, nil
}

// StartMaintenance puts the equipment under maintenance.
func (s *Service) StartMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.MaintenanceRecord, error) {
	return s.transition(ctx, caller, id, model.MaintenanceActionStart,
		func(_ context.Context, _ *model.MaintenanceRecord, e *model.Equipment, _ map[string]interface{}) error {
			e.Status = model.EquipmentStatusUnderMaintenance
			return nil
		})
}

// CompleteMaintenance closes running work. Equipment not returned to service
// is left out of order.
func (s *Service) CompleteMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteMaintenanceRequest) (*model.MaintenanceRecord, error) {
	if req.ConditionRating < 1 || req.ConditionRating > 5 {
		return nil, errors.Validation("condition_rating must be between 1 and 5")
	}
	if req.Cost != nil && *req.Cost < 0 {
		return nil, errors.Validation("cost must not be negative")
	}
	if req.NextMaintenanceDue != nil && !req.NextMaintenanceDue.After(s.Now()) {
		return nil, errors.Validation("next_maintenance_due must be in the future")
	}

	return s.transition(ctx, caller, id, model.MaintenanceActionComplete,
		func(_ context.Context, m *model.MaintenanceRecord, e *model.Equipment, meta map[string]interface{}) error {
			rating := req.ConditionRating
			m.ConditionRating = &rating
			m.Cost = req.Cost
			m.Notes = model.StringPtr(req.Notes)

			e.ConditionRating = &rating
			e.LastMaintenance = m.CompletedAt
			if req.NextMaintenanceDue != nil {
				due := req.NextMaintenanceDue.UTC()
				e.NextMaintenanceDue = &due
			}
			e.Status = model.EquipmentStatusOutOfOrder
			if req.ReturnToService {
				e.Status = model.EquipmentStatusAvailable
			}
			meta["condition_rating"] = rating
			meta["return_to_service"] = req.ReturnToService
			return nil
		})
}

// CancelMaintenance drops scheduled or running work. Equipment that was under
// maintenance becomes available again.
func (s *Service) CancelMaintenance(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.MaintenanceRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("cancellation reason is required")
	}
	return s.transition(ctx, caller, id, model.MaintenanceActionCancel,
		func(_ context.Context, m *model.MaintenanceRecord, e *model.Equipment, meta map[string]interface{}) error {
			m.CancellationReason = &reason
			meta["reason"] = reason
			if e.Status == model.EquipmentStatusUnderMaintenance {
				e.Status = model.EquipmentStatusAvailable
			}
			return nil
		})
}

type mutation func(ctx context.Context, m *model.MaintenanceRecord, e *model.Equipment, meta map[string]interface{}) error

var maintenanceEvents = map[model.MaintenanceStatus]string{
	model.MaintenanceStatusInProgress: model.EventMaintenanceStarted,
	model.MaintenanceStatusCompleted:  model.EventMaintenanceDone,
}

// transition moves a maintenance record and its equipment together under
// both row locks.
func (s *Service) transition(ctx context.Context, caller authz.Caller, id uuid.UUID, action string, mutate mutation) (*model.MaintenanceRecord, error) {
	pre, err := s.Maintenance.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.Equipment.Get(ctx, pre.EquipmentID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.MaintenanceManage, equipmentResource(owner)); err != nil {
		return nil, err
	}

	var (
		updated   *model.MaintenanceRecord
		equipment *model.Equipment
	)
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		m, err := s.Maintenance.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		e, err := s.Equipment.GetForUpdate(ctx, m.EquipmentID)
		if err != nil {
			return err
		}
		old := m.Status
		next, err := model.MaintenanceLifecycle.Next(action, old)
		if err != nil {
			return err
		}

		meta := map[string]interface{}{"equipment_id": e.ID.String()}
		oldEquipment := e.Status
		m.Status = next
		m.Stamp(next, s.Now())
		if err := mutate(ctx, m, e, meta); err != nil {
			return err
		}
		if err := s.Maintenance.Update(ctx, m, old); err != nil {
			return err
		}
		if e.Status != oldEquipment || action == model.MaintenanceActionComplete {
			if err := s.Equipment.Update(ctx, e); err != nil {
				return err
			}
			meta["equipment_status"] = string(e.Status)
		}
		updated, equipment = m, e
		return s.Auditor.Log(ctx, caller, action, model.AuditEntityMaintenance, m.ID, &audit.LogOptions{
			OldStatus:  string(old),
			NewStatus:  string(next),
			FacilityID: &e.FacilityID,
			Metadata:   meta,
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityMaintenance, action, err)
	if err != nil {
		return nil, fmt.Errorf("failed to %s maintenance: %w", action, err)
	}

	s.announce(ctx, updated, equipment)
	return updated, nil
}

func (s *Service) announce(ctx context.Context, m *model.MaintenanceRecord, e *model.Equipment) {
	event, ok := maintenanceEvents[m.Status]
	if !ok {
		return
	}
	label := strings.ReplaceAll(string(m.Status), "_", " ")
	s.Notifier.Notify(ctx, &model.Notification{
		Event:      event,
		EntityType: model.AuditEntityMaintenance,
		EntityID:   m.ID,
		Subject:    fmt.Sprintf("Maintenance %s: %s", label, e.Name),
		Body: fmt.Sprintf("%s maintenance on %s (%s) is %s. Equipment is %s.",
			m.Type, e.Name, e.SerialNumber, label, e.Status),
		Recipients: []model.Recipient{{FacilityID: model.UUIDPtr(e.FacilityID)}},
		Data: model.JSONMap{
			"equipment_id":     e.ID.String(),
			"equipment_status": string(e.Status),
		},
	})
}
