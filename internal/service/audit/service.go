package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

type Service struct {
	repo   repository.AuditRepository
	logger *logger.Logger
}

func NewService(repo repository.AuditRepository, logger *logger.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

type LogOptions struct {
	OldStatus  string
	NewStatus  string
	FacilityID *uuid.UUID
	Metadata   map[string]interface{}
}

// Log appends one audit entry. Inside a transaction the entry commits or rolls
// back with the transition it describes.
func (s *Service) Log(ctx context.Context, caller authz.Caller, action, entityType string, entityID uuid.UUID, opts *LogOptions) error {
	if opts == nil {
		opts = &LogOptions{}
	}
	facility := opts.FacilityID
	if facility == nil {
		facility = caller.FacilityID
	}

	entry := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    caller.UserID,
		ActorRole:  string(caller.Role),
		FacilityID: facility,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldStatus:  model.StringPtr(opts.OldStatus),
		NewStatus:  model.StringPtr(opts.NewStatus),
		Metadata:   opts.Metadata,
		IPAddress:  caller.IPAddress,
		RequestID:  caller.RequestID,
		CreatedAt:  time.Now().UTC(),
	}
	return s.repo.Create(ctx, entry)
}

// RecordDenial writes a security event for a refused action. Failures are logged only.
func (s *Service) RecordDenial(ctx context.Context, caller authz.Caller, action authz.Capability, res authz.Resource) {
	entry := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    caller.UserID,
		ActorRole:  string(caller.Role),
		FacilityID: caller.FacilityID,
		Action:     model.AuditActionPermissionDenied,
		EntityType: res.Kind,
		EntityID:   res.ID,
		Metadata:   model.JSONMap{"capability": string(action)},
		IPAddress:  caller.IPAddress,
		RequestID:  caller.RequestID,
		Security:   true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error(err, "Failed to record permission denial",
			"actor_id", caller.UserID.String(),
			"capability", string(action),
			"entity_type", res.Kind)
	}
}

// List returns audit entries. Non-admin callers only see their own facility.
func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.AuditFilter) ([]*model.AuditLog, int, error) {
	if !caller.Capabilities.Has(authz.AuditRead) {
		s.RecordDenial(ctx, caller, authz.AuditRead, authz.Resource{Kind: "audit_log"})
		return nil, 0, errors.PermissionDenied(string(authz.AuditRead), "audit_log")
	}
	if !caller.IsAdmin() {
		if caller.FacilityID == nil {
			return nil, 0, errors.PermissionDenied(string(authz.AuditRead), "audit_log")
		}
		filter.FacilityID = caller.FacilityID
	}
	return s.repo.List(ctx, filter)
}

// Cleanup removes entries older than before.
func (s *Service) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	return s.repo.DeleteBefore(ctx, before)
}
