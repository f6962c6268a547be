package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const auditColumns = `id, actor_id, actor_role, facility_id, action, entity_type, entity_id, old_status,
	new_status, metadata, ip_address, request_id, security, created_at`

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(db *sqlx.DB) repository.AuditRepository {
	return &auditRepository{NewBaseRepository(db)}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, actor_role, facility_id, action, entity_type, entity_id,
			old_status, new_status, metadata, ip_address, request_id, security, created_at
		) VALUES (
			:id, :actor_id, :actor_role, :facility_id, :action, :entity_type, :entity_id,
			:old_status, :new_status, :metadata, :ip_address, :request_id, :security, :created_at
		)
	`
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	if _, err := r.q(ctx).NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("failed to create audit log: %w", classify("audit log", err))
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter *model.AuditFilter) ([]*model.AuditLog, int, error) {
	ds := from("audit_logs")
	if filter.ActorID != nil {
		ds = ds.Where(goqu.C("actor_id").Eq(*filter.ActorID))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}
	if filter.EntityType != "" {
		ds = ds.Where(goqu.C("entity_type").Eq(filter.EntityType))
	}
	if filter.EntityID != nil {
		ds = ds.Where(goqu.C("entity_id").Eq(*filter.EntityID))
	}
	if filter.Action != "" {
		ds = ds.Where(goqu.C("action").Eq(filter.Action))
	}
	if filter.Security != nil {
		ds = ds.Where(goqu.C("security").Eq(*filter.Security))
	}
	ds = inRange(ds, "created_at", filter.TimeRange)

	page := filter.Pagination.Normalize()
	var logs []*model.AuditLog
	total, err := r.listQuery(ctx, "audit logs", &logs, ds, goqu.L(auditColumns),
		[]exp.OrderedExpression{goqu.C("created_at").Desc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", classify("audit log", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
