package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const equipmentColumns = `id, facility_id, name, category, serial_number, status, condition_rating,
	last_maintenance, next_maintenance_due, created_at, updated_at`

const maintenanceColumns = `id, equipment_id, type, status, scheduled_for, technician_id, description,
	condition_rating, cost, notes, cancellation_reason, created_by, started_at, completed_at,
	cancelled_at, created_at, updated_at`

type equipmentRepository struct {
	BaseRepository
}

func NewEquipmentRepository(db *sqlx.DB) repository.EquipmentRepository {
	return &equipmentRepository{NewBaseRepository(db)}
}

func (r *equipmentRepository) Create(ctx context.Context, e *model.Equipment) error {
	query := `
		INSERT INTO equipment (
			id, facility_id, name, category, serial_number, status, created_at, updated_at
		) VALUES (
			:id, :facility_id, :name, :category, :serial_number, :status, :created_at, :updated_at
		)
	`
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("failed to create equipment: %w", classify("equipment", err))
	}
	return nil
}

func (r *equipmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Equipment, error) {
	return r.get(ctx, id, "")
}

func (r *equipmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Equipment, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *equipmentRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Equipment, error) {
	query := `SELECT ` + equipmentColumns + ` FROM equipment WHERE id = $1` + lock

	var e model.Equipment
	if err := r.q(ctx).GetContext(ctx, &e, query, id); err != nil {
		return nil, fmt.Errorf("failed to get equipment: %w", classify("equipment", err))
	}
	return &e, nil
}

func (r *equipmentRepository) Update(ctx context.Context, e *model.Equipment) error {
	query := `
		UPDATE equipment
		SET name = $1, category = $2, status = $3, condition_rating = $4, last_maintenance = $5,
			next_maintenance_due = $6, updated_at = $7
		WHERE id = $8
	`
	e.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		e.Name, e.Category, e.Status, e.ConditionRating, e.LastMaintenance, e.NextMaintenanceDue, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update equipment: %w", classify("equipment", err))
	}
	return expectFound("equipment", res)
}

func (r *equipmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM equipment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete equipment: %w", classify("equipment", err))
	}
	return expectFound("equipment", res)
}

func (r *equipmentRepository) List(ctx context.Context, filter *model.EquipmentFilter) ([]*model.Equipment, int, error) {
	ds := from("equipment")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}
	if filter.Category != "" {
		ds = ds.Where(goqu.C("category").Eq(filter.Category))
	}
	if filter.DueBefore != nil {
		ds = ds.Where(goqu.C("next_maintenance_due").Lt(*filter.DueBefore))
	}

	page := filter.Pagination.Normalize()
	var items []*model.Equipment
	total, err := r.listQuery(ctx, "equipment", &items, ds, goqu.L(equipmentColumns),
		[]exp.OrderedExpression{goqu.C("name").Asc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

type maintenanceRepository struct {
	BaseRepository
}

func NewMaintenanceRepository(db *sqlx.DB) repository.MaintenanceRepository {
	return &maintenanceRepository{NewBaseRepository(db)}
}

func (r *maintenanceRepository) Create(ctx context.Context, m *model.MaintenanceRecord) error {
	query := `
		INSERT INTO equipment_maintenance_records (
			id, equipment_id, type, status, scheduled_for, technician_id, description,
			created_by, created_at, updated_at
		) VALUES (
			:id, :equipment_id, :type, :status, :scheduled_for, :technician_id, :description,
			:created_by, :created_at, :updated_at
		)
	`
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("failed to create maintenance record: %w", classify("maintenance record", err))
	}
	return nil
}

func (r *maintenanceRepository) Get(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	return r.get(ctx, id, "")
}

func (r *maintenanceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *maintenanceRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.MaintenanceRecord, error) {
	query := `SELECT ` + maintenanceColumns + ` FROM equipment_maintenance_records WHERE id = $1` + lock

	var m model.MaintenanceRecord
	if err := r.q(ctx).GetContext(ctx, &m, query, id); err != nil {
		return nil, fmt.Errorf("failed to get maintenance record: %w", classify("maintenance record", err))
	}
	return &m, nil
}

func (r *maintenanceRepository) Update(ctx context.Context, m *model.MaintenanceRecord, expected model.MaintenanceStatus) error {
	query := `
		UPDATE equipment_maintenance_records
		SET status = $1, condition_rating = $2, cost = $3, notes = $4, cancellation_reason = $5,
			started_at = $6, completed_at = $7, cancelled_at = $8, updated_at = $9
		WHERE id = $10 AND status = $11
	`
	m.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		m.Status, m.ConditionRating, m.Cost, m.Notes, m.CancellationReason,
		m.StartedAt, m.CompletedAt, m.CancelledAt, m.UpdatedAt, m.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update maintenance record: %w", classify("maintenance record", err))
	}
	return expectOne("maintenance record", res)
}

func (r *maintenanceRepository) ActiveForEquipment(ctx context.Context, equipmentID uuid.UUID) (*model.MaintenanceRecord, error) {
	query := `SELECT ` + maintenanceColumns + `
		FROM equipment_maintenance_records
		WHERE equipment_id = $1 AND status IN ('scheduled', 'in_progress')
		LIMIT 1`

	var m model.MaintenanceRecord
	err := r.q(ctx).GetContext(ctx, &m, query, equipmentID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active maintenance: %w", classify("maintenance record", err))
	}
	return &m, nil
}

func (r *maintenanceRepository) ListByEquipment(ctx context.Context, equipmentID uuid.UUID) ([]*model.MaintenanceRecord, error) {
	query := `SELECT ` + maintenanceColumns + `
		FROM equipment_maintenance_records
		WHERE equipment_id = $1
		ORDER BY scheduled_for DESC`

	var records []*model.MaintenanceRecord
	if err := r.q(ctx).SelectContext(ctx, &records, query, equipmentID); err != nil {
		return nil, fmt.Errorf("failed to list maintenance records: %w", classify("maintenance record", err))
	}
	return records, nil
}
