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

const ambulanceColumns = `id, facility_id, call_sign, registration_plate, type, status, current_dispatch_id,
	latitude, longitude, heading, speed, location_updated_at, created_at, updated_at`

type ambulanceRepository struct {
	BaseRepository
}

func NewAmbulanceRepository(db *sqlx.DB) repository.AmbulanceRepository {
	return &ambulanceRepository{NewBaseRepository(db)}
}

func (r *ambulanceRepository) Create(ctx context.Context, a *model.Ambulance) error {
	query := `
		INSERT INTO ambulances (
			id, facility_id, call_sign, registration_plate, type, status,
			latitude, longitude, location_updated_at, created_at, updated_at
		) VALUES (
			:id, :facility_id, :call_sign, :registration_plate, :type, :status,
			:latitude, :longitude, :location_updated_at, :created_at, :updated_at
		)
	`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("failed to create ambulance: %w", classify("ambulance", err))
	}
	return nil
}

func (r *ambulanceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Ambulance, error) {
	return r.get(ctx, id, "")
}

func (r *ambulanceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Ambulance, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *ambulanceRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Ambulance, error) {
	query := `SELECT ` + ambulanceColumns + ` FROM ambulances WHERE id = $1` + lock

	var a model.Ambulance
	if err := r.q(ctx).GetContext(ctx, &a, query, id); err != nil {
		return nil, fmt.Errorf("failed to get ambulance: %w", classify("ambulance", err))
	}
	return &a, nil
}

func (r *ambulanceRepository) Update(ctx context.Context, a *model.Ambulance) error {
	query := `
		UPDATE ambulances
		SET status = $1, current_dispatch_id = $2, call_sign = $3, registration_plate = $4,
			type = $5, updated_at = $6
		WHERE id = $7
	`
	a.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		a.Status, a.CurrentDispatchID, a.CallSign, a.RegistrationPlate, a.Type, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ambulance: %w", classify("ambulance", err))
	}
	return expectFound("ambulance", res)
}

func (r *ambulanceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM ambulances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ambulance: %w", classify("ambulance", err))
	}
	return expectFound("ambulance", res)
}

func (r *ambulanceRepository) List(ctx context.Context, filter *model.AmbulanceFilter) ([]*model.Ambulance, int, error) {
	ds := from("ambulances")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}

	page := filter.Pagination.Normalize()
	var ambulances []*model.Ambulance
	total, err := r.listQuery(ctx, "ambulances", &ambulances, ds, goqu.L(ambulanceColumns),
		[]exp.OrderedExpression{goqu.C("call_sign").Asc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return ambulances, total, nil
}

func (r *ambulanceRepository) UpdatePosition(ctx context.Context, id uuid.UUID, pos *model.PositionUpdate) error {
	query := `
		UPDATE ambulances
		SET latitude = $1, longitude = $2, heading = $3, speed = $4, location_updated_at = $5, updated_at = NOW()
		WHERE id = $6
	`
	recorded := pos.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}

	res, err := r.q(ctx).ExecContext(ctx, query, pos.Latitude, pos.Longitude, pos.Heading, pos.Speed, recorded, id)
	if err != nil {
		return fmt.Errorf("failed to update ambulance position: %w", classify("ambulance", err))
	}
	return expectFound("ambulance", res)
}
