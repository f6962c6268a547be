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

const dispatchColumns = `id, ambulance_id, referral_id, dispatcher_id, facility_id,
	pickup_latitude, pickup_longitude, pickup_address,
	destination_latitude, destination_longitude, destination_address,
	priority, status, estimated_distance_km, estimated_duration_min, distance_km, fuel_consumed,
	handover_notes, notes, cancellation_reason, dispatched_at, acknowledged_at, en_route_pickup_at,
	at_pickup_at, patient_loaded_at, en_route_destination_at, at_destination_at, patient_delivered_at,
	completed_at, cancelled_at, created_at, updated_at`

var terminalDispatchStatuses = []interface{}{
	model.DispatchStatusCompleted,
	model.DispatchStatusCancelled,
}

type dispatchRepository struct {
	BaseRepository
}

func NewDispatchRepository(db *sqlx.DB) repository.DispatchRepository {
	return &dispatchRepository{NewBaseRepository(db)}
}

func (r *dispatchRepository) Create(ctx context.Context, d *model.Dispatch) error {
	query := `
		INSERT INTO ambulance_dispatches (
			id, ambulance_id, referral_id, dispatcher_id, facility_id,
			pickup_latitude, pickup_longitude, pickup_address,
			destination_latitude, destination_longitude, destination_address,
			priority, status, notes, dispatched_at, created_at, updated_at
		) VALUES (
			:id, :ambulance_id, :referral_id, :dispatcher_id, :facility_id,
			:pickup_latitude, :pickup_longitude, :pickup_address,
			:destination_latitude, :destination_longitude, :destination_address,
			:priority, :status, :notes, :dispatched_at, :created_at, :updated_at
		)
	`
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("failed to create dispatch: %w", classify("dispatch", err))
	}
	return nil
}

func (r *dispatchRepository) Get(ctx context.Context, id uuid.UUID) (*model.Dispatch, error) {
	return r.get(ctx, id, "")
}

func (r *dispatchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Dispatch, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *dispatchRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + ` FROM ambulance_dispatches WHERE id = $1` + lock

	var d model.Dispatch
	if err := r.q(ctx).GetContext(ctx, &d, query, id); err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", classify("dispatch", err))
	}
	return &d, nil
}

func (r *dispatchRepository) Update(ctx context.Context, d *model.Dispatch, expected model.DispatchStatus) error {
	query := `
		UPDATE ambulance_dispatches
		SET status = $1, estimated_distance_km = $2, estimated_duration_min = $3, distance_km = $4,
			fuel_consumed = $5, handover_notes = $6, notes = $7, cancellation_reason = $8,
			acknowledged_at = $9, en_route_pickup_at = $10, at_pickup_at = $11, patient_loaded_at = $12,
			en_route_destination_at = $13, at_destination_at = $14, patient_delivered_at = $15,
			completed_at = $16, cancelled_at = $17, updated_at = $18
		WHERE id = $19 AND status = $20
	`
	d.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		d.Status,
		d.EstimatedDistanceKM,
		d.EstimatedDurationMin,
		d.DistanceKM,
		d.FuelConsumed,
		d.HandoverNotes,
		d.Notes,
		d.CancellationReason,
		d.AcknowledgedAt,
		d.EnRoutePickupAt,
		d.AtPickupAt,
		d.PatientLoadedAt,
		d.EnRouteDestinationAt,
		d.AtDestinationAt,
		d.PatientDeliveredAt,
		d.CompletedAt,
		d.CancelledAt,
		d.UpdatedAt,
		d.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update dispatch: %w", classify("dispatch", err))
	}
	return expectOne("dispatch", res)
}

func (r *dispatchRepository) SetEstimate(ctx context.Context, id uuid.UUID, distanceKM, durationMin float64) error {
	query := `
		UPDATE ambulance_dispatches
		SET estimated_distance_km = $1, estimated_duration_min = $2, updated_at = $3
		WHERE id = $4
	`
	res, err := r.q(ctx).ExecContext(ctx, query, distanceKM, durationMin, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store route estimate: %w", classify("dispatch", err))
	}
	return expectFound("dispatch", res)
}

func (r *dispatchRepository) List(ctx context.Context, filter *model.DispatchFilter) ([]*model.Dispatch, int, error) {
	ds := from("ambulance_dispatches")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.C("status").NotIn(terminalDispatchStatuses...))
	}
	if filter.AmbulanceID != nil {
		ds = ds.Where(goqu.C("ambulance_id").Eq(*filter.AmbulanceID))
	}
	if filter.ReferralID != nil {
		ds = ds.Where(goqu.C("referral_id").Eq(*filter.ReferralID))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}
	ds = inRange(ds, "dispatched_at", filter.TimeRange)

	page := filter.Pagination.Normalize()
	var dispatches []*model.Dispatch
	total, err := r.listQuery(ctx, "dispatches", &dispatches, ds, goqu.L(dispatchColumns),
		[]exp.OrderedExpression{goqu.C("dispatched_at").Desc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return dispatches, total, nil
}

func (r *dispatchRepository) ActiveForAmbulance(ctx context.Context, ambulanceID uuid.UUID) (*model.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + `
		FROM ambulance_dispatches
		WHERE ambulance_id = $1 AND status NOT IN ('completed', 'cancelled')
		ORDER BY dispatched_at DESC
		LIMIT 1`

	var d model.Dispatch
	err := r.q(ctx).GetContext(ctx, &d, query, ambulanceID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active dispatch: %w", classify("dispatch", err))
	}
	return &d, nil
}

func (r *dispatchRepository) AddStatusUpdate(ctx context.Context, u *model.DispatchStatusUpdate) error {
	query := `
		INSERT INTO dispatch_status_updates (
			id, dispatch_id, old_status, new_status, actor_id, latitude, longitude, notes, created_at
		) VALUES (
			:id, :dispatch_id, :old_status, :new_status, :actor_id, :latitude, :longitude, :notes, :created_at
		)
	`
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	if _, err := r.q(ctx).NamedExecContext(ctx, query, u); err != nil {
		return fmt.Errorf("failed to record dispatch status update: %w", classify("dispatch status update", err))
	}
	return nil
}

func (r *dispatchRepository) History(ctx context.Context, dispatchID uuid.UUID) ([]*model.DispatchStatusUpdate, error) {
	query := `
		SELECT id, dispatch_id, old_status, new_status, actor_id, latitude, longitude, notes, created_at
		FROM dispatch_status_updates
		WHERE dispatch_id = $1
		ORDER BY created_at ASC
	`
	var updates []*model.DispatchStatusUpdate
	if err := r.q(ctx).SelectContext(ctx, &updates, query, dispatchID); err != nil {
		return nil, fmt.Errorf("failed to get dispatch history: %w", classify("dispatch", err))
	}
	return updates, nil
}
