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

const bedColumns = `id, facility_id, ward, bed_number, type, status,
	EXISTS (
		SELECT 1 FROM bed_reservations br
		WHERE br.bed_id = beds.id AND br.status = 'active' AND br.expires_at > NOW()
	) AS reserved,
	created_at, updated_at`

const reservationColumns = `id, bed_id, patient_id, referral_id, status, reserved_by, expires_at,
	released_at, fulfilled_at, created_at, updated_at`

type bedRepository struct {
	BaseRepository
}

func NewBedRepository(db *sqlx.DB) repository.BedRepository {
	return &bedRepository{NewBaseRepository(db)}
}

func (r *bedRepository) Create(ctx context.Context, b *model.Bed) error {
	query := `
		INSERT INTO beds (id, facility_id, ward, bed_number, type, status, created_at, updated_at)
		VALUES (:id, :facility_id, :ward, :bed_number, :type, :status, :created_at, :updated_at)
	`
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, b); err != nil {
		return fmt.Errorf("failed to create bed: %w", classify("bed", err))
	}
	return nil
}

func (r *bedRepository) Get(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return r.get(ctx, id, "")
}

func (r *bedRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return r.get(ctx, id, " FOR UPDATE OF beds")
}

func (r *bedRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Bed, error) {
	query := `SELECT ` + bedColumns + ` FROM beds WHERE id = $1` + lock

	var b model.Bed
	if err := r.q(ctx).GetContext(ctx, &b, query, id); err != nil {
		return nil, fmt.Errorf("failed to get bed: %w", classify("bed", err))
	}
	return &b, nil
}

func (r *bedRepository) Update(ctx context.Context, b *model.Bed) error {
	query := `UPDATE beds SET ward = $1, type = $2, status = $3, updated_at = $4 WHERE id = $5`
	b.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query, b.Ward, b.Type, b.Status, b.UpdatedAt, b.ID)
	if err != nil {
		return fmt.Errorf("failed to update bed: %w", classify("bed", err))
	}
	return expectFound("bed", res)
}

func (r *bedRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM beds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bed: %w", classify("bed", err))
	}
	return expectFound("bed", res)
}

func (r *bedRepository) List(ctx context.Context, filter *model.BedFilter) ([]*model.Bed, int, error) {
	ds := from("beds")
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.C("facility_id").Eq(*filter.FacilityID))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.Ward != "" {
		ds = ds.Where(goqu.C("ward").Eq(filter.Ward))
	}

	page := filter.Pagination.Normalize()
	var beds []*model.Bed
	total, err := r.listQuery(ctx, "beds", &beds, ds, goqu.L(bedColumns),
		[]exp.OrderedExpression{goqu.C("ward").Asc(), goqu.C("bed_number").Asc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return beds, total, nil
}

func (r *bedRepository) CreateReservation(ctx context.Context, res *model.BedReservation) error {
	query := `
		INSERT INTO bed_reservations (
			id, bed_id, patient_id, referral_id, status, reserved_by, expires_at, created_at, updated_at
		) VALUES (
			:id, :bed_id, :patient_id, :referral_id, :status, :reserved_by, :expires_at, :created_at, :updated_at
		)
	`
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, res); err != nil {
		return fmt.Errorf("failed to create bed reservation: %w", classify("bed reservation", err))
	}
	return nil
}

func (r *bedRepository) GetReservation(ctx context.Context, id uuid.UUID) (*model.BedReservation, error) {
	return r.getReservation(ctx, id, "")
}

func (r *bedRepository) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (*model.BedReservation, error) {
	return r.getReservation(ctx, id, " FOR UPDATE")
}

func (r *bedRepository) getReservation(ctx context.Context, id uuid.UUID, lock string) (*model.BedReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM bed_reservations WHERE id = $1` + lock

	var res model.BedReservation
	if err := r.q(ctx).GetContext(ctx, &res, query, id); err != nil {
		return nil, fmt.Errorf("failed to get bed reservation: %w", classify("bed reservation", err))
	}
	return &res, nil
}

func (r *bedRepository) UpdateReservation(ctx context.Context, res *model.BedReservation, expected model.ReservationStatus) error {
	query := `
		UPDATE bed_reservations
		SET status = $1, released_at = $2, fulfilled_at = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	res.UpdatedAt = time.Now().UTC()

	result, err := r.q(ctx).ExecContext(ctx, query,
		res.Status, res.ReleasedAt, res.FulfilledAt, res.UpdatedAt, res.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update bed reservation: %w", classify("bed reservation", err))
	}
	return expectOne("bed reservation", result)
}

func (r *bedRepository) ActiveReservation(ctx context.Context, bedID uuid.UUID, now time.Time) (*model.BedReservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM bed_reservations
		WHERE bed_id = $1 AND status = 'active' AND expires_at > $2
		LIMIT 1`

	var res model.BedReservation
	err := r.q(ctx).GetContext(ctx, &res, query, bedID, now)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active reservation: %w", classify("bed reservation", err))
	}
	return &res, nil
}

func (r *bedRepository) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE bed_reservations
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at <= $1
	`
	res, err := r.q(ctx).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", classify("bed reservation", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
