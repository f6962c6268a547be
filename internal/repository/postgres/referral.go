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

const referralColumns = `id, patient_id, referring_facility_id, receiving_facility_id, referring_doctor_id,
	receiving_doctor_id, specialty_id, urgency, status, reason, clinical_summary, acceptance_notes,
	rejection_reason, cancellation_reason, outcome, completion_notes, bed_reservation_id, created_by,
	referred_at, accepted_at, rejected_at, in_transit_at, arrived_at, completed_at, cancelled_at,
	created_at, updated_at`

type referralRepository struct {
	BaseRepository
}

func NewReferralRepository(db *sqlx.DB) repository.ReferralRepository {
	return &referralRepository{NewBaseRepository(db)}
}

func (r *referralRepository) Create(ctx context.Context, referral *model.Referral) error {
	query := `
		INSERT INTO referrals (
			id, patient_id, referring_facility_id, receiving_facility_id, referring_doctor_id,
			receiving_doctor_id, specialty_id, urgency, status, reason, clinical_summary, created_by,
			referred_at, created_at, updated_at
		) VALUES (
			:id, :patient_id, :referring_facility_id, :receiving_facility_id, :referring_doctor_id,
			:receiving_doctor_id, :specialty_id, :urgency, :status, :reason, :clinical_summary, :created_by,
			:referred_at, :created_at, :updated_at
		)
	`
	if referral.ID == uuid.Nil {
		referral.ID = uuid.New()
	}
	now := time.Now().UTC()
	referral.CreatedAt = now
	referral.UpdatedAt = now

	if _, err := r.q(ctx).NamedExecContext(ctx, query, referral); err != nil {
		return fmt.Errorf("failed to create referral: %w", classify("referral", err))
	}
	return nil
}

func (r *referralRepository) Get(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	return r.get(ctx, id, "")
}

func (r *referralRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *referralRepository) get(ctx context.Context, id uuid.UUID, lock string) (*model.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1` + lock

	var referral model.Referral
	if err := r.q(ctx).GetContext(ctx, &referral, query, id); err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", classify("referral", err))
	}
	return &referral, nil
}

func (r *referralRepository) Update(ctx context.Context, referral *model.Referral, expected model.ReferralStatus) error {
	query := `
		UPDATE referrals
		SET status = $1, receiving_doctor_id = $2, acceptance_notes = $3, rejection_reason = $4,
			cancellation_reason = $5, outcome = $6, completion_notes = $7, bed_reservation_id = $8,
			accepted_at = $9, rejected_at = $10, in_transit_at = $11, arrived_at = $12,
			completed_at = $13, cancelled_at = $14, updated_at = $15
		WHERE id = $16 AND status = $17
	`
	referral.UpdatedAt = time.Now().UTC()

	res, err := r.q(ctx).ExecContext(ctx, query,
		referral.Status,
		referral.ReceivingDoctorID,
		referral.AcceptanceNotes,
		referral.RejectionReason,
		referral.CancellationReason,
		referral.Outcome,
		referral.CompletionNotes,
		referral.ReservationID,
		referral.AcceptedAt,
		referral.RejectedAt,
		referral.InTransitAt,
		referral.ArrivedAt,
		referral.CompletedAt,
		referral.CancelledAt,
		referral.UpdatedAt,
		referral.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", classify("referral", err))
	}
	return expectOne("referral", res)
}

func (r *referralRepository) List(ctx context.Context, filter *model.ReferralFilter) ([]*model.Referral, int, error) {
	ds := from("referrals")
	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(filter.Status))
	}
	if filter.Urgency != "" {
		ds = ds.Where(goqu.C("urgency").Eq(filter.Urgency))
	}
	if filter.ReferringFacilityID != nil {
		ds = ds.Where(goqu.C("referring_facility_id").Eq(*filter.ReferringFacilityID))
	}
	if filter.ReceivingFacilityID != nil {
		ds = ds.Where(goqu.C("receiving_facility_id").Eq(*filter.ReceivingFacilityID))
	}
	if filter.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(*filter.PatientID))
	}
	if filter.FacilityID != nil {
		ds = ds.Where(goqu.Or(
			goqu.C("referring_facility_id").Eq(*filter.FacilityID),
			goqu.C("receiving_facility_id").Eq(*filter.FacilityID),
		))
	}
	ds = inRange(ds, "referred_at", filter.TimeRange)

	page := filter.Pagination.Normalize()
	var referrals []*model.Referral
	total, err := r.listQuery(ctx, "referrals", &referrals, ds, goqu.L(referralColumns),
		[]exp.OrderedExpression{goqu.C("referred_at").Desc()}, page.PageSize, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return referrals, total, nil
}

func (r *referralRepository) Summary(ctx context.Context, facilityID uuid.UUID, start, end time.Time) ([]model.ReferralSummaryRow, error) {
	query := `
		SELECT status, urgency, COUNT(*) AS count
		FROM referrals
		WHERE (referring_facility_id = $1 OR receiving_facility_id = $1)
			AND referred_at >= $2 AND referred_at < $3
		GROUP BY status, urgency
		ORDER BY status, urgency
	`
	var rows []model.ReferralSummaryRow
	if err := r.q(ctx).SelectContext(ctx, &rows, query, facilityID, start, end); err != nil {
		return nil, fmt.Errorf("failed to summarise referrals: %w", classify("referral", err))
	}
	return rows, nil
}
