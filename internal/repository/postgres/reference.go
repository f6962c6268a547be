package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type referenceChecker struct {
	BaseRepository
}

// NewReferenceChecker looks references up in the tables owned by the patient
// registry and facility directory.
func NewReferenceChecker(db *sqlx.DB) repository.ReferenceChecker {
	return &referenceChecker{NewBaseRepository(db)}
}

func (r *referenceChecker) exists(ctx context.Context, table string, id uuid.UUID) (bool, error) {
	var ok bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := r.q(ctx).GetContext(ctx, &ok, query, id); err != nil {
		return false, fmt.Errorf("failed to check %s reference: %w", table, classify(table, err))
	}
	return ok, nil
}

func (r *referenceChecker) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, "patients", id)
}

func (r *referenceChecker) FacilityExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, "facilities", id)
}

func (r *referenceChecker) SpecialtyExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, "specialties", id)
}

func (r *referenceChecker) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.exists(ctx, "doctors", id)
}

type contactRepository struct {
	BaseRepository
}

func NewContactRepository(db *sqlx.DB) repository.ContactRepository {
	return &contactRepository{NewBaseRepository(db)}
}

func (r *contactRepository) ListByFacility(ctx context.Context, facilityID uuid.UUID) ([]*model.Contact, error) {
	query := `
		SELECT facility_id, user_id, channel, address
		FROM facility_contacts
		WHERE facility_id = $1 AND active
	`
	var contacts []*model.Contact
	if err := r.q(ctx).SelectContext(ctx, &contacts, query, facilityID); err != nil {
		return nil, fmt.Errorf("failed to list facility contacts: %w", classify("facility contact", err))
	}
	return contacts, nil
}

func (r *contactRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Contact, error) {
	query := `
		SELECT facility_id, user_id, channel, address
		FROM facility_contacts
		WHERE user_id = $1 AND active
	`
	var contacts []*model.Contact
	if err := r.q(ctx).SelectContext(ctx, &contacts, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list user contacts: %w", classify("facility contact", err))
	}
	return contacts, nil
}
