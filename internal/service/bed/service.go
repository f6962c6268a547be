package bed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

const defaultReservationTTL = 4 * time.Hour

type Deps struct {
	Tx        repository.Transactor
	Beds      repository.BedRepository
	Referrals repository.ReferralRepository
	Refs      repository.ReferenceChecker
	Guard     *authz.Guard
	Auditor   *audit.Service
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	// ReservationTTL applies when a reservation request carries no expiry.
	ReservationTTL time.Duration
	Now            func() time.Time
}

type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.ReservationTTL <= 0 {
		d.ReservationTTL = defaultReservationTTL
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	return &Service{Deps: d}
}

func bedResource(b *model.Bed) authz.Resource {
	return authz.Resource{Kind: model.AuditEntityBed, ID: b.ID, Facilities: []uuid.UUID{b.FacilityID}}
}

func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateBedRequest) (*model.Bed, error) {
	res := authz.Resource{Kind: model.AuditEntityBed, Facilities: []uuid.UUID{req.FacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.BedManage, res); err != nil {
		return nil, err
	}
	ok, err := s.Refs.FacilityExists(ctx, req.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to check facility: %w", err)
	}
	if !ok {
		return nil, errors.Validation("facility %s does not exist", req.FacilityID)
	}

	bed := &model.Bed{
		ID:         uuid.New(),
		FacilityID: req.FacilityID,
		Ward:       req.Ward,
		BedNumber:  req.BedNumber,
		Type:       req.Type,
		Status:     model.BedStatusAvailable,
	}
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Beds.Create(ctx, bed); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityBed, bed.ID, &audit.LogOptions{
			NewStatus:  string(bed.Status),
			FacilityID: &bed.FacilityID,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bed: %w", err)
	}
	return bed, nil
}

func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Bed, error) {
	b, err := s.Beds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedRead, bedResource(b)); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.BedFilter) ([]*model.Bed, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.BedRead, model.AuditEntityBed)
	if err != nil {
		return nil, 0, err
	}
	if scope != nil {
		filter.FacilityID = scope
	}
	return s.Beds.List(ctx, filter)
}

// Decommission removes a bed that is neither occupied nor reserved.
func (s *Service) Decommission(ctx context.Context, caller authz.Caller, id uuid.UUID) error {
	pre, err := s.Beds.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedManage, bedResource(pre)); err != nil {
		return err
	}

	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, err := s.Beds.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if bed.Status == model.BedStatusOccupied {
			return errors.InvalidTransition(model.AuditEntityBed, model.AuditActionDelete, string(bed.Status))
		}
		if bed.Reserved {
			return errors.InvalidTransition(model.AuditEntityBed, model.AuditActionDelete, "reserved")
		}
		if err := s.Beds.Delete(ctx, id); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionDelete, model.AuditEntityBed, id, &audit.LogOptions{
			OldStatus:  string(bed.Status),
			FacilityID: &bed.FacilityID,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to decommission bed: %w", err)
	}
	return nil
}

// Reserve holds an available bed for a patient until the reservation expires.
func (s *Service) Reserve(ctx context.Context, caller authz.Caller, bedID uuid.UUID, req *model.ReserveBedRequest) (*model.BedReservation, error) {
	pre, err := s.Beds.Get(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedReserve, bedResource(pre)); err != nil {
		return nil, err
	}
	if err := s.validateReferral(ctx, req); err != nil {
		return nil, err
	}

	var reservation *model.BedReservation
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		reservation, err = s.reserve(ctx, caller, bedID, req.PatientID, req.ReferralID, req.ExpiresAt)
		return err
	})
	s.Metrics.ObserveTransition(model.AuditEntityBed, "reserve", err)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve bed: %w", err)
	}
	return reservation, nil
}

// validateReferral requires a linked referral to exist and name the same patient.
func (s *Service) validateReferral(ctx context.Context, req *model.ReserveBedRequest) error {
	if req.ReferralID == nil || s.Referrals == nil {
		return nil
	}
	r, err := s.Referrals.Get(ctx, *req.ReferralID)
	if errors.Is(err, errors.ErrNotFound) {
		return errors.Validation("referral %s does not exist", *req.ReferralID)
	}
	if err != nil {
		return err
	}
	if r.PatientID != req.PatientID {
		return errors.Validation("referral %s belongs to a different patient", r.ID)
	}
	return nil
}

// ReserveForReferral reserves a bed at the referral's receiving facility. It
// joins the caller's transaction when ctx carries one.
func (s *Service) ReserveForReferral(ctx context.Context, caller authz.Caller, bedID uuid.UUID, r *model.Referral) (*model.BedReservation, error) {
	var reservation *model.BedReservation
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, err := s.Beds.Get(ctx, bedID)
		if err != nil {
			return err
		}
		if bed.FacilityID != r.ReceivingFacilityID {
			return errors.Validation("bed %s does not belong to the receiving facility", bedID)
		}
		reservation, err = s.reserve(ctx, caller, bedID, r.PatientID, &r.ID, nil)
		return err
	})
	return reservation, err
}

// reserve must run inside a transaction.
func (s *Service) reserve(ctx context.Context, caller authz.Caller, bedID, patientID uuid.UUID, referralID *uuid.UUID, expiresAt *time.Time) (*model.BedReservation, error) {
	now := s.Now()
	expiry := now.Add(s.ReservationTTL)
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return nil, errors.Validation("expires_at must be in the future")
		}
		expiry = *expiresAt
	}

	// Lapsed reservations would otherwise hold the active slot on the bed.
	if _, err := s.Beds.ExpireReservations(ctx, now); err != nil {
		return nil, err
	}
	bed, err := s.Beds.GetForUpdate(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if bed.Status != model.BedStatusAvailable {
		return nil, errors.InvalidTransition(model.AuditEntityBed, "reserve", string(bed.Status))
	}
	active, err := s.Beds.ActiveReservation(ctx, bedID, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, errors.InvalidTransition(model.AuditEntityBed, "reserve", "reserved")
	}

	reservation := &model.BedReservation{
		ID:         uuid.New(),
		BedID:      bedID,
		PatientID:  patientID,
		ReferralID: referralID,
		Status:     model.ReservationStatusActive,
		ReservedBy: caller.UserID,
		ExpiresAt:  expiry,
	}
	if err := s.Beds.CreateReservation(ctx, reservation); err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{"bed_id": bedID.String(), "expires_at": expiry}
	if referralID != nil {
		metadata["referral_id"] = referralID.String()
	}
	err = s.Auditor.Log(ctx, caller, "reserve", model.AuditEntityReservation, reservation.ID, &audit.LogOptions{
		NewStatus:  string(reservation.Status),
		FacilityID: &bed.FacilityID,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *Service) Release(ctx context.Context, caller authz.Caller, reservationID uuid.UUID) (*model.BedReservation, error) {
	bed, err := s.reservationBed(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedReserve, bedResource(bed)); err != nil {
		return nil, err
	}

	var released *model.BedReservation
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.Beds.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationStatusActive {
			return errors.InvalidTransition(model.AuditEntityReservation, "release", string(res.Status))
		}
		released, err = s.release(ctx, caller, res, bed.FacilityID)
		return err
	})
	s.Metrics.ObserveTransition(model.AuditEntityReservation, "release", err)
	if err != nil {
		return nil, fmt.Errorf("failed to release reservation: %w", err)
	}
	return released, nil
}

// ReleaseForReferral releases the reservation held for a referral, if it is
// still active. It joins the caller's transaction.
func (s *Service) ReleaseForReferral(ctx context.Context, caller authz.Caller, r *model.Referral) error {
	if r.ReservationID == nil {
		return nil
	}
	return s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.Beds.GetReservationForUpdate(ctx, *r.ReservationID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationStatusActive {
			return nil
		}
		_, err = s.release(ctx, caller, res, r.ReceivingFacilityID)
		return err
	})
}

func (s *Service) release(ctx context.Context, caller authz.Caller, res *model.BedReservation, facilityID uuid.UUID) (*model.BedReservation, error) {
	old := res.Status
	res.Status = model.ReservationStatusReleased
	res.ReleasedAt = model.TimePtr(s.Now())
	if err := s.Beds.UpdateReservation(ctx, res, old); err != nil {
		return nil, err
	}
	err := s.Auditor.Log(ctx, caller, "release", model.AuditEntityReservation, res.ID, &audit.LogOptions{
		OldStatus:  string(old),
		NewStatus:  string(res.Status),
		FacilityID: &facilityID,
		Metadata:   map[string]interface{}{"bed_id": res.BedID.String()},
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Occupy fulfils an active reservation and marks its bed occupied.
func (s *Service) Occupy(ctx context.Context, caller authz.Caller, reservationID uuid.UUID) (*model.BedReservation, error) {
	pre, err := s.reservationBed(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedManage, bedResource(pre)); err != nil {
		return nil, err
	}

	var fulfilled *model.BedReservation
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.Now()
		res, err := s.Beds.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationStatusActive {
			return errors.InvalidTransition(model.AuditEntityReservation, "occupy", string(res.Status))
		}
		if !res.ExpiresAt.After(now) {
			return errors.InvalidTransition(model.AuditEntityReservation, "occupy", string(model.ReservationStatusExpired))
		}
		bed, err := s.Beds.GetForUpdate(ctx, res.BedID)
		if err != nil {
			return err
		}
		if bed.Status != model.BedStatusAvailable {
			return errors.InvalidTransition(model.AuditEntityBed, "occupy", string(bed.Status))
		}

		res.Status = model.ReservationStatusFulfilled
		res.FulfilledAt = model.TimePtr(now)
		if err := s.Beds.UpdateReservation(ctx, res, model.ReservationStatusActive); err != nil {
			return err
		}
		oldBed := bed.Status
		bed.Status = model.BedStatusOccupied
		if err := s.Beds.Update(ctx, bed); err != nil {
			return err
		}
		fulfilled = res
		return s.Auditor.Log(ctx, caller, "occupy", model.AuditEntityBed, bed.ID, &audit.LogOptions{
			OldStatus:  string(oldBed),
			NewStatus:  string(bed.Status),
			FacilityID: &bed.FacilityID,
			Metadata: map[string]interface{}{
				"reservation_id": res.ID.String(),
				"patient_id":     res.PatientID.String(),
			},
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityBed, "occupy", err)
	if err != nil {
		return nil, fmt.Errorf("failed to occupy bed: %w", err)
	}
	return fulfilled, nil
}

func (s *Service) Vacate(ctx context.Context, caller authz.Caller, bedID uuid.UUID) (*model.Bed, error) {
	pre, err := s.Beds.Get(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.BedManage, bedResource(pre)); err != nil {
		return nil, err
	}

	var vacated *model.Bed
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		bed, err := s.Beds.GetForUpdate(ctx, bedID)
		if err != nil {
			return err
		}
		if bed.Status != model.BedStatusOccupied {
			return errors.InvalidTransition(model.AuditEntityBed, "vacate", string(bed.Status))
		}
		bed.Status = model.BedStatusAvailable
		if err := s.Beds.Update(ctx, bed); err != nil {
			return err
		}
		vacated = bed
		return s.Auditor.Log(ctx, caller, "vacate", model.AuditEntityBed, bed.ID, &audit.LogOptions{
			OldStatus:  string(model.BedStatusOccupied),
			NewStatus:  string(bed.Status),
			FacilityID: &bed.FacilityID,
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityBed, "vacate", err)
	if err != nil {
		return nil, fmt.Errorf("failed to vacate bed: %w", err)
	}
	return vacated, nil
}

// ExpireReservations marks lapsed active reservations expired.
func (s *Service) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Beds.ExpireReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	if n > 0 && s.Metrics != nil {
		s.Metrics.ReservationsExpired.Add(float64(n))
	}
	return n, nil
}

func (s *Service) reservationBed(ctx context.Context, reservationID uuid.UUID) (*model.Bed, error) {
	res, err := s.Beds.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return s.Beds.Get(ctx, res.BedID)
}
