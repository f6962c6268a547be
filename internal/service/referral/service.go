package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/authz"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	"github.com/jwalitptl/referral-api/internal/service/notification"
	"github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

// BedReserver holds and frees beds on behalf of referrals. Both calls join the
// transaction carried by ctx.
type BedReserver interface {
	ReserveForReferral(ctx context.Context, caller authz.Caller, bedID uuid.UUID, r *model.Referral) (*model.BedReservation, error)
	ReleaseForReferral(ctx context.Context, caller authz.Caller, r *model.Referral) error
}

type Deps struct {
	Tx        repository.Transactor
	Referrals repository.ReferralRepository
	Refs      repository.ReferenceChecker
	Beds      BedReserver
	Guard     *authz.Guard
	Auditor   *audit.Service
	Notifier  notification.Service
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	Now       func() time.Time
}

type Service struct {
	Deps
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Notifier == nil {
		d.Notifier = notification.Nop{}
	}
	return &Service{Deps: d}
}

// Ownership fields never change after creation, so resources built from an
// unlocked read stay valid for the transaction that follows.
func respondResource(r *model.Referral) authz.Resource {
	res := authz.Resource{Kind: model.AuditEntityReferral, ID: r.ID, Facilities: []uuid.UUID{r.ReceivingFacilityID}}
	if r.ReceivingDoctorID != nil {
		res.Users = []uuid.UUID{*r.ReceivingDoctorID}
	}
	return res
}

func updateResource(r *model.Referral) authz.Resource {
	res := respondResource(r)
	res.Facilities = append(res.Facilities, r.ReferringFacilityID)
	res.Users = append(res.Users, r.ReferringDoctorID)
	return res
}

func cancelResource(r *model.Referral) authz.Resource {
	return authz.Resource{
		Kind:       model.AuditEntityReferral,
		ID:         r.ID,
		Facilities: []uuid.UUID{r.ReferringFacilityID},
		Users:      []uuid.UUID{r.ReferringDoctorID},
	}
}

func (s *Service) Create(ctx context.Context, caller authz.Caller, req *model.CreateReferralRequest) (*model.Referral, error) {
	res := authz.Resource{Kind: model.AuditEntityReferral, Facilities: []uuid.UUID{req.ReferringFacilityID}}
	if err := s.Guard.Check(ctx, caller, authz.ReferralCreate, res); err != nil {
		return nil, err
	}
	if err := s.validateCreate(ctx, req); err != nil {
		return nil, err
	}

	now := s.Now()
	referral := &model.Referral{
		ID:                  uuid.New(),
		PatientID:           req.PatientID,
		ReferringFacilityID: req.ReferringFacilityID,
		ReceivingFacilityID: req.ReceivingFacilityID,
		ReferringDoctorID:   req.ReferringDoctorID,
		ReceivingDoctorID:   req.ReceivingDoctorID,
		SpecialtyID:         req.SpecialtyID,
		Urgency:             req.Urgency,
		Status:              model.ReferralStatusPending,
		Reason:              strings.TrimSpace(req.Reason),
		ClinicalSummary:     req.ClinicalSummary,
		CreatedBy:           caller.UserID,
		ReferredAt:          now,
	}

	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Referrals.Create(ctx, referral); err != nil {
			return err
		}
		return s.Auditor.Log(ctx, caller, model.AuditActionCreate, model.AuditEntityReferral, referral.ID, &audit.LogOptions{
			NewStatus:  string(referral.Status),
			FacilityID: &referral.ReferringFacilityID,
			Metadata: map[string]interface{}{
				"urgency":               string(referral.Urgency),
				"receiving_facility_id": referral.ReceivingFacilityID.String(),
			},
		})
	})
	s.Metrics.ObserveTransition(model.AuditEntityReferral, model.AuditActionCreate, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create referral: %w", err)
	}

	s.Announce(ctx, referral)
	return referral, nil
}

type refCheck struct {
	what   string
	id     uuid.UUID
	exists func(context.Context, uuid.UUID) (bool, error)
}

func (s *Service) validateCreate(ctx context.Context, req *model.CreateReferralRequest) error {
	if !req.Urgency.IsValid() {
		return errors.Validation("invalid urgency %q", req.Urgency)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return errors.Validation("reason is required")
	}
	if req.ReferringFacilityID == req.ReceivingFacilityID {
		return errors.Validation("referring and receiving facility must differ")
	}

	checks := []refCheck{
		{"patient", req.PatientID, s.Refs.PatientExists},
		{"referring facility", req.ReferringFacilityID, s.Refs.FacilityExists},
		{"receiving facility", req.ReceivingFacilityID, s.Refs.FacilityExists},
		{"specialty", req.SpecialtyID, s.Refs.SpecialtyExists},
		{"referring doctor", req.ReferringDoctorID, s.Refs.DoctorExists},
	}
	if req.ReceivingDoctorID != nil {
		checks = append(checks, refCheck{"receiving doctor", *req.ReceivingDoctorID, s.Refs.DoctorExists})
	}
	for _, c := range checks {
		ok, err := c.exists(ctx, c.id)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", c.what, err)
		}
		if !ok {
			return errors.Validation("%s %s does not exist", c.what, c.id)
		}
	}
	return nil
}

// Get is limited to the two facilities and doctors on the referral.
func (s *Service) Get(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
	r, err := s.Referrals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, authz.ReferralRead, updateResource(r)); err != nil {
		return nil, err
	}
	return r, nil
}

// List shows non-admins the referrals their facility sent or received.
func (s *Service) List(ctx context.Context, caller authz.Caller, filter *model.ReferralFilter) ([]*model.Referral, int, error) {
	scope, err := s.Guard.Scope(ctx, caller, authz.ReferralRead, model.AuditEntityReferral)
	if err != nil {
		return nil, 0, err
	}
	filter.FacilityID = scope
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, errors.Validation("to must not be before from")
	}
	return s.Referrals.List(ctx, filter)
}

// Accept assigns the receiving doctor. When bedID is set the bed is reserved
// for the patient in the same transaction.
func (s *Service) Accept(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.AcceptReferralRequest) (*model.Referral, error) {
	if req.ReceivingDoctorID == uuid.Nil {
		return nil, errors.Validation("receiving_doctor_id is required")
	}
	ok, err := s.Refs.DoctorExists(ctx, req.ReceivingDoctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check receiving doctor: %w", err)
	}
	if !ok {
		return nil, errors.Validation("receiving doctor %s does not exist", req.ReceivingDoctorID)
	}

	return s.transition(ctx, caller, id, model.ReferralActionAccept, authz.ReferralRespond, respondResource,
		func(ctx context.Context, r *model.Referral, meta map[string]interface{}) error {
			r.ReceivingDoctorID = model.UUIDPtr(req.ReceivingDoctorID)
			r.AcceptanceNotes = model.StringPtr(req.Notes)
			meta["receiving_doctor_id"] = req.ReceivingDoctorID.String()
			if req.BedID == nil {
				return nil
			}
			if s.Beds == nil {
				return errors.Validation("bed reservation is not available")
			}
			reservation, err := s.Beds.ReserveForReferral(ctx, caller, *req.BedID, r)
			if err != nil {
				return err
			}
			r.ReservationID = model.UUIDPtr(reservation.ID)
			meta["bed_reservation_id"] = reservation.ID.String()
			return nil
		})
}

func (s *Service) Reject(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Referral, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("rejection reason is required")
	}
	return s.transition(ctx, caller, id, model.ReferralActionReject, authz.ReferralRespond, respondResource,
		func(_ context.Context, r *model.Referral, meta map[string]interface{}) error {
			r.RejectionReason = &reason
			meta["reason"] = reason
			return nil
		})
}

func (s *Service) MarkInTransit(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
	return s.transition(ctx, caller, id, model.ReferralActionInTransit, authz.ReferralUpdate, updateResource, nil)
}

func (s *Service) MarkArrived(ctx context.Context, caller authz.Caller, id uuid.UUID) (*model.Referral, error) {
	return s.transition(ctx, caller, id, model.ReferralActionArrive, authz.ReferralUpdate, updateResource, nil)
}

func (s *Service) Complete(ctx context.Context, caller authz.Caller, id uuid.UUID, req *model.CompleteReferralRequest) (*model.Referral, error) {
	return s.transition(ctx, caller, id, model.ReferralActionComplete, authz.ReferralUpdate, updateResource,
		func(_ context.Context, r *model.Referral, _ map[string]interface{}) error {
			r.Outcome = req.Outcome
			r.CompletionNotes = model.StringPtr(req.Notes)
			return nil
		})
}

// Cancel is open to the referring side and admins. An active bed reservation
// held for the referral is released with it.
func (s *Service) Cancel(ctx context.Context, caller authz.Caller, id uuid.UUID, reason string) (*model.Referral, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.Validation("cancellation reason is required")
	}
	return s.transition(ctx, caller, id, model.ReferralActionCancel, authz.ReferralCancel, cancelResource,
		func(ctx context.Context, r *model.Referral, meta map[string]interface{}) error {
			r.CancellationReason = &reason
			meta["reason"] = reason
			if s.Beds == nil {
				return nil
			}
			return s.Beds.ReleaseForReferral(ctx, caller, r)
		})
}

type mutation func(ctx context.Context, r *model.Referral, meta map[string]interface{}) error

// transition checks permission against an unlocked read, then locks the row,
// applies the guard and writes status, audit entry and side effects in one
// transaction. The notification goes out after commit.
func (s *Service) transition(
	ctx context.Context,
	caller authz.Caller,
	id uuid.UUID,
	action string,
	capability authz.Capability,
	resource func(*model.Referral) authz.Resource,
	mutate mutation,
) (*model.Referral, error) {
	pre, err := s.Referrals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Guard.Check(ctx, caller, capability, resource(pre)); err != nil {
		return nil, err
	}

	var updated *model.Referral
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.Referrals.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.apply(ctx, caller, r, action, mutate, nil)
		return err
	})
	s.Metrics.ObserveTransition(model.AuditEntityReferral, action, err)
	if err != nil {
		return nil, fmt.Errorf("failed to %s referral: %w", action, err)
	}

	s.Announce(ctx, updated)
	return updated, nil
}

// apply must run inside a transaction holding the referral row.
func (s *Service) apply(ctx context.Context, caller authz.Caller, r *model.Referral, action string, mutate mutation, meta map[string]interface{}) (*model.Referral, error) {
	old := r.Status
	next, err := model.ReferralLifecycle.Next(action, old)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		meta = map[string]interface{}{}
	}
	r.Status = next
	r.Stamp(next, s.Now())
	if mutate != nil {
		if err := mutate(ctx, r, meta); err != nil {
			return nil, err
		}
	}
	if err := s.Referrals.Update(ctx, r, old); err != nil {
		return nil, err
	}

	opts := &audit.LogOptions{
		OldStatus:  string(old),
		NewStatus:  string(next),
		FacilityID: &r.ReceivingFacilityID,
	}
	if len(meta) > 0 {
		opts.Metadata = meta
	}
	if err := s.Auditor.Log(ctx, caller, action, model.AuditEntityReferral, r.ID, opts); err != nil {
		return nil, err
	}
	return r, nil
}

// Summary counts a facility's referrals, sent or received, by status and urgency.
func (s *Service) Summary(ctx context.Context, caller authz.Caller, facilityID uuid.UUID, from, to time.Time) (*model.ReferralSummary, error) {
	res := authz.Resource{Kind: "report", Facilities: []uuid.UUID{facilityID}}
	if err := s.Guard.Check(ctx, caller, authz.ReportRead, res); err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, errors.Validation("to must be after from")
	}

	rows, err := s.Referrals.Summary(ctx, facilityID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise referrals: %w", err)
	}

	summary := &model.ReferralSummary{
		FacilityID: facilityID,
		From:       from,
		To:         to,
		ByStatus:   make(map[model.ReferralStatus]int),
		ByUrgency:  make(map[model.Urgency]int),
		Rows:       rows,
	}
	for _, row := range rows {
		summary.Total += row.Count
		summary.ByStatus[row.Status] += row.Count
		summary.ByUrgency[row.Urgency] += row.Count
	}
	return summary, nil
}
