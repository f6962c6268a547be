package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

type referralRepository struct{ s *Store }

func (r *referralRepository) Create(_ context.Context, referral *model.Referral) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("referrals.create"); err != nil {
		return err
	}
	if referral.ID == uuid.Nil {
		referral.ID = uuid.New()
	}
	now := time.Now().UTC()
	referral.CreatedAt, referral.UpdatedAt = now, now
	r.s.data.referrals[referral.ID] = *referral
	return nil
}

func (r *referralRepository) Get(_ context.Context, id uuid.UUID) (*model.Referral, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.data.referrals[id]
	if !ok {
		return nil, notFound("referral")
	}
	return &ref, nil
}

func (r *referralRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	return r.Get(ctx, id)
}

func (r *referralRepository) Update(_ context.Context, referral *model.Referral, expected model.ReferralStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("referrals.update"); err != nil {
		return err
	}
	stored, ok := r.s.data.referrals[referral.ID]
	if !ok || stored.Status != expected {
		return lostRace("referral")
	}
	referral.UpdatedAt = time.Now().UTC()
	r.s.data.referrals[referral.ID] = *referral
	return nil
}

func (r *referralRepository) List(_ context.Context, f *model.ReferralFilter) ([]*model.Referral, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Referral
	for _, ref := range r.s.data.referrals {
		if f.Status != "" && ref.Status != f.Status {
			continue
		}
		if f.Urgency != "" && ref.Urgency != f.Urgency {
			continue
		}
		if f.ReferringFacilityID != nil && ref.ReferringFacilityID != *f.ReferringFacilityID {
			continue
		}
		if f.ReceivingFacilityID != nil && ref.ReceivingFacilityID != *f.ReceivingFacilityID {
			continue
		}
		if f.PatientID != nil && ref.PatientID != *f.PatientID {
			continue
		}
		if f.FacilityID != nil && ref.ReferringFacilityID != *f.FacilityID && ref.ReceivingFacilityID != *f.FacilityID {
			continue
		}
		if !inRange(ref.ReferredAt, f.TimeRange) {
			continue
		}
		items = append(items, ref)
	}
	out, total := page(items, f.Pagination, func(a, b model.Referral) bool { return a.ReferredAt.After(b.ReferredAt) })
	return out, total, nil
}

func (r *referralRepository) Summary(_ context.Context, facilityID uuid.UUID, from, to time.Time) ([]model.ReferralSummaryRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type key struct {
		status  model.ReferralStatus
		urgency model.Urgency
	}
	counts := make(map[key]int)
	for _, ref := range r.s.data.referrals {
		if ref.ReferringFacilityID != facilityID && ref.ReceivingFacilityID != facilityID {
			continue
		}
		if ref.ReferredAt.Before(from) || !ref.ReferredAt.Before(to) {
			continue
		}
		counts[key{ref.Status, ref.Urgency}]++
	}
	rows := make([]model.ReferralSummaryRow, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, model.ReferralSummaryRow{Status: k.status, Urgency: k.urgency, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Status != rows[j].Status {
			return rows[i].Status < rows[j].Status
		}
		return rows[i].Urgency < rows[j].Urgency
	})
	return rows, nil
}

func inRange(t time.Time, tr model.TimeRange) bool {
	if tr.From != nil && t.Before(*tr.From) {
		return false
	}
	if tr.To != nil && !t.Before(*tr.To) {
		return false
	}
	return true
}
