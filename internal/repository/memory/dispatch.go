package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

type dispatchRepository struct{ s *Store }

func (r *dispatchRepository) Create(_ context.Context, d *model.Dispatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("dispatches.create"); err != nil {
		return err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.data.dispatches[d.ID] = *d
	return nil
}

func (r *dispatchRepository) Get(_ context.Context, id uuid.UUID) (*model.Dispatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.data.dispatches[id]
	if !ok {
		return nil, notFound("dispatch")
	}
	return &d, nil
}

func (r *dispatchRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Dispatch, error) {
	return r.Get(ctx, id)
}

func (r *dispatchRepository) Update(_ context.Context, d *model.Dispatch, expected model.DispatchStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("dispatches.update"); err != nil {
		return err
	}
	stored, ok := r.s.data.dispatches[d.ID]
	if !ok || stored.Status != expected {
		return lostRace("dispatch")
	}
	d.UpdatedAt = time.Now().UTC()
	r.s.data.dispatches[d.ID] = *d
	return nil
}

func (r *dispatchRepository) SetEstimate(_ context.Context, id uuid.UUID, distanceKM, durationMin float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("dispatches.set_estimate"); err != nil {
		return err
	}
	d, ok := r.s.data.dispatches[id]
	if !ok {
		return notFound("dispatch")
	}
	d.EstimatedDistanceKM, d.EstimatedDurationMin = &distanceKM, &durationMin
	d.UpdatedAt = time.Now().UTC()
	r.s.data.dispatches[id] = d
	return nil
}

func (r *dispatchRepository) List(_ context.Context, f *model.DispatchFilter) ([]*model.Dispatch, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Dispatch
	for _, d := range r.s.data.dispatches {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.ActiveOnly && model.DispatchLifecycle.IsTerminal(d.Status) {
			continue
		}
		if f.AmbulanceID != nil && d.AmbulanceID != *f.AmbulanceID {
			continue
		}
		if f.ReferralID != nil && (d.ReferralID == nil || *d.ReferralID != *f.ReferralID) {
			continue
		}
		if f.FacilityID != nil && d.FacilityID != *f.FacilityID {
			continue
		}
		if !inRange(d.DispatchedAt, f.TimeRange) {
			continue
		}
		items = append(items, d)
	}
	out, total := page(items, f.Pagination, func(a, b model.Dispatch) bool { return a.DispatchedAt.After(b.DispatchedAt) })
	return out, total, nil
}

func (r *dispatchRepository) ActiveForAmbulance(_ context.Context, ambulanceID uuid.UUID) (*model.Dispatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var active *model.Dispatch
	for _, d := range r.s.data.dispatches {
		if d.AmbulanceID != ambulanceID || model.DispatchLifecycle.IsTerminal(d.Status) {
			continue
		}
		if active == nil || d.DispatchedAt.After(active.DispatchedAt) {
			d := d
			active = &d
		}
	}
	return active, nil
}

func (r *dispatchRepository) AddStatusUpdate(_ context.Context, u *model.DispatchStatusUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("dispatches.add_status_update"); err != nil {
		return err
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.s.data.updates = append(r.s.data.updates, *u)
	return nil
}

func (r *dispatchRepository) History(_ context.Context, dispatchID uuid.UUID) ([]*model.DispatchStatusUpdate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.DispatchStatusUpdate
	for _, u := range r.s.data.updates {
		if u.DispatchID == dispatchID {
			u := u
			out = append(out, &u)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type ambulanceRepository struct{ s *Store }

func (r *ambulanceRepository) Create(_ context.Context, a *model.Ambulance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	for _, other := range r.s.data.ambulances {
		if other.CallSign == a.CallSign {
			return lostRace("ambulance")
		}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.s.data.ambulances[a.ID] = *a
	return nil
}

func (r *ambulanceRepository) Get(_ context.Context, id uuid.UUID) (*model.Ambulance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.ambulances[id]
	if !ok {
		return nil, notFound("ambulance")
	}
	return &a, nil
}

func (r *ambulanceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Ambulance, error) {
	return r.Get(ctx, id)
}

func (r *ambulanceRepository) Update(_ context.Context, a *model.Ambulance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("ambulances.update"); err != nil {
		return err
	}
	if _, ok := r.s.data.ambulances[a.ID]; !ok {
		return notFound("ambulance")
	}
	a.UpdatedAt = time.Now().UTC()
	r.s.data.ambulances[a.ID] = *a
	return nil
}

func (r *ambulanceRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.ambulances[id]; !ok {
		return notFound("ambulance")
	}
	delete(r.s.data.ambulances, id)
	return nil
}

func (r *ambulanceRepository) List(_ context.Context, f *model.AmbulanceFilter) ([]*model.Ambulance, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Ambulance
	for _, a := range r.s.data.ambulances {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.FacilityID != nil && a.FacilityID != *f.FacilityID {
			continue
		}
		items = append(items, a)
	}
	out, total := page(items, f.Pagination, func(a, b model.Ambulance) bool { return a.CallSign < b.CallSign })
	return out, total, nil
}

func (r *ambulanceRepository) UpdatePosition(_ context.Context, id uuid.UUID, pos *model.PositionUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.data.ambulances[id]
	if !ok {
		return notFound("ambulance")
	}
	recorded := pos.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	lat, lng := pos.Latitude, pos.Longitude
	a.Latitude, a.Longitude = &lat, &lng
	a.Heading, a.Speed = pos.Heading, pos.Speed
	a.LocationUpdatedAt = &recorded
	a.UpdatedAt = time.Now().UTC()
	r.s.data.ambulances[id] = a
	return nil
}
