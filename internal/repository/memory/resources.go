package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

type equipmentRepository struct{ s *Store }

func (r *equipmentRepository) Create(_ context.Context, e *model.Equipment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	r.s.data.equipment[e.ID] = *e
	return nil
}

func (r *equipmentRepository) Get(_ context.Context, id uuid.UUID) (*model.Equipment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.data.equipment[id]
	if !ok {
		return nil, notFound("equipment")
	}
	return &e, nil
}

func (r *equipmentRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Equipment, error) {
	return r.Get(ctx, id)
}

func (r *equipmentRepository) Update(_ context.Context, e *model.Equipment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("equipment.update"); err != nil {
		return err
	}
	if _, ok := r.s.data.equipment[e.ID]; !ok {
		return notFound("equipment")
	}
	e.UpdatedAt = time.Now().UTC()
	r.s.data.equipment[e.ID] = *e
	return nil
}

func (r *equipmentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.equipment[id]; !ok {
		return notFound("equipment")
	}
	delete(r.s.data.equipment, id)
	return nil
}

func (r *equipmentRepository) List(_ context.Context, f *model.EquipmentFilter) ([]*model.Equipment, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Equipment
	for _, e := range r.s.data.equipment {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.FacilityID != nil && e.FacilityID != *f.FacilityID {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.DueBefore != nil && (e.NextMaintenanceDue == nil || !e.NextMaintenanceDue.Before(*f.DueBefore)) {
			continue
		}
		items = append(items, e)
	}
	out, total := page(items, f.Pagination, func(a, b model.Equipment) bool { return a.Name < b.Name })
	return out, total, nil
}

type maintenanceRepository struct{ s *Store }

func (r *maintenanceRepository) Create(_ context.Context, m *model.MaintenanceRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	// mirrors the partial unique index on active records
	for _, other := range r.s.data.maintenance {
		if other.EquipmentID == m.EquipmentID && !model.MaintenanceLifecycle.IsTerminal(other.Status) {
			return lostRace("maintenance record")
		}
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	r.s.data.maintenance[m.ID] = *m
	return nil
}

func (r *maintenanceRepository) Get(_ context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.data.maintenance[id]
	if !ok {
		return nil, notFound("maintenance record")
	}
	return &m, nil
}

func (r *maintenanceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	return r.Get(ctx, id)
}

func (r *maintenanceRepository) Update(_ context.Context, m *model.MaintenanceRecord, expected model.MaintenanceStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.maintenance[m.ID]
	if !ok || stored.Status != expected {
		return lostRace("maintenance record")
	}
	m.UpdatedAt = time.Now().UTC()
	r.s.data.maintenance[m.ID] = *m
	return nil
}

func (r *maintenanceRepository) ActiveForEquipment(_ context.Context, equipmentID uuid.UUID) (*model.MaintenanceRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.data.maintenance {
		if m.EquipmentID == equipmentID && !model.MaintenanceLifecycle.IsTerminal(m.Status) {
			return &m, nil
		}
	}
	return nil, nil
}

func (r *maintenanceRepository) ListByEquipment(_ context.Context, equipmentID uuid.UUID) ([]*model.MaintenanceRecord, error) {
	r.s.mu.Lock()
	var items []model.MaintenanceRecord
	for _, m := range r.s.data.maintenance {
		if m.EquipmentID == equipmentID {
			items = append(items, m)
		}
	}
	r.s.mu.Unlock()
	out, _ := page(items, model.Pagination{PageSize: model.MaxPageSize}, func(a, b model.MaintenanceRecord) bool {
		return a.ScheduledFor.After(b.ScheduledFor)
	})
	return out, nil
}

type bedRepository struct{ s *Store }

func (r *bedRepository) Create(_ context.Context, b *model.Bed) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	r.s.data.beds[b.ID] = *b
	return nil
}

// withReserved must be called with s.mu held.
func (r *bedRepository) withReserved(b model.Bed) *model.Bed {
	now := time.Now()
	b.Reserved = false
	for _, res := range r.s.data.reservations {
		if res.BedID == b.ID && res.Status == model.ReservationStatusActive && res.ExpiresAt.After(now) {
			b.Reserved = true
			break
		}
	}
	return &b
}

func (r *bedRepository) Get(_ context.Context, id uuid.UUID) (*model.Bed, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.data.beds[id]
	if !ok {
		return nil, notFound("bed")
	}
	return r.withReserved(b), nil
}

func (r *bedRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Bed, error) {
	return r.Get(ctx, id)
}

func (r *bedRepository) Update(_ context.Context, b *model.Bed) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("beds.update"); err != nil {
		return err
	}
	if _, ok := r.s.data.beds[b.ID]; !ok {
		return notFound("bed")
	}
	b.UpdatedAt = time.Now().UTC()
	r.s.data.beds[b.ID] = *b
	return nil
}

func (r *bedRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.beds[id]; !ok {
		return notFound("bed")
	}
	delete(r.s.data.beds, id)
	return nil
}

func (r *bedRepository) List(_ context.Context, f *model.BedFilter) ([]*model.Bed, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var items []model.Bed
	for _, b := range r.s.data.beds {
		if f.FacilityID != nil && b.FacilityID != *f.FacilityID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.Ward != "" && b.Ward != f.Ward {
			continue
		}
		items = append(items, *r.withReserved(b))
	}
	out, total := page(items, f.Pagination, func(a, b model.Bed) bool {
		if a.Ward != b.Ward {
			return a.Ward < b.Ward
		}
		return a.BedNumber < b.BedNumber
	})
	return out, total, nil
}

func (r *bedRepository) CreateReservation(_ context.Context, res *model.BedReservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("beds.create_reservation"); err != nil {
		return err
	}
	for _, other := range r.s.data.reservations {
		if other.BedID == res.BedID && other.Status == model.ReservationStatusActive {
			return lostRace("bed reservation")
		}
	}
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	now := time.Now().UTC()
	res.CreatedAt, res.UpdatedAt = now, now
	r.s.data.reservations[res.ID] = *res
	return nil
}

func (r *bedRepository) GetReservation(_ context.Context, id uuid.UUID) (*model.BedReservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.data.reservations[id]
	if !ok {
		return nil, notFound("bed reservation")
	}
	return &res, nil
}

func (r *bedRepository) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (*model.BedReservation, error) {
	return r.GetReservation(ctx, id)
}

func (r *bedRepository) UpdateReservation(_ context.Context, res *model.BedReservation, expected model.ReservationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.data.reservations[res.ID]
	if !ok || stored.Status != expected {
		return lostRace("bed reservation")
	}
	res.UpdatedAt = time.Now().UTC()
	r.s.data.reservations[res.ID] = *res
	return nil
}

func (r *bedRepository) ActiveReservation(_ context.Context, bedID uuid.UUID, now time.Time) (*model.BedReservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, res := range r.s.data.reservations {
		if res.BedID == bedID && res.Status == model.ReservationStatusActive && res.ExpiresAt.After(now) {
			return &res, nil
		}
	}
	return nil, nil
}

func (r *bedRepository) ExpireReservations(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, res := range r.s.data.reservations {
		if res.Status == model.ReservationStatusActive && !res.ExpiresAt.After(now) {
			res.Status = model.ReservationStatusExpired
			res.UpdatedAt = now
			r.s.data.reservations[id] = res
			n++
		}
	}
	return n, nil
}
